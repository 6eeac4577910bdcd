// Package stress drives a buddy.Allocator through repeated allocate-then-free cycles and checks
// that every cycle leaves the arena exactly as it found it.
package stress

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/buddyalloc/arena"
	"github.com/vkngwrapper/buddyalloc/buddy"
	"github.com/vkngwrapper/buddyalloc/memutils"
	"golang.org/x/exp/slog"
)

const fillByte = 'a'

// Report summarizes a completed run
type Report struct {
	Cycles         int
	Allocations    int
	BytesRequested int
	Elapsed        time.Duration

	// Peak is the allocator's usage at the end of the allocation phase of the final cycle
	Peak memutils.DetailedStatistics
	// Cumulative sums the allocator's usage at the end of every cycle's allocation phase
	Cumulative memutils.DetailedStatistics
	// Final is the allocator's usage once the run has finished
	Final memutils.Statistics
	// DetailedMap is the allocator's json map at Peak. It is only set when Config.CaptureMap is true.
	DetailedMap string
}

// Runner executes stress runs against arenas acquired from Source
type Runner struct {
	// Source supplies the arena. arena.HeapSource is used when it is nil.
	Source arena.Source
	// Logger receives progress messages. slog.Default() is used when it is nil.
	Logger *slog.Logger
}

// liveSet tracks the blocks of a cycle's live allocations, keyed by handle
type liveSet struct {
	blocks *swiss.Map[int, int]
}

func newLiveSet(capacity int) liveSet {
	return liveSet{blocks: swiss.NewMap[int, int](uint32(capacity))}
}

// add records the block [offset, offset+size) for handle, failing if it overlaps a block
// already recorded
func (s liveSet) add(handle, offset, size int) error {
	var err error
	s.blocks.Iter(func(otherHandle int, otherSize int) bool {
		otherOffset := otherHandle - buddy.TagSize
		if offset < otherOffset+otherSize && otherOffset < offset+size {
			err = errors.Wrapf(ErrOverlap, "block [%d, %d) overlaps block [%d, %d)",
				offset, offset+size, otherOffset, otherOffset+otherSize)
			return true
		}
		return false
	})
	if err != nil {
		return err
	}

	s.blocks.Put(handle, size)
	return nil
}

func (s liveSet) remove(handle int) {
	s.blocks.Delete(handle)
}

func (s liveSet) count() int {
	return s.blocks.Count()
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// Run acquires an arena, lays an allocator over it, and runs the workload described by cfg. The
// context is checked between cycles.
func (r *Runner) Run(ctx context.Context, cfg Config) (Report, error) {
	var report Report
	report.Cumulative.Clear()

	err := cfg.Validate()
	if err != nil {
		return report, err
	}

	source := r.Source
	if source == nil {
		source = arena.HeapSource{}
	}
	logger := r.logger()

	region, err := source.Acquire(cfg.ArenaSize)
	if err != nil {
		return report, errors.Wrap(err, "stress: failed to acquire arena")
	}
	defer func() {
		closeErr := region.Close()
		if closeErr != nil {
			logger.LogAttrs(ctx, slog.LevelError, "stress: failed to release arena", slog.Any("error", closeErr))
		}
	}()

	allocator, err := buddy.New(region.Bytes(), buddy.CreateOptions{Logger: logger})
	if err != nil {
		return report, err
	}
	defer func() {
		_ = allocator.Destroy()
	}()

	start := time.Now()

	if cfg.SanitySize > 0 {
		err = r.sanityCheck(allocator, cfg.SanitySize)
		if err != nil {
			return report, err
		}
	}

	handles := make([]int, cfg.Allocations)
	for cycle := 0; cycle < cfg.Cycles; cycle++ {
		if err = ctx.Err(); err != nil {
			return report, err
		}

		live := newLiveSet(cfg.Allocations)
		for i := range handles {
			size := cfg.SizeStep * (i + 1)

			handle, ok := allocator.Alloc(size)
			if !ok {
				return report, errors.Wrapf(ErrAllocationFailed, "cycle %d allocation %d of %d bytes", cycle, i, size)
			}

			payload := allocator.Bytes(handle)
			fill(payload[:size])

			err = live.add(handle, handle-buddy.TagSize, len(payload)+buddy.TagSize)
			if err != nil {
				return report, errors.Wrapf(err, "cycle %d allocation %d", cycle, i)
			}

			handles[i] = handle
			report.Allocations++
			report.BytesRequested += size
		}

		var usage memutils.DetailedStatistics
		usage.Clear()
		allocator.AddDetailedStatistics(&usage)
		report.Cumulative.AddDetailedStatistics(&usage)

		if cycle == cfg.Cycles-1 {
			report.Peak.Clear()
			report.Peak.AddDetailedStatistics(&usage)
			if cfg.CaptureMap {
				report.DetailedMap = allocator.BuildStatsString(true)
			}
		}

		for _, handle := range handles {
			err = allocator.Free(handle)
			if err != nil {
				return report, errors.Wrapf(err, "cycle %d", cycle)
			}
			live.remove(handle)
		}

		if live.count() != 0 {
			return report, errors.Wrapf(ErrNotRestored, "cycle %d left %d allocations tracked", cycle, live.count())
		}

		err = checkRestored(allocator)
		if err != nil {
			return report, errors.Wrapf(err, "cycle %d", cycle)
		}

		report.Cycles++
		logger.LogAttrs(ctx, slog.LevelDebug, "stress: cycle complete",
			slog.Int("cycle", cycle),
			slog.Int("allocations", cfg.Allocations),
		)
	}

	report.Elapsed = time.Since(start)
	allocator.AddStatistics(&report.Final)

	logger.LogAttrs(ctx, slog.LevelInfo, "stress: run complete",
		slog.Int("cycles", report.Cycles),
		slog.Int("allocations", report.Allocations),
		slog.Int("bytesRequested", report.BytesRequested),
		slog.Duration("elapsed", report.Elapsed),
	)

	return report, nil
}

func (r *Runner) sanityCheck(allocator *buddy.Allocator, size int) error {
	payload := allocator.AllocBytes(size)
	if payload == nil {
		return errors.Wrapf(ErrAllocationFailed, "sanity allocation of %d bytes", size)
	}

	fill(payload)

	err := allocator.FreeBytes(payload)
	if err != nil {
		return errors.Wrap(err, "sanity allocation")
	}

	return errors.Wrap(checkRestored(allocator), "sanity allocation")
}

func checkRestored(allocator *buddy.Allocator) error {
	err := allocator.Validate()
	if err != nil {
		return errors.Mark(errors.Wrap(err, "arena was not restored"), ErrNotRestored)
	}

	if !allocator.IsEmpty() {
		return errors.Wrapf(ErrNotRestored, "%d allocations remain", allocator.AllocationCount())
	}

	if allocator.FreeBlockCount(allocator.MaxOrder()) != 1 {
		return errors.Wrapf(ErrNotRestored, "order %d has %d free blocks", allocator.MaxOrder(),
			allocator.FreeBlockCount(allocator.MaxOrder()))
	}

	return nil
}

func fill(b []byte) {
	for i := range b {
		b[i] = fillByte
	}
}
