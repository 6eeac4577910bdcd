package stress

import "github.com/cockroachdb/errors"

// Config controls the shape of a stress run
type Config struct {
	// ArenaSize is the length in bytes of the arena acquired for the run
	ArenaSize int
	// Allocations is the number of allocations made in each cycle. Allocation i requests
	// SizeStep*(i+1) bytes.
	Allocations int
	// Cycles is the number of allocate-then-free cycles to run
	Cycles int
	// SizeStep is the size increment between consecutive allocations of a cycle
	SizeStep int
	// SanitySize is the size of the single allocation made and freed before the first cycle.
	// Zero skips it.
	SanitySize int
	// CaptureMap records the allocator's detailed json map at the peak of the final cycle
	CaptureMap bool
}

// DefaultConfig returns the configuration of the reference workload: a 1 MiB arena, a 256 KiB
// sanity allocation, then 1000 cycles of 200 allocations growing in steps of 16 bytes.
func DefaultConfig() Config {
	return Config{
		ArenaSize:   1 << 20,
		Allocations: 200,
		Cycles:      1000,
		SizeStep:    16,
		SanitySize:  1 << 18,
	}
}

// Validate returns an error wrapping ErrInvalidConfig when a field is out of range
func (c Config) Validate() error {
	switch {
	case c.ArenaSize <= 0:
		return errors.Wrapf(ErrInvalidConfig, "arena size is %d", c.ArenaSize)
	case c.Allocations < 0:
		return errors.Wrapf(ErrInvalidConfig, "allocation count is %d", c.Allocations)
	case c.Cycles < 0:
		return errors.Wrapf(ErrInvalidConfig, "cycle count is %d", c.Cycles)
	case c.SizeStep <= 0:
		return errors.Wrapf(ErrInvalidConfig, "size step is %d", c.SizeStep)
	case c.SanitySize < 0:
		return errors.Wrapf(ErrInvalidConfig, "sanity size is %d", c.SanitySize)
	}

	return nil
}
