package buddy

import (
	"strconv"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/buddyalloc/memutils"
)

// AddStatistics sums this allocator's usage into stats. The header counters are used, so this
// does not walk the arena.
func (a *Allocator) AddStatistics(stats *memutils.Statistics) {
	if a.destroyed {
		return
	}

	s := a.loadState()
	stats.ArenaCount++
	stats.ArenaBytes += a.usableSize
	stats.AllocationCount += int(s.allocCount)
	stats.AllocationBytes += int(s.allocBytes)
}

// AddDetailedStatistics walks every block of the arena and sums this allocator's usage into stats
func (a *Allocator) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	if a.destroyed {
		return
	}

	stats.ArenaCount++
	stats.ArenaBytes += a.usableSize

	_ = a.VisitAllRegions(func(handle int, offset int, size int, free bool) error {
		if free {
			stats.AddFreeBlock(size)
		} else {
			stats.AddAllocation(size)
		}

		return nil
	})
}

// BlockJsonData populates a json object with information about this allocator's arena
func (a *Allocator) BlockJsonData(json *jwriter.ObjectState) {
	var stats memutils.DetailedStatistics
	stats.Clear()
	a.AddDetailedStatistics(&stats)

	json.Name("TotalBytes").Int(a.usableSize)
	json.Name("FreeBytes").Int(stats.FreeBytes())
	json.Name("Allocations").Int(stats.AllocationCount)
	json.Name("FreeBlocks").Int(stats.FreeBlockCount)
	json.Name("Fragmentation").Float64(stats.Fragmentation())
	json.Name("MaxOrder").Int(int(a.maxOrder))
	json.Name("MinBlockSize").Int(MinBlockSize)

	freeLists := json.Name("FreeLists").Object()
	for order := 0; order <= int(a.maxOrder); order++ {
		count := a.FreeBlockCount(order)
		if count == 0 {
			continue
		}
		freeLists.Name(strconv.Itoa(order)).Int(count)
	}
	freeLists.End()
}

func (a *Allocator) printDetailedMapRegions(json *jwriter.ObjectState) {
	arrayState := json.Name("Regions").Array()
	defer arrayState.End()

	_ = a.VisitAllRegions(func(handle int, offset int, size int, free bool) error {
		obj := arrayState.Object()
		defer obj.End()

		obj.Name("Offset").Int(offset)
		obj.Name("Size").Int(size)
		if free {
			obj.Name("Type").String("FREE")
		} else {
			obj.Name("Type").String("ALLOCATION")
			obj.Name("Handle").Int(handle)
		}

		return nil
	})
}

// BuildStatsString produces a json document describing the allocator's current usage. When
// detailed is true, every block of the arena is listed as well.
func (a *Allocator) BuildStatsString(detailed bool) string {
	writer := jwriter.NewWriter()

	obj := writer.Object()
	if a.destroyed {
		obj.Name("Destroyed").Bool(true)
		obj.End()
		return string(writer.Bytes())
	}

	var stats memutils.Statistics
	a.AddStatistics(&stats)

	totalObj := obj.Name("Total").Object()
	totalObj.Name("ArenaCount").Int(stats.ArenaCount)
	totalObj.Name("ArenaBytes").Int(stats.ArenaBytes)
	totalObj.Name("AllocationCount").Int(stats.AllocationCount)
	totalObj.Name("AllocationBytes").Int(stats.AllocationBytes)
	totalObj.End()

	if detailed {
		mapObj := obj.Name("DetailedMap").Object()
		a.BlockJsonData(&mapObj)
		a.printDetailedMapRegions(&mapObj)
		mapObj.End()
	}

	obj.End()
	return string(writer.Bytes())
}
