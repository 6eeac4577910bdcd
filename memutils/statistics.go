package memutils

import "math"

// Statistics is a cheap summary of one or more arenas. ArenaBytes counts the usable bytes of every
// arena summed in. AllocationBytes counts the bytes of the blocks currently handed out, including
// each block's tag and the rounding up to its size class.
type Statistics struct {
	ArenaCount      int
	ArenaBytes      int
	AllocationCount int
	AllocationBytes int
}

func (s *Statistics) Clear() {
	*s = Statistics{}
}

// FreeBytes returns the number of usable bytes not covered by an allocated block
func (s *Statistics) FreeBytes() int {
	return s.ArenaBytes - s.AllocationBytes
}

// Utilization returns the fraction of usable bytes covered by allocated blocks, or 0 for an
// empty summary
func (s *Statistics) Utilization() float64 {
	if s.ArenaBytes == 0 {
		return 0
	}
	return float64(s.AllocationBytes) / float64(s.ArenaBytes)
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.ArenaCount += other.ArenaCount
	s.ArenaBytes += other.ArenaBytes
	s.AllocationCount += other.AllocationCount
	s.AllocationBytes += other.AllocationBytes
}

// DetailedStatistics extends Statistics with the size range of allocated and free blocks,
// gathered by walking every block of an arena. Neighbouring free blocks that are not buddies
// are counted separately.
type DetailedStatistics struct {
	Statistics
	FreeBlockCount int
	AllocationMin  int
	AllocationMax  int
	FreeBlockMin   int
	FreeBlockMax   int
}

// Clear resets the summary. The minimums start at math.MaxInt so that the first block recorded
// sets them.
func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.FreeBlockCount = 0
	s.AllocationMin = math.MaxInt
	s.AllocationMax = 0
	s.FreeBlockMin = math.MaxInt
	s.FreeBlockMax = 0
}

func (s *DetailedStatistics) AddFreeBlock(size int) {
	s.FreeBlockCount++
	s.FreeBlockMin = min(s.FreeBlockMin, size)
	s.FreeBlockMax = max(s.FreeBlockMax, size)
}

func (s *DetailedStatistics) AddAllocation(size int) {
	s.AllocationCount++
	s.AllocationBytes += size
	s.AllocationMin = min(s.AllocationMin, size)
	s.AllocationMax = max(s.AllocationMax, size)
}

// Fragmentation returns how much of the free space lies outside the largest free block, from 0
// when all free bytes are in one block to nearly 1 when they are scattered across many small ones
func (s *DetailedStatistics) Fragmentation() float64 {
	free := s.FreeBytes()
	if free <= 0 || s.FreeBlockCount == 0 {
		return 0
	}
	return 1 - float64(s.FreeBlockMax)/float64(free)
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.FreeBlockCount += other.FreeBlockCount
	s.FreeBlockMin = min(s.FreeBlockMin, other.FreeBlockMin)
	s.FreeBlockMax = max(s.FreeBlockMax, other.FreeBlockMax)
	s.AllocationMin = min(s.AllocationMin, other.AllocationMin)
	s.AllocationMax = max(s.AllocationMax, other.AllocationMax)
}
