package isolation

import (
	"fmt"
	"sort"
	"sync"
)

// Range is a half-open [StartMB, EndMB) slice of the GPU memory budget.
type Range struct {
	StartMB int `json:"start_mb"`
	EndMB   int `json:"end_mb"`
}

// SizeMB returns the length of the range.
func (r Range) SizeMB() int { return r.EndMB - r.StartMB }

// FragmentationStats summarises the free gaps between allocated ranges.
type FragmentationStats struct {
	TotalFragments     int     `json:"total_fragments"`
	LargestGapMB       int     `json:"largest_gap_mb"`
	AverageGapMB       float64 `json:"average_gap_mb"`
	FragmentationRatio float64 `json:"fragmentation_ratio"`
	TotalFreeMB        int     `json:"total_free_mb"`
	UtilizationPercent float64 `json:"utilization_percent"`
}

// Service tracks allocated memory ranges for a single GPU. All mutation is
// serialised by the instance mutex; instances for different GPUs may be
// mutated in parallel.
type Service struct {
	totalMB    int
	mu         sync.Mutex
	ranges     []Range          // sorted by StartMB, non-overlapping
	byFraction map[string]Range // fraction id -> its range
}

// New creates an allocator over a fixed memory budget.
func New(totalMB int) (*Service, error) {
	if totalMB <= 0 {
		return nil, fmt.Errorf("total memory %dMB must be positive", totalMB)
	}
	return &Service{
		totalMB:    totalMB,
		byFraction: map[string]Range{},
	}, nil
}

// TotalMB returns the memory budget.
func (s *Service) TotalMB() int { return s.totalMB }

// Allocate finds the first free gap large enough for sizeMB and registers
// it under fractionID. It checks the gap before the first range, each
// inter-range gap and the tail gap, in that order. The second return is
// false when no gap fits, the request exceeds the budget, or the fraction
// already holds a range.
func (s *Service) Allocate(fractionID string, sizeMB int) (Range, bool) {
	if sizeMB <= 0 || sizeMB > s.totalMB {
		return Range{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byFraction[fractionID]; exists {
		return Range{}, false
	}

	offset := 0
	insertAt := len(s.ranges)
	found := false
	for i, r := range s.ranges {
		if r.StartMB-offset >= sizeMB {
			insertAt = i
			found = true
			break
		}
		offset = r.EndMB
	}
	if !found {
		if s.totalMB-offset < sizeMB {
			return Range{}, false
		}
	}

	allocated := Range{StartMB: offset, EndMB: offset + sizeMB}
	s.ranges = append(s.ranges, Range{})
	copy(s.ranges[insertAt+1:], s.ranges[insertAt:])
	s.ranges[insertAt] = allocated
	s.byFraction[fractionID] = allocated
	return allocated, true
}

// Deallocate removes the range held by fractionID. It reports whether a
// range was registered.
func (s *Service) Deallocate(fractionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	allocated, ok := s.byFraction[fractionID]
	if !ok {
		return false
	}
	delete(s.byFraction, fractionID)

	idx := sort.Search(len(s.ranges), func(i int) bool {
		return s.ranges[i].StartMB >= allocated.StartMB
	})
	if idx < len(s.ranges) && s.ranges[idx] == allocated {
		s.ranges = append(s.ranges[:idx], s.ranges[idx+1:]...)
	}
	return true
}

// RangeOf returns the range registered for fractionID.
func (s *Service) RangeOf(fractionID string) (Range, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byFraction[fractionID]
	return r, ok
}

// Utilization returns allocated memory as a share of the budget in [0,1].
func (s *Service) Utilization() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return float64(s.allocatedLocked()) / float64(s.totalMB)
}

// Fragmentation computes gap statistics under the same lock used for
// mutation so the report is internally consistent.
func (s *Service) Fragmentation() FragmentationStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var gaps []int
	offset := 0
	for _, r := range s.ranges {
		if gap := r.StartMB - offset; gap > 0 {
			gaps = append(gaps, gap)
		}
		offset = r.EndMB
	}
	if tail := s.totalMB - offset; tail > 0 {
		gaps = append(gaps, tail)
	}

	stats := FragmentationStats{TotalFragments: len(gaps)}
	for _, gap := range gaps {
		stats.TotalFreeMB += gap
		if gap > stats.LargestGapMB {
			stats.LargestGapMB = gap
		}
	}
	if len(gaps) > 0 {
		stats.AverageGapMB = float64(stats.TotalFreeMB) / float64(len(gaps))
	}
	blocks := len(s.ranges)
	if blocks < 1 {
		blocks = 1
	}
	stats.FragmentationRatio = float64(len(gaps)) / float64(blocks)
	stats.UtilizationPercent = 100 * float64(s.allocatedLocked()) / float64(s.totalMB)
	return stats
}

func (s *Service) allocatedLocked() int {
	total := 0
	for _, r := range s.ranges {
		total += r.SizeMB()
	}
	return total
}
