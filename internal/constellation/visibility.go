package constellation

import (
	"sort"
)

// VisibilityOptions limits the satellites rendered per slice.
type VisibilityOptions struct {
	// MaxSatellites caps the selection; zero means no cap.
	MaxSatellites int
	// IncludeBelowMask appends satellites that are never visible in the
	// slice once every visible candidate has been placed.
	IncludeBelowMask bool
}

// GetVisibleSats selects the satellites to render for one slice from the
// observation series of its trajectory samples. Selection happens at slice
// granularity: a satellite visible at any sample of the slice is rendered
// for the whole slice, whether it is setting (visible at the start, gone by
// the end) or rising (absent at the start, visible by the end).
//
// previous lists the satellite indices rendered in the preceding slice.
// Those are placed first to keep signals continuous. The remaining
// candidates are merged from two elevation-ordered enumerators, highest and
// lowest alternately, until the cap is reached or both are exhausted.
func GetVisibleSats(series []Series, previous []int, opts VisibilityOptions) []Series {
	limit := opts.MaxSatellites
	if limit <= 0 {
		limit = len(series)
	}

	byIndex := make(map[int]int, len(series))
	var candidates, below []int
	for i := range series {
		if series[i].Len() == 0 {
			continue
		}
		byIndex[series[i].Index] = i
		if series[i].AnyVisible() {
			candidates = append(candidates, i)
		} else {
			below = append(below, i)
		}
	}

	taken := make(map[int]bool, len(series))
	out := make([]Series, 0, min(limit, len(series)))
	take := func(i int) bool {
		if taken[i] || len(out) >= limit {
			return false
		}
		taken[i] = true
		out = append(out, series[i])
		return true
	}

	// Satellites rendered last slice keep their place while still in view.
	visible := make(map[int]bool, len(candidates))
	for _, i := range candidates {
		visible[i] = true
	}
	for _, idx := range previous {
		if i, ok := byIndex[idx]; ok && visible[i] {
			take(i)
		}
	}

	var rest []int
	for _, i := range candidates {
		if !taken[i] {
			rest = append(rest, i)
		}
	}
	sort.SliceStable(rest, func(a, b int) bool {
		return series[rest[a]].MaxElevation() > series[rest[b]].MaxElevation()
	})

	// Alternate between the highest and the lowest remaining candidates.
	hi, lo := 0, len(rest)-1
	for hi <= lo && len(out) < limit {
		take(rest[hi])
		hi++
		if hi <= lo {
			take(rest[lo])
			lo--
		}
	}

	if opts.IncludeBelowMask {
		sort.SliceStable(below, func(a, b int) bool {
			return series[below[a]].MaxElevation() > series[below[b]].MaxElevation()
		})
		for _, i := range below {
			take(i)
		}
	}
	return out
}
