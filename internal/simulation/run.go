// Package simulation drives a recording: it splits the run into slices,
// prepares the signal parameters of each slice in order, generates slices
// concurrently and hands them to the output strictly in order.
package simulation

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/star/gnsssynth/internal/gnss"
)

// Run identifies one simulation and its time span.
type Run struct {
	ID          uuid.UUID
	Start       time.Time
	Duration    time.Duration
	SliceLength time.Duration
}

// NewRun creates a run with a fresh ID. The last slice may be shorter.
func NewRun(start time.Time, duration, sliceLength time.Duration) (Run, error) {
	if duration <= 0 || sliceLength <= 0 {
		return Run{}, fmt.Errorf("simulation: duration %s and slice length %s must be positive", duration, sliceLength)
	}
	return Run{ID: uuid.New(), Start: start, Duration: duration, SliceLength: sliceLength}, nil
}

// Slices returns the number of slices.
func (r Run) Slices() int {
	return int((r.Duration + r.SliceLength - 1) / r.SliceLength)
}

// SliceInterval returns the span of slice i.
func (r Run) SliceInterval(i int) gnss.Interval {
	start := r.Start.Add(time.Duration(i) * r.SliceLength)
	end := start.Add(r.SliceLength)
	if limit := r.Start.Add(r.Duration); end.After(limit) {
		end = limit
	}
	return gnss.Interval{Start: start, End: end}
}

// Interval returns the whole span of the run.
func (r Run) Interval() gnss.Interval {
	return gnss.NewInterval(r.Start, r.Duration)
}
