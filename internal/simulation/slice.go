package simulation

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/star/gnsssynth/internal/generator"
	"github.com/star/gnsssynth/internal/gnss"
	"github.com/star/gnsssynth/internal/modulation"
)

// State is the lifecycle stage of a Slice.
type State int32

const (
	// Ready: parameters prepared.
	Ready State = iota
	// WritingStarted: queued on the ordered writer.
	WritingStarted
	// ProcessingStarted: samples being generated.
	ProcessingStarted
	// ProcessingFinished: samples ready, buffers recycled.
	ProcessingFinished
	// WritingFinished: handed to the output.
	WritingFinished
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case WritingStarted:
		return "writing_started"
	case ProcessingStarted:
		return "processing_started"
	case ProcessingFinished:
		return "processing_finished"
	case WritingFinished:
		return "writing_finished"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// ErrInvalidTransition is returned when a slice is advanced from a state it
// is not in.
var ErrInvalidTransition = errors.New("simulation: invalid slice state transition")

// Slice is one time span of the run with one generator per output channel.
type Slice struct {
	Index      int
	Interval   gnss.Interval
	Generators []*generator.Generator
	// Visible lists the PRNs rendered per constellation.
	Visible map[gnss.Constellation][]int

	state     atomic.Int32
	done      chan struct{}
	sequences []*modulation.Sequence
	data      [][]byte
	err       error
}

func newSlice(index int, iv gnss.Interval) *Slice {
	return &Slice{
		Index:    index,
		Interval: iv,
		Visible:  make(map[gnss.Constellation][]int),
		done:     make(chan struct{}),
	}
}

// State returns the current stage.
func (s *Slice) State() State {
	return State(s.state.Load())
}

// advance moves the slice from one stage to the next.
func (s *Slice) advance(from, to State) error {
	if to != from+1 {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
	}
	if !s.state.CompareAndSwap(int32(from), int32(to)) {
		return fmt.Errorf("%w: slice %d is %s, not %s", ErrInvalidTransition, s.Index, s.State(), from)
	}
	return nil
}

// Silent reports whether no channel renders any signal.
func (s *Slice) Silent() bool {
	for _, g := range s.Generators {
		if g.Signals() > 0 {
			return false
		}
	}
	return true
}
