package generator

import (
	"github.com/star/gnsssynth/internal/gnss"
	"github.com/star/gnsssynth/internal/interp"
)

// SignalParams binds one satellite signal to its interpolators and rendered
// chips for one slice. Phase[k] and Chip[k] are the cubic segments of
// trajectory interval k; Phase evaluates to carrier cycles and Chip to an
// index into Sequence.
type SignalParams struct {
	Constellation gnss.Constellation
	PRN           int
	Signal        gnss.Signal

	Phase []interp.Cubic
	Chip  []interp.Cubic
	// ChipQ indexes SequenceQ for DualUnsynced signals.
	ChipQ []interp.Cubic

	// Sequence is the data component. SequenceQ is the quadrature
	// component of dual signals; Pilot is the BOC pilot component.
	Sequence  []int8
	SequenceQ []int8
	Pilot     []int8

	Level float64
}

// EmptySignal stands for a satellite signal with nothing to render in a
// slice.
var EmptySignal = SignalParams{}

// IsEmpty reports whether p carries no interpolators.
func (p *SignalParams) IsEmpty() bool {
	return len(p.Phase) == 0 || len(p.Chip) == 0 || len(p.Sequence) == 0
}
