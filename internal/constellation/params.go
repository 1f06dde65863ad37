package constellation

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/star/gnsssynth/internal/codes"
	"github.com/star/gnsssynth/internal/generator"
	"github.com/star/gnsssynth/internal/gnss"
	"github.com/star/gnsssynth/internal/interp"
	"github.com/star/gnsssynth/internal/modulation"
)

// Knots is the trajectory sample grid of one slice: Count instants spaced
// 1/Rate apart, Pad of them before the slice start and Pad after its end.
type Knots struct {
	Slice gnss.Interval
	Rate  float64
	Pad   int
	Count int
}

// NewKnots builds the grid of a slice. The slice must span a whole number
// of trajectory samples.
func NewKnots(slice gnss.Interval, rate float64, pad int) (Knots, error) {
	if !(rate > 0) {
		return Knots{}, fmt.Errorf("knots: rate %v must be positive", rate)
	}
	if pad < 2 {
		pad = 2
	}
	n := slice.Duration().Seconds() * rate
	if math.Abs(n-math.Round(n)) > 1e-9 || n < 1 {
		return Knots{}, fmt.Errorf("knots: slice of %s is not a whole number of samples at %v Hz", slice.Duration(), rate)
	}
	return Knots{Slice: slice, Rate: rate, Pad: pad, Count: int(math.Round(n)) + 1 + 2*pad}, nil
}

// Interval returns the span from the first to the last knot.
func (k Knots) Interval() gnss.Interval {
	return gnss.Interval{Start: k.Time(0), End: k.Time(k.Count - 1)}
}

// Offset returns the time of knot j relative to the slice start, seconds.
func (k Knots) Offset(j int) float64 {
	return float64(j-k.Pad) / k.Rate
}

// Offsets lists Offset(j) for every knot.
func (k Knots) Offsets() []float64 {
	out := make([]float64, k.Count)
	for j := range out {
		out[j] = k.Offset(j)
	}
	return out
}

// Time returns the instant of knot j.
func (k Knots) Time(j int) time.Time {
	return k.Slice.Start.Add(time.Duration(k.Offset(j) * float64(time.Second)))
}

// EndIndex is the knot at the slice end.
func (k Knots) EndIndex() int {
	return k.Count - 1 - k.Pad
}

// PhaseKey identifies the carrier of one satellite signal.
type PhaseKey struct {
	Constellation gnss.Constellation
	PRN           int
	Signal        string
}

// PhaseHandoff carries accumulated carrier phase, in cycles modulo one,
// across the slice boundary at Boundary. Each slice receives the hand-off of
// its predecessor and returns its own.
type PhaseHandoff struct {
	Boundary time.Time
	Phases   map[PhaseKey]decimal.Decimal
}

// Phase returns the carried phase for key at boundary t, or zero.
func (h PhaseHandoff) Phase(t time.Time, key PhaseKey) decimal.Decimal {
	if !h.Boundary.Equal(t) {
		return decimal.Zero
	}
	return h.Phases[key]
}

// Merge combines hand-offs of the same boundary.
func (h PhaseHandoff) Merge(o PhaseHandoff) PhaseHandoff {
	out := PhaseHandoff{Boundary: h.Boundary, Phases: make(map[PhaseKey]decimal.Decimal, len(h.Phases)+len(o.Phases))}
	if out.Boundary.IsZero() {
		out.Boundary = o.Boundary
	}
	for k, v := range h.Phases {
		out.Phases[k] = v
	}
	for k, v := range o.Phases {
		out.Phases[k] = v
	}
	return out
}

// ChannelScope describes the output channel the parameters are built for.
type ChannelScope struct {
	CenterFrequency float64
	SampleRate      float64
	Bands           []gnss.Band
	Constellations  []gnss.Constellation
	Noise           bool
	// RealWorldLevels scales signals by elevation; otherwise all levels are 1.
	RealWorldLevels bool
}

// ParamsRequest is the input of CreateSignalGeneratorParameters.
type ParamsRequest struct {
	Knots   Knots
	Series  []Series
	Channel ChannelScope
	Handoff PhaseHandoff
	Bank    *modulation.Bank
}

// GeneratorParams is the per-channel output of CreateSignalGeneratorParameters.
type GeneratorParams struct {
	Signals   []generator.SignalParams
	Sequences []*modulation.Sequence
	Handoff   PhaseHandoff
}

// CreateSignalGeneratorParameters builds the interpolators of every signal
// of every selected satellite for one slice. Carrier phase is integrated
// from Doppler in decimal precision starting at the hand-off phase; chip
// positions come from the pseudorange. Signals outside the channel's bands
// or constellations are returned as generator.EmptySignal.
func (b *Base) CreateSignalGeneratorParameters(req ParamsRequest) (GeneratorParams, error) {
	k := req.Knots
	out := GeneratorParams{
		Handoff: PhaseHandoff{Boundary: k.Slice.End, Phases: make(map[PhaseKey]decimal.Decimal)},
	}
	offsets := k.Offsets()
	decOffsets := make([]decimal.Decimal, k.Count)
	for j, o := range offsets {
		decOffsets[j] = decimal.NewFromFloat(o)
	}
	sinceEpoch := make([]decimal.Decimal, k.Count)
	for j := range sinceEpoch {
		sinceEpoch[j] = decimal.New(k.Time(j).Sub(gnss.GPSEpoch).Nanoseconds(), -9)
	}

	for _, sig := range b.signals {
		if !b.inScope(sig, req.Channel) {
			b.logger.Debug("signal outside channel", "signal", sig.Name)
			for range req.Series {
				out.Signals = append(out.Signals, generator.EmptySignal)
			}
			continue
		}
		for i := range req.Series {
			s := &req.Series[i]
			if s.Len() != k.Count {
				return out, fmt.Errorf("%s PRN %d: %d observations for %d knots", b.Constellation(), s.PRN, s.Len(), k.Count)
			}
			p, seqs, phase, err := b.signalParams(req, sig, s, offsets, decOffsets, sinceEpoch)
			out.Sequences = append(out.Sequences, seqs...)
			if err != nil {
				return out, err
			}
			out.Signals = append(out.Signals, p)
			if !p.IsEmpty() {
				out.Handoff.Phases[PhaseKey{Constellation: b.Constellation(), PRN: s.PRN, Signal: sig.Name}] = phase
			}
		}
	}
	return out, nil
}

func (b *Base) inScope(sig gnss.Signal, ch ChannelScope) bool {
	if len(ch.Bands) > 0 && !slices.Contains(ch.Bands, sig.Band) {
		return false
	}
	if len(ch.Constellations) > 0 && !slices.Contains(ch.Constellations, sig.Constellation) {
		return false
	}
	return true
}

func (b *Base) signalParams(req ParamsRequest, sig gnss.Signal, s *Series, offsets []float64, decOffsets, sinceEpoch []decimal.Decimal) (generator.SignalParams, []*modulation.Sequence, decimal.Decimal, error) {
	k := req.Knots
	ch := s.Observations[0].FrequencyChannel
	baseband := sig.CarrierFrequency(ch) - req.Channel.CenterFrequency
	light := decimal.NewFromFloat(gnss.SpeedOfLight)

	freq := make([]decimal.Decimal, k.Count)
	tx := make([]decimal.Decimal, k.Count)
	for j := range s.Observations {
		so, ok := s.Observations[j].Signal(sig)
		if !ok {
			return generator.EmptySignal, nil, decimal.Zero, nil
		}
		freq[j] = decimal.NewFromFloat(baseband + so.Doppler)
		tx[j] = sinceEpoch[j].Sub(decimal.NewFromFloat(so.PseudoRange).Div(light))
	}

	// Carrier phase: integral of the baseband frequency from the slice start.
	doppler, err := interp.FastAkimaDecimal(decOffsets, freq)
	if err != nil {
		return generator.EmptySignal, nil, decimal.Zero, fmt.Errorf("%s PRN %d doppler: %w", sig.Name, s.PRN, err)
	}
	phase0 := req.Handoff.Phase(k.Slice.Start, PhaseKey{Constellation: b.Constellation(), PRN: s.PRN, Signal: sig.Name})
	phases := make([]float64, k.Count)
	for j := range phases {
		phases[j] = phase0.Add(doppler.Integrate(k.Pad, j)).InexactFloat64()
	}
	end := phase0.Add(doppler.Integrate(k.Pad, k.EndIndex()))
	next := end.Sub(end.Floor())

	phaseSpline, err := interp.FastAkima(offsets, phases)
	if err != nil {
		return generator.EmptySignal, nil, decimal.Zero, fmt.Errorf("%s PRN %d phase: %w", sig.Name, s.PRN, err)
	}
	chips, err := newChipTrack(sig, tx, offsets)
	if err != nil {
		return generator.EmptySignal, nil, decimal.Zero, fmt.Errorf("%s PRN %d chips: %w", sig.Name, s.PRN, err)
	}

	p := generator.SignalParams{
		Constellation: b.Constellation(),
		PRN:           s.PRN,
		Signal:        sig,
		Phase:         phaseSpline,
		Chip:          chips.spline,
		Level:         1,
	}
	if req.Channel.RealWorldLevels {
		mid := s.Observations[k.Count/2].Elevation
		p.Level = Amplitude(RealWorldSignalLevel(b.Constellation(), mid), req.Channel.SampleRate, req.Channel.Noise)
	}

	var seqs []*modulation.Sequence
	acquire := func(comp codes.Component, sig gnss.Signal, ct chipTrack) ([]int8, error) {
		seq, err := req.Bank.Acquire(modulation.Request{
			Slice:        k.Slice.Start,
			Signal:       sig,
			PRN:          s.PRN,
			Component:    comp,
			FirstElement: ct.first,
			Count:        ct.count,
		})
		if err != nil {
			return nil, err
		}
		seqs = append(seqs, seq)
		return seq.Chips, nil
	}

	if p.Sequence, err = acquire(codes.Data, sig, chips); err != nil {
		return generator.EmptySignal, seqs, decimal.Zero, err
	}
	switch sig.Topology {
	case gnss.DualSynced:
		p.SequenceQ, err = acquire(codes.Pilot, sig, chips)
	case gnss.DualUnsynced:
		qsig := sig.Quadrature()
		var qchips chipTrack
		if qchips, err = newChipTrack(qsig, tx, offsets); err != nil {
			return generator.EmptySignal, seqs, decimal.Zero, fmt.Errorf("%s PRN %d quadrature chips: %w", sig.Name, s.PRN, err)
		}
		p.ChipQ = qchips.spline
		p.SequenceQ, err = acquire(codes.Pilot, qsig, qchips)
	case gnss.BOC:
		p.Pilot, err = acquire(codes.Pilot, sig, chips)
	}
	if err != nil {
		return generator.EmptySignal, seqs, decimal.Zero, err
	}
	return p, seqs, next, nil
}

// chipTrack locates rendered elements of one code over the knots. The
// spline evaluates to an index into a sequence starting at element first.
type chipTrack struct {
	spline []interp.Cubic
	first  int64
	count  int
}

// newChipTrack converts transmission times, seconds since the GPS epoch,
// into element positions of sig's code clock.
func newChipTrack(sig gnss.Signal, tx []decimal.Decimal, offsets []float64) (chipTrack, error) {
	rate := decimal.NewFromFloat(float64(sig.Resolution()) * sig.ChipRate)
	elements := make([]decimal.Decimal, len(tx))
	for j, t := range tx {
		elements[j] = t.Mul(rate)
	}
	lo, hi := elements[0], elements[0]
	for _, e := range elements[1:] {
		if e.Cmp(lo) < 0 {
			lo = e
		}
		if e.Cmp(hi) > 0 {
			hi = e
		}
	}
	first := lo.Floor().IntPart() - 2
	count := hi.Ceil().IntPart() + 2 - first
	rel := make([]float64, len(elements))
	origin := decimal.NewFromInt(first)
	for j, e := range elements {
		rel[j] = e.Sub(origin).InexactFloat64()
	}
	spline, err := interp.FastAkima(offsets, rel)
	if err != nil {
		return chipTrack{}, err
	}
	return chipTrack{spline: spline, first: first, count: int(count)}, nil
}
