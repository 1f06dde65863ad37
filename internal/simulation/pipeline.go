package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/star/gnsssynth/internal/constellation"
	"github.com/star/gnsssynth/internal/generator"
	"github.com/star/gnsssynth/internal/gnss"
	"github.com/star/gnsssynth/internal/metrics"
	"github.com/star/gnsssynth/internal/modulation"
	"github.com/star/gnsssynth/internal/output"
	"github.com/star/gnsssynth/internal/quantize"
	"github.com/star/gnsssynth/internal/trajectory"
)

// NominalRMS is the per-component RMS of one unit-amplitude signal. It
// scales the quantizer while no slice has produced output to measure.
const NominalRMS = math.Sqrt2 / 2

// ErrTrajectoryUnavailable is returned when the trajectory has no samples
// for a slice.
var ErrTrajectoryUnavailable = errors.New("simulation: trajectory unavailable")

// Config tunes a Pipeline.
type Config struct {
	// TrajectoryRate is the spline knot rate, Hz.
	TrajectoryRate float64
	// Pad is the number of knots added on each side of a slice.
	Pad        int
	Mask       constellation.Mask
	Visibility constellation.VisibilityOptions
	// RealWorldLevels scales signals by elevation instead of rendering
	// them all at unit amplitude.
	RealWorldLevels bool
	// GenerateWorkers bounds the slices generating at once.
	GenerateWorkers int
	// Noise adds thermal noise when set.
	Noise *generator.Noise
	// RMS fixes the quantizer scale. Zero measures it on the first slice
	// with signal and keeps it for the run.
	RMS float64
}

// Status is a snapshot of pipeline progress.
type Status struct {
	RunID         string    `json:"run_id"`
	State         string    `json:"state"`
	Started       time.Time `json:"started,omitempty"`
	SlicesTotal   int       `json:"slices_total"`
	SlicesWritten int       `json:"slices_written"`
	InFlight      int       `json:"slices_in_flight"`
	Visible       int       `json:"visible_satellites"`
	Sequences     int       `json:"sequences_in_use"`
	LastError     string    `json:"last_error,omitempty"`
}

// SliceSummary describes one slice of the run.
type SliceSummary struct {
	Index   int              `json:"index"`
	Start   time.Time        `json:"start"`
	End     time.Time        `json:"end"`
	State   string           `json:"state"`
	Visible map[string][]int `json:"visible,omitempty"`
}

// Pipeline renders a Run into an Output.
type Pipeline struct {
	run    Run
	cfg    Config
	traj   trajectory.Trajectory
	bases  []*constellation.Base
	bank   *modulation.Bank
	out    output.Output
	logger *slog.Logger

	// Preparation state, owned by the preparing goroutine. Carrier phase
	// depends on the channel's center frequency, so each channel carries
	// its own hand-off.
	handoff  []constellation.PhaseHandoff
	previous map[gnss.Constellation][]int
	rms      []float64

	mu     sync.Mutex
	status Status
	slices []SliceSummary
}

// NewPipeline wires a run. bases observe one constellation each.
func NewPipeline(run Run, cfg Config, traj trajectory.Trajectory, bases []*constellation.Base, bank *modulation.Bank, out output.Output, logger *slog.Logger) (*Pipeline, error) {
	if err := out.Plan().Validate(); err != nil {
		return nil, err
	}
	if len(bases) == 0 {
		return nil, errors.New("simulation: no constellations")
	}
	if cfg.TrajectoryRate <= 0 {
		cfg.TrajectoryRate = 10
	}
	if cfg.Pad < 2 {
		cfg.Pad = 2
	}
	if cfg.GenerateWorkers <= 0 {
		cfg.GenerateWorkers = 2
	}
	summaries := make([]SliceSummary, run.Slices())
	for i := range summaries {
		iv := run.SliceInterval(i)
		summaries[i] = SliceSummary{Index: i, Start: iv.Start, End: iv.End, State: "pending"}
	}
	return &Pipeline{
		run:      run,
		cfg:      cfg,
		traj:     traj,
		bases:    bases,
		bank:     bank,
		out:      out,
		logger:   logger.With("run_id", run.ID.String()),
		previous: make(map[gnss.Constellation][]int),
		handoff:  make([]constellation.PhaseHandoff, len(out.Plan().Channels)),
		rms:      make([]float64, len(out.Plan().Channels)),
		status:   Status{RunID: run.ID.String(), State: "idle", SlicesTotal: run.Slices()},
		slices:   summaries,
	}, nil
}

// Status returns a copy of the progress counters.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Pipeline) update(fn func(s *Status)) {
	p.mu.Lock()
	fn(&p.status)
	p.mu.Unlock()
}

// Slices returns a copy of the per-slice summaries.
func (p *Pipeline) Slices() []SliceSummary {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SliceSummary, len(p.slices))
	copy(out, p.slices)
	return out
}

// Slice returns the summary of slice i.
func (p *Pipeline) Slice(i int) (SliceSummary, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.slices) {
		return SliceSummary{}, false
	}
	return p.slices[i], true
}

// record publishes the current state of s.
func (p *Pipeline) record(s *Slice) {
	var visible map[string][]int
	if len(s.Visible) > 0 {
		visible = make(map[string][]int, len(s.Visible))
		for c, prns := range s.Visible {
			visible[c.String()] = append([]int(nil), prns...)
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.Index < len(p.slices) {
		p.slices[s.Index].State = s.State().String()
		if visible != nil {
			p.slices[s.Index].Visible = visible
		}
	}
}

// Run prepares slices in order, generates up to GenerateWorkers of them
// concurrently and writes them in order. The output is closed on return.
func (p *Pipeline) Run(ctx context.Context) (err error) {
	start := time.Now()
	p.update(func(s *Status) { s.State = "running"; s.Started = start })
	p.logger.Info("simulation started",
		"start", p.run.Start.UTC().Format(time.RFC3339),
		"duration", p.run.Duration.String(),
		"slices", p.run.Slices(),
		"channels", len(p.out.Plan().Channels),
	)
	defer func() {
		if cerr := p.out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing output: %w", cerr)
		}
		p.update(func(s *Status) {
			s.State = "finished"
			if err != nil {
				s.State = "failed"
				s.LastError = err.Error()
			}
		})
		if err != nil {
			p.logger.Error("simulation failed", "error", err)
			return
		}
		p.logger.Info("simulation finished", "duration_ms", time.Since(start).Milliseconds())
	}()

	eg, egCtx := errgroup.WithContext(ctx)
	pending := make(chan *Slice, p.cfg.GenerateWorkers)
	sem := make(chan struct{}, p.cfg.GenerateWorkers)

	eg.Go(func() error { return p.write(egCtx, pending) })
	eg.Go(func() error {
		defer close(pending)
		for i := 0; i < p.run.Slices(); i++ {
			if err := egCtx.Err(); err != nil {
				return err
			}
			s := newSlice(i, p.run.SliceInterval(i))
			if err := p.prepare(egCtx, s); err != nil {
				p.recycle(s)
				return fmt.Errorf("preparing slice %d: %w", i, err)
			}
			if err := s.advance(Ready, WritingStarted); err != nil {
				return err
			}
			p.record(s)
			select {
			case sem <- struct{}{}:
			case <-egCtx.Done():
				p.recycle(s)
				return egCtx.Err()
			}
			p.update(func(st *Status) { st.InFlight++ })
			eg.Go(func() error {
				defer func() { <-sem }()
				return p.generate(egCtx, s)
			})
			select {
			case pending <- s:
			case <-egCtx.Done():
				return egCtx.Err()
			}
		}
		return nil
	})
	return eg.Wait()
}

// prepare observes every constellation over the slice, selects the
// satellites and builds one generator per channel. It runs in slice order:
// each slice starts from the carrier phases the previous one handed off.
func (p *Pipeline) prepare(ctx context.Context, s *Slice) error {
	knots, err := constellation.NewKnots(s.Interval, p.cfg.TrajectoryRate, p.cfg.Pad)
	if err != nil {
		return err
	}
	pvts, err := p.traj.Samples(knots.Interval(), knots.Rate)
	if err != nil {
		return err
	}
	if pvts == nil {
		return fmt.Errorf("%w for %s", ErrTrajectoryUnavailable, s.Interval)
	}
	if len(pvts) != knots.Count {
		return fmt.Errorf("simulation: trajectory returned %d samples, want %d", len(pvts), knots.Count)
	}

	plan := p.out.Plan()
	signals := make([][]generator.SignalParams, len(plan.Channels))
	next := make([]constellation.PhaseHandoff, len(plan.Channels))
	for ch := range next {
		next[ch] = constellation.PhaseHandoff{Boundary: s.Interval.End}
	}
	visible := 0
	for _, base := range p.bases {
		c := base.Constellation()
		if err := base.Almanac().UpdateAlmanacForTime(s.Interval.Start); err != nil {
			return err
		}
		series, err := base.ObserveSeries(ctx, pvts, p.cfg.Mask)
		if err != nil {
			return err
		}
		selected := constellation.GetVisibleSats(series, p.previous[c], p.cfg.Visibility)
		indices := make([]int, len(selected))
		for i, sat := range selected {
			indices[i] = sat.Index
			s.Visible[c] = append(s.Visible[c], sat.PRN)
		}
		p.previous[c] = indices
		visible += len(selected)
		metrics.SetVisible(c.String(), len(selected))

		for ch := range plan.Channels {
			params, err := base.CreateSignalGeneratorParameters(constellation.ParamsRequest{
				Knots:   knots,
				Series:  selected,
				Channel: p.scope(plan, ch),
				Handoff: p.handoff[ch],
				Bank:    p.bank,
			})
			s.sequences = append(s.sequences, params.Sequences...)
			if err != nil {
				return err
			}
			signals[ch] = append(signals[ch], params.Signals...)
			next[ch] = next[ch].Merge(params.Handoff)
		}
	}
	p.handoff = next

	for ch, channel := range plan.Channels {
		quantizer := func(buf []byte, rms float64) (quantize.Quantizer, error) {
			return p.out.Quantizer(ch, buf, rms)
		}
		g, err := generator.New(generator.Config{
			Channel:     channel.Name,
			Slice:       s.Interval,
			SampleRate:  plan.SampleRate,
			KnotRate:    knots.Rate,
			Pad:         knots.Pad,
			Format:      channel.Format,
			Quantizer:   quantizer,
			Noise:       p.cfg.Noise,
			NoiseOffset: p.noiseOffset(s, ch),
		}, signals[ch], p.logger)
		if err != nil {
			return err
		}
		g.ApplyRMS(p.channelRMS(ch, g))
		s.Generators = append(s.Generators, g)
	}

	p.update(func(st *Status) { st.Visible = visible })
	p.logger.Debug("slice prepared", "slice", s.Index, "visible", visible, "silent", s.Silent())
	return nil
}

func (p *Pipeline) scope(plan output.ChannelPlan, ch int) constellation.ChannelScope {
	c := plan.Channels[ch]
	return constellation.ChannelScope{
		CenterFrequency: c.CenterFrequency,
		SampleRate:      plan.SampleRate,
		Bands:           c.Bands,
		Constellations:  c.Constellations,
		Noise:           p.cfg.Noise != nil,
		RealWorldLevels: p.cfg.RealWorldLevels,
	}
}

// channelRMS returns the quantizer scale of channel ch. It is measured on
// the first slice with a non-zero output and kept for the run; silent
// slices before that use NominalRMS.
func (p *Pipeline) channelRMS(ch int, g *generator.Generator) float64 {
	if p.cfg.RMS > 0 {
		return p.cfg.RMS
	}
	if p.rms[ch] > 0 {
		return p.rms[ch]
	}
	rms := g.MeasureRMS()
	if rms == 0 {
		p.logger.Debug("silent slice, using nominal rms", "channel", p.out.Plan().Channels[ch].Name, "rms", NominalRMS)
		return NominalRMS
	}
	p.rms[ch] = rms
	return rms
}

// noiseOffset continues the noise walk across slices and separates channels.
func (p *Pipeline) noiseOffset(s *Slice, ch int) int {
	if p.cfg.Noise == nil {
		return 0
	}
	n := p.cfg.Noise.Len()
	samples := int(s.Interval.Start.Sub(p.run.Start).Seconds()*p.out.Plan().SampleRate) % n
	return ((ch*n/len(p.out.Plan().Channels)-samples)%n + n) % n
}

// generate renders every channel of s and recycles its bank buffers.
func (p *Pipeline) generate(ctx context.Context, s *Slice) error {
	defer close(s.done)
	defer p.update(func(st *Status) { st.InFlight-- })

	if s.err = s.advance(WritingStarted, ProcessingStarted); s.err != nil {
		p.recycle(s)
		return s.err
	}
	s.data = make([][]byte, len(s.Generators))
	for ch, g := range s.Generators {
		data, err := g.Generate(ctx)
		if err != nil {
			s.err = fmt.Errorf("slice %d: %w", s.Index, err)
			break
		}
		s.data[ch] = data
	}
	if err := p.recycle(s); err != nil && s.err == nil {
		s.err = err
	}
	if s.err != nil {
		return s.err
	}
	if s.err = s.advance(ProcessingStarted, ProcessingFinished); s.err == nil {
		p.record(s)
	}
	return s.err
}

// recycle drops the slice's references on its sequences, then returns
// whatever the bank still holds for the slice to the pool.
func (p *Pipeline) recycle(s *Slice) error {
	for _, seq := range s.sequences {
		if err := p.bank.Release(seq); err != nil {
			return fmt.Errorf("releasing slice %d: %w", s.Index, err)
		}
	}
	released := len(s.sequences)
	s.sequences = nil
	n, err := p.bank.Recycle(s.Interval.Start)
	if err != nil {
		return fmt.Errorf("recycling slice %d: %w", s.Index, err)
	}
	inUse, err := p.bank.InUse()
	if err != nil {
		return err
	}
	p.update(func(st *Status) { st.Sequences = inUse })
	p.logger.Debug("slice recycled", "slice", s.Index, "released", released, "leftover", n, "in_use", inUse)
	return nil
}

// write hands slices to the output in the order they were queued.
func (p *Pipeline) write(ctx context.Context, pending <-chan *Slice) error {
	for s := range pending {
		select {
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		if s.err != nil {
			metrics.IncSlices("failed")
			return s.err
		}
		if err := p.out.Write(output.Block{Index: s.Index, Interval: s.Interval, Channels: s.data}); err != nil {
			metrics.IncSlices("failed")
			return fmt.Errorf("writing slice %d: %w", s.Index, err)
		}
		s.data = nil
		if err := s.advance(ProcessingFinished, WritingFinished); err != nil {
			return err
		}
		p.record(s)
		if err := p.bank.Forget(s.Interval.Start); err != nil {
			return err
		}
		metrics.IncSlices("written")
		p.update(func(st *Status) { st.SlicesWritten++ })
	}
	return nil
}
