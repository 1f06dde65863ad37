// Package generator synthesizes quantized baseband samples for one output
// channel and one slice. Per sample it evaluates the carrier phase and chip
// position splines of every signal, looks up sin/cos, accumulates I/Q,
// adds pre-generated noise and quantizes.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/star/gnsssynth/internal/aligned"
	"github.com/star/gnsssynth/internal/gnss"
	"github.com/star/gnsssynth/internal/metrics"
	"github.com/star/gnsssynth/internal/quantize"
)

const (
	// MinChunkSamples is the smallest chunk handed to one goroutine.
	MinChunkSamples = 25000
	// RMSStride and RMSSamples bound the RMS measurement.
	RMSStride  = 5
	RMSSamples = 15000
)

var (
	ErrNoSamples        = errors.New("generator: slice holds no samples")
	ErrShortSpline      = errors.New("generator: spline does not cover the slice")
	ErrMissingComponent = errors.New("generator: signal component missing")
	ErrNoQuantizer      = errors.New("generator: no quantizer")
)

// QuantizerFunc opens an encoder on one byte range of the slice buffer,
// scaled for rms.
type QuantizerFunc func(buf []byte, rms float64) (quantize.Quantizer, error)

// Config describes the sample grid of one channel in one slice.
type Config struct {
	// Channel names the output channel in logs and metrics.
	Channel    string
	Slice      gnss.Interval
	SampleRate float64
	// KnotRate and Pad describe the spline grid: segment k starts at
	// (k-Pad)/KnotRate seconds after the slice start.
	KnotRate float64
	Pad      int
	Format   quantize.Format
	// Quantizer encodes each chunk in Format. Outputs supply it so the
	// encoding matches what they write.
	Quantizer QuantizerFunc
	// Noise is added to every sample when set. NoiseOffset picks the
	// buffer entry of the first sample.
	Noise       *Noise
	NoiseOffset int
}

// Generator renders one channel of one slice.
type Generator struct {
	cfg     Config
	tracks  []track
	feat    Features
	kernels kernelSet
	rms     float64

	samples      int
	samplePeriod float64
	knotRate     float64
	knotStep     float64
	pad          int
	noiseOffset  int

	logger *slog.Logger
}

// New validates signals against cfg and selects the kernel. Empty signals
// are dropped.
func New(cfg Config, signals []SignalParams, logger *slog.Logger) (*Generator, error) {
	if !(cfg.SampleRate > 0) || !(cfg.KnotRate > 0) {
		return nil, fmt.Errorf("generator: invalid rates (sample %v, knot %v)", cfg.SampleRate, cfg.KnotRate)
	}
	if cfg.Quantizer == nil {
		return nil, fmt.Errorf("%w for channel %q", ErrNoQuantizer, cfg.Channel)
	}
	samples := int(math.Round(cfg.Slice.Duration().Seconds() * cfg.SampleRate))
	if samples <= 0 {
		return nil, ErrNoSamples
	}

	g := &Generator{
		cfg:          cfg,
		samples:      samples,
		samplePeriod: 1 / cfg.SampleRate,
		knotRate:     cfg.KnotRate,
		knotStep:     1 / cfg.KnotRate,
		pad:          cfg.Pad,
		noiseOffset:  cfg.NoiseOffset,
		logger:       logger,
	}

	lastSeg := int(float64(samples-1)*g.samplePeriod*g.knotRate) + g.pad
	for i := range signals {
		p := &signals[i]
		if p.IsEmpty() {
			continue
		}
		if err := checkSignal(p, lastSeg); err != nil {
			return nil, err
		}
		g.tracks = append(g.tracks, newTrack(p))
	}

	g.feat = classify(g.tracks, cfg.Noise != nil)
	g.kernels = kernelTable[g.feat.key()]
	return g, nil
}

func checkSignal(p *SignalParams, lastSeg int) error {
	name := fmt.Sprintf("%s PRN %d", p.Signal.Name, p.PRN)
	if len(p.Phase) <= lastSeg || len(p.Chip) <= lastSeg {
		return fmt.Errorf("%w: %s has %d segments, need %d", ErrShortSpline, name, min(len(p.Phase), len(p.Chip)), lastSeg+1)
	}
	switch p.Signal.Topology {
	case gnss.DualSynced:
		if len(p.SequenceQ) == 0 {
			return fmt.Errorf("%w: %s quadrature sequence", ErrMissingComponent, name)
		}
	case gnss.DualUnsynced:
		if len(p.SequenceQ) == 0 || len(p.ChipQ) <= lastSeg {
			return fmt.Errorf("%w: %s quadrature sequence or chip spline", ErrMissingComponent, name)
		}
	case gnss.BOC:
		if len(p.Pilot) != len(p.Sequence) {
			return fmt.Errorf("%w: %s pilot sequence", ErrMissingComponent, name)
		}
	}
	return nil
}

// Samples returns the number of complex samples in the slice.
func (g *Generator) Samples() int { return g.samples }

// Signals returns the number of non-empty signals rendered.
func (g *Generator) Signals() int { return len(g.tracks) }

// Features returns the kernel classification.
func (g *Generator) Features() Features { return g.feat }

// Format returns the output encoding.
func (g *Generator) Format() quantize.Format { return g.cfg.Format }

// MeasureRMS estimates the per-component RMS of the unquantized output from
// every RMSStride-th sample, at most RMSSamples of them.
func (g *Generator) MeasureRMS() float64 {
	return math.Sqrt(g.kernels.measure(g, RMSStride, RMSSamples, g.cfg.Noise))
}

// ApplyRMS sets the RMS the quantizer scales for. Zero disables scaling.
func (g *Generator) ApplyRMS(rms float64) {
	g.rms = rms
	metrics.SetRMS(g.cfg.Channel, rms)
}

// RMS returns the value set by ApplyRMS.
func (g *Generator) RMS() float64 { return g.rms }

// Generate renders the slice into a new buffer. Chunks of the buffer are
// rendered concurrently, each with its own quantizer on a disjoint byte
// range.
func (g *Generator) Generate(ctx context.Context) ([]byte, error) {
	start := time.Now()
	format := g.cfg.Format
	buf := aligned.New[byte](format.BytesFor(g.samples)).Bytes()

	workers := runtime.GOMAXPROCS(0)
	size := chunkSize(g.samples, workers, format.Alignment())

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for first := 0; first < g.samples; first += size {
		count := min(size, g.samples-first)
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			view, err := format.View(buf, first, count)
			if err != nil {
				return err
			}
			q, err := g.cfg.Quantizer(view, g.rms)
			if err != nil {
				return err
			}
			g.kernels.generate(g, q, first, count, g.cfg.Noise.cursor(g.noiseOffset, first))
			q.Flush()
			if q.Written() != count {
				return fmt.Errorf("generator: chunk at %d wrote %d of %d samples", first, q.Written(), count)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("generating %s: %w", g.cfg.Channel, err)
	}

	elapsed := time.Since(start)
	metrics.AddSamples(g.samples)
	metrics.ObserveGeneration(elapsed)
	g.logger.Debug("channel generated",
		"channel", g.cfg.Channel,
		"slice", g.cfg.Slice.String(),
		"signals", len(g.tracks),
		"samples", g.samples,
		"duration_ms", elapsed.Milliseconds(),
	)
	return buf, nil
}

// chunkSize splits total samples over workers, never below MinChunkSamples,
// rounded up to the quantizer alignment.
func chunkSize(total, workers, alignment int) int {
	if workers < 1 {
		workers = 1
	}
	size := max((total+workers-1)/workers, MinChunkSamples)
	if r := size % alignment; r != 0 {
		size += alignment - r
	}
	return size
}
