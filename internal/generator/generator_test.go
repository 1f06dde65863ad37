package generator

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/cmplx"
	"math/rand"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"

	"github.com/star/gnsssynth/internal/gnss"
	"github.com/star/gnsssynth/internal/interp"
	"github.com/star/gnsssynth/internal/quantize"
)

const (
	knotRate = 10.0
	pad      = 2
)

var sliceStart = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func mustSignal(t *testing.T, name string) gnss.Signal {
	t.Helper()
	sig, err := gnss.LookupSignal(name)
	require.NoError(t, err)
	return sig
}

// linear fits y0 + slope·x on the knot grid of a slice of dur seconds.
func linear(t *testing.T, dur, y0, slope float64) []interp.Cubic {
	t.Helper()
	n := int(math.Round(dur*knotRate)) + 1 + 2*pad
	x := make([]float64, n)
	y := make([]float64, n)
	for j := range x {
		x[j] = float64(j-pad) / knotRate
		y[j] = y0 + slope*x[j]
	}
	c, err := interp.FastAkima(x, y)
	require.NoError(t, err)
	return c
}

func randomChips(n int, seed int64) []int8 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]int8, n)
	for i := range out {
		out[i] = int8(2*rng.Intn(2) - 1)
	}
	return out
}

type carrier struct {
	freq     float64
	chipRate float64
	level    float64
	seq      []int8
}

func (c carrier) params(t *testing.T, sig gnss.Signal, dur float64) SignalParams {
	return SignalParams{
		Constellation: sig.Constellation,
		PRN:           1,
		Signal:        sig,
		Phase:         linear(t, dur, 0, c.freq),
		Chip:          linear(t, dur, 2+c.chipRate*pad/knotRate, c.chipRate),
		Sequence:      c.seq,
		Level:         c.level,
	}
}

func (c carrier) at(t float64) (float64, float64) {
	k := int(2 + c.chipRate*(t+pad/knotRate))
	v := c.level * float64(c.seq[k])
	s, co := math.Sincos(2 * math.Pi * c.freq * t)
	return v * co, v * s
}

// reference evaluates one signal straight from its splines with the
// modulation of its topology written out in full.
func reference(p SignalParams, t float64) (float64, float64) {
	seg := int(t*knotRate) + pad
	off := t - float64(seg-pad)/knotRate
	s, c := math.Sincos(2 * math.Pi * p.Phase[seg].Eval(off))
	k := int(p.Chip[seg].Eval(off))
	var vi, vq float64
	switch p.Signal.Topology {
	case gnss.BPSKI:
		vi = float64(p.Sequence[k])
	case gnss.BPSKQ:
		vq = float64(p.Sequence[k])
	case gnss.DualSynced:
		vi, vq = float64(p.Sequence[k]), float64(p.SequenceQ[k])
	case gnss.DualUnsynced:
		vi = float64(p.Sequence[k])
		vq = float64(p.SequenceQ[int(p.ChipQ[seg].Eval(off))])
	case gnss.BOC:
		vi = float64(p.Sequence[k]-p.Pilot[k]) / math.Sqrt2
	}
	vi, vq = p.Level*vi, p.Level*vq
	return vi*c - vq*s, vi*s + vq*c
}

func TestNormalizeCycles(t *testing.T) {
	for _, x := range []float64{0, 0.25, 0.999, 1, 3.75, -0.25, -7.5, 1e9 + 0.5, -1e-18} {
		got := NormalizeCycles(x)
		assert.GreaterOrEqual(t, got, 0.0, "x=%v", x)
		assert.Less(t, got, 1.0, "x=%v", x)
		assert.Equal(t, got, NormalizeCycles(got), "idempotent for x=%v", x)
	}
	assert.Equal(t, 0.75, NormalizeCycles(-0.25))
	assert.Equal(t, 0.0, NormalizeCycles(1))
	assert.Equal(t, 0.0, NormalizeCycles(-1e-18))
}

func TestSinCosAccuracy(t *testing.T) {
	for i := 0; i <= tableSize; i++ {
		x := float64(i) / tableSize
		s, c := SinCos(x)
		ws, wc := math.Sincos(2 * math.Pi * x)
		assert.InDelta(t, ws, s, 1e-12)
		assert.InDelta(t, wc, c, 1e-12)
	}
	worst := 0.0
	for x := -2.0; x < 2; x += 1.0 / 4093 {
		s, c := SinCos(x)
		ws, wc := math.Sincos(2 * math.Pi * x)
		worst = math.Max(worst, math.Max(math.Abs(s-ws), math.Abs(c-wc)))
	}
	assert.Less(t, worst, 1.3e-3)
}

func TestKernelTableComplete(t *testing.T) {
	assert.Len(t, kernelTable, 24)
	for _, ks := range kernelTable {
		assert.NotNil(t, ks.generate)
		assert.NotNil(t, ks.measure)
	}
}

func TestClassify(t *testing.T) {
	f := classify([]track{{topology: gnss.BOC, level: 1}, {topology: gnss.BOC, level: 1}}, false)
	assert.Equal(t, Features{Topology: gnss.BOC}, f)
	assert.Equal(t, kernelKey{topology: topoBOC}, f.key())

	f = classify([]track{{topology: gnss.BPSKI, level: 1}, {topology: gnss.DualSynced, level: 0.3}}, true)
	assert.True(t, f.Mixed)
	assert.True(t, f.Scaled)
	assert.Equal(t, kernelKey{noise: true, scaled: true, topology: topoMixed}, f.key())
}

func TestChunkSize(t *testing.T) {
	assert.Equal(t, MinChunkSamples, chunkSize(1000, 8, 1))
	assert.Equal(t, 500000, chunkSize(4000000, 8, 4))
	assert.Equal(t, 0, chunkSize(1000003, 3, 4)%4)
	assert.GreaterOrEqual(t, chunkSize(1000003, 3, 4)*3, 1000003)
}

func TestNewValidation(t *testing.T) {
	sig := mustSignal(t, "GPS_L1CA")
	cfg := Config{Slice: gnss.NewInterval(sliceStart, time.Second), SampleRate: 1e5, KnotRate: knotRate, Pad: pad, Format: quantize.Int16, Quantizer: quantize.Int16.New}
	c := carrier{freq: 1000, chipRate: 1e3, level: 1, seq: randomChips(2000, 1)}

	g, err := New(cfg, []SignalParams{EmptySignal, c.params(t, sig, 1)}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, g.Signals())
	assert.Equal(t, 100000, g.Samples())

	short := c.params(t, sig, 0.5)
	_, err = New(cfg, []SignalParams{short}, testLogger())
	assert.ErrorIs(t, err, ErrShortSpline)

	dual := c.params(t, mustSignal(t, "GPS_L5"), 1)
	_, err = New(cfg, []SignalParams{dual}, testLogger())
	assert.ErrorIs(t, err, ErrMissingComponent)

	empty := cfg
	empty.Slice = gnss.NewInterval(sliceStart, 0)
	_, err = New(empty, nil, testLogger())
	assert.ErrorIs(t, err, ErrNoSamples)

	bare := cfg
	bare.Quantizer = nil
	_, err = New(bare, nil, testLogger())
	assert.ErrorIs(t, err, ErrNoQuantizer)
}

func TestGenerateUsesConfiguredQuantizer(t *testing.T) {
	var calls atomic.Int32
	var rmsSeen atomic.Value
	cfg := Config{
		Slice:      gnss.NewInterval(sliceStart, time.Second),
		SampleRate: 1e5,
		KnotRate:   knotRate,
		Pad:        pad,
		Format:     quantize.Int8,
		Quantizer: func(buf []byte, rms float64) (quantize.Quantizer, error) {
			calls.Add(1)
			rmsSeen.Store(rms)
			return quantize.Int8.New(buf, rms)
		},
	}
	c := carrier{freq: 500, chipRate: 1e3, level: 1, seq: randomChips(2000, 2)}
	g, err := New(cfg, []SignalParams{c.params(t, mustSignal(t, "GPS_L1CA"), 1)}, testLogger())
	require.NoError(t, err)
	g.ApplyRMS(0.7)

	buf, err := g.Generate(context.Background())
	require.NoError(t, err)
	assert.Len(t, buf, 200000)

	size := chunkSize(g.Samples(), runtime.GOMAXPROCS(0), quantize.Int8.Alignment())
	assert.EqualValues(t, (g.Samples()+size-1)/size, calls.Load())
	assert.Equal(t, 0.7, rmsSeen.Load())

	failing := cfg
	failing.Quantizer = func([]byte, float64) (quantize.Quantizer, error) {
		return nil, errors.New("encoder unavailable")
	}
	g, err = New(failing, nil, testLogger())
	require.NoError(t, err)
	_, err = g.Generate(context.Background())
	assert.ErrorContains(t, err, "encoder unavailable")
}

func TestGenerateByteCountAndRMS(t *testing.T) {
	const fs = 4e6
	sig := mustSignal(t, "GPS_L1CA")
	c := carrier{freq: 1234.5, chipRate: sig.ChipRate, level: 0.5, seq: randomChips(1432300, 7)}
	noise, err := NewNoise(1<<16, 42)
	require.NoError(t, err)

	cfg := Config{
		Channel:     "L1",
		Slice:       gnss.NewInterval(sliceStart, time.Second),
		SampleRate:  fs,
		KnotRate:    knotRate,
		Pad:         pad,
		Format:      quantize.Int12,
		Quantizer:   quantize.Int12.New,
		Noise:       noise,
		NoiseOffset: 123,
	}
	g, err := New(cfg, []SignalParams{c.params(t, sig, 1)}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, Features{Noise: true, Scaled: true, Topology: gnss.BPSKI}, g.Features())

	rms := g.MeasureRMS()

	// Direct summation over the same decimated samples.
	var sum float64
	measured := 0
	for n := 0; n < g.Samples() && measured < RMSSamples; n += RMSStride {
		i, q := c.at(float64(n) / fs)
		idx := (((cfg.NoiseOffset - n) % noise.Len()) + noise.Len()) % noise.Len()
		i += noise.samples[2*idx]
		q += noise.samples[2*idx+1]
		sum += (i*i + q*q) / 2
		measured++
	}
	require.Equal(t, RMSSamples, measured)
	want := math.Sqrt(sum / float64(measured))
	assert.InEpsilon(t, want, rms, 0.01)
	assert.InDelta(t, math.Sqrt(1.125), rms, 0.05)

	g.ApplyRMS(rms)
	buf, err := g.Generate(context.Background())
	require.NoError(t, err)
	assert.Len(t, buf, 4*4000000)

	var power float64
	outside := 0
	for k := 0; k < len(buf); k += 2 {
		v := float64(int16(binary.LittleEndian.Uint16(buf[k:])))
		if v < -2048 || v > 2047 {
			outside++
		}
		power += v * v
	}
	assert.Zero(t, outside)
	// The quantizer maps rms to 2048/2.5 codes.
	assert.InEpsilon(t, 819.2, math.Sqrt(power/float64(len(buf)/2)), 0.05)
}

func TestGenerateSpectralPeak(t *testing.T) {
	const (
		fs  = 1e6
		n   = 4096
		bin = 256
	)
	sig := mustSignal(t, "GPS_L1CA")
	ones := make([]int8, 2000)
	for i := range ones {
		ones[i] = 1
	}
	c := carrier{freq: bin * fs / n, chipRate: 1000, level: 1, seq: ones}
	cfg := Config{Slice: gnss.NewInterval(sliceStart, 100*time.Millisecond), SampleRate: fs, KnotRate: knotRate, Pad: pad, Format: quantize.Float32, Quantizer: quantize.Float32.New}
	g, err := New(cfg, []SignalParams{c.params(t, sig, 0.1)}, testLogger())
	require.NoError(t, err)

	buf, err := g.Generate(context.Background())
	require.NoError(t, err)

	x := make([]complex128, n)
	for k := range x {
		i := math.Float32frombits(binary.LittleEndian.Uint32(buf[8*k:]))
		q := math.Float32frombits(binary.LittleEndian.Uint32(buf[8*k+4:]))
		x[k] = complex(float64(i), float64(q))
	}
	coeff := fourier.NewCmplxFFT(n).Coefficients(nil, x)
	peak := 0
	for k := range coeff {
		if cmplx.Abs(coeff[k]) > cmplx.Abs(coeff[peak]) {
			peak = k
		}
	}
	assert.Equal(t, bin, peak)
	assert.InEpsilon(t, float64(n), cmplx.Abs(coeff[peak]), 0.01)
}

func TestGenerateIndependentOfChunking(t *testing.T) {
	const fs = 1e5
	l1 := mustSignal(t, "GPS_L1CA")
	e1 := mustSignal(t, "GALILEO_E1")
	a := carrier{freq: -3000, chipRate: 1e4, level: 0.4, seq: randomChips(20000, 3)}
	b := carrier{freq: 7000, chipRate: 2e4, level: 0.3, seq: randomChips(40000, 4)}
	boc := b.params(t, e1, 1)
	boc.Pilot = randomChips(40000, 5)

	noise, err := NewNoise(5000, 9)
	require.NoError(t, err)
	cfg := Config{
		Slice:       gnss.NewInterval(sliceStart, time.Second),
		SampleRate:  fs,
		KnotRate:    knotRate,
		Pad:         pad,
		Format:      quantize.OneBit,
		Quantizer:   quantize.OneBit.New,
		Noise:       noise,
		NoiseOffset: 17,
	}
	g, err := New(cfg, []SignalParams{a.params(t, l1, 1), boc}, testLogger())
	require.NoError(t, err)
	assert.True(t, g.Features().Mixed)
	g.ApplyRMS(g.MeasureRMS())

	got, err := g.Generate(context.Background())
	require.NoError(t, err)

	want := make([]byte, quantize.OneBit.BytesFor(g.Samples()))
	q, err := quantize.OneBit.New(want, g.RMS())
	require.NoError(t, err)
	g.kernels.generate(g, q, 0, g.Samples(), noise.cursor(cfg.NoiseOffset, 0))
	q.Flush()
	assert.Equal(t, want, got)
}

func TestGenerateCancelled(t *testing.T) {
	cfg := Config{Slice: gnss.NewInterval(sliceStart, time.Second), SampleRate: 1e5, KnotRate: knotRate, Pad: pad, Format: quantize.Int8, Quantizer: quantize.Int8.New}
	g, err := New(cfg, nil, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Generate(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNoise(t *testing.T) {
	z, err := NewNoise(1000, 1)
	require.NoError(t, err)
	assert.Equal(t, 1000, z.Len())

	c := z.cursor(5, 0)
	i, q := c.next()
	assert.Equal(t, z.samples[10], i)
	assert.Equal(t, z.samples[11], q)
	assert.Equal(t, 4, c.pos)

	c = z.cursor(0, 1)
	assert.Equal(t, 999, c.pos)
	c.next()
	c.seek(0)
	c.next()
	assert.Equal(t, 999, c.pos)

	_, err = NewNoise(1, 1)
	assert.Error(t, err)
}

func TestNoiseDistribution(t *testing.T) {
	z, err := NewNoise(1<<14, 77)
	require.NoError(t, err)
	again, err := NewNoise(1<<14, 77)
	require.NoError(t, err)
	assert.Equal(t, z.samples, again.samples)

	other, err := NewNoise(1<<14, 78)
	require.NoError(t, err)
	assert.NotEqual(t, z.samples, other.samples)

	mean, std := stat.MeanStdDev(z.samples, nil)
	assert.InDelta(t, 0, mean, 1e-9)
	assert.InDelta(t, 1, std, 1e-9)
	within := 0
	for _, v := range z.samples {
		if math.Abs(v) <= 1 {
			within++
		}
	}
	assert.InDelta(t, 0.6827, float64(within)/float64(len(z.samples)), 0.02)
}

func TestKernelTopologies(t *testing.T) {
	const fs = 1e5
	c := carrier{freq: 2345, chipRate: 1e4, level: 0.5, seq: randomChips(20000, 11)}
	cases := []struct {
		signal string
		setup  func(p *SignalParams)
	}{
		{"GPS_L2C", func(*SignalParams) {}},
		{"GPS_L5", func(p *SignalParams) { p.SequenceQ = randomChips(20000, 12) }},
		{"BEIDOU_B2a", func(p *SignalParams) {
			p.ChipQ = linear(t, 1, 2+5e3*pad/knotRate, 5e3)
			p.SequenceQ = randomChips(10000, 13)
		}},
		{"GALILEO_E1", func(p *SignalParams) { p.Pilot = randomChips(20000, 14) }},
	}
	for _, tc := range cases {
		t.Run(tc.signal, func(t *testing.T) {
			sig := mustSignal(t, tc.signal)
			p := c.params(t, sig, 1)
			tc.setup(&p)

			cfg := Config{Slice: gnss.NewInterval(sliceStart, time.Second), SampleRate: fs, KnotRate: knotRate, Pad: pad, Format: quantize.Float32, Quantizer: quantize.Float32.New}
			g, err := New(cfg, []SignalParams{p}, testLogger())
			require.NoError(t, err)
			assert.Equal(t, Features{Scaled: true, Topology: sig.Topology}, g.Features())

			buf, err := g.Generate(context.Background())
			require.NoError(t, err)
			worst := 0.0
			for n := 0; n < g.Samples(); n += 7 {
				wi, wq := reference(p, float64(n)*(1/fs))
				i := float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[8*n:])))
				q := float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[8*n+4:])))
				worst = math.Max(worst, math.Max(math.Abs(i-wi), math.Abs(q-wq)))
			}
			assert.Less(t, worst, 2e-3)
		})
	}
}
