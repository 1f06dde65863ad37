package generator

import (
	"math"

	"github.com/star/gnsssynth/internal/gnss"
	"github.com/star/gnsssynth/internal/interp"
	"github.com/star/gnsssynth/internal/quantize"
)

// track is the hot-loop view of one non-empty SignalParams.
type track struct {
	phase, chip, chipQ []interp.Cubic
	seq, seqQ, pilot   []int8
	level              float64
	topology           gnss.Topology
}

func newTrack(p *SignalParams) track {
	return track{
		phase:    p.Phase,
		chip:     p.Chip,
		chipQ:    p.ChipQ,
		seq:      p.Sequence,
		seqQ:     p.SequenceQ,
		pilot:    p.Pilot,
		level:    p.Level,
		topology: p.Signal.Topology,
	}
}

// Policies selected once per generator. Each is a zero-size type so the
// kernel body compiles to one instantiation per combination.

type noisePolicy interface {
	add(c *noiseCursor, i, q *float64)
}

type noNoise struct{}

func (noNoise) add(*noiseCursor, *float64, *float64) {}

type withNoise struct{}

func (withNoise) add(c *noiseCursor, i, q *float64) {
	ni, nq := c.next()
	*i += ni
	*q += nq
}

type levelPolicy interface {
	level(tr *track) float64
}

type uniform struct{}

func (uniform) level(*track) float64 { return 1 }

type scaled struct{}

func (scaled) level(tr *track) float64 { return tr.level }

type topologyPolicy interface {
	add(tr *track, seg int, off, a, sin, cos float64, i, q *float64)
}

type bpskI struct{}

func (bpskI) add(tr *track, seg int, off, a, sin, cos float64, i, q *float64) {
	v := a * float64(tr.seq[int(tr.chip[seg].Eval(off))])
	*i += v * cos
	*q += v * sin
}

type bpskQ struct{}

func (bpskQ) add(tr *track, seg int, off, a, sin, cos float64, i, q *float64) {
	v := a * float64(tr.seq[int(tr.chip[seg].Eval(off))])
	*i -= v * sin
	*q += v * cos
}

type dualSynced struct{}

func (dualSynced) add(tr *track, seg int, off, a, sin, cos float64, i, q *float64) {
	k := int(tr.chip[seg].Eval(off))
	vi := a * float64(tr.seq[k])
	vq := a * float64(tr.seqQ[k])
	*i += vi*cos - vq*sin
	*q += vi*sin + vq*cos
}

type dualUnsynced struct{}

func (dualUnsynced) add(tr *track, seg int, off, a, sin, cos float64, i, q *float64) {
	vi := a * float64(tr.seq[int(tr.chip[seg].Eval(off))])
	vq := a * float64(tr.seqQ[int(tr.chipQ[seg].Eval(off))])
	*i += vi*cos - vq*sin
	*q += vi*sin + vq*cos
}

type boc struct{}

func (boc) add(tr *track, seg int, off, a, sin, cos float64, i, q *float64) {
	k := int(tr.chip[seg].Eval(off))
	v := a * float64(tr.seq[k]-tr.pilot[k]) * math.Sqrt2 / 2
	*i += v * cos
	*q += v * sin
}

type mixed struct{}

func (mixed) add(tr *track, seg int, off, a, sin, cos float64, i, q *float64) {
	switch tr.topology {
	case gnss.BPSKI:
		bpskI{}.add(tr, seg, off, a, sin, cos, i, q)
	case gnss.BPSKQ:
		bpskQ{}.add(tr, seg, off, a, sin, cos, i, q)
	case gnss.DualSynced:
		dualSynced{}.add(tr, seg, off, a, sin, cos, i, q)
	case gnss.DualUnsynced:
		dualUnsynced{}.add(tr, seg, off, a, sin, cos, i, q)
	case gnss.BOC:
		boc{}.add(tr, seg, off, a, sin, cos, i, q)
	}
}

// sampleAt evaluates output sample n of the slice.
func sampleAt[N noisePolicy, L levelPolicy, T topologyPolicy](g *Generator, n int, nz *noiseCursor) (float64, float64) {
	var (
		noise N
		lvl   L
		topo  T
		i, q  float64
	)
	t := float64(n) * g.samplePeriod
	seg := int(t*g.knotRate) + g.pad
	off := t - float64(seg-g.pad)*g.knotStep
	for k := range g.tracks {
		tr := &g.tracks[k]
		sin, cos := SinCos(tr.phase[seg].Eval(off))
		topo.add(tr, seg, off, lvl.level(tr), sin, cos, &i, &q)
	}
	noise.add(nz, &i, &q)
	return i, q
}

// generate quantizes samples [first, first+count) into q.
func generate[N noisePolicy, L levelPolicy, T topologyPolicy](g *Generator, q quantize.Quantizer, first, count int, nz *noiseCursor) {
	for n := first; n < first+count; n++ {
		i, qv := sampleAt[N, L, T](g, n, nz)
		q.Add(i, qv)
	}
}

// measure returns the mean of (I²+Q²)/2 over every stride-th sample,
// limited to count measured samples.
func measure[N noisePolicy, L levelPolicy, T topologyPolicy](g *Generator, stride, count int, z *Noise) float64 {
	nz := z.cursor(g.noiseOffset, 0)
	var sum float64
	measured := 0
	for n := 0; n < g.samples && measured < count; n += stride {
		if z != nil {
			nz.seek(g.noiseOffset - n)
		}
		i, q := sampleAt[N, L, T](g, n, nz)
		sum += (i*i + q*q) / 2
		measured++
	}
	if measured == 0 {
		return 0
	}
	return sum / float64(measured)
}

type kernelTopology int

const (
	topoBPSKI kernelTopology = iota
	topoBPSKQ
	topoDualSynced
	topoDualUnsynced
	topoBOC
	topoMixed
)

type kernelKey struct {
	noise    bool
	scaled   bool
	topology kernelTopology
}

type kernelSet struct {
	generate func(g *Generator, q quantize.Quantizer, first, count int, nz *noiseCursor)
	measure  func(g *Generator, stride, count int, z *Noise) float64
}

func kernelsFor[N noisePolicy, L levelPolicy, T topologyPolicy]() kernelSet {
	return kernelSet{generate: generate[N, L, T], measure: measure[N, L, T]}
}

var kernelTable = map[kernelKey]kernelSet{
	{false, false, topoBPSKI}:        kernelsFor[noNoise, uniform, bpskI](),
	{false, false, topoBPSKQ}:        kernelsFor[noNoise, uniform, bpskQ](),
	{false, false, topoDualSynced}:   kernelsFor[noNoise, uniform, dualSynced](),
	{false, false, topoDualUnsynced}: kernelsFor[noNoise, uniform, dualUnsynced](),
	{false, false, topoBOC}:          kernelsFor[noNoise, uniform, boc](),
	{false, false, topoMixed}:        kernelsFor[noNoise, uniform, mixed](),
	{false, true, topoBPSKI}:         kernelsFor[noNoise, scaled, bpskI](),
	{false, true, topoBPSKQ}:         kernelsFor[noNoise, scaled, bpskQ](),
	{false, true, topoDualSynced}:    kernelsFor[noNoise, scaled, dualSynced](),
	{false, true, topoDualUnsynced}:  kernelsFor[noNoise, scaled, dualUnsynced](),
	{false, true, topoBOC}:           kernelsFor[noNoise, scaled, boc](),
	{false, true, topoMixed}:         kernelsFor[noNoise, scaled, mixed](),
	{true, false, topoBPSKI}:         kernelsFor[withNoise, uniform, bpskI](),
	{true, false, topoBPSKQ}:         kernelsFor[withNoise, uniform, bpskQ](),
	{true, false, topoDualSynced}:    kernelsFor[withNoise, uniform, dualSynced](),
	{true, false, topoDualUnsynced}:  kernelsFor[withNoise, uniform, dualUnsynced](),
	{true, false, topoBOC}:           kernelsFor[withNoise, uniform, boc](),
	{true, false, topoMixed}:         kernelsFor[withNoise, uniform, mixed](),
	{true, true, topoBPSKI}:          kernelsFor[withNoise, scaled, bpskI](),
	{true, true, topoBPSKQ}:          kernelsFor[withNoise, scaled, bpskQ](),
	{true, true, topoDualSynced}:     kernelsFor[withNoise, scaled, dualSynced](),
	{true, true, topoDualUnsynced}:   kernelsFor[withNoise, scaled, dualUnsynced](),
	{true, true, topoBOC}:            kernelsFor[withNoise, scaled, boc](),
	{true, true, topoMixed}:          kernelsFor[withNoise, scaled, mixed](),
}

// Features is the classification that selects a kernel.
type Features struct {
	Noise    bool
	Scaled   bool
	Topology gnss.Topology
	Mixed    bool
}

func (f Features) key() kernelKey {
	k := kernelKey{noise: f.Noise, scaled: f.Scaled, topology: topoMixed}
	if !f.Mixed {
		switch f.Topology {
		case gnss.BPSKI:
			k.topology = topoBPSKI
		case gnss.BPSKQ:
			k.topology = topoBPSKQ
		case gnss.DualSynced:
			k.topology = topoDualSynced
		case gnss.DualUnsynced:
			k.topology = topoDualUnsynced
		case gnss.BOC:
			k.topology = topoBOC
		}
	}
	return k
}

// classify inspects the tracks once per generator.
func classify(tracks []track, noise bool) Features {
	f := Features{Noise: noise}
	for k := range tracks {
		if tracks[k].level != 1 {
			f.Scaled = true
		}
		if k == 0 {
			f.Topology = tracks[k].topology
		} else if tracks[k].topology != f.Topology {
			f.Mixed = true
		}
	}
	return f
}
