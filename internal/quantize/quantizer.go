package quantize

import (
	"encoding/binary"
	"fmt"
	"math"
)

// headroom is the signal RMS to full-scale ratio.
const headroom = 2.5

// Quantizer encodes samples into one byte range. It is owned by a single
// goroutine.
type Quantizer interface {
	// Add encodes one complex sample.
	Add(i, q float64)
	// Flush writes out a partially filled byte.
	Flush()
	// Written returns the number of samples added.
	Written() int
}

// gain scales samples of the given RMS so that headroom·rms maps to
// fullScale. An RMS of zero passes samples through unscaled.
func gain(fullScale, rms float64) float64 {
	if rms == 0 {
		return 1
	}
	return fullScale / (headroom * rms)
}

// New returns a quantizer writing f into buf, scaled for rms.
func (f Format) New(buf []byte, rms float64) (Quantizer, error) {
	if rms < 0 || math.IsNaN(rms) || math.IsInf(rms, 0) {
		return nil, fmt.Errorf("quantize: invalid rms %v", rms)
	}
	switch f {
	case OneBit:
		return &packed{buf: buf, bits: 1, gain: 1, levels: 0}, nil
	case TwoBit:
		return &packed{buf: buf, bits: 2, gain: gain(2, rms), levels: 1}, nil
	case ThreeBit:
		return &packed{buf: buf, bits: 3, gain: gain(4, rms), levels: 3}, nil
	case Int8:
		return &int8Quantizer{buf: buf, gain: gain(128, rms)}, nil
	case Int12:
		return &int16Quantizer{buf: buf, gain: gain(2048, rms), lo: -2048, hi: 2047}, nil
	case Int16:
		return &int16Quantizer{buf: buf, gain: gain(32768, rms), lo: math.MinInt16, hi: math.MaxInt16}, nil
	case Float32:
		return &float32Quantizer{buf: buf, gain: gain(1, rms)}, nil
	}
	return nil, fmt.Errorf("quantize: unsupported format %s", f)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// packed writes sign/magnitude codes MSB first. The top bit of each code is
// the sign, set for negative values; the remaining bits hold the magnitude
// floor(|v|·gain) limited to levels. One-bit codes store 1 for v >= 0.
type packed struct {
	buf    []byte
	pos    int
	acc    uint32
	nacc   int
	bits   int
	gain   float64
	levels int
	n      int
}

func (p *packed) code(v float64) uint32 {
	if p.bits == 1 {
		if v >= 0 {
			return 1
		}
		return 0
	}
	var sign uint32
	if v < 0 {
		sign = 1
		v = -v
	}
	mag := int(v * p.gain)
	if mag > p.levels {
		mag = p.levels
	}
	return sign<<(p.bits-1) | uint32(mag)
}

func (p *packed) push(c uint32) {
	p.acc = p.acc<<p.bits | c
	p.nacc += p.bits
	if p.nacc >= 8 {
		p.nacc -= 8
		p.buf[p.pos] = byte(p.acc >> p.nacc)
		p.pos++
		p.acc &= 1<<p.nacc - 1
	}
}

func (p *packed) Add(i, q float64) {
	p.push(p.code(i))
	p.push(p.code(q))
	p.n++
}

func (p *packed) Flush() {
	if p.nacc == 0 {
		return
	}
	p.buf[p.pos] = byte(p.acc << (8 - p.nacc))
	p.pos++
	p.acc, p.nacc = 0, 0
}

func (p *packed) Written() int { return p.n }

type int8Quantizer struct {
	buf  []byte
	gain float64
	n    int
}

func (q8 *int8Quantizer) Add(i, q float64) {
	o := 2 * q8.n
	q8.buf[o] = byte(int8(clamp(math.Round(i*q8.gain), math.MinInt8, math.MaxInt8)))
	q8.buf[o+1] = byte(int8(clamp(math.Round(q*q8.gain), math.MinInt8, math.MaxInt8)))
	q8.n++
}

func (q8 *int8Quantizer) Flush() {}

func (q8 *int8Quantizer) Written() int { return q8.n }

type int16Quantizer struct {
	buf    []byte
	gain   float64
	lo, hi float64
	n      int
}

func (w *int16Quantizer) Add(i, q float64) {
	o := 4 * w.n
	binary.LittleEndian.PutUint16(w.buf[o:], uint16(int16(clamp(math.Round(i*w.gain), w.lo, w.hi))))
	binary.LittleEndian.PutUint16(w.buf[o+2:], uint16(int16(clamp(math.Round(q*w.gain), w.lo, w.hi))))
	w.n++
}

func (w *int16Quantizer) Flush() {}

func (w *int16Quantizer) Written() int { return w.n }

type float32Quantizer struct {
	buf  []byte
	gain float64
	n    int
}

func (f *float32Quantizer) Add(i, q float64) {
	o := 8 * f.n
	binary.LittleEndian.PutUint32(f.buf[o:], math.Float32bits(float32(clamp(i*f.gain, -1, 1))))
	binary.LittleEndian.PutUint32(f.buf[o+4:], math.Float32bits(float32(clamp(q*f.gain, -1, 1))))
	f.n++
}

func (f *float32Quantizer) Flush() {}

func (f *float32Quantizer) Written() int { return f.n }
