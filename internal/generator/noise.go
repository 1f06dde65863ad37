package generator

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultNoiseSamples is the length of the circular noise buffer in complex
// samples.
const DefaultNoiseSamples = 1 << 20

// Noise is a pre-generated buffer of circular Gaussian samples, interleaved
// I/Q, with zero mean and unit variance per component.
type Noise struct {
	samples []float64
}

// NewNoise generates n complex noise samples from seed.
func NewNoise(n int, seed int64) (*Noise, error) {
	if n < 2 {
		return nil, fmt.Errorf("noise: %d samples is too short", n)
	}
	dist := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(uint64(seed))}
	x := make([]float64, 2*n)
	for i := range x {
		x[i] = dist.Rand()
	}
	mean, std := stat.MeanStdDev(x, nil)
	floats.AddConst(-mean, x)
	floats.Scale(1/std, x)
	return &Noise{samples: x}, nil
}

// Len returns the number of complex samples.
func (z *Noise) Len() int { return len(z.samples) / 2 }

// noiseCursor walks the buffer backwards, wrapping at the start.
type noiseCursor struct {
	samples []float64
	pos     int
}

// cursor positions a walk so that output sample n reads entry
// (offset - n) mod Len.
func (z *Noise) cursor(offset, n int) *noiseCursor {
	if z == nil {
		return &noiseCursor{}
	}
	c := &noiseCursor{samples: z.samples}
	c.seek(offset - n)
	return c
}

func (c *noiseCursor) seek(i int) {
	l := len(c.samples) / 2
	c.pos = ((i % l) + l) % l
}

func (c *noiseCursor) next() (float64, float64) {
	i, q := c.samples[2*c.pos], c.samples[2*c.pos+1]
	c.pos--
	if c.pos < 0 {
		c.pos = len(c.samples)/2 - 1
	}
	return i, q
}
