// Package interp builds piecewise cubic (Akima) interpolation coefficients.
//
// The generator evaluates these coefficients millions of times per second, so
// segments are stored as plain Horner coefficients relative to the segment
// start and evaluated with fused multiply-adds.
package interp

import (
	"errors"
	"fmt"
	"math"
)

// MinSamples is the smallest number of knots an Akima fit accepts.
const MinSamples = 5

var (
	ErrTooFewSamples  = errors.New("interp: at least 5 samples required")
	ErrLengthMismatch = errors.New("interp: positions and values differ in length")
	ErrNotIncreasing  = errors.New("interp: positions must be strictly increasing")
)

// weightEpsilon below which both Akima weights count as zero.
const weightEpsilon = 1e-12

// Cubic holds one segment: C0 + C1*o + C2*o^2 + C3*o^3 with o = x - start.
type Cubic struct {
	C0, C1, C2, C3 float64
}

// Eval evaluates the segment at offset o from its start.
func (c Cubic) Eval(o float64) float64 {
	return math.FMA(math.FMA(math.FMA(c.C3, o, c.C2), o, c.C1), o, c.C0)
}

// Derivative evaluates the first derivative of the segment at offset o.
func (c Cubic) Derivative(o float64) float64 {
	return math.FMA(math.FMA(3*c.C3, o, 2*c.C2), o, c.C1)
}

func validate(nx, ny int) error {
	if nx != ny {
		return fmt.Errorf("%w: %d positions, %d values", ErrLengthMismatch, nx, ny)
	}
	if nx < MinSamples {
		return fmt.Errorf("%w: got %d", ErrTooFewSamples, nx)
	}
	return nil
}

// FastAkima fits an Akima spline through (x[i], y[i]) and returns one Cubic
// per interval [x[i], x[i+1]). Evaluating segment i at offset 0 returns y[i].
func FastAkima(x, y []float64) ([]Cubic, error) {
	if err := validate(len(x), len(y)); err != nil {
		return nil, err
	}
	n := len(x)
	for i := 1; i < n; i++ {
		if !(x[i] > x[i-1]) {
			return nil, fmt.Errorf("%w: x[%d]=%g, x[%d]=%g", ErrNotIncreasing, i-1, x[i-1], i, x[i])
		}
	}

	m := make([]float64, n-1)
	for i := 0; i < n-1; i++ {
		m[i] = (y[i+1] - y[i]) / (x[i+1] - x[i])
	}

	w := make([]float64, n-1)
	for i := 1; i < n-1; i++ {
		w[i] = math.Abs(m[i] - m[i-1])
	}

	d := make([]float64, n)
	for i := 2; i < n-2; i++ {
		wP, wM := w[i+1], w[i-1]
		if wP < weightEpsilon && wM < weightEpsilon {
			d[i] = ((x[i+1]-x[i])*m[i-1] + (x[i]-x[i-1])*m[i]) / (x[i+1] - x[i-1])
			continue
		}
		d[i] = (wP*m[i-1] + wM*m[i]) / (wP + wM)
	}
	d[0] = threePoint(x, y, 0, 0, 1, 2)
	d[1] = threePoint(x, y, 1, 0, 1, 2)
	d[n-2] = threePoint(x, y, n-2, n-3, n-2, n-1)
	d[n-1] = threePoint(x, y, n-1, n-3, n-2, n-1)

	out := make([]Cubic, n-1)
	for i := 0; i < n-1; i++ {
		h := x[i+1] - x[i]
		out[i] = Cubic{
			C0: y[i],
			C1: d[i],
			C2: (3*m[i] - 2*d[i] - d[i+1]) / h,
			C3: (d[i] + d[i+1] - 2*m[i]) / (h * h),
		}
	}
	return out, nil
}

// threePoint differentiates the parabola through knots i0, i1, i2 at knot t.
func threePoint(x, y []float64, t, i0, i1, i2 int) float64 {
	y0, y1, y2 := y[i0], y[i1], y[i2]
	tt := x[t] - x[i0]
	t1 := x[i1] - x[i0]
	t2 := x[i2] - x[i0]
	a := (y2 - y0 - (t2 / t1 * (y1 - y0))) / (t2*t2 - t1*t2)
	b := (y1 - y0 - a*t1*t1) / t1
	return 2*a*tt + b
}
