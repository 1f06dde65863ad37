package interp

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
)

// TestFastAkimaPassesThroughKnots verifies every segment evaluated at offset
// zero reproduces the knot value exactly.
func TestFastAkimaPassesThroughKnots(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		n := 5 + rng.Intn(40)
		x := make([]float64, n)
		y := make([]float64, n)
		pos := rng.Float64()
		for i := range x {
			pos += 0.01 + rng.Float64()
			x[i] = pos
			y[i] = rng.NormFloat64() * 1000
		}

		segs, err := FastAkima(x, y)
		if err != nil {
			t.Fatalf("FastAkima: %v", err)
		}
		if len(segs) != n-1 {
			t.Fatalf("got %d segments, want %d", len(segs), n-1)
		}
		for i, s := range segs {
			if got := s.Eval(0); got != y[i] {
				t.Errorf("trial %d: segment %d at 0 = %v, want %v", trial, i, got, y[i])
			}
		}
		last := segs[n-2].Eval(x[n-1] - x[n-2])
		if math.Abs(last-y[n-1]) > 1e-6*math.Max(1, math.Abs(y[n-1])) {
			t.Errorf("trial %d: end of last segment = %v, want %v", trial, last, y[n-1])
		}
	}
}

// TestFastAkimaReproducesLine checks a linear function is reproduced exactly
// between knots, including the degenerate-weight branch.
func TestFastAkimaReproducesLine(t *testing.T) {
	x := []float64{0, 0.1, 0.3, 0.4, 0.7, 1.0, 1.2}
	y := make([]float64, len(x))
	for i, v := range x {
		y[i] = 3*v - 2
	}

	segs, err := FastAkima(x, y)
	if err != nil {
		t.Fatalf("FastAkima: %v", err)
	}
	for i, s := range segs {
		h := x[i+1] - x[i]
		for _, f := range []float64{0.25, 0.5, 0.75} {
			o := f * h
			want := 3*(x[i]+o) - 2
			if got := s.Eval(o); math.Abs(got-want) > 1e-12 {
				t.Errorf("segment %d at %v = %v, want %v", i, o, got, want)
			}
		}
		if d := s.Derivative(0.5 * h); math.Abs(d-3) > 1e-9 {
			t.Errorf("segment %d slope = %v, want 3", i, d)
		}
	}
}

func TestFastAkimaErrors(t *testing.T) {
	tests := []struct {
		name string
		x, y []float64
		want error
	}{
		{"too few", []float64{0, 1, 2, 3}, []float64{0, 1, 2, 3}, ErrTooFewSamples},
		{"length mismatch", []float64{0, 1, 2, 3, 4}, []float64{0, 1, 2, 3}, ErrLengthMismatch},
		{"not increasing", []float64{0, 1, 1, 3, 4}, []float64{0, 1, 2, 3, 4}, ErrNotIncreasing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FastAkima(tt.x, tt.y)
			if !errors.Is(err, tt.want) {
				t.Errorf("FastAkima error = %v, want %v", err, tt.want)
			}
		})
	}
}

func decimals(v []float64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(v))
	for i, f := range v {
		out[i] = decimal.NewFromFloat(f)
	}
	return out
}

// TestDecimalIntegralAdditivity verifies Integrate(i,k) == Integrate(i,j)+Integrate(j,k).
func TestDecimalIntegralAdditivity(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	n := 20
	x := make([]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = float64(i) * 0.1
		y[i] = 1500 + 40*math.Sin(float64(i)/3) + rng.Float64()
	}

	s, err := FastAkimaDecimal(decimals(x), decimals(y))
	if err != nil {
		t.Fatalf("FastAkimaDecimal: %v", err)
	}

	for trial := 0; trial < 200; trial++ {
		a, b, c := rng.Intn(n), rng.Intn(n), rng.Intn(n)
		if a > b {
			a, b = b, a
		}
		if b > c {
			b, c = c, b
		}
		if a > b {
			a, b = b, a
		}
		whole := s.Integrate(a, c)
		parts := s.Integrate(a, b).Add(s.Integrate(b, c))
		if !whole.Equal(parts) {
			t.Fatalf("Integrate(%d,%d)=%s, parts sum=%s", a, c, whole, parts)
		}
	}
}

// TestDecimalIntegralOfConstant integrates a constant Doppler and expects
// the exact product of frequency and elapsed time.
func TestDecimalIntegralOfConstant(t *testing.T) {
	x := decimals([]float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6})
	y := make([]decimal.Decimal, len(x))
	for i := range y {
		y[i] = decimal.NewFromFloat(1234.5)
	}

	s, err := FastAkimaDecimal(x, y)
	if err != nil {
		t.Fatalf("FastAkimaDecimal: %v", err)
	}
	got := s.Integrate(0, 6)
	want := decimal.NewFromFloat(740.7)
	if got.Sub(want).Abs().GreaterThan(decimal.New(1, -20)) {
		t.Errorf("Integrate(0,6) = %s, want %s", got, want)
	}
}

// TestDecimalMatchesFloat checks both fits agree on the same data.
func TestDecimalMatchesFloat(t *testing.T) {
	x := []float64{0, 0.5, 1.1, 1.5, 2.2, 3.0, 3.4, 4.1}
	y := []float64{1, 2.5, 2.0, 4.0, 3.1, 0.2, -1.0, 0.5}

	f, err := FastAkima(x, y)
	if err != nil {
		t.Fatal(err)
	}
	d, err := FastAkimaDecimal(decimals(x), decimals(y))
	if err != nil {
		t.Fatal(err)
	}
	for i, seg := range d.Segments {
		h := x[i+1] - x[i]
		for _, o := range []float64{0, 0.3 * h, 0.9 * h} {
			if a, b := f[i].Eval(o), seg.Eval(decimal.NewFromFloat(o)).InexactFloat64(); math.Abs(a-b) > 1e-9 {
				t.Errorf("segment %d at %v: float %v, decimal %v", i, o, a, b)
			}
		}
	}
}
