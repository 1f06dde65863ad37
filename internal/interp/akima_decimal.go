package interp

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// decimalPlaces bounds the fractional digits kept after each product so
// coefficient arithmetic does not grow without limit.
const decimalPlaces = 28

// divPrecision is the precision used for decimal division.
const divPrecision = 32

var (
	decTwo   = decimal.NewFromInt(2)
	decThree = decimal.NewFromInt(3)
	decFour  = decimal.NewFromInt(4)
	decEps   = decimal.New(1, -24)
)

// DecimalCubic is the decimal counterpart of Cubic.
type DecimalCubic struct {
	C0, C1, C2, C3 decimal.Decimal
}

// Eval evaluates the segment at offset o.
func (c DecimalCubic) Eval(o decimal.Decimal) decimal.Decimal {
	r := c.C3.Mul(o).Add(c.C2)
	r = round(r.Mul(o)).Add(c.C1)
	r = round(r.Mul(o)).Add(c.C0)
	return r
}

// integral returns the definite integral of the segment over [0, h].
func (c DecimalCubic) integral(h decimal.Decimal) decimal.Decimal {
	h2 := round(h.Mul(h))
	h3 := round(h2.Mul(h))
	h4 := round(h3.Mul(h))
	sum := c.C0.Mul(h)
	sum = sum.Add(div(c.C1.Mul(h2), decTwo))
	sum = sum.Add(div(c.C2.Mul(h3), decThree))
	sum = sum.Add(div(c.C3.Mul(h4), decFour))
	return round(sum)
}

// DecimalSpline is an Akima spline computed in decimal arithmetic, with
// the indefinite integral tabulated at every knot.
type DecimalSpline struct {
	Positions []decimal.Decimal
	Segments  []DecimalCubic
	integrals []decimal.Decimal
}

// FastAkimaDecimal fits an Akima spline in decimal precision. It exists for
// Doppler-to-phase integration, where float64 rounding would accumulate into
// visible carrier phase drift over long runs.
func FastAkimaDecimal(x, y []decimal.Decimal) (*DecimalSpline, error) {
	if err := validate(len(x), len(y)); err != nil {
		return nil, err
	}
	n := len(x)
	for i := 1; i < n; i++ {
		if x[i].Cmp(x[i-1]) <= 0 {
			return nil, fmt.Errorf("%w: x[%d]=%s, x[%d]=%s", ErrNotIncreasing, i-1, x[i-1], i, x[i])
		}
	}

	m := make([]decimal.Decimal, n-1)
	for i := 0; i < n-1; i++ {
		m[i] = div(y[i+1].Sub(y[i]), x[i+1].Sub(x[i]))
	}

	w := make([]decimal.Decimal, n-1)
	w[0] = decimal.Zero
	for i := 1; i < n-1; i++ {
		w[i] = m[i].Sub(m[i-1]).Abs()
	}

	d := make([]decimal.Decimal, n)
	for i := 2; i < n-2; i++ {
		wP, wM := w[i+1], w[i-1]
		if wP.Cmp(decEps) < 0 && wM.Cmp(decEps) < 0 {
			num := x[i+1].Sub(x[i]).Mul(m[i-1]).Add(x[i].Sub(x[i-1]).Mul(m[i]))
			d[i] = div(num, x[i+1].Sub(x[i-1]))
			continue
		}
		d[i] = div(wP.Mul(m[i-1]).Add(wM.Mul(m[i])), wP.Add(wM))
	}
	d[0] = threePointDecimal(x, y, 0, 0, 1, 2)
	d[1] = threePointDecimal(x, y, 1, 0, 1, 2)
	d[n-2] = threePointDecimal(x, y, n-2, n-3, n-2, n-1)
	d[n-1] = threePointDecimal(x, y, n-1, n-3, n-2, n-1)

	s := &DecimalSpline{
		Positions: x,
		Segments:  make([]DecimalCubic, n-1),
		integrals: make([]decimal.Decimal, n),
	}
	s.integrals[0] = decimal.Zero
	for i := 0; i < n-1; i++ {
		h := x[i+1].Sub(x[i])
		c := DecimalCubic{
			C0: y[i],
			C1: d[i],
			C2: div(m[i].Mul(decThree).Sub(d[i].Mul(decTwo)).Sub(d[i+1]), h),
			C3: div(d[i].Add(d[i+1]).Sub(m[i].Mul(decTwo)), round(h.Mul(h))),
		}
		s.Segments[i] = c
		s.integrals[i+1] = s.integrals[i].Add(c.integral(h))
	}
	return s, nil
}

// Integrate returns the definite integral between knots from and to.
// Integrate(i, k) == Integrate(i, j) + Integrate(j, k) holds exactly.
func (s *DecimalSpline) Integrate(from, to int) decimal.Decimal {
	return s.integrals[to].Sub(s.integrals[from])
}

func threePointDecimal(x, y []decimal.Decimal, t, i0, i1, i2 int) decimal.Decimal {
	y0, y1, y2 := y[i0], y[i1], y[i2]
	tt := x[t].Sub(x[i0])
	t1 := x[i1].Sub(x[i0])
	t2 := x[i2].Sub(x[i0])
	a := div(y2.Sub(y0).Sub(div(t2, t1).Mul(y1.Sub(y0))), t2.Mul(t2).Sub(t1.Mul(t2)))
	b := div(y1.Sub(y0).Sub(a.Mul(t1).Mul(t1)), t1)
	return round(decTwo.Mul(a).Mul(tt).Add(b))
}

func div(a, b decimal.Decimal) decimal.Decimal {
	return a.DivRound(b, divPrecision)
}

func round(d decimal.Decimal) decimal.Decimal {
	return d.Round(decimalPlaces)
}
