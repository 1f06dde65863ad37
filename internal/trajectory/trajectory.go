// Package trajectory supplies receiver position, velocity and time samples.
package trajectory

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/star/gnsssynth/internal/gnss"
	"github.com/star/gnsssynth/internal/interp"
	"github.com/star/gnsssynth/internal/transform"
)

// Pvt is one receiver sample in ECEF.
type Pvt struct {
	Time     time.Time
	Position transform.Vec3
	Velocity transform.Vec3
}

// State returns the position and velocity pair.
func (p Pvt) State() transform.State {
	return transform.State{Position: p.Position, Velocity: p.Velocity}
}

// Trajectory yields samples at a fixed rate. Samples covers iv at instants
// iv.Start + k/rate for k = 0 .. ceil(duration*rate), so the last sample is
// at or after iv.End. A nil slice with nil error means the trajectory has no
// data for iv.
type Trajectory interface {
	Samples(iv gnss.Interval, rate float64) ([]Pvt, error)
}

// ErrInvalidRate is returned for non-positive sample rates.
var ErrInvalidRate = errors.New("trajectory: sample rate must be positive")

// SampleTimes lists the sample instants of iv at rate.
func SampleTimes(iv gnss.Interval, rate float64) ([]time.Time, error) {
	if !(rate > 0) {
		return nil, ErrInvalidRate
	}
	n := int(math.Ceil(iv.Duration().Seconds()*rate-1e-9)) + 1
	if n < 1 {
		n = 1
	}
	times := make([]time.Time, n)
	for k := range times {
		times[k] = iv.Start.Add(time.Duration(float64(k) / rate * float64(time.Second)))
	}
	return times, nil
}

// Static is a receiver at a fixed ECEF position.
type Static struct {
	Position transform.Vec3
}

// NewStatic places a static receiver at a geodetic position.
func NewStatic(g transform.Geodetic) Static {
	return Static{Position: g.ECEF()}
}

// Samples implements Trajectory.
func (s Static) Samples(iv gnss.Interval, rate float64) ([]Pvt, error) {
	times, err := SampleTimes(iv, rate)
	if err != nil {
		return nil, err
	}
	out := make([]Pvt, len(times))
	for i, t := range times {
		out[i] = Pvt{Time: t, Position: s.Position}
	}
	return out, nil
}

// Recorded interpolates a list of timed positions with Akima splines and
// extrapolates linearly beyond the first and last records.
type Recorded struct {
	origin time.Time
	times  []float64
	axes   [3][]interp.Cubic
	first  Pvt
	last   Pvt
}

// NewRecorded fits splines through points, which must be in strictly
// increasing time order. Velocities of the points are ignored and derived
// from the fit.
func NewRecorded(points []Pvt) (*Recorded, error) {
	if len(points) < interp.MinSamples {
		return nil, fmt.Errorf("recorded trajectory: %w", interp.ErrTooFewSamples)
	}
	r := &Recorded{
		origin: points[0].Time,
		times:  make([]float64, len(points)),
	}
	var ys [3][]float64
	for a := range ys {
		ys[a] = make([]float64, len(points))
	}
	for i, p := range points {
		r.times[i] = p.Time.Sub(r.origin).Seconds()
		ys[0][i], ys[1][i], ys[2][i] = p.Position.X, p.Position.Y, p.Position.Z
	}
	for a := range ys {
		seg, err := interp.FastAkima(r.times, ys[a])
		if err != nil {
			return nil, fmt.Errorf("recorded trajectory: %w", err)
		}
		r.axes[a] = seg
	}

	n := len(points)
	r.first = Pvt{Time: points[0].Time, Position: points[0].Position, Velocity: r.velocity(0, 0)}
	h := r.times[n-1] - r.times[n-2]
	r.last = Pvt{Time: points[n-1].Time, Position: points[n-1].Position, Velocity: r.velocity(n-2, h)}
	return r, nil
}

// Span returns the recorded time range.
func (r *Recorded) Span() gnss.Interval {
	return gnss.Interval{Start: r.first.Time, End: r.last.Time}
}

func (r *Recorded) velocity(seg int, o float64) transform.Vec3 {
	return transform.Vec3{
		X: r.axes[0][seg].Derivative(o),
		Y: r.axes[1][seg].Derivative(o),
		Z: r.axes[2][seg].Derivative(o),
	}
}

// At returns the interpolated or extrapolated sample at t.
func (r *Recorded) At(t time.Time) Pvt {
	x := t.Sub(r.origin).Seconds()
	n := len(r.times)
	switch {
	case x < 0:
		return extrapolate(r.first, t)
	case x >= r.times[n-1]:
		return extrapolate(r.last, t)
	}

	seg := searchSegment(r.times, x)
	o := x - r.times[seg]
	return Pvt{
		Time: t,
		Position: transform.Vec3{
			X: r.axes[0][seg].Eval(o),
			Y: r.axes[1][seg].Eval(o),
			Z: r.axes[2][seg].Eval(o),
		},
		Velocity: r.velocity(seg, o),
	}
}

// Samples implements Trajectory.
func (r *Recorded) Samples(iv gnss.Interval, rate float64) ([]Pvt, error) {
	times, err := SampleTimes(iv, rate)
	if err != nil {
		return nil, err
	}
	out := make([]Pvt, len(times))
	for i, t := range times {
		out[i] = r.At(t)
	}
	return out, nil
}

func extrapolate(edge Pvt, t time.Time) Pvt {
	dt := t.Sub(edge.Time).Seconds()
	return Pvt{Time: t, Position: edge.Position.Add(edge.Velocity.Scale(dt)), Velocity: edge.Velocity}
}

// searchSegment returns i with times[i] <= x < times[i+1].
func searchSegment(times []float64, x float64) int {
	lo, hi := 0, len(times)-2
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if times[mid] <= x {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}
