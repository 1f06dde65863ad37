// Package almanac turns broadcast almanac elements into time-tagged
// ephemeris and almanac snapshots and evaluates satellite positions.
package almanac

import (
	"fmt"
	"math"
	"time"

	"github.com/star/gnsssynth/internal/gnss"
)

// OrbitType distinguishes orbit classes that need different handling.
type OrbitType int

const (
	MEO OrbitType = iota
	IGSO
	GEO
)

func (o OrbitType) String() string {
	switch o {
	case MEO:
		return "MEO"
	case IGSO:
		return "IGSO"
	case GEO:
		return "GEO"
	}
	return fmt.Sprintf("OrbitType(%d)", int(o))
}

// geosyncSqrtA is the square root of the geosynchronous semi-major axis.
const geosyncSqrtA = 6493.4

// ClassifyOrbit infers the orbit class from the semi-major axis and
// inclination (radians).
func ClassifyOrbit(sqrtA, inclination float64) OrbitType {
	if math.Abs(sqrtA-geosyncSqrtA) > 100 {
		return MEO
	}
	if math.Abs(inclination) < 10*math.Pi/180 {
		return GEO
	}
	return IGSO
}

// Satellite holds the Keplerian state of one satellite at a reference
// epoch. All angles are radians; LongitudeOfAscendingNode is referenced to
// the start of Week.
type Satellite struct {
	Constellation gnss.Constellation
	ID            int // PRN or slot, 1..gnss.MaxSatellites
	OrbitType     OrbitType
	IsHealthy     bool
	IsEnabled     bool

	Week                int
	TimeOfApplicability float64 // seconds of week

	SqrtA                    float64
	Eccentricity             float64
	Inclination              float64
	LongitudeOfAscendingNode float64
	ArgumentOfPerigee        float64
	MeanAnomaly              float64
	MeanMotionDifference     float64
	RateOfInclination        float64
	RateOfRightAscension     float64

	A0, A1, A2 float64 // clock bias s, drift s/s, drift rate s/s²

	FrequencyChannel int // GLONASS FDMA channel number

	// TransmissionInterval is the window in which these elements are valid.
	TransmissionInterval gnss.Interval

	// geoFrame marks elements expressed in the BeiDou GEO tilted frame.
	geoFrame bool
}

// Index returns the zero-based slot used by the satellite arrays.
func (s *Satellite) Index() int { return s.ID - 1 }

// Epoch returns the reference time of the elements.
func (s *Satellite) Epoch() time.Time {
	return gnss.FromWeekSeconds(s.Week, s.TimeOfApplicability)
}

// IsGeoFrame reports whether the elements use the GEO tilted frame.
func (s *Satellite) IsGeoFrame() bool { return s.geoFrame }

// Clone returns a deep copy.
func (s *Satellite) Clone() *Satellite {
	c := *s
	return &c
}

func (s *Satellite) String() string {
	return fmt.Sprintf("%s %02d", s.Constellation, s.ID)
}

// MeanMotion returns n = sqrt(GM)/a^1.5 + Δn, rad/s.
func (s *Satellite) MeanMotion() float64 {
	a := s.SqrtA * s.SqrtA
	return math.Sqrt(s.Constellation.Params().GM)/(a*s.SqrtA) + s.MeanMotionDifference
}

// Propagate moves the reference epoch to t: mean anomaly advances by n·Δt,
// the node is re-referenced to t's week start, and the clock polynomial is
// re-expanded about t.
func (s *Satellite) Propagate(t time.Time) {
	from := s.Epoch()
	dt := t.Sub(from).Seconds()
	if dt == 0 {
		return
	}
	week, sow := gnss.WeekAndSeconds(t)
	weekShift := gnss.WeekStart(t).Sub(gnss.WeekStart(from)).Seconds()
	we := s.Constellation.Params().EarthRotationRate

	s.MeanAnomaly = wrapPi(s.MeanAnomaly + s.MeanMotion()*dt)
	s.Inclination += s.RateOfInclination * dt
	s.LongitudeOfAscendingNode = wrapPi(s.LongitudeOfAscendingNode + s.RateOfRightAscension*dt - we*weekShift)

	s.A0 += s.A1*dt + s.A2*dt*dt
	s.A1 += 2 * s.A2 * dt

	s.Week = week
	s.TimeOfApplicability = sow
}

// ClockBias returns the satellite clock offset at t, seconds.
func (s *Satellite) ClockBias(t time.Time) float64 {
	dt := t.Sub(s.Epoch()).Seconds()
	return s.A0 + dt*(s.A1+dt*s.A2)
}

// ClockDrift returns the satellite clock drift at t, s/s.
func (s *Satellite) ClockDrift(t time.Time) float64 {
	dt := t.Sub(s.Epoch()).Seconds()
	return s.A1 + 2*s.A2*dt
}

// wrapPi wraps an angle to [-π, π).
func wrapPi(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}
