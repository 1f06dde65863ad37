package transform

import (
	"math"
	"time"
)

// OmegaEarth is Earth's rotation rate in rad/s (IAU value).
const OmegaEarth = 7.292115146706979e-5

const (
	// julianUnixEpoch is the Julian Date of 1970-01-01T00:00:00Z and
	// julianJ2000 that of J2000.0, with UTC standing in for TT.
	julianUnixEpoch = 2440587.5
	julianJ2000     = 2451545.0
	secondsPerDay   = 86400.0
	daysPerCentury  = 36525.0
)

// JulianDate returns the Julian Date of t, counted from the Unix epoch.
func JulianDate(t time.Time) float64 {
	sec := t.Unix()
	days := float64(sec / secondsPerDay)
	rest := float64(sec%secondsPerDay) + float64(t.Nanosecond())/1e9
	return julianUnixEpoch + days + rest/secondsPerDay
}

// GMST returns the Greenwich mean sidereal angle at t in radians, from the
// IAU-82 polynomial in Julian centuries since J2000.0. Simulation instants
// are GPS time and no UT1 offset is applied: the inertial frame it defines
// is shifted by a constant angle, which cancels in every range.
func GMST(t time.Time) float64 {
	c := (JulianDate(t) - julianJ2000) / daysPerCentury
	sec := 67310.54841 + (876600*3600+8640184.812866)*c + 0.093104*c*c - 6.2e-6*c*c*c
	return normalizeAngle(sec / secondsPerDay * 2 * math.Pi)
}
