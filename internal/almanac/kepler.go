package almanac

import (
	"math"
	"time"

	"github.com/star/gnsssynth/internal/transform"
)

const (
	keplerTolerance     = 1e-15
	keplerMaxIterations = 30
)

// BeiDou GEO ephemerides are expressed in a frame tilted by -5° about X.
const (
	sinTilt = 0.0871557427476582 // sin(π/36)
	cosTilt = 0.9961946980917456 // cos(π/36)
)

// InverseKepler solves Kepler's equation M = E - e·sin(E) for the eccentric
// anomaly E by Newton iteration. M is wrapped to [-π, π) first, so E is
// returned in the same revolution.
func InverseKepler(meanAnomaly, eccentricity float64) float64 {
	meanAnomaly = wrapPi(meanAnomaly)
	e := meanAnomaly
	if eccentricity > 0.8 {
		e = math.Copysign(math.Pi, meanAnomaly)
	}
	for i := 0; i < keplerMaxIterations; i++ {
		sinE, cosE := math.Sincos(e)
		step := (e - eccentricity*sinE - meanAnomaly) / (1 - eccentricity*cosE)
		e -= step
		if math.Abs(step) < keplerTolerance {
			break
		}
	}
	return e
}

// GetEcef returns the ECEF position (m) and velocity (m/s) at t. The
// velocity is computed analytically from the perifocal rates.
func (s *Satellite) GetEcef(t time.Time) (transform.Vec3, transform.Vec3) {
	return s.GetEcefOffset(t, 0)
}

// GetEcefOffset is GetEcef at t + dt seconds, for offsets finer than a
// nanosecond.
func (s *Satellite) GetEcefOffset(t time.Time, dt float64) (transform.Vec3, transform.Vec3) {
	p := s.Constellation.Params()
	tk := t.Sub(s.Epoch()).Seconds() + dt

	a := s.SqrtA * s.SqrtA
	e := s.Eccentricity
	n := s.MeanMotion()

	E := InverseKepler(s.MeanAnomaly+n*tk, e)
	sinE, cosE := math.Sincos(E)
	oneMinusECosE := 1 - e*cosE
	sqrt1e2 := math.Sqrt(1 - e*e)

	nu := math.Atan2(sqrt1e2*sinE, cosE-e)
	u := nu + s.ArgumentOfPerigee
	r := a * oneMinusECosE
	inc := s.Inclination + s.RateOfInclination*tk

	eDot := n / oneMinusECosE
	nuDot := eDot * sqrt1e2 / oneMinusECosE
	rDot := a * e * sinE * eDot

	sinU, cosU := math.Sincos(u)
	x := r * cosU
	y := r * sinU
	xDot := rDot*cosU - r*nuDot*sinU
	yDot := rDot*sinU + r*nuDot*cosU

	nodeRate := s.RateOfRightAscension
	if !s.geoFrame {
		nodeRate -= p.EarthRotationRate
	}
	omega := s.LongitudeOfAscendingNode + nodeRate*tk - p.EarthRotationRate*s.TimeOfApplicability

	pos, vel := orbitToFrame(x, y, xDot, yDot, inc, s.RateOfInclination, omega, nodeRate)
	if !s.geoFrame {
		return pos, vel
	}
	return tiltedToEcef(pos, vel, p.EarthRotationRate*tk, p.EarthRotationRate)
}

// orbitToFrame rotates orbital-plane coordinates by the inclination and node.
func orbitToFrame(x, y, xDot, yDot, inc, incRate, omega, omegaRate float64) (transform.Vec3, transform.Vec3) {
	sinI, cosI := math.Sincos(inc)
	sinO, cosO := math.Sincos(omega)

	pos := transform.Vec3{
		X: x*cosO - y*cosI*sinO,
		Y: x*sinO + y*cosI*cosO,
		Z: y * sinI,
	}
	vel := transform.Vec3{
		X: xDot*cosO - yDot*cosI*sinO + y*sinI*sinO*incRate - pos.Y*omegaRate,
		Y: xDot*sinO + yDot*cosI*cosO - y*sinI*cosO*incRate + pos.X*omegaRate,
		Z: yDot*sinI + y*cosI*incRate,
	}
	return pos, vel
}

// tiltedToEcef applies Rz(ωe·tk)·Rx(-5°) to a GEO position and velocity.
func tiltedToEcef(gk, gkDot transform.Vec3, phi, rate float64) (transform.Vec3, transform.Vec3) {
	tilt := func(v transform.Vec3) transform.Vec3 {
		return transform.Vec3{
			X: v.X,
			Y: cosTilt*v.Y - sinTilt*v.Z,
			Z: sinTilt*v.Y + cosTilt*v.Z,
		}
	}
	pos := tilt(gk).RotateZ(phi)
	vel := tilt(gkDot).RotateZ(phi)
	// Rate of the Rz rotation itself.
	vel.X += rate * pos.Y
	vel.Y -= rate * pos.X
	return pos, vel
}

// toGeoFrame re-expresses the elements in the GEO tilted frame so that
// GetEcef through the tilted transform reproduces the untilted orbit at the
// reference epoch. The orbit normal and the perigee direction are rotated by
// Rx(+5°) and the node, inclination and argument of perigee are recovered
// from the rotated vectors.
func (s *Satellite) toGeoFrame() {
	if s.geoFrame {
		return
	}
	we := s.Constellation.Params().EarthRotationRate
	node := s.LongitudeOfAscendingNode - we*s.TimeOfApplicability

	sinI, cosI := math.Sincos(s.Inclination)
	sinO, cosO := math.Sincos(node)
	sinW, cosW := math.Sincos(s.ArgumentOfPerigee)

	normal := transform.Vec3{X: sinO * sinI, Y: -cosO * sinI, Z: cosI}
	perigee := transform.Vec3{
		X: cosO*cosW - sinO*sinW*cosI,
		Y: sinO*cosW + cosO*sinW*cosI,
		Z: sinW * sinI,
	}

	untilt := func(v transform.Vec3) transform.Vec3 {
		return transform.Vec3{
			X: v.X,
			Y: cosTilt*v.Y + sinTilt*v.Z,
			Z: -sinTilt*v.Y + cosTilt*v.Z,
		}
	}
	normal = untilt(normal)
	perigee = untilt(perigee)

	inc := math.Acos(math.Max(-1, math.Min(1, normal.Z)))
	geoNode := math.Atan2(normal.X, -normal.Y)
	nodeDir := transform.Vec3{X: math.Cos(geoNode), Y: math.Sin(geoNode)}
	argPerigee := math.Atan2(perigee.Dot(normal.Cross(nodeDir)), perigee.Dot(nodeDir))

	s.Inclination = inc
	s.LongitudeOfAscendingNode = wrapPi(geoNode + we*s.TimeOfApplicability)
	s.ArgumentOfPerigee = argPerigee
	s.geoFrame = true
}
