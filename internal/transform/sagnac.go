package transform

import (
	"errors"
	"fmt"
	"math"
)

const speedOfLight = 299792458.0

const (
	sagnacTolerance     = 1e-6 // meters
	sagnacMaxIterations = 20
)

// ErrNoConvergence is returned when the light-time iteration does not settle.
var ErrNoConvergence = errors.New("transform: light-time iteration did not converge")

// SatelliteState returns a satellite's ECEF state tau seconds before the
// reception instant, in the ECEF frame of the transmission instant.
type SatelliteState func(tau float64) (State, error)

// LineOfSight is the receiver-to-satellite geometry with Earth rotation
// during signal transit applied. Satellite vectors are expressed in the
// ECEF frame of the reception instant.
type LineOfSight struct {
	Satellite   State
	Vector      Vec3 // satellite minus receiver
	Range       float64
	TransitTime float64 // seconds
	Iterations  int
}

// Unit returns the normalized line-of-sight vector.
func (l LineOfSight) Unit() Vec3 { return l.Vector.Scale(1 / l.Range) }

// EarthRotation applies the Sagnac correction for one Earth rotation rate.
type EarthRotation struct {
	Rate float64 // rad/s
}

// NewEarthRotation returns the correction for rate; zero selects OmegaEarth.
func NewEarthRotation(rate float64) EarthRotation {
	if rate == 0 {
		rate = OmegaEarth
	}
	return EarthRotation{Rate: rate}
}

// SagnacCorrection solves the light-time equation by fixed-point iteration:
// range gives transit time, transit time gives the transmission state, which
// is rotated by ωτ into the reception frame to give a new range. It stops
// once successive ranges differ by less than a micrometre.
func (e EarthRotation) SagnacCorrection(receiver Vec3, sat SatelliteState) (LineOfSight, error) {
	s, err := sat(0)
	if err != nil {
		return LineOfSight{}, err
	}
	rng := s.Position.Sub(receiver).Norm()

	for i := 1; i <= sagnacMaxIterations; i++ {
		tau := rng / speedOfLight
		if s, err = sat(tau); err != nil {
			return LineOfSight{}, err
		}
		rotated := e.Rotate(s, tau)
		los := rotated.Position.Sub(receiver)
		next := los.Norm()
		if math.Abs(next-rng) < sagnacTolerance {
			return LineOfSight{
				Satellite:   rotated,
				Vector:      los,
				Range:       next,
				TransitTime: next / speedOfLight,
				Iterations:  i,
			}, nil
		}
		rng = next
	}
	return LineOfSight{}, fmt.Errorf("%w after %d iterations (range %.3f m)", ErrNoConvergence, sagnacMaxIterations, rng)
}

// Rotate expresses a state given in the ECEF frame of an instant tau
// seconds earlier in the current ECEF frame. The state passes through the
// inertial frame, which the Earth has turned Rate·tau against meanwhile.
func (e EarthRotation) Rotate(s State, tau float64) State {
	return ECIToECEFWithGMST(ECEFToECIWithGMST(s, 0), e.Rate*tau)
}

// RangeRate returns the rate of change of the line-of-sight range using
// inertial velocities, so Earth rotation contributes through both ends.
func (e EarthRotation) RangeRate(receiver State, l LineOfSight) float64 {
	omega := Vec3{Z: e.Rate}
	rx := receiver.Velocity.Add(omega.Cross(receiver.Position))
	sv := l.Satellite.Velocity.Add(omega.Cross(l.Satellite.Position))
	return sv.Sub(rx).Dot(l.Unit())
}
