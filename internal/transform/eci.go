// Package transform provides the geometry used by the observation layer:
// vectors, geodetic conversion, topocentric look angles, the ECEF/ECI
// rotation, Earth-rotation (Sagnac) correction and atmospheric delays.
//
// ECEF/ECI uses a GMST-only rotation (no nutation or polar motion). The
// error is irrelevant here because every range is formed between two
// vectors rotated by the same angle.
//
// Reference: Vallado, "Fundamentals of Astrodynamics and Applications", Ch. 3.
package transform

import (
	"math"
	"time"
)

// State is a position/velocity pair in one frame, meters and m/s.
type State struct {
	Position Vec3
	Velocity Vec3
}

// ECEFToECI rotates an Earth-fixed state into the inertial frame at time t.
func ECEFToECI(s State, t time.Time) State {
	return ECEFToECIWithGMST(s, GMST(t))
}

// ECEFToECIWithGMST rotates an Earth-fixed state into the inertial frame
// using a precomputed GMST angle (radians).
//
// Position: r_ECI = R3(-θ) * r_ECEF
// Velocity: v_ECI = R3(-θ) * (v_ECEF + ω × r_ECEF)
func ECEFToECIWithGMST(s State, gmst float64) State {
	// ω × r = [-ω*y, ω*x, 0]
	v := Vec3{
		X: s.Velocity.X - OmegaEarth*s.Position.Y,
		Y: s.Velocity.Y + OmegaEarth*s.Position.X,
		Z: s.Velocity.Z,
	}
	return State{
		Position: s.Position.RotateZ(-gmst),
		Velocity: v.RotateZ(-gmst),
	}
}

// ECIToECEFWithGMST is the inverse of ECEFToECIWithGMST.
//
// Position: r_ECEF = R3(θ) * r_ECI
// Velocity: v_ECEF = R3(θ) * v_ECI - ω × r_ECEF
func ECIToECEFWithGMST(s State, gmst float64) State {
	p := s.Position.RotateZ(gmst)
	v := s.Velocity.RotateZ(gmst)
	return State{
		Position: p,
		Velocity: Vec3{
			X: v.X + OmegaEarth*p.Y,
			Y: v.Y - OmegaEarth*p.X,
			Z: v.Z,
		},
	}
}

// ValidateECEF checks that an ECEF position is physically reasonable for a
// navigation satellite. Returns true if valid.
func ValidateECEF(pos Vec3) bool {
	if !pos.IsFinite() {
		return false
	}

	mag := pos.Norm()

	// MEO is ~26600km, IGSO/GEO ~42164km.
	// Allow generous range: 6200km to 50000km (in meters).
	const minRadius = 6200.0 * 1000.0
	const maxRadius = 50000.0 * 1000.0

	return mag >= minRadius && mag <= maxRadius
}

// normalizeAngle wraps an angle to [0, 2π).
func normalizeAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a
}
