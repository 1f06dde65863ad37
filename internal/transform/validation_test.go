package transform

import (
	"math"
	"testing"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

// TestJulianDate verifies our Julian Date calculation against known values.
func TestJulianDate(t *testing.T) {
	tests := []struct {
		name     string
		time     time.Time
		expected float64
	}{
		{
			name:     "J2000.0 epoch",
			time:     time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC),
			expected: 2451545.0,
		},
		{
			name:     "Unix epoch",
			time:     time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC),
			expected: 2440587.5,
		},
		{
			// Vallado Example 3-15: April 6, 2004, 07:51:28.386 UTC
			name:     "Vallado example date",
			time:     time.Date(2004, 4, 6, 7, 51, 28, 386009000, time.UTC),
			expected: 2453101.827411875,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := JulianDate(tt.time)
			diff := math.Abs(got - tt.expected)
			if diff > 1e-6 {
				t.Errorf("JulianDate(%v) = %.10f, want %.10f (diff=%.2e)", tt.time, got, tt.expected, diff)
			}
		})
	}
}

// TestGMST validates our GMST calculation against the go-satellite library's
// GSTimeFromDate function, which uses the same IAU-82 model.
func TestGMST(t *testing.T) {
	tests := []struct {
		name string
		time time.Time
	}{
		{
			name: "J2000.0 epoch",
			time: time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			name: "Vallado example date",
			time: time.Date(2004, 4, 6, 7, 51, 28, 0, time.UTC), // integer seconds for library compat
		},
		{
			name: "recent date 2026",
			time: time.Date(2026, 2, 6, 4, 1, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			our := GMST(tt.time)
			// go-satellite's GSTimeFromDate returns GMST in radians.
			ref := satellite.GSTimeFromDate(
				tt.time.Year(), int(tt.time.Month()), tt.time.Day(),
				tt.time.Hour(), tt.time.Minute(), tt.time.Second(),
			)

			diff := math.Abs(our - ref)
			// Allow small difference for float precision; 1e-8 radians ≈ 0.06 arcsec.
			if diff > 1e-8 {
				t.Errorf("GMST(%v) = %.12f rad, go-satellite = %.12f rad (diff=%.2e)", tt.time, our, ref, diff)
			}
		})
	}
}

// TestECIToECEF validates the ECI→ECEF rotation against go-satellite's
// ECIToECEF using the same GMST. Both use a GMST-only rotation, so they
// should agree to floating point precision.
func TestECIToECEF(t *testing.T) {
	tests := []struct {
		name string
		eci  Vec3 // meters
		time time.Time
	}{
		{
			// Vallado Example 3-15 position, scaled to meters.
			name: "Vallado example 3-15",
			eci:  Vec3{X: 5094180.16, Y: 6127644.65, Z: 6380344.53},
			time: time.Date(2004, 4, 6, 7, 51, 28, 0, time.UTC),
		},
		{
			name: "GPS MEO",
			eci:  Vec3{X: 26560e3, Y: 0, Z: 0},
			time: time.Date(2026, 2, 6, 12, 0, 0, 0, time.UTC),
		},
		{
			name: "inclined GEO",
			eci:  Vec3{X: 0, Y: 36000e3, Z: 21000e3},
			time: time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gmst := satellite.GSTimeFromDate(
				tt.time.Year(), int(tt.time.Month()), tt.time.Day(),
				tt.time.Hour(), tt.time.Minute(), tt.time.Second(),
			)

			ours := ECIToECEFWithGMST(State{Position: tt.eci}, gmst).Position

			// go-satellite works in km.
			ref := satellite.ECIToECEF(
				satellite.Vector3{X: tt.eci.X / 1000, Y: tt.eci.Y / 1000, Z: tt.eci.Z / 1000},
				gmst,
			)

			const tolerance = 1.0 // meter
			diff := ours.Sub(Vec3{X: ref.X * 1000, Y: ref.Y * 1000, Z: ref.Z * 1000})
			if math.Abs(diff.X) > tolerance || math.Abs(diff.Y) > tolerance || math.Abs(diff.Z) > tolerance {
				t.Errorf("position mismatch: ours %+v, ref %+v (diff %+v)", ours, ref, diff)
			}

			if !ValidateECEF(ours) {
				t.Errorf("ECEF position failed validation: %+v", ours)
			}
		})
	}
}

// TestECEFECIRoundTrip checks that the inertial velocity term cancels.
func TestECEFECIRoundTrip(t *testing.T) {
	s := State{
		Position: Vec3{X: 15600e3, Y: 7540e3, Z: 20140e3},
		Velocity: Vec3{X: -2100, Y: 2400, Z: 700},
	}
	gmst := 1.234
	back := ECIToECEFWithGMST(ECEFToECIWithGMST(s, gmst), gmst)
	if d := back.Position.Sub(s.Position).Norm(); d > 1e-6 {
		t.Errorf("position round trip error %.3e m", d)
	}
	if d := back.Velocity.Sub(s.Velocity).Norm(); d > 1e-9 {
		t.Errorf("velocity round trip error %.3e m/s", d)
	}
}

// TestECEFToECIVelocity verifies the velocity transform includes Earth rotation.
func TestECEFToECIVelocity(t *testing.T) {
	// A point fixed on the equator at GMST = 0 moves east at ω*R inertially.
	s := State{Position: Vec3{X: 6378137.0}}
	eci := ECEFToECIWithGMST(s, 0)

	want := OmegaEarth * 6378137.0
	if math.Abs(eci.Velocity.Y-want) > 1e-9 {
		t.Errorf("VY: got %.6f m/s, want %.6f m/s", eci.Velocity.Y, want)
	}
}

// TestValidateECEF tests the ECEF position validation function.
func TestValidateECEF(t *testing.T) {
	tests := []struct {
		name  string
		pos   Vec3
		valid bool
	}{
		{"MEO", Vec3{X: 26560000}, true},
		{"GEO", Vec3{X: 42164000}, true},
		{"too low", Vec3{X: 5000000}, false},
		{"too high", Vec3{X: 60000000}, false},
		{"NaN", Vec3{X: math.NaN()}, false},
		{"Inf", Vec3{X: math.Inf(1)}, false},
		{"zero", Vec3{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateECEF(tt.pos); got != tt.valid {
				t.Errorf("ValidateECEF(%v) = %v, want %v", tt.pos, got, tt.valid)
			}
		})
	}
}
