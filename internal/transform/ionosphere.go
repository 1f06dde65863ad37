package transform

import "math"

// Klobuchar holds the broadcast ionosphere coefficients α0..α3, β0..β3.
type Klobuchar struct {
	Alpha [4]float64
	Beta  [4]float64
}

// DefaultKlobuchar is a mid-activity coefficient set (2004/1/1 broadcast).
var DefaultKlobuchar = Klobuchar{
	Alpha: [4]float64{0.1118e-07, -0.7451e-08, -0.5961e-07, 0.1192e-06},
	Beta:  [4]float64{0.1167e+06, -0.2294e+06, -0.1311e+06, 0.1049e+07},
}

const (
	gpsL1Frequency = 1575.42e6

	// Receivers above the shell see no ionosphere; the delay tapers
	// between these heights.
	ionoTaperStart = 50e3
	ionoShellTop   = 620e3
)

// Delay returns the slant ionospheric group delay in meters at the given
// carrier frequency. secondsOfDay is GPS time of day.
func (k Klobuchar) Delay(rx Geodetic, look LookAngles, frequency, secondsOfDay float64) float64 {
	if rx.Alt < -1e3 || look.Elevation <= 0 || rx.Alt >= ionoShellTop {
		return 0
	}

	const pi = math.Pi
	el := look.Elevation / pi

	// Earth centered angle (semi-circles).
	psi := 0.0137/(el+0.11) - 0.022

	// Sub-ionospheric latitude/longitude (semi-circles).
	phi := rx.Lat/pi + psi*math.Cos(look.Azimuth)
	phi = math.Max(-0.416, math.Min(0.416, phi))
	lam := rx.Lon/pi + psi*math.Sin(look.Azimuth)/math.Cos(phi*pi)

	// Geomagnetic latitude (semi-circles).
	phi += 0.064 * math.Cos((lam-1.617)*pi)

	// Local time, [0, 86400).
	tt := 43200.0*lam + secondsOfDay
	tt -= math.Floor(tt/86400.0) * 86400.0

	// Slant factor.
	f := 1.0 + 16.0*math.Pow(0.53-el, 3.0)

	amp := k.Alpha[0] + phi*(k.Alpha[1]+phi*(k.Alpha[2]+phi*k.Alpha[3]))
	per := k.Beta[0] + phi*(k.Beta[1]+phi*(k.Beta[2]+phi*k.Beta[3]))
	amp = math.Max(amp, 0)
	per = math.Max(per, 72000.0)

	x := 2.0 * pi * (tt - 50400.0) / per
	delay := 5e-9
	if math.Abs(x) < 1.57 {
		x2 := x * x
		delay += amp * (1.0 + x2*(-0.5+x2/24.0))
	}
	delay *= speedOfLight * f

	ratio := gpsL1Frequency / frequency
	return delay * ratio * ratio * ionoTaper(rx.Alt)
}

// ionoTaper blends the delay out as the receiver climbs through the shell.
func ionoTaper(alt float64) float64 {
	switch {
	case alt <= ionoTaperStart:
		return 1
	case alt >= ionoShellTop:
		return 0
	}
	u := (alt - ionoTaperStart) / (ionoShellTop - ionoTaperStart)
	return 0.5 * (1 + math.Cos(math.Pi*u))
}
