package transform

import "math"

// DefaultHumidity is the relative humidity used by the standard atmosphere.
const DefaultHumidity = 0.7

// TroposphereDelay returns the slant tropospheric delay in meters from the
// Saastamoinen model with a standard atmosphere. Receivers outside
// [-100 m, 10 km] or targets below the horizon give zero.
func TroposphereDelay(rx Geodetic, elevation, humidity float64) float64 {
	if rx.Alt < -100.0 || rx.Alt > 1e4 || elevation <= 0 {
		return 0
	}

	const temp0 = 15.0 // temperature at sea level, °C
	hgt := math.Max(rx.Alt, 0)

	pres := 1013.25 * math.Pow(1.0-2.2557e-5*hgt, 5.2568)
	temp := temp0 - 6.5e-3*hgt + 273.16
	e := 6.108 * humidity * math.Exp((17.15*temp-4684.0)/(temp-38.45))

	z := math.Pi/2.0 - elevation
	trph := 0.0022768 * pres / (1.0 - 0.00266*math.Cos(2.0*rx.Lat) - 0.00028*hgt/1e3) / math.Cos(z)
	trpw := 0.002277 * (1255.0/temp + 0.05) * e / math.Cos(z)
	return trph + trpw
}
