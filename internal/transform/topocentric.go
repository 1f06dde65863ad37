package transform

import "math"

// WGS-84 ellipsoid parameters.
const (
	wgs84A  = 6378137.0             // semi-major axis (meters)
	wgs84F  = 1.0 / 298.257223563   // flattening
	wgs84E2 = wgs84F * (2 - wgs84F) // first eccentricity squared
)

// EarthRadius is the WGS-84 semi-major axis in meters.
const EarthRadius = wgs84A

// Geodetic is a WGS-84 position: latitude and longitude in radians,
// altitude in meters above the ellipsoid.
type Geodetic struct {
	Lat, Lon, Alt float64
}

// GeodeticDeg builds a Geodetic from degrees.
func GeodeticDeg(latDeg, lonDeg, altM float64) Geodetic {
	return Geodetic{Lat: latDeg * math.Pi / 180.0, Lon: lonDeg * math.Pi / 180.0, Alt: altM}
}

// ECEF converts the geodetic position to ECEF meters.
func (g Geodetic) ECEF() Vec3 {
	sinLat, cosLat := math.Sincos(g.Lat)
	sinLon, cosLon := math.Sincos(g.Lon)

	// Radius of curvature in the prime vertical.
	N := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	return Vec3{
		X: (N + g.Alt) * cosLat * cosLon,
		Y: (N + g.Alt) * cosLat * sinLon,
		Z: (N*(1-wgs84E2) + g.Alt) * sinLat,
	}
}

// ECEFToGeodetic converts ECEF coordinates (meters) to geodetic coordinates
// using the iterative Bowring method. Converges in 2-3 iterations for Earth orbits.
func ECEFToGeodetic(v Vec3) Geodetic {
	lon := math.Atan2(v.Y, v.X)

	p := math.Hypot(v.X, v.Y)

	// Initial estimate using Bowring's method.
	lat := math.Atan2(v.Z, p*(1-wgs84E2))

	for i := 0; i < 5; i++ {
		sinLat := math.Sin(lat)
		N := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
		lat = math.Atan2(v.Z+wgs84E2*N*sinLat, p)
	}

	sinLat, cosLat := math.Sincos(lat)
	N := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	var alt float64
	if math.Abs(cosLat) > 1e-10 {
		alt = p/cosLat - N
	} else {
		alt = math.Abs(v.Z)/math.Abs(sinLat) - N*(1-wgs84E2)
	}

	return Geodetic{Lat: lat, Lon: lon, Alt: alt}
}

// Observer holds a receiver location in both geodetic and ECEF frames with
// the topocentric rotation precomputed, so many satellites can be looked up
// from one position.
type Observer struct {
	Geodetic Geodetic
	ECEF     Vec3

	sinLat, cosLat, sinLon, cosLon float64
}

// NewObserver creates an Observer from an ECEF position.
func NewObserver(ecef Vec3) Observer {
	return newObserver(ECEFToGeodetic(ecef), ecef)
}

// NewObserverGeodetic creates an Observer from a geodetic position.
func NewObserverGeodetic(g Geodetic) Observer {
	return newObserver(g, g.ECEF())
}

func newObserver(g Geodetic, ecef Vec3) Observer {
	o := Observer{Geodetic: g, ECEF: ecef}
	o.sinLat, o.cosLat = math.Sincos(g.Lat)
	o.sinLon, o.cosLon = math.Sincos(g.Lon)
	return o
}

// LookAngles holds azimuth, elevation (radians) and range (meters) from an
// observer to a target.
type LookAngles struct {
	Azimuth   float64 // 0 = North, clockwise, [0, 2π)
	Elevation float64 // 0 = horizon, π/2 = zenith
	Range     float64
}

// Look computes azimuth, elevation, and range from the observer to a target
// given in ECEF meters.
//
// Uses the SEZ (South-East-Zenith) topocentric rotation per Vallado Section 4.4.
func (o Observer) Look(target Vec3) LookAngles {
	r := target.Sub(o.ECEF)

	// Rotate ECEF range vector to SEZ (South, East, Zenith).
	south := o.sinLat*o.cosLon*r.X + o.sinLat*o.sinLon*r.Y - o.cosLat*r.Z
	east := -o.sinLon*r.X + o.cosLon*r.Y
	zenith := o.cosLat*o.cosLon*r.X + o.cosLat*o.sinLon*r.Y + o.sinLat*r.Z

	rangeMag := math.Sqrt(south*south + east*east + zenith*zenith)
	if rangeMag == 0 {
		return LookAngles{Elevation: math.Pi / 2}
	}

	el := math.Asin(zenith / rangeMag)

	// In SEZ, North = -South direction, so az = atan2(east, -south).
	az := math.Atan2(east, -south)
	if az < 0 {
		az += 2 * math.Pi
	}

	return LookAngles{Azimuth: az, Elevation: el, Range: rangeMag}
}

// TrueHorizon returns the elevation of the geometric horizon seen from
// altitude h: asin(R/(R+h)) - π/2. It is zero at sea level and negative above.
func TrueHorizon(altM float64) float64 {
	if altM <= 0 {
		return 0
	}
	return math.Asin(EarthRadius/(EarthRadius+altM)) - math.Pi/2
}
