// Package gnss holds the constellation and signal catalogue shared by the
// propagator, the observation layer and the generator.
package gnss

import (
	"fmt"
	"strings"
	"time"
)

// SpeedOfLight in vacuum, m/s.
const SpeedOfLight = 299792458.0

// MaxSatellites is the number of PRN/slot indices a constellation may use.
const MaxSatellites = 50

// Constellation identifies a satellite system.
type Constellation int

const (
	GPS Constellation = iota
	GLONASS
	BeiDou
	Galileo
	NavIC
)

// Constellations lists every supported system in catalogue order.
var Constellations = []Constellation{GPS, GLONASS, BeiDou, Galileo, NavIC}

func (c Constellation) String() string {
	switch c {
	case GPS:
		return "GPS"
	case GLONASS:
		return "GLONASS"
	case BeiDou:
		return "BeiDou"
	case Galileo:
		return "Galileo"
	case NavIC:
		return "NavIC"
	}
	return fmt.Sprintf("Constellation(%d)", int(c))
}

// ParseConstellation accepts the names printed by String, case-insensitively.
func ParseConstellation(s string) (Constellation, error) {
	for _, c := range Constellations {
		if strings.EqualFold(c.String(), s) {
			return c, nil
		}
	}
	switch strings.ToLower(s) {
	case "bds", "compass":
		return BeiDou, nil
	case "gal":
		return Galileo, nil
	case "glo":
		return GLONASS, nil
	case "irnss":
		return NavIC, nil
	}
	return 0, fmt.Errorf("unknown constellation %q", s)
}

// Params holds the physical constants and update cadences of a system.
type Params struct {
	// GM is the gravitational constant used by the system's ICD, m^3/s^2.
	GM float64
	// EarthRotationRate is the ICD value of ωe, rad/s.
	EarthRotationRate float64
	// EphemerisInterval is the spacing of ephemeris reference times.
	EphemerisInterval time.Duration
	// AlmanacInterval is the spacing of almanac reference times.
	AlmanacInterval time.Duration
	// AlmanacUpdatePeriod is how often the baseline almanac is re-derived.
	AlmanacUpdatePeriod time.Duration
	// TimeOffset is system time minus GPS time.
	TimeOffset time.Duration
}

var params = map[Constellation]Params{
	GPS: {
		GM:                  3.986005e14,
		EarthRotationRate:   7.2921151467e-5,
		EphemerisInterval:   2 * time.Hour,
		AlmanacInterval:     24 * time.Hour,
		AlmanacUpdatePeriod: 4096 * time.Second,
	},
	GLONASS: {
		GM:                  3.9860044e14,
		EarthRotationRate:   7.292115e-5,
		EphemerisInterval:   30 * time.Minute,
		AlmanacInterval:     24 * time.Hour,
		AlmanacUpdatePeriod: 1800 * time.Second,
	},
	BeiDou: {
		GM:                  3.986004418e14,
		EarthRotationRate:   7.2921150e-5,
		EphemerisInterval:   time.Hour,
		AlmanacInterval:     24 * time.Hour,
		AlmanacUpdatePeriod: 4096 * time.Second,
		TimeOffset:          -14 * time.Second,
	},
	Galileo: {
		GM:                  3.986004418e14,
		EarthRotationRate:   7.2921151467e-5,
		EphemerisInterval:   10 * time.Minute,
		AlmanacInterval:     24 * time.Hour,
		AlmanacUpdatePeriod: 600 * time.Second,
	},
	NavIC: {
		GM:                  3.986005e14,
		EarthRotationRate:   7.2921151467e-5,
		EphemerisInterval:   2 * time.Hour,
		AlmanacInterval:     24 * time.Hour,
		AlmanacUpdatePeriod: 4096 * time.Second,
	},
}

// Params returns the constants for c. Unknown systems get GPS values.
func (c Constellation) Params() Params {
	if p, ok := params[c]; ok {
		return p
	}
	return params[GPS]
}
