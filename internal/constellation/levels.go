package constellation

import (
	"math"

	"github.com/star/gnsssynth/internal/gnss"
)

// Zenith-referenced carrier-to-noise offsets per system, dB-Hz.
var signalLevelBase = map[gnss.Constellation]float64{
	gnss.GPS:     45.0,
	gnss.GLONASS: 44.0,
	gnss.BeiDou:  44.0,
	gnss.Galileo: 45.0,
	gnss.NavIC:   43.0,
}

// Elevation polynomial of the received level, degrees in, dB out.
var signalLevelPoly = [4]float64{-5.77, 0.3675, -0.005, 2.3e-5}

// belowHorizonSlope is the level drop per degree below the horizon, dB.
const belowHorizonSlope = 2.0

// RealWorldSignalLevel returns a typical C/N0 in dB-Hz for a satellite of c
// seen at elevation (radians). The curve is an empirical fit to open-sky
// receiver logs.
func RealWorldSignalLevel(c gnss.Constellation, elevation float64) float64 {
	base, ok := signalLevelBase[c]
	if !ok {
		base = signalLevelBase[gnss.GPS]
	}
	deg := elevation * 180 / math.Pi
	if deg < 0 {
		return base + signalLevelPoly[0] + belowHorizonSlope*deg
	}
	deg = math.Min(deg, 90)
	p := signalLevelPoly
	return base + math.FMA(math.FMA(math.FMA(p[3], deg, p[2]), deg, p[1]), deg, p[0])
}

// Amplitude converts a C/N0 in dB-Hz into the per-sample amplitude of a
// complex carrier. With noise the amplitude is relative to unit-variance
// noise per component at sampleRate; without noise it is relative to a
// 45 dB-Hz reference signal.
func Amplitude(cn0, sampleRate float64, noise bool) float64 {
	if noise {
		return math.Sqrt(2 * math.Pow(10, cn0/10) / sampleRate)
	}
	return math.Pow(10, (cn0-45)/20)
}
