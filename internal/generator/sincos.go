package generator

import "math"

// tableSize is the number of sin/cos segments per cycle.
const tableSize = 64

// sincosEntry holds the value at a segment start and the slope to the next
// entry, so a lookup is one FMA.
type sincosEntry struct {
	sin, sinSlope float64
	cos, cosSlope float64
}

var sincosTable = func() [tableSize + 1]sincosEntry {
	var t [tableSize + 1]sincosEntry
	for i := range t {
		s0, c0 := math.Sincos(2 * math.Pi * float64(i) / tableSize)
		s1, c1 := math.Sincos(2 * math.Pi * float64(i+1) / tableSize)
		t[i] = sincosEntry{sin: s0, sinSlope: s1 - s0, cos: c0, cosSlope: c1 - c0}
	}
	return t
}()

// NormalizeCycles maps x to [0, 1) by dropping whole cycles. Negative
// values wrap upward.
func NormalizeCycles(x float64) float64 {
	f := x - math.Floor(x)
	if f >= 1 {
		return 0
	}
	return f
}

// SinCos returns sin and cos of 2π·cycles from the lookup table.
func SinCos(cycles float64) (sin, cos float64) {
	x := NormalizeCycles(cycles) * tableSize
	i := int(x)
	f := x - float64(i)
	e := &sincosTable[i]
	return math.FMA(e.sinSlope, f, e.sin), math.FMA(e.cosSlope, f, e.cos)
}
