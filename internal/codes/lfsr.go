package codes

import (
	"fmt"
	"hash/fnv"
)

// Feedback taps of maximal-length Fibonacci registers by degree.
var lfsrTaps = map[int][]uint{
	9:  {9, 5},
	10: {10, 7},
	11: {11, 9},
	12: {12, 6, 4, 1},
	13: {13, 4, 3, 1},
	14: {14, 5, 3, 1},
	15: {15, 14},
}

// MSequence returns length chips of the maximal-length sequence of the given
// degree, starting from a non-zero register state. The output is taken from
// the last stage.
func MSequence(degree int, state uint32, length int) ([]int8, error) {
	taps, ok := lfsrTaps[degree]
	if !ok {
		return nil, fmt.Errorf("no feedback polynomial for degree %d", degree)
	}
	mask := uint32(1)<<degree - 1
	state &= mask
	if state == 0 {
		return nil, fmt.Errorf("register state must be non-zero")
	}

	out := make([]int8, length)
	for i := range out {
		if state&1 != 0 {
			out[i] = 1
		} else {
			out[i] = -1
		}
		var fb uint32
		for _, t := range taps {
			fb ^= state >> (uint(degree) - t) & 1
		}
		state = state>>1 | fb<<(degree-1)
	}
	return out, nil
}

// GlonassST returns the 511-chip GLONASS standard-accuracy ranging code,
// common to all satellites (polynomial 1 + x^5 + x^9, all-ones start).
func GlonassST() []int8 {
	code, _ := MSequence(9, 0x1ff, 511)
	return code
}

// Ranging returns a truncated m-sequence of the given length for one
// satellite. Satellites of a family are distinct phases of the same
// sequence, selected by a seed derived from the family name and prn.
func Ranging(family string, prn, length int) ([]int8, error) {
	if length <= 0 {
		return nil, fmt.Errorf("code length %d must be positive", length)
	}
	degree := 9
	for (1<<degree)-1 < length {
		degree++
	}
	if _, ok := lfsrTaps[degree]; !ok {
		return nil, fmt.Errorf("code length %d exceeds supported registers", length)
	}

	h := fnv.New32a()
	fmt.Fprintf(h, "%s/%d", family, prn)
	period := uint32(1)<<degree - 1
	state := h.Sum32()%period + 1

	return MSequence(degree, state, length)
}
