// Package codes produces the spreading codes and navigation bit streams that
// modulate each satellite signal. Chips are represented as int8 values of +1
// or -1, where +1 is the binary one of the interface control documents.
package codes

import "fmt"

// CALength is the GPS C/A code period in chips.
const CALength = 1023

// G2 delays in chips for PRN 1..210 (IS-GPS-200 table 3-Ia, IS-GPS-200 table 3-Ib
// and the SBAS/QZSS extensions).
var caDelay = [...]int{
	5, 6, 7, 8, 17, 18, 139, 140, 141, 251,
	252, 254, 255, 256, 257, 258, 469, 470, 471, 472,
	473, 474, 509, 512, 513, 514, 515, 516, 859, 860,
	861, 862, 863, 950, 947, 948, 950, 67, 103, 91,
	19, 679, 225, 625, 946, 638, 161, 1001, 554, 280,
	710, 709, 775, 864, 558, 220, 397, 55, 898, 759,
	367, 299, 1018, 729, 695, 780, 801, 788, 732, 34,
	320, 327, 389, 407, 525, 405, 221, 761, 260, 326,
	955, 653, 699, 422, 188, 438, 959, 539, 879, 677,
	586, 153, 792, 814, 446, 264, 1015, 278, 536, 819,
	156, 957, 159, 712, 885, 461, 248, 713, 126, 807,
	279, 122, 197, 693, 632, 771, 467, 647, 203, 145,
	175, 52, 21, 237, 235, 886, 657, 634, 762, 355,
	1012, 176, 603, 130, 359, 595, 68, 386, 797, 456,
	499, 883, 307, 127, 211, 121, 118, 163, 628, 853,
	484, 289, 811, 202, 1021, 463, 568, 904, 670, 230,
	911, 684, 309, 644, 932, 12, 314, 891, 212, 185,
	675, 503, 150, 395, 345, 846, 798, 992, 357, 995,
	877, 112, 144, 476, 193, 109, 445, 291, 87, 399,
	292, 901, 339, 208, 711, 189, 263, 537, 663, 942,
	173, 900, 30, 500, 935, 556, 373, 85, 652, 310,
}

// GoldCA returns one period of the GPS C/A code for prn.
func GoldCA(prn int) ([]int8, error) {
	if prn < 1 || prn > len(caDelay) {
		return nil, fmt.Errorf("C/A code: PRN %d out of range 1..%d", prn, len(caDelay))
	}

	// Registers hold -1 for a binary one so that XOR becomes a product.
	var r1, r2 [10]int8
	for i := range r1 {
		r1[i] = -1
		r2[i] = -1
	}
	var g1, g2 [CALength]int8
	for i := 0; i < CALength; i++ {
		g1[i] = r1[9]
		g2[i] = r2[9]
		c1 := r1[2] * r1[9]
		c2 := r2[1] * r2[2] * r2[5] * r2[7] * r2[8] * r2[9]
		copy(r1[1:], r1[:9])
		copy(r2[1:], r2[:9])
		r1[0] = c1
		r2[0] = c2
	}

	code := make([]int8, CALength)
	j := CALength - caDelay[prn-1]
	for i := range code {
		code[i] = -g1[i] * g2[j%CALength]
		j++
	}
	return code, nil
}
