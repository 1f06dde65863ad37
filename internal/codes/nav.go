package codes

// NavData yields the navigation symbol of one satellite. Symbols are counted
// from the GNSS time origin so that the same symbol index always carries the
// same value, whichever slice renders it.
type NavData interface {
	Symbol(prn int, index int64) int8
}

// FixedNav transmits the same symbol forever. A zero value sends +1.
type FixedNav struct {
	Value int8
}

// Symbol implements NavData.
func (f FixedNav) Symbol(int, int64) int8 {
	if f.Value < 0 {
		return -1
	}
	return 1
}

// RandomNav transmits a reproducible pseudo-random symbol stream.
type RandomNav struct {
	Seed uint64
}

// Symbol implements NavData.
func (r RandomNav) Symbol(prn int, index int64) int8 {
	x := splitmix64(r.Seed ^ uint64(prn)<<48 ^ uint64(index))
	if x&1 == 0 {
		return -1
	}
	return 1
}

func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ x>>30) * 0xbf58476d1ce4e5b9
	x = (x ^ x>>27) * 0x94d049bb133111eb
	return x ^ x>>31
}
