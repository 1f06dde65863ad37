// Package quantize converts complex baseband samples into output words:
// packed sub-byte sign/magnitude codes, integers of 8, 12 and 16 bits, and
// 32-bit floats.
package quantize

import (
	"fmt"
	"strings"
)

// Format is an output sample encoding. Every format stores I before Q.
type Format int

const (
	// OneBit packs the sign of each component, MSB first.
	OneBit Format = iota
	// TwoBit packs sign and one magnitude bit per component.
	TwoBit
	// ThreeBit packs sign and two magnitude bits per component.
	ThreeBit
	// Int8 stores each component as a signed byte.
	Int8
	// Int12 stores 12-bit values in little-endian int16 words (SC16Q11).
	Int12
	// Int16 stores each component as a little-endian int16.
	Int16
	// Float32 stores each component as a little-endian IEEE float in [-1, 1].
	Float32
)

var formatNames = map[Format]string{
	OneBit:   "1bit",
	TwoBit:   "2bit",
	ThreeBit: "3bit",
	Int8:     "int8",
	Int12:    "int12",
	Int16:    "int16",
	Float32:  "float32",
}

func (f Format) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// ParseFormat resolves a format name as printed by String.
func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for f, name := range formatNames {
		if name == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown sample format %q", s)
}

// Bits is the storage width of one component.
func (f Format) Bits() int {
	switch f {
	case OneBit:
		return 1
	case TwoBit:
		return 2
	case ThreeBit:
		return 3
	case Int8:
		return 8
	case Int12, Int16:
		return 16
	case Float32:
		return 32
	}
	return 0
}

// Alignment is the smallest number of complex samples that fills a whole
// number of bytes.
func (f Format) Alignment() int {
	bits := 2 * f.Bits()
	if bits == 0 {
		return 1
	}
	n := 1
	for n*bits%8 != 0 {
		n++
	}
	return n
}

// BytesFor returns the encoded size of n complex samples.
func (f Format) BytesFor(n int) int {
	return (n*2*f.Bits() + 7) / 8
}

// View returns the bytes of buf holding samples [first, first+count).
// first must be a multiple of the alignment.
func (f Format) View(buf []byte, first, count int) ([]byte, error) {
	if first%f.Alignment() != 0 {
		return nil, fmt.Errorf("quantize: %s view at sample %d is not aligned to %d", f, first, f.Alignment())
	}
	lo, hi := f.BytesFor(first), f.BytesFor(first+count)
	if hi > len(buf) {
		return nil, fmt.Errorf("quantize: %s view [%d, %d) exceeds %d bytes", f, lo, hi, len(buf))
	}
	return buf[lo:hi:hi], nil
}
