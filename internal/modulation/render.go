// Package modulation renders chip sequences and pools their buffers per
// simulation slice.
package modulation

import (
	"fmt"

	"github.com/star/gnsssynth/internal/codes"
	"github.com/star/gnsssynth/internal/gnss"
)

// Render fills dst with the rendered elements firstElement .. firstElement+len(dst)
// of one signal component. An element is one chip, or one subcarrier half
// period for BOC signals. Data components are multiplied by the navigation
// symbol; pilot components are not.
func Render(dst []int8, sig gnss.Signal, code []int8, prn int, comp codes.Component, nav codes.NavData, firstElement int64) error {
	if len(code) == 0 {
		return fmt.Errorf("%s PRN %d: empty code", sig.Name, prn)
	}
	if firstElement < 0 {
		return fmt.Errorf("%s PRN %d: negative element %d", sig.Name, prn, firstElement)
	}
	res := int64(sig.Resolution())
	length := int64(len(code))
	perBit := int64(sig.ChipsPerBit())
	modulate := comp == codes.Data && perBit > 0 && nav != nil

	chip := firstElement / res
	sub := firstElement % res
	pos := chip % length
	symbolIndex := int64(-1)
	var symbol int8 = 1
	for i := range dst {
		if modulate {
			if s := chip / perBit; s != symbolIndex {
				symbolIndex = s
				symbol = nav.Symbol(prn, s)
			}
		}
		v := code[pos] * symbol
		// Sine-phased subcarrier: positive in the first half of each period.
		if sub&1 == 1 {
			v = -v
		}
		dst[i] = v

		sub++
		if sub == res {
			sub = 0
			chip++
			pos++
			if pos == length {
				pos = 0
			}
		}
	}
	return nil
}
