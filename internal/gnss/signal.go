package gnss

import (
	"fmt"
	"strings"
)

// Band groups signals that share an RF front end.
type Band int

const (
	BandL1 Band = iota
	BandL2
	BandL5
)

func (b Band) String() string {
	switch b {
	case BandL1:
		return "L1"
	case BandL2:
		return "L2"
	case BandL5:
		return "L5"
	}
	return fmt.Sprintf("Band(%d)", int(b))
}

// ParseBand accepts the names printed by String, case-insensitively.
func ParseBand(s string) (Band, error) {
	for _, b := range []Band{BandL1, BandL2, BandL5} {
		if strings.EqualFold(b.String(), s) {
			return b, nil
		}
	}
	return 0, fmt.Errorf("unknown band %q", s)
}

// Topology describes how a signal's components map onto I/Q.
type Topology int

const (
	// BPSKI modulates one code on the in-phase arm.
	BPSKI Topology = iota
	// BPSKQ modulates one code on the quadrature arm.
	BPSKQ
	// DualSynced puts two codes sharing one chip clock on I and Q.
	DualSynced
	// DualUnsynced puts two codes with independent chip clocks on I and Q.
	DualUnsynced
	// BOC sums a data and a pilot component, each multiplied by a
	// sine-phased subcarrier, on the in-phase arm.
	BOC
)

func (t Topology) String() string {
	switch t {
	case BPSKI:
		return "bpsk-i"
	case BPSKQ:
		return "bpsk-q"
	case DualSynced:
		return "dual-synced"
	case DualUnsynced:
		return "dual-unsynced"
	case BOC:
		return "boc"
	}
	return fmt.Sprintf("Topology(%d)", int(t))
}

// CodeFamily selects the ranging code generator.
type CodeFamily int

const (
	CodeGPSCA CodeFamily = iota
	CodeGLONASSST
	CodeLFSR
)

// NavFamily groups signals that share one ephemeris message type.
// Snapshot caches key on it so L1 and L5 messages can differ.
type NavFamily int

const (
	NavLegacy NavFamily = iota
	NavCivil
	NavModern
)

// Signal is one entry of the signal catalogue.
type Signal struct {
	Name          string
	Constellation Constellation
	Band          Band
	// Frequency is the nominal carrier, Hz. GLONASS FDMA signals add
	// FrequencyChannel*ChannelSpacing.
	Frequency      float64
	ChannelSpacing float64
	// ChipRate of the primary code, chips/s.
	ChipRate   float64
	CodeLength int
	// SubcarrierRatio is the BOC subcarrier frequency over the chip rate.
	SubcarrierRatio int
	// BitRate of the navigation data, bits/s; 0 for pilot-only signals.
	BitRate  float64
	Topology Topology
	Code     CodeFamily
	Nav      NavFamily
	// PilotChipRate and PilotCodeLength clock the quadrature code of
	// DualUnsynced signals. Zero means the primary values.
	PilotChipRate   float64
	PilotCodeLength int
}

// CarrierFrequency returns the carrier for a given FDMA channel number.
func (s Signal) CarrierFrequency(channel int) float64 {
	return s.Frequency + float64(channel)*s.ChannelSpacing
}

// Wavelength at the nominal carrier, m.
func (s Signal) Wavelength(channel int) float64 {
	return SpeedOfLight / s.CarrierFrequency(channel)
}

// CodePeriod returns the primary code period in seconds.
func (s Signal) CodePeriod() float64 {
	return float64(s.CodeLength) / s.ChipRate
}

// Quadrature returns the signal as its quadrature component sees it: the
// pilot chip clock and code length, without navigation data.
func (s Signal) Quadrature() Signal {
	q := s
	if s.PilotChipRate > 0 {
		q.ChipRate = s.PilotChipRate
	}
	if s.PilotCodeLength > 0 {
		q.CodeLength = s.PilotCodeLength
	}
	q.BitRate = 0
	return q
}

// ChipsPerBit is the number of primary chips per navigation symbol.
func (s Signal) ChipsPerBit() int {
	if s.BitRate <= 0 {
		return 0
	}
	return int(s.ChipRate/s.BitRate + 0.5)
}

// Resolution is the number of rendered elements per chip.
func (s Signal) Resolution() int {
	if s.Topology == BOC {
		return 2 * s.SubcarrierRatio
	}
	return 1
}

func (s Signal) String() string { return s.Name }

const (
	l1 = 1575.42e6
	l2 = 1227.60e6
	l5 = 1176.45e6
)

// Catalogue of supported signals, keyed by name.
var signals = []Signal{
	{Name: "GPS_L1CA", Constellation: GPS, Band: BandL1, Frequency: l1, ChipRate: 1.023e6, CodeLength: 1023, BitRate: 50, Topology: BPSKI, Code: CodeGPSCA, Nav: NavLegacy},
	{Name: "GPS_L2C", Constellation: GPS, Band: BandL2, Frequency: l2, ChipRate: 1.023e6, CodeLength: 10230, BitRate: 25, Topology: BPSKQ, Code: CodeLFSR, Nav: NavCivil},
	{Name: "GPS_L5", Constellation: GPS, Band: BandL5, Frequency: l5, ChipRate: 10.23e6, CodeLength: 10230, BitRate: 50, Topology: DualSynced, Code: CodeLFSR, Nav: NavCivil},
	{Name: "GLONASS_L1OF", Constellation: GLONASS, Band: BandL1, Frequency: 1602e6, ChannelSpacing: 562.5e3, ChipRate: 0.511e6, CodeLength: 511, BitRate: 50, Topology: BPSKI, Code: CodeGLONASSST, Nav: NavLegacy},
	{Name: "GLONASS_L2OF", Constellation: GLONASS, Band: BandL2, Frequency: 1246e6, ChannelSpacing: 437.5e3, ChipRate: 0.511e6, CodeLength: 511, BitRate: 50, Topology: BPSKI, Code: CodeGLONASSST, Nav: NavLegacy},
	{Name: "BEIDOU_B1I", Constellation: BeiDou, Band: BandL1, Frequency: 1561.098e6, ChipRate: 2.046e6, CodeLength: 2046, BitRate: 50, Topology: BPSKI, Code: CodeLFSR, Nav: NavLegacy},
	{Name: "BEIDOU_B2a", Constellation: BeiDou, Band: BandL5, Frequency: l5, ChipRate: 10.23e6, CodeLength: 10230, BitRate: 100, Topology: DualUnsynced, Code: CodeLFSR, Nav: NavModern},
	{Name: "GALILEO_E1", Constellation: Galileo, Band: BandL1, Frequency: l1, ChipRate: 1.023e6, CodeLength: 4092, SubcarrierRatio: 1, BitRate: 250, Topology: BOC, Code: CodeLFSR, Nav: NavLegacy},
	{Name: "GALILEO_E5a", Constellation: Galileo, Band: BandL5, Frequency: l5, ChipRate: 10.23e6, CodeLength: 10230, BitRate: 50, Topology: DualSynced, Code: CodeLFSR, Nav: NavModern},
	{Name: "NAVIC_L5", Constellation: NavIC, Band: BandL5, Frequency: l5, ChipRate: 1.023e6, CodeLength: 1023, BitRate: 50, Topology: BPSKI, Code: CodeGPSCA, Nav: NavLegacy},
}

// Signals returns a copy of the catalogue.
func Signals() []Signal {
	out := make([]Signal, len(signals))
	copy(out, signals)
	return out
}

// LookupSignal finds a catalogue entry by name, case-insensitively.
func LookupSignal(name string) (Signal, error) {
	for _, s := range signals {
		if strings.EqualFold(s.Name, name) {
			return s, nil
		}
	}
	return Signal{}, fmt.Errorf("unknown signal %q", name)
}
