// Package output describes the channels of a recording and receives the
// quantized samples of each slice in order.
package output

import (
	"errors"
	"fmt"

	"github.com/star/gnsssynth/internal/gnss"
	"github.com/star/gnsssynth/internal/quantize"
)

// ErrOutOfOrder is returned when a block arrives before its predecessor.
var ErrOutOfOrder = errors.New("output: block out of order")

// Channel is one recorded RF channel.
type Channel struct {
	Name            string
	CenterFrequency float64
	Format          quantize.Format
	// Bands and Constellations restrict the signals rendered; empty means
	// all.
	Bands          []gnss.Band
	Constellations []gnss.Constellation
}

// ChannelPlan lists the channels of a recording, sharing one sample rate.
type ChannelPlan struct {
	SampleRate float64
	Channels   []Channel
}

// Validate checks the plan for obvious mistakes.
func (p ChannelPlan) Validate() error {
	if !(p.SampleRate > 0) {
		return fmt.Errorf("output: sample rate %v must be positive", p.SampleRate)
	}
	if len(p.Channels) == 0 {
		return errors.New("output: no channels")
	}
	seen := make(map[string]bool, len(p.Channels))
	for i, ch := range p.Channels {
		if ch.Name == "" {
			return fmt.Errorf("output: channel %d has no name", i)
		}
		if seen[ch.Name] {
			return fmt.Errorf("output: duplicate channel %q", ch.Name)
		}
		seen[ch.Name] = true
		if ch.Format.Bits() == 0 {
			return fmt.Errorf("output: channel %q: unsupported format %s", ch.Name, ch.Format)
		}
		if !(ch.CenterFrequency > 0) {
			return fmt.Errorf("output: channel %q: center frequency %v must be positive", ch.Name, ch.CenterFrequency)
		}
	}
	return nil
}

// BytesPerSecond is the data rate of the whole plan.
func (p ChannelPlan) BytesPerSecond() float64 {
	var total float64
	for _, ch := range p.Channels {
		total += p.SampleRate * float64(2*ch.Format.Bits()) / 8
	}
	return total
}

// Block is one slice of samples, one buffer per channel in plan order.
type Block struct {
	Index    int
	Interval gnss.Interval
	Channels [][]byte
}

// Output receives the blocks of a run. Write is called from one goroutine
// with strictly increasing indices starting at zero.
type Output interface {
	Plan() ChannelPlan
	// Quantizer returns the encoder for channel ch writing into buf.
	Quantizer(ch int, buf []byte, rms float64) (quantize.Quantizer, error)
	Write(b Block) error
	Close() error
}

func quantizerFor(p ChannelPlan, ch int, buf []byte, rms float64) (quantize.Quantizer, error) {
	if ch < 0 || ch >= len(p.Channels) {
		return nil, fmt.Errorf("output: channel %d out of range", ch)
	}
	return p.Channels[ch].Format.New(buf, rms)
}

// Memory keeps every block. Used by tests and dry runs.
type Memory struct {
	plan   ChannelPlan
	Blocks []Block
	closed bool
}

// NewMemory creates an in-memory output for plan.
func NewMemory(plan ChannelPlan) *Memory {
	return &Memory{plan: plan}
}

func (m *Memory) Plan() ChannelPlan { return m.plan }

func (m *Memory) Quantizer(ch int, buf []byte, rms float64) (quantize.Quantizer, error) {
	return quantizerFor(m.plan, ch, buf, rms)
}

func (m *Memory) Write(b Block) error {
	if b.Index != len(m.Blocks) {
		return fmt.Errorf("%w: got %d, want %d", ErrOutOfOrder, b.Index, len(m.Blocks))
	}
	m.Blocks = append(m.Blocks, b)
	return nil
}

func (m *Memory) Close() error {
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *Memory) Closed() bool { return m.closed }
