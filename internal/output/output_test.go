package output

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/star/gnsssynth/internal/gnss"
	"github.com/star/gnsssynth/internal/quantize"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testPlan() ChannelPlan {
	return ChannelPlan{
		SampleRate: 1000,
		Channels: []Channel{
			{Name: "L1", CenterFrequency: 1575.42e6, Format: quantize.Int8, Bands: []gnss.Band{gnss.BandL1}},
			{Name: "L5", CenterFrequency: 1176.45e6, Format: quantize.OneBit, Constellations: []gnss.Constellation{gnss.GPS}},
		},
	}
}

func TestPlanValidate(t *testing.T) {
	if err := testPlan().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(p *ChannelPlan)
	}{
		{"zero rate", func(p *ChannelPlan) { p.SampleRate = 0 }},
		{"no channels", func(p *ChannelPlan) { p.Channels = nil }},
		{"duplicate", func(p *ChannelPlan) { p.Channels[1].Name = "L1" }},
		{"unnamed", func(p *ChannelPlan) { p.Channels[0].Name = "" }},
		{"bad format", func(p *ChannelPlan) { p.Channels[0].Format = quantize.Format(42) }},
		{"no frequency", func(p *ChannelPlan) { p.Channels[0].CenterFrequency = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testPlan()
			tt.mutate(&p)
			if err := p.Validate(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestBytesPerSecond(t *testing.T) {
	// int8: 2 bytes per sample; 1-bit: a quarter byte.
	if got := testPlan().BytesPerSecond(); got != 2250 {
		t.Errorf("BytesPerSecond() = %v, want 2250", got)
	}
}

func TestMemoryOrdering(t *testing.T) {
	m := NewMemory(testPlan())
	if err := m.Write(Block{Index: 1}); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder, got %v", err)
	}
	if err := m.Write(Block{Index: 0}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := m.Quantizer(2, nil, 1); err == nil {
		t.Error("expected error for unknown channel")
	}
}

func TestRawFile(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRawFile(dir, "run", testPlan(), testLogger())
	if err != nil {
		t.Fatalf("NewRawFile: %v", err)
	}
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		b := Block{
			Index:    i,
			Interval: gnss.NewInterval(start.Add(time.Duration(i)*time.Second), time.Second),
			Channels: [][]byte{make([]byte, 2000), make([]byte, 250)},
		}
		b.Channels[0][0] = byte(i + 1)
		if err := r.Write(b); err != nil {
			t.Fatalf("Write(%d): %v", i, err)
		}
	}
	if err := r.Write(Block{Index: 5}); !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("expected ErrOutOfOrder, got %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	l1, err := os.ReadFile(filepath.Join(dir, "run_L1.int8"))
	if err != nil {
		t.Fatalf("reading L1: %v", err)
	}
	if len(l1) != 4000 || l1[0] != 1 || l1[2000] != 2 {
		t.Errorf("L1 file has %d bytes, markers %d %d", len(l1), l1[0], l1[2000])
	}
	if info, err := os.Stat(filepath.Join(dir, "run_L5.1bit")); err != nil || info.Size() != 500 {
		t.Errorf("L5 file: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "run.yaml"))
	if err != nil {
		t.Fatalf("reading metadata: %v", err)
	}
	var meta Metadata
	if err := yaml.Unmarshal(raw, &meta); err != nil {
		t.Fatalf("decoding metadata: %v", err)
	}
	if meta.Samples != 2000 || !meta.Start.Equal(start) || len(meta.Channels) != 2 {
		t.Errorf("unexpected metadata %+v", meta)
	}
	if meta.Channels[1].Format != "1bit" || meta.Channels[1].Constellations[0] != "GPS" {
		t.Errorf("unexpected channel metadata %+v", meta.Channels[1])
	}
}
