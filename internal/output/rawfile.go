package output

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/star/gnsssynth/internal/quantize"
)

// RawFile writes each channel to its own headerless file of interleaved
// I/Q words, plus a YAML description of the recording written on Close.
type RawFile struct {
	plan    ChannelPlan
	dir     string
	prefix  string
	files   []*os.File
	writers []*bufio.Writer
	paths   []string

	next    int
	start   time.Time
	samples int64
	logger  *slog.Logger
}

// Metadata is the YAML sidecar of a RawFile recording.
type Metadata struct {
	Start      time.Time         `yaml:"start"`
	SampleRate float64           `yaml:"sample_rate"`
	Samples    int64             `yaml:"samples"`
	Channels   []ChannelMetadata `yaml:"channels"`
}

// ChannelMetadata describes one channel file.
type ChannelMetadata struct {
	Name            string   `yaml:"name"`
	File            string   `yaml:"file"`
	CenterFrequency float64  `yaml:"center_frequency"`
	Format          string   `yaml:"format"`
	Bands           []string `yaml:"bands,omitempty"`
	Constellations  []string `yaml:"constellations,omitempty"`
}

// NewRawFile creates dir and one file per channel named
// <prefix>_<channel>.<format>.
func NewRawFile(dir, prefix string, plan ChannelPlan, logger *slog.Logger) (*RawFile, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}
	r := &RawFile{plan: plan, dir: dir, prefix: prefix, logger: logger}
	for _, ch := range plan.Channels {
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.%s", prefix, ch.Name, ch.Format))
		f, err := os.Create(path)
		if err != nil {
			r.closeFiles()
			return nil, fmt.Errorf("creating channel file: %w", err)
		}
		r.files = append(r.files, f)
		r.writers = append(r.writers, bufio.NewWriterSize(f, 1<<20))
		r.paths = append(r.paths, path)
	}
	return r, nil
}

func (r *RawFile) Plan() ChannelPlan { return r.plan }

// Paths returns the channel file paths in plan order.
func (r *RawFile) Paths() []string { return r.paths }

func (r *RawFile) Quantizer(ch int, buf []byte, rms float64) (quantize.Quantizer, error) {
	return quantizerFor(r.plan, ch, buf, rms)
}

func (r *RawFile) Write(b Block) error {
	if b.Index != r.next {
		return fmt.Errorf("%w: got %d, want %d", ErrOutOfOrder, b.Index, r.next)
	}
	if len(b.Channels) != len(r.writers) {
		return fmt.Errorf("output: block %d has %d channels, plan has %d", b.Index, len(b.Channels), len(r.writers))
	}
	for i, data := range b.Channels {
		if _, err := r.writers[i].Write(data); err != nil {
			return fmt.Errorf("writing channel %s: %w", r.plan.Channels[i].Name, err)
		}
	}
	if r.next == 0 {
		r.start = b.Interval.Start
	}
	r.next++
	r.samples += int64(b.Interval.Duration().Seconds()*r.plan.SampleRate + 0.5)
	return nil
}

// Close flushes the channel files and writes the metadata sidecar.
func (r *RawFile) Close() error {
	var firstErr error
	for i, w := range r.writers {
		if err := w.Flush(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("flushing channel %s: %w", r.plan.Channels[i].Name, err)
		}
	}
	if err := r.closeFiles(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return firstErr
	}

	data, err := yaml.Marshal(r.metadata())
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	path := filepath.Join(r.dir, r.prefix+".yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	r.logger.Info("recording closed", "dir", r.dir, "slices", r.next, "samples", r.samples)
	return nil
}

func (r *RawFile) closeFiles() error {
	var firstErr error
	for _, f := range r.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing %s: %w", f.Name(), err)
		}
	}
	r.files = nil
	return firstErr
}

func (r *RawFile) metadata() Metadata {
	m := Metadata{Start: r.start.UTC(), SampleRate: r.plan.SampleRate, Samples: r.samples}
	for i, ch := range r.plan.Channels {
		cm := ChannelMetadata{
			Name:            ch.Name,
			File:            filepath.Base(r.paths[i]),
			CenterFrequency: ch.CenterFrequency,
			Format:          ch.Format.String(),
		}
		for _, b := range ch.Bands {
			cm.Bands = append(cm.Bands, b.String())
		}
		for _, c := range ch.Constellations {
			cm.Constellations = append(cm.Constellations, c.String())
		}
		m.Channels = append(m.Channels, cm)
	}
	return m
}
