package simulation

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/star/gnsssynth/internal/constellation"
	"github.com/star/gnsssynth/internal/gnss"
	"github.com/star/gnsssynth/internal/output"
	"github.com/star/gnsssynth/internal/quantize"
	"github.com/star/gnsssynth/internal/transform"
)

// Scenario is the YAML description of a recording.
type Scenario struct {
	Start          time.Time     `yaml:"start"`
	Duration       time.Duration `yaml:"duration"`
	SliceLength    time.Duration `yaml:"slice_length"`
	SampleRate     float64       `yaml:"sample_rate"`
	TrajectoryRate float64       `yaml:"trajectory_rate"`

	Receiver ReceiverSpec    `yaml:"receiver"`
	Signals  []string        `yaml:"signals"`
	Almanacs []AlmanacSource `yaml:"almanacs"`
	Channels []ChannelSpec   `yaml:"channels"`

	ElevationMaskDeg *float64 `yaml:"elevation_mask_deg"`
	MaxSatellites    int      `yaml:"max_satellites"`
	IncludeBelowMask bool     `yaml:"include_below_mask"`
	// Levels is "uniform" or "real-world".
	Levels    string  `yaml:"levels"`
	Noise     bool    `yaml:"noise"`
	NoiseSeed int64   `yaml:"noise_seed"`
	RMS       float64 `yaml:"rms"`
	// NavSeed selects pseudo-random navigation bits; zero sends all ones.
	NavSeed         uint64 `yaml:"nav_seed"`
	GenerateWorkers int    `yaml:"generate_workers"`

	Output OutputSpec `yaml:"output"`
}

// ReceiverSpec is a static receiver position.
type ReceiverSpec struct {
	LatDeg float64 `yaml:"lat_deg"`
	LonDeg float64 `yaml:"lon_deg"`
	AltM   float64 `yaml:"alt_m"`
}

// AlmanacSource names the YUMA almanac of one constellation, read from File
// or downloaded from URL.
type AlmanacSource struct {
	Constellation string `yaml:"constellation"`
	File          string `yaml:"file"`
	URL           string `yaml:"url"`
}

// ChannelSpec is one output channel.
type ChannelSpec struct {
	Name            string   `yaml:"name"`
	CenterFrequency float64  `yaml:"center_frequency"`
	Format          string   `yaml:"format"`
	Bands           []string `yaml:"bands"`
	Constellations  []string `yaml:"constellations"`
}

// OutputSpec locates the recording.
type OutputSpec struct {
	Dir    string `yaml:"dir"`
	Prefix string `yaml:"prefix"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes a scenario, rejecting unknown keys, and fills
// defaults.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("decoding scenario: %w", err)
	}
	if sc.SliceLength == 0 {
		sc.SliceLength = time.Second
	}
	if sc.TrajectoryRate == 0 {
		sc.TrajectoryRate = 10
	}
	if sc.Levels == "" {
		sc.Levels = "uniform"
	}
	if sc.Output.Prefix == "" {
		sc.Output.Prefix = "gnsssynth"
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks the scenario for consistency.
func (sc *Scenario) Validate() error {
	if sc.Start.IsZero() {
		return errors.New("scenario: start is required")
	}
	if sc.Duration <= 0 {
		return errors.New("scenario: duration must be positive")
	}
	if sc.Levels != "uniform" && sc.Levels != "real-world" {
		return fmt.Errorf("scenario: levels %q must be uniform or real-world", sc.Levels)
	}
	if _, err := sc.Plan(); err != nil {
		return err
	}
	signals, err := sc.SignalsByConstellation()
	if err != nil {
		return err
	}
	for _, a := range sc.Almanacs {
		c, err := gnss.ParseConstellation(a.Constellation)
		if err != nil {
			return fmt.Errorf("scenario: almanac: %w", err)
		}
		if a.File == "" && a.URL == "" {
			return fmt.Errorf("scenario: almanac for %s needs a file or url", c)
		}
	}
	for c := range signals {
		if !sc.hasAlmanac(c) {
			return fmt.Errorf("scenario: no almanac for %s signals", c)
		}
	}
	return nil
}

func (sc *Scenario) hasAlmanac(c gnss.Constellation) bool {
	for _, a := range sc.Almanacs {
		if got, err := gnss.ParseConstellation(a.Constellation); err == nil && got == c {
			return true
		}
	}
	return false
}

// Plan converts the channel specs.
func (sc *Scenario) Plan() (output.ChannelPlan, error) {
	plan := output.ChannelPlan{SampleRate: sc.SampleRate}
	for _, cs := range sc.Channels {
		format, err := quantize.ParseFormat(cs.Format)
		if err != nil {
			return plan, fmt.Errorf("scenario: channel %q: %w", cs.Name, err)
		}
		ch := output.Channel{Name: cs.Name, CenterFrequency: cs.CenterFrequency, Format: format}
		for _, b := range cs.Bands {
			band, err := gnss.ParseBand(b)
			if err != nil {
				return plan, fmt.Errorf("scenario: channel %q: %w", cs.Name, err)
			}
			ch.Bands = append(ch.Bands, band)
		}
		for _, c := range cs.Constellations {
			con, err := gnss.ParseConstellation(c)
			if err != nil {
				return plan, fmt.Errorf("scenario: channel %q: %w", cs.Name, err)
			}
			ch.Constellations = append(ch.Constellations, con)
		}
		plan.Channels = append(plan.Channels, ch)
	}
	return plan, plan.Validate()
}

// SignalsByConstellation resolves the signal names.
func (sc *Scenario) SignalsByConstellation() (map[gnss.Constellation][]gnss.Signal, error) {
	if len(sc.Signals) == 0 {
		return nil, errors.New("scenario: no signals")
	}
	out := make(map[gnss.Constellation][]gnss.Signal)
	for _, name := range sc.Signals {
		sig, err := gnss.LookupSignal(name)
		if err != nil {
			return nil, fmt.Errorf("scenario: %w", err)
		}
		out[sig.Constellation] = append(out[sig.Constellation], sig)
	}
	return out, nil
}

// ReceiverPosition returns the static receiver location.
func (sc *Scenario) ReceiverPosition() transform.Geodetic {
	return transform.GeodeticDeg(sc.Receiver.LatDeg, sc.Receiver.LonDeg, sc.Receiver.AltM)
}

// Mask returns the elevation cutoff; the true horizon when unset.
func (sc *Scenario) Mask() constellation.Mask {
	if sc.ElevationMaskDeg == nil {
		return constellation.HorizonMask
	}
	return constellation.ElevationMask(*sc.ElevationMaskDeg * math.Pi / 180)
}

// PipelineConfig derives the pipeline settings.
func (sc *Scenario) PipelineConfig() Config {
	return Config{
		TrajectoryRate: sc.TrajectoryRate,
		Mask:           sc.Mask(),
		Visibility: constellation.VisibilityOptions{
			MaxSatellites:    sc.MaxSatellites,
			IncludeBelowMask: sc.IncludeBelowMask,
		},
		RealWorldLevels: sc.Levels == "real-world",
		GenerateWorkers: sc.GenerateWorkers,
		RMS:             sc.RMS,
	}
}
