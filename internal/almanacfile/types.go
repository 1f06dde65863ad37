package almanacfile

import (
	"time"

	"github.com/star/gnsssynth/internal/almanac"
	"github.com/star/gnsssynth/internal/gnss"
)

// EpochRange represents the minimum and maximum reference epochs in a dataset.
type EpochRange struct {
	Min time.Time
	Max time.Time
}

// Dataset is one parsed almanac of one constellation.
type Dataset struct {
	Source        string
	FetchedAt     time.Time
	Constellation gnss.Constellation
	EpochRange    EpochRange
	Satellites    []*almanac.Satellite
}

// NewDataset wraps parsed satellites and computes their epoch range.
func NewDataset(source string, fetchedAt time.Time, c gnss.Constellation, sats []*almanac.Satellite) *Dataset {
	ds := &Dataset{Source: source, FetchedAt: fetchedAt, Constellation: c, Satellites: sats}
	for i, s := range sats {
		e := s.Epoch()
		if i == 0 || e.Before(ds.EpochRange.Min) {
			ds.EpochRange.Min = e
		}
		if i == 0 || e.After(ds.EpochRange.Max) {
			ds.EpochRange.Max = e
		}
	}
	return ds
}
