package constellation

import (
	"context"
	"fmt"

	"github.com/star/gnsssynth/internal/gnss"
	"github.com/star/gnsssynth/internal/propagation"
	"github.com/star/gnsssynth/internal/trajectory"
)

// Series holds the observations of one satellite at consecutive trajectory
// samples.
type Series struct {
	Index        int
	PRN          int
	Observations []Observation
}

// Len returns the number of samples.
func (s *Series) Len() int { return len(s.Observations) }

// VisibleAt reports visibility at sample i.
func (s *Series) VisibleAt(i int) bool { return s.Observations[i].Visible }

// AnyVisible reports whether the satellite is visible at any sample.
func (s *Series) AnyVisible() bool {
	for i := range s.Observations {
		if s.Observations[i].Visible {
			return true
		}
	}
	return false
}

// MaxElevation returns the highest elevation over the series.
func (s *Series) MaxElevation() float64 {
	best := s.Observations[0].Elevation
	for _, o := range s.Observations[1:] {
		if o.Elevation > best {
			best = o.Elevation
		}
	}
	return best
}

// ObserveSeries observes every enabled, healthy satellite at each sample of
// pvts, using the ephemeris snapshot valid at each sample. Satellites are
// processed in parallel on the worker pool; satellites whose observation
// fails are logged and left out.
func (b *Base) ObserveSeries(ctx context.Context, pvts []trajectory.Pvt, mask Mask) ([]Series, error) {
	if len(pvts) == 0 {
		return nil, nil
	}
	var jobs []int
	for _, idx := range b.almanac.Indices() {
		if s := b.almanac.Baseline(idx); s != nil && s.IsHealthy {
			jobs = append(jobs, idx)
		}
	}

	name := fmt.Sprintf("observe-%s", b.Constellation())
	batch, err := propagation.Map(ctx, b.pool, name, jobs, func(idx int) (*Series, error) {
		return b.observeSatellite(idx, pvts, mask)
	})
	if err != nil {
		return nil, err
	}

	out := make([]Series, 0, batch.Succeeded)
	for _, s := range batch.Values {
		if s != nil {
			out = append(out, *s)
		}
	}
	return out, nil
}

// observeSatellite looks up the ephemeris valid at the transmission
// instant of each sample. The transit time of the previous sample, or the
// geometric range for the first, locates the snapshot; when the solved
// transmission instant falls in another ephemeris interval the sample is
// observed again with that snapshot.
func (b *Base) observeSatellite(idx int, pvts []trajectory.Pvt, mask Mask) (*Series, error) {
	sig := b.signals[0]
	src := b.almanac.Baseline(idx)
	if src == nil {
		return nil, nil
	}
	pos, _ := src.GetEcef(pvts[0].Time)
	tau := pos.Sub(pvts[0].Position).Norm() / gnss.SpeedOfLight

	series := &Series{Index: idx, Observations: make([]Observation, len(pvts))}
	for i, pvt := range pvts {
		eph, err := b.almanac.GetEphemeris(idx, sig, pvt.Time.Add(-seconds(tau)))
		if err != nil {
			return nil, err
		}
		if eph == nil {
			return nil, nil
		}
		obs, err := b.Observe(eph, pvt, mask)
		if err != nil {
			return nil, err
		}
		if tx := pvt.Time.Add(-seconds(obs.TransitTime)); !eph.TransmissionInterval.Contains(tx) {
			if eph, err = b.almanac.GetEphemeris(idx, sig, tx); err != nil || eph == nil {
				return nil, err
			}
			if obs, err = b.Observe(eph, pvt, mask); err != nil {
				return nil, err
			}
		}
		tau = obs.TransitTime
		series.PRN = eph.ID
		series.Observations[i] = obs
	}
	return series, nil
}
