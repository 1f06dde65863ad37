package almanac

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/star/gnsssynth/internal/cache"
	"github.com/star/gnsssynth/internal/gnss"
	"github.com/star/gnsssynth/internal/lock"
)

const (
	ephemerisCacheCapacity = 8
	almanacCacheCapacity   = 4
)

// ConstellationMismatchError is returned when a satellite or signal of one
// system is handed to another system's propagator.
type ConstellationMismatchError struct {
	Expected gnss.Constellation
	Actual   gnss.Constellation
	ID       int
}

func (e *ConstellationMismatchError) Error() string {
	return fmt.Sprintf("almanac: expected %s satellite, got %s PRN %d", e.Expected, e.Actual, e.ID)
}

// baseline is the set of satellites propagated to one almanac time.
type baseline struct {
	AlmanacTime time.Time
	Satellites  [gnss.MaxSatellites]*Satellite
}

// Base owns the parsed almanac of one constellation, the baseline derived
// from it for the current almanac time, and the snapshot caches.
// Safe for concurrent use.
type Base struct {
	constellation gnss.Constellation
	params        gnss.Params
	original      [gnss.MaxSatellites]*Satellite

	baseline atomic.Pointer[baseline]
	updateMu *lock.Mutex

	ephemeris *cache.Ring[*Satellite]
	almanac   *cache.Ring[*Satellite]

	logger *slog.Logger
}

// NewBase creates a Base from parsed satellites. Satellites must belong to
// c and have IDs in [1, gnss.MaxSatellites]; duplicates keep the last entry.
func NewBase(c gnss.Constellation, sats []*Satellite, logger *slog.Logger) (*Base, error) {
	b := &Base{
		constellation: c,
		params:        c.Params(),
		updateMu:      lock.New(fmt.Sprintf("almanac-%s", c), 0),
		ephemeris:     cache.New[*Satellite](fmt.Sprintf("ephemeris-%s", c), gnss.MaxSatellites, ephemerisCacheCapacity, logger),
		almanac:       cache.New[*Satellite](fmt.Sprintf("almanac-%s", c), gnss.MaxSatellites, almanacCacheCapacity, logger),
		logger:        logger,
	}
	for _, s := range sats {
		if s == nil {
			continue
		}
		if s.Constellation != c {
			return nil, &ConstellationMismatchError{Expected: c, Actual: s.Constellation, ID: s.ID}
		}
		if s.ID < 1 || s.ID > gnss.MaxSatellites {
			return nil, fmt.Errorf("almanac: %s PRN %d out of range [1, %d]", c, s.ID, gnss.MaxSatellites)
		}
		b.original[s.Index()] = s.Clone()
	}

	initial := &baseline{}
	for i, s := range b.original {
		if s != nil {
			initial.Satellites[i] = s.Clone()
		}
	}
	b.baseline.Store(initial)

	logger.Info("almanac loaded", "constellation", c.String(), "satellites", len(b.Indices()))
	return b, nil
}

// Constellation returns the system this base propagates.
func (b *Base) Constellation() gnss.Constellation { return b.constellation }

// Original returns the parsed satellite at idx, or nil.
func (b *Base) Original(idx int) *Satellite {
	if idx < 0 || idx >= gnss.MaxSatellites {
		return nil
	}
	return b.original[idx]
}

// Baseline returns the satellite at idx propagated to the current almanac
// time, or nil. The returned value must not be modified.
func (b *Base) Baseline(idx int) *Satellite {
	if idx < 0 || idx >= gnss.MaxSatellites {
		return nil
	}
	return b.baseline.Load().Satellites[idx]
}

// AlmanacTime returns the epoch of the current baseline (zero before the
// first update).
func (b *Base) AlmanacTime() time.Time {
	return b.baseline.Load().AlmanacTime
}

// Indices lists the slots holding an enabled satellite.
func (b *Base) Indices() []int {
	var out []int
	for i, s := range b.original {
		if s != nil && s.IsEnabled {
			out = append(out, i)
		}
	}
	return out
}

// Check verifies that s belongs to this base.
func (b *Base) Check(s *Satellite) error {
	if s.Constellation != b.constellation {
		return &ConstellationMismatchError{Expected: b.constellation, Actual: s.Constellation, ID: s.ID}
	}
	return nil
}

// UpdateAlmanacForTime re-derives the baseline for the almanac time
// containing t: the originals are cloned and propagated to t floored to the
// constellation's update period. Satellites already at that epoch are only
// cloned. The new baseline replaces the old one atomically and the snapshot
// caches derived from the previous baseline are dropped.
func (b *Base) UpdateAlmanacForTime(t time.Time) error {
	target := b.systemFloor(t, b.params.AlmanacUpdatePeriod)

	// Fast path: already at this almanac time.
	if b.baseline.Load().AlmanacTime.Equal(target) {
		return nil
	}

	if err := b.updateMu.Lock(); err != nil {
		return err
	}
	defer b.updateMu.Unlock()

	// Double-check after acquiring the lock.
	if b.baseline.Load().AlmanacTime.Equal(target) {
		return nil
	}

	start := time.Now()
	next := &baseline{AlmanacTime: target}
	propagated := 0
	for i, s := range b.original {
		if s == nil {
			continue
		}
		c := s.Clone()
		if !c.Epoch().Equal(target) {
			c.Propagate(target)
			propagated++
		}
		next.Satellites[i] = c
	}
	b.baseline.Store(next)
	if err := b.ephemeris.Reset(); err != nil {
		return err
	}
	if err := b.almanac.Reset(); err != nil {
		return err
	}

	b.logger.Info("almanac baseline updated",
		"constellation", b.constellation.String(),
		"almanac_time", target.UTC().Format(time.RFC3339),
		"propagated", propagated,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// GetEphemeris returns the ephemeris snapshot of satellite idx valid for
// transmission time tx on signal sig. The snapshot reference is tx floored to
// the constellation's ephemeris interval; repeated calls inside one interval
// return the same cached object. BeiDou GEO snapshots are expressed in the
// tilted GEO frame. A missing satellite yields nil without error.
func (b *Base) GetEphemeris(idx int, sig gnss.Signal, tx time.Time) (*Satellite, error) {
	if sig.Constellation != b.constellation {
		return nil, &ConstellationMismatchError{Expected: b.constellation, Actual: sig.Constellation, ID: idx + 1}
	}
	src := b.Baseline(idx)
	if src == nil {
		return nil, nil
	}

	ref := b.systemFloor(tx, b.params.EphemerisInterval)
	key := cache.Key{Reference: ref, Family: int(sig.Nav)}
	return b.ephemeris.GetOrAdd(idx, key, func() (*Satellite, error) {
		snap := src.Clone()
		snap.Propagate(ref)
		snap.TransmissionInterval = gnss.NewInterval(ref, b.params.EphemerisInterval)
		if b.constellation == gnss.BeiDou && snap.OrbitType == GEO {
			snap.toGeoFrame()
		}
		return snap, nil
	})
}

// GetAlmanac returns the almanac snapshot of satellite idx for transmission
// time tx, or nil when no satellite occupies idx.
func (b *Base) GetAlmanac(idx int, tx time.Time) (*Satellite, error) {
	src := b.Baseline(idx)
	if src == nil {
		return nil, nil
	}

	ref := b.systemFloor(tx, b.params.AlmanacInterval)
	return b.almanac.GetOrAdd(idx, cache.Key{Reference: ref}, func() (*Satellite, error) {
		snap := src.Clone()
		snap.Propagate(ref)
		snap.TransmissionInterval = gnss.NewInterval(ref, b.params.AlmanacInterval)
		return snap, nil
	})
}

// CacheStats reports both snapshot caches.
func (b *Base) CacheStats() ([]cache.Stats, error) {
	e, err := b.ephemeris.Stats()
	if err != nil {
		return nil, err
	}
	a, err := b.almanac.Stats()
	if err != nil {
		return nil, err
	}
	return []cache.Stats{e, a}, nil
}

// systemFloor floors t to step on the constellation's own time scale.
func (b *Base) systemFloor(t time.Time, step time.Duration) time.Time {
	off := b.params.TimeOffset
	return gnss.Floor(t.Add(off), step).Add(-off)
}
