package propagation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/star/gnsssynth/internal/almanac"
	"github.com/star/gnsssynth/internal/almanacfile"
	"github.com/star/gnsssynth/internal/metrics"
	"github.com/star/gnsssynth/internal/transform"
)

// ErrNoAlmanac is returned when none of the stores holds a dataset.
var ErrNoAlmanac = errors.New("no almanac dataset loaded")

// ErrInvalidPosition marks a satellite whose propagated position is not a
// plausible orbit; it is left out of the keyframe.
var ErrInvalidPosition = errors.New("implausible ECEF position")

// skyCache holds the satellites of the datasets loaded at build time.
// Immutable after construction; safe for concurrent reads.
type skyCache struct {
	sats    []*almanac.Satellite
	fetched []time.Time
}

func (c *skyCache) current(datasets []*almanacfile.Dataset) bool {
	if c == nil || len(c.fetched) != len(datasets) {
		return false
	}
	for i, ds := range datasets {
		var at time.Time
		if ds != nil {
			at = ds.FetchedAt
		}
		if !c.fetched[i].Equal(at) {
			return false
		}
	}
	return true
}

// Sky computes keyframes of almanac satellite positions for the sky view
// and the diagnostics endpoints.
type Sky struct {
	stores []*almanacfile.Store
	pool   *WorkerPool
	config PropConfig
	logger *slog.Logger
	cache  atomic.Pointer[skyCache]
	mu     sync.Mutex // serializes cache rebuilds
}

// NewSky creates a keyframe source over one store per constellation. A zero
// Step or Horizon selects 30 s or 10 min.
func NewSky(stores []*almanacfile.Store, config PropConfig, logger *slog.Logger) *Sky {
	if config.Step <= 0 {
		config.Step = 30 * time.Second
	}
	if config.Horizon <= 0 {
		config.Horizon = 10 * time.Minute
	}
	return &Sky{
		stores: stores,
		pool:   NewWorkerPool(config.Workers, logger),
		config: config,
		logger: logger,
	}
}

// satellites returns the enabled satellites of the loaded datasets.
// Rebuilds the cache if any dataset has changed (double-checked locking).
func (s *Sky) satellites() ([]*almanac.Satellite, error) {
	datasets := make([]*almanacfile.Dataset, len(s.stores))
	loaded := 0
	for i, st := range s.stores {
		datasets[i] = st.Get()
		if datasets[i] != nil {
			loaded++
		}
	}
	if loaded == 0 {
		return nil, ErrNoAlmanac
	}

	if c := s.cache.Load(); c.current(datasets) {
		metrics.IncCacheHit("sky")
		return c.sats, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c := s.cache.Load(); c.current(datasets) {
		metrics.IncCacheHit("sky")
		return c.sats, nil
	}
	metrics.IncCacheMiss("sky")

	c := &skyCache{fetched: make([]time.Time, len(datasets))}
	for i, ds := range datasets {
		if ds == nil {
			continue
		}
		c.fetched[i] = ds.FetchedAt
		for _, sat := range ds.Satellites {
			if sat.IsEnabled {
				c.sats = append(c.sats, sat.Clone())
			}
		}
	}

	s.logger.Info("sky satellite cache rebuilt",
		"satellites", len(c.sats),
		"datasets", loaded,
	)
	s.cache.Store(c)
	return c.sats, nil
}

// PropagateToTime generates a single keyframe at the given target time.
func (s *Sky) PropagateToTime(ctx context.Context, targetTime time.Time) (*Keyframe, error) {
	sats, err := s.satellites()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	batch, err := Map(ctx, s.pool, "sky", sats, func(sat *almanac.Satellite) (SatellitePosition, error) {
		pos, vel := sat.GetEcef(targetTime)
		if !transform.ValidateECEF(pos) {
			return SatellitePosition{}, fmt.Errorf("%s PRN %d: %w", sat.Constellation, sat.ID, ErrInvalidPosition)
		}
		return SatellitePosition{
			Constellation: sat.Constellation.String(),
			PRN:           sat.ID,
			Healthy:       sat.IsHealthy,
			PositionECEF:  [3]float64{pos.X, pos.Y, pos.Z},
			VelocityECEF:  [3]float64{vel.X, vel.Y, vel.Z},
		}, nil
	})
	if err != nil {
		return nil, err
	}

	positions := make([]SatellitePosition, 0, batch.Succeeded)
	for i, v := range batch.Values {
		if batch.Errors[i] == nil {
			positions = append(positions, v)
		}
	}

	s.logger.Debug("sky keyframe computed",
		"satellites", batch.Succeeded,
		"dropped", batch.Failed,
		"target_time", targetTime.UTC().Format(time.RFC3339),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &Keyframe{
		Timestamp:  targetTime,
		Satellites: positions,
	}, nil
}

// GenerateKeyframes generates keyframes from startTime over the configured horizon
// at the configured step interval.
func (s *Sky) GenerateKeyframes(ctx context.Context, startTime time.Time) ([]*Keyframe, error) {
	numFrames := int(s.config.Horizon/s.config.Step) + 1
	keyframes := make([]*Keyframe, 0, numFrames)

	for i := 0; i < numFrames; i++ {
		select {
		case <-ctx.Done():
			return keyframes, ctx.Err()
		default:
		}

		targetTime := startTime.Add(time.Duration(i) * s.config.Step)
		kf, err := s.PropagateToTime(ctx, targetTime)
		if err != nil {
			return keyframes, fmt.Errorf("keyframe %d at %s: %w", i, targetTime.Format(time.RFC3339), err)
		}
		keyframes = append(keyframes, kf)
	}

	return keyframes, nil
}
