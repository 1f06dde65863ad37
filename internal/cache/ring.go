// Package cache provides the per-satellite snapshot cache behind the
// ephemeris and almanac lookups.
//
// Each satellite index owns a small fixed-capacity ring. Entries are keyed by
// the snapshot's own reference time, so every query inside one validity
// window resolves to the same object. Inserts are add-only: an existing key
// is never overwritten, and when a ring is full the oldest slot is reused.
package cache

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/star/gnsssynth/internal/lock"
	"github.com/star/gnsssynth/internal/metrics"
)

// Key identifies one snapshot of one satellite.
type Key struct {
	Reference time.Time
	// Family separates snapshots that share a reference time but not a
	// message type (e.g. legacy vs. modernized navigation data).
	Family int
}

func (k Key) equal(o Key) bool {
	return k.Family == o.Family && k.Reference.Equal(o.Reference)
}

type entry[V any] struct {
	key   Key
	value V
	used  bool
}

type ring[V any] struct {
	mu      *lock.Mutex
	entries []entry[V]
	next    int
}

// Ring is a sharded snapshot cache. Safe for concurrent use.
type Ring[V any] struct {
	name     string
	capacity int
	shards   []ring[V]
	logger   *slog.Logger

	// Counters (lock-free).
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// New creates a cache for satellites [0, satellites) holding up to capacity
// snapshots each.
func New[V any](name string, satellites, capacity int, logger *slog.Logger) *Ring[V] {
	if capacity < 1 {
		capacity = 1
	}
	c := &Ring[V]{
		name:     name,
		capacity: capacity,
		shards:   make([]ring[V], satellites),
		logger:   logger,
	}
	for i := range c.shards {
		c.shards[i] = ring[V]{
			mu:      lock.New(fmt.Sprintf("%s[%d]", name, i), 0),
			entries: make([]entry[V], capacity),
		}
	}
	return c
}

// Name returns the cache name used in logs and metrics.
func (c *Ring[V]) Name() string { return c.name }

func (c *Ring[V]) shard(sat int) (*ring[V], error) {
	if sat < 0 || sat >= len(c.shards) {
		return nil, fmt.Errorf("cache %s: satellite index %d out of range [0, %d)", c.name, sat, len(c.shards))
	}
	return &c.shards[sat], nil
}

// GetOrAdd returns the cached snapshot for key, building and inserting it on
// a miss. build runs under the satellite's lock, so concurrent callers for
// the same key receive the same value.
func (c *Ring[V]) GetOrAdd(sat int, key Key, build func() (V, error)) (V, error) {
	var zero V
	r, err := c.shard(sat)
	if err != nil {
		return zero, err
	}
	if err := r.mu.Lock(); err != nil {
		return zero, err
	}
	defer r.mu.Unlock()

	if v, ok := r.find(key); ok {
		c.hit()
		return v, nil
	}
	c.miss()

	v, err := build()
	if err != nil {
		return zero, err
	}
	if evicted := r.add(key, v); evicted {
		c.evictions.Add(1)
		metrics.AddCacheEvictions(c.name, 1)
		c.logger.Debug("snapshot evicted", "cache", c.name, "satellite", sat)
	}
	return v, nil
}

// Reset drops every entry, e.g. after the underlying almanac was replaced.
func (c *Ring[V]) Reset() error {
	removed := 0
	for i := range c.shards {
		r := &c.shards[i]
		if err := r.mu.Lock(); err != nil {
			return err
		}
		for j := range r.entries {
			if r.entries[j].used {
				removed++
			}
			r.entries[j] = entry[V]{}
		}
		r.next = 0
		r.mu.Unlock()
	}
	if removed > 0 {
		c.evictions.Add(int64(removed))
		metrics.AddCacheEvictions(c.name, removed)
		c.logger.Debug("cache reset", "cache", c.name, "entries_removed", removed)
	}
	return nil
}

func (r *ring[V]) find(key Key) (V, bool) {
	for i := range r.entries {
		if r.entries[i].used && r.entries[i].key.equal(key) {
			return r.entries[i].value, true
		}
	}
	var zero V
	return zero, false
}

// add stores v in the next ring slot and reports whether a live entry was
// displaced.
func (r *ring[V]) add(key Key, v V) bool {
	slot := &r.entries[r.next]
	evicted := slot.used
	*slot = entry[V]{key: key, value: v, used: true}
	r.next = (r.next + 1) % len(r.entries)
	return evicted
}

func (c *Ring[V]) hit() {
	c.hits.Add(1)
	metrics.IncCacheHit(c.name)
}

func (c *Ring[V]) miss() {
	c.misses.Add(1)
	metrics.IncCacheMiss(c.name)
}

// Stats holds cache statistics for the stats endpoint.
type Stats struct {
	Name            string    `json:"name"`
	Entries         int       `json:"entries"`
	Capacity        int       `json:"capacity"`
	OldestReference time.Time `json:"oldest_reference"`
	NewestReference time.Time `json:"newest_reference"`
	Hits            int64     `json:"hits"`
	Misses          int64     `json:"misses"`
	Evictions       int64     `json:"evictions"`
}

// Stats returns current cache statistics.
func (c *Ring[V]) Stats() (Stats, error) {
	s := Stats{
		Name:      c.name,
		Capacity:  c.capacity * len(c.shards),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
	for i := range c.shards {
		r := &c.shards[i]
		if err := r.mu.Lock(); err != nil {
			return Stats{}, err
		}
		for _, e := range r.entries {
			if !e.used {
				continue
			}
			s.Entries++
			if s.OldestReference.IsZero() || e.key.Reference.Before(s.OldestReference) {
				s.OldestReference = e.key.Reference
			}
			if e.key.Reference.After(s.NewestReference) {
				s.NewestReference = e.key.Reference
			}
		}
		r.mu.Unlock()
	}
	return s, nil
}
