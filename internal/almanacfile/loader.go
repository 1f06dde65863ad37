package almanacfile

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/star/gnsssynth/internal/gnss"
	"github.com/star/gnsssynth/internal/metrics"
)

// Loader refreshes a Store from a Fetcher, writing successful downloads to
// a Cache and falling back to the newest cached file when the fetch fails.
type Loader struct {
	Store         *Store
	Fetcher       *Fetcher
	Cache         *Cache
	Constellation gnss.Constellation
	Logger        *slog.Logger
}

// Refresh downloads, parses and installs a new dataset. ref resolves the
// week rollover and is normally the scenario start time.
func (l *Loader) Refresh(ctx context.Context, ref time.Time) (*Dataset, error) {
	l.Store.mu.Lock()
	defer l.Store.mu.Unlock()

	data, err := l.Fetcher.Fetch(ctx)
	if err != nil {
		l.Logger.Warn("almanac fetch failed, trying cache", "error", err)
		return l.fromCache(ref)
	}

	now := time.Now()
	ds, err := l.parse(data, l.Fetcher.SourceURL(), now, ref)
	if err != nil {
		return nil, err
	}
	if l.Cache != nil {
		if err := l.Cache.Write(data, now); err != nil {
			l.Logger.Warn("failed to cache almanac", "error", err)
		}
	}
	l.install(ds)
	return ds, nil
}

// LoadCached installs the newest cached almanac without touching the network.
func (l *Loader) LoadCached(ref time.Time) (*Dataset, error) {
	l.Store.mu.Lock()
	defer l.Store.mu.Unlock()
	return l.fromCache(ref)
}

// LoadFile installs the almanac stored at path. The file's modification
// time is recorded as the fetch time.
func (l *Loader) LoadFile(path string, ref time.Time) (*Dataset, error) {
	l.Store.mu.Lock()
	defer l.Store.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading almanac file: %w", err)
	}
	fetched := time.Now()
	if fi, err := os.Stat(path); err == nil {
		fetched = fi.ModTime()
	}
	ds, err := l.parse(data, path, fetched, ref)
	if err != nil {
		return nil, err
	}
	l.install(ds)
	return ds, nil
}

func (l *Loader) fromCache(ref time.Time) (*Dataset, error) {
	if l.Cache == nil {
		return nil, fmt.Errorf("no almanac cache configured")
	}
	data, ts, err := l.Cache.LoadLatest()
	if err != nil {
		return nil, err
	}
	ds, err := l.parse(data, "cache", ts, ref)
	if err != nil {
		return nil, err
	}
	l.install(ds)
	return ds, nil
}

func (l *Loader) parse(data []byte, source string, fetchedAt, ref time.Time) (*Dataset, error) {
	sats, err := ParseYuma(bytes.NewReader(data), l.Constellation, ref, l.Logger)
	if err != nil {
		return nil, err
	}
	if len(sats) == 0 {
		return nil, fmt.Errorf("almanac from %s contains no satellites", source)
	}
	return NewDataset(source, fetchedAt, l.Constellation, sats), nil
}

func (l *Loader) install(ds *Dataset) {
	l.Store.Set(ds)
	metrics.SetAlmanacSatellites(ds.Constellation.String(), len(ds.Satellites))
	l.Logger.Info("almanac loaded",
		"source", ds.Source,
		"constellation", ds.Constellation.String(),
		"satellites", len(ds.Satellites),
		"epoch_min", ds.EpochRange.Min,
		"epoch_max", ds.EpochRange.Max,
	)
}
