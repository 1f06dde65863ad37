package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/star/gnsssynth/internal/almanac"
	"github.com/star/gnsssynth/internal/almanacfile"
	"github.com/star/gnsssynth/internal/api"
	"github.com/star/gnsssynth/internal/auth"
	"github.com/star/gnsssynth/internal/codes"
	"github.com/star/gnsssynth/internal/constellation"
	"github.com/star/gnsssynth/internal/generator"
	"github.com/star/gnsssynth/internal/gnss"
	"github.com/star/gnsssynth/internal/metrics"
	"github.com/star/gnsssynth/internal/modulation"
	"github.com/star/gnsssynth/internal/output"
	"github.com/star/gnsssynth/internal/propagation"
	"github.com/star/gnsssynth/internal/simulation"
	"github.com/star/gnsssynth/internal/stream"
	"github.com/star/gnsssynth/internal/trajectory"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(os.Getenv("GNSSSYNTH_LOG_LEVEL")),
	}))

	path := os.Getenv("GNSSSYNTH_SCENARIO")
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "usage: gnsssynth <scenario.yaml>")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, path, logger); err != nil {
		logger.Error("simulation failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, path string, logger *slog.Logger) error {
	sc, err := simulation.LoadScenario(path)
	if err != nil {
		return err
	}
	authCfg, err := loadAuthConfig(logger)
	if err != nil {
		return fmt.Errorf("invalid auth configuration: %w", err)
	}
	almCfg := loadAlmanacConfig(logger)
	propCfg := loadPropConfig(logger)
	pool := propagation.NewWorkerPool(propCfg.Workers, logger)

	signals, err := sc.SignalsByConstellation()
	if err != nil {
		return err
	}

	var (
		stores   []*almanacfile.Store
		almanacs []*almanac.Base
		bases    []*constellation.Base
	)
	for _, src := range sc.Almanacs {
		c, err := gnss.ParseConstellation(src.Constellation)
		if err != nil {
			return err
		}
		store := almanacfile.NewStore()
		ds, err := loadAlmanac(ctx, store, c, src, almCfg, sc.Start, logger)
		if err != nil {
			return fmt.Errorf("loading %s almanac: %w", c, err)
		}
		stores = append(stores, store)

		sigs, ok := signals[c]
		if !ok {
			continue
		}
		alm, err := almanac.NewBase(c, ds.Satellites, logger)
		if err != nil {
			return err
		}
		base, err := constellation.NewBase(alm, sigs, constellation.Options{}, pool, logger)
		if err != nil {
			return err
		}
		almanacs = append(almanacs, alm)
		bases = append(bases, base)
	}

	cfg := sc.PipelineConfig()
	if sc.Noise {
		noise, err := generator.NewNoise(generator.DefaultNoiseSamples, sc.NoiseSeed)
		if err != nil {
			return err
		}
		cfg.Noise = noise
	}

	var nav codes.NavData = codes.FixedNav{}
	if sc.NavSeed != 0 {
		nav = codes.RandomNav{Seed: sc.NavSeed}
	}
	bank := modulation.NewBank(codes.NewLibrary(), nav, logger)

	plan, err := sc.Plan()
	if err != nil {
		return err
	}
	out, err := output.NewRawFile(sc.Output.Dir, sc.Output.Prefix, plan, logger)
	if err != nil {
		return err
	}

	simRun, err := simulation.NewRun(sc.Start, sc.Duration, sc.SliceLength)
	if err != nil {
		return err
	}
	pipeline, err := simulation.NewPipeline(simRun, cfg, trajectory.NewStatic(sc.ReceiverPosition()), bases, bank, out, logger)
	if err != nil {
		out.Close()
		return err
	}

	var srv *api.Server
	if addr := httpAddr(); addr != "" {
		sky := propagation.NewSky(stores, propCfg, logger)
		streamHandler := stream.NewHandler(pipeline, loadStreamConfig(logger), logger)
		srv = api.NewServer(addr, logger, authCfg, api.Deps{
			Progress: pipeline,
			Stores:   stores,
			Almanacs: almanacs,
			Sky:      sky,
			Receiver: sc.ReceiverPosition(),
			Stream:   streamHandler,
		})
		go func() {
			logger.Info("starting server", "addr", addr, "auth_enabled", authCfg.Enabled)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("server listen error", "error", err)
			}
		}()
		go reportAlmanacAge(ctx, stores)
	}

	logger.Info("starting simulation",
		"run_id", simRun.ID.String(),
		"start", sc.Start,
		"duration", sc.Duration.String(),
		"slices", simRun.Slices(),
		"output", out.Paths(),
	)
	runErr := pipeline.Run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
		logger.Info("server stopped")
	}
	if runErr != nil {
		return runErr
	}
	logger.Info("simulation finished", "run_id", simRun.ID.String(), "slices", pipeline.Status().SlicesWritten)
	return nil
}

// loadAlmanac installs the almanac of one constellation from a local file or
// a download, falling back to the download cache.
func loadAlmanac(ctx context.Context, store *almanacfile.Store, c gnss.Constellation, src simulation.AlmanacSource, cfg almanacConfig, ref time.Time, logger *slog.Logger) (*almanacfile.Dataset, error) {
	l := &almanacfile.Loader{
		Store:         store,
		Constellation: c,
		Logger:        logger.With("constellation", c.String()),
	}
	if src.File != "" {
		return l.LoadFile(src.File, ref)
	}
	l.Fetcher = almanacfile.NewFetcher(src.URL, l.Logger, cfg.ExtraSourceURLs...)
	if cfg.CacheDir != "" {
		l.Cache = almanacfile.NewCache(filepath.Join(cfg.CacheDir, strings.ToLower(c.String())), cfg.MaxFiles)
	}
	if !cfg.EnableFetch {
		return l.LoadCached(ref)
	}
	return l.Refresh(ctx, ref)
}

func reportAlmanacAge(ctx context.Context, stores []*almanacfile.Store) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, st := range stores {
				if ds := st.Get(); ds != nil {
					metrics.SetAlmanacAge(ds.Constellation.String(), st.AgeSeconds())
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func logLevel(v string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func httpAddr() string {
	addr, ok := os.LookupEnv("GNSSSYNTH_HTTP_ADDR")
	if !ok {
		return ":8080"
	}
	return addr
}

func loadAuthConfig(logger *slog.Logger) (auth.Config, error) {
	cfg := auth.Config{}

	enabledStr := os.Getenv("GNSSSYNTH_AUTH_ENABLED")
	if enabledStr != "" {
		enabled, err := strconv.ParseBool(enabledStr)
		if err != nil {
			return cfg, errors.New("GNSSSYNTH_AUTH_ENABLED must be a boolean value (true/false/1/0)")
		}
		cfg.Enabled = enabled
	}

	if cfg.Enabled {
		cfg.Token = os.Getenv("GNSSSYNTH_AUTH_TOKEN")
		if cfg.Token == "" {
			return cfg, errors.New("GNSSSYNTH_AUTH_TOKEN is required when auth is enabled")
		}
		for _, p := range strings.Split(os.Getenv("GNSSSYNTH_AUTH_PUBLIC_PATHS"), ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.Public = append(cfg.Public, p)
			}
		}
		logger.Info("auth enabled", "public_paths", cfg.Public)
	}

	return cfg, nil
}

type almanacConfig struct {
	EnableFetch     bool
	CacheDir        string
	MaxFiles        int
	ExtraSourceURLs []string
}

func loadAlmanacConfig(logger *slog.Logger) almanacConfig {
	cfg := almanacConfig{
		EnableFetch: true,
		CacheDir:    "/tmp/gnsssynth/almanac",
		MaxFiles:    5,
	}

	if v := os.Getenv("GNSSSYNTH_ENABLE_ALMANAC_FETCH"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warn("invalid GNSSSYNTH_ENABLE_ALMANAC_FETCH value, defaulting to false", "value", v)
			cfg.EnableFetch = false
		} else {
			cfg.EnableFetch = enabled
		}
	}

	if v, ok := os.LookupEnv("GNSSSYNTH_ALMANAC_CACHE_DIR"); ok {
		cfg.CacheDir = v
	}

	if v := os.Getenv("GNSSSYNTH_ALMANAC_CACHE_FILES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid GNSSSYNTH_ALMANAC_CACHE_FILES value, using default", "value", v, "default", cfg.MaxFiles)
		} else {
			cfg.MaxFiles = n
		}
	}

	if v := os.Getenv("GNSSSYNTH_ALMANAC_EXTRA_URLS"); v != "" {
		for _, u := range strings.Split(v, ",") {
			u = strings.TrimSpace(u)
			if u != "" {
				cfg.ExtraSourceURLs = append(cfg.ExtraSourceURLs, u)
			}
		}
	}

	logger.Info("almanac config",
		"fetch_enabled", cfg.EnableFetch,
		"cache_dir", cfg.CacheDir,
		"extra_urls", cfg.ExtraSourceURLs,
	)

	return cfg
}

func loadPropConfig(logger *slog.Logger) propagation.PropConfig {
	cfg := propagation.PropConfig{
		Workers: runtime.NumCPU(),
		Step:    30 * time.Second,
		Horizon: 600 * time.Second,
	}

	if v := os.Getenv("GNSSSYNTH_PROP_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid GNSSSYNTH_PROP_WORKERS value, using default", "value", v, "default", cfg.Workers)
		} else {
			cfg.Workers = n
		}
	}

	if v := os.Getenv("GNSSSYNTH_KEYFRAME_STEP"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid GNSSSYNTH_KEYFRAME_STEP value, using default", "value", v, "default", 30)
		} else {
			cfg.Step = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("GNSSSYNTH_KEYFRAME_HORIZON"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid GNSSSYNTH_KEYFRAME_HORIZON value, using default", "value", v, "default", 600)
		} else {
			cfg.Horizon = time.Duration(n) * time.Second
		}
	}

	logger.Info("propagation config",
		"workers", cfg.Workers,
		"step_seconds", cfg.Step.Seconds(),
		"horizon_seconds", cfg.Horizon.Seconds(),
	)

	return cfg
}

func loadStreamConfig(logger *slog.Logger) stream.Config {
	cfg := stream.Config{
		MaxConcurrentPerIP: 10,
		MaxConcurrentTotal: 1000,
		KeepaliveInterval:  30 * time.Second,
	}

	if v := os.Getenv("GNSSSYNTH_STREAM_MAX_CONCURRENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid GNSSSYNTH_STREAM_MAX_CONCURRENT value, using default", "value", v, "default", 10)
		} else {
			cfg.MaxConcurrentPerIP = n
		}
	}

	if v := os.Getenv("GNSSSYNTH_STREAM_MAX_TOTAL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid GNSSSYNTH_STREAM_MAX_TOTAL value, using default", "value", v, "default", 1000)
		} else {
			cfg.MaxConcurrentTotal = n
		}
	}

	if v := os.Getenv("GNSSSYNTH_STREAM_KEEPALIVE_INTERVAL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid GNSSSYNTH_STREAM_KEEPALIVE_INTERVAL value, using default", "value", v, "default", 30)
		} else {
			cfg.KeepaliveInterval = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("GNSSSYNTH_STREAM_TRUST_PROXY"); v != "" {
		trust, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warn("invalid GNSSSYNTH_STREAM_TRUST_PROXY value, using default", "value", v, "default", false)
		} else {
			cfg.TrustProxy = trust
		}
	}

	logger.Info("stream config",
		"max_concurrent_per_ip", cfg.MaxConcurrentPerIP,
		"max_concurrent_total", cfg.MaxConcurrentTotal,
		"keepalive_interval_seconds", cfg.KeepaliveInterval.Seconds(),
		"trust_proxy", cfg.TrustProxy,
	)

	return cfg
}
