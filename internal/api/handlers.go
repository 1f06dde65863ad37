package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/star/gnsssynth/internal/almanac"
	"github.com/star/gnsssynth/internal/almanacfile"
	"github.com/star/gnsssynth/internal/cache"
	"github.com/star/gnsssynth/internal/passes"
	"github.com/star/gnsssynth/internal/propagation"
	"github.com/star/gnsssynth/internal/transform"
)

// maxSatelliteHours bounds one pass prediction request: satellites times
// horizon hours.
const maxSatelliteHours = 4800

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// readiness reports ready once every almanac store holds a dataset.
func readiness(stores []*almanacfile.Store) func() error {
	return func() error {
		for _, st := range stores {
			if st.Get() == nil {
				return errors.New("almanac not loaded")
			}
		}
		return nil
	}
}

func statusHandler(p Progress) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p == nil {
			writeError(w, http.StatusServiceUnavailable, "no simulation")
			return
		}
		writeJSON(w, http.StatusOK, p.Status())
	}
}

func slicesHandler(p Progress) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p == nil {
			writeError(w, http.StatusServiceUnavailable, "no simulation")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"slices": p.Slices()})
	}
}

func sliceHandler(p Progress) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p == nil {
			writeError(w, http.StatusServiceUnavailable, "no simulation")
			return
		}
		i, err := strconv.Atoi(r.PathValue("index"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid slice index")
			return
		}
		s, ok := p.Slice(i)
		if !ok {
			writeError(w, http.StatusNotFound, "slice not found")
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

type almanacInfo struct {
	Constellation string    `json:"constellation"`
	Source        string    `json:"source"`
	FetchedAt     time.Time `json:"fetched_at"`
	AgeSeconds    float64   `json:"age_seconds"`
	Satellites    int       `json:"satellites"`
	Healthy       int       `json:"healthy"`
	EpochMin      time.Time `json:"epoch_min"`
	EpochMax      time.Time `json:"epoch_max"`
}

func almanacHandler(stores []*almanacfile.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := make([]almanacInfo, 0, len(stores))
		for _, st := range stores {
			ds := st.Get()
			if ds == nil {
				continue
			}
			info := almanacInfo{
				Constellation: ds.Constellation.String(),
				Source:        ds.Source,
				FetchedAt:     ds.FetchedAt.UTC(),
				AgeSeconds:    st.AgeSeconds(),
				Satellites:    len(ds.Satellites),
				EpochMin:      ds.EpochRange.Min.UTC(),
				EpochMax:      ds.EpochRange.Max.UTC(),
			}
			for _, s := range ds.Satellites {
				if s.IsHealthy {
					info.Healthy++
				}
			}
			out = append(out, info)
		}
		writeJSON(w, http.StatusOK, map[string]any{"almanacs": out})
	}
}

func cacheStatsHandler(logger *slog.Logger, bases []*almanac.Base) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := make(map[string][]cache.Stats, len(bases))
		for _, b := range bases {
			stats, err := b.CacheStats()
			if err != nil {
				logger.Warn("cache stats unavailable", "constellation", b.Constellation().String(), "error", err)
				writeError(w, http.StatusServiceUnavailable, "cache busy")
				return
			}
			out[b.Constellation().String()] = stats
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// parseTime reads an RFC 3339 query parameter, defaulting to now.
func parseTime(r *http.Request, key string) (time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return time.Now().UTC(), nil
	}
	return time.Parse(time.RFC3339, v)
}

type skySatellite struct {
	propagation.SatellitePosition
	ElevationDeg float64 `json:"elevation_deg"`
	AzimuthDeg   float64 `json:"azimuth_deg"`
}

// parseFrame reads the frame parameter: ECEF (default) or ECI.
func parseFrame(r *http.Request) (string, bool) {
	switch f := strings.ToUpper(r.URL.Query().Get("frame")); f {
	case "", "ECEF":
		return "ECEF", true
	case "ECI":
		return f, true
	}
	return "", false
}

// skySatellites adds look angles from obs to every satellite of kf. In the
// ECI frame positions and velocities are rotated by the sidereal angle of
// the keyframe time; look angles always come from the Earth-fixed state.
func skySatellites(kf *propagation.Keyframe, obs transform.Observer, frame string, visibleOnly bool) []skySatellite {
	sats := make([]skySatellite, 0, len(kf.Satellites))
	for _, s := range kf.Satellites {
		ecef := transform.State{
			Position: transform.Vec3{X: s.PositionECEF[0], Y: s.PositionECEF[1], Z: s.PositionECEF[2]},
			Velocity: transform.Vec3{X: s.VelocityECEF[0], Y: s.VelocityECEF[1], Z: s.VelocityECEF[2]},
		}
		la := obs.Look(ecef.Position)
		if visibleOnly && la.Elevation < 0 {
			continue
		}
		if frame == "ECI" {
			eci := transform.ECEFToECI(ecef, kf.Timestamp)
			s.PositionECEF = [3]float64{eci.Position.X, eci.Position.Y, eci.Position.Z}
			s.VelocityECEF = [3]float64{eci.Velocity.X, eci.Velocity.Y, eci.Velocity.Z}
		}
		sats = append(sats, skySatellite{
			SatellitePosition: s,
			ElevationDeg:      la.Elevation * 180 / math.Pi,
			AzimuthDeg:        la.Azimuth * 180 / math.Pi,
		})
	}
	return sats
}

func keyframeError(logger *slog.Logger, w http.ResponseWriter, err error) {
	if errors.Is(err, propagation.ErrNoAlmanac) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	logger.Warn("sky keyframe failed", "error", err)
	writeError(w, http.StatusInternalServerError, "propagation failed")
}

// skyHandler serves almanac positions with look angles from the receiver.
// GET /api/v1/sky?t=2024-06-01T00:00:00Z&visible=true&frame=eci
func skyHandler(logger *slog.Logger, sky *propagation.Sky, rx transform.Geodetic) http.HandlerFunc {
	obs := transform.NewObserverGeodetic(rx)
	return func(w http.ResponseWriter, r *http.Request) {
		if sky == nil {
			writeError(w, http.StatusServiceUnavailable, "sky view disabled")
			return
		}
		t, err := parseTime(r, "t")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid t parameter, must be RFC 3339")
			return
		}
		frame, ok := parseFrame(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid frame parameter, must be ECEF or ECI")
			return
		}

		kf, err := sky.PropagateToTime(r.Context(), t)
		if err != nil {
			keyframeError(logger, w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"t":          kf.Timestamp.UTC().Format(time.RFC3339),
			"frame":      frame,
			"satellites": skySatellites(kf, obs, frame, r.URL.Query().Get("visible") == "true"),
		})
	}
}

// skyTrackHandler serves keyframes over the configured horizon.
// GET /api/v1/sky/track?start=2024-06-01T00:00:00Z&visible=true&frame=ecef
func skyTrackHandler(logger *slog.Logger, sky *propagation.Sky, rx transform.Geodetic) http.HandlerFunc {
	obs := transform.NewObserverGeodetic(rx)
	return func(w http.ResponseWriter, r *http.Request) {
		if sky == nil {
			writeError(w, http.StatusServiceUnavailable, "sky view disabled")
			return
		}
		start, err := parseTime(r, "start")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid start parameter, must be RFC 3339")
			return
		}
		frame, ok := parseFrame(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid frame parameter, must be ECEF or ECI")
			return
		}

		kfs, err := sky.GenerateKeyframes(r.Context(), start)
		if err != nil {
			keyframeError(logger, w, err)
			return
		}
		visibleOnly := r.URL.Query().Get("visible") == "true"
		type frameJSON struct {
			T          string         `json:"t"`
			Satellites []skySatellite `json:"satellites"`
		}
		frames := make([]frameJSON, 0, len(kfs))
		for _, kf := range kfs {
			frames = append(frames, frameJSON{
				T:          kf.Timestamp.UTC().Format(time.RFC3339),
				Satellites: skySatellites(kf, obs, frame, visibleOnly),
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"frame":     frame,
			"keyframes": frames,
		})
	}
}

// passesHandler predicts passes of every loaded almanac satellite.
// GET /api/v1/passes?start=...&hours=12&min_elevation=5&max_passes=10
func passesHandler(stores []*almanacfile.Store, rx transform.Geodetic) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		start, err := parseTime(r, "start")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid start parameter, must be RFC 3339")
			return
		}

		hours := 12.0
		if v := q.Get("hours"); v != "" {
			h, err := strconv.ParseFloat(v, 64)
			if err != nil || h <= 0 || h > 48 {
				writeError(w, http.StatusBadRequest, "invalid hours parameter, must be in (0, 48]")
				return
			}
			hours = h
		}

		minEl := 5.0
		if v := q.Get("min_elevation"); v != "" {
			e, err := strconv.ParseFloat(v, 64)
			if err != nil || e < 0 || e > 90 {
				writeError(w, http.StatusBadRequest, "invalid min_elevation parameter, must be 0-90")
				return
			}
			minEl = e
		}

		maxPasses := 10
		if v := q.Get("max_passes"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > 50 {
				writeError(w, http.StatusBadRequest, "invalid max_passes parameter, must be 1-50")
				return
			}
			maxPasses = n
		}

		var sats []*almanac.Satellite
		for _, st := range stores {
			if ds := st.Get(); ds != nil {
				sats = append(sats, ds.Satellites...)
			}
		}
		if len(sats) == 0 {
			writeError(w, http.StatusServiceUnavailable, propagation.ErrNoAlmanac.Error())
			return
		}
		if float64(len(sats))*hours > maxSatelliteHours {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":               "request exceeds prediction budget",
				"max_satellite_hours": maxSatelliteHours,
			})
			return
		}

		results := passes.Predict(r.Context(), passes.Request{
			Observer:     rx,
			Satellites:   sats,
			Start:        start,
			HorizonHours: hours,
			MinElevation: minEl,
			MaxPasses:    maxPasses,
		})
		writeJSON(w, http.StatusOK, map[string]any{
			"start":      start.UTC().Format(time.RFC3339),
			"satellites": results,
		})
	}
}
