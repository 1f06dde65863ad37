package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gnsssynth_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gnsssynth_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	slicesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gnsssynth_slices_total",
			Help: "Simulation slices by final state.",
		},
		[]string{"result"},
	)

	samplesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gnsssynth_samples_generated_total",
			Help: "Total number of complex samples generated across all channels.",
		},
	)

	generationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gnsssynth_generation_duration_seconds",
			Help:    "Wall time of one channel Generate call.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	signalRMS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gnsssynth_signal_rms",
			Help: "Last measured pre-quantization RMS per channel.",
		},
		[]string{"channel"},
	)

	visibleSatellites = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gnsssynth_visible_satellites",
			Help: "Satellites rendered in the most recent slice.",
		},
		[]string{"constellation"},
	)

	cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gnsssynth_snapshot_cache_hits_total",
			Help: "Ephemeris/almanac snapshot cache hits.",
		},
		[]string{"cache"},
	)

	cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gnsssynth_snapshot_cache_misses_total",
			Help: "Ephemeris/almanac snapshot cache misses.",
		},
		[]string{"cache"},
	)

	cacheEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gnsssynth_snapshot_cache_evictions_total",
			Help: "Ephemeris/almanac snapshot cache evictions.",
		},
		[]string{"cache"},
	)

	bankBuffers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gnsssynth_modulation_buffers_in_use",
			Help: "Modulation bank buffers pinned by live slices.",
		},
	)

	lockTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gnsssynth_lock_timeouts_total",
			Help: "Lock acquisitions that hit the timeout.",
		},
		[]string{"lock"},
	)

	streamConnections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gnsssynth_stream_connections_total",
			Help: "Progress stream connect and disconnect events.",
		},
		[]string{"event"},
	)

	streamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gnsssynth_streams_active",
			Help: "Open progress streams.",
		},
	)

	streamMessages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gnsssynth_stream_messages_total",
			Help: "Progress stream messages sent.",
		},
	)

	streamBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gnsssynth_stream_bytes_total",
			Help: "Progress stream bytes sent.",
		},
	)

	streamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gnsssynth_stream_errors_total",
			Help: "Progress stream errors by reason.",
		},
		[]string{"reason"},
	)

	almanacSatellites = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gnsssynth_almanac_satellites",
			Help: "Satellites in the currently loaded almanac dataset.",
		},
		[]string{"constellation"},
	)

	almanacAge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gnsssynth_almanac_age_seconds",
			Help: "Seconds since the loaded almanac was fetched.",
		},
		[]string{"constellation"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		slicesTotal,
		samplesTotal,
		generationSeconds,
		signalRMS,
		visibleSatellites,
		cacheHits,
		cacheMisses,
		cacheEvictions,
		bankBuffers,
		lockTimeouts,
		streamConnections,
		streamsActive,
		streamMessages,
		streamBytes,
		streamErrors,
		almanacSatellites,
		almanacAge,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncSlices records a slice reaching a final state ("written", "failed").
func IncSlices(result string) { slicesTotal.WithLabelValues(result).Inc() }

// AddSamples adds n generated samples.
func AddSamples(n int) { samplesTotal.Add(float64(n)) }

// ObserveGeneration records the duration of one Generate call.
func ObserveGeneration(d time.Duration) { generationSeconds.Observe(d.Seconds()) }

// SetRMS publishes the measured RMS of a channel.
func SetRMS(channel string, rms float64) { signalRMS.WithLabelValues(channel).Set(rms) }

// SetVisible publishes the number of rendered satellites for a constellation.
func SetVisible(constellation string, n int) {
	visibleSatellites.WithLabelValues(constellation).Set(float64(n))
}

// IncCacheHit, IncCacheMiss and AddCacheEvictions track snapshot caches by name.
func IncCacheHit(cache string)  { cacheHits.WithLabelValues(cache).Inc() }
func IncCacheMiss(cache string) { cacheMisses.WithLabelValues(cache).Inc() }
func AddCacheEvictions(cache string, n int) {
	if n > 0 {
		cacheEvictions.WithLabelValues(cache).Add(float64(n))
	}
}

// SetBankBuffers publishes the number of pinned modulation buffers.
func SetBankBuffers(n int) { bankBuffers.Set(float64(n)) }

// IncLockTimeouts counts a timed-out lock acquisition.
func IncLockTimeouts(name string) { lockTimeouts.WithLabelValues(name).Inc() }

// IncStreamConnections counts a stream "connect" or "disconnect".
func IncStreamConnections(event string) { streamConnections.WithLabelValues(event).Inc() }

// IncStreamsActive and DecStreamsActive track open streams.
func IncStreamsActive() { streamsActive.Inc() }
func DecStreamsActive() { streamsActive.Dec() }

// IncStreamMessages counts one sent stream message.
func IncStreamMessages() { streamMessages.Inc() }

// AddStreamBytes adds n bytes written to streams.
func AddStreamBytes(n int64) { streamBytes.Add(float64(n)) }

// IncStreamErrors counts a stream error by reason.
func IncStreamErrors(reason string) { streamErrors.WithLabelValues(reason).Inc() }

// SetAlmanacSatellites publishes the size of the loaded almanac.
func SetAlmanacSatellites(constellation string, n int) {
	almanacSatellites.WithLabelValues(constellation).Set(float64(n))
}

// SetAlmanacAge publishes the age of the loaded almanac.
func SetAlmanacAge(constellation string, seconds float64) {
	almanacAge.WithLabelValues(constellation).Set(seconds)
}

var knownRoutes = map[string]bool{
	"/":                       true,
	"/healthz":                true,
	"/readyz":                 true,
	"/metrics":                true,
	"/api/v1/status":          true,
	"/api/v1/slices":          true,
	"/api/v1/almanac":         true,
	"/api/v1/cache/stats":     true,
	"/api/v1/sky":             true,
	"/api/v1/sky/track":       true,
	"/api/v1/passes":          true,
	"/api/v1/stream/progress": true,
}

// normalizeRoute maps request paths onto a bounded label set.
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	const slicePrefix = "/api/v1/slices/"
	if len(path) > len(slicePrefix) && path[:len(slicePrefix)] == slicePrefix {
		if _, err := strconv.Atoi(path[len(slicePrefix):]); err == nil {
			return slicePrefix + "{index}"
		}
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}
