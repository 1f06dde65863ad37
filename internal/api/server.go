package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/star/gnsssynth/internal/almanac"
	"github.com/star/gnsssynth/internal/almanacfile"
	"github.com/star/gnsssynth/internal/auth"
	"github.com/star/gnsssynth/internal/health"
	"github.com/star/gnsssynth/internal/metrics"
	"github.com/star/gnsssynth/internal/propagation"
	"github.com/star/gnsssynth/internal/simulation"
	"github.com/star/gnsssynth/internal/stream"
	"github.com/star/gnsssynth/internal/transform"
)

// Progress is the view of a running pipeline served by the API.
type Progress interface {
	Status() simulation.Status
	Slices() []simulation.SliceSummary
	Slice(i int) (simulation.SliceSummary, bool)
}

// Deps are the components the API reads from.
type Deps struct {
	Progress Progress
	Stores   []*almanacfile.Store
	Almanacs []*almanac.Base
	Sky      *propagation.Sky
	Receiver transform.Geodetic
	Stream   *stream.Handler
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server.
func NewServer(addr string, logger *slog.Logger, authCfg auth.Config, deps Deps) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(readiness(deps.Stores)))
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/v1/status", statusHandler(deps.Progress))
	mux.HandleFunc("GET /api/v1/slices", slicesHandler(deps.Progress))
	mux.HandleFunc("GET /api/v1/slices/{index}", sliceHandler(deps.Progress))
	mux.HandleFunc("GET /api/v1/almanac", almanacHandler(deps.Stores))
	mux.HandleFunc("GET /api/v1/cache/stats", cacheStatsHandler(logger, deps.Almanacs))
	mux.HandleFunc("GET /api/v1/sky", skyHandler(logger, deps.Sky, deps.Receiver))
	mux.HandleFunc("GET /api/v1/sky/track", skyTrackHandler(logger, deps.Sky, deps.Receiver))
	mux.HandleFunc("GET /api/v1/passes", passesHandler(deps.Stores, deps.Receiver))
	if deps.Stream != nil {
		mux.HandleFunc("GET /api/v1/stream/progress", deps.Stream.HandleProgress)
	}

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(authCfg)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = metrics.Middleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// Flush keeps the progress stream working through the middleware.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", r.RemoteAddr,
			)
		})
	}
}
