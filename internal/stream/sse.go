// Package stream implements Server-Sent Events (SSE) streaming of simulation
// progress. Clients connect via GET /api/v1/stream/progress and receive the
// pipeline status at a fixed interval until the run finishes.
//
// Every event carries an increasing id; a reconnecting client's
// Last-Event-ID continues the numbering. The first event is metadata:
//
//	id: 1
//	event: metadata
//	data: {"type":"metadata","run_id":"...","slices_total":60}
//
// followed by progress events whenever the status changed since the last one:
//
//	id: 2
//	event: progress
//	data: {"type":"progress","run_id":"...","state":"running","slices_written":3,...}
//
// Keep-alive comments (:\n\n) are sent every KeepaliveInterval without an
// event. The stream closes after the event reporting a finished or failed run.
package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/star/gnsssynth/internal/httputil"
	"github.com/star/gnsssynth/internal/metrics"
	"github.com/star/gnsssynth/internal/simulation"
)

// Config holds streaming configuration loaded from environment variables.
type Config struct {
	MaxConcurrentPerIP int           // Max concurrent streams per IP (default: 10).
	MaxConcurrentTotal int           // Max concurrent streams overall (default: 1000).
	KeepaliveInterval  time.Duration // Keep-alive ping interval (default: 30s).
	TrustProxy         bool          // Read client IPs from proxy headers.
}

// StatusSource reports pipeline progress.
type StatusSource interface {
	Status() simulation.Status
}

// Handler manages SSE streaming connections.
type Handler struct {
	source  StatusSource
	config  Config
	limiter *streamLimiter
	logger  *slog.Logger
}

// NewHandler creates a new streaming handler.
func NewHandler(source StatusSource, config Config, logger *slog.Logger) *Handler {
	return &Handler{
		source:  source,
		config:  config,
		limiter: newStreamLimiter(config.MaxConcurrentPerIP, config.MaxConcurrentTotal),
		logger:  logger,
	}
}

// HandleProgress serves the SSE progress stream.
// GET /api/v1/stream/progress?interval=1
func (h *Handler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	interval := 1
	if v := r.URL.Query().Get("interval"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 60 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid interval parameter, must be 1-60"})
			return
		}
		interval = n
	}

	// Rate limiting: enforce concurrent stream limit per IP.
	ip := httputil.ClientIP(r, h.config.TrustProxy)
	if err := h.limiter.acquire(ip); err != nil {
		reason := "rate_limit_ip"
		if err == errTotalLimit {
			reason = "rate_limit_total"
		}
		metrics.IncStreamErrors(reason)
		h.logger.Warn("stream rate limit exceeded",
			"remote_ip", ip,
			"current_count", h.limiter.count(ip),
			"active_streams", h.limiter.active(),
		)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	metrics.IncStreamConnections("connect")
	metrics.IncStreamsActive()

	startTime := time.Now()
	h.logger.Info("stream connected",
		"remote_ip", ip,
		"user_agent", r.Header.Get("User-Agent"),
		"interval", interval,
	)

	defer func() {
		h.limiter.release(ip)
		metrics.IncStreamConnections("disconnect")
		metrics.DecStreamsActive()
		h.logger.Info("stream disconnected",
			"remote_ip", ip,
			"duration_seconds", int(time.Since(startTime).Seconds()),
		)
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Clear the server's default WriteTimeout for this long-lived connection.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	c := newEventWriter(w, rc, r.Header.Get("Last-Event-ID"), h.logger)

	// Jittered retry interval (3-7s) spreads reconnections after a restart.
	retryMs := 3000 + rand.Intn(4000)
	fmt.Fprintf(w, "retry: %d\n\n", retryMs)
	flusher.Flush()

	st := h.source.Status()
	meta := metadataMessage{
		Type:        "metadata",
		RunID:       st.RunID,
		SlicesTotal: st.SlicesTotal,
	}
	if err := c.event("metadata", meta); err != nil {
		metrics.IncStreamErrors("send_error")
		h.logger.Warn("stream send error (metadata)", "remote_ip", ip, "error", err)
		return
	}

	ticker := time.NewTicker(time.Duration(interval) * time.Second)
	defer ticker.Stop()

	keepaliveTicker := time.NewTicker(h.config.KeepaliveInterval)
	defer keepaliveTicker.Stop()

	ctx := r.Context()
	for {
		if done, err := c.progress(h.source.Status()); err != nil {
			metrics.IncStreamErrors("send_error")
			h.logger.Warn("stream send error", "remote_ip", ip, "error", err)
			return
		} else if done {
			return
		}
		keepaliveTicker.Reset(h.config.KeepaliveInterval)

	wait:
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				break wait
			case <-keepaliveTicker.C:
				if err := c.keepalive(); err != nil {
					metrics.IncStreamErrors("send_error")
					h.logger.Warn("stream keepalive error", "remote_ip", ip, "error", err)
					return
				}
			}
		}
	}
}

func buildProgressMessage(st simulation.Status) progressMessage {
	return progressMessage{Type: "progress", Status: st}
}

// SSE message payload types.

type metadataMessage struct {
	Type        string `json:"type"`
	RunID       string `json:"run_id"`
	SlicesTotal int    `json:"slices_total"`
}

type progressMessage struct {
	Type string `json:"type"`
	simulation.Status
}
