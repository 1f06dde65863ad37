package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/star/gnsssynth/internal/simulation"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

type fakeSource struct {
	mu     sync.Mutex
	status simulation.Status
}

func (f *fakeSource) Status() simulation.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func testSource(state string) *fakeSource {
	return &fakeSource{status: simulation.Status{
		RunID:         "3f1c1f0e-7d3a-4c55-9d7e-0d6f9b1f2a10",
		State:         state,
		SlicesTotal:   60,
		SlicesWritten: 12,
		Visible:       9,
	}}
}

func testConfig() Config {
	return Config{
		MaxConcurrentPerIP: 10,
		KeepaliveInterval:  30 * time.Second,
	}
}

// dataMessages returns the JSON payloads of the SSE body.
func dataMessages(t *testing.T, body string) []map[string]any {
	t.Helper()
	var msgs []map[string]any
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var msg map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg); err != nil {
			t.Errorf("invalid JSON in SSE data line: %v", err)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

// TestBuildProgressMessage verifies the status fields are flattened into the payload.
func TestBuildProgressMessage(t *testing.T) {
	data, err := json.Marshal(buildProgressMessage(testSource("running").Status()))
	if err != nil {
		t.Fatal(err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatal(err)
	}
	if parsed["type"] != "progress" {
		t.Errorf("type = %v, want progress", parsed["type"])
	}
	if parsed["state"] != "running" {
		t.Errorf("state = %v, want running", parsed["state"])
	}
	if parsed["slices_written"].(float64) != 12 {
		t.Errorf("slices_written = %v, want 12", parsed["slices_written"])
	}
	if parsed["visible_satellites"].(float64) != 9 {
		t.Errorf("visible_satellites = %v, want 9", parsed["visible_satellites"])
	}
}

// TestStreamEndsWhenFinished verifies the SSE wire format and that a
// finished run closes the stream.
func TestStreamEndsWhenFinished(t *testing.T) {
	handler := NewHandler(testSource("finished"), testConfig(), testLogger())

	req := httptest.NewRequest("GET", "/api/v1/stream/progress", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
	defer cancel()
	req = req.WithContext(ctx)

	w := httptest.NewRecorder()
	start := time.Now()
	handler.HandleProgress(w, req)
	if time.Since(start) > 2*time.Second {
		t.Error("stream of a finished run should close immediately")
	}

	resp := w.Result()
	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", resp.Header.Get("Content-Type"))
	}
	if resp.Header.Get("Cache-Control") != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", resp.Header.Get("Cache-Control"))
	}

	msgs := dataMessages(t, w.Body.String())
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want metadata and one progress", len(msgs))
	}
	if msgs[0]["type"] != "metadata" || msgs[0]["slices_total"].(float64) != 60 {
		t.Errorf("first message = %v, want metadata with slices_total 60", msgs[0])
	}
	if msgs[1]["type"] != "progress" || msgs[1]["state"] != "finished" {
		t.Errorf("second message = %v, want finished progress", msgs[1])
	}

	for _, line := range strings.Split(w.Body.String(), "\n") {
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "data: ") && !strings.HasPrefix(line, "retry: ") &&
			!strings.HasPrefix(line, "id: ") && !strings.HasPrefix(line, "event: ") && line != ":" {
			t.Errorf("unexpected SSE line: %q", line)
		}
	}
}

// TestStreamFollowsProgress verifies updates are sent until the client leaves.
func TestStreamFollowsProgress(t *testing.T) {
	src := testSource("running")
	handler := NewHandler(src, testConfig(), testLogger())

	req := httptest.NewRequest("GET", "/api/v1/stream/progress?interval=1", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	ctx, cancel := context.WithTimeout(req.Context(), 1500*time.Millisecond)
	defer cancel()
	req = req.WithContext(ctx)

	go func() {
		time.Sleep(500 * time.Millisecond)
		src.mu.Lock()
		src.status.SlicesWritten = 13
		src.mu.Unlock()
	}()

	w := httptest.NewRecorder()
	handler.HandleProgress(w, req)

	msgs := dataMessages(t, w.Body.String())
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want metadata and two progress updates", len(msgs))
	}
	if msgs[2]["slices_written"].(float64) != 13 {
		t.Errorf("last slices_written = %v, want 13", msgs[2]["slices_written"])
	}
	if c := handler.limiter.count("127.0.0.1"); c != 0 {
		t.Errorf("limiter slot not released: %d", c)
	}
}

// TestRateLimiting verifies per-IP concurrent stream limits.
func TestRateLimiting(t *testing.T) {
	limiter := newStreamLimiter(3, 0)

	for i := 0; i < 3; i++ {
		if err := limiter.acquire("10.0.0.1"); err != nil {
			t.Fatalf("acquire %d: %v", i+1, err)
		}
	}
	if err := limiter.acquire("10.0.0.1"); err != errIPLimit {
		t.Errorf("acquire beyond limit = %v, want errIPLimit", err)
	}
	if err := limiter.acquire("10.0.0.2"); err != nil {
		t.Error("different IP should not be rate limited")
	}

	limiter.release("10.0.0.1")
	if err := limiter.acquire("10.0.0.1"); err != nil {
		t.Error("acquire after release should succeed")
	}
	if c := limiter.count("10.0.0.1"); c != 3 {
		t.Errorf("count = %d, want 3", c)
	}
	if c := limiter.count("10.0.0.2"); c != 1 {
		t.Errorf("count = %d, want 1", c)
	}
	if n := limiter.active(); n != 4 {
		t.Errorf("active = %d, want 4", n)
	}
}

// TestRateLimitingTotal verifies the global cap applies across addresses.
func TestRateLimitingTotal(t *testing.T) {
	limiter := newStreamLimiter(5, 2)
	if err := limiter.acquire("10.0.0.1"); err != nil {
		t.Fatal(err)
	}
	if err := limiter.acquire("10.0.0.2"); err != nil {
		t.Fatal(err)
	}
	if err := limiter.acquire("10.0.0.3"); err != errTotalLimit {
		t.Errorf("acquire beyond total = %v, want errTotalLimit", err)
	}
	limiter.release("10.0.0.2")
	limiter.release("10.0.0.2")
	if n := limiter.active(); n != 1 {
		t.Errorf("active after releases = %d, want 1", n)
	}
}

// TestRateLimitingConcurrent verifies rate limiter thread safety.
func TestRateLimitingConcurrent(t *testing.T) {
	limiter := newStreamLimiter(100, 0)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.acquire("10.0.0.1") == nil {
				defer limiter.release("10.0.0.1")
				time.Sleep(10 * time.Millisecond)
			}
		}()
	}
	wg.Wait()

	if c := limiter.count("10.0.0.1"); c != 0 {
		t.Errorf("count after all released = %d, want 0", c)
	}
}

// TestRateLimitHTTPResponse verifies 429 response when limit exceeded.
func TestRateLimitHTTPResponse(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentPerIP = 1
	handler := NewHandler(testSource("running"), cfg, testLogger())

	ready := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		req := httptest.NewRequest("GET", "/api/v1/stream/progress", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		ctx, cancel := context.WithCancel(req.Context())
		req = req.WithContext(ctx)
		w := httptest.NewRecorder()

		go func() {
			time.Sleep(50 * time.Millisecond)
			close(ready)
			time.Sleep(200 * time.Millisecond)
			cancel()
		}()

		handler.HandleProgress(w, req)
	}()

	<-ready

	req := httptest.NewRequest("GET", "/api/v1/stream/progress", nil)
	req.RemoteAddr = "10.0.0.1:54321"
	w := httptest.NewRecorder()
	handler.HandleProgress(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}

	<-done
}

// TestInvalidQueryParams verifies error responses for bad interval values.
func TestInvalidQueryParams(t *testing.T) {
	handler := NewHandler(testSource("running"), testConfig(), testLogger())

	tests := []struct {
		name  string
		query string
	}{
		{"zero interval", "?interval=0"},
		{"interval too large", "?interval=100"},
		{"interval non-numeric", "?interval=abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/stream/progress"+tt.query, nil)
			req.RemoteAddr = "127.0.0.1:12345"
			w := httptest.NewRecorder()
			handler.HandleProgress(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

// TestStreamSkipsUnchangedStatus verifies that ticks without progress send
// no event and that event ids continue from Last-Event-ID.
func TestStreamSkipsUnchangedStatus(t *testing.T) {
	handler := NewHandler(testSource("running"), testConfig(), testLogger())

	req := httptest.NewRequest("GET", "/api/v1/stream/progress?interval=1", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	req.Header.Set("Last-Event-ID", "41")
	ctx, cancel := context.WithTimeout(req.Context(), 2500*time.Millisecond)
	defer cancel()
	req = req.WithContext(ctx)

	w := httptest.NewRecorder()
	handler.HandleProgress(w, req)

	body := w.Body.String()
	if msgs := dataMessages(t, body); len(msgs) != 2 {
		t.Fatalf("messages = %d, want metadata and a single progress", len(msgs))
	}
	var ids []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "id: ") {
			ids = append(ids, strings.TrimPrefix(line, "id: "))
		}
	}
	if strings.Join(ids, ",") != "42,43" {
		t.Errorf("event ids = %v, want [42 43]", ids)
	}
	if !strings.Contains(body, "event: metadata\n") || !strings.Contains(body, "event: progress\n") {
		t.Errorf("missing event names in body %q", body)
	}
}
