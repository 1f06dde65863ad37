package metrics

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNormalizeRoute(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		// Known exact routes.
		{"/healthz", "/healthz"},
		{"/readyz", "/readyz"},
		{"/metrics", "/metrics"},
		{"/", "/"},
		{"/api/v1/status", "/api/v1/status"},
		{"/api/v1/slices", "/api/v1/slices"},
		{"/api/v1/almanac", "/api/v1/almanac"},
		{"/api/v1/cache/stats", "/api/v1/cache/stats"},
		{"/api/v1/sky", "/api/v1/sky"},
		{"/api/v1/sky/track", "/api/v1/sky/track"},
		{"/api/v1/passes", "/api/v1/passes"},
		{"/api/v1/stream/progress", "/api/v1/stream/progress"},

		// Parameterized slice routes collapse to one label.
		{"/api/v1/slices/0", "/api/v1/slices/{index}"},
		{"/api/v1/slices/17", "/api/v1/slices/{index}"},
		{"/api/v1/slices/99999", "/api/v1/slices/{index}"},

		// Unknown/bot paths collapse to "other".
		{"/api/v1/slices/abc", "other"},
		{"/wp-admin", "other"},
		{"/robots.txt", "other"},
		{"/.env", "other"},
		{"/api/v2/something", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := normalizeRoute(tt.path)
			if got != tt.want {
				t.Errorf("normalizeRoute(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

// TestMetricsCardinality verifies that 100 slice indices produce
// exactly 1 distinct path label, not 100.
func TestMetricsCardinality(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		seen[normalizeRoute("/api/v1/slices/"+strconv.Itoa(i))] = true
	}
	if len(seen) != 1 {
		t.Errorf("expected 1 unique label for parameterized paths, got %d: %v", len(seen), seen)
	}
}

func TestLockTimeoutCounter(t *testing.T) {
	before := testutil.ToFloat64(lockTimeouts.WithLabelValues("test-lock"))
	IncLockTimeouts("test-lock")
	IncLockTimeouts("test-lock")
	if got := testutil.ToFloat64(lockTimeouts.WithLabelValues("test-lock")) - before; got != 2 {
		t.Errorf("lock timeouts delta = %v, want 2", got)
	}
}

func TestStreamGauge(t *testing.T) {
	before := testutil.ToFloat64(streamsActive)
	IncStreamsActive()
	IncStreamsActive()
	DecStreamsActive()
	if got := testutil.ToFloat64(streamsActive) - before; got != 1 {
		t.Errorf("active streams delta = %v, want 1", got)
	}
}

func TestMiddlewareUsesNormalizedRoute(t *testing.T) {
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("other", "GET", "418"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/nope", nil))
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("other", "GET", "418")) - before; got != 1 {
		t.Errorf("request counter delta = %v, want 1", got)
	}
}
