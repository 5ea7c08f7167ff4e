package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"mototaxi/internal/logging"
	"mototaxi/internal/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestMetricsMiddleware_LabelsByRouteTemplate(t *testing.T) {
	router := gin.New()
	router.Use(MetricsMiddleware())
	router.GET("/v1/rides/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	matched := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/v1/rides/:id", "200")
	unmatched := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "unmatched", "404")
	beforeMatched := testutil.ToFloat64(matched)
	beforeUnmatched := testutil.ToFloat64(unmatched)

	for _, path := range []string{"/v1/rides/a", "/v1/rides/b", "/nowhere"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(matched) - beforeMatched; got != 2 {
		t.Errorf("expected 2 requests under the route template, got %v", got)
	}
	if got := testutil.ToFloat64(unmatched) - beforeUnmatched; got != 1 {
		t.Errorf("expected 1 unmatched request, got %v", got)
	}
}

func TestIdempotencyMiddleware_PassesThroughWithoutRedis(t *testing.T) {
	calls := 0
	router := gin.New()
	router.Use(IdempotencyMiddleware(nil, logging.Discard()))
	router.POST("/v1/rides", func(c *gin.Context) {
		calls++
		c.JSON(http.StatusCreated, gin.H{"n": calls})
	})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/rides", strings.NewReader("{}"))
		req.Header.Set(idempotencyHeader, "same-key")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", w.Code)
		}
		if w.Header().Get("Idempotent-Replayed") != "" {
			t.Error("nothing can be replayed without a store")
		}
	}
	if calls != 2 {
		t.Errorf("expected both requests to reach the handler, got %d", calls)
	}
}

func TestIsMutating(t *testing.T) {
	for method, want := range map[string]bool{
		http.MethodGet:    false,
		http.MethodHead:   false,
		http.MethodPost:   true,
		http.MethodPut:    true,
		http.MethodPatch:  true,
		http.MethodDelete: false,
	} {
		if got := isMutating(method); got != want {
			t.Errorf("isMutating(%s) = %v, want %v", method, got, want)
		}
	}
}

func TestCORSMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(CORSMiddleware())
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://app.example.co.mz")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("expected 200 with CORS headers, got %d %v", w.Code, w.Header())
	}

	req = httptest.NewRequest(http.MethodOptions, "/health", nil)
	req.Header.Set("Origin", "https://app.example.co.mz")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Idempotency-Key")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight: expected 204, got %d", w.Code)
	}
	if !strings.Contains(w.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key") {
		t.Errorf("preflight must allow Idempotency-Key, got %q", w.Header().Get("Access-Control-Allow-Headers"))
	}
	if got := w.Header().Get("Access-Control-Max-Age"); got != "86400" {
		t.Errorf("max age = %q, want 86400", got)
	}
}
