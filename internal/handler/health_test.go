package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }

type fakeCounter struct {
	n   int64
	err error
}

func (c fakeCounter) CountAvailableDrivers(context.Context) (int64, error) { return c.n, c.err }

func serveHealth(h *HealthHandler) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/health", h.Health)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	return w
}

func TestHealth(t *testing.T) {
	w := serveHealth(NewHealthHandler(fakePinger{}, fakeCounter{n: 7}))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["available_drivers"] != float64(7) {
		t.Errorf("expected 7 available drivers, got %v", body["available_drivers"])
	}

	w = serveHealth(NewHealthHandler(fakePinger{}, fakeCounter{err: errors.New("redis down")}))
	if w.Code != http.StatusOK {
		t.Errorf("a failed count must not fail the check, got %d", w.Code)
	}

	w = serveHealth(NewHealthHandler(fakePinger{err: errors.New("db down")}, nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when the database is unreachable, got %d", w.Code)
	}
}
