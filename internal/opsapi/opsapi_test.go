package opsapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"flighttrace/internal/aircraft"
	"flighttrace/internal/fix"
	"flighttrace/internal/flight"
	"flighttrace/internal/geo"
	"flighttrace/internal/pipeline"
	"flighttrace/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := store.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.CreateSchema(context.Background()); err != nil {
		t.Fatalf("CreateSchema() error = %v", err)
	}

	cache := aircraft.NewCache(s, 16)
	machine := flight.NewFlightStateMachine(s, s, geo.NewAirportIndex(nil), geo.NewRunwayIndex(nil), geo.NewElevationService(t.TempDir()))
	pl := pipeline.New(fix.NewNormalizer(), cache, machine, nil)

	return NewServer(pl, cache, machine, Config{Port: 0})
}

func TestHandleHealthReturnsOK(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func TestHandleCacheReturnsCounters(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/debug/cache", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]int64
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, ok := body["hits"]; !ok {
		t.Error("response missing \"hits\" counter")
	}
}

func TestHandleFlightUnknownAircraftReportsInactive(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/debug/flight/does-not-exist", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if active, _ := body["active"].(bool); active {
		t.Error("active = true for an aircraft with no tracked state")
	}
}
