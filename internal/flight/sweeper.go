package flight

import (
	"context"
	"log"
	"math"
	"time"

	"flighttrace/internal/store"
)

// DefaultCheckInterval and DefaultTimeout are the sweep cadence and the
// quiet period after which an aircraft's flight is timed out.
const (
	DefaultCheckInterval = 60 * time.Second
	DefaultTimeout       = 5 * time.Minute
)

// TimeoutSweeper periodically walks the in-memory aircraft states and
// times out any whose flight has gone quiet for longer than Timeout. The
// flight row itself is left intact (eligible for resumption); only the
// in-memory entry is cleared.
type TimeoutSweeper struct {
	machine       *FlightStateMachine
	flights       store.FlightStore
	fixes         store.FixStore
	CheckInterval time.Duration
	Timeout       time.Duration
}

func NewTimeoutSweeper(machine *FlightStateMachine, flights store.FlightStore, fixes store.FixStore) *TimeoutSweeper {
	return &TimeoutSweeper{
		machine:       machine,
		flights:       flights,
		fixes:         fixes,
		CheckInterval: DefaultCheckInterval,
		Timeout:       DefaultTimeout,
	}
}

// Run ticks at CheckInterval until ctx is cancelled.
func (s *TimeoutSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single pass, returning the number of flights timed out.
func (s *TimeoutSweeper) SweepOnce(ctx context.Context) int {
	now := time.Now()
	timedOut := 0

	for _, st := range s.machine.states.snapshot() {
		if st.CurrentFlightID == "" {
			continue
		}
		if now.Sub(st.LastUpdateWallclock) <= s.Timeout {
			continue
		}

		unlock := s.machine.locks.Lock(st.AircraftID)
		if st.CurrentFlightID == "" || now.Sub(st.LastUpdateWallclock) <= s.Timeout {
			unlock()
			continue
		}

		flightID := st.CurrentFlightID
		timedOutAt := st.LastFixTimestamp
		ok, err := s.flights.TimeoutFlight(ctx, flightID, timedOutAt)
		if err != nil {
			log.Printf("flight: timeout sweep for %s: %v", st.AircraftID, err)
			unlock()
			continue
		}
		if !ok {
			// Already closed by a landing racing the sweep; benign.
			unlock()
			continue
		}

		s.logBoundingBox(ctx, flightID)

		st.CurrentFlightID = ""
		st.CurrentCallsign = ""
		st.Towing = nil
		s.machine.states.remove(st.AircraftID)
		timedOut++
		unlock()
	}

	return timedOut
}

// logBoundingBox is a best-effort diagnostic; failure to fetch fixes does
// not affect the timeout transition itself.
func (s *TimeoutSweeper) logBoundingBox(ctx context.Context, flightID string) {
	if s.fixes == nil {
		return
	}
	fixes, err := s.fixes.GetFixesForFlight(ctx, flightID, 0)
	if err != nil || len(fixes) == 0 {
		return
	}
	minLat, maxLat := fixes[0].Latitude, fixes[0].Latitude
	minLon, maxLon := fixes[0].Longitude, fixes[0].Longitude
	for _, f := range fixes[1:] {
		minLat = math.Min(minLat, f.Latitude)
		maxLat = math.Max(maxLat, f.Latitude)
		minLon = math.Min(minLon, f.Longitude)
		maxLon = math.Max(maxLon, f.Longitude)
	}
	log.Printf("flight: timed out %s, bounding box (%.4f,%.4f)-(%.4f,%.4f)", flightID, minLat, minLon, maxLat, maxLon)
}
