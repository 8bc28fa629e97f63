package flight

import (
	"context"
	"time"

	"flighttrace/internal/aircraft"
	"flighttrace/internal/fix"
	"flighttrace/internal/geo"
	"flighttrace/internal/store"
)

// ResumeWindow is the longest gap between a timeout and a fresh active
// fix for which the old flight is resumed rather than a new one opened.
const ResumeWindow = 18 * time.Hour

// InactiveDebounce is the number of consecutive inactive fixes required
// before a flight still at low altitude is treated as landed.
const InactiveDebounce = 5

// TakeoffLookback is the number of trailing cached verdicts that must all
// be inactive for a newly-active fix to be classified as a takeoff
// rather than a mid-flight appearance.
const TakeoffLookback = 3

// FlightStateMachine drives the per-aircraft flight lifecycle: opening,
// continuing, resuming and closing Flight rows as fixes arrive, and
// dispatching tow-pairing on takeoff. One instance is shared across all
// aircraft; per-aircraft ordering is enforced by an internal keyed lock,
// not by giving each aircraft its own goroutine.
type FlightStateMachine struct {
	flights store.FlightStore
	fixes   store.FixStore

	elevation *geo.ElevationService
	finalizer *Finalizer
	tow       *TowDetector

	states *stateTable
	locks  *keyedMutex
}

func NewFlightStateMachine(flights store.FlightStore, fixes store.FixStore, airports *geo.AirportIndex, runways *geo.RunwayIndex, elevation *geo.ElevationService) *FlightStateMachine {
	states := newStateTable()
	return &FlightStateMachine{
		flights:   flights,
		fixes:     fixes,
		elevation: elevation,
		finalizer: NewFinalizer(flights, fixes, airports, runways, elevation),
		tow:       newTowDetector(flights, states),
		states:    states,
		locks:     newKeyedMutex(),
	}
}

// ProcessFix runs the state-transition table for f (already resolved to
// ac.ID) and inserts it. Per-aircraft ordering is guaranteed: a second
// fix for the same aircraft cannot be processed until this call returns.
func (m *FlightStateMachine) ProcessFix(ctx context.Context, f *fix.Fix, ac *aircraft.Aircraft) error {
	unlock := m.locks.Lock(f.AircraftID)
	defer unlock()

	isActive, err := Classify(ctx, m.elevation, f)
	if err != nil {
		return err
	}

	state := m.states.getOrCreate(f.AircraftID)
	state.Category = firstNonEmpty(ac.AircraftCategory, ac.AircraftTypeOGN)

	switch {
	case state.CurrentFlightID != "" && isActive:
		if err := m.continueFlight(ctx, state, f); err != nil {
			return err
		}
	case state.CurrentFlightID == "" && isActive:
		if err := m.openFlight(ctx, state, f); err != nil {
			return err
		}
	case state.CurrentFlightID != "" && !isActive:
		if err := m.handleInactiveWhileFlying(ctx, state, f); err != nil {
			return err
		}
	default:
		// None, false: aircraft on ground, no flight. Fix carries no flight_id.
	}

	f.FlightID = state.CurrentFlightID
	if err := m.fixes.InsertFix(ctx, f); err != nil {
		return err
	}

	state.recent.push(isActive)
	state.LastFix = f
	state.LastFixTimestamp = f.Timestamp
	state.LastUpdateWallclock = time.Now()
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// continueFlight handles the Some(F), active row: a callsign change
// closes the current flight (landing-less) and opens a new one; otherwise
// the flight simply continues, and an established tow pairing is checked
// for release.
func (m *FlightStateMachine) continueFlight(ctx context.Context, state *AircraftState, f *fix.Fix) error {
	if f.Callsign != "" && state.CurrentCallsign != "" && f.Callsign != state.CurrentCallsign {
		if err := m.closeWithoutLanding(ctx, state, f); err != nil {
			return err
		}
		return m.openFlight(ctx, state, f)
	}

	state.CurrentCallsign = f.Callsign
	if _, err := m.flights.TouchFlightLastFixAt(ctx, state.CurrentFlightID, f.Timestamp); err != nil {
		return err
	}
	if state.Towing != nil {
		if err := m.tow.CheckRelease(ctx, state); err != nil {
			return err
		}
	}
	return nil
}

// ClosedReasonCallsignChange marks a flight closed because the aircraft's
// callsign changed mid-flight, not because it landed.
const ClosedReasonCallsignChange = "callsign_change"

// closeWithoutLanding implements the callsign-change transition: the
// current flight is closed via closed_reason with last_fix_at advanced,
// landing_time left unset, since no landing was observed.
func (m *FlightStateMachine) closeWithoutLanding(ctx context.Context, state *AircraftState, f *fix.Fix) error {
	if _, err := m.flights.CloseFlight(ctx, state.CurrentFlightID, ClosedReasonCallsignChange, f.Timestamp); err != nil {
		return err
	}
	state.CurrentFlightID = ""
	state.CurrentCallsign = ""
	state.Towing = nil
	return nil
}

// openFlight handles the None, active row: resume a recently timed-out
// flight if one matches, otherwise open a new one. Takeoff-side
// resolution (departure airport and altitude offset) only runs when the
// classification is an actual takeoff (trailing fixes inactive), not a
// mid-flight appearance; no takeoff runway is resolved.
func (m *FlightStateMachine) openFlight(ctx context.Context, state *AircraftState, f *fix.Fix) error {
	if resumed, err := m.tryResume(ctx, state, f); err != nil {
		return err
	} else if resumed {
		return nil
	}

	isTakeoff := state.recent.lastNInactive(TakeoffLookback)

	takeoffTime := f.Timestamp
	fl := &store.Flight{
		AircraftID:  state.AircraftID,
		TakeoffTime: &takeoffTime,
		LastFixAt:   f.Timestamp,
		Callsign:    f.Callsign,
	}
	if isTakeoff {
		m.resolveTakeoff(fl, f)
	}
	if err := m.flights.CreateFlight(ctx, fl); err != nil {
		return err
	}

	state.CurrentFlightID = fl.ID
	state.CurrentCallsign = f.Callsign
	state.TakeoffLat, state.TakeoffLon = f.Latitude, f.Longitude
	state.HaveTakeoffPoint = true

	if isTakeoff && isTowtugCategory(state.Category) {
		m.tow.TryPair(state)
	}
	return nil
}

func (m *FlightStateMachine) resolveTakeoff(fl *store.Flight, f *fix.Fix) {
	if m.finalizer == nil || m.finalizer.airports == nil {
		return
	}
	p := geo.Point{Lat: f.Latitude, Lon: f.Longitude}
	if airport, _, ok := m.finalizer.airports.Nearest(p, AirportRadiusMeters); ok {
		id := airport.ID
		fl.DepartureAirportID = &id
	}
	if m.elevation != nil && f.AltitudeMSLFeet != nil {
		if agl, err := m.elevation.AGLFeet(float64(*f.AltitudeMSLFeet), f.Latitude, f.Longitude); err == nil && agl != nil {
			v := int32(*agl)
			fl.TakeoffAltitudeOffsetFt = &v
		}
	}
}

// tryResume implements the resume-after-timeout path: a recently
// timed-out flight for this aircraft, matching callsign (or both sides
// unset), within the resume window.
func (m *FlightStateMachine) tryResume(ctx context.Context, state *AircraftState, f *fix.Fix) (bool, error) {
	fl, err := m.flights.FindRecentTimedOutFlight(ctx, state.AircraftID, ResumeWindow)
	if err != nil || fl == nil {
		return false, err
	}
	if fl.Callsign != f.Callsign {
		return false, nil
	}

	ok, err := m.flights.ResumeTimedOutFlight(ctx, fl.ID, f.Timestamp)
	if err != nil || !ok {
		return false, err
	}

	state.CurrentFlightID = fl.ID
	state.CurrentCallsign = fl.Callsign
	return true, nil
}

// handleInactiveWhileFlying implements the Some(F), inactive row: slow at
// altitude keeps the flight open; otherwise a run of InactiveDebounce
// consecutive inactive fixes is required before the flight is closed and
// finalized as a landing.
func (m *FlightStateMachine) handleInactiveWhileFlying(ctx context.Context, state *AircraftState, f *fix.Fix) error {
	if f.AltitudeAGLFeet != nil && float64(*f.AltitudeAGLFeet) >= ActiveAGLFeet {
		_, err := m.flights.TouchFlightLastFixAt(ctx, state.CurrentFlightID, f.Timestamp)
		return err
	}
	if !state.recent.lastNInactive(InactiveDebounce - 1) {
		_, err := m.flights.TouchFlightLastFixAt(ctx, state.CurrentFlightID, f.Timestamp)
		return err
	}

	fl, err := m.flights.GetFlight(ctx, state.CurrentFlightID)
	if err != nil {
		return err
	}
	if fl == nil {
		state.CurrentFlightID = ""
		state.Towing = nil
		return nil
	}

	if _, err := m.finalizer.Land(ctx, fl, f); err != nil {
		return err
	}
	state.CurrentFlightID = ""
	state.CurrentCallsign = ""
	state.Towing = nil
	state.HaveTakeoffPoint = false
	return nil
}

// ActiveFlightID reports the flight currently tracked in memory for an
// aircraft, if any, for callers that need a cheap read (e.g. ops status).
func (m *FlightStateMachine) ActiveFlightID(aircraftID string) (string, bool) {
	s := m.states.get(aircraftID)
	if s == nil {
		return "", false
	}
	return s.CurrentFlightID, s.CurrentFlightID != ""
}
