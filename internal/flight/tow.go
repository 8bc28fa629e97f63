package flight

import (
	"context"
	"math"
	"time"

	"flighttrace/internal/fix"
	"flighttrace/internal/geo"
	"flighttrace/internal/store"
)

// Tow pairing and release thresholds.
const (
	TowPairHorizontalMeters    = 200.0
	TowPairAltitudeDeltaFt     = 200.0
	TowReleaseSeparationFt     = 500.0
	TowReleaseHeadingDeltaDeg  = 45.0
	TowReleaseHorizontalMeters = 100.0
	TowContactLostTimeout      = 30 * time.Second

	feetPerMeter = 3.28084
)

// TowDetector pairs a newly-opened towtug flight with a nearby glider and
// watches an established pairing for release.
type TowDetector struct {
	flights store.FlightStore
	states  *stateTable
}

func newTowDetector(flights store.FlightStore, states *stateTable) *TowDetector {
	return &TowDetector{flights: flights, states: states}
}

// TryPair runs when tug has just opened a new flight. It scans every
// other Active aircraft for a glider within range and, on a match, sets
// TowingInfo on both sides.
func (td *TowDetector) TryPair(tug *AircraftState) {
	if tug.LastFix == nil {
		return
	}
	tugPoint := geo.Point{Lat: tug.LastFix.Latitude, Lon: tug.LastFix.Longitude}

	td.states.forEach(func(candidate *AircraftState) bool {
		if candidate.AircraftID == tug.AircraftID {
			return true
		}
		if candidate.CurrentFlightID == "" || candidate.Towing != nil {
			return true
		}
		if !isGliderCategory(candidate.Category) {
			return true
		}
		if candidate.LastFix == nil {
			return true
		}

		point := geo.Point{Lat: candidate.LastFix.Latitude, Lon: candidate.LastFix.Longitude}
		if geo.DistanceMeters(tugPoint, point) > TowPairHorizontalMeters {
			return true
		}
		if altitudeDeltaFt(tug.LastFix, candidate.LastFix) > TowPairAltitudeDeltaFt {
			return true
		}

		tug.Towing = &TowingInfo{
			PartnerAircraftID: candidate.AircraftID,
			PartnerFlightID:   candidate.CurrentFlightID,
			Role:              TowRoleTowplane,
			LastContact:       candidate.LastFix.Timestamp,
		}
		candidate.Towing = &TowingInfo{
			PartnerAircraftID: tug.AircraftID,
			PartnerFlightID:   tug.CurrentFlightID,
			Role:              TowRoleGlider,
			LastContact:       tug.LastFix.Timestamp,
		}
		return false
	})
}

// CheckRelease evaluates whether the tow pairing involving state should
// end: 3-D separation beyond the threshold, diverging headings at
// distance, or a partner gone quiet for too long. On release it persists
// the glider-side flight's tow_release_altitude_ft/tow_release_time and
// clears the pairing on both in-memory states.
func (td *TowDetector) CheckRelease(ctx context.Context, state *AircraftState) error {
	info := state.Towing
	if info == nil || state.LastFix == nil {
		return nil
	}
	partner := td.states.get(info.PartnerAircraftID)

	var gliderState, towplaneState *AircraftState
	if info.Role == TowRoleGlider {
		gliderState, towplaneState = state, partner
	} else {
		towplaneState, gliderState = state, partner
	}
	if gliderState == nil || gliderState.LastFix == nil {
		return nil
	}

	lostContact := partner == nil || partner.LastFix == nil ||
		state.LastFix.Timestamp.Sub(partner.LastFix.Timestamp) > TowContactLostTimeout

	released := lostContact
	if !released && towplaneState != nil && towplaneState.LastFix != nil {
		released = towSeparated(towplaneState.LastFix, gliderState.LastFix)
	}
	if !released {
		return nil
	}

	releaseFix := gliderState.LastFix
	var releaseAlt int32
	if releaseFix.AltitudeMSLFeet != nil {
		releaseAlt = *releaseFix.AltitudeMSLFeet
	}

	towplaneFlightID := ""
	if towplaneState != nil {
		towplaneFlightID = towplaneState.CurrentFlightID
	} else if info.Role == TowRoleGlider {
		towplaneFlightID = info.PartnerFlightID
	}

	if _, err := td.flights.UpdateTowRelease(ctx, gliderState.CurrentFlightID, towplaneFlightID, releaseAlt, releaseFix.Timestamp); err != nil {
		return err
	}

	gliderState.Towing = nil
	if towplaneState != nil {
		towplaneState.Towing = nil
	}
	return nil
}

// towSeparated reports whether the towplane and glider fixes indicate a
// release: 3-D separation beyond TowReleaseSeparationFt, or headings
// diverging by more than TowReleaseHeadingDeltaDeg while more than
// TowReleaseHorizontalMeters apart.
func towSeparated(towplaneFix, gliderFix *fix.Fix) bool {
	horiz := geo.DistanceMeters(
		geo.Point{Lat: towplaneFix.Latitude, Lon: towplaneFix.Longitude},
		geo.Point{Lat: gliderFix.Latitude, Lon: gliderFix.Longitude},
	)
	vertFt := altitudeDeltaFt(towplaneFix, gliderFix)
	sep3D := math.Sqrt(horiz*horiz*feetPerMeter*feetPerMeter + vertFt*vertFt)
	if sep3D > TowReleaseSeparationFt {
		return true
	}
	if towplaneFix.TrackDegrees != nil && gliderFix.TrackDegrees != nil {
		if geo.HeadingDelta(*towplaneFix.TrackDegrees, *gliderFix.TrackDegrees) > TowReleaseHeadingDeltaDeg && horiz > TowReleaseHorizontalMeters {
			return true
		}
	}
	return false
}

func altitudeDeltaFt(a, b *fix.Fix) float64 {
	if a.AltitudeMSLFeet == nil || b.AltitudeMSLFeet == nil {
		return 0
	}
	d := float64(*a.AltitudeMSLFeet) - float64(*b.AltitudeMSLFeet)
	if d < 0 {
		d = -d
	}
	return d
}
