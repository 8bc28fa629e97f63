package flight

import (
	"context"
	"testing"
	"time"

	"flighttrace/internal/fix"
	"flighttrace/internal/geo"
	"flighttrace/internal/store"
)

func newTestFinalizer(t *testing.T) (*Finalizer, *store.SQLiteStore) {
	t.Helper()
	s, err := store.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.CreateSchema(context.Background()); err != nil {
		t.Fatalf("CreateSchema() error = %v", err)
	}
	fz := NewFinalizer(s, s, geo.NewAirportIndex(nil), geo.NewRunwayIndex(nil), geo.NewElevationService(t.TempDir()))
	return fz, s
}

// flightFixes builds a steadily climbing track long enough and varied
// enough in altitude/AGL to clear the spurious-flight filter thresholds.
func flightFixes(aircraftID, flightID string, start time.Time) []*fix.Fix {
	var out []*fix.Fix
	alt := int32(500)
	speed := 70.0
	agl := int32(400)
	for i := 0; i < 20; i++ {
		a := alt
		g := agl
		sp := speed
		out = append(out, &fix.Fix{
			AircraftID:       aircraftID,
			FlightID:         flightID,
			Timestamp:        start.Add(time.Duration(i) * 30 * time.Second),
			Latitude:         51.8 + float64(i)*0.01,
			Longitude:        -1.3 + float64(i)*0.01,
			AltitudeMSLFeet:  &a,
			AltitudeAGLFeet:  &g,
			GroundSpeedKnots: &sp,
		})
		alt += 100
		agl += 100
	}
	return out
}

func TestLandPersistsLandingForSubstantialFlight(t *testing.T) {
	fz, s := newTestFinalizer(t)
	ctx := context.Background()
	start := time.Now().UTC()

	fl := &store.Flight{ID: "flight-1", AircraftID: "ac-1"}
	takeoff := start
	fl.TakeoffTime = &takeoff
	if err := s.CreateFlight(ctx, fl); err != nil {
		t.Fatalf("CreateFlight() error = %v", err)
	}

	for _, f := range flightFixes("ac-1", "flight-1", start) {
		if err := s.InsertFix(ctx, f); err != nil {
			t.Fatalf("InsertFix() error = %v", err)
		}
	}

	landingFix := flightFixes("ac-1", "flight-1", start)[19]
	landed, err := fz.Land(ctx, fl, landingFix)
	if err != nil {
		t.Fatalf("Land() error = %v", err)
	}
	if !landed {
		t.Fatal("Land() landed = false, want a genuine landing to be published")
	}

	got, err := s.GetFlight(ctx, "flight-1")
	if err != nil {
		t.Fatalf("GetFlight() error = %v", err)
	}
	if got == nil || got.LandingTime == nil {
		t.Fatal("expected landing_time to be persisted")
	}
	if got.TotalDistanceMeters <= 0 {
		t.Error("expected a positive total distance over a 20-fix track")
	}
}

func TestLandDeletesSpuriousShortFlight(t *testing.T) {
	fz, s := newTestFinalizer(t)
	ctx := context.Background()
	start := time.Now().UTC()

	fl := &store.Flight{ID: "flight-2", AircraftID: "ac-2"}
	takeoff := start
	fl.TakeoffTime = &takeoff
	if err := s.CreateFlight(ctx, fl); err != nil {
		t.Fatalf("CreateFlight() error = %v", err)
	}

	alt := int32(500)
	speed := 5.0
	f1 := &fix.Fix{AircraftID: "ac-2", FlightID: "flight-2", Timestamp: start, Latitude: 51.8, Longitude: -1.3, AltitudeMSLFeet: &alt, GroundSpeedKnots: &speed}
	f2 := &fix.Fix{AircraftID: "ac-2", FlightID: "flight-2", Timestamp: start.Add(10 * time.Second), Latitude: 51.8001, Longitude: -1.3001, AltitudeMSLFeet: &alt, GroundSpeedKnots: &speed}
	for _, f := range []*fix.Fix{f1, f2} {
		if err := s.InsertFix(ctx, f); err != nil {
			t.Fatalf("InsertFix() error = %v", err)
		}
	}

	landed, err := fz.Land(ctx, fl, f2)
	if err != nil {
		t.Fatalf("Land() error = %v", err)
	}
	if landed {
		t.Fatal("Land() landed = true, want a 10-second, low, slow flight judged spurious")
	}

	got, err := s.GetFlight(ctx, "flight-2")
	if err != nil {
		t.Fatalf("GetFlight() error = %v", err)
	}
	if got != nil {
		t.Error("spurious flight row should have been deleted")
	}
}
