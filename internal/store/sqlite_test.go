package store

import (
	"context"
	"testing"
	"time"

	"flighttrace/internal/aircraft"
	"flighttrace/internal/fix"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.CreateSchema(context.Background()); err != nil {
		t.Fatalf("CreateSchema() error = %v", err)
	}
	return s
}

func TestSQLiteUpsertByAddressInsertsThenUpdates(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	ac, err := s.UpsertByAddress(ctx, aircraft.AddressICAO, 0xABCDEF, aircraft.PacketFields{
		AircraftCategory: "glider",
	}, "US", "")
	if err != nil {
		t.Fatalf("UpsertByAddress() error = %v", err)
	}
	if ac.ICAOAddress == nil || *ac.ICAOAddress != 0xABCDEF {
		t.Fatalf("ICAOAddress = %v, want 0xABCDEF", ac.ICAOAddress)
	}
	if ac.AircraftCategory != "glider" {
		t.Errorf("AircraftCategory = %q, want glider", ac.AircraftCategory)
	}

	ac2, err := s.UpsertByAddress(ctx, aircraft.AddressICAO, 0xABCDEF, aircraft.PacketFields{
		AircraftCategory: "towplane",
		AircraftModel:    "Pawnee",
	}, "US", "")
	if err != nil {
		t.Fatalf("second UpsertByAddress() error = %v", err)
	}
	if ac2.ID != ac.ID {
		t.Fatalf("second upsert created a new row: %s != %s", ac2.ID, ac.ID)
	}
	if ac2.AircraftCategory != "towplane" {
		t.Errorf("AircraftCategory not overwritten: got %q", ac2.AircraftCategory)
	}
	if ac2.AircraftModel != "Pawnee" {
		t.Errorf("AircraftModel = %q, want Pawnee", ac2.AircraftModel)
	}
}

func TestSQLiteUpsertByAddressStashesConflictingRegistrationAsPending(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	owner, err := s.UpsertByAddress(ctx, aircraft.AddressICAO, 1, aircraft.PacketFields{Registration: "N12345"}, "US", "")
	if err != nil {
		t.Fatalf("UpsertByAddress(owner) error = %v", err)
	}
	if owner.Registration == nil || *owner.Registration != "N12345" {
		t.Fatalf("owner.Registration = %v, want N12345", owner.Registration)
	}

	dup, err := s.UpsertByAddress(ctx, aircraft.AddressFlarm, 2, aircraft.PacketFields{Registration: "N12345"}, "US", "")
	if err != nil {
		t.Fatalf("UpsertByAddress(dup) error = %v", err)
	}
	if dup.Registration != nil {
		t.Errorf("dup.Registration = %v, want nil (should be pending, not claimed)", dup.Registration)
	}
	if dup.PendingRegistration == nil || *dup.PendingRegistration != "N12345" {
		t.Errorf("dup.PendingRegistration = %v, want N12345", dup.PendingRegistration)
	}
}

func TestSQLiteMergeByRegistrationClaimsEmptySlot(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	owner, err := s.UpsertByAddress(ctx, aircraft.AddressICAO, 100, aircraft.PacketFields{Registration: "N777AB"}, "US", "")
	if err != nil {
		t.Fatalf("UpsertByAddress() error = %v", err)
	}

	merged, ok, err := s.MergeByRegistration(ctx, "N777AB", aircraft.AddressFlarm, 200)
	if err != nil {
		t.Fatalf("MergeByRegistration() error = %v", err)
	}
	if !ok {
		t.Fatal("MergeByRegistration() ok = false, want true")
	}
	if merged.ID != owner.ID {
		t.Errorf("merged.ID = %s, want %s", merged.ID, owner.ID)
	}
	if merged.FlarmAddress == nil || *merged.FlarmAddress != 200 {
		t.Errorf("FlarmAddress = %v, want 200", merged.FlarmAddress)
	}
}

func TestSQLiteMergeByRegistrationFailsWhenSlotAlreadyTaken(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := s.UpsertByAddress(ctx, aircraft.AddressICAO, 1, aircraft.PacketFields{Registration: "N1"}, "US", "")
	if err != nil {
		t.Fatalf("UpsertByAddress() error = %v", err)
	}
	if _, err := s.UpsertByAddress(ctx, aircraft.AddressFlarm, 2, aircraft.PacketFields{}, "US", ""); err != nil {
		t.Fatalf("second UpsertByAddress() error = %v", err)
	}

	_, ok, err := s.MergeByRegistration(ctx, "N1", aircraft.AddressFlarm, 2)
	if err != nil {
		t.Fatalf("MergeByRegistration() error = %v", err)
	}
	if ok {
		t.Error("MergeByRegistration() ok = true, want false (slot already populated on a different row)")
	}
}

func TestSQLiteMergeDuplicateReassignsAndCopiesAddressSlots(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	owner, err := s.UpsertByAddress(ctx, aircraft.AddressFlarm, 10, aircraft.PacketFields{}, "", "")
	if err != nil {
		t.Fatalf("UpsertByAddress(owner) error = %v", err)
	}
	dup, err := s.UpsertByAddress(ctx, aircraft.AddressICAO, 20, aircraft.PacketFields{}, "", "")
	if err != nil {
		t.Fatalf("UpsertByAddress(dup) error = %v", err)
	}

	fl := &Flight{AircraftID: dup.ID, LastFixAt: time.Now().UTC()}
	if err := s.CreateFlight(ctx, fl); err != nil {
		t.Fatalf("CreateFlight() error = %v", err)
	}

	if err := s.MergeDuplicate(ctx, owner.ID, dup.ID); err != nil {
		t.Fatalf("MergeDuplicate() error = %v", err)
	}

	if got, err := s.GetByID(ctx, dup.ID); err != nil || got != nil {
		t.Errorf("duplicate row still exists after merge: got=%v err=%v", got, err)
	}

	merged, err := s.GetByID(ctx, owner.ID)
	if err != nil {
		t.Fatalf("GetByID(owner) error = %v", err)
	}
	if merged.ICAOAddress == nil || *merged.ICAOAddress != 20 {
		t.Errorf("owner.ICAOAddress = %v, want 20 (copied from duplicate)", merged.ICAOAddress)
	}
	if merged.FlarmAddress == nil || *merged.FlarmAddress != 10 {
		t.Errorf("owner.FlarmAddress = %v, want 10 (its own slot preserved)", merged.FlarmAddress)
	}

	movedFlight, err := s.GetFlight(ctx, fl.ID)
	if err != nil {
		t.Fatalf("GetFlight() error = %v", err)
	}
	if movedFlight.AircraftID != owner.ID {
		t.Errorf("flight.AircraftID = %s, want %s (reassigned to owner)", movedFlight.AircraftID, owner.ID)
	}
}

func TestSQLiteTouchLastFixAtOnlyAdvances(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	ac, err := s.UpsertByAddress(ctx, aircraft.AddressICAO, 1, aircraft.PacketFields{}, "", "")
	if err != nil {
		t.Fatalf("UpsertByAddress() error = %v", err)
	}

	later := ac.LastFixAt.Add(time.Hour)
	if err := s.TouchLastFixAt(ctx, ac.ID, later); err != nil {
		t.Fatalf("TouchLastFixAt() error = %v", err)
	}
	earlier := ac.LastFixAt.Add(-time.Hour)
	if err := s.TouchLastFixAt(ctx, ac.ID, earlier); err != nil {
		t.Fatalf("TouchLastFixAt(earlier) error = %v", err)
	}

	got, err := s.GetByID(ctx, ac.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.LastFixAt.Before(earlier.Add(time.Minute)) {
		t.Errorf("LastFixAt = %v, regressed to the earlier touch (want ~%v)", got.LastFixAt, later)
	}
}

func TestSQLiteFlightLifecycle(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	ac, err := s.UpsertByAddress(ctx, aircraft.AddressICAO, 1, aircraft.PacketFields{}, "", "")
	if err != nil {
		t.Fatalf("UpsertByAddress() error = %v", err)
	}

	now := time.Now().UTC()
	fl := &Flight{AircraftID: ac.ID, TakeoffTime: &now, LastFixAt: now, Callsign: "GLD1"}
	if err := s.CreateFlight(ctx, fl); err != nil {
		t.Fatalf("CreateFlight() error = %v", err)
	}
	if fl.ID == "" {
		t.Fatal("CreateFlight() did not assign an id")
	}

	active, err := s.FindActiveFlight(ctx, ac.ID)
	if err != nil {
		t.Fatalf("FindActiveFlight() error = %v", err)
	}
	if active == nil || active.ID != fl.ID {
		t.Fatalf("FindActiveFlight() = %v, want %s", active, fl.ID)
	}
	if active.State() != FlightActive {
		t.Errorf("State() = %v, want FlightActive", active.State())
	}

	ok, err := s.TimeoutFlight(ctx, fl.ID, now.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("TimeoutFlight() error = %v", err)
	}
	if !ok {
		t.Fatal("TimeoutFlight() ok = false, want true")
	}

	if active, err := s.FindActiveFlight(ctx, ac.ID); err != nil || active != nil {
		t.Fatalf("FindActiveFlight() after timeout = %v, %v, want nil, nil", active, err)
	}

	resumeFixAt := now.Add(40 * time.Minute)
	resumed, err := s.ResumeTimedOutFlight(ctx, fl.ID, resumeFixAt)
	if err != nil {
		t.Fatalf("ResumeTimedOutFlight() error = %v", err)
	}
	if !resumed {
		t.Fatal("ResumeTimedOutFlight() ok = false, want true")
	}
	if resumedFlight, err := s.GetFlight(ctx, fl.ID); err != nil {
		t.Fatalf("GetFlight() after resume error = %v", err)
	} else if !resumedFlight.LastFixAt.Equal(resumeFixAt) {
		t.Errorf("LastFixAt after resume = %v, want %v", resumedFlight.LastFixAt, resumeFixAt)
	}

	landing := now.Add(45 * time.Minute)
	fl.LandingTime = &landing
	fl.TotalDistanceMeters = 1500
	landedOK, err := s.UpdateFlightLanding(ctx, fl)
	if err != nil {
		t.Fatalf("UpdateFlightLanding() error = %v", err)
	}
	if !landedOK {
		t.Fatal("UpdateFlightLanding() ok = false, want true")
	}

	got, err := s.GetFlight(ctx, fl.ID)
	if err != nil {
		t.Fatalf("GetFlight() error = %v", err)
	}
	if got.State() != FlightComplete {
		t.Errorf("State() = %v, want FlightComplete", got.State())
	}
	if got.TotalDistanceMeters != 1500 {
		t.Errorf("TotalDistanceMeters = %v, want 1500", got.TotalDistanceMeters)
	}

	// A second landing update must be a no-op: the flight is already closed.
	secondOK, err := s.UpdateFlightLanding(ctx, fl)
	if err != nil {
		t.Fatalf("second UpdateFlightLanding() error = %v", err)
	}
	if secondOK {
		t.Error("second UpdateFlightLanding() ok = true, want false (already landed)")
	}
}

func TestSQLiteUpdateTowRelease(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	glider, err := s.UpsertByAddress(ctx, aircraft.AddressFlarm, 10, aircraft.PacketFields{}, "", "")
	if err != nil {
		t.Fatalf("UpsertByAddress() error = %v", err)
	}
	tug, err := s.UpsertByAddress(ctx, aircraft.AddressFlarm, 11, aircraft.PacketFields{}, "", "")
	if err != nil {
		t.Fatalf("UpsertByAddress() error = %v", err)
	}

	now := time.Now().UTC()
	gliderFlight := &Flight{AircraftID: glider.ID, TakeoffTime: &now, LastFixAt: now, Callsign: "G1"}
	if err := s.CreateFlight(ctx, gliderFlight); err != nil {
		t.Fatalf("CreateFlight() error = %v", err)
	}
	tugFlight := &Flight{AircraftID: tug.ID, TakeoffTime: &now, LastFixAt: now, Callsign: "T1"}
	if err := s.CreateFlight(ctx, tugFlight); err != nil {
		t.Fatalf("CreateFlight() error = %v", err)
	}

	release := now.Add(5 * time.Minute)
	ok, err := s.UpdateTowRelease(ctx, gliderFlight.ID, tugFlight.ID, 2500, release)
	if err != nil {
		t.Fatalf("UpdateTowRelease() error = %v", err)
	}
	if !ok {
		t.Fatal("UpdateTowRelease() ok = false, want true")
	}

	got, err := s.GetFlight(ctx, gliderFlight.ID)
	if err != nil {
		t.Fatalf("GetFlight() error = %v", err)
	}
	if got.TowedByFlightID == nil || *got.TowedByFlightID != tugFlight.ID {
		t.Errorf("TowedByFlightID = %v, want %s", got.TowedByFlightID, tugFlight.ID)
	}
	if got.TowReleaseAltitudeFt == nil || *got.TowReleaseAltitudeFt != 2500 {
		t.Errorf("TowReleaseAltitudeFt = %v, want 2500", got.TowReleaseAltitudeFt)
	}
	if got.TowReleaseTime == nil || !got.TowReleaseTime.Equal(release) {
		t.Errorf("TowReleaseTime = %v, want %v", got.TowReleaseTime, release)
	}
}

func TestSQLiteFindRecentTimedOutFlightRespectsWindow(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	ac, err := s.UpsertByAddress(ctx, aircraft.AddressICAO, 1, aircraft.PacketFields{}, "", "")
	if err != nil {
		t.Fatalf("UpsertByAddress() error = %v", err)
	}

	now := time.Now().UTC()
	fl := &Flight{AircraftID: ac.ID, LastFixAt: now}
	if err := s.CreateFlight(ctx, fl); err != nil {
		t.Fatalf("CreateFlight() error = %v", err)
	}
	if _, err := s.TimeoutFlight(ctx, fl.ID, now); err != nil {
		t.Fatalf("TimeoutFlight() error = %v", err)
	}

	found, err := s.FindRecentTimedOutFlight(ctx, ac.ID, time.Hour)
	if err != nil {
		t.Fatalf("FindRecentTimedOutFlight() error = %v", err)
	}
	if found == nil || found.ID != fl.ID {
		t.Fatalf("FindRecentTimedOutFlight() = %v, want %s", found, fl.ID)
	}

	notFound, err := s.FindRecentTimedOutFlight(ctx, ac.ID, -time.Hour)
	if err != nil {
		t.Fatalf("FindRecentTimedOutFlight(negative window) error = %v", err)
	}
	if notFound != nil {
		t.Errorf("FindRecentTimedOutFlight(negative window) = %v, want nil", notFound)
	}
}

func TestSQLiteFixRoundTripAndClearFlightID(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	ac, err := s.UpsertByAddress(ctx, aircraft.AddressICAO, 1, aircraft.PacketFields{}, "", "")
	if err != nil {
		t.Fatalf("UpsertByAddress() error = %v", err)
	}
	fl := &Flight{AircraftID: ac.ID, LastFixAt: time.Now().UTC()}
	if err := s.CreateFlight(ctx, fl); err != nil {
		t.Fatalf("CreateFlight() error = %v", err)
	}

	now := time.Now().UTC()
	f := &fix.Fix{
		AircraftID:   ac.ID,
		FlightID:     fl.ID,
		Timestamp:    now,
		ReceivedAt:   now,
		Latitude:     51.5,
		Longitude:    -1.2,
		Address:      1,
		AddressType:  fix.AddressICAO,
		IsActive:     true,
		SourceFormat: fix.FormatAPRS,
	}
	if err := s.InsertFix(ctx, f); err != nil {
		t.Fatalf("InsertFix() error = %v", err)
	}
	if f.ID == 0 {
		t.Error("InsertFix() did not assign an id")
	}

	fixes, err := s.GetFixesForFlight(ctx, fl.ID, 0)
	if err != nil {
		t.Fatalf("GetFixesForFlight() error = %v", err)
	}
	if len(fixes) != 1 {
		t.Fatalf("GetFixesForFlight() returned %d fixes, want 1", len(fixes))
	}
	if fixes[0].AddressType != fix.AddressICAO {
		t.Errorf("AddressType = %v, want AddressICAO", fixes[0].AddressType)
	}

	if err := s.ClearFlightIDOnFixes(ctx, fl.ID); err != nil {
		t.Fatalf("ClearFlightIDOnFixes() error = %v", err)
	}
	cleared, err := s.GetFixesForAircraftInTimeRange(ctx, ac.ID, now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("GetFixesForAircraftInTimeRange() error = %v", err)
	}
	if len(cleared) != 1 {
		t.Fatalf("GetFixesForAircraftInTimeRange() returned %d fixes, want 1", len(cleared))
	}
	if cleared[0].FlightID != "" {
		t.Errorf("FlightID = %q after ClearFlightIDOnFixes, want empty", cleared[0].FlightID)
	}
}

func TestSQLitePendingRegistrationWorkflow(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	ac, err := s.UpsertByAddress(ctx, aircraft.AddressICAO, 1, aircraft.PacketFields{Registration: "N99ZZ"}, "US", "")
	if err != nil {
		t.Fatalf("UpsertByAddress(owner) error = %v", err)
	}
	dup, err := s.UpsertByAddress(ctx, aircraft.AddressFlarm, 2, aircraft.PacketFields{Registration: "N99ZZ"}, "US", "")
	if err != nil {
		t.Fatalf("UpsertByAddress(dup) error = %v", err)
	}

	pending, err := s.FindPendingRegistrations(ctx)
	if err != nil {
		t.Fatalf("FindPendingRegistrations() error = %v", err)
	}
	if len(pending) != 1 || pending[0].ID != dup.ID {
		t.Fatalf("FindPendingRegistrations() = %v, want just %s", pending, dup.ID)
	}

	owner, err := s.FindOwnerOfRegistration(ctx, "N99ZZ", dup.ID)
	if err != nil {
		t.Fatalf("FindOwnerOfRegistration() error = %v", err)
	}
	if owner == nil || owner.ID != ac.ID {
		t.Fatalf("FindOwnerOfRegistration() = %v, want %s", owner, ac.ID)
	}
}

func TestSQLitePromotePendingRegistrationWhenNoOwnerExists(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	ac, err := s.UpsertByAddress(ctx, aircraft.AddressOGN, 5, aircraft.PacketFields{}, "", "")
	if err != nil {
		t.Fatalf("UpsertByAddress() error = %v", err)
	}
	// Manually stash a pending registration, as the cache layer would.
	if _, err := s.db.ExecContext(ctx, `UPDATE aircraft SET pending_registration = ? WHERE id = ?`, "N1AB", ac.ID); err != nil {
		t.Fatalf("seed pending_registration: %v", err)
	}

	if err := s.PromotePendingRegistration(ctx, ac.ID, "N1AB"); err != nil {
		t.Fatalf("PromotePendingRegistration() error = %v", err)
	}

	got, err := s.GetByID(ctx, ac.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Registration == nil || *got.Registration != "N1AB" {
		t.Errorf("Registration = %v, want N1AB", got.Registration)
	}
	if got.PendingRegistration != nil {
		t.Errorf("PendingRegistration = %v, want nil after promotion", got.PendingRegistration)
	}
}

func TestSQLitePreloadRecentFiltersByLastFixAt(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	old, err := s.UpsertByAddress(ctx, aircraft.AddressICAO, 1, aircraft.PacketFields{}, "", "")
	if err != nil {
		t.Fatalf("UpsertByAddress(old) error = %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE aircraft SET last_fix_at = ? WHERE id = ?`, time.Now().UTC().Add(-48*time.Hour), old.ID); err != nil {
		t.Fatalf("backdate last_fix_at(old) error = %v", err)
	}

	recent, err := s.UpsertByAddress(ctx, aircraft.AddressFlarm, 2, aircraft.PacketFields{}, "", "")
	if err != nil {
		t.Fatalf("UpsertByAddress(recent) error = %v", err)
	}

	found, err := s.PreloadRecent(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("PreloadRecent() error = %v", err)
	}
	var ids []string
	for _, ac := range found {
		ids = append(ids, ac.ID)
	}
	foundRecent := false
	for _, id := range ids {
		if id == recent.ID {
			foundRecent = true
		}
		if id == old.ID {
			t.Errorf("PreloadRecent() included stale aircraft %s", old.ID)
		}
	}
	if !foundRecent {
		t.Errorf("PreloadRecent() did not include recent aircraft %s; got %v", recent.ID, ids)
	}
}
