package aircraft

import (
	"context"
	"testing"
)

// fakeFixReassigner is a no-op FixReassigner double that records calls,
// exercising the merger's fix-reassignment step without a real FixStore.
type fakeFixReassigner struct {
	calls []struct{ target, duplicate string }
}

func (f *fakeFixReassigner) ReassignFixes(ctx context.Context, targetAircraftID, duplicateAircraftID string) error {
	f.calls = append(f.calls, struct{ target, duplicate string }{targetAircraftID, duplicateAircraftID})
	return nil
}

func TestMergerPromotesWhenNoOwnerExists(t *testing.T) {
	store := newFakeStore()
	pending := "N123AB"
	store.byID["dup-1"] = &Aircraft{
		ID:                  "dup-1",
		ICAOAddress:         int32ptr(0x10),
		PendingRegistration: &pending,
	}

	c := NewCache(store, 16)
	m := NewMerger(store, c, &fakeFixReassigner{}, 0)

	stats, err := m.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stats.Found != 1 || stats.Claimed != 1 || stats.Merged != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	ac := store.byID["dup-1"]
	if ac.Registration == nil || *ac.Registration != pending {
		t.Fatalf("expected registration promoted to %q, got %+v", pending, ac.Registration)
	}
	if ac.PendingRegistration != nil {
		t.Fatalf("expected pending registration cleared, got %v", *ac.PendingRegistration)
	}
}

func TestMergerMergesDuplicateIntoOwnerAndCopiesAddressSlots(t *testing.T) {
	store := newFakeStore()
	registration := "N500XY"

	store.byID["owner-1"] = &Aircraft{
		ID:           "owner-1",
		Registration: &registration,
		FlarmAddress: int32ptr(0x20),
	}
	store.byID["dup-1"] = &Aircraft{
		ID:                  "dup-1",
		ICAOAddress:         int32ptr(0x30),
		PendingRegistration: &registration,
	}

	c := NewCache(store, 16)
	// Seed the cache so eviction is observable.
	c.cacheAllSlots(&entry{ac: store.byID["dup-1"]})
	c.cacheAllSlots(&entry{ac: store.byID["owner-1"]})

	fixes := &fakeFixReassigner{}
	m := NewMerger(store, c, fixes, 0)
	stats, err := m.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stats.Found != 1 || stats.Merged != 1 || stats.Claimed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	if _, ok := store.byID["dup-1"]; ok {
		t.Fatal("expected duplicate row to be deleted")
	}

	if len(fixes.calls) != 1 || fixes.calls[0].target != "owner-1" || fixes.calls[0].duplicate != "dup-1" {
		t.Fatalf("expected fixes reassigned from dup-1 to owner-1, got %+v", fixes.calls)
	}

	owner := store.byID["owner-1"]
	if owner.ICAOAddress == nil || *owner.ICAOAddress != 0x30 {
		t.Fatalf("expected owner to inherit the duplicate's ICAO address, got %+v", owner.ICAOAddress)
	}
	if owner.FlarmAddress == nil || *owner.FlarmAddress != 0x20 {
		t.Fatalf("expected owner's existing FLARM address to survive untouched, got %+v", owner.FlarmAddress)
	}

	if _, ok := c.byID.Load("dup-1"); ok {
		t.Fatal("expected merger to evict the duplicate from the cache")
	}
	if _, ok := c.byAddress.Load(addressKey{AddressICAO, 0x30}); ok {
		t.Fatal("expected merger to evict the duplicate's stale address-keyed cache entry")
	}
}

func TestMergerSkipsAircraftWithoutPendingRegistration(t *testing.T) {
	store := newFakeStore()
	store.byID["plain-1"] = &Aircraft{ID: "plain-1", ICAOAddress: int32ptr(0x40)}

	c := NewCache(store, 16)
	m := NewMerger(store, c, &fakeFixReassigner{}, 0)

	stats, err := m.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stats.Found != 0 {
		t.Fatalf("expected no pending registrations found, got %d", stats.Found)
	}
}
