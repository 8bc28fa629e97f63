package aircraft

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeStore is an in-memory Store double for exercising Cache without a
// database.
type fakeStore struct {
	mu       sync.Mutex
	byID     map[string]*Aircraft
	nextID   int
	updates  []PacketFields
	mergeErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{byID: map[string]*Aircraft{}}
}

func (s *fakeStore) GetByAddress(ctx context.Context, addrType AddressType, addr int32) (*Aircraft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ac := range s.byID {
		if v := ac.AddressSlot(addrType); v != nil && *v == addr {
			cp := *ac
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) GetByID(ctx context.Context, id string) (*Aircraft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ac, ok := s.byID[id]; ok {
		cp := *ac
		return &cp, nil
	}
	return nil, nil
}

func (s *fakeStore) MergeByRegistration(ctx context.Context, registration string, addrType AddressType, addr int32) (*Aircraft, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ac := range s.byID {
		if ac.Registration != nil && *ac.Registration == registration {
			if ac.HasAddressSlot(addrType) {
				return nil, false, nil
			}
			ac.SetAddressSlot(addrType, addr)
			cp := *ac
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

func (s *fakeStore) UpsertByAddress(ctx context.Context, addrType AddressType, addr int32, fields PacketFields, countryCode, derivedRegistration string) (*Aircraft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	ac := &Aircraft{
		ID:                fmt.Sprintf("ac-%d", s.nextID),
		AircraftCategory:  fields.AircraftCategory,
		TrackerDeviceType: fields.TrackerDeviceType,
		ICAOModelCode:     fields.ICAOModelCode,
		ADSBEmitterCat:    fields.ADSBEmitterCat,
		AircraftModel:     fields.AircraftModel,
		CountryCode:       countryCode,
		LastFixAt:         time.Now(),
	}
	if fields.Registration != "" {
		reg := fields.Registration
		ac.Registration = &reg
	} else if derivedRegistration != "" {
		reg := derivedRegistration
		ac.PendingRegistration = &reg
	}
	ac.SetAddressSlot(addrType, addr)
	s.byID[ac.ID] = ac
	cp := *ac
	return &cp, nil
}

func (s *fakeStore) UpdateMetadata(ctx context.Context, id string, fields PacketFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, fields)
	if ac, ok := s.byID[id]; ok {
		applyImprovement(ac, fields)
	}
	return nil
}

func (s *fakeStore) TouchLastFixAt(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ac, ok := s.byID[id]; ok {
		ac.LastFixAt = at
	}
	return nil
}

func (s *fakeStore) PreloadRecent(ctx context.Context, since time.Time) ([]*Aircraft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Aircraft
	for _, ac := range s.byID {
		if ac.LastFixAt.After(since) {
			cp := *ac
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) FindPendingRegistrations(ctx context.Context) ([]*Aircraft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Aircraft
	for _, ac := range s.byID {
		if ac.PendingRegistration != nil {
			cp := *ac
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) FindOwnerOfRegistration(ctx context.Context, registration, excludeID string) (*Aircraft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ac := range s.byID {
		if ac.ID == excludeID {
			continue
		}
		if ac.Registration != nil && *ac.Registration == registration {
			cp := *ac
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) PromotePendingRegistration(ctx context.Context, id, registration string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ac, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("no such aircraft %s", id)
	}
	ac.Registration = &registration
	ac.PendingRegistration = nil
	return nil
}

func (s *fakeStore) MergeDuplicate(ctx context.Context, targetID, duplicateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.byID[targetID]
	if !ok {
		return fmt.Errorf("no such target %s", targetID)
	}
	dup, ok := s.byID[duplicateID]
	if !ok {
		return fmt.Errorf("no such duplicate %s", duplicateID)
	}
	delete(s.byID, duplicateID)
	for _, t := range [...]AddressType{AddressICAO, AddressFlarm, AddressOGN, AddressOther} {
		if target.HasAddressSlot(t) {
			continue
		}
		if v := dup.AddressSlot(t); v != nil {
			target.SetAddressSlot(t, *v)
		}
	}
	return nil
}

func TestCacheGetOrUpsertCreatesOnMiss(t *testing.T) {
	store := newFakeStore()
	c := NewCache(store, 16)

	ac, err := c.GetOrUpsert(context.Background(), AddressICAO, 0xABCDEF, PacketFields{AircraftModel: "C172"})
	if err != nil {
		t.Fatalf("GetOrUpsert: %v", err)
	}
	if ac.ICAOAddress == nil || *ac.ICAOAddress != 0xABCDEF {
		t.Fatalf("expected address slot set, got %+v", ac)
	}
	if c.Misses != 1 || c.Hits != 0 {
		t.Fatalf("expected one miss, zero hits, got hits=%d misses=%d", c.Hits, c.Misses)
	}
}

func TestCacheGetOrUpsertHitsSecondTime(t *testing.T) {
	store := newFakeStore()
	c := NewCache(store, 16)
	ctx := context.Background()

	first, err := c.GetOrUpsert(ctx, AddressICAO, 0x111111, PacketFields{})
	if err != nil {
		t.Fatalf("first GetOrUpsert: %v", err)
	}
	second, err := c.GetOrUpsert(ctx, AddressICAO, 0x111111, PacketFields{})
	if err != nil {
		t.Fatalf("second GetOrUpsert: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same aircraft id, got %q and %q", first.ID, second.ID)
	}
	if c.Hits != 1 || c.Misses != 1 {
		t.Fatalf("expected one hit, one miss, got hits=%d misses=%d", c.Hits, c.Misses)
	}
}

func TestCacheAppliesImprovementOnHitAndQueuesBackgroundWrite(t *testing.T) {
	store := newFakeStore()
	c := NewCache(store, 16)
	ctx := context.Background()

	ac, err := c.GetOrUpsert(ctx, AddressICAO, 0x222222, PacketFields{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ac.AircraftModel != "" {
		t.Fatalf("expected empty model initially, got %q", ac.AircraftModel)
	}

	c.Start(ctx, 1)
	improved, err := c.GetOrUpsert(ctx, AddressICAO, 0x222222, PacketFields{AircraftModel: "A320"})
	if err != nil {
		t.Fatalf("improve: %v", err)
	}
	if improved.AircraftModel != "A320" {
		t.Fatalf("expected improved model A320, got %q", improved.AircraftModel)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		store.mu.Lock()
		n := len(store.updates)
		store.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.updates) == 0 {
		t.Fatal("expected a background metadata write to have been recorded")
	}
}

func TestCacheBackgroundWriteDroppedWhenQueueFull(t *testing.T) {
	store := newFakeStore()
	c := NewCache(store, 0) // unbuffered, no workers started

	if _, err := c.GetOrUpsert(context.Background(), AddressICAO, 0x333333, PacketFields{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := c.GetOrUpsert(context.Background(), AddressICAO, 0x333333, PacketFields{AircraftModel: "B738"}); err != nil {
		t.Fatalf("improve: %v", err)
	}
	if c.BackgroundDropped != 1 {
		t.Fatalf("expected one dropped background write, got %d", c.BackgroundDropped)
	}
}

func TestCacheGetByIDMiss(t *testing.T) {
	store := newFakeStore()
	c := NewCache(store, 16)
	ctx := context.Background()

	created, err := c.GetOrUpsert(ctx, AddressFlarm, 0x444444, PacketFields{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Evict so the next lookup is forced through the store.
	c.Evict(created.ID)

	fetched, err := c.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if fetched == nil || fetched.ID != created.ID {
		t.Fatalf("expected to refetch %s, got %+v", created.ID, fetched)
	}
}

func TestCachePreloadPopulatesBothMaps(t *testing.T) {
	store := newFakeStore()
	store.byID["ac-preload"] = &Aircraft{
		ID:          "ac-preload",
		ICAOAddress: int32ptr(0x555555),
		LastFixAt:   time.Now(),
	}

	c := NewCache(store, 16)
	n, err := c.Preload(context.Background(), time.Now().Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("Preload: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 preloaded row, got %d", n)
	}

	if _, ok := c.byID.Load("ac-preload"); !ok {
		t.Fatal("expected preload to populate byID map")
	}
	if _, ok := c.byAddress.Load(addressKey{AddressICAO, 0x555555}); !ok {
		t.Fatal("expected preload to populate byAddress map")
	}
}

func int32ptr(v int32) *int32 { return &v }
