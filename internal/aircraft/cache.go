package aircraft

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Store is the persistence contract the cache relies on for its cold
// path and background maintenance. internal/store/postgres.go implements it.
type Store interface {
	GetByAddress(ctx context.Context, addrType AddressType, addr int32) (*Aircraft, error)
	GetByID(ctx context.Context, id string) (*Aircraft, error)

	// MergeByRegistration attempts the merge-by-registration fast path
	// (§4.2.1 step 3). ok is false if no aircraft owns registration, its
	// addrType slot is already populated, or a race was detected; the
	// caller falls through to UpsertByAddress.
	MergeByRegistration(ctx context.Context, registration string, addrType AddressType, addr int32) (ac *Aircraft, ok bool, err error)

	// UpsertByAddress performs the race-free insert-or-update-returning
	// keyed on the typed address column (§4.2.1 step 4).
	UpsertByAddress(ctx context.Context, addrType AddressType, addr int32, fields PacketFields, countryCode, derivedRegistration string) (*Aircraft, error)

	// UpdateMetadata applies a cache-hit metadata improvement out of band.
	UpdateMetadata(ctx context.Context, id string, fields PacketFields) error

	// TouchLastFixAt advances last_fix_at for id, out of band.
	TouchLastFixAt(ctx context.Context, id string, at time.Time) error

	// PreloadRecent returns every aircraft with a fix within the window.
	PreloadRecent(ctx context.Context, since time.Time) ([]*Aircraft, error)

	FindPendingRegistrations(ctx context.Context) ([]*Aircraft, error)
	FindOwnerOfRegistration(ctx context.Context, registration, excludeID string) (*Aircraft, error)
	PromotePendingRegistration(ctx context.Context, id, registration string) error
	MergeDuplicate(ctx context.Context, targetID, duplicateID string) error
}

type addressKey struct {
	t    AddressType
	addr int32
}

// entry wraps one cached Aircraft so the hot path can mutate it in place
// without replacing the map value (and therefore without a second map
// write per improved field).
type entry struct {
	mu sync.Mutex
	ac *Aircraft
}

// Cache resolves (address_type, address) to an Aircraft in O(1) expected
// time, creating rows on first sight and coalescing cross-protocol
// duplicates. Reads never block on the database; metadata improvements
// discovered on a cache hit are queued for a background writer.
type Cache struct {
	store Store

	byAddress sync.Map // addressKey -> *entry
	byID      sync.Map // string -> *entry

	bgWrites chan bgWrite

	Hits, Misses, BackgroundDropped int64
}

type bgWrite struct {
	id       string
	fields   PacketFields
	touchAt  *time.Time
}

// NewCache builds a Cache with a bounded background-write queue of the
// given size; writes beyond capacity are dropped and counted, never
// allowed to block the hot path.
func NewCache(store Store, bgQueueSize int) *Cache {
	return &Cache{
		store:    store,
		bgWrites: make(chan bgWrite, bgQueueSize),
	}
}

// Start launches the background metadata-write workers and returns at
// once; the workers exit when ctx is cancelled.
func (c *Cache) Start(ctx context.Context, workers int) {
	for i := 0; i < workers; i++ {
		go c.runBackgroundWriter(ctx)
	}
}

func (c *Cache) runBackgroundWriter(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case w := <-c.bgWrites:
			if (w.fields != PacketFields{}) {
				if err := c.store.UpdateMetadata(ctx, w.id, w.fields); err != nil {
					log.Printf("aircraft: background metadata update for %s failed: %v", w.id, err)
				}
			}
			if w.touchAt != nil {
				if err := c.store.TouchLastFixAt(ctx, w.id, *w.touchAt); err != nil {
					log.Printf("aircraft: background last_fix_at touch for %s failed: %v", w.id, err)
				}
			}
		}
	}
}

func (c *Cache) enqueueBackgroundWrite(id string, fields PacketFields) {
	select {
	case c.bgWrites <- bgWrite{id: id, fields: fields}:
	default:
		atomic.AddInt64(&c.BackgroundDropped, 1)
	}
}

// Touch records that id was just seen at ts, advancing its last_fix_at
// out of band so the fix-insert hot path never blocks on a second write.
func (c *Cache) Touch(id string, ts time.Time) {
	select {
	case c.bgWrites <- bgWrite{id: id, touchAt: &ts}:
	default:
		atomic.AddInt64(&c.BackgroundDropped, 1)
	}
}

// Preload loads every aircraft with a fix more recent than since into
// both cache maps, for use at startup.
func (c *Cache) Preload(ctx context.Context, since time.Time) (int, error) {
	rows, err := c.store.PreloadRecent(ctx, since)
	if err != nil {
		return 0, err
	}
	for _, ac := range rows {
		c.cacheAllSlots(&entry{ac: ac})
	}
	return len(rows), nil
}

func (c *Cache) cacheAllSlots(e *entry) {
	for _, t := range [...]AddressType{AddressICAO, AddressFlarm, AddressOGN, AddressOther} {
		if v := e.ac.AddressSlot(t); v != nil {
			c.byAddress.Store(addressKey{t, *v}, e)
		}
	}
	c.byID.Store(e.ac.ID, e)
}

// GetOrUpsert resolves (addrType, addr) to an Aircraft, creating or
// merging a row on first sight (§4.2).
func (c *Cache) GetOrUpsert(ctx context.Context, addrType AddressType, addr int32, fields PacketFields) (*Aircraft, error) {
	key := addressKey{addrType, addr}

	if v, ok := c.byAddress.Load(key); ok {
		atomic.AddInt64(&c.Hits, 1)
		e := v.(*entry)
		e.mu.Lock()
		changed := applyImprovement(e.ac, fields)
		result := *e.ac
		e.mu.Unlock()
		if changed {
			c.enqueueBackgroundWrite(result.ID, fields)
		}
		return &result, nil
	}

	atomic.AddInt64(&c.Misses, 1)
	return c.upsertMiss(ctx, addrType, addr, fields)
}

func (c *Cache) upsertMiss(ctx context.Context, addrType AddressType, addr int32, fields PacketFields) (*Aircraft, error) {
	countryCode := CountryCodeFromICAO(addr, addrType)
	registration := fields.Registration
	if registration == "" {
		registration = USNNumberFromICAO(addr, addrType)
	}

	if registration != "" {
		if ac, ok, err := c.store.MergeByRegistration(ctx, registration, addrType, addr); err != nil {
			return nil, err
		} else if ok {
			e := &entry{ac: ac}
			c.cacheAllSlots(e)
			return ac, nil
		}
	}

	ac, err := c.store.UpsertByAddress(ctx, addrType, addr, fields, countryCode, registration)
	if err != nil {
		return nil, err
	}
	e := &entry{ac: ac}
	c.cacheAllSlots(e)
	return ac, nil
}

// applyImprovement mutates ac in place with any field from fields that
// strictly improves the cached record, per the cache-hit rules in §4.2.
// It reports whether anything changed.
func applyImprovement(ac *Aircraft, fields PacketFields) bool {
	changed := false
	if fields.AircraftCategory != "" && ac.AircraftCategory != fields.AircraftCategory {
		ac.AircraftCategory = fields.AircraftCategory
		changed = true
	}
	if fields.TrackerDeviceType != "" && ac.TrackerDeviceType != fields.TrackerDeviceType {
		ac.TrackerDeviceType = fields.TrackerDeviceType
		changed = true
	}
	if fields.ICAOModelCode != "" && ac.ICAOModelCode == "" {
		ac.ICAOModelCode = fields.ICAOModelCode
		changed = true
	}
	if fields.ADSBEmitterCat != "" && ac.ADSBEmitterCat == "" {
		ac.ADSBEmitterCat = fields.ADSBEmitterCat
		changed = true
	}
	if fields.AircraftModel != "" && ac.AircraftModel == "" {
		ac.AircraftModel = fields.AircraftModel
		changed = true
	}
	if fields.Registration != "" && ac.Registration == nil {
		reg := fields.Registration
		ac.Registration = &reg
		changed = true
	}
	return changed
}

// GetByID consults the id-keyed map, falling back to the store on miss.
func (c *Cache) GetByID(ctx context.Context, id string) (*Aircraft, error) {
	if v, ok := c.byID.Load(id); ok {
		atomic.AddInt64(&c.Hits, 1)
		e := v.(*entry)
		e.mu.Lock()
		result := *e.ac
		e.mu.Unlock()
		return &result, nil
	}

	atomic.AddInt64(&c.Misses, 1)
	ac, err := c.store.GetByID(ctx, id)
	if err != nil || ac == nil {
		return ac, err
	}
	c.cacheAllSlots(&entry{ac: ac})
	return ac, nil
}

// Evict removes every map entry associated with id, used after a
// background merge reassigns or deletes an aircraft row.
func (c *Cache) Evict(id string) {
	v, ok := c.byID.Load(id)
	if !ok {
		return
	}
	c.byID.Delete(id)
	e := v.(*entry)
	for _, t := range [...]AddressType{AddressICAO, AddressFlarm, AddressOGN, AddressOther} {
		if a := e.ac.AddressSlot(t); a != nil {
			c.byAddress.Delete(addressKey{t, *a})
		}
	}
}
