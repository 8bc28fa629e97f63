package aircraft

import (
	"context"
	"fmt"
	"log"
	"time"
)

// MergeStats summarizes one pass of the pending-registration merger.
type MergeStats struct {
	Found   int
	Merged  int
	Claimed int
	Errors  int
}

// FixReassigner reassigns historical fixes from one aircraft id to
// another. Fixes live in a separate high-volume store (ClickHouse in the
// production topology) that the aircraft/flights merge transaction
// cannot reach, so the merger reassigns them as its own step rather than
// folding them into Store.MergeDuplicate.
type FixReassigner interface {
	ReassignFixes(ctx context.Context, targetAircraftID, duplicateAircraftID string) error
}

// Merger periodically reconciles aircraft rows left with a
// PendingRegistration by the upsert hot path: a registration arrived that
// already belongs to a different row (or was only derived from the ICAO
// address), so it was stashed pending reconciliation rather than blocking
// the hot path on a cross-row transaction.
type Merger struct {
	store    Store
	cache    *Cache
	fixes    FixReassigner
	interval time.Duration
}

func NewMerger(store Store, cache *Cache, fixes FixReassigner, interval time.Duration) *Merger {
	return &Merger{store: store, cache: cache, fixes: fixes, interval: interval}
}

// Run blocks, invoking RunOnce every interval until ctx is cancelled.
func (m *Merger) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := m.RunOnce(ctx)
			if err != nil {
				log.Printf("aircraft: pending-registration merge pass failed: %v", err)
				continue
			}
			if stats.Found > 0 {
				log.Printf("aircraft: pending-registration merge: %d found, %d merged, %d claimed, %d errors",
					stats.Found, stats.Merged, stats.Claimed, stats.Errors)
			}
		}
	}
}

// RunOnce resolves every aircraft row currently carrying a
// PendingRegistration, per the reassign-then-delete-then-copy merge
// ordering: reassigning child rows before the duplicate disappears, and
// deleting the duplicate before copying its address slots so the copy
// never collides with the duplicate on a unique typed-address column.
func (m *Merger) RunOnce(ctx context.Context) (MergeStats, error) {
	var stats MergeStats

	dups, err := m.store.FindPendingRegistrations(ctx)
	if err != nil {
		return stats, fmt.Errorf("aircraft: list pending registrations: %w", err)
	}
	stats.Found = len(dups)

	for _, dup := range dups {
		if dup.PendingRegistration == nil {
			continue
		}
		registration := *dup.PendingRegistration

		owner, err := m.store.FindOwnerOfRegistration(ctx, registration, dup.ID)
		if err != nil {
			log.Printf("aircraft: find owner of registration %q: %v", registration, err)
			stats.Errors++
			continue
		}

		if owner == nil {
			if err := m.store.PromotePendingRegistration(ctx, dup.ID, registration); err != nil {
				log.Printf("aircraft: promote pending registration %q for %s: %v", registration, dup.ID, err)
				stats.Errors++
				continue
			}
			m.cache.Evict(dup.ID)
			stats.Claimed++
			continue
		}

		if err := m.fixes.ReassignFixes(ctx, owner.ID, dup.ID); err != nil {
			log.Printf("aircraft: reassign fixes for merge %s into %s: %v", dup.ID, owner.ID, err)
			stats.Errors++
			continue
		}

		if err := m.store.MergeDuplicate(ctx, owner.ID, dup.ID); err != nil {
			log.Printf("aircraft: merge duplicate %s into %s: %v", dup.ID, owner.ID, err)
			stats.Errors++
			continue
		}
		m.cache.Evict(dup.ID)
		m.cache.Evict(owner.ID)
		stats.Merged++
	}

	return stats, nil
}
