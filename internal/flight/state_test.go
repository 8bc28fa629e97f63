package flight

import (
	"sync"
	"testing"
)

func TestActivityRingLastNInactive(t *testing.T) {
	r := newActivityRing(5)

	if r.lastNInactive(1) {
		t.Error("lastNInactive() on an empty ring should be false")
	}

	r.push(false)
	if !r.lastNInactive(1) {
		t.Error("single inactive push should satisfy lastNInactive(1)")
	}
	if r.lastNInactive(2) {
		t.Error("lastNInactive(2) should be false with only one recorded verdict")
	}

	r.push(true)
	if r.lastNInactive(1) {
		t.Error("most recent push was active; lastNInactive(1) should be false")
	}

	r.push(false)
	r.push(false)
	r.push(false)
	r.push(false) // ring is now full; oldest (the first false) is overwritten
	if !r.lastNInactive(4) {
		t.Error("last 4 verdicts are all inactive, want lastNInactive(4) = true")
	}
}

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	k := newKeyedMutex()
	var wg sync.WaitGroup
	var mu sync.Mutex
	counter := 0
	maxObservedConcurrent := 0
	concurrent := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("shared-key")
			defer unlock()

			mu.Lock()
			concurrent++
			if concurrent > maxObservedConcurrent {
				maxObservedConcurrent = concurrent
			}
			mu.Unlock()

			counter++

			mu.Lock()
			concurrent--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("counter = %d, want 50", counter)
	}
	if maxObservedConcurrent > 1 {
		t.Errorf("observed %d concurrent holders of the same key, want at most 1", maxObservedConcurrent)
	}
}

func TestKeyedMutexDifferentKeysIndependent(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	unlockA()
	unlockB()
}
