// internal/detect/tracker_test.go
package detect

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeLastAlertStore struct {
	mu    sync.Mutex
	last  map[trackKey]time.Time
	err   error
	calls int
}

func (s *fakeLastAlertStore) LastAlertTime(cameraID int, code string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return time.Time{}, false, s.err
	}
	at, ok := s.last[trackKey{cameraID, code}]
	return at, ok, nil
}

// TestTrackerCooldownWindow verifies the fire/suppress boundary: an alert
// fired at t=100 with a 3600s cooldown stays suppressed at t=150 and
// becomes eligible again at t=3700.
func TestTrackerCooldownWindow(t *testing.T) {
	tr := NewTracker(nil, 3600*time.Second)

	fired := time.Unix(100, 0)
	tr.MarkFired(1, "NO_HELMET", fired)

	if tr.ShouldFire(1, "NO_HELMET", time.Unix(150, 0)) {
		t.Errorf("Expected NO_HELMET suppressed 50s after firing")
	}
	if tr.ShouldFire(1, "NO_HELMET", time.Unix(3600, 0)) {
		t.Errorf("Expected NO_HELMET still suppressed 3500s after firing")
	}
	if !tr.ShouldFire(1, "NO_HELMET", time.Unix(3700, 0)) {
		t.Errorf("Expected NO_HELMET eligible once the cooldown elapsed")
	}
}

// TestTrackerPerPairIsolation verifies cooldown is tracked per
// (camera, code) pair.
func TestTrackerPerPairIsolation(t *testing.T) {
	tr := NewTracker(nil, time.Hour)
	now := time.Unix(1000, 0)
	tr.MarkFired(1, "NO_HELMET", now)

	if tr.ShouldFire(1, "NO_HELMET", now.Add(time.Minute)) {
		t.Errorf("Expected (1, NO_HELMET) suppressed")
	}
	if !tr.ShouldFire(1, "SMOKING", now.Add(time.Minute)) {
		t.Errorf("Expected (1, SMOKING) unaffected by NO_HELMET cooldown")
	}
	if !tr.ShouldFire(2, "NO_HELMET", now.Add(time.Minute)) {
		t.Errorf("Expected (2, NO_HELMET) unaffected by camera 1 cooldown")
	}
}

// TestTrackerConsultsStoreWhenCold verifies a cold cache falls back to the
// persisted last-alert time, so cooldowns survive a restart.
func TestTrackerConsultsStoreWhenCold(t *testing.T) {
	fired := time.Unix(5000, 0)
	store := &fakeLastAlertStore{last: map[trackKey]time.Time{
		{3, "SMOKING"}: fired,
	}}
	tr := NewTracker(store, time.Hour)

	if tr.ShouldFire(3, "SMOKING", fired.Add(10*time.Minute)) {
		t.Errorf("Expected persisted alert to keep SMOKING in cooldown")
	}
	if store.calls != 1 {
		t.Fatalf("Expected 1 store lookup, got %d", store.calls)
	}

	// Segunda consulta vem do cache.
	if tr.ShouldFire(3, "SMOKING", fired.Add(20*time.Minute)) {
		t.Errorf("Expected cached cooldown on second check")
	}
	if store.calls != 1 {
		t.Errorf("Expected cached check to skip the store, got %d lookups", store.calls)
	}

	if !tr.ShouldFire(3, "SMOKING", fired.Add(2*time.Hour)) {
		t.Errorf("Expected SMOKING eligible after the cooldown elapsed")
	}
}

// TestTrackerStoreErrorFailsOpen verifies a store failure does not block
// alerts forever.
func TestTrackerStoreErrorFailsOpen(t *testing.T) {
	store := &fakeLastAlertStore{err: errors.New("banco fora do ar")}
	tr := NewTracker(store, time.Hour)

	if !tr.ShouldFire(1, "NO_GLOVES", time.Now()) {
		t.Errorf("Expected ShouldFire true when the store errors")
	}
}

// TestTrackerMarkFiredUpdatesCache verifies MarkFired takes precedence
// over the store.
func TestTrackerMarkFiredUpdatesCache(t *testing.T) {
	store := &fakeLastAlertStore{}
	tr := NewTracker(store, time.Hour)

	now := time.Unix(9000, 0)
	if !tr.ShouldFire(4, "NO_SEAT_BELT", now) {
		t.Fatalf("Expected first check to pass")
	}
	tr.MarkFired(4, "NO_SEAT_BELT", now)

	calls := store.calls
	if tr.ShouldFire(4, "NO_SEAT_BELT", now.Add(time.Minute)) {
		t.Errorf("Expected suppression right after MarkFired")
	}
	if store.calls != calls {
		t.Errorf("Expected no store lookup after MarkFired, got %d extra", store.calls-calls)
	}
}
