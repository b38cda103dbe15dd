package arena

import (
	"errors"
	"testing"
	"time"
)

func newTestQueue() *MatchQueue {
	return NewMatchQueue(QueueConfig{
		BaseRadius:     100,
		ExpansionStep:  50,
		ExpansionEvery: 30 * time.Second,
		MaxWait:        120 * time.Second,
		MinRadiusFloor: 100,
	})
}

func testKey() BucketKey {
	return BucketKey{GameType: "goldrush", Stake: 0.1}
}

// backdate rewrites an entry's join time so tests can simulate waiting.
func backdate(q *MatchQueue, key BucketKey, participantID string, age time.Duration) {
	q.mu.RLock()
	b := q.buckets[key]
	q.mu.RUnlock()
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.entries {
		if e.ParticipantID == participantID {
			e.JoinedAt = time.Now().Add(-age)
		}
	}
}

func TestJoinPairsCloseRatings(t *testing.T) {
	q := newTestQueue()

	p, err := q.Join(testKey(), "alice", "Alice", 1000)
	if err != nil {
		t.Fatalf("first join failed: %v", err)
	}
	if p != nil {
		t.Fatalf("single entry should not pair")
	}

	p, err = q.Join(testKey(), "bob", "Bob", 1050)
	if err != nil {
		t.Fatalf("second join failed: %v", err)
	}
	if p == nil {
		t.Fatalf("expected pairing for ratings 1000 vs 1050")
	}
	if p.SessionID == "" {
		t.Errorf("pairing missing session id")
	}
	if q.Status("alice") != nil || q.Status("bob") != nil {
		t.Errorf("paired participants should leave the queue")
	}
}

func TestJoinDoesNotPairDistantRatings(t *testing.T) {
	q := newTestQueue()

	q.Join(testKey(), "alice", "Alice", 1000)
	p, err := q.Join(testKey(), "bob", "Bob", 1500)
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if p != nil {
		t.Fatalf("gap 500 should not pair at base radius 100")
	}
}

func TestJoinRejectsCrossBucketDuplicate(t *testing.T) {
	q := newTestQueue()

	if _, err := q.Join(testKey(), "alice", "Alice", 1000); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	_, err := q.Join(BucketKey{GameType: "goldrush", Stake: 0.25}, "alice", "Alice", 1000)
	if !errors.Is(err, ErrAlreadyQueued) {
		t.Fatalf("expected ErrAlreadyQueued, got %v", err)
	}
}

func TestJoinSameBucketReplacesEntry(t *testing.T) {
	q := newTestQueue()

	q.Join(testKey(), "alice", "Alice", 1000)
	if _, err := q.Join(testKey(), "alice", "Alice", 1000); err != nil {
		t.Fatalf("same-bucket rejoin should replace, got %v", err)
	}
	status := q.Status("alice")
	if status == nil {
		t.Fatalf("expected queued status")
	}
	if status.TotalInQueue != 1 {
		t.Errorf("expected 1 entry after replace, got %d", status.TotalInQueue)
	}
}

func TestJoinRejectsActiveSessionMember(t *testing.T) {
	q := newTestQueue()
	q.SetSessionCheck(func(id string) bool { return id == "busy" })

	_, err := q.Join(testKey(), "busy", "Busy", 1000)
	if !errors.Is(err, ErrAlreadyInSession) {
		t.Fatalf("expected ErrAlreadyInSession, got %v", err)
	}
}

func TestRadiusExpandsWithWaitAndNeverShrinks(t *testing.T) {
	q := newTestQueue()

	q.Join(testKey(), "alice", "Alice", 1000)
	backdate(q, testKey(), "alice", 65*time.Second)

	status := q.Status("alice")
	if status == nil {
		t.Fatalf("expected queued status")
	}
	if status.Radius != 200 {
		t.Errorf("expected radius 200 after 65s (100 + 2*50), got %d", status.Radius)
	}

	// A fresher computation must never narrow the radius.
	q.mu.RLock()
	b := q.buckets[testKey()]
	q.mu.RUnlock()
	b.mu.Lock()
	b.entries[0].JoinedAt = time.Now()
	b.mu.Unlock()

	status = q.Status("alice")
	if status.Radius != 200 {
		t.Errorf("radius shrank to %d after join time reset", status.Radius)
	}
}

func TestExpandedRadiusEventuallyPairs(t *testing.T) {
	q := newTestQueue()

	q.Join(testKey(), "alice", "Alice", 1000)
	q.Join(testKey(), "bob", "Bob", 1180)
	// 60s of waiting widens alice to 200, covering the 180 gap.
	backdate(q, testKey(), "alice", 60*time.Second)

	pairings := q.RunPairing()
	if len(pairings) != 1 {
		t.Fatalf("expected 1 pairing after radius expansion, got %d", len(pairings))
	}
}

func TestForcedPairingAfterMaxWait(t *testing.T) {
	q := newTestQueue()

	q.Join(testKey(), "alice", "Alice", 1000)
	q.Join(testKey(), "bob", "Bob", 3000)
	backdate(q, testKey(), "alice", 130*time.Second)

	pairings := q.RunPairing()
	if len(pairings) != 1 {
		t.Fatalf("expected forced pairing past max wait, got %d", len(pairings))
	}
	if pairings[0].Quality != 0 {
		t.Errorf("expected quality 0 for a 2000 gap, got %f", pairings[0].Quality)
	}
}

func TestMatchQualityUsesExpandedRadius(t *testing.T) {
	q := newTestQueue()

	q.Join(testKey(), "alice", "Alice", 1000)
	q.Join(testKey(), "bob", "Bob", 1150)
	// Alice's radius grows to 200; gap 150 gives quality 1 - 150/200 = 0.25.
	backdate(q, testKey(), "alice", 60*time.Second)

	pairings := q.RunPairing()
	if len(pairings) != 1 {
		t.Fatalf("expected pairing, got %d", len(pairings))
	}
	got := pairings[0].Quality
	if got < 0.2499 || got > 0.2501 {
		t.Errorf("expected quality 0.25, got %f", got)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	q := newTestQueue()

	q.Join(testKey(), "alice", "Alice", 1000)
	if !q.Cancel("alice") {
		t.Errorf("first cancel should report removal")
	}
	if q.Cancel("alice") {
		t.Errorf("second cancel should be a no-op")
	}
	if q.Cancel("nobody") {
		t.Errorf("cancel of unknown participant should be a no-op")
	}
}

func TestExpireStaleRemovesOldEntries(t *testing.T) {
	q := newTestQueue()

	q.Join(testKey(), "alice", "Alice", 1000)
	q.Join(testKey(), "bob", "Bob", 2000)
	backdate(q, testKey(), "alice", 10*time.Minute)

	removed := q.ExpireStale(5 * time.Minute)
	if removed != 1 {
		t.Fatalf("expected 1 expired entry, got %d", removed)
	}
	if q.Status("alice") != nil {
		t.Errorf("expired entry still queued")
	}
	if q.Status("bob") == nil {
		t.Errorf("fresh entry was removed")
	}
}

func TestDepthsCountsPerBucket(t *testing.T) {
	q := newTestQueue()

	q.Join(testKey(), "alice", "Alice", 1000)
	q.Join(BucketKey{GameType: "goldrush", Stake: 0.5}, "carol", "Carol", 1000)

	depths := q.Depths()
	if len(depths) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(depths))
	}
	if depths[testKey()] != 1 {
		t.Errorf("expected 1 waiting in test bucket, got %d", depths[testKey()])
	}
}
