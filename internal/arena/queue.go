package arena

import (
	"log"
	"sort"
	"sync"
	"time"
)

// BucketKey partitions the matchmaking queue. Pairing only ever considers
// entries within the same bucket.
type BucketKey struct {
	GameType string
	Stake    float64
}

// QueueEntry represents a participant waiting in the matchmaking queue
type QueueEntry struct {
	ParticipantID string
	DisplayName   string
	Rating        int
	JoinedAt      time.Time
	Radius        int // current tolerance radius; never shrinks while queued
}

// QueueStatus is the snapshot returned to a waiting participant.
type QueueStatus struct {
	Position     int           `json:"position"`
	TotalInQueue int           `json:"total_in_queue"`
	Wait         time.Duration `json:"-"`
	WaitMs       int64         `json:"wait_ms"`
	Rating       int           `json:"rating"`
	Radius       int           `json:"radius"`
}

// Pairing is the one-shot result of a successful match. It is consumed
// immediately to create a session and never kept around.
type Pairing struct {
	SessionID string
	GameType  string
	Stake     float64
	PlayerA   QueueEntry
	PlayerB   QueueEntry
	Quality   float64
}

// QueueConfig holds the matchmaking tunables.
type QueueConfig struct {
	BaseRadius     int
	ExpansionStep  int
	ExpansionEvery time.Duration
	MaxWait        time.Duration
	MinRadiusFloor int
}

// MatchQueue pairs waiting participants by rating proximity, widening the
// accepted rating gap as wait time grows. FIFO scan order keeps the
// longest-waiting entry from starving.
type MatchQueue struct {
	cfg QueueConfig

	mu      sync.RWMutex // guards buckets and index maps, not bucket contents
	buckets map[BucketKey]*bucket
	index   map[string]BucketKey // participantID -> bucket being searched

	// inSession reports whether an active session already owns the
	// participant. Optional; wired to the session registry at startup.
	inSession func(participantID string) bool
}

// bucket holds one partition's entries behind its own lock, so pairing in
// one bucket never blocks another.
type bucket struct {
	mu      sync.Mutex
	entries []*QueueEntry
}

// NewMatchQueue creates an empty matchmaking queue.
func NewMatchQueue(cfg QueueConfig) *MatchQueue {
	if cfg.MinRadiusFloor <= 0 {
		cfg.MinRadiusFloor = 100
	}
	return &MatchQueue{
		cfg:     cfg,
		buckets: make(map[BucketKey]*bucket),
		index:   make(map[string]BucketKey),
	}
}

// SetSessionCheck wires the registry's membership check into Join.
func (q *MatchQueue) SetSessionCheck(fn func(participantID string) bool) {
	q.inSession = fn
}

// Join inserts an entry (replacing any prior entry for the same participant
// in the same bucket) and then attempts pairing across the bucket. The
// returned Pairing may involve two other participants that became eligible.
func (q *MatchQueue) Join(key BucketKey, participantID, displayName string, rating int) (*Pairing, error) {
	if q.inSession != nil && q.inSession(participantID) {
		return nil, ErrAlreadyInSession
	}

	q.mu.Lock()
	if prev, ok := q.index[participantID]; ok && prev != key {
		q.mu.Unlock()
		return nil, ErrAlreadyQueued
	}
	b, ok := q.buckets[key]
	if !ok {
		b = &bucket{}
		q.buckets[key] = b
	}
	q.index[participantID] = key
	q.mu.Unlock()

	b.mu.Lock()
	// Replace any previous entry for this participant (fresh join time).
	for i, e := range b.entries {
		if e.ParticipantID == participantID {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			break
		}
	}
	b.entries = append(b.entries, &QueueEntry{
		ParticipantID: participantID,
		DisplayName:   displayName,
		Rating:        rating,
		JoinedAt:      time.Now(),
	})
	pairing := q.pairLocked(key, b, time.Now())
	b.mu.Unlock()

	if pairing != nil {
		q.dropIndex(pairing.PlayerA.ParticipantID, pairing.PlayerB.ParticipantID)
		log.Printf("[MATCH] %s vs %s (game=%s stake=%.2f quality=%.2f)",
			pairing.PlayerA.ParticipantID, pairing.PlayerB.ParticipantID,
			key.GameType, key.Stake, pairing.Quality)
	}
	return pairing, nil
}

// Cancel removes the participant's entry from whichever bucket holds it.
// A duplicate cancel is a no-op, not an error.
func (q *MatchQueue) Cancel(participantID string) bool {
	q.mu.Lock()
	key, ok := q.index[participantID]
	if !ok {
		q.mu.Unlock()
		return false
	}
	delete(q.index, participantID)
	b := q.buckets[key]
	q.mu.Unlock()

	if b == nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for i, e := range b.entries {
		if e.ParticipantID == participantID {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			log.Printf("[MATCH] %s cancelled search", participantID)
			return true
		}
	}
	return false
}

// Status returns the participant's queue position, or nil when not queued.
func (q *MatchQueue) Status(participantID string) *QueueStatus {
	q.mu.RLock()
	key, ok := q.index[participantID]
	b := q.buckets[key]
	q.mu.RUnlock()
	if !ok || b == nil {
		return nil
	}

	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	sortByJoin(b.entries)
	for i, e := range b.entries {
		if e.ParticipantID == participantID {
			wait := now.Sub(e.JoinedAt)
			if r := q.radiusAt(wait); r > e.Radius {
				e.Radius = r
			}
			return &QueueStatus{
				Position:     i + 1,
				TotalInQueue: len(b.entries),
				Wait:         wait,
				WaitMs:       wait.Milliseconds(),
				Rating:       e.Rating,
				Radius:       e.Radius,
			}
		}
	}
	return nil
}

// RunPairing re-scans every bucket, repeatedly pairing until no bucket has an
// eligible pair. Called by the sweep so forced pairings fire even when nobody
// joins.
func (q *MatchQueue) RunPairing() []*Pairing {
	q.mu.RLock()
	type kb struct {
		key BucketKey
		b   *bucket
	}
	all := make([]kb, 0, len(q.buckets))
	for key, b := range q.buckets {
		all = append(all, kb{key, b})
	}
	q.mu.RUnlock()

	var pairings []*Pairing
	for _, it := range all {
		for {
			it.b.mu.Lock()
			p := q.pairLocked(it.key, it.b, time.Now())
			it.b.mu.Unlock()
			if p == nil {
				break
			}
			q.dropIndex(p.PlayerA.ParticipantID, p.PlayerB.ParticipantID)
			log.Printf("[MATCH] sweep paired %s vs %s (quality=%.2f)",
				p.PlayerA.ParticipantID, p.PlayerB.ParticipantID, p.Quality)
			pairings = append(pairings, p)
		}
	}
	return pairings
}

// ExpireStale removes entries that have waited longer than maxAge.
func (q *MatchQueue) ExpireStale(maxAge time.Duration) int {
	q.mu.RLock()
	all := make(map[BucketKey]*bucket, len(q.buckets))
	for key, b := range q.buckets {
		all[key] = b
	}
	q.mu.RUnlock()

	removed := 0
	cutoff := time.Now().Add(-maxAge)
	var expired []string
	for _, b := range all {
		b.mu.Lock()
		kept := b.entries[:0]
		for _, e := range b.entries {
			if e.JoinedAt.After(cutoff) {
				kept = append(kept, e)
			} else {
				expired = append(expired, e.ParticipantID)
				removed++
			}
		}
		b.entries = kept
		b.mu.Unlock()
	}
	if len(expired) > 0 {
		q.dropIndex(expired...)
		log.Printf("[SWEEP] expired %d stale queue entries", removed)
	}
	return removed
}

// Depths returns the number of waiting participants per bucket.
func (q *MatchQueue) Depths() map[BucketKey]int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make(map[BucketKey]int, len(q.buckets))
	for key, b := range q.buckets {
		b.mu.Lock()
		if n := len(b.entries); n > 0 {
			out[key] = n
		}
		b.mu.Unlock()
	}
	return out
}

// pairLocked scans the bucket oldest-first and removes the first acceptable
// pair. A pair is accepted when the rating gap fits inside the wider of the
// two tolerance radii, or when the older entry has exceeded the max wait
// (forced pairing: any opponent beats waiting forever). Caller holds b.mu.
func (q *MatchQueue) pairLocked(key BucketKey, b *bucket, now time.Time) *Pairing {
	if len(b.entries) < 2 {
		return nil
	}
	sortByJoin(b.entries)

	for i := 0; i < len(b.entries); i++ {
		a := b.entries[i]
		wait := now.Sub(a.JoinedAt)
		if r := q.radiusAt(wait); r > a.Radius {
			a.Radius = r
		}
		forced := wait > q.cfg.MaxWait

		for j := i + 1; j < len(b.entries); j++ {
			c := b.entries[j]
			if r := q.radiusAt(now.Sub(c.JoinedAt)); r > c.Radius {
				c.Radius = r
			}
			gap := a.Rating - c.Rating
			if gap < 0 {
				gap = -gap
			}
			if gap > max(a.Radius, c.Radius) && !forced {
				continue
			}

			floor := a.Radius
			if floor < q.cfg.MinRadiusFloor {
				floor = q.cfg.MinRadiusFloor
			}
			quality := 1 - float64(gap)/float64(floor)
			if quality < 0 {
				quality = 0
			} else if quality > 1 {
				quality = 1
			}

			pa, pb := *a, *c
			b.entries = append(b.entries[:j], b.entries[j+1:]...)
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return &Pairing{
				SessionID: generateSessionID(),
				GameType:  key.GameType,
				Stake:     key.Stake,
				PlayerA:   pa,
				PlayerB:   pb,
				Quality:   quality,
			}
		}
	}
	return nil
}

// radiusAt computes the tolerance radius after the given wait.
func (q *MatchQueue) radiusAt(wait time.Duration) int {
	if q.cfg.ExpansionEvery <= 0 {
		return q.cfg.BaseRadius
	}
	steps := int(wait / q.cfg.ExpansionEvery)
	return q.cfg.BaseRadius + steps*q.cfg.ExpansionStep
}

func (q *MatchQueue) dropIndex(participantIDs ...string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range participantIDs {
		delete(q.index, id)
	}
}

func sortByJoin(entries []*QueueEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].JoinedAt.Before(entries[j].JoinedAt)
	})
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
