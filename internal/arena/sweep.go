package arena

import (
	"context"
	"log"
	"time"
)

// CacheEvictor is the eviction hook exposed by collaborators that keep
// time-bounded caches (the payment verifier).
type CacheEvictor interface {
	EvictExpired()
}

// SweeperConfig holds the sweep tunables.
type SweeperConfig struct {
	Interval    time.Duration
	QueueMaxAge time.Duration
}

// Sweeper periodically reaps expired state from every stateful store: stale
// queue entries, unformed and idle sessions, expired grace windows, retained
// results, and the verifier cache. It also re-runs pairing so forced
// pairings fire for long waiters.
type Sweeper struct {
	cfg      SweeperConfig
	queue    *MatchQueue
	registry *Registry
	evictors []CacheEvictor

	// onPairing consumes pairings produced by the sweep scan. Wired to the
	// same session-creation path the join handler uses.
	onPairing func(*Pairing)
}

// NewSweeper creates a sweeper over the given stores.
func NewSweeper(cfg SweeperConfig, queue *MatchQueue, registry *Registry, evictors ...CacheEvictor) *Sweeper {
	return &Sweeper{cfg: cfg, queue: queue, registry: registry, evictors: evictors}
}

// SetPairingHandler wires the consumer for sweep-produced pairings.
func (w *Sweeper) SetPairingHandler(fn func(*Pairing)) {
	w.onPairing = fn
}

// Start runs the sweep loop until the context is cancelled.
func (w *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	log.Printf("[SWEEP] started (every %v)", w.cfg.Interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Printf("[SWEEP] stopped")
				return
			case <-ticker.C:
				w.Tick(time.Now())
			}
		}
	}()
}

// Tick runs one sweep pass. Exposed so tests can drive it directly.
func (w *Sweeper) Tick(now time.Time) {
	// Promote long waiters before expiring: a forced pairing beats eviction.
	for _, p := range w.queue.RunPairing() {
		if w.onPairing != nil {
			w.onPairing(p)
		}
	}

	w.queue.ExpireStale(w.cfg.QueueMaxAge)
	w.registry.ExpireUnformed(now)
	w.registry.ExpireIdle(now)
	w.registry.ResolveExpiredGrace(now)
	w.registry.ReapRetained(now)

	for _, e := range w.evictors {
		e.EvictExpired()
	}
}
