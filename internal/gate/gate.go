package gate

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds the admission tunables.
type Config struct {
	MaxPerMinute int
	MaxFailures  int
	BanDuration  time.Duration
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
}

type window struct {
	start time.Time
	count int
}

// Gate throttles join attempts per caller and escalates repeated
// verification failures into temporary bans. Counters live in Redis when a
// client is configured so multiple instances share state; otherwise they
// live in process memory.
type Gate struct {
	cfg Config
	rdb *redis.Client

	mu       sync.Mutex
	windows  map[string]*window
	failures map[string]int
	bans     map[string]time.Time
}

// NewGate creates a gate. rdb may be nil.
func NewGate(cfg Config, rdb *redis.Client) *Gate {
	return &Gate{
		cfg:      cfg,
		rdb:      rdb,
		windows:  make(map[string]*window),
		failures: make(map[string]int),
		bans:     make(map[string]time.Time),
	}
}

// Check decides whether the caller may proceed. Bans are checked before
// rate, so a banned caller always sees the ban message.
func (g *Gate) Check(ctx context.Context, caller string) Decision {
	if g.rdb != nil {
		if d, ok := g.checkRedis(ctx, caller); ok {
			return d
		}
		// Redis fault: fall back to local counters rather than open the gate.
	}
	return g.checkLocal(caller)
}

func (g *Gate) checkLocal(caller string) Decision {
	now := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()

	if until, banned := g.bans[caller]; banned {
		if now.Before(until) {
			return Decision{Allowed: false, Reason: "temporarily banned", RetryAfter: until.Sub(now)}
		}
		delete(g.bans, caller)
		delete(g.failures, caller)
	}

	w, ok := g.windows[caller]
	if !ok || now.Sub(w.start) >= time.Minute {
		w = &window{start: now}
		g.windows[caller] = w
	}
	w.count++
	if w.count > g.cfg.MaxPerMinute {
		return Decision{Allowed: false, Reason: "rate limit exceeded", RetryAfter: w.start.Add(time.Minute).Sub(now)}
	}
	return Decision{Allowed: true}
}

func (g *Gate) checkRedis(ctx context.Context, caller string) (Decision, bool) {
	banTTL, err := g.rdb.TTL(ctx, banKey(caller)).Result()
	if err != nil {
		log.Printf("[GATE] redis ban check failed: %v", err)
		return Decision{}, false
	}
	if banTTL > 0 {
		return Decision{Allowed: false, Reason: "temporarily banned", RetryAfter: banTTL}, true
	}

	key := rateKey(caller, time.Now())
	count, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("[GATE] redis rate check failed: %v", err)
		return Decision{}, false
	}
	if count == 1 {
		g.rdb.Expire(ctx, key, 2*time.Minute)
	}
	if int(count) > g.cfg.MaxPerMinute {
		return Decision{Allowed: false, Reason: "rate limit exceeded", RetryAfter: time.Minute}, true
	}
	return Decision{Allowed: true}, true
}

// RecordFailure counts one failed verification for the caller. Reaching the
// threshold bans the caller for the configured duration and resets the count.
func (g *Gate) RecordFailure(ctx context.Context, caller string) {
	if g.rdb != nil {
		count, err := g.rdb.Incr(ctx, failKey(caller)).Result()
		if err == nil {
			if count == 1 {
				g.rdb.Expire(ctx, failKey(caller), g.cfg.BanDuration)
			}
			if int(count) >= g.cfg.MaxFailures {
				g.rdb.Set(ctx, banKey(caller), "1", g.cfg.BanDuration)
				g.rdb.Del(ctx, failKey(caller))
				log.Printf("[GATE] banned %s for %v after %d failed verifications", caller, g.cfg.BanDuration, count)
			}
			return
		}
		log.Printf("[GATE] redis failure count failed: %v", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[caller]++
	if g.failures[caller] >= g.cfg.MaxFailures {
		g.bans[caller] = time.Now().Add(g.cfg.BanDuration)
		delete(g.failures, caller)
		log.Printf("[GATE] banned %s for %v after repeated failed verifications", caller, g.cfg.BanDuration)
	}
}

// RecordSuccess clears the caller's failure count.
func (g *Gate) RecordSuccess(ctx context.Context, caller string) {
	if g.rdb != nil {
		if err := g.rdb.Del(ctx, failKey(caller)).Err(); err == nil {
			return
		}
	}
	g.mu.Lock()
	delete(g.failures, caller)
	g.mu.Unlock()
}

// EvictExpired drops expired bans and stale rate windows from the local
// maps. Redis keys expire on their own.
func (g *Gate) EvictExpired() {
	now := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	for caller, until := range g.bans {
		if now.After(until) {
			delete(g.bans, caller)
			delete(g.failures, caller)
		}
	}
	for caller, w := range g.windows {
		if now.Sub(w.start) >= 2*time.Minute {
			delete(g.windows, caller)
		}
	}
}

// BannedCount returns the number of active local bans.
func (g *Gate) BannedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	now := time.Now()
	for _, until := range g.bans {
		if now.Before(until) {
			n++
		}
	}
	return n
}

func rateKey(caller string, t time.Time) string {
	return fmt.Sprintf("gate:rate:%s:%d", caller, t.Unix()/60)
}

func failKey(caller string) string { return "gate:fail:" + caller }
func banKey(caller string) string  { return "gate:ban:" + caller }
