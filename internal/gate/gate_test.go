package gate

import (
	"context"
	"testing"
	"time"
)

func newTestGate() *Gate {
	return NewGate(Config{
		MaxPerMinute: 3,
		MaxFailures:  2,
		BanDuration:  time.Hour,
	}, nil)
}

func TestRateLimitPerMinute(t *testing.T) {
	g := newTestGate()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if d := g.Check(ctx, "1.2.3.4"); !d.Allowed {
			t.Fatalf("request %d blocked below the limit: %s", i+1, d.Reason)
		}
	}
	d := g.Check(ctx, "1.2.3.4")
	if d.Allowed {
		t.Fatalf("4th request in a minute should be blocked")
	}
	if d.RetryAfter <= 0 {
		t.Errorf("blocked decision must carry a retry-after hint")
	}

	// A different caller has its own window.
	if d := g.Check(ctx, "5.6.7.8"); !d.Allowed {
		t.Errorf("independent caller blocked: %s", d.Reason)
	}
}

func TestRateWindowResets(t *testing.T) {
	g := newTestGate()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		g.Check(ctx, "1.2.3.4")
	}

	// Age the window out instead of sleeping through it.
	g.mu.Lock()
	g.windows["1.2.3.4"].start = time.Now().Add(-2 * time.Minute)
	g.mu.Unlock()

	if d := g.Check(ctx, "1.2.3.4"); !d.Allowed {
		t.Errorf("request blocked after window reset: %s", d.Reason)
	}
}

func TestFailureEscalationBans(t *testing.T) {
	g := newTestGate()
	ctx := context.Background()

	g.RecordFailure(ctx, "wallet1")
	if d := g.Check(ctx, "wallet1"); !d.Allowed {
		t.Fatalf("one failure below threshold should not ban")
	}

	g.RecordFailure(ctx, "wallet1")
	d := g.Check(ctx, "wallet1")
	if d.Allowed {
		t.Fatalf("threshold failures should ban the caller")
	}
	if d.Reason != "temporarily banned" {
		t.Errorf("unexpected reason %q", d.Reason)
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Hour {
		t.Errorf("retry-after outside ban duration: %v", d.RetryAfter)
	}
	if g.BannedCount() != 1 {
		t.Errorf("expected 1 active ban, got %d", g.BannedCount())
	}
}

func TestSuccessClearsFailures(t *testing.T) {
	g := newTestGate()
	ctx := context.Background()

	g.RecordFailure(ctx, "wallet1")
	g.RecordSuccess(ctx, "wallet1")
	g.RecordFailure(ctx, "wallet1")

	if d := g.Check(ctx, "wallet1"); !d.Allowed {
		t.Errorf("success should have reset the failure count")
	}
}

func TestExpiredBanLifts(t *testing.T) {
	g := newTestGate()
	ctx := context.Background()

	g.RecordFailure(ctx, "wallet1")
	g.RecordFailure(ctx, "wallet1")

	g.mu.Lock()
	g.bans["wallet1"] = time.Now().Add(-time.Second)
	g.mu.Unlock()

	if d := g.Check(ctx, "wallet1"); !d.Allowed {
		t.Errorf("expired ban still blocking: %s", d.Reason)
	}
}

func TestEvictExpiredDropsStaleState(t *testing.T) {
	g := newTestGate()
	ctx := context.Background()

	g.Check(ctx, "1.2.3.4")
	g.RecordFailure(ctx, "wallet1")
	g.RecordFailure(ctx, "wallet1")

	g.mu.Lock()
	g.bans["wallet1"] = time.Now().Add(-time.Second)
	g.windows["1.2.3.4"].start = time.Now().Add(-3 * time.Minute)
	g.mu.Unlock()

	g.EvictExpired()

	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.bans) != 0 {
		t.Errorf("expired ban not evicted")
	}
	if len(g.windows) != 0 {
		t.Errorf("stale window not evicted")
	}
}
