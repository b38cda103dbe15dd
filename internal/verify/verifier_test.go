package verify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func ledgerStub(t *testing.T, hits *int64, rec map[string]transferRecord) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(hits, 1)
		ref := r.URL.Path[len("/v1/transfers/"):]
		tr, ok := rec[ref]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(tr)
	}))
}

func newTestVerifier(rpcURL string) *Verifier {
	return NewVerifier(Config{
		RPCURL:          rpcURL,
		TreasuryAccount: "treasury",
		CacheTTL:        time.Hour,
		SignatureExpiry: 5 * time.Minute,
	})
}

func TestMockModeAcceptsEverything(t *testing.T) {
	v := newTestVerifier("")
	verdict, err := v.Verify(context.Background(), "ref1", "alice", 0.0015)
	if err != nil {
		t.Fatalf("mock mode errored: %v", err)
	}
	if !verdict.Valid {
		t.Fatalf("mock mode rejected: %s", verdict.Reason)
	}
}

func TestVerifyAcceptsMatchingTransfer(t *testing.T) {
	var hits int64
	srv := ledgerStub(t, &hits, map[string]transferRecord{
		"ref1": {Sender: "alice", Recipient: "treasury", Amount: 0.0015, BlockTime: time.Now().Unix()},
	})
	defer srv.Close()

	v := newTestVerifier(srv.URL)
	verdict, err := v.Verify(context.Background(), "ref1", "alice", 0.0015)
	if err != nil {
		t.Fatalf("verify errored: %v", err)
	}
	if !verdict.Valid {
		t.Fatalf("valid transfer rejected: %s", verdict.Reason)
	}
}

func TestVerifyRejectsMismatches(t *testing.T) {
	now := time.Now().Unix()
	var hits int64
	srv := ledgerStub(t, &hits, map[string]transferRecord{
		"wrong-sender": {Sender: "mallory", Recipient: "treasury", Amount: 0.0015, BlockTime: now},
		"wrong-amount": {Sender: "alice", Recipient: "treasury", Amount: 0.5, BlockTime: now},
		"wrong-dest":   {Sender: "alice", Recipient: "mallory", Amount: 0.0015, BlockTime: now},
		"failed":       {Sender: "alice", Recipient: "treasury", Amount: 0.0015, BlockTime: now, Failed: true},
		"stale":        {Sender: "alice", Recipient: "treasury", Amount: 0.0015, BlockTime: now - 3600},
	})
	defer srv.Close()

	v := newTestVerifier(srv.URL)
	for _, ref := range []string{"wrong-sender", "wrong-amount", "wrong-dest", "failed", "stale", "missing"} {
		verdict, err := v.Verify(context.Background(), ref, "alice", 0.0015)
		if err != nil {
			t.Fatalf("%s: unexpected transport error: %v", ref, err)
		}
		if verdict.Valid {
			t.Errorf("%s: invalid transfer accepted", ref)
		}
	}
	if v.CacheSize() != 0 {
		t.Errorf("negative verdicts must not be cached, cache=%d", v.CacheSize())
	}
}

func TestPositiveVerdictCached(t *testing.T) {
	var hits int64
	srv := ledgerStub(t, &hits, map[string]transferRecord{
		"ref1": {Sender: "alice", Recipient: "treasury", Amount: 0.0015, BlockTime: time.Now().Unix()},
	})
	defer srv.Close()

	v := newTestVerifier(srv.URL)
	for i := 0; i < 3; i++ {
		if verdict, _ := v.Verify(context.Background(), "ref1", "alice", 0.0015); !verdict.Valid {
			t.Fatalf("attempt %d rejected", i+1)
		}
	}
	if got := atomic.LoadInt64(&hits); got != 1 {
		t.Errorf("expected 1 ledger hit thanks to the cache, got %d", got)
	}
}

func TestTransientFailureSurfacedWithRetry(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	v := newTestVerifier(srv.URL)
	verdict, err := v.Verify(context.Background(), "ref1", "alice", 0.0015)
	if err == nil {
		t.Fatalf("transient fault must surface an error")
	}
	if verdict.Valid {
		t.Fatalf("transient fault must never verify")
	}
	if got := atomic.LoadInt64(&hits); got != 2 {
		t.Errorf("expected exactly one retry (2 hits), got %d", got)
	}
}

func TestEvictExpiredDropsOldEntries(t *testing.T) {
	var hits int64
	srv := ledgerStub(t, &hits, map[string]transferRecord{
		"ref1": {Sender: "alice", Recipient: "treasury", Amount: 0.0015, BlockTime: time.Now().Unix()},
	})
	defer srv.Close()

	v := NewVerifier(Config{
		RPCURL:          srv.URL,
		TreasuryAccount: "treasury",
		CacheTTL:        time.Millisecond,
		SignatureExpiry: 5 * time.Minute,
	})
	if verdict, _ := v.Verify(context.Background(), "ref1", "alice", 0.0015); !verdict.Valid {
		t.Fatalf("transfer rejected")
	}
	time.Sleep(5 * time.Millisecond)
	v.EvictExpired()
	if v.CacheSize() != 0 {
		t.Errorf("expired entry survived eviction, cache=%d", v.CacheSize())
	}
}
