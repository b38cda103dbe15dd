package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"sync"
	"time"
)

// amountTolerance absorbs ledger rounding on transfer amounts.
const amountTolerance = 0.00001

// Verdict is the outcome of verifying a fee transfer.
type Verdict struct {
	Valid  bool    `json:"valid"`
	Amount float64 `json:"amount,omitempty"`
	Reason string  `json:"reason,omitempty"`
}

// Config holds the verifier tunables.
type Config struct {
	RPCURL          string
	TreasuryAccount string
	CacheTTL        time.Duration
	SignatureExpiry time.Duration
}

type cachedVerdict struct {
	verdict Verdict
	at      time.Time
}

// Verifier checks fee transfers against an external ledger. Positive
// verdicts are cached per reference for a bounded window so repeated joins
// with the same proof avoid redundant external calls. Without a configured
// RPC URL the verifier runs in mock mode and accepts everything.
type Verifier struct {
	cfg    Config
	client *http.Client

	mu    sync.Mutex
	cache map[string]cachedVerdict
}

// transferRecord is the ledger's view of one transfer.
type transferRecord struct {
	Found     bool    `json:"found"`
	Failed    bool    `json:"failed"`
	Sender    string  `json:"sender"`
	Recipient string  `json:"recipient"`
	Amount    float64 `json:"amount"`
	BlockTime int64   `json:"block_time"`
}

// NewVerifier creates a verifier. An empty RPCURL enables mock mode.
func NewVerifier(cfg Config) *Verifier {
	if cfg.RPCURL == "" {
		log.Printf("[VERIFY] ledger RPC not configured - running in mock mode")
	}
	return &Verifier{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		cache:  make(map[string]cachedVerdict),
	}
}

// Verify checks that the referenced transfer exists, succeeded, came from
// the payer, paid the treasury the expected amount, and is recent enough.
// Transient ledger failures are retried once and then surfaced as a failed
// verification with a non-nil error - never silently treated as success.
func (v *Verifier) Verify(ctx context.Context, reference, payerID string, expectedAmount float64) (Verdict, error) {
	v.mu.Lock()
	if cached, ok := v.cache[reference]; ok && time.Since(cached.at) < v.cfg.CacheTTL {
		v.mu.Unlock()
		return cached.verdict, nil
	}
	v.mu.Unlock()

	if v.cfg.RPCURL == "" {
		return Verdict{Valid: true, Amount: expectedAmount}, nil
	}

	rec, err := v.fetchTransfer(ctx, reference)
	if err != nil {
		// One retry before giving up on a transient fault.
		rec, err = v.fetchTransfer(ctx, reference)
		if err != nil {
			return Verdict{Valid: false, Reason: "ledger unavailable"}, err
		}
	}

	verdict := v.judge(rec, payerID, expectedAmount)
	if verdict.Valid {
		v.mu.Lock()
		v.cache[reference] = cachedVerdict{verdict: verdict, at: time.Now()}
		v.mu.Unlock()
		log.Printf("[VERIFY] ok %s", reference)
	}
	return verdict, nil
}

func (v *Verifier) judge(rec *transferRecord, payerID string, expectedAmount float64) Verdict {
	if !rec.Found {
		return Verdict{Valid: false, Reason: "Transaction not found"}
	}
	if rec.Failed {
		return Verdict{Valid: false, Reason: "Transaction failed"}
	}
	if rec.Sender != payerID {
		return Verdict{Valid: false, Reason: "Sender mismatch"}
	}
	if v.cfg.TreasuryAccount != "" && rec.Recipient != v.cfg.TreasuryAccount {
		return Verdict{Valid: false, Reason: "Recipient mismatch"}
	}
	if math.Abs(rec.Amount-expectedAmount) > amountTolerance {
		return Verdict{Valid: false, Reason: fmt.Sprintf("Amount mismatch: %v vs %v", rec.Amount, expectedAmount)}
	}
	if v.cfg.SignatureExpiry > 0 && rec.BlockTime > 0 {
		age := time.Since(time.Unix(rec.BlockTime, 0))
		if age > v.cfg.SignatureExpiry {
			return Verdict{Valid: false, Reason: "Transaction expired"}
		}
	}
	return Verdict{Valid: true, Amount: rec.Amount}
}

func (v *Verifier) fetchTransfer(ctx context.Context, reference string) (*transferRecord, error) {
	url := fmt.Sprintf("%s/v1/transfers/%s", v.cfg.RPCURL, reference)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &transferRecord{Found: false}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ledger returned status %d", resp.StatusCode)
	}

	var rec transferRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, err
	}
	rec.Found = true
	return &rec, nil
}

// EvictExpired drops cache entries past their TTL. Invoked by the sweep.
func (v *Verifier) EvictExpired() {
	now := time.Now()
	v.mu.Lock()
	defer v.mu.Unlock()
	for ref, cached := range v.cache {
		if now.Sub(cached.at) > v.cfg.CacheTTL {
			delete(v.cache, ref)
		}
	}
}

// CacheSize returns the number of cached verdicts.
func (v *Verifier) CacheSize() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.cache)
}
