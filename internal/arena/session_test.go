package arena

import (
	"testing"
	"time"
)

func testPairing() Pairing {
	return Pairing{
		SessionID: "game_test0001",
		GameType:  "goldrush",
		Stake:     0.1,
		PlayerA:   QueueEntry{ParticipantID: "alice", DisplayName: "Alice", Rating: 1000},
		PlayerB:   QueueEntry{ParticipantID: "bob", DisplayName: "Bob", Rating: 1050},
		Quality:   0.9,
	}
}

// newLiveSession returns a session with both sides bound and round 1 active.
// Zero delays make round transitions synchronous; the long round timeout
// keeps the timer from firing mid-test.
func newLiveSession(t *testing.T, cfg SessionConfig) *Session {
	t.Helper()
	if cfg.Rounds == 0 {
		cfg = SessionConfig{
			Rounds:       5,
			ChipValues:   []int{1, 2, 3, 4, 5},
			RoundTimeout: time.Hour,
			Retention:    time.Minute,
		}
	}
	s := NewSession(testPairing(), cfg)
	s.MarkBound("alice")
	if s.State() != StateAwaitingOpponent {
		t.Fatalf("one bound connection should still await opponent, state=%s", s.State())
	}
	s.MarkBound("bob")
	if s.State() != StateRoundActive {
		t.Fatalf("expected round 1 active after both bound, state=%s", s.State())
	}
	return s
}

func (s *Session) currentRound() (round, roundValue int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.round, s.roundValue
}

func TestHigherChipWinsRoundValuePlusBothChips(t *testing.T) {
	s := newLiveSession(t, SessionConfig{})
	_, rv := s.currentRound()

	if !s.SubmitChoice("alice", 3) {
		t.Fatalf("alice's choice rejected")
	}
	if !s.SubmitChoice("bob", 5) {
		t.Fatalf("bob's choice rejected")
	}

	s.mu.Lock()
	bobScore := s.players[1].Score
	aliceScore := s.players[0].Score
	s.mu.Unlock()

	want := rv + 3 + 5
	if bobScore != want {
		t.Errorf("expected bob to gain %d points, got %d", want, bobScore)
	}
	if aliceScore != 0 {
		t.Errorf("loser should not score, got %d", aliceScore)
	}

	round, _ := s.currentRound()
	if round != 2 {
		t.Errorf("expected round 2 after synchronous transition, got %d", round)
	}
}

func TestEqualChipsDrawWithoutScoring(t *testing.T) {
	s := newLiveSession(t, SessionConfig{})

	s.SubmitChoice("alice", 4)
	s.SubmitChoice("bob", 4)

	s.mu.Lock()
	a, b := s.players[0].Score, s.players[1].Score
	s.mu.Unlock()
	if a != 0 || b != 0 {
		t.Errorf("draw must not change scores, got %d/%d", a, b)
	}
}

func TestDuplicateChoiceRejected(t *testing.T) {
	s := newLiveSession(t, SessionConfig{})

	if !s.SubmitChoice("alice", 2) {
		t.Fatalf("first choice rejected")
	}
	if s.SubmitChoice("alice", 3) {
		t.Errorf("second choice in the same round should be rejected")
	}
}

func TestChipNotHeldRejected(t *testing.T) {
	s := newLiveSession(t, SessionConfig{})

	if s.SubmitChoice("alice", 9) {
		t.Errorf("choice outside chip set should be rejected")
	}

	// Spend chip 5 in round 1, then try to replay it in round 2.
	s.SubmitChoice("alice", 5)
	s.SubmitChoice("bob", 1)
	if s.SubmitChoice("alice", 5) {
		t.Errorf("a spent chip should not be playable again")
	}
}

func TestChoiceRejectedOutsideActiveRound(t *testing.T) {
	s := NewSession(testPairing(), SessionConfig{
		Rounds:       5,
		ChipValues:   []int{1, 2, 3, 4, 5},
		RoundTimeout: time.Hour,
		Retention:    time.Minute,
	})
	if s.SubmitChoice("alice", 1) {
		t.Errorf("choice before round start should be rejected")
	}
}

func TestSessionCompletesAfterAllRounds(t *testing.T) {
	s := newLiveSession(t, SessionConfig{})

	// Alice plays ascending, bob descending: deterministic 2-2 round split
	// with one draw, outcome decided by chip arithmetic.
	alicePlays := []int{1, 2, 3, 4, 5}
	bobPlays := []int{5, 4, 3, 2, 1}
	for i := 0; i < 5; i++ {
		if !s.SubmitChoice("alice", alicePlays[i]) {
			t.Fatalf("round %d: alice's chip %d rejected", i+1, alicePlays[i])
		}
		if !s.SubmitChoice("bob", bobPlays[i]) {
			t.Fatalf("round %d: bob's chip %d rejected", i+1, bobPlays[i])
		}
	}

	if !s.IsTerminal() {
		t.Fatalf("session should be terminal after %d rounds", 5)
	}
	res := s.Result()
	if res == nil {
		t.Fatalf("terminal session must expose a result")
	}
	switch res.WinKind {
	case WinByScore:
		if res.WinnerID == "" {
			t.Errorf("score win without a winner")
		}
		if res.Scores[res.WinnerID] <= res.Scores[s.OpponentID(res.WinnerID)] {
			t.Errorf("winner does not hold the higher score: %v", res.Scores)
		}
	case WinByDraw:
		if res.WinnerID != "" {
			t.Errorf("draw must not name a winner")
		}
		if res.Scores["alice"] != res.Scores["bob"] {
			t.Errorf("draw with unequal scores: %v", res.Scores)
		}
	default:
		t.Errorf("unexpected win kind %q", res.WinKind)
	}
}

func TestRoundCountClampedToChipSupply(t *testing.T) {
	// More configured rounds than chips: the session must complete when the
	// chips run out instead of starting a round it cannot value.
	s := newLiveSession(t, SessionConfig{
		Rounds:       8,
		ChipValues:   []int{1, 2, 3, 4, 5},
		RoundTimeout: time.Hour,
		Retention:    time.Minute,
	})

	for i := 0; i < 5; i++ {
		chip := i + 1
		if !s.SubmitChoice("alice", chip) {
			t.Fatalf("round %d: alice's chip %d rejected", i+1, chip)
		}
		if !s.SubmitChoice("bob", 5-i) {
			t.Fatalf("round %d: bob's chip %d rejected", i+1, 5-i)
		}
	}

	if !s.IsTerminal() {
		t.Fatalf("session should complete once every chip is spent")
	}
	if round, _ := s.currentRound(); round != 5 {
		t.Errorf("expected exactly 5 rounds played, got %d", round)
	}
}

func TestRoundTimeoutAutoFillsChoices(t *testing.T) {
	s := newLiveSession(t, SessionConfig{})

	s.SubmitChoice("alice", 2)

	s.mu.Lock()
	seq := s.timerSeq
	s.mu.Unlock()
	s.handleRoundTimeout(seq)

	round, _ := s.currentRound()
	if round != 2 {
		t.Fatalf("timeout should resolve the round, round=%d", round)
	}
	// Bob's auto-filled chip (first remaining, 1) must be spent.
	s.mu.Lock()
	bobChips := append([]int(nil), s.players[1].Chips...)
	s.mu.Unlock()
	for _, c := range bobChips {
		if c == 1 {
			t.Errorf("auto-filled chip 1 still held: %v", bobChips)
		}
	}
}

func TestStaleTimerIsIgnored(t *testing.T) {
	s := newLiveSession(t, SessionConfig{})

	s.mu.Lock()
	staleSeq := s.timerSeq
	s.mu.Unlock()

	// Both choices resolve the round and bump the sequence.
	s.SubmitChoice("alice", 1)
	s.SubmitChoice("bob", 2)
	round, _ := s.currentRound()
	if round != 2 {
		t.Fatalf("expected round 2, got %d", round)
	}

	s.handleRoundTimeout(staleSeq)
	round, _ = s.currentRound()
	if round != 2 {
		t.Errorf("stale timer advanced the session to round %d", round)
	}
}

func TestForfeitAwardsOpponent(t *testing.T) {
	s := newLiveSession(t, SessionConfig{})

	if !s.Forfeit("bob", "test") {
		t.Fatalf("forfeit on a live session failed")
	}
	res := s.Result()
	if res == nil || res.WinKind != WinByForfeit || res.WinnerID != "alice" {
		t.Fatalf("expected alice to win by forfeit, got %+v", res)
	}

	if s.Forfeit("alice", "test") {
		t.Errorf("forfeit on a terminal session must be a no-op")
	}
	if s.Abandon("test") {
		t.Errorf("abandon on a terminal session must be a no-op")
	}
}

func TestAbandonHasNoWinner(t *testing.T) {
	s := NewSession(testPairing(), SessionConfig{
		Rounds:       5,
		ChipValues:   []int{1, 2, 3, 4, 5},
		RoundTimeout: time.Hour,
		Retention:    time.Minute,
	})
	if !s.Abandon("formation timeout") {
		t.Fatalf("abandon failed")
	}
	res := s.Result()
	if res == nil || res.WinKind != WinAbandoned || res.WinnerID != "" {
		t.Fatalf("expected abandoned result without winner, got %+v", res)
	}
}

func TestSnapshotMasksOpponentChoiceUntilBothChose(t *testing.T) {
	s := newLiveSession(t, SessionConfig{
		Rounds:          5,
		ChipValues:      []int{1, 2, 3, 4, 5},
		RoundTimeout:    time.Hour,
		InterRoundDelay: time.Hour, // hold the resolving state for inspection
		Retention:       time.Minute,
	})

	s.SubmitChoice("alice", 3)

	view := s.Snapshot("bob")
	if view == nil {
		t.Fatalf("participant snapshot missing")
	}
	if view.Opponent.Choice != nil {
		t.Errorf("opponent's pending choice must be hidden")
	}

	aliceView := s.Snapshot("alice")
	if aliceView.You.Choice == nil || *aliceView.You.Choice != 3 {
		t.Errorf("own pending choice must be visible")
	}

	s.SubmitChoice("bob", 4)
	view = s.Snapshot("bob")
	if view.Opponent.Choice == nil || *view.Opponent.Choice != 3 {
		t.Errorf("opponent's choice must be revealed once both chose")
	}

	if s.Snapshot("stranger") != nil {
		t.Errorf("non-participants must not get a snapshot")
	}
}

func TestResultNilWhileLive(t *testing.T) {
	s := newLiveSession(t, SessionConfig{})
	if s.Result() != nil {
		t.Errorf("live session must not expose a result")
	}
}
