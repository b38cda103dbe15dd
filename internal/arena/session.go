package arena

import (
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"
)

// SessionState represents the current state of a session
type SessionState string

const (
	StateAwaitingOpponent SessionState = "AWAITING_OPPONENT"
	StateRoundActive      SessionState = "ROUND_ACTIVE"
	StateRoundResolving   SessionState = "ROUND_RESOLVING"
	StateCompleted        SessionState = "COMPLETED"
	StateRetained         SessionState = "RETAINED"
)

// Win kinds recorded on terminal sessions.
const (
	WinByScore   = "score"
	WinByDraw    = "draw"
	WinByForfeit = "forfeit"
	WinAbandoned = "abandoned"
)

// Participant is one side of a session.
type Participant struct {
	ID             string
	DisplayName    string
	Score          int
	Chips          []int // remaining chips, each playable once per session
	Choice         *int  // pending choice this round, nil until submitted
	Connected      bool
	DisconnectedAt *time.Time
}

// SessionConfig holds the per-session tunables.
type SessionConfig struct {
	Rounds          int
	ChipValues      []int
	RoundTimeout    time.Duration
	InterRoundDelay time.Duration
	CompletionDelay time.Duration
	Retention       time.Duration
}

// Session is the per-match state machine. All mutation goes through its own
// mutex; nothing here ever locks another session.
type Session struct {
	ID       string
	GameType string
	Stake    float64
	Quality  float64

	cfg SessionConfig

	mu            sync.Mutex
	state         SessionState
	players       [2]*Participant
	round         int
	roundValues   []int // per-round base value, shuffled at creation
	roundValue    int
	roundMessage  string
	winnerID      string
	winKind       string
	createdAt     time.Time
	lastActivity  time.Time
	completedAt   *time.Time
	retainedUntil time.Time

	// timerSeq invalidates armed timers: every transition that leaves the
	// state a timer was armed for bumps the sequence, so a stale timer
	// firing against a later state is a no-op.
	timerSeq int
	timer    *time.Timer

	// notify pushes per-participant state after a mutation. Called outside
	// the session lock.
	notify func(*Session)

	// onComplete fires once when the session turns terminal.
	onComplete func(*Session)
}

// NewSession creates a session for a consumed pairing. The session starts in
// AwaitingOpponent and begins round 1 when both participants have bound.
func NewSession(p Pairing, cfg SessionConfig) *Session {
	// Rounds and chips are tuned independently; each round consumes one chip
	// per participant and draws its base value from the chip set, so play can
	// never run past the chip supply.
	if cfg.Rounds > len(cfg.ChipValues) {
		cfg.Rounds = len(cfg.ChipValues)
	}
	now := time.Now()
	s := &Session{
		ID:       p.SessionID,
		GameType: p.GameType,
		Stake:    p.Stake,
		Quality:  p.Quality,
		cfg:      cfg,
		state:    StateAwaitingOpponent,
		players: [2]*Participant{
			{ID: p.PlayerA.ParticipantID, DisplayName: p.PlayerA.DisplayName, Chips: append([]int(nil), cfg.ChipValues...)},
			{ID: p.PlayerB.ParticipantID, DisplayName: p.PlayerB.DisplayName, Chips: append([]int(nil), cfg.ChipValues...)},
		},
		roundMessage: "Waiting for opponent...",
		createdAt:    now,
		lastActivity: now,
	}
	s.roundValues = append([]int(nil), cfg.ChipValues...)
	rand.Shuffle(len(s.roundValues), func(i, j int) {
		s.roundValues[i], s.roundValues[j] = s.roundValues[j], s.roundValues[i]
	})
	return s
}

// SetHooks wires the broadcast and completion callbacks.
func (s *Session) SetHooks(notify, onComplete func(*Session)) {
	s.mu.Lock()
	s.notify = notify
	s.onComplete = onComplete
	s.mu.Unlock()
}

// State returns the current state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsTerminal reports whether the session has resolved.
func (s *Session) IsTerminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminalLocked()
}

func (s *Session) terminalLocked() bool {
	return s.state == StateCompleted || s.state == StateRetained
}

// ParticipantIDs returns both participant identities.
func (s *Session) ParticipantIDs() [2]string {
	return [2]string{s.players[0].ID, s.players[1].ID}
}

// OpponentID returns the other participant's identity, or "".
func (s *Session) OpponentID(participantID string) string {
	for i, p := range s.players {
		if p.ID == participantID {
			return s.players[1-i].ID
		}
	}
	return ""
}

// HasParticipant reports whether the identity belongs to this session.
func (s *Session) HasParticipant(participantID string) bool {
	return s.players[0].ID == participantID || s.players[1].ID == participantID
}

func (s *Session) playerLocked(participantID string) *Participant {
	for _, p := range s.players {
		if p.ID == participantID {
			return p
		}
	}
	return nil
}

// MarkBound records a live connection for the participant. The second bind
// starts round 1; a rebind during play leaves game state untouched.
func (s *Session) MarkBound(participantID string) {
	s.mu.Lock()
	p := s.playerLocked(participantID)
	if p == nil {
		s.mu.Unlock()
		return
	}
	p.Connected = true
	p.DisconnectedAt = nil
	s.lastActivity = time.Now()

	started := false
	if s.state == StateAwaitingOpponent && s.players[0].Connected && s.players[1].Connected {
		s.startRoundLocked()
		started = true
	}
	notify := s.notify
	s.mu.Unlock()

	if started {
		log.Printf("[SESSION] %s: both participants connected, round 1 started", s.ID)
	}
	if notify != nil {
		notify(s)
	}
}

// MarkUnbound records a dropped connection. Grace bookkeeping lives in the
// registry; the state machine itself keeps playing until grace expires.
func (s *Session) MarkUnbound(participantID string) {
	s.mu.Lock()
	p := s.playerLocked(participantID)
	if p != nil {
		now := time.Now()
		p.Connected = false
		p.DisconnectedAt = &now
	}
	s.mu.Unlock()
}

// BothBound reports whether both participants hold live connections.
func (s *Session) BothBound() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.players[0].Connected && s.players[1].Connected
}

// SubmitChoice applies a participant's chip for the current round. Returns
// false (a no-op, not an error) when the session is not mid-round, the
// participant already chose, or the chip is not among their remaining chips.
func (s *Session) SubmitChoice(participantID string, value int) bool {
	s.mu.Lock()
	if s.state != StateRoundActive {
		s.mu.Unlock()
		return false
	}
	p := s.playerLocked(participantID)
	if p == nil || p.Choice != nil {
		s.mu.Unlock()
		return false
	}
	held := false
	for i, chip := range p.Chips {
		if chip == value {
			p.Chips = append(p.Chips[:i], p.Chips[i+1:]...)
			held = true
			break
		}
	}
	if !held {
		s.mu.Unlock()
		return false
	}
	v := value
	p.Choice = &v
	s.lastActivity = time.Now()

	if s.players[0].Choice != nil && s.players[1].Choice != nil {
		s.resolveRoundLocked()
	}
	notify := s.notify
	s.mu.Unlock()

	if notify != nil {
		notify(s)
	}
	return true
}

// startRoundLocked arms a fresh round. Caller holds s.mu.
func (s *Session) startRoundLocked() {
	s.round++
	s.roundValue = s.roundValues[s.round-1]
	for _, p := range s.players {
		p.Choice = nil
	}
	s.state = StateRoundActive
	s.roundMessage = fmt.Sprintf("Round %d - Choose Your Data Chip!", s.round)
	s.lastActivity = time.Now()
	s.armTimerLocked(s.cfg.RoundTimeout, s.handleRoundTimeout)
}

// handleRoundTimeout auto-fills missing choices with the first remaining chip
// and resolves the round. Auto-filled choices score like ordinary choices.
func (s *Session) handleRoundTimeout(seq int) {
	s.mu.Lock()
	if seq != s.timerSeq || s.state != StateRoundActive {
		s.mu.Unlock()
		return
	}
	for _, p := range s.players {
		if p.Choice == nil && len(p.Chips) > 0 {
			v := p.Chips[0]
			p.Chips = p.Chips[1:]
			p.Choice = &v
		}
	}
	log.Printf("[SESSION] %s: round %d timed out, auto-filling choices", s.ID, s.round)
	s.resolveRoundLocked()
	notify := s.notify
	s.mu.Unlock()

	if notify != nil {
		notify(s)
	}
}

// resolveRoundLocked scores the round and schedules the next transition.
// Strictly greater chip wins roundValue plus both chips; equal chips draw
// with no score change. Caller holds s.mu.
func (s *Session) resolveRoundLocked() {
	s.state = StateRoundResolving
	p1, p2 := s.players[0], s.players[1]

	c1, c2 := 0, 0
	if p1.Choice != nil {
		c1 = *p1.Choice
	}
	if p2.Choice != nil {
		c2 = *p2.Choice
	}

	var winner *Participant
	if c1 > c2 {
		winner = p1
	} else if c2 > c1 {
		winner = p2
	}

	if winner != nil {
		points := s.roundValue + c1 + c2
		winner.Score += points
		s.roundMessage = fmt.Sprintf("%s wins %d points!", winner.DisplayName, points)
	} else {
		s.roundMessage = "It's a draw!"
	}
	s.lastActivity = time.Now()

	if s.round >= s.cfg.Rounds {
		if s.cfg.CompletionDelay <= 0 {
			s.completeByScoreLocked()
			return
		}
		s.armTimerLocked(s.cfg.CompletionDelay, func(seq int) {
			s.mu.Lock()
			if seq != s.timerSeq || s.state != StateRoundResolving {
				s.mu.Unlock()
				return
			}
			s.completeByScoreLocked()
			notify := s.notify
			s.mu.Unlock()
			if notify != nil {
				notify(s)
			}
		})
		return
	}

	if s.cfg.InterRoundDelay <= 0 {
		s.startRoundLocked()
		return
	}
	s.armTimerLocked(s.cfg.InterRoundDelay, func(seq int) {
		s.mu.Lock()
		if seq != s.timerSeq || s.state != StateRoundResolving {
			s.mu.Unlock()
			return
		}
		s.startRoundLocked()
		notify := s.notify
		s.mu.Unlock()
		if notify != nil {
			notify(s)
		}
	})
}

// completeByScoreLocked resolves the winner from cumulative score.
// Caller holds s.mu.
func (s *Session) completeByScoreLocked() {
	p1, p2 := s.players[0], s.players[1]
	switch {
	case p1.Score > p2.Score:
		s.winnerID = p1.ID
		s.winKind = WinByScore
		s.roundMessage = fmt.Sprintf("Game Over! Winner is %s", p1.DisplayName)
	case p2.Score > p1.Score:
		s.winnerID = p2.ID
		s.winKind = WinByScore
		s.roundMessage = fmt.Sprintf("Game Over! Winner is %s", p2.DisplayName)
	default:
		s.winKind = WinByDraw
		s.roundMessage = "Game Over! Draw!"
	}
	s.finishLocked()
}

// Forfeit ends the session in the opponent's favor. Idempotent on terminal
// sessions.
func (s *Session) Forfeit(participantID, reason string) bool {
	s.mu.Lock()
	if s.terminalLocked() {
		s.mu.Unlock()
		return false
	}
	loser := s.playerLocked(participantID)
	if loser == nil {
		s.mu.Unlock()
		return false
	}
	winner := s.players[0]
	if winner == loser {
		winner = s.players[1]
	}
	s.winnerID = winner.ID
	s.winKind = WinByForfeit
	s.roundMessage = fmt.Sprintf("Game Over! %s wins by forfeit (%s)", winner.DisplayName, reason)
	s.finishLocked()
	notify := s.notify
	s.mu.Unlock()

	log.Printf("[SESSION] %s: %s forfeited (%s)", s.ID, participantID, reason)
	if notify != nil {
		notify(s)
	}
	return true
}

// Abandon terminates a session nobody is playing. No winner is declared.
func (s *Session) Abandon(reason string) bool {
	s.mu.Lock()
	if s.terminalLocked() {
		s.mu.Unlock()
		return false
	}
	s.winKind = WinAbandoned
	s.roundMessage = fmt.Sprintf("Game Over! Session abandoned (%s)", reason)
	s.finishLocked()
	notify := s.notify
	s.mu.Unlock()

	log.Printf("[SESSION] %s: abandoned (%s)", s.ID, reason)
	if notify != nil {
		notify(s)
	}
	return true
}

// finishLocked moves the session to its terminal, retained form. Terminal
// sessions are immutable except for retention-window deletion. Caller holds
// s.mu and must invoke onComplete after releasing it.
func (s *Session) finishLocked() {
	now := time.Now()
	s.state = StateCompleted
	s.completedAt = &now
	// Completed sessions are immediately queryable and retained for a
	// bounded window before the sweep reaps them.
	s.state = StateRetained
	s.retainedUntil = now.Add(s.cfg.Retention)
	s.timerSeq++ // invalidate any armed timer
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	if s.onComplete != nil {
		oc := s.onComplete
		s.onComplete = nil
		go oc(s)
	}
}

// armTimerLocked replaces the armed timer. The old timer is invalidated
// before the new one is armed. Caller holds s.mu.
func (s *Session) armTimerLocked(d time.Duration, fn func(seq int)) {
	s.timerSeq++
	seq := s.timerSeq
	if s.timer != nil {
		s.timer.Stop()
	}
	if d <= 0 {
		d = time.Millisecond
	}
	s.timer = time.AfterFunc(d, func() { fn(seq) })
}

// Stop cancels any armed timer. Used when the registry drops the session.
func (s *Session) Stop() {
	s.mu.Lock()
	s.timerSeq++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
}

// LastActivity returns the last mutation time.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// RetainedUntil returns the retention deadline (zero until terminal).
func (s *Session) RetainedUntil() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retainedUntil
}

// CreatedAt returns the formation time.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// Result is the retained outcome served by the result-lookup endpoint.
type Result struct {
	SessionID   string         `json:"session_id"`
	GameType    string         `json:"game_type"`
	Stake       float64        `json:"stake"`
	WinnerID    string         `json:"winner_id,omitempty"`
	WinKind     string         `json:"win_kind"`
	Scores      map[string]int `json:"scores"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Result returns the terminal outcome, or nil while the session is live.
func (s *Session) Result() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.terminalLocked() {
		return nil
	}
	return &Result{
		SessionID: s.ID,
		GameType:  s.GameType,
		Stake:     s.Stake,
		WinnerID:  s.winnerID,
		WinKind:   s.winKind,
		Scores: map[string]int{
			s.players[0].ID: s.players[0].Score,
			s.players[1].ID: s.players[1].Score,
		},
		CompletedAt: s.completedAt,
	}
}

// ParticipantView is one side of a ViewState.
type ParticipantView struct {
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name"`
	Score         int    `json:"score"`
	Chips         []int  `json:"chips"`
	Choice        *int   `json:"choice"`
	Connected     bool   `json:"connected"`
}

// ViewState is the per-participant projection pushed after every mutation.
// The requester sees their own pending choice; the opponent's choice stays
// hidden until both have chosen.
type ViewState struct {
	Type         string           `json:"type"`
	SessionID    string           `json:"session_id"`
	GameType     string           `json:"game_type"`
	Round        int              `json:"round"`
	RoundValue   int              `json:"round_value"`
	RoundMessage string           `json:"round_message"`
	State        SessionState     `json:"state"`
	GameOver     bool             `json:"game_over"`
	WinnerID     string           `json:"winner_id,omitempty"`
	You          *ParticipantView `json:"you"`
	Opponent     *ParticipantView `json:"opponent,omitempty"`
}

// Snapshot produces the asymmetric view for one participant.
func (s *Session) Snapshot(participantID string) *ViewState {
	s.mu.Lock()
	defer s.mu.Unlock()

	me := s.playerLocked(participantID)
	if me == nil {
		return nil
	}
	opp := s.players[0]
	if opp == me {
		opp = s.players[1]
	}
	bothChose := s.players[0].Choice != nil && s.players[1].Choice != nil

	view := &ViewState{
		Type:         "game_state",
		SessionID:    s.ID,
		GameType:     s.GameType,
		Round:        s.round,
		RoundValue:   s.roundValue,
		RoundMessage: s.roundMessage,
		State:        s.state,
		GameOver:     s.terminalLocked(),
		WinnerID:     s.winnerID,
		You: &ParticipantView{
			ParticipantID: me.ID,
			DisplayName:   me.DisplayName,
			Score:         me.Score,
			Chips:         append([]int(nil), me.Chips...),
			Choice:        me.Choice,
			Connected:     me.Connected,
		},
	}

	oppView := &ParticipantView{
		ParticipantID: opp.ID,
		DisplayName:   opp.DisplayName,
		Score:         opp.Score,
		Chips:         append([]int(nil), opp.Chips...),
		Connected:     opp.Connected,
	}
	if bothChose || s.terminalLocked() {
		oppView.Choice = opp.Choice
	}
	view.Opponent = oppView
	return view
}
