package arena

import (
	"log"
	"sync"
	"time"
)

// Broadcaster pushes the per-participant view of a session to whoever is
// connected. The ws hub implements this; tests stub it.
type Broadcaster interface {
	PushState(s *Session)
}

// RegistryConfig holds the registry's timeouts plus the config handed to
// every new session.
type RegistryConfig struct {
	Session          SessionConfig
	Grace            time.Duration
	FormationTimeout time.Duration
	IdleTimeout      time.Duration
}

type graceEntry struct {
	sessionID      string
	participantID  string
	disconnectedAt time.Time
}

// Registry owns the set of live sessions: it creates one when a pairing
// forms, routes inbound actions to it, and destroys it on reap or
// abandonment.
type Registry struct {
	cfg RegistryConfig

	mu            sync.RWMutex
	sessions      map[string]*Session
	byParticipant map[string]string     // participantID -> sessionID, live sessions only
	grace         map[string]graceEntry // sessionID|participantID -> window

	broadcaster Broadcaster
	onComplete  func(*Session) // external hook: history, metrics, events
}

// NewRegistry creates an empty session registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	return &Registry{
		cfg:           cfg,
		sessions:      make(map[string]*Session),
		byParticipant: make(map[string]string),
		grace:         make(map[string]graceEntry),
	}
}

// SetBroadcaster wires the connection layer's push. Must be called before
// sessions are created.
func (r *Registry) SetBroadcaster(b Broadcaster) {
	r.broadcaster = b
}

// SetCompletionHook registers a callback fired once per terminal session.
func (r *Registry) SetCompletionHook(fn func(*Session)) {
	r.onComplete = fn
}

// CreateFromPairing consumes a pairing and creates the session it names.
func (r *Registry) CreateFromPairing(p Pairing) *Session {
	s := NewSession(p, r.cfg.Session)
	s.SetHooks(r.pushState, r.handleComplete)

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.byParticipant[p.PlayerA.ParticipantID] = s.ID
	r.byParticipant[p.PlayerB.ParticipantID] = s.ID
	r.mu.Unlock()

	log.Printf("[SESSION] created %s: %s vs %s (game=%s stake=%.2f)",
		s.ID, p.PlayerA.ParticipantID, p.PlayerB.ParticipantID, p.GameType, p.Stake)
	return s
}

func (r *Registry) pushState(s *Session) {
	if r.broadcaster != nil {
		r.broadcaster.PushState(s)
	}
}

// handleComplete releases participant ownership the moment a session turns
// terminal, so both identities may queue again during the retention window.
func (r *Registry) handleComplete(s *Session) {
	ids := s.ParticipantIDs()
	r.mu.Lock()
	for _, id := range ids {
		if r.byParticipant[id] == s.ID {
			delete(r.byParticipant, id)
		}
		delete(r.grace, graceKey(s.ID, id))
	}
	r.mu.Unlock()

	if r.onComplete != nil {
		r.onComplete(s)
	}
}

// Get retrieves a session by ID.
func (r *Registry) Get(sessionID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// ForParticipant returns the live session owning the participant, if any.
func (r *Registry) ForParticipant(participantID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byParticipant[participantID]
	if !ok {
		return nil, false
	}
	s, ok := r.sessions[id]
	return s, ok
}

// HasActive reports whether a live session owns the participant. Wired into
// the queue so nobody searches while playing.
func (r *Registry) HasActive(participantID string) bool {
	_, ok := r.ForParticipant(participantID)
	return ok
}

// Bind attaches a participant's connection to their session. Rebinding
// within the grace window clears it and restores play unchanged.
func (r *Registry) Bind(sessionID, participantID string) (*Session, error) {
	s, err := r.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if !s.HasParticipant(participantID) {
		return nil, ErrSessionFull
	}

	r.mu.Lock()
	if _, ok := r.grace[graceKey(sessionID, participantID)]; ok {
		delete(r.grace, graceKey(sessionID, participantID))
		log.Printf("[SESSION] %s: %s reconnected within grace", sessionID, participantID)
	}
	r.mu.Unlock()

	s.MarkBound(participantID)
	return s, nil
}

// Unbind detaches a connection and, on a live session, opens the
// reconnection grace window.
func (r *Registry) Unbind(sessionID, participantID string) {
	s, err := r.Get(sessionID)
	if err != nil {
		return
	}
	s.MarkUnbound(participantID)
	if s.IsTerminal() {
		return
	}

	r.mu.Lock()
	r.grace[graceKey(sessionID, participantID)] = graceEntry{
		sessionID:      sessionID,
		participantID:  participantID,
		disconnectedAt: time.Now(),
	}
	r.mu.Unlock()
	log.Printf("[SESSION] %s: %s disconnected, grace window open (%v)",
		sessionID, participantID, r.cfg.Grace)
}

// ResolveExpiredGrace forfeits participants whose reconnection window ran
// out while their session was still live.
func (r *Registry) ResolveExpiredGrace(now time.Time) int {
	r.mu.Lock()
	var expired []graceEntry
	for key, g := range r.grace {
		if now.Sub(g.disconnectedAt) > r.cfg.Grace {
			expired = append(expired, g)
			delete(r.grace, key)
		}
	}
	r.mu.Unlock()

	resolved := 0
	for _, g := range expired {
		s, err := r.Get(g.sessionID)
		if err != nil || s.IsTerminal() {
			continue
		}
		if s.Forfeit(g.participantID, "reconnection window expired") {
			resolved++
		}
	}
	return resolved
}

// ExpireUnformed abandons sessions stuck in AwaitingOpponent past the
// formation timeout.
func (r *Registry) ExpireUnformed(now time.Time) int {
	expired := 0
	for _, s := range r.snapshotSessions() {
		if s.State() == StateAwaitingOpponent && now.Sub(s.CreatedAt()) > r.cfg.FormationTimeout {
			if s.Abandon("formation timeout") {
				expired++
			}
		}
	}
	return expired
}

// ExpireIdle force-resolves sessions with no activity past the idle timeout.
// A lone disconnected participant forfeits; otherwise the session is
// abandoned without a winner.
func (r *Registry) ExpireIdle(now time.Time) int {
	expired := 0
	for _, s := range r.snapshotSessions() {
		if s.IsTerminal() || now.Sub(s.LastActivity()) <= r.cfg.IdleTimeout {
			continue
		}
		if absent := s.loneDisconnected(); absent != "" {
			if s.Forfeit(absent, "idle timeout") {
				expired++
			}
			continue
		}
		if s.Abandon("idle timeout") {
			expired++
		}
	}
	return expired
}

// ReapRetained removes terminal sessions past their retention window.
func (r *Registry) ReapRetained(now time.Time) int {
	reaped := 0
	for _, s := range r.snapshotSessions() {
		if !s.IsTerminal() {
			continue
		}
		if until := s.RetainedUntil(); !until.IsZero() && now.After(until) {
			s.Stop()
			r.mu.Lock()
			delete(r.sessions, s.ID)
			r.mu.Unlock()
			reaped++
			log.Printf("[SWEEP] reaped session %s", s.ID)
		}
	}
	return reaped
}

// Result serves the retained outcome for a terminal session.
func (r *Registry) Result(sessionID string) (*Result, error) {
	s, err := r.Get(sessionID)
	if err != nil {
		return nil, err
	}
	res := s.Result()
	if res == nil {
		return nil, ErrNotFound
	}
	return res, nil
}

// ActiveCount returns the number of non-terminal sessions.
func (r *Registry) ActiveCount() int {
	n := 0
	for _, s := range r.snapshotSessions() {
		if !s.IsTerminal() {
			n++
		}
	}
	return n
}

// SessionCount returns the total number of registered sessions.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) snapshotSessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func graceKey(sessionID, participantID string) string {
	return sessionID + "|" + participantID
}

// loneDisconnected returns the single disconnected participant's ID, or ""
// when zero or both are disconnected.
func (s *Session) loneDisconnected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	p1, p2 := s.players[0], s.players[1]
	if !p1.Connected && p2.Connected {
		return p1.ID
	}
	if !p2.Connected && p1.Connected {
		return p2.ID
	}
	return ""
}
