package ws

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const eventChannel = "arena_events"

// Publisher pushes lifecycle events (match formed, session finished,
// disconnects) to a Redis channel for external observers. Best-effort and
// nil-safe: without Redis every publish is a no-op.
type Publisher struct {
	rdb *redis.Client
}

// NewPublisher wraps the optional Redis client.
func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

func (p *Publisher) publish(payload map[string]interface{}) {
	if p == nil || p.rdb == nil {
		return
	}
	payload["ts"] = time.Now().Unix()
	b, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[EVENTS] marshal failed: %v", err)
		return
	}
	if err := p.rdb.Publish(context.Background(), eventChannel, b).Err(); err != nil {
		log.Printf("[EVENTS] publish failed: %v", err)
	}
}

// MatchFormed announces a new pairing.
func (p *Publisher) MatchFormed(sessionID, playerA, playerB string, stake, quality float64) {
	p.publish(map[string]interface{}{
		"type":       "match_formed",
		"session_id": sessionID,
		"player_a":   playerA,
		"player_b":   playerB,
		"stake":      stake,
		"quality":    quality,
	})
}

// SessionFinished announces a terminal session.
func (p *Publisher) SessionFinished(sessionID, winnerID, winKind string) {
	p.publish(map[string]interface{}{
		"type":       "session_finished",
		"session_id": sessionID,
		"winner":     winnerID,
		"win_kind":   winKind,
	})
}

// SessionEvent announces a generic per-session event.
func (p *Publisher) SessionEvent(kind, sessionID, participantID string) {
	p.publish(map[string]interface{}{
		"type":        kind,
		"session_id":  sessionID,
		"participant": participantID,
	})
}
