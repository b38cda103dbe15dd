package history

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/truepvp/backend/internal/arena"
	"github.com/truepvp/backend/internal/models"
)

// Recorder persists terminal sessions to the match_history table. It is
// best-effort and nil-safe: without a database every call is a no-op, and a
// failed insert never blocks or fails the session lifecycle.
type Recorder struct {
	db *sqlx.DB
}

// NewRecorder wraps the optional database handle.
func NewRecorder(db *sqlx.DB) *Recorder {
	return &Recorder{db: db}
}

// Record inserts one terminal session. Safe to call from the completion hook.
func (r *Recorder) Record(ctx context.Context, s *arena.Session) {
	if r == nil || r.db == nil {
		return
	}
	res := s.Result()
	if res == nil {
		return
	}

	ids := s.ParticipantIDs()
	rec := models.MatchRecord{
		SessionID:    res.SessionID,
		GameType:     res.GameType,
		StakeAmount:  res.Stake,
		PlayerA:      ids[0],
		PlayerB:      ids[1],
		ScoreA:       res.Scores[ids[0]],
		ScoreB:       res.Scores[ids[1]],
		WinKind:      res.WinKind,
		MatchQuality: sql.NullFloat64{Float64: s.Quality, Valid: true},
		CreatedAt:    s.CreatedAt(),
		CompletedAt:  time.Now(),
	}
	if res.WinnerID != "" {
		rec.WinnerID = sql.NullString{String: res.WinnerID, Valid: true}
	}
	if res.CompletedAt != nil {
		rec.CompletedAt = *res.CompletedAt
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO match_history
			(session_id, game_type, stake_amount, player_a, player_b,
			 score_a, score_b, winner_id, win_kind, match_quality,
			 created_at, completed_at)
		VALUES
			(:session_id, :game_type, :stake_amount, :player_a, :player_b,
			 :score_a, :score_b, :winner_id, :win_kind, :match_quality,
			 :created_at, :completed_at)
		ON CONFLICT (session_id) DO NOTHING`, rec)
	if err != nil {
		log.Printf("[HISTORY] insert failed for %s: %v", res.SessionID, err)
		return
	}
	log.Printf("[HISTORY] recorded %s (%s)", res.SessionID, res.WinKind)
}

// Recent returns the most recent records, newest first.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]models.MatchRecord, error) {
	if r == nil || r.db == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var out []models.MatchRecord
	err := r.db.SelectContext(ctx, &out, `
		SELECT * FROM match_history
		ORDER BY completed_at DESC
		LIMIT $1`, limit)
	return out, err
}

// ForParticipant returns a participant's records, newest first.
func (r *Recorder) ForParticipant(ctx context.Context, participantID string, limit int) ([]models.MatchRecord, error) {
	if r == nil || r.db == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var out []models.MatchRecord
	err := r.db.SelectContext(ctx, &out, `
		SELECT * FROM match_history
		WHERE player_a = $1 OR player_b = $1
		ORDER BY completed_at DESC
		LIMIT $2`, participantID, limit)
	return out, err
}
