package models

import (
	"database/sql"
	"time"
)

// MatchRecord is one completed (or otherwise terminal) session as persisted
// to the match_history table.
type MatchRecord struct {
	ID           int             `db:"id" json:"id"`
	SessionID    string          `db:"session_id" json:"session_id"`
	GameType     string          `db:"game_type" json:"game_type"`
	StakeAmount  float64         `db:"stake_amount" json:"stake_amount"`
	PlayerA      string          `db:"player_a" json:"player_a"`
	PlayerB      string          `db:"player_b" json:"player_b"`
	ScoreA       int             `db:"score_a" json:"score_a"`
	ScoreB       int             `db:"score_b" json:"score_b"`
	WinnerID     sql.NullString  `db:"winner_id" json:"winner_id,omitempty"`
	WinKind      string          `db:"win_kind" json:"win_kind"`
	MatchQuality sql.NullFloat64 `db:"match_quality" json:"match_quality,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	CompletedAt  time.Time       `db:"completed_at" json:"completed_at"`
}
