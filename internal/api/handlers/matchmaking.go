package handlers

import (
	"errors"
	"log"
	"math"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/truepvp/backend/internal/arena"
	"github.com/truepvp/backend/internal/middleware"
)

const (
	defaultGameType = "goldrush"
	defaultRating   = 1000
	guestPrefix     = "GUEST_"
	stakeTolerance  = 0.000001
)

type joinRequest struct {
	ParticipantID string  `json:"participant_id"`
	DisplayName   string  `json:"display_name"`
	GameType      string  `json:"game_type"`
	Stake         float64 `json:"stake"`
	Rating        int     `json:"rating"`
	TxReference   string  `json:"tx_reference"`
}

// JoinQueue admits a participant into the matchmaking queue. The flow is
// gate -> validation -> fee verification -> queue. A pairing produced by the
// join may involve two other participants; the joiner only gets "matched"
// when the pairing names them.
func JoinQueue(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		// One caller key for admission, failure escalation, and reset: the
		// ban only bites if Check consults the same key the failures were
		// recorded under.
		caller := c.ClientIP()
		decision := deps.Gate.Check(ctx, caller)
		if !decision.Allowed {
			middleware.GateBlocked.Inc()
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":               decision.Reason,
				"retry_after_seconds": int(decision.RetryAfter.Seconds()),
			})
			return
		}

		var req joinRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		req.ParticipantID = strings.TrimSpace(req.ParticipantID)
		req.DisplayName = strings.TrimSpace(req.DisplayName)
		if req.ParticipantID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "participant_id required"})
			return
		}
		if req.DisplayName == "" {
			req.DisplayName = shortID(req.ParticipantID)
		}
		if len(req.DisplayName) > 32 {
			req.DisplayName = req.DisplayName[:32]
		}
		if req.GameType == "" {
			req.GameType = defaultGameType
		}
		if req.Rating <= 0 {
			req.Rating = defaultRating
		}

		stake, ok := canonicalStake(deps.Cfg.StakeAmounts, req.Stake)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":          "invalid stake amount",
				"allowed_stakes": deps.Cfg.StakeAmounts,
			})
			return
		}

		// Guests skip fee verification; everyone else proves the entry fee.
		if !strings.HasPrefix(req.ParticipantID, guestPrefix) {
			if req.TxReference == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "tx_reference required"})
				return
			}
			fee := stake * deps.Cfg.FeeRate
			verdict, err := deps.Verifier.Verify(ctx, req.TxReference, req.ParticipantID, fee)
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "fee verification unavailable, try again"})
				return
			}
			if !verdict.Valid {
				deps.Gate.RecordFailure(ctx, caller)
				c.JSON(http.StatusPaymentRequired, gin.H{"error": "fee verification failed", "reason": verdict.Reason})
				return
			}
			deps.Gate.RecordSuccess(ctx, caller)
		}

		key := arena.BucketKey{GameType: req.GameType, Stake: stake}
		pairing, err := deps.Queue.Join(key, req.ParticipantID, req.DisplayName, req.Rating)
		if err != nil {
			switch {
			case errors.Is(err, arena.ErrAlreadyInSession):
				c.JSON(http.StatusConflict, gin.H{"error": "already in an active game"})
			case errors.Is(err, arena.ErrAlreadyQueued):
				c.JSON(http.StatusConflict, gin.H{"error": "already searching at a different stake"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to join queue"})
			}
			return
		}

		if pairing != nil && deps.OnPairing != nil {
			deps.OnPairing(pairing)
		}

		if pairing != nil && involves(pairing, req.ParticipantID) {
			c.JSON(http.StatusOK, gin.H{
				"status":        "matched",
				"session_id":    pairing.SessionID,
				"match_quality": pairing.Quality,
				"opponent":      opponentName(pairing, req.ParticipantID),
			})
			return
		}

		status := deps.Queue.Status(req.ParticipantID)
		if status == nil {
			// Joined and instantly consumed by a pairing we did not see; the
			// status endpoint will report the session.
			c.JSON(http.StatusOK, gin.H{"status": "waiting"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "waiting", "queue": status})
	}
}

// QueueStatus reports matched / waiting / not_in_queue for a participant.
func QueueStatus(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		participantID := c.Param("participantId")
		if participantID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "participant id required"})
			return
		}

		if s, ok := deps.Registry.ForParticipant(participantID); ok {
			c.JSON(http.StatusOK, gin.H{
				"status":     "matched",
				"session_id": s.ID,
			})
			return
		}

		if status := deps.Queue.Status(participantID); status != nil {
			c.JSON(http.StatusOK, gin.H{"status": "waiting", "queue": status})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "not_in_queue"})
	}
}

// CancelQueue removes a participant from the queue. Cancelling when not
// queued is a no-op success.
func CancelQueue(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			ParticipantID string `json:"participant_id"`
		}
		if err := c.BindJSON(&req); err != nil || strings.TrimSpace(req.ParticipantID) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "participant_id required"})
			return
		}

		cancelled := deps.Queue.Cancel(strings.TrimSpace(req.ParticipantID))
		if !cancelled {
			log.Printf("[MATCH] cancel for %s found no entry", req.ParticipantID)
		}
		c.JSON(http.StatusOK, gin.H{"status": "cancelled", "was_queued": cancelled})
	}
}

// canonicalStake snaps the requested stake onto the configured tier list.
func canonicalStake(allowed []float64, stake float64) (float64, bool) {
	for _, a := range allowed {
		if math.Abs(a-stake) < stakeTolerance {
			return a, true
		}
	}
	return 0, false
}

func involves(p *arena.Pairing, participantID string) bool {
	return p.PlayerA.ParticipantID == participantID || p.PlayerB.ParticipantID == participantID
}

func opponentName(p *arena.Pairing, participantID string) string {
	if p.PlayerA.ParticipantID == participantID {
		return p.PlayerB.DisplayName
	}
	return p.PlayerA.DisplayName
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:4] + ".." + id[len(id)-4:]
}
