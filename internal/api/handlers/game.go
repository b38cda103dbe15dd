package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetResult serves the retained outcome of a terminal session. Live sessions
// and reaped sessions both answer 404; the result only exists during the
// retention window.
func GetResult(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		res, err := deps.Registry.Result(sessionID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// GetGameState serves a participant's view of a live session over plain
// HTTP. The WebSocket push is the primary channel; this exists for polling
// clients and reconnect checks.
func GetGameState(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		participantID := c.Query("participant_id")
		if participantID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "participant_id required"})
			return
		}

		s, err := deps.Registry.Get(sessionID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		view := s.Snapshot(participantID)
		if view == nil {
			c.JSON(http.StatusForbidden, gin.H{"error": "not a participant of this session"})
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

// GetHistory serves a participant's persisted match records.
func GetHistory(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		participantID := c.Param("participantId")
		records, err := deps.History.ForParticipant(c.Request.Context(), participantID, 50)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
			return
		}
		if records == nil {
			// No database configured or no rows; both serve an empty list.
			c.JSON(http.StatusOK, gin.H{"matches": []any{}})
			return
		}
		c.JSON(http.StatusOK, gin.H{"matches": records})
	}
}
