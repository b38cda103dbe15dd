package handlers

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
)

// AdminLogin exchanges the admin API key for a short-lived JWT.
func AdminLogin(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			APIKey string `json:"api_key"`
		}
		if err := c.BindJSON(&req); err != nil || req.APIKey == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "api_key required"})
			return
		}

		if !apiKeyMatches(deps.Cfg.AdminAPIKey, req.APIKey) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}

		now := time.Now()
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   "admin",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
		})
		signed, err := token.SignedString([]byte(deps.Cfg.JWTSecret))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": signed, "expires_in": 86400})
	}
}

// apiKeyMatches accepts either a bcrypt hash or a plaintext key in config.
// Deployments should set the hash; plaintext remains for local development.
func apiKeyMatches(configured, presented string) bool {
	if strings.HasPrefix(configured, "$2a$") || strings.HasPrefix(configured, "$2b$") {
		return bcrypt.CompareHashAndPassword([]byte(configured), []byte(presented)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(presented)) == 1
}

// AdminAuth guards admin routes with the JWT issued by AdminLogin.
func AdminAuth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			c.Abort()
			return
		}
		raw := strings.TrimPrefix(header, "Bearer ")

		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(jwtSecret), nil
		})
		if err != nil || !token.Valid || claims.Subject != "admin" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// AdminStats reports live operational counters.
func AdminStats(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		depths := deps.Queue.Depths()
		queueTotal := 0
		buckets := make([]gin.H, 0, len(depths))
		for key, n := range depths {
			queueTotal += n
			buckets = append(buckets, gin.H{
				"game_type": key.GameType,
				"stake":     key.Stake,
				"waiting":   n,
			})
		}

		c.JSON(http.StatusOK, gin.H{
			"queue_total":     queueTotal,
			"queue_buckets":   buckets,
			"active_sessions": deps.Registry.ActiveCount(),
			"total_sessions":  deps.Registry.SessionCount(),
			"connections":     deps.Hub.ConnectionCount(),
			"active_bans":     deps.Gate.BannedCount(),
			"verify_cache":    deps.Verifier.CacheSize(),
		})
	}
}

// AdminHistory serves the most recent persisted matches.
func AdminHistory(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := deps.History.Recent(c.Request.Context(), 50)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
			return
		}
		if records == nil {
			c.JSON(http.StatusOK, gin.H{"matches": []any{}})
			return
		}
		c.JSON(http.StatusOK, gin.H{"matches": records})
	}
}
