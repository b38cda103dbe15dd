package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/truepvp/backend/internal/api/handlers"
	"github.com/truepvp/backend/internal/middleware"
)

// SetupRoutes configures all API routes
func SetupRoutes(router *gin.Engine, deps *handlers.Deps) {
	router.Use(middleware.CORSMiddleware(deps.Cfg))
	router.Use(middleware.MetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 group
	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", handlers.HealthCheck)

		// Matchmaking endpoints
		matchmaking := v1.Group("/matchmaking")
		{
			matchmaking.POST("/join", handlers.JoinQueue(deps))
			matchmaking.GET("/status/:participantId", handlers.QueueStatus(deps))
			matchmaking.POST("/cancel", handlers.CancelQueue(deps))
		}

		// Game endpoints
		game := v1.Group("/game")
		{
			game.GET("/result/:sessionId", handlers.GetResult(deps))
			game.GET("/:sessionId/state", handlers.GetGameState(deps))
			game.GET("/ws", middleware.WebSocketCORSCheck(deps.Cfg), deps.Hub.HandleWebSocket)
		}

		// Player endpoints
		v1.GET("/player/:participantId/history", handlers.GetHistory(deps))

		// Admin endpoints
		admin := v1.Group("/admin")
		{
			admin.POST("/login", handlers.AdminLogin(deps))
			authed := admin.Group("")
			authed.Use(handlers.AdminAuth(deps.Cfg.JWTSecret))
			{
				authed.GET("/stats", handlers.AdminStats(deps))
				authed.GET("/history", handlers.AdminHistory(deps))
			}
		}
	}
}
