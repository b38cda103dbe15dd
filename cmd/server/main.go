package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"

	"github.com/truepvp/backend/internal/api"
	"github.com/truepvp/backend/internal/api/handlers"
	"github.com/truepvp/backend/internal/arena"
	"github.com/truepvp/backend/internal/config"
	"github.com/truepvp/backend/internal/database"
	"github.com/truepvp/backend/internal/gate"
	"github.com/truepvp/backend/internal/history"
	"github.com/truepvp/backend/internal/middleware"
	"github.com/truepvp/backend/internal/migrations"
	"github.com/truepvp/backend/internal/redis"
	"github.com/truepvp/backend/internal/verify"
	"github.com/truepvp/backend/internal/ws"
)

func main() {
	// Initialize configuration (loads .env when present)
	cfg := config.Load()

	// Database is optional: without it match history is simply not recorded.
	var db *sqlx.DB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = database.Connect(cfg.DatabaseURL, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		if os.Getenv("MIGRATE_ON_START") == "true" {
			log.Println("Running DB migrations on startup...")
			if err := migrations.RunMigrations(cfg.DatabaseURL); err != nil {
				log.Fatalf("Failed to run migrations: %v", err)
			}
		}
	} else {
		log.Printf("[DB] DATABASE_URL not set - match history disabled")
	}

	// Redis is optional: without it gate counters stay in-process and
	// lifecycle events are not published.
	var rdb *goredis.Client
	if cfg.RedisURL != "" {
		var err error
		rdb, err = redis.Connect(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer rdb.Close()
	} else {
		log.Printf("[REDIS] REDIS_URL not set - using in-process counters, no event publishing")
	}

	// Matchmaking queue
	queue := arena.NewMatchQueue(arena.QueueConfig{
		BaseRadius:     cfg.BaseRatingRadius,
		ExpansionStep:  cfg.RadiusExpansionStep,
		ExpansionEvery: time.Duration(cfg.RadiusExpansionSecs) * time.Second,
		MaxWait:        time.Duration(cfg.MaxQueueWaitSecs) * time.Second,
		MinRadiusFloor: cfg.BaseRatingRadius,
	})

	// Session registry
	registry := arena.NewRegistry(arena.RegistryConfig{
		Session: arena.SessionConfig{
			Rounds:          cfg.RoundCount,
			ChipValues:      []int{1, 2, 3, 4, 5},
			RoundTimeout:    time.Duration(cfg.RoundTimeoutSecs) * time.Second,
			InterRoundDelay: time.Duration(cfg.InterRoundDelaySecs) * time.Second,
			CompletionDelay: time.Duration(cfg.CompletionDelaySecs) * time.Second,
			Retention:       time.Duration(cfg.RetentionSecs) * time.Second,
		},
		Grace:            time.Duration(cfg.GraceSecs) * time.Second,
		FormationTimeout: time.Duration(cfg.FormationTimeoutSecs) * time.Second,
		IdleTimeout:      time.Duration(cfg.IdleTimeoutSecs) * time.Second,
	})
	queue.SetSessionCheck(registry.HasActive)

	// Collaborators
	events := ws.NewPublisher(rdb)
	hub := ws.NewHub(registry, cfg.GraceSecs, events)
	registry.SetBroadcaster(hub)
	go hub.Run()

	verifier := verify.NewVerifier(verify.Config{
		RPCURL:          cfg.LedgerRPCURL,
		TreasuryAccount: cfg.TreasuryAccount,
		CacheTTL:        time.Duration(cfg.VerifyCacheTTLSecs) * time.Second,
		SignatureExpiry: time.Duration(cfg.SignatureExpirySecs) * time.Second,
	})

	admissionGate := gate.NewGate(gate.Config{
		MaxPerMinute: cfg.MaxRequestsPerMinute,
		MaxFailures:  cfg.MaxFailedVerifications,
		BanDuration:  time.Duration(cfg.BanDurationSecs) * time.Second,
	}, rdb)

	recorder := history.NewRecorder(db)

	// Completion hook: persist, count, announce.
	registry.SetCompletionHook(func(s *arena.Session) {
		res := s.Result()
		if res == nil {
			return
		}
		middleware.SessionsCompleted.WithLabelValues(res.WinKind).Inc()
		middleware.ActiveSessions.Dec()
		recorder.Record(context.Background(), s)
		events.SessionFinished(res.SessionID, res.WinnerID, res.WinKind)
	})

	// One pairing consumer shared by the join handler and the sweep.
	onPairing := func(p *arena.Pairing) {
		registry.CreateFromPairing(*p)
		middleware.MatchesFormed.Inc()
		middleware.ActiveSessions.Inc()
		events.MatchFormed(p.SessionID, p.PlayerA.ParticipantID, p.PlayerB.ParticipantID, p.Stake, p.Quality)
		// Nudge both sides if they already hold a connection.
		for _, id := range []string{p.PlayerA.ParticipantID, p.PlayerB.ParticipantID} {
			hub.SendToParticipant(id, map[string]interface{}{
				"type":       "match_found",
				"session_id": p.SessionID,
				"quality":    p.Quality,
			})
		}
	}

	// Background sweep
	sweeper := arena.NewSweeper(arena.SweeperConfig{
		Interval:    time.Duration(cfg.SweepIntervalSecs) * time.Second,
		QueueMaxAge: time.Duration(cfg.QueueAbandonSecs) * time.Second,
	}, queue, registry, verifier, admissionGate)
	sweeper.SetPairingHandler(onPairing)
	sweeper.Start(context.Background())

	// Set up Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	api.SetupRoutes(router, &handlers.Deps{
		Cfg:       cfg,
		Queue:     queue,
		Registry:  registry,
		Hub:       hub,
		Verifier:  verifier,
		Gate:      admissionGate,
		Events:    events,
		History:   recorder,
		OnPairing: onPairing,
	})

	port := cfg.Port
	if port == "" {
		port = "3001"
	}
	log.Printf("Starting TruePvP server on port %s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
