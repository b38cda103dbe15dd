package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	Environment string

	// Server
	Port        string
	FrontendURL string

	// Database (optional - history recording only)
	DatabaseURL    string
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Redis (optional - admission gate counters and event publishing)
	RedisURL string

	// Ledger verification
	LedgerRPCURL        string
	TreasuryAccount     string
	FeeRate             float64
	VerifyCacheTTLSecs  int
	SignatureExpirySecs int

	// Stakes
	MinStakeAmount float64
	MaxStakeAmount float64
	StakeAmounts   []float64

	// Matchmaking
	BaseRatingRadius    int
	RadiusExpansionStep int
	RadiusExpansionSecs int
	MaxQueueWaitSecs    int
	QueueAbandonSecs    int

	// Session timers
	RoundCount           int
	RoundTimeoutSecs     int
	InterRoundDelaySecs  int
	CompletionDelaySecs  int
	FormationTimeoutSecs int
	IdleTimeoutSecs      int
	GraceSecs            int
	RetentionSecs        int
	SweepIntervalSecs    int

	// Admission gate
	MaxRequestsPerMinute   int
	MaxFailedVerifications int
	BanDurationSecs        int

	// Security
	JWTSecret   string
	AdminAPIKey string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	return &Config{
		// Environment
		Environment: getEnv("APP_ENV", "development"),

		// Server
		Port:        getEnv("APP_PORT", "3001"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),

		// Database
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		DBMaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 5),

		// Redis
		RedisURL: getEnv("REDIS_URL", ""),

		// Ledger verification
		LedgerRPCURL:        getEnv("LEDGER_RPC_URL", ""),
		TreasuryAccount:     getEnv("TREASURY_ACCOUNT", ""),
		FeeRate:             getEnvFloat("FEE_RATE", 0.015),
		VerifyCacheTTLSecs:  getEnvInt("VERIFY_CACHE_TTL_SECONDS", 3600),
		SignatureExpirySecs: getEnvInt("SIGNATURE_EXPIRY_SECONDS", 300),

		// Stakes
		MinStakeAmount: getEnvFloat("MIN_BET_AMOUNT", 0.05),
		MaxStakeAmount: getEnvFloat("MAX_BET_AMOUNT", 10.0),
		StakeAmounts:   getEnvFloats("BET_AMOUNTS", []float64{0.05, 0.1, 0.25, 0.5, 1.0}),

		// Matchmaking
		BaseRatingRadius:    getEnvInt("BASE_RATING_RADIUS", 100),
		RadiusExpansionStep: getEnvInt("RADIUS_EXPANSION_STEP", 50),
		RadiusExpansionSecs: getEnvInt("RADIUS_EXPANSION_SECONDS", 30),
		MaxQueueWaitSecs:    getEnvInt("MAX_QUEUE_WAIT_SECONDS", 120),
		QueueAbandonSecs:    getEnvInt("QUEUE_ABANDON_SECONDS", 300),

		// Session timers
		RoundCount:           getEnvInt("ROUND_COUNT", 5),
		RoundTimeoutSecs:     getEnvInt("ROUND_TIMEOUT_SECONDS", 30),
		InterRoundDelaySecs:  getEnvInt("INTER_ROUND_DELAY_SECONDS", 3),
		CompletionDelaySecs:  getEnvInt("COMPLETION_DELAY_SECONDS", 2),
		FormationTimeoutSecs: getEnvInt("FORMATION_TIMEOUT_SECONDS", 300),
		IdleTimeoutSecs:      getEnvInt("IDLE_TIMEOUT_SECONDS", 600),
		GraceSecs:            getEnvInt("DISCONNECT_GRACE_SECONDS", 60),
		RetentionSecs:        getEnvInt("RESULT_RETENTION_SECONDS", 10),
		SweepIntervalSecs:    getEnvInt("SWEEP_INTERVAL_SECONDS", 30),

		// Admission gate
		MaxRequestsPerMinute:   getEnvInt("MAX_REQUESTS_PER_MINUTE", 30),
		MaxFailedVerifications: getEnvInt("MAX_FAILED_VERIFICATIONS", 5),
		BanDurationSecs:        getEnvInt("BAN_DURATION_SECONDS", 3600),

		// Security
		JWTSecret:   getEnv("JWT_SECRET", "change-me-in-production"),
		AdminAPIKey: getEnv("ADMIN_API_KEY", "dev-api-key-change-in-production"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvFloats parses a comma-separated list of floats (e.g. "0.05,0.1,0.25").
func getEnvFloats(key string, defaultValue []float64) []float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []float64
	for _, part := range strings.Split(value, ",") {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return defaultValue
		}
		out = append(out, f)
	}
	return out
}
