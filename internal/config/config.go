package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Recognized DB_TYPE values.
const (
	DBTypeSQLite   = "sqlite"
	DBTypePostgres = "postgres"
)

// Config carries every tunable of the engine. All values come from the
// environment with sensible defaults; numeric model constants live here
// rather than in the algorithm packages so deployments can tune them.
type Config struct {
	// Storage
	DBType      string // sqlite or postgres
	DatabaseURL string // postgres DSN, required when DBType is postgres
	SQLitePath  string

	// Logging: "dev" or "prod"
	LogMode string

	// Elo difficulty calibration
	EloScale         float64 // sigmoid steepness on the 0-100 rating axis
	EloK0            float64 // starting learning rate
	EloKMin          float64 // learning-rate floor
	EloWarmupCount   int     // observations before K starts decaying hard
	EloDefaultRating float64 // seed rating for unseen concepts and users

	// Memory model
	TargetRetention float64 // population default until a user is personalized

	// Training
	TrainMinLogs       int
	TrainValSplit      float64
	TrainMaxIterations int
	TrainLearningRate  float64
	TrainTimeout       time.Duration
	TrainConcurrency   int
	TrainHourUTC       int // hour of day the nightly batch runs

	// Online update path
	UpdateMaxRetries int // optimistic-lock retry budget per (user, concept)
}

// Load reads configuration from the environment. A .env file is honored when
// present but not required.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBType:      envString("DB_TYPE", DBTypeSQLite),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  envString("SQLITE_PATH", "data/recallengine.db"),

		LogMode: envString("LOG_MODE", "prod"),

		EloScale:         envFloat("ELO_SCALE", 20.0),
		EloK0:            envFloat("ELO_K0", 8.0),
		EloKMin:          envFloat("ELO_K_MIN", 1.0),
		EloWarmupCount:   envInt("ELO_WARMUP_COUNT", 10),
		EloDefaultRating: envFloat("ELO_DEFAULT_RATING", 50.0),

		TargetRetention: envFloat("TARGET_RETENTION", 0.9),

		TrainMinLogs:       envInt("TRAIN_MIN_LOGS", 300),
		TrainValSplit:      envFloat("TRAIN_VAL_SPLIT", 0.2),
		TrainMaxIterations: envInt("TRAIN_MAX_ITERATIONS", 80),
		TrainLearningRate:  envFloat("TRAIN_LEARNING_RATE", 0.05),
		TrainTimeout:       envDuration("TRAIN_TIMEOUT", 5*time.Minute),
		TrainConcurrency:   envInt("TRAIN_CONCURRENCY", 4),
		TrainHourUTC:       envInt("TRAIN_HOUR_UTC", 3),

		UpdateMaxRetries: envInt("UPDATE_MAX_RETRIES", 3),
	}

	if cfg.DBType != DBTypeSQLite && cfg.DBType != DBTypePostgres {
		return nil, fmt.Errorf("unrecognized DB_TYPE %q (expected %s or %s)", cfg.DBType, DBTypeSQLite, DBTypePostgres)
	}
	if cfg.DBType == DBTypePostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when DB_TYPE is postgres")
	}
	if cfg.TargetRetention <= 0 || cfg.TargetRetention >= 1 {
		return nil, fmt.Errorf("TARGET_RETENTION must be in (0,1), got %v", cfg.TargetRetention)
	}
	if cfg.TrainValSplit < 0.1 || cfg.TrainValSplit > 0.4 {
		return nil, fmt.Errorf("TRAIN_VAL_SPLIT must be in [0.1,0.4], got %v", cfg.TrainValSplit)
	}
	if cfg.TrainMinLogs < 50 {
		return nil, fmt.Errorf("TRAIN_MIN_LOGS must be at least 50, got %d", cfg.TrainMinLogs)
	}
	return cfg, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
