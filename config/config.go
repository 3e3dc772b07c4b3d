package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration, read from the environment (with an
// optional .env file for development).
type Config struct {
	Port         string
	MongoURI     string
	DatabaseName string
	JWTSecret    string

	AlphaVantageAPIKey string

	MonitorInterval  time.Duration
	ExpiryInterval   time.Duration
	RecoveryInterval time.Duration
	TriggerGrace     time.Duration
	TriggerDeadline  time.Duration

	OracleTimeout time.Duration
	LedgerTimeout time.Duration
}

// Load reads configuration, applying defaults for anything optional.
// MONGODB_URI and JWT_SECRET are required.
func Load() (*Config, error) {
	// Missing .env is fine in production; env vars win either way.
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		MongoURI:           os.Getenv("MONGODB_URI"),
		DatabaseName:       getEnv("DATABASE_NAME", "paper-trader"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		AlphaVantageAPIKey: os.Getenv("ALPHA_VANTAGE_API_KEY"),
		MonitorInterval:    getDuration("MONITOR_INTERVAL", 5*time.Second),
		ExpiryInterval:     getDuration("EXPIRY_SWEEP_INTERVAL", time.Hour),
		RecoveryInterval:   getDuration("RECOVERY_SWEEP_INTERVAL", time.Minute),
		TriggerGrace:       getDuration("TRIGGER_GRACE", 30*time.Second),
		TriggerDeadline:    getDuration("TRIGGER_DEADLINE", 5*time.Minute),
		OracleTimeout:      getDuration("ORACLE_TIMEOUT", 10*time.Second),
		LedgerTimeout:      getDuration("LEDGER_TIMEOUT", 10*time.Second),
	}

	if cfg.MongoURI == "" {
		return nil, fmt.Errorf("MONGODB_URI environment variable is not set")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is not set")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
