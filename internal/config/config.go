package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the API process.
// Values are primarily loaded from environment variables with sane
// defaults so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	PGDSN string

	RedisAddr     string
	RedisPassword string

	KafkaBrokers []string
	KafkaTopic   string

	// Distance oracle selection and credentials.
	OracleProvider   string // "ola" or "google"
	OlaEndpoint      string
	OlaAPIKey        string
	GoogleMapsAPIKey string
	OracleTimeout    time.Duration
	OracleCacheTTL   time.Duration

	// Matching parameters.
	StartRadiusM    float64
	DestRadiusM     float64
	FreshnessWindow time.Duration

	// Connection handshake parameters.
	MaxPendingConnections int

	JWTSecret string

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,

		KafkaTopic: "pool-events",

		OracleProvider: "ola",
		OlaEndpoint:    "https://api.olamaps.io/routing/v1/distanceMatrix/basic",
		OracleTimeout:  5 * time.Second,
		OracleCacheTTL: 5 * time.Minute,

		StartRadiusM:    5000,
		DestRadiusM:     5000,
		FreshnessWindow: 15 * time.Minute,

		MaxPendingConnections: 5,

		LogLevel: "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.PGDSN = os.Getenv("PG_DSN")

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	if v := os.Getenv("ORACLE_PROVIDER"); v != "" {
		cfg.OracleProvider = strings.ToLower(strings.TrimSpace(v))
	}
	setStringFromEnv(&cfg.OlaEndpoint, "OLA_MAPS_ENDPOINT")
	cfg.OlaAPIKey = os.Getenv("OLA_MAPS_API_KEY")
	cfg.GoogleMapsAPIKey = os.Getenv("GOOGLE_MAPS_API_KEY")
	setDurationFromEnv(&cfg.OracleTimeout, "ORACLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.OracleCacheTTL, "ORACLE_CACHE_TTL", &errs)

	setFloatFromEnv(&cfg.StartRadiusM, "START_RADIUS_M", &errs)
	setFloatFromEnv(&cfg.DestRadiusM, "DEST_RADIUS_M", &errs)
	setDurationFromEnv(&cfg.FreshnessWindow, "FRESHNESS_WINDOW", &errs)

	setIntFromEnv(&cfg.MaxPendingConnections, "MAX_PENDING_CONNECTIONS", &errs)

	cfg.JWTSecret = os.Getenv("JWT_SECRET")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.OracleProvider != "ola" && cfg.OracleProvider != "google" {
		errs = append(errs, fmt.Errorf("ORACLE_PROVIDER must be ola or google, got %q", cfg.OracleProvider))
	}
	if cfg.StartRadiusM <= 0 || cfg.DestRadiusM <= 0 {
		errs = append(errs, fmt.Errorf("START_RADIUS_M and DEST_RADIUS_M must be > 0"))
	}
	if cfg.FreshnessWindow <= 0 {
		errs = append(errs, fmt.Errorf("FRESHNESS_WINDOW must be > 0"))
	}
	if cfg.MaxPendingConnections <= 0 {
		errs = append(errs, fmt.Errorf("MAX_PENDING_CONNECTIONS must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
