package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/dranzer-17/TripSync/internal/config"
	"github.com/dranzer-17/TripSync/internal/connect"
	httpapi "github.com/dranzer-17/TripSync/internal/http"
	"github.com/dranzer-17/TripSync/internal/hub"
	"github.com/dranzer-17/TripSync/internal/ingest"
	"github.com/dranzer-17/TripSync/internal/logging"
	"github.com/dranzer-17/TripSync/internal/match"
	"github.com/dranzer-17/TripSync/internal/oracle"
	"github.com/dranzer-17/TripSync/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		logging.NewLogger("info").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	var store storage.Store
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		if cfg.RunMigrations {
			if err := runMigrations(cfg.PGDSN); err != nil {
				logger.Error("migrations failed", "error", err)
				os.Exit(1)
			}
			logger.Info("migrations applied")
		}
		store = ps
	} else {
		logger.Warn("PG_DSN not set, falling back to in-memory store")
		store = storage.NewMemoryStore()
	}

	var dist oracle.Oracle
	switch cfg.OracleProvider {
	case "google":
		g, err := oracle.NewGoogleOracle(cfg.GoogleMapsAPIKey, cfg.OracleTimeout)
		if err != nil {
			logger.Error("google maps client init failed", "error", err)
			os.Exit(1)
		}
		dist = g
	default:
		dist = oracle.NewOlaClient(cfg.OlaEndpoint, cfg.OlaAPIKey, cfg.OracleTimeout)
	}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		dist = oracle.NewCachedOracle(dist, rdb, cfg.OracleCacheTTL, logger)
		logger.Info("distance oracle cache enabled", "redis_addr", cfg.RedisAddr)
	}

	liveHub := hub.New(logger)

	engine := &match.Engine{
		Store:        store,
		Oracle:       dist,
		Notify:       liveHub,
		Logger:       logger,
		StartRadiusM: cfg.StartRadiusM,
		DestRadiusM:  cfg.DestRadiusM,
		Freshness:    cfg.FreshnessWindow,
	}
	coordinator := &connect.Coordinator{
		Store:      store,
		Notify:     liveHub,
		Logger:     logger,
		MaxPending: cfg.MaxPendingConnections,
	}

	if len(cfg.KafkaBrokers) > 0 {
		producer := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		engine.Events = producer
		coordinator.Events = producer
		logger.Info("pool event stream enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	api := httpapi.NewServer(engine, coordinator, store, liveHub, cfg.JWTSecret, logger)
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("pool api listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
}

// runMigrations applies migrations/*.sql in lexical order. Statements
// are idempotent (CREATE TABLE IF NOT EXISTS) so re-running is safe.
func runMigrations(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	files, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		if _, err := db.Exec(string(b)); err != nil {
			return err
		}
	}
	return nil
}
