package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/chainguard/core/pkg/api"
	"github.com/chainguard/core/pkg/audit"
	"github.com/chainguard/core/pkg/auth"
	"github.com/chainguard/core/pkg/chainadapters"
	"github.com/chainguard/core/pkg/clock"
	"github.com/chainguard/core/pkg/config"
	"github.com/chainguard/core/pkg/contracts"
	"github.com/chainguard/core/pkg/cooldown"
	"github.com/chainguard/core/pkg/dailyvolume"
	"github.com/chainguard/core/pkg/dispatcher"
	"github.com/chainguard/core/pkg/export"
	"github.com/chainguard/core/pkg/observability"
	"github.com/chainguard/core/pkg/proposal"
)

// runServeCmd wires every subsystem into a running HTTP server: SQLite
// persistence for proposals, an optional Postgres audit mirror, optional Redis-backed
// counters, non-fatal degraded-mode logging for anything
// durable-but-optional, and a graceful shutdown on SIGINT/SIGTERM.
//
// This repo carries no real chain-signing/broadcast backend, so the
// signer/RPC pair is always chainadapters.Fake; wiring a real one is an
// additive change at the two lines below that construct it.
func runServeCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	owner := cmd.String("owner", os.Getenv("CHAINGUARD_OWNER"), "principal to bootstrap as Owner on first run (required)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *owner == "" {
		fmt.Fprintln(stderr, "Error: --owner (or CHAINGUARD_OWNER) is required")
		return 2
	}

	ctx := context.Background()
	logger := slog.Default()
	cfg := config.Load()

	fmt.Fprintln(stdout, "chainguard core starting")

	sqliteDB, err := sql.Open("sqlite", cfg.SQLitePath)
	if err != nil {
		log.Fatalf("open sqlite: %v", err)
	}
	persister, err := proposal.NewSQLitePersister(sqliteDB)
	if err != nil {
		log.Fatalf("init proposal persister: %v", err)
	}

	var archive audit.Archive
	if dsn := os.Getenv("CHAINGUARD_POSTGRES_DSN"); dsn != "" {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			logger.Warn("postgres unavailable, audit archive disabled", "error", err)
		} else if pingErr := db.PingContext(ctx); pingErr != nil {
			logger.Warn("postgres ping failed, audit archive disabled", "error", pingErr)
		} else {
			pg, err := audit.NewPostgresArchive(db)
			if err != nil {
				logger.Warn("postgres archive init failed, disabled", "error", err)
			} else {
				archive = pg
				logger.Info("audit archive: postgres connected")
			}
		}
	}

	var cooldownTracker cooldown.Tracker = cooldown.NewMemory()
	var dailyVolume dailyvolume.Counter = dailyvolume.NewMemory()
	if addr := os.Getenv("CHAINGUARD_REDIS_ADDR"); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, falling back to in-memory counters", "error", err)
		} else {
			cooldownTracker = cooldown.NewRedis(rdb, "")
			dailyVolume = dailyvolume.NewRedis(rdb, "")
			logger.Info("cooldown/daily-volume counters: redis connected")
		}
	}

	obs, err := observability.New(ctx, observability.DefaultConfig())
	if err != nil {
		log.Fatalf("init observability: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	fake := chainadapters.NewFake()
	d := dispatcher.New(fake, fake,
		dispatcher.WithClock(clock.System{}),
		dispatcher.WithObservability(obs),
		dispatcher.WithCooldownTracker(cooldownTracker),
		dispatcher.WithDailyVolumeCounter(dailyVolume),
	)

	d.Proposals.SetPersister(persister)
	if err := d.Proposals.Restore(ctx); err != nil {
		logger.Warn("proposal restore failed, starting empty", "error", err)
	}
	d.AuditLog.SetArchive(archive)

	if bucket := os.Getenv("CHAINGUARD_EXPORT_BUCKET"); bucket != "" {
		provider := os.Getenv("CHAINGUARD_EXPORT_PROVIDER")
		if provider == "" {
			provider = "s3"
		}
		archiver, err := export.NewArchiver(ctx, export.Config{
			Provider: provider,
			Bucket:   bucket,
			Region:   os.Getenv("CHAINGUARD_EXPORT_REGION"),
			Endpoint: os.Getenv("CHAINGUARD_EXPORT_ENDPOINT"),
			Prefix:   "audit",
		})
		if err != nil {
			logger.Warn("cold-storage export disabled", "error", err)
		} else {
			sweeper := export.NewSweeper(d.AuditLog, archiver, 15*time.Minute)
			go sweeper.Run(ctx)
			logger.Info("cold-storage export enabled", "provider", provider, "bucket", bucket)
		}
	}

	if err := d.Initialize(contracts.Principal(*owner), config.InitConfig{}); err != nil {
		log.Fatalf("initialize: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	api.NewHandler(d).RegisterRoutes(mux)

	secret := os.Getenv("CHAINGUARD_JWT_SECRET")
	if secret == "" {
		logger.Warn("CHAINGUARD_JWT_SECRET unset; every authenticated request will be rejected")
	}
	validator := auth.NewJWTValidator([]byte(secret))

	var handler http.Handler = mux
	handler = auth.RateLimitMiddleware(auth.NewMemoryLimiterStore(), 600)(handler)
	handler = auth.NewMiddleware(validator)(handler)
	handler = auth.CORSMiddleware(nil)(handler)
	handler = auth.NewGlobalRateLimiter(50, 100).Middleware(handler)
	handler = auth.RequestIDMiddleware(handler)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: handler}

	go func() {
		logger.Info("chainguard core listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("chainguard core shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		return 1
	}
	return 0
}
