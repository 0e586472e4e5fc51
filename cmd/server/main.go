// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// ReplyEdge — Delivery Service
//
// Entry point for the auto-reply delivery service. It:
//  1. Loads configuration from config.yaml
//  2. Connects to PostgreSQL (backup store) and Redis (sessions, dedup)
//  3. Wires the delivery pipeline: routing, extraction, analysis, sends
//  4. Serves the inbound message webhook
//  5. Runs a periodic redelivery sweeper for backed-up messages
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/replyedge/delivery/internal/alert"
	"github.com/replyedge/delivery/internal/backup"
	"github.com/replyedge/delivery/internal/config"
	"github.com/replyedge/delivery/internal/dedup"
	"github.com/replyedge/delivery/internal/ingress"
	"github.com/replyedge/delivery/internal/mailer"
	"github.com/replyedge/delivery/internal/oracle"
	"github.com/replyedge/delivery/internal/pipeline"
	"github.com/replyedge/delivery/internal/redeliver"
	"github.com/replyedge/delivery/internal/route"
	"github.com/replyedge/delivery/internal/session"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting ReplyEdge delivery service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"routes", len(cfg.Routes),
		"internal_delivery", cfg.InternalDelivery,
		"dedup_enabled", cfg.DedupEnabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	sessions := session.NewStore(rdb)
	if err := sessions.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Dedup Filter (optional) ---
	var filter ingress.Deduper
	if cfg.DedupEnabled {
		filter = dedup.NewFilter(rdb)
		slog.Info("ingress dedup enabled")
	}

	// --- Backup Store (Postgres) ---
	backups, err := backup.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise backup store", "error", err)
		os.Exit(1)
	}

	// --- Analysis client ---
	// Use an OAuth2 client-credentials client when a token URL is
	// configured, a plain HTTP client otherwise (dev setups).
	analysisHTTP := &http.Client{Timeout: cfg.AnalysisTimeout}
	if cfg.Analysis.TokenURL != "" {
		creds := &clientcredentials.Config{
			ClientID:     cfg.Analysis.ClientID,
			ClientSecret: cfg.Analysis.ClientSecret,
			TokenURL:     cfg.Analysis.TokenURL,
		}
		analysisHTTP = creds.Client(ctx)
	}
	analyzer := oracle.NewClient(analysisHTTP, cfg.Analysis.URL, cfg.AnalysisTimeout, sessions)

	// --- Outbound mailer ---
	sender := mailer.NewClient(nil, cfg.Mailer.Endpoint, cfg.Mailer.APIUser, cfg.Mailer.APIKey)

	// --- Alert notifier ---
	alerts := alert.NewNotifier(nil, cfg.AlertWebhookURL)
	if cfg.AlertWebhookURL == "" {
		slog.Warn("ALERT_WEBHOOK_URL not configured, failure alerts will be dropped")
	}

	// --- Delivery pipeline ---
	orch := pipeline.New(pipeline.Config{
		Router:   route.NewRouter(cfg.Routes),
		Analyzer: analyzer,
		Sender:   sender,
		Backups:  backups,
		Alerts:   alerts,
		Mode:     pipeline.InternalMode(cfg.InternalDelivery),
		Tools:    cfg.Analysis.Tools,
	})

	// --- Ingress webhook server ---
	handler := ingress.NewHandler(orch, filter)
	ready, err := ingress.Serve(ctx, cfg.IngressPort, handler)
	if err != nil {
		slog.Error("failed to start ingress server", "error", err)
		os.Exit(1)
	}
	<-ready
	slog.Info("ingress server ready", "port", cfg.IngressPort)

	// --- Redelivery sweeper ---
	sweeper := redeliver.NewSweeper(redeliver.SweeperConfig{
		Store:    backups,
		Sender:   sender,
		Interval: cfg.SweepInterval,
		Lookback: cfg.SweepLookback,
	})
	go sweeper.Run(ctx)

	// --- Health Check Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		// Check Redis
		if err := sessions.Ping(r.Context()); err != nil {
			http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
			return
		}
		// Check Postgres
		if err := pgPool.Ping(r.Context()); err != nil {
			http.Error(w, "postgres unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy"}`))
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel() // Stop the ingress server and sweeper

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}

		rdb.Close()
		pgPool.Close()
	}()

	slog.Info("delivery service listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("delivery service stopped")
}
