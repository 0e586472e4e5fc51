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

// ReplyEdge — Backup Replay Command
//
// Standalone CLI tool that re-sends backed-up messages as bare forwards
// to their internal targets. Intended for draining the backup table
// after an outage, without waiting for the in-service sweeper.
//
// Usage:
//
//	go run ./cmd/replay/ [--lookback 168h] [--limit 100]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/replyedge/delivery/internal/backup"
	"github.com/replyedge/delivery/internal/config"
	"github.com/replyedge/delivery/internal/mailer"
	"github.com/replyedge/delivery/internal/redeliver"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	lookbackFlag := flag.String("lookback", "168h", "How far back to consider failed backups (e.g. 24h, 168h)")
	limitFlag := flag.Int("limit", 100, "Maximum number of backups to replay")
	flag.Parse()

	lookback, err := time.ParseDuration(*lookbackFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid --lookback duration %q: %v\n", *lookbackFlag, err)
		os.Exit(1)
	}

	slog.Info("starting backup replay",
		"lookback", lookback,
		"limit", *limitFlag,
	)

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

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

	// --- Backup Store ---
	backups, err := backup.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise backup store", "error", err)
		os.Exit(1)
	}

	// --- Outbound mailer ---
	sender := mailer.NewClient(nil, cfg.Mailer.Endpoint, cfg.Mailer.APIUser, cfg.Mailer.APIKey)

	// --- One-shot sweep ---
	sweeper := redeliver.NewSweeper(redeliver.SweeperConfig{
		Store:    backups,
		Sender:   sender,
		Lookback: lookback,
		Batch:    *limitFlag,
	})

	replayed, failed, err := sweeper.SweepOnce(ctx)
	if err != nil {
		slog.Error("replay failed", "error", err)
		os.Exit(1)
	}

	// --- Summary ---
	slog.Info("replay complete",
		"replayed", replayed,
		"failed", failed,
	)

	if failed > 0 {
		os.Exit(1)
	}
}
