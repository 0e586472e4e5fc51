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

// Package redeliver runs a background loop that re-attempts delivery of
// backed-up messages as bare forwards. Redelivery is at-most-duplicate:
// a record replayed after a concurrent manual replay may reach the target
// twice, but is never lost.
package redeliver

import (
	"context"
	"log/slog"
	"time"

	"github.com/replyedge/delivery/internal/backup"
	"github.com/replyedge/delivery/internal/mailer"
	"github.com/replyedge/delivery/internal/models"
)

// Sender performs one outbound send.
type Sender interface {
	Send(ctx context.Context, msg mailer.Message) error
}

// Store lists and updates backup records.
type Store interface {
	ListFailed(ctx context.Context, lookback time.Duration, limit int) ([]backup.Record, error)
	MarkReplayed(ctx context.Context, objectKey string) error
}

// Sweeper periodically replays failed backups.
type Sweeper struct {
	store    Store
	sender   Sender
	interval time.Duration
	lookback time.Duration
	batch    int
}

// SweeperConfig holds dependencies for the sweeper.
type SweeperConfig struct {
	Store    Store
	Sender   Sender
	Interval time.Duration // how often to sweep
	Lookback time.Duration // how far back to consider failed records
	Batch    int           // max records per sweep
}

// NewSweeper creates a redelivery sweeper with sane defaults for unset
// knobs.
func NewSweeper(cfg SweeperConfig) *Sweeper {
	interval := cfg.Interval
	if interval == 0 {
		interval = 15 * time.Minute
	}
	lookback := cfg.Lookback
	if lookback == 0 {
		lookback = 24 * time.Hour
	}
	batch := cfg.Batch
	if batch == 0 {
		batch = 50
	}
	return &Sweeper{
		store:    cfg.Store,
		sender:   cfg.Sender,
		interval: interval,
		lookback: lookback,
		batch:    batch,
	}
}

// Run starts the sweep loop. It blocks until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	slog.Info("redelivery sweeper starting",
		"interval", s.interval,
		"lookback", s.lookback,
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("redelivery sweeper stopping")
			return
		case <-ticker.C:
			replayed, failed, err := s.SweepOnce(ctx)
			if err != nil {
				slog.Error("sweep failed", "error", err)
				continue
			}
			if replayed > 0 || failed > 0 {
				slog.Info("sweep complete", "replayed", replayed, "failed", failed)
			}
		}
	}
}

// SweepOnce replays one batch of failed backups and reports how many
// landed. Per-record send failures are counted, not fatal: the record
// stays failed and the next sweep tries again.
func (s *Sweeper) SweepOnce(ctx context.Context) (replayed, failed int, err error) {
	records, err := s.store.ListFailed(ctx, s.lookback, s.batch)
	if err != nil {
		return 0, 0, err
	}

	for _, rec := range records {
		msg := &models.InboundMessage{
			Sender:    rec.FromAddress,
			Recipient: rec.OriginalRecipient,
			Subject:   rec.Subject,
			RawBytes:  rec.RawMessage,
		}

		if err := s.sender.Send(ctx, mailer.BareForward(msg, rec.TargetEmail)); err != nil {
			slog.Warn("replay send failed",
				"object_key", rec.ObjectKey,
				"target", rec.TargetEmail,
				"error", err,
			)
			failed++
			continue
		}

		if err := s.store.MarkReplayed(ctx, rec.ObjectKey); err != nil {
			slog.Error("failed to mark record replayed",
				"object_key", rec.ObjectKey,
				"error", err,
			)
		}
		replayed++
	}

	return replayed, failed, nil
}
