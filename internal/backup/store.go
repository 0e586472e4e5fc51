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

// Package backup provides a Postgres-backed durable store for messages
// whose delivery chain was exhausted. A record is written only on failure;
// keys are timestamp+sender derived so distinct messages never silently
// overwrite each other. Records are read back by the redelivery sweeper
// and the replay CLI.
package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/replyedge/delivery/internal/models"
)

// Statuses of a backup record.
const (
	StatusFailed   = "failed"
	StatusReplayed = "replayed"
)

// Record represents a single backed-up message persisted in Postgres.
type Record struct {
	ID                int64
	ObjectKey         string
	ContentType       string
	RawMessage        []byte // nil when the raw content could not be read
	FromAddress       string
	OriginalRecipient string
	TargetEmail       string
	Subject           string
	FailedAt          time.Time
	Status            string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Store provides CRUD operations for backup records in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a backup store backed by the given Postgres pool.
// It ensures the backups table exists on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure backup schema: %w", err)
	}
	slog.Info("backup store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS backups (
			id                 BIGSERIAL PRIMARY KEY,
			object_key         TEXT NOT NULL UNIQUE,
			content_type       TEXT NOT NULL DEFAULT 'message/rfc822',
			raw_message        BYTEA,
			from_address       TEXT NOT NULL,
			original_recipient TEXT NOT NULL,
			target_email       TEXT NOT NULL DEFAULT '',
			subject            TEXT NOT NULL DEFAULT '',
			failed_at          TIMESTAMPTZ NOT NULL,
			status             TEXT NOT NULL DEFAULT 'failed',
			created_at         TIMESTAMPTZ DEFAULT NOW(),
			updated_at         TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_backups_status ON backups(status);
		CREATE INDEX IF NOT EXISTS idx_backups_failed_at ON backups(failed_at);
	`)
	return err
}

// Save persists one backup record. When the derived key already exists
// (retry of the same message within the same timestamp second), a
// uuid-suffixed key is used instead of overwriting the existing row.
func (s *Store) Save(ctx context.Context, rec models.BackupRecord) error {
	err := s.insert(ctx, rec.ObjectKey, rec)
	if err == nil {
		return nil
	}

	// 23505 = unique_violation on object_key
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return fmt.Errorf("insert backup %s: %w", rec.ObjectKey, err)
	}

	fallbackKey := fmt.Sprintf("%s.%s", rec.ObjectKey, uuid.New().String()[:8])
	if err := s.insert(ctx, fallbackKey, rec); err != nil {
		return fmt.Errorf("insert backup %s (fallback key): %w", fallbackKey, err)
	}

	slog.Warn("backup key collision, stored under fallback key",
		"object_key", rec.ObjectKey,
		"fallback_key", fallbackKey,
	)
	return nil
}

func (s *Store) insert(ctx context.Context, key string, rec models.BackupRecord) error {
	failedAt, err := time.Parse(time.RFC3339, rec.Metadata.Timestamp)
	if err != nil {
		failedAt = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO backups
			(object_key, content_type, raw_message, from_address, original_recipient, target_email, subject, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, key, models.BackupContentType, rec.RawMessage,
		rec.Metadata.From, rec.Metadata.OriginalRecipient, rec.Metadata.TargetEmail,
		rec.Metadata.Subject, failedAt)
	return err
}

// Get retrieves a single backup record by its object key.
func (s *Store) Get(ctx context.Context, objectKey string) (*Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, object_key, content_type, raw_message, from_address,
		       original_recipient, target_email, subject, failed_at,
		       status, created_at, updated_at
		FROM backups
		WHERE object_key = $1
	`, objectKey)
	return scanRecord(row)
}

// ListFailed returns failed records newer than the lookback window, oldest
// first, capped at limit.
func (s *Store) ListFailed(ctx context.Context, lookback time.Duration, limit int) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, object_key, content_type, raw_message, from_address,
		       original_recipient, target_email, subject, failed_at,
		       status, created_at, updated_at
		FROM backups
		WHERE status = 'failed' AND failed_at > NOW() - $1::interval
		ORDER BY failed_at
		LIMIT $2
	`, fmt.Sprintf("%d seconds", int(lookback.Seconds())), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

// MarkReplayed sets a record's status after a successful redelivery.
func (s *Store) MarkReplayed(ctx context.Context, objectKey string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE backups
		SET status = 'replayed', updated_at = NOW()
		WHERE object_key = $1
	`, objectKey)
	return err
}

// scanRecord scans a single row into a Record.
func scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	err := row.Scan(
		&r.ID, &r.ObjectKey, &r.ContentType, &r.RawMessage, &r.FromAddress,
		&r.OriginalRecipient, &r.TargetEmail, &r.Subject, &r.FailedAt,
		&r.Status, &r.CreatedAt, &r.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// collectRecords scans multiple rows into a slice of Records.
func collectRecords(rows pgx.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(
			&r.ID, &r.ObjectKey, &r.ContentType, &r.RawMessage, &r.FromAddress,
			&r.OriginalRecipient, &r.TargetEmail, &r.Subject, &r.FailedAt,
			&r.Status, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
