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

package redeliver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/replyedge/delivery/internal/backup"
	"github.com/replyedge/delivery/internal/mailer"
)

// --- Mock store ---

type mockStore struct {
	mu       sync.Mutex
	records  []backup.Record
	replayed []string
	listErr  error
}

func (m *mockStore) ListFailed(_ context.Context, _ time.Duration, limit int) ([]backup.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	if len(m.records) > limit {
		return m.records[:limit], nil
	}
	return m.records, nil
}

func (m *mockStore) MarkReplayed(_ context.Context, objectKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replayed = append(m.replayed, objectKey)
	return nil
}

// --- Mock sender ---

type mockSender struct {
	mu     sync.Mutex
	sent   []mailer.Message
	failTo string // target address that always fails
}

func (m *mockSender) Send(_ context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.To == m.failTo {
		return errors.New("provider returned HTTP 500")
	}
	m.sent = append(m.sent, msg)
	return nil
}

func failedRecord(key, target string) backup.Record {
	return backup.Record{
		ObjectKey:         key,
		FromAddress:       "alice@customer.com",
		OriginalRecipient: "sales@acme.com",
		TargetEmail:       target,
		Subject:           "Pricing",
		RawMessage:        []byte("From: alice@customer.com\r\n\r\nhello"),
		Status:            backup.StatusFailed,
	}
}

// TestSweepOnce_ReplaysAndMarks verifies landed forwards are marked
// replayed.
func TestSweepOnce_ReplaysAndMarks(t *testing.T) {
	store := &mockStore{records: []backup.Record{
		failedRecord("k1", "ops@acme.com"),
		failedRecord("k2", "ops@acme.com"),
	}}
	sender := &mockSender{}
	s := NewSweeper(SweeperConfig{Store: store, Sender: sender})

	replayed, failed, err := s.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if replayed != 2 || failed != 0 {
		t.Errorf("replayed/failed = %d/%d, want 2/0", replayed, failed)
	}

	if len(sender.sent) != 2 {
		t.Fatalf("sends = %d", len(sender.sent))
	}
	if sender.sent[0].To != "ops@acme.com" || sender.sent[0].Tag != "bare-forward" {
		t.Errorf("send = %+v", sender.sent[0])
	}
	if len(store.replayed) != 2 {
		t.Errorf("marked = %v", store.replayed)
	}
}

// TestSweepOnce_SendFailureKeepsRecord verifies a failing send leaves the
// record failed for the next sweep.
func TestSweepOnce_SendFailureKeepsRecord(t *testing.T) {
	store := &mockStore{records: []backup.Record{
		failedRecord("k1", "dead@acme.com"),
		failedRecord("k2", "ops@acme.com"),
	}}
	sender := &mockSender{failTo: "dead@acme.com"}
	s := NewSweeper(SweeperConfig{Store: store, Sender: sender})

	replayed, failed, err := s.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if replayed != 1 || failed != 1 {
		t.Errorf("replayed/failed = %d/%d, want 1/1", replayed, failed)
	}
	if len(store.replayed) != 1 || store.replayed[0] != "k2" {
		t.Errorf("marked = %v, want [k2]", store.replayed)
	}
}

// TestSweepOnce_ListError propagates store failures.
func TestSweepOnce_ListError(t *testing.T) {
	store := &mockStore{listErr: errors.New("connection refused")}
	s := NewSweeper(SweeperConfig{Store: store, Sender: &mockSender{}})

	if _, _, err := s.SweepOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

// TestRun_StopsOnCancel verifies the loop exits with the context.
func TestRun_StopsOnCancel(t *testing.T) {
	s := NewSweeper(SweeperConfig{
		Store:    &mockStore{},
		Sender:   &mockSender{},
		Interval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
