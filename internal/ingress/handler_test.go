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

package ingress

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/replyedge/delivery/internal/models"
)

const rawMessage = "From: Alice <alice@customer.com>\r\n" +
	"To: sales@acme.com\r\n" +
	"Subject: Pricing\r\n" +
	"Message-Id: <abc@domain>\r\n" +
	"Date: Sat, 29 Aug 2026 10:00:00 +0000\r\n" +
	"\r\n" +
	"what's the price?"

// --- Mock pipeline ---

type mockPipeline struct {
	mu       sync.Mutex
	handled  []*models.InboundMessage
	handledC chan struct{}
}

func newMockPipeline() *mockPipeline {
	return &mockPipeline{handledC: make(chan struct{}, 8)}
}

func (m *mockPipeline) Handle(_ context.Context, msg *models.InboundMessage) models.DeliveryOutcome {
	m.mu.Lock()
	m.handled = append(m.handled, msg)
	m.mu.Unlock()
	m.handledC <- struct{}{}
	return models.DeliveryOutcome{Succeeded: true}
}

func (m *mockPipeline) wait(t *testing.T) *models.InboundMessage {
	t.Helper()
	select {
	case <-m.handledC:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline was not invoked")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handled[len(m.handled)-1]
}

// --- Mock dedup filter ---

type mockDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *mockDedup) IsNew(_ context.Context, messageID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[messageID] {
		return false, nil
	}
	m.seen[messageID] = true
	return true, nil
}

// TestServeInbound_Accepted verifies a message POST is accepted with 202
// and handed to the pipeline with cached raw bytes.
func TestServeInbound_Accepted(t *testing.T) {
	p := newMockPipeline()
	h := NewHandler(p, nil)

	req := httptest.NewRequest(http.MethodPost, "/inbound", strings.NewReader(rawMessage))
	req.Header.Set("X-Envelope-From", "alice@customer.com")
	req.Header.Set("X-Envelope-To", "sales@acme.com")
	rr := httptest.NewRecorder()

	h.ServeInbound(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusAccepted)
	}

	msg := p.wait(t)
	if msg.Sender != "alice@customer.com" || msg.Recipient != "sales@acme.com" {
		t.Errorf("envelope = %q → %q", msg.Sender, msg.Recipient)
	}
	if string(msg.RawBytes) != rawMessage {
		t.Error("raw bytes not cached verbatim")
	}
	if msg.MessageID != "<abc@domain>" {
		t.Errorf("message id = %q", msg.MessageID)
	}
}

// TestServeInbound_MissingEnvelope verifies a message with no resolvable
// sender/recipient is rejected so the MTA retries.
func TestServeInbound_MissingEnvelope(t *testing.T) {
	h := NewHandler(newMockPipeline(), nil)

	req := httptest.NewRequest(http.MethodPost, "/inbound", strings.NewReader(""))
	rr := httptest.NewRecorder()

	h.ServeInbound(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

// TestServeInbound_Duplicate verifies the optional dedup guard drops a
// retried Message-ID with 200 and no pipeline run.
func TestServeInbound_Duplicate(t *testing.T) {
	p := newMockPipeline()
	h := NewHandler(p, &mockDedup{seen: map[string]bool{}})

	for i, wantCode := range []int{http.StatusAccepted, http.StatusOK} {
		req := httptest.NewRequest(http.MethodPost, "/inbound", strings.NewReader(rawMessage))
		req.Header.Set("X-Envelope-From", "alice@customer.com")
		req.Header.Set("X-Envelope-To", "sales@acme.com")
		rr := httptest.NewRecorder()

		h.ServeInbound(rr, req)
		if rr.Code != wantCode {
			t.Errorf("attempt %d: status = %d, want %d", i, rr.Code, wantCode)
		}
	}

	p.wait(t)
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.handled) != 1 {
		t.Errorf("pipeline runs = %d, want 1", len(p.handled))
	}
}

// TestServeInbound_NonPost verifies non-POST requests return 200.
func TestServeInbound_NonPost(t *testing.T) {
	h := NewHandler(newMockPipeline(), nil)

	req := httptest.NewRequest(http.MethodGet, "/inbound", nil)
	rr := httptest.NewRecorder()

	h.ServeInbound(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}
}

// TestParse_HeaderFallback verifies header addresses fill in a missing
// envelope and the subject default applies.
func TestParse_HeaderFallback(t *testing.T) {
	msg := Parse([]byte(rawMessage), "", "")
	if msg.Sender != "alice@customer.com" {
		t.Errorf("sender = %q", msg.Sender)
	}
	if msg.Recipient != "sales@acme.com" {
		t.Errorf("recipient = %q", msg.Recipient)
	}
	if msg.Subject != "Pricing" {
		t.Errorf("subject = %q", msg.Subject)
	}

	bare := Parse([]byte("garbage without headers"), "a@b.c", "x@y.z")
	if bare.Subject != models.DefaultSubject {
		t.Errorf("subject = %q, want default", bare.Subject)
	}
	if bare.Sender != "a@b.c" || bare.Recipient != "x@y.z" {
		t.Errorf("envelope = %q → %q", bare.Sender, bare.Recipient)
	}
}

// TestParse_EnvelopeWinsOverHeaders verifies routing uses the envelope
// recipient even when the To header differs.
func TestParse_EnvelopeWinsOverHeaders(t *testing.T) {
	msg := Parse([]byte(rawMessage), "bounce@relay.example", "catchall@acme.com")
	if msg.Sender != "bounce@relay.example" {
		t.Errorf("sender = %q", msg.Sender)
	}
	if msg.Recipient != "catchall@acme.com" {
		t.Errorf("recipient = %q", msg.Recipient)
	}
}
