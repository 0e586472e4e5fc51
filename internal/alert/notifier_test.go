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

package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/replyedge/delivery/internal/models"
)

// TestNotify_Payload verifies the structured fields reach the sink.
func TestNotify_Payload(t *testing.T) {
	var got models.AlertRecord

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode alert: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewNotifier(server.Client(), server.URL)
	n.Notify(context.Background(), models.AlertRecord{
		RunID:             "run-1",
		From:              "alice@acme.com",
		OriginalRecipient: "sales@acme.com",
		TargetEmail:       "ops@acme.com",
		Subject:           "Pricing",
		Content:           "body",
		Error:             "provider returned HTTP 500",
		Timestamp:         "2026-08-30T00:00:00Z",
		Status:            "delivery failed",
	})

	if got.From != "alice@acme.com" || got.TargetEmail != "ops@acme.com" {
		t.Errorf("alert = %+v", got)
	}
	if got.Error != "provider returned HTTP 500" {
		t.Errorf("Error = %q", got.Error)
	}
}

// TestNotify_TruncatesContent verifies the excerpt bound.
func TestNotify_TruncatesContent(t *testing.T) {
	var got models.AlertRecord

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewNotifier(server.Client(), server.URL)
	n.Notify(context.Background(), models.AlertRecord{
		Content: strings.Repeat("x", models.AlertExcerptLimit+500),
	})

	if len(got.Content) != models.AlertExcerptLimit {
		t.Errorf("content length = %d, want %d", len(got.Content), models.AlertExcerptLimit)
	}
}

// TestNotify_NeverPanicsOnFailure verifies sink failures are absorbed.
func TestNotify_NeverPanicsOnFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "channel_not_found", http.StatusNotFound)
	}))
	defer server.Close()

	n := NewNotifier(server.Client(), server.URL)
	n.Notify(context.Background(), models.AlertRecord{RunID: "run-2"})

	// Unconfigured and unreachable sinks are also absorbed.
	NewNotifier(nil, "").Notify(context.Background(), models.AlertRecord{})
	NewNotifier(nil, "http://127.0.0.1:1").Notify(context.Background(), models.AlertRecord{})
}
