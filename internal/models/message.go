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

// Package models defines the data structures shared across the delivery service.
package models

import (
	"fmt"
	"regexp"
	"time"
)

// DefaultSubject is substituted when an inbound message carries no Subject header.
const DefaultSubject = "No Subject"

// InboundMessage is the immutable view of one received email for the
// duration of one pipeline run.
//
// RawBytes is the cached copy of the single-consumption inbound stream:
// the ingress reads the source exactly once and every downstream consumer
// (extractor, backup writer, bare forward) works from this copy.
type InboundMessage struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	MessageID string `json:"message_id,omitempty"`
	Date      string `json:"date,omitempty"`
	RawBytes  []byte `json:"-"`
}

// AnalysisResult is the oracle's verdict for one message.
//
// Exactly one of ReplyContent (CanReply=true) or Reason (CanReply=false)
// carries the primary payload. Reason also carries the diagnostic string
// when the oracle call itself failed.
type AnalysisResult struct {
	CanReply     bool   `json:"can_reply"`
	ReplyContent string `json:"reply_content,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// NeedsHuman builds the degraded verdict substituted when the oracle call
// errors, times out, or returns a malformed shape.
func NeedsHuman(diagnostic string) AnalysisResult {
	return AnalysisResult{CanReply: false, Reason: diagnostic}
}

// DeliveryOutcome records the result of one attempted send. Every send
// attempt produces one independently; outcomes never suppress each other.
type DeliveryOutcome struct {
	Succeeded   bool   `json:"succeeded"`
	ErrorDetail string `json:"error_detail,omitempty"`
}

// BackupMetadata annotates a backed-up message.
type BackupMetadata struct {
	From              string `json:"from"`
	To                string `json:"to"`
	Subject           string `json:"subject"`
	Timestamp         string `json:"timestamp"`
	OriginalRecipient string `json:"originalRecipient"`
	TargetEmail       string `json:"targetEmail"`
}

// BackupRecord is created only on a failed delivery. The key is derived
// from timestamp+sender so failures for distinct messages do not collide;
// collision across retries of the same message is a known limitation.
type BackupRecord struct {
	ObjectKey  string
	RawMessage []byte // nil when the raw content could not be read
	Metadata   BackupMetadata
}

// BackupContentType is the MIME type recorded for backed-up raw messages.
const BackupContentType = "message/rfc822"

// AlertExcerptLimit bounds the content excerpt carried in an alert.
const AlertExcerptLimit = 1000

// AlertRecord is the structured failure report handed to the notifier.
// It is ephemeral: constructed from the same failure context as the
// BackupRecord plus a truncated excerpt and the error message.
type AlertRecord struct {
	RunID             string `json:"run_id"`
	From              string `json:"from"`
	OriginalRecipient string `json:"originalRecipient"`
	TargetEmail       string `json:"targetEmail"`
	Subject           string `json:"subject"`
	Content           string `json:"content"`
	Error             string `json:"error"`
	Timestamp         string `json:"timestamp"`
	Status            string `json:"status"`
}

// Truncate bounds content for alert payloads.
func Truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9._@-]+`)

// BackupKey derives the write-once object key for a failed message:
// email-backup-<ISO8601 timestamp>-<sanitized-sender>.eml
func BackupKey(ts time.Time, sender string) string {
	sanitized := unsafeKeyChars.ReplaceAllString(sender, "_")
	return fmt.Sprintf("email-backup-%s-%s.eml", ts.UTC().Format(time.RFC3339), sanitized)
}
