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

// Package pipeline coordinates one inbound message through routing, body
// extraction, analysis, and the fail-safe delivery state machine:
//
//	Routed → Extracted → Analyzed → {Replying | Forwarding} → {Delivered | Failed→Safed}
//
// Every failure edge has exactly one fallback rung (the simplest possible
// delivery, a bare forward) before falling through to the durable safety
// net (backup + alert). Sibling deliveries are independent: a failing
// internal transcript never undoes or blocks a successful customer reply.
// Nothing here is allowed to silently discard a message: every terminal
// failure path ends in at least an alert.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/replyedge/delivery/internal/extract"
	"github.com/replyedge/delivery/internal/mailer"
	"github.com/replyedge/delivery/internal/models"
	"github.com/replyedge/delivery/internal/oracle"
	"github.com/replyedge/delivery/internal/route"
)

// InternalMode selects the internal delivery path. A deployment-time
// switch, evaluated once per run, never part of the state machine's
// decision logic.
type InternalMode string

const (
	// ModeTranscript sends the internal transcript only.
	ModeTranscript InternalMode = "transcript"
	// ModeForward sends the legacy bare forward only.
	ModeForward InternalMode = "forward"
	// ModeBoth sends both.
	ModeBoth InternalMode = "both"
)

// Sender performs one outbound send.
type Sender interface {
	Send(ctx context.Context, msg mailer.Message) error
}

// Analyzer classifies a message and drafts a reply when possible.
type Analyzer interface {
	Analyze(ctx context.Context, req oracle.Request) (models.AnalysisResult, error)
}

// BackupStore persists a failed message durably.
type BackupStore interface {
	Save(ctx context.Context, rec models.BackupRecord) error
}

// Alerter reports a failure to a human-visible sink. Best-effort, never
// returns an error.
type Alerter interface {
	Notify(ctx context.Context, rec models.AlertRecord)
}

// Orchestrator runs the per-message delivery state machine.
type Orchestrator struct {
	router   *route.Router
	analyzer Analyzer
	sender   Sender
	backups  BackupStore
	alerts   Alerter
	mode     InternalMode
	tools    []string
}

// Config holds dependencies for the orchestrator.
type Config struct {
	Router   *route.Router
	Analyzer Analyzer
	Sender   Sender
	Backups  BackupStore
	Alerts   Alerter
	Mode     InternalMode
	Tools    []string // capability names passed through to the analyzer
}

// New creates an orchestrator. An empty mode defaults to ModeBoth.
func New(cfg Config) *Orchestrator {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeBoth
	}
	return &Orchestrator{
		router:   cfg.Router,
		analyzer: cfg.Analyzer,
		sender:   cfg.Sender,
		backups:  cfg.Backups,
		alerts:   cfg.Alerts,
		mode:     mode,
		tools:    cfg.Tools,
	}
}

// Handle runs one message through the pipeline. It never panics: an outer
// guard converts any panic into one last bare-forward attempt, then the
// safety net. The returned outcome reports whether at least one delivery
// landed.
func (o *Orchestrator) Handle(ctx context.Context, msg *models.InboundMessage) (outcome models.DeliveryOutcome) {
	runID := uuid.New().String()

	target, err := o.router.Resolve(msg.Recipient)
	if err != nil {
		// A routing miss is terminal: nothing to forward, so no backup,
		// but a human still hears about it.
		slog.Error("no route for recipient",
			"run_id", runID,
			"recipient", msg.Recipient,
			"sender", msg.Sender,
		)
		o.alerts.Notify(ctx, o.alertRecord(runID, msg, "", "", err.Error(), "no route"))
		return models.DeliveryOutcome{ErrorDetail: fmt.Sprintf("no route for %s", msg.Recipient)}
	}

	slog.Info("message routed",
		"run_id", runID,
		"recipient", msg.Recipient,
		"target", target,
	)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("pipeline panic, attempting last-resort forward",
				"run_id", runID,
				"panic", r,
			)
			detail := fmt.Sprintf("pipeline panic: %v", r)
			if err := o.sender.Send(ctx, mailer.BareForward(msg, target)); err != nil {
				o.safetyNet(ctx, runID, msg, target, bodyText(msg), detail+"; bare forward: "+err.Error())
				outcome = models.DeliveryOutcome{ErrorDetail: detail}
				return
			}
			outcome = models.DeliveryOutcome{Succeeded: true, ErrorDetail: detail}
		}
	}()

	return o.run(ctx, runID, msg, target)
}

func (o *Orchestrator) run(ctx context.Context, runID string, msg *models.InboundMessage, target string) models.DeliveryOutcome {
	// Routed → Extracted. An unreadable raw source skips analysis
	// entirely: fallback path A is a bare forward of what we know.
	if len(msg.RawBytes) == 0 {
		slog.Warn("raw content unreadable, attempting bare forward",
			"run_id", runID,
			"sender", msg.Sender,
		)
		if err := o.sender.Send(ctx, mailer.BareForward(msg, target)); err != nil {
			o.safetyNet(ctx, runID, msg, target, "", "raw content unreadable; bare forward: "+err.Error())
			return models.DeliveryOutcome{ErrorDetail: "raw content unreadable, all deliveries failed"}
		}
		return models.DeliveryOutcome{Succeeded: true, ErrorDetail: "raw content unreadable, forwarded without analysis"}
	}

	body := extract.PlainText(string(msg.RawBytes))

	// Extracted → Analyzed. Oracle failure never fails the message.
	result, err := o.analyzer.Analyze(ctx, oracle.Request{
		Body:    body,
		Sender:  msg.Sender,
		Subject: msg.Subject,
		Tools:   o.tools,
	})
	if err != nil {
		slog.Warn("analysis failed, degrading to needs-human",
			"run_id", runID,
			"sender", msg.Sender,
			"error", err,
		)
		result = models.NeedsHuman("analysis failed: " + err.Error())
	}

	if result.CanReply && strings.TrimSpace(result.ReplyContent) != "" {
		return o.replying(ctx, runID, msg, body, target, result)
	}

	// canReply=false, or true with a missing reply, is treated identically.
	if result.CanReply {
		slog.Warn("verdict claimed reply but carried none, forwarding",
			"run_id", runID,
			"sender", msg.Sender,
		)
		result.Reason = "verdict missing reply content"
	}
	return o.forwarding(ctx, runID, msg, body, target, result.Reason)
}

// replying handles the canReply branch: the customer reply (with the
// internal target CC'd), its bare-forward fallback rung, and the
// independent internal transcript when the mode asks for one.
func (o *Orchestrator) replying(ctx context.Context, runID string, msg *models.InboundMessage, body, target string, result models.AnalysisResult) models.DeliveryOutcome {
	replyErr := o.sender.Send(ctx, mailer.CustomerReply(msg, body, result.ReplyContent, target))
	if replyErr == nil {
		slog.Info("customer reply delivered",
			"run_id", runID,
			"to", msg.Sender,
			"cc", target,
		)
	} else {
		slog.Error("customer reply failed",
			"run_id", runID,
			"to", msg.Sender,
			"error", replyErr,
		)
	}

	// The transcript is a sibling delivery: attempted regardless of the
	// customer reply outcome, and its failure never escalates past the
	// branch, since the internal target is already CC'd on the reply.
	if o.mode == ModeTranscript || o.mode == ModeBoth {
		if err := o.sender.Send(ctx, mailer.Transcript(msg, body, mailer.TagReplySent, result.ReplyContent, target)); err != nil {
			slog.Error("transcript delivery failed",
				"run_id", runID,
				"target", target,
				"error", err,
			)
		}
	}

	if replyErr == nil {
		return models.DeliveryOutcome{Succeeded: true}
	}

	// Fallback path B: one bare forward before the safety net.
	if err := o.sender.Send(ctx, mailer.BareForward(msg, target)); err != nil {
		o.safetyNet(ctx, runID, msg, target, body,
			"customer reply: "+replyErr.Error()+"; bare forward: "+err.Error())
		return models.DeliveryOutcome{ErrorDetail: "customer reply and fallback forward failed"}
	}

	slog.Info("recovered via bare forward", "run_id", runID, "target", target)
	return models.DeliveryOutcome{Succeeded: true, ErrorDetail: "customer reply failed, recovered via bare forward"}
}

// forwarding handles the needs-human branch: the internal delivery path
// per the mode, one bare-forward rung when the mode did not already
// include one, then the safety net.
func (o *Orchestrator) forwarding(ctx context.Context, runID string, msg *models.InboundMessage, body, target, reason string) models.DeliveryOutcome {
	var delivered bool
	var forwardTried bool
	var lastErr error

	if o.mode == ModeTranscript || o.mode == ModeBoth {
		if err := o.sender.Send(ctx, mailer.Transcript(msg, body, mailer.TagNeedsHuman, reason, target)); err != nil {
			slog.Error("transcript delivery failed",
				"run_id", runID,
				"target", target,
				"error", err,
			)
			lastErr = err
		} else {
			delivered = true
		}
	}

	if o.mode == ModeForward || o.mode == ModeBoth {
		forwardTried = true
		if err := o.sender.Send(ctx, mailer.BareForward(msg, target)); err != nil {
			slog.Error("forward delivery failed",
				"run_id", runID,
				"target", target,
				"error", err,
			)
			lastErr = err
		} else {
			delivered = true
		}
	}

	if delivered {
		slog.Info("forwarded to internal target",
			"run_id", runID,
			"target", target,
			"reason", reason,
		)
		return models.DeliveryOutcome{Succeeded: true}
	}

	// Fallback rung: a bare forward, unless the mode already tried one.
	if !forwardTried {
		if err := o.sender.Send(ctx, mailer.BareForward(msg, target)); err == nil {
			slog.Info("recovered via bare forward", "run_id", runID, "target", target)
			return models.DeliveryOutcome{Succeeded: true, ErrorDetail: "transcript failed, recovered via bare forward"}
		} else {
			lastErr = err
		}
	}

	detail := "internal delivery failed"
	if lastErr != nil {
		detail = lastErr.Error()
	}
	o.safetyNet(ctx, runID, msg, target, body, detail)
	return models.DeliveryOutcome{ErrorDetail: "all internal deliveries failed"}
}

// safetyNet is the terminal rung: write a backup where content exists,
// then alert. A backup write error is logged and never blocks the alert.
func (o *Orchestrator) safetyNet(ctx context.Context, runID string, msg *models.InboundMessage, target, body, errDetail string) {
	now := time.Now().UTC()
	ts := now.Format(time.RFC3339)

	rec := models.BackupRecord{
		ObjectKey:  models.BackupKey(now, msg.Sender),
		RawMessage: msg.RawBytes,
		Metadata: models.BackupMetadata{
			From:              msg.Sender,
			To:                msg.Recipient,
			Subject:           msg.Subject,
			Timestamp:         ts,
			OriginalRecipient: msg.Recipient,
			TargetEmail:       target,
		},
	}
	if err := o.backups.Save(ctx, rec); err != nil {
		slog.Error("backup write failed",
			"run_id", runID,
			"object_key", rec.ObjectKey,
			"error", err,
		)
	} else {
		slog.Info("message backed up",
			"run_id", runID,
			"object_key", rec.ObjectKey,
		)
	}

	o.alerts.Notify(ctx, o.alertRecord(runID, msg, target, body, errDetail, "delivery failed"))
}

func (o *Orchestrator) alertRecord(runID string, msg *models.InboundMessage, target, body, errDetail, status string) models.AlertRecord {
	return models.AlertRecord{
		RunID:             runID,
		From:              msg.Sender,
		OriginalRecipient: msg.Recipient,
		TargetEmail:       target,
		Subject:           msg.Subject,
		Content:           models.Truncate(body, models.AlertExcerptLimit),
		Error:             errDetail,
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
		Status:            status,
	}
}

func bodyText(msg *models.InboundMessage) string {
	if len(msg.RawBytes) == 0 {
		return ""
	}
	return extract.PlainText(string(msg.RawBytes))
}
