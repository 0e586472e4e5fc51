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

// Package ingress receives inbound messages over HTTP: one POST per
// message carrying the raw RFC 822 content, with the envelope sender and
// recipient in X-Envelope-From / X-Envelope-To headers when the upstream
// MTA provides them. The raw body is read exactly once and cached on the
// InboundMessage; every downstream consumer works from that copy.
package ingress

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/replyedge/delivery/internal/models"
)

// Pipeline runs one message through the delivery state machine.
type Pipeline interface {
	Handle(ctx context.Context, msg *models.InboundMessage) models.DeliveryOutcome
}

// Deduper suppresses retried duplicates by Message-ID.
type Deduper interface {
	IsNew(ctx context.Context, messageID string) (bool, error)
}

// Handler processes inbound message submissions.
type Handler struct {
	pipeline Pipeline
	filter   Deduper // nil disables deduplication
}

// NewHandler creates an inbound message handler.
func NewHandler(pipeline Pipeline, filter Deduper) *Handler {
	return &Handler{
		pipeline: pipeline,
		filter:   filter,
	}
}

// ServeInbound handles one inbound message POST.
//
//   - The body is consumed exactly once here; parse failures degrade to
//     envelope-only metadata rather than rejection.
//   - We respond 202 Accepted immediately and run the pipeline in the
//     background: the upstream MTA expects a fast response, and every
//     failure past this point is handled by the pipeline's own safety net.
func (h *Handler) ServeInbound(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusOK)
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		slog.Error("failed to read inbound body", "error", err)
		raw = nil // unreadable raw content still enters the pipeline
	}

	msg := Parse(raw, r.Header.Get("X-Envelope-From"), r.Header.Get("X-Envelope-To"))
	if msg.Sender == "" || msg.Recipient == "" {
		slog.Warn("inbound message missing envelope",
			"sender", msg.Sender,
			"recipient", msg.Recipient,
		)
		http.Error(w, "missing envelope sender or recipient", http.StatusBadRequest)
		return
	}

	if h.filter != nil {
		isNew, err := h.filter.IsNew(r.Context(), msg.MessageID)
		if err != nil {
			slog.Warn("dedup check failed, proceeding", "error", err)
		} else if !isNew {
			slog.Info("skipping duplicate message", "message_id", msg.MessageID)
			w.WriteHeader(http.StatusOK)
			return
		}
	}

	// Respond immediately, before the pipeline runs.
	w.WriteHeader(http.StatusAccepted)

	go func() {
		outcome := h.pipeline.Handle(context.Background(), msg)
		if !outcome.Succeeded {
			slog.Error("message not delivered",
				"sender", msg.Sender,
				"recipient", msg.Recipient,
				"detail", outcome.ErrorDetail,
			)
		}
	}()
}

// Serve starts the ingress HTTP server on the given port.
// It binds the port immediately and signals readiness via the returned
// channel before starting to accept connections.
func Serve(ctx context.Context, port int, handler *Handler) (<-chan struct{}, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/inbound", handler.ServeInbound)

	server := &http.Server{
		Handler: mux,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind ingress port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("ingress server shutting down")
		server.Close()
	}()

	go func() {
		slog.Info("ingress server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("ingress server error", "error", err)
		}
	}()

	return ready, nil
}
