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

// Package oracle provides a client for the external analysis service that
// classifies an inbound message and, when possible, drafts a reply. The
// call is a fallible remote call: the orchestrator folds any error from
// this package into a "needs human" verdict and keeps going.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/replyedge/delivery/internal/models"
)

// DefaultTimeout bounds one analysis call so a slow classification cannot
// stall the pipeline.
const DefaultTimeout = 30 * time.Second

// ContextStore loads and saves per-sender conversational context. The
// blob's shape belongs to the analysis service; this client only shuttles
// it. Store failures degrade to an empty context, never to a failed call.
type ContextStore interface {
	Load(ctx context.Context, sender string) (json.RawMessage, error)
	Save(ctx context.Context, sender string, data json.RawMessage) error
}

// Request carries the extracted message content to the analysis service.
// Tools is the capability set computed once per run; the service decides
// internally which to invoke.
type Request struct {
	Body    string          `json:"body"`
	Sender  string          `json:"sender"`
	Subject string          `json:"subject"`
	Context json.RawMessage `json:"context,omitempty"`
	Tools   []string        `json:"tools,omitempty"`
}

// Client talks to the analysis service over HTTP. The httpClient must
// already handle authentication (e.g. an oauth2 client-credentials client).
type Client struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
	sessions   ContextStore
}

// NewClient creates an analysis client. A zero timeout uses DefaultTimeout;
// a nil sessions store disables conversational context.
func NewClient(httpClient *http.Client, baseURL string, timeout time.Duration, sessions ContextStore) *Client {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		timeout:    timeout,
		sessions:   sessions,
	}
}

// Analyze submits one message for classification and returns the verdict.
// Timeouts, transport errors, non-2xx responses, and malformed verdict
// shapes are all returned as errors for the caller to fold.
func (c *Client) Analyze(ctx context.Context, req Request) (models.AnalysisResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.sessions != nil && req.Context == nil {
		stored, err := c.sessions.Load(ctx, req.Sender)
		if err != nil {
			slog.Warn("conversation context load failed, proceeding without",
				"sender", req.Sender,
				"error", err,
			)
		} else {
			req.Context = stored
		}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return models.AnalysisResult{}, fmt.Errorf("marshal analysis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/analyze", bytes.NewReader(payload))
	if err != nil {
		return models.AnalysisResult{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return models.AnalysisResult{}, fmt.Errorf("analysis call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return models.AnalysisResult{}, fmt.Errorf("analysis service returned HTTP %d: %s", resp.StatusCode, string(body))
	}

	result, updatedCtx, err := parseVerdict(resp.Body)
	if err != nil {
		return models.AnalysisResult{}, err
	}

	if c.sessions != nil && updatedCtx != nil {
		if err := c.sessions.Save(ctx, req.Sender, updatedCtx); err != nil {
			slog.Warn("conversation context save failed",
				"sender", req.Sender,
				"error", err,
			)
		}
	}

	return result, nil
}
