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

// Package alert delivers structured failure reports to a webhook sink so a
// human sees every message the pipeline could not deliver. It is the last
// safety net: delivery is best-effort, a non-2xx response is logged and
// never retried, and nothing here propagates to the caller.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/replyedge/delivery/internal/models"
)

// Notifier posts alert records to a webhook URL. An empty URL disables
// alerting (every Notify becomes a logged no-op).
type Notifier struct {
	httpClient *http.Client
	webhookURL string
}

// NewNotifier creates an alert notifier.
func NewNotifier(httpClient *http.Client, webhookURL string) *Notifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Notifier{
		httpClient: httpClient,
		webhookURL: webhookURL,
	}
}

// Notify posts one alert. It never returns an error: failures are logged
// and absorbed, since there is no lower safety net to fall to.
func (n *Notifier) Notify(ctx context.Context, rec models.AlertRecord) {
	if n.webhookURL == "" {
		slog.Warn("alert webhook not configured, dropping alert",
			"run_id", rec.RunID,
			"from", rec.From,
			"error", rec.Error,
		)
		return
	}

	rec.Content = models.Truncate(rec.Content, models.AlertExcerptLimit)

	payload, err := json.Marshal(rec)
	if err != nil {
		slog.Error("marshal alert payload", "run_id", rec.RunID, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		slog.Error("build alert request", "run_id", rec.RunID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		slog.Error("alert delivery failed", "run_id", rec.RunID, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		slog.Error("alert sink returned non-2xx",
			"run_id", rec.RunID,
			"status", resp.StatusCode,
			"body", string(body),
		)
		return
	}

	slog.Info("alert delivered",
		"run_id", rec.RunID,
		"from", rec.From,
		"target", rec.TargetEmail,
	)
}
