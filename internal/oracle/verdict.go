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

package oracle

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/replyedge/delivery/internal/models"
)

// rawVerdict mirrors the analysis service response. CanReply is a pointer
// so a missing field is distinguishable from an explicit false. Context is
// the opaque updated conversation blob, when the service returns one.
type rawVerdict struct {
	CanReply     *bool           `json:"can_reply"`
	ReplyContent string          `json:"reply_content"`
	Reason       string          `json:"reason"`
	Context      json.RawMessage `json:"context"`
}

// parseVerdict decodes a verdict body, rejecting malformed shapes so the
// caller degrades them to a "needs human" result instead of crashing.
func parseVerdict(body io.Reader) (models.AnalysisResult, json.RawMessage, error) {
	var raw rawVerdict
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return models.AnalysisResult{}, nil, fmt.Errorf("decode verdict: %w", err)
	}

	if raw.CanReply == nil {
		return models.AnalysisResult{}, nil, fmt.Errorf("malformed verdict: missing can_reply")
	}

	return models.AnalysisResult{
		CanReply:     *raw.CanReply,
		ReplyContent: raw.ReplyContent,
		Reason:       raw.Reason,
	}, raw.Context, nil
}
