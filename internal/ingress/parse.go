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
	"bytes"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/replyedge/delivery/internal/models"
)

// Parse builds the immutable per-run view of an inbound message. Envelope
// values win over header values for routing; headers fill in the rest.
// Parsing is best-effort: a message whose headers cannot be read still
// yields a usable InboundMessage as long as the envelope is present.
func Parse(raw []byte, envFrom, envTo string) *models.InboundMessage {
	msg := &models.InboundMessage{
		Sender:    strings.TrimSpace(envFrom),
		Recipient: strings.TrimSpace(envTo),
		Subject:   models.DefaultSubject,
		RawBytes:  raw,
	}

	if len(raw) == 0 {
		return msg
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return msg
	}
	header := mr.Header

	if msg.Sender == "" {
		if addrs, err := header.AddressList("From"); err == nil && len(addrs) > 0 {
			msg.Sender = addrs[0].Address
		}
	}
	if msg.Recipient == "" {
		if addrs, err := header.AddressList("To"); err == nil && len(addrs) > 0 {
			msg.Recipient = addrs[0].Address
		}
	}

	if subject, err := header.Subject(); err == nil && strings.TrimSpace(subject) != "" {
		msg.Subject = subject
	}

	// Keep the raw Message-ID form (angle brackets included) so threading
	// headers can carry it verbatim.
	msg.MessageID = strings.TrimSpace(header.Get("Message-Id"))
	msg.Date = strings.TrimSpace(header.Get("Date"))

	return msg
}
