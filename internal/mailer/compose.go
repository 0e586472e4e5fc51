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

package mailer

import (
	"fmt"
	"html"
	"strings"

	"github.com/replyedge/delivery/internal/models"
)

// Transcript branch tags.
const (
	TagReplySent  = "reply sent"
	TagNeedsHuman = "needs human"
)

// CustomerReply composes the reply delivered to the original sender, with
// the internal target CC'd. Body carries the agent reply followed by a
// quoted rendition of the original, in both plain and HTML forms.
func CustomerReply(msg *models.InboundMessage, originalBody, replyText, target string) Message {
	return Message{
		To:      msg.Sender,
		From:    msg.Recipient,
		CC:      target,
		Subject: ReplySubject(msg.Subject),
		Text:    replyText + "\n\n" + quotePlain(originalBody),
		HTML:    replyHTML(replyText, originalBody),
		Tag:     "customer-reply",
		Headers: threadingHeaders(msg),
	}
}

// Transcript composes the internal-only summary sent to the resolved
// target. detail is the agent's reply text (reply-sent branch) or the
// oracle's stated reason (needs-human branch); empty is allowed.
func Transcript(msg *models.InboundMessage, originalBody, tag, detail, target string) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\n", msg.Sender)
	fmt.Fprintf(&b, "To: %s\n", msg.Recipient)
	fmt.Fprintf(&b, "Subject: %s\n\n", msg.Subject)
	b.WriteString(originalBody)
	if detail != "" {
		switch tag {
		case TagReplySent:
			b.WriteString("\n\n--- agent reply ---\n")
		default:
			b.WriteString("\n\n--- reason ---\n")
		}
		b.WriteString(detail)
	}

	return Message{
		To:      target,
		From:    msg.Recipient,
		Subject: fmt.Sprintf("[%s] %s", tag, msg.Subject),
		Text:    b.String(),
		Tag:     "transcript",
		Headers: threadingHeaders(msg),
	}
}

// BareForward composes the simplest possible delivery of the original
// message to the target: original subject, raw content as the body. Used
// as the single fallback rung before backup+alert.
func BareForward(msg *models.InboundMessage, target string) Message {
	text := string(msg.RawBytes)
	if text == "" {
		text = fmt.Sprintf("Original message from %s could not be read.", msg.Sender)
	}

	return Message{
		To:      target,
		From:    msg.Recipient,
		Subject: msg.Subject,
		Text:    text,
		Tag:     "bare-forward",
		Headers: threadingHeaders(msg),
	}
}

// ReplySubject normalises a subject to "Re: <original>" without double
// prefixing.
func ReplySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(subject)), "re:") {
		return subject
	}
	return "Re: " + subject
}

// threadingHeaders sets In-Reply-To and References from the inbound
// Message-ID when present, and nothing otherwise. Never a placeholder.
func threadingHeaders(msg *models.InboundMessage) map[string]string {
	if msg.MessageID == "" {
		return nil
	}
	return map[string]string{
		"In-Reply-To": msg.MessageID,
		"References":  msg.MessageID,
	}
}

func quotePlain(body string) string {
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		lines[i] = "> " + line
	}
	return strings.Join(lines, "\n")
}

func replyHTML(replyText, originalBody string) string {
	return fmt.Sprintf(
		"<div>%s</div><blockquote style=\"border-left:2px solid #ccc;padding-left:8px;color:#555\">%s</blockquote>",
		html.EscapeString(replyText),
		html.EscapeString(originalBody),
	)
}
