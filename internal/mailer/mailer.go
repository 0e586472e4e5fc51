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

// Package mailer performs outbound sends against a Mailgun-style provider
// API: form-encoded POST with basic auth, "o:" option fields, and custom
// headers prefixed "h:". One Send contract serves the three semantically
// distinct deliveries (customer reply, internal transcript, bare forward);
// the composers in compose.go build each shape.
package mailer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Message is one outbound send request.
type Message struct {
	To      string
	From    string
	Subject string
	Text    string
	HTML    string
	CC      string
	Tag     string
	Headers map[string]string // e.g. In-Reply-To, References
}

// Client posts messages to the provider endpoint.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiUser    string
	apiKey     string
}

// NewClient creates an outbound mail client. endpoint is the full messages
// URL for the sending domain; apiUser/apiKey form the basic auth credential.
func NewClient(httpClient *http.Client, endpoint, apiUser, apiKey string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		endpoint:   endpoint,
		apiUser:    apiUser,
		apiKey:     apiKey,
	}
}

// Send performs one outbound send. A non-2xx response is a hard failure
// carrying the response body as diagnostic text.
func (c *Client) Send(ctx context.Context, msg Message) error {
	form := url.Values{}
	form.Set("from", msg.From)
	form.Set("to", msg.To)
	form.Set("subject", msg.Subject)
	if msg.Text != "" {
		form.Set("text", msg.Text)
	}
	if msg.HTML != "" {
		form.Set("html", msg.HTML)
	}
	if msg.CC != "" {
		form.Set("cc", msg.CC)
	}
	if msg.Tag != "" {
		form.Set("o:tag", msg.Tag)
	}
	for name, value := range msg.Headers {
		form.Set("h:"+name, value)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.apiUser, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send to %s: %w", msg.To, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("provider returned HTTP %d: %s", resp.StatusCode, string(body))
	}

	return nil
}
