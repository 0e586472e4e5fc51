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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
routes:
  sales@acme.com: ops@acme.com
  "@acme.com": ops@acme.com
  "@default": fallback@acme.com
mailer:
  endpoint: https://api.mailgun.example/v3/acme.com/messages
  api_user: api
  api_key: ${TEST_MAILER_KEY}
analysis:
  url: http://analysis:9000
  token_url: http://auth:9000/token
  client_id: delivery
  client_secret: secret
  tools:
    - product_catalog
    - calendar
alert:
  webhook_url: https://hooks.example/T000/B000
redis:
  url: redis://redis:6379/1
postgres:
  url: postgres://pg:5432/delivery
internal_delivery: forward
dedup_enabled: true
`

func writeConfig(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
}

// TestLoad verifies YAML parsing, env expansion, and defaults.
func TestLoad(t *testing.T) {
	writeConfig(t, sampleYAML)
	t.Setenv("TEST_MAILER_KEY", "key-from-env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Routes["sales@acme.com"] != "ops@acme.com" {
		t.Errorf("routes = %v", cfg.Routes)
	}
	if cfg.Routes["@default"] != "fallback@acme.com" {
		t.Errorf("default route = %q", cfg.Routes["@default"])
	}
	if cfg.Mailer.APIKey != "key-from-env" {
		t.Errorf("api key = %q, want env-expanded value", cfg.Mailer.APIKey)
	}
	if cfg.Analysis.URL != "http://analysis:9000" {
		t.Errorf("analysis url = %q", cfg.Analysis.URL)
	}
	if len(cfg.Analysis.Tools) != 2 {
		t.Errorf("tools = %v", cfg.Analysis.Tools)
	}
	if cfg.InternalDelivery != "forward" {
		t.Errorf("internal_delivery = %q", cfg.InternalDelivery)
	}
	if !cfg.DedupEnabled {
		t.Error("dedup_enabled = false")
	}
	if cfg.AnalysisTimeout != 30*time.Second {
		t.Errorf("analysis timeout = %v", cfg.AnalysisTimeout)
	}
	if cfg.RedisURL != "redis://redis:6379/1" {
		t.Errorf("redis url = %q", cfg.RedisURL)
	}
}

// TestLoad_NoRoutes verifies an empty routing table is rejected.
func TestLoad_NoRoutes(t *testing.T) {
	writeConfig(t, `
mailer:
  endpoint: https://api.mailgun.example/v3/acme.com/messages
  api_key: k
analysis:
  url: http://analysis:9000
`)

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing routes")
	}
}

// TestLoad_BadInternalDelivery verifies the toggle is validated.
func TestLoad_BadInternalDelivery(t *testing.T) {
	writeConfig(t, `
routes:
  "@default": ops@acme.com
mailer:
  endpoint: https://api.mailgun.example/v3/acme.com/messages
  api_key: k
analysis:
  url: http://analysis:9000
internal_delivery: sideways
`)

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid internal_delivery")
	}
}

// TestLoad_MailerFromEnv verifies env fallbacks for the provider
// credentials.
func TestLoad_MailerFromEnv(t *testing.T) {
	writeConfig(t, `
routes:
  "@default": ops@acme.com
analysis:
  url: http://analysis:9000
`)
	t.Setenv("MAILER_ENDPOINT", "https://api.mailgun.example/v3/env.com/messages")
	t.Setenv("MAILER_API_KEY", "env-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Mailer.Endpoint != "https://api.mailgun.example/v3/env.com/messages" {
		t.Errorf("endpoint = %q", cfg.Mailer.Endpoint)
	}
	if cfg.Mailer.APIUser != "api" {
		t.Errorf("api user = %q, want default", cfg.Mailer.APIUser)
	}
}
