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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MailerConfig holds the outbound provider credentials.
type MailerConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIUser  string `yaml:"api_user"`
	APIKey   string `yaml:"api_key"`
}

// AnalysisConfig holds the analysis service endpoint and its OAuth2
// client-credentials grant.
type AnalysisConfig struct {
	URL          string   `yaml:"url"`
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Tools        []string `yaml:"tools"`
}

// Config holds all configuration for the delivery service.
type Config struct {
	// Routing table: exact address, "@domain" catch-all, "@default".
	Routes map[string]string

	Mailer   MailerConfig
	Analysis AnalysisConfig

	// Alerting
	AlertWebhookURL string

	// Storage
	DatabaseURL string
	RedisURL    string

	// Internal delivery path: "transcript", "forward", or "both".
	InternalDelivery string

	// Optional Message-ID dedup guard at ingress.
	DedupEnabled bool

	// Timeouts and sweeps
	AnalysisTimeout time.Duration
	SweepInterval   time.Duration
	SweepLookback   time.Duration

	// Servers
	IngressPort int
	Port        int // health check only
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Routes   map[string]string `yaml:"routes"`
	Mailer   MailerConfig      `yaml:"mailer"`
	Analysis AnalysisConfig    `yaml:"analysis"`
	Alert    struct {
		WebhookURL string `yaml:"webhook_url"`
	} `yaml:"alert"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	InternalDelivery string `yaml:"internal_delivery"`
	DedupEnabled     bool   `yaml:"dedup_enabled"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		Routes:           raw.Routes,
		Mailer:           raw.Mailer,
		Analysis:         raw.Analysis,
		AlertWebhookURL:  firstNonEmpty(raw.Alert.WebhookURL, os.Getenv("ALERT_WEBHOOK_URL")),
		DatabaseURL:      firstNonEmpty(raw.Postgres.URL, envOrDefault("DATABASE_URL", "postgres://localhost:5432/delivery")),
		RedisURL:         firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		InternalDelivery: firstNonEmpty(raw.InternalDelivery, envOrDefault("INTERNAL_DELIVERY", "both")),
		DedupEnabled:     raw.DedupEnabled || envOrDefault("DEDUP_ENABLED", "") == "true",
		AnalysisTimeout:  envOrDefaultDuration("ANALYSIS_TIMEOUT", 30*time.Second),
		SweepInterval:    envOrDefaultDuration("SWEEP_INTERVAL", 15*time.Minute),
		SweepLookback:    envOrDefaultDuration("SWEEP_LOOKBACK", 24*time.Hour),
		IngressPort:      envOrDefaultInt("INGRESS_PORT", 8081),
		Port:             envOrDefaultInt("PORT", 8080),
	}

	if cfg.Mailer.Endpoint == "" {
		cfg.Mailer.Endpoint = os.Getenv("MAILER_ENDPOINT")
	}
	if cfg.Mailer.APIUser == "" {
		cfg.Mailer.APIUser = envOrDefault("MAILER_API_USER", "api")
	}
	if cfg.Mailer.APIKey == "" {
		cfg.Mailer.APIKey = os.Getenv("MAILER_API_KEY")
	}

	if len(cfg.Routes) == 0 {
		return nil, fmt.Errorf("no routes configured, check config.yaml")
	}
	if cfg.Mailer.Endpoint == "" || cfg.Mailer.APIKey == "" {
		return nil, fmt.Errorf("mailer endpoint and api_key are required")
	}
	if cfg.Analysis.URL == "" {
		return nil, fmt.Errorf("analysis url is required")
	}
	switch cfg.InternalDelivery {
	case "transcript", "forward", "both":
	default:
		return nil, fmt.Errorf("internal_delivery must be transcript, forward, or both (got %q)", cfg.InternalDelivery)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
