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

// Package session keeps per-sender conversational context for the analysis
// service in Redis, keyed by normalised sender address. The context blob is
// opaque to this service: it is loaded before each analysis call and saved
// back when the analysis service returns an updated one.
package session

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long an idle conversation is retained.
	DefaultTTL = 72 * time.Hour

	// keyPrefix namespaces conversation keys in Redis.
	keyPrefix = "reply:ctx:"
)

// Store holds conversational context blobs keyed by sender.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore creates a session store backed by Redis.
func NewStore(rdb *redis.Client) *Store {
	return &Store{
		rdb: rdb,
		ttl: DefaultTTL,
	}
}

func key(sender string) string {
	return keyPrefix + strings.ToLower(strings.TrimSpace(sender))
}

// Load returns the stored context for a sender, or nil when none exists.
func (s *Store) Load(ctx context.Context, sender string) (json.RawMessage, error) {
	data, err := s.rdb.Get(ctx, key(sender)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// Save stores the context for a sender and refreshes its TTL.
func (s *Store) Save(ctx context.Context, sender string, data json.RawMessage) error {
	return s.rdb.Set(ctx, key(sender), []byte(data), s.ttl).Err()
}

// Ping checks the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.rdb.Ping(ctx).Err()
}
