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

// Package route maps an inbound recipient address to a configured internal
// target address. Three pattern kinds are recognised, in precedence order:
// exact address, "@domain" catch-all, and the literal "@default" fallback.
package route

import (
	"errors"
	"strings"
)

// DefaultKey is the table key consulted when neither an exact nor a
// domain catch-all entry matches.
const DefaultKey = "@default"

// ErrNoRoute indicates no target resolves for a recipient. It is terminal
// for the whole pipeline: reported once via the alert notifier, no backup.
var ErrNoRoute = errors.New("no route for recipient")

// Router resolves targets against an immutable routing table. The table is
// loaded once at process start and never mutated per message.
type Router struct {
	table map[string]string
}

// NewRouter builds a router from a pattern → target mapping. Keys are
// normalised to lower case on load so lookups are case-insensitive.
func NewRouter(table map[string]string) *Router {
	normalised := make(map[string]string, len(table))
	for pattern, target := range table {
		normalised[strings.ToLower(strings.TrimSpace(pattern))] = target
	}
	return &Router{table: normalised}
}

// Resolve returns the internal target for a recipient address.
//
// Lookup order: exact match, then "@<domain>" derived from the part after
// the last "@", then "@default". Returns ErrNoRoute when none match.
func (r *Router) Resolve(recipient string) (string, error) {
	addr := strings.ToLower(strings.TrimSpace(recipient))

	if target, ok := r.table[addr]; ok {
		return target, nil
	}

	if i := strings.LastIndex(addr, "@"); i >= 0 {
		if target, ok := r.table[addr[i:]]; ok {
			return target, nil
		}
	}

	if target, ok := r.table[DefaultKey]; ok {
		return target, nil
	}

	return "", ErrNoRoute
}
