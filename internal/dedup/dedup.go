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

// Package dedup provides a fast-path idempotency filter using a Redis SET
// with TTL. It sits in front of the authoritative ledger check and absorbs
// the race where the upstream sender retries a message before the first
// attempt's ledger write lands.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long we remember a seen (user, message) pair.
	// The ledger is the durable record; the filter only needs to cover
	// the upstream sender's retry horizon.
	DefaultTTL = 24 * time.Hour

	// keyPrefix namespaces dedup keys in Redis.
	keyPrefix = "triage:seen:"
)

// Filter tracks which (user, message) pairs have already been picked up.
type Filter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFilter creates a dedup filter backed by Redis.
func NewFilter(rdb *redis.Client) *Filter {
	return &Filter{
		rdb: rdb,
		ttl: DefaultTTL,
	}
}

func key(userID, messageID string) string {
	return fmt.Sprintf("%s%s:%s", keyPrefix, userID, messageID)
}

// IsNew returns true if the (user, message) pair has NOT been seen before.
// If true, the pair is marked as seen atomically (SETNX).
func (f *Filter) IsNew(ctx context.Context, userID, messageID string) (bool, error) {
	// SET NX = set only if key does not exist. Returns true if the key was set.
	set, err := f.rdb.SetNX(ctx, key(userID, messageID), 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}

	return set, nil
}

// Forget removes the seen marker. Called when processing fails after the
// marker was set, so an upstream retry is not silently dropped — a duplicate
// draft is a lesser evil than a lost email.
func (f *Filter) Forget(ctx context.Context, userID, messageID string) error {
	if err := f.rdb.Del(ctx, key(userID, messageID)).Err(); err != nil {
		return fmt.Errorf("dedup DEL: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (f *Filter) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return f.rdb.Ping(ctx).Err()
}
