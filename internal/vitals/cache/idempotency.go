// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

package cache

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DefaultIdempotencyTTL bounds how long an accepted fingerprint suppresses
// duplicates. Beyond it the unique index on the event rows is the backstop.
const DefaultIdempotencyTTL = 600 * time.Second

// IdempotencyFilter is the fast path of the two-layer duplicate defense. It
// is checked before any relational work and written only after the reading is
// both durably stored and published, so a crash in between leaves the unique
// index authoritative rather than a marker with no row behind it.
type IdempotencyFilter struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewIdempotencyFilter builds a filter with the default TTL.
func NewIdempotencyFilter(rdb redis.Cmdable) *IdempotencyFilter {
	return &IdempotencyFilter{rdb: rdb, ttl: DefaultIdempotencyTTL}
}

// NewIdempotencyFilterWithTTL overrides the marker TTL, mostly for tests.
func NewIdempotencyFilterWithTTL(rdb redis.Cmdable, ttl time.Duration) *IdempotencyFilter {
	return &IdempotencyFilter{rdb: rdb, ttl: ttl}
}

func idemKey(fingerprint string) string { return "idem:" + fingerprint }

// Seen reports whether the fingerprint was accepted within the TTL.
func (f *IdempotencyFilter) Seen(ctx context.Context, fingerprint string) (bool, error) {
	n, err := f.rdb.Exists(ctx, idemKey(fingerprint)).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency lookup: %w", err)
	}
	return n > 0, nil
}

// Mark records the fingerprint with the configured TTL.
func (f *IdempotencyFilter) Mark(ctx context.Context, fingerprint string) error {
	if err := f.rdb.Set(ctx, idemKey(fingerprint), "1", f.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency mark: %w", err)
	}
	return nil
}
