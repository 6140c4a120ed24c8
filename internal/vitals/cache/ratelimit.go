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

const (
	// DefaultRateLimit is the admission ceiling per patient per window.
	DefaultRateLimit = 20
	// DefaultRateWindow is the fixed counting window.
	DefaultRateWindow = 10 * time.Second
)

// RateLimiter bounds ingest attempts per patient with a fixed-window counter.
// The window is deliberately fixed rather than sliding: one INCR round trip
// per attempt, and brief bursts at window edges are acceptable.
type RateLimiter struct {
	rdb    redis.Cmdable
	limit  int64
	window time.Duration
}

// NewRateLimiter builds a limiter with the default ceiling and window.
func NewRateLimiter(rdb redis.Cmdable) *RateLimiter {
	return &RateLimiter{rdb: rdb, limit: DefaultRateLimit, window: DefaultRateWindow}
}

// NewRateLimiterWithPolicy overrides the ceiling and window, mostly for tests.
func NewRateLimiterWithPolicy(rdb redis.Cmdable, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{rdb: rdb, limit: limit, window: window}
}

func rateKey(patientID string) string { return "rate_limit:" + patientID }

// Allow counts one attempt for the patient and reports whether it is within
// the ceiling. INCR is atomic across concurrent ingest instances; the TTL is
// attached only by the caller that created the key (counter == 1), so the
// window never slides under contention.
func (l *RateLimiter) Allow(ctx context.Context, patientID string) (bool, error) {
	n, err := l.rdb.Incr(ctx, rateKey(patientID)).Result()
	if err != nil {
		return false, fmt.Errorf("rate counter incr: %w", err)
	}
	if n == 1 {
		if err := l.rdb.Expire(ctx, rateKey(patientID), l.window).Err(); err != nil {
			return false, fmt.Errorf("rate counter expire: %w", err)
		}
	}
	return n <= l.limit, nil
}
