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

// Package cache holds the volatile coordination state shared by all ingest
// instances: the per-patient rate counters and the idempotency markers. Both
// live in one Redis so a fleet of API processes enforces the same limits.
package cache

import (
	"fmt"

	redis "github.com/redis/go-redis/v9"
)

// NewClient connects to the cache at a redis:// URL. The same client backs
// the rate limiter and the idempotency filter; go-redis pools connections
// internally for the life of the process.
func NewClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse cache url: %w", err)
	}
	return redis.NewClient(opt), nil
}
