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

package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	// DefaultGroupName is the shared consumer group for worker processes.
	DefaultGroupName = "physio_workers"
	// DefaultBatchSize is how many entries one poll may deliver.
	DefaultBatchSize = 10
	// DefaultBlock is the idle-poll block duration.
	DefaultBlock = time.Second
)

// Consumer reads the stream through a named consumer group with explicit
// acknowledgment. Each worker process uses a unique consumer name so its
// pending entries can be re-read after a crash.
type Consumer struct {
	rdb   *redis.Client
	key   string
	group string
	name  string
	batch int64
	block time.Duration
}

// NewConsumer builds a consumer for the given stream, group, and consumer
// name.
func NewConsumer(rdb *redis.Client, key, group, name string) *Consumer {
	if key == "" {
		key = DefaultStreamKey
	}
	if group == "" {
		group = DefaultGroupName
	}
	return &Consumer{
		rdb:   rdb,
		key:   key,
		group: group,
		name:  name,
		batch: DefaultBatchSize,
		block: DefaultBlock,
	}
}

// Name returns the consumer name within the group.
func (c *Consumer) Name() string { return c.name }

// EnsureGroup creates the consumer group at the stream head, creating the
// stream itself if absent. An already-existing group is not an error.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.key, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s: %w", c.group, err)
	}
	return nil
}

// ReadPending returns entries previously delivered to this consumer but
// never acknowledged, with stream ids greater than after. Pass "0" for the
// head of the pending list, then the last id of each batch to page forward;
// an entry that keeps failing is skipped over instead of pinning the scan.
func (c *Consumer) ReadPending(ctx context.Context, after string) ([]redis.XMessage, error) {
	return c.read(ctx, after, 0)
}

// ReadNew blocks up to the poll interval for never-delivered entries.
func (c *Consumer) ReadNew(ctx context.Context) ([]redis.XMessage, error) {
	return c.read(ctx, ">", c.block)
}

func (c *Consumer) read(ctx context.Context, id string, block time.Duration) ([]redis.XMessage, error) {
	res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  []string{c.key, id},
		Count:    c.batch,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil // idle poll timed out
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup %s: %w", id, err)
	}
	var msgs []redis.XMessage
	for _, s := range res {
		msgs = append(msgs, s.Messages...)
	}
	return msgs, nil
}

// Claim transfers ownership of entries pending for longer than minIdle from
// any consumer in the group to this one, and returns them for processing.
// This is how entries delivered to a consumer name that never came back
// (crashed process, fresh uuid name on restart) re-enter circulation.
func (c *Consumer) Claim(ctx context.Context, minIdle time.Duration) ([]redis.XMessage, error) {
	var claimed []redis.XMessage
	start := "0-0"
	for {
		msgs, next, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   c.key,
			Group:    c.group,
			Consumer: c.name,
			MinIdle:  minIdle,
			Start:    start,
			Count:    c.batch,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("xautoclaim: %w", err)
		}
		claimed = append(claimed, msgs...)
		if next == "0-0" {
			return claimed, nil
		}
		start = next
	}
}

// Ack acknowledges one processed entry. Called only after every persistence
// side effect has committed.
func (c *Consumer) Ack(ctx context.Context, id string) error {
	if err := c.rdb.XAck(ctx, c.key, c.group, id).Err(); err != nil {
		return fmt.Errorf("xack %s: %w", id, err)
	}
	return nil
}

// PendingCount reports how many entries the group has delivered but not yet
// acknowledged, across all consumers. Exposed for telemetry.
func (c *Consumer) PendingCount(ctx context.Context) (int64, error) {
	p, err := c.rdb.XPending(ctx, c.key, c.group).Result()
	if err != nil {
		return 0, fmt.Errorf("xpending: %w", err)
	}
	return p.Count, nil
}
