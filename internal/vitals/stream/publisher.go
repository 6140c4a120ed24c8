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

// Package stream is the at-least-once log between ingest and the workers,
// backed by a Redis Stream with a named consumer group. Ingest appends after
// the durable commit, so any consumer that sees an entry can assume the event
// row exists.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"physio/internal/vitals/model"
)

// DefaultStreamKey is the stream topic shared by ingest and workers.
const DefaultStreamKey = "vitals_stream"

// ErrUnavailable signals a stream append failure. Durable state is already
// consistent when it fires (persist precedes publish), so callers may retry;
// the idempotency layers absorb the replay.
var ErrUnavailable = errors.New("stream unavailable")

// Publisher appends accepted readings to the stream.
type Publisher struct {
	rdb redis.Cmdable
	key string
}

// NewPublisher builds a publisher for the given stream key.
func NewPublisher(rdb redis.Cmdable, key string) *Publisher {
	if key == "" {
		key = DefaultStreamKey
	}
	return &Publisher{rdb: rdb, key: key}
}

// Publish appends one entry carrying the reading fields plus the event id and
// returns the assigned stream position.
func (p *Publisher) Publish(ctx context.Context, r model.Reading, eventID int64) (string, error) {
	id, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.key,
		Values: encodeEntry(r, eventID),
	}).Result()
	if err != nil {
		return "", fmt.Errorf("%w: xadd: %v", ErrUnavailable, err)
	}
	return id, nil
}

// encodeEntry flattens a reading for the stream. All values travel as
// strings; the worker parses them back.
func encodeEntry(r model.Reading, eventID int64) map[string]interface{} {
	return map[string]interface{}{
		"patient_id": r.PatientID,
		"timestamp":  r.Timestamp.Format(time.RFC3339Nano),
		"hr":         strconv.Itoa(r.HR),
		"bp_sys":     strconv.Itoa(r.BPSys),
		"bp_dia":     strconv.Itoa(r.BPDia),
		"spo2":       strconv.Itoa(r.SpO2),
		"rr":         strconv.Itoa(r.RR),
		"temp":       strconv.FormatFloat(r.Temp, 'f', -1, 64),
		"db_id":      strconv.FormatInt(eventID, 10),
	}
}
