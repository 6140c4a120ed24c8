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

// Package ingest composes the front-end pipeline: validation, rate limiting,
// idempotency filtering, durable commit, and stream handoff, in that order.
package ingest

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"physio/internal/vitals/cache"
	"physio/internal/vitals/model"
	"physio/internal/vitals/storage"
)

// ErrRateLimited signals the per-patient admission ceiling. Transient; the
// caller may back off and retry.
var ErrRateLimited = errors.New("rate limit exceeded")

// readingStore is the slice of the durable store the orchestrator needs.
type readingStore interface {
	CommitReading(ctx context.Context, r model.Reading) (int64, error)
}

// entryPublisher appends accepted readings to the stream.
type entryPublisher interface {
	Publish(ctx context.Context, r model.Reading, eventID int64) (string, error)
}

// Result is the outcome of one accepted or deduplicated ingest.
type Result struct {
	// Duplicate is true when the reading was suppressed (cache hit or unique
	// index); StreamID and EventID are then zero.
	Duplicate bool
	// DuplicateSource distinguishes the cache fast path from the relational
	// backstop in responses: "duplicate_event_cache" or
	// "duplicate_event_persisted".
	DuplicateSource string
	StreamID        string
	EventID         int64
}

// Orchestrator runs the commit order that the consistency story depends on:
//
//  1. validate
//  2. rate-limit check
//  3. idempotency cache lookup (early exit on hit)
//  4. durable commit
//  5. stream publish
//  6. set idempotency key
//
// Persisting before publishing means a committed reading is always
// recoverable and workers never see an entry without a durable row. Setting
// the idempotency key last means a crash after step 4 leaves the unique
// index, not a dangling cache marker, as the authority.
type Orchestrator struct {
	limiter *cache.RateLimiter
	idem    *cache.IdempotencyFilter
	store   readingStore
	pub     entryPublisher
	log     *zap.Logger
	now     func() time.Time
}

// NewOrchestrator wires the pipeline stages.
func NewOrchestrator(limiter *cache.RateLimiter, idem *cache.IdempotencyFilter, store readingStore, pub entryPublisher, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		limiter: limiter,
		idem:    idem,
		store:   store,
		pub:     pub,
		log:     log,
		now:     time.Now,
	}
}

// Ingest runs one reading through the pipeline. Error values map onto the
// response taxonomy: *model.ValidationError, ErrRateLimited,
// storage.ErrUnavailable, stream.ErrUnavailable. storage.ErrDuplicate is
// absorbed here into a duplicate Result.
func (o *Orchestrator) Ingest(ctx context.Context, r model.Reading) (Result, error) {
	if err := r.Validate(o.now()); err != nil {
		return Result{}, err
	}

	ok, err := o.limiter.Allow(ctx, r.PatientID)
	if err != nil {
		// The limiter and the idempotency filter share one cache; if it is
		// down the fast dedup path is gone too, so fail closed as a storage
		// problem rather than admitting unthrottled traffic.
		return Result{}, errors.Join(storage.ErrUnavailable, err)
	}
	if !ok {
		return Result{}, ErrRateLimited
	}

	fp := r.Fingerprint()
	seen, err := o.idem.Seen(ctx, fp)
	if err != nil {
		return Result{}, errors.Join(storage.ErrUnavailable, err)
	}
	if seen {
		return Result{Duplicate: true, DuplicateSource: "duplicate_event_cache"}, nil
	}

	eventID, err := o.store.CommitReading(ctx, r)
	if errors.Is(err, storage.ErrDuplicate) {
		// Cache entry expired or was never set; the unique index caught the
		// replay. Success-equivalent.
		return Result{Duplicate: true, DuplicateSource: "duplicate_event_persisted"}, nil
	}
	if err != nil {
		return Result{}, err
	}

	streamID, err := o.pub.Publish(ctx, r, eventID)
	if err != nil {
		// Partial state: durable row exists, no stream entry, no cache
		// marker. The client retry replays into the unique index, which is
		// exactly the recovery path the commit order buys.
		return Result{}, err
	}

	if err := o.idem.Mark(ctx, fp); err != nil {
		// The reading is stored and published; a missing marker only costs
		// one relational round trip on a duplicate. Log and accept.
		o.log.Warn("idempotency mark failed",
			zap.String("patient_id", r.PatientID),
			zap.Error(err))
	}

	o.log.Info("ingest_success",
		zap.String("event", "ingest_success"),
		zap.String("patient_id", r.PatientID))

	return Result{StreamID: streamID, EventID: eventID}, nil
}
