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

package worker

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"physio/internal/vitals/model"
	"physio/internal/vitals/stream"
	"physio/internal/vitals/telemetry"
)

const (
	// readErrorBackoff is how long the loop sleeps after a failed stream read.
	readErrorBackoff = time.Second
	// defaultIdleAge is how long a patient may go unseen before the worker
	// drops its window state. Windows rebuild as readings arrive, so this
	// only bounds memory.
	defaultIdleAge = time.Hour
	// defaultClaimMinIdle is how long an entry must sit unacknowledged in
	// another consumer's pending list before startup adopts it. Long enough
	// that a healthy peer mid-batch keeps its deliveries.
	defaultClaimMinIdle = time.Minute
)

// entryConsumer is the slice of the stream the processor reads through.
type entryConsumer interface {
	EnsureGroup(ctx context.Context) error
	ReadPending(ctx context.Context, after string) ([]redis.XMessage, error)
	ReadNew(ctx context.Context) ([]redis.XMessage, error)
	Claim(ctx context.Context, minIdle time.Duration) ([]redis.XMessage, error)
	Ack(ctx context.Context, id string) error
}

// readingWarmer optionally re-hydrates windows from the durable store.
type readingWarmer interface {
	RecentReadings(ctx context.Context, since time.Time) ([]model.Reading, error)
}

// Processor is one consumer process: it pulls stream batches, runs each entry
// through windows, threshold checks, the scorer, and (when flagged) the
// classifier, then acknowledges. All state is confined to the loop goroutine;
// no locks.
type Processor struct {
	consumer   entryConsumer
	scorer     *Scorer
	thresholds *ThresholdDetector
	classifier *Classifier
	warmer       readingWarmer
	warmWindow   time.Duration
	idleAge      time.Duration
	claimMinIdle time.Duration
	log          *zap.Logger

	states map[string]*PatientState
	now    func() time.Time
}

// NewProcessor assembles a worker. warmer may be nil to skip window
// hydration on startup.
func NewProcessor(consumer entryConsumer, scorer *Scorer, thresholds *ThresholdDetector, classifier *Classifier, warmer readingWarmer, warmWindow time.Duration, log *zap.Logger) *Processor {
	return &Processor{
		consumer:     consumer,
		scorer:       scorer,
		thresholds:   thresholds,
		classifier:   classifier,
		warmer:       warmer,
		warmWindow:   warmWindow,
		idleAge:      defaultIdleAge,
		claimMinIdle: defaultClaimMinIdle,
		log:          log,
		states:       make(map[string]*PatientState),
		now:          time.Now,
	}
}

// Run executes recovery and then the consume loop until ctx is cancelled.
// The in-flight batch is always finished and acked before returning.
func (p *Processor) Run(ctx context.Context) error {
	if err := p.consumer.EnsureGroup(ctx); err != nil {
		return err
	}
	p.warmWindows(ctx)
	if err := p.drainPending(ctx); err != nil {
		return err
	}
	if err := p.claimStale(ctx); err != nil {
		return err
	}

	p.log.Info("listening for stream entries")
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := p.consumer.ReadNew(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.log.Warn("stream read failed, backing off", zap.Error(err))
			select {
			case <-time.After(readErrorBackoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		if len(msgs) == 0 {
			// Idle poll; cheap moment to bound per-patient memory.
			p.evictIdle()
			continue
		}
		// Finish the whole delivered batch even if shutdown arrives
		// mid-batch; entries are acked individually as they complete.
		p.processBatch(context.WithoutCancel(ctx), msgs)
	}
}

// drainPending re-processes entries delivered to this consumer name but not
// acknowledged before the last shutdown or crash. One pass over the pending
// list: the scan pages past each batch by id, so an entry that fails again
// stays pending for a later claim cycle instead of stalling startup.
func (p *Processor) drainPending(ctx context.Context) error {
	after := "0"
	for {
		msgs, err := p.consumer.ReadPending(ctx, after)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}
		p.log.Info("re-processing pending entries", zap.Int("count", len(msgs)))
		telemetry.PendingRedeliveries.Add(float64(len(msgs)))
		p.processBatch(ctx, msgs)
		after = msgs[len(msgs)-1].ID
	}
}

// claimStale adopts entries stuck in other consumers' pending lists. Worker
// names default to a fresh uuid per process, so a crashed peer's deliveries
// would otherwise be orphaned forever.
func (p *Processor) claimStale(ctx context.Context) error {
	msgs, err := p.consumer.Claim(ctx, p.claimMinIdle)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	p.log.Info("claimed stale entries", zap.Int("count", len(msgs)))
	telemetry.PendingRedeliveries.Add(float64(len(msgs)))
	p.processBatch(ctx, msgs)
	return nil
}

// warmWindows optionally pre-fills patient windows from the durable store.
// Purely a detection-quality optimization after restart; failures are logged
// and ignored.
func (p *Processor) warmWindows(ctx context.Context) {
	if p.warmer == nil || p.warmWindow <= 0 {
		return
	}
	readings, err := p.warmer.RecentReadings(ctx, p.now().Add(-p.warmWindow))
	if err != nil {
		p.log.Warn("window warm-load failed", zap.Error(err))
		return
	}
	for _, r := range readings {
		st := p.state(r.PatientID)
		st.Add(r)
		st.lastSeen = p.now()
	}
	p.log.Info("windows warmed", zap.Int("readings", len(readings)))
}

func (p *Processor) processBatch(ctx context.Context, msgs []redis.XMessage) {
	for _, msg := range msgs {
		if err := p.processEntry(ctx, msg); err != nil {
			// Leave the entry pending; it will be reclaimed and retried.
			// One bad entry must never take the loop down.
			telemetry.EntriesFailed.Inc()
			p.log.Error("entry processing failed",
				zap.String("entry_id", msg.ID),
				zap.Error(err))
			continue
		}
		if err := p.consumer.Ack(ctx, msg.ID); err != nil {
			// Processed but unacked: redelivery is safe, the anomaly insert
			// is idempotent and windows are additive within their bound.
			p.log.Warn("ack failed", zap.String("entry_id", msg.ID), zap.Error(err))
			continue
		}
		telemetry.EntriesProcessed.Inc()
	}
}

// processEntry runs one delivered entry through the full chain. The ack is
// the caller's job and happens only after this returns nil.
func (p *Processor) processEntry(ctx context.Context, msg redis.XMessage) error {
	entry, err := stream.ParseEntry(msg)
	if err != nil {
		return err
	}
	r := entry.Reading

	st := p.state(r.PatientID)
	st.Add(r)
	st.lastSeen = p.now()

	p.thresholds.Check(r)

	flagged, score := p.scorer.Score(r.FeatureVector())
	if !flagged {
		return nil
	}

	agg, warm := st.Long.Aggregates()
	kind := Classify(r, agg, warm, score)
	return p.classifier.Record(ctx, r, kind, score)
}

func (p *Processor) state(patientID string) *PatientState {
	st, ok := p.states[patientID]
	if !ok {
		st = NewPatientState(patientID)
		p.states[patientID] = st
	}
	return st
}

// evictIdle drops window state for patients not seen within idleAge.
func (p *Processor) evictIdle() {
	cutoff := p.now().Add(-p.idleAge)
	for id, st := range p.states {
		if st.lastSeen.Before(cutoff) {
			delete(p.states, id)
		}
	}
}

// IsFatalStartup reports whether a Run error means the process should exit
// non-zero rather than retry.
func IsFatalStartup(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}
