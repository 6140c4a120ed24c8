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
	"math"
	"time"

	"go.uber.org/zap"

	"physio/internal/vitals/model"
	"physio/internal/vitals/storage"
	"physio/internal/vitals/telemetry"
)

// Classification heuristics over the 10-minute window.
const (
	minWindowEntries   = 6   // below this the window is too cold to trust
	hrDeviationBound   = 20  // bpm from the window mean
	spo2DeviationBound = 5   // percentage points from the window mean
	multiSignalScore   = 0.2 // model score above which it's multi-signal
)

// anomalyStore is the slice of the durable store the classifier writes to.
type anomalyStore interface {
	InsertAnomaly(ctx context.Context, a model.Anomaly) error
}

// Classifier assigns a kind to model-flagged readings and persists the
// result. Invoked only when the scorer's flag is set.
type Classifier struct {
	store anomalyStore
	log   *zap.Logger
}

// NewClassifier wires the classifier to the anomaly table.
func NewClassifier(store anomalyStore, log *zap.Logger) *Classifier {
	return &Classifier{store: store, log: log}
}

// Classify picks the anomaly kind from the reading, the 10-minute aggregates,
// and the model score, in strict priority order. A cold window (fewer than 6
// entries, including the empty case) defaults to spike.
func Classify(r model.Reading, agg Aggregates, warm bool, score float64) model.AnomalyKind {
	if !warm || agg.Count < minWindowEntries {
		return model.KindSpike
	}
	switch {
	case math.Abs(float64(r.HR)-agg.AvgHR) > hrDeviationBound:
		return model.KindSpike
	case math.Abs(float64(r.SpO2)-agg.AvgSpO2) > spo2DeviationBound:
		return model.KindDrop
	case score > multiSignalScore:
		return model.KindMultiSignal
	default:
		return model.KindDrift
	}
}

// Record persists one classified anomaly and emits the ANOMALY_DETECTED log
// line. The insert no-ops on redelivery thanks to the
// (patient_id, timestamp, anomaly_type) unique index.
func (c *Classifier) Record(ctx context.Context, r model.Reading, kind model.AnomalyKind, score float64) error {
	a := model.Anomaly{
		PatientID: r.PatientID,
		Kind:      kind,
		Score:     score,
		Timestamp: r.Timestamp,
		Details:   storage.ReadingDetails(r),
	}
	if err := c.store.InsertAnomaly(ctx, a); err != nil {
		return err
	}
	telemetry.Anomalies.WithLabelValues(string(kind)).Inc()
	c.log.Info("ANOMALY_DETECTED",
		zap.String("patient_id", r.PatientID),
		zap.String("type", string(kind)),
		zap.Float64("score", score),
		zap.String("timestamp", r.Timestamp.Format(time.RFC3339Nano)))
	return nil
}
