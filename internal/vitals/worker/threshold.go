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
	"time"

	"go.uber.org/zap"

	"physio/internal/vitals/model"
	"physio/internal/vitals/telemetry"
)

// Deterministic clinical alarm bounds. Crossings are a reference signal for
// benchmarking the model's lead time against a naive alarm; they are logged,
// counted, and never persisted.
const (
	thresholdHRHigh = 140
	thresholdSpO2Lo = 90
)

// ThresholdDetector emits THRESHOLD_CROSSED records for out-of-bound vitals.
type ThresholdDetector struct {
	log *zap.Logger
}

// NewThresholdDetector builds a detector writing to the given logger.
func NewThresholdDetector(log *zap.Logger) *ThresholdDetector {
	return &ThresholdDetector{log: log}
}

// Check inspects one reading and logs every crossed bound.
func (d *ThresholdDetector) Check(r model.Reading) {
	if r.HR > thresholdHRHigh {
		d.emit(r.PatientID, "hr", float64(r.HR), r.Timestamp)
	}
	if r.SpO2 < thresholdSpO2Lo {
		d.emit(r.PatientID, "spo2", float64(r.SpO2), r.Timestamp)
	}
}

func (d *ThresholdDetector) emit(patientID, metric string, value float64, ts time.Time) {
	telemetry.ThresholdCrossings.WithLabelValues(metric).Inc()
	d.log.Info("THRESHOLD_CROSSED",
		zap.String("patient_id", patientID),
		zap.String("metric", metric),
		zap.Float64("value", value),
		zap.String("timestamp", ts.Format(time.RFC3339Nano)))
}
