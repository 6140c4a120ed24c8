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

package model

import "time"

// AnomalyKind is the closed set of classifications the worker may assign.
type AnomalyKind string

const (
	KindSpike       AnomalyKind = "spike"
	KindDrop        AnomalyKind = "drop"
	KindDrift       AnomalyKind = "drift"
	KindMultiSignal AnomalyKind = "multi-signal"
)

// Anomaly is one persisted detection. Score follows the "higher = more
// abnormal" convention; the scorer inverts its native output exactly once so
// every downstream comparison stays oriented the same way.
type Anomaly struct {
	PatientID string
	Kind      AnomalyKind
	Score     float64
	Timestamp time.Time
	// Details is the serialized reading snapshot, stored as JSON alongside
	// the classification.
	Details []byte
}
