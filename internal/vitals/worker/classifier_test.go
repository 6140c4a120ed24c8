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
	"testing"
	"time"

	"go.uber.org/zap"

	"physio/internal/vitals/model"
)

func warmAgg(avgHR, avgSpO2 float64) Aggregates {
	return Aggregates{
		WindowSize: WindowLong,
		Count:      10,
		AvgHR:      avgHR,
		AvgSpO2:    avgSpO2,
		AvgTemp:    36.8,
	}
}

func TestClassify_PriorityOrder(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		r     model.Reading
		agg   Aggregates
		warm  bool
		score float64
		want  model.AnomalyKind
	}{
		{
			name: "hr deviation wins",
			r:    reading(ts, 120, 98, 36.8), // 45 over the mean
			agg:  warmAgg(75, 98), warm: true, score: 0.9,
			want: model.KindSpike,
		},
		{
			name: "spo2 deviation when hr is close",
			r:    reading(ts, 76, 90, 36.8), // spo2 8 under the mean
			agg:  warmAgg(75, 98), warm: true, score: 0.9,
			want: model.KindDrop,
		},
		{
			name: "high score without deviation",
			r:    reading(ts, 76, 97, 36.8),
			agg:  warmAgg(75, 98), warm: true, score: 0.35,
			want: model.KindMultiSignal,
		},
		{
			name: "low score without deviation",
			r:    reading(ts, 76, 97, 36.8),
			agg:  warmAgg(75, 98), warm: true, score: 0.1,
			want: model.KindDrift,
		},
		{
			name: "cold window defaults to spike",
			r:    reading(ts, 76, 97, 36.8),
			agg:  Aggregates{Count: 5}, warm: true, score: 0.1,
			want: model.KindSpike,
		},
		{
			name: "empty window defaults to spike",
			r:    reading(ts, 76, 97, 36.8),
			agg:  Aggregates{}, warm: false, score: 0.9,
			want: model.KindSpike,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.r, tc.agg, tc.warm, tc.score)
			if got != tc.want {
				t.Fatalf("kind: got %s want %s", got, tc.want)
			}
		})
	}
}

func TestClassify_ExactDeviationBoundsDoNotFire(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	// Exactly 20 bpm and exactly 5 points: the rules require strictly
	// greater deviations.
	r := reading(ts, 95, 93, 36.8)
	got := Classify(r, warmAgg(75, 98), true, 0.5)
	if got != model.KindMultiSignal {
		t.Fatalf("boundary deviations must not classify as spike/drop, got %s", got)
	}
}

// recordingStore captures anomaly inserts.
type recordingStore struct {
	inserted []model.Anomaly
	err      error
}

func (s *recordingStore) InsertAnomaly(ctx context.Context, a model.Anomaly) error {
	if s.err != nil {
		return s.err
	}
	s.inserted = append(s.inserted, a)
	return nil
}

func TestRecord_PersistsWithSnapshot(t *testing.T) {
	st := &recordingStore{}
	c := NewClassifier(st, zap.NewNop())
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := reading(ts, 180, 98, 36.8)

	if err := c.Record(context.Background(), r, model.KindSpike, 0.42); err != nil {
		t.Fatal(err)
	}
	if len(st.inserted) != 1 {
		t.Fatalf("inserted: got %d want 1", len(st.inserted))
	}
	a := st.inserted[0]
	if a.PatientID != "pt-1" || a.Kind != model.KindSpike || a.Score != 0.42 || !a.Timestamp.Equal(ts) {
		t.Fatalf("unexpected anomaly row: %+v", a)
	}
	if len(a.Details) == 0 {
		t.Fatal("details snapshot must be present")
	}
}
