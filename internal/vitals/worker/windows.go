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

// Package worker consumes the vitals stream: per-patient sliding-window
// aggregation, deterministic threshold checks, model scoring, anomaly
// classification and persistence.
package worker

import (
	"time"

	"physio/internal/vitals/model"
)

// Window sizes for the per-patient aggregators.
const (
	WindowShort  = 30 * time.Second
	WindowMedium = 2 * time.Minute
	WindowLong   = 10 * time.Minute
)

type sample struct {
	ts      time.Time
	reading model.Reading
}

// Window is an ordered deque of readings bounded by event time, not wall
// clock: insertion prunes head entries older than the inserted timestamp
// minus the window size. Out-of-order readings are appended and counted like
// any other; the ingest-side future-skew bound keeps a stray timestamp from
// evicting the whole window.
type Window struct {
	size    time.Duration
	samples []sample
}

// NewWindow creates an empty window of the given size.
func NewWindow(size time.Duration) *Window {
	return &Window{size: size}
}

// Add appends the reading and prunes entries that fell out of the window
// relative to the inserted timestamp.
func (w *Window) Add(ts time.Time, r model.Reading) {
	w.samples = append(w.samples, sample{ts: ts, reading: r})
	cutoff := ts.Add(-w.size)
	i := 0
	for i < len(w.samples) && w.samples[i].ts.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.samples = append(w.samples[:0], w.samples[i:]...)
	}
}

// Aggregates summarizes a window's retained readings.
type Aggregates struct {
	WindowSize time.Duration
	Count      int
	EndTime    time.Time
	AvgHR      float64
	AvgSpO2    float64
	AvgTemp    float64
}

// Aggregates computes the mean statistics over retained readings. The second
// return is false when the window is empty.
func (w *Window) Aggregates() (Aggregates, bool) {
	if len(w.samples) == 0 {
		return Aggregates{}, false
	}
	var hr, spo2, temp float64
	for _, s := range w.samples {
		hr += float64(s.reading.HR)
		spo2 += float64(s.reading.SpO2)
		temp += s.reading.Temp
	}
	n := float64(len(w.samples))
	return Aggregates{
		WindowSize: w.size,
		Count:      len(w.samples),
		EndTime:    w.samples[len(w.samples)-1].ts,
		AvgHR:      hr / n,
		AvgSpO2:    spo2 / n,
		AvgTemp:    temp / n,
	}, true
}

// PatientState carries the three concurrent windows for one patient. It is
// worker-local and never shared across processes; each consumer builds its
// own view of the patients it happens to pull.
type PatientState struct {
	PatientID string
	Short     *Window
	Medium    *Window
	Long      *Window
	lastSeen  time.Time
}

// NewPatientState initializes the three windows.
func NewPatientState(patientID string) *PatientState {
	return &PatientState{
		PatientID: patientID,
		Short:     NewWindow(WindowShort),
		Medium:    NewWindow(WindowMedium),
		Long:      NewWindow(WindowLong),
	}
}

// Add feeds a reading into all three windows.
func (p *PatientState) Add(r model.Reading) {
	p.Short.Add(r.Timestamp, r)
	p.Medium.Add(r.Timestamp, r)
	p.Long.Add(r.Timestamp, r)
}
