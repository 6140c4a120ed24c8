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

// Package model defines the vitals reading value, its validation rules, and
// the anomaly record shared between the ingest and worker sides.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// MaxFutureSkew is the maximum tolerated clock skew for a reading's timestamp.
// Readings further in the future are rejected at ingest. The worker relies on
// this bound: window pruning keys off the newest observed timestamp, so one
// far-future reading would otherwise evict an entire window.
const MaxFutureSkew = 300 * time.Second

// Reading is one immutable vitals observation for one patient. Constructed on
// ingest, never mutated, referenced by its event id after persistence.
type Reading struct {
	PatientID string    `json:"patient_id" validate:"required,max=50"`
	Timestamp time.Time `json:"timestamp" validate:"required"`
	HR        int       `json:"hr" validate:"min=30,max=250"`
	BPSys     int       `json:"bp_sys" validate:"min=50,max=250"`
	BPDia     int       `json:"bp_dia" validate:"min=30,max=150"`
	SpO2      int       `json:"spo2" validate:"min=50,max=100"`
	RR        int       `json:"rr" validate:"min=4,max=60"`
	Temp      float64   `json:"temp" validate:"min=30,max=45"`
}

// ValidationError reports the first field that violated a constraint.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on field %q: %s", e.Field, e.Reason)
}

// validate is shared; the validator caches struct metadata internally and is
// safe for concurrent use. Field names in errors follow the json tags so the
// API surface reports "spo2", not "SpO2".
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate enforces every clinical range plus the future-skew rule, evaluated
// against the supplied wall clock. It returns a *ValidationError naming the
// offending field, or nil.
func (r Reading) Validate(now time.Time) error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if ok := errors.As(err, &verrs); ok && len(verrs) > 0 {
			fe := verrs[0]
			return &ValidationError{
				Field:  fe.Field(),
				Reason: fmt.Sprintf("failed %q constraint", fe.Tag()),
			}
		}
		return &ValidationError{Field: "body", Reason: err.Error()}
	}
	if r.Timestamp.After(now.Add(MaxFutureSkew)) {
		return &ValidationError{Field: "timestamp", Reason: "timestamp too far in the future"}
	}
	return nil
}

// Fingerprint is the stable idempotency hash over (patient_id, timestamp).
// Both sides of a duplicate must derive the identical key, so the timestamp
// is normalized to RFC 3339 before hashing.
func (r Reading) Fingerprint() string {
	raw := r.PatientID + ":" + r.Timestamp.Format(time.RFC3339Nano)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// FeatureVector returns the 6-feature input expected by the anomaly scorer,
// in the order the model was trained on.
func (r Reading) FeatureVector() []float64 {
	return []float64{
		float64(r.HR),
		float64(r.BPSys),
		float64(r.BPDia),
		float64(r.SpO2),
		float64(r.RR),
		r.Temp,
	}
}
