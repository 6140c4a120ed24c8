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

// Package storage is the durable side of the pipeline: the patients and
// vitals_events tables written by ingest, and the anomalies table written by
// the worker. The unique index on (patient_id, timestamp) is a first-class
// design element here, not an exception path — it fires routinely under
// client retry and the callers treat it as a duplicate signal.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"physio/internal/vitals/model"
)

var (
	// ErrDuplicate signals the unique-index backstop on (patient_id, timestamp).
	// Callers treat it as success-equivalent, never as a failure.
	ErrDuplicate = errors.New("reading already persisted")
	// ErrUnavailable covers every other storage failure; transient, retry-safe.
	ErrUnavailable = errors.New("storage unavailable")
)

const pgUniqueViolation = "23505"

// Store wraps the pooled connection handle. One Store lives for the life of
// the process.
type Store struct {
	db *sql.DB
}

// Open connects to the durable store using the pgx stdlib driver. The pool is
// sized modestly; both binaries issue short, single-row statements.
func Open(url string) (*Store, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing handle; used by tests to inject a mock.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// CommitReading durably stores one reading in a single transaction: upsert
// the patient row, then insert the event row returning its id. A unique
// violation on (patient_id, timestamp) surfaces as ErrDuplicate.
func (s *Store) CommitReading(ctx context.Context, r model.Reading) (int64, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %v", ErrUnavailable, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO patients (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`,
		r.PatientID); err != nil {
		return 0, classify(err, "upsert patient")
	}

	var eventID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO vitals_events (patient_id, timestamp, hr, bp_sys, bp_dia, spo2, rr, temp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		r.PatientID, r.Timestamp, r.HR, r.BPSys, r.BPDia, r.SpO2, r.RR, r.Temp,
	).Scan(&eventID)
	if err != nil {
		return 0, classify(err, "insert event")
	}

	if err := tx.Commit(); err != nil {
		return 0, classify(err, "commit")
	}
	return eventID, nil
}

// InsertAnomaly records one classified anomaly. The statement no-ops on the
// (patient_id, timestamp, anomaly_type) unique index so redelivered stream
// entries never produce a second row.
func (s *Store) InsertAnomaly(ctx context.Context, a model.Anomaly) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO anomalies (patient_id, anomaly_type, score, timestamp, details)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (patient_id, timestamp, anomaly_type) DO NOTHING`,
		a.PatientID, string(a.Kind), a.Score, a.Timestamp, a.Details)
	if err != nil {
		return classify(err, "insert anomaly")
	}
	return nil
}

// RecentReadings returns every reading at or after the cutoff, oldest first.
// The worker uses it to warm per-patient windows after a restart; correctness
// never depends on it.
func (s *Store) RecentReadings(ctx context.Context, since time.Time) ([]model.Reading, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT patient_id, timestamp, hr, bp_sys, bp_dia, spo2, rr, temp
		 FROM vitals_events
		 WHERE timestamp >= $1
		 ORDER BY timestamp ASC`,
		since)
	if err != nil {
		return nil, classify(err, "select recent")
	}
	defer rows.Close()

	var out []model.Reading
	for rows.Next() {
		var r model.Reading
		if err := rows.Scan(&r.PatientID, &r.Timestamp, &r.HR, &r.BPSys, &r.BPDia, &r.SpO2, &r.RR, &r.Temp); err != nil {
			return nil, classify(err, "scan recent")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "iterate recent")
	}
	return out, nil
}

// ReadingDetails serializes a reading snapshot for the anomalies details
// column.
func ReadingDetails(r model.Reading) []byte {
	b, err := json.Marshal(r)
	if err != nil {
		// model.Reading has no unmarshalable fields; this cannot fire.
		return []byte("{}")
	}
	return b
}

func classify(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicate, op)
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
