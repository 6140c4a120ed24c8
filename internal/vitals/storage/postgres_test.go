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

package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"physio/internal/vitals/model"
)

func testReading() model.Reading {
	return model.Reading{
		PatientID: "pt-1",
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		HR:        72,
		BPSys:     120,
		BPDia:     80,
		SpO2:      98,
		RR:        16,
		Temp:      36.8,
	}
}

func TestCommitReading_HappyPath(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	s := NewStore(db)
	r := testReading()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO patients`).
		WithArgs(r.PatientID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO vitals_events`).
		WithArgs(r.PatientID, r.Timestamp, r.HR, r.BPSys, r.BPDia, r.SpO2, r.RR, r.Temp).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))
	mock.ExpectCommit()

	id, err := s.CommitReading(context.Background(), r)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if id != 42 {
		t.Fatalf("event id: got %d want 42", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCommitReading_UniqueViolationIsDuplicate(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	s := NewStore(db)
	r := testReading()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO patients`).
		WithArgs(r.PatientID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`INSERT INTO vitals_events`).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	_, err = s.CommitReading(context.Background(), r)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("want ErrDuplicate, got %v", err)
	}
}

func TestCommitReading_OtherFailureIsUnavailable(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	s := NewStore(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO patients`).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err = s.CommitReading(context.Background(), testReading())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
	if errors.Is(err, ErrDuplicate) {
		t.Fatal("non-unique failures must not classify as duplicates")
	}
}

func TestInsertAnomaly_ConflictNoOps(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	s := NewStore(db)

	a := model.Anomaly{
		PatientID: "pt-1",
		Kind:      model.KindSpike,
		Score:     0.31,
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Details:   []byte(`{}`),
	}
	mock.ExpectExec(`INSERT INTO anomalies`).
		WithArgs(a.PatientID, "spike", a.Score, a.Timestamp, a.Details).
		WillReturnResult(sqlmock.NewResult(0, 0)) // conflict path: zero rows

	if err := s.InsertAnomaly(context.Background(), a); err != nil {
		t.Fatalf("conflicting insert must no-op, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRecentReadings_ScansRows(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	s := NewStore(db)

	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"patient_id", "timestamp", "hr", "bp_sys", "bp_dia", "spo2", "rr", "temp"}).
		AddRow("pt-1", since.Add(time.Minute), 72, 120, 80, 98, 16, 36.8).
		AddRow("pt-2", since.Add(2*time.Minute), 90, 130, 85, 95, 18, 37.1)
	mock.ExpectQuery(`SELECT patient_id, timestamp`).
		WithArgs(since).
		WillReturnRows(rows)

	got, err := s.RecentReadings(context.Background(), since)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("rows: got %d want 2", len(got))
	}
	if got[0].PatientID != "pt-1" || got[1].HR != 90 {
		t.Fatalf("unexpected scan result: %+v", got)
	}
}
