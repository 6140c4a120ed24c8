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

package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	dto "github.com/prometheus/client_model/go"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"physio/internal/vitals/stream"
	"physio/internal/vitals/telemetry"
)

func testServer(t *testing.T) (*Server, *fakeStore, *fakePublisher) {
	t.Helper()
	o, st, pub, mr := testOrchestrator(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewServer(o, rdb, zap.NewNop()), st, pub
}

func postIngest(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const nominalBody = `{"patient_id":"pt-1","timestamp":"2024-01-01T00:00:00Z","hr":72,"bp_sys":120,"bp_dia":80,"spo2":98,"rr":16,"temp":36.8}`

func TestIngestEndpoint_Accepted(t *testing.T) {
	s, _, _ := testServer(t)
	h := s.Routes()

	rec := postIngest(t, h, nominalBody)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status: got %d want 202, body=%s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Status string `json:"status"`
		ID     string `json:"id"`
		DBID   int64  `json:"db_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "queued" || resp.ID == "" || resp.DBID != 1 {
		t.Fatalf("unexpected body: %+v", resp)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID header")
	}
	if rec.Header().Get("X-Process-Time-Ms") == "" {
		t.Fatal("missing X-Process-Time-Ms header")
	}
}

func TestIngestEndpoint_DuplicateIgnored(t *testing.T) {
	s, _, _ := testServer(t)
	h := s.Routes()

	if rec := postIngest(t, h, nominalBody); rec.Code != http.StatusAccepted {
		t.Fatalf("first post: %d", rec.Code)
	}
	rec := postIngest(t, h, nominalBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("duplicate status: got %d want 200", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "ignored" || resp["detail"] != "duplicate_event_cache" {
		t.Fatalf("unexpected duplicate body: %v", resp)
	}
}

func TestIngestEndpoint_ValidationFailure(t *testing.T) {
	s, st, _ := testServer(t)
	h := s.Routes()

	body := `{"patient_id":"pt-1","timestamp":"2024-01-01T00:00:00Z","hr":72,"bp_sys":120,"bp_dia":80,"spo2":110,"rr":16,"temp":36.8}`
	rec := postIngest(t, h, body)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status: got %d want 422", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["field"] != "spo2" {
		t.Fatalf("offending field: got %q want spo2", resp["field"])
	}
	if st.commits != 0 {
		t.Fatal("rejected reading must not be stored")
	}
}

func TestIngestEndpoint_MalformedJSON(t *testing.T) {
	s, _, _ := testServer(t)
	rec := postIngest(t, s.Routes(), `{"patient_id": `)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status: got %d want 422", rec.Code)
	}
}

func TestIngestEndpoint_RateLimited(t *testing.T) {
	s, _, _ := testServer(t)
	h := s.Routes()

	// Distinct timestamps keep the idempotency filter out of the way.
	for i := 0; i < 25; i++ {
		body := fmt.Sprintf(
			`{"patient_id":"pt-2","timestamp":"2024-01-01T00:00:%02dZ","hr":72,"bp_sys":120,"bp_dia":80,"spo2":98,"rr":16,"temp":36.8}`, i)
		rec := postIngest(t, h, body)
		switch {
		case i < 20 && rec.Code != http.StatusAccepted:
			t.Fatalf("request %d: got %d want 202", i, rec.Code)
		case i >= 20 && rec.Code != http.StatusTooManyRequests:
			t.Fatalf("request %d: got %d want 429", i, rec.Code)
		}
	}
}

func TestIngestEndpoint_StreamDown(t *testing.T) {
	s, _, pub := testServer(t)
	pub.err = fmt.Errorf("%w: xadd: connection refused", stream.ErrUnavailable)

	rec := postIngest(t, s.Routes(), nominalBody)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d want 503", rec.Code)
	}
}

func ingestLatencySamples(t *testing.T) uint64 {
	t.Helper()
	m := &dto.Metric{}
	if err := telemetry.IngestLatency.Write(m); err != nil {
		t.Fatal(err)
	}
	return m.GetHistogram().GetSampleCount()
}

func TestLatencyHistogramOnlyCountsIngest(t *testing.T) {
	s, _, _ := testServer(t)
	h := s.Routes()

	before := ingestLatencySamples(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got := ingestLatencySamples(t); got != before {
		t.Fatalf("health probe must not feed the ingest histogram: before=%d after=%d", before, got)
	}

	postIngest(t, h, nominalBody)
	if got := ingestLatencySamples(t); got != before+1 {
		t.Fatalf("ingest request must be observed once: before=%d after=%d", before, got)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s, _, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d want 200", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["cache"] != "connected" {
		t.Fatalf("cache status: %v", resp)
	}
}
