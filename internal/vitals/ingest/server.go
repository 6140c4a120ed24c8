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
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"physio/internal/vitals/model"
	"physio/internal/vitals/storage"
	"physio/internal/vitals/stream"
	"physio/internal/vitals/telemetry"
)

// Server exposes the ingest endpoint and the health probe.
type Server struct {
	orch *Orchestrator
	rdb  redis.Cmdable
	log  *zap.Logger
}

// NewServer builds the HTTP layer over an orchestrator. The cache client is
// only used by the health probe.
func NewServer(orch *Orchestrator, rdb redis.Cmdable, log *zap.Logger) *Server {
	return &Server{orch: orch, rdb: rdb, log: log}
}

// Routes assembles the router with the correlation/timing middleware applied
// to every endpoint.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(Observe(s.log))
	r.Post("/ingest", s.handleIngest)
	r.Get("/health", s.handleHealth)
	return r
}

func (s *Server) handleIngest(w http.ResponseWriter, req *http.Request) {
	var reading model.Reading
	dec := json.NewDecoder(req.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&reading); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"detail": "malformed request body",
		})
		telemetry.IngestRequests.WithLabelValues("validation").Inc()
		return
	}

	res, err := s.orch.Ingest(req.Context(), reading)
	switch {
	case err == nil && res.Duplicate:
		telemetry.IngestRequests.WithLabelValues("ignored").Inc()
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ignored",
			"detail": res.DuplicateSource,
		})
	case err == nil:
		telemetry.IngestRequests.WithLabelValues("queued").Inc()
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"status": "queued",
			"id":     res.StreamID,
			"db_id":  res.EventID,
		})
	default:
		s.writeError(w, reading, err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r model.Reading, err error) {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		telemetry.IngestRequests.WithLabelValues("validation").Inc()
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"detail": "validation failed",
			"field":  verr.Field,
		})
	case errors.Is(err, ErrRateLimited):
		telemetry.IngestRequests.WithLabelValues("rate_limited").Inc()
		w.Header().Set("Retry-After", "10")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"detail": "rate limit exceeded for this patient id",
		})
	case errors.Is(err, stream.ErrUnavailable):
		telemetry.IngestRequests.WithLabelValues("stream_error").Inc()
		s.log.Error("stream publish failed", zap.String("patient_id", r.PatientID), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"detail": "stream service unavailable",
		})
	case errors.Is(err, storage.ErrUnavailable):
		fallthrough
	default:
		telemetry.IngestRequests.WithLabelValues("storage_error").Inc()
		s.log.Error("durable commit failed", zap.String("patient_id", r.PatientID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"detail": "database persistence failed",
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
	defer cancel()

	cacheStatus := "connected"
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		cacheStatus = "disconnected"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"cache":  cacheStatus,
		"store":  "pool_managed",
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
