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
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"physio/internal/vitals/telemetry"
)

// bufferedWriter holds the handler's response until the middleware has
// measured it. Responses here are small JSON bodies, so buffering is cheap,
// and it is the only way to stamp X-Process-Time-Ms after the handler runs
// but before the status line goes out.
type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedWriter() *bufferedWriter {
	return &bufferedWriter{header: make(http.Header), status: http.StatusOK}
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) { b.status = status }

func (b *bufferedWriter) Write(p []byte) (int, error) { return b.body.Write(p) }

func (b *bufferedWriter) flush(w http.ResponseWriter) {
	for k, vs := range b.header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(b.status)
	_, _ = w.Write(b.body.Bytes())
}

// Observe assigns each request a correlation id, measures handler latency,
// stamps both on the response, and emits one access-log line per request.
func Observe(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := uuid.NewString()
			start := time.Now()

			bw := newBufferedWriter()
			next.ServeHTTP(bw, r)

			elapsed := time.Since(start)
			bw.header.Set("X-Request-ID", requestID)
			bw.header.Set("X-Process-Time-Ms", fmt.Sprintf("%.2f", float64(elapsed.Microseconds())/1000.0))
			bw.flush(w)

			// Health and metrics probes would skew the ingest histogram.
			if r.URL.Path == "/ingest" {
				telemetry.IngestLatency.Observe(elapsed.Seconds())
			}
			log.Info("request",
				zap.String("request_id", requestID),
				zap.String("path", r.URL.Path),
				zap.Int("status", bw.status),
				zap.Float64("latency_ms", float64(elapsed.Microseconds())/1000.0))
		})
	}
}
