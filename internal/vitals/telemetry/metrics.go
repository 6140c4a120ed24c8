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

// Package telemetry registers the Prometheus metrics for both binaries.
// Labels stay low-cardinality: outcomes, metric names, and anomaly kinds are
// closed sets; patient ids never become labels.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// IngestRequests counts ingest calls by outcome: queued, ignored,
	// validation, rate_limited, storage_error, stream_error.
	IngestRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "physio_ingest_requests_total",
		Help: "Ingest requests by outcome",
	}, []string{"outcome"})

	IngestLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "physio_ingest_latency_seconds",
		Help:    "End-to-end ingest handler latency",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	EntriesProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "physio_stream_entries_processed_total",
		Help: "Stream entries fully processed and acknowledged",
	})

	EntriesFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "physio_stream_entries_failed_total",
		Help: "Stream entries whose processing failed and were left pending",
	})

	PendingRedeliveries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "physio_pending_redeliveries_total",
		Help: "Entries re-processed from the pending list after a restart",
	})

	Anomalies = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "physio_anomalies_total",
		Help: "Persisted anomalies by kind",
	}, []string{"kind"})

	ThresholdCrossings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "physio_threshold_crossings_total",
		Help: "Deterministic clinical threshold crossings by metric",
	}, []string{"metric"})
)

func init() {
	prometheus.MustRegister(
		IngestRequests,
		IngestLatency,
		EntriesProcessed,
		EntriesFailed,
		PendingRedeliveries,
		Anomalies,
		ThresholdCrossings,
	)
}

// Serve exposes /metrics on its own listener when addr is non-empty. Errors
// are reported through errFn rather than killing the process; metrics are
// never load-bearing.
func Serve(addr string, errFn func(error)) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errFn(err)
		}
	}()
}
