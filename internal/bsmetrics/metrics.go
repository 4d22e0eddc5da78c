// Package bsmetrics declares the Prometheus metrics exported by a
// Stream Coordinator, adapted from the teacher's internal/metrics
// package: same NewCounterVec/NewHistogramVec/Register shape, relabeled
// to the poll/queue/reader/emission pipeline this module implements.
package bsmetrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// PollsTotal counts Data Interface Poll calls by outcome (ok, empty,
	// error). The coordinator fills the backend label (here and on
	// PollDuration) with its own name.
	PollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpstream_polls_total",
			Help: "Data interface Poll calls by outcome.",
		},
		[]string{"backend", "status"},
	)

	// PollDuration tracks Poll call latency.
	PollDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bgpstream_poll_duration_seconds",
			Help:    "Data interface Poll call latency.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0},
		},
		[]string{"backend"},
	)

	// DescriptorsQueuedTotal counts descriptors admitted into the Input
	// Queue after coarse filtering.
	DescriptorsQueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpstream_descriptors_queued_total",
			Help: "Input descriptors queued after coarse filtering.",
		},
		[]string{"collector", "type"},
	)

	// RecordsEmittedTotal counts records delivered to next_record.
	RecordsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpstream_records_emitted_total",
			Help: "Records delivered by next_record.",
		},
		[]string{"collector", "type"},
	)

	// ElementsFilteredTotal counts elements dropped by fine_match.
	ElementsFilteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpstream_elements_filtered_total",
			Help: "Elements dropped by fine_match filtering.",
		},
		[]string{"collector"},
	)

	DecodeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpstream_decode_errors_total",
			Help: "Decode failures by collector/reason.",
		},
		[]string{"collector", "reason"},
	)

	ReaderSetSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bgpstream_reader_set_size",
			Help: "Number of readers currently open in the Reader Set.",
		},
		[]string{"coordinator"},
	)

	BackoffSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bgpstream_backoff_seconds",
			Help: "Current live-mode poll backoff, in seconds.",
		},
		[]string{"coordinator"},
	)

	ConsecutiveBackendFailures = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bgpstream_consecutive_backend_failures",
			Help: "Consecutive Poll ERROR results observed by the coordinator.",
		},
		[]string{"coordinator"},
	)
)

// Register registers all bsmetrics collectors with the default
// Prometheus registry. Safe to call once per process; call sites
// outside of tests should guard against double registration the way
// the teacher's main does (call once from main, not from library code
// under test).
func Register() {
	prometheus.MustRegister(
		PollsTotal,
		PollDuration,
		DescriptorsQueuedTotal,
		RecordsEmittedTotal,
		ElementsFilteredTotal,
		DecodeErrorsTotal,
		ReaderSetSize,
		BackoffSeconds,
		ConsecutiveBackendFailures,
	)
}
