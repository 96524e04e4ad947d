package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SignaturesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signtusk_signatures_total",
		Help: "Signature containers created, by provider and outcome.",
	}, []string{"provider", "outcome"})

	TimestampRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signtusk_timestamp_requests_total",
		Help: "Timestamp authority attempts, by authority and outcome.",
	}, []string{"authority", "outcome"})

	BatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signtusk_batches_total",
		Help: "Batches reaching a terminal status.",
	}, []string{"status"})

	ActiveBatches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signtusk_active_batches",
		Help: "Batches currently preparing or signing.",
	})

	DocumentSignDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "signtusk_document_sign_duration_seconds",
		Help:    "Wall time spent signing one document.",
		Buckets: prometheus.DefBuckets,
	})
)
