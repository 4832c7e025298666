package data

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tradesApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "footprint_trades_applied_total",
			Help: "Trades applied to an open bucket",
		},
		[]string{"symbol"},
	)
	tradesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "footprint_trades_rejected_total",
			Help: "Trades rejected before aggregation",
		},
		[]string{"reason"},
	)
	bucketsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "footprint_buckets_closed_total",
			Help: "Time buckets closed and published",
		},
		[]string{"symbol"},
	)
	sessionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "footprint_sessions_closed_total",
			Help: "TPO sessions closed and published",
		},
		[]string{"symbol"},
	)
	barsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "footprint_bars_processed_total",
			Help: "Closed klines analysed",
		},
		[]string{"symbol", "interval"},
	)
	publishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "footprint_publish_errors_total",
			Help: "Errors returned by the report publisher",
		},
	)
	batchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "footprint_ingest_batch_size",
			Help:    "Number of trades per batch submitted to the engine",
			Buckets: []float64{1, 10, 50, 100, 250, 500, 1000},
		},
	)
	bucketBins = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "footprint_bucket_bins",
			Help:    "Number of populated price bins per closed bucket",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)
)

const (
	reasonMalformed  = "malformed"
	reasonSequencing = "sequencing"
	reasonSuspect    = "suspect"
)
