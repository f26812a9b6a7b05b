package rag

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ingestTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rag_ingest_total",
		Help: "Total number of document ingestions attempted.",
	})

	ingestFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rag_ingest_failures_total",
		Help: "Total number of failed document ingestions.",
	})

	ingestRollbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rag_ingest_rollbacks_total",
		Help: "Total number of partial-ingestion rollbacks performed.",
	})

	chunksIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rag_chunks_ingested_total",
		Help: "Total number of chunks written to the vector store.",
	})

	queryTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rag_query_total",
		Help: "Total number of retrieval queries attempted.",
	})

	queryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rag_query_failures_total",
		Help: "Total number of failed retrieval queries.",
	})

	queryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rag_query_duration_seconds",
		Help:    "End-to-end retrieval query latency.",
		Buckets: prometheus.DefBuckets,
	})
)
