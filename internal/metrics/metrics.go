package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	TurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meghx_turns_total",
			Help: "Total number of conversation turns by routed intent.",
		},
		[]string{"intent"},
	)

	ModelLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meghx_model_latency_seconds",
			Help:    "Model call latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	InterruptsRaisedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meghx_interrupts_raised_total",
			Help: "Total number of workflow interrupts raised.",
		},
		[]string{"type"},
	)

	InterruptsResumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meghx_interrupts_resumed_total",
			Help: "Total number of interrupt resume attempts.",
		},
		[]string{"outcome"},
	)

	ExtractionTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meghx_memory_extraction_total",
			Help: "Total number of background memory extraction runs.",
		},
	)

	ExtractionFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meghx_memory_extraction_failures_total",
			Help: "Total number of failed memory extraction runs.",
		},
	)

	ExtractionLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "meghx_memory_extraction_latency_seconds",
			Help:    "Memory extraction latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	MemoryExtractedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meghx_memory_extracted_total",
			Help: "Total number of memory items saved by tier.",
		},
		[]string{"type"},
	)

	SemanticVersionedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meghx_semantic_versioned_total",
			Help: "Total number of semantic facts superseded by a newer version.",
		},
	)

	PIIEncryptedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meghx_pii_encrypted_total",
			Help: "Total number of facts encrypted before storage.",
		},
		[]string{"type"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meghx_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meghx_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(
		TurnsTotal,
		ModelLatency,
		InterruptsRaisedTotal,
		InterruptsResumedTotal,
		ExtractionTotal,
		ExtractionFailures,
		ExtractionLatency,
		MemoryExtractedTotal,
		SemanticVersionedTotal,
		PIIEncryptedTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}
