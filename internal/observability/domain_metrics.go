package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	chatMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatapi_chat_messages_total",
			Help: "Total number of chat messages processed.",
		},
	)
	queryDetectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatapi_query_detections_total",
			Help: "Query detection outcomes by tier and verdict.",
		},
		[]string{"tier", "is_data"},
	)
	sqlGeneratedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatapi_sql_generated_total",
			Help: "Total number of SQL queries generated from parsed intents.",
		},
	)
	sqlExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatapi_sql_executions_total",
			Help: "SQL execution outcomes.",
		},
		[]string{"outcome"},
	)
	sqlExecutionLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatapi_sql_execution_latency_ms",
			Help:    "Generated SQL execution latency in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2000, 5000, 10000},
		},
	)
	pipelineFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatapi_pipeline_fallbacks_total",
			Help: "Conversational fallbacks by originating pipeline stage.",
		},
		[]string{"stage"},
	)
	authFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatapi_auth_failures_total",
			Help: "Rejected requests by failure reason.",
		},
		[]string{"reason"},
	)
	llmRequestLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatapi_llm_request_latency_ms",
			Help:    "Language model completion latency in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000},
		},
	)
)

func init() {
	prometheus.MustRegister(
		chatMessagesTotal,
		queryDetectionsTotal,
		sqlGeneratedTotal,
		sqlExecutionsTotal,
		sqlExecutionLatencyMs,
		pipelineFallbacksTotal,
		authFailuresTotal,
		llmRequestLatencyMs,
	)
}

func IncrementChatMessages() {
	chatMessagesTotal.Inc()
}

func ObserveQueryDetection(tier string, isData bool) {
	verdict := "false"
	if isData {
		verdict = "true"
	}
	queryDetectionsTotal.WithLabelValues(tier, verdict).Inc()
}

func IncrementSQLGenerated() {
	sqlGeneratedTotal.Inc()
}

func ObserveSQLExecution(success bool, elapsed time.Duration) {
	outcome := "error"
	if success {
		outcome = "ok"
	}
	sqlExecutionsTotal.WithLabelValues(outcome).Inc()
	sqlExecutionLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func IncrementPipelineFallback(stage string) {
	pipelineFallbacksTotal.WithLabelValues(stage).Inc()
}

func IncrementAuthFailure(reason string) {
	authFailuresTotal.WithLabelValues(reason).Inc()
}

func ObserveLLMRequest(elapsed time.Duration) {
	llmRequestLatencyMs.Observe(float64(elapsed.Milliseconds()))
}
