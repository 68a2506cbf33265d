package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	pipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqliteagent_pipeline_runs_total",
			Help: "Total number of natural language pipeline runs by outcome.",
		},
		[]string{"outcome"},
	)
	pipelineStageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqliteagent_pipeline_stage_duration_seconds",
			Help:    "Latency of each pipeline stage in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage"},
	)
	gatewayRepliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqliteagent_model_gateway_replies_total",
			Help: "Model gateway replies by source (live or mocked) and degradation reason.",
		},
		[]string{"source", "reason"},
	)
	gatewayLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqliteagent_model_gateway_latency_seconds",
			Help:    "Round-trip latency of remote model calls in seconds.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		},
	)
	safetyRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqliteagent_safety_rejections_total",
			Help: "Total number of synthesized queries rejected as high risk.",
		},
	)
	sqlExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqliteagent_sql_executions_total",
			Help: "Total number of SQL statements executed by result.",
		},
		[]string{"result"},
	)
	loadedDatabases = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sqliteagent_loaded_databases",
			Help: "Current number of databases in the registry.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		pipelineRunsTotal,
		pipelineStageDurationSeconds,
		gatewayRepliesTotal,
		gatewayLatencySeconds,
		safetyRejectionsTotal,
		sqlExecutionsTotal,
		loadedDatabases,
	)
}

func ObservePipelineRun(success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	pipelineRunsTotal.WithLabelValues(outcome).Inc()
}

func ObservePipelineStage(stage string, elapsed time.Duration) {
	pipelineStageDurationSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func ObserveGatewayReply(source, reason string, elapsed time.Duration) {
	gatewayRepliesTotal.WithLabelValues(source, reason).Inc()
	if elapsed > 0 {
		gatewayLatencySeconds.Observe(elapsed.Seconds())
	}
}

func IncrementSafetyRejection() {
	safetyRejectionsTotal.Inc()
}

func ObserveSQLExecution(success bool) {
	result := "ok"
	if !success {
		result = "error"
	}
	sqlExecutionsTotal.WithLabelValues(result).Inc()
}

func SetLoadedDatabases(count int) {
	if count < 0 {
		count = 0
	}
	loadedDatabases.Set(float64(count))
}
