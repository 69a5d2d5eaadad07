package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	// Agent 调用延迟（毫秒）
	AgentCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agent_call_latency_ms",
			Help:    "Model gateway call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"endpoint", "status"},
	)

	StoreOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "record_store_op_duration_seconds",
			Help:    "Record store operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"operation", "kind"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// outcome: forwarded, terminal, dropped, duplicate, error ...
	StageMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_messages_total",
			Help: "Messages handled by each pipeline stage, by outcome",
		},
		[]string{"stage", "outcome"},
	)

	EmailCategorized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_categorized_total",
			Help: "Emails categorized, by category",
		},
		[]string{"category"},
	)

	// 慢查询计数
	SlowQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_queries_total",
			Help: "Database queries slower than the configured threshold",
		},
		[]string{"sql"},
	)

	DeadLetters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mq_dead_letters_total",
			Help: "Messages moved to the dead letter exchange",
		},
		[]string{"routing_key"},
	)
)

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// RecordAgentCallLatency 记录 Agent 调用延迟
func RecordAgentCallLatency(endpoint, status string, duration time.Duration) {
	AgentCallLatency.WithLabelValues(endpoint, status).Observe(float64(duration.Milliseconds()))
}

func RecordStoreOpDuration(operation, kind string, duration time.Duration) {
	StoreOpDuration.WithLabelValues(operation, kind).Observe(duration.Seconds())
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func IncrementStageMessage(stage, outcome string) {
	StageMessages.WithLabelValues(stage, outcome).Inc()
}

func IncrementEmailCategorized(category string) {
	EmailCategorized.WithLabelValues(category).Inc()
}

func IncrementDeadLetter(routingKey string) {
	DeadLetters.WithLabelValues(routingKey).Inc()
}

// IncrementSlowQuery counts a slow query. sql should already be truncated.
func IncrementSlowQuery(sql string, _ time.Duration) {
	SlowQueries.WithLabelValues(sql).Inc()
}
