package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 生命周期操作计数
	LifecycleOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crowdfund_operations_total",
			Help: "Lifecycle engine calls by operation and outcome",
		},
		[]string{"operation", "outcome"}, // outcome: ok 或错误类别
	)

	// 产品状态迁移计数
	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crowdfund_status_transitions_total",
			Help: "Product status transitions",
		},
		[]string{"from", "to"},
	)

	// 累计出资金额（最小货币单位）
	ContributedAmount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crowdfund_contributed_amount_total",
			Help: "Sum of all accepted contribution amounts in the smallest currency unit",
		},
	)

	// 支付网关调用
	PaymentCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crowdfund_payment_calls_total",
			Help: "Payment gateway calls by kind and status",
		},
		[]string{"kind", "status"}, // kind: transfer, credential
	)

	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation"},
	)

	// 慢查询计数
	SlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Number of queries slower than the configured threshold",
		},
		[]string{"operation"},
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

	// Outbox 发布计数
	OutboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_events_published_total",
			Help: "Outbox events handed to the broker",
		},
		[]string{"routing_key", "status"},
	)

	// 自动退款扫描
	RefundSweeps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crowdfund_refund_sweeps_total",
			Help: "Refunds triggered by the deadline sweeper",
		},
		[]string{"status"},
	)
)

// RecordOperation 记录一次生命周期调用结果
func RecordOperation(operation, outcome string) {
	LifecycleOperations.WithLabelValues(operation, outcome).Inc()
}

// RecordTransition 记录产品状态迁移
func RecordTransition(from, to string) {
	StatusTransitions.WithLabelValues(from, to).Inc()
}

// AddContributed 累加出资金额
func AddContributed(amount uint64) {
	ContributedAmount.Add(float64(amount))
}

// RecordPaymentCall 记录支付网关调用
func RecordPaymentCall(kind, status string) {
	PaymentCalls.WithLabelValues(kind, status).Inc()
}

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// IncrementSlowQuery 增加慢查询计数
func IncrementSlowQuery(operation string) {
	SlowQueryCount.WithLabelValues(operation).Inc()
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordOutboxPublish 记录 outbox 发布结果
func RecordOutboxPublish(routingKey, status string) {
	OutboxPublished.WithLabelValues(routingKey, status).Inc()
}

// RecordRefundSweep 记录扫描器触发的退款
func RecordRefundSweep(status string) {
	RefundSweeps.WithLabelValues(status).Inc()
}
