package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector 汇总服务的 Prometheus 指标。nil Collector 的所有记录方法都是空操作。
type Collector struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	backendRequestsTotal   *prometheus.CounterVec
	backendRequestDuration *prometheus.HistogramVec
	backendTokens          *prometheus.CounterVec
	retryAttempts          *prometheus.CounterVec

	sessionsStarted    prometheus.Counter
	sessionTransitions *prometheus.CounterVec
	sessionOutcomes    *prometheus.CounterVec
	sessionIterations  prometheus.Histogram

	admissionActive prometheus.Gauge
	admissionQueued prometheus.Gauge

	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbQueryDuration   *prometheus.HistogramVec
}

// Option customises NewCollector.
type Option func(*collectorOptions)

type collectorOptions struct {
	reg prometheus.Registerer
}

// WithRegisterer registers the metrics on reg instead of the default
// registry served by promhttp.Handler.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *collectorOptions) { o.reg = reg }
}

var (
	sizeBuckets      = prometheus.ExponentialBuckets(100, 10, 8)
	backendBuckets   = []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600}
	iterationBuckets = []float64{1, 2, 3, 4, 5, 7, 10, 15, 20, 50}
)

// NewCollector registers every metric under namespace. Registering the
// same namespace twice on one registry panics.
func NewCollector(namespace string, logger *zap.Logger, opts ...Option) *Collector {
	o := collectorOptions{reg: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	f := promauto.With(o.reg)

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}
	histogram := func(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
		return f.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: name, Help: help, Buckets: buckets}, labels)
	}
	gauge := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return f.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}

	c := &Collector{
		httpRequestsTotal:   counter("http_requests_total", "HTTP requests by route and status class", "method", "path", "status"),
		httpRequestDuration: histogram("http_request_duration_seconds", "HTTP request latency", prometheus.DefBuckets, "method", "path"),
		httpRequestSize:     histogram("http_request_size_bytes", "HTTP request body size", sizeBuckets, "method", "path"),
		httpResponseSize:    histogram("http_response_size_bytes", "HTTP response body size", sizeBuckets, "method", "path"),

		backendRequestsTotal:   counter("backend_requests_total", "Generator and critic calls", "role", "backend", "model", "status"),
		backendRequestDuration: histogram("backend_request_duration_seconds", "Backend call duration, retries included", backendBuckets, "role", "backend"),
		backendTokens:          counter("backend_tokens_total", "Tokens exchanged with backends; type is prompt or completion", "role", "backend", "type"),
		retryAttempts:          counter("retry_attempts_total", "Retried backend attempts", "operation"),

		sessionsStarted: f.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "sessions_started_total", Help: "Sessions started"}),
		sessionTransitions: counter("session_state_transitions_total", "Session state transitions", "from_state", "to_state"),
		sessionOutcomes:    counter("session_outcomes_total", "Sessions reaching a holding state", "state", "reason"),
		sessionIterations: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "session_iterations",
			Help: "Review cycles completed when a session settles", Buckets: iterationBuckets,
		}),

		admissionActive: f.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "admission_active", Help: "Backend calls currently running"}),
		admissionQueued: f.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "admission_queued", Help: "Backend calls waiting for a slot"}),

		dbConnectionsOpen: gauge("db_connections_open", "Open database connections", "database"),
		dbConnectionsIdle: gauge("db_connections_idle", "Idle database connections", "database"),
		dbQueryDuration:   histogram("db_query_duration_seconds", "Database query duration", prometheus.DefBuckets, "database", "operation"),
	}

	if logger != nil {
		logger.Debug("metrics collector initialized", zap.String("component", "metrics"), zap.String("namespace", namespace))
	}
	return c
}

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// RecordBackendCall 记录一次生成或评审调用
func (c *Collector) RecordBackendCall(role, backend, model, status string, duration time.Duration, promptTokens, completionTokens int) {
	if c == nil {
		return
	}
	c.backendRequestsTotal.WithLabelValues(role, backend, model, status).Inc()
	c.backendRequestDuration.WithLabelValues(role, backend).Observe(duration.Seconds())
	c.backendTokens.WithLabelValues(role, backend, "prompt").Add(float64(promptTokens))
	c.backendTokens.WithLabelValues(role, backend, "completion").Add(float64(completionTokens))
}

// RecordRetry 记录一次重试
func (c *Collector) RecordRetry(operation string) {
	if c == nil {
		return
	}
	c.retryAttempts.WithLabelValues(operation).Inc()
}

// =============================================================================
// 🔁 会话指标记录
// =============================================================================

// RecordSessionStarted 记录新会话
func (c *Collector) RecordSessionStarted() {
	if c == nil {
		return
	}
	c.sessionsStarted.Inc()
}

// RecordStateTransition 记录会话状态转换
func (c *Collector) RecordStateTransition(fromState, toState string) {
	if c == nil {
		return
	}
	c.sessionTransitions.WithLabelValues(fromState, toState).Inc()
}

// RecordSessionOutcome 记录会话停留在 CONVERGED / ESCALATED / FAILED
func (c *Collector) RecordSessionOutcome(state, reason string, iterations int) {
	if c == nil {
		return
	}
	c.sessionOutcomes.WithLabelValues(state, reason).Inc()
	c.sessionIterations.Observe(float64(iterations))
}

// RecordAdmission 记录准入控制器的占用情况
func (c *Collector) RecordAdmission(active, queued int) {
	if c == nil {
		return
	}
	c.admissionActive.Set(float64(active))
	c.admissionQueued.Set(float64(queued))
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	if c == nil {
		return
	}
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBQuery 记录数据库查询
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	if c == nil {
		return
	}
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 按状态码类别聚合，避免 status 标签基数膨胀
func statusCode(code int) string {
	if code < 200 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
