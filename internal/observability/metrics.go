package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/monsterhub/internal/permission"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 汇总服务暴露的 Prometheus 指标。
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	InteractionsTotal *prometheus.CounterVec
	ViewsTotal        *prometheus.CounterVec
}

// NewMetrics creates the metric set and registers it on registry.
// A nil registry gets a fresh one.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monsterhub_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "monsterhub_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		InteractionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monsterhub_interactions_total",
				Help: "Interaction ledger mutations by outcome",
			},
			[]string{"module", "action", "outcome"},
		),
		ViewsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monsterhub_views_total",
				Help: "Recorded content views; counted=false means a repeat view by the same user",
			},
			[]string{"module", "counted"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.InteractionsTotal,
		m.ViewsTotal,
	)

	return m
}

// InteractionRecorded 实现 service.InteractionObserver。
func (m *Metrics) InteractionRecorded(module permission.Module, action, outcome string) {
	m.InteractionsTotal.WithLabelValues(string(module), action, outcome).Inc()
}

// ViewRecorded 实现 service.InteractionObserver。
func (m *Metrics) ViewRecorded(module permission.Module, counted bool) {
	m.ViewsTotal.WithLabelValues(string(module), strconv.FormatBool(counted)).Inc()
}

// Middleware 统计每个请求。route 取 gin 的路由模板，避免 slug 造成标签爆炸。
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())

		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Handler 返回 /metrics 的处理器。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
