package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sectorpulse"

// Registry 独立于默认注册表，测试中可以重复创建 handler 而不会冲突
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	UpstreamRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Requests sent to external content sources.",
		},
		[]string{"source", "status"},
	)

	SkippedRecords = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_records_total",
			Help:      "Upstream records dropped because they could not be parsed.",
		},
		[]string{"source"},
	)

	ExportedEvents = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exported_events_total",
			Help:      "Event records written to the export archive.",
		},
		[]string{"category", "sector"},
	)

	httpRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served.",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
}

// SkipHook 返回一个给 processor.SkipCounter 用的回调
func SkipHook(source string) func() {
	c := SkippedRecords.WithLabelValues(source)
	return func() { c.Inc() }
}

// Middleware 记录请求数与耗时；endpoint 使用路由模板，避免 sector 参数造成标签爆炸
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(c.Request.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}

// Handler 暴露 /metrics
func Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}
