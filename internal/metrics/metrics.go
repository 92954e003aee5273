package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dropshare_http_requests_total",
		Help: "HTTP requests by route, method and status",
	}, []string{"route", "method", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dropshare_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	// FallbackTotal 主后端失败后转向本地回退后端的次数
	FallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dropshare_metadata_fallback_total",
		Help: "Metadata operations served by the fallback backend after a primary failure",
	}, []string{"op"})

	SweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dropshare_sweep_runs_total",
		Help: "Expiry sweep runs",
	})

	SweepDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dropshare_sweep_deleted_total",
		Help: "Records deleted by the expiry sweep",
	})

	SweepErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dropshare_sweep_errors_total",
		Help: "Per-record failures during the expiry sweep",
	})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dropshare_sweep_duration_seconds",
		Help:    "Expiry sweep duration",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})

	LazyExpiryTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dropshare_lazy_expiry_total",
		Help: "Expired records detected on the read path",
	})

	RateLimitDeniedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dropshare_ratelimit_denied_total",
		Help: "Requests rejected by the rate limiter",
	}, []string{"scope"})

	LegacyRehashTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dropshare_legacy_password_rehash_total",
		Help: "Legacy plaintext passwords upgraded to bcrypt",
	})
)

// Register attaches the Prometheus metrics endpoint to the router.
func Register(router *gin.Engine, path string) {
	router.GET(path, gin.WrapH(promhttp.Handler()))
}

// Middleware records request count and latency per route template.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		httpRequestsTotal.WithLabelValues(route, method, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
	}
}
