package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	cartItemsAddedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cart_items_added_total",
			Help: "Total number of add-to-cart requests by outcome",
		},
		[]string{"outcome"},
	)

	checkoutAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cart_checkout_attempts_total",
			Help: "Total number of checkout attempts by payment provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	ordersFinalizedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cart_orders_finalized_total",
			Help: "Total number of finalized orders",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(cartItemsAddedTotal)
	prometheus.MustRegister(checkoutAttemptsTotal)
	prometheus.MustRegister(ordersFinalizedTotal)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

// RecordItemAdded counts an add-to-cart request. Outcome is one of added, duplicate or owned.
func RecordItemAdded(outcome string) {
	cartItemsAddedTotal.WithLabelValues(outcome).Inc()
}

func RecordCheckout(provider, outcome string) {
	checkoutAttemptsTotal.WithLabelValues(provider, outcome).Inc()
}

func RecordOrderFinalized() {
	ordersFinalizedTotal.Inc()
}
