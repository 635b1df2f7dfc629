package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/amirphl/evoteli/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const unmatchedRoute = "unmatched"

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: utils.MetricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "API requests partitioned by method, route template and status",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: utils.MetricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "API request latencies in seconds",
			// exports and property searches run long
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route", "status"},
	)

	httpInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: utils.MetricsNamespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "API requests currently being served",
		},
	)
)

// Metrics records request counts and latencies. Requests that match no
// route share one label so scans of random paths cannot grow the series set.
func Metrics() fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		err := c.Next()

		labels := prometheus.Labels{
			"method": c.Method(),
			"route":  routeLabel(c),
			"status": strconv.Itoa(statusOf(c, err)),
		}
		httpRequestsTotal.With(labels).Inc()
		httpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
		return err
	}
}

func routeLabel(c fiber.Ctx) string {
	r := c.Route()
	if r == nil || r.Path == "" || r.Path == "/" && c.Path() != "/" {
		return unmatchedRoute
	}
	return r.Path
}

// statusOf reports the status the error handler will write for err.
func statusOf(c fiber.Ctx, err error) int {
	if err == nil {
		return c.Response().StatusCode()
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return fiber.StatusInternalServerError
}
