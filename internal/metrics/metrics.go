// Package metrics exposes Prometheus collectors for the HTTP surface and the
// outbound integrations.
package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var Registry = prometheus.NewRegistry()

var (
	factory = promauto.With(Registry)

	httpRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pal",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status.",
	}, []string{"method", "route", "status"})

	httpDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pal",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	SMSMessages = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pal",
		Name:      "sms_messages_total",
		Help:      "Outbound SMS by outcome (sent, failed, blocked).",
	}, []string{"outcome"})

	ContentGenerations = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pal",
		Name:      "content_generations_total",
		Help:      "AI content requests by kind and outcome (generated, cached, failed).",
	}, []string{"kind", "outcome"})

	GMBTokenRefreshes = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pal",
		Name:      "gmb_token_refreshes_total",
		Help:      "Google My Business token refreshes by outcome.",
	}, []string{"outcome"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Middleware records request count and latency labelled by the matched route
// pattern, not the raw path, to keep label cardinality bounded.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		route := c.Route().Path
		httpRequests.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())
		return err
	}
}

func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))
}
