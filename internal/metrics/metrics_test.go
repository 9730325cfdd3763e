package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareCountsByRoute(t *testing.T) {
	app := fiber.New()
	app.Use(Middleware())
	app.Get("/jobs/:id", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/boom", func(c *fiber.Ctx) error { return fiber.NewError(fiber.StatusTeapot, "no") })
	app.Get("/metrics", Handler())

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/jobs/:id", "200"))
	for _, p := range []string{"/jobs/1", "/jobs/2"} {
		_, err := app.Test(httptest.NewRequest("GET", p, nil))
		require.NoError(t, err)
	}
	assert.Equal(t, before+2, testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/jobs/:id", "200")))

	_, err := app.Test(httptest.NewRequest("GET", "/boom", nil))
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/boom", "418")))

	SMSMessages.WithLabelValues("sent").Inc()
	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(raw), "pal_http_requests_total")
	assert.Contains(t, string(raw), `pal_sms_messages_total{outcome="sent"}`)
}
