package ratelimit

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Middleware limits requests per client IP for one route group. The name
// namespaces the counters so routes do not share a budget.
func Middleware(l Limiter, name string, limit int, win time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if l == nil || limit <= 0 {
			return c.Next()
		}
		d := l.Allow(name+":ip:"+c.IP(), limit, win)

		remaining := limit - d.Count
		if remaining < 0 {
			remaining = 0
		}
		c.Set("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !d.WindowEnd.IsZero() {
			c.Set("X-RateLimit-Reset", strconv.FormatInt(d.WindowEnd.Unix(), 10))
		}

		if !d.Allowed {
			retry := int(time.Until(d.WindowEnd).Seconds())
			if retry < 1 {
				retry = 1
			}
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retry))
			return fiber.NewError(fiber.StatusTooManyRequests, "Too many attempts, try again later")
		}
		return c.Next()
	}
}
