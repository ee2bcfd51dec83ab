package middleware

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"

	"studentdocs/internal/config"
)

// maxLimiterEntries bounds the per-caller table; it is reset when exceeded.
const maxLimiterEntries = 10000

// RateLimit allows each caller cfg.RPS requests per second with bursts of cfg.Burst.
// Callers are keyed by identity when one is present, else by client IP.
func RateLimit(cfg config.RateLimitConfig) fiber.Handler {
	if !cfg.Enabled || cfg.RPS <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}

	var (
		mu       sync.Mutex
		limiters = map[string]*rate.Limiter{}
	)
	limiterFor := func(key string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()

		if l, ok := limiters[key]; ok {
			return l
		}
		if len(limiters) >= maxLimiterEntries {
			limiters = map[string]*rate.Limiter{}
		}
		l := rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst)
		limiters[key] = l
		return l
	}

	return func(c *fiber.Ctx) error {
		key := "ip:" + c.IP()
		if id, ok := IdentityFrom(c); ok {
			key = "user:" + id.UserID
		}
		if !limiterFor(key).Allow() {
			c.Set(fiber.HeaderRetryAfter, "1")
			return fiber.NewError(fiber.StatusTooManyRequests, "rate limit exceeded")
		}
		return c.Next()
	}
}
