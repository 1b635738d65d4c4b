package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const submitRatePrefix = "stakeflow:rl:submit:"

// SubmitRateLimit caps write submissions per subject per minute in Redis so
// every instance shares the counter. subject names the caller, typically the
// connected account; it falls back to the client IP when empty. Without Redis,
// or when Redis errors, requests pass.
func SubmitRateLimit(cache *redis.Client, maxPerMin int, subject func(*fiber.Ctx) string, logger *slog.Logger) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 10
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		who := ""
		if subject != nil {
			who = subject(c)
		}
		if who == "" {
			who = c.IP()
		}
		key := submitRatePrefix + who

		count, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			logger.Warn("submit rate limit unavailable", slog.String("subject", who), slog.Any("error", err))
			return c.Next()
		}
		if count == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if count > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "too many submissions, try again later")
		}
		return c.Next()
	}
}
