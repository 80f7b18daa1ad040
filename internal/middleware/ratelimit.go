package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const defaultMutationsPerMinute = 120

// MutationRateLimit caps wallet mutations per user identifier (or client IP
// when the body carries none) using a one-minute Redis counter.
func MutationRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = defaultMutationsPerMinute
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next() // no-op without Redis
		}
		key := "rl:wallet:" + rateLimitSubject(c)
		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			return c.Next() // fail-open on cache errors
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if cnt > int64(maxPerMin) {
			c.Set(fiber.HeaderRetryAfter, "60")
			return c.Status(http.StatusTooManyRequests).JSON(fiber.Map{
				"error": fiber.Map{"kind": "RateLimited", "message": "too many wallet updates, try again later"},
			})
		}
		return c.Next()
	}
}

// rateLimitSubject picks the bucket for a request. User and IP buckets carry
// distinct prefixes so a user identifier cannot collide with an address. An
// unparsable body falls back to the route parameter or the client IP; the
// handler rejects the body itself.
func rateLimitSubject(c *fiber.Ctx) string {
	var req struct {
		UserID string `json:"user_id"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			req.UserID = ""
		}
	}
	if id := strings.TrimSpace(req.UserID); id != "" {
		return "user:" + id
	}
	if id := strings.TrimSpace(c.Params("id")); id != "" {
		return "user:" + id
	}
	return "ip:" + c.IP()
}
