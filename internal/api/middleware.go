package api

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fathima-sithara/messaging-service/internal/auth"
	"github.com/fathima-sithara/messaging-service/internal/domain"
)

// Auth requires a valid bearer token. With allowQuery the token may also come from ?token=,
// which browsers need for websocket upgrades.
func Auth(tokens TokenValidator, allowQuery bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := ""
		if h := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		} else if allowQuery {
			token = c.Query("token")
		}
		if token == "" {
			return fmt.Errorf("%w: missing token", domain.ErrUnauthorized)
		}
		id, err := tokens.Validate(token)
		if err != nil {
			return err
		}
		c.Locals(auth.LocalsIdentity, id)
		return c.Next()
	}
}

func requestLogger(logger *zap.SugaredLogger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		if err != nil {
			status = statusFor(err)
		}
		logger.Debugw("request",
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"latency", time.Since(start),
		)
		return err
	}
}

func rateKey(c *fiber.Ctx) string {
	if id, ok := auth.Identity(c); ok {
		return "user:" + id.UserID
	}
	return "ip:" + c.IP()
}

// fixedWindow increments the counter and makes sure it carries an expiry in one step.
// It returns the count and the remaining window in milliseconds.
var fixedWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// RedisRateLimiter counts requests per caller in fixed windows shared by every node.
type RedisRateLimiter struct {
	rdb    *redis.Client
	prefix string
	limit  int
	window time.Duration
	logger *zap.SugaredLogger
}

func NewRedisRateLimiter(rdb *redis.Client, prefix string, limit int, window time.Duration, logger *zap.SugaredLogger) *RedisRateLimiter {
	return &RedisRateLimiter{rdb: rdb, prefix: prefix, limit: limit, window: window, logger: logger}
}

// hit records one request for key and returns the window count and time left.
func (r *RedisRateLimiter) hit(ctx context.Context, key string) (int64, time.Duration, error) {
	res, err := fixedWindow.Run(ctx, r.rdb, []string{key}, r.window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("unexpected rate limit reply %v", res)
	}
	return res[0], time.Duration(res[1]) * time.Millisecond, nil
}

func (r *RedisRateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), time.Second)
		defer cancel()
		key := fmt.Sprintf("%s:ratelimit:%s", r.prefix, rateKey(c))

		count, ttl, err := r.hit(ctx, key)
		if err != nil {
			// fail open
			r.logger.Warnw("rate limiter unavailable", "err", err)
			return c.Next()
		}

		remaining := max(int64(r.limit)-count, 0)
		c.Set("X-RateLimit-Limit", strconv.Itoa(r.limit))
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		if count > int64(r.limit) {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(ttl.Round(time.Second).Seconds())))
			return fmt.Errorf("%w: too many requests, try again later", domain.ErrRateLimited)
		}
		return c.Next()
	}
}

// MemoryRateLimiter is the single-node fallback used when no Redis is configured.
func MemoryRateLimiter(limit int, window time.Duration) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:          limit,
		Expiration:   window,
		KeyGenerator: rateKey,
		LimitReached: func(c *fiber.Ctx) error {
			return fmt.Errorf("%w: too many requests, try again later", domain.ErrRateLimited)
		},
	})
}
