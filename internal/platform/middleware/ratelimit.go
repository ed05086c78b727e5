package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/carebook/scheduler/internal/platform/auth"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
	}
}

// limiterStore holds one token bucket per client key.
type limiterStore struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	cfg      RateLimitConfig
}

func (s *limiterStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.BurstSize)
		s.limiters[key] = l
	}
	return l
}

// clientKey prefers the authenticated caller over the remote address.
func clientKey(c echo.Context) string {
	if id, _ := auth.CallerFromContext(c.Request().Context()); id != "" {
		return "caller:" + id
	}
	return "ip:" + c.RealIP()
}

func limitHeader(cfg RateLimitConfig) string {
	return strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)
}

// RateLimit is an in-process token bucket limiter keyed by caller.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store := &limiterStore{limiters: make(map[string]*rate.Limiter), cfg: cfg}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set("X-RateLimit-Limit", limitHeader(cfg))
			r := store.get(clientKey(c)).Reserve()
			if delay := r.Delay(); delay > 0 {
				r.Cancel()
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(delay/time.Second)+1))
				c.Response().Header().Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// RedisRateLimit shares a one-second fixed window across instances. When
// Redis is unreachable requests are let through and the error is logged.
func RedisRateLimit(client redis.Scripter, cfg RateLimitConfig, logger zerolog.Logger) echo.MiddlewareFunc {
	limit := int64(cfg.RequestsPerSecond)
	if limit <= 0 {
		limit = 1
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set("X-RateLimit-Limit", limitHeader(cfg))
			window := time.Now().Unix()
			key := fmt.Sprintf("scheduler:rl:%s:%d", clientKey(c), window)

			count, err := incrWindow(c.Request().Context(), client, key)
			if err != nil {
				logger.Warn().Err(err).Msg("redis rate limiter error")
				return next(c)
			}
			if count > limit {
				c.Response().Header().Set("Retry-After", "1")
				c.Response().Header().Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			c.Response().Header().Set("X-RateLimit-Remaining", strconv.FormatInt(limit-count, 10))
			return next(c)
		}
	}
}

func incrWindow(ctx context.Context, client redis.Scripter, key string) (int64, error) {
	res, err := fixedWindowScript.Run(ctx, client, []string{key}, int64(time.Second/time.Millisecond)).Result()
	if err != nil {
		return 0, err
	}
	switch v := res.(type) {
	case int64:
		return v, nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected redis script result type %T", res)
	}
}
