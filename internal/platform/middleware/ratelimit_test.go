package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/carebook/scheduler/internal/platform/auth"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func serve(t *testing.T, e *echo.Echo, h echo.HandlerFunc, callerID string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if callerID != "" {
		req = req.WithContext(auth.WithCaller(req.Context(), callerID, "doctor"))
	}
	rec := httptest.NewRecorder()
	return rec, h(e.NewContext(req, rec))
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func expectTooMany(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error for rate-limited request")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", httpErr.Code)
	}
}

func TestRateLimit_RequestsWithinLimit(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})(okHandler)

	for i := 0; i < 5; i++ {
		rec, err := serve(t, e, h, "")
		if err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
			t.Errorf("request %d: expected X-RateLimit-Limit '10', got %q", i+1, got)
		}
	}
}

func TestRateLimit_ExceedsLimit(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})(okHandler)

	for i := 0; i < 2; i++ {
		if _, err := serve(t, e, h, ""); err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
	}

	rec, err := serve(t, e, h, "")
	expectTooMany(t, err)

	retryVal, parseErr := strconv.Atoi(rec.Header().Get("Retry-After"))
	if parseErr != nil {
		t.Fatalf("Retry-After header is not a valid integer: %q", rec.Header().Get("Retry-After"))
	}
	if retryVal < 1 {
		t.Errorf("expected Retry-After >= 1, got %d", retryVal)
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("expected X-RateLimit-Remaining '0', got %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimit_PerCallerIsolation(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})(okHandler)

	if _, err := serve(t, e, h, "caller-a"); err != nil {
		t.Fatalf("caller-a first request: expected no error, got %v", err)
	}
	_, err := serve(t, e, h, "caller-a")
	expectTooMany(t, err)

	if _, err := serve(t, e, h, "caller-b"); err != nil {
		t.Fatalf("caller-b first request: expected no error, got %v", err)
	}
}

func TestRateLimit_DefaultConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond != 100 {
		t.Errorf("expected RequestsPerSecond 100, got %f", cfg.RequestsPerSecond)
	}
	if cfg.BurstSize != 200 {
		t.Errorf("expected BurstSize 200, got %d", cfg.BurstSize)
	}
}

// fakeScripter counts script invocations per key.
type fakeScripter struct {
	redis.Scripter
	counts map[string]int64
	err    error
}

func (f *fakeScripter) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	if f.err != nil {
		return redis.NewCmdResult(nil, f.err)
	}
	f.counts[keys[0]]++
	return redis.NewCmdResult(f.counts[keys[0]], nil)
}

func TestRedisRateLimit_Limits(t *testing.T) {
	e := echo.New()
	fake := &fakeScripter{counts: make(map[string]int64)}
	h := RedisRateLimit(fake, RateLimitConfig{RequestsPerSecond: 2, BurstSize: 2}, zerolog.Nop())(okHandler)

	// Requests may straddle a second boundary; allow for one window rollover.
	limited := false
	for i := 0; i < 6; i++ {
		if _, err := serve(t, e, h, "caller-a"); err != nil {
			expectTooMany(t, err)
			limited = true
		}
	}
	if !limited {
		t.Error("expected at least one request to be limited")
	}
}

func TestRedisRateLimit_FailsOpen(t *testing.T) {
	e := echo.New()
	fake := &fakeScripter{counts: make(map[string]int64), err: errors.New("connection refused")}
	h := RedisRateLimit(fake, RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1}, zerolog.Nop())(okHandler)

	for i := 0; i < 3; i++ {
		if _, err := serve(t, e, h, "caller-a"); err != nil {
			t.Fatalf("expected request to pass when redis fails, got %v", err)
		}
	}
}
