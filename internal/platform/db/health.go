package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// ReadyCheck is a named dependency probe.
type ReadyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// PingCheck probes the database pool.
func PingCheck(pool *pgxpool.Pool) ReadyCheck {
	return ReadyCheck{Name: "postgres", Check: pool.Ping}
}

// HealthHandler runs every check and reports 503 if any fails.
func HealthHandler(pool *pgxpool.Pool, checks ...ReadyCheck) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		status, results := runChecks(ctx, checks)
		body := map[string]interface{}{
			"status": "healthy",
			"checks": results,
		}
		if pool != nil {
			body["pool"] = GetPoolStats(pool)
		}
		if status != http.StatusOK {
			body["status"] = "unhealthy"
		}
		return c.JSON(status, body)
	}
}

func runChecks(ctx context.Context, checks []ReadyCheck) (int, map[string]string) {
	status := http.StatusOK
	results := make(map[string]string, len(checks))
	for _, chk := range checks {
		if err := chk.Check(ctx); err != nil {
			results[chk.Name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[chk.Name] = "ok"
	}
	return status, results
}
