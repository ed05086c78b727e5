package main

import (
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/carebook/scheduler/internal/config"
	"github.com/carebook/scheduler/internal/domain/access"
	"github.com/carebook/scheduler/internal/domain/activity"
	"github.com/carebook/scheduler/internal/domain/appointment"
	"github.com/carebook/scheduler/internal/domain/directory"
	"github.com/carebook/scheduler/internal/domain/lifecycle"
	"github.com/carebook/scheduler/internal/platform/auth"
	"github.com/carebook/scheduler/internal/platform/db"
	"github.com/carebook/scheduler/internal/platform/lock"
	"github.com/carebook/scheduler/internal/platform/middleware"
	"github.com/carebook/scheduler/internal/platform/telemetry"
)

type services struct {
	mappings    directory.MappingRepository
	directory   *directory.Service
	appointment *appointment.Service
	lifecycle   *lifecycle.Service
	activity    *activity.Service
}

func newServices(pool *pgxpool.Pool, audit activity.Recorder, locker lock.Locker, logger zerolog.Logger) *services {
	staffRepo := directory.NewStaffRepoPG(pool)
	patientRepo := directory.NewPatientRepoPG(pool)
	branchRepo := directory.NewBranchRepoPG(pool)
	mappingRepo := directory.NewMappingRepoPG(pool)
	apptRepo := appointment.NewRepoPG(pool)
	tx := db.NewTransactor(pool)

	return &services{
		mappings:  mappingRepo,
		directory: directory.NewService(staffRepo, patientRepo, branchRepo, mappingRepo),
		appointment: appointment.NewService(appointment.Deps{
			Appointments: apptRepo,
			Staff:        staffRepo,
			Patients:     patientRepo,
			Branches:     branchRepo,
			Locker:       locker,
			Tx:           tx,
			Audit:        audit,
			Logger:       logger.With().Str("component", "appointment").Logger(),
		}),
		lifecycle: lifecycle.NewService(lifecycle.Deps{
			Staff:        staffRepo,
			Branches:     branchRepo,
			Mappings:     mappingRepo,
			Appointments: apptRepo,
			Tx:           tx,
			Locker:       locker,
			Audit:        audit,
			Logger:       logger.With().Str("component", "lifecycle").Logger(),
		}),
		activity: activity.NewService(activity.NewRepoPG(pool)),
	}
}

func jwtConfig(cfg *config.Config) auth.JWTConfig {
	return auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
	}
}

// newPublisher returns the kafka audit publisher, or nil when no brokers are
// configured. The returned func closes the writer.
func newPublisher(cfg *config.Config, logger zerolog.Logger) (activity.Publisher, func()) {
	if !cfg.KafkaEnabled() {
		return nil, func() {}
	}
	p := activity.NewKafkaPublisher(cfg.KafkaBrokers, cfg.AuditTopic, logger.With().Str("component", "audit-publisher").Logger())
	return p, func() { _ = p.Close() }
}

// newLocker picks the scheduling lock backend. Acquisition gives up after
// LOCK_TTL, which callers report as a scheduling conflict.
func newLocker(cfg *config.Config, rdb *redis.Client, logger zerolog.Logger) lock.Locker {
	var l lock.Locker
	switch cfg.LockBackend {
	case config.LockBackendMemory:
		l = lock.NewMemory()
	case config.LockBackendRedis:
		l = lock.NewRedis(rdb, cfg.LockTTL, logger)
	default:
		l = lock.NewPostgres()
	}
	return lock.WithWait(l, cfg.LockTTL)
}

// openRedis returns nil when REDIS_URL is unset.
func openRedis(cfg *config.Config) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return redis.NewClient(opt), nil
}

func newServer(cfg *config.Config, svc *services, rdb *redis.Client, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(telemetry.TracingMiddleware())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, auth.CallerIDHeader, auth.CallerRoleHeader},
	}))

	apiV1 := e.Group("/api/v1")

	// Auth middleware
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware(jwtConfig(cfg)))
	} else {
		apiV1.Use(auth.JWTMiddleware(jwtConfig(cfg)))
	}

	// Rate limiting, keyed by the authenticated caller
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rdb != nil {
		apiV1.Use(middleware.RedisRateLimit(rdb, rateLimitCfg, logger))
	} else {
		apiV1.Use(middleware.RateLimit(rateLimitCfg))
	}

	apiV1.Use(access.CallerMiddleware(access.NewResolver(svc.mappings)))

	directory.NewHandler(svc.directory).RegisterRoutes(apiV1)
	appointment.NewHandler(svc.appointment).RegisterRoutes(apiV1)
	lifecycle.NewHandler(svc.lifecycle).RegisterRoutes(apiV1)
	activity.NewHandler(svc.activity).RegisterRoutes(apiV1)

	return e
}
