package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return rec
}

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), TelemetryConfig{TracingEnabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("unexpected shutdown error: %v", err)
	}
}

func TestTracingMiddleware_NamesSpanByRoute(t *testing.T) {
	rec := withRecorder(t)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments/123", nil)
	res := httptest.NewRecorder()
	c := e.NewContext(req, res)
	c.SetPath("/api/v1/appointments/:id")

	h := TracingMiddleware()(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "HTTP GET /api/v1/appointments/:id" {
		t.Errorf("unexpected span name %q", spans[0].Name())
	}
	if spans[0].Status().Code == codes.Error {
		t.Error("expected non-error status for 200")
	}
}

func TestTracingMiddleware_ErrorStatus(t *testing.T) {
	rec := withRecorder(t)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/staff/1/deactivate", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	h := TracingMiddleware()(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusInternalServerError, "cascade failed")
	})
	_ = h(c)

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("expected error status, got %v", spans[0].Status().Code)
	}
}

func TestEndSpan_RecordsError(t *testing.T) {
	rec := withRecorder(t)

	_, span := StartSpan(context.Background(), "lifecycle.DeactivateStaff")
	EndSpan(span, errors.New("boom"))

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Error("expected error status")
	}
	if len(spans[0].Events()) == 0 {
		t.Error("expected recorded error event")
	}
}
