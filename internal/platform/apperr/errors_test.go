package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestError_IsKind(t *testing.T) {
	err := fmt.Errorf("update appointment: %w", NotFound("appointment not found with ID %s", "abc"))
	if !errors.Is(err, ErrNotFound) {
		t.Error("expected wrapped error to match ErrNotFound")
	}
	if errors.Is(err, ErrAccessDenied) {
		t.Error("expected wrapped error not to match ErrAccessDenied")
	}
	if Message(err) != "appointment not found with ID abc" {
		t.Errorf("unexpected message %q", Message(err))
	}
}

func TestWrap_KeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(ErrCascadeFailure, cause, "cascade failed")
	if !errors.Is(err, ErrCascadeFailure) {
		t.Error("expected kind match")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable")
	}
	if err.Error() != "cascade failed: connection reset" {
		t.Errorf("unexpected error text %q", err.Error())
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{Validation("bad"), http.StatusBadRequest},
		{NotFound("missing"), http.StatusNotFound},
		{AccessDenied("no"), http.StatusForbidden},
		{SchedulingConflict("clash"), http.StatusConflict},
		{Conflict("dup"), http.StatusConflict},
		{Wrap(ErrCascadeFailure, nil, "partial"), http.StatusInternalServerError},
		{errors.New("store down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestMessage_HidesStoreErrors(t *testing.T) {
	if got := Message(errors.New("pq: password authentication failed")); got != "internal server error" {
		t.Errorf("expected generic message, got %q", got)
	}
}
