package apperrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestValidation(t *testing.T) {
	t.Parallel()
	err := Validation("calibrateId", "calibrate ID is required")

	if !errors.Is(err, ErrValidation) {
		t.Error("expected error to match ErrValidation")
	}
	if err.Error() != "calibrate ID is required" {
		t.Errorf("expected message 'calibrate ID is required', got %q", err.Error())
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Field != "calibrateId" {
		t.Errorf("expected field 'calibrateId', got %q", appErr.Field)
	}
}

func TestNotFound(t *testing.T) {
	t.Parallel()
	err := NotFound("upload session", "abc123")

	if !errors.Is(err, ErrNotFound) {
		t.Error("expected error to match ErrNotFound")
	}
	if err.Error() != "upload session abc123 not found" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestConflict(t *testing.T) {
	t.Parallel()
	err := Conflict("download", "summary", "download already in progress")

	if !errors.Is(err, ErrConflict) {
		t.Error("expected error to match ErrConflict")
	}
	if err.Error() != "download already in progress" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestInternal(t *testing.T) {
	t.Parallel()
	cause := fmt.Errorf("connection refused")
	err := Internal("archive.upload", cause)

	if !errors.Is(err, ErrInternal) {
		t.Error("expected error to match ErrInternal")
	}
	if err.Error() != "archive.upload: connection refused" {
		t.Errorf("unexpected message: %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable through errors.Is")
	}
}

func TestWrap(t *testing.T) {
	t.Parallel()
	errSubmit := errors.New("submission error")
	cause := errors.New("HTTP 500: server exploded")

	err := Wrap(errSubmit, "backend.submit", cause)
	if !errors.Is(err, errSubmit) {
		t.Error("expected error to match caller sentinel")
	}
	if !errors.Is(err, cause) {
		t.Error("expected error to match cause")
	}
	if err.Error() != cause.Error() {
		t.Errorf("expected cause message, got %q", err.Error())
	}
	if SentinelOf(err) != errSubmit {
		t.Errorf("SentinelOf() = %v, want %v", SentinelOf(err), errSubmit)
	}

	bare := Wrap(errSubmit, "op", nil)
	if bare.Error() != "submission error" {
		t.Errorf("expected sentinel message without cause, got %q", bare.Error())
	}
}

func TestSentinelOf_Plain(t *testing.T) {
	t.Parallel()
	if got := SentinelOf(errors.New("plain")); got != nil {
		t.Errorf("expected nil sentinel for plain error, got %v", got)
	}
	if got := SentinelOf(fmt.Errorf("ctx: %w", NotFound("x", "1"))); got != ErrNotFound {
		t.Errorf("expected ErrNotFound through wrapping, got %v", got)
	}
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"validation", Validation("id", "required"), http.StatusBadRequest},
		{"not found", NotFound("download", "123"), http.StatusNotFound},
		{"conflict", Conflict("download", "123", "exists"), http.StatusConflict},
		{"internal", Internal("op", fmt.Errorf("fail")), http.StatusInternalServerError},
		{"upstream", Upstream("backend.status", fmt.Errorf("HTTP 503")), http.StatusBadGateway},
		{"sentinel upstream", ErrUpstream, http.StatusBadGateway},
		{"wrapped validation", fmt.Errorf("wrap: %w", Validation("f", "m")), http.StatusBadRequest},
		{"deadline", fmt.Errorf("await summary: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"deadline inside upstream", Upstream("backend.status", context.DeadlineExceeded), http.StatusBadGateway},
		{"unknown error", fmt.Errorf("unknown"), http.StatusInternalServerError},
		{"nil error", nil, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := HTTPStatus(tt.err)
			if got != tt.expected {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestResponseBody(t *testing.T) {
	t.Parallel()

	b := ResponseBody(fmt.Errorf("prepare: %w", Validation("calibrateId", "calibrate ID is required")))
	if b.Code != CodeValidation || b.Field != "calibrateId" || b.Error != "prepare: calibrate ID is required" {
		t.Errorf("Unexpected body %+v", b)
	}

	b = ResponseBody(NotFound("upload session", "abc"))
	if b.Code != CodeNotFound || b.Field != "" {
		t.Errorf("Unexpected body %+v", b)
	}

	b = ResponseBody(errors.New("boom"))
	if b.Code != CodeInternal {
		t.Errorf("Expected internal code, got %+v", b)
	}
}
