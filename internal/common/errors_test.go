package common

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestRetryableWrapping(t *testing.T) {
	base := errors.New("connection blocked")
	err := fmt.Errorf("publish: %w", Retryable(base))
	if !IsRetryable(err) {
		t.Fatal("expected retryable")
	}
	if !errors.Is(err, base) {
		t.Fatal("expected original cause to be preserved")
	}
	if IsRetryable(base) {
		t.Fatal("plain error must not be retryable")
	}
	if Retryable(nil) != nil {
		t.Fatal("Retryable(nil) must be nil")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{NewAppError("VALIDATION_ERROR", "bad", ErrInvalidInput), http.StatusBadRequest},
		{WrapError(ErrNotFound, "document"), http.StatusNotFound},
		{ErrAccessDenied, http.StatusForbidden},
		{ErrUnauthorized, http.StatusUnauthorized},
		{ErrRateLimited, http.StatusTooManyRequests},
		{Retryable(errors.New("x")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestPublicMessageHidesInternals(t *testing.T) {
	if got := PublicMessage(errors.New("pq: password auth failed")); got != "internal error" {
		t.Fatalf("leaked internal error: %q", got)
	}
	if got := PublicMessage(NewAppError("FORBIDDEN", "not your document", ErrAccessDenied)); got != "not your document" {
		t.Fatalf("unexpected message %q", got)
	}
}
