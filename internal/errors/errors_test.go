package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestPredicatesSeeThroughWrapping(t *testing.T) {
	base := NewContentError("chapter too short", nil)
	wrapped := fmt.Errorf("generate script: %w", base)

	if !IsContentError(wrapped) {
		t.Errorf("Expected wrapped content error to be detected")
	}
	if IsPersistenceError(wrapped) {
		t.Errorf("Content error reported as persistence error")
	}
	if base.Code != "CONTENT_ERROR" {
		t.Errorf("Expected code CONTENT_ERROR, got %s", base.Code)
	}
}

func TestWrapErrorKeepsType(t *testing.T) {
	err := WrapError(NewNotFoundError("chapter 4", nil), "read source", ErrorTypeError)
	if !IsNotFoundError(err) {
		t.Errorf("Expected not found type to survive wrapping, got %s", TypeOf(err))
	}

	plain := WrapError(errors.New("disk full"), "save progress", ErrorTypePersistence)
	if !IsPersistenceError(plain) {
		t.Errorf("Expected plain error to take the given type")
	}

	if WrapError(nil, "x", ErrorTypeError) != nil {
		t.Errorf("Expected nil for nil input")
	}
}

func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusRequestTimeout, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusPaymentRequired, false},
		{http.StatusForbidden, false},
		{http.StatusUnprocessableEntity, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := ClassifyHTTPStatus("runway", tt.status, `{"error":"x"}`)
			if IsTransientProviderError(err) != tt.transient {
				t.Errorf("status %d: transient=%v, want %v", tt.status, IsTransientProviderError(err), tt.transient)
			}
			if !tt.transient && !IsFatalProviderError(err) {
				t.Errorf("status %d: expected fatal", tt.status)
			}
		})
	}
}

func TestClassifyTransportError(t *testing.T) {
	if err := ClassifyTransportError("pika", context.Canceled); !errors.Is(err, context.Canceled) || IsRetryable(err) {
		t.Errorf("Cancellation must pass through untyped, got %v", err)
	}
	if err := ClassifyTransportError("pika", context.DeadlineExceeded); !IsRetryable(err) {
		t.Errorf("Deadline should be retryable, got %v", err)
	}
	fatal := NewFatalProviderError("bad key", nil)
	if err := ClassifyTransportError("pika", fatal); !IsFatalProviderError(err) {
		t.Errorf("Typed errors must be kept, got %v", err)
	}
}
