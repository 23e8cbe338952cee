// internal/errors/classify.go
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// maxBodyInMessage bounds how much of a vendor error body ends up in a message.
const maxBodyInMessage = 300

// ClassifyHTTPStatus turns a non-2xx provider answer into a typed error.
// Timeouts, throttling and server errors are transient; every other 4xx
// (bad request, auth, insufficient balance, unknown model) is fatal.
func ClassifyHTTPStatus(provider string, status int, body string) *AppError {
	body = strings.TrimSpace(body)
	if len(body) > maxBodyInMessage {
		body = body[:maxBodyInMessage] + "..."
	}
	message := fmt.Sprintf("%s returned %d", provider, status)
	cause := fmt.Errorf("%s", body)
	if body == "" {
		cause = nil
	}

	switch {
	case status == http.StatusRequestTimeout,
		status == http.StatusTooEarly,
		status == http.StatusTooManyRequests,
		status >= 500:
		return NewTransientProviderError(message, cause)
	default:
		return NewFatalProviderError(message, cause)
	}
}

// ClassifyTransportError types a failure that happened before any HTTP status was read.
// Cancellation is returned unchanged so callers stop instead of retrying.
func ClassifyTransportError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if TypeOf(err) != "" {
		return err
	}

	// Deadlines, net.Error and bare connection failures (reset, EOF) are all retried.
	return NewTransientProviderError(fmt.Sprintf("%s request failed", provider), err)
}

// IsRetryable reports whether err should be retried against the same provider.
func IsRetryable(err error) bool {
	return IsTransientProviderError(err)
}
