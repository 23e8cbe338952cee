// internal/api/error_codes.go
package api

import (
	"context"
	"errors"
	"net/http"

	apperrors "github.com/Corphon/StoryReel/internal/errors"
)

// API error codes
const (
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"
	ErrorRateLimited   = "RATE_LIMIT_EXCEEDED"

	// Script review
	ErrorScriptNotFound    = "SCRIPT_NOT_FOUND"
	ErrorScriptInvalid     = "SCRIPT_INVALID"
	ErrorScriptNotDraft    = "SCRIPT_NOT_DRAFT"
	ErrorContentUnsuitable = "CONTENT_UNSUITABLE"

	// Generation
	ErrorChapterNotFound    = "CHAPTER_NOT_FOUND"
	ErrorChapterRunning     = "CHAPTER_RUNNING"
	ErrorChapterNotRunning  = "CHAPTER_NOT_RUNNING"
	ErrorArtifactNotFound   = "ARTIFACT_NOT_FOUND"
	ErrorProvidersExhausted = "PROVIDERS_EXHAUSTED"
	ErrorPersistenceFailed  = "PERSISTENCE_FAILED"
	ErrorTimeout            = "TIMEOUT"
)

// statusForError maps an error onto an HTTP status and API error code.
func statusForError(err error) (int, string) {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, ErrorTimeout
	}

	switch apperrors.TypeOf(err) {
	case apperrors.ErrorTypeValidation:
		return http.StatusBadRequest, ErrorScriptInvalid
	case apperrors.ErrorTypeNotFound:
		return http.StatusNotFound, ErrorNotFound
	case apperrors.ErrorTypeConflict:
		return http.StatusConflict, ErrorConflict
	case apperrors.ErrorTypeContent:
		return http.StatusUnprocessableEntity, ErrorContentUnsuitable
	case apperrors.ErrorTypeTimeout:
		return http.StatusGatewayTimeout, ErrorTimeout
	case apperrors.ErrorTypeProvidersExhausted:
		return http.StatusBadGateway, ErrorProvidersExhausted
	case apperrors.ErrorTypeTransientProvider, apperrors.ErrorTypeFatalProvider:
		return http.StatusBadGateway, ErrorInternalError
	case apperrors.ErrorTypePersistence:
		return http.StatusInternalServerError, ErrorPersistenceFailed
	default:
		return http.StatusInternalServerError, ErrorInternalError
	}
}
