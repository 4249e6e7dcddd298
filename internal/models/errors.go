package models

import (
	"context"
	"errors"
)

// Pipeline errors. Callers match them with errors.Is.
var (
	// ErrDocumentUnreadable means the payload is not a readable PDF.
	ErrDocumentUnreadable = errors.New("document unreadable")

	// ErrDocumentEmpty means no page produced any text, OCR included.
	ErrDocumentEmpty = errors.New("document empty")

	// ErrTransientProvider is a retryable provider failure (timeout, rate limit, 5xx).
	ErrTransientProvider = errors.New("transient provider error")

	// ErrFatalProvider is a provider rejection that retrying cannot fix
	// (authentication, quota exhaustion, malformed input).
	ErrFatalProvider = errors.New("fatal provider error")

	// ErrQueryFailed wraps any failure on the retrieval side of a query.
	ErrQueryFailed = errors.New("query failed")

	// ErrGenerationFailed wraps any failure of the generative call.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrStorageUnavailable is a transient object storage failure.
	ErrStorageUnavailable = errors.New("storage unavailable")

	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrReceiveTimeout means a queue receive hit its upper bound with no message.
	ErrReceiveTimeout = errors.New("queue receive timeout")
)

// IsTransient reports whether err is worth another attempt at job level.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrFatalProvider) || errors.Is(err, ErrDocumentUnreadable) ||
		errors.Is(err, ErrDocumentEmpty) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrDimensionMismatch) {
		return false
	}
	return errors.Is(err, ErrTransientProvider) ||
		errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}
