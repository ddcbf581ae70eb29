package errhandling

import (
	"errors"
	"fmt"
)

// Kind identifies one of the named error conditions the orchestration engine
// surfaces to callers and to the self-healing coordinator. Each Kind maps to
// an ErrorCategory so IsRetryable/IsFatal keep working uniformly across both
// layers.
type Kind string

const (
	KindApiCallError          Kind = "API_CALL_ERROR"
	KindAbortError            Kind = "ABORT_ERROR"
	KindPaginationConfigError Kind = "PAGINATION_CONFIG_ERROR"
	KindStopConditionError    Kind = "STOP_CONDITION_ERROR"
	KindHtmlResponseError     Kind = "HTML_RESPONSE_ERROR"
	KindRateLimitExceeded     Kind = "RATE_LIMIT_EXCEEDED"
	KindTokenRefreshFailed    Kind = "TOKEN_REFRESH_FAILED"
	KindDatastoreError        Kind = "DATASTORE_ERROR"
	KindTimeoutError          Kind = "TIMEOUT_ERROR"
)

// KindError is a ClassifiedError tagged with one of the named Kinds above.
// It is the concrete error type returned by the caller, pagination, step
// executor, self-healing, OAuth, and datastore components.
type KindError struct {
	*ClassifiedError
	ErrKind Kind
}

func (e *KindError) Error() string {
	return fmt.Sprintf("%s: %s", e.ErrKind, e.ClassifiedError.Error())
}

func (e *KindError) Unwrap() error {
	return e.ClassifiedError
}

func newKindError(kind Kind, category ErrorCategory, retryable bool, statusCode int, message string, originalErr error) *KindError {
	return &KindError{
		ClassifiedError: &ClassifiedError{
			Category:    category,
			Retryable:   retryable,
			StatusCode:  statusCode,
			Message:     message,
			OriginalErr: originalErr,
		},
		ErrKind: kind,
	}
}

// ApiCallError wraps a non-2xx HTTP or Postgres call failure, classified by
// the status code the way ClassifyHTTPStatus already does.
func ApiCallError(statusCode int, message string, originalErr error) *KindError {
	classified := ClassifyHTTPStatus(statusCode, message)
	if message != "" {
		classified.Message = message
	}
	return &KindError{ClassifiedError: classified, ErrKind: KindApiCallError}
}

// AbortError signals a fatal, non-retryable failure raised explicitly by a
// step, by the self-healing coordinator giving up, or by a stopCondition
// expression that errors rather than evaluating to a boolean.
func AbortError(message string, originalErr error) *KindError {
	return newKindError(KindAbortError, CategoryValidation, false, 0, message, originalErr)
}

// PaginationConfigError signals that the pagination state machine detected a
// misconfiguration (e.g. two identical non-empty first pages) rather than a
// transient fetch failure.
func PaginationConfigError(message string) *KindError {
	return newKindError(KindPaginationConfigError, CategoryValidation, false, 0, message, nil)
}

// StopConditionError signals that a pagination stopCondition gave no usable
// answer: the expression evaluated to a non-boolean, or the first two pages
// were both empty while the condition never fired.
func StopConditionError(message string, originalErr error) *KindError {
	return newKindError(KindStopConditionError, CategoryValidation, false, 0, message, originalErr)
}

// HtmlResponseError signals that a page response looked like an HTML error
// page rather than the expected API payload.
func HtmlResponseError(message string) *KindError {
	return newKindError(KindHtmlResponseError, CategoryServer, true, 0, message, nil)
}

// RateLimitExceeded signals a 429 whose Retry-After would require waiting
// longer than the caller's maximum backoff window.
func RateLimitExceeded(message string, waitSeconds float64) *KindError {
	e := newKindError(KindRateLimitExceeded, CategoryRateLimit, false, 429, message, nil)
	e.ClassifiedError.Message = fmt.Sprintf("%s (would require waiting %.0fs)", message, waitSeconds)
	return e
}

// TokenRefreshFailed signals that an OAuth refresh_token exchange failed.
func TokenRefreshFailed(message string, originalErr error) *KindError {
	return newKindError(KindTokenRefreshFailed, CategoryAuthentication, false, 0, message, originalErr)
}

// DatastoreError signals a failure in the pluggable datastore layer
// (memory/file/Postgres backends).
func DatastoreError(message string, originalErr error) *KindError {
	return newKindError(KindDatastoreError, CategoryServer, true, 0, message, originalErr)
}

// TimeoutError signals that an expression evaluation, LLM repair round, or
// call exceeded its bounded execution window.
func TimeoutError(message string) *KindError {
	return newKindError(KindTimeoutError, CategoryNetwork, true, 0, message, nil)
}

// KindOf returns the Kind of err if it is (or wraps) a *KindError, and ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.ErrKind, true
	}
	return "", false
}
