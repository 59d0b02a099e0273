package backend

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a backend request failure. Call sites branch on the kind,
// never on the message text.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindAuth          Kind = "auth"
	KindNetwork       Kind = "network"
	KindTimeout       Kind = "timeout"
	KindParse         Kind = "parse"
	KindHTTP          Kind = "http"
	KindRateLimit     Kind = "rate_limit"
	KindConfirmation  Kind = "confirmation"
	KindValidation    Kind = "validation"
)

// RequestError is the single error type produced by the backend client.
// A response is either a typed value or a RequestError, never both.
type RequestError struct {
	Kind       Kind
	Message    string
	StatusCode int
	Details    string

	// ChallengeID and PendingActions are set only for Kind == KindConfirmation
	// (a 403 carrying CONFIRMATION_REQUIRED). PendingActions holds opaque
	// human-readable summaries in the order the backend returned them.
	ChallengeID    string
	PendingActions []string

	// RetryAfter is the parsed server wait hint for Kind == KindRateLimit,
	// zero when the backend supplied none.
	RetryAfter time.Duration
}

// Error implements error.
func (e *RequestError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("backend %s (%d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("backend %s: %s", e.Kind, e.Message)
}

// RetryDelayHint implements retry.DelayHinter so generic retry helpers honour
// the backend's Retry-After.
func (e *RequestError) RetryDelayHint() time.Duration {
	return e.RetryAfter
}

// AsRequestError unwraps err into a *RequestError when possible.
func AsRequestError(err error) (*RequestError, bool) {
	var re *RequestError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// IsKind reports whether err is a RequestError of the given kind.
func IsKind(err error, kind Kind) bool {
	re, ok := AsRequestError(err)
	return ok && re.Kind == kind
}

func configurationError(msg string) *RequestError {
	return &RequestError{Kind: KindConfiguration, Message: msg}
}

func validationError(msg string) *RequestError {
	return &RequestError{Kind: KindValidation, Message: msg}
}

func parseError(msg string) *RequestError {
	return &RequestError{Kind: KindParse, Message: msg}
}
