package proxy

import "errors"

// ErrorCode classifies a chat failure for callers and for the UI layer.
type ErrorCode string

const (
	// CodeNoAPIKey means the proxy endpoint failed and no credential is
	// configured for the direct fallback. Not retryable.
	CodeNoAPIKey ErrorCode = "NO_API_KEY"

	// CodeClientError covers terminal upstream rejections (bad request,
	// auth, not found). Retrying the same request cannot succeed.
	CodeClientError ErrorCode = "CLIENT_ERROR"

	// CodeTransient covers network failures, 5xx responses and rate
	// limiting. The executor retries these before giving up.
	CodeTransient ErrorCode = "TRANSIENT_ERROR"
)

// Error is the single error type surfaced by this package. Message is safe
// to display to end users; it never contains request content.
type Error struct {
	Code    ErrorCode
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Retryable reports whether another attempt of the same request could
// plausibly succeed.
func (e *Error) Retryable() bool {
	return e.Code == CodeTransient
}

// AsError unwraps err into this package's Error type, or nil.
func AsError(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return nil
}
