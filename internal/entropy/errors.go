package entropy

import (
	"errors"
	"fmt"
)

// SourceErrorCode categorizes entropy source failures.
type SourceErrorCode string

const (
	// ErrCodeUnavailable indicates hardware or network is absent or
	// misconfigured. Always recoverable by falling through the chain.
	ErrCodeUnavailable SourceErrorCode = "SOURCE_UNAVAILABLE"

	// ErrCodeMalformedResponse indicates the remote API returned data that
	// could not be parsed. Treated identically to unavailability.
	ErrCodeMalformedResponse SourceErrorCode = "MALFORMED_RESPONSE"
)

// SourceError represents a failure of a single entropy source.
//
// The chain inspects the error kind before falling through to the next
// source, so genuine programming errors are not hidden behind a catch-all.
type SourceError struct {
	// Code identifies the error category.
	Code SourceErrorCode

	// Source names the failing source ("spectral", "online", ...).
	Source string

	// Message is a human-readable description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *SourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Code, e.Source, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Source, e.Message)
}

// Unwrap returns the underlying error.
func (e *SourceError) Unwrap() error {
	return e.Err
}

// IsUnavailable reports whether err is a source-unavailable error.
// Uses errors.As to handle wrapped errors.
func IsUnavailable(err error) bool {
	var se *SourceError
	if errors.As(err, &se) {
		return se.Code == ErrCodeUnavailable
	}
	return false
}

// IsMalformed reports whether err is a malformed-response error.
func IsMalformed(err error) bool {
	var se *SourceError
	if errors.As(err, &se) {
		return se.Code == ErrCodeMalformedResponse
	}
	return false
}

// recoverable reports whether the chain may fall through past err.
// Both unavailability and malformed responses are recoverable; anything
// else is a programming error and is surfaced to the caller via logs.
func recoverable(err error) bool {
	return IsUnavailable(err) || IsMalformed(err)
}

func unavailable(source, message string, err error) *SourceError {
	return &SourceError{Code: ErrCodeUnavailable, Source: source, Message: message, Err: err}
}

func malformed(source, message string, err error) *SourceError {
	return &SourceError{Code: ErrCodeMalformedResponse, Source: source, Message: message, Err: err}
}
