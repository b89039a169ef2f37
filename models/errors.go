package models

import "fmt"

// Kind is the closed failure taxonomy reported to callers. Values are stable
// and machine-checkable; only the accompanying message may change wording.
type Kind string

const (
	KindSuccess      Kind = "SUCCESS"
	KindInvalidInput Kind = "INVALID_INPUT"
	KindRateLimited  Kind = "RATE_LIMITED"
	KindAuthExpired  Kind = "AUTH_EXPIRED"
	KindNotFound     Kind = "NOT_FOUND"
	KindTransient    Kind = "TRANSIENT_FAILURE"
	KindFatal        Kind = "FATAL_FAILURE"

	// KindUnauthorized is raised by the API key middleware, never by an attempt.
	KindUnauthorized Kind = "UNAUTHORIZED"
)

// Retryable reports whether an attempt ending in k may move on to the next
// strategy. NOT_FOUND and FATAL_FAILURE end the request immediately.
func (k Kind) Retryable() bool {
	switch k {
	case KindRateLimited, KindAuthExpired, KindTransient:
		return true
	default:
		return false
	}
}

// UserMessage returns the bounded, non-sensitive text shown to callers for k.
func UserMessage(k Kind) string {
	switch k {
	case KindInvalidInput:
		return "a valid http(s) media URL is required"
	case KindRateLimited:
		return "the media host is throttling requests, please wait a few minutes and try again"
	case KindAuthExpired:
		return "the media host rejected the service credentials, an operator has to refresh them"
	case KindNotFound:
		return "no downloadable media was found at that URL"
	case KindTransient:
		return "the media host could not be reached, please try again"
	case KindUnauthorized:
		return "missing or invalid API key"
	default:
		return "the audio could not be prepared because of an internal error"
	}
}

// ErrorDetail is the structured error in API responses (the ErrorReport).
type ErrorDetail struct {
	Code    Kind   `json:"code"`
	Message string `json:"message"`
}

// ExtractError is the internal error type carrying a Kind.
// It implements the error interface and supports error wrapping via Unwrap.
type ExtractError struct {
	Kind    Kind
	Message string
	Err     error // wrapped original error, never shown to callers
}

func (e *ExtractError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ExtractError) Unwrap() error {
	return e.Err
}

// NewExtractError creates an ExtractError whose message is the fixed user
// message for kind.
func NewExtractError(kind Kind, err error) *ExtractError {
	return &ExtractError{Kind: kind, Message: UserMessage(kind), Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *ExtractError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Kind, Message: e.Message}
}
