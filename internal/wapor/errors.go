package wapor

import (
	"errors"
	"fmt"
)

// Kind classifies a WaPOR failure by the step that produced it
type Kind string

const (
	KindAuth       Kind = "auth"
	KindCatalog    Kind = "catalog"
	KindQuery      Kind = "query"
	KindSubmit     Kind = "submit"
	KindJob        Kind = "job"
	KindJobTimeout Kind = "job_timeout"
	KindDownload   Kind = "download"
)

// Error is returned by every client operation. Err holds the underlying
// transport or *APIError when there is one.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("wapor %s: %s", e.Kind, e.Op)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	var apiErr *APIError
	if e.Err != nil && !(errors.As(e.Err, &apiErr) && apiErr.Message == e.Message) {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Fatal reports whether the error ends the whole download session
func (e *Error) Fatal() bool { return e.Kind == KindAuth }

func newError(kind Kind, op, message string, err error) *Error {
	// Surface the server's own message when the caller has none
	if message == "" {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Message != "" {
			message = apiErr.Message
		}
	}
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// IsKind reports whether err wraps a *Error of the given kind
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// APIError represents an error response from the API, either a non-2xx HTTP
// status or a JSON envelope whose status is not 200.
type APIError struct {
	StatusCode int
	Body       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
	}

	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Body)
}
