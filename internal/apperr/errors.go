// Package apperr defines the error kinds shared by ingestion, retrieval,
// the QA orchestrator and the HTTP layer.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kinds. Match with errors.Is.
var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrConfiguration       = errors.New("configuration error")
	ErrNotFound            = errors.New("not found")
	ErrExternalService     = errors.New("external service error")
	ErrTimeout             = errors.New("timeout")
)

// Error carries a kind, the operation that failed and the underlying cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	case e.Op == "":
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func New(kind error, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func UnsupportedFileType(ext string) error {
	return &Error{Kind: ErrUnsupportedFileType, Op: "select loader", Err: fmt.Errorf("extension %q", ext)}
}

func Configuration(op, msg string) error {
	return &Error{Kind: ErrConfiguration, Op: op, Err: errors.New(msg)}
}

func NotFound(what string) error {
	return &Error{Kind: ErrNotFound, Op: "resolve", Err: fmt.Errorf("%q", what)}
}

// External wraps a failed call to the index or the LLM. Deadline expiry is
// reported as ErrTimeout so callers can tell it apart from other failures.
// Errors that already carry a kind pass through unchanged.
func External(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: ErrTimeout, Op: op, Err: err}
	}
	return &Error{Kind: ErrExternalService, Op: op, Err: err}
}

// HTTPStatus maps an error to the status code the API reports for it.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnsupportedFileType):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrExternalService):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
