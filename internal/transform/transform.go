// Package transform is the boundary to the external AI transformation
// service. Failures cross the boundary as a closed tagged-variant Error
// so the pipeline classifier never inspects raw provider strings.
package transform

import (
	"context"
	"fmt"

	"github.com/neviso/core/internal/core/domain"
)

// Result is the structured output of a successful transformation.
type Result struct {
	Title string
	Body  string
}

// Service processes a job's input artifacts into structured output.
// Implementations must be safe for concurrent use; calls can run for
// minutes and must respect context cancellation.
type Service interface {
	Process(ctx context.Context, artifacts []*domain.ArtifactRef) (*Result, error)
}

// ErrorKind is the closed set of failure variants the boundary emits.
type ErrorKind string

const (
	ErrNetwork           ErrorKind = "network"
	ErrTimeout           ErrorKind = "timeout"
	ErrQuota             ErrorKind = "quota"
	ErrRateLimited       ErrorKind = "rate_limited"
	ErrAuth              ErrorKind = "auth"
	ErrInvalidInput      ErrorKind = "invalid_input"
	ErrUnsupportedFormat ErrorKind = "unsupported_format"
	ErrParsing           ErrorKind = "parsing"
	ErrInternal          ErrorKind = "internal"
)

// Error is a typed transformation failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transform %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("transform %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds a typed failure.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}
