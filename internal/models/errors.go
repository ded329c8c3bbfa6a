package models

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks an absent document, job or case.
	ErrNotFound = errors.New("not found")
	// ErrIllegalTransition is returned when the stage table forbids a move.
	ErrIllegalTransition = errors.New("illegal stage transition")
	// ErrJobCancelled is the fault recorded when cancellation is observed between stages.
	ErrJobCancelled = errors.New("job cancelled")
)

// Error kinds recorded in JobError.Kind.
const (
	KindValidation      = "validation_error"
	KindExternalService = "external_service_error"
	KindNotFound        = "not_found"
	KindPipelineFault   = "pipeline_fault"
	KindCancelled       = "cancelled"
)

// ValidationError covers malformed date/amount text and invalid provenance. The extractor skips these silently.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ExternalServiceError wraps an unavailable, slow, over-quota or malformed delegate response.
type ExternalServiceError struct {
	Service string
	Op      string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Service, e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// NotFoundError names the missing resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFound returns a NotFoundError matching errors.Is(err, ErrNotFound).
func NewNotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// PipelineFault is any fault that makes a stage unreliable as a whole.
type PipelineFault struct {
	Kind      string
	Stage     Stage
	Transient bool
	Err       error
}

func (e *PipelineFault) Error() string {
	return fmt.Sprintf("%s failed during %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *PipelineFault) Unwrap() error { return e.Err }

// NewPipelineFault classifies err for the stage it happened in.
func NewPipelineFault(stage Stage, err error) *PipelineFault {
	var pf *PipelineFault
	if errors.As(err, &pf) {
		return pf
	}
	fault := &PipelineFault{Kind: KindPipelineFault, Stage: stage, Err: err}
	var ext *ExternalServiceError
	var nf *NotFoundError
	switch {
	case errors.Is(err, ErrJobCancelled):
		fault.Kind = KindCancelled
	case errors.As(err, &nf):
		fault.Kind = KindNotFound
	case errors.As(err, &ext):
		fault.Kind = KindExternalService
		fault.Transient = true
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), isTemporary(err):
		fault.Transient = true
	}
	return fault
}

// TransientError marks infrastructure failures (database or queue unreachable) that a retry may fix.
type TransientError struct{ Err error }

func (e *TransientError) Error() string   { return e.Err.Error() }
func (e *TransientError) Unwrap() error   { return e.Err }
func (e *TransientError) Temporary() bool { return true }

// Transient wraps err as retryable. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func isTemporary(err error) bool {
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
