package errors

import (
	"errors"
	"fmt"
)

// Kind buckets every pipeline failure into the taxonomy the orchestrator
// and dead-letter router act on.
type Kind string

const (
	KindValidation       Kind = "validation_error"
	KindTransientStore   Kind = "transient_store_error"
	KindPermanentStore   Kind = "permanent_store_error"
	KindPoolExhausted    Kind = "pool_exhausted"
	KindBrokerConnection Kind = "broker_connection_error"
	KindInternal         Kind = "internal_error"
)

type RetryableError interface {
	error
	IsRetryable() bool
}

type FatalError interface {
	error
	IsFatal() bool
}

// PipelineError carries the kind, a human-readable message and the
// wrapped cause. Transient kinds are retryable; everything else
// propagates immediately.
type PipelineError struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	Cause   error
}

func New(kind Kind, message string) *PipelineError {
	return &PipelineError{
		Kind:    kind,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

func (e *PipelineError) IsRetryable() bool {
	switch e.Kind {
	case KindTransientStore, KindPoolExhausted, KindBrokerConnection:
		return true
	}
	return false
}

func (e *PipelineError) IsFatal() bool {
	return !e.IsRetryable()
}

func (e *PipelineError) WithCause(cause error) *PipelineError {
	err := *e
	err.Cause = cause
	return &err
}

func (e *PipelineError) WithDetail(key string, value interface{}) *PipelineError {
	err := *e
	if err.Details == nil {
		err.Details = make(map[string]interface{})
	}
	err.Details[key] = value
	return &err
}

func Transient(message string, cause error) *PipelineError {
	return New(KindTransientStore, message).WithCause(cause)
}

func Permanent(message string, cause error) *PipelineError {
	return New(KindPermanentStore, message).WithCause(cause)
}

func PoolExhausted(message string) *PipelineError {
	return New(KindPoolExhausted, message)
}

func BrokerConnection(message string, cause error) *PipelineError {
	return New(KindBrokerConnection, message).WithCause(cause)
}

func KindOf(err error) Kind {
	var pipeErr *PipelineError
	if errors.As(err, &pipeErr) {
		return pipeErr.Kind
	}
	return KindInternal
}

func IsTransient(err error) bool {
	var pipeErr *PipelineError
	if errors.As(err, &pipeErr) {
		return pipeErr.IsRetryable()
	}
	return false
}

func IsPoolExhausted(err error) bool {
	return KindOf(err) == KindPoolExhausted
}
