// Package jferrors defines the typed error kinds shared across jobflow's
// packages. Every kind wraps an underlying cause where one exists and is
// reachable via errors.As, following the %w-wrapping convention used
// throughout this module.
package jferrors

import (
	"errors"
	"fmt"
)

// SerializationError is returned when a value cannot be encoded into the
// wire tree format: it is neither a primitive, a container (slice/map), nor
// a type implementing ref.Encodable.
type SerializationError struct {
	Value any
	Err   error
}

func NewSerializationError(value any, err error) *SerializationError {
	return &SerializationError{Value: value, Err: err}
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("jferrors: cannot serialize value of type %T: %v", e.Value, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// ReferenceResolutionError is raised when dereferencing a path against a
// resolved output fails partway through — FailingIndex names the path
// element at which the walk stopped.
type ReferenceResolutionError struct {
	UUID         string
	Path         []any
	FailingIndex int
	Err          error
}

func NewReferenceResolutionError(uuid string, path []any, failingIndex int, err error) *ReferenceResolutionError {
	return &ReferenceResolutionError{UUID: uuid, Path: path, FailingIndex: failingIndex, Err: err}
}

func (e *ReferenceResolutionError) Error() string {
	return fmt.Sprintf("jferrors: cannot resolve reference %s%v at path element %d: %v",
		e.UUID, e.Path, e.FailingIndex, e.Err)
}

func (e *ReferenceResolutionError) Unwrap() error { return e.Err }

// OutputNotFoundError is raised when a JobStore has no record matching the
// requested uuid (and index, when one was pinned).
type OutputNotFoundError struct {
	UUID  string
	Index int
}

func NewOutputNotFoundError(uuid string, index int) *OutputNotFoundError {
	return &OutputNotFoundError{UUID: uuid, Index: index}
}

func (e *OutputNotFoundError) Error() string {
	return fmt.Sprintf("jferrors: no output recorded for job %s (index %d)", e.UUID, e.Index)
}

// IsOutputNotFound reports whether err is, or wraps, an OutputNotFoundError.
func IsOutputNotFound(err error) bool {
	var e *OutputNotFoundError
	return errors.As(err, &e)
}

// GraphConstructionError is raised by Flow.Add when a child cannot be
// attached: it already has a parent, or attaching it would close a cycle.
type GraphConstructionError struct {
	Reason string
}

func NewGraphConstructionError(reason string) *GraphConstructionError {
	return &GraphConstructionError{Reason: reason}
}

func (e *GraphConstructionError) Error() string {
	return fmt.Sprintf("jferrors: graph construction: %s", e.Reason)
}

// UnresolvableGraphError is raised by the scheduler when no ready job
// remains but jobs are still outstanding — a stall, not a cycle (cycles are
// rejected earlier, at Flow.Add time).
type UnresolvableGraphError struct {
	RemainingUUIDs []string
}

func NewUnresolvableGraphError(remaining []string) *UnresolvableGraphError {
	return &UnresolvableGraphError{RemainingUUIDs: remaining}
}

func (e *UnresolvableGraphError) Error() string {
	return fmt.Sprintf("jferrors: scheduler stalled with %d job(s) still outstanding: %v",
		len(e.RemainingUUIDs), e.RemainingUUIDs)
}

// SchemaViolationError is raised when a Job's output fails output_schema
// validation.
type SchemaViolationError struct {
	UUID string
	Err  error
}

func NewSchemaViolationError(uuid string, err error) *SchemaViolationError {
	return &SchemaViolationError{UUID: uuid, Err: err}
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("jferrors: output of job %s violates its output_schema: %v", e.UUID, e.Err)
}

func (e *SchemaViolationError) Unwrap() error { return e.Err }

// JobFailure records an error raised by a Job's own callable. Unlike the
// other kinds here, a JobFailure never aborts a scheduler run on its own —
// it is recorded against that job and its downstream jobs are cancelled.
type JobFailure struct {
	UUID  string
	Index int
	Err   error
}

func NewJobFailure(uuid string, index int, err error) *JobFailure {
	return &JobFailure{UUID: uuid, Index: index, Err: err}
}

func (e *JobFailure) Error() string {
	return fmt.Sprintf("jferrors: job %s (index %d) failed: %v", e.UUID, e.Index, e.Err)
}

func (e *JobFailure) Unwrap() error { return e.Err }
