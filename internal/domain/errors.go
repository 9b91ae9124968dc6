package domain

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned for unknown or expired session IDs.
var ErrSessionNotFound = errors.New("session not found")

// ErrPersonaNotFound is returned when a persona lookup misses.
var ErrPersonaNotFound = errors.New("persona not found")

// ErrCallNotFound is returned when no archived call matches.
var ErrCallNotFound = errors.New("call not found")

// ErrLiveCallActive is returned when a session already has a live call attached.
var ErrLiveCallActive = errors.New("live call already active")

// ValidationError reports a missing or malformed request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// PolicyError reports a request rejected by the admission policy.
type PolicyError struct {
	Reason string
}

func (e *PolicyError) Error() string {
	return "blocked by policy: " + e.Reason
}

// TransportError reports that a streaming transport could not be kept open.
type TransportError struct {
	Endpoint string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s failed after %d attempts: %v", e.Endpoint, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UpstreamServiceError reports a completion, transcription or synthesis provider failure.
type UpstreamServiceError struct {
	Phase Phase
	Err   error
}

func (e *UpstreamServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *UpstreamServiceError) Unwrap() error { return e.Err }

// NewUpstreamError wraps err as an UpstreamServiceError for phase.
func NewUpstreamError(phase Phase, err error) *UpstreamServiceError {
	return &UpstreamServiceError{Phase: phase, Err: err}
}

// ResourceAcquisitionError reports that an audio device or similar resource is unavailable.
type ResourceAcquisitionError struct {
	Phase Phase
	Err   error
}

func (e *ResourceAcquisitionError) Error() string {
	return fmt.Sprintf("%s: resource unavailable: %v", e.Phase, e.Err)
}

func (e *ResourceAcquisitionError) Unwrap() error { return e.Err }
