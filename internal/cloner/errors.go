package cloner

import (
	"errors"
	"fmt"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("clone run not found")

// ErrCaptureUnavailable is returned when rendered capture is requested but not configured.
var ErrCaptureUnavailable = errors.New("rendered capture not configured")

// ValidationError rejects a malformed or disallowed request before any run exists.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// RateLimitError rejects a caller that exceeded the allowed run rate.
type RateLimitError struct {
	Caller string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %q", e.Caller)
}

// AcquisitionError means every fetch strategy was exhausted.
type AcquisitionError struct {
	Attempts int
	Last     error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("all %d endpoints failed; last error: %v", e.Attempts, e.Last)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Last
}

// StageError wraps any other failure raised inside a pipeline stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// AssetFailure records a per-asset, non-fatal download failure.
type AssetFailure struct {
	Kind   AssetKind `json:"kind"`
	URL    string    `json:"url"`
	Reason string    `json:"reason"`
}

func (f AssetFailure) String() string {
	return fmt.Sprintf("%s %s: %s", f.Kind, f.URL, f.Reason)
}
