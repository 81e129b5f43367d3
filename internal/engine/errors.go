package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrTopologyMismatch is matched by the error returned when a log was
	// written with a different stage or pipe count.
	ErrTopologyMismatch = errors.New("topology mismatch")

	// ErrNotStarted is returned by operations that need the worker pool.
	ErrNotStarted = errors.New("search not started")
)

// SearchError is a fatal condition detected by the search.
type SearchError struct {
	// Code identifies the error category.
	Code SearchErrorCode

	// Message is a human-readable description.
	Message string

	// Details carries the values that triggered the error.
	Details map[string]string
}

// SearchErrorCode categorizes search errors.
type SearchErrorCode string

const (
	// ErrCodeTopologyMismatch: an S record disagrees with the configured
	// stage or pipe count.
	ErrCodeTopologyMismatch SearchErrorCode = "TOPOLOGY_MISMATCH"

	// ErrCodeLogWrite: the search log could not be appended to.
	ErrCodeLogWrite SearchErrorCode = "LOG_WRITE"
)

// Error implements the error interface.
func (e *SearchError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap lets errors.Is match the sentinel for the code.
func (e *SearchError) Unwrap() error {
	switch e.Code {
	case ErrCodeTopologyMismatch:
		return ErrTopologyMismatch
	default:
		return nil
	}
}

// IsTopologyMismatch reports whether err is a topology mismatch.
// Uses errors.As to handle wrapped errors.
func IsTopologyMismatch(err error) bool {
	var se *SearchError
	if errors.As(err, &se) {
		return se.Code == ErrCodeTopologyMismatch
	}
	return false
}

// IsLogWriteError reports whether err is a failure to append to the log.
func IsLogWriteError(err error) bool {
	var se *SearchError
	if errors.As(err, &se) {
		return se.Code == ErrCodeLogWrite
	}
	return false
}

// NewTopologyError creates a SearchError for a log/config disagreement.
func NewTopologyError(logStages, logPipes, stages, pipes int) *SearchError {
	return &SearchError{
		Code: ErrCodeTopologyMismatch,
		Message: fmt.Sprintf("log has %d stages x %d pipes, configured %d x %d",
			logStages, logPipes, stages, pipes),
		Details: map[string]string{
			"log_stages": fmt.Sprintf("%d", logStages),
			"log_pipes":  fmt.Sprintf("%d", logPipes),
			"stages":     fmt.Sprintf("%d", stages),
			"pipes":      fmt.Sprintf("%d", pipes),
		},
	}
}

func newLogWriteError(err error) *SearchError {
	return &SearchError{
		Code:    ErrCodeLogWrite,
		Message: err.Error(),
	}
}
