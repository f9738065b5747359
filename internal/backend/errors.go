package backend

import (
	"context"
	"errors"
)

// Failure kinds a job can end in.
var (
	ErrEngineUnavailable  = errors.New("engine unavailable")
	ErrSubmissionRejected = errors.New("submission rejected")
	ErrExecutionFailure   = errors.New("execution failure")
	ErrConnectionAborted  = errors.New("connection aborted")
	ErrTimeout            = errors.New("timeout")
	ErrInvalidRequest     = errors.New("invalid request")
)

// Kind labels for persistence and metrics.
const (
	KindEngineUnavailable  = "engine_unavailable"
	KindSubmissionRejected = "submission_rejected"
	KindExecutionFailure   = "execution_failure"
	KindConnectionAborted  = "connection_aborted"
	KindTimeout            = "timeout"
	KindInvalidRequest     = "invalid_request"
	KindCancelled          = "cancelled"
	KindInternal           = "internal"
)

// Kind classifies err into one of the kind labels. A nil error has no kind.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEngineUnavailable):
		return KindEngineUnavailable
	case errors.Is(err, ErrSubmissionRejected):
		return KindSubmissionRejected
	case errors.Is(err, ErrExecutionFailure):
		return KindExecutionFailure
	case errors.Is(err, ErrConnectionAborted):
		return KindConnectionAborted
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, context.Canceled):
		return KindCancelled
	default:
		return KindInternal
	}
}
