package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")

	// ErrPrecondition marks a generation request rejected before any work began.
	ErrPrecondition = errors.New("precondition failed")
	// ErrConflict marks a state transition refused because the job is in the wrong state.
	ErrConflict = errors.New("state conflict")
	// ErrCancelled marks work aborted because the job was cancelled.
	ErrCancelled = errors.New("cancelled")

	ErrWorkerStartFailed = errors.New("synthesis worker failed to start")
	ErrWorkerNotReady    = errors.New("synthesis worker not ready")
	ErrSynthesisTimeout  = errors.New("synthesis timed out")
	ErrWorkerReported    = errors.New("synthesis worker reported error")
	ErrArtifactMissing   = errors.New("synthesis artifact missing")

	// ErrMediaTool marks ffmpeg/ffprobe failures.
	ErrMediaTool = errors.New("media tool error")
	// ErrPipelineFailed marks assembly failures outside the media tools.
	ErrPipelineFailed = errors.New("pipeline failed")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Marker returns the first exported sentinel matched by err, or nil.
func Marker(err error) error {
	if err == nil {
		return nil
	}
	for _, marker := range []error{
		ErrCancelled,
		ErrPrecondition,
		ErrConflict,
		ErrWorkerStartFailed,
		ErrWorkerNotReady,
		ErrSynthesisTimeout,
		ErrWorkerReported,
		ErrArtifactMissing,
		ErrMediaTool,
		ErrPipelineFailed,
		ErrValidation,
		ErrConfiguration,
		ErrNotFound,
		ErrTimeout,
		ErrTransient,
	} {
		if errors.Is(err, marker) {
			return marker
		}
	}
	return nil
}

// Hint returns a short operator-facing next step for the failure class of err.
func Hint(err error) string {
	switch Marker(err) {
	case ErrPrecondition:
		return "give every item an image and generated audio, then retry"
	case ErrConflict:
		return "reset the project before starting another run"
	case ErrWorkerStartFailed:
		return "check synthesis.worker_command and the worker log"
	case ErrWorkerNotReady:
		return "the worker is still loading its model; retry shortly"
	case ErrSynthesisTimeout:
		return "the worker did not answer in time; check that it is consuming requests"
	case ErrWorkerReported:
		return "inspect the worker error message"
	case ErrArtifactMissing:
		return "the worker reported success without writing audio; check its output path permissions"
	case ErrMediaTool:
		return "inspect ffmpeg/ffprobe stderr in the daemon log"
	case ErrCancelled:
		return "reset the project to run again"
	default:
		return "check logs for details"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
