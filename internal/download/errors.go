package download

import (
	"errors"
	"fmt"

	"reportsync/internal/apperrors"
)

// Sentinel errors recorded on DependencyState.
var (
	ErrSubmission    = errors.New("download submission failed")
	ErrJobFailed     = errors.New("download job failed")
	ErrPollTransport = errors.New("download status request failed")
	ErrMetadata      = errors.New("download metadata fetch failed")

	// ErrPollAttemptsExceeded is wrapped in a poll transport error when
	// MaxPollAttempts is set and the job is still running.
	ErrPollAttemptsExceeded = errors.New("maximum poll attempts exceeded")
)

// ErrorKind returns a stable name for the error classification.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSubmission):
		return "submission"
	case errors.Is(err, ErrJobFailed):
		return "job_failed"
	case errors.Is(err, ErrPollTransport):
		return "poll_transport"
	case errors.Is(err, ErrMetadata):
		return "metadata"
	default:
		return "unknown"
	}
}

func submissionError(cause error) error {
	return apperrors.Wrap(ErrSubmission, "download.submit", cause)
}

func pollTransportError(cause error) error {
	return apperrors.Wrap(ErrPollTransport, "download.status", cause)
}

func metadataError(cause error) error {
	return apperrors.Wrap(ErrMetadata, "download.metadata", cause)
}

// jobFailure builds the error for a job that finished unsuccessfully.
func jobFailure(status *JobStatus) error {
	msg := "job failed"
	if status.Status != "" {
		msg = fmt.Sprintf("job failed with status %s", status.Status)
	}
	if n := len(status.Progress); n > 0 {
		msg = fmt.Sprintf("%s: %s", msg, status.Progress[n-1])
	}
	return apperrors.Wrap(ErrJobFailed, "download.poll", errors.New(msg))
}
