// Package download tracks preparation of downloadable artifacts on the
// modeling backend.
//
// Each artifact moves through submission, status polling and a metadata
// fetch. The Manager drives those steps; the Store holds the resulting
// DependencyState values and is the only thing callers read.
//
// # Guarantees
//
//   - At most one submission per artifact is in flight, and none once a
//     download ID has been issued.
//   - At most one poll goroutine exists per artifact. Its handle ID is
//     recorded in StatusPollID before the first tick.
//   - Responses that arrive after cancellation or reset are dropped.
//   - A metadata failure never revokes completion.
package download

import "context"

// Backend is the modeling backend's download API.
// Implementations must classify error envelopes before returning, so a nil
// error always means a usable value.
type Backend interface {
	// Submit starts preparation of an artifact and returns its download ID.
	Submit(ctx context.Context, artifact ArtifactType, calibrateID string, payload []byte) (string, error)

	// Status returns the current status of a preparation job.
	Status(ctx context.Context, downloadID string) (*JobStatus, error)

	// Metadata describes the completed artifact produced by jobID.
	Metadata(ctx context.Context, artifact ArtifactType, jobID string) (*Metadata, error)
}

// MetricsRecorder is an optional interface for recording download metrics.
type MetricsRecorder interface {
	RecordDownloadSubmitted(ctx context.Context, artifact string, success bool)
	RecordPollStarted(ctx context.Context, artifact string)
	RecordPollTick(ctx context.Context, artifact string, success bool)
	RecordDownloadCompleted(ctx context.Context, artifact string, success bool, durationSeconds float64)
	RecordDownloadCancelled(ctx context.Context, artifact string)
	RecordMetadataFetched(ctx context.Context, artifact string, success bool)
}
