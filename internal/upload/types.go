// Package upload pushes prepared artifacts and input files to the archive.
package upload

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"reportsync/internal/apperrors"
	"reportsync/internal/download"
)

// Sentinel errors recorded on upload outcomes.
var (
	ErrUploadFile      = errors.New("file upload failed")
	ErrReleaseCreation = errors.New("release creation failed")
	ErrCancelled       = errors.New("upload cancelled")
)

// Descriptor identifies one file to push to the archive.
type Descriptor struct {
	ResourceType string `json:"resourceType"`
	Filename     string `json:"filename"`
	SourceURL    string `json:"sourceUrl,omitempty"`

	// Artifact and DownloadID are set for prepared outputs. The content is
	// then read from the backend result when SourceURL is empty.
	Artifact   download.ArtifactType `json:"artifact,omitempty"`
	DownloadID string                `json:"downloadId,omitempty"`
}

// Key is the selection key of the descriptor: the artifact for outputs,
// the resource type for inputs.
func (d Descriptor) Key() string {
	if d.Artifact != "" {
		return string(d.Artifact)
	}
	return d.ResourceType
}

func (d Descriptor) validate() error {
	switch {
	case d.ResourceType == "":
		return apperrors.Validation("resourceType", "resource type is required")
	case d.Filename == "":
		return apperrors.Validation("filename", "filename is required")
	case d.SourceURL == "" && d.DownloadID == "":
		return apperrors.Validation("sourceUrl", "source URL is required")
	}
	return nil
}

// Release labels a set of uploaded files as a version of the dataset.
type Release struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Resource is a file already present in an archive dataset.
type Resource struct {
	ID           string `json:"id"`
	ResourceType string `json:"resourceType"`
	Filename     string `json:"filename"`
	URL          string `json:"url,omitempty"`
	Size         int64  `json:"size,omitempty"`
	LastModified string `json:"lastModified,omitempty"`
}

// Archive is the external data repository.
type Archive interface {
	// ListResources returns the files currently in a dataset.
	ListResources(ctx context.Context, datasetID string) ([]Resource, error)

	// UploadFile adds or replaces one file in a dataset.
	UploadFile(ctx context.Context, datasetID string, file Descriptor) error

	// CreateRelease labels the dataset's current files.
	CreateRelease(ctx context.Context, datasetID string, release Release) error
}

// Request is one batch upload.
type Request struct {
	SessionID     string
	DatasetID     string
	Files         []Descriptor
	CreateRelease bool
	Release       Release

	// Unavailable lists selected files that could not be produced. They are
	// reported as failed without being attempted.
	Unavailable []FileResult
}

// FileStatus is the state of one file in a batch.
type FileStatus string

// File statuses
const (
	FilePending   FileStatus = "pending"
	FileUploading FileStatus = "uploading"
	FileUploaded  FileStatus = "uploaded"
	FileFailed    FileStatus = "failed"
	FileCancelled FileStatus = "cancelled"
)

// FileResult is the outcome of one file.
type FileResult struct {
	File   Descriptor
	Status FileStatus
	Err    error
}

// MarshalJSON renders the error as a message.
func (r FileResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		File   Descriptor `json:"file"`
		Status FileStatus `json:"status"`
		Error  string     `json:"error,omitempty"`
	}{r.File, r.Status, errString(r.Err)})
}

// Progress is emitted when a file starts and when it finishes.
type Progress struct {
	SessionID string
	Index     int // 1-based position of File in the batch
	Total     int
	File      Descriptor
	Status    FileStatus
	Err       error
}

// OutcomeStatus distinguishes the terminal results of a batch.
type OutcomeStatus string

// Outcome statuses
const (
	OutcomeSuccess              OutcomeStatus = "success"
	OutcomeFileErrors           OutcomeStatus = "file_errors"
	OutcomeReleaseError         OutcomeStatus = "release_error"
	OutcomeFileAndReleaseErrors OutcomeStatus = "file_and_release_errors"
	OutcomeCancelled            OutcomeStatus = "cancelled"
)

// Outcome is the result of a batch upload.
type Outcome struct {
	SessionID        string
	DatasetID        string
	Files            []FileResult
	ReleaseRequested bool
	ReleaseCreated   bool
	ReleaseErr       error
	Status           OutcomeStatus
	StartedAt        time.Time
	FinishedAt       time.Time
}

// Failed returns the results of files that did not upload.
func (o *Outcome) Failed() []FileResult {
	var failed []FileResult
	for _, f := range o.Files {
		if f.Status != FileUploaded {
			failed = append(failed, f)
		}
	}
	return failed
}

// MarshalJSON renders the release error as a message.
func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		SessionID        string        `json:"sessionId"`
		DatasetID        string        `json:"datasetId"`
		Files            []FileResult  `json:"files"`
		ReleaseRequested bool          `json:"releaseRequested"`
		ReleaseCreated   bool          `json:"releaseCreated"`
		ReleaseError     string        `json:"releaseError,omitempty"`
		Status           OutcomeStatus `json:"status"`
		StartedAt        time.Time     `json:"startedAt"`
		FinishedAt       time.Time     `json:"finishedAt"`
	}{o.SessionID, o.DatasetID, o.Files, o.ReleaseRequested, o.ReleaseCreated, errString(o.ReleaseErr), o.Status, o.StartedAt, o.FinishedAt})
}

// MetricsRecorder is an optional interface for recording upload metrics.
type MetricsRecorder interface {
	RecordUploadFile(ctx context.Context, resourceType string, success bool, durationSeconds float64)
	RecordRelease(ctx context.Context, success bool)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
