package upload

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"reportsync/internal/apperrors"
)

// Coordinator uploads a batch of files sequentially. A failing file is
// recorded and the batch continues; the release, when requested, is created
// only after every file has been attempted.
type Coordinator struct {
	archive Archive
	logger  *slog.Logger
	metrics MetricsRecorder
}

// NewCoordinator creates a Coordinator. A nil metrics recorder disables
// metrics.
func NewCoordinator(archive Archive, metrics MetricsRecorder) *Coordinator {
	return &Coordinator{
		archive: archive,
		logger:  slog.With("component", "upload"),
		metrics: metrics,
	}
}

// Upload runs the batch. onProgress, if set, is called on the uploading
// goroutine before and after each file. The error is reserved for malformed
// requests; per-file and release failures are reported in the Outcome.
func (c *Coordinator) Upload(ctx context.Context, req Request, onProgress func(Progress)) (*Outcome, error) {
	if req.DatasetID == "" {
		return nil, apperrors.Validation("datasetId", "dataset ID is required")
	}
	if len(req.Files) == 0 && len(req.Unavailable) == 0 {
		return nil, apperrors.Validation("files", "at least one file is required")
	}
	if req.CreateRelease && req.Release.Name == "" {
		return nil, apperrors.Validation("release.name", "release name is required")
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if onProgress == nil {
		onProgress = func(Progress) {}
	}

	logger := c.logger.With("sessionId", req.SessionID, "datasetId", req.DatasetID)

	out := &Outcome{
		SessionID:        req.SessionID,
		DatasetID:        req.DatasetID,
		ReleaseRequested: req.CreateRelease,
		StartedAt:        time.Now(),
	}
	for _, u := range req.Unavailable {
		u.Status = FileFailed
		out.Files = append(out.Files, u)
	}

	total := len(req.Files)
	cancelled := false
	for i, file := range req.Files {
		if ctx.Err() != nil {
			cancelled = true
			out.Files = append(out.Files, FileResult{File: file, Status: FileCancelled, Err: ErrCancelled})
			continue
		}

		onProgress(Progress{SessionID: req.SessionID, Index: i + 1, Total: total, File: file, Status: FileUploading})

		result := c.uploadFile(ctx, req.DatasetID, file)
		if result.Err != nil && ctx.Err() != nil {
			result = FileResult{File: file, Status: FileCancelled, Err: ErrCancelled}
		}
		out.Files = append(out.Files, result)

		if result.Err != nil {
			logger.Warn("File upload failed", "filename", file.Filename, "index", i+1, "total", total, "error", result.Err)
		} else {
			logger.Info("File uploaded", "filename", file.Filename, "index", i+1, "total", total)
		}
		onProgress(Progress{SessionID: req.SessionID, Index: i + 1, Total: total, File: file, Status: result.Status, Err: result.Err})
	}

	// A cancel that lands during the last file still skips the release.
	if cancelled || ctx.Err() != nil {
		out.Status = OutcomeCancelled
		out.FinishedAt = time.Now()
		logger.Warn("Upload cancelled", "attempted", countAttempted(out.Files))
		return out, nil
	}

	if req.CreateRelease {
		err := c.archive.CreateRelease(ctx, req.DatasetID, req.Release)
		if c.metrics != nil {
			c.metrics.RecordRelease(ctx, err == nil)
		}
		if err != nil {
			out.ReleaseErr = apperrors.Wrap(ErrReleaseCreation, "archive.createRelease", err)
			logger.Warn("Release creation failed", "release", req.Release.Name, "error", err)
		} else {
			out.ReleaseCreated = true
			logger.Info("Release created", "release", req.Release.Name)
		}
	}

	out.Status = outcomeStatus(len(out.Failed()) > 0, out.ReleaseErr != nil)
	out.FinishedAt = time.Now()
	logger.Info("Upload finished", "status", out.Status, "files", len(out.Files), "failed", len(out.Failed()))
	return out, nil
}

func (c *Coordinator) uploadFile(ctx context.Context, datasetID string, file Descriptor) FileResult {
	if err := file.validate(); err != nil {
		return FileResult{File: file, Status: FileFailed, Err: apperrors.Wrap(ErrUploadFile, "upload.validate", err)}
	}

	start := time.Now()
	err := c.archive.UploadFile(ctx, datasetID, file)
	if c.metrics != nil {
		c.metrics.RecordUploadFile(ctx, file.ResourceType, err == nil, time.Since(start).Seconds())
	}
	if err != nil {
		return FileResult{File: file, Status: FileFailed, Err: apperrors.Wrap(ErrUploadFile, "archive.uploadFile", err)}
	}
	return FileResult{File: file, Status: FileUploaded}
}

func outcomeStatus(fileErrors, releaseError bool) OutcomeStatus {
	switch {
	case fileErrors && releaseError:
		return OutcomeFileAndReleaseErrors
	case fileErrors:
		return OutcomeFileErrors
	case releaseError:
		return OutcomeReleaseError
	default:
		return OutcomeSuccess
	}
}

func countAttempted(files []FileResult) int {
	n := 0
	for _, f := range files {
		if f.Status == FileUploaded || f.Status == FileFailed {
			n++
		}
	}
	return n
}
