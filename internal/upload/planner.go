package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"reportsync/internal/download"
)

var errNotPrepared = errors.New("artifact was not prepared")

// Downloads is the part of download.Manager the planner drives.
type Downloads interface {
	Get(t download.ArtifactType) (download.DependencyState, bool)
	Prepare(ctx context.Context, req download.PrepareRequest) (bool, error)
	StartPolling(t download.ArtifactType) bool
	FetchMetadata(ctx context.Context, t download.ArtifactType) download.MetadataResult
	Reset(t download.ArtifactType) download.DependencyState
	Await(ctx context.Context, t download.ArtifactType) (download.DependencyState, error)
}

// PlanRequest selects the artifacts to produce for an upload.
type PlanRequest struct {
	CalibrateID string
	Artifacts   []download.ArtifactType
	Payloads    map[download.ArtifactType][]byte
	Inputs      []Descriptor
}

// Planner prepares the artifacts an upload needs on demand and turns them
// into descriptors.
type Planner struct {
	downloads Downloads
	logger    *slog.Logger
}

// NewPlanner creates a Planner.
func NewPlanner(downloads Downloads) *Planner {
	return &Planner{
		downloads: downloads,
		logger:    slog.With("component", "upload-planner"),
	}
}

// Plan makes every requested artifact uploadable, preparing, resuming or
// retrying it as needed, and waits for them. Artifacts that still cannot be
// uploaded are returned as failed results. The error is non-nil only when
// ctx ends first.
func (p *Planner) Plan(ctx context.Context, req PlanRequest) ([]Descriptor, []FileResult, error) {
	var g errgroup.Group
	for _, t := range req.Artifacts {
		g.Go(func() error {
			p.ensure(ctx, t, req.CalibrateID, req.Payloads[t])
			return nil
		})
	}
	g.Wait()

	var (
		files       []Descriptor
		unavailable []FileResult
	)
	for _, t := range req.Artifacts {
		st, err := p.downloads.Await(ctx, t)
		if err != nil {
			return nil, nil, err
		}
		if d, ok := OutputDescriptor(st); ok {
			files = append(files, d)
			continue
		}
		cause := unavailableCause(st)
		p.logger.Warn("Artifact unavailable for upload", "artifact", t, "error", cause)
		unavailable = append(unavailable, FileResult{
			File:   Descriptor{ResourceType: outputResourceType, Artifact: t, DownloadID: st.DownloadID},
			Status: FileFailed,
			Err:    fmt.Errorf("%w: %s: %w", ErrUploadFile, t, cause),
		})
	}

	files = append(files, DefaultSelection(nil, req.Inputs)...)
	return files, unavailable, nil
}

// ensure starts whatever step the artifact is missing.
func (p *Planner) ensure(ctx context.Context, t download.ArtifactType, calibrateID string, payload []byte) {
	st, ok := p.downloads.Get(t)
	if !ok {
		return
	}

	switch {
	case st.Uploadable() || !st.Settled():
		return
	case st.Failed():
		p.logger.Info("Retrying failed artifact", "artifact", t, "error", st.DownloadError)
		p.downloads.Reset(t)
	case st.Complete && st.MetadataError != nil:
		p.downloads.FetchMetadata(ctx, t)
		return
	case st.DownloadID != "":
		// Cancelled while polling.
		p.downloads.StartPolling(t)
		return
	}

	if _, err := p.downloads.Prepare(ctx, download.PrepareRequest{
		Artifact:    t,
		CalibrateID: calibrateID,
		Payload:     payload,
	}); err != nil {
		p.logger.Warn("Artifact preparation rejected", "artifact", t, "error", err)
	}
}

func unavailableCause(st download.DependencyState) error {
	switch {
	case st.DownloadError != nil:
		return st.DownloadError
	case st.MetadataError != nil:
		return st.MetadataError
	default:
		return errNotPrepared
	}
}
