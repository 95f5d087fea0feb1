package download

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"reportsync/internal/apperrors"
)

var errMissingProjectState = errors.New("spectrum download requires the project state")

// Prepare submits a preparation job for an artifact and starts polling it.
//
// Prepare is a no-op returning false while a submission is in flight or once
// a download ID exists. Otherwise it returns true and the outcome, success
// or failure, is recorded on the artifact's state. The returned error is
// reserved for malformed requests.
func (m *Manager) Prepare(ctx context.Context, req PrepareRequest) (bool, error) {
	if !req.Artifact.Valid() {
		return false, apperrors.Validation("artifact", "unknown artifact type "+string(req.Artifact))
	}
	if req.CalibrateID == "" {
		return false, apperrors.Validation("calibrateId", "calibrate ID is required")
	}

	logger := m.logger.With("artifact", req.Artifact, "calibrateId", req.CalibrateID)

	var cycle uint64
	_, started := m.store.Update(req.Artifact, func(s DependencyState) (DependencyState, bool) {
		if !s.CanSubmit() {
			return s, false
		}
		cycle = s.Cycle
		return submissionStarted(s), true
	})
	if !started {
		logger.Debug("Submission skipped, download already requested")
		return false, nil
	}

	var (
		downloadID string
		err        error
	)
	if req.Artifact.RequiresProjectState() && len(req.Payload) == 0 {
		err = errMissingProjectState
	} else {
		downloadID, err = m.backend.Submit(ctx, req.Artifact, req.CalibrateID, req.Payload)
		if err == nil && downloadID == "" {
			err = errors.New("backend returned an empty download ID")
		}
	}
	if err != nil {
		err = submissionError(err)
	}

	// The response and the poll start happen under mu, so a concurrent
	// Cancel either marks the submission first or finds the poll.
	m.mu.Lock()
	cancelledCycle, wasCancelled := m.cancelledSubmits[req.Artifact]
	wasCancelled = wasCancelled && cancelledCycle == cycle
	if wasCancelled {
		delete(m.cancelledSubmits, req.Artifact)
	}
	_, applied := m.store.Update(req.Artifact, func(s DependencyState) (DependencyState, bool) {
		if s.Cycle != cycle || !s.FetchingDownloadID {
			return s, false
		}
		if err != nil {
			return submissionFailed(s, err), true
		}
		s = submissionSucceeded(s, downloadID, time.Now())
		if wasCancelled {
			s = cancelled(s)
		}
		return s, true
	})
	polling := applied && err == nil && !wasCancelled && m.startPollingLocked(req.Artifact)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordDownloadSubmitted(ctx, string(req.Artifact), err == nil)
	}

	switch {
	case !applied:
		logger.Info("Discarding stale submission response", "cycle", cycle)
	case err != nil:
		logger.Warn("Download submission failed", "error", err)
	case wasCancelled:
		logger.Info("Download submitted after cancel, not polling", "downloadId", downloadID)
	default:
		logger.Info("Download submitted", "downloadId", downloadID, "polling", polling)
	}
	return true, nil
}

// PrepareAll submits every artifact in payloads concurrently. Artifacts
// without a payload entry are submitted with an empty body.
func (m *Manager) PrepareAll(ctx context.Context, calibrateID string, artifacts []ArtifactType, payloads map[ArtifactType][]byte) (map[ArtifactType]bool, error) {
	if len(artifacts) == 0 {
		artifacts = AllArtifacts
	}
	for _, t := range artifacts {
		if !t.Valid() {
			return nil, apperrors.Validation("artifacts", "unknown artifact type "+string(t))
		}
	}

	var (
		mu       sync.Mutex
		accepted = make(map[ArtifactType]bool, len(artifacts))
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range artifacts {
		g.Go(func() error {
			ok, err := m.Prepare(gctx, PrepareRequest{
				Artifact:    t,
				CalibrateID: calibrateID,
				Payload:     payloads[t],
			})
			if err != nil {
				return err
			}
			mu.Lock()
			accepted[t] = ok
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return accepted, err
	}
	return accepted, nil
}
