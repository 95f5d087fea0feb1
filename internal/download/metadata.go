package download

import (
	"context"
	"errors"

	"reportsync/internal/apperrors"
)

// FetchMetadata re-requests metadata for a completed artifact, typically
// after a previous fetch failed. The outcome is recorded on the state and
// also returned. Calling it on an incomplete artifact, or while a fetch is
// running, returns a result carrying a conflict error and changes nothing.
func (m *Manager) FetchMetadata(ctx context.Context, t ArtifactType) MetadataResult {
	res := MetadataResult{Artifact: t}

	st, ok := m.store.Get(t)
	if !ok {
		res.Err = apperrors.NotFound("download", string(t))
		return res
	}
	res.JobID = st.JobID()
	if !st.Complete {
		res.Err = apperrors.Conflict("download", string(t), "download is not complete")
		return res
	}

	if _, started := m.store.Update(t, func(s DependencyState) (DependencyState, bool) {
		if s.Cycle != st.Cycle || !s.Complete || s.FetchingMetadata {
			return s, false
		}
		return metadataStarted(s), true
	}); !started {
		res.Err = apperrors.Conflict("download", string(t), "metadata fetch already in progress")
		return res
	}

	return m.fetchMetadata(ctx, t)
}

// fetchMetadata requests metadata for the artifact's job and records the
// outcome. The caller has already marked the fetch as started.
func (m *Manager) fetchMetadata(ctx context.Context, t ArtifactType) MetadataResult {
	st, _ := m.store.Get(t)
	res := MetadataResult{Artifact: t, JobID: st.JobID()}

	md, err := m.backend.Metadata(ctx, t, res.JobID)
	if err == nil && md == nil {
		err = errors.New("backend returned no metadata")
	}
	if err != nil {
		res.Err = metadataError(err)
	} else {
		res.Metadata = md
	}

	_, applied := m.store.Update(t, func(s DependencyState) (DependencyState, bool) {
		if s.Cycle != st.Cycle || !s.Complete {
			return s, false
		}
		if res.Err != nil {
			return metadataFailed(s, res.Err), true
		}
		return metadataFetched(s, md), true
	})

	if m.metrics != nil {
		m.metrics.RecordMetadataFetched(ctx, string(t), res.Err == nil)
	}
	if !applied {
		m.logger.Debug("Discarding stale metadata response", "artifact", t, "jobId", res.JobID)
		return res
	}
	if res.Err == nil {
		m.logger.Info("Metadata fetched", "artifact", t, "jobId", res.JobID, "filename", md.ResourceFilename)
	}
	return res
}
