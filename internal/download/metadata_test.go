package download

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"reportsync/internal/apperrors"
)

func TestMetadata_FailureKeepsCompletion(t *testing.T) {
	t.Parallel()
	var fail atomic.Bool
	fail.Store(true)
	backend := &fakeBackend{
		metadata: func(_ context.Context, _ ArtifactType, jobID string) (*Metadata, error) {
			if fail.Load() {
				return nil, errors.New("HTTP 404: no metadata")
			}
			return &Metadata{ResourceFilename: "output-summary.csv", ResourceID: jobID}, nil
		},
	}
	m := newTestManager(t, backend, Config{})

	m.Prepare(context.Background(), PrepareRequest{Artifact: Summary, CalibrateID: "calibrate1"})
	st := waitState(t, m, Summary, func(s DependencyState) bool { return s.Complete && s.Settled() })

	if !st.Complete || st.DownloadError != nil {
		t.Errorf("expected completion untouched, got complete=%v err=%v", st.Complete, st.DownloadError)
	}
	if !errors.Is(st.MetadataError, ErrMetadata) {
		t.Errorf("expected ErrMetadata, got %v", st.MetadataError)
	}
	if st.Uploadable() {
		t.Error("expected artifact without metadata to be non-uploadable")
	}

	// A user-triggered retry clears the error.
	fail.Store(false)
	res := m.FetchMetadata(context.Background(), Summary)
	if res.Err != nil {
		t.Fatalf("FetchMetadata failed: %v", res.Err)
	}
	if res.Metadata.ResourceFilename != "output-summary.csv" {
		t.Errorf("unexpected metadata %+v", res.Metadata)
	}

	st, _ = m.Get(Summary)
	if st.MetadataError != nil || st.Metadata == nil || !st.Uploadable() {
		t.Errorf("expected metadata attached after retry, got %+v", st)
	}
	if backend.metadataCalls.Load() != 2 {
		t.Errorf("expected 2 metadata calls, got %d", backend.metadataCalls.Load())
	}
}

func TestFetchMetadata_NotComplete(t *testing.T) {
	t.Parallel()
	backend := &fakeBackend{}
	m := newTestManager(t, backend, Config{})

	res := m.FetchMetadata(context.Background(), Spectrum)
	if !errors.Is(res.Err, apperrors.ErrConflict) {
		t.Errorf("expected conflict, got %v", res.Err)
	}
	if backend.metadataCalls.Load() != 0 {
		t.Error("expected no backend call for incomplete artifact")
	}
	st, _ := m.Get(Spectrum)
	if st.MetadataError != nil {
		t.Error("expected caller error not to be recorded on state")
	}

	res = m.FetchMetadata(context.Background(), "unknown")
	if !errors.Is(res.Err, apperrors.ErrNotFound) {
		t.Errorf("expected not found, got %v", res.Err)
	}
}

func TestFetchMetadata_EmptyResponse(t *testing.T) {
	t.Parallel()
	backend := &fakeBackend{
		metadata: func(context.Context, ArtifactType, string) (*Metadata, error) {
			return nil, nil
		},
	}
	m := newTestManager(t, backend, Config{})

	m.Prepare(context.Background(), PrepareRequest{Artifact: Coarse, CalibrateID: "c"})
	st := waitState(t, m, Coarse, func(s DependencyState) bool { return s.Complete && s.Settled() })

	if !errors.Is(st.MetadataError, ErrMetadata) {
		t.Errorf("expected ErrMetadata for empty response, got %v", st.MetadataError)
	}
}
