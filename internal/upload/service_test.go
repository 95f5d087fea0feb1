package upload

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"reportsync/internal/apperrors"
	"reportsync/internal/download"
	"reportsync/internal/testutil"
)

type serviceFixture struct {
	svc      *Service
	archive  *fakeArchive
	mu       sync.Mutex
	outcomes []*Outcome
}

func (f *serviceFixture) finished() []*Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Outcome(nil), f.outcomes...)
}

func newServiceFixture(t *testing.T, archive *fakeArchive, downloads *download.Manager) *serviceFixture {
	t.Helper()
	tracker, err := NewTracker(8)
	if err != nil {
		t.Fatalf("NewTracker failed: %v", err)
	}
	f := &serviceFixture{archive: archive}
	cfg := ServiceConfig{
		Coordinator: NewCoordinator(archive, nil),
		Tracker:     tracker,
		OnFinish: func(out *Outcome) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.outcomes = append(f.outcomes, out)
		},
	}
	if downloads != nil {
		cfg.Planner = NewPlanner(downloads)
		cfg.States = downloads.Store().Snapshot
	}
	f.svc = NewService(cfg)
	t.Cleanup(f.svc.Close)
	return f
}

func waitFinished(t *testing.T, svc *Service, id string) Session {
	t.Helper()
	var session Session
	testutil.MustWaitFor(t, func() bool {
		s, err := svc.Get(id)
		session = s
		return err == nil && s.Status == SessionFinished
	}, testutil.WithTimeout(5*time.Second), testutil.WithInterval(2*time.Millisecond))
	return session
}

func TestService_UploadsInputs(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t, &fakeArchive{}, nil)

	session, err := f.svc.Start(StartRequest{
		DatasetID:     "ds1",
		Inputs:        []Descriptor{file("a.csv"), file("b.csv")},
		CreateRelease: true,
		Release:       Release{Name: "v1"},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if session.ID == "" || session.Status != SessionPreparing {
		t.Errorf("unexpected session %+v", session)
	}

	done := waitFinished(t, f.svc, session.ID)
	if done.Outcome == nil || done.Outcome.Status != OutcomeSuccess {
		t.Fatalf("unexpected outcome %+v", done.Outcome)
	}
	if len(done.Files) != 2 || done.Total != 2 {
		t.Errorf("unexpected session %+v", done)
	}
	if len(f.finished()) != 1 {
		t.Errorf("expected OnFinish once, got %d", len(f.finished()))
	}
}

func TestService_PreparesArtifactsOnDemand(t *testing.T) {
	t.Parallel()
	m, _ := newTestDownloads(t)
	f := newServiceFixture(t, &fakeArchive{}, m)

	session, err := f.svc.Start(StartRequest{
		DatasetID:   "ds1",
		CalibrateID: "calibrate1",
		Artifacts:   []download.ArtifactType{download.Summary, download.Spectrum},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	done := waitFinished(t, f.svc, session.ID)
	if done.Outcome.Status != OutcomeFileErrors {
		t.Errorf("expected spectrum failure to give file_errors, got %s", done.Outcome.Status)
	}
	if got := f.archive.uploadedFiles(); len(got) != 1 || got[0] != "summary.out" {
		t.Errorf("expected summary uploaded, got %v", got)
	}
}

func TestService_DefaultSelectionUsesReadyArtifacts(t *testing.T) {
	t.Parallel()
	m, _ := newTestDownloads(t)
	f := newServiceFixture(t, &fakeArchive{}, m)

	if _, err := f.svc.Start(StartRequest{DatasetID: "ds1"}); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected nothing to upload, got %v", err)
	}

	m.Prepare(context.Background(), download.PrepareRequest{Artifact: download.Summary, CalibrateID: "calibrate1"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := m.Await(ctx, download.Summary); err != nil {
		t.Fatalf("Await failed: %v", err)
	}

	session, err := f.svc.Start(StartRequest{DatasetID: "ds1"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFinished(t, f.svc, session.ID)
	if got := f.archive.uploadedFiles(); len(got) != 1 || got[0] != "summary.out" {
		t.Errorf("expected summary uploaded, got %v", got)
	}
}

func TestService_Cancel(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	archive := &fakeArchive{
		uploadFn: func(ctx context.Context, f Descriptor) error {
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
	f := newServiceFixture(t, archive, nil)

	session, err := f.svc.Start(StartRequest{
		DatasetID: "ds1",
		Inputs:    []Descriptor{file("a.csv"), file("b.csv")},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	testutil.MustWaitFor(t, func() bool {
		s, _ := f.svc.Get(session.ID)
		return s.CurrentFile != nil
	}, testutil.WithTimeout(5*time.Second), testutil.WithInterval(2*time.Millisecond))

	if !f.svc.Cancel(session.ID) {
		t.Fatal("expected running session to cancel")
	}
	done := waitFinished(t, f.svc, session.ID)
	if done.Outcome.Status != OutcomeCancelled {
		t.Errorf("expected cancelled, got %s", done.Outcome.Status)
	}
	if f.svc.Cancel(session.ID) {
		t.Error("expected finished session not to cancel")
	}
	close(release)
}

func TestService_SelectNarrowsDefaultSelection(t *testing.T) {
	t.Parallel()
	m, _ := newTestDownloads(t)
	archive := &fakeArchive{}
	f := newServiceFixture(t, archive, m)

	m.Prepare(context.Background(), download.PrepareRequest{Artifact: download.Summary, CalibrateID: "calibrate1"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := m.Await(ctx, download.Summary); err != nil {
		t.Fatalf("Await failed: %v", err)
	}

	pjnz := Descriptor{ResourceType: "inputs-pjnz", Filename: "malawi.pjnz", SourceURL: "http://files/malawi.pjnz"}

	if _, err := f.svc.Start(StartRequest{DatasetID: "ds1", Inputs: []Descriptor{pjnz}, Select: []string{"comparison"}}); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected an empty selection to be rejected, got %v", err)
	}

	session, err := f.svc.Start(StartRequest{DatasetID: "ds1", Inputs: []Descriptor{pjnz}, Select: []string{"inputs-pjnz"}})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFinished(t, f.svc, session.ID)
	if got := archive.uploadedFiles(); len(got) != 1 || got[0] != "malawi.pjnz" {
		t.Errorf("expected only the selected input, got %v", got)
	}
}

func TestService_Validation(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t, &fakeArchive{}, nil)
	tests := []struct {
		name string
		req  StartRequest
	}{
		{"no dataset", StartRequest{Inputs: []Descriptor{file("a.csv")}}},
		{"release without name", StartRequest{DatasetID: "ds1", Inputs: []Descriptor{file("a.csv")}, CreateRelease: true}},
		{"artifacts without planner", StartRequest{DatasetID: "ds1", Artifacts: []download.ArtifactType{download.Summary}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.Start(tt.req); !errors.Is(err, apperrors.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}

	if _, err := f.svc.Get("missing"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestTracker_Progress(t *testing.T) {
	t.Parallel()
	tracker, err := NewTracker(1)
	if err != nil {
		t.Fatalf("NewTracker failed: %v", err)
	}

	first := tracker.Create("ds1")
	tracker.Uploading(first.ID, 1)
	tracker.Progress(Progress{SessionID: first.ID, Index: 1, Total: 1, File: file("a.csv"), Status: FileUploading})

	s, ok := tracker.Get(first.ID)
	if !ok || s.Status != SessionUploading || s.CurrentFile == nil || s.CurrentFile.Filename != "a.csv" {
		t.Fatalf("unexpected session %+v", s)
	}

	tracker.Progress(Progress{SessionID: first.ID, Index: 1, Total: 1, File: file("a.csv"), Status: FileUploaded})
	s, _ = tracker.Get(first.ID)
	if s.CurrentFile != nil || len(s.Files) != 1 {
		t.Errorf("unexpected session after upload %+v", s)
	}

	second := tracker.Create("ds2")
	if _, ok := tracker.Get(first.ID); ok {
		t.Error("expected oldest session evicted")
	}
	if _, ok := tracker.Get(second.ID); !ok {
		t.Error("expected newest session kept")
	}
}
