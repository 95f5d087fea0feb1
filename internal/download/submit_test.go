package download

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"reportsync/internal/apperrors"
)

func TestPrepare_Idempotent(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	backend := &fakeBackend{
		submit: func(ctx context.Context, _ ArtifactType, _ string, _ []byte) (string, error) {
			<-release
			return "1", nil
		},
		status: func(context.Context, string, int64) (*JobStatus, error) {
			return runningStatus("job-1"), nil
		},
	}
	m := newTestManager(t, backend, Config{})

	done := make(chan bool, 1)
	go func() {
		ok, _ := m.Prepare(context.Background(), PrepareRequest{Artifact: Summary, CalibrateID: "calibrate1"})
		done <- ok
	}()

	waitState(t, m, Summary, func(s DependencyState) bool { return s.FetchingDownloadID })

	accepted, err := m.Prepare(context.Background(), PrepareRequest{Artifact: Summary, CalibrateID: "calibrate1"})
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if accepted {
		t.Error("expected second Prepare to be a no-op while the first is in flight")
	}

	close(release)
	if !<-done {
		t.Error("expected first Prepare to be accepted")
	}

	// A download ID now exists, so further calls stay no-ops.
	accepted, _ = m.Prepare(context.Background(), PrepareRequest{Artifact: Summary, CalibrateID: "calibrate1"})
	if accepted {
		t.Error("expected Prepare to be a no-op once a download ID exists")
	}

	if n := backend.submitCalls.Load(); n != 1 {
		t.Errorf("expected exactly 1 submit call, got %d", n)
	}
}

func TestPrepare_BackendError(t *testing.T) {
	t.Parallel()
	backend := &fakeBackend{
		submit: func(context.Context, ArtifactType, string, []byte) (string, error) {
			return "", errors.New("HTTP 500: internal server error")
		},
	}
	m := newTestManager(t, backend, Config{})

	accepted, err := m.Prepare(context.Background(), PrepareRequest{Artifact: Summary, CalibrateID: "calibrate1"})
	if err != nil {
		t.Fatalf("expected error to be recorded, not returned: %v", err)
	}
	if !accepted {
		t.Error("expected submission to be attempted")
	}

	st, _ := m.Get(Summary)
	if !errors.Is(st.DownloadError, ErrSubmission) {
		t.Errorf("expected ErrSubmission, got %v", st.DownloadError)
	}
	if st.DownloadError.Error() != "HTTP 500: internal server error" {
		t.Errorf("unexpected message %q", st.DownloadError.Error())
	}
	if st.FetchingDownloadID || st.Preparing {
		t.Errorf("expected fetching and preparing cleared, got %+v", st)
	}
	if st.StatusPollID != NoPoll {
		t.Errorf("expected no poll, got %d", st.StatusPollID)
	}
	if m.activePoll(Summary) != NoPoll {
		t.Error("expected no poll goroutine")
	}
	if backend.statusCalls.Load() != 0 {
		t.Error("expected no status requests")
	}

	// The guard allows a retry because no download ID was issued.
	backend.submit = nil
	accepted, _ = m.Prepare(context.Background(), PrepareRequest{Artifact: Summary, CalibrateID: "calibrate1"})
	if !accepted {
		t.Error("expected retry after submission failure to be accepted")
	}
}

func TestPrepare_SpectrumRequiresState(t *testing.T) {
	t.Parallel()
	backend := &fakeBackend{}
	m := newTestManager(t, backend, Config{})

	m.Prepare(context.Background(), PrepareRequest{Artifact: Spectrum, CalibrateID: "calibrate1"})

	st, _ := m.Get(Spectrum)
	if !errors.Is(st.DownloadError, ErrSubmission) {
		t.Errorf("expected ErrSubmission, got %v", st.DownloadError)
	}
	if backend.submitCalls.Load() != 0 {
		t.Error("expected backend not to be called without project state")
	}

	m.Prepare(context.Background(), PrepareRequest{
		Artifact:    Spectrum,
		CalibrateID: "calibrate1",
		Payload:     []byte(`{"modelFit":{}}`),
	})
	if backend.submitCalls.Load() != 1 {
		t.Fatalf("expected 1 submit call, got %d", backend.submitCalls.Load())
	}
	if string(backend.payloads[0]) != `{"modelFit":{}}` {
		t.Errorf("unexpected payload %s", backend.payloads[0])
	}
}

func TestPrepare_Validation(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, &fakeBackend{}, Config{})

	tests := []struct {
		name string
		req  PrepareRequest
	}{
		{"unknown artifact", PrepareRequest{Artifact: "report", CalibrateID: "c"}},
		{"missing calibrate id", PrepareRequest{Artifact: Summary}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Prepare(context.Background(), tt.req)
			if !errors.Is(err, apperrors.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestPrepare_StaleResponseAfterReset(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	backend := &fakeBackend{
		submit: func(context.Context, ArtifactType, string, []byte) (string, error) {
			<-release
			return "old", nil
		},
	}
	m := newTestManager(t, backend, Config{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Prepare(context.Background(), PrepareRequest{Artifact: Comparison, CalibrateID: "c"})
	}()
	waitState(t, m, Comparison, func(s DependencyState) bool { return s.FetchingDownloadID })

	m.Reset(Comparison)
	close(release)
	<-done

	st, _ := m.Get(Comparison)
	if st.DownloadID != "" || st.Polling() {
		t.Errorf("expected stale response to be dropped, got %+v", st)
	}
	if st.Cycle != 1 {
		t.Errorf("expected cycle 1, got %d", st.Cycle)
	}
}

func TestPrepareAll(t *testing.T) {
	t.Parallel()
	backend := &fakeBackend{
		submit: func(_ context.Context, a ArtifactType, _ string, _ []byte) (string, error) {
			if a == Coarse {
				return "", errBoom
			}
			return "id-" + string(a), nil
		},
		status: func(context.Context, string, int64) (*JobStatus, error) {
			return runningStatus("job"), nil
		},
	}
	m := newTestManager(t, backend, Config{})

	accepted, err := m.PrepareAll(context.Background(), "calibrate1",
		[]ArtifactType{Summary, Spectrum, Coarse},
		map[ArtifactType][]byte{Spectrum: []byte(`{}`)})
	if err != nil {
		t.Fatalf("PrepareAll failed: %v", err)
	}
	for _, a := range []ArtifactType{Summary, Spectrum, Coarse} {
		if !accepted[a] {
			t.Errorf("expected %s accepted", a)
		}
	}

	for _, a := range []ArtifactType{Summary, Spectrum} {
		st, _ := m.Get(a)
		if st.DownloadID != "id-"+string(a) {
			t.Errorf("%s: expected download id, got %q", a, st.DownloadID)
		}
	}
	st, _ := m.Get(Coarse)
	if !errors.Is(st.DownloadError, ErrSubmission) {
		t.Errorf("expected coarse submission error, got %v", st.DownloadError)
	}

	if _, err := m.PrepareAll(context.Background(), "c", []ArtifactType{"bogus"}, nil); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("expected validation error for unknown artifact, got %v", err)
	}
}

func TestPrepare_CancelDuringSubmission(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	backend := &fakeBackend{
		submit: func(context.Context, ArtifactType, string, []byte) (string, error) {
			<-release
			return "1", nil
		},
		status: func(context.Context, string, int64) (*JobStatus, error) {
			return runningStatus("job-1"), nil
		},
	}
	m := newTestManager(t, backend, Config{})

	done := make(chan bool, 1)
	go func() {
		ok, _ := m.Prepare(context.Background(), PrepareRequest{Artifact: Summary, CalibrateID: "calibrate1"})
		done <- ok
	}()
	waitState(t, m, Summary, func(s DependencyState) bool { return s.FetchingDownloadID })

	if !m.Cancel(Summary) {
		t.Error("expected Cancel to report the in-flight submission")
	}
	close(release)
	if !<-done {
		t.Fatal("expected Prepare to be accepted")
	}

	st, _ := m.Get(Summary)
	if st.DownloadID != "1" {
		t.Errorf("expected the late download ID to be recorded, got %q", st.DownloadID)
	}
	if st.Polling() || st.Preparing || st.FetchingDownloadID {
		t.Errorf("expected no poll after cancel, got %+v", st)
	}

	time.Sleep(20 * time.Millisecond)
	if n := backend.statusCalls.Load(); n != 0 {
		t.Errorf("expected no status requests after cancel, got %d", n)
	}

	// The kept download ID lets polling resume.
	if !m.StartPolling(Summary) {
		t.Error("expected polling to resume after cancel")
	}
}

func TestPrepare_CancelRacingPollStart(t *testing.T) {
	t.Parallel()
	backend := &fakeBackend{
		status: func(context.Context, string, int64) (*JobStatus, error) {
			return runningStatus("job-1"), nil
		},
	}
	m := newTestManager(t, backend, Config{})

	// Cancel from another goroutine as soon as the download ID lands, while
	// Prepare is still between the submit response and the poll start.
	cancelled := make(chan struct{})
	var fired atomic.Bool
	unsubscribe := m.Store().Subscribe(func(s DependencyState) {
		if s.Artifact != Summary || s.DownloadID == "" || !fired.CompareAndSwap(false, true) {
			return
		}
		go func() {
			m.Cancel(Summary)
			close(cancelled)
		}()
	})
	defer unsubscribe()

	if ok, err := m.Prepare(context.Background(), PrepareRequest{Artifact: Summary, CalibrateID: "calibrate1"}); !ok || err != nil {
		t.Fatalf("Prepare = %v, %v", ok, err)
	}
	<-cancelled

	st, _ := m.Get(Summary)
	if st.Polling() || st.Preparing {
		t.Errorf("expected cancel to win over the poll start, got %+v", st)
	}
	calls := backend.statusCalls.Load()
	time.Sleep(20 * time.Millisecond)
	if n := backend.statusCalls.Load(); n > calls+1 {
		t.Errorf("expected polling to stop after cancel, status calls went %d -> %d", calls, n)
	}
}
