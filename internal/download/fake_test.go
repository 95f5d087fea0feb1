package download

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"reportsync/internal/testutil"
)

// fakeBackend scripts backend responses for tests.
type fakeBackend struct {
	submit   func(ctx context.Context, t ArtifactType, calibrateID string, payload []byte) (string, error)
	status   func(ctx context.Context, downloadID string, call int64) (*JobStatus, error)
	metadata func(ctx context.Context, t ArtifactType, jobID string) (*Metadata, error)

	submitCalls   atomic.Int64
	statusCalls   atomic.Int64
	metadataCalls atomic.Int64

	mu          sync.Mutex
	metadataIDs []string
	payloads    [][]byte
}

func (f *fakeBackend) Submit(ctx context.Context, t ArtifactType, calibrateID string, payload []byte) (string, error) {
	f.submitCalls.Add(1)
	f.mu.Lock()
	f.payloads = append(f.payloads, payload)
	f.mu.Unlock()
	if f.submit == nil {
		return "1", nil
	}
	return f.submit(ctx, t, calibrateID, payload)
}

func (f *fakeBackend) Status(ctx context.Context, downloadID string) (*JobStatus, error) {
	n := f.statusCalls.Add(1)
	if f.status == nil {
		return doneStatus("job-"+downloadID, true), nil
	}
	return f.status(ctx, downloadID, n)
}

func (f *fakeBackend) Metadata(ctx context.Context, t ArtifactType, jobID string) (*Metadata, error) {
	f.metadataCalls.Add(1)
	f.mu.Lock()
	f.metadataIDs = append(f.metadataIDs, jobID)
	f.mu.Unlock()
	if f.metadata == nil {
		return &Metadata{ResourceFilename: string(t) + ".csv", ResourceID: "res-" + jobID}, nil
	}
	return f.metadata(ctx, t, jobID)
}

func (f *fakeBackend) metadataJobIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.metadataIDs...)
}

func boolPtr(b bool) *bool { return &b }

func runningStatus(id string) *JobStatus {
	return &JobStatus{ID: id, Done: false, Status: "RUNNING", Progress: []string{"working"}}
}

func doneStatus(id string, success bool) *JobStatus {
	status := "COMPLETE"
	if !success {
		status = "ERROR"
	}
	return &JobStatus{ID: id, Done: true, Success: boolPtr(success), Status: status}
}

var errBoom = errors.New("boom")

func newTestManager(t *testing.T, backend Backend, cfg Config) *Manager {
	t.Helper()
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	m := NewManager(backend, nil, cfg, nil)
	t.Cleanup(m.Close)
	return m
}

func waitState(t *testing.T, m *Manager, a ArtifactType, cond func(DependencyState) bool) DependencyState {
	t.Helper()
	return testutil.MustPoll(t, func() (DependencyState, bool) {
		st, _ := m.Get(a)
		return st, cond(st)
	}, testutil.WithTimeout(5*time.Second), testutil.WithInterval(2*time.Millisecond))
}
