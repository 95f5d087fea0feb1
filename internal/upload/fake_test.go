package upload

import (
	"context"
	"errors"
	"sync"
)

var errArchive = errors.New("archive unavailable")

type fakeArchive struct {
	mu       sync.Mutex
	uploaded []string
	releases []Release

	uploadFn  func(ctx context.Context, file Descriptor) error
	releaseFn func(ctx context.Context, release Release) error
}

func (a *fakeArchive) ListResources(ctx context.Context, datasetID string) ([]Resource, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Resource, 0, len(a.uploaded))
	for _, name := range a.uploaded {
		out = append(out, Resource{ID: name, Filename: name})
	}
	return out, nil
}

func (a *fakeArchive) UploadFile(ctx context.Context, datasetID string, file Descriptor) error {
	if a.uploadFn != nil {
		if err := a.uploadFn(ctx, file); err != nil {
			return err
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.uploaded = append(a.uploaded, file.Filename)
	return nil
}

func (a *fakeArchive) CreateRelease(ctx context.Context, datasetID string, release Release) error {
	if a.releaseFn != nil {
		if err := a.releaseFn(ctx, release); err != nil {
			return err
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.releases = append(a.releases, release)
	return nil
}

func (a *fakeArchive) uploadedFiles() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.uploaded...)
}

func (a *fakeArchive) releaseCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.releases)
}

type fakeMetrics struct {
	mu       sync.Mutex
	files    map[bool]int
	releases map[bool]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{files: map[bool]int{}, releases: map[bool]int{}}
}

func (m *fakeMetrics) RecordUploadFile(ctx context.Context, resourceType string, success bool, durationSeconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[success]++
}

func (m *fakeMetrics) RecordRelease(ctx context.Context, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases[success]++
}

func file(name string) Descriptor {
	return Descriptor{ResourceType: "inputs", Filename: name, SourceURL: "http://files/" + name}
}
