package download

import (
	"context"
	"log/slog"
	"sync"
)

// Manager submits, polls and describes artifacts for one project.
type Manager struct {
	backend Backend
	store   *Store
	config  Config
	logger  *slog.Logger
	metrics MetricsRecorder

	// ctx parents every poll and metadata request; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	polls    map[ArtifactType]*pollHandle
	nextPoll int64
	// cancelledSubmits holds the cycle of a submission cancelled while its
	// request was in flight.
	cancelledSubmits map[ArtifactType]uint64
	closed   bool
	wg       sync.WaitGroup
}

// pollHandle is the cancellable identity of one poll goroutine.
type pollHandle struct {
	id     int64
	cancel context.CancelFunc
}

// NewManager creates a Manager. A nil store tracks all artifact types; a nil
// metrics recorder disables metrics.
func NewManager(backend Backend, store *Store, cfg Config, metrics MetricsRecorder) *Manager {
	if store == nil {
		store = NewStore()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		backend: backend,
		store:   store,
		config:  cfg.withDefaults(),
		logger:  slog.With("component", "download"),
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
		polls:   make(map[ArtifactType]*pollHandle),

		cancelledSubmits: make(map[ArtifactType]uint64),
	}
}

// Store returns the state container the Manager writes to.
func (m *Manager) Store() *Store {
	return m.store
}

// Get returns the current state of an artifact.
func (m *Manager) Get(t ArtifactType) (DependencyState, bool) {
	return m.store.Get(t)
}

// Cancel stops polling an artifact. The download ID is kept so polling can
// be resumed with StartPolling. A submission still in flight is marked so
// that its response records the download ID without starting a poll.
// Returns true if a poll or a submission was active.
func (m *Manager) Cancel(t ArtifactType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, active := m.polls[t]
	if active {
		delete(m.polls, t)
		h.cancel()
	}

	var submitting bool
	m.store.Update(t, func(s DependencyState) (DependencyState, bool) {
		if s.FetchingDownloadID {
			submitting = true
			m.cancelledSubmits[t] = s.Cycle
		}
		if !s.Polling() && !s.Preparing {
			return s, false
		}
		return cancelled(s), true
	})

	switch {
	case active:
		if m.metrics != nil {
			m.metrics.RecordDownloadCancelled(context.Background(), string(t))
		}
		m.logger.Info("Polling cancelled", "artifact", t, "pollId", h.id)
	case submitting:
		if m.metrics != nil {
			m.metrics.RecordDownloadCancelled(context.Background(), string(t))
		}
		m.logger.Info("Submission cancelled, response will not start polling", "artifact", t)
	}
	return active || submitting
}

// Reset cancels any poll and returns the artifact to its initial state in a
// new cycle. Responses still in flight for the old cycle are dropped.
func (m *Manager) Reset(t ArtifactType) DependencyState {
	m.Cancel(t)
	st, _ := m.store.Update(t, func(s DependencyState) (DependencyState, bool) {
		return reset(s), true
	})
	m.logger.Info("Download reset", "artifact", t, "cycle", st.Cycle)
	return st
}

// Await blocks until the artifact has no outstanding request, or ctx ends.
func (m *Manager) Await(ctx context.Context, t ArtifactType) (DependencyState, error) {
	changed := make(chan struct{}, 1)
	unsubscribe := m.store.Subscribe(func(s DependencyState) {
		if s.Artifact != t {
			return
		}
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	for {
		st, _ := m.store.Get(t)
		if st.Settled() {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-changed:
		}
	}
}

// Close cancels all polls and metadata requests and waits for them to exit.
// Artifacts that were polling are left cancelled, with their download IDs.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	active := len(m.polls)
	for t, h := range m.polls {
		delete(m.polls, t)
		h.cancel()
		m.store.Update(t, func(s DependencyState) (DependencyState, bool) {
			if s.StatusPollID != h.id {
				return s, false
			}
			return cancelled(s), true
		})
	}
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	m.logger.Info("Download manager closed", "activePolls", active)
}

// activePoll reports the handle ID polling t, or NoPoll.
func (m *Manager) activePoll(t ArtifactType) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.polls[t]; ok {
		return h.id
	}
	return NoPoll
}
