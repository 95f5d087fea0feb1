package download

import (
	"context"
	"fmt"
	"time"
)

// StartPolling starts the poll goroutine for an artifact that has a download
// ID and has not reached a terminal state. It returns false, and starts
// nothing, when a poll is already active for the artifact.
func (m *Manager) StartPolling(t ArtifactType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startPollingLocked(t)
}

// startPollingLocked must be called with mu held.
func (m *Manager) startPollingLocked(t ArtifactType) bool {
	if m.closed {
		return false
	}
	if h, active := m.polls[t]; active {
		m.logger.Warn("Polling already active", "artifact", t, "pollId", h.id)
		return false
	}

	st, ok := m.store.Get(t)
	if !ok || st.DownloadID == "" || st.Complete || st.Failed() {
		return false
	}

	m.nextPoll++
	ctx, cancel := context.WithCancel(m.ctx)
	h := &pollHandle{id: m.nextPoll, cancel: cancel}
	m.polls[t] = h

	// The handle is recorded before the first tick so it can always be
	// found and cancelled.
	m.store.Update(t, func(s DependencyState) (DependencyState, bool) {
		return pollingStarted(s, h.id), true
	})

	if m.metrics != nil {
		m.metrics.RecordPollStarted(ctx, string(t))
	}

	m.wg.Add(1)
	go m.poll(ctx, t, h, st.DownloadID, st.SubmittedAt)

	m.logger.Debug("Polling started", "artifact", t, "downloadId", st.DownloadID, "pollId", h.id)
	return true
}

// poll queries job status on every tick until the job is done, the request
// fails or the handle is cancelled.
func (m *Manager) poll(ctx context.Context, t ArtifactType, h *pollHandle, downloadID string, submittedAt time.Time) {
	defer m.wg.Done()
	defer h.cancel()

	logger := m.logger.With("artifact", t, "downloadId", downloadID, "pollId", h.id)

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		attempts++
		status, err := m.backend.Status(ctx, downloadID)
		if ctx.Err() != nil {
			return
		}
		if m.metrics != nil {
			m.metrics.RecordPollTick(ctx, string(t), err == nil)
		}

		if err != nil {
			if m.finishPoll(t, h, func(s DependencyState) DependencyState {
				return pollFailed(s, pollTransportError(err))
			}) {
				logger.Warn("Status request failed", "error", err, "attempts", attempts)
				m.recordCompleted(t, false, submittedAt)
			}
			return
		}

		if !status.Done {
			if m.config.MaxPollAttempts > 0 && attempts >= m.config.MaxPollAttempts {
				if m.finishPoll(t, h, func(s DependencyState) DependencyState {
					s.Status = status
					return pollFailed(s, pollTransportError(fmt.Errorf("%w after %d requests", ErrPollAttemptsExceeded, attempts)))
				}) {
					logger.Warn("Polling gave up", "attempts", attempts)
					m.recordCompleted(t, false, submittedAt)
				}
				return
			}
			if _, applied := m.store.Update(t, func(s DependencyState) (DependencyState, bool) {
				if s.StatusPollID != h.id {
					return s, false
				}
				return statusUpdated(s, status), true
			}); !applied {
				logger.Debug("Discarding stale status response")
				return
			}
			continue
		}

		if !m.finishPoll(t, h, func(s DependencyState) DependencyState {
			return statusUpdated(s, status)
		}) {
			logger.Debug("Discarding stale status response")
			return
		}

		success := status.Succeeded()
		m.recordCompleted(t, success, submittedAt)
		if !success {
			logger.Warn("Download job failed", "status", status.Status, "attempts", attempts)
			return
		}

		logger.Info("Download complete", "jobId", status.ID, "attempts", attempts)
		if res := m.fetchMetadata(m.ctx, t); res.Err != nil {
			logger.Warn("Metadata fetch failed", "jobId", res.JobID, "error", res.Err)
		}
		return
	}
}

// finishPoll applies a terminal transition if h is still the artifact's
// active handle, and releases the handle.
func (m *Manager) finishPoll(t ArtifactType, h *pollHandle, fn func(DependencyState) DependencyState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.polls[t]; ok && cur == h {
		delete(m.polls, t)
	}
	_, applied := m.store.Update(t, func(s DependencyState) (DependencyState, bool) {
		if s.StatusPollID != h.id {
			return s, false
		}
		return fn(s), true
	})
	return applied
}

func (m *Manager) recordCompleted(t ArtifactType, success bool, submittedAt time.Time) {
	if m.metrics == nil {
		return
	}
	var duration float64
	if !submittedAt.IsZero() {
		duration = time.Since(submittedAt).Seconds()
	}
	m.metrics.RecordDownloadCompleted(context.Background(), string(t), success, duration)
}
