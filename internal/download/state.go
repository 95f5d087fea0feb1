package download

import "time"

// Initial returns the not-yet-requested state for an artifact.
func Initial(t ArtifactType) DependencyState {
	return DependencyState{
		Artifact:     t,
		StatusPollID: NoPoll,
	}
}

// CanSubmit reports whether a new submission may start.
func (s DependencyState) CanSubmit() bool {
	return s.DownloadID == "" && !s.FetchingDownloadID
}

// Polling reports whether a poll handle is active.
func (s DependencyState) Polling() bool {
	return s.StatusPollID != NoPoll
}

// Failed reports whether submission or the job failed.
func (s DependencyState) Failed() bool {
	return s.DownloadError != nil
}

// Settled reports whether no request for this artifact is outstanding.
func (s DependencyState) Settled() bool {
	return !s.FetchingDownloadID && !s.Preparing && !s.Polling() && !s.FetchingMetadata
}

// Uploadable reports whether the artifact can be pushed to the archive.
func (s DependencyState) Uploadable() bool {
	return s.Complete && s.DownloadError == nil && s.MetadataError == nil && s.Metadata != nil
}

// JobID is the identifier metadata is keyed by.
func (s DependencyState) JobID() string {
	if s.Status != nil && s.Status.ID != "" {
		return s.Status.ID
	}
	return s.DownloadID
}

func submissionStarted(s DependencyState) DependencyState {
	s.FetchingDownloadID = true
	return s
}

func submissionSucceeded(s DependencyState, downloadID string, at time.Time) DependencyState {
	s.DownloadID = downloadID
	s.FetchingDownloadID = false
	s.Preparing = true
	s.DownloadError = nil
	s.SubmittedAt = at
	return s
}

func submissionFailed(s DependencyState, err error) DependencyState {
	s.FetchingDownloadID = false
	s.Preparing = false
	s.DownloadError = err
	return s
}

func pollingStarted(s DependencyState, pollID int64) DependencyState {
	s.StatusPollID = pollID
	s.Preparing = true
	return s
}

// statusUpdated records a poll response. A done status is terminal and
// clears the poll handle whatever the outcome.
func statusUpdated(s DependencyState, status *JobStatus) DependencyState {
	s.Status = status
	if !status.Done {
		return s
	}
	s.StatusPollID = NoPoll
	s.Preparing = false
	if status.Succeeded() {
		s.Complete = true
		s.DownloadError = nil
		s.FetchingMetadata = true
		return s
	}
	s.DownloadError = jobFailure(status)
	return s
}

func pollFailed(s DependencyState, err error) DependencyState {
	s.StatusPollID = NoPoll
	s.Preparing = false
	s.DownloadError = err
	return s
}

func metadataStarted(s DependencyState) DependencyState {
	s.FetchingMetadata = true
	return s
}

func metadataFetched(s DependencyState, md *Metadata) DependencyState {
	s.FetchingMetadata = false
	s.Metadata = md
	s.MetadataError = nil
	return s
}

func metadataFailed(s DependencyState, err error) DependencyState {
	s.FetchingMetadata = false
	s.MetadataError = err
	return s
}

func cancelled(s DependencyState) DependencyState {
	s.StatusPollID = NoPoll
	s.Preparing = false
	return s
}

func reset(s DependencyState) DependencyState {
	next := Initial(s.Artifact)
	next.Cycle = s.Cycle + 1
	return next
}
