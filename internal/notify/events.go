// Package notify publishes download and upload lifecycle events as
// CloudEvents to webhook subscribers and Redis.
package notify

import (
	"fmt"
	"slices"
	"time"

	"reportsync/internal/download"
	"reportsync/internal/upload"
	"reportsync/pkg/cloudevent"
)

// Event types
const (
	EventDownloadSubmitted = "reportsync.download.submitted"
	EventDownloadComplete  = "reportsync.download.complete"
	EventDownloadFailed    = "reportsync.download.failed"
	EventDownloadMetadata  = "reportsync.download.metadata"
	EventUploadFinished    = "reportsync.upload.finished"
)

// Filtered returns true if the event type should be sent based on the filter.
// If the filter is empty, all events are allowed.
func Filtered(eventType string, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	return slices.Contains(filter, eventType)
}

// EventBuilder builds CloudEvents for lifecycle changes.
type EventBuilder struct {
	source string
}

// NewEventBuilder creates a new EventBuilder.
func NewEventBuilder(source string) *EventBuilder {
	if source == "" {
		source = "reportsync"
	}
	return &EventBuilder{source: source}
}

// Build creates a new CloudEvent with the given type, subject and data.
func (b *EventBuilder) Build(eventType, subject string, data map[string]any) *cloudevent.CloudEvent {
	eventID := fmt.Sprintf("%s-%d", subject, time.Now().UnixNano())
	return cloudevent.New(eventType, b.source, subject, eventID, data)
}

// Transitions returns the events implied by moving from prev to next. A reset
// produces none.
func (b *EventBuilder) Transitions(prev, next download.DependencyState) []*cloudevent.CloudEvent {
	var events []*cloudevent.CloudEvent
	subject := string(next.Artifact)

	if prev.DownloadID == "" && next.DownloadID != "" {
		events = append(events, b.downloadEvent(EventDownloadSubmitted, next, nil))
	}
	if !prev.Complete && next.Complete {
		events = append(events, b.downloadEvent(EventDownloadComplete, next, nil))
	}
	if prev.DownloadError == nil && next.DownloadError != nil {
		events = append(events, b.downloadEvent(EventDownloadFailed, next, map[string]any{
			"error": errorData(next.DownloadError),
		}))
	}
	if prev.Metadata == nil && next.Metadata != nil {
		events = append(events, b.downloadEvent(EventDownloadMetadata, next, map[string]any{
			"metadata": next.Metadata,
		}))
	}
	if prev.MetadataError == nil && next.MetadataError != nil {
		events = append(events, b.downloadEvent(EventDownloadMetadata, next, map[string]any{
			"error": errorData(next.MetadataError),
		}))
	}

	for _, e := range events {
		e.Subject = subject
	}
	return events
}

func (b *EventBuilder) downloadEvent(eventType string, st download.DependencyState, extra map[string]any) *cloudevent.CloudEvent {
	data := map[string]any{
		"artifact":   st.Artifact,
		"downloadId": st.DownloadID,
	}
	if st.Status != nil {
		data["status"] = st.Status.Status
		data["jobId"] = st.Status.ID
	}
	for k, v := range extra {
		data[k] = v
	}
	return b.Build(eventType, string(st.Artifact), data).WithExtension("downloadid", st.DownloadID)
}

// UploadFinished creates the event for a finished upload session.
func (b *EventBuilder) UploadFinished(out *upload.Outcome) *cloudevent.CloudEvent {
	files := make([]map[string]any, 0, len(out.Files))
	for _, f := range out.Files {
		file := map[string]any{
			"filename":     f.File.Filename,
			"resourceType": f.File.ResourceType,
			"status":       f.Status,
		}
		if f.Err != nil {
			file["error"] = f.Err.Error()
		}
		files = append(files, file)
	}
	data := map[string]any{
		"sessionId":        out.SessionID,
		"datasetId":        out.DatasetID,
		"status":           out.Status,
		"files":            files,
		"releaseRequested": out.ReleaseRequested,
		"releaseCreated":   out.ReleaseCreated,
	}
	if out.ReleaseErr != nil {
		data["releaseError"] = out.ReleaseErr.Error()
	}
	return b.Build(EventUploadFinished, out.SessionID, data).WithExtension("datasetid", out.DatasetID)
}

func errorData(err error) map[string]any {
	return map[string]any{
		"kind":    download.ErrorKind(err),
		"message": err.Error(),
	}
}
