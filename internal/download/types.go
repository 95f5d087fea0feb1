package download

import (
	"encoding/json"
	"fmt"
	"time"
)

// ArtifactType identifies a downloadable output product.
type ArtifactType string

// Artifact types
const (
	Summary    ArtifactType = "summary"
	Spectrum   ArtifactType = "spectrum"
	Comparison ArtifactType = "comparison"
	Coarse     ArtifactType = "coarse-output"
	AGYW       ArtifactType = "agyw"
)

// AllArtifacts lists every artifact type in display order.
var AllArtifacts = []ArtifactType{Summary, Spectrum, Comparison, Coarse, AGYW}

// ParseArtifactType validates a raw artifact name.
func ParseArtifactType(s string) (ArtifactType, error) {
	t := ArtifactType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown artifact type %q", s)
	}
	return t, nil
}

// Valid reports whether t is one of the known artifact types.
func (t ArtifactType) Valid() bool {
	for _, a := range AllArtifacts {
		if a == t {
			return true
		}
	}
	return false
}

// RequiresProjectState reports whether submission must carry a project snapshot.
func (t ArtifactType) RequiresProjectState() bool {
	return t == Spectrum
}

// NoPoll is the StatusPollID of an artifact with no active poll.
const NoPoll int64 = -1

// JobStatus is the backend's view of a preparation job.
type JobStatus struct {
	ID       string   `json:"id"`
	Done     bool     `json:"done"`
	Success  *bool    `json:"success"`
	Status   string   `json:"status"`
	Progress []string `json:"progress"`
	Queue    int      `json:"queue"`
}

// Succeeded reports whether the job finished successfully.
func (s *JobStatus) Succeeded() bool {
	return s != nil && s.Done && s.Success != nil && *s.Success
}

// Metadata describes a completed artifact as a resource that can be pushed
// to the archive.
type Metadata struct {
	ResourceFilename string `json:"resourceFilename"`
	ResourceID       string `json:"resourceId,omitempty"`
	ResourceURL      string `json:"resourceUrl,omitempty"`
	ResourceName     string `json:"resourceName,omitempty"`
	ResourceType     string `json:"resourceType,omitempty"`
	LastModified     string `json:"lastModified,omitempty"`
}

// DependencyState is the lifecycle record of one artifact.
// Values are immutable snapshots; the Store owns the current one.
type DependencyState struct {
	Artifact           ArtifactType
	DownloadID         string
	FetchingDownloadID bool
	Preparing          bool
	Complete           bool
	DownloadError      error
	StatusPollID       int64
	FetchingMetadata   bool
	MetadataError      error
	Status             *JobStatus
	Metadata           *Metadata
	SubmittedAt        time.Time

	// Cycle increases on every reset. Responses issued in an older cycle
	// are dropped.
	Cycle uint64
	// Revision increases on every applied transition.
	Revision uint64
}

// PrepareRequest asks the backend to build one artifact.
type PrepareRequest struct {
	Artifact    ArtifactType
	CalibrateID string
	Payload     json.RawMessage // project state, required for spectrum only
}

// MetadataResult is the outcome of a metadata fetch.
type MetadataResult struct {
	Artifact ArtifactType
	JobID    string
	Metadata *Metadata
	Err      error
}

type errorJSON struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type stateJSON struct {
	Artifact           ArtifactType `json:"artifact"`
	DownloadID         *string      `json:"downloadId"`
	FetchingDownloadID bool         `json:"fetchingDownloadId"`
	Preparing          bool         `json:"preparing"`
	Complete           bool         `json:"complete"`
	DownloadError      *errorJSON   `json:"downloadError"`
	StatusPollID       int64        `json:"statusPollId"`
	FetchingMetadata   bool         `json:"fetchingMetadata"`
	MetadataError      *errorJSON   `json:"metadataError"`
	Status             *JobStatus   `json:"status,omitempty"`
	Metadata           *Metadata    `json:"metadata,omitempty"`
	Cycle              uint64       `json:"cycle"`
	Revision           uint64       `json:"revision"`
}

// MarshalJSON renders errors as {kind, message} objects and an unset
// download ID as null.
func (s DependencyState) MarshalJSON() ([]byte, error) {
	raw := stateJSON{
		Artifact:           s.Artifact,
		FetchingDownloadID: s.FetchingDownloadID,
		Preparing:          s.Preparing,
		Complete:           s.Complete,
		DownloadError:      toErrorJSON(s.DownloadError),
		StatusPollID:       s.StatusPollID,
		FetchingMetadata:   s.FetchingMetadata,
		MetadataError:      toErrorJSON(s.MetadataError),
		Status:             s.Status,
		Metadata:           s.Metadata,
		Cycle:              s.Cycle,
		Revision:           s.Revision,
	}
	if s.DownloadID != "" {
		id := s.DownloadID
		raw.DownloadID = &id
	}
	return json.Marshal(raw)
}

func toErrorJSON(err error) *errorJSON {
	if err == nil {
		return nil
	}
	return &errorJSON{Kind: ErrorKind(err), Message: err.Error()}
}
