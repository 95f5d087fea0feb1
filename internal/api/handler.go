// Package api provides the HTTP API handlers and routing for the reportsync service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"reportsync/internal/apperrors"
	"reportsync/internal/backend"
	"reportsync/internal/download"
	"reportsync/internal/health"
	"reportsync/internal/upload"
)

// maxRequestBodySize limits request body to 1MB to prevent memory exhaustion
const maxRequestBodySize = 1 << 20 // 1 MB

// Downloads is the download manager as seen by the API.
type Downloads interface {
	Store() *download.Store
	Get(t download.ArtifactType) (download.DependencyState, bool)
	Prepare(ctx context.Context, req download.PrepareRequest) (bool, error)
	PrepareAll(ctx context.Context, calibrateID string, artifacts []download.ArtifactType, payloads map[download.ArtifactType][]byte) (map[download.ArtifactType]bool, error)
	FetchMetadata(ctx context.Context, t download.ArtifactType) download.MetadataResult
	Cancel(t download.ArtifactType) bool
	Reset(t download.ArtifactType) download.DependencyState
}

// Results streams completed artifacts.
type Results interface {
	Result(ctx context.Context, downloadID string) (*backend.Result, error)
}

// Uploads runs upload sessions.
type Uploads interface {
	Start(req upload.StartRequest) (upload.Session, error)
	Get(id string) (upload.Session, error)
	Cancel(id string) bool
}

// Resources lists the files in an archive dataset.
type Resources interface {
	ListResources(ctx context.Context, datasetID string) ([]upload.Resource, error)
}

// HandlerConfig holds the dependencies of a Handler.
type HandlerConfig struct {
	Downloads     Downloads
	Results       Results
	Uploads       Uploads
	Archive       Resources
	HealthChecker *health.Checker
}

// Handler contains HTTP handlers for the reportsync API
type Handler struct {
	downloads Downloads
	results   Results
	uploads   Uploads
	archive   Resources
	health    *health.Checker

	upgrader  websocket.Upgrader
	done      chan struct{}
	closeOnce sync.Once
}

// NewHandler creates a new API handler
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		downloads: cfg.Downloads,
		results:   cfg.Results,
		uploads:   cfg.Uploads,
		archive:   cfg.Archive,
		health:    cfg.HealthChecker,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		done: make(chan struct{}),
	}
}

// Close ends open state streams. http.Server.Shutdown does not wait for
// hijacked connections.
func (h *Handler) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// prepareRequest is the body of the prepare endpoints. State is the project
// snapshot the spectrum artifact is built from.
type prepareRequest struct {
	CalibrateID string          `json:"calibrateId"`
	State       json.RawMessage `json:"state,omitempty"`
	Artifacts   []string        `json:"artifacts,omitempty"`
}

// ListDownloads handles GET /v1/downloads
func (h *Handler) ListDownloads(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"downloads": h.downloads.Store().Snapshot(),
	})
}

// GetDownload handles GET /v1/downloads/{artifact}
func (h *Handler) GetDownload(w http.ResponseWriter, r *http.Request) {
	st, err := h.state(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

// PrepareDownload handles POST /v1/downloads/{artifact}/prepare
func (h *Handler) PrepareDownload(w http.ResponseWriter, r *http.Request) {
	t, err := artifactParam(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	var req prepareRequest
	if !h.decode(w, r, &req) {
		return
	}

	// The submission outlives a disconnecting client; its outcome is
	// recorded on the state either way.
	submitted, err := h.downloads.Prepare(context.WithoutCancel(r.Context()), download.PrepareRequest{
		Artifact:    t,
		CalibrateID: req.CalibrateID,
		Payload:     req.State,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	st, _ := h.downloads.Get(t)
	h.writeJSON(w, http.StatusAccepted, map[string]any{
		"submitted": submitted,
		"download":  st,
	})
}

// PrepareAll handles POST /v1/downloads/prepare-all
func (h *Handler) PrepareAll(w http.ResponseWriter, r *http.Request) {
	var req prepareRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.CalibrateID == "" {
		h.handleError(w, r, apperrors.Validation("calibrateId", "calibrate ID is required"))
		return
	}

	artifacts, err := parseArtifacts(req.Artifacts)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if len(artifacts) == 0 {
		for _, st := range h.downloads.Store().Snapshot() {
			artifacts = append(artifacts, st.Artifact)
		}
	}

	payloads := make(map[download.ArtifactType][]byte)
	for _, t := range artifacts {
		if t.RequiresProjectState() && len(req.State) > 0 {
			payloads[t] = req.State
		}
	}

	accepted, err := h.downloads.PrepareAll(context.WithoutCancel(r.Context()), req.CalibrateID, artifacts, payloads)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	submitted := make(map[string]bool, len(accepted))
	for t, ok := range accepted {
		submitted[string(t)] = ok
	}
	h.writeJSON(w, http.StatusAccepted, map[string]any{
		"submitted": submitted,
		"downloads": h.downloads.Store().Snapshot(),
	})
}

// FetchMetadata handles POST /v1/downloads/{artifact}/metadata
func (h *Handler) FetchMetadata(w http.ResponseWriter, r *http.Request) {
	t, err := artifactParam(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	res := h.downloads.FetchMetadata(r.Context(), t)
	switch {
	case res.Err == nil:
		h.writeJSON(w, http.StatusOK, map[string]any{
			"artifact": res.Artifact,
			"jobId":    res.JobID,
			"metadata": res.Metadata,
		})
	case errors.Is(res.Err, download.ErrMetadata):
		slog.Warn("Metadata fetch failed", "artifact", t, "error", res.Err)
		h.writeJSON(w, http.StatusBadGateway, map[string]any{
			"artifact": res.Artifact,
			"jobId":    res.JobID,
			"error":    res.Err.Error(),
		})
	default:
		h.handleError(w, r, res.Err)
	}
}

// CancelDownload handles DELETE /v1/downloads/{artifact}
func (h *Handler) CancelDownload(w http.ResponseWriter, r *http.Request) {
	t, err := artifactParam(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if _, ok := h.downloads.Get(t); !ok {
		h.handleError(w, r, apperrors.NotFound("download", string(t)))
		return
	}

	h.downloads.Cancel(t)
	w.WriteHeader(http.StatusNoContent)
}

// ResetDownload handles POST /v1/downloads/{artifact}/reset
func (h *Handler) ResetDownload(w http.ResponseWriter, r *http.Request) {
	t, err := artifactParam(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if _, ok := h.downloads.Get(t); !ok {
		h.handleError(w, r, apperrors.NotFound("download", string(t)))
		return
	}

	h.writeJSON(w, http.StatusOK, h.downloads.Reset(t))
}

// DownloadResult handles GET /v1/downloads/{artifact}/result
func (h *Handler) DownloadResult(w http.ResponseWriter, r *http.Request) {
	st, err := h.state(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if !st.Complete || st.DownloadError != nil {
		h.handleError(w, r, apperrors.Conflict("download", string(st.Artifact), "download is not complete"))
		return
	}

	res, err := h.results.Result(r.Context(), st.DownloadID)
	if err != nil {
		h.handleError(w, r, upstream("backend.result", err))
		return
	}
	defer res.Body.Close()

	filename := res.Filename
	if filename == "" && st.Metadata != nil {
		filename = st.Metadata.ResourceFilename
	}
	if filename == "" {
		filename = string(st.Artifact)
	}
	contentType := res.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	if res.ContentLength > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(res.ContentLength, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, res.Body); err != nil {
		slog.Warn("Result stream interrupted", "artifact", st.Artifact, "error", err)
	}
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	h.writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 if the backend is unreachable. Optional dependencies only
// degrade the response.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.Serving() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

func (h *Handler) state(r *http.Request) (download.DependencyState, error) {
	t, err := artifactParam(r)
	if err != nil {
		return download.DependencyState{}, err
	}
	st, ok := h.downloads.Get(t)
	if !ok {
		return download.DependencyState{}, apperrors.NotFound("download", string(t))
	}
	return st, nil
}

func artifactParam(r *http.Request) (download.ArtifactType, error) {
	t, err := download.ParseArtifactType(chi.URLParam(r, "artifact"))
	if err != nil {
		return "", apperrors.Validation("artifact", err.Error())
	}
	return t, nil
}

func parseArtifacts(names []string) ([]download.ArtifactType, error) {
	out := make([]download.ArtifactType, 0, len(names))
	for _, name := range names {
		t, err := download.ParseArtifactType(name)
		if err != nil {
			return nil, apperrors.Validation("artifacts", err.Error())
		}
		out = append(out, t)
	}
	return out, nil
}

// upstream classifies an unclassified dependency error as an upstream failure.
func upstream(op string, err error) error {
	if apperrors.SentinelOf(err) != nil {
		return err
	}
	return apperrors.Upstream(op, err)
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		h.handleError(w, r, apperrors.Validation("body", "Invalid request body: "+err.Error()))
		return false
	}
	return true
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// handleError handles errors from service layer with appropriate HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.Error("Internal error", "error", err, "path", r.URL.Path)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	h.writeJSON(w, status, apperrors.ResponseBody(err))
}
