package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"reportsync/internal/apperrors"
	"reportsync/internal/download"
	"reportsync/internal/upload"
)

// uploadRequest is the body of POST /v1/archive/datasets/{datasetId}/uploads.
// With no artifacts the outputs that are already prepared are uploaded.
type uploadRequest struct {
	Artifacts     []string            `json:"artifacts,omitempty"`
	Inputs        []upload.Descriptor `json:"inputs,omitempty"`
	CalibrateID   string              `json:"calibrateId,omitempty"`
	State         json.RawMessage     `json:"state,omitempty"`
	CreateRelease bool                `json:"createRelease"`
	Release       upload.Release      `json:"release"`
	Select        []string            `json:"select,omitempty"`
}

// ListResources handles GET /v1/archive/datasets/{datasetId}/resources
func (h *Handler) ListResources(w http.ResponseWriter, r *http.Request) {
	datasetID := chi.URLParam(r, "datasetId")
	if datasetID == "" {
		h.handleError(w, r, apperrors.Validation("datasetId", "Dataset ID is required"))
		return
	}

	resources, err := h.archive.ListResources(r.Context(), datasetID)
	if err != nil {
		h.handleError(w, r, upstream("archive.list", err))
		return
	}
	if resources == nil {
		resources = []upload.Resource{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"datasetId": datasetID,
		"resources": resources,
	})
}

// StartUpload handles POST /v1/archive/datasets/{datasetId}/uploads
func (h *Handler) StartUpload(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if !h.decode(w, r, &req) {
		return
	}

	artifacts, err := parseArtifacts(req.Artifacts)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	var payloads map[download.ArtifactType][]byte
	if len(req.State) > 0 {
		payloads = make(map[download.ArtifactType][]byte)
		for _, t := range artifacts {
			if t.RequiresProjectState() {
				payloads[t] = req.State
			}
		}
	}

	session, err := h.uploads.Start(upload.StartRequest{
		DatasetID:     chi.URLParam(r, "datasetId"),
		CalibrateID:   req.CalibrateID,
		Artifacts:     artifacts,
		Payloads:      payloads,
		Inputs:        req.Inputs,
		CreateRelease: req.CreateRelease,
		Release:       req.Release,
		Select:        req.Select,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	w.Header().Set("Location", "/v1/uploads/"+session.ID)
	h.writeJSON(w, http.StatusAccepted, map[string]any{
		"sessionId": session.ID,
		"session":   session,
	})
}

// GetUpload handles GET /v1/uploads/{sessionId}
func (h *Handler) GetUpload(w http.ResponseWriter, r *http.Request) {
	session, err := h.uploads.Get(chi.URLParam(r, "sessionId"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, session)
}

// CancelUpload handles DELETE /v1/uploads/{sessionId}
func (h *Handler) CancelUpload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionId")
	if !h.uploads.Cancel(id) {
		if _, err := h.uploads.Get(id); err != nil {
			h.handleError(w, r, err)
			return
		}
		h.handleError(w, r, apperrors.Conflict("upload session", id, "upload session already finished"))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
