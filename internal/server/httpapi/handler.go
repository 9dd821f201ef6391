// Package httpapi exposes upload and trigger management over a JSON HTTP
// API. It is a thin layer: validation beyond request decoding lives in the
// managers, and errors are mapped to status codes by sentinel.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrijs2005/camwatch/internal/common"
	"github.com/dmitrijs2005/camwatch/internal/logging"
	"github.com/dmitrijs2005/camwatch/internal/trigger"
	"github.com/dmitrijs2005/camwatch/internal/upload"
)

// UploadService is the slice of the transfer engine the API consumes.
type UploadService interface {
	StartUpload(ctx context.Context, path string, opts upload.Options) (upload.Status, error)
	Status(jobID string) (upload.Status, error)
	Statuses() []upload.Status
	Cancel(jobID string) bool
}

// TriggerService is the slice of the orchestrator the API consumes.
type TriggerService interface {
	StartTrigger(ctx context.Context, cfg trigger.Config) (trigger.Status, error)
	Status(id string) (trigger.Status, error)
	Statuses() []trigger.Status
}

type Handler struct {
	uploads  UploadService
	triggers TriggerService
	logger   logging.Logger
}

func NewHandler(uploads UploadService, triggers TriggerService, logger logging.Logger) *Handler {
	return &Handler{uploads: uploads, triggers: triggers, logger: logger}
}

// uploadView decorates an upload snapshot with the derived direct-download
// link once the object exists.
type uploadView struct {
	upload.Status
	DirectDownloadLink string `json:"direct_download_link,omitempty"`
}

func newUploadView(st upload.Status) uploadView {
	v := uploadView{Status: st}
	if st.State == upload.StateCompleted && st.ObjectID != "" {
		v.DirectDownloadLink = fmt.Sprintf("https://drive.google.com/uc?export=download&id=%s", st.ObjectID)
	}
	return v
}

type startUploadRequest struct {
	Path     string `json:"path"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	FolderID string `json:"folder_id,omitempty"`
}

func (h *Handler) startUpload(w http.ResponseWriter, r *http.Request) {
	var req startUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", common.ErrValidation, err))
		return
	}
	if req.Path == "" {
		h.writeError(w, r, fmt.Errorf("%w: path is required", common.ErrValidation))
		return
	}

	st, err := h.uploads.StartUpload(r.Context(), req.Path, upload.Options{
		Name:     req.Name,
		MimeType: req.MimeType,
		FolderID: req.FolderID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	uploadsStartedTotal.Inc()
	h.writeJSON(w, http.StatusAccepted, newUploadView(st))
}

func (h *Handler) listUploads(w http.ResponseWriter, r *http.Request) {
	statuses := h.uploads.Statuses()
	views := make([]uploadView, 0, len(statuses))
	for _, st := range statuses {
		views = append(views, newUploadView(st))
	}
	h.writeJSON(w, http.StatusOK, views)
}

func (h *Handler) getUpload(w http.ResponseWriter, r *http.Request) {
	st, err := h.uploads.Status(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newUploadView(st))
}

func (h *Handler) cancelUpload(w http.ResponseWriter, r *http.Request) {
	canceled := h.uploads.Cancel(chi.URLParam(r, "id"))
	h.writeJSON(w, http.StatusOK, map[string]bool{"canceled": canceled})
}

type startTriggerRequest struct {
	Destination       string  `json:"destination"`
	DurationSeconds   float64 `json:"duration"`
	Filename          string  `json:"filename,omitempty"`
	Message           string  `json:"message,omitempty"`
	EarlyNotification bool    `json:"early_notification,omitempty"`
}

func (h *Handler) startTrigger(w http.ResponseWriter, r *http.Request) {
	var req startTriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", common.ErrValidation, err))
		return
	}

	st, err := h.triggers.StartTrigger(r.Context(), trigger.Config{
		Destination:       req.Destination,
		Duration:          time.Duration(req.DurationSeconds * float64(time.Second)),
		Filename:          req.Filename,
		Message:           req.Message,
		EarlyNotification: req.EarlyNotification,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	triggersStartedTotal.Inc()
	h.writeJSON(w, http.StatusAccepted, st)
}

func (h *Handler) listTriggers(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.triggers.Statuses())
}

func (h *Handler) getTrigger(w http.ResponseWriter, r *http.Request) {
	st, err := h.triggers.Status(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

// getTriggerUpload resolves a trigger's referenced upload job. Triggers that
// have not reached the upload stage yet report 404.
func (h *Handler) getTriggerUpload(w http.ResponseWriter, r *http.Request) {
	st, err := h.triggers.Status(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if st.UploadID == "" {
		h.writeError(w, r, fmt.Errorf("%w: trigger %s has no upload yet", common.ErrNotFound, st.ID))
		return
	}
	job, err := h.uploads.Status(st.UploadID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newUploadView(job))
}

func (h *Handler) cancelTriggerUpload(w http.ResponseWriter, r *http.Request) {
	st, err := h.triggers.Status(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if st.UploadID == "" {
		h.writeJSON(w, http.StatusOK, map[string]bool{"canceled": false})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"canceled": h.uploads.Cancel(st.UploadID)})
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error(context.Background(), "writing response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, common.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, common.ErrNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		h.logger.Error(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
