package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"fleetdesk/config"
	"fleetdesk/core/files"
	"fleetdesk/core/store"
	"fleetdesk/core/utils"
)

type FilesHandler struct {
	cfg    *config.AppConfig
	store  store.IncidentsStore
	svc    *files.Service
	logger *utils.Logger
}

func NewFilesHandler(cfg *config.AppConfig, is store.IncidentsStore, svc *files.Service, logger *utils.Logger) *FilesHandler {
	return &FilesHandler{cfg: cfg, store: is, svc: svc, logger: logger}
}

func (h *FilesHandler) List(w http.ResponseWriter, r *http.Request) {
	sr := sessionFrom(r)
	id, ok := incidentID(r)
	if sr == nil || !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	items, err := h.svc.List(r.Context(), id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *FilesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	sr := sessionFrom(r)
	id, ok := incidentID(r)
	if sr == nil || !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	maxBytes := h.cfg.Incidents.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = 25 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+(1<<20))
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		http.Error(w, "files.invalidUpload", http.StatusBadRequest)
		return
	}
	src, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "files.missingFile", http.StatusBadRequest)
		return
	}
	defer src.Close()
	contentType := header.Header.Get("Content-Type")
	file, err := h.svc.Save(r.Context(), id, header.Filename, contentType, src, sr.UserID)
	switch {
	case errors.Is(err, files.ErrIncidentNotFound):
		http.Error(w, "not found", http.StatusNotFound)
		return
	case errors.Is(err, files.ErrTooLarge):
		http.Error(w, "files.tooLarge", http.StatusRequestEntityTooLarge)
		return
	case err != nil:
		if h.logger != nil {
			h.logger.Errorf("file upload incident=%d: %v", id, err)
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, file)
}

func (h *FilesHandler) Download(w http.ResponseWriter, r *http.Request) {
	sr := sessionFrom(r)
	id, ok := incidentID(r)
	if sr == nil || !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	fileID, err := strconv.ParseInt(strings.TrimSpace(pathParams(r)["file_id"]), 10, 64)
	if err != nil || fileID <= 0 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	file, content, err := h.svc.Load(r.Context(), id, fileID)
	switch {
	case errors.Is(err, files.ErrFileNotFound):
		http.Error(w, "not found", http.StatusNotFound)
		return
	case errors.Is(err, files.ErrIntegrity):
		http.Error(w, "files.integrityFailed", http.StatusInternalServerError)
		return
	case err != nil:
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(content)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}
