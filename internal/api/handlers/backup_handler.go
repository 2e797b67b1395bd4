package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/seralvz/stackvault/internal/services"
)

// BackupHandler handles HTTP requests related to backup archives.
type BackupHandler struct {
	service services.BackupServiceProvider
}

// NewBackupHandler creates a new BackupHandler.
func NewBackupHandler(service services.BackupServiceProvider) *BackupHandler {
	return &BackupHandler{service: service}
}

// CreateBackupPayload is the expected JSON body for creating a backup.
type CreateBackupPayload struct {
	Label string `json:"label"`
}

// Create handles the request to create a new backup. The capture and archive
// build can take a while, so the work runs in the background.
func (h *BackupHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload CreateBackupPayload
	if r.Body != nil {
		// A missing or empty body simply means no label.
		json.NewDecoder(r.Body).Decode(&payload)
	}

	go func() {
		if _, err := h.service.CreateBackup(payload.Label); err != nil {
			log.Error().Err(err).Str("label", payload.Label).Msg("Failed to create backup in background")
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"message": "Backup creation started."})
}

// GetAll handles the request to list all archives.
func (h *BackupHandler) GetAll(w http.ResponseWriter, r *http.Request) {
	archives, err := h.service.ListArchives()
	if err != nil {
		log.Error().Err(err).Msg("Failed to list archives")
		http.Error(w, "Failed to list archives: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(archives)
}

// Get handles the request for a single archive.
func (h *BackupHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	archive, err := h.service.GetArchive(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(archive)
}

// Delete handles the request to delete an archive.
func (h *BackupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.service.DeleteArchive(name); err != nil {
		log.Error().Err(err).Str("archive", name).Msg("Failed to delete archive")
		http.Error(w, "Failed to delete archive: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Validate handles the standalone integrity-check request.
func (h *BackupHandler) Validate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	report, err := h.service.ValidateArchive(name)
	if err != nil {
		log.Warn().Err(err).Str("archive", name).Msg("Archive failed validation")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

// EnforceRetention handles the request to prune old archives now.
func (h *BackupHandler) EnforceRetention(w http.ResponseWriter, r *http.Request) {
	removed, err := h.service.EnforceRetention()
	if err != nil {
		log.Error().Err(err).Msg("Retention enforcement failed")
		http.Error(w, "Retention enforcement failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"removed": removed})
}
