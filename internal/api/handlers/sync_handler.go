package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/seralvz/stackvault/internal/services"
)

// SyncHandler handles requests to generate remote-sync clients.
type SyncHandler struct {
	service services.SyncServiceProvider
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(service services.SyncServiceProvider) *SyncHandler {
	return &SyncHandler{service: service}
}

// GenerateSyncPayload is the expected JSON body for generating a sync client.
type GenerateSyncPayload struct {
	PrimaryHost string `json:"primaryHost"`
	LoginUser   string `json:"loginUser"`
	RemoteDir   string `json:"remoteDir"`
	ScriptName  string `json:"scriptName"`
	Keep        int    `json:"keep"`
}

// Generate creates the key pair and the pull script.
func (h *SyncHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var payload GenerateSyncPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	path, err := h.service.GenerateSyncClient(payload.PrimaryHost, payload.LoginUser, payload.RemoteDir, payload.ScriptName, payload.Keep)
	if err != nil {
		log.Error().Err(err).Str("host", payload.PrimaryHost).Msg("Failed to generate sync client")
		http.Error(w, "Failed to generate sync client: "+err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"script": path})
}
