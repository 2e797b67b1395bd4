package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/seralvz/stackvault/internal/services"
)

// RestoreHandler handles HTTP requests that restore archives.
type RestoreHandler struct {
	service services.RestoreServiceProvider
}

// NewRestoreHandler creates a new RestoreHandler.
func NewRestoreHandler(service services.RestoreServiceProvider) *RestoreHandler {
	return &RestoreHandler{service: service}
}

// Restore starts a restore run for one archive. Restoring is long-running and
// forward-only past data placement, so it runs in the background; progress is
// observable on the websocket stream and in the event log.
func (h *RestoreHandler) Restore(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	go func() {
		report, err := h.service.RestoreArchive(name)
		if err != nil {
			if report != nil && report.Mutated {
				log.Error().Err(err).Str("archive", name).Msg("Restore failed after mutation began; re-run to converge")
			} else {
				log.Error().Err(err).Str("archive", name).Msg("Restore failed; nothing was changed")
			}
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"message": "Restore started."})
}
