package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/seralvz/stackvault/internal/services"
)

// StackHandler exposes the live stacks of the orchestration endpoint.
type StackHandler struct {
	service services.BackupServiceProvider
}

// NewStackHandler creates a new StackHandler.
func NewStackHandler(service services.BackupServiceProvider) *StackHandler {
	return &StackHandler{service: service}
}

// GetAll lists the stacks currently known to the orchestration manager.
func (h *StackHandler) GetAll(w http.ResponseWriter, r *http.Request) {
	stacks, err := h.service.ListLiveStacks(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to enumerate live stacks")
		http.Error(w, "Failed to enumerate stacks: "+err.Error(), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stacks)
}

// Delete removes one stack from the orchestration endpoint.
func (h *StackHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid stack id", http.StatusBadRequest)
		return
	}
	if err := h.service.DeleteLiveStack(r.Context(), id); err != nil {
		log.Error().Err(err).Int64("stack_id", id).Msg("Failed to delete stack")
		http.Error(w, "Failed to delete stack: "+err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
