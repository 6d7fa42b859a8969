package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

// GetRunGroup returns a single run group and its provenance.
func (h *Handlers) GetRunGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runGroupID")
	group, err := h.store.GetRunGroup(r.Context(), id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to get run group", err)
		return
	}
	if group == nil {
		h.writeError(w, http.StatusNotFound, "run group not found", nil)
		return
	}
	_ = encodeJSON(w, group)
}

// ListRunsInGroup lists the runs belonging to a run group.
func (h *Handlers) ListRunsInGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runGroupID")
	runs, err := h.store.ListRunsInGroup(r.Context(), id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list runs in group", err)
		return
	}
	if runs == nil {
		runs = []carrottypes.Run{}
	}
	_ = encodeJSON(w, runs)
}
