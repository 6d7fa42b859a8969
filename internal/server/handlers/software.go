package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

// RegisterSoftware creates a new buildable software repository.
func (h *Handlers) RegisterSoftware(w http.ResponseWriter, r *http.Request) {
	var s carrottypes.Software
	if err := decodeJSON(r, &s); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}
	if s.Name == "" || s.RepoURL == "" {
		h.writeError(w, http.StatusBadRequest, "name and repositoryUrl are required", nil)
		return
	}
	if s.MachineType == "" {
		s.MachineType = carrottypes.MachineStandard
	}
	s.SoftwareID = ulid.Make().String()
	s.CreatedAt = time.Now()
	if err := h.store.CreateSoftware(r.Context(), s); err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to create software", err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	_ = encodeJSON(w, s)
}

// GetSoftware returns a single software repository by id; a ?name= query
// parameter is not consulted.
func (h *Handlers) GetSoftware(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "softwareID")
	sw, err := h.store.GetSoftware(r.Context(), id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to get software", err)
		return
	}
	if sw == nil {
		h.writeError(w, http.StatusNotFound, "software not found", nil)
		return
	}
	_ = encodeJSON(w, sw)
}

// GetSoftwareVersion returns (creating if necessary) the software_version
// row pinning a software repository at a specific commit. Tag resolution
// happens only through the image_build: reference path (internal/
// buildcoordinator); this endpoint takes a commit hash directly.
func (h *Handlers) GetSoftwareVersion(w http.ResponseWriter, r *http.Request) {
	softwareID := chi.URLParam(r, "softwareID")
	ref := chi.URLParam(r, "commit")

	sw, err := h.store.GetSoftware(r.Context(), softwareID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to look up software", err)
		return
	}
	if sw == nil {
		h.writeError(w, http.StatusNotFound, "software not found", nil)
		return
	}

	version, err := h.store.GetOrCreateSoftwareVersion(r.Context(), softwareID, ref)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	_ = encodeJSON(w, version)
}

// GetBuild returns a single software build attempt.
func (h *Handlers) GetBuild(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "buildID")
	build, err := h.store.GetBuild(r.Context(), id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to get build", err)
		return
	}
	if build == nil {
		h.writeError(w, http.StatusNotFound, "build not found", nil)
		return
	}
	_ = encodeJSON(w, build)
}
