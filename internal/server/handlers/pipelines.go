package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

// ListPipelines returns all registered pipelines.
func (h *Handlers) ListPipelines(w http.ResponseWriter, r *http.Request) {
	pipelines, err := h.store.ListPipelines(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list pipelines", err)
		return
	}
	if pipelines == nil {
		pipelines = []carrottypes.Pipeline{}
	}
	_ = encodeJSON(w, pipelines)
}

// RegisterPipeline creates a new pipeline.
func (h *Handlers) RegisterPipeline(w http.ResponseWriter, r *http.Request) {
	var p carrottypes.Pipeline
	if err := decodeJSON(r, &p); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}
	if p.Name == "" {
		h.writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}
	p.PipelineID = ulid.Make().String()
	p.CreatedAt = time.Now()

	if err := h.store.CreatePipeline(r.Context(), p); err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to create pipeline", err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	_ = encodeJSON(w, p)
}

// GetPipeline returns a single pipeline.
func (h *Handlers) GetPipeline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "pipelineID")
	pipeline, err := h.store.GetPipeline(r.Context(), id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to get pipeline", err)
		return
	}
	if pipeline == nil {
		h.writeError(w, http.StatusNotFound, "pipeline not found", nil)
		return
	}
	_ = encodeJSON(w, pipeline)
}
