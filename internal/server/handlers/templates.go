package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

// RegisterTemplate creates a new template under a pipeline. The WDL
// fields are location strings (local path or object-store URI), resolved
// to literal source later, at run-creation time (invariant 5).
func (h *Handlers) RegisterTemplate(w http.ResponseWriter, r *http.Request) {
	var t carrottypes.Template
	if err := decodeJSON(r, &t); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}
	if t.Name == "" || t.PipelineID == "" || t.TestWDL == "" || t.EvalWDL == "" {
		h.writeError(w, http.StatusBadRequest, "name, pipelineId, testWdl and evalWdl are required", nil)
		return
	}
	if pipeline, err := h.store.GetPipeline(r.Context(), t.PipelineID); err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to look up pipeline", err)
		return
	} else if pipeline == nil {
		h.writeError(w, http.StatusBadRequest, "unknown pipelineId", nil)
		return
	}

	t.TemplateID = ulid.Make().String()
	t.CreatedAt = time.Now()
	if err := h.store.CreateTemplate(r.Context(), t); err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to create template", err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	_ = encodeJSON(w, t)
}

// GetTemplate returns a single template.
func (h *Handlers) GetTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "templateID")
	template, err := h.store.GetTemplate(r.Context(), id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to get template", err)
		return
	}
	if template == nil {
		h.writeError(w, http.StatusNotFound, "template not found", nil)
		return
	}
	_ = encodeJSON(w, template)
}

// ListTemplatesByPipeline lists a pipeline's templates.
func (h *Handlers) ListTemplatesByPipeline(w http.ResponseWriter, r *http.Request) {
	pipelineID := chi.URLParam(r, "pipelineID")
	templates, err := h.store.ListTemplatesByPipeline(r.Context(), pipelineID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list templates", err)
		return
	}
	if templates == nil {
		templates = []carrottypes.Template{}
	}
	_ = encodeJSON(w, templates)
}
