package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

// RegisterTest creates a new test under a template, with its default
// test/eval inputs and options.
func (h *Handlers) RegisterTest(w http.ResponseWriter, r *http.Request) {
	var t carrottypes.Test
	if err := decodeJSON(r, &t); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}
	if t.Name == "" || t.TemplateID == "" {
		h.writeError(w, http.StatusBadRequest, "name and templateId are required", nil)
		return
	}
	if template, err := h.store.GetTemplate(r.Context(), t.TemplateID); err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to look up template", err)
		return
	} else if template == nil {
		h.writeError(w, http.StatusBadRequest, "unknown templateId", nil)
		return
	}

	t.TestID = ulid.Make().String()
	t.CreatedAt = time.Now()
	if err := h.store.CreateTest(r.Context(), t); err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to create test", err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	_ = encodeJSON(w, t)
}

// GetTest returns a single test.
func (h *Handlers) GetTest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "testID")
	test, err := h.store.GetTest(r.Context(), id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to get test", err)
		return
	}
	if test == nil {
		h.writeError(w, http.StatusNotFound, "test not found", nil)
		return
	}
	_ = encodeJSON(w, test)
}

// ListTestsByTemplate lists a template's tests.
func (h *Handlers) ListTestsByTemplate(w http.ResponseWriter, r *http.Request) {
	templateID := chi.URLParam(r, "templateID")
	tests, err := h.store.ListTestsByTemplate(r.Context(), templateID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list tests", err)
		return
	}
	if tests == nil {
		tests = []carrottypes.Test{}
	}
	_ = encodeJSON(w, tests)
}
