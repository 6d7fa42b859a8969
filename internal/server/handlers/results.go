package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

// RegisterResult creates a new result type.
func (h *Handlers) RegisterResult(w http.ResponseWriter, r *http.Request) {
	var res carrottypes.Result
	if err := decodeJSON(r, &res); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}
	if res.Name == "" || res.ResultType == "" {
		h.writeError(w, http.StatusBadRequest, "name and resultType are required", nil)
		return
	}
	res.ResultID = ulid.Make().String()
	res.CreatedAt = time.Now()
	if err := h.store.CreateResult(r.Context(), res); err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to create result", err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	_ = encodeJSON(w, res)
}

// GetResult returns a single result type.
func (h *Handlers) GetResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "resultID")
	res, err := h.store.GetResult(r.Context(), id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to get result", err)
		return
	}
	if res == nil {
		h.writeError(w, http.StatusNotFound, "result not found", nil)
		return
	}
	_ = encodeJSON(w, res)
}

// MapTemplateResult maps a template's output key onto a result type.
func (h *Handlers) MapTemplateResult(w http.ResponseWriter, r *http.Request) {
	templateID := chi.URLParam(r, "templateID")
	var body struct {
		ResultID  string `json:"resultId"`
		OutputKey string `json:"outputKey"`
	}
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}
	if body.ResultID == "" || body.OutputKey == "" {
		h.writeError(w, http.StatusBadRequest, "resultId and outputKey are required", nil)
		return
	}
	tr := carrottypes.TemplateResult{TemplateID: templateID, ResultID: body.ResultID, OutputKey: body.OutputKey, CreatedAt: time.Now()}
	if err := h.store.MapTemplateResult(r.Context(), tr); err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to map template result", err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	_ = encodeJSON(w, tr)
}

// ListTemplateResults lists a template's output-key -> result mappings.
func (h *Handlers) ListTemplateResults(w http.ResponseWriter, r *http.Request) {
	templateID := chi.URLParam(r, "templateID")
	results, err := h.store.ListResultsByTemplate(r.Context(), templateID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list template results", err)
		return
	}
	if results == nil {
		results = []carrottypes.TemplateResult{}
	}
	_ = encodeJSON(w, results)
}
