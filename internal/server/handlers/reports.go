package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

// RegisterReport creates a new report (notebook template plus config).
func (h *Handlers) RegisterReport(w http.ResponseWriter, r *http.Request) {
	var rep carrottypes.Report
	if err := decodeJSON(r, &rep); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}
	if rep.Name == "" || len(rep.Notebook) == 0 {
		h.writeError(w, http.StatusBadRequest, "name and notebook are required", nil)
		return
	}
	rep.ReportID = ulid.Make().String()
	rep.CreatedAt = time.Now()
	if err := h.store.CreateReport(r.Context(), rep); err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to create report", err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	_ = encodeJSON(w, rep)
}

// GetReport returns a single report.
func (h *Handlers) GetReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "reportID")
	rep, err := h.store.GetReport(r.Context(), id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to get report", err)
		return
	}
	if rep == nil {
		h.writeError(w, http.StatusNotFound, "report not found", nil)
		return
	}
	_ = encodeJSON(w, rep)
}

// RegisterSection creates a reusable report fragment.
func (h *Handlers) RegisterSection(w http.ResponseWriter, r *http.Request) {
	var s carrottypes.Section
	if err := decodeJSON(r, &s); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}
	if s.Name == "" || len(s.Contents) == 0 {
		h.writeError(w, http.StatusBadRequest, "name and contents are required", nil)
		return
	}
	s.SectionID = ulid.Make().String()
	s.CreatedAt = time.Now()
	if err := h.store.CreateSection(r.Context(), s); err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to create section", err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	_ = encodeJSON(w, s)
}

// MapReportSection appends a section to a report at a given position.
func (h *Handlers) MapReportSection(w http.ResponseWriter, r *http.Request) {
	reportID := chi.URLParam(r, "reportID")
	var body struct {
		SectionID string `json:"sectionId"`
		Position  int    `json:"position"`
	}
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}
	if body.SectionID == "" {
		h.writeError(w, http.StatusBadRequest, "sectionId is required", nil)
		return
	}
	rs := carrottypes.ReportSection{ReportID: reportID, SectionID: body.SectionID, Position: body.Position}
	if err := h.store.MapReportSection(r.Context(), rs); err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to map report section", err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	_ = encodeJSON(w, rs)
}

// ListReportSections returns a report's sections in display order.
func (h *Handlers) ListReportSections(w http.ResponseWriter, r *http.Request) {
	reportID := chi.URLParam(r, "reportID")
	sections, err := h.store.ListReportSections(r.Context(), reportID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list report sections", err)
		return
	}
	if sections == nil {
		sections = []carrottypes.Section{}
	}
	_ = encodeJSON(w, sections)
}

// MapTemplateReport wires a report to fire for a template on a given
// trigger (single run success, or a run_group's PR-comparison success).
func (h *Handlers) MapTemplateReport(w http.ResponseWriter, r *http.Request) {
	templateID := chi.URLParam(r, "templateID")
	var body struct {
		ReportID string                    `json:"reportId"`
		Trigger  carrottypes.ReportTrigger `json:"reportTrigger"`
		InputMap json.RawMessage           `json:"inputMap,omitempty"`
	}
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}
	if body.ReportID == "" || (body.Trigger != carrottypes.ReportTriggerSingle && body.Trigger != carrottypes.ReportTriggerPR) {
		h.writeError(w, http.StatusBadRequest, "reportId and a valid reportTrigger are required", nil)
		return
	}
	tr := carrottypes.TemplateReport{TemplateID: templateID, ReportID: body.ReportID, Trigger: body.Trigger, InputMap: body.InputMap, CreatedAt: time.Now()}
	if err := h.store.MapTemplateReport(r.Context(), tr); err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to map template report", err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	_ = encodeJSON(w, tr)
}
