// Package handlers implements the CARROT REST API's HTTP handlers (spec
// §6). Generalized from the teacher's internal/server/handlers package:
// the same Handlers-struct-plus-writeError shape, with the teacher's
// engine/provider/registry fields replaced by the store, engine and
// orchestration collaborators CARROT's entities actually need, and
// writeError adapted to emit a problem-details body instead of the
// teacher's flat {"error": msg}.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/carrotsystems/carrot/internal/buildcoordinator"
	"github.com/carrotsystems/carrot/internal/cromwell"
	"github.com/carrotsystems/carrot/internal/objectstorage"
	"github.com/carrotsystems/carrot/internal/store"
	"github.com/carrotsystems/carrot/internal/submitter"
	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

// Handlers contains all HTTP handler dependencies.
type Handlers struct {
	store  store.Provider
	engine *cromwell.Client
	submit *submitter.Submitter
	builds *buildcoordinator.Coordinator
	wdl    *objectstorage.Store
	logger *slog.Logger
}

// New creates a new Handlers instance.
func New(st store.Provider, engine *cromwell.Client, submit *submitter.Submitter, builds *buildcoordinator.Coordinator, wdl *objectstorage.Store) *Handlers {
	return &Handlers{
		store:  st,
		engine: engine,
		submit: submit,
		builds: builds,
		wdl:    wdl,
		logger: slog.Default(),
	}
}

// SetLogger overrides the default logger.
func (h *Handlers) SetLogger(l *slog.Logger) {
	if l != nil {
		h.logger = l
	}
}

// problem is the RFC7807-flavored error body spec §6 requires.
type problem struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// writeError logs the internal error and returns a problem-details body.
func (h *Handlers) writeError(w http.ResponseWriter, status int, title string, err error) {
	detail := ""
	if err != nil {
		detail = err.Error()
		h.logger.Error(title, "error", err, "status", status)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem{Title: title, Status: status, Detail: detail})
}

// writeDomainError maps a carrottypes.Error's Kind onto an HTTP status and
// writes the corresponding problem-details body (spec §7).
func (h *Handlers) writeDomainError(w http.ResponseWriter, err error) {
	var derr *carrottypes.Error
	if e, ok := err.(*carrottypes.Error); ok {
		derr = e
	}
	if derr == nil {
		h.writeError(w, http.StatusInternalServerError, "internal error", err)
		return
	}
	status := http.StatusInternalServerError
	switch derr.Kind {
	case carrottypes.ErrValidation:
		status = http.StatusBadRequest
	case carrottypes.ErrExternalTransient:
		status = http.StatusBadGateway
	case carrottypes.ErrExternalPermanent, carrottypes.ErrBuildFailed:
		status = http.StatusBadGateway
	case carrottypes.ErrAborted:
		status = http.StatusConflict
	case carrottypes.ErrCarrotInternal:
		status = http.StatusInternalServerError
	}
	w.WriteHeader(status)
	h.logger.Error(string(derr.Kind), "detail", derr.Message, "status", status)
	_ = json.NewEncoder(w).Encode(problem{Title: string(derr.Kind), Status: status, Detail: derr.Message})
}

func decodeJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func encodeJSON(w http.ResponseWriter, v interface{}) error {
	return json.NewEncoder(w).Encode(v)
}
