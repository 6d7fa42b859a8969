package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

// RegisterSubscription subscribes an email address to an entity's run
// outcomes (spec §4.7).
func (h *Handlers) RegisterSubscription(w http.ResponseWriter, r *http.Request) {
	var s carrottypes.Subscription
	if err := decodeJSON(r, &s); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}
	switch s.EntityType {
	case carrottypes.SubscriptionPipeline, carrottypes.SubscriptionTemplate, carrottypes.SubscriptionTest:
	default:
		h.writeError(w, http.StatusBadRequest, "entityType must be one of pipeline, template, test", nil)
		return
	}
	if s.EntityID == "" || s.Email == "" {
		h.writeError(w, http.StatusBadRequest, "entityId and email are required", nil)
		return
	}
	s.SubscriptionID = ulid.Make().String()
	s.CreatedAt = time.Now()
	if err := h.store.CreateSubscription(r.Context(), s); err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to create subscription", err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	_ = encodeJSON(w, s)
}

// ListSubscriptions lists the subscriptions watching a given entity.
func (h *Handlers) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	entity := carrottypes.SubscriptionEntity(r.URL.Query().Get("entityType"))
	entityID := r.URL.Query().Get("entityId")
	if entity == "" || entityID == "" {
		h.writeError(w, http.StatusBadRequest, "entityType and entityId query parameters are required", nil)
		return
	}
	subs, err := h.store.ListSubscriptions(r.Context(), entity, entityID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list subscriptions", err)
		return
	}
	if subs == nil {
		subs = []carrottypes.Subscription{}
	}
	_ = encodeJSON(w, subs)
}

// DeleteSubscription removes a subscription.
func (h *Handlers) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "subscriptionID")
	if err := h.store.DeleteSubscription(r.Context(), id); err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to delete subscription", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
