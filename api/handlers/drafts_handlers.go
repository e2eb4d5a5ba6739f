package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"fleetdesk/core/consequence"
	"fleetdesk/core/draft"
	"fleetdesk/core/notify"
	"fleetdesk/core/review"
	"fleetdesk/core/store"
	"fleetdesk/core/utils"
)

type DraftsHandler struct {
	store      store.IncidentsStore
	users      store.UsersStore
	reviews    *review.Service
	dispatcher *notify.Dispatcher
	audits     store.AuditStore
	logger     *utils.Logger
}

func NewDraftsHandler(is store.IncidentsStore, us store.UsersStore, reviews *review.Service, dispatcher *notify.Dispatcher, audits store.AuditStore, logger *utils.Logger) *DraftsHandler {
	return &DraftsHandler{store: is, users: us, reviews: reviews, dispatcher: dispatcher, audits: audits, logger: logger}
}

// Get returns the draft in its editable form. The edited version wins over
// the generated one when present.
func (h *DraftsHandler) Get(w http.ResponseWriter, r *http.Request) {
	inc, ok := h.loadIncident(w, r)
	if !ok {
		return
	}
	rendered := draft.Render(inc)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    inc.DraftStatus,
		"subject":   rendered.Subject,
		"body":      rendered.Body,
		"edited":    rendered.Saved,
		"generated": inc.Draft,
	})
}

func (h *DraftsHandler) SaveEdit(w http.ResponseWriter, r *http.Request) {
	sr := sessionFrom(r)
	id, ok := incidentID(r)
	if sr == nil || !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var payload struct {
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	inc, err := h.reviews.SaveEdit(r.Context(), id, payload.Subject, payload.Body, sr.UserID)
	switch {
	case errors.Is(err, review.ErrIncidentNotFound):
		http.Error(w, "not found", http.StatusNotFound)
		return
	case errors.Is(err, review.ErrDraftNotEditable):
		http.Error(w, "drafts.notEditable", http.StatusConflict)
		return
	case err != nil:
		http.Error(w, "drafts.invalidEdit", http.StatusBadRequest)
		return
	}
	rendered := draft.Render(inc)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  inc.DraftStatus,
		"subject": rendered.Subject,
		"body":    rendered.Body,
		"edited":  rendered.Saved,
	})
}

// Regenerate discards edits and rebuilds the draft from record state.
func (h *DraftsHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	sr := sessionFrom(r)
	id, ok := incidentID(r)
	if sr == nil || !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	inc, err := h.reviews.Regenerate(r.Context(), id, sr.UserID)
	switch {
	case errors.Is(err, review.ErrIncidentNotFound):
		http.Error(w, "not found", http.StatusNotFound)
		return
	case errors.Is(err, review.ErrNoAssessment):
		http.Error(w, "incidents.assessmentMissing", http.StatusConflict)
		return
	case errors.Is(err, review.ErrDraftNotEditable):
		http.Error(w, "drafts.notEditable", http.StatusConflict)
		return
	case err != nil:
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	rendered := draft.Render(inc)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  inc.DraftStatus,
		"subject": rendered.Subject,
		"body":    rendered.Body,
		"edited":  false,
	})
}

func (h *DraftsHandler) MarkReviewed(w http.ResponseWriter, r *http.Request) {
	sr := sessionFrom(r)
	id, ok := incidentID(r)
	if sr == nil || !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	inc, err := h.reviews.MarkDraftReviewed(r.Context(), id, sr.UserID)
	switch {
	case errors.Is(err, review.ErrIncidentNotFound):
		http.Error(w, "not found", http.StatusNotFound)
		return
	case errors.Is(err, review.ErrDraftNotEditable):
		http.Error(w, "drafts.notReviewable", http.StatusConflict)
		return
	case err != nil:
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": inc.DraftStatus})
}

// Guidance returns the policy consequences for the effective cost tier.
func (h *DraftsHandler) Guidance(w http.ResponseWriter, r *http.Request) {
	inc, ok := h.loadIncident(w, r)
	if !ok {
		return
	}
	result := consequence.Evaluate(consequence.EffectiveCostBucket(inc), inc.SeasonOrdinal)
	writeJSON(w, http.StatusOK, map[string]any{
		"cost_bucket":    consequence.EffectiveCostBucket(inc),
		"season_ordinal": inc.SeasonOrdinal,
		"guidance":       consequence.Guidance(result),
	})
}

// Send delivers the final determination email. Re-sending an already-sent
// incident returns the recorded email instead of sending again.
func (h *DraftsHandler) Send(w http.ResponseWriter, r *http.Request) {
	sr := sessionFrom(r)
	id, ok := incidentID(r)
	if sr == nil || !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	outcome, err := h.dispatcher.Send(r.Context(), id, sr.UserID)
	switch {
	case errors.Is(err, notify.ErrIncidentNotFound):
		http.Error(w, "not found", http.StatusNotFound)
		return
	case errors.Is(err, notify.ErrNotApproved):
		http.Error(w, "incidents.notApproved", http.StatusConflict)
		return
	case errors.Is(err, notify.ErrNoRecipient):
		http.Error(w, "incidents.noRecipient", http.StatusUnprocessableEntity)
		return
	case errors.Is(err, notify.ErrSendFailed):
		http.Error(w, "incidents.sendFailed", http.StatusBadGateway)
		return
	case err != nil:
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if h.audits != nil && outcome.Sent {
		_ = h.audits.Append(r.Context(), sr.Username, "incidents.send", "")
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (h *DraftsHandler) loadIncident(w http.ResponseWriter, r *http.Request) (*store.Incident, bool) {
	sr := sessionFrom(r)
	id, ok := incidentID(r)
	if sr == nil || !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return nil, false
	}
	inc, err := h.store.GetIncident(r.Context(), id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return nil, false
	}
	if inc == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return nil, false
	}
	return inc, true
}
