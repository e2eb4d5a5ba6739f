package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"fleetdesk/config"
	"fleetdesk/core/assessment"
	"fleetdesk/core/rbac"
	"fleetdesk/core/review"
	"fleetdesk/core/store"
	"fleetdesk/core/utils"
)

type IncidentsHandler struct {
	cfg      *config.AppConfig
	store    store.IncidentsStore
	comments store.CommentsStore
	users    store.UsersStore
	assess   *assessment.Service
	reviews  *review.Service
	audits   store.AuditStore
	logger   *utils.Logger
}

func NewIncidentsHandler(cfg *config.AppConfig, is store.IncidentsStore, cs store.CommentsStore, us store.UsersStore, assess *assessment.Service, reviews *review.Service, audits store.AuditStore, logger *utils.Logger) *IncidentsHandler {
	return &IncidentsHandler{cfg: cfg, store: is, comments: cs, users: us, assess: assess, reviews: reviews, audits: audits, logger: logger}
}

type createIncidentPayload struct {
	Area         string `json:"area"`
	VehicleID    string `json:"vehicle_id"`
	LicensePlate string `json:"license_plate"`
	VIN          string `json:"vin"`
	OccurredAt   string `json:"occurred_at"`
	Location     string `json:"location"`
	Weather      string `json:"weather"`
	Description  string `json:"description"`
	TripRef      string `json:"trip_ref"`
	Drivable     bool   `json:"drivable"`
	Towed        bool   `json:"towed"`
}

type incidentDTO struct {
	store.Incident
	ReporterName string `json:"reporter_name,omitempty"`
}

func (h *IncidentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	sr := sessionFrom(r)
	if sr == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var payload createIncidentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(payload.VehicleID) == "" || strings.TrimSpace(payload.Description) == "" {
		http.Error(w, "incidents.missingFields", http.StatusBadRequest)
		return
	}
	occurredAt, err := time.Parse(time.RFC3339, strings.TrimSpace(payload.OccurredAt))
	if err != nil {
		http.Error(w, "incidents.invalidOccurredAt", http.StatusBadRequest)
		return
	}
	if occurredAt.After(time.Now().UTC().Add(5 * time.Minute)) {
		http.Error(w, "incidents.occurredAtInFuture", http.StatusBadRequest)
		return
	}
	inc := &store.Incident{
		ReporterUserID: sr.UserID,
		Area:           strings.TrimSpace(payload.Area),
		VehicleID:      strings.TrimSpace(payload.VehicleID),
		LicensePlate:   strings.TrimSpace(payload.LicensePlate),
		VIN:            strings.TrimSpace(payload.VIN),
		OccurredAt:     occurredAt.UTC(),
		Location:       strings.TrimSpace(payload.Location),
		Weather:        strings.TrimSpace(payload.Weather),
		Description:    strings.TrimSpace(payload.Description),
		TripRef:        strings.TrimSpace(payload.TripRef),
		Drivable:       payload.Drivable,
		Towed:          payload.Towed,
	}
	id, err := h.store.CreateIncident(r.Context(), inc, h.cfg.Incidents.ReportNoFormat)
	if err != nil {
		if h.logger != nil {
			h.logger.Errorf("incident create: %v", err)
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	_, _ = h.store.AddIncidentTimeline(r.Context(), &store.IncidentTimelineEvent{
		IncidentID: id,
		EventType:  "created",
		Message:    "Incident submitted",
		CreatedBy:  sr.UserID,
	})
	if h.audits != nil {
		_ = h.audits.Append(r.Context(), sr.Username, "incidents.create", inc.ReportNo)
	}

	// The assessment runs inline on submit; a failure degrades to the
	// conservative placeholder inside the service, never to an HTTP error.
	var runResult *assessment.RunResult
	if h.assess != nil {
		runResult, err = h.assess.Run(r.Context(), id)
		if err != nil && h.logger != nil {
			h.logger.Errorf("assessment on submit %s: %v", inc.ReportNo, err)
		}
	}
	created, err := h.store.GetIncident(r.Context(), id)
	if err != nil || created == nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"incident":   created,
		"assessment": runResult,
	})
}

func (h *IncidentsHandler) List(w http.ResponseWriter, r *http.Request) {
	sr := sessionFrom(r)
	if sr == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	filter := store.IncidentFilter{
		Search:       r.URL.Query().Get("q"),
		Status:       strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))),
		DraftStatus:  strings.ToLower(strings.TrimSpace(r.URL.Query().Get("draft_status"))),
		ReviewStatus: strings.ToLower(strings.TrimSpace(r.URL.Query().Get("review_status"))),
		Limit:        parseIntDefault(r.URL.Query().Get("limit"), 50),
		Offset:       parseIntDefault(r.URL.Query().Get("offset"), 0),
	}
	if h.reporterOnly(sr.Roles) {
		filter.ReporterUserID = sr.UserID
	} else if r.URL.Query().Get("mine") == "1" || strings.ToLower(r.URL.Query().Get("mine")) == "true" {
		filter.ReporterUserID = sr.UserID
	}
	items, err := h.store.ListIncidents(r.Context(), filter)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	userMap := map[int64]*store.User{}
	resolveUser := func(id int64) *store.User {
		if id == 0 {
			return nil
		}
		if u, ok := userMap[id]; ok {
			return u
		}
		u, _, _ := h.users.Get(r.Context(), id)
		userMap[id] = u
		return u
	}
	result := make([]incidentDTO, 0, len(items))
	for _, inc := range items {
		result = append(result, incidentDTO{
			Incident:     inc,
			ReporterName: displayName(resolveUser(inc.ReporterUserID)),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": result})
}

// Get returns one incident. When a reviewing role opens a freshly submitted
// record, the open itself moves it into review.
func (h *IncidentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	sr := sessionFrom(r)
	id, ok := incidentID(r)
	if sr == nil || !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var inc *store.Incident
	var err error
	if rbac.ReviewingRole(sr.Roles) {
		inc, err = h.reviews.Open(r.Context(), id)
	} else {
		inc, err = h.store.GetIncident(r.Context(), id)
	}
	if errors.Is(err, review.ErrIncidentNotFound) || (err == nil && inc == nil) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if h.reporterOnly(sr.Roles) && inc.ReporterUserID != sr.UserID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	reporter, _, _ := h.users.Get(r.Context(), inc.ReporterUserID)
	writeJSON(w, http.StatusOK, incidentDTO{Incident: *inc, ReporterName: displayName(reporter)})
}

func (h *IncidentsHandler) ForceStatus(w http.ResponseWriter, r *http.Request) {
	sr := sessionFrom(r)
	id, ok := incidentID(r)
	if sr == nil || !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	inc, err := h.reviews.ForceStatus(r.Context(), id, payload.Status, sr.UserID)
	if errors.Is(err, review.ErrIncidentNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "incidents.invalidStatus", http.StatusBadRequest)
		return
	}
	if h.audits != nil {
		_ = h.audits.Append(r.Context(), sr.Username, "incidents.force_status", payload.Status)
	}
	writeJSON(w, http.StatusOK, inc)
}

func (h *IncidentsHandler) Close(w http.ResponseWriter, r *http.Request) {
	sr := sessionFrom(r)
	id, ok := incidentID(r)
	if sr == nil || !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	inc, err := h.reviews.Close(r.Context(), id, sr.UserID)
	if errors.Is(err, review.ErrAlreadyClosed) {
		http.Error(w, "incidents.alreadyClosed", http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if h.audits != nil {
		_ = h.audits.Append(r.Context(), sr.Username, "incidents.close", inc.ReportNo)
	}
	writeJSON(w, http.StatusOK, inc)
}

// Assess re-runs the damage assessment, overwriting the previous result.
func (h *IncidentsHandler) Assess(w http.ResponseWriter, r *http.Request) {
	sr := sessionFrom(r)
	id, ok := incidentID(r)
	if sr == nil || !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	result, err := h.assess.Run(r.Context(), id)
	if errors.Is(err, assessment.ErrIncidentNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if h.audits != nil {
		_ = h.audits.Append(r.Context(), sr.Username, "incidents.assess", "")
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *IncidentsHandler) Review(w http.ResponseWriter, r *http.Request) {
	sr := sessionFrom(r)
	id, ok := incidentID(r)
	if sr == nil || !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var payload struct {
		Decision       string `json:"decision"`
		Preventability string `json:"preventability"`
		Comment        string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	inc, err := h.reviews.Decide(r.Context(), id, payload.Decision, payload.Preventability, payload.Comment, sr.UserID)
	switch {
	case errors.Is(err, review.ErrIncidentNotFound):
		http.Error(w, "not found", http.StatusNotFound)
		return
	case errors.Is(err, review.ErrInvalidDecision):
		http.Error(w, "incidents.invalidDecision", http.StatusBadRequest)
		return
	case errors.Is(err, review.ErrCommentRequired):
		http.Error(w, "incidents.commentRequired", http.StatusBadRequest)
		return
	case errors.Is(err, review.ErrDecisionFinal):
		http.Error(w, "incidents.decisionFinal", http.StatusConflict)
		return
	case err != nil:
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if h.audits != nil {
		_ = h.audits.Append(r.Context(), sr.Username, "incidents.review", payload.Decision)
	}
	writeJSON(w, http.StatusOK, inc)
}

// Override sets or clears the LD cost tier override. The regenerated draft is
// returned alongside; a previously saved edit is kept and flagged.
func (h *IncidentsHandler) Override(w http.ResponseWriter, r *http.Request) {
	sr := sessionFrom(r)
	id, ok := incidentID(r)
	if sr == nil || !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var payload struct {
		CostOverride *string `json:"cost_override"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	inc, err := h.reviews.Override(r.Context(), id, payload.CostOverride, sr.UserID)
	switch {
	case errors.Is(err, review.ErrIncidentNotFound):
		http.Error(w, "not found", http.StatusNotFound)
		return
	case errors.Is(err, review.ErrInvalidTier):
		http.Error(w, "incidents.invalidCostTier", http.StatusBadRequest)
		return
	case errors.Is(err, review.ErrNoAssessment):
		http.Error(w, "incidents.assessmentMissing", http.StatusConflict)
		return
	case err != nil:
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if h.audits != nil {
		_ = h.audits.Append(r.Context(), sr.Username, "incidents.override", "")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"incident":  inc,
		"edit_kept": inc.EditedDraft != nil,
		"ai_bucket": valueOrEmpty(inc.AICostBucket),
		"ld_bucket": valueOrEmpty(inc.LDCostOverride),
	})
}

func (h *IncidentsHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	sr := sessionFrom(r)
	id, ok := incidentID(r)
	if sr == nil || !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if !h.canSeeIncident(w, r, sr, id) {
		return
	}
	limit := parseIntDefault(r.URL.Query().Get("limit"), 100)
	items, err := h.store.ListIncidentTimeline(r.Context(), id, limit)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *IncidentsHandler) ListComments(w http.ResponseWriter, r *http.Request) {
	sr := sessionFrom(r)
	id, ok := incidentID(r)
	if sr == nil || !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if !h.canSeeIncident(w, r, sr, id) {
		return
	}
	items, err := h.comments.ListComments(r.Context(), id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *IncidentsHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	sr := sessionFrom(r)
	id, ok := incidentID(r)
	if sr == nil || !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if !h.canSeeIncident(w, r, sr, id) {
		return
	}
	var payload struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	comment := &store.ReviewComment{
		IncidentID:   id,
		AuthorUserID: sr.UserID,
		Body:         payload.Body,
	}
	if _, err := h.comments.AddComment(r.Context(), comment); err != nil {
		http.Error(w, "incidents.commentRejected", http.StatusBadRequest)
		return
	}
	comment.AuthorName = sr.Username
	writeJSON(w, http.StatusCreated, comment)
}

func (h *IncidentsHandler) reporterOnly(roles []string) bool {
	return rbac.HasRole(roles, rbac.RoleReporter) &&
		!rbac.HasRole(roles, rbac.RoleLD) &&
		!rbac.HasRole(roles, rbac.RoleOps) &&
		!rbac.HasRole(roles, rbac.RoleAdmin)
}

// canSeeIncident writes the error response itself when access is denied.
func (h *IncidentsHandler) canSeeIncident(w http.ResponseWriter, r *http.Request, sr *store.SessionRecord, id int64) bool {
	inc, err := h.store.GetIncident(r.Context(), id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return false
	}
	if inc == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return false
	}
	if h.reporterOnly(sr.Roles) && inc.ReporterUserID != sr.UserID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return false
	}
	return true
}

func valueOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
