// Package review implements the adjudication workflow over an incident: the
// reviewer opening, the preventability decision, the cost override and the
// draft lifecycle up to the reviewed mark. Sending lives in core/notify.
package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fleetdesk/core/draft"
	"fleetdesk/core/store"
	"fleetdesk/core/utils"
)

var (
	ErrIncidentNotFound = errors.New("incident not found")
	ErrInvalidDecision  = errors.New("invalid decision")
	ErrCommentRequired  = errors.New("comment required")
	ErrDecisionFinal    = errors.New("decision already recorded")
	ErrInvalidTier      = errors.New("invalid cost tier")
	ErrNoAssessment     = errors.New("assessment has not run")
	ErrDraftNotEditable = errors.New("draft not editable")
	ErrAlreadyClosed    = errors.New("incident already closed")
)

type Service struct {
	incidents store.IncidentsStore
	users     store.UsersStore
	logger    *utils.Logger
}

func NewService(incidents store.IncidentsStore, users store.UsersStore, logger *utils.Logger) *Service {
	return &Service{incidents: incidents, users: users, logger: logger}
}

// Open returns the incident for a reviewer, moving a freshly submitted record
// into review as a side effect of the first open.
func (s *Service) Open(ctx context.Context, id int64) (*store.Incident, error) {
	inc, err := s.incidents.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if inc == nil {
		return nil, ErrIncidentNotFound
	}
	if inc.Status == store.StatusSubmitted {
		if err := s.incidents.MarkInReview(ctx, id); err != nil {
			return nil, err
		}
		inc.Status = store.StatusInReview
	}
	return inc, nil
}

// Decide records the LD determination. The first recorded decision is
// terminal: repeating the same decision is a no-op, a different one fails
// with ErrDecisionFinal. Preventability defaults to preventable on approval
// and is ignored for needs_revision.
func (s *Service) Decide(ctx context.Context, id int64, decision, preventability, comment string, reviewerID int64) (*store.Incident, error) {
	decision = strings.ToLower(strings.TrimSpace(decision))
	if decision != store.ReviewApproved && decision != store.ReviewNeedsRevision {
		return nil, ErrInvalidDecision
	}
	if decision == store.ReviewNeedsRevision && strings.TrimSpace(comment) == "" {
		return nil, ErrCommentRequired
	}
	preventability = strings.ToLower(strings.TrimSpace(preventability))
	if decision == store.ReviewApproved {
		if preventability == "" {
			preventability = store.PreventabilityPreventable
		}
		if preventability != store.PreventabilityPreventable && preventability != store.PreventabilityNonPreventable {
			return nil, ErrInvalidDecision
		}
	} else {
		preventability = ""
	}
	inc, err := s.incidents.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if inc == nil {
		return nil, ErrIncidentNotFound
	}

	err = s.incidents.SetReviewDecision(ctx, id, decision, preventability, strings.TrimSpace(comment), reviewerID, time.Now().UTC())
	if errors.Is(err, store.ErrConflict) {
		current, readErr := s.incidents.GetIncident(ctx, id)
		if readErr != nil {
			return nil, readErr
		}
		if current != nil && current.LDReviewStatus != nil && *current.LDReviewStatus == decision {
			return current, nil
		}
		return nil, ErrDecisionFinal
	}
	if err != nil {
		return nil, err
	}
	s.timeline(ctx, id, "ld_decision", fmt.Sprintf("LD decision recorded: %s", decision), reviewerID)
	return s.incidents.GetIncident(ctx, id)
}

// Override sets or clears the LD cost tier override and regenerates the draft
// content under the effective tier. A saved edited draft is kept untouched;
// the caller decides whether to surface the regenerated form.
func (s *Service) Override(ctx context.Context, id int64, override *string, reviewerID int64) (*store.Incident, error) {
	if override != nil {
		tier := strings.ToLower(strings.TrimSpace(*override))
		switch tier {
		case store.CostUnder1500, store.CostMid, store.CostOver3500:
			override = &tier
		case "":
			override = nil
		default:
			return nil, ErrInvalidTier
		}
	}
	inc, err := s.incidents.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if inc == nil {
		return nil, ErrIncidentNotFound
	}
	if inc.AIAssessedAt == nil {
		return nil, ErrNoAssessment
	}

	inc.LDCostOverride = override
	content, err := s.rebuildContent(ctx, inc)
	if err != nil {
		return nil, err
	}
	if err := s.incidents.SetCostOverride(ctx, id, override, content, time.Now().UTC()); err != nil {
		return nil, err
	}
	msg := "LD cost override cleared"
	if override != nil {
		msg = fmt.Sprintf("LD cost override set to %s", *override)
	}
	s.timeline(ctx, id, "cost_override", msg, reviewerID)
	return s.incidents.GetIncident(ctx, id)
}

// Regenerate rebuilds the draft from current record state and discards any
// reviewer edits. It is the explicit reset path.
func (s *Service) Regenerate(ctx context.Context, id int64, userID int64) (*store.Incident, error) {
	inc, err := s.incidents.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if inc == nil {
		return nil, ErrIncidentNotFound
	}
	if inc.AIAssessedAt == nil {
		return nil, ErrNoAssessment
	}
	if inc.DraftStatus == store.DraftSent {
		return nil, ErrDraftNotEditable
	}
	content, err := s.rebuildContent(ctx, inc)
	if err != nil {
		return nil, err
	}
	if err := s.incidents.ReplaceDraft(ctx, id, content, true, time.Now().UTC()); err != nil {
		return nil, err
	}
	s.timeline(ctx, id, "draft_regenerated", "Draft regenerated, edits discarded", userID)
	return s.incidents.GetIncident(ctx, id)
}

// SaveEdit persists a reviewer-edited subject/body over the generated draft.
func (s *Service) SaveEdit(ctx context.Context, id int64, subject, body string, editorID int64) (*store.Incident, error) {
	inc, err := s.incidents.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if inc == nil {
		return nil, ErrIncidentNotFound
	}
	if inc.DraftStatus == store.DraftSent || inc.DraftStatus == store.DraftPending {
		return nil, ErrDraftNotEditable
	}
	if strings.TrimSpace(subject) == "" || strings.TrimSpace(body) == "" {
		return nil, errors.New("subject and body are required")
	}
	if err := s.incidents.SaveEditedDraft(ctx, id, draft.EditedFrom(subject, body, editorID)); err != nil {
		return nil, err
	}
	s.timeline(ctx, id, "draft_edited", "Draft edited", editorID)
	return s.incidents.GetIncident(ctx, id)
}

// MarkDraftReviewed moves a generated draft to reviewed.
func (s *Service) MarkDraftReviewed(ctx context.Context, id int64, userID int64) (*store.Incident, error) {
	inc, err := s.incidents.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if inc == nil {
		return nil, ErrIncidentNotFound
	}
	if err := s.incidents.MarkDraftReviewed(ctx, id); err != nil {
		if errors.Is(err, store.ErrConflict) {
			if inc.DraftStatus == store.DraftReviewed {
				return inc, nil
			}
			return nil, ErrDraftNotEditable
		}
		return nil, err
	}
	s.timeline(ctx, id, "draft_reviewed", "Draft marked reviewed", userID)
	return s.incidents.GetIncident(ctx, id)
}

// Close closes an incident without sending. Already-closed records conflict.
func (s *Service) Close(ctx context.Context, id int64, userID int64) (*store.Incident, error) {
	inc, err := s.incidents.CloseIncident(ctx, id, userID)
	if errors.Is(err, store.ErrConflict) {
		return nil, ErrAlreadyClosed
	}
	if err != nil {
		return nil, err
	}
	s.timeline(ctx, id, "closed", "Incident closed", userID)
	return inc, nil
}

// ForceStatus is the admin escape hatch around the normal transitions.
func (s *Service) ForceStatus(ctx context.Context, id int64, status string, userID int64) (*store.Incident, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	switch status {
	case store.StatusSubmitted, store.StatusInReview, store.StatusClosed:
	default:
		return nil, errors.New("invalid status")
	}
	if err := s.incidents.ForceStatus(ctx, id, status, userID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrIncidentNotFound
		}
		return nil, err
	}
	s.timeline(ctx, id, "status_forced", fmt.Sprintf("Status forced to %s", status), userID)
	return s.incidents.GetIncident(ctx, id)
}

func (s *Service) rebuildContent(ctx context.Context, inc *store.Incident) (*store.DraftContent, error) {
	files, err := s.incidents.ListIncidentFiles(ctx, inc.ID)
	if err != nil {
		return nil, err
	}
	var reporter *store.User
	if s.users != nil {
		reporter, _, _ = s.users.Get(ctx, inc.ReporterUserID)
	}
	return draft.BuildContent(inc, reporter, files), nil
}

func (s *Service) timeline(ctx context.Context, incidentID int64, eventType, message string, userID int64) {
	_, err := s.incidents.AddIncidentTimeline(ctx, &store.IncidentTimelineEvent{
		IncidentID: incidentID,
		EventType:  eventType,
		Message:    message,
		CreatedBy:  userID,
	})
	if err != nil && s.logger != nil {
		s.logger.Errorf("timeline append %s: %v", eventType, err)
	}
}
