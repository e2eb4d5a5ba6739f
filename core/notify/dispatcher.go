package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	"fleetdesk/config"
	"fleetdesk/core/draft"
	"fleetdesk/core/store"
	"fleetdesk/core/utils"
)

var (
	ErrIncidentNotFound = errors.New("incident not found")
	ErrNotApproved      = errors.New("incident not approved for sending")
	ErrNoRecipient      = errors.New("reporter has no email address")
	ErrSendFailed       = errors.New("mail delivery failed")
)

// Outcome reports what the send attempt did. Repeating a send on an
// already-sent incident is not an error; the original email is re-displayed.
type Outcome struct {
	Sent        bool             `json:"sent"`
	AlreadySent bool             `json:"already_sent"`
	Email       *store.SentEmail `json:"email,omitempty"`
	SentAt      *time.Time       `json:"sent_at,omitempty"`
}

type Dispatcher struct {
	cfg       config.MailConfig
	incidents store.IncidentsStore
	users     store.UsersStore
	sender    MailSender
	logger    *utils.Logger
}

func NewDispatcher(cfg config.MailConfig, incidents store.IncidentsStore, users store.UsersStore, sender MailSender, logger *utils.Logger) *Dispatcher {
	if sender == nil {
		sender = NewHTTPMailSender(cfg)
	}
	return &Dispatcher{cfg: cfg, incidents: incidents, users: users, sender: sender, logger: logger}
}

// Send delivers the final determination to the reporter, then atomically
// records the sent email and closes the incident. On delivery failure the
// record is left untouched so the operator can retry.
func (d *Dispatcher) Send(ctx context.Context, incidentID int64, sentBy int64) (*Outcome, error) {
	inc, err := d.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if inc == nil {
		return nil, ErrIncidentNotFound
	}
	if inc.SentAt != nil {
		return &Outcome{AlreadySent: true, Email: inc.FinalEmail, SentAt: inc.SentAt}, nil
	}
	if inc.LDReviewStatus == nil || *inc.LDReviewStatus != store.ReviewApproved {
		return nil, ErrNotApproved
	}

	reporter, _, err := d.users.Get(ctx, inc.ReporterUserID)
	if err != nil {
		return nil, err
	}
	recipient := ""
	recipientName := ""
	if reporter != nil {
		recipient = strings.TrimSpace(reporter.Email)
		recipientName = strings.TrimSpace(reporter.FullName)
	}
	if recipient == "" {
		return nil, ErrNoRecipient
	}

	rendered := draft.Render(inc)
	email := Email{
		To:       recipient,
		ToName:   recipientName,
		From:     d.cfg.FromAddress,
		FromName: d.cfg.FromName,
		Subject:  rendered.Subject,
		Body:     rendered.Body,
	}
	if err := d.sender.Send(ctx, email); err != nil {
		if d.logger != nil {
			d.logger.Errorf("final email for %s: %v", inc.ReportNo, err)
		}
		return nil, errors.Join(ErrSendFailed, err)
	}

	now := time.Now().UTC()
	final := &store.SentEmail{Recipient: recipient, Name: recipientName, Subject: rendered.Subject, Body: rendered.Body}
	err = d.incidents.MarkSent(ctx, incidentID, final, sentBy, now)
	if errors.Is(err, store.ErrConflict) {
		// Lost a race with a concurrent send; surface the recorded email.
		current, readErr := d.incidents.GetIncident(ctx, incidentID)
		if readErr != nil || current == nil || current.SentAt == nil {
			return nil, ErrNotApproved
		}
		return &Outcome{AlreadySent: true, Email: current.FinalEmail, SentAt: current.SentAt}, nil
	}
	if err != nil {
		return nil, err
	}
	_, _ = d.incidents.AddIncidentTimeline(ctx, &store.IncidentTimelineEvent{
		IncidentID: incidentID,
		EventType:  "email_sent",
		Message:    "Final determination sent to " + recipient,
		CreatedBy:  sentBy,
	})
	return &Outcome{Sent: true, Email: final, SentAt: &now}, nil
}
