package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"fleetdesk/config"
	"fleetdesk/core/utils"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.AppConfig{DBPath: filepath.Join(t.TempDir(), "store.db")}
	logger := utils.NewLogger()
	db, err := NewDB(cfg, logger)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := ApplyMigrations(context.Background(), db, logger); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return db
}

func newIncident(reporterID int64, occurredAt time.Time) *Incident {
	return &Incident{
		ReporterUserID: reporterID,
		VehicleID:      "VAN-12",
		OccurredAt:     occurredAt,
		Description:    "Parking lot scrape.",
		Drivable:       true,
	}
}

func TestCreateIncidentAssignsSequentialReportNumbers(t *testing.T) {
	incidents := NewIncidentsStore(newTestDB(t))
	ctx := context.Background()
	year := time.Now().UTC().Year()

	for i := 1; i <= 3; i++ {
		id, err := incidents.CreateIncident(ctx, newIncident(3, time.Now().UTC().Add(-time.Hour)), "RPT-{year}-{seq:05}")
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		inc, err := incidents.GetIncident(ctx, id)
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		want := fmt.Sprintf("RPT-%d-%05d", year, i)
		if inc.ReportNo != want {
			t.Fatalf("report no = %q, want %q", inc.ReportNo, want)
		}
		if inc.Status != StatusSubmitted || inc.DraftStatus != DraftPending {
			t.Fatalf("new incident axes = %s/%s", inc.Status, inc.DraftStatus)
		}
	}
}

func TestCreateIncidentKeepsExplicitReportNo(t *testing.T) {
	incidents := NewIncidentsStore(newTestDB(t))
	ctx := context.Background()

	inc := newIncident(3, time.Now().UTC().Add(-time.Hour))
	inc.ReportNo = "RPT-IMPORTED-0042"
	id, err := incidents.CreateIncident(ctx, inc, "RPT-{year}-{seq:05}")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := incidents.GetIncidentByReportNo(ctx, "RPT-IMPORTED-0042")
	if err != nil || got == nil || got.ID != id {
		t.Fatalf("lookup by report no: %v %+v", err, got)
	}
}

func TestCountSeasonIncidentsCalendarYearBoundary(t *testing.T) {
	incidents := NewIncidentsStore(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()
	yearStart := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)

	// Last season's incident must not count.
	if _, err := incidents.CreateIncident(ctx, newIncident(3, yearStart.Add(-24*time.Hour)), ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Two incidents this season, strictly before the reference time.
	for i := 0; i < 2; i++ {
		if _, err := incidents.CreateIncident(ctx, newIncident(3, now.Add(-time.Duration(i+2)*time.Hour)), ""); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	// One at the reference time exactly; the count is strictly earlier.
	if _, err := incidents.CreateIncident(ctx, newIncident(3, now), ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Another reporter.
	if _, err := incidents.CreateIncident(ctx, newIncident(9, now.Add(-time.Hour)), ""); err != nil {
		t.Fatalf("create: %v", err)
	}

	count, err := incidents.CountSeasonIncidents(ctx, 3, now)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
}

func TestSetReviewDecisionIsWriteOnce(t *testing.T) {
	incidents := NewIncidentsStore(newTestDB(t))
	ctx := context.Background()
	id, err := incidents.CreateIncident(ctx, newIncident(3, time.Now().UTC().Add(-time.Hour)), "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := incidents.SetReviewDecision(ctx, id, ReviewApproved, PreventabilityPreventable, "", 5, time.Now().UTC()); err != nil {
		t.Fatalf("decision: %v", err)
	}
	err = incidents.SetReviewDecision(ctx, id, ReviewNeedsRevision, "", "again", 5, time.Now().UTC())
	if err != ErrConflict {
		t.Fatalf("second decision err = %v", err)
	}
}

func TestMarkSentIsWriteOnceAndCloses(t *testing.T) {
	incidents := NewIncidentsStore(newTestDB(t))
	ctx := context.Background()
	id, err := incidents.CreateIncident(ctx, newIncident(3, time.Now().UTC().Add(-time.Hour)), "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	email := &SentEmail{Recipient: "jdoe@example.com", Subject: "s", Body: "b"}

	// Unapproved incidents cannot be stamped.
	if err := incidents.MarkSent(ctx, id, email, 7, time.Now().UTC()); err != ErrConflict {
		t.Fatalf("unapproved mark err = %v", err)
	}

	if err := incidents.SetReviewDecision(ctx, id, ReviewApproved, PreventabilityPreventable, "", 5, time.Now().UTC()); err != nil {
		t.Fatalf("decision: %v", err)
	}
	if err := incidents.MarkSent(ctx, id, email, 7, time.Now().UTC()); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	inc, err := incidents.GetIncident(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if inc.Status != StatusClosed || inc.DraftStatus != DraftSent || inc.SentAt == nil || inc.ClosedAt == nil {
		t.Fatalf("after send: status %s draft %s sent_at %v", inc.Status, inc.DraftStatus, inc.SentAt)
	}
	if inc.FinalEmail == nil || inc.FinalEmail.Recipient != "jdoe@example.com" {
		t.Fatalf("final email = %+v", inc.FinalEmail)
	}

	if err := incidents.MarkSent(ctx, id, email, 7, time.Now().UTC()); err != ErrConflict {
		t.Fatalf("second mark err = %v", err)
	}
}

func TestApplyAssessmentKeepsEditedDraft(t *testing.T) {
	incidents := NewIncidentsStore(newTestDB(t))
	ctx := context.Background()
	id, err := incidents.CreateIncident(ctx, newIncident(3, time.Now().UTC().Add(-time.Hour)), "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	result := AssessmentResult{
		CostBucket: CostMid, Severity: "structural", Confidence: "high", SeasonOrdinal: 1,
		Draft: &DraftContent{Overview: DraftOverview{ReportNo: "RPT-X"}},
	}
	if err := incidents.ApplyAssessment(ctx, id, result, time.Now().UTC()); err != nil {
		t.Fatalf("assessment: %v", err)
	}
	edited := &EditedDraft{Subject: "s", Body: "b", EditedBy: 5, EditedAt: time.Now().UTC()}
	if err := incidents.SaveEditedDraft(ctx, id, edited); err != nil {
		t.Fatalf("edit: %v", err)
	}

	// A re-run overwrites the generated content but keeps the edit.
	result.CostBucket = CostOver3500
	if err := incidents.ApplyAssessment(ctx, id, result, time.Now().UTC()); err != nil {
		t.Fatalf("re-run: %v", err)
	}
	inc, _ := incidents.GetIncident(ctx, id)
	if inc.AICostBucket == nil || *inc.AICostBucket != CostOver3500 {
		t.Fatalf("bucket = %v", inc.AICostBucket)
	}
	if inc.EditedDraft == nil || inc.EditedDraft.Subject != "s" {
		t.Fatalf("edited draft = %+v", inc.EditedDraft)
	}

	// ReplaceDraft with discardEdits drops it.
	if err := incidents.ReplaceDraft(ctx, id, result.Draft, true, time.Now().UTC()); err != nil {
		t.Fatalf("replace: %v", err)
	}
	inc, _ = incidents.GetIncident(ctx, id)
	if inc.EditedDraft != nil {
		t.Fatalf("edited draft should be discarded, got %+v", inc.EditedDraft)
	}
}

func TestListIncidentsFilters(t *testing.T) {
	incidents := NewIncidentsStore(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	a, _ := incidents.CreateIncident(ctx, newIncident(3, now.Add(-3*time.Hour)), "")
	b, _ := incidents.CreateIncident(ctx, newIncident(4, now.Add(-2*time.Hour)), "")
	if err := incidents.MarkInReview(ctx, b); err != nil {
		t.Fatalf("mark in review: %v", err)
	}
	if err := incidents.SetReviewDecision(ctx, b, ReviewApproved, PreventabilityPreventable, "", 5, now); err != nil {
		t.Fatalf("decision: %v", err)
	}

	got, err := incidents.ListIncidents(ctx, IncidentFilter{Status: StatusInReview})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != b {
		t.Fatalf("status filter = %+v", got)
	}

	got, err = incidents.ListIncidents(ctx, IncidentFilter{ReviewStatus: "pending"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != a {
		t.Fatalf("pending filter = %+v", got)
	}

	got, err = incidents.ListIncidents(ctx, IncidentFilter{ReporterUserID: 4})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != b {
		t.Fatalf("reporter filter = %+v", got)
	}
}

func TestIncidentTimeline(t *testing.T) {
	incidents := NewIncidentsStore(newTestDB(t))
	ctx := context.Background()
	id, _ := incidents.CreateIncident(ctx, newIncident(3, time.Now().UTC().Add(-time.Hour)), "")

	for _, msg := range []string{"Incident created", "LD decision recorded: approved"} {
		_, err := incidents.AddIncidentTimeline(ctx, &IncidentTimelineEvent{
			IncidentID: id, EventType: "event", Message: msg, CreatedBy: 1,
		})
		if err != nil {
			t.Fatalf("timeline append: %v", err)
		}
	}
	events, err := incidents.ListIncidentTimeline(ctx, id, 0)
	if err != nil {
		t.Fatalf("timeline list: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %+v", events)
	}
}
