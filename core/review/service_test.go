package review

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"fleetdesk/config"
	"fleetdesk/core/store"
	"fleetdesk/core/utils"
)

func newTestService(t *testing.T) (*Service, store.IncidentsStore) {
	t.Helper()
	cfg := &config.AppConfig{DBPath: filepath.Join(t.TempDir(), "review.db")}
	logger := utils.NewLogger()
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := store.ApplyMigrations(context.Background(), db, logger); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	incidents := store.NewIncidentsStore(db)
	return NewService(incidents, store.NewUsersStore(db), logger), incidents
}

func createIncident(t *testing.T, incidents store.IncidentsStore) int64 {
	t.Helper()
	id, err := incidents.CreateIncident(context.Background(), &store.Incident{
		ReporterUserID: 3,
		VehicleID:      "VAN-12",
		OccurredAt:     time.Now().UTC().Add(-time.Hour),
		Description:    "Cracked windshield from road debris.",
		Drivable:       true,
	}, "RPT-{year}-{seq:05}")
	if err != nil {
		t.Fatalf("create incident: %v", err)
	}
	return id
}

func applyAssessment(t *testing.T, incidents store.IncidentsStore, id int64) {
	t.Helper()
	err := incidents.ApplyAssessment(context.Background(), id, store.AssessmentResult{
		CostBucket:    store.CostMid,
		Severity:      "structural",
		Confidence:    "high",
		CostRange:     "$1,800 - $2,600",
		SeasonOrdinal: 1,
		Draft:         &store.DraftContent{Overview: store.DraftOverview{ReportNo: "RPT-2026-00001"}},
	}, time.Now().UTC())
	if err != nil {
		t.Fatalf("apply assessment: %v", err)
	}
}

func TestOpenMovesSubmittedToInReview(t *testing.T) {
	svc, incidents := newTestService(t)
	id := createIncident(t, incidents)

	inc, err := svc.Open(context.Background(), id)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if inc.Status != store.StatusInReview {
		t.Fatalf("status = %s", inc.Status)
	}
	// A second open is a no-op.
	inc, err = svc.Open(context.Background(), id)
	if err != nil || inc.Status != store.StatusInReview {
		t.Fatalf("second open: %v %s", err, inc.Status)
	}
}

func TestDecideIsTerminal(t *testing.T) {
	svc, incidents := newTestService(t)
	id := createIncident(t, incidents)
	ctx := context.Background()

	inc, err := svc.Decide(ctx, id, store.ReviewApproved, "", "", 5)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if inc.LDReviewStatus == nil || *inc.LDReviewStatus != store.ReviewApproved {
		t.Fatalf("review status = %v", inc.LDReviewStatus)
	}
	if inc.LDPreventability != store.PreventabilityPreventable {
		t.Fatalf("preventability should default to preventable, got %q", inc.LDPreventability)
	}

	// Repeating the same decision is idempotent.
	if _, err := svc.Decide(ctx, id, store.ReviewApproved, store.PreventabilityPreventable, "", 5); err != nil {
		t.Fatalf("repeat decide: %v", err)
	}
	// A different decision is rejected.
	if _, err := svc.Decide(ctx, id, store.ReviewNeedsRevision, "", "fix the photos", 5); err != ErrDecisionFinal {
		t.Fatalf("conflicting decide err = %v", err)
	}
}

func TestDecideValidation(t *testing.T) {
	svc, incidents := newTestService(t)
	id := createIncident(t, incidents)
	ctx := context.Background()

	if _, err := svc.Decide(ctx, id, "maybe", "", "", 5); err != ErrInvalidDecision {
		t.Fatalf("err = %v", err)
	}
	if _, err := svc.Decide(ctx, id, store.ReviewNeedsRevision, "", "", 5); err != ErrCommentRequired {
		t.Fatalf("err = %v", err)
	}
	if _, err := svc.Decide(ctx, id, store.ReviewApproved, "unavoidable", "", 5); err != ErrInvalidDecision {
		t.Fatalf("err = %v", err)
	}
	if _, err := svc.Decide(ctx, 9999, store.ReviewApproved, "", "", 5); err != ErrIncidentNotFound {
		t.Fatalf("err = %v", err)
	}
}

func TestDecideNeedsRevisionKeepsPreventabilityEmpty(t *testing.T) {
	svc, incidents := newTestService(t)
	id := createIncident(t, incidents)

	inc, err := svc.Decide(context.Background(), id, store.ReviewNeedsRevision, store.PreventabilityPreventable, "resubmit with the shop quote", 5)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if inc.LDPreventability != "" {
		t.Fatalf("preventability = %q, want empty for needs_revision", inc.LDPreventability)
	}
	if inc.LDComment != "resubmit with the shop quote" {
		t.Fatalf("comment = %q", inc.LDComment)
	}
}

func TestOverride(t *testing.T) {
	svc, incidents := newTestService(t)
	id := createIncident(t, incidents)
	ctx := context.Background()

	// Before the assessment there is nothing to override.
	over := store.CostOver3500
	if _, err := svc.Override(ctx, id, &over, 5); err != ErrNoAssessment {
		t.Fatalf("err = %v", err)
	}

	applyAssessment(t, incidents, id)

	bad := "expensive"
	if _, err := svc.Override(ctx, id, &bad, 5); err != ErrInvalidTier {
		t.Fatalf("err = %v", err)
	}

	inc, err := svc.Override(ctx, id, &over, 5)
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if inc.LDCostOverride == nil || *inc.LDCostOverride != store.CostOver3500 {
		t.Fatalf("override = %v", inc.LDCostOverride)
	}
	if inc.Draft == nil || inc.Draft.DamageReview.CostBucket != store.CostOver3500 {
		t.Fatalf("draft not rebuilt under override: %+v", inc.Draft)
	}

	// An empty string clears it.
	empty := ""
	inc, err = svc.Override(ctx, id, &empty, 5)
	if err != nil {
		t.Fatalf("clear override: %v", err)
	}
	if inc.LDCostOverride != nil {
		t.Fatalf("override not cleared: %v", inc.LDCostOverride)
	}
	if inc.Draft.DamageReview.CostBucket != store.CostMid {
		t.Fatalf("draft should fall back to the assessed bucket: %q", inc.Draft.DamageReview.CostBucket)
	}
}

func TestOverrideKeepsEditedDraft(t *testing.T) {
	svc, incidents := newTestService(t)
	id := createIncident(t, incidents)
	ctx := context.Background()
	applyAssessment(t, incidents, id)

	if _, err := svc.SaveEdit(ctx, id, "Edited subject", "Edited body", 5); err != nil {
		t.Fatalf("save edit: %v", err)
	}
	over := store.CostOver3500
	inc, err := svc.Override(ctx, id, &over, 5)
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if inc.EditedDraft == nil || inc.EditedDraft.Subject != "Edited subject" {
		t.Fatalf("edited draft must survive an override: %+v", inc.EditedDraft)
	}
}

func TestRegenerateDiscardsEdits(t *testing.T) {
	svc, incidents := newTestService(t)
	id := createIncident(t, incidents)
	ctx := context.Background()

	if _, err := svc.Regenerate(ctx, id, 5); err != ErrNoAssessment {
		t.Fatalf("err = %v", err)
	}
	applyAssessment(t, incidents, id)

	if _, err := svc.SaveEdit(ctx, id, "Edited subject", "Edited body", 5); err != nil {
		t.Fatalf("save edit: %v", err)
	}
	inc, err := svc.Regenerate(ctx, id, 5)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if inc.EditedDraft != nil {
		t.Fatalf("edits should be discarded: %+v", inc.EditedDraft)
	}
	if inc.DraftStatus != store.DraftGenerated {
		t.Fatalf("draft status = %s", inc.DraftStatus)
	}
}

func TestSaveEditGuards(t *testing.T) {
	svc, incidents := newTestService(t)
	id := createIncident(t, incidents)
	ctx := context.Background()

	// No draft yet.
	if _, err := svc.SaveEdit(ctx, id, "s", "b", 5); err != ErrDraftNotEditable {
		t.Fatalf("err = %v", err)
	}
	applyAssessment(t, incidents, id)
	if _, err := svc.SaveEdit(ctx, id, "", "b", 5); err == nil {
		t.Fatalf("empty subject should be rejected")
	}
}

func TestMarkDraftReviewedIdempotent(t *testing.T) {
	svc, incidents := newTestService(t)
	id := createIncident(t, incidents)
	ctx := context.Background()

	// Pending drafts cannot be marked reviewed.
	if _, err := svc.MarkDraftReviewed(ctx, id, 5); err != ErrDraftNotEditable {
		t.Fatalf("err = %v", err)
	}
	applyAssessment(t, incidents, id)

	inc, err := svc.MarkDraftReviewed(ctx, id, 5)
	if err != nil {
		t.Fatalf("mark reviewed: %v", err)
	}
	if inc.DraftStatus != store.DraftReviewed {
		t.Fatalf("draft status = %s", inc.DraftStatus)
	}
	// Second mark is a no-op.
	if _, err := svc.MarkDraftReviewed(ctx, id, 5); err != nil {
		t.Fatalf("second mark: %v", err)
	}
}

func TestCloseConflictsWhenAlreadyClosed(t *testing.T) {
	svc, incidents := newTestService(t)
	id := createIncident(t, incidents)
	ctx := context.Background()

	inc, err := svc.Close(ctx, id, 5)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if inc.Status != store.StatusClosed || inc.ClosedAt == nil {
		t.Fatalf("incident = %+v", inc)
	}
	if _, err := svc.Close(ctx, id, 5); err != ErrAlreadyClosed {
		t.Fatalf("err = %v", err)
	}
}

func TestForceStatus(t *testing.T) {
	svc, incidents := newTestService(t)
	id := createIncident(t, incidents)
	ctx := context.Background()

	if _, err := svc.ForceStatus(ctx, id, "archived", 1); err == nil {
		t.Fatalf("invalid status should be rejected")
	}
	inc, err := svc.ForceStatus(ctx, id, store.StatusClosed, 1)
	if err != nil {
		t.Fatalf("force: %v", err)
	}
	if inc.Status != store.StatusClosed {
		t.Fatalf("status = %s", inc.Status)
	}
	inc, err = svc.ForceStatus(ctx, id, store.StatusSubmitted, 1)
	if err != nil || inc.Status != store.StatusSubmitted {
		t.Fatalf("reopen: %v %s", err, inc.Status)
	}
}
