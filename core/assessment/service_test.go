package assessment

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"fleetdesk/config"
	"fleetdesk/core/store"
	"fleetdesk/core/utils"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.AppConfig{DBPath: filepath.Join(t.TempDir(), "assessment.db")}
	logger := utils.NewLogger()
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := store.ApplyMigrations(context.Background(), db, logger); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return db
}

func seedIncident(t *testing.T, incidents store.IncidentsStore, reporterID int64, occurredAt time.Time) int64 {
	t.Helper()
	id, err := incidents.CreateIncident(context.Background(), &store.Incident{
		ReporterUserID: reporterID,
		Area:           "north",
		VehicleID:      "VAN-12",
		OccurredAt:     occurredAt,
		Location:       "Depot yard",
		Description:    "Backed into a loading dock post.",
		Drivable:       true,
	}, "RPT-{year}-{seq:05}")
	if err != nil {
		t.Fatalf("create incident: %v", err)
	}
	return id
}

func TestRunWritesAssessmentAndDraft(t *testing.T) {
	db := newTestDB(t)
	incidents := store.NewIncidentsStore(db)
	id := seedIncident(t, incidents, 3, time.Now().UTC().Add(-time.Hour))

	var gotReq Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/assess" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("authorization = %q", got)
		}
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(Response{
			Components: []string{"rear bumper"},
			Severity:   "structural",
			CostBucket: store.CostOver3500,
			CostRange:  "$4,000 - $5,500",
			Confidence: "high",
			Notes:      "Frame contact likely.",
		})
	}))
	defer srv.Close()

	cfg := config.AssessorConfig{BaseURL: srv.URL, APIKey: "secret", TimeoutSec: 5}
	svc := NewService(cfg, incidents, nil, nil, utils.NewLogger())

	res, err := svc.Run(context.Background(), id)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Success || res.AICostBucket != store.CostOver3500 || res.IncidentCountThisSeason != 1 {
		t.Fatalf("result = %+v", res)
	}
	if gotReq.VehicleID != "VAN-12" || gotReq.Description == "" {
		t.Fatalf("request sent to assessor = %+v", gotReq)
	}

	inc, err := incidents.GetIncident(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if inc.AICostBucket == nil || *inc.AICostBucket != store.CostOver3500 {
		t.Fatalf("ai cost bucket not persisted: %+v", inc.AICostBucket)
	}
	if inc.AIAssessedAt == nil || inc.SeasonOrdinal != 1 {
		t.Fatalf("assessed_at/ordinal not persisted: %v %d", inc.AIAssessedAt, inc.SeasonOrdinal)
	}
	if inc.DraftStatus != store.DraftGenerated {
		t.Fatalf("draft status = %s", inc.DraftStatus)
	}
	if inc.Draft == nil || inc.Draft.DamageReview.CostBucket != store.CostOver3500 {
		t.Fatalf("draft = %+v", inc.Draft)
	}
}

func TestRunFallsBackOnAssessorError(t *testing.T) {
	db := newTestDB(t)
	incidents := store.NewIncidentsStore(db)
	id := seedIncident(t, incidents, 3, time.Now().UTC().Add(-time.Hour))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	svc := NewService(config.AssessorConfig{BaseURL: srv.URL}, incidents, nil, nil, utils.NewLogger())
	res, err := svc.Run(context.Background(), id)
	if err != nil {
		t.Fatalf("run should degrade, not fail: %v", err)
	}
	if res.AICostBucket != store.CostMid || res.ConfidenceLevel != "low" {
		t.Fatalf("fallback result = %+v", res)
	}

	inc, _ := incidents.GetIncident(context.Background(), id)
	if inc.AISeverity == nil || *inc.AISeverity != "unclear" {
		t.Fatalf("fallback severity not persisted: %v", inc.AISeverity)
	}
	if inc.Draft == nil || len(inc.Draft.OpenItems) == 0 {
		t.Fatalf("fallback draft should flag manual review: %+v", inc.Draft)
	}
}

func TestRunFallsBackOnInvalidEnums(t *testing.T) {
	db := newTestDB(t)
	incidents := store.NewIncidentsStore(db)
	id := seedIncident(t, incidents, 3, time.Now().UTC().Add(-time.Hour))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Response{CostBucket: "cheap", Confidence: "certain"})
	}))
	defer srv.Close()

	svc := NewService(config.AssessorConfig{BaseURL: srv.URL}, incidents, nil, nil, utils.NewLogger())
	res, err := svc.Run(context.Background(), id)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.AICostBucket != store.CostMid {
		t.Fatalf("unrecognized enums must degrade to the mid tier, got %s", res.AICostBucket)
	}
}

func TestRunFallsBackOnInvalidSeverity(t *testing.T) {
	db := newTestDB(t)
	incidents := store.NewIncidentsStore(db)
	id := seedIncident(t, incidents, 3, time.Now().UTC().Add(-time.Hour))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Response{CostBucket: store.CostUnder1500, Severity: "moderate", Confidence: "high"})
	}))
	defer srv.Close()

	svc := NewService(config.AssessorConfig{BaseURL: srv.URL}, incidents, nil, nil, utils.NewLogger())
	res, err := svc.Run(context.Background(), id)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.AICostBucket != store.CostMid || res.ConfidenceLevel != "low" {
		t.Fatalf("out-of-enum severity must degrade, got %+v", res)
	}
	inc, _ := incidents.GetIncident(context.Background(), id)
	if inc.AISeverity == nil || *inc.AISeverity != "unclear" {
		t.Fatalf("severity = %v", inc.AISeverity)
	}
}

func TestRunCountsPriorSeasonIncidents(t *testing.T) {
	db := newTestDB(t)
	incidents := store.NewIncidentsStore(db)
	now := time.Now().UTC()
	seedIncident(t, incidents, 3, now.Add(-72*time.Hour))
	seedIncident(t, incidents, 3, now.Add(-48*time.Hour))
	// Another reporter's incident must not count.
	seedIncident(t, incidents, 9, now.Add(-24*time.Hour))
	id := seedIncident(t, incidents, 3, now.Add(-time.Hour))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Response{CostBucket: store.CostUnder1500, Confidence: "medium", Severity: "cosmetic"})
	}))
	defer srv.Close()

	svc := NewService(config.AssessorConfig{BaseURL: srv.URL}, incidents, nil, nil, utils.NewLogger())
	res, err := svc.Run(context.Background(), id)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.IncidentCountThisSeason != 3 {
		t.Fatalf("season ordinal = %d, want 3", res.IncidentCountThisSeason)
	}
	inc, _ := incidents.GetIncident(context.Background(), id)
	if inc.Draft == nil || inc.Draft.Guidance.Title != "THIRD+ INCIDENT THIS SEASON" {
		t.Fatalf("guidance should reflect the ordinal: %+v", inc.Draft)
	}
}

func TestRunUnknownIncident(t *testing.T) {
	db := newTestDB(t)
	incidents := store.NewIncidentsStore(db)
	svc := NewService(config.AssessorConfig{}, incidents, nil, nil, utils.NewLogger())
	if _, err := svc.Run(context.Background(), 9999); err != ErrIncidentNotFound {
		t.Fatalf("err = %v", err)
	}
}
