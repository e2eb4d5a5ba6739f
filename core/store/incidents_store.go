package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var ErrConflict = errors.New("conflict")

const (
	StatusSubmitted = "submitted"
	StatusInReview  = "in_review"
	StatusClosed    = "closed"

	ReviewApproved      = "approved"
	ReviewNeedsRevision = "needs_revision"

	DraftPending   = "pending"
	DraftGenerated = "generated"
	DraftReviewed  = "reviewed"
	DraftSent      = "sent"

	CostUnder1500 = "under_1500"
	CostMid       = "1500_to_3500"
	CostOver3500  = "over_3500"

	PreventabilityPreventable    = "preventable"
	PreventabilityNonPreventable = "non_preventable"
)

type Incident struct {
	ID             int64     `json:"id"`
	ReportNo       string    `json:"report_no"`
	ReporterUserID int64     `json:"reporter_user_id"`
	Area           string    `json:"area"`
	VehicleID      string    `json:"vehicle_id"`
	LicensePlate   string    `json:"license_plate"`
	VIN            string    `json:"vin"`
	OccurredAt     time.Time `json:"occurred_at"`
	Location       string    `json:"location"`
	Weather        string    `json:"weather"`
	Description    string    `json:"description"`
	TripRef        string    `json:"trip_ref,omitempty"`
	Drivable       bool      `json:"drivable"`
	Towed          bool      `json:"towed"`

	Status   string     `json:"status"`
	ClosedAt *time.Time `json:"closed_at,omitempty"`
	ClosedBy *int64     `json:"closed_by,omitempty"`

	AICostBucket       *string    `json:"ai_cost_bucket,omitempty"`
	AISeverity         *string    `json:"ai_severity,omitempty"`
	AIConfidence       *string    `json:"ai_confidence,omitempty"`
	AIComponents       []string   `json:"ai_components,omitempty"`
	AIRepairComplexity string     `json:"ai_repair_complexity,omitempty"`
	AICostRange        string     `json:"ai_cost_range,omitempty"`
	AINotes            string     `json:"ai_notes,omitempty"`
	AIAssessedAt       *time.Time `json:"ai_assessed_at,omitempty"`
	SeasonOrdinal      int        `json:"season_ordinal"`

	LDReviewStatus   *string       `json:"ld_review_status,omitempty"`
	LDPreventability string        `json:"ld_preventability,omitempty"`
	LDReviewedBy     *int64        `json:"ld_reviewed_by,omitempty"`
	LDReviewedAt     *time.Time    `json:"ld_reviewed_at,omitempty"`
	LDComment        string        `json:"ld_comment,omitempty"`
	LDCostOverride   *string       `json:"ld_cost_override,omitempty"`
	DraftStatus      string        `json:"draft_status"`
	DraftGeneratedAt *time.Time    `json:"draft_generated_at,omitempty"`
	Draft            *DraftContent `json:"draft,omitempty"`
	EditedDraft      *EditedDraft  `json:"edited_draft,omitempty"`

	FinalEmail *SentEmail `json:"final_email,omitempty"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
	SentBy     *int64     `json:"sent_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

// DraftContent is produced wholesale by the damage assessment run and rendered
// by the draft composer. Re-running the assessment replaces it entirely.
type DraftContent struct {
	Overview       DraftOverview       `json:"overview"`
	Summary        string              `json:"summary,omitempty"`
	ReportedDamage string              `json:"reported_damage,omitempty"`
	DamageReview   DamageReview        `json:"damage_review"`
	Guidance       ConsequenceGuidance `json:"guidance"`
	HistoryFlag    string              `json:"history_flag,omitempty"`
	Attachments    []string            `json:"attachments,omitempty"`
	OpenItems      []string            `json:"open_items,omitempty"`
}

type DraftOverview struct {
	ReportNo     string `json:"report_no"`
	Reporter     string `json:"reporter"`
	Area         string `json:"area"`
	Vehicle      string `json:"vehicle"`
	LicensePlate string `json:"license_plate,omitempty"`
	OccurredAt   string `json:"occurred_at"`
	Location     string `json:"location"`
}

type DamageReview struct {
	Components       []string `json:"components,omitempty"`
	Severity         string   `json:"severity,omitempty"`
	RepairComplexity string   `json:"repair_complexity,omitempty"`
	CostBucket       string   `json:"cost_bucket,omitempty"`
	CostRange        string   `json:"cost_range,omitempty"`
	Confidence       string   `json:"confidence,omitempty"`
	Notes            string   `json:"notes,omitempty"`
}

type ConsequenceGuidance struct {
	Title     string   `json:"title"`
	Mandatory []string `json:"mandatory"`
	Optional  []string `json:"optional,omitempty"`
	Note      string   `json:"note,omitempty"`
}

type EditedDraft struct {
	Subject  string    `json:"subject"`
	Body     string    `json:"body"`
	EditedBy int64     `json:"edited_by"`
	EditedAt time.Time `json:"edited_at"`
}

type SentEmail struct {
	Recipient string `json:"recipient"`
	Name      string `json:"name,omitempty"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// AssessmentResult is the flattened record the assessment service writes back
// onto the incident. Fields are overwritten, not merged, on every run.
type AssessmentResult struct {
	CostBucket       string
	Severity         string
	Confidence       string
	Components       []string
	RepairComplexity string
	CostRange        string
	Notes            string
	SeasonOrdinal    int
	Draft            *DraftContent
}

type IncidentFilter struct {
	Search         string
	Status         string
	DraftStatus    string
	ReviewStatus   string
	ReporterUserID int64
	Limit          int
	Offset         int
}

type IncidentsStore interface {
	CreateIncident(ctx context.Context, incident *Incident, reportNoFormat string) (int64, error)
	GetIncident(ctx context.Context, id int64) (*Incident, error)
	GetIncidentByReportNo(ctx context.Context, reportNo string) (*Incident, error)
	ListIncidents(ctx context.Context, filter IncidentFilter) ([]Incident, error)
	CountSeasonIncidents(ctx context.Context, reporterUserID int64, before time.Time) (int, error)

	MarkInReview(ctx context.Context, id int64) error
	CloseIncident(ctx context.Context, id int64, userID int64) (*Incident, error)
	ForceStatus(ctx context.Context, id int64, status string, userID int64) error

	ApplyAssessment(ctx context.Context, id int64, result AssessmentResult, at time.Time) error
	SetReviewDecision(ctx context.Context, id int64, decision, preventability, comment string, reviewerID int64, at time.Time) error
	SetCostOverride(ctx context.Context, id int64, override *string, draft *DraftContent, at time.Time) error
	ReplaceDraft(ctx context.Context, id int64, draft *DraftContent, discardEdits bool, at time.Time) error
	SaveEditedDraft(ctx context.Context, id int64, edited *EditedDraft) error
	MarkDraftReviewed(ctx context.Context, id int64) error
	MarkSent(ctx context.Context, id int64, email *SentEmail, sentBy int64, at time.Time) error

	AddIncidentFile(ctx context.Context, file *IncidentFile) (int64, error)
	GetIncidentFile(ctx context.Context, incidentID, fileID int64) (*IncidentFile, error)
	ListIncidentFiles(ctx context.Context, incidentID int64) ([]IncidentFile, error)

	AddIncidentTimeline(ctx context.Context, ev *IncidentTimelineEvent) (int64, error)
	ListIncidentTimeline(ctx context.Context, incidentID int64, limit int) ([]IncidentTimelineEvent, error)
}

type IncidentTimelineEvent struct {
	ID         int64     `json:"id"`
	IncidentID int64     `json:"incident_id"`
	EventType  string    `json:"event_type"`
	Message    string    `json:"message"`
	CreatedBy  int64     `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
}

type IncidentFile struct {
	ID           int64     `json:"id"`
	IncidentID   int64     `json:"incident_id"`
	Filename     string    `json:"filename"`
	ContentType  string    `json:"content_type"`
	StoragePath  string    `json:"storage_path"`
	SizeBytes    int64     `json:"size_bytes"`
	SHA256Plain  string    `json:"sha256_plain"`
	SHA256Cipher string    `json:"sha256_cipher"`
	UploadedBy   int64     `json:"uploaded_by"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

type incidentsStore struct {
	db *sql.DB
}

func NewIncidentsStore(db *sql.DB) IncidentsStore {
	return &incidentsStore{db: db}
}

const incidentColumns = `id, report_no, reporter_user_id, area, vehicle_id, license_plate, vin, occurred_at, location, weather, description, trip_ref, drivable, towed, status, closed_at, closed_by, ai_cost_bucket, ai_severity, ai_confidence, ai_components, ai_repair_complexity, ai_cost_range, ai_notes, ai_assessed_at, season_ordinal, ld_review_status, ld_preventability, ld_reviewed_by, ld_reviewed_at, ld_comment, ld_cost_override, draft_status, draft_generated_at, draft_json, edited_draft_json, final_email_json, sent_at, sent_by, created_at, updated_at, version`

func (s *incidentsStore) CreateIncident(ctx context.Context, incident *Incident, reportNoFormat string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(incident.ReportNo) == "" {
		seq, err := s.nextReportSeqTx(ctx, tx, time.Now().UTC().Year())
		if err != nil {
			tx.Rollback()
			return 0, err
		}
		incident.ReportNo = buildReportNo(reportNoFormat, time.Now().UTC().Year(), seq)
	}
	if incident.Version <= 0 {
		incident.Version = 1
	}
	if strings.TrimSpace(incident.Status) == "" {
		incident.Status = StatusSubmitted
	}
	if strings.TrimSpace(incident.DraftStatus) == "" {
		incident.DraftStatus = DraftPending
	}
	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO incidents(report_no, reporter_user_id, area, vehicle_id, license_plate, vin, occurred_at, location, weather, description, trip_ref, drivable, towed, status, ai_components, draft_status, season_ordinal, created_at, updated_at, version)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		incident.ReportNo, incident.ReporterUserID, strings.TrimSpace(incident.Area), strings.TrimSpace(incident.VehicleID), strings.TrimSpace(incident.LicensePlate), strings.TrimSpace(incident.VIN), incident.OccurredAt.UTC(), strings.TrimSpace(incident.Location), strings.TrimSpace(incident.Weather), strings.TrimSpace(incident.Description), strings.TrimSpace(incident.TripRef), boolToInt(incident.Drivable), boolToInt(incident.Towed), incident.Status, listToJSON(nil), incident.DraftStatus, incident.SeasonOrdinal, now, now, incident.Version)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	id, _ := res.LastInsertId()
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	incident.ID = id
	incident.CreatedAt = now
	incident.UpdatedAt = now
	return id, nil
}

func (s *incidentsStore) GetIncident(ctx context.Context, id int64) (*Incident, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id=?`, id)
	return scanIncident(row)
}

func (s *incidentsStore) GetIncidentByReportNo(ctx context.Context, reportNo string) (*Incident, error) {
	if strings.TrimSpace(reportNo) == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE report_no=?`, reportNo)
	return scanIncident(row)
}

func (s *incidentsStore) ListIncidents(ctx context.Context, filter IncidentFilter) ([]Incident, error) {
	var clauses []string
	var args []any
	if filter.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, filter.Status)
	}
	if filter.DraftStatus != "" {
		clauses = append(clauses, "draft_status=?")
		args = append(args, filter.DraftStatus)
	}
	if filter.ReviewStatus != "" {
		if filter.ReviewStatus == "pending" {
			clauses = append(clauses, "ld_review_status IS NULL")
		} else {
			clauses = append(clauses, "ld_review_status=?")
			args = append(args, filter.ReviewStatus)
		}
	}
	if filter.ReporterUserID > 0 {
		clauses = append(clauses, "reporter_user_id=?")
		args = append(args, filter.ReporterUserID)
	}
	if filter.Search != "" {
		clauses = append(clauses, "(report_no LIKE ? OR vehicle_id LIKE ? OR license_plate LIKE ? OR location LIKE ? OR description LIKE ?)")
		q := "%" + filter.Search + "%"
		args = append(args, q, q, q, q, q)
	}
	query := `SELECT ` + incidentColumns + ` FROM incidents`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY occurred_at DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Incident
	for rows.Next() {
		inc, err := scanIncidentRow(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, inc)
	}
	return res, rows.Err()
}

// CountSeasonIncidents counts the reporter's incidents that occurred strictly
// before the given time within that time's calendar year.
func (s *incidentsStore) CountSeasonIncidents(ctx context.Context, reporterUserID int64, before time.Time) (int, error) {
	yearStart := time.Date(before.UTC().Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM incidents
		WHERE reporter_user_id=? AND occurred_at >= ? AND occurred_at < ?`,
		reporterUserID, yearStart, before.UTC()).Scan(&count)
	return count, err
}

// MarkInReview moves a submitted case to in_review. Already-progressed cases
// are left alone; this is not a conflict.
func (s *incidentsStore) MarkInReview(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE incidents SET status=?, updated_at=?, version=version+1
		WHERE id=? AND status=?`,
		StatusInReview, now, id, StatusSubmitted)
	return err
}

func (s *incidentsStore) CloseIncident(ctx context.Context, id int64, userID int64) (*Incident, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidents SET status=?, closed_at=?, closed_by=?, updated_at=?, version=version+1
		WHERE id=? AND status!=?`,
		StatusClosed, now, userID, now, id, StatusClosed)
	if err != nil {
		return nil, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, ErrConflict
	}
	return s.GetIncident(ctx, id)
}

func (s *incidentsStore) ForceStatus(ctx context.Context, id int64, status string, userID int64) error {
	now := time.Now().UTC()
	var res sql.Result
	var err error
	if status == StatusClosed {
		res, err = s.db.ExecContext(ctx, `
			UPDATE incidents SET status=?, closed_at=?, closed_by=?, updated_at=?, version=version+1 WHERE id=?`,
			status, now, userID, now, id)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE incidents SET status=?, closed_at=NULL, closed_by=NULL, updated_at=?, version=version+1 WHERE id=?`,
			status, now, id)
	}
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	return nil
}

// ApplyAssessment overwrites every AI-derived field, freezes the season
// ordinal and resets the draft axis to generated. The edited draft, if any,
// is kept; rendering priority is decided by the composer.
func (s *incidentsStore) ApplyAssessment(ctx context.Context, id int64, result AssessmentResult, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidents SET
			ai_cost_bucket=?, ai_severity=?, ai_confidence=?, ai_components=?,
			ai_repair_complexity=?, ai_cost_range=?, ai_notes=?, ai_assessed_at=?,
			season_ordinal=?, draft_status=?, draft_generated_at=?, draft_json=?,
			updated_at=?, version=version+1
		WHERE id=?`,
		result.CostBucket, result.Severity, result.Confidence, listToJSON(result.Components),
		strings.TrimSpace(result.RepairComplexity), strings.TrimSpace(result.CostRange), strings.TrimSpace(result.Notes), at.UTC(),
		result.SeasonOrdinal, DraftGenerated, at.UTC(), draftToJSON(result.Draft),
		at.UTC(), id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	return nil
}

// SetReviewDecision records the terminal LD decision. The IS NULL guard keeps
// racing reviewers from overwriting each other; the caller treats a zero-row
// result on an already-decided record as a no-op.
func (s *incidentsStore) SetReviewDecision(ctx context.Context, id int64, decision, preventability, comment string, reviewerID int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidents SET ld_review_status=?, ld_preventability=?, ld_comment=?, ld_reviewed_by=?, ld_reviewed_at=?, updated_at=?, version=version+1
		WHERE id=? AND ld_review_status IS NULL`,
		decision, preventability, strings.TrimSpace(comment), reviewerID, at.UTC(), at.UTC(), id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *incidentsStore) SetCostOverride(ctx context.Context, id int64, override *string, draft *DraftContent, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidents SET ld_cost_override=?, draft_json=?, draft_status=?, draft_generated_at=?, updated_at=?, version=version+1
		WHERE id=?`,
		nullableString(override), draftToJSON(draft), DraftGenerated, at.UTC(), at.UTC(), id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *incidentsStore) ReplaceDraft(ctx context.Context, id int64, draft *DraftContent, discardEdits bool, at time.Time) error {
	query := `UPDATE incidents SET draft_json=?, draft_status=?, draft_generated_at=?, updated_at=?, version=version+1 WHERE id=?`
	if discardEdits {
		query = `UPDATE incidents SET draft_json=?, draft_status=?, draft_generated_at=?, updated_at=?, version=version+1, edited_draft_json=NULL WHERE id=?`
	}
	res, err := s.db.ExecContext(ctx, query, draftToJSON(draft), DraftGenerated, at.UTC(), at.UTC(), id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *incidentsStore) SaveEditedDraft(ctx context.Context, id int64, edited *EditedDraft) error {
	raw, err := json.Marshal(edited)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidents SET edited_draft_json=?, updated_at=?, version=version+1 WHERE id=?`,
		string(raw), now, id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *incidentsStore) MarkDraftReviewed(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidents SET draft_status=?, updated_at=?, version=version+1
		WHERE id=? AND draft_status=?`,
		DraftReviewed, now, id, DraftGenerated)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	return nil
}

// MarkSent stamps the notification in one statement: the approved + not-yet-sent
// guard makes sent_at write-once and closes the case atomically with it.
func (s *incidentsStore) MarkSent(ctx context.Context, id int64, email *SentEmail, sentBy int64, at time.Time) error {
	raw, err := json.Marshal(email)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidents SET final_email_json=?, sent_at=?, sent_by=?, draft_status=?, status=?, closed_at=?, closed_by=?, updated_at=?, version=version+1
		WHERE id=? AND ld_review_status=? AND sent_at IS NULL`,
		string(raw), at.UTC(), sentBy, DraftSent, StatusClosed, at.UTC(), sentBy, at.UTC(), id, ReviewApproved)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *incidentsStore) AddIncidentFile(ctx context.Context, file *IncidentFile) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO incident_files(incident_id, filename, content_type, storage_path, size_bytes, sha256_plain, sha256_cipher, uploaded_by, uploaded_at)
		VALUES(?,?,?,?,?,?,?,?,?)`,
		file.IncidentID, file.Filename, file.ContentType, file.StoragePath, file.SizeBytes, file.SHA256Plain, file.SHA256Cipher, file.UploadedBy, now)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	file.ID = id
	file.UploadedAt = now
	return id, nil
}

func (s *incidentsStore) GetIncidentFile(ctx context.Context, incidentID, fileID int64) (*IncidentFile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, incident_id, filename, content_type, storage_path, size_bytes, sha256_plain, sha256_cipher, uploaded_by, uploaded_at
		FROM incident_files WHERE id=? AND incident_id=?`, fileID, incidentID)
	var f IncidentFile
	if err := row.Scan(&f.ID, &f.IncidentID, &f.Filename, &f.ContentType, &f.StoragePath, &f.SizeBytes, &f.SHA256Plain, &f.SHA256Cipher, &f.UploadedBy, &f.UploadedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &f, nil
}

func (s *incidentsStore) ListIncidentFiles(ctx context.Context, incidentID int64) ([]IncidentFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, incident_id, filename, content_type, storage_path, size_bytes, sha256_plain, sha256_cipher, uploaded_by, uploaded_at
		FROM incident_files WHERE incident_id=? ORDER BY uploaded_at ASC, id ASC`, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []IncidentFile
	for rows.Next() {
		var f IncidentFile
		if err := rows.Scan(&f.ID, &f.IncidentID, &f.Filename, &f.ContentType, &f.StoragePath, &f.SizeBytes, &f.SHA256Plain, &f.SHA256Cipher, &f.UploadedBy, &f.UploadedAt); err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

func (s *incidentsStore) AddIncidentTimeline(ctx context.Context, ev *IncidentTimelineEvent) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO incident_timeline(incident_id, event_type, message, created_by, created_at)
		VALUES(?,?,?,?,?)`,
		ev.IncidentID, strings.TrimSpace(ev.EventType), strings.TrimSpace(ev.Message), ev.CreatedBy, now)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	ev.ID = id
	ev.CreatedAt = now
	return id, nil
}

func (s *incidentsStore) ListIncidentTimeline(ctx context.Context, incidentID int64, limit int) ([]IncidentTimelineEvent, error) {
	query := `
		SELECT id, incident_id, event_type, message, created_by, created_at
		FROM incident_timeline WHERE incident_id=? ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []IncidentTimelineEvent
	for rows.Next() {
		var ev IncidentTimelineEvent
		if err := rows.Scan(&ev.ID, &ev.IncidentID, &ev.EventType, &ev.Message, &ev.CreatedBy, &ev.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}

func (s *incidentsStore) nextReportSeqTx(ctx context.Context, tx *sql.Tx, year int) (int64, error) {
	var seq int64
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO incident_report_counters(year, seq)
		VALUES(?,1)
		ON CONFLICT (year)
		DO UPDATE SET seq = incident_report_counters.seq + 1
		RETURNING seq
	`, year).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

var seqToken = regexp.MustCompile(`\{seq(?::(\d+))?\}`)

func buildReportNo(format string, year int, seq int64) string {
	if strings.TrimSpace(format) == "" {
		format = "RPT-{year}-{seq:05}"
	}
	out := strings.ReplaceAll(format, "{year}", fmt.Sprintf("%d", year))
	out = seqToken.ReplaceAllStringFunc(out, func(token string) string {
		m := seqToken.FindStringSubmatch(token)
		if len(m) == 2 && m[1] != "" {
			width := 0
			_, _ = fmt.Sscanf(m[1], "%d", &width)
			if width > 0 {
				return fmt.Sprintf("%0*d", width, seq)
			}
		}
		return fmt.Sprintf("%d", seq)
	})
	return out
}

func scanIncident(row *sql.Row) (*Incident, error) {
	inc, err := scanIncidentFrom(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return inc, nil
}

func scanIncidentRow(rows *sql.Rows) (Incident, error) {
	inc, err := scanIncidentFrom(rows.Scan)
	if err != nil {
		return Incident{}, err
	}
	return *inc, nil
}

func scanIncidentFrom(scan func(...any) error) (*Incident, error) {
	var inc Incident
	var closedAt, reviewedAt, assessedAt, generatedAt, sentAt sql.NullTime
	var closedBy, reviewedBy, sentBy sql.NullInt64
	var costBucket, severity, confidence, reviewStatus, costOverride sql.NullString
	var draftRaw, editedRaw, finalRaw sql.NullString
	var drivable, towed int
	var componentsRaw string
	if err := scan(
		&inc.ID, &inc.ReportNo, &inc.ReporterUserID, &inc.Area, &inc.VehicleID, &inc.LicensePlate, &inc.VIN,
		&inc.OccurredAt, &inc.Location, &inc.Weather, &inc.Description, &inc.TripRef, &drivable, &towed,
		&inc.Status, &closedAt, &closedBy,
		&costBucket, &severity, &confidence, &componentsRaw, &inc.AIRepairComplexity, &inc.AICostRange, &inc.AINotes, &assessedAt, &inc.SeasonOrdinal,
		&reviewStatus, &inc.LDPreventability, &reviewedBy, &reviewedAt, &inc.LDComment, &costOverride,
		&inc.DraftStatus, &generatedAt, &draftRaw, &editedRaw,
		&finalRaw, &sentAt, &sentBy,
		&inc.CreatedAt, &inc.UpdatedAt, &inc.Version,
	); err != nil {
		return nil, err
	}
	inc.Drivable = drivable == 1
	inc.Towed = towed == 1
	if closedAt.Valid {
		inc.ClosedAt = &closedAt.Time
	}
	if closedBy.Valid {
		inc.ClosedBy = &closedBy.Int64
	}
	if costBucket.Valid && costBucket.String != "" {
		inc.AICostBucket = &costBucket.String
	}
	if severity.Valid && severity.String != "" {
		inc.AISeverity = &severity.String
	}
	if confidence.Valid && confidence.String != "" {
		inc.AIConfidence = &confidence.String
	}
	if assessedAt.Valid {
		inc.AIAssessedAt = &assessedAt.Time
	}
	if reviewStatus.Valid && reviewStatus.String != "" {
		inc.LDReviewStatus = &reviewStatus.String
	}
	if reviewedBy.Valid {
		inc.LDReviewedBy = &reviewedBy.Int64
	}
	if reviewedAt.Valid {
		inc.LDReviewedAt = &reviewedAt.Time
	}
	if costOverride.Valid && costOverride.String != "" {
		inc.LDCostOverride = &costOverride.String
	}
	if generatedAt.Valid {
		inc.DraftGeneratedAt = &generatedAt.Time
	}
	if sentAt.Valid {
		inc.SentAt = &sentAt.Time
	}
	if sentBy.Valid {
		inc.SentBy = &sentBy.Int64
	}
	_ = json.Unmarshal([]byte(componentsRaw), &inc.AIComponents)
	if draftRaw.Valid && strings.TrimSpace(draftRaw.String) != "" {
		var d DraftContent
		if err := json.Unmarshal([]byte(draftRaw.String), &d); err == nil {
			inc.Draft = &d
		}
	}
	if editedRaw.Valid && strings.TrimSpace(editedRaw.String) != "" {
		var e EditedDraft
		if err := json.Unmarshal([]byte(editedRaw.String), &e); err == nil {
			inc.EditedDraft = &e
		}
	}
	if finalRaw.Valid && strings.TrimSpace(finalRaw.String) != "" {
		var f SentEmail
		if err := json.Unmarshal([]byte(finalRaw.String), &f); err == nil {
			inc.FinalEmail = &f
		}
	}
	return &inc, nil
}

func draftToJSON(draft *DraftContent) any {
	if draft == nil {
		return nil
	}
	raw, err := json.Marshal(draft)
	if err != nil {
		return nil
	}
	return string(raw)
}

func listToJSON(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

func nullableString(v *string) any {
	if v == nil || strings.TrimSpace(*v) == "" {
		return nil
	}
	return *v
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
