// Package assessment runs the external damage assessment for an incident and
// writes the result, the season ordinal and a regenerated draft back onto the
// record. The external call is bounded and best-effort: any failure degrades
// to a conservative placeholder result, never to a workflow error.
package assessment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fleetdesk/config"
	"fleetdesk/core/draft"
	"fleetdesk/core/store"
	"fleetdesk/core/utils"
)

var ErrIncidentNotFound = errors.New("incident not found")

type Request struct {
	ReportNo    string   `json:"report_no"`
	VehicleID   string   `json:"vehicle_id"`
	VIN         string   `json:"vin,omitempty"`
	OccurredAt  string   `json:"occurred_at"`
	Location    string   `json:"location,omitempty"`
	Weather     string   `json:"weather,omitempty"`
	Description string   `json:"description"`
	Drivable    bool     `json:"drivable"`
	Towed       bool     `json:"towed"`
	PhotoRefs   []string `json:"photo_refs,omitempty"`
}

type Response struct {
	Components       []string `json:"damaged_components"`
	Severity         string   `json:"severity"`
	RepairComplexity string   `json:"repair_complexity"`
	CostBucket       string   `json:"cost_bucket"`
	CostRange        string   `json:"cost_range"`
	Confidence       string   `json:"confidence"`
	Notes            string   `json:"notes"`
}

type Assessor interface {
	Assess(ctx context.Context, req Request) (*Response, error)
}

type HTTPAssessor struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

func NewHTTPAssessor(cfg config.AssessorConfig) *HTTPAssessor {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &HTTPAssessor{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:  strings.TrimSpace(cfg.APIKey),
	}
}

func (a *HTTPAssessor) Assess(ctx context.Context, reqBody Request) (*Response, error) {
	if a.baseURL == "" {
		return nil, errors.New("assessor base url missing")
	}
	raw, _ := json.Marshal(reqBody)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/assess", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("assessor api status %d", resp.StatusCode)
	}
	var out Response
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RunResult echoes the key written-back fields to the caller that triggered
// the run.
type RunResult struct {
	Success                 bool   `json:"success"`
	IncidentID              int64  `json:"incident_id"`
	AICostBucket            string `json:"ai_cost_bucket"`
	IncidentCountThisSeason int    `json:"incident_count_this_season"`
	LDDraftStatus           string `json:"ld_draft_status"`
	ConfidenceLevel         string `json:"confidence_level"`
}

type Service struct {
	cfg       config.AssessorConfig
	incidents store.IncidentsStore
	users     store.UsersStore
	assessor  Assessor
	logger    *utils.Logger
}

func NewService(cfg config.AssessorConfig, incidents store.IncidentsStore, users store.UsersStore, assessor Assessor, logger *utils.Logger) *Service {
	if assessor == nil {
		assessor = NewHTTPAssessor(cfg)
	}
	return &Service{cfg: cfg, incidents: incidents, users: users, assessor: assessor, logger: logger}
}

// Run executes the assessment for one incident. Re-running overwrites the
// previous AI result wholesale and regenerates the draft; reviewer edits to
// the draft survive a re-run, the generated content does not.
func (s *Service) Run(ctx context.Context, incidentID int64) (*RunResult, error) {
	inc, err := s.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if inc == nil {
		return nil, ErrIncidentNotFound
	}

	prior, err := s.incidents.CountSeasonIncidents(ctx, inc.ReporterUserID, inc.OccurredAt)
	if err != nil {
		return nil, err
	}
	ordinal := prior + 1

	files, err := s.incidents.ListIncidentFiles(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	resp, err := s.assessor.Assess(ctx, s.buildRequest(inc, files))
	if err != nil || !validResponse(resp) {
		if err != nil && s.logger != nil {
			s.logger.Errorf("assessment call for %s: %v", inc.ReportNo, err)
		}
		resp = fallbackResponse()
	}

	result := store.AssessmentResult{
		CostBucket:       resp.CostBucket,
		Severity:         resp.Severity,
		Confidence:       resp.Confidence,
		Components:       resp.Components,
		RepairComplexity: resp.RepairComplexity,
		CostRange:        resp.CostRange,
		Notes:            resp.Notes,
		SeasonOrdinal:    ordinal,
	}

	// Build the draft against the post-assessment view of the record so the
	// guidance reflects the fresh cost bucket and any standing LD override.
	updated := *inc
	updated.AICostBucket = &result.CostBucket
	updated.AISeverity = &result.Severity
	updated.AIConfidence = &result.Confidence
	updated.AIComponents = result.Components
	updated.AIRepairComplexity = result.RepairComplexity
	updated.AICostRange = result.CostRange
	updated.AINotes = result.Notes
	updated.SeasonOrdinal = ordinal

	var reporter *store.User
	if s.users != nil {
		reporter, _, _ = s.users.Get(ctx, inc.ReporterUserID)
	}
	result.Draft = draft.BuildContent(&updated, reporter, files)

	if err := s.incidents.ApplyAssessment(ctx, incidentID, result, time.Now().UTC()); err != nil {
		return nil, err
	}
	return &RunResult{
		Success:                 true,
		IncidentID:              incidentID,
		AICostBucket:            result.CostBucket,
		IncidentCountThisSeason: ordinal,
		LDDraftStatus:           store.DraftGenerated,
		ConfidenceLevel:         result.Confidence,
	}, nil
}

func (s *Service) buildRequest(inc *store.Incident, files []store.IncidentFile) Request {
	req := Request{
		ReportNo:    inc.ReportNo,
		VehicleID:   inc.VehicleID,
		VIN:         inc.VIN,
		OccurredAt:  inc.OccurredAt.UTC().Format(time.RFC3339),
		Location:    inc.Location,
		Weather:     inc.Weather,
		Description: inc.Description,
		Drivable:    inc.Drivable,
		Towed:       inc.Towed,
	}
	maxPhotos := s.cfg.MaxPhotos
	if maxPhotos <= 0 {
		maxPhotos = 5
	}
	for _, f := range files {
		if !strings.HasPrefix(strings.ToLower(f.ContentType), "image/") {
			continue
		}
		req.PhotoRefs = append(req.PhotoRefs, fmt.Sprintf("incident/%d/file/%d/%s", inc.ID, f.ID, f.Filename))
		if len(req.PhotoRefs) >= maxPhotos {
			break
		}
	}
	return req
}

var (
	validBuckets     = map[string]bool{store.CostUnder1500: true, store.CostMid: true, store.CostOver3500: true}
	validSeverities  = map[string]bool{"cosmetic": true, "structural": true, "unclear": true}
	validConfidences = map[string]bool{"low": true, "medium": true, "high": true}
)

func validResponse(resp *Response) bool {
	if resp == nil {
		return false
	}
	return validBuckets[resp.CostBucket] && validSeverities[resp.Severity] && validConfidences[resp.Confidence]
}

// fallbackResponse is the conservative placeholder used when the external
// assessor is unreachable or returns something unusable. The mid cost tier
// keeps the consequence guidance from understating the outcome.
func fallbackResponse() *Response {
	return &Response{
		Severity:   "unclear",
		CostBucket: store.CostMid,
		CostRange:  "$1,500 - $3,500 (estimated)",
		Confidence: "low",
		Notes:      "Automated assessment unavailable. Manual review required.",
	}
}
