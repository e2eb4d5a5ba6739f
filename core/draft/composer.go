// Package draft builds the notification draft for a reviewed incident: the
// structured draft content persisted on the record and the subject/body
// rendering the reviewer edits and operations finally sends.
package draft

import (
	"fmt"
	"strings"
	"time"

	"fleetdesk/core/consequence"
	"fleetdesk/core/store"
)

// BuildContent assembles the draft content object from the incident record.
// The assessment run calls it right after writing the AI fields; the override
// and regenerate paths call it again to fold in the effective cost tier.
// Fields that are absent on the record stay empty and are omitted at render.
func BuildContent(inc *store.Incident, reporter *store.User, files []store.IncidentFile) *store.DraftContent {
	if inc == nil {
		return nil
	}
	content := &store.DraftContent{
		Overview: store.DraftOverview{
			ReportNo:     inc.ReportNo,
			Reporter:     reporterName(reporter),
			Area:         inc.Area,
			Vehicle:      inc.VehicleID,
			LicensePlate: inc.LicensePlate,
			OccurredAt:   inc.OccurredAt.UTC().Format("January 2, 2006 15:04 MST"),
			Location:     inc.Location,
		},
		Summary:        strings.TrimSpace(inc.Description),
		ReportedDamage: reportedDamage(inc),
		DamageReview: store.DamageReview{
			Components:       inc.AIComponents,
			Severity:         derefOrEmpty(inc.AISeverity),
			RepairComplexity: inc.AIRepairComplexity,
			CostBucket:       consequence.EffectiveCostBucket(inc),
			CostRange:        inc.AICostRange,
			Confidence:       derefOrEmpty(inc.AIConfidence),
			Notes:            inc.AINotes,
		},
		Guidance:    consequence.Guidance(consequence.Evaluate(consequence.EffectiveCostBucket(inc), inc.SeasonOrdinal)),
		HistoryFlag: historyFlag(inc.SeasonOrdinal),
	}
	for _, f := range files {
		content.Attachments = append(content.Attachments, f.Filename)
	}
	if inc.AIConfidence != nil && *inc.AIConfidence == "low" {
		content.OpenItems = append(content.OpenItems, "Low-confidence assessment: verify the repair estimate against a shop quote.")
	}
	if strings.Contains(strings.ToLower(inc.AINotes), "manual review") {
		content.OpenItems = append(content.OpenItems, "Manual review required: the automated damage assessment did not complete.")
	}
	return content
}

// Rendered is the editable email form shown to the reviewer.
type Rendered struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Saved   bool   `json:"saved"`
}

// Render produces the subject/body for an incident. A persisted edited draft
// always wins over the generated content.
func Render(inc *store.Incident) Rendered {
	if inc == nil {
		return Rendered{}
	}
	if inc.EditedDraft != nil {
		return Rendered{Subject: inc.EditedDraft.Subject, Body: inc.EditedDraft.Body, Saved: true}
	}
	return RenderGenerated(inc)
}

// RenderGenerated composes subject/body from the generated draft content,
// ignoring any edited draft. The override path uses it to show the reviewer
// the refreshed, not-yet-saved form.
func RenderGenerated(inc *store.Incident) Rendered {
	content := inc.Draft
	if content == nil {
		content = &store.DraftContent{Overview: store.DraftOverview{ReportNo: inc.ReportNo}}
	}
	subject := fmt.Sprintf("Vehicle Incident Determination - %s", content.Overview.ReportNo)

	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteString("\n")
	}
	greeting := content.Overview.Reporter
	if greeting == "" {
		greeting = "Driver"
	}
	line("Dear %s,", greeting)
	line("")
	line("This message documents the final determination for vehicle incident report %s.", content.Overview.ReportNo)
	line("")
	line("INCIDENT OVERVIEW")
	if content.Overview.Area != "" {
		line("Operating area: %s", content.Overview.Area)
	}
	if content.Overview.Vehicle != "" {
		vehicle := content.Overview.Vehicle
		if content.Overview.LicensePlate != "" {
			vehicle += " (" + content.Overview.LicensePlate + ")"
		}
		line("Vehicle: %s", vehicle)
	}
	if content.Overview.OccurredAt != "" {
		line("Date/time: %s", content.Overview.OccurredAt)
	}
	if content.Overview.Location != "" {
		line("Location: %s", content.Overview.Location)
	}
	if content.Summary != "" {
		line("")
		line("SUMMARY")
		line("%s", content.Summary)
	}
	if content.ReportedDamage != "" {
		line("")
		line("REPORTED DAMAGE")
		line("%s", content.ReportedDamage)
	}
	renderDamageReview(line, content.DamageReview)
	line("")
	line("DETERMINATION")
	line("This incident has been determined to be %s.", preventabilityText(inc))
	renderGuidance(line, content.Guidance)
	if content.HistoryFlag != "" {
		line("")
		line("%s", content.HistoryFlag)
	}
	if len(content.OpenItems) > 0 {
		line("")
		line("OPEN ITEMS")
		for _, item := range content.OpenItems {
			line("- %s", item)
		}
	}
	if len(content.Attachments) > 0 {
		line("")
		line("Attached documentation: %s", strings.Join(content.Attachments, ", "))
	}
	line("")
	line("If you have questions about this determination, reply to this message.")
	line("")
	line("FleetDesk Operations")
	return Rendered{Subject: subject, Body: b.String()}
}

func renderDamageReview(line func(string, ...any), review store.DamageReview) {
	if len(review.Components) == 0 && review.Severity == "" && review.CostRange == "" && review.Notes == "" {
		return
	}
	line("")
	line("DAMAGE REVIEW")
	if len(review.Components) > 0 {
		line("Affected components: %s", strings.Join(review.Components, ", "))
	}
	if review.Severity != "" {
		line("Severity: %s", review.Severity)
	}
	if review.RepairComplexity != "" {
		line("Repair complexity: %s", review.RepairComplexity)
	}
	if review.CostRange != "" {
		line("Estimated repair cost: %s", review.CostRange)
	}
	if review.Confidence != "" {
		line("Assessment confidence: %s", review.Confidence)
	}
	if review.Notes != "" {
		line("Notes: %s", review.Notes)
	}
}

func renderGuidance(line func(string, ...any), guidance store.ConsequenceGuidance) {
	if guidance.Title == "" {
		return
	}
	line("")
	line("POLICY CONSEQUENCES: %s", guidance.Title)
	for _, item := range guidance.Mandatory {
		line("- %s", item)
	}
	if len(guidance.Optional) > 0 {
		line("At the discretion of management:")
		for _, item := range guidance.Optional {
			line("- %s", item)
		}
	}
	if guidance.Note != "" {
		line("Note: %s", guidance.Note)
	}
	line("%s", consequence.AppliesFor)
}

func preventabilityText(inc *store.Incident) string {
	if inc != nil && inc.LDPreventability == store.PreventabilityNonPreventable {
		return "NON-PREVENTABLE"
	}
	// Unset decisions render as preventable; the draft exists before the LD
	// decision is recorded.
	return "PREVENTABLE"
}

func reportedDamage(inc *store.Incident) string {
	var parts []string
	if !inc.Drivable {
		parts = append(parts, "vehicle reported not drivable")
	}
	if inc.Towed {
		parts = append(parts, "vehicle towed from the scene")
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "; ")
}

func historyFlag(ordinal int) string {
	switch {
	case ordinal >= 3:
		return fmt.Sprintf("HISTORY: this is incident #%d for this reporter in the current season.", ordinal)
	case ordinal == 2:
		return "HISTORY: this is the reporter's second incident in the current season."
	case ordinal == 1:
		return "HISTORY: first incident for this reporter in the current season."
	default:
		return ""
	}
}

func reporterName(u *store.User) string {
	if u == nil {
		return ""
	}
	if strings.TrimSpace(u.FullName) != "" {
		return strings.TrimSpace(u.FullName)
	}
	return u.Username
}

func derefOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

// EditedFrom captures a reviewer edit with attribution.
func EditedFrom(subject, body string, editorID int64) *store.EditedDraft {
	return &store.EditedDraft{
		Subject:  strings.TrimSpace(subject),
		Body:     body,
		EditedBy: editorID,
		EditedAt: time.Now().UTC(),
	}
}
