// Package consequence maps an incident's repair-cost tier and the reporter's
// season incident ordinal to the policy consequence list. It is the single
// source of the guidance shown on the review panel and written into the
// notification email; both consumers call Evaluate so the two can never drift.
package consequence

import "fleetdesk/core/store"

type Result struct {
	Title     string   `json:"title"`
	Mandatory []string `json:"mandatory"`
	Optional  []string `json:"optional,omitempty"`
	Note      string   `json:"note,omitempty"`
}

// AppliesFor is appended wherever a Result is rendered. Every consequence
// holds for exactly one calendar year from the incident date.
const AppliesFor = "All consequences apply for one calendar year from the date of the incident."

const termination = "Termination of the transportation agreement"

// Evaluate is pure and deterministic. Ordinal rules take precedence over cost
// tiers: from the second incident in a season onward the tier is ignored.
func Evaluate(costTier string, ordinal int) Result {
	switch {
	case ordinal >= 3:
		return Result{
			Title: "THIRD+ INCIDENT THIS SEASON",
			Mandatory: []string{
				"May result in termination of the transportation agreement",
				"Maximum penalties apply regardless of repair cost",
			},
			Note: "A third incident within one season overrides all cost-based tiers; maximum penalties apply.",
		}
	case ordinal == 2:
		return Result{
			Title:     "SECOND INCIDENT THIS SEASON",
			Mandatory: []string{"Loss of additional 6 performance points"},
			Optional:  []string{termination},
			Note:      "Additional points are assessed on top of the first-incident penalty for the same season; the repair cost tier does not apply.",
		}
	}
	switch costTier {
	case store.CostUnder1500:
		return Result{
			Title:     "FIRST INCIDENT - REPAIR COST UNDER $1,500",
			Mandatory: []string{"Loss of 4 performance points"},
		}
	case store.CostOver3500:
		return Result{
			Title:     "FIRST INCIDENT - REPAIR COST OVER $3,500",
			Mandatory: firstIncidentTierMandatory("Loss of 6 performance points"),
			Optional:  []string{termination},
			Note:      oneYearWarningNote,
		}
	default:
		// CostMid, and the conservative default for anything unrecognized.
		return Result{
			Title:     "FIRST INCIDENT - REPAIR COST $1,500 TO $3,500",
			Mandatory: firstIncidentTierMandatory("Loss of 4 performance points"),
			Optional:  []string{termination},
			Note:      oneYearWarningNote,
		}
	}
}

const oneYearWarningNote = "The 1-year warning covers any subsequent preventable incident within one calendar year of the incident date."

func firstIncidentTierMandatory(points string) []string {
	return []string{
		points,
		"1-year warning period",
		"Disqualification from staff ride eligibility",
		"Ineligibility for gear allotment",
	}
}

// Guidance converts a Result into the draft-content sub-object persisted on
// the incident record.
func Guidance(r Result) store.ConsequenceGuidance {
	return store.ConsequenceGuidance{
		Title:     r.Title,
		Mandatory: r.Mandatory,
		Optional:  r.Optional,
		Note:      r.Note,
	}
}

// EffectiveCostBucket resolves the tier every downstream consumer must use:
// the LD override when set, otherwise the AI-derived bucket.
func EffectiveCostBucket(inc *store.Incident) string {
	if inc == nil {
		return ""
	}
	if inc.LDCostOverride != nil && *inc.LDCostOverride != "" {
		return *inc.LDCostOverride
	}
	if inc.AICostBucket != nil {
		return *inc.AICostBucket
	}
	return ""
}
