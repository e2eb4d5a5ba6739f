package consequence

import (
	"strings"
	"testing"

	"fleetdesk/core/store"
)

func TestEvaluateFirstIncidentTiers(t *testing.T) {
	cases := []struct {
		name       string
		tier       string
		wantTitle  string
		wantPoints string
		wantTerm   bool
	}{
		{"under 1500", store.CostUnder1500, "UNDER $1,500", "Loss of 4 performance points", false},
		{"mid tier", store.CostMid, "$1,500 TO $3,500", "Loss of 4 performance points", true},
		{"over 3500", store.CostOver3500, "OVER $3,500", "Loss of 6 performance points", true},
		{"unknown tier falls back to mid", "garbage", "$1,500 TO $3,500", "Loss of 4 performance points", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Evaluate(tc.tier, 1)
			if !strings.Contains(res.Title, tc.wantTitle) {
				t.Fatalf("title %q does not contain %q", res.Title, tc.wantTitle)
			}
			if len(res.Mandatory) == 0 || res.Mandatory[0] != tc.wantPoints {
				t.Fatalf("mandatory = %v, want first item %q", res.Mandatory, tc.wantPoints)
			}
			hasTerm := len(res.Optional) > 0
			if hasTerm != tc.wantTerm {
				t.Fatalf("optional termination = %v, want %v", hasTerm, tc.wantTerm)
			}
		})
	}
}

func TestEvaluateLowestTierHasNoExtras(t *testing.T) {
	res := Evaluate(store.CostUnder1500, 1)
	if len(res.Mandatory) != 1 {
		t.Fatalf("lowest tier should carry only the point loss, got %v", res.Mandatory)
	}
	if len(res.Optional) != 0 {
		t.Fatalf("lowest tier should have no optional items, got %v", res.Optional)
	}
	if res.Note != "" {
		t.Fatalf("lowest tier should have no warning note, got %q", res.Note)
	}
}

func TestEvaluateOrdinalOverridesTier(t *testing.T) {
	for _, tier := range []string{store.CostUnder1500, store.CostMid, store.CostOver3500} {
		second := Evaluate(tier, 2)
		if !strings.Contains(second.Title, "SECOND INCIDENT") {
			t.Fatalf("tier %s ordinal 2: title %q", tier, second.Title)
		}
		third := Evaluate(tier, 3)
		if !strings.Contains(third.Title, "THIRD+ INCIDENT") {
			t.Fatalf("tier %s ordinal 3: title %q", tier, third.Title)
		}
	}
	// The same rule holds past three.
	if got := Evaluate(store.CostUnder1500, 7).Title; !strings.Contains(got, "THIRD+") {
		t.Fatalf("ordinal 7 title %q", got)
	}
}

func TestEvaluateSeverityNeverDecreasesWithOrdinal(t *testing.T) {
	// A higher ordinal never yields a strictly lighter outcome: the second
	// incident adds points on top of the first, the third allows termination
	// unconditionally.
	second := Evaluate(store.CostUnder1500, 2)
	if len(second.Optional) == 0 {
		t.Fatalf("second incident should expose termination as an option")
	}
	third := Evaluate(store.CostUnder1500, 3)
	found := false
	for _, m := range third.Mandatory {
		if strings.Contains(m, "termination") {
			found = true
		}
	}
	if !found {
		t.Fatalf("third incident should make termination a mandatory line, got %v", third.Mandatory)
	}
}

func TestEffectiveCostBucket(t *testing.T) {
	ai := store.CostUnder1500
	override := store.CostOver3500
	empty := ""

	inc := &store.Incident{AICostBucket: &ai}
	if got := EffectiveCostBucket(inc); got != store.CostUnder1500 {
		t.Fatalf("no override: got %s", got)
	}
	inc.LDCostOverride = &override
	if got := EffectiveCostBucket(inc); got != store.CostOver3500 {
		t.Fatalf("override should win: got %s", got)
	}
	inc.LDCostOverride = &empty
	if got := EffectiveCostBucket(inc); got != store.CostUnder1500 {
		t.Fatalf("empty override should fall through to AI bucket: got %s", got)
	}
	if got := EffectiveCostBucket(nil); got != "" {
		t.Fatalf("nil incident: got %q", got)
	}
}

func TestGuidanceMirrorsResult(t *testing.T) {
	res := Evaluate(store.CostOver3500, 1)
	g := Guidance(res)
	if g.Title != res.Title || len(g.Mandatory) != len(res.Mandatory) || len(g.Optional) != len(res.Optional) || g.Note != res.Note {
		t.Fatalf("guidance does not mirror result: %+v vs %+v", g, res)
	}
}
