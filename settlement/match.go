/*
match.go - Greedy settlement-to-lead matching

PURPOSE:
  Scores every (settlement row, unreconciled lead) pair with a weighted
  multi-factor confidence and greedily assigns high-confidence pairs:

    confidence = 0.4 * project similarity
               + 0.3 * unit-code similarity
               + 0.3 * amount closeness

  Weights sum to 1.0, so the combined score stays in [0, 1].

GREEDY BY DESIGN:
  This is a single-pass heuristic, not an optimal bipartite assignment:
  each row takes the best still-unconsumed lead at or above the threshold,
  and an accepted pair is never revisited even if a later row would have
  been a better fit. The confidence threshold and the manual-review flow
  downstream were tuned around exactly this behavior.

  No row or lead appears in more than one accepted pair. Everything
  unaccepted is returned for manual review.
*/
package settlement

import (
	"github.com/google/uuid"

	"github.com/warp/commission-engine/commission"
)

// MatchType distinguishes engine-proposed from human-confirmed matches.
type MatchType string

const (
	MatchAutomatic MatchType = "automatic"
	MatchManual    MatchType = "manual"
)

// Valid reports whether t is a known match type.
func (t MatchType) Valid() bool {
	return t == MatchAutomatic || t == MatchManual
}

// Match pairs one settlement row with one lead.
type Match struct {
	ID         string
	Row        Row
	Lead       commission.Lead
	Type       MatchType
	Confidence float64
}

// MatchResult splits a matching run into accepted pairs and the leftovers
// on both sides.
type MatchResult struct {
	Matches        []Match
	UnmatchedRows  []Row
	UnmatchedLeads []commission.Lead
}

// Default matching parameters.
const (
	DefaultThreshold = 0.85
	projectWeight    = 0.4
	unitWeight       = 0.3
	amountWeight     = 0.3
)

// Matcher runs the greedy assignment. The zero value is not usable; use
// NewMatcher.
type Matcher struct {
	Threshold float64
}

func NewMatcher() *Matcher {
	return &Matcher{Threshold: DefaultThreshold}
}

// Confidence scores one row/lead pair in [0, 1].
func (m *Matcher) Confidence(row Row, lead commission.Lead) float64 {
	score := projectWeight * Similarity(row.Project, lead.BuildingName)
	score += unitWeight * Similarity(row.Unit, lead.UnitCode)
	score += amountWeight * AmountCloseness(row.Amount, lead.TotalAmount)
	return score
}

// Match greedily assigns rows to leads. Rows are processed in file order;
// each takes the highest-confidence unconsumed lead, accepted only at or
// above the threshold.
func (m *Matcher) Match(rows []Row, leads []commission.Lead) MatchResult {
	usedLeads := make(map[commission.LeadID]bool, len(leads))
	var result MatchResult

	for _, row := range rows {
		bestIdx := -1
		bestConfidence := 0.0

		for i, lead := range leads {
			if usedLeads[lead.ID] {
				continue
			}
			c := m.Confidence(row, lead)
			if c >= m.Threshold && c > bestConfidence {
				bestIdx = i
				bestConfidence = c
			}
		}

		if bestIdx < 0 {
			result.UnmatchedRows = append(result.UnmatchedRows, row)
			continue
		}

		lead := leads[bestIdx]
		usedLeads[lead.ID] = true
		result.Matches = append(result.Matches, Match{
			ID:         "auto-" + uuid.NewString(),
			Row:        row,
			Lead:       lead,
			Type:       MatchAutomatic,
			Confidence: bestConfidence,
		})
	}

	for _, lead := range leads {
		if !usedLeads[lead.ID] {
			result.UnmatchedLeads = append(result.UnmatchedLeads, lead)
		}
	}
	return result
}
