/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Validation is done in handlers and the domain layer, not in DTOs.
  DTOs are pure data carriers.
*/
package api

import (
	"time"

	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/settlement"
)

// =============================================================================
// COMMISSION TYPES AND RULES
// =============================================================================

// CommissionTypeDTO represents a commission type in API responses.
type CommissionTypeDTO struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Code       string `json:"code"`
	Percentage string `json:"percentage"`
	Active     bool   `json:"active"`
}

// CreateCommissionTypeRequest creates a commission type.
type CreateCommissionTypeRequest struct {
	Name       string `json:"name"`
	Code       string `json:"code"`
	Percentage string `json:"percentage"`
}

// RuleDTO represents a volume rule in API responses.
type RuleDTO struct {
	ID               string `json:"id"`
	CommissionTypeID string `json:"commission_type_id"`
	MinCount         int    `json:"min_count"`
	MaxCount         *int   `json:"max_count"`
	Percentage       string `json:"percentage"`
}

// CreateRuleRequest creates a volume rule.
type CreateRuleRequest struct {
	CommissionTypeID string `json:"commission_type_id"`
	MinCount         int    `json:"min_count"`
	MaxCount         *int   `json:"max_count"`
	Percentage       string `json:"percentage"`
}

// =============================================================================
// TIER LOOKUP
// =============================================================================

// TierSnapshotDTO is one commission type's tier standing for a broker/month.
type TierSnapshotDTO struct {
	CommissionTypeID   string   `json:"commission_type_id"`
	CommissionTypeName string   `json:"commission_type_name"`
	CommissionTypeCode string   `json:"commission_type_code"`
	BasePercentage     string   `json:"base_percentage"`
	TotalLeads         int      `json:"total_leads"`
	CurrentRule        *RuleDTO `json:"current_rule"`
	NextRule           *RuleDTO `json:"next_rule"`
	UntilNextLevel     *int     `json:"until_next_level"`
}

// TierLookupResponse maps commission type id to tier standing.
type TierLookupResponse struct {
	BrokerID string                     `json:"broker_id"`
	Month    string                     `json:"month"`
	Tiers    map[string]TierSnapshotDTO `json:"tiers"`
	Cached   bool                       `json:"cached"`
}

// =============================================================================
// RECOMPUTE
// =============================================================================

// RecomputeRequest triggers the monthly recompute. Omitted month/year
// default to the current month.
type RecomputeRequest struct {
	Month *int `json:"month"`
	Year  *int `json:"year"`
}

// LeadRecomputeResultDTO is the per-lead audit row from a recompute run.
type LeadRecomputeResultDTO struct {
	LeadID             string   `json:"lead_id"`
	PreviousCommission string   `json:"previous_commission"`
	NewCommission      string   `json:"new_commission"`
	AppliedRule        *RuleDTO `json:"applied_rule"`
	BasePercentage     *string  `json:"base_percentage,omitempty"`
}

// RecomputeResponse summarizes a recompute run.
type RecomputeResponse struct {
	Period                  string                   `json:"period"`
	PeriodStart             string                   `json:"period_start"`
	PeriodEnd               string                   `json:"period_end"`
	LeadsFound              int                      `json:"leads_found"`
	LeadsUpdated            int                      `json:"leads_updated"`
	DistinctCommissionTypes int                      `json:"distinct_commission_types"`
	Results                 []LeadRecomputeResultDTO `json:"results"`
}

// =============================================================================
// SCHEDULED CHANGES
// =============================================================================

// CreateChangeRequest schedules a future-dated commission reassignment.
// Exactly one of building_id / building_unit_type_id must be set.
type CreateChangeRequest struct {
	CommissionTypeID   string  `json:"commission_type_id"`
	BuildingID         *string `json:"building_id"`
	BuildingUnitTypeID *string `json:"building_unit_type_id"`
	EffectiveAt        string  `json:"effective_at"` // YYYY-MM-DD or RFC3339
}

// RunChangesResponse summarizes an executor run.
type RunChangesResponse struct {
	Found    int `json:"found"`
	Executed int `json:"executed"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}

// =============================================================================
// LEADS
// =============================================================================

// CreateLeadRequest registers a lead with the engine.
type CreateLeadRequest struct {
	ID                string  `json:"id"`
	BrokerID          string  `json:"broker_id"`
	BrokerName        string  `json:"broker_name"`
	ClientName        string  `json:"client_name"`
	BuildingID        string  `json:"building_id"`
	BuildingName      string  `json:"building_name"`
	UnitCode          string  `json:"unit_code"`
	TotalAmount       string  `json:"total_amount"`
	CommissionTypeID  *string `json:"commission_type_id"`
	ReservationPaidAt string  `json:"reservation_paid_at"`
	State             string  `json:"state"`
}

// LeadDTO represents a lead in API responses.
type LeadDTO struct {
	ID                string  `json:"id"`
	BrokerID          string  `json:"broker_id"`
	BrokerName        string  `json:"broker_name"`
	ClientName        string  `json:"client_name"`
	BuildingName      string  `json:"building_name"`
	UnitCode          string  `json:"unit_code"`
	TotalAmount       string  `json:"total_amount"`
	CommissionTypeID  *string `json:"commission_type_id"`
	AppliedRuleID     *string `json:"applied_rule_id"`
	Commission        string  `json:"commission"`
	ReservationPaidAt string  `json:"reservation_paid_at"`
	State             string  `json:"state"`
	Reconciled        bool    `json:"reconciled"`
	ReconciledAt      *string `json:"reconciled_at"`
}

// =============================================================================
// SETTLEMENT
// =============================================================================

// SettlementRowDTO is one normalized settlement row.
type SettlementRowDTO struct {
	Date    string            `json:"date"`
	Amount  string            `json:"amount"`
	Project string            `json:"project"`
	Unit    string            `json:"unit"`
	Raw     map[string]string `json:"raw"`
}

// MatchDTO is one engine-proposed pairing.
type MatchDTO struct {
	ID         string           `json:"id"`
	Row        SettlementRowDTO `json:"row"`
	Lead       LeadDTO          `json:"lead"`
	Type       string           `json:"type"`
	Confidence float64          `json:"confidence"`
}

// ProcessFileResponse returns the ingestion result for review.
type ProcessFileResponse struct {
	Matches        []MatchDTO         `json:"matches"`
	UnmatchedRows  []SettlementRowDTO `json:"unmatched_rows"`
	UnmatchedLeads []LeadDTO          `json:"unmatched_leads"`
	Stats          IngestStatsDTO     `json:"stats"`
}

// IngestStatsDTO summarizes one ingestion run.
type IngestStatsDTO struct {
	TotalRows        int `json:"total_rows"`
	TotalLeads       int `json:"total_leads"`
	AutomaticMatches int `json:"automatic_matches"`
	UnmatchedRows    int `json:"unmatched_rows"`
	UnmatchedLeads   int `json:"unmatched_leads"`
}

// ConfirmMatchesRequest commits reviewer-approved matches.
type ConfirmMatchesRequest struct {
	Matches []ConfirmedMatchDTO `json:"matches"`
}

// ConfirmedMatchDTO is one approved pairing to commit.
type ConfirmedMatchDTO struct {
	LeadID     string  `json:"lead_id"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// ReconciledLeadDTO is the per-lead audit row returned after commit.
type ReconciledLeadDTO struct {
	LeadID       string  `json:"lead_id"`
	Client       string  `json:"client"`
	Broker       string  `json:"broker"`
	Building     string  `json:"building"`
	Unit         string  `json:"unit"`
	Amount       string  `json:"amount"`
	Commission   string  `json:"commission"`
	MatchType    string  `json:"match_type"`
	Confidence   float64 `json:"confidence"`
	ReconciledAt string  `json:"reconciled_at"`
}

// ConfirmMatchesResponse reports the committed settlement.
type ConfirmMatchesResponse struct {
	ReconciledCount int                 `json:"reconciled_count"`
	Leads           []ReconciledLeadDTO `json:"leads"`
	Stats           ConfirmStatsDTO     `json:"stats"`
}

// ConfirmStatsDTO aggregates a confirmation.
type ConfirmStatsDTO struct {
	Automatic        int    `json:"automatic"`
	Manual           int    `json:"manual"`
	TotalCommissions string `json:"total_commissions"`
	TotalAmounts     string `json:"total_amounts"`
}

// =============================================================================
// DTO BUILDERS
// =============================================================================

func ruleDTO(r *commission.Rule) *RuleDTO {
	if r == nil {
		return nil
	}
	return &RuleDTO{
		ID:               string(r.ID),
		CommissionTypeID: string(r.CommissionTypeID),
		MinCount:         r.MinCount,
		MaxCount:         r.MaxCount,
		Percentage:       r.Percentage.String(),
	}
}

func leadDTO(l commission.Lead) LeadDTO {
	dto := LeadDTO{
		ID:                string(l.ID),
		BrokerID:          string(l.BrokerID),
		BrokerName:        l.BrokerName,
		ClientName:        l.ClientName,
		BuildingName:      l.BuildingName,
		UnitCode:          l.UnitCode,
		TotalAmount:       l.TotalAmount.String(),
		Commission:        l.Commission.String(),
		ReservationPaidAt: l.ReservationPaidAt.Format(time.RFC3339),
		State:             string(l.State),
		Reconciled:        l.Reconciled,
	}
	if l.CommissionTypeID != nil {
		s := string(*l.CommissionTypeID)
		dto.CommissionTypeID = &s
	}
	if l.AppliedRuleID != nil {
		s := string(*l.AppliedRuleID)
		dto.AppliedRuleID = &s
	}
	if l.ReconciledAt != nil {
		s := l.ReconciledAt.Format(time.RFC3339)
		dto.ReconciledAt = &s
	}
	return dto
}

func settlementRowDTO(r settlement.Row) SettlementRowDTO {
	return SettlementRowDTO{
		Date:    r.Date.Format(time.RFC3339),
		Amount:  r.Amount.String(),
		Project: r.Project,
		Unit:    r.Unit,
		Raw:     r.Raw,
	}
}

func matchDTO(m settlement.Match) MatchDTO {
	return MatchDTO{
		ID:         m.ID,
		Row:        settlementRowDTO(m.Row),
		Lead:       leadDTO(m.Lead),
		Type:       string(m.Type),
		Confidence: m.Confidence,
	}
}
