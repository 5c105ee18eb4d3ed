/*
Package commission contains the core commission computation engine.

PURPOSE:
  This package holds the domain types and algorithms for volume-tiered
  commission resolution: commission types with ordered rule sets, leads
  grouped into calendar months, the monthly recompute job, and the
  scheduled-change executor that applies future-dated commission
  reassignments.

KEY CONCEPTS IN THIS FILE (types.go):
  - CommissionType: a named commission with a base percentage (0-1)
  - Rule: a volume bracket [MinCount, MaxCount] mapping to a percentage
  - Lead: the unit of commissionable activity, bucketed into months by
    its reservation payment date
  - ScheduledChange: a future-dated reassignment of a commission type
    to a building or building+unit-type pair

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for all money and percentage values
  2. Closed enums: lead states and match types are typed constants,
     not open strings
  3. The recompute job is the only writer of Commission/AppliedRuleID
     after lead creation; reruns are idempotent

SEE ALSO:
  - rules.go: Tier resolution and rule validation
  - recompute.go: Monthly recompute job
  - schedule.go: Scheduled change executor
  - store.go: Persistence interfaces
*/
package commission

import (
	"time"

	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	CommissionTypeID string
	RuleID           string
	LeadID           string
	BrokerID         string
	BuildingID       string
	UnitTypeID       string
	ChangeID         string
)

// =============================================================================
// COMMISSION TYPE - Named commission with a base percentage
// =============================================================================

// CommissionType is a named, coded commission. Percentage is the base rate
// applied when no volume rule fires; it is a fraction in [0, 1].
type CommissionType struct {
	ID         CommissionTypeID
	Name       string
	Code       string
	Percentage decimal.Decimal
	Active     bool
	CreatedAt  time.Time
}

// =============================================================================
// RULE - Volume bracket for a commission type
// =============================================================================

// Rule maps a lead-count bracket [MinCount, MaxCount] to a commission
// percentage. MaxCount nil means unbounded. Brackets for the same
// commission type must be pairwise disjoint (enforced at creation,
// see ValidateRule).
type Rule struct {
	ID               RuleID
	CommissionTypeID CommissionTypeID
	MinCount         int
	MaxCount         *int
	Percentage       decimal.Decimal
	CreatedAt        time.Time
}

// Contains reports whether the bracket covers the given lead count.
func (r Rule) Contains(leadCount int) bool {
	if leadCount < r.MinCount {
		return false
	}
	return r.MaxCount == nil || leadCount <= *r.MaxCount
}

// =============================================================================
// LEAD - Unit of commissionable activity
// =============================================================================

// LeadState is the lifecycle state of a lead. Rejected leads are terminal
// and excluded from all tier counting and settlement matching.
type LeadState string

const (
	LeadStateReservationPaid LeadState = "reservation_paid"
	LeadStateApproved        LeadState = "approved"
	LeadStateDelivered       LeadState = "delivered"
	LeadStateRejected        LeadState = "rejected"
)

// Valid reports whether s is one of the known lead states.
func (s LeadState) Valid() bool {
	switch s {
	case LeadStateReservationPaid, LeadStateApproved, LeadStateDelivered, LeadStateRejected:
		return true
	}
	return false
}

// Countable reports whether a lead in this state participates in monthly
// tier counting and settlement matching.
func (s LeadState) Countable() bool {
	return s.Valid() && s != LeadStateRejected
}

// Lead is a recorded client engagement. ReservationPaidAt (not CreatedAt)
// buckets the lead into a calendar month for tiering and reporting.
//
// Commission and AppliedRuleID are written only by the recompute job after
// creation. Reconciled flips false->true exactly once, through the
// settlement committer; there is no un-reconcile operation.
type Lead struct {
	ID           LeadID
	BrokerID     BrokerID
	BrokerName   string
	ClientName   string
	BuildingID   BuildingID
	BuildingName string
	UnitCode     string

	TotalAmount      decimal.Decimal
	CommissionTypeID *CommissionTypeID
	AppliedRuleID    *RuleID
	Commission       decimal.Decimal

	ReservationPaidAt time.Time
	State             LeadState

	Reconciled   bool
	ReconciledAt *time.Time

	CreatedAt time.Time
}

// =============================================================================
// SCHEDULED CHANGE - Future-dated commission reassignment
// =============================================================================

// ScheduledChange reassigns a commission type to a building, or to a
// unit type within a building, once EffectiveAt arrives. Executed is
// monotonic: it flips false->true exactly once and is never reset.
type ScheduledChange struct {
	ID               ChangeID
	CommissionTypeID CommissionTypeID

	// Exactly one of BuildingID / BuildingUnitTypeID is set.
	BuildingID         *BuildingID
	BuildingUnitTypeID *UnitTypeID

	EffectiveAt time.Time
	Executed    bool
	CreatedAt   time.Time
}

// Broker is the owner of leads. Kept minimal: the engine only needs the
// identity to scope tier lookups.
type Broker struct {
	ID     BrokerID
	Name   string
	Active bool
}
