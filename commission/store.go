/*
store.go - Persistence interfaces for the commission engine

PURPOSE:
  Defines the interface between the domain logic and the database.
  The relational store is the single source of truth; each job run reads
  with a single consistent snapshot and no cross-request consistency is
  assumed.

KEY INTERFACES:
  RuleStore:   Commission types and their ordered rule sets (read-mostly)
  LeadStore:   Lead queries and the commission write-back
  TxLeadStore: LeadStore plus the transactional wrapper the settlement
               committer needs for all-or-nothing confirmation
  ChangeStore: Scheduled changes, with the atomic claim that closes the
               concurrent-executor race

MUTATION CONTRACT:
  - UpdateLeadCommission is the only writer of Commission/AppliedRuleID
    after lead creation (the recompute job calls it).
  - MarkReconciled flips Reconciled false->true exactly once and only
    inside WithTx.
  - ClaimChange is a single conditional update (executed=false gate);
    its boolean gates the side effect, so two overlapping executor runs
    cannot both apply the same change.

IMPLEMENTATIONS:
  - store/sqlite: production store
  - commission/store: in-memory store for tests
*/
package commission

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RULE STORE - Commission types and rules
// =============================================================================

type RuleStore interface {
	// ListCommissionTypes returns all commission types.
	ListCommissionTypes(ctx context.Context) ([]CommissionType, error)

	// GetCommissionType returns one commission type or ErrCommissionTypeNotFound.
	GetCommissionType(ctx context.Context, id CommissionTypeID) (*CommissionType, error)

	// CreateCommissionType persists a new commission type.
	CreateCommissionType(ctx context.Context, ct CommissionType) error

	// ListRules returns rules ordered by MinCount ascending.
	// Empty typeID means all commission types.
	ListRules(ctx context.Context, typeID CommissionTypeID) ([]Rule, error)

	// CreateRule persists a new rule. Callers run ValidateRule first.
	CreateRule(ctx context.Context, r Rule) error
}

// =============================================================================
// LEAD STORE - Lead queries and commission write-back
// =============================================================================

// LeadFilter narrows lead queries. Zero value means no filtering.
type LeadFilter struct {
	// Period bounds ReservationPaidAt when non-zero.
	Period *Period

	// BrokerID scopes to one broker when non-empty.
	BrokerID BrokerID

	// RequireCommissionType keeps only leads with an assigned commission type.
	RequireCommissionType bool

	// ExcludeRejected drops leads in the terminal rejected state.
	ExcludeRejected bool

	// Unreconciled keeps only leads not yet settled.
	Unreconciled bool
}

type LeadStore interface {
	// ListLeads returns leads matching the filter, newest first.
	ListLeads(ctx context.Context, f LeadFilter) ([]Lead, error)

	// GetLead returns one lead or ErrLeadNotFound.
	GetLead(ctx context.Context, id LeadID) (*Lead, error)

	// CreateLead persists a new lead.
	CreateLead(ctx context.Context, l Lead) error

	// CountLeadsByCommissionType counts a broker's countable (non-rejected)
	// leads in the period, grouped by assigned commission type. Leads with
	// no commission type are not counted.
	CountLeadsByCommissionType(ctx context.Context, brokerID BrokerID, p Period) (map[CommissionTypeID]int, error)

	// UpdateLeadCommission overwrites the computed commission and applied
	// rule reference. ruleID nil clears the reference (base percentage
	// applied). Returns ErrLeadNotFound if the lead vanished.
	UpdateLeadCommission(ctx context.Context, id LeadID, commission decimal.Decimal, ruleID *RuleID) error

	// MarkReconciled sets Reconciled=true and ReconciledAt=at, returning
	// the updated lead. Returns ErrLeadNotFound if the lead vanished.
	// Reconciled leads are never un-reconciled.
	MarkReconciled(ctx context.Context, id LeadID, at time.Time) (*Lead, error)
}

// TxLeadStore adds the transaction wrapper the settlement committer
// requires: every MarkReconciled in one confirmation happens inside a
// single transaction, or none do.
type TxLeadStore interface {
	LeadStore

	// WithTx executes fn within a transaction. fn returning an error rolls
	// everything back.
	WithTx(ctx context.Context, fn func(LeadStore) error) error
}

// =============================================================================
// CHANGE STORE - Scheduled commission changes and their targets
// =============================================================================

type ChangeStore interface {
	// DueChanges returns unexecuted changes with EffectiveAt <= now,
	// ordered by EffectiveAt ascending.
	DueChanges(ctx context.Context, now time.Time) ([]ScheduledChange, error)

	// ClaimChange atomically flips Executed false->true for the change.
	// Returns false if the change was already executed (or vanished);
	// the caller must skip the side effect in that case.
	ClaimChange(ctx context.Context, id ChangeID) (bool, error)

	// CreateChange persists a new scheduled change.
	CreateChange(ctx context.Context, c ScheduledChange) error

	// AssignBuildingCommission points a building at a commission type.
	AssignBuildingCommission(ctx context.Context, buildingID BuildingID, typeID CommissionTypeID) error

	// AssignUnitTypeCommission points a building's unit type at a
	// commission type.
	AssignUnitTypeCommission(ctx context.Context, unitTypeID UnitTypeID, typeID CommissionTypeID) error
}
