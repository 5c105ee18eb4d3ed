/*
errors.go - Centralized error types for the commission engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The api package maps these onto HTTP status codes:
  validation errors -> 400, not-found errors -> 404, the rest -> 500.

ERROR CATEGORIES:
  1. Validation errors - Bad input, rejected before any mutation
  2. Not-found errors - Referenced rows vanished between select and commit
  3. Conflict errors - Business rule violations (overlapping brackets)

SEE ALSO:
  - rules.go: Returns rule validation errors
  - recompute.go / schedule.go: Wrap not-found errors per item
*/
package commission

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidPeriod is returned when a recompute month/year is outside
	// plausible bounds (month 1-12, year 2020-2030).
	ErrInvalidPeriod = errors.New("invalid period")

	// ErrCommissionTypeNotFound is returned when a referenced commission
	// type doesn't exist.
	ErrCommissionTypeNotFound = errors.New("commission type not found")

	// ErrLeadNotFound is returned when a referenced lead doesn't exist.
	ErrLeadNotFound = errors.New("lead not found")

	// ErrChangeNotFound is returned when a scheduled change doesn't exist.
	ErrChangeNotFound = errors.New("scheduled change not found")

	// ErrRuleOverlap is returned when a new rule's bracket overlaps an
	// existing bracket for the same commission type.
	ErrRuleOverlap = errors.New("rule bracket overlaps an existing rule")

	// ErrInvalidRule is returned when a rule fails basic validation
	// (negative min, max <= min, percentage outside [0, 1]).
	ErrInvalidRule = errors.New("invalid rule")

	// ErrInvalidChangeTarget is returned when a scheduled change does not
	// target exactly one of building / building+unit-type.
	ErrInvalidChangeTarget = errors.New("change must target a building or a building unit type")

	// ErrLeadAlreadyReconciled is returned when a settlement confirmation
	// references a lead that was settled before. The reconciliation date
	// is set exactly once and never rewritten.
	ErrLeadAlreadyReconciled = errors.New("lead already reconciled")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// PeriodError details an out-of-bounds recompute period.
type PeriodError struct {
	Month int
	Year  int
	Cause string
}

func (e *PeriodError) Error() string {
	return fmt.Sprintf("invalid period %d-%02d: %s", e.Year, e.Month, e.Cause)
}

func (e *PeriodError) Unwrap() error { return ErrInvalidPeriod }

// RuleOverlapError details which existing rule a new bracket collides with.
type RuleOverlapError struct {
	CommissionTypeID CommissionTypeID
	ExistingRuleID   RuleID
	ExistingMin      int
	ExistingMax      *int
}

func (e *RuleOverlapError) Error() string {
	max := "unbounded"
	if e.ExistingMax != nil {
		max = fmt.Sprintf("%d", *e.ExistingMax)
	}
	return fmt.Sprintf("bracket overlaps rule %s [%d, %s] for commission type %s",
		e.ExistingRuleID, e.ExistingMin, max, e.CommissionTypeID)
}

func (e *RuleOverlapError) Unwrap() error { return ErrRuleOverlap }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLeadNotFound) ||
		errors.Is(err, ErrCommissionTypeNotFound) ||
		errors.Is(err, ErrChangeNotFound)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidRule) ||
		errors.Is(err, ErrRuleOverlap) ||
		errors.Is(err, ErrInvalidChangeTarget) ||
		errors.Is(err, ErrLeadAlreadyReconciled)
}
