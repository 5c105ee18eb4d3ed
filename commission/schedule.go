/*
schedule.go - Scheduled commission change executor

PURPOSE:
  Applies future-dated commission reassignments once their effective date
  arrives: point the target building (or building unit type) at the new
  commission type, then mark the change executed.

CONCURRENCY:
  The executor runs periodically and may overlap with itself. Each change
  is claimed with a single conditional update (executed=false gate) before
  its side effect runs, so two overlapping runs cannot both apply the same
  change; the loser of the claim sees zero affected rows and skips.

FAILURE ISOLATION:
  Changes are applied independently and in effective-date order. One
  change's failure is logged and does not block the rest.
*/
package commission

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Executor applies due scheduled changes.
type Executor struct {
	Store ChangeStore
	Log   *zap.Logger

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

func NewExecutor(store ChangeStore, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{Store: store, Log: log, Now: time.Now}
}

// ExecutionResult summarizes one executor run.
type ExecutionResult struct {
	Found    int
	Executed int
	Skipped  int // claimed by a concurrent run or already executed
	Errors   int
}

// RunDueChanges selects and applies every unexecuted change whose
// effective date has arrived. Idempotent under repeated calls: executed
// changes are excluded by the selection predicate and the claim.
func (e *Executor) RunDueChanges(ctx context.Context) (*ExecutionResult, error) {
	now := e.Now()
	due, err := e.Store.DueChanges(ctx, now)
	if err != nil {
		return nil, err
	}

	res := &ExecutionResult{Found: len(due)}
	e.Log.Info("scheduled changes due", zap.Int("count", len(due)))

	for _, change := range due {
		claimed, err := e.Store.ClaimChange(ctx, change.ID)
		if err != nil {
			res.Errors++
			e.Log.Error("change claim failed",
				zap.String("change", string(change.ID)),
				zap.Error(err))
			continue
		}
		if !claimed {
			res.Skipped++
			continue
		}

		if err := e.apply(ctx, change); err != nil {
			res.Errors++
			e.Log.Error("change application failed",
				zap.String("change", string(change.ID)),
				zap.String("commission_type", string(change.CommissionTypeID)),
				zap.Error(err))
			continue
		}

		res.Executed++
		e.Log.Info("change executed",
			zap.String("change", string(change.ID)),
			zap.Time("effective_at", change.EffectiveAt),
			zap.String("commission_type", string(change.CommissionTypeID)))
	}

	return res, nil
}

func (e *Executor) apply(ctx context.Context, c ScheduledChange) error {
	switch {
	case c.BuildingID != nil:
		return e.Store.AssignBuildingCommission(ctx, *c.BuildingID, c.CommissionTypeID)
	case c.BuildingUnitTypeID != nil:
		return e.Store.AssignUnitTypeCommission(ctx, *c.BuildingUnitTypeID, c.CommissionTypeID)
	default:
		return ErrInvalidChangeTarget
	}
}

// ValidateChange checks that a new scheduled change targets exactly one of
// building / building unit type.
func ValidateChange(c ScheduledChange) error {
	if (c.BuildingID == nil) == (c.BuildingUnitTypeID == nil) {
		return ErrInvalidChangeTarget
	}
	return nil
}
