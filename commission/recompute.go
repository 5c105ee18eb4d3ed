/*
recompute.go - Monthly commission recompute job

PURPOSE:
  Re-evaluates volume tiers for every lead in a calendar month. Leads are
  grouped by their assigned commission type; each group's size is the lead
  count fed to the tier resolver; every lead in the group is then rewritten
  with either the resolved rule's percentage or the commission type's base
  percentage.

IDEMPOTENCY:
  The job is a full overwrite, not an accumulation. Running it twice for
  the same month with unchanged rules and leads produces identical results.

FAILURE ISOLATION:
  A failure updating one lead never aborts the batch. The offender is
  logged with before/after values and the job continues, reporting
  found vs. updated counts.
*/
package commission

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RecomputeStore is the slice of storage the recompute job needs.
type RecomputeStore interface {
	RuleStore
	LeadStore
}

// Recomputer runs the monthly recompute job.
type Recomputer struct {
	Store RecomputeStore
	Log   *zap.Logger
}

func NewRecomputer(store RecomputeStore, log *zap.Logger) *Recomputer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recomputer{Store: store, Log: log}
}

// LeadRecomputeResult is the per-lead audit record emitted by the job.
type LeadRecomputeResult struct {
	LeadID             LeadID
	PreviousCommission decimal.Decimal
	NewCommission      decimal.Decimal
	AppliedRule        *Rule
	BasePercentage     *decimal.Decimal // set when the base rate applied (no rule fired)
}

// RecomputeResult summarizes a recompute run.
type RecomputeResult struct {
	Month                   Month
	Period                  Period
	LeadsFound              int
	LeadsUpdated            int
	DistinctCommissionTypes int
	Results                 []LeadRecomputeResult
}

// Run recomputes commissions for every lead whose reservation payment date
// falls inside the month and which has an assigned commission type.
func (rc *Recomputer) Run(ctx context.Context, month, year int) (*RecomputeResult, error) {
	m, err := NewMonth(month, year)
	if err != nil {
		return nil, err
	}
	period := m.Period()

	leads, err := rc.Store.ListLeads(ctx, LeadFilter{
		Period:                &period,
		RequireCommissionType: true,
	})
	if err != nil {
		return nil, err
	}

	res := &RecomputeResult{Month: m, Period: period, LeadsFound: len(leads)}
	rc.Log.Info("recompute started",
		zap.String("period", m.String()),
		zap.Int("leads_found", len(leads)))

	if len(leads) == 0 {
		return res, nil
	}

	// Group by assigned commission type. The group size is the lead count
	// used for tier resolution.
	groups := make(map[CommissionTypeID][]Lead)
	for _, l := range leads {
		groups[*l.CommissionTypeID] = append(groups[*l.CommissionTypeID], l)
	}
	res.DistinctCommissionTypes = len(groups)

	for typeID, group := range groups {
		ct, err := rc.Store.GetCommissionType(ctx, typeID)
		if err != nil {
			rc.Log.Error("recompute: commission type lookup failed",
				zap.String("commission_type", string(typeID)),
				zap.Int("group_size", len(group)),
				zap.Error(err))
			continue
		}

		rules, err := rc.Store.ListRules(ctx, typeID)
		if err != nil {
			rc.Log.Error("recompute: rule listing failed",
				zap.String("commission_type", string(typeID)),
				zap.Error(err))
			continue
		}

		tier := ResolveTier(len(group), rules)

		pct := ct.Percentage
		var ruleID *RuleID
		if tier.Current != nil {
			pct = tier.Current.Percentage
			ruleID = &tier.Current.ID
		}

		for _, lead := range group {
			newCommission := lead.TotalAmount.Mul(pct)

			if err := rc.Store.UpdateLeadCommission(ctx, lead.ID, newCommission, ruleID); err != nil {
				rc.Log.Error("recompute: lead update failed",
					zap.String("lead", string(lead.ID)),
					zap.String("commission_type", string(typeID)),
					zap.Error(err))
				continue
			}

			res.LeadsUpdated++
			r := LeadRecomputeResult{
				LeadID:             lead.ID,
				PreviousCommission: lead.Commission,
				NewCommission:      newCommission,
				AppliedRule:        tier.Current,
			}
			if tier.Current == nil {
				base := ct.Percentage
				r.BasePercentage = &base
			}
			res.Results = append(res.Results, r)

			rc.Log.Debug("recompute: lead updated",
				zap.String("lead", string(lead.ID)),
				zap.String("previous", lead.Commission.String()),
				zap.String("new", newCommission.String()))
		}
	}

	rc.Log.Info("recompute finished",
		zap.String("period", m.String()),
		zap.Int("leads_found", res.LeadsFound),
		zap.Int("leads_updated", res.LeadsUpdated),
		zap.Int("commission_types", res.DistinctCommissionTypes))
	return res, nil
}
