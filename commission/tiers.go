/*
tiers.go - Per-broker tier lookup

PURPOSE:
  Answers "where does this broker sit in each commission type's tier
  ladder this month?" - the read side of the tier resolver. Returns, per
  commission type that has rules, the broker's countable lead total for
  the month, the bracket currently in effect, the next unlockable bracket,
  and how many leads away it is.

CACHING:
  The result only changes when a new lead is recorded for that broker and
  month, so callers cache it by (broker, month, commission type) with a
  multi-hour TTL and invalidate explicitly on lead creation. The cache
  itself lives in the calling layer (see cache.go and api.Handler).
*/
package commission

import (
	"context"
)

// TierSnapshot is one commission type's tier standing for a broker/month.
type TierSnapshot struct {
	CommissionType CommissionType
	TotalLeads     int
	Current        *Rule
	Next           *Rule
	UntilNext      *int
}

// TierService resolves per-broker tier standings.
type TierService struct {
	Store RecomputeStore
}

func NewTierService(store RecomputeStore) *TierService {
	return &TierService{Store: store}
}

// ResolveTiers returns the tier standing for each commission type that has
// rules, keyed by commission type id. typeID non-empty narrows the lookup
// to one commission type. Lead counts include only the broker's countable
// (non-rejected) leads whose reservation payment date falls in the month.
//
// Commission types without any rules are omitted, matching the upstream
// report: there is no ladder to stand on.
func (s *TierService) ResolveTiers(ctx context.Context, brokerID BrokerID, m Month, typeID CommissionTypeID) (map[CommissionTypeID]TierSnapshot, error) {
	rules, err := s.Store.ListRules(ctx, typeID)
	if err != nil {
		return nil, err
	}

	counts, err := s.Store.CountLeadsByCommissionType(ctx, brokerID, m.Period())
	if err != nil {
		return nil, err
	}

	// Group rules by commission type; ListRules already orders by MinCount.
	byType := make(map[CommissionTypeID][]Rule)
	for _, r := range rules {
		byType[r.CommissionTypeID] = append(byType[r.CommissionTypeID], r)
	}

	out := make(map[CommissionTypeID]TierSnapshot, len(byType))
	for id, typeRules := range byType {
		ct, err := s.Store.GetCommissionType(ctx, id)
		if err != nil {
			return nil, err
		}

		total := counts[id]
		tier := ResolveTier(total, typeRules)
		out[id] = TierSnapshot{
			CommissionType: *ct,
			TotalLeads:     total,
			Current:        tier.Current,
			Next:           tier.Next,
			UntilNext:      tier.UntilNext,
		}
	}
	return out, nil
}
