/*
rules.go - Tier resolution and rule validation

PURPOSE:
  The tier resolver is the heart of volume-tiered commissions: given how
  many leads a broker (or the whole system, for the recompute job) has in
  a calendar month, pick the bracket whose range contains that count and
  report the next unlockable bracket.

ALGORITHM:
  Rules are scanned in ascending MinCount order. The current rule is the
  first whose [MinCount, MaxCount] contains the count (MaxCount nil means
  unbounded). Because brackets are disjoint by construction, at most one
  can match; if data corruption ever produced an overlap, first match in
  ascending order wins. When the count has not reached any bracket yet,
  the nearest bracket ahead becomes the next rule. When no bracket matches
  and none lie ahead, both are nil and callers fall back to the commission
  type's base percentage.

SEE ALSO:
  - recompute.go: Applies resolved tiers to a month of leads
  - store.go: ListRules returns rules already ordered by MinCount
*/
package commission

// TierResult is the outcome of resolving a lead count against a rule set.
// Current is nil when no bracket contains the count; Next is the nearest
// bracket still ahead, with UntilNext = Next.MinCount - leadCount.
type TierResult struct {
	Current   *Rule
	Next      *Rule
	UntilNext *int
}

// ResolveTier finds the applicable and next rule for a lead count.
// rules must be ordered by MinCount ascending (the store guarantees this).
func ResolveTier(leadCount int, rules []Rule) TierResult {
	var res TierResult
	for i := range rules {
		r := &rules[i]
		if r.Contains(leadCount) {
			res.Current = r
			if i+1 < len(rules) {
				next := &rules[i+1]
				gap := next.MinCount - leadCount
				res.Next = next
				res.UntilNext = &gap
			}
			return res
		}
		if leadCount < r.MinCount {
			// Rules are ascending, so the first bracket ahead is the
			// nearest one. Nothing further can contain the count.
			gap := r.MinCount - leadCount
			res.Next = r
			res.UntilNext = &gap
			return res
		}
	}
	return res
}

// ValidateRule checks a new rule's bounds and its disjointness against the
// existing rules of the same commission type. Intervals are treated as
// [MinCount, MaxCount] with nil MaxCount meaning +infinity.
func ValidateRule(r Rule, existing []Rule) error {
	if r.MinCount < 0 {
		return ErrInvalidRule
	}
	if r.MaxCount != nil && *r.MaxCount <= r.MinCount {
		return ErrInvalidRule
	}
	if r.Percentage.IsNegative() || r.Percentage.GreaterThan(one) {
		return ErrInvalidRule
	}
	for _, ex := range existing {
		if ex.CommissionTypeID != r.CommissionTypeID || ex.ID == r.ID {
			continue
		}
		if bracketsOverlap(r.MinCount, r.MaxCount, ex.MinCount, ex.MaxCount) {
			return &RuleOverlapError{
				CommissionTypeID: r.CommissionTypeID,
				ExistingRuleID:   ex.ID,
				ExistingMin:      ex.MinCount,
				ExistingMax:      ex.MaxCount,
			}
		}
	}
	return nil
}

func bracketsOverlap(aMin int, aMax *int, bMin int, bMax *int) bool {
	// [aMin, aMax] and [bMin, bMax] intersect unless one ends strictly
	// before the other starts.
	if aMax != nil && *aMax < bMin {
		return false
	}
	if bMax != nil && *bMax < aMin {
		return false
	}
	return true
}
