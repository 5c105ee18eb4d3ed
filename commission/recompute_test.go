package commission_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/commission-engine/commission"
	memstore "github.com/warp/commission-engine/commission/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestEngine(t *testing.T) (*memstore.Memory, *commission.Recomputer) {
	t.Helper()
	mem := memstore.NewMemory()
	return mem, commission.NewRecomputer(mem, nil)
}

func seedType(t *testing.T, mem *memstore.Memory, id commission.CommissionTypeID, basePct string) {
	t.Helper()
	require.NoError(t, mem.CreateCommissionType(context.Background(), commission.CommissionType{
		ID:         id,
		Name:       string(id),
		Code:       string(id),
		Percentage: pct(basePct),
		Active:     true,
	}))
}

func seedLadder(t *testing.T, mem *memstore.Memory, typeID commission.CommissionTypeID) {
	t.Helper()
	for _, r := range ladder(typeID) {
		r.ID = commission.RuleID(string(typeID) + "-" + string(r.ID))
		require.NoError(t, mem.CreateRule(context.Background(), r))
	}
}

func seedLead(t *testing.T, mem *memstore.Memory, id commission.LeadID, typeID commission.CommissionTypeID, amount string, paidAt time.Time) {
	t.Helper()
	lead := commission.Lead{
		ID:                id,
		BrokerID:          "broker-1",
		TotalAmount:       decimal.RequireFromString(amount),
		Commission:        decimal.Zero,
		ReservationPaidAt: paidAt,
		State:             commission.LeadStateReservationPaid,
		CreatedAt:         paidAt,
	}
	if typeID != "" {
		tid := typeID
		lead.CommissionTypeID = &tid
	}
	require.NoError(t, mem.CreateLead(context.Background(), lead))
}

// =============================================================================
// RECOMPUTE JOB
// =============================================================================

func TestRecompute_TierApplied(t *testing.T) {
	// GIVEN: 5 March leads on a type with ladder {0-4: 3%, 5-9: 5%, 10+: 8%}
	// WHEN: Recomputing March
	// THEN: All 5 leads get the 5% bracket applied

	mem, rc := newTestEngine(t)
	seedType(t, mem, "ct-1", "0.02")
	seedLadder(t, mem, "ct-1")

	march := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		seedLead(t, mem, commission.LeadID(fmt.Sprintf("lead-%d", i)), "ct-1", "100000", march)
	}

	res, err := rc.Run(context.Background(), 3, 2025)
	require.NoError(t, err)

	assert.Equal(t, 5, res.LeadsFound)
	assert.Equal(t, 5, res.LeadsUpdated)
	assert.Equal(t, 1, res.DistinctCommissionTypes)

	leads, err := mem.ListLeads(context.Background(), commission.LeadFilter{})
	require.NoError(t, err)
	for _, l := range leads {
		assert.True(t, l.Commission.Equal(decimal.RequireFromString("5000")),
			"lead %s commission = %s", l.ID, l.Commission)
		require.NotNil(t, l.AppliedRuleID)
	}
}

func TestRecompute_BasePercentageFallback(t *testing.T) {
	// GIVEN: A commission type with no volume rules
	// WHEN: Recomputing
	// THEN: The base percentage applies and the rule reference is cleared

	mem, rc := newTestEngine(t)
	seedType(t, mem, "ct-flat", "0.04")

	march := time.Date(2025, time.March, 5, 0, 0, 0, 0, time.UTC)
	seedLead(t, mem, "lead-1", "ct-flat", "200000", march)

	res, err := rc.Run(context.Background(), 3, 2025)
	require.NoError(t, err)
	assert.Equal(t, 1, res.LeadsUpdated)

	require.Len(t, res.Results, 1)
	assert.Nil(t, res.Results[0].AppliedRule)
	require.NotNil(t, res.Results[0].BasePercentage)
	assert.True(t, res.Results[0].BasePercentage.Equal(pct("0.04")))

	l, err := mem.GetLead(context.Background(), "lead-1")
	require.NoError(t, err)
	assert.True(t, l.Commission.Equal(decimal.RequireFromString("8000")))
	assert.Nil(t, l.AppliedRuleID)
}

func TestRecompute_Idempotent(t *testing.T) {
	// Running the job twice with unchanged inputs produces identical state.

	mem, rc := newTestEngine(t)
	seedType(t, mem, "ct-1", "0.02")
	seedLadder(t, mem, "ct-1")

	march := time.Date(2025, time.March, 12, 0, 0, 0, 0, time.UTC)
	seedLead(t, mem, "lead-1", "ct-1", "150000", march)
	seedLead(t, mem, "lead-2", "ct-1", "90000", march)

	_, err := rc.Run(context.Background(), 3, 2025)
	require.NoError(t, err)

	first := map[commission.LeadID]decimal.Decimal{}
	leads, _ := mem.ListLeads(context.Background(), commission.LeadFilter{})
	for _, l := range leads {
		first[l.ID] = l.Commission
	}

	_, err = rc.Run(context.Background(), 3, 2025)
	require.NoError(t, err)

	leads, _ = mem.ListLeads(context.Background(), commission.LeadFilter{})
	for _, l := range leads {
		assert.True(t, l.Commission.Equal(first[l.ID]), "lead %s changed on rerun", l.ID)
	}
}

func TestRecompute_GroupsPerCommissionType(t *testing.T) {
	// GIVEN: 5 leads on ct-1 and 1 lead on ct-2 in the same month
	// WHEN: Recomputing
	// THEN: Each group's count resolves independently (5 -> mid bracket,
	//       1 -> low bracket)

	mem, rc := newTestEngine(t)
	seedType(t, mem, "ct-1", "0.02")
	seedType(t, mem, "ct-2", "0.02")
	seedLadder(t, mem, "ct-1")
	seedLadder(t, mem, "ct-2")

	march := time.Date(2025, time.March, 8, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		seedLead(t, mem, commission.LeadID(fmt.Sprintf("lead-%d", i)), "ct-1", "100000", march)
	}
	seedLead(t, mem, "solo", "ct-2", "100000", march)

	res, err := rc.Run(context.Background(), 3, 2025)
	require.NoError(t, err)
	assert.Equal(t, 2, res.DistinctCommissionTypes)

	solo, err := mem.GetLead(context.Background(), "solo")
	require.NoError(t, err)
	// 1 lead on ct-2: low bracket, 3%
	assert.True(t, solo.Commission.Equal(decimal.RequireFromString("3000")))
}

func TestRecompute_IgnoresOtherMonthsAndUntypedLeads(t *testing.T) {
	mem, rc := newTestEngine(t)
	seedType(t, mem, "ct-1", "0.02")
	seedLadder(t, mem, "ct-1")

	march := time.Date(2025, time.March, 8, 0, 0, 0, 0, time.UTC)
	april := time.Date(2025, time.April, 2, 0, 0, 0, 0, time.UTC)
	seedLead(t, mem, "in-month", "ct-1", "100000", march)
	seedLead(t, mem, "next-month", "ct-1", "100000", april)
	seedLead(t, mem, "untyped", "", "100000", march)

	res, err := rc.Run(context.Background(), 3, 2025)
	require.NoError(t, err)

	assert.Equal(t, 1, res.LeadsFound)
	assert.Equal(t, 1, res.LeadsUpdated)

	outOfMonth, _ := mem.GetLead(context.Background(), "next-month")
	assert.True(t, outOfMonth.Commission.IsZero())
	untyped, _ := mem.GetLead(context.Background(), "untyped")
	assert.True(t, untyped.Commission.IsZero())
}

func TestRecompute_InvalidPeriod(t *testing.T) {
	_, rc := newTestEngine(t)

	_, err := rc.Run(context.Background(), 13, 2025)
	assert.ErrorIs(t, err, commission.ErrInvalidPeriod)

	_, err = rc.Run(context.Background(), 6, 2045)
	assert.ErrorIs(t, err, commission.ErrInvalidPeriod)
}

func TestRecompute_EmptyMonth(t *testing.T) {
	_, rc := newTestEngine(t)

	res, err := rc.Run(context.Background(), 6, 2025)
	require.NoError(t, err)
	assert.Equal(t, 0, res.LeadsFound)
	assert.Equal(t, 0, res.LeadsUpdated)
	assert.Empty(t, res.Results)
}
