package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/commission/store"
)

// =============================================================================
// DUPLICATE IDS - Creates must conflict like a primary key would
// =============================================================================

func TestMemory_CreateRejectsDuplicateIDs(t *testing.T) {
	// GIVEN: Rows already stored under an ID
	// WHEN: Creating again with the same ID
	// THEN: The create fails and the stored row is untouched

	mem := store.NewMemory()
	ctx := context.Background()

	ct := commission.CommissionType{
		ID:         "ct-1",
		Name:       "Venta nueva",
		Code:       "VN",
		Percentage: decimal.RequireFromString("0.03"),
		Active:     true,
	}
	require.NoError(t, mem.CreateCommissionType(ctx, ct))
	ct.Name = "Other"
	assert.Error(t, mem.CreateCommissionType(ctx, ct))

	got, err := mem.GetCommissionType(ctx, "ct-1")
	require.NoError(t, err)
	assert.Equal(t, "Venta nueva", got.Name)

	rule := commission.Rule{
		ID:               "r-1",
		CommissionTypeID: "ct-1",
		MinCount:         0,
		Percentage:       decimal.RequireFromString("0.03"),
	}
	require.NoError(t, mem.CreateRule(ctx, rule))
	assert.Error(t, mem.CreateRule(ctx, rule))

	rules, err := mem.ListRules(ctx, "ct-1")
	require.NoError(t, err)
	assert.Len(t, rules, 1)

	lead := commission.Lead{
		ID:                "lead-1",
		BrokerID:          "broker-1",
		ClientName:        "Cliente Uno",
		TotalAmount:       decimal.RequireFromString("100000"),
		Commission:        decimal.Zero,
		ReservationPaidAt: time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC),
		State:             commission.LeadStateReservationPaid,
	}
	require.NoError(t, mem.CreateLead(ctx, lead))
	lead.ClientName = "Cliente Dos"
	assert.Error(t, mem.CreateLead(ctx, lead))

	gotLead, err := mem.GetLead(ctx, "lead-1")
	require.NoError(t, err)
	assert.Equal(t, "Cliente Uno", gotLead.ClientName)

	buildingID := commission.BuildingID("b-1")
	change := commission.ScheduledChange{
		ID:               "chg-1",
		CommissionTypeID: "ct-1",
		BuildingID:       &buildingID,
		EffectiveAt:      time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, mem.CreateChange(ctx, change))
	assert.Error(t, mem.CreateChange(ctx, change))
}

func TestMemory_TxCreateRejectsDuplicateIDs(t *testing.T) {
	// GIVEN: A lead stored outside any transaction
	// WHEN: Creating the same ID inside WithTx
	// THEN: The transactional create conflicts too

	mem := store.NewMemory()
	ctx := context.Background()

	lead := commission.Lead{
		ID:                "lead-1",
		BrokerID:          "broker-1",
		TotalAmount:       decimal.RequireFromString("100000"),
		Commission:        decimal.Zero,
		ReservationPaidAt: time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC),
		State:             commission.LeadStateReservationPaid,
	}
	require.NoError(t, mem.CreateLead(ctx, lead))

	err := mem.WithTx(ctx, func(s commission.LeadStore) error {
		return s.CreateLead(ctx, lead)
	})
	assert.Error(t, err)
}
