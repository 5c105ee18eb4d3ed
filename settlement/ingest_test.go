package settlement_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/commission-engine/commission"
	memstore "github.com/warp/commission-engine/commission/store"
	"github.com/warp/commission-engine/settlement"
)

func TestIngest_EndToEnd(t *testing.T) {
	// GIVEN: A March settlement CSV and three March leads (one already
	//        reconciled, one rejected)
	// WHEN: Ingesting the file for March
	// THEN: Only the eligible lead participates and matches

	mem := memstore.NewMemory()
	ing := settlement.NewIngestor(mem, nil)
	ctx := context.Background()

	march := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)
	reconciledAt := march.AddDate(0, 0, 5)

	require.NoError(t, mem.CreateLead(ctx, commission.Lead{
		ID: "l-open", BrokerID: "b-1", BuildingName: "Torre Central", UnitCode: "1204",
		TotalAmount: decimal.RequireFromString("1500000"),
		ReservationPaidAt: march, State: commission.LeadStateReservationPaid,
	}))
	require.NoError(t, mem.CreateLead(ctx, commission.Lead{
		ID: "l-done", BrokerID: "b-1", BuildingName: "Torre Central", UnitCode: "305",
		TotalAmount: decimal.RequireFromString("900000"),
		ReservationPaidAt: march, State: commission.LeadStateApproved,
		Reconciled: true, ReconciledAt: &reconciledAt,
	}))
	require.NoError(t, mem.CreateLead(ctx, commission.Lead{
		ID: "l-rejected", BrokerID: "b-1", BuildingName: "Torre Central", UnitCode: "406",
		TotalAmount: decimal.RequireFromString("800000"),
		ReservationPaidAt: march, State: commission.LeadStateRejected,
	}))

	data := []byte("Monto,Proyecto,Unidad\n" +
		"1500000,Torre Central,1204\n" +
		"5000000,Edificio Desconocido,99\n")

	m, _ := commission.NewMonth(3, 2025)
	res, err := ing.Ingest(ctx, "liquidacion.csv", data, m)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Stats.TotalRows)
	assert.Equal(t, 1, res.Stats.TotalLeads)
	assert.Equal(t, 1, res.Stats.AutomaticMatches)
	assert.Equal(t, 1, res.Stats.UnmatchedRows)
	assert.Equal(t, 0, res.Stats.UnmatchedLeads)

	require.Len(t, res.Matches, 1)
	assert.Equal(t, commission.LeadID("l-open"), res.Matches[0].Lead.ID)
}

func TestIngest_BadFile(t *testing.T) {
	mem := memstore.NewMemory()
	ing := settlement.NewIngestor(mem, nil)

	m, _ := commission.NewMonth(3, 2025)
	_, err := ing.Ingest(context.Background(), "report.xlsx", []byte("not a workbook"), m)
	assert.ErrorIs(t, err, settlement.ErrUnreadableFile)
}
