/*
handlers_test.go - Unit tests for API handlers

Tests for:
- Rule creation validation (overlap -> 400)
- Recompute endpoint (defaults, invalid period)
- Tier lookup caching and invalidation on lead creation
- Settlement processing and confirmation
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
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

func newTestServer(t *testing.T) (*memstore.Memory, http.Handler) {
	t.Helper()
	mem := memstore.NewMemory()
	h := NewHandler(mem, nil)
	return mem, NewRouter(h)
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func seedAPIType(t *testing.T, mem *memstore.Memory, id commission.CommissionTypeID, basePct string) {
	t.Helper()
	require.NoError(t, mem.CreateCommissionType(context.Background(), commission.CommissionType{
		ID:         id,
		Name:       "Type " + string(id),
		Code:       string(id),
		Percentage: decimal.RequireFromString(basePct),
		Active:     true,
	}))
}

func seedAPIRule(t *testing.T, mem *memstore.Memory, id commission.RuleID, typeID commission.CommissionTypeID, minCount int, maxCount *int, percentage string) {
	t.Helper()
	require.NoError(t, mem.CreateRule(context.Background(), commission.Rule{
		ID:               id,
		CommissionTypeID: typeID,
		MinCount:         minCount,
		MaxCount:         maxCount,
		Percentage:       decimal.RequireFromString(percentage),
	}))
}

func seedAPILead(t *testing.T, mem *memstore.Memory, id commission.LeadID, brokerID commission.BrokerID, typeID commission.CommissionTypeID, amount string, paidAt time.Time) {
	t.Helper()
	tid := typeID
	require.NoError(t, mem.CreateLead(context.Background(), commission.Lead{
		ID:                id,
		BrokerID:          brokerID,
		BuildingName:      "Torre Central",
		UnitCode:          "1204",
		CommissionTypeID:  &tid,
		TotalAmount:       decimal.RequireFromString(amount),
		Commission:        decimal.Zero,
		ReservationPaidAt: paidAt,
		State:             commission.LeadStateReservationPaid,
		CreatedAt:         paidAt,
	}))
}

// =============================================================================
// COMMISSION TYPES AND RULES
// =============================================================================

func TestCreateCommissionType_Validation(t *testing.T) {
	_, router := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/commissions/types", CreateCommissionTypeRequest{
		Name: "Direct Sale", Code: "direct", Percentage: "0.03",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/commissions/types", CreateCommissionTypeRequest{
		Name: "Bad", Code: "bad", Percentage: "1.5",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/commissions/types", CreateCommissionTypeRequest{
		Code: "incomplete", Percentage: "0.02",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateRule_OverlapRejected(t *testing.T) {
	// GIVEN: An existing bracket [0, 4]
	// WHEN: Posting a bracket [3, 8] for the same type
	// THEN: 400 with an overlap message; nothing is stored

	mem, router := newTestServer(t)
	seedAPIType(t, mem, "ct-1", "0.02")
	four := 4
	seedAPIRule(t, mem, "r-1", "ct-1", 0, &four, "0.03")

	eight := 8
	rec := doJSON(t, router, http.MethodPost, "/api/commissions/rules", CreateRuleRequest{
		CommissionTypeID: "ct-1", MinCount: 3, MaxCount: &eight, Percentage: "0.05",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "overlap")

	rules, err := mem.ListRules(context.Background(), "ct-1")
	require.NoError(t, err)
	assert.Len(t, rules, 1)
}

func TestCreateRule_UnknownType(t *testing.T) {
	_, router := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/commissions/rules", CreateRuleRequest{
		CommissionTypeID: "missing", MinCount: 0, Percentage: "0.05",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRules_FilteredByType(t *testing.T) {
	mem, router := newTestServer(t)
	seedAPIType(t, mem, "ct-1", "0.02")
	seedAPIType(t, mem, "ct-2", "0.02")
	seedAPIRule(t, mem, "r-1", "ct-1", 0, nil, "0.03")
	seedAPIRule(t, mem, "r-2", "ct-2", 0, nil, "0.04")

	rec := doJSON(t, router, http.MethodGet, "/api/commissions/rules?commission_type_id=ct-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rules := decode[[]RuleDTO](t, rec)
	require.Len(t, rules, 1)
	assert.Equal(t, "r-1", rules[0].ID)
}

// =============================================================================
// RECOMPUTE
// =============================================================================

func TestRecompute_AppliesTier(t *testing.T) {
	// GIVEN: 5 March leads on a type whose mid bracket is 5%
	// WHEN: Posting a March recompute
	// THEN: All leads updated at 5%

	mem, router := newTestServer(t)
	seedAPIType(t, mem, "ct-1", "0.02")
	four, nine := 4, 9
	seedAPIRule(t, mem, "r-low", "ct-1", 0, &four, "0.03")
	seedAPIRule(t, mem, "r-mid", "ct-1", 5, &nine, "0.05")

	march := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		seedAPILead(t, mem, commission.LeadID(fmt.Sprintf("lead-%d", i)), "broker-1", "ct-1", "100000", march)
	}

	month, year := 3, 2025
	rec := doJSON(t, router, http.MethodPost, "/api/leads/recompute", RecomputeRequest{Month: &month, Year: &year})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[RecomputeResponse](t, rec)
	assert.Equal(t, "2025-03", resp.Period)
	assert.Equal(t, 5, resp.LeadsFound)
	assert.Equal(t, 5, resp.LeadsUpdated)
	require.Len(t, resp.Results, 5)
	for _, r := range resp.Results {
		assert.Equal(t, "5000", r.NewCommission)
		require.NotNil(t, r.AppliedRule)
		assert.Equal(t, "r-mid", r.AppliedRule.ID)
	}
}

func TestRecompute_InvalidPeriod(t *testing.T) {
	_, router := newTestServer(t)

	month, year := 13, 2025
	rec := doJSON(t, router, http.MethodPost, "/api/leads/recompute", RecomputeRequest{Month: &month, Year: &year})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid period")
}

func TestRecompute_DefaultsToCurrentMonth(t *testing.T) {
	// An empty body recomputes the current month.
	_, router := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/leads/recompute", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[RecomputeResponse](t, rec)
	now := time.Now().UTC()
	assert.Equal(t, fmt.Sprintf("%04d-%02d", now.Year(), int(now.Month())), resp.Period)
}

// =============================================================================
// TIER LOOKUP AND CACHING
// =============================================================================

func TestGetBrokerTiers_CachedOnSecondRead(t *testing.T) {
	// GIVEN: A broker with March leads
	// WHEN: Fetching tiers twice
	// THEN: The second response is served from cache

	mem, router := newTestServer(t)
	seedAPIType(t, mem, "ct-1", "0.02")
	four := 4
	seedAPIRule(t, mem, "r-low", "ct-1", 0, &four, "0.03")

	march := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)
	seedAPILead(t, mem, "lead-1", "broker-1", "ct-1", "100000", march)

	path := "/api/brokers/broker-1/tiers?date=2025-03-15"

	first := decode[TierLookupResponse](t, doJSON(t, router, http.MethodGet, path, nil))
	assert.False(t, first.Cached)
	assert.Equal(t, "2025-03", first.Month)
	require.Contains(t, first.Tiers, "ct-1")
	assert.Equal(t, 1, first.Tiers["ct-1"].TotalLeads)

	second := decode[TierLookupResponse](t, doJSON(t, router, http.MethodGet, path, nil))
	assert.True(t, second.Cached)
}

func TestCreateLead_InvalidatesTierCache(t *testing.T) {
	// GIVEN: A cached tier lookup for broker-1 in March
	// WHEN: A new March lead for broker-1 is created
	// THEN: The next lookup recomputes and reflects the new count

	mem, router := newTestServer(t)
	seedAPIType(t, mem, "ct-1", "0.02")
	seedAPIRule(t, mem, "r-all", "ct-1", 0, nil, "0.03")

	march := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)
	seedAPILead(t, mem, "lead-1", "broker-1", "ct-1", "100000", march)

	path := "/api/brokers/broker-1/tiers?date=2025-03-15"
	warm := decode[TierLookupResponse](t, doJSON(t, router, http.MethodGet, path, nil))
	assert.Equal(t, 1, warm.Tiers["ct-1"].TotalLeads)

	typeID := "ct-1"
	rec := doJSON(t, router, http.MethodPost, "/api/leads/", CreateLeadRequest{
		ID: "lead-2", BrokerID: "broker-1", TotalAmount: "250000",
		CommissionTypeID: &typeID, ReservationPaidAt: "2025-03-20",
		State: string(commission.LeadStateReservationPaid),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	after := decode[TierLookupResponse](t, doJSON(t, router, http.MethodGet, path, nil))
	assert.False(t, after.Cached)
	assert.Equal(t, 2, after.Tiers["ct-1"].TotalLeads)
}

func TestCreateLead_Validation(t *testing.T) {
	_, router := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/leads/", CreateLeadRequest{
		BrokerID: "broker-1", TotalAmount: "100",
		ReservationPaidAt: "2025-03-20", State: "weird",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/leads/", CreateLeadRequest{
		BrokerID: "broker-1", TotalAmount: "not-a-number",
		ReservationPaidAt: "2025-03-20", State: string(commission.LeadStateApproved),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// SCHEDULED CHANGES
// =============================================================================

func TestCreateChange_TargetValidation(t *testing.T) {
	mem, router := newTestServer(t)
	seedAPIType(t, mem, "ct-1", "0.02")

	building := "b-1"
	unitType := "ut-1"

	rec := doJSON(t, router, http.MethodPost, "/api/commissions/changes", CreateChangeRequest{
		CommissionTypeID: "ct-1", BuildingID: &building, EffectiveAt: "2025-07-01",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/commissions/changes", CreateChangeRequest{
		CommissionTypeID: "ct-1", EffectiveAt: "2025-07-01",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/commissions/changes", CreateChangeRequest{
		CommissionTypeID: "ct-1", BuildingID: &building, BuildingUnitTypeID: &unitType,
		EffectiveAt: "2025-07-01",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunDueChanges_Endpoint(t *testing.T) {
	mem, router := newTestServer(t)
	seedAPIType(t, mem, "ct-1", "0.02")

	b := commission.BuildingID("b-1")
	require.NoError(t, mem.CreateChange(context.Background(), commission.ScheduledChange{
		ID: "chg-1", CommissionTypeID: "ct-1", BuildingID: &b,
		EffectiveAt: time.Now().UTC().AddDate(0, 0, -1),
	}))

	rec := doJSON(t, router, http.MethodPost, "/api/commissions/changes/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[RunChangesResponse](t, rec)
	assert.Equal(t, 1, resp.Found)
	assert.Equal(t, 1, resp.Executed)
}

// =============================================================================
// SETTLEMENT
// =============================================================================

func postSettlementFile(t *testing.T, router http.Handler, filename, contents, month, year string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if filename != "" {
		fw, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(contents))
		require.NoError(t, err)
	}
	if month != "" {
		require.NoError(t, w.WriteField("month", month))
	}
	if year != "" {
		require.NoError(t, w.WriteField("year", year))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/settlements/process", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestProcessSettlementFile_Matches(t *testing.T) {
	// GIVEN: A March lead and a CSV row that matches it exactly
	// WHEN: Processing the file for March
	// THEN: One automatic match comes back for review

	mem, router := newTestServer(t)
	seedAPIType(t, mem, "ct-1", "0.02")
	march := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)
	seedAPILead(t, mem, "lead-1", "broker-1", "ct-1", "1500000", march)

	csv := "Monto,Proyecto,Unidad\n1500000,Torre Central,1204\n"
	rec := postSettlementFile(t, router, "liquidacion.csv", csv, "3", "2025")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[ProcessFileResponse](t, rec)
	assert.Equal(t, 1, resp.Stats.AutomaticMatches)
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, "lead-1", resp.Matches[0].Lead.ID)
	assert.Equal(t, string(commission.LeadStateReservationPaid), resp.Matches[0].Lead.State)
}

func TestProcessSettlementFile_MissingInputs(t *testing.T) {
	_, router := newTestServer(t)

	rec := postSettlementFile(t, router, "", "", "3", "2025")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postSettlementFile(t, router, "f.csv", "Monto,Proyecto,Unidad\n", "", "2025")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postSettlementFile(t, router, "f.csv", "Monto,Proyecto,Unidad\n", "14", "2025")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcessSettlementFile_MissingColumns(t *testing.T) {
	_, router := newTestServer(t)

	rec := postSettlementFile(t, router, "f.csv", "Fecha,Proyecto\n2025-03-01,Torre\n", "3", "2025")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, strings.ToLower(rec.Body.String()), "missing required columns")
}

func TestConfirmMatches_ReconcilesLeads(t *testing.T) {
	mem, router := newTestServer(t)
	seedAPIType(t, mem, "ct-1", "0.02")
	march := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)
	seedAPILead(t, mem, "lead-1", "broker-1", "ct-1", "1500000", march)

	rec := doJSON(t, router, http.MethodPost, "/api/settlements/confirm", ConfirmMatchesRequest{
		Matches: []ConfirmedMatchDTO{{LeadID: "lead-1", Type: "automatic", Confidence: 0.95}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[ConfirmMatchesResponse](t, rec)
	assert.Equal(t, 1, resp.ReconciledCount)
	assert.Equal(t, 1, resp.Stats.Automatic)

	lead, err := mem.GetLead(context.Background(), "lead-1")
	require.NoError(t, err)
	assert.True(t, lead.Reconciled)
}

func TestConfirmMatches_Errors(t *testing.T) {
	_, router := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/settlements/confirm", ConfirmMatchesRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/settlements/confirm", ConfirmMatchesRequest{
		Matches: []ConfirmedMatchDTO{{LeadID: "ghost", Type: "manual", Confidence: 0.5}},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
