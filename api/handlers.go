/*
handlers.go - HTTP API handlers for the commission engine

PURPOSE:
  Exposes the commission engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Commission management:
    GET    /api/commissions/types        List commission types
    POST   /api/commissions/types        Create commission type
    GET    /api/commissions/rules        List volume rules
    POST   /api/commissions/rules        Create volume rule
    POST   /api/commissions/changes      Schedule a commission change
    POST   /api/commissions/changes/run  Execute due scheduled changes

  Leads and tiers:
    POST   /api/leads                    Register a lead (invalidates the
                                         broker's tier cache)
    POST   /api/leads/recompute          Monthly commission recompute
    GET    /api/brokers/{id}/tiers       Per-broker tier standings

  Settlement:
    POST   /api/settlements/process      Parse + auto-match a settlement file
    POST   /api/settlements/confirm      Commit confirmed matches

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, overlapping rule brackets
  - 404: Lead or commission type vanished
  - 500: Internal errors (logged with context, reported generically)

CACHING:
  Tier lookups are cached per (broker, month, commission type) with a
  2 hour TTL and invalidated explicitly when a lead is created.
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/settlement"
)

// maxSettlementFileSize bounds one settlement upload (the caller's timeout
// responsibility starts here).
const maxSettlementFileSize = 20 << 20 // 20 MiB

// EngineStore is everything the handlers need from persistence. Both the
// SQLite store and the in-memory test store satisfy it.
type EngineStore interface {
	commission.RuleStore
	commission.TxLeadStore
	commission.ChangeStore
}

type tierData = map[commission.CommissionTypeID]commission.TierSnapshot

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store EngineStore
	Log   *zap.Logger

	recomputer *commission.Recomputer
	executor   *commission.Executor
	tiers      *commission.TierService
	ingestor   *settlement.Ingestor
	committer  *settlement.Committer
	tierCache  *commission.TTLCache[tierData]
}

// NewHandler creates a new handler with the given store.
func NewHandler(store EngineStore, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Store:      store,
		Log:        log,
		recomputer: commission.NewRecomputer(store, log),
		executor:   commission.NewExecutor(store, log),
		tiers:      commission.NewTierService(store),
		ingestor:   settlement.NewIngestor(store, log),
		committer:  settlement.NewCommitter(store, log),
		tierCache:  commission.NewTTLCache[tierData](commission.DefaultTierCacheTTL),
	}
}

// =============================================================================
// COMMISSION TYPES AND RULES
// =============================================================================

func (h *Handler) ListCommissionTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.Store.ListCommissionTypes(r.Context())
	if err != nil {
		h.fail(w, "list commission types", err)
		return
	}

	dtos := make([]CommissionTypeDTO, 0, len(types))
	for _, ct := range types {
		dtos = append(dtos, CommissionTypeDTO{
			ID:         string(ct.ID),
			Name:       ct.Name,
			Code:       ct.Code,
			Percentage: ct.Percentage.String(),
			Active:     ct.Active,
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateCommissionType(w http.ResponseWriter, r *http.Request) {
	var req CreateCommissionTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "Name and code are required", nil)
		return
	}
	pct, err := decimal.NewFromString(req.Percentage)
	if err != nil || pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(1)) {
		writeError(w, http.StatusBadRequest, "Percentage must be a number between 0 and 1", err)
		return
	}

	ct := commission.CommissionType{
		ID:         commission.CommissionTypeID(uuid.NewString()),
		Name:       req.Name,
		Code:       req.Code,
		Percentage: pct,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.Store.CreateCommissionType(r.Context(), ct); err != nil {
		h.fail(w, "create commission type", err)
		return
	}

	writeJSON(w, http.StatusCreated, CommissionTypeDTO{
		ID:         string(ct.ID),
		Name:       ct.Name,
		Code:       ct.Code,
		Percentage: ct.Percentage.String(),
		Active:     ct.Active,
	})
}

func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	typeID := commission.CommissionTypeID(r.URL.Query().Get("commission_type_id"))
	rules, err := h.Store.ListRules(r.Context(), typeID)
	if err != nil {
		h.fail(w, "list rules", err)
		return
	}

	dtos := make([]RuleDTO, 0, len(rules))
	for i := range rules {
		dtos = append(dtos, *ruleDTO(&rules[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	pct, err := decimal.NewFromString(req.Percentage)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Percentage must be a number between 0 and 1", err)
		return
	}

	ctx := r.Context()
	typeID := commission.CommissionTypeID(req.CommissionTypeID)
	if _, err := h.Store.GetCommissionType(ctx, typeID); err != nil {
		h.fail(w, "create rule", err)
		return
	}

	rule := commission.Rule{
		ID:               commission.RuleID(uuid.NewString()),
		CommissionTypeID: typeID,
		MinCount:         req.MinCount,
		MaxCount:         req.MaxCount,
		Percentage:       pct,
		CreatedAt:        time.Now().UTC(),
	}

	// The disjoint-bracket invariant is checked against the type's
	// existing rules before anything is written.
	existing, err := h.Store.ListRules(ctx, typeID)
	if err != nil {
		h.fail(w, "create rule", err)
		return
	}
	if err := commission.ValidateRule(rule, existing); err != nil {
		h.fail(w, "create rule", err)
		return
	}

	if err := h.Store.CreateRule(ctx, rule); err != nil {
		h.fail(w, "create rule", err)
		return
	}
	writeJSON(w, http.StatusCreated, ruleDTO(&rule))
}

// =============================================================================
// SCHEDULED CHANGES
// =============================================================================

func (h *Handler) CreateChange(w http.ResponseWriter, r *http.Request) {
	var req CreateChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	effectiveAt, err := parseFlexibleTime(req.EffectiveAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid effective_at (use YYYY-MM-DD or RFC3339)", err)
		return
	}

	change := commission.ScheduledChange{
		ID:               commission.ChangeID(uuid.NewString()),
		CommissionTypeID: commission.CommissionTypeID(req.CommissionTypeID),
		EffectiveAt:      effectiveAt,
		CreatedAt:        time.Now().UTC(),
	}
	if req.BuildingID != nil {
		b := commission.BuildingID(*req.BuildingID)
		change.BuildingID = &b
	}
	if req.BuildingUnitTypeID != nil {
		u := commission.UnitTypeID(*req.BuildingUnitTypeID)
		change.BuildingUnitTypeID = &u
	}

	if err := commission.ValidateChange(change); err != nil {
		h.fail(w, "create change", err)
		return
	}
	ctx := r.Context()
	if _, err := h.Store.GetCommissionType(ctx, change.CommissionTypeID); err != nil {
		h.fail(w, "create change", err)
		return
	}
	if err := h.Store.CreateChange(ctx, change); err != nil {
		h.fail(w, "create change", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": string(change.ID)})
}

func (h *Handler) RunDueChanges(w http.ResponseWriter, r *http.Request) {
	res, err := h.executor.RunDueChanges(r.Context())
	if err != nil {
		h.fail(w, "run due changes", err)
		return
	}
	writeJSON(w, http.StatusOK, RunChangesResponse{
		Found:    res.Found,
		Executed: res.Executed,
		Skipped:  res.Skipped,
		Errors:   res.Errors,
	})
}

// =============================================================================
// LEADS AND RECOMPUTE
// =============================================================================

func (h *Handler) CreateLead(w http.ResponseWriter, r *http.Request) {
	var req CreateLeadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	state := commission.LeadState(req.State)
	if !state.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown lead state", nil)
		return
	}
	amount, err := decimal.NewFromString(req.TotalAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid total_amount", err)
		return
	}
	paidAt, err := parseFlexibleTime(req.ReservationPaidAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid reservation_paid_at (use YYYY-MM-DD or RFC3339)", err)
		return
	}

	lead := commission.Lead{
		ID:                commission.LeadID(req.ID),
		BrokerID:          commission.BrokerID(req.BrokerID),
		BrokerName:        req.BrokerName,
		ClientName:        req.ClientName,
		BuildingID:        commission.BuildingID(req.BuildingID),
		BuildingName:      req.BuildingName,
		UnitCode:          req.UnitCode,
		TotalAmount:       amount,
		Commission:        decimal.Zero,
		ReservationPaidAt: paidAt,
		State:             state,
		CreatedAt:         time.Now().UTC(),
	}
	if lead.ID == "" {
		lead.ID = commission.LeadID(uuid.NewString())
	}
	if req.CommissionTypeID != nil {
		id := commission.CommissionTypeID(*req.CommissionTypeID)
		if _, err := h.Store.GetCommissionType(r.Context(), id); err != nil {
			h.fail(w, "create lead", err)
			return
		}
		lead.CommissionTypeID = &id
	}

	if err := h.Store.CreateLead(r.Context(), lead); err != nil {
		h.fail(w, "create lead", err)
		return
	}

	// A new lead changes the broker's monthly tier standing; the cached
	// lookups for that broker and month are stale now.
	m := commission.MonthOf(lead.ReservationPaidAt)
	h.tierCache.InvalidatePrefix(commission.TierCachePrefix(lead.BrokerID, m))

	writeJSON(w, http.StatusCreated, leadDTO(lead))
}

func (h *Handler) RecomputeCommissions(w http.ResponseWriter, r *http.Request) {
	var req RecomputeRequest
	if r.Body != nil && r.Body != http.NoBody {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	// Default to the current month when the caller doesn't specify one.
	now := time.Now().UTC()
	month, year := int(now.Month()), now.Year()
	if req.Month != nil {
		month = *req.Month
	}
	if req.Year != nil {
		year = *req.Year
	}

	res, err := h.recomputer.Run(r.Context(), month, year)
	if err != nil {
		h.fail(w, "recompute", err)
		return
	}

	resp := RecomputeResponse{
		Period:                  res.Month.String(),
		PeriodStart:             res.Period.Start.Format(time.RFC3339),
		PeriodEnd:               res.Period.End.Format(time.RFC3339),
		LeadsFound:              res.LeadsFound,
		LeadsUpdated:            res.LeadsUpdated,
		DistinctCommissionTypes: res.DistinctCommissionTypes,
		Results:                 make([]LeadRecomputeResultDTO, 0, len(res.Results)),
	}
	for _, lr := range res.Results {
		dto := LeadRecomputeResultDTO{
			LeadID:             string(lr.LeadID),
			PreviousCommission: lr.PreviousCommission.String(),
			NewCommission:      lr.NewCommission.String(),
			AppliedRule:        ruleDTO(lr.AppliedRule),
		}
		if lr.BasePercentage != nil {
			s := lr.BasePercentage.String()
			dto.BasePercentage = &s
		}
		resp.Results = append(resp.Results, dto)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetBrokerTiers(w http.ResponseWriter, r *http.Request) {
	brokerID := commission.BrokerID(chi.URLParam(r, "id"))
	typeID := commission.CommissionTypeID(r.URL.Query().Get("commission_type_id"))

	target := time.Now().UTC()
	if d := r.URL.Query().Get("date"); d != "" {
		t, err := parseFlexibleTime(d)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date (use YYYY-MM-DD)", err)
			return
		}
		target = t
	}
	m := commission.MonthOf(target)

	key := commission.TierCacheKey(brokerID, m, typeID)
	if cached, ok := h.tierCache.Get(key); ok {
		writeJSON(w, http.StatusOK, tierLookupResponse(brokerID, m, cached, true))
		return
	}

	tiers, err := h.tiers.ResolveTiers(r.Context(), brokerID, m, typeID)
	if err != nil {
		h.fail(w, "resolve tiers", err)
		return
	}
	h.tierCache.Set(key, tiers)

	writeJSON(w, http.StatusOK, tierLookupResponse(brokerID, m, tiers, false))
}

func tierLookupResponse(brokerID commission.BrokerID, m commission.Month, tiers tierData, cached bool) TierLookupResponse {
	resp := TierLookupResponse{
		BrokerID: string(brokerID),
		Month:    m.String(),
		Tiers:    make(map[string]TierSnapshotDTO, len(tiers)),
		Cached:   cached,
	}
	for id, snap := range tiers {
		resp.Tiers[string(id)] = TierSnapshotDTO{
			CommissionTypeID:   string(snap.CommissionType.ID),
			CommissionTypeName: snap.CommissionType.Name,
			CommissionTypeCode: snap.CommissionType.Code,
			BasePercentage:     snap.CommissionType.Percentage.String(),
			TotalLeads:         snap.TotalLeads,
			CurrentRule:        ruleDTO(snap.Current),
			NextRule:           ruleDTO(snap.Next),
			UntilNextLevel:     snap.UntilNext,
		}
	}
	return resp
}

// =============================================================================
// SETTLEMENT
// =============================================================================

func (h *Handler) ProcessSettlementFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxSettlementFileSize); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart form", err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Settlement file is required", err)
		return
	}
	defer file.Close()

	month, err1 := atoiField(r.FormValue("month"))
	year, err2 := atoiField(r.FormValue("year"))
	if err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, "Month and year are required", nil)
		return
	}
	m, err := commission.NewMonth(month, year)
	if err != nil {
		h.fail(w, "process settlement file", err)
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, maxSettlementFileSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read settlement file", err)
		return
	}

	res, err := h.ingestor.Ingest(r.Context(), header.Filename, data, m)
	if err != nil {
		h.fail(w, "process settlement file", err)
		return
	}

	resp := ProcessFileResponse{
		Matches:        make([]MatchDTO, 0, len(res.Matches)),
		UnmatchedRows:  make([]SettlementRowDTO, 0, len(res.UnmatchedRows)),
		UnmatchedLeads: make([]LeadDTO, 0, len(res.UnmatchedLeads)),
		Stats: IngestStatsDTO{
			TotalRows:        res.Stats.TotalRows,
			TotalLeads:       res.Stats.TotalLeads,
			AutomaticMatches: res.Stats.AutomaticMatches,
			UnmatchedRows:    res.Stats.UnmatchedRows,
			UnmatchedLeads:   res.Stats.UnmatchedLeads,
		},
	}
	for _, match := range res.Matches {
		resp.Matches = append(resp.Matches, matchDTO(match))
	}
	for _, row := range res.UnmatchedRows {
		resp.UnmatchedRows = append(resp.UnmatchedRows, settlementRowDTO(row))
	}
	for _, lead := range res.UnmatchedLeads {
		resp.UnmatchedLeads = append(resp.UnmatchedLeads, leadDTO(lead))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ConfirmMatches(w http.ResponseWriter, r *http.Request) {
	var req ConfirmMatchesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	matches := make([]settlement.ConfirmedMatch, 0, len(req.Matches))
	for _, m := range req.Matches {
		matches = append(matches, settlement.ConfirmedMatch{
			LeadID:     commission.LeadID(m.LeadID),
			Type:       settlement.MatchType(m.Type),
			Confidence: m.Confidence,
		})
	}

	res, err := h.committer.Confirm(r.Context(), matches)
	if err != nil {
		h.fail(w, "confirm matches", err)
		return
	}

	resp := ConfirmMatchesResponse{
		ReconciledCount: res.ReconciledCount,
		Leads:           make([]ReconciledLeadDTO, 0, len(res.Leads)),
		Stats: ConfirmStatsDTO{
			Automatic:        res.Stats.Automatic,
			Manual:           res.Stats.Manual,
			TotalCommissions: res.Stats.TotalCommissions.String(),
			TotalAmounts:     res.Stats.TotalAmounts.String(),
		},
	}
	for _, lead := range res.Leads {
		resp.Leads = append(resp.Leads, ReconciledLeadDTO{
			LeadID:       string(lead.LeadID),
			Client:       lead.Client,
			Broker:       lead.Broker,
			Building:     lead.Building,
			Unit:         lead.Unit,
			Amount:       lead.Amount.String(),
			Commission:   lead.Commission.String(),
			MatchType:    string(lead.MatchType),
			Confidence:   lead.Confidence,
			ReconciledAt: lead.ReconciledAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

// fail maps a domain error onto the right HTTP status. Internal errors are
// logged with context and reported generically.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	var missingCols *settlement.MissingColumnsError
	switch {
	case commission.IsClientError(err),
		errors.Is(err, settlement.ErrNoMatches),
		errors.Is(err, settlement.ErrInvalidMatchType),
		errors.Is(err, settlement.ErrUnreadableFile),
		errors.As(err, &missingCols):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	case commission.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	default:
		h.Log.Error("internal error", zap.String("op", op), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error", nil)
	}
}

func parseFlexibleTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func atoiField(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	body := map[string]string{"error": message}
	if err != nil {
		body["detail"] = err.Error()
	}
	writeJSON(w, status, body)
}
