// Package store provides in-memory implementations of the commission
// storage interfaces, used by tests and local development.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/commission-engine/commission"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	types   map[commission.CommissionTypeID]commission.CommissionType
	rules   []commission.Rule
	leads   map[commission.LeadID]commission.Lead
	changes map[commission.ChangeID]commission.ScheduledChange

	buildingCommissions map[commission.BuildingID]commission.CommissionTypeID
	unitTypeCommissions map[commission.UnitTypeID]commission.CommissionTypeID
}

func NewMemory() *Memory {
	return &Memory{
		types:               make(map[commission.CommissionTypeID]commission.CommissionType),
		leads:               make(map[commission.LeadID]commission.Lead),
		changes:             make(map[commission.ChangeID]commission.ScheduledChange),
		buildingCommissions: make(map[commission.BuildingID]commission.CommissionTypeID),
		unitTypeCommissions: make(map[commission.UnitTypeID]commission.CommissionTypeID),
	}
}

// =============================================================================
// RULE STORE
// =============================================================================

func (m *Memory) ListCommissionTypes(_ context.Context) ([]commission.CommissionType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]commission.CommissionType, 0, len(m.types))
	for _, ct := range m.types {
		out = append(out, ct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *Memory) GetCommissionType(_ context.Context, id commission.CommissionTypeID) (*commission.CommissionType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ct, ok := m.types[id]
	if !ok {
		return nil, commission.ErrCommissionTypeNotFound
	}
	return &ct, nil
}

func (m *Memory) CreateCommissionType(_ context.Context, ct commission.CommissionType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.types[ct.ID]; ok {
		return fmt.Errorf("commission type %s already exists", ct.ID)
	}
	m.types[ct.ID] = ct
	return nil
}

func (m *Memory) ListRules(_ context.Context, typeID commission.CommissionTypeID) ([]commission.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []commission.Rule
	for _, r := range m.rules {
		if typeID == "" || r.CommissionTypeID == typeID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MinCount < out[j].MinCount })
	return out, nil
}

func (m *Memory) CreateRule(_ context.Context, r commission.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.rules {
		if existing.ID == r.ID {
			return fmt.Errorf("rule %s already exists", r.ID)
		}
	}
	m.rules = append(m.rules, r)
	return nil
}

// =============================================================================
// LEAD STORE
// =============================================================================

func (m *Memory) ListLeads(_ context.Context, f commission.LeadFilter) ([]commission.Lead, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []commission.Lead
	for _, l := range m.leads {
		if matchesFilter(l, f) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func matchesFilter(l commission.Lead, f commission.LeadFilter) bool {
	if f.Period != nil && !f.Period.Contains(l.ReservationPaidAt) {
		return false
	}
	if f.BrokerID != "" && l.BrokerID != f.BrokerID {
		return false
	}
	if f.RequireCommissionType && l.CommissionTypeID == nil {
		return false
	}
	if f.ExcludeRejected && !l.State.Countable() {
		return false
	}
	if f.Unreconciled && l.Reconciled {
		return false
	}
	return true
}

func (m *Memory) GetLead(_ context.Context, id commission.LeadID) (*commission.Lead, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.leads[id]
	if !ok {
		return nil, commission.ErrLeadNotFound
	}
	return &l, nil
}

func (m *Memory) CreateLead(_ context.Context, l commission.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLeadLocked(l)
}

func (m *Memory) createLeadLocked(l commission.Lead) error {
	if _, ok := m.leads[l.ID]; ok {
		return fmt.Errorf("lead %s already exists", l.ID)
	}
	m.leads[l.ID] = l
	return nil
}

func (m *Memory) CountLeadsByCommissionType(_ context.Context, brokerID commission.BrokerID, p commission.Period) (map[commission.CommissionTypeID]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[commission.CommissionTypeID]int)
	for _, l := range m.leads {
		if l.BrokerID != brokerID || l.CommissionTypeID == nil {
			continue
		}
		if !l.State.Countable() || !p.Contains(l.ReservationPaidAt) {
			continue
		}
		counts[*l.CommissionTypeID]++
	}
	return counts, nil
}

func (m *Memory) UpdateLeadCommission(_ context.Context, id commission.LeadID, amount decimal.Decimal, ruleID *commission.RuleID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLeadCommissionLocked(id, amount, ruleID)
}

func (m *Memory) updateLeadCommissionLocked(id commission.LeadID, amount decimal.Decimal, ruleID *commission.RuleID) error {
	l, ok := m.leads[id]
	if !ok {
		return commission.ErrLeadNotFound
	}
	l.Commission = amount
	l.AppliedRuleID = ruleID
	m.leads[id] = l
	return nil
}

func (m *Memory) MarkReconciled(_ context.Context, id commission.LeadID, at time.Time) (*commission.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markReconciledLocked(id, at)
}

func (m *Memory) markReconciledLocked(id commission.LeadID, at time.Time) (*commission.Lead, error) {
	l, ok := m.leads[id]
	if !ok {
		return nil, commission.ErrLeadNotFound
	}
	if l.Reconciled {
		return nil, commission.ErrLeadAlreadyReconciled
	}
	l.Reconciled = true
	l.ReconciledAt = &at
	m.leads[id] = l
	return &l, nil
}

// =============================================================================
// TRANSACTIONAL LEAD STORE
// =============================================================================

// WithTx simulates a transaction with a snapshot of the lead map, restored
// if fn returns an error.
func (m *Memory) WithTx(_ context.Context, fn func(commission.LeadStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make(map[commission.LeadID]commission.Lead, len(m.leads))
	for k, v := range m.leads {
		snapshot[k] = v
	}

	if err := fn(&txMemoryView{parent: m}); err != nil {
		m.leads = snapshot
		return err
	}
	return nil
}

// txMemoryView routes lead operations to the parent without re-locking;
// the parent's mutex is held for the whole transaction.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) ListLeads(_ context.Context, f commission.LeadFilter) ([]commission.Lead, error) {
	var out []commission.Lead
	for _, l := range tv.parent.leads {
		if matchesFilter(l, f) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (tv *txMemoryView) GetLead(_ context.Context, id commission.LeadID) (*commission.Lead, error) {
	l, ok := tv.parent.leads[id]
	if !ok {
		return nil, commission.ErrLeadNotFound
	}
	return &l, nil
}

func (tv *txMemoryView) CreateLead(_ context.Context, l commission.Lead) error {
	return tv.parent.createLeadLocked(l)
}

func (tv *txMemoryView) CountLeadsByCommissionType(ctx context.Context, brokerID commission.BrokerID, p commission.Period) (map[commission.CommissionTypeID]int, error) {
	counts := make(map[commission.CommissionTypeID]int)
	for _, l := range tv.parent.leads {
		if l.BrokerID != brokerID || l.CommissionTypeID == nil {
			continue
		}
		if !l.State.Countable() || !p.Contains(l.ReservationPaidAt) {
			continue
		}
		counts[*l.CommissionTypeID]++
	}
	return counts, nil
}

func (tv *txMemoryView) UpdateLeadCommission(_ context.Context, id commission.LeadID, amount decimal.Decimal, ruleID *commission.RuleID) error {
	return tv.parent.updateLeadCommissionLocked(id, amount, ruleID)
}

func (tv *txMemoryView) MarkReconciled(_ context.Context, id commission.LeadID, at time.Time) (*commission.Lead, error) {
	return tv.parent.markReconciledLocked(id, at)
}

// =============================================================================
// CHANGE STORE
// =============================================================================

func (m *Memory) DueChanges(_ context.Context, now time.Time) ([]commission.ScheduledChange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []commission.ScheduledChange
	for _, c := range m.changes {
		if !c.Executed && !c.EffectiveAt.After(now) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EffectiveAt.Before(out[j].EffectiveAt) })
	return out, nil
}

func (m *Memory) ClaimChange(_ context.Context, id commission.ChangeID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.changes[id]
	if !ok || c.Executed {
		return false, nil
	}
	c.Executed = true
	m.changes[id] = c
	return true, nil
}

func (m *Memory) CreateChange(_ context.Context, c commission.ScheduledChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.changes[c.ID]; ok {
		return fmt.Errorf("scheduled change %s already exists", c.ID)
	}
	m.changes[c.ID] = c
	return nil
}

func (m *Memory) AssignBuildingCommission(_ context.Context, buildingID commission.BuildingID, typeID commission.CommissionTypeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.types[typeID]; !ok {
		return commission.ErrCommissionTypeNotFound
	}
	m.buildingCommissions[buildingID] = typeID
	return nil
}

func (m *Memory) AssignUnitTypeCommission(_ context.Context, unitTypeID commission.UnitTypeID, typeID commission.CommissionTypeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.types[typeID]; !ok {
		return commission.ErrCommissionTypeNotFound
	}
	m.unitTypeCommissions[unitTypeID] = typeID
	return nil
}

// BuildingCommission reports the commission type currently assigned to a
// building, for test assertions.
func (m *Memory) BuildingCommission(buildingID commission.BuildingID) (commission.CommissionTypeID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.buildingCommissions[buildingID]
	return id, ok
}

// UnitTypeCommission reports the commission type currently assigned to a
// building unit type, for test assertions.
func (m *Memory) UnitTypeCommission(unitTypeID commission.UnitTypeID) (commission.CommissionTypeID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.unitTypeCommissions[unitTypeID]
	return id, ok
}
