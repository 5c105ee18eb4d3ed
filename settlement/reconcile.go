/*
reconcile.go - Settlement commit

PURPOSE:
  Takes a confirmed set of matches (automatic plus any a reviewer
  confirmed manually) and marks the corresponding leads settled. The
  whole confirmation is one transaction: if any referenced lead no longer
  exists, nothing is committed and the caller gets a not-found error.

OUTPUT:
  Per-lead summary rows (client, broker, building, unit, amount,
  commission, match type, confidence) plus aggregate totals for the audit
  display.
*/
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/commission-engine/commission"
)

// ErrNoMatches is returned when a confirmation request carries no matches.
var ErrNoMatches = errors.New("no matches to reconcile")

// ErrInvalidMatchType is returned when a confirmed match carries an
// unknown match type.
var ErrInvalidMatchType = errors.New("invalid match type")

// ConfirmedMatch is one reviewer-approved pairing to commit.
type ConfirmedMatch struct {
	LeadID     commission.LeadID
	Type       MatchType
	Confidence float64
}

// ReconciledLead is the per-lead audit row returned after commit.
type ReconciledLead struct {
	LeadID       commission.LeadID
	Client       string
	Broker       string
	Building     string
	Unit         string
	Amount       decimal.Decimal
	Commission   decimal.Decimal
	MatchType    MatchType
	Confidence   float64
	ReconciledAt time.Time
}

// ConfirmStats aggregates a confirmation for the audit display.
type ConfirmStats struct {
	Automatic        int
	Manual           int
	TotalCommissions decimal.Decimal
	TotalAmounts     decimal.Decimal
}

// ConfirmResult is the outcome of a successful confirmation.
type ConfirmResult struct {
	ReconciledCount int
	Leads           []ReconciledLead
	Stats           ConfirmStats
}

// Committer applies confirmed matches atomically.
type Committer struct {
	Store commission.TxLeadStore
	Log   *zap.Logger

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

func NewCommitter(store commission.TxLeadStore, log *zap.Logger) *Committer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Committer{Store: store, Log: log, Now: time.Now}
}

// Confirm marks every matched lead reconciled within a single transaction.
// Empty input is a validation error; a vanished lead aborts the whole
// confirmation with commission.ErrLeadNotFound and no partial state, and
// an already-settled lead aborts it with commission.ErrLeadAlreadyReconciled.
func (c *Committer) Confirm(ctx context.Context, matches []ConfirmedMatch) (*ConfirmResult, error) {
	if len(matches) == 0 {
		return nil, ErrNoMatches
	}
	for _, m := range matches {
		if !m.Type.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidMatchType, m.Type)
		}
	}

	now := c.Now()
	result := &ConfirmResult{
		Stats: ConfirmStats{
			TotalCommissions: decimal.Zero,
			TotalAmounts:     decimal.Zero,
		},
	}

	err := c.Store.WithTx(ctx, func(s commission.LeadStore) error {
		for _, m := range matches {
			lead, err := s.MarkReconciled(ctx, m.LeadID, now)
			if err != nil {
				return fmt.Errorf("lead %s: %w", m.LeadID, err)
			}

			result.Leads = append(result.Leads, ReconciledLead{
				LeadID:       lead.ID,
				Client:       lead.ClientName,
				Broker:       lead.BrokerName,
				Building:     lead.BuildingName,
				Unit:         lead.UnitCode,
				Amount:       lead.TotalAmount,
				Commission:   lead.Commission,
				MatchType:    m.Type,
				Confidence:   m.Confidence,
				ReconciledAt: now,
			})

			if m.Type == MatchAutomatic {
				result.Stats.Automatic++
			} else {
				result.Stats.Manual++
			}
			result.Stats.TotalCommissions = result.Stats.TotalCommissions.Add(lead.Commission)
			result.Stats.TotalAmounts = result.Stats.TotalAmounts.Add(lead.TotalAmount)
		}
		return nil
	})
	if err != nil {
		c.Log.Error("settlement confirmation rolled back",
			zap.Int("matches", len(matches)),
			zap.Error(err))
		return nil, err
	}

	result.ReconciledCount = len(result.Leads)
	c.Log.Info("settlement confirmed",
		zap.Int("reconciled", result.ReconciledCount),
		zap.Int("automatic", result.Stats.Automatic),
		zap.Int("manual", result.Stats.Manual))
	return result, nil
}
