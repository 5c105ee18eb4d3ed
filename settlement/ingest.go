/*
ingest.go - Settlement ingestion pipeline

Wires parser and matcher together for one uploaded file: normalize the
rows, load the period's unreconciled leads, run the automatic matching
pass, and hand everything unmatched to the manual-review flow upstream.
*/
package settlement

import (
	"context"

	"go.uber.org/zap"

	"github.com/warp/commission-engine/commission"
)

// Ingestor processes one settlement upload end to end (up to, but not
// including, confirmation).
type Ingestor struct {
	Store   commission.LeadStore
	Parser  *Parser
	Matcher *Matcher
	Log     *zap.Logger
}

func NewIngestor(store commission.LeadStore, log *zap.Logger) *Ingestor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ingestor{
		Store:   store,
		Parser:  NewParser(),
		Matcher: NewMatcher(),
		Log:     log,
	}
}

// IngestStats summarizes one ingestion run.
type IngestStats struct {
	TotalRows        int
	TotalLeads       int
	AutomaticMatches int
	UnmatchedRows    int
	UnmatchedLeads   int
}

// IngestResult carries the automatic matches plus both unmatched sides
// for manual review.
type IngestResult struct {
	Matches        []Match
	UnmatchedRows  []Row
	UnmatchedLeads []commission.Lead
	Stats          IngestStats
}

// Ingest parses the file and matches its rows against the month's
// unreconciled, non-rejected leads.
func (ing *Ingestor) Ingest(ctx context.Context, filename string, data []byte, m commission.Month) (*IngestResult, error) {
	rows, err := ing.Parser.Parse(filename, data)
	if err != nil {
		return nil, err
	}

	period := m.Period()
	leads, err := ing.Store.ListLeads(ctx, commission.LeadFilter{
		Period:          &period,
		ExcludeRejected: true,
		Unreconciled:    true,
	})
	if err != nil {
		return nil, err
	}

	matched := ing.Matcher.Match(rows, leads)
	res := &IngestResult{
		Matches:        matched.Matches,
		UnmatchedRows:  matched.UnmatchedRows,
		UnmatchedLeads: matched.UnmatchedLeads,
		Stats: IngestStats{
			TotalRows:        len(rows),
			TotalLeads:       len(leads),
			AutomaticMatches: len(matched.Matches),
			UnmatchedRows:    len(matched.UnmatchedRows),
			UnmatchedLeads:   len(matched.UnmatchedLeads),
		},
	}

	ing.Log.Info("settlement file ingested",
		zap.String("file", filename),
		zap.String("period", m.String()),
		zap.Int("rows", res.Stats.TotalRows),
		zap.Int("leads", res.Stats.TotalLeads),
		zap.Int("automatic_matches", res.Stats.AutomaticMatches))
	return res, nil
}
