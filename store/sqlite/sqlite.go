/*
Package sqlite provides the SQLite-backed implementation of the commission
storage interfaces.

PURPOSE:
  Implements commission.RuleStore, commission.TxLeadStore and
  commission.ChangeStore on database/sql. The same SQL applies to
  PostgreSQL with minor dialect changes.

KEY TABLES:
  commission_types:    Named commissions with base percentages
  commission_rules:    Volume brackets per commission type
  leads:               Commissionable activity with settlement flags
  scheduled_changes:   Future-dated commission reassignments
  buildings:           Commission assignment targets
  building_unit_types: Per-unit-type commission assignment targets

CONCURRENCY:
  SQLite is opened in WAL mode with foreign keys on. The scheduled-change
  claim is a single conditional UPDATE gated on executed=0, so overlapping
  executor runs cannot both claim the same change. The settlement commit
  runs inside one database transaction via WithTx.

MONEY:
  Amounts and percentages are stored as decimal strings, never floats.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/commission-engine/commission"
)

// Store implements all commission storage interfaces using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS commission_types (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		code TEXT NOT NULL UNIQUE,
		percentage TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS commission_rules (
		id TEXT PRIMARY KEY,
		commission_type_id TEXT NOT NULL REFERENCES commission_types(id),
		min_count INTEGER NOT NULL,
		max_count INTEGER,
		percentage TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Ordered bracket scans per commission type (hot path for the resolver)
	CREATE INDEX IF NOT EXISTS idx_rules_type_min
		ON commission_rules(commission_type_id, min_count);

	CREATE TABLE IF NOT EXISTS buildings (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		commission_type_id TEXT REFERENCES commission_types(id)
	);

	CREATE TABLE IF NOT EXISTS building_unit_types (
		id TEXT PRIMARY KEY,
		building_id TEXT NOT NULL REFERENCES buildings(id),
		name TEXT NOT NULL,
		commission_type_id TEXT REFERENCES commission_types(id)
	);

	CREATE TABLE IF NOT EXISTS leads (
		id TEXT PRIMARY KEY,
		broker_id TEXT NOT NULL,
		broker_name TEXT NOT NULL DEFAULT '',
		client_name TEXT NOT NULL DEFAULT '',
		building_id TEXT NOT NULL DEFAULT '',
		building_name TEXT NOT NULL DEFAULT '',
		unit_code TEXT NOT NULL DEFAULT '',
		total_amount TEXT NOT NULL,
		commission_type_id TEXT REFERENCES commission_types(id),
		applied_rule_id TEXT REFERENCES commission_rules(id),
		commission TEXT NOT NULL DEFAULT '0',
		reservation_paid_at TEXT NOT NULL,
		state TEXT NOT NULL,
		reconciled INTEGER NOT NULL DEFAULT 0,
		reconciled_at TEXT,
		created_at TEXT NOT NULL
	);

	-- Monthly bucketing by reservation payment date (hot path)
	CREATE INDEX IF NOT EXISTS idx_leads_reservation_paid_at
		ON leads(reservation_paid_at);
	-- Per-broker tier counting
	CREATE INDEX IF NOT EXISTS idx_leads_broker_type
		ON leads(broker_id, commission_type_id);
	-- Settlement pool queries
	CREATE INDEX IF NOT EXISTS idx_leads_reconciled
		ON leads(reconciled) WHERE reconciled = 0;

	CREATE TABLE IF NOT EXISTS scheduled_changes (
		id TEXT PRIMARY KEY,
		commission_type_id TEXT NOT NULL REFERENCES commission_types(id),
		building_id TEXT REFERENCES buildings(id),
		building_unit_type_id TEXT REFERENCES building_unit_types(id),
		effective_at TEXT NOT NULL,
		executed INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	-- Due-change selection
	CREATE INDEX IF NOT EXISTS idx_changes_due
		ON scheduled_changes(executed, effective_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// RULE STORE
// =============================================================================

func (s *Store) ListCommissionTypes(ctx context.Context) ([]commission.CommissionType, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, code, percentage, active, created_at
		FROM commission_types ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []commission.CommissionType
	for rows.Next() {
		ct, err := scanCommissionType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ct)
	}
	return out, rows.Err()
}

func (s *Store) GetCommissionType(ctx context.Context, id commission.CommissionTypeID) (*commission.CommissionType, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, code, percentage, active, created_at
		FROM commission_types WHERE id = ?`, string(id))

	ct, err := scanCommissionType(row)
	if err == sql.ErrNoRows {
		return nil, commission.ErrCommissionTypeNotFound
	}
	return ct, err
}

func (s *Store) CreateCommissionType(ctx context.Context, ct commission.CommissionType) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO commission_types (id, name, code, percentage, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(ct.ID), ct.Name, ct.Code, ct.Percentage.String(),
		boolToInt(ct.Active), formatTime(ct.CreatedAt))
	return err
}

func (s *Store) ListRules(ctx context.Context, typeID commission.CommissionTypeID) ([]commission.Rule, error) {
	query := `
		SELECT id, commission_type_id, min_count, max_count, percentage, created_at
		FROM commission_rules`
	args := []any{}
	if typeID != "" {
		query += ` WHERE commission_type_id = ?`
		args = append(args, string(typeID))
	}
	query += ` ORDER BY min_count ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []commission.Rule
	for rows.Next() {
		var r commission.Rule
		var maxCount sql.NullInt64
		var pct, createdAt string
		if err := rows.Scan(&r.ID, &r.CommissionTypeID, &r.MinCount, &maxCount, &pct, &createdAt); err != nil {
			return nil, err
		}
		if maxCount.Valid {
			m := int(maxCount.Int64)
			r.MaxCount = &m
		}
		var err error
		if r.Percentage, err = decimal.NewFromString(pct); err != nil {
			return nil, err
		}
		r.CreatedAt = parseTime(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) CreateRule(ctx context.Context, r commission.Rule) error {
	var maxCount any
	if r.MaxCount != nil {
		maxCount = *r.MaxCount
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO commission_rules (id, commission_type_id, min_count, max_count, percentage, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(r.ID), string(r.CommissionTypeID), r.MinCount, maxCount,
		r.Percentage.String(), formatTime(r.CreatedAt))
	return err
}

// =============================================================================
// LEAD STORE
// =============================================================================

func (s *Store) ListLeads(ctx context.Context, f commission.LeadFilter) ([]commission.Lead, error) {
	return listLeads(ctx, s.db, f)
}

func (s *Store) GetLead(ctx context.Context, id commission.LeadID) (*commission.Lead, error) {
	return getLead(ctx, s.db, id)
}

func (s *Store) CreateLead(ctx context.Context, l commission.Lead) error {
	return createLead(ctx, s.db, l)
}

func (s *Store) CountLeadsByCommissionType(ctx context.Context, brokerID commission.BrokerID, p commission.Period) (map[commission.CommissionTypeID]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT commission_type_id, COUNT(*)
		FROM leads
		WHERE broker_id = ?
		  AND commission_type_id IS NOT NULL
		  AND state != ?
		  AND reservation_paid_at >= ? AND reservation_paid_at <= ?
		GROUP BY commission_type_id`,
		string(brokerID), string(commission.LeadStateRejected),
		formatTime(p.Start), formatTime(p.End))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[commission.CommissionTypeID]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[commission.CommissionTypeID(id)] = n
	}
	return counts, rows.Err()
}

func (s *Store) UpdateLeadCommission(ctx context.Context, id commission.LeadID, amount decimal.Decimal, ruleID *commission.RuleID) error {
	return updateLeadCommission(ctx, s.db, id, amount, ruleID)
}

func (s *Store) MarkReconciled(ctx context.Context, id commission.LeadID, at time.Time) (*commission.Lead, error) {
	return markReconciled(ctx, s.db, id, at)
}

// WithTx executes fn within a database transaction. fn returning an error
// rolls everything back.
func (s *Store) WithTx(ctx context.Context, fn func(commission.LeadStore) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(&txLeadStore{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// txLeadStore routes lead operations through an open transaction.
type txLeadStore struct {
	tx *sql.Tx
}

func (t *txLeadStore) ListLeads(ctx context.Context, f commission.LeadFilter) ([]commission.Lead, error) {
	return listLeads(ctx, t.tx, f)
}

func (t *txLeadStore) GetLead(ctx context.Context, id commission.LeadID) (*commission.Lead, error) {
	return getLead(ctx, t.tx, id)
}

func (t *txLeadStore) CreateLead(ctx context.Context, l commission.Lead) error {
	return createLead(ctx, t.tx, l)
}

func (t *txLeadStore) CountLeadsByCommissionType(ctx context.Context, brokerID commission.BrokerID, p commission.Period) (map[commission.CommissionTypeID]int, error) {
	return countLeadsByCommissionType(ctx, t.tx, brokerID, p)
}

func (t *txLeadStore) UpdateLeadCommission(ctx context.Context, id commission.LeadID, amount decimal.Decimal, ruleID *commission.RuleID) error {
	return updateLeadCommission(ctx, t.tx, id, amount, ruleID)
}

func (t *txLeadStore) MarkReconciled(ctx context.Context, id commission.LeadID, at time.Time) (*commission.Lead, error) {
	return markReconciled(ctx, t.tx, id, at)
}

// queryer abstracts *sql.DB and *sql.Tx for the shared lead queries.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const leadColumns = `id, broker_id, broker_name, client_name, building_id, building_name,
	unit_code, total_amount, commission_type_id, applied_rule_id, commission,
	reservation_paid_at, state, reconciled, reconciled_at, created_at`

func listLeads(ctx context.Context, q queryer, f commission.LeadFilter) ([]commission.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE 1=1`
	var args []any

	if f.Period != nil {
		query += ` AND reservation_paid_at >= ? AND reservation_paid_at <= ?`
		args = append(args, formatTime(f.Period.Start), formatTime(f.Period.End))
	}
	if f.BrokerID != "" {
		query += ` AND broker_id = ?`
		args = append(args, string(f.BrokerID))
	}
	if f.RequireCommissionType {
		query += ` AND commission_type_id IS NOT NULL`
	}
	if f.ExcludeRejected {
		query += ` AND state != ?`
		args = append(args, string(commission.LeadStateRejected))
	}
	if f.Unreconciled {
		query += ` AND reconciled = 0`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []commission.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func getLead(ctx context.Context, q queryer, id commission.LeadID) (*commission.Lead, error) {
	row := q.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = ?`, string(id))
	l, err := scanLead(row)
	if err == sql.ErrNoRows {
		return nil, commission.ErrLeadNotFound
	}
	return l, err
}

func createLead(ctx context.Context, q queryer, l commission.Lead) error {
	var typeID, ruleID, reconciledAt any
	if l.CommissionTypeID != nil {
		typeID = string(*l.CommissionTypeID)
	}
	if l.AppliedRuleID != nil {
		ruleID = string(*l.AppliedRuleID)
	}
	if l.ReconciledAt != nil {
		reconciledAt = formatTime(*l.ReconciledAt)
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO leads (`+leadColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(l.ID), string(l.BrokerID), l.BrokerName, l.ClientName,
		string(l.BuildingID), l.BuildingName, l.UnitCode,
		l.TotalAmount.String(), typeID, ruleID, l.Commission.String(),
		formatTime(l.ReservationPaidAt), string(l.State),
		boolToInt(l.Reconciled), reconciledAt, formatTime(l.CreatedAt))
	return err
}

func countLeadsByCommissionType(ctx context.Context, q queryer, brokerID commission.BrokerID, p commission.Period) (map[commission.CommissionTypeID]int, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT commission_type_id, COUNT(*)
		FROM leads
		WHERE broker_id = ?
		  AND commission_type_id IS NOT NULL
		  AND state != ?
		  AND reservation_paid_at >= ? AND reservation_paid_at <= ?
		GROUP BY commission_type_id`,
		string(brokerID), string(commission.LeadStateRejected),
		formatTime(p.Start), formatTime(p.End))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[commission.CommissionTypeID]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[commission.CommissionTypeID(id)] = n
	}
	return counts, rows.Err()
}

func updateLeadCommission(ctx context.Context, q queryer, id commission.LeadID, amount decimal.Decimal, ruleID *commission.RuleID) error {
	var rule any
	if ruleID != nil {
		rule = string(*ruleID)
	}
	res, err := q.ExecContext(ctx, `
		UPDATE leads SET commission = ?, applied_rule_id = ? WHERE id = ?`,
		amount.String(), rule, string(id))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return commission.ErrLeadNotFound
	}
	return nil
}

func markReconciled(ctx context.Context, q queryer, id commission.LeadID, at time.Time) (*commission.Lead, error) {
	// The reconciled = 0 guard makes the reconciliation date write-once:
	// re-confirming a settled lead is a conflict, not a silent rewrite.
	res, err := q.ExecContext(ctx, `
		UPDATE leads SET reconciled = 1, reconciled_at = ? WHERE id = ? AND reconciled = 0`,
		formatTime(at), string(id))
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if _, err := getLead(ctx, q, id); err != nil {
			return nil, err
		}
		return nil, commission.ErrLeadAlreadyReconciled
	}
	return getLead(ctx, q, id)
}

// =============================================================================
// CHANGE STORE
// =============================================================================

func (s *Store) DueChanges(ctx context.Context, now time.Time) ([]commission.ScheduledChange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, commission_type_id, building_id, building_unit_type_id, effective_at, executed, created_at
		FROM scheduled_changes
		WHERE executed = 0 AND effective_at <= ?
		ORDER BY effective_at ASC`, formatTime(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []commission.ScheduledChange
	for rows.Next() {
		var c commission.ScheduledChange
		var buildingID, unitTypeID sql.NullString
		var effectiveAt, createdAt string
		var executed int
		if err := rows.Scan(&c.ID, &c.CommissionTypeID, &buildingID, &unitTypeID, &effectiveAt, &executed, &createdAt); err != nil {
			return nil, err
		}
		if buildingID.Valid {
			b := commission.BuildingID(buildingID.String)
			c.BuildingID = &b
		}
		if unitTypeID.Valid {
			u := commission.UnitTypeID(unitTypeID.String)
			c.BuildingUnitTypeID = &u
		}
		c.EffectiveAt = parseTime(effectiveAt)
		c.Executed = executed != 0
		c.CreatedAt = parseTime(createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// ClaimChange is the race-closing conditional update: only one caller can
// move a change from executed=0 to executed=1.
func (s *Store) ClaimChange(ctx context.Context, id commission.ChangeID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_changes SET executed = 1 WHERE id = ? AND executed = 0`,
		string(id))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) CreateChange(ctx context.Context, c commission.ScheduledChange) error {
	var buildingID, unitTypeID any
	if c.BuildingID != nil {
		buildingID = string(*c.BuildingID)
	}
	if c.BuildingUnitTypeID != nil {
		unitTypeID = string(*c.BuildingUnitTypeID)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_changes (id, commission_type_id, building_id, building_unit_type_id, effective_at, executed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(c.ID), string(c.CommissionTypeID), buildingID, unitTypeID,
		formatTime(c.EffectiveAt), boolToInt(c.Executed), formatTime(c.CreatedAt))
	return err
}

func (s *Store) AssignBuildingCommission(ctx context.Context, buildingID commission.BuildingID, typeID commission.CommissionTypeID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE buildings SET commission_type_id = ? WHERE id = ?`,
		string(typeID), string(buildingID))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("building %s not found", buildingID)
	}
	return nil
}

func (s *Store) AssignUnitTypeCommission(ctx context.Context, unitTypeID commission.UnitTypeID, typeID commission.CommissionTypeID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE building_unit_types SET commission_type_id = ? WHERE id = ?`,
		string(typeID), string(unitTypeID))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("building unit type %s not found", unitTypeID)
	}
	return nil
}

// CreateBuilding registers a commission assignment target. The wider CRUD
// application owns buildings; the engine only needs the row to exist.
func (s *Store) CreateBuilding(ctx context.Context, id commission.BuildingID, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO buildings (id, name) VALUES (?, ?)`, string(id), name)
	return err
}

// CreateBuildingUnitType registers a per-unit-type assignment target.
func (s *Store) CreateBuildingUnitType(ctx context.Context, id commission.UnitTypeID, buildingID commission.BuildingID, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO building_unit_types (id, building_id, name) VALUES (?, ?, ?)`,
		string(id), string(buildingID), name)
	return err
}

// =============================================================================
// SCAN HELPERS
// =============================================================================

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommissionType(row rowScanner) (*commission.CommissionType, error) {
	var ct commission.CommissionType
	var pct, createdAt string
	var active int
	if err := row.Scan(&ct.ID, &ct.Name, &ct.Code, &pct, &active, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if ct.Percentage, err = decimal.NewFromString(pct); err != nil {
		return nil, err
	}
	ct.Active = active != 0
	ct.CreatedAt = parseTime(createdAt)
	return &ct, nil
}

func scanLead(row rowScanner) (*commission.Lead, error) {
	var l commission.Lead
	var totalAmount, commissionAmt, reservationPaidAt, createdAt string
	var typeID, ruleID, reconciledAt sql.NullString
	var reconciled int

	err := row.Scan(&l.ID, &l.BrokerID, &l.BrokerName, &l.ClientName,
		&l.BuildingID, &l.BuildingName, &l.UnitCode,
		&totalAmount, &typeID, &ruleID, &commissionAmt,
		&reservationPaidAt, &l.State, &reconciled, &reconciledAt, &createdAt)
	if err != nil {
		return nil, err
	}

	if l.TotalAmount, err = decimal.NewFromString(totalAmount); err != nil {
		return nil, err
	}
	if l.Commission, err = decimal.NewFromString(commissionAmt); err != nil {
		return nil, err
	}
	if typeID.Valid {
		id := commission.CommissionTypeID(typeID.String)
		l.CommissionTypeID = &id
	}
	if ruleID.Valid {
		id := commission.RuleID(ruleID.String)
		l.AppliedRuleID = &id
	}
	if reconciledAt.Valid {
		t := parseTime(reconciledAt.String)
		l.ReconciledAt = &t
	}
	l.Reconciled = reconciled != 0
	l.ReservationPaidAt = parseTime(reservationPaidAt)
	l.CreatedAt = parseTime(createdAt)
	return &l, nil
}

// formatTime encodes timestamps as fixed-width RFC 3339 (whole seconds).
// Range predicates on these columns use string comparison, which is only
// sound when every stored value has the same width.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
