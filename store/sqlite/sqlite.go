/*
Package sqlite provides a SQLite-backed rent.Repository.

PURPOSE:
  Persists leases, billing periods, payments, invoices and the credit
  ledger in one database, so a payment's ledger entries and the period
  statuses they settle commit or roll back together.

INTERFACES IMPLEMENTED:
  rent.Repository: Records + WithTx
  generic.Store:   Credit ledger entries (via Entries())

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on ledger_entries
  - idempotency_key is UNIQUE: a replayed allocation fails at the database

KEY TABLES:
  leases:          One row per lease, optimistic version column
  payment_periods: Monthly periods, UNIQUE(lease_id, month), archived flag
  payments:        Payment events
  invoices:        Items and applied payments as JSON
  ledger_entries:  Immutable credits, remainders and reversals

MONEY:
  Stored as TEXT decimal strings, never REAL.

CONCURRENCY:
  SQLite has a single writer. The pool is limited to one connection, so
  every statement and transaction is serialized. Inside WithTx all reads
  and writes go through the same *sql.Tx.

WAL MODE:
  File databases are opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Better crash recovery

USAGE:
  repo, err := sqlite.New("./data/rent.db")
  if err != nil {
      log.Fatal(err)
  }
  defer repo.Close()

  svc := rent.NewService(repo, lock.NewMemory(), generic.SystemClock{})

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - rent/repository.go: Interface definitions
  - store/memory: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/rent-engine/generic"
	"github.com/warp/rent-engine/rent"
)

const timestampLayout = time.RFC3339Nano

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements rent.Repository using SQLite.
type Store struct {
	*conn
	db *sql.DB
}

// New opens (and migrates) the database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on"
	if dbPath != ":memory:" {
		dsn += "&_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{conn: &conn{q: db}, db: db}
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

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS leases (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		unit_id TEXT NOT NULL DEFAULT '',
		building_id TEXT NOT NULL DEFAULT '',
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		rent_amount TEXT NOT NULL,
		security_deposit TEXT,
		status TEXT NOT NULL,
		terms_json TEXT NOT NULL DEFAULT '{}',
		terminated_at TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_leases_tenant ON leases(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_leases_status ON leases(status);

	CREATE TABLE IF NOT EXISTS payment_periods (
		id TEXT PRIMARY KEY,
		lease_id TEXT NOT NULL REFERENCES leases(id),
		month TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		rent_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		paid_at TEXT,
		payment_id TEXT,
		archived INTEGER NOT NULL DEFAULT 0,
		UNIQUE(lease_id, month)
	);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		lease_id TEXT NOT NULL DEFAULT '',
		tenant_id TEXT NOT NULL DEFAULT '',
		building_id TEXT NOT NULL DEFAULT '',
		unit_id TEXT NOT NULL DEFAULT '',
		invoice_id TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		payment_type TEXT NOT NULL,
		status TEXT NOT NULL,
		payment_date TEXT NOT NULL,
		months_covered_json TEXT NOT NULL DEFAULT '[]',
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_lease ON payments(lease_id, payment_date);

	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		lease_id TEXT NOT NULL DEFAULT '',
		tenant_id TEXT NOT NULL DEFAULT '',
		building_id TEXT NOT NULL DEFAULT '',
		unit_id TEXT NOT NULL DEFAULT '',
		invoice_number TEXT NOT NULL UNIQUE,
		amount TEXT NOT NULL,
		due_date TEXT NOT NULL,
		status TEXT NOT NULL,
		items_json TEXT NOT NULL DEFAULT '[]',
		payments_json TEXT NOT NULL DEFAULT '[]',
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_invoices_status ON invoices(status, due_date);

	-- Append-only credit ledger
	CREATE TABLE IF NOT EXISTS ledger_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		account_id TEXT NOT NULL,
		target TEXT NOT NULL DEFAULT '',
		payment_id TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		effective_at TEXT NOT NULL,
		delta TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT UNIQUE,
		metadata_json TEXT,
		created_at TEXT NOT NULL
	);

	-- Hot path: credits of one lease or invoice in effective order
	CREATE INDEX IF NOT EXISTS idx_ledger_account_date
		ON ledger_entries(account_id, effective_at, seq);
	CREATE INDEX IF NOT EXISTS idx_ledger_payment
		ON ledger_entries(payment_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS (rent.Repository)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(rent.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx, inTx: true}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// conn implements rent.Store and generic.Store over a querier.
type conn struct {
	q    querier
	inTx bool
}

// Entries returns the ledger view sharing this connection or transaction.
func (c *conn) Entries() generic.Store { return &ledgerStore{c: c} }

// =============================================================================
// LEASES
// =============================================================================

const leaseColumns = `id, tenant_id, unit_id, building_id, start_date, end_date, rent_amount,
	security_deposit, status, terms_json, terminated_at, version, created_at, updated_at`

func (c *conn) CreateLease(ctx context.Context, l *rent.Lease) error {
	terms, err := json.Marshal(l.Terms)
	if err != nil {
		return fmt.Errorf("failed to encode lease terms: %w", err)
	}
	_, err = c.q.ExecContext(ctx, `INSERT INTO leases (`+leaseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.TenantID, l.UnitID, l.BuildingID,
		l.StartDate.String(), l.EndDate.String(), l.RentAmount.String(),
		nullMoney(l.SecurityDeposit), string(l.Status), string(terms), nullDate(l.TerminatedAt),
		l.Version, formatTime(l.CreatedAt), formatTime(l.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("lease %s: %w", l.ID, generic.ErrDuplicateIdempotencyKey)
		}
		return fmt.Errorf("failed to insert lease: %w", err)
	}
	return nil
}

func (c *conn) UpdateLease(ctx context.Context, l *rent.Lease) error {
	terms, err := json.Marshal(l.Terms)
	if err != nil {
		return fmt.Errorf("failed to encode lease terms: %w", err)
	}
	res, err := c.q.ExecContext(ctx, `UPDATE leases SET
			tenant_id = ?, unit_id = ?, building_id = ?, start_date = ?, end_date = ?,
			rent_amount = ?, security_deposit = ?, status = ?, terms_json = ?,
			terminated_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		l.TenantID, l.UnitID, l.BuildingID, l.StartDate.String(), l.EndDate.String(),
		l.RentAmount.String(), nullMoney(l.SecurityDeposit), string(l.Status), string(terms),
		nullDate(l.TerminatedAt), formatTime(l.UpdatedAt),
		l.ID, l.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := c.GetLease(ctx, l.ID); err != nil {
			return err
		}
		return fmt.Errorf("lease %s at version %d: %w", l.ID, l.Version, generic.ErrConcurrentModification)
	}
	l.Version++
	return nil
}

func (c *conn) GetLease(ctx context.Context, id string) (*rent.Lease, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT `+leaseColumns+` FROM leases WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query lease: %w", err)
	}
	leases, err := scanLeases(rows)
	if err != nil {
		return nil, err
	}
	if len(leases) == 0 {
		return nil, &generic.NotFoundError{Kind: "lease", ID: id}
	}
	return &leases[0], nil
}

func (c *conn) ListLeases(ctx context.Context, f rent.LeaseFilter) ([]rent.Lease, error) {
	query := `SELECT ` + leaseColumns + ` FROM leases WHERE 1=1`
	var args []any
	if f.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, f.TenantID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY created_at, id`

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query leases: %w", err)
	}
	return scanLeases(rows)
}

func scanLeases(rows *sql.Rows) ([]rent.Lease, error) {
	defer rows.Close()

	leases := []rent.Lease{}
	for rows.Next() {
		var (
			l                             rent.Lease
			start, end, rentAmount, terms string
			status, createdAt, updatedAt  string
			deposit, terminatedAt         sql.NullString
		)
		err := rows.Scan(&l.ID, &l.TenantID, &l.UnitID, &l.BuildingID, &start, &end, &rentAmount,
			&deposit, &status, &terms, &terminatedAt, &l.Version, &createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lease: %w", err)
		}

		var r rowDecoder
		l.StartDate = r.date(start)
		l.EndDate = r.date(end)
		l.RentAmount = r.money(rentAmount)
		l.SecurityDeposit = r.nullMoney(deposit)
		l.TerminatedAt = r.nullDate(terminatedAt)
		l.Status = rent.LeaseStatus(status)
		l.CreatedAt = r.time(createdAt)
		l.UpdatedAt = r.time(updatedAt)
		r.json(terms, &l.Terms)
		if r.err != nil {
			return nil, fmt.Errorf("failed to decode lease %s: %w", l.ID, r.err)
		}
		leases = append(leases, l)
	}
	return leases, rows.Err()
}

// =============================================================================
// PAYMENT PERIODS
// =============================================================================

func (c *conn) SavePeriods(ctx context.Context, periods []rent.PaymentPeriod) error {
	for _, p := range periods {
		_, err := c.q.ExecContext(ctx, `INSERT INTO payment_periods
				(id, lease_id, month, start_date, end_date, rent_amount, status, paid_at, payment_id, archived)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				start_date = excluded.start_date,
				end_date = excluded.end_date,
				rent_amount = excluded.rent_amount,
				status = excluded.status,
				paid_at = excluded.paid_at,
				payment_id = excluded.payment_id,
				archived = excluded.archived`,
			p.ID, p.LeaseID, p.Month.String(), p.Start.String(), p.End.String(),
			p.RentAmount.String(), string(p.Status), nullDate(p.PaidAt), nullString(p.PaymentID), p.Archived,
		)
		if err != nil {
			return fmt.Errorf("failed to save period %s: %w", p.ID, err)
		}
	}
	return nil
}

func (c *conn) ListPeriods(ctx context.Context, leaseID string) ([]rent.PaymentPeriod, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT
			id, lease_id, month, start_date, end_date, rent_amount, status, paid_at, payment_id, archived
		FROM payment_periods WHERE lease_id = ? ORDER BY month`, leaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query periods: %w", err)
	}
	defer rows.Close()

	periods := []rent.PaymentPeriod{}
	for rows.Next() {
		var (
			p                                     rent.PaymentPeriod
			month, start, end, rentAmount, status string
			paidAt, paymentID                     sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.LeaseID, &month, &start, &end, &rentAmount, &status, &paidAt, &paymentID, &p.Archived); err != nil {
			return nil, fmt.Errorf("failed to scan period: %w", err)
		}

		var r rowDecoder
		p.Month = r.month(month)
		p.Start = r.date(start)
		p.End = r.date(end)
		p.RentAmount = r.money(rentAmount)
		p.PaidAt = r.nullDate(paidAt)
		p.Status = rent.PeriodStatus(status)
		p.PaymentID = paymentID.String
		if r.err != nil {
			return nil, fmt.Errorf("failed to decode period %s: %w", p.ID, r.err)
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

// =============================================================================
// PAYMENTS
// =============================================================================

const paymentColumns = `id, lease_id, tenant_id, building_id, unit_id, invoice_id, amount,
	payment_type, status, payment_date, months_covered_json, notes, created_at, updated_at`

func (c *conn) CreatePayment(ctx context.Context, p *rent.Payment) error {
	months, err := encodeMonths(p.MonthsCovered)
	if err != nil {
		return err
	}
	_, err = c.q.ExecContext(ctx, `INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.LeaseID, p.TenantID, p.BuildingID, p.UnitID, p.InvoiceID, p.Amount.String(),
		string(p.Type), string(p.Status), p.PaymentDate.String(), months, p.Notes,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("payment %s: %w", p.ID, generic.ErrDuplicateIdempotencyKey)
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// UpdatePayment writes the mutable fields: status and linkage.
func (c *conn) UpdatePayment(ctx context.Context, p *rent.Payment) error {
	res, err := c.q.ExecContext(ctx, `UPDATE payments SET
			lease_id = ?, tenant_id = ?, building_id = ?, unit_id = ?, invoice_id = ?,
			status = ?, notes = ?, updated_at = ?
		WHERE id = ?`,
		p.LeaseID, p.TenantID, p.BuildingID, p.UnitID, p.InvoiceID,
		string(p.Status), p.Notes, formatTime(p.UpdatedAt), p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	return expectRow(res, "payment", p.ID)
}

func (c *conn) GetPayment(ctx context.Context, id string) (*rent.Payment, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment: %w", err)
	}
	payments, err := scanPayments(rows)
	if err != nil {
		return nil, err
	}
	if len(payments) == 0 {
		return nil, &generic.NotFoundError{Kind: "payment", ID: id}
	}
	return &payments[0], nil
}

func (c *conn) ListPayments(ctx context.Context, leaseID string) ([]rent.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments`
	var args []any
	if leaseID != "" {
		query += ` WHERE lease_id = ?`
		args = append(args, leaseID)
	}
	query += ` ORDER BY payment_date, created_at`

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	return scanPayments(rows)
}

func scanPayments(rows *sql.Rows) ([]rent.Payment, error) {
	defer rows.Close()

	payments := []rent.Payment{}
	for rows.Next() {
		var (
			p                                 rent.Payment
			amount, typ, status, paymentDate  string
			months, createdAt, updatedAt      string
		)
		err := rows.Scan(&p.ID, &p.LeaseID, &p.TenantID, &p.BuildingID, &p.UnitID, &p.InvoiceID, &amount,
			&typ, &status, &paymentDate, &months, &p.Notes, &createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}

		var r rowDecoder
		p.Amount = r.money(amount)
		p.Type = rent.PaymentType(typ)
		p.Status = rent.PaymentStatus(status)
		p.PaymentDate = r.date(paymentDate)
		p.MonthsCovered = r.months(months)
		p.CreatedAt = r.time(createdAt)
		p.UpdatedAt = r.time(updatedAt)
		if r.err != nil {
			return nil, fmt.Errorf("failed to decode payment %s: %w", p.ID, r.err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// =============================================================================
// INVOICES
// =============================================================================

const invoiceColumns = `id, lease_id, tenant_id, building_id, unit_id, invoice_number, amount,
	due_date, status, items_json, payments_json, notes, created_at, updated_at`

type itemRow struct {
	Description string `json:"description"`
	Amount      string `json:"amount"`
}

type invoicePaymentRow struct {
	PaymentID   string `json:"payment_id"`
	Amount      string `json:"amount"`
	PaymentDate string `json:"payment_date"`
	Status      string `json:"status"`
}

func encodeInvoiceLists(inv *rent.Invoice) (string, string, error) {
	items := make([]itemRow, 0, len(inv.Items))
	for _, it := range inv.Items {
		items = append(items, itemRow{Description: it.Description, Amount: it.Amount.String()})
	}
	payments := make([]invoicePaymentRow, 0, len(inv.Payments))
	for _, p := range inv.Payments {
		payments = append(payments, invoicePaymentRow{
			PaymentID:   p.PaymentID,
			Amount:      p.Amount.String(),
			PaymentDate: p.PaymentDate.String(),
			Status:      string(p.Status),
		})
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return "", "", err
	}
	paymentsJSON, err := json.Marshal(payments)
	if err != nil {
		return "", "", err
	}
	return string(itemsJSON), string(paymentsJSON), nil
}

func (c *conn) CreateInvoice(ctx context.Context, inv *rent.Invoice) error {
	items, payments, err := encodeInvoiceLists(inv)
	if err != nil {
		return fmt.Errorf("failed to encode invoice: %w", err)
	}
	_, err = c.q.ExecContext(ctx, `INSERT INTO invoices (`+invoiceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.LeaseID, inv.TenantID, inv.BuildingID, inv.UnitID, inv.InvoiceNumber,
		inv.Amount.String(), inv.DueDate.String(), string(inv.Status), items, payments, inv.Notes,
		formatTime(inv.CreatedAt), formatTime(inv.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("invoice %s (%s): %w", inv.ID, inv.InvoiceNumber, generic.ErrDuplicateIdempotencyKey)
		}
		return fmt.Errorf("failed to insert invoice: %w", err)
	}
	return nil
}

func (c *conn) UpdateInvoice(ctx context.Context, inv *rent.Invoice) error {
	items, payments, err := encodeInvoiceLists(inv)
	if err != nil {
		return fmt.Errorf("failed to encode invoice: %w", err)
	}
	res, err := c.q.ExecContext(ctx, `UPDATE invoices SET
			amount = ?, due_date = ?, status = ?, items_json = ?, payments_json = ?,
			notes = ?, updated_at = ?
		WHERE id = ?`,
		inv.Amount.String(), inv.DueDate.String(), string(inv.Status), items, payments,
		inv.Notes, formatTime(inv.UpdatedAt), inv.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update invoice: %w", err)
	}
	return expectRow(res, "invoice", inv.ID)
}

func (c *conn) GetInvoice(ctx context.Context, id string) (*rent.Invoice, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoice: %w", err)
	}
	invoices, err := scanInvoices(rows)
	if err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		return nil, &generic.NotFoundError{Kind: "invoice", ID: id}
	}
	return &invoices[0], nil
}

func (c *conn) ListInvoices(ctx context.Context, f rent.InvoiceFilter) ([]rent.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE 1=1`
	var args []any
	if f.LeaseID != "" {
		query += ` AND lease_id = ?`
		args = append(args, f.LeaseID)
	}
	if f.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, f.TenantID)
	}
	if len(f.Statuses) > 0 {
		query += ` AND status IN (?` + strings.Repeat(", ?", len(f.Statuses)-1) + `)`
		for _, s := range f.Statuses {
			args = append(args, string(s))
		}
	}
	query += ` ORDER BY due_date, id`

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	return scanInvoices(rows)
}

func scanInvoices(rows *sql.Rows) ([]rent.Invoice, error) {
	defer rows.Close()

	invoices := []rent.Invoice{}
	for rows.Next() {
		var (
			inv                                 rent.Invoice
			amount, dueDate, status             string
			items, payments, createdAt, updated string
		)
		err := rows.Scan(&inv.ID, &inv.LeaseID, &inv.TenantID, &inv.BuildingID, &inv.UnitID, &inv.InvoiceNumber,
			&amount, &dueDate, &status, &items, &payments, &inv.Notes, &createdAt, &updated)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}

		var r rowDecoder
		inv.Amount = r.money(amount)
		inv.DueDate = r.date(dueDate)
		inv.Status = rent.InvoiceStatus(status)
		inv.CreatedAt = r.time(createdAt)
		inv.UpdatedAt = r.time(updated)

		var itemRows []itemRow
		r.json(items, &itemRows)
		for _, it := range itemRows {
			inv.Items = append(inv.Items, rent.InvoiceItem{Description: it.Description, Amount: r.money(it.Amount)})
		}
		var paymentRows []invoicePaymentRow
		r.json(payments, &paymentRows)
		for _, p := range paymentRows {
			inv.Payments = append(inv.Payments, rent.InvoicePayment{
				PaymentID:   p.PaymentID,
				Amount:      r.money(p.Amount),
				PaymentDate: r.date(p.PaymentDate),
				Status:      rent.PaymentStatus(p.Status),
			})
		}
		if r.err != nil {
			return nil, fmt.Errorf("failed to decode invoice %s: %w", inv.ID, r.err)
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

// =============================================================================
// LEDGER (generic.Store interface)
// =============================================================================

type ledgerStore struct {
	c *conn
}

const entryColumns = `id, account_id, target, payment_id, attempt, effective_at, delta,
	entry_type, reason, idempotency_key, metadata_json, created_at`

func (l *ledgerStore) Append(ctx context.Context, e generic.Entry) error {
	return l.AppendBatch(ctx, []generic.Entry{e})
}

// AppendBatch adds entries atomically. Outside a transaction it opens one.
func (l *ledgerStore) AppendBatch(ctx context.Context, es []generic.Entry) error {
	seen := make(map[string]bool, len(es))
	for _, e := range es {
		if e.IdempotencyKey == "" {
			continue
		}
		if seen[e.IdempotencyKey] {
			return generic.ErrDuplicateIdempotencyKey
		}
		seen[e.IdempotencyKey] = true
	}

	if l.c.inTx {
		return appendEntries(ctx, l.c.q, es)
	}

	db, ok := l.c.q.(*sql.DB)
	if !ok {
		return appendEntries(ctx, l.c.q, es)
	}
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()
	if err := appendEntries(ctx, sqlTx, es); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func appendEntries(ctx context.Context, q querier, es []generic.Entry) error {
	for _, e := range es {
		metadata, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode entry metadata: %w", err)
		}
		createdAt := e.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}

		_, err = q.ExecContext(ctx, `INSERT INTO ledger_entries (`+entryColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(e.ID), string(e.AccountID), e.Target, e.PaymentID, e.Attempt,
			e.EffectiveAt.String(), e.Delta.Value.String(), string(e.Type), e.Reason,
			nullString(e.IdempotencyKey), string(metadata), formatTime(createdAt),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return generic.ErrDuplicateIdempotencyKey
			}
			return fmt.Errorf("failed to append entry: %w", err)
		}
	}
	return nil
}

func (l *ledgerStore) Load(ctx context.Context, account generic.AccountID) ([]generic.Entry, error) {
	return l.query(ctx, `SELECT `+entryColumns+` FROM ledger_entries
		WHERE account_id = ? ORDER BY effective_at, seq`, string(account))
}

func (l *ledgerStore) LoadByPayment(ctx context.Context, paymentID string) ([]generic.Entry, error) {
	return l.query(ctx, `SELECT `+entryColumns+` FROM ledger_entries
		WHERE payment_id = ? ORDER BY effective_at, seq`, paymentID)
}

func (l *ledgerStore) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	var count int
	err := l.c.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ledger_entries WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)
	return count > 0, err
}

func (l *ledgerStore) query(ctx context.Context, query string, args ...any) ([]generic.Entry, error) {
	rows, err := l.c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []generic.Entry
	for rows.Next() {
		var (
			e                                        generic.Entry
			id, account, typ, effectiveAt, delta     string
			idempotencyKey, metadata                 sql.NullString
			createdAt                                string
		)
		err := rows.Scan(&id, &account, &e.Target, &e.PaymentID, &e.Attempt, &effectiveAt, &delta,
			&typ, &e.Reason, &idempotencyKey, &metadata, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}

		var r rowDecoder
		e.ID = generic.EntryID(id)
		e.AccountID = generic.AccountID(account)
		e.Type = generic.EntryType(typ)
		e.EffectiveAt = r.date(effectiveAt)
		e.Delta = r.money(delta)
		e.IdempotencyKey = idempotencyKey.String
		e.CreatedAt = r.time(createdAt)
		if metadata.Valid && metadata.String != "" && metadata.String != "null" {
			r.json(metadata.String, &e.Metadata)
		}
		if r.err != nil {
			return nil, fmt.Errorf("failed to decode entry %s: %w", id, r.err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

// rowDecoder parses columns and keeps the first error.
type rowDecoder struct {
	err error
}

func (r *rowDecoder) date(s string) generic.Date {
	d, err := generic.ParseDate(s)
	r.keep(err)
	return d
}

func (r *rowDecoder) nullDate(s sql.NullString) *generic.Date {
	if !s.Valid || s.String == "" {
		return nil
	}
	d := r.date(s.String)
	return &d
}

func (r *rowDecoder) month(s string) generic.Month {
	m, err := generic.ParseMonth(s)
	r.keep(err)
	return m
}

func (r *rowDecoder) months(s string) []generic.Month {
	var raw []string
	r.json(s, &raw)
	out := make([]generic.Month, 0, len(raw))
	for _, m := range raw {
		out = append(out, r.month(m))
	}
	return out
}

func (r *rowDecoder) money(s string) generic.Money {
	m, err := generic.ParseMoney(s)
	r.keep(err)
	return m
}

func (r *rowDecoder) nullMoney(s sql.NullString) *generic.Money {
	if !s.Valid {
		return nil
	}
	m := r.money(s.String)
	return &m
}

func (r *rowDecoder) time(s string) time.Time {
	t, err := time.Parse(timestampLayout, s)
	r.keep(err)
	return t
}

func (r *rowDecoder) json(s string, v any) {
	if s == "" {
		return
	}
	r.keep(json.Unmarshal([]byte(s), v))
}

func (r *rowDecoder) keep(err error) {
	if r.err == nil {
		r.err = err
	}
}

func encodeMonths(months []generic.Month) (string, error) {
	raw := make([]string, 0, len(months))
	for _, m := range months {
		raw = append(raw, m.String())
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("failed to encode months: %w", err)
	}
	return string(b), nil
}

func formatTime(t time.Time) string { return t.UTC().Format(timestampLayout) }

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullDate(d *generic.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func nullMoney(m *generic.Money) sql.NullString {
	if m == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: m.String(), Valid: true}
}

func expectRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &generic.NotFoundError{Kind: kind, ID: id}
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
		se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

var _ rent.Repository = (*Store)(nil)
var _ generic.Store = (*ledgerStore)(nil)
