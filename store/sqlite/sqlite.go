/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements advance.Store and advance.TxStore using SQLite. In production,
  the same patterns apply to PostgreSQL - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  The ledger is append-only:
  - No UPDATE statements on the ledger_entries table
  - No DELETE statements on the ledger_entries table
  - UNIQUE(payment_id, installment_number) makes a double-applied payroll
    cycle detectable even if the in-process lock is bypassed

OPTIMISTIC LOCKING:
  payment_requests carries a version column. Updates are guarded with
  "WHERE id = ? AND version = ?"; zero rows affected with the row present
  means a stale write and surfaces as ErrConcurrentModification.

KEY TABLES:
  payment_requests: One row per advance, with cached balance and counters
  ledger_entries:   Immutable deduction/skip log
  employees:        HR reference records

CONCURRENCY:
  Uses sync.RWMutex for thread-safety across the single connection pool.
  In production with PostgreSQL, database-level concurrency control
  handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/advances.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := advance.NewService(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - advance/store.go: Interface definitions
  - advance/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/advance-engine/advance"
)

// Store implements advance.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
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

func (s *Store) migrate() error {
	schema := `
	-- Advance requests (one row per advance, cached balance and counters)
	CREATE TABLE IF NOT EXISTS payment_requests (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		request_number TEXT NOT NULL UNIQUE,
		principal TEXT NOT NULL,
		installment_count INTEGER NOT NULL,
		original_installment_count INTEGER NOT NULL DEFAULT 0,
		monthly_deduction TEXT NOT NULL,
		priority TEXT NOT NULL,
		is_emergency BOOLEAN NOT NULL DEFAULT FALSE,
		purpose TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		remaining_balance TEXT NOT NULL,
		paid_installments INTEGER NOT NULL DEFAULT 0,
		total_skips INTEGER NOT NULL DEFAULT 0,
		start_date TEXT,
		completion_date TEXT,
		cancel_reason TEXT,
		requested_by TEXT NOT NULL,
		approved_by TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requests_employee
		ON payment_requests(employee_id);
	CREATE INDEX IF NOT EXISTS idx_requests_status
		ON payment_requests(status);
	CREATE INDEX IF NOT EXISTS idx_requests_created
		ON payment_requests(created_at DESC);

	-- Ledger (append-only deduction/skip log)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		payment_id TEXT NOT NULL REFERENCES payment_requests(id),
		installment_number INTEGER NOT NULL,
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		payment_date TEXT NOT NULL,
		processed_by TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: one ledger slot per installment number per request.
	-- Database-level guard against a double-applied payroll cycle.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_unique_installment
		ON ledger_entries(payment_id, installment_number);

	CREATE INDEX IF NOT EXISTS idx_ledger_payment
		ON ledger_entries(payment_id);

	-- Employees (HR reference records)
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		department TEXT,
		created_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// execer abstracts *sql.DB and *sql.Tx so statement helpers can run both
// standalone and inside WithTx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// REQUEST STORE (advance.RequestStore interface)
// =============================================================================

// CreateRequest inserts a new request row.
func (s *Store) CreateRequest(ctx context.Context, r *advance.PaymentRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createRequest(ctx, s.db, r)
}

func createRequest(ctx context.Context, db execer, r *advance.PaymentRequest) error {
	query := `
		INSERT INTO payment_requests
		(id, employee_id, request_number, principal, installment_count,
		 original_installment_count, monthly_deduction, priority, is_emergency,
		 purpose, status, remaining_balance, paid_installments, total_skips,
		 start_date, completion_date, cancel_reason, requested_by, approved_by,
		 version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		r.ID,
		r.EmployeeID,
		r.RequestNumber,
		r.Principal.String(),
		r.InstallmentCount,
		r.OriginalInstallmentCount,
		r.MonthlyDeduction.String(),
		r.Priority,
		r.IsEmergency,
		r.Purpose,
		r.Status,
		r.RemainingBalance.String(),
		r.PaidInstallments,
		r.TotalSkips,
		nullTime(r.StartDate),
		nullTime(r.CompletionDate),
		nullString(r.CancelReason),
		r.RequestedBy,
		nullString(string(r.ApprovedBy)),
		r.Version,
		r.CreatedAt.UTC().Format(time.RFC3339),
		r.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &advance.InvalidArgumentError{Field: "request_number", Reason: "already exists"}
		}
		return fmt.Errorf("failed to insert request: %w", err)
	}
	return nil
}

const requestColumns = `
	id, employee_id, request_number, principal, installment_count,
	original_installment_count, monthly_deduction, priority, is_emergency,
	purpose, status, remaining_balance, paid_installments, total_skips,
	start_date, completion_date, cancel_reason, requested_by, approved_by,
	version, created_at, updated_at
`

// GetRequest returns a request or advance.ErrNotFound.
func (s *Store) GetRequest(ctx context.Context, id advance.PaymentID) (*advance.PaymentRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getRequest(ctx, s.db, id)
}

func getRequest(ctx context.Context, db execer, id advance.PaymentID) (*advance.PaymentRequest, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT "+requestColumns+" FROM payment_requests WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query request: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, advance.ErrNotFound
	}
	return scanRequest(rows)
}

// UpdateRequest writes the request guarded by a version compare-and-swap.
func (s *Store) UpdateRequest(ctx context.Context, r *advance.PaymentRequest, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateRequest(ctx, s.db, r, expectedVersion)
}

func updateRequest(ctx context.Context, db execer, r *advance.PaymentRequest, expectedVersion int) error {
	query := `
		UPDATE payment_requests SET
			installment_count = ?,
			original_installment_count = ?,
			monthly_deduction = ?,
			status = ?,
			remaining_balance = ?,
			paid_installments = ?,
			total_skips = ?,
			start_date = ?,
			completion_date = ?,
			cancel_reason = ?,
			approved_by = ?,
			version = ?,
			updated_at = ?
		WHERE id = ? AND version = ?
	`

	res, err := db.ExecContext(ctx, query,
		r.InstallmentCount,
		r.OriginalInstallmentCount,
		r.MonthlyDeduction.String(),
		r.Status,
		r.RemainingBalance.String(),
		r.PaidInstallments,
		r.TotalSkips,
		nullTime(r.StartDate),
		nullTime(r.CompletionDate),
		nullString(r.CancelReason),
		nullString(string(r.ApprovedBy)),
		expectedVersion+1,
		time.Now().UTC().Format(time.RFC3339),
		r.ID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update request: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Distinguish a missing row from a stale version.
		var count int
		if err := db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM payment_requests WHERE id = ?", r.ID,
		).Scan(&count); err != nil {
			return err
		}
		if count == 0 {
			return advance.ErrNotFound
		}
		return advance.ErrConcurrentModification
	}

	r.Version = expectedVersion + 1
	return nil
}

// ListRequests returns requests matching the filter, newest first.
func (s *Store) ListRequests(ctx context.Context, f advance.Filter, p advance.Page) ([]*advance.PaymentRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRequests(ctx, s.db, f, p)
}

func listRequests(ctx context.Context, db execer, f advance.Filter, p advance.Page) ([]*advance.PaymentRequest, error) {
	var (
		where []string
		args  []any
	)

	if f.Status != nil {
		where = append(where, "status = ?")
		args = append(args, *f.Status)
	}
	if f.Priority != nil {
		where = append(where, "priority = ?")
		args = append(args, *f.Priority)
	}
	if f.EmployeeID != nil {
		where = append(where, "employee_id = ?")
		args = append(args, *f.EmployeeID)
	}
	if f.From != nil {
		where = append(where, "created_at >= ?")
		args = append(args, f.From.UTC().Format(time.RFC3339))
	}
	if f.To != nil {
		where = append(where, "created_at <= ?")
		args = append(args, f.To.UTC().Format(time.RFC3339))
	}
	if f.Search != "" {
		where = append(where, "(request_number LIKE ? OR purpose LIKE ?)")
		pattern := "%" + f.Search + "%"
		args = append(args, pattern, pattern)
	}

	query := "SELECT " + requestColumns + " FROM payment_requests"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	if p.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, p.Limit)
		if p.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, p.Offset)
		}
	} else if p.Offset > 0 {
		// SQLite requires a LIMIT clause before OFFSET; -1 means unlimited.
		query += " LIMIT -1 OFFSET ?"
		args = append(args, p.Offset)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	var requests []*advance.PaymentRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

func scanRequest(rows *sql.Rows) (*advance.PaymentRequest, error) {
	var (
		r            advance.PaymentRequest
		principal    string
		monthly      string
		remaining    string
		startDate    sql.NullString
		completion   sql.NullString
		cancelReason sql.NullString
		approvedBy   sql.NullString
		createdAt    string
		updatedAt    string
	)

	err := rows.Scan(
		&r.ID, &r.EmployeeID, &r.RequestNumber, &principal, &r.InstallmentCount,
		&r.OriginalInstallmentCount, &monthly, &r.Priority, &r.IsEmergency,
		&r.Purpose, &r.Status, &remaining, &r.PaidInstallments, &r.TotalSkips,
		&startDate, &completion, &cancelReason, &r.RequestedBy, &approvedBy,
		&r.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan request: %w", err)
	}

	if r.Principal, err = advance.MoneyFromString(principal); err != nil {
		return nil, fmt.Errorf("bad principal for %s: %w", r.ID, err)
	}
	if r.MonthlyDeduction, err = advance.MoneyFromString(monthly); err != nil {
		return nil, fmt.Errorf("bad monthly_deduction for %s: %w", r.ID, err)
	}
	if r.RemainingBalance, err = advance.MoneyFromString(remaining); err != nil {
		return nil, fmt.Errorf("bad remaining_balance for %s: %w", r.ID, err)
	}

	r.StartDate = parseNullTime(startDate)
	r.CompletionDate = parseNullTime(completion)
	r.CancelReason = cancelReason.String
	r.ApprovedBy = advance.ActorID(approvedBy.String)
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &r, nil
}

// =============================================================================
// LEDGER STORE (advance.LedgerStore interface)
// =============================================================================

// AppendEntry inserts a ledger entry. There is no update or delete path
// through this store.
func (s *Store) AppendEntry(ctx context.Context, e advance.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendEntry(ctx, s.db, e)
}

func appendEntry(ctx context.Context, db execer, e advance.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries
		(id, payment_id, installment_number, kind, amount, payment_date,
		 processed_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		e.ID,
		e.PaymentID,
		e.InstallmentNumber,
		e.Kind,
		e.Amount.String(),
		e.PaymentDate.UTC().Format(time.RFC3339),
		e.ProcessedBy,
		e.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &advance.InstallmentConflictError{
				PaymentID:         e.PaymentID,
				InstallmentNumber: e.InstallmentNumber,
			}
		}
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

// Entries returns all ledger entries for a request, by installment number.
func (s *Store) Entries(ctx context.Context, id advance.PaymentID) ([]advance.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadEntries(ctx, s.db, id)
}

func loadEntries(ctx context.Context, db execer, id advance.PaymentID) ([]advance.LedgerEntry, error) {
	query := `
		SELECT id, payment_id, installment_number, kind, amount, payment_date,
		       processed_by, created_at
		FROM ledger_entries
		WHERE payment_id = ?
		ORDER BY installment_number ASC
	`

	rows, err := db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var entries []advance.LedgerEntry
	for rows.Next() {
		var (
			e           advance.LedgerEntry
			amount      string
			paymentDate string
			createdAt   string
		)
		if err := rows.Scan(&e.ID, &e.PaymentID, &e.InstallmentNumber, &e.Kind,
			&amount, &paymentDate, &e.ProcessedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		if e.Amount, err = advance.MoneyFromString(amount); err != nil {
			return nil, fmt.Errorf("bad amount for entry %s: %w", e.ID, err)
		}
		e.PaymentDate, _ = time.Parse(time.RFC3339, paymentDate)
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (advance.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. Any error from fn
// rolls the transaction back.
func (s *Store) WithTx(ctx context.Context, fn func(advance.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore exposes the same statement helpers bound to an open transaction.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) CreateRequest(ctx context.Context, r *advance.PaymentRequest) error {
	return createRequest(ctx, ts.tx, r)
}

func (ts *txStore) GetRequest(ctx context.Context, id advance.PaymentID) (*advance.PaymentRequest, error) {
	return getRequest(ctx, ts.tx, id)
}

func (ts *txStore) UpdateRequest(ctx context.Context, r *advance.PaymentRequest, expectedVersion int) error {
	return updateRequest(ctx, ts.tx, r, expectedVersion)
}

func (ts *txStore) ListRequests(ctx context.Context, f advance.Filter, p advance.Page) ([]*advance.PaymentRequest, error) {
	return listRequests(ctx, ts.tx, f, p)
}

func (ts *txStore) AppendEntry(ctx context.Context, e advance.LedgerEntry) error {
	return appendEntry(ctx, ts.tx, e)
}

func (ts *txStore) Entries(ctx context.Context, id advance.PaymentID) ([]advance.LedgerEntry, error) {
	return loadEntries(ctx, ts.tx, id)
}

// =============================================================================
// EMPLOYEE STORE - HR reference records
// =============================================================================

// Employee is the reference record for the external HR entity an advance
// belongs to.
type Employee struct {
	ID         string
	Name       string
	Email      string
	Department string
	CreatedAt  time.Time
}

// SaveEmployee upserts an employee reference.
func (s *Store) SaveEmployee(ctx context.Context, emp Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO employees (id, name, email, department, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			department = excluded.department
	`

	_, err := s.db.ExecContext(ctx, query,
		emp.ID, emp.Name, emp.Email, emp.Department,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// GetEmployee retrieves an employee by ID. Returns advance.ErrNotFound
// for an unknown id, matching the request lookups.
func (s *Store) GetEmployee(ctx context.Context, id string) (*Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var emp Employee
	var createdAt string

	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, email, department, created_at FROM employees WHERE id = ?",
		id,
	).Scan(&emp.ID, &emp.Name, &emp.Email, &emp.Department, &createdAt)

	if err == sql.ErrNoRows {
		return nil, advance.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	emp.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &emp, nil
}

// ListEmployees returns all employees ordered by name.
func (s *Store) ListEmployees(ctx context.Context) ([]Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, email, department, created_at FROM employees ORDER BY name",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var employees []Employee
	for rows.Next() {
		var emp Employee
		var createdAt string
		if err := rows.Scan(&emp.ID, &emp.Name, &emp.Email, &emp.Department, &createdAt); err != nil {
			return nil, err
		}
		emp.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		employees = append(employees, emp)
	}
	return employees, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
