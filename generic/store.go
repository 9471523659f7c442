/*
store.go - Persistence interface for credit ledger entries

PURPOSE:
  Defines the interface between the ledger and the database. The Store
  persists entries with append-only semantics. Implementations exist for
  SQLite and in-memory storage.

APPEND-ONLY CONTRACT:
  - Append(): Single entry write
  - AppendBatch(): Atomic multi-entry write
  - NO Update() or Delete() methods exist

IDEMPOTENCY:
  Every entry carries an idempotency key built from payment, attempt, type
  and target. A key that already exists rejects the write, so a replayed
  allocation can never double-credit a period.

ATOMIC BATCHES:
  AppendBatch() ensures all-or-nothing semantics. A payment covering three
  months writes three credit entries; either all three land or none do.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - ledger.go: Higher-level interface using Store
*/
package generic

import "context"

// =============================================================================
// STORE - Interface for entry persistence (append-only)
// =============================================================================

// Store handles persistence of ledger entries.
// IMPORTANT: Store is APPEND-ONLY. Corrections are reversal entries.
type Store interface {
	// Append persists an entry. Returns ErrDuplicateIdempotencyKey if the key exists.
	Append(ctx context.Context, e Entry) error

	// AppendBatch persists multiple entries atomically.
	AppendBatch(ctx context.Context, es []Entry) error

	// Load returns all entries of an account, ordered by EffectiveAt then insertion.
	Load(ctx context.Context, account AccountID) ([]Entry, error)

	// LoadByPayment returns all entries produced by allocations of one payment.
	LoadByPayment(ctx context.Context, paymentID string) ([]Entry, error)

	// Exists checks if an idempotency key already exists.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
