/*
ledger.go - Append-only credit log

PURPOSE:
  The Ledger is the source of truth for how much of each payment was applied
  to which period or invoice. Period status is a derived view: a period is
  paid once the live credits toward its month reach its rent.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete.
  2. IMMUTABLE: Once written, entries cannot be modified
  3. IDEMPOTENT: Same idempotency key = rejected write (no double credit)
  4. ONE LIVE ALLOCATION PER PAYMENT: a payment may be allocated again only
     after its previous attempt has been reversed

CORRECTIONS:
  A failed or cancelled payment is not erased. Instead:
  1. Reversal entries with the opposite sign are appended for its attempt
  2. Both original and reversal remain in the ledger
  3. Net credit drops, history is preserved

EXAMPLE FLOW:
  1. pay-1 credits February 1000:       credit  +1000 (attempt 1)
  2. pay-1 bounces:                     reversal -1000 (attempt 1)
  3. pay-1 retried and clears:          credit  +1000 (attempt 2)

  February credit: [+1000, -1000, +1000] = 1000

SEE ALSO:
  - store.go: Low-level persistence interface
  - balance.go: Derived credit per target
*/
package generic

import "context"

// =============================================================================
// LEDGER - Append-only credit log
// =============================================================================

type Ledger interface {
	// Append adds an entry. Fails if its idempotency key exists.
	Append(ctx context.Context, e Entry) error

	// AppendBatch adds multiple entries atomically.
	AppendBatch(ctx context.Context, es []Entry) error

	// Entries returns all entries of an account, chronologically.
	Entries(ctx context.Context, account AccountID) ([]Entry, error)

	// PaymentEntries returns every entry a payment ever produced.
	PaymentEntries(ctx context.Context, paymentID string) ([]Entry, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultLedger struct {
	Store Store
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Append(ctx context.Context, e Entry) error {
	if e.IdempotencyKey != "" {
		exists, err := l.Store.Exists(ctx, e.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.Append(ctx, e)
}

func (l *DefaultLedger) AppendBatch(ctx context.Context, es []Entry) error {
	// Check all idempotency keys first, including duplicates inside the batch
	seen := make(map[string]bool, len(es))
	for _, e := range es {
		if e.IdempotencyKey == "" {
			continue
		}
		if seen[e.IdempotencyKey] {
			return ErrDuplicateIdempotencyKey
		}
		seen[e.IdempotencyKey] = true
		exists, err := l.Store.Exists(ctx, e.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.AppendBatch(ctx, es)
}

func (l *DefaultLedger) Entries(ctx context.Context, account AccountID) ([]Entry, error) {
	return l.Store.Load(ctx, account)
}

func (l *DefaultLedger) PaymentEntries(ctx context.Context, paymentID string) ([]Entry, error) {
	return l.Store.LoadByPayment(ctx, paymentID)
}
