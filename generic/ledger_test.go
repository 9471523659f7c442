package generic_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rent-engine/generic"
	"github.com/warp/rent-engine/generic/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestLedger() generic.Ledger {
	return generic.NewLedger(store.NewMemory())
}

func money(v int64) generic.Money {
	return generic.NewMoneyFromInt(v)
}

func credit(id, payment string, attempt int, target string, amount int64, day int) generic.Entry {
	return generic.Entry{
		ID:             generic.EntryID(id),
		AccountID:      "lease-1",
		Target:         target,
		PaymentID:      payment,
		Attempt:        attempt,
		EffectiveAt:    generic.NewDate(2024, time.February, day),
		Delta:          money(amount),
		Type:           generic.EntryCredit,
		IdempotencyKey: generic.EntryKey(payment, attempt, generic.EntryCredit, target),
	}
}

// =============================================================================
// IDEMPOTENCY TESTS
// =============================================================================

func TestLedger_DuplicateKey_Rejected(t *testing.T) {
	// GIVEN: pay-1 already credited February
	// WHEN: The same entry is appended again
	// THEN: ErrDuplicateIdempotencyKey, credit unchanged

	ctx := context.Background()
	ledger := newTestLedger()

	require.NoError(t, ledger.Append(ctx, credit("e1", "pay-1", 1, "2024-02", 1000, 10)))
	err := ledger.Append(ctx, credit("e1", "pay-1", 1, "2024-02", 1000, 10))

	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)
	entries, err := ledger.Entries(ctx, "lease-1")
	require.NoError(t, err)
	credited := generic.CreditedTo(entries, "2024-02")
	assert.True(t, credited.Equal(money(1000)), "got %s", credited)
}

func TestLedger_BatchWithInternalDuplicate_NothingWritten(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()

	err := ledger.AppendBatch(ctx, []generic.Entry{
		credit("e1", "pay-1", 1, "2024-02", 500, 10),
		credit("e2", "pay-1", 1, "2024-02", 500, 10),
	})

	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)
	entries, err := ledger.Entries(ctx, "lease-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLedger_EntriesOrderedByEffectiveDate(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()

	require.NoError(t, ledger.Append(ctx, credit("late", "pay-2", 1, "2024-03", 100, 20)))
	require.NoError(t, ledger.Append(ctx, credit("early", "pay-1", 1, "2024-02", 100, 5)))

	entries, err := ledger.Entries(ctx, "lease-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, generic.EntryID("early"), entries[0].ID)
	assert.Equal(t, generic.EntryID("late"), entries[1].ID)
}

// =============================================================================
// LIVENESS / REVERSAL TESTS
// =============================================================================

func TestPaymentState_ReversalClosesAttempt(t *testing.T) {
	// GIVEN: pay-1 credited twice (two months) in attempt 1
	// WHEN: The attempt is reversed
	// THEN: Not live, credits net to zero, next attempt is 2

	entries := []generic.Entry{
		credit("e1", "pay-1", 1, "2024-01", 1000, 1),
		credit("e2", "pay-1", 1, "2024-02", 1000, 1),
	}

	state := generic.PaymentState("pay-1", entries)
	assert.True(t, state.Live)
	assert.Equal(t, 1, state.LastAttempt)

	reversals := generic.ReversalsFor("pay-1", entries, generic.NewDate(2024, time.February, 15), "failed")
	require.Len(t, reversals, 2)
	entries = append(entries, reversals...)

	state = generic.PaymentState("pay-1", entries)
	assert.False(t, state.Live)
	assert.Equal(t, 2, state.NextAttempt())
	assert.True(t, generic.CreditedTo(entries, "2024-01").IsZero())
	assert.True(t, generic.CreditedTo(entries, "2024-02").IsZero())
	assert.Empty(t, generic.LiveEntries("pay-1", entries))
}

func TestLatestCreditor_SkipsReversedAndExcluded(t *testing.T) {
	entries := []generic.Entry{
		credit("e1", "pay-1", 1, "2024-02", 600, 1),
		credit("e2", "pay-2", 1, "2024-02", 400, 3),
		credit("e3", "pay-3", 1, "2024-02", 100, 5),
	}
	entries = append(entries, generic.ReversalsFor("pay-3", entries, generic.NewDate(2024, time.February, 6), "cancelled")...)

	assert.Equal(t, "pay-2", generic.LatestCreditor(entries, "2024-02", ""))
	assert.Equal(t, "pay-1", generic.LatestCreditor(entries, "2024-02", "pay-2"))
}

func TestBalance_OutstandingNeverNegative(t *testing.T) {
	b := generic.Balance{Due: money(1000), Credited: money(1200)}

	assert.True(t, b.Settled())
	assert.True(t, b.Outstanding().IsZero())
	assert.True(t, b.Excess().Equal(money(200)))
}

func TestCreditsByTarget_IgnoresRemainder(t *testing.T) {
	entries := []generic.Entry{
		credit("e1", "pay-1", 1, "2024-01", 1000, 1),
		{ID: "e2", AccountID: "lease-1", PaymentID: "pay-1", Attempt: 1, Delta: money(500), Type: generic.EntryRemainder},
	}

	totals := generic.CreditsByTarget(entries)

	assert.Len(t, totals, 1)
	assert.True(t, totals["2024-01"].Equal(money(1000)))
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

func TestMemory_LockedViewRestoresSnapshot(t *testing.T) {
	// GIVEN: A snapshot taken under the lock
	// WHEN: An entry is appended through the locked view, then the snapshot restored
	// THEN: The entry is gone

	ctx := context.Background()
	s := store.NewMemory()

	s.Lock()
	snapshot := s.SnapshotLocked()
	view := store.NewLockedView(s)
	require.NoError(t, view.Append(ctx, credit("e1", "pay-1", 1, "2024-02", 1000, 1)))
	loaded, err := view.Load(ctx, "lease-1")
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
	s.RestoreLocked(snapshot)
	s.Unlock()

	exists, err := s.Exists(ctx, generic.EntryKey("pay-1", 1, generic.EntryCredit, "2024-02"))
	require.NoError(t, err)
	assert.False(t, exists, "rolled back entry must not remain")
}
