package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rent-engine/generic"
	"github.com/warp/rent-engine/rent"
	"github.com/warp/rent-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testLease(id string) *rent.Lease {
	deposit := generic.NewMoneyFromInt(2000)
	now := time.Date(2024, time.January, 2, 9, 0, 0, 0, time.UTC)
	return &rent.Lease{
		ID:              id,
		TenantID:        "tenant-1",
		UnitID:          "unit-4b",
		BuildingID:      "bldg-1",
		StartDate:       generic.NewDate(2024, time.January, 15),
		EndDate:         generic.NewDate(2024, time.March, 10),
		RentAmount:      generic.NewMoneyFromInt(1000),
		SecurityDeposit: &deposit,
		Status:          rent.LeaseActive,
		Terms: rent.LeaseTerms{
			LateFee:          &rent.LateFeePolicy{GracePeriodDays: 5, FlatAmount: generic.MustParseMoney("50.00")},
			PetsAllowed:      true,
			NoticePeriodDays: 30,
		},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// =============================================================================
// LEASE TESTS
// =============================================================================

func TestStore_LeaseRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	lease := testLease("lease-1")
	require.NoError(t, store.CreateLease(ctx, lease))

	got, err := store.GetLease(ctx, "lease-1")
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", got.TenantID)
	assert.True(t, got.StartDate.Equal(lease.StartDate))
	assert.Equal(t, "1000.00", got.RentAmount.String())
	require.NotNil(t, got.SecurityDeposit)
	assert.Equal(t, "2000.00", got.SecurityDeposit.String())
	require.NotNil(t, got.Terms.LateFee)
	assert.Equal(t, 5, got.Terms.LateFee.GracePeriodDays)
	assert.Equal(t, "50.00", got.Terms.LateFee.FlatAmount.String())
	assert.Nil(t, got.TerminatedAt)
	assert.True(t, got.CreatedAt.Equal(lease.CreatedAt))
}

func TestStore_GetLease_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetLease(context.Background(), "missing")

	assert.ErrorIs(t, err, generic.ErrNotFound)
	var nf *generic.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "lease", nf.Kind)
}

func TestStore_CreateLease_DuplicateID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateLease(ctx, testLease("lease-1")))
	err := store.CreateLease(ctx, testLease("lease-1"))

	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)
}

func TestStore_UpdateLease_OptimisticVersion(t *testing.T) {
	// GIVEN: Two readers of the same lease at version 1
	// WHEN: Both write back
	// THEN: The second write is a concurrent modification

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateLease(ctx, testLease("lease-1")))

	first, err := store.GetLease(ctx, "lease-1")
	require.NoError(t, err)
	second, err := store.GetLease(ctx, "lease-1")
	require.NoError(t, err)

	first.RentAmount = generic.NewMoneyFromInt(1100)
	require.NoError(t, store.UpdateLease(ctx, first))
	assert.Equal(t, 2, first.Version)

	second.RentAmount = generic.NewMoneyFromInt(1200)
	err = store.UpdateLease(ctx, second)
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)
	assert.True(t, generic.IsRetryable(err))

	stored, err := store.GetLease(ctx, "lease-1")
	require.NoError(t, err)
	assert.Equal(t, "1100.00", stored.RentAmount.String())
	assert.Equal(t, 2, stored.Version)
}

func TestStore_UpdateLease_Missing(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdateLease(context.Background(), testLease("ghost"))

	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestStore_ListLeases_Filter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := testLease("lease-a")
	b := testLease("lease-b")
	b.TenantID = "tenant-2"
	b.Status = rent.LeaseExpired
	require.NoError(t, store.CreateLease(ctx, a))
	require.NoError(t, store.CreateLease(ctx, b))

	all, err := store.ListLeases(ctx, rent.LeaseFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	expired, err := store.ListLeases(ctx, rent.LeaseFilter{Status: rent.LeaseExpired})
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "lease-b", expired[0].ID)

	byTenant, err := store.ListLeases(ctx, rent.LeaseFilter{TenantID: "tenant-1"})
	require.NoError(t, err)
	require.Len(t, byTenant, 1)
	assert.Equal(t, "lease-a", byTenant[0].ID)
}

// =============================================================================
// PERIOD TESTS
// =============================================================================

func TestStore_SavePeriods_Upsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	lease := testLease("lease-1")
	require.NoError(t, store.CreateLease(ctx, lease))
	periods, err := rent.GenerateSchedule(*lease)
	require.NoError(t, err)
	require.NoError(t, store.SavePeriods(ctx, periods))

	feb := periods[1]
	feb.Status = rent.PeriodPaid
	feb.PaymentID = "pay-1"
	feb.PaidAt = generic.NewDate(2024, time.February, 3).Ptr()
	require.NoError(t, store.SavePeriods(ctx, []rent.PaymentPeriod{feb}))

	got, err := store.ListPeriods(ctx, "lease-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "2024-01", got[0].Month.String())
	assert.Equal(t, "548.39", got[0].RentAmount.String())
	assert.Equal(t, rent.PeriodPaid, got[1].Status)
	assert.Equal(t, "pay-1", got[1].PaymentID)
	require.NotNil(t, got[1].PaidAt)
	assert.Equal(t, "2024-02-03", got[1].PaidAt.String())
	assert.Equal(t, rent.PeriodUnpaid, got[2].Status)
	assert.Empty(t, got[2].PaymentID)
}

func TestStore_SavePeriods_UnknownLease(t *testing.T) {
	store := newTestStore(t)

	err := store.SavePeriods(context.Background(), []rent.PaymentPeriod{{
		ID:         "ghost:2024-01",
		LeaseID:    "ghost",
		Month:      generic.NewMonth(2024, time.January),
		Start:      generic.NewDate(2024, time.January, 1),
		End:        generic.NewDate(2024, time.February, 1),
		RentAmount: generic.NewMoneyFromInt(1000),
		Status:     rent.PeriodUnpaid,
	}})

	assert.Error(t, err, "periods reference an existing lease")
}

// =============================================================================
// PAYMENT AND INVOICE TESTS
// =============================================================================

func TestStore_PaymentRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := &rent.Payment{
		ID:            "pay-1",
		LeaseID:       "lease-1",
		TenantID:      "tenant-1",
		Amount:        generic.MustParseMoney("1500.50"),
		Type:          rent.PaymentRent,
		Status:        rent.PaymentPending,
		PaymentDate:   generic.NewDate(2024, time.February, 1),
		MonthsCovered: []generic.Month{generic.NewMonth(2024, time.February)},
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	require.NoError(t, store.CreatePayment(ctx, p))
	assert.ErrorIs(t, store.CreatePayment(ctx, p), generic.ErrDuplicateIdempotencyKey)

	p.Status = rent.PaymentCompleted
	require.NoError(t, store.UpdatePayment(ctx, p))

	got, err := store.GetPayment(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, rent.PaymentCompleted, got.Status)
	assert.Equal(t, "1500.50", got.Amount.String())
	require.Len(t, got.MonthsCovered, 1)
	assert.Equal(t, "2024-02", got.MonthsCovered[0].String())

	listed, err := store.ListPayments(ctx, "lease-1")
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	err = store.UpdatePayment(ctx, &rent.Payment{ID: "ghost"})
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestStore_InvoiceRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	inv := &rent.Invoice{
		ID:            "inv-1",
		TenantID:      "tenant-1",
		InvoiceNumber: "INV-202403-ABC123",
		Amount:        generic.NewMoneyFromInt(1500),
		DueDate:       generic.NewDate(2024, time.March, 31),
		Status:        rent.InvoiceSent,
		Items: []rent.InvoiceItem{
			{Description: "Rent", Amount: generic.NewMoneyFromInt(1200)},
			{Description: "Parking", Amount: generic.NewMoneyFromInt(300)},
		},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateInvoice(ctx, inv))

	inv.Payments = append(inv.Payments, rent.InvoicePayment{
		PaymentID:   "pay-1",
		Amount:      generic.NewMoneyFromInt(1000),
		PaymentDate: generic.NewDate(2024, time.March, 5),
		Status:      rent.PaymentCompleted,
	})
	require.NoError(t, store.UpdateInvoice(ctx, inv))

	got, err := store.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "Parking", got.Items[1].Description)
	require.Len(t, got.Payments, 1)
	assert.Equal(t, "1000.00", got.PaidAmount().String())
	assert.Equal(t, "500.00", got.Balance().Outstanding().String())

	open, err := store.ListInvoices(ctx, rent.InvoiceFilter{Statuses: []rent.InvoiceStatus{rent.InvoiceSent, rent.InvoiceOverdue}})
	require.NoError(t, err)
	assert.Len(t, open, 1)

	drafts, err := store.ListInvoices(ctx, rent.InvoiceFilter{Statuses: []rent.InvoiceStatus{rent.InvoiceDraft}})
	require.NoError(t, err)
	assert.Empty(t, drafts)
}

func TestStore_InvoiceNumberUnique(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mk := func(id string) *rent.Invoice {
		return &rent.Invoice{
			ID: id, InvoiceNumber: "INV-1", Amount: generic.NewMoneyFromInt(10),
			DueDate: generic.NewDate(2024, time.March, 1), Status: rent.InvoiceDraft,
		}
	}
	require.NoError(t, store.CreateInvoice(ctx, mk("inv-1")))
	assert.ErrorIs(t, store.CreateInvoice(ctx, mk("inv-2")), generic.ErrDuplicateIdempotencyKey)
}

// =============================================================================
// LEDGER TESTS
// =============================================================================

func entry(id, payment string, attempt int, typ generic.EntryType, target string, amount int64) generic.Entry {
	return generic.Entry{
		ID:             generic.EntryID(id),
		AccountID:      rent.LeaseAccount("lease-1"),
		Target:         target,
		PaymentID:      payment,
		Attempt:        attempt,
		EffectiveAt:    generic.NewDate(2024, time.February, 1),
		Delta:          generic.NewMoneyFromInt(amount),
		Type:           typ,
		IdempotencyKey: generic.EntryKey(payment, attempt, typ, target),
		Metadata:       map[string]string{"payment_type": "rent"},
	}
}

func TestStore_Ledger_AppendAndLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ledger := generic.NewLedger(store.Entries())

	require.NoError(t, ledger.AppendBatch(ctx, []generic.Entry{
		entry("e1", "pay-1", 1, generic.EntryCredit, "2024-02", 1000),
		entry("e2", "pay-1", 1, generic.EntryRemainder, "", 0),
	}))

	loaded, err := ledger.Entries(ctx, rent.LeaseAccount("lease-1"))
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, generic.EntryCredit, loaded[0].Type)
	assert.Equal(t, "rent", loaded[0].Metadata["payment_type"])

	byPayment, err := ledger.PaymentEntries(ctx, "pay-1")
	require.NoError(t, err)
	assert.Len(t, byPayment, 2)

	assert.Equal(t, "1000.00", generic.CreditedTo(loaded, "2024-02").String())
}

func TestStore_Ledger_DuplicateKeyRejected(t *testing.T) {
	// GIVEN: pay-1 attempt 1 already credited February
	// WHEN: The same allocation is written again with new entry IDs
	// THEN: The unique idempotency key rejects the whole batch

	store := newTestStore(t)
	ctx := context.Background()
	entries := store.Entries()

	require.NoError(t, entries.Append(ctx, entry("e1", "pay-1", 1, generic.EntryCredit, "2024-02", 1000)))

	err := entries.AppendBatch(ctx, []generic.Entry{
		entry("e2", "pay-1", 1, generic.EntryRemainder, "", 0),
		entry("e3", "pay-1", 1, generic.EntryCredit, "2024-02", 1000),
	})
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)

	loaded, err := entries.LoadByPayment(ctx, "pay-1")
	require.NoError(t, err)
	assert.Len(t, loaded, 1, "batch is all or nothing")

	exists, err := entries.Exists(ctx, generic.EntryKey("pay-1", 1, generic.EntryCredit, "2024-02"))
	require.NoError(t, err)
	assert.True(t, exists)
}

// =============================================================================
// TRANSACTION TESTS
// =============================================================================

func TestStore_WithTx_RollbackOnError(t *testing.T) {
	// GIVEN: A transaction that writes a lease, periods and ledger entries
	// WHEN: fn fails after the writes
	// THEN: Nothing is visible afterwards

	store := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(st rent.Store) error {
		lease := testLease("lease-1")
		require.NoError(t, st.CreateLease(ctx, lease))
		periods, err := rent.GenerateSchedule(*lease)
		require.NoError(t, err)
		require.NoError(t, st.SavePeriods(ctx, periods))
		require.NoError(t, st.Entries().Append(ctx, entry("e1", "pay-1", 1, generic.EntryCredit, "2024-02", 1000)))

		// Reads inside the transaction see its own writes.
		inTx, err := st.Entries().Load(ctx, rent.LeaseAccount("lease-1"))
		require.NoError(t, err)
		assert.Len(t, inTx, 1)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.GetLease(ctx, "lease-1")
	assert.ErrorIs(t, err, generic.ErrNotFound)
	entries, err := store.Entries().Load(ctx, rent.LeaseAccount("lease-1"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_WithTx_Commit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(st rent.Store) error {
		if err := st.CreateLease(ctx, testLease("lease-1")); err != nil {
			return err
		}
		return st.Entries().AppendBatch(ctx, []generic.Entry{
			entry("e1", "pay-1", 1, generic.EntryCredit, "2024-02", 1000),
			entry("e2", "pay-1", 1, generic.EntryRemainder, "", 0),
		})
	})
	require.NoError(t, err)

	_, err = store.GetLease(ctx, "lease-1")
	assert.NoError(t, err)
	entries, err := store.Entries().LoadByPayment(ctx, "pay-1")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
