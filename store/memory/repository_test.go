package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rent-engine/generic"
	"github.com/warp/rent-engine/rent"
	"github.com/warp/rent-engine/store/memory"
)

func testLease(id string) *rent.Lease {
	return &rent.Lease{
		ID:         id,
		TenantID:   "tenant-1",
		StartDate:  generic.NewDate(2024, time.January, 1),
		EndDate:    generic.NewDate(2024, time.April, 1),
		RentAmount: generic.NewMoneyFromInt(1000),
		Status:     rent.LeaseActive,
		Terms:      rent.LeaseTerms{LateFee: &rent.LateFeePolicy{GracePeriodDays: 3}},
		Version:    1,
	}
}

func TestRepository_WithTx_RollbackRestoresEverything(t *testing.T) {
	// GIVEN: A stored lease with no ledger entries
	// WHEN: A transaction updates it, adds periods and credits, then fails
	// THEN: The lease, periods and ledger look untouched

	repo := memory.New()
	ctx := context.Background()
	require.NoError(t, repo.CreateLease(ctx, testLease("lease-1")))
	boom := errors.New("boom")

	err := repo.WithTx(ctx, func(st rent.Store) error {
		lease, err := st.GetLease(ctx, "lease-1")
		require.NoError(t, err)
		lease.RentAmount = generic.NewMoneyFromInt(5000)
		require.NoError(t, st.UpdateLease(ctx, lease))

		periods, err := rent.GenerateSchedule(*lease)
		require.NoError(t, err)
		require.NoError(t, st.SavePeriods(ctx, periods))

		require.NoError(t, st.Entries().Append(ctx, generic.Entry{
			ID:             "e1",
			AccountID:      rent.LeaseAccount("lease-1"),
			Target:         "2024-01",
			PaymentID:      "pay-1",
			Attempt:        1,
			Delta:          generic.NewMoneyFromInt(5000),
			Type:           generic.EntryCredit,
			IdempotencyKey: generic.EntryKey("pay-1", 1, generic.EntryCredit, "2024-01"),
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	lease, err := repo.GetLease(ctx, "lease-1")
	require.NoError(t, err)
	assert.Equal(t, "1000.00", lease.RentAmount.String())
	assert.Equal(t, 1, lease.Version)

	periods, err := repo.ListPeriods(ctx, "lease-1")
	require.NoError(t, err)
	assert.Empty(t, periods)

	entries, err := repo.Entries().LoadByPayment(ctx, "pay-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRepository_UpdateLease_StaleVersion(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()
	require.NoError(t, repo.CreateLease(ctx, testLease("lease-1")))

	stale, err := repo.GetLease(ctx, "lease-1")
	require.NoError(t, err)
	fresh, err := repo.GetLease(ctx, "lease-1")
	require.NoError(t, err)

	require.NoError(t, repo.UpdateLease(ctx, fresh))
	assert.Equal(t, 2, fresh.Version)

	err = repo.UpdateLease(ctx, stale)
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)
}

func TestRepository_ReturnsCopies(t *testing.T) {
	// GIVEN: A lease read from the repository
	// WHEN: The caller mutates it without saving
	// THEN: The stored lease is unchanged

	repo := memory.New()
	ctx := context.Background()
	require.NoError(t, repo.CreateLease(ctx, testLease("lease-1")))

	got, err := repo.GetLease(ctx, "lease-1")
	require.NoError(t, err)
	got.Status = rent.LeaseTerminated
	got.Terms.LateFee.GracePeriodDays = 99

	again, err := repo.GetLease(ctx, "lease-1")
	require.NoError(t, err)
	assert.Equal(t, rent.LeaseActive, again.Status)
	assert.Equal(t, 3, again.Terms.LateFee.GracePeriodDays)
}

func TestRepository_NotFound(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()

	_, err := repo.GetLease(ctx, "x")
	assert.True(t, generic.IsNotFound(err))
	_, err = repo.GetPayment(ctx, "x")
	assert.True(t, generic.IsNotFound(err))
	_, err = repo.GetInvoice(ctx, "x")
	assert.True(t, generic.IsNotFound(err))

	err = repo.SavePeriods(ctx, []rent.PaymentPeriod{{ID: "x:2024-01", LeaseID: "x"}})
	assert.True(t, generic.IsNotFound(err), "periods need their lease")
}
