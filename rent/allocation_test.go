package rent_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rent-engine/generic"
	"github.com/warp/rent-engine/rent"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestAllocator() *rent.Allocator {
	n := 0
	return &rent.Allocator{NewID: func() string {
		n++
		return fmt.Sprintf("entry-%d", n)
	}}
}

func quarterPeriods(t *testing.T) []rent.PaymentPeriod {
	t.Helper()
	periods, err := rent.GenerateSchedule(quarterLease())
	require.NoError(t, err)
	return periods
}

func rentPayment(id string, amount int64, months ...generic.Month) rent.Payment {
	return rent.Payment{
		ID:            id,
		LeaseID:       "lease-1",
		TenantID:      "tenant-1",
		Amount:        money(amount),
		Type:          rent.PaymentRent,
		Status:        rent.PaymentCompleted,
		PaymentDate:   date(2024, time.January, 5),
		MonthsCovered: months,
	}
}

// apply replaces periods with the allocation's updated versions.
func apply(periods []rent.PaymentPeriod, updated []rent.PaymentPeriod) []rent.PaymentPeriod {
	out := append([]rent.PaymentPeriod(nil), periods...)
	for _, u := range updated {
		for i := range out {
			if out[i].ID == u.ID {
				out[i] = u
			}
		}
	}
	return out
}

func creditsByType(entries []generic.Entry, typ generic.EntryType) []generic.Entry {
	var out []generic.Entry
	for _, e := range entries {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// =============================================================================
// EXPLICIT MONTHS
// =============================================================================

func TestAllocate_ExplicitMonth(t *testing.T) {
	// GIVEN: Jan-Mar at 1000, all unpaid
	// WHEN: 1000 is paid for February
	// THEN: Only February is paid; one credit, zero remainder

	alloc := newTestAllocator()
	periods := quarterPeriods(t)

	result, err := alloc.Allocate(rent.AllocationInput{
		Payment: rentPayment("pay-1", 1000, month(2024, time.February)),
		Periods: periods,
	})
	require.NoError(t, err)

	require.Len(t, result.UpdatedPeriods, 1)
	feb := result.UpdatedPeriods[0]
	assert.Equal(t, "2024-02", feb.Month.String())
	assert.Equal(t, rent.PeriodPaid, feb.Status)
	assert.Equal(t, "pay-1", feb.PaymentID)
	require.NotNil(t, feb.PaidAt)
	assert.Equal(t, "2024-01-05", feb.PaidAt.String())

	credits := creditsByType(result.Entries, generic.EntryCredit)
	require.Len(t, credits, 1)
	assert.Equal(t, "2024-02", credits[0].Target)
	assert.Equal(t, rent.LeaseAccount("lease-1"), credits[0].AccountID)
	assert.Equal(t, 1, credits[0].Attempt)
	assert.Len(t, creditsByType(result.Entries, generic.EntryRemainder), 1)
	assert.True(t, result.Remainder.IsZero())
	assert.Nil(t, result.OverAllocation())
}

func TestAllocate_ExplicitMonths_OldestFirstWithPartial(t *testing.T) {
	// GIVEN: Months listed out of order [Mar, Feb, Feb]
	// WHEN: 1500 is paid
	// THEN: Feb is settled, Mar gets 500 of credit and stays open

	alloc := newTestAllocator()

	result, err := alloc.Allocate(rent.AllocationInput{
		Payment: rentPayment("pay-1", 1500, month(2024, time.March), month(2024, time.February), month(2024, time.February)),
		Periods: quarterPeriods(t),
	})
	require.NoError(t, err)

	credits := creditsByType(result.Entries, generic.EntryCredit)
	require.Len(t, credits, 2)
	assert.Equal(t, "2024-02", credits[0].Target)
	assert.Equal(t, "1000.00", credits[0].Delta.String())
	assert.Equal(t, "2024-03", credits[1].Target)
	assert.Equal(t, "500.00", credits[1].Delta.String())

	require.Len(t, result.UpdatedPeriods, 1, "March is only partially credited")
	assert.Equal(t, "1500.00", result.Applied.String())
}

func TestAllocate_ExplicitMonth_NotInLease(t *testing.T) {
	alloc := newTestAllocator()

	_, err := alloc.Allocate(rent.AllocationInput{
		Payment: rentPayment("pay-1", 1000, month(2024, time.July)),
		Periods: quarterPeriods(t),
	})

	assert.ErrorIs(t, err, generic.ErrInvalidAllocation)
	var allocErr *rent.InvalidAllocationError
	assert.ErrorAs(t, err, &allocErr)
}

func TestAllocate_ExplicitPaidMonth_AllRemainder(t *testing.T) {
	alloc := newTestAllocator()
	periods := quarterPeriods(t)
	periods[0] = markPaid(periods[0], "pay-0", date(2024, time.January, 2))

	result, err := alloc.Allocate(rent.AllocationInput{
		Payment: rentPayment("pay-1", 1000, month(2024, time.January)),
		Periods: periods,
	})
	require.NoError(t, err)

	assert.Empty(t, creditsByType(result.Entries, generic.EntryCredit))
	assert.Equal(t, "1000.00", result.Remainder.String())
	require.NotNil(t, result.OverAllocation())
	assert.Equal(t, "pay-1", result.OverAllocation().PaymentID)
}

// =============================================================================
// IMPLICIT (OLDEST FIRST)
// =============================================================================

func TestAllocate_Implicit_FillsWholePeriods(t *testing.T) {
	// GIVEN: Jan-Mar at 1000, all unpaid
	// WHEN: 2500 is paid without months
	// THEN: Jan and Feb paid, March untouched, remainder 500

	alloc := newTestAllocator()

	result, err := alloc.Allocate(rent.AllocationInput{
		Payment: rentPayment("pay-1", 2500),
		Periods: quarterPeriods(t),
	})
	require.NoError(t, err)

	require.Len(t, result.UpdatedPeriods, 2)
	assert.Equal(t, "2024-01", result.UpdatedPeriods[0].Month.String())
	assert.Equal(t, "2024-02", result.UpdatedPeriods[1].Month.String())
	assert.Equal(t, "2000.00", result.Applied.String())
	assert.Equal(t, "500.00", result.Remainder.String())
	assert.True(t, result.Overpaid())

	remainders := creditsByType(result.Entries, generic.EntryRemainder)
	require.Len(t, remainders, 1)
	assert.Equal(t, "500.00", remainders[0].Delta.String())
	assert.Empty(t, remainders[0].Target)
}

func TestAllocate_Implicit_SkipsPaidAndArchived(t *testing.T) {
	alloc := newTestAllocator()
	periods := quarterPeriods(t)
	periods[0] = markPaid(periods[0], "pay-0", date(2024, time.January, 2))
	periods[1].Archived = true

	result, err := alloc.Allocate(rent.AllocationInput{
		Payment: rentPayment("pay-1", 1000),
		Periods: periods,
	})
	require.NoError(t, err)

	require.Len(t, result.UpdatedPeriods, 1)
	assert.Equal(t, "2024-03", result.UpdatedPeriods[0].Month.String())
}

func TestAllocate_PartialCreditAccumulates(t *testing.T) {
	// GIVEN: 400 then 600 paid without months
	// THEN: January is credited 400 (still open), then settled by the 600

	alloc := newTestAllocator()
	periods := quarterPeriods(t)

	first, err := alloc.Allocate(rent.AllocationInput{Payment: rentPayment("pay-1", 400), Periods: periods})
	require.NoError(t, err)
	assert.Empty(t, first.UpdatedPeriods)
	assert.Equal(t, "400.00", first.Applied.String())
	assert.True(t, first.Remainder.IsZero())

	entries := first.Entries
	second, err := alloc.Allocate(rent.AllocationInput{Payment: rentPayment("pay-2", 600), Periods: periods, Entries: entries})
	require.NoError(t, err)

	require.Len(t, second.UpdatedPeriods, 1)
	jan := second.UpdatedPeriods[0]
	assert.Equal(t, "2024-01", jan.Month.String())
	assert.Equal(t, rent.PeriodPaid, jan.Status)
	assert.Equal(t, "pay-2", jan.PaymentID, "the settling payment is linked")

	all := append(entries, second.Entries...)
	assert.Equal(t, "1000.00", generic.CreditedTo(all, "2024-01").String())
}

// =============================================================================
// VALIDATION AND IDEMPOTENCE
// =============================================================================

func TestAllocate_RejectsUnusablePayments(t *testing.T) {
	cases := []struct {
		name    string
		payment rent.Payment
	}{
		{"zero amount", rentPayment("pay-1", 0)},
		{"negative amount", rentPayment("pay-1", -100)},
		{"pending", func() rent.Payment { p := rentPayment("pay-1", 1000); p.Status = rent.PaymentPending; return p }()},
		{"failed", func() rent.Payment { p := rentPayment("pay-1", 1000); p.Status = rent.PaymentFailed; return p }()},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := newTestAllocator().Allocate(rent.AllocationInput{Payment: tc.payment, Periods: quarterPeriods(t)})
			assert.ErrorIs(t, err, generic.ErrInvalidAllocation)
		})
	}
}

func TestAllocate_DuplicateRejected(t *testing.T) {
	// GIVEN: pay-1 already allocated
	// WHEN: It is allocated again
	// THEN: DuplicateAllocationError, nothing produced

	alloc := newTestAllocator()
	periods := quarterPeriods(t)

	first, err := alloc.Allocate(rent.AllocationInput{Payment: rentPayment("pay-1", 1000), Periods: periods})
	require.NoError(t, err)

	again, err := alloc.Allocate(rent.AllocationInput{
		Payment: rentPayment("pay-1", 1000),
		Periods: apply(periods, first.UpdatedPeriods),
		Entries: first.Entries,
	})

	assert.Nil(t, again)
	assert.ErrorIs(t, err, generic.ErrDuplicateAllocation)
	var dupErr *rent.DuplicateAllocationError
	require.ErrorAs(t, err, &dupErr)
	assert.Equal(t, 1, dupErr.Attempt)
}

func TestAllocate_DuplicateDetectedWhenNothingCredited(t *testing.T) {
	// GIVEN: A payment that was all remainder
	// THEN: Its remainder entry still blocks a replay

	alloc := newTestAllocator()
	periods := quarterPeriods(t)
	for i := range periods {
		periods[i] = markPaid(periods[i], "pay-0", date(2024, time.January, 2))
	}

	first, err := alloc.Allocate(rent.AllocationInput{Payment: rentPayment("pay-1", 300), Periods: periods})
	require.NoError(t, err)
	require.Len(t, first.Entries, 1)

	_, err = alloc.Allocate(rent.AllocationInput{Payment: rentPayment("pay-1", 300), Periods: periods, Entries: first.Entries})
	assert.ErrorIs(t, err, generic.ErrDuplicateAllocation)
}

// =============================================================================
// REVERSAL
// =============================================================================

func TestReverse_ReopensPeriodsAndAllowsReallocation(t *testing.T) {
	// GIVEN: pay-1 settled Jan and Feb
	// WHEN: It fails on Feb 15
	// THEN: Jan goes overdue, Feb back to unpaid; a retry uses attempt 2

	alloc := newTestAllocator()
	periods := quarterPeriods(t)

	first, err := alloc.Allocate(rent.AllocationInput{Payment: rentPayment("pay-1", 2000), Periods: periods})
	require.NoError(t, err)
	periods = apply(periods, first.UpdatedPeriods)
	entries := first.Entries

	reversed, err := alloc.Reverse(rent.ReversalInput{
		Payment:   rentPayment("pay-1", 2000),
		NewStatus: rent.PaymentFailed,
		Periods:   periods,
		Entries:   entries,
		Today:     date(2024, time.February, 15),
	})
	require.NoError(t, err)

	assert.Equal(t, "-2000.00", reversed.Applied.String())
	require.Len(t, reversed.UpdatedPeriods, 2)
	assert.Equal(t, rent.PeriodOverdue, reversed.UpdatedPeriods[0].Status)
	assert.Equal(t, rent.PeriodUnpaid, reversed.UpdatedPeriods[1].Status)
	assert.Nil(t, reversed.UpdatedPeriods[0].PaidAt)
	assert.Empty(t, reversed.UpdatedPeriods[0].PaymentID)
	for _, e := range reversed.Entries {
		assert.Equal(t, generic.EntryReversal, e.Type)
		assert.NotEmpty(t, e.ID)
	}

	periods = apply(periods, reversed.UpdatedPeriods)
	entries = append(entries, reversed.Entries...)
	assert.True(t, generic.CreditedTo(entries, "2024-01").IsZero())

	retry, err := alloc.Allocate(rent.AllocationInput{Payment: rentPayment("pay-1", 2000), Periods: periods, Entries: entries})
	require.NoError(t, err)
	assert.Equal(t, 2, retry.Attempt)
	assert.Len(t, retry.UpdatedPeriods, 2)
}

func TestReverse_NothingLive(t *testing.T) {
	_, err := newTestAllocator().Reverse(rent.ReversalInput{
		Payment:   rentPayment("pay-1", 1000),
		NewStatus: rent.PaymentCancelled,
		Periods:   quarterPeriods(t),
		Today:     date(2024, time.January, 10),
	})

	assert.ErrorIs(t, err, generic.ErrNotAllocated)
}

func TestReverse_InvalidStatus(t *testing.T) {
	_, err := newTestAllocator().Reverse(rent.ReversalInput{
		Payment:   rentPayment("pay-1", 1000),
		NewStatus: rent.PaymentCompleted,
	})

	assert.ErrorIs(t, err, generic.ErrInvalidAllocation)
}

// =============================================================================
// INVOICES
// =============================================================================

func sentInvoice() rent.Invoice {
	return rent.Invoice{
		ID:       "inv-1",
		TenantID: "tenant-1",
		Amount:   money(1500),
		DueDate:  date(2024, time.January, 31),
		Status:   rent.InvoiceSent,
	}
}

func invoicePayment(id string, amount int64) rent.Payment {
	p := rentPayment(id, amount)
	p.InvoiceID = "inv-1"
	return p
}

func TestAllocate_InvoiceInstallments(t *testing.T) {
	// GIVEN: A sent invoice of 1500
	// WHEN: 1000 then 500 are paid
	// THEN: Still sent after the first, paid after the second

	alloc := newTestAllocator()
	inv := sentInvoice()

	first, err := alloc.Allocate(rent.AllocationInput{Payment: invoicePayment("pay-1", 1000), Invoice: &inv})
	require.NoError(t, err)
	require.NotNil(t, first.UpdatedInvoice)
	assert.Equal(t, rent.InvoiceSent, first.UpdatedInvoice.Status)
	assert.Equal(t, "500.00", first.UpdatedInvoice.Balance().Outstanding().String())
	assert.Empty(t, inv.Payments, "input invoice is not mutated")

	second, err := alloc.Allocate(rent.AllocationInput{
		Payment: invoicePayment("pay-2", 500),
		Invoice: first.UpdatedInvoice,
		Entries: first.Entries,
	})
	require.NoError(t, err)
	assert.Equal(t, rent.InvoicePaid, second.UpdatedInvoice.Status)
	assert.Len(t, second.UpdatedInvoice.Payments, 2)

	credits := creditsByType(second.Entries, generic.EntryCredit)
	require.Len(t, credits, 1)
	assert.Equal(t, rent.InvoiceAccount("inv-1"), credits[0].AccountID)
	assert.Equal(t, "inv-1", credits[0].Target)
}

func TestAllocate_InvoiceOverpaid(t *testing.T) {
	inv := sentInvoice()

	result, err := newTestAllocator().Allocate(rent.AllocationInput{Payment: invoicePayment("pay-1", 2000), Invoice: &inv})
	require.NoError(t, err)

	assert.Equal(t, rent.InvoicePaid, result.UpdatedInvoice.Status)
	assert.Equal(t, "1500.00", result.Applied.String())
	assert.Equal(t, "500.00", result.Remainder.String())
}

func TestAllocate_InvoiceNotOpen(t *testing.T) {
	for _, status := range []rent.InvoiceStatus{rent.InvoiceDraft, rent.InvoicePaid, rent.InvoiceCancelled} {
		t.Run(string(status), func(t *testing.T) {
			inv := sentInvoice()
			inv.Status = status

			_, err := newTestAllocator().Allocate(rent.AllocationInput{Payment: invoicePayment("pay-1", 100), Invoice: &inv})
			assert.ErrorIs(t, err, generic.ErrInvalidAllocation)
		})
	}
}

func TestAllocate_InvoiceOtherTenant(t *testing.T) {
	inv := sentInvoice()
	p := invoicePayment("pay-1", 100)
	p.TenantID = "tenant-2"

	_, err := newTestAllocator().Allocate(rent.AllocationInput{Payment: p, Invoice: &inv})

	assert.ErrorIs(t, err, generic.ErrInvalidAllocation)
}

func TestReverse_InvoiceLeavesPaid(t *testing.T) {
	alloc := newTestAllocator()
	inv := sentInvoice()

	paid, err := alloc.Allocate(rent.AllocationInput{Payment: invoicePayment("pay-1", 1500), Invoice: &inv})
	require.NoError(t, err)
	require.Equal(t, rent.InvoicePaid, paid.UpdatedInvoice.Status)

	reversed, err := alloc.Reverse(rent.ReversalInput{
		Payment:   invoicePayment("pay-1", 1500),
		NewStatus: rent.PaymentFailed,
		Invoice:   paid.UpdatedInvoice,
		Entries:   paid.Entries,
		Today:     date(2024, time.February, 2),
	})
	require.NoError(t, err)

	require.NotNil(t, reversed.UpdatedInvoice)
	assert.Equal(t, rent.InvoiceOverdue, reversed.UpdatedInvoice.Status)
	assert.Equal(t, rent.PaymentFailed, reversed.UpdatedInvoice.Payments[0].Status)
	assert.True(t, reversed.UpdatedInvoice.PaidAmount().IsZero())
}
