package rent_test

import (
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

func date(y int, m time.Month, d int) generic.Date { return generic.NewDate(y, m, d) }

func month(y int, m time.Month) generic.Month { return generic.NewMonth(y, m) }

func money(v int64) generic.Money { return generic.NewMoneyFromInt(v) }

func newLease(start, end generic.Date, amount int64) rent.Lease {
	return rent.Lease{
		ID:         "lease-1",
		TenantID:   "tenant-1",
		StartDate:  start,
		EndDate:    end,
		RentAmount: money(amount),
		Status:     rent.LeaseActive,
		Version:    1,
	}
}

// quarterLease bills January to March 2024 at 1000 a month.
func quarterLease() rent.Lease {
	return newLease(date(2024, time.January, 1), date(2024, time.April, 1), 1000)
}

func amounts(periods []rent.PaymentPeriod) []string {
	out := make([]string, len(periods))
	for i, p := range periods {
		out[i] = p.RentAmount.String()
	}
	return out
}

// =============================================================================
// GENERATION TESTS
// =============================================================================

func TestGenerateSchedule_ProratesBoundaryMonths(t *testing.T) {
	// GIVEN: Lease from Jan 15 to Mar 10 at 1000
	// THEN: Jan 17/31, Feb full, Mar 9/31

	lease := newLease(date(2024, time.January, 15), date(2024, time.March, 10), 1000)

	periods, err := rent.GenerateSchedule(lease)
	require.NoError(t, err)

	require.Len(t, periods, 3)
	assert.Equal(t, []string{"548.39", "1000.00", "290.32"}, amounts(periods))
	assert.Equal(t, "2024-01-15", periods[0].Start.String())
	assert.Equal(t, "2024-02-01", periods[0].End.String())
	assert.Equal(t, "2024-03-01", periods[2].Start.String())
	assert.Equal(t, "2024-03-10", periods[2].End.String())
	for _, p := range periods {
		assert.Equal(t, rent.PeriodUnpaid, p.Status)
		assert.Equal(t, rent.PeriodID("lease-1", p.Month), p.ID)
	}
}

func TestGenerateSchedule_FullMonths(t *testing.T) {
	periods, err := rent.GenerateSchedule(quarterLease())
	require.NoError(t, err)

	assert.Equal(t, []string{"1000.00", "1000.00", "1000.00"}, amounts(periods))
	assert.Equal(t, "2024-01-31", periods[0].DueDate().String())
	assert.Equal(t, "2024-02-29", periods[1].DueDate().String(), "leap year")
}

func TestGenerateSchedule_PartitionsTerm(t *testing.T) {
	// GIVEN: Various terms, including single-day and year-spanning ones
	// THEN: Periods are contiguous, cover the term exactly, one per month

	cases := []struct {
		name       string
		start, end generic.Date
	}{
		{"single day", date(2024, time.February, 10), date(2024, time.February, 11)},
		{"inside one month", date(2024, time.February, 3), date(2024, time.February, 20)},
		{"year boundary", date(2023, time.November, 20), date(2024, time.February, 5)},
		{"full year", date(2024, time.January, 1), date(2025, time.January, 1)},
		{"month end to month end", date(2024, time.January, 31), date(2024, time.March, 31)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			periods, err := rent.GenerateSchedule(newLease(tc.start, tc.end, 1234))
			require.NoError(t, err)
			require.NotEmpty(t, periods)

			assert.True(t, periods[0].Start.Equal(tc.start))
			assert.True(t, periods[len(periods)-1].End.Equal(tc.end))

			seen := map[generic.Month]bool{}
			for i, p := range periods {
				assert.True(t, p.Start.Before(p.End), "non-empty period %s", p.Month)
				assert.False(t, seen[p.Month], "one period per month")
				seen[p.Month] = true
				if i > 0 {
					assert.True(t, periods[i-1].End.Equal(p.Start), "contiguous at %s", p.Month)
				}
				assert.False(t, p.RentAmount.GreaterThan(money(1234)), "proration never exceeds rent")
			}
		})
	}
}

func TestGenerateSchedule_Invalid(t *testing.T) {
	cases := []struct {
		name  string
		lease rent.Lease
	}{
		{"end equals start", newLease(date(2024, time.March, 1), date(2024, time.March, 1), 1000)},
		{"end before start", newLease(date(2024, time.March, 1), date(2024, time.February, 1), 1000)},
		{"zero rent", newLease(date(2024, time.January, 1), date(2024, time.March, 1), 0)},
		{"negative rent", newLease(date(2024, time.January, 1), date(2024, time.March, 1), -5)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := rent.GenerateSchedule(tc.lease)

			assert.ErrorIs(t, err, generic.ErrInvalidSchedule)
			var schedErr *rent.InvalidScheduleError
			assert.ErrorAs(t, err, &schedErr)
			assert.True(t, generic.IsClientError(err))
		})
	}
}

// =============================================================================
// REGENERATION TESTS
// =============================================================================

func markPaid(p rent.PaymentPeriod, paymentID string, on generic.Date) rent.PaymentPeriod {
	p.Status = rent.PeriodPaid
	p.PaymentID = paymentID
	p.PaidAt = on.Ptr()
	return p
}

func TestRegenerateSchedule_KeepsPaidPeriods(t *testing.T) {
	// GIVEN: January is paid
	// WHEN: Rent rises to 1200 on Feb 10
	// THEN: January keeps 1000 and its payment; Feb and Mar bill 1200

	lease := quarterLease()
	existing, err := rent.GenerateSchedule(lease)
	require.NoError(t, err)
	existing[0] = markPaid(existing[0], "pay-1", date(2024, time.January, 3))

	lease.RentAmount = money(1200)
	periods, err := rent.RegenerateSchedule(lease, existing, date(2024, time.February, 10))
	require.NoError(t, err)

	require.Len(t, periods, 3)
	assert.Equal(t, []string{"1000.00", "1200.00", "1200.00"}, amounts(periods))
	assert.Equal(t, rent.PeriodPaid, periods[0].Status)
	assert.Equal(t, "pay-1", periods[0].PaymentID)
	assert.Equal(t, existing[0].ID, periods[0].ID)
}

func TestRegenerateSchedule_ElapsedUnpaidKeepsSnapshot(t *testing.T) {
	// GIVEN: January and February unpaid, today is March 5
	// WHEN: Rent changes to 900
	// THEN: Elapsed Jan and Feb keep 1000, current March bills 900

	lease := quarterLease()
	existing, err := rent.GenerateSchedule(lease)
	require.NoError(t, err)
	existing[0].Status = rent.PeriodOverdue

	lease.RentAmount = money(900)
	periods, err := rent.RegenerateSchedule(lease, existing, date(2024, time.March, 5))
	require.NoError(t, err)

	assert.Equal(t, []string{"1000.00", "1000.00", "900.00"}, amounts(periods))
	assert.Equal(t, rent.PeriodOverdue, periods[0].Status, "status left for the reconciler")
}

func TestRegenerateSchedule_ShortenArchivesAndExtendRevives(t *testing.T) {
	// GIVEN: A Jan-Mar lease
	// WHEN: The term is cut to January only, then extended to April
	// THEN: Feb and Mar are archived, then revived with the same IDs

	lease := quarterLease()
	existing, err := rent.GenerateSchedule(lease)
	require.NoError(t, err)
	today := date(2024, time.January, 10)

	lease.EndDate = date(2024, time.February, 1)
	shortened, err := rent.RegenerateSchedule(lease, existing, today)
	require.NoError(t, err)

	require.Len(t, shortened, 3, "archived periods are returned, never dropped")
	assert.False(t, shortened[0].Archived)
	assert.True(t, shortened[1].Archived)
	assert.True(t, shortened[2].Archived)

	lease.EndDate = date(2024, time.May, 1)
	extended, err := rent.RegenerateSchedule(lease, shortened, today)
	require.NoError(t, err)

	require.Len(t, extended, 4)
	for _, p := range extended {
		assert.False(t, p.Archived, "%s is covered again", p.Month)
	}
	assert.Equal(t, shortened[1].ID, extended[1].ID)
	assert.Equal(t, "2024-04", extended[3].Month.String())
}

func TestRegenerateSchedule_PaidBoundsFollowNewStart(t *testing.T) {
	// GIVEN: January paid on a lease starting Jan 1
	// WHEN: Start moves to Jan 15
	// THEN: January keeps its paid amount but its bounds are realigned

	lease := quarterLease()
	existing, err := rent.GenerateSchedule(lease)
	require.NoError(t, err)
	existing[0] = markPaid(existing[0], "pay-1", date(2024, time.January, 2))

	lease.StartDate = date(2024, time.January, 15)
	periods, err := rent.RegenerateSchedule(lease, existing, date(2024, time.January, 20))
	require.NoError(t, err)

	assert.Equal(t, "2024-01-15", periods[0].Start.String())
	assert.Equal(t, "1000.00", periods[0].RentAmount.String())
	assert.Equal(t, rent.PeriodPaid, periods[0].Status)
}

func TestRegenerateSchedule_TerminatedRefused(t *testing.T) {
	lease := quarterLease()
	existing, err := rent.GenerateSchedule(lease)
	require.NoError(t, err)

	lease.Status = rent.LeaseTerminated
	_, err = rent.RegenerateSchedule(lease, existing, date(2024, time.January, 10))

	assert.ErrorIs(t, err, generic.ErrLeaseTerminated)
}
