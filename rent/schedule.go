/*
schedule.go - Period Generator

PURPOSE:
  Derives the monthly billing periods of a lease from its term and rent.

PARTITION:
  The term [StartDate, EndDate) is split at calendar month boundaries. The
  resulting periods are contiguous, never overlap, and there is exactly one
  per covered month.

  Lease 2024-01-15 → 2024-03-10, rent 1000:
    2024-01  [01-15, 02-01)  17/31 days  →  548.39
    2024-02  [02-01, 03-01)  full        → 1000.00
    2024-03  [03-01, 03-10)   9/31 days  →  290.32

PRORATION:
  rent × daysInPeriod / daysInCalendarMonth, rounded half-up to cents.

REGENERATION (lease update):
  - paid periods keep amount, payment and date; only their bounds follow the
    new partition
  - unpaid/overdue periods of elapsed months keep their rent snapshot
  - unpaid/overdue periods of the current or a future month get the new rent
  - months no longer covered are archived, never deleted
  - a month covered again revives its archived period (same ID)

SEE ALSO:
  - generic/period.go: SplitByMonth
  - reconcile.go: Statuses of regenerated periods are recomputed afterwards
*/
package rent

import (
	"fmt"
	"sort"

	"github.com/warp/rent-engine/generic"
)

// GenerateSchedule partitions the lease term into monthly periods.
func GenerateSchedule(lease Lease) ([]PaymentPeriod, error) {
	if err := validateTerm(lease); err != nil {
		return nil, err
	}

	segments, err := lease.Term().SplitByMonth()
	if err != nil {
		return nil, &InvalidScheduleError{LeaseID: lease.ID, Reason: err.Error()}
	}

	periods := make([]PaymentPeriod, 0, len(segments))
	for _, seg := range segments {
		periods = append(periods, PaymentPeriod{
			ID:         PeriodID(lease.ID, seg.Month),
			LeaseID:    lease.ID,
			Month:      seg.Month,
			Start:      seg.Period.Start,
			End:        seg.Period.End,
			RentAmount: periodRent(lease.RentAmount, seg),
			Status:     PeriodUnpaid,
		})
	}
	return periods, nil
}

func periodRent(rent generic.Money, seg generic.MonthSegment) generic.Money {
	if seg.Full() {
		return rent.Round()
	}
	return rent.Prorate(seg.Period.Days(), seg.Month.Days())
}

func validateTerm(lease Lease) error {
	if !lease.StartDate.Before(lease.EndDate) {
		return &InvalidScheduleError{
			LeaseID: lease.ID,
			Reason:  fmt.Sprintf("end date %s must be after start date %s", lease.EndDate, lease.StartDate),
		}
	}
	if !lease.RentAmount.IsPositive() {
		return &InvalidScheduleError{
			LeaseID: lease.ID,
			Reason:  fmt.Sprintf("rent amount must be positive, got %s", lease.RentAmount),
		}
	}
	return nil
}

// RegenerateSchedule rebuilds the schedule after the lease's term or rent
// changed. It returns every period of the lease, archived ones included,
// ordered by month. Statuses of replaced periods are reset to unpaid; run
// ReconcilePeriods afterwards to apply existing credit and overdue dates.
func RegenerateSchedule(lease Lease, existing []PaymentPeriod, today generic.Date) ([]PaymentPeriod, error) {
	if lease.IsTerminated() {
		return nil, fmt.Errorf("regenerate schedule of lease %s: %w", lease.ID, generic.ErrLeaseTerminated)
	}

	fresh, err := GenerateSchedule(lease)
	if err != nil {
		return nil, err
	}

	byMonth := make(map[generic.Month]PaymentPeriod, len(existing))
	for _, p := range existing {
		byMonth[p.Month] = p
	}

	current := generic.MonthOf(today)
	covered := make(map[generic.Month]bool, len(fresh))
	result := make([]PaymentPeriod, 0, len(fresh)+len(existing))

	for _, f := range fresh {
		covered[f.Month] = true

		old, ok := byMonth[f.Month]
		if !ok {
			result = append(result, f)
			continue
		}

		kept := old
		kept.Archived = false
		kept.Start, kept.End = f.Start, f.End

		switch {
		case old.Status == PeriodPaid:
			// Settled periods are never regenerated.
		case old.Month.Before(current):
			// Elapsed month: keep the rent it was billed at.
		default:
			kept.RentAmount = f.RentAmount
			kept.Status = PeriodUnpaid
			kept.PaidAt = nil
			kept.PaymentID = ""
		}
		result = append(result, kept)
	}

	for _, old := range existing {
		if covered[old.Month] {
			continue
		}
		old.Archived = true
		result = append(result, old)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Month.Before(result[j].Month)
	})
	return result, nil
}
