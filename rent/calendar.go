package rent

import (
	"sort"

	"github.com/warp/rent-engine/generic"
)

// ProjectCalendar assembles the payment calendar of a lease. It only
// aggregates the stored statuses; reconcile first for up-to-date ones.
// Archived periods are left out.
func ProjectCalendar(lease Lease, periods []PaymentPeriod) PaymentCalendar {
	visible := make([]PaymentPeriod, 0, len(periods))
	for _, p := range periods {
		if !p.Archived {
			visible = append(visible, p)
		}
	}
	sort.Slice(visible, func(i, j int) bool { return visible[i].Start.Before(visible[j].Start) })

	summary := CalendarSummary{
		TotalRent:   generic.Zero(),
		PaidRent:    generic.Zero(),
		UnpaidRent:  generic.Zero(),
		OverdueRent: generic.Zero(),
	}
	for _, p := range visible {
		summary.TotalPeriods++
		summary.TotalRent = summary.TotalRent.Add(p.RentAmount)
		switch p.Status {
		case PeriodPaid:
			summary.PaidPeriods++
			summary.PaidRent = summary.PaidRent.Add(p.RentAmount)
		case PeriodOverdue:
			summary.OverduePeriods++
			summary.OverdueRent = summary.OverdueRent.Add(p.RentAmount)
		default:
			summary.UnpaidPeriods++
			summary.UnpaidRent = summary.UnpaidRent.Add(p.RentAmount)
		}
	}

	return PaymentCalendar{
		LeaseID:    lease.ID,
		StartDate:  lease.StartDate,
		EndDate:    lease.EndDate,
		RentAmount: lease.RentAmount,
		Periods:    visible,
		Summary:    summary,
	}
}
