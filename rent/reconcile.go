/*
reconcile.go - Status Reconciler

PURPOSE:
  Recomputes derived statuses from records, ledger credits and "today".
  Reconcilers are pure and idempotent: running one twice on unchanged
  inputs yields no changes the second time.

STATE MACHINES:
  Period:  unpaid ──(today > due)──▶ overdue
           unpaid|overdue ──(credit ≥ rent)──▶ paid
           paid is terminal here; only Allocator.Reverse leaves it

  Invoice: draft ──send──▶ sent ──(today > due, balance left)──▶ overdue
           sent|overdue ──(completed payments ≥ amount)──▶ paid
           any non-paid ──cancel──▶ cancelled (terminal)

  Lease:   active ──(today ≥ end)──▶ expired
           active ──terminate──▶ terminated (terminal)

TERMINATED LEASES:
  Periods starting on or after the termination date are frozen: they are
  neither marked overdue nor settled.

SEE ALSO:
  - allocation.go: Produces the credits read here
  - service.go: Runs reconcilers after every allocation and on the scan
*/
package rent

import (
	"github.com/warp/rent-engine/generic"
)

// Change records one derived status transition.
type Change struct {
	Kind string // "period", "invoice", "lease"
	ID   string
	From string
	To   string
}

// ReconcilePeriods brings the statuses of a lease's periods up to date.
// It returns a copy of periods and the changes made.
func ReconcilePeriods(lease Lease, periods []PaymentPeriod, entries []generic.Entry, today generic.Date) ([]PaymentPeriod, []Change) {
	credits := generic.CreditsByTarget(entries)
	out := make([]PaymentPeriod, len(periods))
	var changes []Change

	for i, per := range periods {
		out[i] = per
		if !lease.Bills(per) || per.Status == PeriodPaid {
			continue
		}

		target := per.Month.String()
		credited, ok := credits[target]
		if !ok {
			credited = generic.Zero()
		}

		next := per
		if credited.GreaterThanOrEqual(per.RentAmount) {
			next.Status = PeriodPaid
			if e, found := latestCredit(entries, target); found {
				next.PaymentID = e.PaymentID
				next.PaidAt = e.EffectiveAt.Ptr()
			}
		} else if per.Status == PeriodUnpaid && per.IsOverdueOn(today) {
			next.Status = PeriodOverdue
		}

		if next.Status != per.Status {
			out[i] = next
			changes = append(changes, Change{Kind: "period", ID: per.ID, From: string(per.Status), To: string(next.Status)})
		}
	}
	return out, changes
}

// latestCredit returns the most recent live credit entry toward target.
func latestCredit(entries []generic.Entry, target string) (generic.Entry, bool) {
	paymentID := generic.LatestCreditor(entries, target, "")
	if paymentID == "" {
		return generic.Entry{}, false
	}
	var found generic.Entry
	ok := false
	for _, e := range entries {
		if e.Type == generic.EntryCredit && e.Target == target && e.PaymentID == paymentID {
			found, ok = e, true
		}
	}
	return found, ok
}

// ReconcileInvoice derives the status of a sent, overdue or paid invoice.
// Drafts and cancelled invoices are left alone.
func ReconcileInvoice(inv Invoice, today generic.Date) (Invoice, []Change) {
	switch inv.Status {
	case InvoiceDraft, InvoiceCancelled:
		return inv, nil
	}

	next := invoiceStatusOn(inv, today)
	if next == inv.Status {
		return inv, nil
	}
	updated := inv
	updated.Status = next
	return updated, []Change{{Kind: "invoice", ID: inv.ID, From: string(inv.Status), To: string(next)}}
}

func invoiceStatusOn(inv Invoice, today generic.Date) InvoiceStatus {
	if inv.Balance().Settled() {
		return InvoicePaid
	}
	if today.After(inv.DueDate) {
		return InvoiceOverdue
	}
	if inv.Status == InvoiceOverdue {
		// Overdue never goes back to sent, even if the due date moved.
		return InvoiceOverdue
	}
	return InvoiceSent
}

// ReconcileLease expires an active lease whose term has ended.
func ReconcileLease(lease Lease, today generic.Date) (Lease, []Change) {
	if lease.Status != LeaseActive || today.Before(lease.EndDate) {
		return lease, nil
	}
	updated := lease
	updated.Status = LeaseExpired
	return updated, []Change{{Kind: "lease", ID: lease.ID, From: string(LeaseActive), To: string(LeaseExpired)}}
}
