/*
allocation.go - Allocation Engine

PURPOSE:
  Applies a payment to a lease's periods or to an invoice. The result lists
  the ledger entries to append and the records whose status changed; the
  caller persists both in one transaction.

PERIOD TARGETING:
  Explicit (payment.MonthsCovered set):
    Months are processed oldest-first. Each month receives
    min(remaining, outstanding). Paid months receive nothing.

  Implicit (no months):
    Open periods (unpaid/overdue) are filled oldest-first while the
    remaining amount settles the next one in full. A payment too small to
    settle even the oldest open period is recorded as partial credit on it.

    3 open periods × 1000, payment 2500:
      Jan  +1000  → paid
      Feb  +1000  → paid
      Mar  nothing (500 cannot settle it)
      remainder 500

PARTIAL CREDIT:
  There is no half-paid status. Credits toward a month are summed from the
  ledger; the period turns paid once they reach its rent.

REMAINDER:
  Whatever the targets could not absorb. It is reported, never applied
  elsewhere: the caller decides what to do with it.

IDEMPOTENCE:
  A payment with a live (unreversed) allocation is rejected with
  DuplicateAllocationError. Every allocation writes a remainder entry, even
  of zero, so a replay is detected when nothing was credited.

SEE ALSO:
  - generic/balance.go: PaymentState, ReversalsFor
  - reconcile.go: Run after allocation for overdue transitions
*/
package rent

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/warp/rent-engine/generic"
)

// =============================================================================
// INPUT / RESULT
// =============================================================================

type AllocationInput struct {
	Payment Payment

	// Periods are the lease's periods. Ignored when Invoice is set.
	Periods []PaymentPeriod

	// Invoice is the target when the payment references one.
	Invoice *Invoice

	// Entries are the ledger entries of the target account.
	Entries []generic.Entry

	// PaymentEntries are every entry the payment produced in any account.
	// When nil, the payment's state is derived from Entries.
	PaymentEntries []generic.Entry
}

type AllocationResult struct {
	PaymentID string
	Attempt   int

	// UpdatedPeriods holds only periods whose status or linkage changed.
	UpdatedPeriods []PaymentPeriod
	UpdatedInvoice *Invoice

	// Entries must be appended to the ledger.
	Entries []generic.Entry

	Applied   generic.Money
	Remainder generic.Money
}

// Overpaid reports whether part of the payment was not absorbed.
func (r *AllocationResult) Overpaid() bool { return r.Remainder.IsPositive() }

// OverAllocation describes the remainder, or returns nil when there is none.
func (r *AllocationResult) OverAllocation() *OverAllocationError {
	if !r.Overpaid() {
		return nil
	}
	return &OverAllocationError{PaymentID: r.PaymentID, Applied: r.Applied, Remainder: r.Remainder}
}

// =============================================================================
// ALLOCATOR
// =============================================================================

type Allocator struct {
	// NewID generates ledger entry IDs.
	NewID func() string
}

func NewAllocator() *Allocator {
	return &Allocator{NewID: uuid.NewString}
}

// Allocate applies in.Payment to its target.
func (a *Allocator) Allocate(in AllocationInput) (*AllocationResult, error) {
	p := in.Payment
	if !p.Amount.IsPositive() {
		return nil, &InvalidAllocationError{PaymentID: p.ID, Reason: fmt.Sprintf("amount must be positive, got %s", p.Amount)}
	}
	if !p.Usable() {
		return nil, &InvalidAllocationError{PaymentID: p.ID, Reason: fmt.Sprintf("payment is %s", p.Status)}
	}

	history := in.PaymentEntries
	if history == nil {
		history = in.Entries
	}
	state := generic.PaymentState(p.ID, history)
	if state.Live {
		return nil, &DuplicateAllocationError{PaymentID: p.ID, Attempt: state.LastAttempt}
	}

	b := &entryBuilder{payment: p, attempt: state.NextAttempt(), newID: a.newID()}
	if in.Invoice != nil {
		return a.allocateInvoice(b, *in.Invoice)
	}
	return a.allocatePeriods(b, in.Periods, in.Entries)
}

func (a *Allocator) newID() func() string {
	if a.NewID != nil {
		return a.NewID
	}
	return uuid.NewString
}

func (a *Allocator) allocatePeriods(b *entryBuilder, periods []PaymentPeriod, entries []generic.Entry) (*AllocationResult, error) {
	p := b.payment
	account := LeaseAccount(p.LeaseID)
	credits := generic.CreditsByTarget(entries)

	live := make([]PaymentPeriod, 0, len(periods))
	for _, per := range periods {
		if !per.Archived {
			live = append(live, per)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].Start.Before(live[j].Start) })

	balance := func(per PaymentPeriod) generic.Balance {
		credited, ok := credits[per.Month.String()]
		if !ok {
			credited = generic.Zero()
		}
		return generic.Balance{Target: per.Month.String(), Due: per.RentAmount, Credited: credited}
	}

	type credit struct {
		period PaymentPeriod
		amount generic.Money
	}
	var plan []credit
	remaining := p.Amount.Round()

	if len(p.MonthsCovered) > 0 {
		byMonth := make(map[generic.Month]PaymentPeriod, len(live))
		for _, per := range live {
			byMonth[per.Month] = per
		}
		for _, m := range sortedMonths(p.MonthsCovered) {
			per, ok := byMonth[m]
			if !ok {
				return nil, &InvalidAllocationError{PaymentID: p.ID, Reason: fmt.Sprintf("lease has no billing period for %s", m)}
			}
			if per.Status == PeriodPaid || !remaining.IsPositive() {
				continue
			}
			amount := remaining.Min(balance(per).Outstanding())
			if amount.IsPositive() {
				plan = append(plan, credit{per, amount})
				remaining = remaining.Sub(amount)
			}
		}
	} else {
		for i, per := range openPeriods(live) {
			outstanding := balance(per).Outstanding()
			if remaining.GreaterThanOrEqual(outstanding) {
				plan = append(plan, credit{per, outstanding})
				remaining = remaining.Sub(outstanding)
				continue
			}
			if i == 0 {
				plan = append(plan, credit{per, remaining})
				remaining = generic.Zero()
			}
			break
		}
	}

	result := &AllocationResult{PaymentID: p.ID, Attempt: b.attempt, Applied: generic.Zero()}
	for _, c := range plan {
		target := c.period.Month.String()
		result.Entries = append(result.Entries, b.credit(account, target, c.amount, "rent payment"))
		result.Applied = result.Applied.Add(c.amount)

		bal := balance(c.period)
		bal.Credited = bal.Credited.Add(c.amount)
		if bal.Settled() && c.period.Status != PeriodPaid {
			settled := c.period
			settled.Status = PeriodPaid
			settled.PaidAt = p.PaymentDate.Ptr()
			settled.PaymentID = p.ID
			result.UpdatedPeriods = append(result.UpdatedPeriods, settled)
		}
	}

	result.Remainder = remaining
	result.Entries = append(result.Entries, b.remainder(account, remaining))
	return result, nil
}

func (a *Allocator) allocateInvoice(b *entryBuilder, inv Invoice) (*AllocationResult, error) {
	p := b.payment
	if !inv.IsOpen() {
		return nil, &InvalidAllocationError{PaymentID: p.ID, Reason: fmt.Sprintf("invoice %s is %s", inv.ID, inv.Status)}
	}
	if p.TenantID != "" && inv.TenantID != "" && p.TenantID != inv.TenantID {
		return nil, &InvalidAllocationError{PaymentID: p.ID, Reason: fmt.Sprintf("invoice %s belongs to another tenant", inv.ID)}
	}

	account := InvoiceAccount(inv.ID)
	amount := p.Amount.Round()
	applied := amount.Min(inv.Balance().Outstanding())

	updated := inv.clone()
	updated.Payments = append(updated.Payments, InvoicePayment{
		PaymentID:   p.ID,
		Amount:      applied,
		PaymentDate: p.PaymentDate,
		Status:      PaymentCompleted,
	})
	if updated.Balance().Settled() {
		updated.Status = InvoicePaid
	}

	result := &AllocationResult{
		PaymentID:      p.ID,
		Attempt:        b.attempt,
		UpdatedInvoice: &updated,
		Applied:        applied,
		Remainder:      amount.Sub(applied),
	}
	if applied.IsPositive() {
		result.Entries = append(result.Entries, b.credit(account, inv.ID, applied, "invoice payment"))
	}
	result.Entries = append(result.Entries, b.remainder(account, result.Remainder))
	return result, nil
}

// openPeriods returns unsettled periods, oldest first.
func openPeriods(periods []PaymentPeriod) []PaymentPeriod {
	var open []PaymentPeriod
	for _, per := range periods {
		if per.Status != PeriodPaid {
			open = append(open, per)
		}
	}
	return open
}

func sortedMonths(months []generic.Month) []generic.Month {
	seen := make(map[generic.Month]bool, len(months))
	out := make([]generic.Month, 0, len(months))
	for _, m := range months {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// =============================================================================
// REVERSAL
// =============================================================================

type ReversalInput struct {
	Payment Payment

	// NewStatus is failed or cancelled.
	NewStatus PaymentStatus

	Periods []PaymentPeriod
	Invoice *Invoice
	Entries []generic.Entry

	Today  generic.Date
	Reason string
}

// Reverse cancels the payment's live allocation. Periods that drop below
// their rent go back to unpaid or overdue; an invoice that no longer has
// enough completed payments leaves the paid status.
func (a *Allocator) Reverse(in ReversalInput) (*AllocationResult, error) {
	p := in.Payment
	if in.NewStatus != PaymentFailed && in.NewStatus != PaymentCancelled {
		return nil, &InvalidAllocationError{PaymentID: p.ID, Reason: fmt.Sprintf("cannot reverse to status %q", in.NewStatus)}
	}

	reason := in.Reason
	if reason == "" {
		reason = "payment " + string(in.NewStatus)
	}

	reversals := generic.ReversalsFor(p.ID, in.Entries, in.Today, reason)
	if len(reversals) == 0 {
		return nil, fmt.Errorf("reverse payment %s: %w", p.ID, generic.ErrNotAllocated)
	}
	newID := a.newID()
	withdrawn := generic.Zero()
	for i := range reversals {
		reversals[i].ID = generic.EntryID(newID())
		withdrawn = withdrawn.Add(reversals[i].Delta)
	}

	// Applied is the (non-positive) change in credit.
	result := &AllocationResult{
		PaymentID: p.ID,
		Attempt:   reversals[0].Attempt,
		Entries:   reversals,
		Applied:   withdrawn,
		Remainder: generic.Zero(),
	}

	if in.Invoice != nil {
		inv := in.Invoice.clone()
		for i := range inv.Payments {
			if inv.Payments[i].PaymentID == p.ID && inv.Payments[i].Status == PaymentCompleted {
				inv.Payments[i].Status = in.NewStatus
			}
		}
		// Cancelled is terminal.
		if inv.Status != InvoiceCancelled {
			inv.Status = invoiceStatusOn(inv, in.Today)
		}
		result.UpdatedInvoice = &inv
		return result, nil
	}

	all := append(append([]generic.Entry(nil), in.Entries...), reversals...)
	credits := generic.CreditsByTarget(all)
	touched := make(map[string]bool, len(reversals))
	for _, r := range reversals {
		touched[r.Target] = true
	}

	for _, per := range in.Periods {
		target := per.Month.String()
		if per.Archived || per.Status != PeriodPaid || (!touched[target] && per.PaymentID != p.ID) {
			continue
		}
		credited, ok := credits[target]
		if !ok {
			credited = generic.Zero()
		}

		updated := per
		if credited.LessThan(per.RentAmount) {
			updated.Status = per.openStatus(in.Today)
			updated.PaidAt = nil
			updated.PaymentID = ""
		} else if per.PaymentID == p.ID {
			// Still settled by other payments: the latest of them wins.
			updated.PaymentID = generic.LatestCreditor(all, target, p.ID)
		} else {
			continue
		}
		result.UpdatedPeriods = append(result.UpdatedPeriods, updated)
	}
	return result, nil
}

// =============================================================================
// ENTRY BUILDER
// =============================================================================

type entryBuilder struct {
	payment Payment
	attempt int
	newID   func() string
}

func (b *entryBuilder) credit(account generic.AccountID, target string, amount generic.Money, reason string) generic.Entry {
	return b.entry(account, target, amount, generic.EntryCredit, reason)
}

func (b *entryBuilder) remainder(account generic.AccountID, amount generic.Money) generic.Entry {
	return b.entry(account, "", amount, generic.EntryRemainder, "unapplied remainder")
}

func (b *entryBuilder) entry(account generic.AccountID, target string, amount generic.Money, typ generic.EntryType, reason string) generic.Entry {
	return generic.Entry{
		ID:             generic.EntryID(b.newID()),
		AccountID:      account,
		Target:         target,
		PaymentID:      b.payment.ID,
		Attempt:        b.attempt,
		EffectiveAt:    b.payment.PaymentDate,
		Delta:          amount,
		Type:           typ,
		Reason:         reason,
		IdempotencyKey: generic.EntryKey(b.payment.ID, b.attempt, typ, target),
		Metadata:       map[string]string{"payment_type": string(b.payment.Type)},
	}
}
