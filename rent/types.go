/*
Package rent implements rent billing and reconciliation on top of the
generic money, calendar and ledger primitives.

PURPOSE:
  A lease owns a schedule of monthly billing periods. Payments are applied
  to those periods (or to an invoice), and derived statuses of periods,
  invoices and leases are kept consistent as payments arrive, bounce, and
  as time passes.

COMPONENTS:
  schedule.go:   Period Generator    lease term -> ordered monthly periods
  allocation.go: Allocation Engine   payment -> credits, settled periods, remainder
  reconcile.go:  Status Reconciler   (records, ledger, today) -> status changes
  calendar.go:   Calendar Projector  read-only view of a lease's periods
  service.go:    Service             per-lease serialization and persistence

CONTROL FLOW:
  CreateLease/UpdateLease ──▶ GenerateSchedule / RegenerateSchedule
  RecordPayment ──▶ Allocate ──▶ ReconcilePeriods ──▶ persist (one tx)
  scheduler tick ──▶ ReconcileAll ──▶ per lease: ReconcileLease + ReconcilePeriods

PURITY:
  Everything except service.go is pure: functions receive records, ledger
  entries and "today" and return new records. They never read a clock or a
  store, so every failure leaves the caller's state untouched.

SEE ALSO:
  - generic/ledger.go: Credits are ledger entries, partial credit included
  - lock/lock.go: Per-lease mutual exclusion used by Service
*/
package rent

import (
	"time"

	"github.com/warp/rent-engine/generic"
)

// =============================================================================
// LEASE
// =============================================================================

type LeaseStatus string

const (
	LeaseActive     LeaseStatus = "active"
	LeaseExpired    LeaseStatus = "expired"
	LeaseTerminated LeaseStatus = "terminated"
)

// LeaseTransitions lists the status changes a lease may go through.
var LeaseTransitions = map[string][]string{
	string(LeaseActive):  {string(LeaseExpired), string(LeaseTerminated)},
	string(LeaseExpired): {string(LeaseActive), string(LeaseTerminated)},
}

type Lease struct {
	ID         string
	TenantID   string
	UnitID     string
	BuildingID string

	// Term is [StartDate, EndDate).
	StartDate generic.Date
	EndDate   generic.Date

	RentAmount      generic.Money
	SecurityDeposit *generic.Money

	Status       LeaseStatus
	Terms        LeaseTerms
	TerminatedAt *generic.Date

	// Version is incremented by every successful update (optimistic locking).
	Version int

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (l Lease) Term() generic.Period {
	return generic.Period{Start: l.StartDate, End: l.EndDate}
}

func (l Lease) IsTerminated() bool { return l.Status == LeaseTerminated }

// Bills reports whether the lease still bills period p. A terminated lease
// stops billing periods that start on or after the termination date.
func (l Lease) Bills(p PaymentPeriod) bool {
	if p.Archived {
		return false
	}
	if l.TerminatedAt != nil && p.Start.AfterOrEqual(*l.TerminatedAt) {
		return false
	}
	return true
}

// LeaseTerms are the optional contractual terms of a lease. Every key is
// documented here; anything else goes in Custom.
type LeaseTerms struct {
	LateFee           *LateFeePolicy    `json:"late_fee,omitempty"`
	UtilitiesIncluded []string          `json:"utilities_included,omitempty"`
	PetsAllowed       bool              `json:"pets_allowed"`
	NoticePeriodDays  int               `json:"notice_period_days,omitempty"`
	Notes             string            `json:"notes,omitempty"`
	Custom            map[string]string `json:"custom,omitempty"`
}

// LateFeePolicy is recorded with the lease. The engine does not charge fees.
type LateFeePolicy struct {
	GracePeriodDays int           `json:"grace_period_days"`
	FlatAmount      generic.Money `json:"flat_amount"`
}

// =============================================================================
// PAYMENT PERIOD
// =============================================================================

type PeriodStatus string

const (
	PeriodUnpaid  PeriodStatus = "unpaid"
	PeriodPaid    PeriodStatus = "paid"
	PeriodOverdue PeriodStatus = "overdue"
)

// PaymentPeriod is one monthly billing cycle of a lease.
type PaymentPeriod struct {
	ID      string
	LeaseID string
	Month   generic.Month

	// [Start, End), clipped to the lease term.
	Start generic.Date
	End   generic.Date

	// RentAmount is the rent snapshotted at generation time, prorated for
	// boundary months.
	RentAmount generic.Money

	Status    PeriodStatus
	PaidAt    *generic.Date
	PaymentID string

	// Archived periods fell outside the lease term after an update. They are
	// kept for audit and ignored by allocation, reconciliation and calendars.
	Archived bool
}

// PeriodID is deterministic: a lease has at most one period per month.
func PeriodID(leaseID string, m generic.Month) string {
	return leaseID + ":" + m.String()
}

// DueDate is the last day of the period's month.
func (p PaymentPeriod) DueDate() generic.Date { return p.Month.LastDay() }

// IsOverdueOn reports whether an unsettled period is past due on today.
func (p PaymentPeriod) IsOverdueOn(today generic.Date) bool {
	return today.After(p.DueDate())
}

// openStatus is the status an unsettled period has on today.
func (p PaymentPeriod) openStatus(today generic.Date) PeriodStatus {
	if p.IsOverdueOn(today) {
		return PeriodOverdue
	}
	return PeriodUnpaid
}

// =============================================================================
// PAYMENT
// =============================================================================

type PaymentType string

const (
	PaymentRent    PaymentType = "rent"
	PaymentUtility PaymentType = "utility"
	PaymentDeposit PaymentType = "deposit"
	PaymentOther   PaymentType = "other"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
)

// PaymentTransitions lists the status changes a payment may go through.
// Failed and cancelled payments may be retried and completed again.
var PaymentTransitions = map[string][]string{
	string(PaymentPending):   {string(PaymentCompleted), string(PaymentFailed), string(PaymentCancelled)},
	string(PaymentCompleted): {string(PaymentFailed), string(PaymentCancelled)},
	string(PaymentFailed):    {string(PaymentCompleted)},
	string(PaymentCancelled): {string(PaymentCompleted)},
}

type Payment struct {
	ID         string
	LeaseID    string
	TenantID   string
	BuildingID string
	UnitID     string
	InvoiceID  string

	Amount      generic.Money
	Type        PaymentType
	Status      PaymentStatus
	PaymentDate generic.Date

	// MonthsCovered optionally names the periods the payment is for.
	MonthsCovered []generic.Month
	Notes         string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Usable reports whether the payment's funds may be allocated.
// An unset status is treated as completed.
func (p Payment) Usable() bool {
	return p.Status == "" || p.Status == PaymentCompleted
}

// AllocatesToPeriods reports whether the payment targets the rent schedule.
// Non-rent payments only reach periods when months are named explicitly.
func (p Payment) AllocatesToPeriods() bool {
	if p.InvoiceID != "" {
		return false
	}
	return p.Type == PaymentRent || p.Type == "" || len(p.MonthsCovered) > 0
}

// =============================================================================
// INVOICE
// =============================================================================

type InvoiceStatus string

const (
	InvoiceDraft     InvoiceStatus = "draft"
	InvoiceSent      InvoiceStatus = "sent"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceOverdue   InvoiceStatus = "overdue"
	InvoiceCancelled InvoiceStatus = "cancelled"
)

// InvoiceTransitions validates explicit invoice actions. Derived moves
// (sent/overdue/paid) are made by the reconciler.
var InvoiceTransitions = map[string][]string{
	string(InvoiceDraft):   {string(InvoiceSent), string(InvoiceCancelled)},
	string(InvoiceSent):    {string(InvoicePaid), string(InvoiceOverdue), string(InvoiceCancelled)},
	string(InvoiceOverdue): {string(InvoicePaid), string(InvoiceCancelled)},
}

type InvoiceItem struct {
	Description string
	Amount      generic.Money
}

// InvoicePayment is a payment applied to an invoice. Amount is the part of
// the payment the invoice absorbed.
type InvoicePayment struct {
	PaymentID   string
	Amount      generic.Money
	PaymentDate generic.Date
	Status      PaymentStatus
}

type Invoice struct {
	ID            string
	LeaseID       string
	TenantID      string
	BuildingID    string
	UnitID        string
	InvoiceNumber string

	Amount   generic.Money
	DueDate  generic.Date
	Status   InvoiceStatus
	Items    []InvoiceItem
	Payments []InvoicePayment
	Notes    string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PaidAmount sums completed payments.
func (i Invoice) PaidAmount() generic.Money {
	total := generic.Zero()
	for _, p := range i.Payments {
		if p.Status == PaymentCompleted {
			total = total.Add(p.Amount)
		}
	}
	return total
}

func (i Invoice) Balance() generic.Balance {
	return generic.Balance{Target: i.ID, Due: i.Amount, Credited: i.PaidAmount()}
}

// IsOpen reports whether the invoice accepts payments.
func (i Invoice) IsOpen() bool {
	return i.Status == InvoiceSent || i.Status == InvoiceOverdue
}

func (i Invoice) clone() Invoice {
	c := i
	c.Items = append([]InvoiceItem(nil), i.Items...)
	c.Payments = append([]InvoicePayment(nil), i.Payments...)
	return c
}

// =============================================================================
// CALENDAR
// =============================================================================

// PaymentCalendar is a read-only view of a lease's schedule.
type PaymentCalendar struct {
	LeaseID    string
	StartDate  generic.Date
	EndDate    generic.Date
	RentAmount generic.Money
	Periods    []PaymentPeriod
	Summary    CalendarSummary
}

type CalendarSummary struct {
	TotalPeriods   int
	PaidPeriods    int
	UnpaidPeriods  int
	OverduePeriods int

	TotalRent   generic.Money
	PaidRent    generic.Money
	UnpaidRent  generic.Money
	OverdueRent generic.Money
}

// =============================================================================
// LEDGER ACCOUNTS
// =============================================================================

// LeaseAccount is the ledger account holding credits toward a lease's periods.
func LeaseAccount(leaseID string) generic.AccountID {
	return generic.AccountID("lease:" + leaseID)
}

// InvoiceAccount is the ledger account holding credits toward an invoice.
func InvoiceAccount(invoiceID string) generic.AccountID {
	return generic.AccountID("invoice:" + invoiceID)
}
