/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the rent domain records from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Lease:
    LeaseDTO, CreateLeaseRequest, UpdateLeaseRequest,
    TerminateLeaseRequest, CreateLeaseResponse

  Schedule:
    PeriodDTO, CalendarDTO, CalendarSummaryDTO, LedgerEntryDTO

  Payment:
    PaymentDTO, CreatePaymentRequest, ReversePaymentRequest,
    PaymentReceiptDTO, AllocationDTO

  Invoice:
    InvoiceDTO, InvoiceItemDTO, InvoicePaymentDTO, CreateInvoiceRequest

  Reconciliation:
    ReconcileRequest, ReconcileReportDTO, ChangeDTO

VALIDATION:
  Request types carry validator/v10 tags; see validate.go. Dates are
  YYYY-MM-DD strings, months are YYYY-MM. Amounts accept JSON numbers or
  quoted decimals and are rendered with two decimals.

SEE ALSO:
  - handlers.go: Uses these types
  - validate.go: Tag engine and error formatting
*/
package api

import (
	"time"

	"github.com/warp/rent-engine/generic"
	"github.com/warp/rent-engine/rent"
)

// =============================================================================
// LEASES
// =============================================================================

// LeaseDTO represents a lease in API responses.
type LeaseDTO struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	UnitID          string          `json:"unit_id"`
	BuildingID      string          `json:"building_id,omitempty"`
	StartDate       string          `json:"start_date"`
	EndDate         string          `json:"end_date"`
	RentAmount      generic.Money   `json:"rent_amount"`
	SecurityDeposit *generic.Money  `json:"security_deposit,omitempty"`
	Status          string          `json:"status"`
	Terms           rent.LeaseTerms `json:"terms"`
	TerminatedAt    *string         `json:"terminated_at,omitempty"`
	Version         int             `json:"version"`
	CreatedAt       string          `json:"created_at,omitempty"`
	UpdatedAt       string          `json:"updated_at,omitempty"`
}

// CreateLeaseRequest is the request to create a lease.
type CreateLeaseRequest struct {
	TenantID        string          `json:"tenant_id" validate:"required,uuid"`
	UnitID          string          `json:"unit_id" validate:"required,uuid"`
	BuildingID      string          `json:"building_id" validate:"omitempty,uuid"`
	StartDate       string          `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate         string          `json:"end_date" validate:"required,datetime=2006-01-02"`
	RentAmount      generic.Money   `json:"rent_amount" validate:"gt=0"`
	SecurityDeposit *generic.Money  `json:"security_deposit" validate:"omitempty,gt=0"`
	Terms           rent.LeaseTerms `json:"terms"`
}

// UpdateLeaseRequest is a partial lease update. Absent fields are unchanged.
type UpdateLeaseRequest struct {
	StartDate       *string          `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate         *string          `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	RentAmount      *generic.Money   `json:"rent_amount" validate:"omitempty,gt=0"`
	SecurityDeposit *generic.Money   `json:"security_deposit" validate:"omitempty,gt=0"`
	Terms           *rent.LeaseTerms `json:"terms"`
}

// TerminateLeaseRequest ends a lease early. An empty date means today.
type TerminateLeaseRequest struct {
	TerminatedAt string `json:"terminated_at" validate:"omitempty,datetime=2006-01-02"`
}

// CreateLeaseResponse returns the lease with its generated schedule.
type CreateLeaseResponse struct {
	Lease   LeaseDTO    `json:"lease"`
	Periods []PeriodDTO `json:"periods"`
}

// =============================================================================
// SCHEDULE
// =============================================================================

// PeriodDTO represents one monthly billing period.
type PeriodDTO struct {
	ID         string        `json:"id"`
	LeaseID    string        `json:"lease_id"`
	Month      string        `json:"month"`
	Start      string        `json:"start"`
	End        string        `json:"end"`
	DueDate    string        `json:"due_date"`
	RentAmount generic.Money `json:"rent_amount"`
	Status     string        `json:"status"`
	PaidAt     *string       `json:"paid_at,omitempty"`
	PaymentID  string        `json:"payment_id,omitempty"`
	Archived   bool          `json:"archived,omitempty"`
}

// CalendarDTO is the payment calendar of a lease.
type CalendarDTO struct {
	LeaseID    string             `json:"lease_id"`
	StartDate  string             `json:"start_date"`
	EndDate    string             `json:"end_date"`
	RentAmount generic.Money      `json:"rent_amount"`
	Periods    []PeriodDTO        `json:"periods"`
	Summary    CalendarSummaryDTO `json:"summary"`
}

type CalendarSummaryDTO struct {
	TotalPeriods   int           `json:"total_periods"`
	PaidPeriods    int           `json:"paid_periods"`
	UnpaidPeriods  int           `json:"unpaid_periods"`
	OverduePeriods int           `json:"overdue_periods"`
	TotalRent      generic.Money `json:"total_rent"`
	PaidRent       generic.Money `json:"paid_rent"`
	UnpaidRent     generic.Money `json:"unpaid_rent"`
	OverdueRent    generic.Money `json:"overdue_rent"`
}

// LedgerEntryDTO represents a credit ledger entry.
type LedgerEntryDTO struct {
	ID          string            `json:"id"`
	AccountID   string            `json:"account_id"`
	Target      string            `json:"target,omitempty"`
	PaymentID   string            `json:"payment_id"`
	Attempt     int               `json:"attempt"`
	Type        string            `json:"type"`
	Delta       generic.Money     `json:"delta"`
	EffectiveAt string            `json:"effective_at"`
	Reason      string            `json:"reason,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

// PaymentDTO represents a payment in API responses.
type PaymentDTO struct {
	ID            string        `json:"id"`
	LeaseID       string        `json:"lease_id,omitempty"`
	TenantID      string        `json:"tenant_id"`
	InvoiceID     string        `json:"invoice_id,omitempty"`
	Amount        generic.Money `json:"amount"`
	Type          string        `json:"type"`
	Status        string        `json:"status"`
	PaymentDate   string        `json:"payment_date"`
	MonthsCovered []string      `json:"months_covered,omitempty"`
	Notes         string        `json:"notes,omitempty"`
	CreatedAt     string        `json:"created_at,omitempty"`
}

// CreatePaymentRequest records a payment. Supplying id makes retries safe.
type CreatePaymentRequest struct {
	ID            string        `json:"id" validate:"omitempty,max=64"`
	LeaseID       string        `json:"lease_id" validate:"required_without=InvoiceID"`
	TenantID      string        `json:"tenant_id" validate:"required,uuid"`
	InvoiceID     string        `json:"invoice_id"`
	Amount        generic.Money `json:"amount" validate:"gt=0"`
	Type          string        `json:"type" validate:"required,oneof=rent utility deposit other"`
	Status        string        `json:"status" validate:"omitempty,oneof=pending completed"`
	PaymentDate   string        `json:"payment_date" validate:"required,datetime=2006-01-02"`
	MonthsCovered []string      `json:"months_covered" validate:"omitempty,dive,datetime=2006-01"`
	Notes         string        `json:"notes" validate:"max=1000"`
}

// ReversePaymentRequest marks a payment failed or cancelled.
type ReversePaymentRequest struct {
	Status string `json:"status" validate:"required,oneof=failed cancelled"`
	Reason string `json:"reason" validate:"max=500"`
}

// AllocationDTO describes where a payment's funds went.
type AllocationDTO struct {
	Attempt        int              `json:"attempt"`
	Applied        generic.Money    `json:"applied"`
	Remainder      generic.Money    `json:"remainder"`
	Overpaid       bool             `json:"overpaid"`
	UpdatedPeriods []PeriodDTO      `json:"updated_periods"`
	UpdatedInvoice *InvoiceDTO      `json:"updated_invoice,omitempty"`
	Entries        []LedgerEntryDTO `json:"entries"`
}

// PaymentReceiptDTO is returned by payment mutations.
type PaymentReceiptDTO struct {
	Payment    PaymentDTO     `json:"payment"`
	Allocation *AllocationDTO `json:"allocation,omitempty"`
}

// =============================================================================
// INVOICES
// =============================================================================

type InvoiceItemDTO struct {
	Description string        `json:"description" validate:"required,max=200"`
	Amount      generic.Money `json:"amount" validate:"gt=0"`
}

type InvoicePaymentDTO struct {
	PaymentID   string        `json:"payment_id"`
	Amount      generic.Money `json:"amount"`
	PaymentDate string        `json:"payment_date"`
	Status      string        `json:"status"`
}

// InvoiceDTO represents an invoice in API responses.
type InvoiceDTO struct {
	ID            string              `json:"id"`
	InvoiceNumber string              `json:"invoice_number"`
	LeaseID       string              `json:"lease_id,omitempty"`
	TenantID      string              `json:"tenant_id"`
	BuildingID    string              `json:"building_id,omitempty"`
	UnitID        string              `json:"unit_id,omitempty"`
	Amount        generic.Money       `json:"amount"`
	PaidAmount    generic.Money       `json:"paid_amount"`
	DueDate       string              `json:"due_date"`
	Status        string              `json:"status"`
	Items         []InvoiceItemDTO    `json:"items"`
	Payments      []InvoicePaymentDTO `json:"payments"`
	Notes         string              `json:"notes,omitempty"`
	CreatedAt     string              `json:"created_at,omitempty"`
}

// CreateInvoiceRequest creates a draft invoice. Amount defaults to the sum
// of the items.
type CreateInvoiceRequest struct {
	LeaseID       string           `json:"lease_id"`
	TenantID      string           `json:"tenant_id" validate:"required,uuid"`
	BuildingID    string           `json:"building_id"`
	UnitID        string           `json:"unit_id"`
	InvoiceNumber string           `json:"invoice_number" validate:"max=64"`
	Amount        *generic.Money   `json:"amount" validate:"omitempty,gt=0"`
	DueDate       string           `json:"due_date" validate:"required,datetime=2006-01-02"`
	Items         []InvoiceItemDTO `json:"items" validate:"required_without=Amount,dive"`
	Notes         string           `json:"notes" validate:"max=1000"`
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// ReconcileRequest optionally pins the reconciliation date.
type ReconcileRequest struct {
	AsOf string `json:"as_of" validate:"omitempty,datetime=2006-01-02"`
}

type ChangeDTO struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
	From string `json:"from"`
	To   string `json:"to"`
}

// ReconcileReportDTO summarizes a reconciliation run.
type ReconcileReportDTO struct {
	AsOf     string      `json:"as_of"`
	Leases   int         `json:"leases"`
	Invoices int         `json:"invoices"`
	Failed   int         `json:"failed"`
	Changes  []ChangeDTO `json:"changes"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Today  string `json:"today"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func datePtr(d *generic.Date) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toLeaseDTO(l rent.Lease) LeaseDTO {
	return LeaseDTO{
		ID:              l.ID,
		TenantID:        l.TenantID,
		UnitID:          l.UnitID,
		BuildingID:      l.BuildingID,
		StartDate:       l.StartDate.String(),
		EndDate:         l.EndDate.String(),
		RentAmount:      l.RentAmount,
		SecurityDeposit: l.SecurityDeposit,
		Status:          string(l.Status),
		Terms:           l.Terms,
		TerminatedAt:    datePtr(l.TerminatedAt),
		Version:         l.Version,
		CreatedAt:       timestamp(l.CreatedAt),
		UpdatedAt:       timestamp(l.UpdatedAt),
	}
}

func toPeriodDTO(p rent.PaymentPeriod) PeriodDTO {
	return PeriodDTO{
		ID:         p.ID,
		LeaseID:    p.LeaseID,
		Month:      p.Month.String(),
		Start:      p.Start.String(),
		End:        p.End.String(),
		DueDate:    p.DueDate().String(),
		RentAmount: p.RentAmount,
		Status:     string(p.Status),
		PaidAt:     datePtr(p.PaidAt),
		PaymentID:  p.PaymentID,
		Archived:   p.Archived,
	}
}

func toPeriodDTOs(ps []rent.PaymentPeriod) []PeriodDTO {
	dtos := make([]PeriodDTO, len(ps))
	for i, p := range ps {
		dtos[i] = toPeriodDTO(p)
	}
	return dtos
}

func toCalendarDTO(c rent.PaymentCalendar) CalendarDTO {
	return CalendarDTO{
		LeaseID:    c.LeaseID,
		StartDate:  c.StartDate.String(),
		EndDate:    c.EndDate.String(),
		RentAmount: c.RentAmount,
		Periods:    toPeriodDTOs(c.Periods),
		Summary: CalendarSummaryDTO{
			TotalPeriods:   c.Summary.TotalPeriods,
			PaidPeriods:    c.Summary.PaidPeriods,
			UnpaidPeriods:  c.Summary.UnpaidPeriods,
			OverduePeriods: c.Summary.OverduePeriods,
			TotalRent:      c.Summary.TotalRent,
			PaidRent:       c.Summary.PaidRent,
			UnpaidRent:     c.Summary.UnpaidRent,
			OverdueRent:    c.Summary.OverdueRent,
		},
	}
}

func toLedgerEntryDTOs(es []generic.Entry) []LedgerEntryDTO {
	dtos := make([]LedgerEntryDTO, len(es))
	for i, e := range es {
		dtos[i] = LedgerEntryDTO{
			ID:          string(e.ID),
			AccountID:   string(e.AccountID),
			Target:      e.Target,
			PaymentID:   e.PaymentID,
			Attempt:     e.Attempt,
			Type:        string(e.Type),
			Delta:       e.Delta,
			EffectiveAt: e.EffectiveAt.String(),
			Reason:      e.Reason,
			Metadata:    e.Metadata,
		}
	}
	return dtos
}

func toPaymentDTO(p rent.Payment) PaymentDTO {
	dto := PaymentDTO{
		ID:          p.ID,
		LeaseID:     p.LeaseID,
		TenantID:    p.TenantID,
		InvoiceID:   p.InvoiceID,
		Amount:      p.Amount,
		Type:        string(p.Type),
		Status:      string(p.Status),
		PaymentDate: p.PaymentDate.String(),
		Notes:       p.Notes,
		CreatedAt:   timestamp(p.CreatedAt),
	}
	for _, m := range p.MonthsCovered {
		dto.MonthsCovered = append(dto.MonthsCovered, m.String())
	}
	return dto
}

func toPaymentDTOs(ps []rent.Payment) []PaymentDTO {
	dtos := make([]PaymentDTO, len(ps))
	for i, p := range ps {
		dtos[i] = toPaymentDTO(p)
	}
	return dtos
}

func toReceiptDTO(r *rent.PaymentReceipt) PaymentReceiptDTO {
	dto := PaymentReceiptDTO{Payment: toPaymentDTO(r.Payment)}
	if a := r.Allocation; a != nil {
		alloc := &AllocationDTO{
			Attempt:        a.Attempt,
			Applied:        a.Applied,
			Remainder:      a.Remainder,
			Overpaid:       a.Overpaid(),
			UpdatedPeriods: toPeriodDTOs(a.UpdatedPeriods),
			Entries:        toLedgerEntryDTOs(a.Entries),
		}
		if a.UpdatedInvoice != nil {
			inv := toInvoiceDTO(*a.UpdatedInvoice)
			alloc.UpdatedInvoice = &inv
		}
		dto.Allocation = alloc
	}
	return dto
}

func toInvoiceDTO(inv rent.Invoice) InvoiceDTO {
	dto := InvoiceDTO{
		ID:            inv.ID,
		InvoiceNumber: inv.InvoiceNumber,
		LeaseID:       inv.LeaseID,
		TenantID:      inv.TenantID,
		BuildingID:    inv.BuildingID,
		UnitID:        inv.UnitID,
		Amount:        inv.Amount,
		PaidAmount:    inv.PaidAmount(),
		DueDate:       inv.DueDate.String(),
		Status:        string(inv.Status),
		Items:         make([]InvoiceItemDTO, len(inv.Items)),
		Payments:      make([]InvoicePaymentDTO, len(inv.Payments)),
		Notes:         inv.Notes,
		CreatedAt:     timestamp(inv.CreatedAt),
	}
	for i, it := range inv.Items {
		dto.Items[i] = InvoiceItemDTO{Description: it.Description, Amount: it.Amount}
	}
	for i, p := range inv.Payments {
		dto.Payments[i] = InvoicePaymentDTO{
			PaymentID:   p.PaymentID,
			Amount:      p.Amount,
			PaymentDate: p.PaymentDate.String(),
			Status:      string(p.Status),
		}
	}
	return dto
}

func toInvoiceDTOs(invs []rent.Invoice) []InvoiceDTO {
	dtos := make([]InvoiceDTO, len(invs))
	for i, inv := range invs {
		dtos[i] = toInvoiceDTO(inv)
	}
	return dtos
}

func toReportDTO(r *rent.ReconcileReport) ReconcileReportDTO {
	dto := ReconcileReportDTO{
		AsOf:     r.AsOf.String(),
		Leases:   r.Leases,
		Invoices: r.Invoices,
		Failed:   r.Failed,
		Changes:  make([]ChangeDTO, len(r.Changes)),
	}
	for i, c := range r.Changes {
		dto.Changes[i] = ChangeDTO{Kind: c.Kind, ID: c.ID, From: c.From, To: c.To}
	}
	return dto
}
