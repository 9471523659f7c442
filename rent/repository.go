package rent

import (
	"context"

	"github.com/warp/rent-engine/generic"
)

// LeaseFilter narrows ListLeases. Zero values match everything.
type LeaseFilter struct {
	TenantID string
	Status   LeaseStatus
}

// InvoiceFilter narrows ListInvoices. Zero values match everything.
type InvoiceFilter struct {
	LeaseID  string
	TenantID string
	Statuses []InvoiceStatus
}

// Store reads and writes billing records. Get methods return an error
// wrapping generic.ErrNotFound for unknown IDs.
type Store interface {
	CreateLease(ctx context.Context, l *Lease) error
	// UpdateLease fails with generic.ErrConcurrentModification when the
	// stored version differs from l.Version. On success l.Version is bumped.
	UpdateLease(ctx context.Context, l *Lease) error
	GetLease(ctx context.Context, id string) (*Lease, error)
	ListLeases(ctx context.Context, f LeaseFilter) ([]Lease, error)

	// SavePeriods inserts or replaces periods by ID.
	SavePeriods(ctx context.Context, periods []PaymentPeriod) error
	// ListPeriods returns all periods of a lease, archived included, by start.
	ListPeriods(ctx context.Context, leaseID string) ([]PaymentPeriod, error)

	CreatePayment(ctx context.Context, p *Payment) error
	UpdatePayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, id string) (*Payment, error)
	ListPayments(ctx context.Context, leaseID string) ([]Payment, error)

	CreateInvoice(ctx context.Context, inv *Invoice) error
	UpdateInvoice(ctx context.Context, inv *Invoice) error
	GetInvoice(ctx context.Context, id string) (*Invoice, error)
	ListInvoices(ctx context.Context, f InvoiceFilter) ([]Invoice, error)

	// Entries is the credit ledger sharing this store's transaction.
	Entries() generic.Store
}

// Repository is a Store with transactions. Every write of the service goes
// through WithTx so a failed operation leaves no partial state.
type Repository interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}
