// Package memory provides an in-memory rent.Repository for tests and local
// development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/rent-engine/generic"
	genstore "github.com/warp/rent-engine/generic/store"
	"github.com/warp/rent-engine/rent"
)

// =============================================================================
// REPOSITORY - Records + credit ledger behind one lock
// =============================================================================

// Repository keeps records in maps and ledger entries in a generic/store
// Memory. WithTx holds both locks and restores a snapshot on error.
type Repository struct {
	mu     sync.Mutex
	st     *state
	ledger *genstore.Memory
}

func New() *Repository {
	return &Repository{st: newState(), ledger: genstore.NewMemory()}
}

// WithTx runs fn against a lock-free view. Any error rolls back records and
// ledger entries written by fn.
func (r *Repository) WithTx(ctx context.Context, fn func(rent.Store) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ledger.Lock()
	defer r.ledger.Unlock()

	records := r.st.clone()
	entries := r.ledger.SnapshotLocked()

	if err := fn(&tx{st: r.st, ledger: genstore.NewLockedView(r.ledger)}); err != nil {
		r.st = records
		r.ledger.RestoreLocked(entries)
		return err
	}
	return nil
}

func (r *Repository) view() *tx { return &tx{st: r.st, ledger: r.ledger} }

func (r *Repository) CreateLease(ctx context.Context, l *rent.Lease) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().CreateLease(ctx, l)
}

func (r *Repository) UpdateLease(ctx context.Context, l *rent.Lease) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().UpdateLease(ctx, l)
}

func (r *Repository) GetLease(ctx context.Context, id string) (*rent.Lease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().GetLease(ctx, id)
}

func (r *Repository) ListLeases(ctx context.Context, f rent.LeaseFilter) ([]rent.Lease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().ListLeases(ctx, f)
}

func (r *Repository) SavePeriods(ctx context.Context, periods []rent.PaymentPeriod) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().SavePeriods(ctx, periods)
}

func (r *Repository) ListPeriods(ctx context.Context, leaseID string) ([]rent.PaymentPeriod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().ListPeriods(ctx, leaseID)
}

func (r *Repository) CreatePayment(ctx context.Context, p *rent.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().CreatePayment(ctx, p)
}

func (r *Repository) UpdatePayment(ctx context.Context, p *rent.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().UpdatePayment(ctx, p)
}

func (r *Repository) GetPayment(ctx context.Context, id string) (*rent.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().GetPayment(ctx, id)
}

func (r *Repository) ListPayments(ctx context.Context, leaseID string) ([]rent.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().ListPayments(ctx, leaseID)
}

func (r *Repository) CreateInvoice(ctx context.Context, inv *rent.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().CreateInvoice(ctx, inv)
}

func (r *Repository) UpdateInvoice(ctx context.Context, inv *rent.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().UpdateInvoice(ctx, inv)
}

func (r *Repository) GetInvoice(ctx context.Context, id string) (*rent.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().GetInvoice(ctx, id)
}

func (r *Repository) ListInvoices(ctx context.Context, f rent.InvoiceFilter) ([]rent.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().ListInvoices(ctx, f)
}

// Entries returns the ledger store. Outside WithTx it locks on its own.
func (r *Repository) Entries() generic.Store { return r.ledger }

// =============================================================================
// STATE
// =============================================================================

type state struct {
	leases   map[string]rent.Lease
	periods  map[string]map[string]rent.PaymentPeriod // lease ID -> period ID -> period
	payments map[string]rent.Payment
	invoices map[string]rent.Invoice
}

func newState() *state {
	return &state{
		leases:   make(map[string]rent.Lease),
		periods:  make(map[string]map[string]rent.PaymentPeriod),
		payments: make(map[string]rent.Payment),
		invoices: make(map[string]rent.Invoice),
	}
}

// clone copies the maps. Records are stored by value and copied on the way
// in and out, so sharing them between snapshots is safe.
func (s *state) clone() *state {
	c := newState()
	for k, v := range s.leases {
		c.leases[k] = v
	}
	for lease, ps := range s.periods {
		m := make(map[string]rent.PaymentPeriod, len(ps))
		for k, v := range ps {
			m[k] = v
		}
		c.periods[lease] = m
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.invoices {
		c.invoices[k] = v
	}
	return c
}

// =============================================================================
// TX - Unlocked implementation of rent.Store
// =============================================================================

type tx struct {
	st     *state
	ledger generic.Store
}

func (t *tx) Entries() generic.Store { return t.ledger }

func (t *tx) CreateLease(_ context.Context, l *rent.Lease) error {
	if _, ok := t.st.leases[l.ID]; ok {
		return fmt.Errorf("lease %s: %w", l.ID, generic.ErrDuplicateIdempotencyKey)
	}
	t.st.leases[l.ID] = copyLease(*l)
	return nil
}

func (t *tx) UpdateLease(_ context.Context, l *rent.Lease) error {
	stored, ok := t.st.leases[l.ID]
	if !ok {
		return &generic.NotFoundError{Kind: "lease", ID: l.ID}
	}
	if stored.Version != l.Version {
		return fmt.Errorf("lease %s at version %d, stored %d: %w", l.ID, l.Version, stored.Version, generic.ErrConcurrentModification)
	}
	l.Version++
	t.st.leases[l.ID] = copyLease(*l)
	return nil
}

func (t *tx) GetLease(_ context.Context, id string) (*rent.Lease, error) {
	l, ok := t.st.leases[id]
	if !ok {
		return nil, &generic.NotFoundError{Kind: "lease", ID: id}
	}
	c := copyLease(l)
	return &c, nil
}

func (t *tx) ListLeases(_ context.Context, f rent.LeaseFilter) ([]rent.Lease, error) {
	out := []rent.Lease{}
	for _, l := range t.st.leases {
		if f.TenantID != "" && l.TenantID != f.TenantID {
			continue
		}
		if f.Status != "" && l.Status != f.Status {
			continue
		}
		out = append(out, copyLease(l))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *tx) SavePeriods(_ context.Context, periods []rent.PaymentPeriod) error {
	for _, p := range periods {
		if _, ok := t.st.leases[p.LeaseID]; !ok {
			return &generic.NotFoundError{Kind: "lease", ID: p.LeaseID}
		}
		ps, ok := t.st.periods[p.LeaseID]
		if !ok {
			ps = make(map[string]rent.PaymentPeriod)
			t.st.periods[p.LeaseID] = ps
		}
		ps[p.ID] = p
	}
	return nil
}

func (t *tx) ListPeriods(_ context.Context, leaseID string) ([]rent.PaymentPeriod, error) {
	out := make([]rent.PaymentPeriod, 0, len(t.st.periods[leaseID]))
	for _, p := range t.st.periods[leaseID] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month.Before(out[j].Month) })
	return out, nil
}

func (t *tx) CreatePayment(_ context.Context, p *rent.Payment) error {
	if _, ok := t.st.payments[p.ID]; ok {
		return fmt.Errorf("payment %s: %w", p.ID, generic.ErrDuplicateIdempotencyKey)
	}
	t.st.payments[p.ID] = copyPayment(*p)
	return nil
}

func (t *tx) UpdatePayment(_ context.Context, p *rent.Payment) error {
	if _, ok := t.st.payments[p.ID]; !ok {
		return &generic.NotFoundError{Kind: "payment", ID: p.ID}
	}
	t.st.payments[p.ID] = copyPayment(*p)
	return nil
}

func (t *tx) GetPayment(_ context.Context, id string) (*rent.Payment, error) {
	p, ok := t.st.payments[id]
	if !ok {
		return nil, &generic.NotFoundError{Kind: "payment", ID: id}
	}
	c := copyPayment(p)
	return &c, nil
}

func (t *tx) ListPayments(_ context.Context, leaseID string) ([]rent.Payment, error) {
	out := []rent.Payment{}
	for _, p := range t.st.payments {
		if leaseID == "" || p.LeaseID == leaseID {
			out = append(out, copyPayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PaymentDate.Equal(out[j].PaymentDate) {
			return out[i].PaymentDate.Before(out[j].PaymentDate)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (t *tx) CreateInvoice(_ context.Context, inv *rent.Invoice) error {
	if _, ok := t.st.invoices[inv.ID]; ok {
		return fmt.Errorf("invoice %s: %w", inv.ID, generic.ErrDuplicateIdempotencyKey)
	}
	t.st.invoices[inv.ID] = copyInvoice(*inv)
	return nil
}

func (t *tx) UpdateInvoice(_ context.Context, inv *rent.Invoice) error {
	if _, ok := t.st.invoices[inv.ID]; !ok {
		return &generic.NotFoundError{Kind: "invoice", ID: inv.ID}
	}
	t.st.invoices[inv.ID] = copyInvoice(*inv)
	return nil
}

func (t *tx) GetInvoice(_ context.Context, id string) (*rent.Invoice, error) {
	inv, ok := t.st.invoices[id]
	if !ok {
		return nil, &generic.NotFoundError{Kind: "invoice", ID: id}
	}
	c := copyInvoice(inv)
	return &c, nil
}

func (t *tx) ListInvoices(_ context.Context, f rent.InvoiceFilter) ([]rent.Invoice, error) {
	out := []rent.Invoice{}
	for _, inv := range t.st.invoices {
		if f.LeaseID != "" && inv.LeaseID != f.LeaseID {
			continue
		}
		if f.TenantID != "" && inv.TenantID != f.TenantID {
			continue
		}
		if len(f.Statuses) > 0 && !hasStatus(f.Statuses, inv.Status) {
			continue
		}
		out = append(out, copyInvoice(inv))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func hasStatus(statuses []rent.InvoiceStatus, s rent.InvoiceStatus) bool {
	for _, x := range statuses {
		if x == s {
			return true
		}
	}
	return false
}

// =============================================================================
// COPIES
// =============================================================================

func copyLease(l rent.Lease) rent.Lease {
	if l.SecurityDeposit != nil {
		d := *l.SecurityDeposit
		l.SecurityDeposit = &d
	}
	if l.TerminatedAt != nil {
		d := *l.TerminatedAt
		l.TerminatedAt = &d
	}
	if l.Terms.LateFee != nil {
		fee := *l.Terms.LateFee
		l.Terms.LateFee = &fee
	}
	l.Terms.UtilitiesIncluded = append([]string(nil), l.Terms.UtilitiesIncluded...)
	if l.Terms.Custom != nil {
		custom := make(map[string]string, len(l.Terms.Custom))
		for k, v := range l.Terms.Custom {
			custom[k] = v
		}
		l.Terms.Custom = custom
	}
	return l
}

func copyPayment(p rent.Payment) rent.Payment {
	p.MonthsCovered = append([]generic.Month(nil), p.MonthsCovered...)
	return p
}

func copyInvoice(inv rent.Invoice) rent.Invoice {
	inv.Items = append([]rent.InvoiceItem(nil), inv.Items...)
	inv.Payments = append([]rent.InvoicePayment(nil), inv.Payments...)
	return inv
}

var _ rent.Repository = (*Repository)(nil)
