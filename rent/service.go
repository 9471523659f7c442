/*
service.go - Billing service

PURPOSE:
  Orchestrates the pure engine against a Repository. Every operation that
  reads a lease's state, decides, and writes it back runs:

    1. under the per-key lock  (lease:<id>, or invoice:<id> for invoices)
    2. inside one repository transaction

  so two payments for the same lease are applied one after the other, and
  a failed operation leaves no partial state. Unrelated leases never wait
  on each other.

TIME:
  "Today" comes from the injected generic.Clock. Scans take an explicit
  date so they can be replayed as of any day.

SEE ALSO:
  - lock/lock.go: Locker implementations
  - store/memory, store/sqlite: Repository implementations
  - api/handlers.go: HTTP surface over Service
*/
package rent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/rent-engine/generic"
	"github.com/warp/rent-engine/lock"
	"github.com/warp/rent-engine/logger"
)

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	repo     Repository
	locker   lock.Locker
	clock    generic.Clock
	alloc    *Allocator
	log      *zap.Logger
	lockWait time.Duration
	newID    func() string
	now      func() time.Time
}

type Option func(*Service)

// WithLogger sets the logger used when the context carries none.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithLockWait bounds how long an operation waits for its lease lock.
func WithLockWait(d time.Duration) Option {
	return func(s *Service) { s.lockWait = d }
}

// WithIDGenerator replaces uuid generation for records and ledger entries.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		s.newID = fn
		s.alloc.NewID = fn
	}
}

func NewService(repo Repository, locker lock.Locker, clock generic.Clock, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		locker:   locker,
		clock:    clock,
		alloc:    NewAllocator(),
		log:      zap.NewNop(),
		lockWait: 5 * time.Second,
		newID:    uuid.NewString,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Today is the current billing date.
func (s *Service) Today() generic.Date { return s.clock.Today() }

func (s *Service) logger(ctx context.Context) *zap.Logger {
	return logger.FromContextOr(ctx, s.log)
}

func (s *Service) acquire(ctx context.Context, key string) (func(), error) {
	if s.lockWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.lockWait)
		defer cancel()
	}
	return s.locker.Lock(ctx, key)
}

// =============================================================================
// LEASES
// =============================================================================

type CreateLeaseInput struct {
	TenantID        string
	UnitID          string
	BuildingID      string
	StartDate       generic.Date
	EndDate         generic.Date
	RentAmount      generic.Money
	SecurityDeposit *generic.Money
	Terms           LeaseTerms
}

// CreateLease stores a lease and its generated schedule. Periods already
// past due on creation are marked overdue.
func (s *Service) CreateLease(ctx context.Context, in CreateLeaseInput) (*Lease, []PaymentPeriod, error) {
	now := s.now()
	today := s.Today()

	lease := Lease{
		ID:              s.newID(),
		TenantID:        in.TenantID,
		UnitID:          in.UnitID,
		BuildingID:      in.BuildingID,
		StartDate:       in.StartDate,
		EndDate:         in.EndDate,
		RentAmount:      in.RentAmount.Round(),
		SecurityDeposit: in.SecurityDeposit,
		Status:          LeaseActive,
		Terms:           in.Terms,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	periods, err := GenerateSchedule(lease)
	if err != nil {
		return nil, nil, err
	}
	lease, _ = ReconcileLease(lease, today)
	periods, _ = ReconcilePeriods(lease, periods, nil, today)

	err = s.repo.WithTx(ctx, func(st Store) error {
		if err := st.CreateLease(ctx, &lease); err != nil {
			return fmt.Errorf("failed to create lease: %w", err)
		}
		return st.SavePeriods(ctx, periods)
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger(ctx).Info("lease created",
		zap.String("lease_id", lease.ID),
		zap.String("term", lease.Term().String()),
		zap.Int("periods", len(periods)),
	)
	return &lease, periods, nil
}

type UpdateLeaseInput struct {
	StartDate       *generic.Date
	EndDate         *generic.Date
	RentAmount      *generic.Money
	SecurityDeposit *generic.Money
	Terms           *LeaseTerms
}

func (in UpdateLeaseInput) changesSchedule() bool {
	return in.StartDate != nil || in.EndDate != nil || in.RentAmount != nil
}

// UpdateLease applies in and regenerates the schedule when the term or rent
// changed. An expired lease extended past today becomes active again.
func (s *Service) UpdateLease(ctx context.Context, id string, in UpdateLeaseInput) (*Lease, error) {
	release, err := s.acquire(ctx, lock.LeaseKey(id))
	if err != nil {
		return nil, err
	}
	defer release()

	today := s.Today()
	var updated Lease
	err = s.repo.WithTx(ctx, func(st Store) error {
		lease, err := st.GetLease(ctx, id)
		if err != nil {
			return err
		}
		if lease.IsTerminated() {
			return fmt.Errorf("update lease %s: %w", id, generic.ErrLeaseTerminated)
		}

		if in.StartDate != nil {
			lease.StartDate = *in.StartDate
		}
		if in.EndDate != nil {
			lease.EndDate = *in.EndDate
		}
		if in.RentAmount != nil {
			lease.RentAmount = in.RentAmount.Round()
		}
		if in.SecurityDeposit != nil {
			lease.SecurityDeposit = in.SecurityDeposit
		}
		if in.Terms != nil {
			lease.Terms = *in.Terms
		}

		if lease.Status == LeaseExpired && today.Before(lease.EndDate) {
			lease.Status = LeaseActive
		}
		*lease, _ = ReconcileLease(*lease, today)

		if in.changesSchedule() {
			existing, err := st.ListPeriods(ctx, id)
			if err != nil {
				return err
			}
			periods, err := RegenerateSchedule(*lease, existing, today)
			if err != nil {
				return err
			}
			entries, err := st.Entries().Load(ctx, LeaseAccount(id))
			if err != nil {
				return err
			}
			periods, _ = ReconcilePeriods(*lease, periods, entries, today)
			if err := st.SavePeriods(ctx, changedPeriods(existing, periods)); err != nil {
				return err
			}
		}

		lease.UpdatedAt = s.now()
		if err := st.UpdateLease(ctx, lease); err != nil {
			return err
		}
		updated = *lease
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger(ctx).Info("lease updated",
		zap.String("lease_id", id),
		zap.Bool("schedule_regenerated", in.changesSchedule()),
		zap.String("status", string(updated.Status)),
	)
	return &updated, nil
}

// TerminateLease ends the lease at the given date (today when nil).
// Periods starting on or after it are no longer billed.
func (s *Service) TerminateLease(ctx context.Context, id string, at *generic.Date) (*Lease, error) {
	release, err := s.acquire(ctx, lock.LeaseKey(id))
	if err != nil {
		return nil, err
	}
	defer release()

	effective := s.Today()
	if at != nil {
		effective = *at
	}

	var updated Lease
	err = s.repo.WithTx(ctx, func(st Store) error {
		lease, err := st.GetLease(ctx, id)
		if err != nil {
			return err
		}
		if lease.IsTerminated() {
			return fmt.Errorf("terminate lease %s: %w", id, generic.ErrLeaseTerminated)
		}
		if err := generic.ValidateTransition("lease", LeaseTransitions, string(lease.Status), string(LeaseTerminated)); err != nil {
			return err
		}

		lease.Status = LeaseTerminated
		lease.TerminatedAt = effective.Ptr()
		lease.UpdatedAt = s.now()
		if err := st.UpdateLease(ctx, lease); err != nil {
			return err
		}
		updated = *lease
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger(ctx).Info("lease terminated", zap.String("lease_id", id), zap.Stringer("at", effective))
	return &updated, nil
}

func (s *Service) GetLease(ctx context.Context, id string) (*Lease, error) {
	return s.repo.GetLease(ctx, id)
}

func (s *Service) ListLeases(ctx context.Context, f LeaseFilter) ([]Lease, error) {
	return s.repo.ListLeases(ctx, f)
}

// Calendar projects the stored schedule of a lease.
func (s *Service) Calendar(ctx context.Context, leaseID string) (*PaymentCalendar, error) {
	lease, err := s.repo.GetLease(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	periods, err := s.repo.ListPeriods(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	cal := ProjectCalendar(*lease, periods)
	return &cal, nil
}

// LedgerEntries returns the credit history of a lease's periods.
func (s *Service) LedgerEntries(ctx context.Context, leaseID string) ([]generic.Entry, error) {
	if _, err := s.repo.GetLease(ctx, leaseID); err != nil {
		return nil, err
	}
	return s.repo.Entries().Load(ctx, LeaseAccount(leaseID))
}

// =============================================================================
// PAYMENTS
// =============================================================================

type RecordPaymentInput struct {
	// ID is optional. Supplying it makes retries of the same payment safe.
	ID            string
	LeaseID       string
	TenantID      string
	InvoiceID     string
	Amount        generic.Money
	Type          PaymentType
	Status        PaymentStatus
	PaymentDate   generic.Date
	MonthsCovered []generic.Month
	Notes         string
}

// PaymentReceipt is a stored payment and, when it was allocated, the
// allocation result.
type PaymentReceipt struct {
	Payment    Payment
	Allocation *AllocationResult
}

func paymentLockKey(p Payment) string {
	if p.InvoiceID != "" {
		return lock.InvoiceKey(p.InvoiceID)
	}
	return lock.LeaseKey(p.LeaseID)
}

// RecordPayment stores a payment and allocates it when it is completed.
// Recording a payment ID whose allocation is live fails with
// DuplicateAllocationError and changes nothing.
func (s *Service) RecordPayment(ctx context.Context, in RecordPaymentInput) (*PaymentReceipt, error) {
	now := s.now()
	p := Payment{
		ID:            in.ID,
		LeaseID:       in.LeaseID,
		TenantID:      in.TenantID,
		InvoiceID:     in.InvoiceID,
		Amount:        in.Amount.Round(),
		Type:          in.Type,
		Status:        in.Status,
		PaymentDate:   in.PaymentDate,
		MonthsCovered: in.MonthsCovered,
		Notes:         in.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if p.ID == "" {
		p.ID = s.newID()
	}
	if p.Type == "" {
		p.Type = PaymentRent
	}
	if p.Status == "" {
		p.Status = PaymentCompleted
	}
	if p.PaymentDate.IsZero() {
		p.PaymentDate = s.Today()
	}
	if p.LeaseID == "" && p.InvoiceID == "" {
		return nil, &InvalidAllocationError{PaymentID: p.ID, Reason: "payment references neither a lease nor an invoice"}
	}
	if !p.Amount.IsPositive() {
		return nil, &InvalidAllocationError{PaymentID: p.ID, Reason: fmt.Sprintf("amount must be positive, got %s", p.Amount)}
	}

	release, err := s.acquire(ctx, paymentLockKey(p))
	if err != nil {
		return nil, err
	}
	defer release()

	receipt := &PaymentReceipt{}
	err = s.repo.WithTx(ctx, func(st Store) error {
		if err := s.rejectKnownPayment(ctx, st, p.ID); err != nil {
			return err
		}
		if err := s.linkPayment(ctx, st, &p); err != nil {
			return err
		}
		if err := st.CreatePayment(ctx, &p); err != nil {
			return fmt.Errorf("failed to record payment: %w", err)
		}
		receipt.Payment = p

		if !p.Usable() {
			return nil
		}
		result, err := s.allocateTx(ctx, st, p)
		if err != nil {
			return err
		}
		receipt.Allocation = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logAllocation(ctx, "payment recorded", receipt)
	return receipt, nil
}

func (s *Service) rejectKnownPayment(ctx context.Context, st Store, id string) error {
	_, err := st.GetPayment(ctx, id)
	if generic.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	entries, err := st.Entries().LoadByPayment(ctx, id)
	if err != nil {
		return err
	}
	if state := generic.PaymentState(id, entries); state.Live {
		return &DuplicateAllocationError{PaymentID: id, Attempt: state.LastAttempt}
	}
	return fmt.Errorf("payment %s: %w", id, generic.ErrDuplicateIdempotencyKey)
}

// linkPayment checks the payment's lease and invoice exist and fills in the
// tenant, building and unit from them.
func (s *Service) linkPayment(ctx context.Context, st Store, p *Payment) error {
	if p.InvoiceID != "" {
		inv, err := st.GetInvoice(ctx, p.InvoiceID)
		if err != nil {
			return err
		}
		p.LeaseID = firstNonEmpty(p.LeaseID, inv.LeaseID)
		p.TenantID = firstNonEmpty(p.TenantID, inv.TenantID)
		p.BuildingID = firstNonEmpty(p.BuildingID, inv.BuildingID)
		p.UnitID = firstNonEmpty(p.UnitID, inv.UnitID)
	}
	if p.LeaseID != "" {
		lease, err := st.GetLease(ctx, p.LeaseID)
		if err != nil {
			return err
		}
		p.TenantID = firstNonEmpty(p.TenantID, lease.TenantID)
		p.BuildingID = firstNonEmpty(p.BuildingID, lease.BuildingID)
		p.UnitID = firstNonEmpty(p.UnitID, lease.UnitID)
	}
	return nil
}

// allocateTx allocates p inside an open transaction. It returns nil for
// payments that target neither an invoice nor the rent schedule.
func (s *Service) allocateTx(ctx context.Context, st Store, p Payment) (*AllocationResult, error) {
	today := s.Today()
	ledger := generic.NewLedger(st.Entries())

	history, err := ledger.PaymentEntries(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	if p.InvoiceID != "" {
		inv, err := st.GetInvoice(ctx, p.InvoiceID)
		if err != nil {
			return nil, err
		}
		entries, err := ledger.Entries(ctx, InvoiceAccount(inv.ID))
		if err != nil {
			return nil, err
		}
		result, err := s.alloc.Allocate(AllocationInput{Payment: p, Invoice: inv, Entries: entries, PaymentEntries: history})
		if err != nil {
			return nil, err
		}
		if err := ledger.AppendBatch(ctx, result.Entries); err != nil {
			return nil, fmt.Errorf("failed to append ledger entries: %w", err)
		}
		reconciled, _ := ReconcileInvoice(*result.UpdatedInvoice, today)
		reconciled.UpdatedAt = s.now()
		if err := st.UpdateInvoice(ctx, &reconciled); err != nil {
			return nil, err
		}
		result.UpdatedInvoice = &reconciled
		return result, nil
	}

	if !p.AllocatesToPeriods() {
		return nil, nil
	}

	lease, err := st.GetLease(ctx, p.LeaseID)
	if err != nil {
		return nil, err
	}
	periods, err := st.ListPeriods(ctx, lease.ID)
	if err != nil {
		return nil, err
	}
	entries, err := ledger.Entries(ctx, LeaseAccount(lease.ID))
	if err != nil {
		return nil, err
	}

	billable := make([]PaymentPeriod, 0, len(periods))
	for _, per := range periods {
		if lease.Bills(per) {
			billable = append(billable, per)
		}
	}

	result, err := s.alloc.Allocate(AllocationInput{Payment: p, Periods: billable, Entries: entries, PaymentEntries: history})
	if err != nil {
		return nil, err
	}
	if err := ledger.AppendBatch(ctx, result.Entries); err != nil {
		return nil, fmt.Errorf("failed to append ledger entries: %w", err)
	}

	merged := mergePeriods(periods, result.UpdatedPeriods)
	reconciled, _ := ReconcilePeriods(*lease, merged, append(entries, result.Entries...), today)
	if err := st.SavePeriods(ctx, changedPeriods(periods, reconciled)); err != nil {
		return nil, err
	}
	return result, nil
}

// CompletePayment marks a pending (or previously failed) payment completed
// and allocates it.
func (s *Service) CompletePayment(ctx context.Context, id string) (*PaymentReceipt, error) {
	current, err := s.repo.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	release, err := s.acquire(ctx, paymentLockKey(*current))
	if err != nil {
		return nil, err
	}
	defer release()

	receipt := &PaymentReceipt{}
	err = s.repo.WithTx(ctx, func(st Store) error {
		p, err := st.GetPayment(ctx, id)
		if err != nil {
			return err
		}
		if p.Status == PaymentCompleted {
			history, err := st.Entries().LoadByPayment(ctx, p.ID)
			if err != nil {
				return err
			}
			if state := generic.PaymentState(p.ID, history); state.Live {
				return &DuplicateAllocationError{PaymentID: p.ID, Attempt: state.LastAttempt}
			}
		}
		if err := generic.ValidateTransition("payment", PaymentTransitions, string(p.Status), string(PaymentCompleted)); err != nil {
			return err
		}
		p.Status = PaymentCompleted
		p.UpdatedAt = s.now()
		if err := st.UpdatePayment(ctx, p); err != nil {
			return err
		}
		receipt.Payment = *p

		result, err := s.allocateTx(ctx, st, *p)
		if err != nil {
			return err
		}
		receipt.Allocation = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logAllocation(ctx, "payment completed", receipt)
	return receipt, nil
}

// ReversePayment moves a payment to failed or cancelled and reverses its
// live allocation, if any. The returned result lists the reversal entries
// and the records that left the paid status.
func (s *Service) ReversePayment(ctx context.Context, id string, status PaymentStatus, reason string) (*PaymentReceipt, error) {
	current, err := s.repo.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	release, err := s.acquire(ctx, paymentLockKey(*current))
	if err != nil {
		return nil, err
	}
	defer release()

	today := s.Today()
	receipt := &PaymentReceipt{}
	err = s.repo.WithTx(ctx, func(st Store) error {
		p, err := st.GetPayment(ctx, id)
		if err != nil {
			return err
		}
		if err := generic.ValidateTransition("payment", PaymentTransitions, string(p.Status), string(status)); err != nil {
			return err
		}

		ledger := generic.NewLedger(st.Entries())
		history, err := ledger.PaymentEntries(ctx, p.ID)
		if err != nil {
			return err
		}

		if generic.PaymentState(p.ID, history).Live {
			in := ReversalInput{Payment: *p, NewStatus: status, Today: today, Reason: reason}
			account := LeaseAccount(p.LeaseID)
			if p.InvoiceID != "" {
				inv, err := st.GetInvoice(ctx, p.InvoiceID)
				if err != nil {
					return err
				}
				in.Invoice = inv
				account = InvoiceAccount(inv.ID)
			} else {
				if in.Periods, err = st.ListPeriods(ctx, p.LeaseID); err != nil {
					return err
				}
			}
			if in.Entries, err = ledger.Entries(ctx, account); err != nil {
				return err
			}

			result, err := s.alloc.Reverse(in)
			if err != nil {
				return err
			}
			if err := ledger.AppendBatch(ctx, result.Entries); err != nil {
				return fmt.Errorf("failed to append reversal entries: %w", err)
			}
			if err := st.SavePeriods(ctx, result.UpdatedPeriods); err != nil {
				return err
			}
			if result.UpdatedInvoice != nil {
				result.UpdatedInvoice.UpdatedAt = s.now()
				if err := st.UpdateInvoice(ctx, result.UpdatedInvoice); err != nil {
					return err
				}
			}
			receipt.Allocation = result
		}

		p.Status = status
		p.UpdatedAt = s.now()
		if err := st.UpdatePayment(ctx, p); err != nil {
			return err
		}
		receipt.Payment = *p
		return nil
	})
	if err != nil {
		return nil, err
	}

	fields := []zap.Field{zap.String("payment_id", id), zap.String("status", string(status))}
	if receipt.Allocation != nil {
		fields = append(fields,
			zap.Int("reversal_entries", len(receipt.Allocation.Entries)),
			zap.Int("periods_reopened", len(receipt.Allocation.UpdatedPeriods)),
		)
	}
	s.logger(ctx).Info("payment reversed", fields...)
	return receipt, nil
}

func (s *Service) GetPayment(ctx context.Context, id string) (*Payment, error) {
	return s.repo.GetPayment(ctx, id)
}

func (s *Service) ListPayments(ctx context.Context, leaseID string) ([]Payment, error) {
	return s.repo.ListPayments(ctx, leaseID)
}

func (s *Service) logAllocation(ctx context.Context, msg string, r *PaymentReceipt) {
	fields := []zap.Field{
		zap.String("payment_id", r.Payment.ID),
		zap.String("lease_id", r.Payment.LeaseID),
		zap.String("amount", r.Payment.Amount.String()),
		zap.String("status", string(r.Payment.Status)),
	}
	if a := r.Allocation; a != nil {
		fields = append(fields,
			zap.Int("attempt", a.Attempt),
			zap.String("applied", a.Applied.String()),
			zap.String("remainder", a.Remainder.String()),
			zap.Int("periods_settled", len(a.UpdatedPeriods)),
		)
	}
	s.logger(ctx).Info(msg, fields...)
}

// =============================================================================
// INVOICES
// =============================================================================

type CreateInvoiceInput struct {
	LeaseID       string
	TenantID      string
	BuildingID    string
	UnitID        string
	InvoiceNumber string
	// Amount defaults to the sum of Items.
	Amount  *generic.Money
	DueDate generic.Date
	Items   []InvoiceItem
	Notes   string
}

// CreateInvoice stores a draft invoice.
func (s *Service) CreateInvoice(ctx context.Context, in CreateInvoiceInput) (*Invoice, error) {
	itemsTotal := generic.Zero()
	for _, it := range in.Items {
		itemsTotal = itemsTotal.Add(it.Amount.Round())
	}

	amount := itemsTotal
	if in.Amount != nil {
		amount = in.Amount.Round()
		if len(in.Items) > 0 && !amount.Equal(itemsTotal) {
			return nil, fmt.Errorf("%w: amount %s does not match items total %s", generic.ErrInvalidInvoice, amount, itemsTotal)
		}
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", generic.ErrInvalidInvoice)
	}
	if in.DueDate.IsZero() {
		return nil, fmt.Errorf("%w: due date is required", generic.ErrInvalidInvoice)
	}

	now := s.now()
	inv := Invoice{
		ID:            s.newID(),
		LeaseID:       in.LeaseID,
		TenantID:      in.TenantID,
		BuildingID:    in.BuildingID,
		UnitID:        in.UnitID,
		InvoiceNumber: in.InvoiceNumber,
		Amount:        amount,
		DueDate:       in.DueDate,
		Status:        InvoiceDraft,
		Items:         in.Items,
		Notes:         in.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if inv.InvoiceNumber == "" {
		inv.InvoiceNumber = s.invoiceNumber()
	}

	err := s.repo.WithTx(ctx, func(st Store) error {
		if inv.LeaseID != "" {
			lease, err := st.GetLease(ctx, inv.LeaseID)
			if err != nil {
				return err
			}
			inv.TenantID = firstNonEmpty(inv.TenantID, lease.TenantID)
			inv.BuildingID = firstNonEmpty(inv.BuildingID, lease.BuildingID)
			inv.UnitID = firstNonEmpty(inv.UnitID, lease.UnitID)
		}
		return st.CreateInvoice(ctx, &inv)
	})
	if err != nil {
		return nil, err
	}

	s.logger(ctx).Info("invoice created",
		zap.String("invoice_id", inv.ID),
		zap.String("number", inv.InvoiceNumber),
		zap.String("amount", inv.Amount.String()),
	)
	return &inv, nil
}

// invoiceNumber renders INV-YYYYMM-XXXXXX.
func (s *Service) invoiceNumber() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("INV-%s-%s", strings.ReplaceAll(generic.MonthOf(s.Today()).String(), "-", ""), strings.ToUpper(suffix))
}

// SendInvoice moves a draft to sent, or overdue when already past due.
func (s *Service) SendInvoice(ctx context.Context, id string) (*Invoice, error) {
	return s.transitionInvoice(ctx, id, InvoiceSent)
}

// CancelInvoice cancels any invoice that is not paid.
func (s *Service) CancelInvoice(ctx context.Context, id string) (*Invoice, error) {
	return s.transitionInvoice(ctx, id, InvoiceCancelled)
}

func (s *Service) transitionInvoice(ctx context.Context, id string, target InvoiceStatus) (*Invoice, error) {
	release, err := s.acquire(ctx, lock.InvoiceKey(id))
	if err != nil {
		return nil, err
	}
	defer release()

	var updated Invoice
	err = s.repo.WithTx(ctx, func(st Store) error {
		inv, err := st.GetInvoice(ctx, id)
		if err != nil {
			return err
		}
		if err := generic.ValidateTransition("invoice", InvoiceTransitions, string(inv.Status), string(target)); err != nil {
			return err
		}
		inv.Status = target
		*inv, _ = ReconcileInvoice(*inv, s.Today())
		inv.UpdatedAt = s.now()
		if err := st.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		updated = *inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger(ctx).Info("invoice status changed", zap.String("invoice_id", id), zap.String("status", string(updated.Status)))
	return &updated, nil
}

func (s *Service) GetInvoice(ctx context.Context, id string) (*Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

func (s *Service) ListInvoices(ctx context.Context, f InvoiceFilter) ([]Invoice, error) {
	return s.repo.ListInvoices(ctx, f)
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// ReconcileReport summarizes a reconciliation run.
type ReconcileReport struct {
	AsOf     generic.Date
	Leases   int
	Invoices int
	Failed   int
	Changes  []Change
}

// ReconcileLease brings one lease and its periods up to date as of today.
func (s *Service) ReconcileLease(ctx context.Context, id string, today generic.Date) (*ReconcileReport, error) {
	release, err := s.acquire(ctx, lock.LeaseKey(id))
	if err != nil {
		return nil, err
	}
	defer release()

	report := &ReconcileReport{AsOf: today, Leases: 1}
	err = s.repo.WithTx(ctx, func(st Store) error {
		lease, err := st.GetLease(ctx, id)
		if err != nil {
			return err
		}

		reconciled, leaseChanges := ReconcileLease(*lease, today)
		periods, err := st.ListPeriods(ctx, id)
		if err != nil {
			return err
		}
		entries, err := st.Entries().Load(ctx, LeaseAccount(id))
		if err != nil {
			return err
		}
		updated, periodChanges := ReconcilePeriods(reconciled, periods, entries, today)

		if len(periodChanges) > 0 {
			if err := st.SavePeriods(ctx, changedPeriods(periods, updated)); err != nil {
				return err
			}
		}
		if len(leaseChanges) > 0 {
			reconciled.UpdatedAt = s.now()
			if err := st.UpdateLease(ctx, &reconciled); err != nil {
				return err
			}
		}
		report.Changes = append(leaseChanges, periodChanges...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (s *Service) reconcileInvoice(ctx context.Context, id string, today generic.Date) ([]Change, error) {
	release, err := s.acquire(ctx, lock.InvoiceKey(id))
	if err != nil {
		return nil, err
	}
	defer release()

	var changes []Change
	err = s.repo.WithTx(ctx, func(st Store) error {
		inv, err := st.GetInvoice(ctx, id)
		if err != nil {
			return err
		}
		updated, c := ReconcileInvoice(*inv, today)
		if len(c) == 0 {
			return nil
		}
		updated.UpdatedAt = s.now()
		changes = c
		return st.UpdateInvoice(ctx, &updated)
	})
	return changes, err
}

// ReconcileAll is the time-advance scan: every lease and every open invoice
// is reconciled as of today, each under its own lock. A failure on one
// record is logged and counted; the scan goes on.
func (s *Service) ReconcileAll(ctx context.Context, today generic.Date) (*ReconcileReport, error) {
	log := s.logger(ctx)
	report := &ReconcileReport{AsOf: today}

	leases, err := s.repo.ListLeases(ctx, LeaseFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list leases: %w", err)
	}
	for _, l := range leases {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		r, err := s.ReconcileLease(ctx, l.ID, today)
		if err != nil {
			report.Failed++
			log.Warn("lease reconciliation failed", zap.String("lease_id", l.ID), zap.Error(err))
			continue
		}
		report.Leases++
		report.Changes = append(report.Changes, r.Changes...)
	}

	invoices, err := s.repo.ListInvoices(ctx, InvoiceFilter{Statuses: []InvoiceStatus{InvoiceSent, InvoiceOverdue}})
	if err != nil {
		return report, fmt.Errorf("failed to list invoices: %w", err)
	}
	for _, inv := range invoices {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		changes, err := s.reconcileInvoice(ctx, inv.ID, today)
		if err != nil {
			report.Failed++
			log.Warn("invoice reconciliation failed", zap.String("invoice_id", inv.ID), zap.Error(err))
			continue
		}
		report.Invoices++
		report.Changes = append(report.Changes, changes...)
	}

	log.Info("reconciliation completed",
		zap.Stringer("as_of", today),
		zap.Int("leases", report.Leases),
		zap.Int("invoices", report.Invoices),
		zap.Int("changes", len(report.Changes)),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// mergePeriods replaces periods by ID with their updated versions.
func mergePeriods(periods, updates []PaymentPeriod) []PaymentPeriod {
	byID := make(map[string]PaymentPeriod, len(updates))
	for _, u := range updates {
		byID[u.ID] = u
	}
	out := make([]PaymentPeriod, len(periods))
	for i, p := range periods {
		if u, ok := byID[p.ID]; ok {
			out[i] = u
		} else {
			out[i] = p
		}
	}
	return out
}

// changedPeriods returns the periods of after that are new or differ from
// their version in before.
func changedPeriods(before, after []PaymentPeriod) []PaymentPeriod {
	old := make(map[string]PaymentPeriod, len(before))
	for _, p := range before {
		old[p.ID] = p
	}
	var changed []PaymentPeriod
	for _, p := range after {
		if prev, ok := old[p.ID]; !ok || !samePeriod(prev, p) {
			changed = append(changed, p)
		}
	}
	return changed
}

func samePeriod(a, b PaymentPeriod) bool {
	return a.Status == b.Status &&
		a.PaymentID == b.PaymentID &&
		a.Archived == b.Archived &&
		a.Start.Equal(b.Start) &&
		a.End.Equal(b.End) &&
		a.RentAmount.Equal(b.RentAmount) &&
		sameDate(a.PaidAt, b.PaidAt)
}

func sameDate(a, b *generic.Date) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
