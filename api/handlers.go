/*
handlers.go - HTTP request handlers for the rent billing API

PURPOSE:
  Implements HTTP handlers for all REST API endpoints. Each handler:
  1. Parses and validates the request (see validate.go)
  2. Calls rent.Service, which owns locking and persistence
  3. Returns a JSON response (see dto.go)

HANDLER GROUPS:
  Leases:
    CreateLease, ListLeases, GetLease, UpdateLease, TerminateLease
    GetCalendar, GetLedger, ReconcileLease

  Payments:
    RecordPayment, ListPayments, GetPayment, CompletePayment, ReversePayment

  Invoices:
    CreateInvoice, ListInvoices, GetInvoice, SendInvoice, CancelInvoice

  Operations:
    ReconcileAll, Health

ERROR HANDLING:
  Domain errors are mapped by category (generic/errors.go):
  - 400 Bad Request: malformed body, failed validation, invalid schedule,
    allocation or invoice
  - 404 Not Found: unknown lease, payment or invoice
  - 409 Conflict: duplicate allocation, illegal status transition,
    terminated lease, lock timeout, concurrent modification
  - 500 Internal Server Error: everything else

  Error body: {"error": "message", "details": "...", "fields": {...}}

SEE ALSO:
  - server.go: Route definitions
  - dto.go: Request/response types
  - rent/service.go: Business operations
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/rent-engine/generic"
	"github.com/warp/rent-engine/logger"
	"github.com/warp/rent-engine/rent"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	svc      *rent.Service
	validate *validator.Validate
	ping     func(context.Context) error
}

// NewHandler creates a handler. ping reports store health and may be nil.
func NewHandler(svc *rent.Service, ping func(context.Context) error) *Handler {
	return &Handler{
		svc:      svc,
		validate: newValidator(),
		ping:     ping,
	}
}

// =============================================================================
// LEASE HANDLERS
// =============================================================================

// CreateLease creates a lease and generates its payment schedule.
func (h *Handler) CreateLease(w http.ResponseWriter, r *http.Request) {
	var req CreateLeaseRequest
	if err := h.decode(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	in := rent.CreateLeaseInput{
		TenantID:        req.TenantID,
		UnitID:          req.UnitID,
		BuildingID:      req.BuildingID,
		StartDate:       generic.MustParseDate(req.StartDate),
		EndDate:         generic.MustParseDate(req.EndDate),
		RentAmount:      req.RentAmount,
		SecurityDeposit: req.SecurityDeposit,
		Terms:           req.Terms,
	}

	lease, periods, err := h.svc.CreateLease(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, "Failed to create lease", err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateLeaseResponse{
		Lease:   toLeaseDTO(*lease),
		Periods: toPeriodDTOs(periods),
	})
}

// ListLeases returns leases, optionally filtered by tenant_id and status.
func (h *Handler) ListLeases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	leases, err := h.svc.ListLeases(r.Context(), rent.LeaseFilter{
		TenantID: q.Get("tenant_id"),
		Status:   rent.LeaseStatus(q.Get("status")),
	})
	if err != nil {
		writeServiceError(w, r, "Failed to list leases", err)
		return
	}

	dtos := make([]LeaseDTO, len(leases))
	for i, l := range leases {
		dtos[i] = toLeaseDTO(l)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetLease returns a single lease.
func (h *Handler) GetLease(w http.ResponseWriter, r *http.Request) {
	lease, err := h.svc.GetLease(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, "Failed to get lease", err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaseDTO(*lease))
}

// UpdateLease applies a partial update. Term or rent changes regenerate the
// schedule; paid periods are kept.
func (h *Handler) UpdateLease(w http.ResponseWriter, r *http.Request) {
	var req UpdateLeaseRequest
	if err := h.decode(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	// Both dates were validated by the datetime tag.
	start, _ := parseOptionalDate(req.StartDate)
	end, _ := parseOptionalDate(req.EndDate)

	lease, err := h.svc.UpdateLease(r.Context(), chi.URLParam(r, "id"), rent.UpdateLeaseInput{
		StartDate:       start,
		EndDate:         end,
		RentAmount:      req.RentAmount,
		SecurityDeposit: req.SecurityDeposit,
		Terms:           req.Terms,
	})
	if err != nil {
		writeServiceError(w, r, "Failed to update lease", err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaseDTO(*lease))
}

// TerminateLease ends a lease, today unless terminated_at is given.
func (h *Handler) TerminateLease(w http.ResponseWriter, r *http.Request) {
	var req TerminateLeaseRequest
	if err := h.decodeOptional(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	at, _ := parseOptionalDate(&req.TerminatedAt)

	lease, err := h.svc.TerminateLease(r.Context(), chi.URLParam(r, "id"), at)
	if err != nil {
		writeServiceError(w, r, "Failed to terminate lease", err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaseDTO(*lease))
}

// GetCalendar returns the payment calendar of a lease.
func (h *Handler) GetCalendar(w http.ResponseWriter, r *http.Request) {
	cal, err := h.svc.Calendar(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, "Failed to get calendar", err)
		return
	}
	writeJSON(w, http.StatusOK, toCalendarDTO(*cal))
}

// GetLedger returns the credit entries of a lease's account.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.LedgerEntries(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, "Failed to get ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerEntryDTOs(entries))
}

// ReconcileLease brings one lease up to date.
func (h *Handler) ReconcileLease(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequest
	if err := h.decodeOptional(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	report, err := h.svc.ReconcileLease(r.Context(), chi.URLParam(r, "id"), h.asOf(req))
	if err != nil {
		writeServiceError(w, r, "Failed to reconcile lease", err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(report))
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// RecordPayment stores a payment and allocates it when completed.
// Overpayment is not an error: the receipt reports the remainder.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := h.decode(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	months, _ := parseMonths(req.MonthsCovered)

	receipt, err := h.svc.RecordPayment(r.Context(), rent.RecordPaymentInput{
		ID:            req.ID,
		LeaseID:       req.LeaseID,
		TenantID:      req.TenantID,
		InvoiceID:     req.InvoiceID,
		Amount:        req.Amount,
		Type:          rent.PaymentType(req.Type),
		Status:        rent.PaymentStatus(req.Status),
		PaymentDate:   generic.MustParseDate(req.PaymentDate),
		MonthsCovered: months,
		Notes:         req.Notes,
	})
	if err != nil {
		writeServiceError(w, r, "Failed to record payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toReceiptDTO(receipt))
}

// ListPayments returns the payments of a lease.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	leaseID := r.URL.Query().Get("lease_id")
	if leaseID == "" {
		writeError(w, http.StatusBadRequest, "lease_id query parameter is required", nil)
		return
	}

	payments, err := h.svc.ListPayments(r.Context(), leaseID)
	if err != nil {
		writeServiceError(w, r, "Failed to list payments", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTOs(payments))
}

// GetPayment returns a single payment.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, "Failed to get payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(*p))
}

// CompletePayment settles a pending (or retried) payment and allocates it.
func (h *Handler) CompletePayment(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.svc.CompletePayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, "Failed to complete payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toReceiptDTO(receipt))
}

// ReversePayment marks a payment failed or cancelled and reverses its
// allocation.
func (h *Handler) ReversePayment(w http.ResponseWriter, r *http.Request) {
	var req ReversePaymentRequest
	if err := h.decode(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	receipt, err := h.svc.ReversePayment(r.Context(), chi.URLParam(r, "id"), rent.PaymentStatus(req.Status), req.Reason)
	if err != nil {
		writeServiceError(w, r, "Failed to reverse payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toReceiptDTO(receipt))
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

// CreateInvoice stores a draft invoice.
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req CreateInvoiceRequest
	if err := h.decode(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	items := make([]rent.InvoiceItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = rent.InvoiceItem{Description: it.Description, Amount: it.Amount}
	}

	inv, err := h.svc.CreateInvoice(r.Context(), rent.CreateInvoiceInput{
		LeaseID:       req.LeaseID,
		TenantID:      req.TenantID,
		BuildingID:    req.BuildingID,
		UnitID:        req.UnitID,
		InvoiceNumber: req.InvoiceNumber,
		Amount:        req.Amount,
		DueDate:       generic.MustParseDate(req.DueDate),
		Items:         items,
		Notes:         req.Notes,
	})
	if err != nil {
		writeServiceError(w, r, "Failed to create invoice", err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceDTO(*inv))
}

// ListInvoices returns invoices filtered by lease_id, tenant_id and status.
// status may repeat.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := rent.InvoiceFilter{
		LeaseID:  q.Get("lease_id"),
		TenantID: q.Get("tenant_id"),
	}
	for _, s := range q["status"] {
		f.Statuses = append(f.Statuses, rent.InvoiceStatus(s))
	}

	invs, err := h.svc.ListInvoices(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, "Failed to list invoices", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTOs(invs))
}

// GetInvoice returns a single invoice.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.svc.GetInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, "Failed to get invoice", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(*inv))
}

// SendInvoice moves a draft invoice to sent.
func (h *Handler) SendInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.svc.SendInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, "Failed to send invoice", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(*inv))
}

// CancelInvoice cancels an unpaid invoice.
func (h *Handler) CancelInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.svc.CancelInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, "Failed to cancel invoice", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(*inv))
}

// =============================================================================
// OPERATIONS
// =============================================================================

// ReconcileAll runs the time-advance scan over every lease and open invoice.
func (h *Handler) ReconcileAll(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequest
	if err := h.decodeOptional(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	report, err := h.svc.ReconcileAll(r.Context(), h.asOf(req))
	if err != nil {
		writeServiceError(w, r, "Reconciliation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(report))
}

// Health reports whether the store is reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		if err := h.ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Today: h.svc.Today().String()})
}

func (h *Handler) asOf(req ReconcileRequest) generic.Date {
	if req.AsOf == "" {
		return h.svc.Today()
	}
	return generic.MustParseDate(req.AsOf)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps a rent.Service error to its HTTP status.
func writeServiceError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error(message, zap.Error(err))
	}
	writeError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case generic.IsClientError(err):
		return http.StatusBadRequest
	case generic.IsConflict(err), generic.IsRetryable(err):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
