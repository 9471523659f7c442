/*
errors.go - Centralized error types for the billing core

PURPOSE:
  All sentinel errors in one place for consistency and discoverability.
  The rent package wraps these with structured errors carrying context.

ERROR CATEGORIES:
  1. Schedule/allocation errors - Rejected engine inputs
  2. Ledger errors - Entry persistence failures
  3. Concurrency errors - Lock and optimistic-version conflicts
  4. Lookup errors - Missing records

USAGE:
  if errors.Is(err, generic.ErrDuplicateAllocation) {
      // Payment already applied; reverse it first to re-apply
  }

SEE ALSO:
  - ledger.go: Uses these errors
  - rent/errors.go: Structured wrappers with domain context
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidSchedule is returned when a lease cannot produce a schedule
	// (end not after start, or non-positive rent).
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrInvalidAllocation is returned when a payment cannot be allocated
	// (non-positive amount, unusable status, unknown target).
	ErrInvalidAllocation = errors.New("invalid allocation")

	// ErrDuplicateAllocation is returned when a payment already has a live
	// allocation. Reverse it first to allocate again.
	ErrDuplicateAllocation = errors.New("payment already allocated")

	// ErrNotAllocated is returned when reversing a payment with no live allocation.
	ErrNotAllocated = errors.New("payment has no live allocation")

	// ErrDuplicateIdempotencyKey is returned when an entry with the same
	// idempotency key already exists.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrLockTimeout is returned when a per-key lock cannot be acquired in time.
	ErrLockTimeout = errors.New("lock acquisition timed out")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrLeaseTerminated is returned for any schedule change on a terminated lease.
	ErrLeaseTerminated = errors.New("lease is terminated")

	// ErrInvalidTransition is returned when an explicit status change is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidPeriod is returned when a period is malformed (end not after start).
	ErrInvalidPeriod = errors.New("invalid period: end not after start")

	// ErrInvalidInvoice is returned for invoices with no positive amount or
	// items that do not add up to the amount.
	ErrInvalidInvoice = errors.New("invalid invoice")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string // "lease", "payment", "invoice"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// TransitionError describes a rejected explicit status change.
type TransitionError struct {
	Kind string
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: transition from %q to %q is not allowed", e.Kind, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// ValidateTransition checks target against an allowed-transitions table.
func ValidateTransition(kind string, transitions map[string][]string, current, target string) error {
	for _, s := range transitions[current] {
		if s == target {
			return nil
		}
	}
	return &TransitionError{Kind: kind, From: current, To: target}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrLockTimeout)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidSchedule) ||
		errors.Is(err, ErrInvalidAllocation) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidInvoice)
}

// IsConflict returns true if the request conflicts with current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateAllocation) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrNotAllocated) ||
		errors.Is(err, ErrLeaseTerminated) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
