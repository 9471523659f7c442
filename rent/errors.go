package rent

import (
	"fmt"

	"github.com/warp/rent-engine/generic"
)

// InvalidScheduleError rejects a lease that cannot produce a schedule.
type InvalidScheduleError struct {
	LeaseID string
	Reason  string
}

func (e *InvalidScheduleError) Error() string {
	if e.LeaseID == "" {
		return "invalid schedule: " + e.Reason
	}
	return fmt.Sprintf("invalid schedule for lease %s: %s", e.LeaseID, e.Reason)
}

func (e *InvalidScheduleError) Unwrap() error { return generic.ErrInvalidSchedule }

// InvalidAllocationError rejects a payment that cannot be allocated.
type InvalidAllocationError struct {
	PaymentID string
	Reason    string
}

func (e *InvalidAllocationError) Error() string {
	return fmt.Sprintf("cannot allocate payment %s: %s", e.PaymentID, e.Reason)
}

func (e *InvalidAllocationError) Unwrap() error { return generic.ErrInvalidAllocation }

// DuplicateAllocationError rejects a payment whose previous allocation is
// still live. Reverse it before allocating again.
type DuplicateAllocationError struct {
	PaymentID string
	Attempt   int
}

func (e *DuplicateAllocationError) Error() string {
	return fmt.Sprintf("payment %s already allocated (attempt %d)", e.PaymentID, e.Attempt)
}

func (e *DuplicateAllocationError) Unwrap() error { return generic.ErrDuplicateAllocation }

// OverAllocationError describes a payment larger than what it targeted.
// Allocation never fails with it; AllocationResult.OverAllocation returns it
// for callers that want to surface the remainder.
type OverAllocationError struct {
	PaymentID string
	Applied   generic.Money
	Remainder generic.Money
}

func (e *OverAllocationError) Error() string {
	return fmt.Sprintf("payment %s over-allocated: applied %s, remainder %s",
		e.PaymentID, e.Applied, e.Remainder)
}
