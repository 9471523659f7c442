// Package lock provides per-key mutual exclusion.
//
// The rent service serializes every read-decide-write on a lease through a
// Locker keyed by the lease ID, so two payments racing on the same lease are
// applied one after the other while unrelated leases proceed in parallel.
// Memory serves a single process; Redis serves several instances sharing one
// database.
package lock

import "context"

// Locker acquires an exclusive lock on key. The returned release function
// must be called exactly once. Acquisition gives up when ctx is done and
// returns an error wrapping generic.ErrLockTimeout.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// LeaseKey is the lock key guarding a lease's period set.
func LeaseKey(leaseID string) string { return "lease:" + leaseID }

// InvoiceKey is the lock key guarding an invoice.
func InvoiceKey(invoiceID string) string { return "invoice:" + invoiceID }
