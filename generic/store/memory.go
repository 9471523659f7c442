// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/rent-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory ledger store (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	entries     map[generic.AccountID][]generic.Entry
	byPayment   map[string][]generic.Entry
	idempotency map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		entries:     make(map[generic.AccountID][]generic.Entry),
		byPayment:   make(map[string][]generic.Entry),
		idempotency: make(map[string]bool),
	}
}

// Append adds a single entry. Append-only.
func (m *Memory) Append(_ context.Context, e generic.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.AppendLocked(e)
}

// AppendBatch adds multiple entries atomically.
func (m *Memory) AppendBatch(_ context.Context, es []generic.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.AppendBatchLocked(es)
}

// AppendBatchLocked is AppendBatch for callers already holding the lock
// through Lock/Unlock (transactional wrappers).
func (m *Memory) AppendBatchLocked(es []generic.Entry) error {
	// Check all idempotency keys first (atomic check)
	seen := make(map[string]bool, len(es))
	for _, e := range es {
		if e.IdempotencyKey == "" {
			continue
		}
		if m.idempotency[e.IdempotencyKey] || seen[e.IdempotencyKey] {
			return generic.ErrDuplicateIdempotencyKey
		}
		seen[e.IdempotencyKey] = true
	}

	for _, e := range es {
		if err := m.AppendLocked(e); err != nil {
			return err
		}
	}
	return nil
}

// AppendLocked inserts e keeping the account ordered by EffectiveAt.
func (m *Memory) AppendLocked(e generic.Entry) error {
	if e.IdempotencyKey != "" && m.idempotency[e.IdempotencyKey] {
		return generic.ErrDuplicateIdempotencyKey
	}

	es := m.entries[e.AccountID]

	// Binary search for insertion point after all entries with the same date
	i := sort.Search(len(es), func(i int) bool {
		return es[i].EffectiveAt.After(e.EffectiveAt)
	})

	es = append(es, generic.Entry{})
	copy(es[i+1:], es[i:])
	es[i] = e
	m.entries[e.AccountID] = es

	if e.PaymentID != "" {
		m.byPayment[e.PaymentID] = append(m.byPayment[e.PaymentID], e)
	}
	if e.IdempotencyKey != "" {
		m.idempotency[e.IdempotencyKey] = true
	}
	return nil
}

func (m *Memory) Load(_ context.Context, account generic.AccountID) ([]generic.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LoadLocked(account), nil
}

func (m *Memory) LoadLocked(account generic.AccountID) []generic.Entry {
	result := make([]generic.Entry, len(m.entries[account]))
	copy(result, m.entries[account])
	return result
}

func (m *Memory) LoadByPayment(_ context.Context, paymentID string) ([]generic.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LoadByPaymentLocked(paymentID), nil
}

func (m *Memory) LoadByPaymentLocked(paymentID string) []generic.Entry {
	result := make([]generic.Entry, len(m.byPayment[paymentID]))
	copy(result, m.byPayment[paymentID])
	return result
}

func (m *Memory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

// =============================================================================
// SNAPSHOT / RESTORE - Used to simulate transactions
// =============================================================================

// Snapshot is a deep copy of the store's state.
type Snapshot struct {
	entries     map[generic.AccountID][]generic.Entry
	byPayment   map[string][]generic.Entry
	idempotency map[string]bool
}

// Lock and Unlock expose the write lock to transactional wrappers.
func (m *Memory) Lock()   { m.mu.Lock() }
func (m *Memory) Unlock() { m.mu.Unlock() }

// SnapshotLocked copies the current state. Caller holds the lock.
func (m *Memory) SnapshotLocked() Snapshot {
	s := Snapshot{
		entries:     make(map[generic.AccountID][]generic.Entry, len(m.entries)),
		byPayment:   make(map[string][]generic.Entry, len(m.byPayment)),
		idempotency: make(map[string]bool, len(m.idempotency)),
	}
	for k, v := range m.entries {
		s.entries[k] = append([]generic.Entry{}, v...)
	}
	for k, v := range m.byPayment {
		s.byPayment[k] = append([]generic.Entry{}, v...)
	}
	for k, v := range m.idempotency {
		s.idempotency[k] = v
	}
	return s
}

// RestoreLocked rolls the state back to s. Caller holds the lock.
func (m *Memory) RestoreLocked(s Snapshot) {
	m.entries = s.entries
	m.byPayment = s.byPayment
	m.idempotency = s.idempotency
}

// =============================================================================
// LOCKED VIEW
// =============================================================================

// txView is a lock-free view used inside a caller's transaction.
type txView struct {
	m *Memory
}

func (v *txView) Append(_ context.Context, e generic.Entry) error {
	return v.m.AppendLocked(e)
}

func (v *txView) AppendBatch(_ context.Context, es []generic.Entry) error {
	return v.m.AppendBatchLocked(es)
}

func (v *txView) Load(_ context.Context, account generic.AccountID) ([]generic.Entry, error) {
	return v.m.LoadLocked(account), nil
}

func (v *txView) LoadByPayment(_ context.Context, paymentID string) ([]generic.Entry, error) {
	return v.m.LoadByPaymentLocked(paymentID), nil
}

func (v *txView) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	return v.m.idempotency[idempotencyKey], nil
}

// NewLockedView returns a Store that operates on m without taking its lock.
// The caller must hold the lock via Lock for the view's whole lifetime.
func NewLockedView(m *Memory) generic.Store {
	return &txView{m: m}
}
