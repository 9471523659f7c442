/*
balance.go - Credit balance derived from ledger entries

PURPOSE:
  Answers "how much has been credited toward this target?" and "does this
  payment currently have a live allocation?" by replaying entries. There is
  no stored credit field that can drift from the ledger.

KEY INSIGHT:
  Partial payments accumulate as credits. A target is settled when live
  credit reaches the amount due; until then it simply has an outstanding
  balance. There is no half-paid state.

LIVENESS:
  An allocation attempt is live until a reversal entry with the same
  payment and attempt appears. Credits of reversed attempts still sit in
  the ledger, cancelled out by the reversal deltas.

SEE ALSO:
  - ledger.go: Where entries come from
  - rent/allocation.go: Uses Balance to fill periods
*/
package generic

// =============================================================================
// BALANCE - Due vs credited for one target
// =============================================================================

type Balance struct {
	Target   string
	Due      Money
	Credited Money
}

// Outstanding is what remains to be paid, never negative.
func (b Balance) Outstanding() Money {
	out := b.Due.Sub(b.Credited)
	if out.IsNegative() {
		return Zero()
	}
	return out
}

// Settled reports whether credit covers the amount due.
func (b Balance) Settled() bool {
	return b.Credited.GreaterThanOrEqual(b.Due)
}

// Excess is credit beyond the amount due.
func (b Balance) Excess() Money {
	ex := b.Credited.Sub(b.Due)
	if ex.IsNegative() {
		return Zero()
	}
	return ex
}

// =============================================================================
// REPLAY HELPERS
// =============================================================================

type attemptKey struct {
	paymentID string
	attempt   int
}

func reversedAttempts(entries []Entry) map[attemptKey]bool {
	reversed := make(map[attemptKey]bool)
	for _, e := range entries {
		if e.Type == EntryReversal {
			reversed[attemptKey{e.PaymentID, e.Attempt}] = true
		}
	}
	return reversed
}

// CreditedTo sums credits and their reversals toward target.
func CreditedTo(entries []Entry, target string) Money {
	total := Zero()
	for _, e := range entries {
		if e.Target != target {
			continue
		}
		if e.Type == EntryCredit || e.Type == EntryReversal {
			total = total.Add(e.Delta)
		}
	}
	return total
}

// CreditsByTarget sums live credit for every target in one pass.
func CreditsByTarget(entries []Entry) map[string]Money {
	totals := make(map[string]Money)
	for _, e := range entries {
		if e.Target == "" || (e.Type != EntryCredit && e.Type != EntryReversal) {
			continue
		}
		cur, ok := totals[e.Target]
		if !ok {
			cur = Zero()
		}
		totals[e.Target] = cur.Add(e.Delta)
	}
	return totals
}

// AllocationState summarizes a payment's allocation history.
type AllocationState struct {
	LastAttempt int  // 0 when the payment was never allocated
	Live        bool // true when LastAttempt has not been reversed
}

// NextAttempt is the attempt number a new allocation must use.
func (s AllocationState) NextAttempt() int { return s.LastAttempt + 1 }

// PaymentState derives the allocation state of one payment from its entries.
func PaymentState(paymentID string, entries []Entry) AllocationState {
	var state AllocationState
	for _, e := range entries {
		if e.PaymentID == paymentID && e.Attempt > state.LastAttempt {
			state.LastAttempt = e.Attempt
		}
	}
	if state.LastAttempt == 0 {
		return state
	}
	reversed := reversedAttempts(entries)
	state.Live = !reversed[attemptKey{paymentID, state.LastAttempt}]
	return state
}

// LiveEntries returns the non-reversal entries of paymentID's live attempt.
func LiveEntries(paymentID string, entries []Entry) []Entry {
	state := PaymentState(paymentID, entries)
	if !state.Live {
		return nil
	}
	var live []Entry
	for _, e := range entries {
		if e.PaymentID == paymentID && e.Attempt == state.LastAttempt && e.Type != EntryReversal {
			live = append(live, e)
		}
	}
	return live
}

// LatestCreditor returns the payment behind the most recent live credit
// toward target, skipping exclude. Empty when there is none.
func LatestCreditor(entries []Entry, target, exclude string) string {
	reversed := reversedAttempts(entries)
	latest := ""
	for _, e := range entries {
		if e.Type != EntryCredit || e.Target != target || e.PaymentID == exclude {
			continue
		}
		if reversed[attemptKey{e.PaymentID, e.Attempt}] {
			continue
		}
		latest = e.PaymentID
	}
	return latest
}

// ReversalsFor builds the reversal entries that cancel paymentID's live attempt.
// Remainder entries are reversed with a zero delta so the attempt is closed
// even when nothing was credited.
func ReversalsFor(paymentID string, entries []Entry, at Date, reason string) []Entry {
	live := LiveEntries(paymentID, entries)
	out := make([]Entry, 0, len(live))
	for _, e := range live {
		delta := e.Delta.Neg()
		if e.Type == EntryRemainder {
			delta = Zero()
		}
		out = append(out, Entry{
			AccountID:      e.AccountID,
			Target:         e.Target,
			PaymentID:      paymentID,
			Attempt:        e.Attempt,
			EffectiveAt:    at,
			Delta:          delta,
			Type:           EntryReversal,
			Reason:         reason,
			IdempotencyKey: EntryKey(paymentID, e.Attempt, EntryReversal, string(e.ID)),
			Metadata:       map[string]string{"reverses": string(e.ID)},
		})
	}
	return out
}
