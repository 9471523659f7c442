/*
Package generic provides the domain-agnostic core of the billing engine.

PURPOSE:
  This package contains the money, calendar and ledger primitives the rent
  engine is built on. Nothing here knows about leases or invoices: a ledger
  account is just an ID, a target is just a string, a period is just a
  half-open date range.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A decimal amount in the smallest-unit-aware currency of the system
  - Entry: An immutable credit ledger record (credit, remainder, reversal)
  - Account/Entry IDs: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Immutability: Entries are never modified, only reversed
  2. Precision: Uses decimal.Decimal, rounded half-up to 2 places
  3. Type Safety: Strong typing for IDs prevents mixing accounts and entries
  4. Auditability: Every entry has payment, attempt, reason and idempotency key

USAGE:
  rent := generic.NewMoneyFromInt(1000)
  e := generic.Entry{
      AccountID: "lease-1",
      Target:    "2024-02",
      PaymentID: "pay-1",
      Delta:     rent,
      Type:      generic.EntryCredit,
  }

SEE ALSO:
  - period.go: Month and Period (half-open date ranges)
  - balance.go: Credit balance per target computed from entries
  - ledger.go: Entry persistence interface
*/
package generic

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Decimal amount, single currency
// =============================================================================

// MoneyPlaces is the number of decimal places of the smallest currency unit.
const MoneyPlaces = 2

type Money struct {
	Value decimal.Decimal
}

func NewMoney(value float64) Money {
	return Money{Value: decimal.NewFromFloat(value)}
}

func NewMoneyFromInt(value int64) Money {
	return Money{Value: decimal.NewFromInt(value)}
}

func NewMoneyFromDecimal(d decimal.Decimal) Money {
	return Money{Value: d}
}

// ParseMoney parses a decimal string such as "1250.50".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid money amount %q: %w", s, err)
	}
	return Money{Value: d}, nil
}

func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

func Zero() Money { return Money{Value: decimal.Zero} }

func (m Money) Add(o Money) Money              { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money              { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) Mul(s decimal.Decimal) Money    { return Money{Value: m.Value.Mul(s)} }
func (m Money) Neg() Money                     { return Money{Value: m.Value.Neg()} }
func (m Money) IsNegative() bool               { return m.Value.IsNegative() }
func (m Money) IsZero() bool                   { return m.Value.IsZero() }
func (m Money) IsPositive() bool               { return m.Value.IsPositive() }
func (m Money) Equal(o Money) bool             { return m.Value.Equal(o.Value) }
func (m Money) GreaterThan(o Money) bool       { return m.Value.GreaterThan(o.Value) }
func (m Money) GreaterThanOrEqual(o Money) bool { return m.Value.GreaterThanOrEqual(o.Value) }
func (m Money) LessThan(o Money) bool          { return m.Value.LessThan(o.Value) }
func (m Money) Min(o Money) Money              { if m.LessThan(o) { return m }; return o }
func (m Money) Max(o Money) Money              { if m.GreaterThan(o) { return m }; return o }

// Round rounds to the smallest currency unit. Halves round away from zero,
// which is round-half-up for the non-negative amounts the engine produces.
func (m Money) Round() Money { return Money{Value: m.Value.Round(MoneyPlaces)} }

// Prorate returns m × num / den rounded to the smallest currency unit.
// Multiplication happens before division so whole-month ratios are exact.
func (m Money) Prorate(num, den int) Money {
	if den <= 0 {
		return Zero()
	}
	v := m.Value.Mul(decimal.NewFromInt(int64(num))).Div(decimal.NewFromInt(int64(den)))
	return Money{Value: v}.Round()
}

// String renders the amount with exactly two decimals.
func (m Money) String() string { return m.Value.StringFixed(MoneyPlaces) }

// Float64 is for presentation only. Never feed it back into arithmetic.
func (m Money) Float64() float64 {
	f, _ := m.Value.Float64()
	return f
}

// MarshalJSON renders the amount as a plain JSON number with two decimals.
func (m Money) MarshalJSON() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalJSON accepts both numbers and quoted decimal strings.
func (m *Money) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*m = Zero()
		return nil
	}
	parsed, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Sum adds a list of amounts.
func Sum(amounts ...Money) Money {
	total := Zero()
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

// AccountID names a ledger account: one lease's period schedule or one invoice.
type AccountID string

type EntryID string

// =============================================================================
// ENTRY - Atomic credit applied by an allocation
// =============================================================================

type EntryType string

const (
	EntryCredit    EntryType = "credit"    // Amount credited toward a target (period month or invoice)
	EntryRemainder EntryType = "remainder" // Unapplied portion of a payment; never counts as credit
	EntryReversal  EntryType = "reversal"  // Undo of a credit or remainder entry of the same attempt
)

type Entry struct {
	ID        EntryID
	AccountID AccountID

	// Target is what the credit applies to. For period accounts it is the
	// month ("2024-02"); for invoice accounts it is the invoice ID. Empty for
	// remainder entries.
	Target string

	// PaymentID and Attempt identify the allocation that produced the entry.
	// Attempt increases by one each time a reversed payment is re-allocated.
	PaymentID string
	Attempt   int

	EffectiveAt    Date
	Delta          Money
	Type           EntryType
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string

	CreatedAt time.Time
}

// EntryKey builds the idempotency key for an entry. It is unique per
// payment, attempt, entry type and target.
func EntryKey(paymentID string, attempt int, typ EntryType, target string) string {
	return fmt.Sprintf("%s:%d:%s:%s", paymentID, attempt, typ, target)
}
