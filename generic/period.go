package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// MONTH - Calendar month identifier ("2024-02")
// =============================================================================

const MonthLayout = "2006-01"

type Month struct {
	Year  int
	Month time.Month
}

func NewMonth(year int, month time.Month) Month {
	return MonthOf(NewDate(year, month, 1))
}

// MonthOf returns the calendar month containing d.
func MonthOf(d Date) Month { return Month{Year: d.Year(), Month: d.Month()} }

func ParseMonth(s string) (Month, error) {
	t, err := time.Parse(MonthLayout, s)
	if err != nil {
		return Month{}, fmt.Errorf("invalid month %q (use YYYY-MM): %w", s, err)
	}
	return Month{Year: t.Year(), Month: t.Month()}, nil
}

func (m Month) String() string { return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month)) }

// Start is the first day of the month.
func (m Month) Start() Date { return NewDate(m.Year, m.Month, 1) }

// End is the first day of the next month (exclusive bound).
func (m Month) End() Date { return m.Start().AddMonths(1) }

// LastDay is the last calendar day of the month.
func (m Month) LastDay() Date { return m.End().AddDays(-1) }

// Days is the number of calendar days in the month.
func (m Month) Days() int { return DaysBetween(m.Start(), m.End()) }

func (m Month) Next() Month { return MonthOf(m.End()) }
func (m Month) Prev() Month { return MonthOf(m.Start().AddDays(-1)) }

func (m Month) Before(o Month) bool { return m.Start().Before(o.Start()) }
func (m Month) After(o Month) bool  { return m.Start().After(o.Start()) }
func (m Month) Equal(o Month) bool  { return m.Year == o.Year && m.Month == o.Month }

func (m Month) IsZero() bool { return m.Year == 0 && m.Month == 0 }

// =============================================================================
// PERIOD - Half-open date range [Start, End)
// =============================================================================

// Period is a half-open date range. End is exclusive so consecutive periods
// share a boundary without overlapping: [Jan 1, Feb 1) then [Feb 1, Mar 1).
type Period struct {
	Start Date
	End   Date
}

// Contains returns true if d is within [Start, End).
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.Before(p.End)
}

// Days returns the number of days in the period.
func (p Period) Days() int { return DaysBetween(p.Start, p.End) }

// IsValid reports whether Start < End.
func (p Period) IsValid() bool { return p.Start.Before(p.End) }

func (p Period) Overlaps(o Period) bool {
	return p.Start.Before(o.End) && o.Start.Before(p.End)
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + ")"
}

// MonthSegment is the part of a calendar month covered by a larger period.
type MonthSegment struct {
	Month  Month
	Period Period
}

// Full reports whether the segment covers its whole calendar month.
func (s MonthSegment) Full() bool {
	return s.Period.Start.Equal(s.Month.Start()) && s.Period.End.Equal(s.Month.End())
}

// SplitByMonth partitions p into consecutive calendar-month segments.
// The first and last segments are clipped to p's bounds.
func (p Period) SplitByMonth() ([]MonthSegment, error) {
	if !p.IsValid() {
		return nil, ErrInvalidPeriod
	}
	var segments []MonthSegment
	for m := MonthOf(p.Start); m.Start().Before(p.End); m = m.Next() {
		segments = append(segments, MonthSegment{
			Month: m,
			Period: Period{
				Start: MaxDate(p.Start, m.Start()),
				End:   MinDate(p.End, m.End()),
			},
		})
	}
	return segments, nil
}
