package billing

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// PERIOD - One calendar month, the unit of settlement
// =============================================================================

// Period is a calendar month. Settlements, prices and station start dates are
// all keyed by Period; its text form is "YYYY-MM".
//
// Periods compare by (year, month) tuple, never by string.
type Period struct {
	Year  int
	Month time.Month
}

// NewPeriod builds a period, normalising out-of-range months
// (e.g. month 13 of 2024 becomes 2025-01).
func NewPeriod(year int, month time.Month) Period {
	t := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return Period{Year: t.Year(), Month: t.Month()}
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

// ParsePeriod parses "YYYY-MM". Surrounding whitespace is ignored.
func ParsePeriod(s string) (Period, error) {
	s = strings.TrimSpace(s)
	year, month, ok := strings.Cut(s, "-")
	if !ok || len(year) != 4 || len(month) != 2 {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	y, err := strconv.Atoi(year)
	if err != nil {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	m, err := strconv.Atoi(month)
	if err != nil || m < 1 || m > 12 {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	return Period{Year: y, Month: time.Month(m)}, nil
}

// MustParsePeriod is ParsePeriod for literals; it panics on bad input.
func MustParsePeriod(s string) Period {
	p, err := ParsePeriod(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Comparison
func (p Period) Compare(other Period) int {
	switch {
	case p.index() < other.index():
		return -1
	case p.index() > other.index():
		return 1
	default:
		return 0
	}
}
func (p Period) Before(other Period) bool        { return p.Compare(other) < 0 }
func (p Period) After(other Period) bool         { return p.Compare(other) > 0 }
func (p Period) Equal(other Period) bool         { return p.Compare(other) == 0 }
func (p Period) BeforeOrEqual(other Period) bool { return p.Compare(other) <= 0 }
func (p Period) AfterOrEqual(other Period) bool  { return p.Compare(other) >= 0 }

func (p Period) index() int { return p.Year*12 + int(p.Month) - 1 }

// Arithmetic
func (p Period) AddMonths(n int) Period { return NewPeriod(p.Year, p.Month+time.Month(n)) }
func (p Period) Next() Period           { return p.AddMonths(1) }
func (p Period) Prev() Period           { return p.AddMonths(-1) }

// MonthsUntil returns the number of months from p to other (negative if other is earlier).
func (p Period) MonthsUntil(other Period) int { return other.index() - p.index() }

// Properties
func (p Period) IsZero() bool { return p.Year == 0 && p.Month == 0 }

// Days returns the number of calendar days in the month.
func (p Period) Days() int {
	return time.Date(p.Year, p.Month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Start returns midnight UTC on the first day of the month.
func (p Period) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

func (p Period) String() string {
	if p.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// MarshalText implements encoding.TextMarshaler, so Period works as a JSON
// string and as a map key.
func (p Period) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Period) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*p = Period{}
		return nil
	}
	parsed, err := ParsePeriod(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
