package billing

import (
	"math"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ParseLocaleNumber parses operator-typed numbers such as "1 234,5" or
// "1234.50". Whitespace (including non-breaking spaces used as thousands
// separators) is stripped and a comma is read as the decimal separator.
//
// Empty or unparseable input yields an invalid NullDecimal: half-typed values
// are "absent", never zero and never an error.
func ParseLocaleNumber(s string) decimal.NullDecimal {
	normalized := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		if r == ',' {
			return '.'
		}
		return r
	}, s)
	if normalized == "" || normalized == "-" || normalized == "." {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(normalized)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// ParseLocaleInt is ParseLocaleNumber restricted to positive whole numbers
// that fit in an int32. Fractional or out-of-range values are treated as
// absent.
func ParseLocaleInt(s string) (int, bool) {
	n := ParseLocaleNumber(s)
	if !n.Valid || !n.Decimal.Equal(n.Decimal.Truncate(0)) {
		return 0, false
	}
	if n.Decimal.LessThan(decimal.NewFromInt(1)) || n.Decimal.GreaterThan(decimal.NewFromInt(math.MaxInt32)) {
		return 0, false
	}
	return int(n.Decimal.IntPart()), true
}
