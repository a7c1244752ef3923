package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrParse = errors.New("price parse error")

// decimalPattern is the only shape handed to the decimal parser: an optional
// leading sign, digits, at most one point. No exponent, no grouping.
var decimalPattern = regexp.MustCompile(`^-?(?:\d+\.?\d*|\.\d+)$`)

// ParseError reports a price string with no usable number in it.
type ParseError struct {
	Raw      string
	Filtered string
	Reason   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse price %q (filtered %q): %s", e.Raw, e.Filtered, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return ErrParse
}

// ParsePriceNonstrict keeps only ASCII digits, '.' and '-' from raw and parses
// the rest as an exact decimal. "$1,234.56 USD" becomes 1234.56.
func ParsePriceNonstrict(raw string) (decimal.Decimal, error) {
	return parseFiltered(raw, true)
}

// ParsePriceUnsigned is ParsePriceNonstrict without '-': a stray dash on a
// page never turns a price negative.
func ParsePriceUnsigned(raw string) (decimal.Decimal, error) {
	return parseFiltered(raw, false)
}

func parseFiltered(raw string, keepSign bool) (decimal.Decimal, error) {
	filtered := filterPrice(raw, keepSign)

	if filtered == "" {
		return decimal.Decimal{}, &ParseError{Raw: raw, Filtered: filtered, Reason: "no digits"}
	}
	if !decimalPattern.MatchString(filtered) {
		return decimal.Decimal{}, &ParseError{Raw: raw, Filtered: filtered, Reason: "not a decimal number"}
	}

	d, err := decimal.NewFromString(filtered)
	if err != nil {
		return decimal.Decimal{}, &ParseError{Raw: raw, Filtered: filtered, Reason: err.Error()}
	}
	return d, nil
}

func filterPrice(raw string, keepSign bool) string {
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c >= '0' && c <= '9', c == '.':
			b.WriteByte(c)
		case c == '-' && keepSign:
			b.WriteByte(c)
		}
	}
	return b.String()
}
