package models

import (
	"errors"
	"fmt"
	"strings"
)

// ZeroGTIN is the all-zero EAN-13 barcode. Its check digit is valid, so it
// round-trips through ParseGTIN.
const ZeroGTIN GTIN = "0000000000000"

var ErrInvalidGTIN = errors.New("invalid GTIN")

// GTIN is a 13-digit GTIN/EAN-13 barcode. ParseGTIN and MustGTIN are the
// checked ways to build one; a plain conversion such as GTIN("x") skips the
// check, and Valid reports whether a value would pass it.
type GTIN string

// GTINError reports why a raw string could not be read as a barcode.
type GTINError struct {
	Raw    string
	Reason string
}

func (e *GTINError) Error() string {
	return fmt.Sprintf("invalid GTIN %q: %s", e.Raw, e.Reason)
}

func (e *GTINError) Unwrap() error {
	return ErrInvalidGTIN
}

// ParseGTIN reads an EAN-13 or a 12-digit UPC-A code. UPC-A codes are
// left-padded to 13 digits.
func ParseGTIN(raw string) (GTIN, error) {
	s := strings.TrimSpace(raw)

	for _, r := range s {
		if r < '0' || r > '9' {
			return "", &GTINError{Raw: raw, Reason: "contains non-digit characters"}
		}
	}

	switch len(s) {
	case 13:
	case 12:
		s = "0" + s
	default:
		return "", &GTINError{Raw: raw, Reason: fmt.Sprintf("expected 12 or 13 digits, got %d", len(s))}
	}

	if want := checkDigit(s[:12]); s[12] != want {
		return "", &GTINError{Raw: raw, Reason: fmt.Sprintf("check digit %c does not match %c", s[12], want)}
	}

	return GTIN(s), nil
}

// MustGTIN is ParseGTIN for literals; it panics on invalid input.
func MustGTIN(raw string) GTIN {
	g, err := ParseGTIN(raw)
	if err != nil {
		panic(err)
	}
	return g
}

// checkDigit computes the GS1 mod-10 check digit over the first 12 digits.
func checkDigit(digits string) byte {
	sum := 0
	for i := 0; i < len(digits); i++ {
		d := int(digits[i] - '0')
		if i%2 == 1 {
			d *= 3
		}
		sum += d
	}
	return byte('0' + (10-sum%10)%10)
}

// Valid reports whether g is 13 digits with a correct check digit.
func (g GTIN) Valid() bool {
	parsed, err := ParseGTIN(string(g))
	return err == nil && parsed == g
}

func (g GTIN) String() string {
	if g == "" {
		return string(ZeroGTIN)
	}
	return string(g)
}

func (g GTIN) IsZero() bool {
	return g == "" || g == ZeroGTIN
}

func (g GTIN) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

func (g *GTIN) UnmarshalText(text []byte) error {
	parsed, err := ParseGTIN(string(text))
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}
