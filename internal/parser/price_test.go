package parser

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePriceNonstrict(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		hasError bool
	}{
		{"Currency and grouping", "$1,234.56", "1234.56", false},
		{"Currency suffix", "$1,234.56 USD", "1234.56", false},
		{"Leading spaces", "  42.00", "42", false},
		{"Negative", "-12.5", "-12.5", false},
		{"Integer", "199", "199", false},
		{"Euro text", "EUR 7.05 each", "7.05", false},
		{"Empty", "", "", true},
		{"Not available", "N/A", "", true},
		{"Two points", "12.34.56", "", true},
		{"Lone dash", "-", "", true},
		{"Lone point", ".", "", true},
		{"Dash inside", "10-20", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePriceNonstrict(tt.input)
			if tt.hasError {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrParse))
				var perr *ParseError
				require.True(t, errors.As(err, &perr))
				assert.Equal(t, tt.input, perr.Raw)
				return
			}
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.expected).Equal(got),
				"ParsePriceNonstrict(%q) = %s, want %s", tt.input, got, tt.expected)
		})
	}
}

func TestParsePriceNonstrictIsExact(t *testing.T) {
	inputs := []string{"0", "0.1", "0.30", "1234567890123456789.000000001", "-0.005", "100"}

	for _, in := range inputs {
		got, err := ParsePriceNonstrict(in)
		require.NoError(t, err, in)
		assert.True(t, decimal.RequireFromString(in).Equal(got), in)
	}
}

func TestParsePriceUnsigned(t *testing.T) {
	got, err := ParsePriceUnsigned("-$5.25")
	require.NoError(t, err)
	assert.Equal(t, "5.25", got.String())

	_, err = ParsePriceUnsigned("Call for price")
	assert.True(t, errors.Is(err, ErrParse))
}

func TestFilterPrice(t *testing.T) {
	assert.Equal(t, "1234.56", filterPrice("$1,234.56", true))
	assert.Equal(t, "-1.0", filterPrice("-1.0", true))
	assert.Equal(t, "1.0", filterPrice("-1.0", false))
	assert.Equal(t, "", filterPrice("£", true))
}
