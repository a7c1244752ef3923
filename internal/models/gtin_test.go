package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGTIN(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected GTIN
		hasError bool
	}{
		{"Valid EAN-13", "4006381333931", "4006381333931", false},
		{"Valid EAN-13 with spaces", "  5901234123457 ", "5901234123457", false},
		{"UPC-A is padded", "036000291452", "0036000291452", false},
		{"Zero barcode", "0000000000000", ZeroGTIN, false},
		{"Bad check digit", "4006381333932", "", true},
		{"Too short", "12345", "", true},
		{"Letters", "40063813339A1", "", true},
		{"Empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseGTIN(tt.input)
			if tt.hasError {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidGTIN))
				var gerr *GTINError
				assert.True(t, errors.As(err, &gerr))
				assert.Equal(t, tt.input, gerr.Raw)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestGTINStringAndZero(t *testing.T) {
	var g GTIN
	assert.Equal(t, "0000000000000", g.String())
	assert.True(t, g.IsZero())
	assert.True(t, ZeroGTIN.IsZero())
	assert.False(t, MustGTIN("4006381333931").IsZero())
}

func TestGTINValid(t *testing.T) {
	assert.True(t, MustGTIN("4006381333931").Valid())
	assert.True(t, ZeroGTIN.Valid())
	assert.False(t, GTIN("4006381333932").Valid())
	assert.False(t, GTIN("036000291452").Valid())
	assert.False(t, GTIN("").Valid())
}

func TestMustGTINPanics(t *testing.T) {
	assert.Panics(t, func() { MustGTIN("nope") })
}

func TestGTINTextRoundTrip(t *testing.T) {
	var out struct {
		Code GTIN `json:"code"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"code":"036000291452"}`), &out))
	assert.Equal(t, GTIN("0036000291452"), out.Code)

	err := json.Unmarshal([]byte(`{"code":"123"}`), &out)
	assert.Error(t, err)
}
