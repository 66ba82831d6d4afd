package thor

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatUnits(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		decimals int
		want     string
	}{
		{"whole tokens", "50000000000000000000", 18, "50.00"},
		{"fractional", "1500000000000000000", 18, "1.50"},
		{"rounds up", "1005000000000000000", 18, "1.01"},
		{"rounds down", "1004000000000000000", 18, "1.00"},
		{"zero", "0", 18, "0.00"},
		{"sub-cent dust", "1", 18, "0.00"},
		{"zero decimals", "42", 0, "42.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, ok := new(big.Int).SetString(tt.raw, 10)
			require.True(t, ok)
			assert.Equal(t, tt.want, FormatUnits(raw, tt.decimals))
		})
	}
}

func TestFormatUnits_NilIsZero(t *testing.T) {
	assert.Equal(t, "0.00", FormatUnits(nil, 18))
}

func TestParseUnits(t *testing.T) {
	raw, err := ParseUnits("50", 18)
	require.NoError(t, err)
	assert.Equal(t, "50000000000000000000", raw.String())

	raw, err = ParseUnits("1.25", 18)
	require.NoError(t, err)
	assert.Equal(t, "1250000000000000000", raw.String())

	raw, err = ParseUnits("0", 18)
	require.NoError(t, err)
	assert.Equal(t, "0", raw.String())
}

func TestParseUnits_Rejections(t *testing.T) {
	_, err := ParseUnits("-1", 18)
	assert.Error(t, err)

	_, err = ParseUnits("abc", 18)
	assert.Error(t, err)

	_, err = ParseUnits("1.005", 2)
	assert.Error(t, err)

	// 2^256 scaled by zero decimals overflows a uint256.
	huge := new(big.Int).Lsh(big.NewInt(1), 256)
	_, err = ParseUnits(huge.String(), 0)
	assert.Error(t, err)
}

// Display round-trip: format then parse reconstructs the value within one
// unit of the smallest displayed precision (2 decimal places).
func TestUnits_DisplayRoundTrip(t *testing.T) {
	decimals := 18
	values := []string{
		"50000000000000000000",
		"1234567890123456789",
		"999999999999999999",
		"10000000000000000",
	}

	// One displayed cent in raw units.
	cent := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals-2)), nil)

	for _, v := range values {
		raw, ok := new(big.Int).SetString(v, 10)
		require.True(t, ok)

		display := FormatUnits(raw, decimals)
		back, err := ParseUnits(display, decimals)
		require.NoError(t, err, "display %q", display)

		diff := new(big.Int).Abs(new(big.Int).Sub(raw, back))
		assert.True(t, diff.Cmp(cent) <= 0,
			"round trip of %s via %q drifted by %s raw units", v, display, diff)
	}
}
