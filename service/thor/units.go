package thor

import (
	"fmt"
	"math/big"
	"strings"
)

// maxUint256 bounds amounts so the ABI encoding cannot overflow.
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// FormatUnits scales a raw fixed-point integer by 10^decimals and renders it
// with two decimal places for display. Rounds to nearest.
func FormatUnits(raw *big.Int, decimals int) string {
	if raw == nil {
		return "0.00"
	}
	exp := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	rat := new(big.Rat).SetFrac(raw, exp)
	return rat.FloatString(2)
}

// ParseUnits converts a decimal amount string into the raw fixed-point
// integer representation. It rejects negative amounts, amounts with more
// fractional digits than decimals, and values that overflow a uint256.
func ParseUnits(amount string, decimals int) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	rat, ok := new(big.Rat).SetString(amount)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", amount)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("amount %q is negative", amount)
	}

	exp := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(exp))
	if !scaled.IsInt() {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", amount, decimals)
	}

	raw := new(big.Int).Set(scaled.Num())
	if raw.Cmp(maxUint256) > 0 {
		return nil, fmt.Errorf("amount %q overflows uint256", amount)
	}
	return raw, nil
}
