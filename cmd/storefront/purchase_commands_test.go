package main

import (
	"testing"

	"github.com/itchyny/gojq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTruthy(t *testing.T) {
	assert.True(t, isTruthy(true))
	assert.True(t, isTruthy("yes"))
	assert.True(t, isTruthy(1.0))
	assert.True(t, isTruthy(map[string]any{}))
	assert.False(t, isTruthy(false))
	assert.False(t, isTruthy(nil))
}

func TestJQFilterOverPurchaseEvent(t *testing.T) {
	input := map[string]any{
		"tx_id":         "0xabc",
		"payer_address": "0xf077b491b355e64048ce21e3a6fc4751eeea77fa",
		"item":          "Beach Towel",
		"amount":        "50.00",
	}

	tests := []struct {
		name    string
		filter  string
		matches bool
	}{
		{"item equality", `.item == "Beach Towel"`, true},
		{"item mismatch", `.item == "Sunscreen"`, false},
		{"amount contains", `.amount | contains("50")`, true},
		{"compound", `(.item == "Beach Towel") and (.tx_id == "0xabc")`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, err := gojq.Parse(tt.filter)
			require.NoError(t, err)
			code, err := gojq.Compile(query)
			require.NoError(t, err)

			iter := code.Run(input)
			v, ok := iter.Next()
			require.True(t, ok)
			_, isErr := v.(error)
			require.False(t, isErr)
			assert.Equal(t, tt.matches, isTruthy(v))
		})
	}
}
