package erc7806

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

// Helper function to create big.Int values for testing
func newBigInt(s string) *big.Int {
	i, _ := new(big.Int).SetString(s, 10)
	return i
}

// TestToUint128 tests ToUint128.
func TestToUint128(t *testing.T) {
	testCases := []struct {
		name        string
		input       *big.Int
		expectError bool
		errorMsg    string
	}{
		{"Nil input", nil, true, "big.Int value cannot be nil"},
		{"Negative", big.NewInt(-1), true, "negative"},
		{"Overflow", newBigInt("340282366920938463463374607431768211456"), true, "maximum uint128"},
		{"Zero", big.NewInt(0), false, ""},
		{"Small number", newBigInt("1000"), false, ""},
		{"10 ETH in wei", newBigInt("10000000000000000000"), false, ""},
		{"Max uint128", newBigInt("340282366920938463463374607431768211455"), false, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := ToUint128(tc.input)
			if tc.expectError {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.errorMsg)
				return
			}
			require.NoError(t, err)
			require.Len(t, result, Uint128Length)

			back, err := FromUint128(result)
			require.NoError(t, err)
			require.Equal(t, 0, tc.input.Cmp(back), "Expected %s, got %s", tc.input, back)
		})
	}
}

// TestFromUint128 tests FromUint128.
func TestFromUint128(t *testing.T) {
	_, err := FromUint128(make([]byte, 15))
	require.Error(t, err)

	value, err := FromUint128(append(make([]byte, 14), 0x03, 0xe8))
	require.NoError(t, err)
	require.Equal(t, int64(1000), value.Int64())
}
