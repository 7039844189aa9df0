package erc7806

import (
	"errors"
	"math/big"
)

// Uint128Length is the width of payment amounts in relayed instructions.
const Uint128Length = 16

var maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 8*Uint128Length), big.NewInt(1))

// ToUint128 converts a *big.Int to a fixed 16-byte unsigned big-endian value.
func ToUint128(i *big.Int) ([]byte, error) {
	if i == nil {
		return nil, errors.New("big.Int value cannot be nil")
	}

	if i.Sign() < 0 {
		return nil, errors.New("amount cannot be negative")
	}

	if i.Cmp(maxUint128) > 0 {
		return nil, errors.New("amount exceeds maximum uint128 value")
	}

	return i.FillBytes(make([]byte, Uint128Length)), nil
}

// FromUint128 converts a 16-byte unsigned big-endian value to a *big.Int.
func FromUint128(b []byte) (*big.Int, error) {
	if len(b) != Uint128Length {
		return nil, errors.New("uint128 input must be exactly 16 bytes")
	}

	// Copies only unsigned bytes
	return new(big.Int).SetBytes(b), nil
}
