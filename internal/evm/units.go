package evm

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ToBaseUnits converts a human-readable amount into the token's smallest unit.
// Digits below the token's precision are truncated toward zero.
func ToBaseUnits(amount decimal.Decimal, decimals uint8) *big.Int {
	return amount.Shift(int32(decimals)).Truncate(0).BigInt()
}

// FromBaseUnits converts a smallest-unit amount into a human-readable decimal.
func FromBaseUnits(v *big.Int, decimals uint8) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -int32(decimals))
}

// MustPositive rejects zero and negative amounts.
func MustPositive(amount decimal.Decimal, what string) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%s must be positive, got %s", what, amount.String())
	}
	return nil
}

// fixed64 is 2^64, the denominator of the 64.64 fixed point prices LMSR
// contracts report.
var fixed64 = decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 64), 0)

// FromFixed64 converts a 64.64 fixed point fraction into a decimal.
func FromFixed64(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, 0).DivRound(fixed64, 18)
}
