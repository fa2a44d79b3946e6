/*
This file contains common utility functions for fixed-point precision
handling. Every USD-value computation in the system goes through the helpers
here so the canonical 9-decimal scale is applied in exactly one place.
*/

package utils

import (
	"errors"
	"fmt"
	"math"

	sdkmath "cosmossdk.io/math"

	"github.com/custodia-labs/cvm/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidPrecision = errors.New("precision is invalid")
	ErrAmountNil        = errors.New("amount is nil")
	ErrAmountNegative   = errors.New("amount is negative")
	ErrNotFinite        = errors.New("value is not finite")
	ErrInvalidBps       = errors.New("basis points value is invalid")
)

const maxSupportedDecimals = 18

// Pow10 returns 10^n as an Int. n must be within the supported decimal range.
func Pow10(n int) (sdkmath.Int, error) {
	if n < 0 || n > maxSupportedDecimals {
		return sdkmath.Int{}, fmt.Errorf("%w: %d (must be between 0 and %d)", ErrInvalidPrecision, n, maxSupportedDecimals)
	}
	return sdkmath.NewIntWithDecimal(1, n), nil
}

// NormalizeToCanonical converts a raw price expressed with nativeDecimals
// into the canonical fixed-point scale:
//
//	canonical = raw * 10^(9 - d)   when d < 9
//	canonical = raw / 10^(d - 9)   when d >= 9
//
// The division truncates, matching the host ledger's integer semantics.
func NormalizeToCanonical(raw sdkmath.Int, nativeDecimals int) (sdkmath.Int, error) {
	if raw.IsNil() {
		return sdkmath.Int{}, ErrAmountNil
	}
	if nativeDecimals < 0 || nativeDecimals > maxSupportedDecimals {
		return sdkmath.Int{}, fmt.Errorf("%w: %d (must be between 0 and %d)", ErrInvalidPrecision, nativeDecimals, maxSupportedDecimals)
	}

	if nativeDecimals < types.CanonicalDecimals {
		factor, err := Pow10(types.CanonicalDecimals - nativeDecimals)
		if err != nil {
			return sdkmath.Int{}, err
		}
		return raw.Mul(factor), nil
	}
	factor, err := Pow10(nativeDecimals - types.CanonicalDecimals)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return raw.Quo(factor), nil
}

// CoinValueUSD computes the canonical USD value of an asset amount:
//
//	value = amount * normalizedPrice / 10^decimals
//
// amount is in base units (10^-decimals of a whole unit) and normalizedPrice
// is a canonical 9-decimal USD price per whole unit. The multiplication runs
// on big-integer backed Ints, so no intermediate overflow is possible.
func CoinValueUSD(amount sdkmath.Int, decimals int, normalizedPrice sdkmath.Int) (sdkmath.Int, error) {
	if amount.IsNil() || normalizedPrice.IsNil() {
		return sdkmath.Int{}, ErrAmountNil
	}
	if amount.IsNegative() {
		return sdkmath.Int{}, ErrAmountNegative
	}
	unit, err := Pow10(decimals)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return amount.Mul(normalizedPrice).Quo(unit), nil
}

// USDToCoinAmount is the inverse of CoinValueUSD: it converts a canonical USD
// value into asset base units at the given normalized price. Truncates.
func USDToCoinAmount(valueUSD sdkmath.Int, decimals int, normalizedPrice sdkmath.Int) (sdkmath.Int, error) {
	if valueUSD.IsNil() || normalizedPrice.IsNil() {
		return sdkmath.Int{}, ErrAmountNil
	}
	if valueUSD.IsNegative() {
		return sdkmath.Int{}, ErrAmountNegative
	}
	if !normalizedPrice.IsPositive() {
		return sdkmath.Int{}, fmt.Errorf("%w: normalized price must be positive, got %s", ErrAmountNegative, normalizedPrice)
	}
	unit, err := Pow10(decimals)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return valueUSD.Mul(unit).Quo(normalizedPrice), nil
}

// ApplyBps returns amount * bps / 10000, truncated. Used for every fee skim
// and for the epoch loss budget.
func ApplyBps(amount sdkmath.Int, bps uint32) (sdkmath.Int, error) {
	if amount.IsNil() {
		return sdkmath.Int{}, ErrAmountNil
	}
	if amount.IsNegative() {
		return sdkmath.Int{}, ErrAmountNegative
	}
	if bps > 10000 {
		return sdkmath.Int{}, fmt.Errorf("%w: %d (must not exceed 10000)", ErrInvalidBps, bps)
	}
	return amount.Mul(sdkmath.NewIntFromUint64(uint64(bps))).Quo(sdkmath.NewInt(10000)), nil
}

// IntToDisplayFloat converts a fixed-point Int to float64 for dashboards and
// metrics only. Never feed the result back into value arithmetic.
func IntToDisplayFloat(amount sdkmath.Int, precision int) (float64, error) {
	if precision < 0 || precision > maxSupportedDecimals {
		return 0, fmt.Errorf("%w: %d (must be between 0 and %d)", ErrInvalidPrecision, precision, maxSupportedDecimals)
	}
	if amount.IsNil() {
		return 0, ErrAmountNil
	}

	decAmount := sdkmath.LegacyNewDecFromInt(amount)
	factor := sdkmath.LegacyNewDec(10).Power(uint64(precision))

	result, err := decAmount.Quo(factor).Float64()
	if err != nil {
		return 0, err
	}
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0, fmt.Errorf("%w: result is %f", ErrNotFinite, result)
	}
	return result, nil
}
