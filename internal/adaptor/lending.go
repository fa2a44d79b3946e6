/*

This file implements the lending adaptor: position value is everything
claimable from the protocol (supplied collateral plus accrued yield) minus
everything owed to it. The subtraction is signed end to end; an over-borrowed
position values negative and flows into the ledger as a liability.

*/

package adaptor

import (
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"

	"github.com/custodia-labs/cvm/internal/pricing"
	"github.com/custodia-labs/cvm/internal/types"
	"github.com/custodia-labs/cvm/internal/utils"
)

// LendingAdaptorName is the registry key for the lending adaptor.
const LendingAdaptorName = "lending"

// LendingAdaptor values supply/borrow positions on external money markets.
type LendingAdaptor struct{}

// NewLendingAdaptor creates the lending adaptor.
func NewLendingAdaptor() *LendingAdaptor {
	return &LendingAdaptor{}
}

func (a *LendingAdaptor) Name() string { return LendingAdaptorName }

// ComputePositionValue returns supplied + accrued - borrowed in canonical
// 9-decimal USD, signed.
func (a *LendingAdaptor) ComputePositionValue(pos *types.Position, book *pricing.PriceBook, now time.Time) (sdkmath.Int, error) {
	if pos == nil {
		return sdkmath.Int{}, fmt.Errorf("%w: nil position", ErrPositionInvalid)
	}
	if pos.Adaptor != LendingAdaptorName {
		return sdkmath.Int{}, fmt.Errorf("%w: position is for %q", ErrAdaptorMismatch, pos.Adaptor)
	}

	assets, err := valueCoins(append(append([]sdktypes.Coin{}, pos.Supplied...), pos.Accrued...), book, now)
	if err != nil {
		return sdkmath.Int{}, err
	}
	liabilities, err := valueCoins(pos.Borrowed, book, now)
	if err != nil {
		return sdkmath.Int{}, err
	}

	return assets.Sub(liabilities), nil
}

// valueCoins sums the canonical USD value of a coin list at normalized oracle
// prices. Each coin's native decimal count comes from its price entry, so
// assets with differing precisions aggregate on the same scale.
func valueCoins(coins []sdktypes.Coin, book *pricing.PriceBook, now time.Time) (sdkmath.Int, error) {
	total := sdkmath.ZeroInt()
	for _, coin := range coins {
		if coin.Amount.IsNil() || coin.Amount.IsNegative() {
			return sdkmath.Int{}, fmt.Errorf("%w: coin %s has invalid amount", ErrPositionInvalid, coin.Denom)
		}
		price, err := book.GetNormalizedPrice(coin.Denom, now)
		if err != nil {
			return sdkmath.Int{}, err
		}
		decimals, err := book.NativeDecimals(coin.Denom)
		if err != nil {
			return sdkmath.Int{}, err
		}
		value, err := utils.CoinValueUSD(coin.Amount, decimals, price)
		if err != nil {
			return sdkmath.Int{}, err
		}
		total = total.Add(value)
	}
	return total, nil
}
