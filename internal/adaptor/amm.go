/*

This file implements the AMM adaptor: an LP position is valued as its
pro-rata share of both pool reserves plus accrued-but-uncollected trading
fees, priced at the oracle. Before trusting the reserves, the pool's implied
price is compared against the oracle price; a manipulated pool whose implied
price drifts past the deviation bound is rejected.

The implied-vs-oracle comparison normalizes BOTH sides to the canonical
scale. Comparing a raw pool ratio against a normalized oracle ratio is
meaningless the moment the two reserve assets carry different native decimal
counts.

*/

package adaptor

import (
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"

	"github.com/custodia-labs/cvm/internal/pricing"
	"github.com/custodia-labs/cvm/internal/types"
	"github.com/custodia-labs/cvm/internal/utils"
)

// AMMAdaptorName is the registry key for the AMM adaptor.
const AMMAdaptorName = "amm"

var (
	ErrPoolPriceDeviation = errors.New("pool implied price deviates from oracle price")
	ErrPoolStateInvalid   = errors.New("pool state is invalid")
)

// AMMAdaptor values two-asset constant-product LP positions.
type AMMAdaptor struct {
	maxDeviationBps uint32
}

// NewAMMAdaptor creates the AMM adaptor with the given implied-price
// deviation bound in basis points.
func NewAMMAdaptor(maxDeviationBps uint32) *AMMAdaptor {
	return &AMMAdaptor{maxDeviationBps: maxDeviationBps}
}

func (a *AMMAdaptor) Name() string { return AMMAdaptorName }

// ComputePositionValue returns the LP share of reserves plus accrued fees in
// canonical 9-decimal USD.
func (a *AMMAdaptor) ComputePositionValue(pos *types.Position, book *pricing.PriceBook, now time.Time) (sdkmath.Int, error) {
	if pos == nil {
		return sdkmath.Int{}, fmt.Errorf("%w: nil position", ErrPositionInvalid)
	}
	if pos.Adaptor != AMMAdaptorName {
		return sdkmath.Int{}, fmt.Errorf("%w: position is for %q", ErrAdaptorMismatch, pos.Adaptor)
	}
	if pos.LPShares.IsNil() || pos.LPShares.IsNegative() {
		return sdkmath.Int{}, fmt.Errorf("%w: LP shares are invalid", ErrPositionInvalid)
	}
	if pos.TotalPoolShares.IsNil() || !pos.TotalPoolShares.IsPositive() {
		return sdkmath.Int{}, fmt.Errorf("%w: total pool shares must be positive", ErrPoolStateInvalid)
	}
	if pos.LPShares.GT(pos.TotalPoolShares) {
		return sdkmath.Int{}, fmt.Errorf("%w: position holds more shares than the pool has issued", ErrPoolStateInvalid)
	}

	if err := a.checkImpliedPrice(pos, book, now); err != nil {
		return sdkmath.Int{}, err
	}

	reserveValue, err := valueCoins([]sdktypes.Coin{pos.ReserveA, pos.ReserveB}, book, now)
	if err != nil {
		return sdkmath.Int{}, err
	}
	feeValue, err := valueCoins(pos.AccruedFees, book, now)
	if err != nil {
		return sdkmath.Int{}, err
	}

	// Pro-rata share of the reserves, then fees on top. Fees belong to the
	// position alone, not to the pool share.
	shareValue := reserveValue.Mul(pos.LPShares).Quo(pos.TotalPoolShares)
	return shareValue.Add(feeValue), nil
}

// checkImpliedPrice compares the pool's implied A/B price against the oracle
// A/B price, with both reserve amounts scaled to canonical precision first.
func (a *AMMAdaptor) checkImpliedPrice(pos *types.Position, book *pricing.PriceBook, now time.Time) error {
	if pos.ReserveA.Amount.IsNil() || !pos.ReserveA.Amount.IsPositive() ||
		pos.ReserveB.Amount.IsNil() || !pos.ReserveB.Amount.IsPositive() {
		return fmt.Errorf("%w: reserves must be positive", ErrPoolStateInvalid)
	}

	decA, err := book.NativeDecimals(pos.ReserveA.Denom)
	if err != nil {
		return err
	}
	decB, err := book.NativeDecimals(pos.ReserveB.Denom)
	if err != nil {
		return err
	}

	normReserveA, err := utils.NormalizeToCanonical(pos.ReserveA.Amount, decA)
	if err != nil {
		return err
	}
	normReserveB, err := utils.NormalizeToCanonical(pos.ReserveB.Amount, decB)
	if err != nil {
		return err
	}
	if !normReserveA.IsPositive() || !normReserveB.IsPositive() {
		return fmt.Errorf("%w: reserves vanish at canonical precision", ErrPoolStateInvalid)
	}

	priceA, err := book.GetNormalizedPrice(pos.ReserveA.Denom, now)
	if err != nil {
		return err
	}
	priceB, err := book.GetNormalizedPrice(pos.ReserveB.Denom, now)
	if err != nil {
		return err
	}

	// implied price of A in B from reserve balances; oracle price of A in B
	// from the normalized feed. Both are Dec ratios of canonical quantities.
	implied := sdkmath.LegacyNewDecFromInt(normReserveB).Quo(sdkmath.LegacyNewDecFromInt(normReserveA))
	oracle := sdkmath.LegacyNewDecFromInt(priceA).Quo(sdkmath.LegacyNewDecFromInt(priceB))

	deviation := implied.Sub(oracle).Abs().Quo(oracle)
	bound := sdkmath.LegacyNewDec(int64(a.maxDeviationBps)).Quo(sdkmath.LegacyNewDec(10000))
	if deviation.GT(bound) {
		return fmt.Errorf("%w: implied %s, oracle %s, bound %s bps",
			ErrPoolPriceDeviation, implied, oracle, sdkmath.NewIntFromUint64(uint64(a.maxDeviationBps)))
	}
	return nil
}
