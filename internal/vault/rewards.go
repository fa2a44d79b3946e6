/*

This file implements reward distribution. Rewards are credited through a
per-share index: distribution bumps the index for the reward denom, and each
receipt settles lazily against the index whenever its share balance is about
to change. Both active and withdrawal-locked shares keep earning until they
are burned.

*/

package vault

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"

	"github.com/custodia-labs/cvm/internal/access"
	"github.com/custodia-labs/cvm/internal/types"
)

var (
	ErrRewardInvalid   = errors.New("reward coin is invalid")
	ErrNothingToSettle = errors.New("receipt has no unclaimed rewards")
)

// DistributeReward credits a reward coin pro-rata to every share outstanding.
// Operator only, NORMAL only, and meaningless without shares.
func (v *Vault) DistributeReward(operatorCapID string, reward sdktypes.Coin) error {
	if err := v.gate.Authorize(operatorCapID, access.RoleOperator, types.EngineVersion); err != nil {
		return err
	}
	if v.status != types.StatusNormal {
		return fmt.Errorf("%w: status is %s", ErrNotNormal, v.status)
	}
	if !reward.IsValid() || reward.IsZero() {
		return fmt.Errorf("%w: %s", ErrRewardInvalid, reward)
	}
	if v.totalShares.IsZero() {
		return ErrNoShares
	}

	index, exists := v.rewardIndex[reward.Denom]
	if !exists {
		index = sdkmath.LegacyZeroDec()
	}
	perShare := sdkmath.LegacyNewDecFromInt(reward.Amount).Quo(sdkmath.LegacyNewDecFromInt(v.totalShares))
	v.rewardIndex[reward.Denom] = index.Add(perShare)

	v.logger.Info().
		Str("reward", reward.String()).
		Str("per_share", perShare.String()).
		Msg("Reward distributed")
	return nil
}

// ClaimRewards settles and pays out an owner's accumulated rewards. NORMAL only.
func (v *Vault) ClaimRewards(owner string) (sdktypes.Coins, error) {
	if err := v.gate.RequireVersion(types.EngineVersion); err != nil {
		return nil, err
	}
	if v.status != types.StatusNormal {
		return nil, fmt.Errorf("%w: status is %s", ErrNotNormal, v.status)
	}
	receipt, exists := v.receipts[owner]
	if !exists {
		return nil, fmt.Errorf("%w: owner %s", ErrNothingToSettle, owner)
	}

	v.settleRewards(receipt)
	if receipt.UnclaimedRewards.IsZero() {
		return nil, fmt.Errorf("%w: owner %s", ErrNothingToSettle, owner)
	}

	out := receipt.UnclaimedRewards
	receipt.UnclaimedRewards = sdktypes.NewCoins()
	v.pruneReceipt(owner)
	v.logger.Info().Str("owner", owner).Str("rewards", out.String()).Msg("Rewards claimed")
	return out, nil
}

// settleRewards accrues everything owed to the receipt since its last
// checkpoint and moves the checkpoint to the current index. Must run before
// any change to the receipt's share balances.
func (v *Vault) settleRewards(receipt *types.Receipt) {
	earning := receipt.Shares.Add(receipt.PendingWithdrawShares)
	for denom, index := range v.rewardIndex {
		debt, exists := receipt.RewardDebt[denom]
		if !exists {
			debt = sdkmath.LegacyZeroDec()
		}
		if earning.IsPositive() && index.GT(debt) {
			owed := index.Sub(debt).MulInt(earning).TruncateInt()
			if owed.IsPositive() {
				receipt.UnclaimedRewards = receipt.UnclaimedRewards.Add(sdktypes.NewCoin(denom, owed))
			}
		}
		receipt.RewardDebt[denom] = index
	}
}
