/*

This file contains share accounting: the deposit/withdraw request queues and
the operator-driven executions that mint and burn shares. Shares are minted
from the aggregate value DELTA around the state change, at the ratio captured
before it, so fee skims and rounding inside aggregation can never be counted
twice.

*/

package vault

import (
	"errors"
	"fmt"
	"sort"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"

	"github.com/custodia-labs/cvm/internal/access"
	"github.com/custodia-labs/cvm/internal/types"
	"github.com/custodia-labs/cvm/internal/utils"
)

// Error definitions for zero-tolerance error handling
var (
	ErrRequestNotFound       = errors.New("request not found")
	ErrRequestInvalid        = errors.New("request parameters are invalid")
	ErrNotRequestOwner       = errors.New("caller does not own the request")
	ErrZeroShares            = errors.New("share amount rounds to zero")
	ErrZeroAmount            = errors.New("payout amount rounds to zero")
	ErrSlippageViolated      = errors.New("result violates the request's slippage bound")
	ErrInsufficientShares    = errors.New("receipt holds insufficient shares")
	ErrInsufficientLiquidity = errors.New("free principal cannot cover the payout")
	ErrNothingClaimable      = errors.New("receipt has no claimable balance")
)

// Deposit queues a deposit intent. Depositor-facing, NORMAL only. The
// principal itself moves when an operator executes the request.
func (v *Vault) Deposit(owner string, amount, minShares, maxShares sdkmath.Int, now time.Time) (uuid.UUID, error) {
	if err := v.gate.RequireVersion(types.EngineVersion); err != nil {
		return uuid.Nil, err
	}
	if v.status != types.StatusNormal {
		return uuid.Nil, fmt.Errorf("%w: status is %s", ErrNotNormal, v.status)
	}
	if owner == "" {
		return uuid.Nil, fmt.Errorf("%w: empty owner", ErrRequestInvalid)
	}
	if amount.IsNil() || !amount.IsPositive() {
		return uuid.Nil, fmt.Errorf("%w: amount must be positive", ErrRequestInvalid)
	}
	if minShares.IsNil() || maxShares.IsNil() || minShares.IsNegative() || maxShares.LT(minShares) {
		return uuid.Nil, fmt.Errorf("%w: share bounds [%s, %s]", ErrRequestInvalid, minShares, maxShares)
	}

	req := &types.DepositRequest{
		ID:        uuid.New(),
		Owner:     owner,
		Amount:    amount,
		MinShares: minShares,
		MaxShares: maxShares,
		CreatedAt: now,
	}
	v.depositQueue[req.ID] = req
	v.logger.Debug().Str("owner", owner).Str("amount", amount.String()).Str("request", req.ID.String()).Msg("Deposit queued")
	return req.ID, nil
}

// CancelDepositRequest removes a queued deposit before execution.
func (v *Vault) CancelDepositRequest(owner string, requestID uuid.UUID) error {
	if err := v.gate.RequireVersion(types.EngineVersion); err != nil {
		return err
	}
	req, exists := v.depositQueue[requestID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
	}
	if req.Owner != owner {
		return fmt.Errorf("%w: %s", ErrNotRequestOwner, requestID)
	}
	delete(v.depositQueue, requestID)
	return nil
}

// Withdraw queues a withdrawal intent and locks the shares on the receipt so
// they cannot be double-spent by a second request.
func (v *Vault) Withdraw(owner string, shares, minAmount sdkmath.Int, delivery types.DeliveryMode, now time.Time) (uuid.UUID, error) {
	if err := v.gate.RequireVersion(types.EngineVersion); err != nil {
		return uuid.Nil, err
	}
	if v.status != types.StatusNormal {
		return uuid.Nil, fmt.Errorf("%w: status is %s", ErrNotNormal, v.status)
	}
	if shares.IsNil() || !shares.IsPositive() {
		return uuid.Nil, fmt.Errorf("%w: shares must be positive", ErrRequestInvalid)
	}
	if minAmount.IsNil() || minAmount.IsNegative() {
		return uuid.Nil, fmt.Errorf("%w: min amount must not be negative", ErrRequestInvalid)
	}
	if delivery != types.DeliverDirect && delivery != types.DeliverClaimable {
		return uuid.Nil, fmt.Errorf("%w: delivery mode %q", ErrRequestInvalid, delivery)
	}
	receipt, exists := v.receipts[owner]
	if !exists || receipt.Shares.LT(shares) {
		return uuid.Nil, fmt.Errorf("%w: owner %s", ErrInsufficientShares, owner)
	}

	receipt.Shares = receipt.Shares.Sub(shares)
	receipt.PendingWithdrawShares = receipt.PendingWithdrawShares.Add(shares)

	req := &types.WithdrawRequest{
		ID:        uuid.New(),
		Owner:     owner,
		Shares:    shares,
		MinAmount: minAmount,
		Delivery:  delivery,
		CreatedAt: now,
	}
	v.withdrawQueue[req.ID] = req
	v.logger.Debug().Str("owner", owner).Str("shares", shares.String()).Str("request", req.ID.String()).Msg("Withdrawal queued")
	return req.ID, nil
}

// CancelWithdrawRequest removes a queued withdrawal and unlocks its shares.
func (v *Vault) CancelWithdrawRequest(owner string, requestID uuid.UUID) error {
	if err := v.gate.RequireVersion(types.EngineVersion); err != nil {
		return err
	}
	req, exists := v.withdrawQueue[requestID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
	}
	if req.Owner != owner {
		return fmt.Errorf("%w: %s", ErrNotRequestOwner, requestID)
	}

	receipt := v.receipts[owner]
	receipt.PendingWithdrawShares = receipt.PendingWithdrawShares.Sub(req.Shares)
	receipt.Shares = receipt.Shares.Add(req.Shares)
	delete(v.withdrawQueue, requestID)
	return nil
}

// ExecuteDeposit consumes a queued deposit request: skims the deposit fee,
// credits the free-principal slot, revalues it, and mints shares from the
// aggregate value delta at the pre-deposit ratio. Operator only, NORMAL only.
func (v *Vault) ExecuteDeposit(operatorCapID string, requestID uuid.UUID, now time.Time) (sdkmath.Int, error) {
	if err := v.gate.Authorize(operatorCapID, access.RoleOperator, types.EngineVersion); err != nil {
		return sdkmath.Int{}, err
	}
	if v.status != types.StatusNormal {
		return sdkmath.Int{}, fmt.Errorf("%w: status is %s", ErrNotNormal, v.status)
	}
	req, exists := v.depositQueue[requestID]
	if !exists {
		return sdkmath.Int{}, fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
	}

	totalBefore, err := v.ledger.TotalValue(now)
	if err != nil {
		return sdkmath.Int{}, err
	}
	ratioBefore := sdkmath.LegacyOneDec()
	if !v.totalShares.IsZero() {
		ratioBefore = sdkmath.LegacyNewDecFromInt(totalBefore).Quo(sdkmath.LegacyNewDecFromInt(v.totalShares))
		if !ratioBefore.IsPositive() {
			return sdkmath.Int{}, fmt.Errorf("%w: ratio %s with %s shares outstanding", ErrInvariantViolated, ratioBefore, v.totalShares)
		}
	}

	fee, err := utils.ApplyBps(req.Amount, v.depositFeeBps)
	if err != nil {
		return sdkmath.Int{}, err
	}
	net := req.Amount.Sub(fee)

	free := v.slots[types.SlotFreePrincipal]
	oldEntry, err := v.ledger.Value(free.ID)
	if err != nil {
		return sdkmath.Int{}, err
	}
	newAmount := free.Coin.Amount.Add(net)
	newValue, err := v.valueCoin(free.Coin.AddAmount(net), now)
	if err != nil {
		return sdkmath.Int{}, err
	}

	// Value delta around the credit, at fresh prices on both sides.
	delta := newValue.Sub(oldEntry.Value)
	shares := sdkmath.LegacyNewDecFromInt(delta).Quo(ratioBefore).TruncateInt()
	if !shares.IsPositive() {
		return sdkmath.Int{}, fmt.Errorf("%w: delta %s at ratio %s", ErrZeroShares, delta, ratioBefore)
	}
	if shares.LT(req.MinShares) || shares.GT(req.MaxShares) {
		return sdkmath.Int{}, fmt.Errorf("%w: %s shares outside [%s, %s]", ErrSlippageViolated, shares, req.MinShares, req.MaxShares)
	}

	// All checks passed; mutate.
	free.Coin.Amount = newAmount
	if err := v.ledger.SetSlotValue(free.ID, newValue, now); err != nil {
		free.Coin.Amount = newAmount.Sub(net)
		return sdkmath.Int{}, err
	}
	v.feeCollected = v.feeCollected.Add(fee)

	receipt := v.getOrCreateReceipt(req.Owner)
	v.settleRewards(receipt)
	receipt.Shares = receipt.Shares.Add(shares)
	v.totalShares = v.totalShares.Add(shares)
	delete(v.depositQueue, requestID)

	v.logger.Info().
		Str("owner", req.Owner).
		Str("deposited", req.Amount.String()).
		Str("fee", fee.String()).
		Str("shares", shares.String()).
		Str("total_after", totalBefore.Add(delta).String()).
		Msg("Deposit executed")
	return shares, nil
}

// ExecuteWithdraw consumes a queued withdrawal: burns the locked shares at
// the current ratio, skims the withdraw fee from the computed payout, debits
// the free-principal slot and delivers the remainder per the request's
// delivery mode. Operator only, NORMAL only.
func (v *Vault) ExecuteWithdraw(operatorCapID string, requestID uuid.UUID, now time.Time) (sdkmath.Int, error) {
	if err := v.gate.Authorize(operatorCapID, access.RoleOperator, types.EngineVersion); err != nil {
		return sdkmath.Int{}, err
	}
	if v.status != types.StatusNormal {
		return sdkmath.Int{}, fmt.Errorf("%w: status is %s", ErrNotNormal, v.status)
	}
	req, exists := v.withdrawQueue[requestID]
	if !exists {
		return sdkmath.Int{}, fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
	}
	if v.totalShares.IsZero() {
		return sdkmath.Int{}, ErrNoShares
	}

	total, err := v.ledger.TotalValue(now)
	if err != nil {
		return sdkmath.Int{}, err
	}
	ratio := sdkmath.LegacyNewDecFromInt(total).Quo(sdkmath.LegacyNewDecFromInt(v.totalShares))
	grossUSD := sdkmath.LegacyNewDecFromInt(req.Shares).Mul(ratio).TruncateInt()

	price, err := v.book.GetNormalizedPrice(v.principalDenom, now)
	if err != nil {
		return sdkmath.Int{}, err
	}
	decimals, err := v.book.NativeDecimals(v.principalDenom)
	if err != nil {
		return sdkmath.Int{}, err
	}
	amount, err := utils.USDToCoinAmount(grossUSD, decimals, price)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if !amount.IsPositive() {
		return sdkmath.Int{}, fmt.Errorf("%w: %s shares at ratio %s", ErrZeroAmount, req.Shares, ratio)
	}

	free := v.slots[types.SlotFreePrincipal]
	if free.Coin.Amount.LT(amount) {
		return sdkmath.Int{}, fmt.Errorf("%w: need %s, free slot holds %s", ErrInsufficientLiquidity, amount, free.Coin.Amount)
	}

	fee, err := utils.ApplyBps(amount, v.withdrawFeeBps)
	if err != nil {
		return sdkmath.Int{}, err
	}
	paid := amount.Sub(fee)
	if paid.LT(req.MinAmount) {
		return sdkmath.Int{}, fmt.Errorf("%w: payout %s below minimum %s", ErrSlippageViolated, paid, req.MinAmount)
	}

	newAmount := free.Coin.Amount.Sub(amount)
	newValue, err := v.valueCoin(free.Coin.SubAmount(amount), now)
	if err != nil {
		return sdkmath.Int{}, err
	}

	// All checks passed; mutate.
	free.Coin.Amount = newAmount
	if err := v.ledger.SetSlotValue(free.ID, newValue, now); err != nil {
		free.Coin.Amount = newAmount.Add(amount)
		return sdkmath.Int{}, err
	}
	v.feeCollected = v.feeCollected.Add(fee)

	receipt := v.receipts[req.Owner]
	v.settleRewards(receipt)
	receipt.PendingWithdrawShares = receipt.PendingWithdrawShares.Sub(req.Shares)
	v.totalShares = v.totalShares.Sub(req.Shares)
	if req.Delivery == types.DeliverClaimable {
		receipt.Claimable = receipt.Claimable.Add(paid)
	}
	v.pruneReceipt(req.Owner)
	delete(v.withdrawQueue, requestID)

	v.logger.Info().
		Str("owner", req.Owner).
		Str("shares", req.Shares.String()).
		Str("paid", paid.String()).
		Str("fee", fee.String()).
		Str("delivery", string(req.Delivery)).
		Msg("Withdrawal executed")
	return paid, nil
}

// Claim pays out a receipt's claimable principal balance. NORMAL only.
func (v *Vault) Claim(owner string) (sdkmath.Int, error) {
	if err := v.gate.RequireVersion(types.EngineVersion); err != nil {
		return sdkmath.Int{}, err
	}
	if v.status != types.StatusNormal {
		return sdkmath.Int{}, fmt.Errorf("%w: status is %s", ErrNotNormal, v.status)
	}
	receipt, exists := v.receipts[owner]
	if !exists || !receipt.Claimable.IsPositive() {
		return sdkmath.Int{}, fmt.Errorf("%w: owner %s", ErrNothingClaimable, owner)
	}

	out := receipt.Claimable
	receipt.Claimable = sdkmath.ZeroInt()
	v.pruneReceipt(owner)
	v.logger.Info().Str("owner", owner).Str("amount", out.String()).Msg("Claimable principal paid out")
	return out, nil
}

// Receipt returns a copy of one owner's receipt.
func (v *Vault) Receipt(owner string) (types.Receipt, bool) {
	receipt, exists := v.receipts[owner]
	if !exists {
		return types.Receipt{}, false
	}
	return *receipt, true
}

// PendingDepositRequests returns queued deposits sorted by creation time.
func (v *Vault) PendingDepositRequests() []types.DepositRequest {
	out := make([]types.DepositRequest, 0, len(v.depositQueue))
	for _, req := range v.depositQueue {
		out = append(out, *req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// PendingWithdrawRequests returns queued withdrawals sorted by creation time.
func (v *Vault) PendingWithdrawRequests() []types.WithdrawRequest {
	out := make([]types.WithdrawRequest, 0, len(v.withdrawQueue))
	for _, req := range v.withdrawQueue {
		out = append(out, *req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (v *Vault) getOrCreateReceipt(owner string) *types.Receipt {
	if receipt, exists := v.receipts[owner]; exists {
		return receipt
	}
	receipt := &types.Receipt{
		Owner:                 owner,
		Shares:                sdkmath.ZeroInt(),
		PendingWithdrawShares: sdkmath.ZeroInt(),
		Claimable:             sdkmath.ZeroInt(),
		RewardDebt:            make(map[string]sdkmath.LegacyDec),
	}
	v.receipts[owner] = receipt
	return receipt
}

// pruneReceipt drops a receipt once it carries no value at all.
func (v *Vault) pruneReceipt(owner string) {
	if receipt, exists := v.receipts[owner]; exists && receipt.IsEmpty() {
		delete(v.receipts, owner)
	}
}
