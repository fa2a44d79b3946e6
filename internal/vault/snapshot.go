/*

This file contains the persistence glue: flattening the aggregate into a
durable snapshot and rebuilding it at startup. The op record travels with the
snapshot, so a process restart mid-operation comes back up still in
DURING_OPERATION with the same borrowed set — exactly the state the host
ledger would have kept.

*/

package vault

import (
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"

	"github.com/custodia-labs/cvm/internal/types"
)

// Snapshot flattens the aggregate for persistence. Receipts and request
// queues are returned separately because they are stored row-per-entity.
func (v *Vault) Snapshot(now time.Time) types.VaultSnapshot {
	slots := make([]types.Slot, 0, len(v.slots))
	for _, id := range v.slotOrder {
		if slot, held := v.slots[id]; held {
			slots = append(slots, *slot)
		}
	}

	snap := types.VaultSnapshot{
		VaultID:              v.id,
		Status:               v.status,
		PrincipalDenom:       v.principalDenom,
		Slots:                slots,
		SlotOrder:            append([]types.SlotID{}, v.slotOrder...),
		Ledger:               v.ledger.Snapshot(),
		TotalShares:          v.totalShares,
		DepositFeeBps:        v.depositFeeBps,
		WithdrawFeeBps:       v.withdrawFeeBps,
		FeeCollected:         v.feeCollected,
		CurEpoch:             v.curEpoch,
		CurEpochLoss:         v.curEpochLoss,
		CurEpochLossBaseline: v.curEpochLossBaseline,
		OpRecord:             v.OpRecord(),
		RewardIndex:          v.rewardIndex,
		TakenAt:              now,
	}
	return snap
}

// Receipts returns all receipts for persistence.
func (v *Vault) Receipts() []types.Receipt {
	out := make([]types.Receipt, 0, len(v.receipts))
	for _, receipt := range v.receipts {
		out = append(out, *receipt)
	}
	return out
}

// Restore rebuilds an aggregate from persisted state. The Config supplies
// the collaborators and bounds; everything else comes from the snapshot.
func Restore(cfg Config, snap types.VaultSnapshot, receipts []types.Receipt,
	deposits []types.DepositRequest, withdrawals []types.WithdrawRequest) (*Vault, error) {

	v, err := New(cfg, snap.TakenAt)
	if err != nil {
		return nil, err
	}
	if snap.VaultID != cfg.VaultID {
		return nil, fmt.Errorf("%w: snapshot is for vault %d, configured for %d", ErrInvariantViolated, snap.VaultID, cfg.VaultID)
	}
	if snap.PrincipalDenom != cfg.PrincipalDenom {
		return nil, fmt.Errorf("%w: snapshot principal %s, configured %s", ErrInvariantViolated, snap.PrincipalDenom, cfg.PrincipalDenom)
	}

	v.status = snap.Status
	v.totalShares = snap.TotalShares
	v.depositFeeBps = snap.DepositFeeBps
	v.withdrawFeeBps = snap.WithdrawFeeBps
	v.feeCollected = snap.FeeCollected
	v.curEpoch = snap.CurEpoch
	v.curEpochLoss = snap.CurEpochLoss
	v.curEpochLossBaseline = snap.CurEpochLossBaseline
	v.opRecord = snap.OpRecord
	if snap.RewardIndex != nil {
		v.rewardIndex = snap.RewardIndex
	}

	v.slots = make(map[types.SlotID]*types.Slot, len(snap.Slots))
	for i := range snap.Slots {
		slot := snap.Slots[i]
		v.slots[slot.ID] = &slot
	}
	v.slotOrder = append([]types.SlotID{}, snap.SlotOrder...)
	v.ledger.Restore(snap.Ledger)

	v.receipts = make(map[string]*types.Receipt, len(receipts))
	for i := range receipts {
		receipt := receipts[i]
		if receipt.RewardDebt == nil {
			receipt.RewardDebt = make(map[string]sdkmath.LegacyDec)
		}
		v.receipts[receipt.Owner] = &receipt
	}

	v.depositQueue = make(map[uuid.UUID]*types.DepositRequest, len(deposits))
	for i := range deposits {
		req := deposits[i]
		v.depositQueue[req.ID] = &req
	}
	v.withdrawQueue = make(map[uuid.UUID]*types.WithdrawRequest, len(withdrawals))
	for i := range withdrawals {
		req := withdrawals[i]
		v.withdrawQueue[req.ID] = &req
	}

	if err := v.CheckInvariants(); err != nil {
		return nil, err
	}
	v.logger.Info().Str("status", string(v.status)).Int("slots", len(v.slots)).Msg("Vault restored from snapshot")
	return v, nil
}
