/*

This file implements the three-phase operation lifecycle:

  NORMAL --StartOperation--> DURING_OPERATION --FinalizeOperation--> NORMAL

Phase 1 moves the named slots out of vault custody into an operator-held
bundle. Phase 3a (EndOperation) takes the whole bundle back, all or nothing.
Phase 3b (UpdatePositionValue) refreshes the valuation of every borrowed slot
through its adaptor. Phase 3c (FinalizeOperation) only succeeds once every
borrowed slot has been revalued, charges any value shortfall against the
epoch loss budget and flips the vault back to NORMAL.

There is no administrative override out of DURING_OPERATION. A stuck
operation is completed by retrying phase 3 with valid data, never by a
transition that could conceal a bad valuation.

*/

package vault

import (
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"

	"github.com/custodia-labs/cvm/internal/access"
	"github.com/custodia-labs/cvm/internal/types"
	"github.com/custodia-labs/cvm/internal/utils"
)

// Error definitions for zero-tolerance error handling
var (
	ErrNoSlotsNamed          = errors.New("operation must name at least one slot")
	ErrDuplicateSlot         = errors.New("slot named twice in one operation")
	ErrBundleMismatch        = errors.New("returned bundle does not match the borrowed set")
	ErrBundleAlreadyReturned = errors.New("bundle has already been returned")
	ErrBundleNotReturned     = errors.New("bundle has not been returned yet")
	ErrSlotNotBorrowed       = errors.New("slot is not part of the current operation")
	ErrValueNotUpdated       = errors.New("borrowed slot has not been revalued")
	ErrLossToleranceExceeded = errors.New("loss exceeds the epoch tolerance budget")
	ErrShareCountChanged     = errors.New("share supply changed during the operation")
)

// StartOperation removes the named slots from vault custody into an
// operator-held bundle and flips the vault to DURING_OPERATION. Operator
// only, NORMAL only.
func (v *Vault) StartOperation(operatorCapID string, slotIDs []types.SlotID, now time.Time) (*types.Bundle, error) {
	if err := v.gate.Authorize(operatorCapID, access.RoleOperator, types.EngineVersion); err != nil {
		return nil, err
	}
	if v.status != types.StatusNormal {
		return nil, fmt.Errorf("%w: status is %s", ErrNotNormal, v.status)
	}
	if len(slotIDs) == 0 {
		return nil, ErrNoSlotsNamed
	}

	seen := make(map[types.SlotID]bool, len(slotIDs))
	for _, id := range slotIDs {
		if seen[id] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSlot, id)
		}
		seen[id] = true
		if _, held := v.slots[id]; !held {
			return nil, fmt.Errorf("%w: %s", ErrSlotNotFound, id)
		}
	}

	// All checks passed; hand custody over.
	bundle := &types.Bundle{
		OperationID: uuid.New(),
		Items:       make(map[types.SlotID]*types.Slot, len(slotIDs)),
	}
	for _, id := range slotIDs {
		bundle.Items[id] = v.slots[id]
		delete(v.slots, id)
	}

	v.opRecord = &types.OpRecord{
		OperationID:   bundle.OperationID,
		BorrowedSlots: append([]types.SlotID{}, slotIDs...),
		UpdatedSlots:  make(map[types.SlotID]bool),
		StartedAt:     now,
		SharesAtStart: v.totalShares,
	}
	v.status = types.StatusDuringOperation

	v.logger.Info().
		Str("operation", bundle.OperationID.String()).
		Int("slots", len(slotIDs)).
		Msg("Operation started, custody handed to operator")
	return bundle, nil
}

// EndOperation takes the bundle back into vault custody. The return is all or
// nothing: every borrowed slot must be present and nothing else may be, or
// the whole call fails and custody stays with the operator. A partial return
// would leave assets outside the vault with no compensating record.
func (v *Vault) EndOperation(operatorCapID string, bundle *types.Bundle) error {
	if err := v.gate.Authorize(operatorCapID, access.RoleOperator, types.EngineVersion); err != nil {
		return err
	}
	if v.status != types.StatusDuringOperation {
		return fmt.Errorf("%w: status is %s", ErrNotDuringOperation, v.status)
	}
	if v.opRecord.Returned {
		return ErrBundleAlreadyReturned
	}
	if bundle == nil || bundle.OperationID != v.opRecord.OperationID {
		return fmt.Errorf("%w: bundle is not from operation %s", ErrBundleMismatch, v.opRecord.OperationID)
	}
	if len(bundle.Items) != len(v.opRecord.BorrowedSlots) {
		return fmt.Errorf("%w: %d items returned, %d borrowed", ErrBundleMismatch, len(bundle.Items), len(v.opRecord.BorrowedSlots))
	}
	for _, id := range v.opRecord.BorrowedSlots {
		item, present := bundle.Items[id]
		if !present || item == nil || item.ID != id {
			return fmt.Errorf("%w: slot %s missing from returned bundle", ErrBundleMismatch, id)
		}
	}

	// All checks passed; take custody back.
	for _, id := range v.opRecord.BorrowedSlots {
		v.slots[id] = bundle.Items[id]
	}
	v.opRecord.Returned = true

	v.logger.Info().
		Str("operation", v.opRecord.OperationID.String()).
		Int("slots", len(v.opRecord.BorrowedSlots)).
		Msg("Bundle returned, awaiting revaluation")
	return nil
}

// UpdatePositionValue revalues one borrowed slot through the price book or
// its adaptor and marks it updated. Safe to call redundantly: a second call
// simply overwrites the entry with a fresh value.
func (v *Vault) UpdatePositionValue(operatorCapID string, slotID types.SlotID, now time.Time) (sdkmath.Int, error) {
	if err := v.gate.Authorize(operatorCapID, access.RoleOperator, types.EngineVersion); err != nil {
		return sdkmath.Int{}, err
	}
	if v.status != types.StatusDuringOperation {
		return sdkmath.Int{}, fmt.Errorf("%w: status is %s", ErrNotDuringOperation, v.status)
	}
	if !v.opRecord.Returned {
		return sdkmath.Int{}, ErrBundleNotReturned
	}
	if !v.isBorrowed(slotID) {
		return sdkmath.Int{}, fmt.Errorf("%w: %s", ErrSlotNotBorrowed, slotID)
	}
	slot, held := v.slots[slotID]
	if !held {
		return sdkmath.Int{}, fmt.Errorf("%w: %s", ErrSlotNotFound, slotID)
	}

	value, err := v.valueSlot(slot, now)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if err := v.ledger.SetSlotValue(slotID, value, now); err != nil {
		return sdkmath.Int{}, err
	}
	v.opRecord.UpdatedSlots[slotID] = true

	v.logger.Info().
		Str("slot", string(slotID)).
		Str("value", value.String()).
		Msg("Borrowed slot revalued")
	return value, nil
}

// FinalizeOperation completes phase 3: every borrowed slot must have been
// revalued, any shortfall against expectedTotalBefore is charged to the
// epoch loss budget, and the share supply must be exactly what it was when
// the operation started. On success the vault returns to NORMAL and the op
// record is cleared. Every failure leaves the vault mid-operation and is
// retryable once its cause is fixed.
func (v *Vault) FinalizeOperation(operatorCapID string, expectedTotalBefore, expectedTotalShares sdkmath.Int, now time.Time) error {
	if err := v.gate.Authorize(operatorCapID, access.RoleOperator, types.EngineVersion); err != nil {
		return err
	}
	if v.status != types.StatusDuringOperation {
		return fmt.Errorf("%w: status is %s", ErrNotDuringOperation, v.status)
	}
	if !v.opRecord.Returned {
		return ErrBundleNotReturned
	}
	for _, id := range v.opRecord.BorrowedSlots {
		if !v.opRecord.UpdatedSlots[id] {
			return fmt.Errorf("%w: %s", ErrValueNotUpdated, id)
		}
	}
	if expectedTotalBefore.IsNil() || expectedTotalShares.IsNil() {
		return fmt.Errorf("%w: expected totals must be set", utils.ErrAmountNil)
	}

	totalAfter, err := v.ledger.TotalValue(now)
	if err != nil {
		return err
	}
	if !v.totalShares.Equal(expectedTotalShares) || !v.totalShares.Equal(v.opRecord.SharesAtStart) {
		return fmt.Errorf("%w: supply %s, expected %s, at start %s",
			ErrShareCountChanged, v.totalShares, expectedTotalShares, v.opRecord.SharesAtStart)
	}

	loss := sdkmath.ZeroInt()
	if totalAfter.LT(expectedTotalBefore) {
		loss = expectedTotalBefore.Sub(totalAfter)
		budget, err := utils.ApplyBps(v.curEpochLossBaseline, v.lossToleranceBps)
		if err != nil {
			return err
		}
		if v.curEpochLoss.Add(loss).GT(budget) {
			return fmt.Errorf("%w: loss %s, epoch loss %s, budget %s",
				ErrLossToleranceExceeded, loss, v.curEpochLoss, budget)
		}
	}

	// All checks passed; reconcile and resume.
	v.curEpochLoss = v.curEpochLoss.Add(loss)
	operationID := v.opRecord.OperationID
	v.opRecord = nil
	v.status = types.StatusNormal

	v.logger.Info().
		Str("operation", operationID.String()).
		Str("total_after", totalAfter.String()).
		Str("loss", loss.String()).
		Msg("Operation finalized")
	return nil
}

func (v *Vault) isBorrowed(slotID types.SlotID) bool {
	for _, id := range v.opRecord.BorrowedSlots {
		if id == slotID {
			return true
		}
	}
	return false
}
