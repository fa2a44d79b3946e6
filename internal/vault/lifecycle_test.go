package vault_test

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/cvm/internal/access"
	"github.com/custodia-labs/cvm/internal/adaptor"
	"github.com/custodia-labs/cvm/internal/types"
	"github.com/custodia-labs/cvm/internal/vault"
)

const lendSlot = types.SlotID("lend_1")

// opFixture is a vault with 1000 usdc of depositor principal, a lending
// position supplying 100 usdc, and the epoch baseline set so the loss budget
// is 10 bps of 1100 USD.
func opFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	f.deposit(alice, 1_000_000_000)

	pos := &types.Position{
		Adaptor:  adaptor.LendingAdaptorName,
		Market:   "money-market-1",
		Supplied: []sdktypes.Coin{sdkCoin("usdc", 100_000_000)},
	}
	require.NoError(t, f.v.RegisterSlot(adminCap, types.Slot{
		ID: lendSlot, Kind: types.SlotKindStrategy, Position: pos,
	}, f.now))
	require.NoError(t, f.v.AdvanceEpoch(adminCap, f.now))
	return f
}

func TestOperationRoundTripZeroLoss(t *testing.T) {
	f := opFixture(t)

	totalBefore, err := f.v.TotalValue(f.now)
	require.NoError(t, err)
	sharesBefore := f.v.TotalShares()

	bundle, err := f.v.StartOperation(operatorCap, []types.SlotID{lendSlot}, f.now)
	require.NoError(t, err)
	require.Equal(t, types.StatusDuringOperation, f.v.Status())
	require.NoError(t, f.v.CheckInvariants())

	// The borrowed slot is out of custody while the operator holds it.
	for _, slot := range f.v.Slots() {
		require.NotEqual(t, lendSlot, slot.ID)
	}

	require.NoError(t, f.v.EndOperation(operatorCap, bundle))
	_, err = f.v.UpdatePositionValue(operatorCap, lendSlot, f.now)
	require.NoError(t, err)
	require.NoError(t, f.v.FinalizeOperation(operatorCap, totalBefore, sharesBefore, f.now))

	require.Equal(t, types.StatusNormal, f.v.Status())
	require.Nil(t, f.v.OpRecord())
	require.True(t, f.v.CurEpochLoss().IsZero())
	require.NoError(t, f.v.CheckInvariants())

	totalAfter, err := f.v.TotalValue(f.now)
	require.NoError(t, err)
	require.Equal(t, totalBefore.String(), totalAfter.String())
}

func TestFinalizeRequiresEveryBorrowedSlotUpdated(t *testing.T) {
	f := opFixture(t)
	totalBefore, _ := f.v.TotalValue(f.now)

	bundle, err := f.v.StartOperation(operatorCap, []types.SlotID{lendSlot, types.SlotFreePrincipal}, f.now)
	require.NoError(t, err)
	require.NoError(t, f.v.EndOperation(operatorCap, bundle))

	// Only one of the two borrowed slots revalued: finalize must refuse.
	_, err = f.v.UpdatePositionValue(operatorCap, lendSlot, f.now)
	require.NoError(t, err)
	err = f.v.FinalizeOperation(operatorCap, totalBefore, f.v.TotalShares(), f.now)
	require.ErrorIs(t, err, vault.ErrValueNotUpdated)
	require.Equal(t, types.StatusDuringOperation, f.v.Status())

	// Updating the missing slot makes the same finalize call succeed.
	_, err = f.v.UpdatePositionValue(operatorCap, types.SlotFreePrincipal, f.now)
	require.NoError(t, err)
	require.NoError(t, f.v.FinalizeOperation(operatorCap, totalBefore, f.v.TotalShares(), f.now))
}

func TestFinalizeEnforcesLossBudget(t *testing.T) {
	f := opFixture(t)
	totalBefore, _ := f.v.TotalValue(f.now)

	bundle, err := f.v.StartOperation(operatorCap, []types.SlotID{lendSlot}, f.now)
	require.NoError(t, err)

	// The operation loses 3 usdc of supplied collateral: a 3 USD loss
	// against a 1.1 USD budget (10 bps of the 1100 USD baseline).
	bundle.Items[lendSlot].Position.Supplied = []sdktypes.Coin{sdkCoin("usdc", 97_000_000)}

	require.NoError(t, f.v.EndOperation(operatorCap, bundle))
	_, err = f.v.UpdatePositionValue(operatorCap, lendSlot, f.now)
	require.NoError(t, err)

	err = f.v.FinalizeOperation(operatorCap, totalBefore, f.v.TotalShares(), f.now)
	require.ErrorIs(t, err, vault.ErrLossToleranceExceeded)

	// The rejection is not terminal: the vault stays mid-operation and the
	// same phase can be retried.
	require.Equal(t, types.StatusDuringOperation, f.v.Status())
	require.True(t, f.v.CurEpochLoss().IsZero())
	require.NoError(t, f.v.CheckInvariants())
}

func TestFinalizeChargesLossWithinBudget(t *testing.T) {
	f := opFixture(t)
	totalBefore, _ := f.v.TotalValue(f.now)

	bundle, err := f.v.StartOperation(operatorCap, []types.SlotID{lendSlot}, f.now)
	require.NoError(t, err)

	// Lose 1 USD against the 1.1 USD budget: accepted and recorded.
	bundle.Items[lendSlot].Position.Supplied = []sdktypes.Coin{sdkCoin("usdc", 99_000_000)}

	require.NoError(t, f.v.EndOperation(operatorCap, bundle))
	_, err = f.v.UpdatePositionValue(operatorCap, lendSlot, f.now)
	require.NoError(t, err)
	require.NoError(t, f.v.FinalizeOperation(operatorCap, totalBefore, f.v.TotalShares(), f.now))

	require.Equal(t, sdkmath.NewInt(1_000_000_000).String(), f.v.CurEpochLoss().String())

	// The budget is cumulative per epoch: a second loss of the same size
	// would blow through it, but a fresh epoch re-baselines.
	require.NoError(t, f.v.AdvanceEpoch(adminCap, f.now))
	require.True(t, f.v.CurEpochLoss().IsZero())
}

func TestEndOperationIsAllOrNothing(t *testing.T) {
	f := opFixture(t)

	bundle, err := f.v.StartOperation(operatorCap, []types.SlotID{lendSlot, types.SlotFreePrincipal}, f.now)
	require.NoError(t, err)

	// A partial bundle is refused outright.
	partial := &types.Bundle{OperationID: bundle.OperationID, Items: map[types.SlotID]*types.Slot{
		lendSlot: bundle.Items[lendSlot],
	}}
	require.ErrorIs(t, f.v.EndOperation(operatorCap, partial), vault.ErrBundleMismatch)

	// So is a bundle from some other operation, even with the right slots.
	forged := &types.Bundle{OperationID: uuid.New(), Items: bundle.Items}
	require.ErrorIs(t, f.v.EndOperation(operatorCap, forged), vault.ErrBundleMismatch)

	// The genuine, complete bundle goes through, exactly once.
	require.NoError(t, f.v.EndOperation(operatorCap, bundle))
	require.ErrorIs(t, f.v.EndOperation(operatorCap, bundle), vault.ErrBundleAlreadyReturned)
}

func TestUpdatePositionValueGuards(t *testing.T) {
	f := opFixture(t)

	bundle, err := f.v.StartOperation(operatorCap, []types.SlotID{lendSlot}, f.now)
	require.NoError(t, err)

	// No revaluation before the bundle is back in custody.
	_, err = f.v.UpdatePositionValue(operatorCap, lendSlot, f.now)
	require.ErrorIs(t, err, vault.ErrBundleNotReturned)

	require.NoError(t, f.v.EndOperation(operatorCap, bundle))

	// Only borrowed slots may be revalued through this path.
	_, err = f.v.UpdatePositionValue(operatorCap, types.SlotFreePrincipal, f.now)
	require.ErrorIs(t, err, vault.ErrSlotNotBorrowed)

	// Redundant updates are harmless.
	first, err := f.v.UpdatePositionValue(operatorCap, lendSlot, f.now)
	require.NoError(t, err)
	second, err := f.v.UpdatePositionValue(operatorCap, lendSlot, f.now)
	require.NoError(t, err)
	require.Equal(t, first.String(), second.String())
}

func TestFinalizeShareCountGuard(t *testing.T) {
	f := opFixture(t)
	totalBefore, _ := f.v.TotalValue(f.now)

	bundle, err := f.v.StartOperation(operatorCap, []types.SlotID{lendSlot}, f.now)
	require.NoError(t, err)
	require.NoError(t, f.v.EndOperation(operatorCap, bundle))
	_, err = f.v.UpdatePositionValue(operatorCap, lendSlot, f.now)
	require.NoError(t, err)

	err = f.v.FinalizeOperation(operatorCap, totalBefore, f.v.TotalShares().AddRaw(1), f.now)
	require.ErrorIs(t, err, vault.ErrShareCountChanged)
}

func TestStartOperationValidation(t *testing.T) {
	f := opFixture(t)

	_, err := f.v.StartOperation(operatorCap, nil, f.now)
	require.ErrorIs(t, err, vault.ErrNoSlotsNamed)

	_, err = f.v.StartOperation(operatorCap, []types.SlotID{lendSlot, lendSlot}, f.now)
	require.ErrorIs(t, err, vault.ErrDuplicateSlot)

	_, err = f.v.StartOperation(operatorCap, []types.SlotID{"missing"}, f.now)
	require.ErrorIs(t, err, vault.ErrSlotNotFound)

	// A failed start leaves the vault NORMAL with everything in custody.
	require.Equal(t, types.StatusNormal, f.v.Status())
	require.NoError(t, f.v.CheckInvariants())
}

func TestFrozenOperatorCannotDriveLifecycle(t *testing.T) {
	f := opFixture(t)
	require.NoError(t, f.gate.SetRoleFrozen(adminCap, operatorCap, true))

	_, err := f.v.StartOperation(operatorCap, []types.SlotID{lendSlot}, f.now)
	require.ErrorIs(t, err, access.ErrRoleFrozen)

	// Unfreeze mid-flight works too: freeze is per-capability, not a vault
	// state transition.
	require.NoError(t, f.gate.SetRoleFrozen(adminCap, operatorCap, false))
	bundle, err := f.v.StartOperation(operatorCap, []types.SlotID{lendSlot}, f.now)
	require.NoError(t, err)

	require.NoError(t, f.gate.SetRoleFrozen(adminCap, operatorCap, true))
	require.ErrorIs(t, f.v.EndOperation(operatorCap, bundle), access.ErrRoleFrozen)
}

func TestDuringOperationBlocksEverythingElse(t *testing.T) {
	f := opFixture(t)

	_, err := f.v.StartOperation(operatorCap, []types.SlotID{lendSlot}, f.now)
	require.NoError(t, err)

	// Depositor flows are queued only in NORMAL.
	_, err = f.v.Deposit(bob, sdkmath.NewInt(1_000_000), sdkmath.ZeroInt(), sdkmath.NewInt(1_000_000_000), f.now)
	require.ErrorIs(t, err, vault.ErrNotNormal)
	_, err = f.v.Withdraw(alice, sdkmath.NewInt(1), sdkmath.ZeroInt(), types.DeliverDirect, f.now)
	require.ErrorIs(t, err, vault.ErrNotNormal)

	// There is no admin way out of DURING_OPERATION, not even disablement.
	require.ErrorIs(t, f.v.SetEnabled(adminCap, false), vault.ErrDuringOperation)
	require.ErrorIs(t, f.v.AdvanceEpoch(adminCap, f.now), vault.ErrNotNormal)

	// A second operation cannot start while one is open.
	_, err = f.v.StartOperation(operatorCap, []types.SlotID{types.SlotFreePrincipal}, f.now)
	require.ErrorIs(t, err, vault.ErrNotNormal)
}

func TestOpRecordExistsExactlyDuringOperation(t *testing.T) {
	f := opFixture(t)
	require.Nil(t, f.v.OpRecord())

	bundle, err := f.v.StartOperation(operatorCap, []types.SlotID{lendSlot}, f.now)
	require.NoError(t, err)

	record := f.v.OpRecord()
	require.NotNil(t, record)
	require.Equal(t, bundle.OperationID, record.OperationID)
	require.Equal(t, []types.SlotID{lendSlot}, record.BorrowedSlots)
	require.Equal(t, f.v.TotalShares().String(), record.SharesAtStart.String())

	totalBefore := sdkmath.NewInt(1_100_000_000_000)
	require.NoError(t, f.v.EndOperation(operatorCap, bundle))
	_, err = f.v.UpdatePositionValue(operatorCap, lendSlot, f.now)
	require.NoError(t, err)
	require.NoError(t, f.v.FinalizeOperation(operatorCap, totalBefore, f.v.TotalShares(), f.now))

	require.Nil(t, f.v.OpRecord())
}

func TestSnapshotRestoreMidOperation(t *testing.T) {
	f := opFixture(t)

	bundle, err := f.v.StartOperation(operatorCap, []types.SlotID{lendSlot}, f.now)
	require.NoError(t, err)

	// A restart mid-operation comes back still DURING_OPERATION with the
	// same borrowed set, waiting for the same bundle.
	snap := f.v.Snapshot(f.now)
	restored, err := vault.Restore(vault.Config{
		VaultID:          7,
		PrincipalDenom:   "usdc",
		Gate:             f.gate,
		Book:             f.book,
		Adaptors:         newRegistry(),
		MaxStaleness:     time.Hour,
		LossToleranceBps: 10,
		MaxFeeBps:        500,
	}, snap, f.v.Receipts(), f.v.PendingDepositRequests(), f.v.PendingWithdrawRequests())
	require.NoError(t, err)

	require.Equal(t, types.StatusDuringOperation, restored.Status())
	require.NotNil(t, restored.OpRecord())
	require.Equal(t, bundle.OperationID, restored.OpRecord().OperationID)

	require.NoError(t, restored.EndOperation(operatorCap, bundle))
	_, err = restored.UpdatePositionValue(operatorCap, lendSlot, f.now)
	require.NoError(t, err)
}

func newRegistry() *adaptor.Registry {
	reg := adaptor.NewRegistry()
	reg.Register(adaptor.NewLendingAdaptor())
	reg.Register(adaptor.NewAMMAdaptor(50))
	return reg
}
