package vault

import (
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/custodia-labs/cvm/internal/types"
)

// Reader is the read-only view of the vault consumed by the dashboard and
// the metrics exporter. The full *Vault satisfies it; nothing outside the
// engine ever needs the mutating surface.
type Reader interface {
	// ID returns the vault identifier.
	ID() uint64

	// Status returns the current lifecycle status.
	Status() types.VaultStatus

	// TotalValue aggregates the valuation ledger as of now.
	TotalValue(now time.Time) (sdkmath.Int, error)

	// TotalShares returns the outstanding share supply.
	TotalShares() sdkmath.Int

	// ShareRatio returns total value / total shares as of now.
	ShareRatio(now time.Time) (sdkmath.LegacyDec, error)

	// Slots returns every slot currently in vault custody.
	Slots() []types.Slot

	// LedgerEntries returns the valuation ledger contents.
	LedgerEntries() []types.LedgerEntry

	// OpRecord returns the current operation record, nil outside operations.
	OpRecord() *types.OpRecord

	// Receipt returns one owner's receipt.
	Receipt(owner string) (types.Receipt, bool)

	// PendingDepositRequests returns the queued deposit intents.
	PendingDepositRequests() []types.DepositRequest

	// PendingWithdrawRequests returns the queued withdrawal intents.
	PendingWithdrawRequests() []types.WithdrawRequest

	// CurEpoch returns the loss-accounting epoch counter.
	CurEpoch() uint64

	// CurEpochLoss returns the loss recorded against the current epoch.
	CurEpochLoss() sdkmath.Int

	// FeeCollected returns the skimmed fee balance awaiting withdrawal.
	FeeCollected() sdkmath.Int

	// CheckInvariants verifies the structural invariants.
	CheckInvariants() error
}

var _ Reader = (*Vault)(nil)
