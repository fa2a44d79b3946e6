/*

This file contains the depositor-facing types: receipts, queued deposit and
withdraw requests, and the snapshot type used for persistence.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"
	"github.com/google/uuid"
)

// DeliveryMode selects how an executed withdrawal is paid out.
type DeliveryMode string

const (
	// DeliverDirect pays the principal out as part of request execution.
	DeliverDirect DeliveryMode = "DIRECT"
	// DeliverClaimable credits the principal to the receipt for a later Claim.
	DeliverClaimable DeliveryMode = "CLAIMABLE"
)

// DepositRequest is a queued intent to deposit principal. It is created by a
// depositor while the vault is NORMAL and consumed exactly once by an
// operator-triggered execution.
type DepositRequest struct {
	ID        uuid.UUID   `json:"id"`
	Owner     string      `json:"owner"`
	Amount    sdkmath.Int `json:"amount"`     // principal base units, fee not yet skimmed
	MinShares sdkmath.Int `json:"min_shares"` // slippage protection, inclusive
	MaxShares sdkmath.Int `json:"max_shares"` // slippage protection, inclusive
	CreatedAt time.Time   `json:"created_at"`
}

// WithdrawRequest is a queued intent to burn shares for principal. The shares
// are locked on the receipt (PendingWithdrawShares) until the request is
// executed or cancelled.
type WithdrawRequest struct {
	ID        uuid.UUID    `json:"id"`
	Owner     string       `json:"owner"`
	Shares    sdkmath.Int  `json:"shares"`
	MinAmount sdkmath.Int  `json:"min_amount"` // principal base units, inclusive
	Delivery  DeliveryMode `json:"delivery"`
	CreatedAt time.Time    `json:"created_at"`
}

// Receipt is the per-depositor position record. It is never deleted while
// shares, pending shares, claimable principal or unclaimed rewards are
// nonzero.
type Receipt struct {
	Owner                 string                       `json:"owner"`
	Shares                sdkmath.Int                  `json:"shares"`
	PendingWithdrawShares sdkmath.Int                  `json:"pending_withdraw_shares"`
	Claimable             sdkmath.Int                  `json:"claimable"` // executed-but-unclaimed principal
	RewardDebt            map[string]sdkmath.LegacyDec `json:"reward_debt"`
	UnclaimedRewards      sdktypes.Coins               `json:"unclaimed_rewards"`
}

// IsEmpty reports whether the receipt carries no value at all and may be
// dropped from persistence.
func (r *Receipt) IsEmpty() bool {
	return r.Shares.IsZero() &&
		r.PendingWithdrawShares.IsZero() &&
		r.Claimable.IsZero() &&
		r.UnclaimedRewards.IsZero()
}

// LedgerEntry is the persisted form of one valuation ledger slot entry.
type LedgerEntry struct {
	SlotID    SlotID      `json:"slot_id"`
	Value     sdkmath.Int `json:"value"` // canonical 9-decimal USD, signed
	UpdatedAt time.Time   `json:"updated_at"`
}

// VaultSnapshot is the durable image of the aggregate, written after every
// mutating entry point and reloaded at startup. Receipts and request queues
// are persisted in their own tables.
type VaultSnapshot struct {
	VaultID              uint64                       `json:"vault_id"`
	Status               VaultStatus                  `json:"status"`
	PrincipalDenom       string                       `json:"principal_denom"`
	Slots                []Slot                       `json:"slots"`
	SlotOrder            []SlotID                     `json:"slot_order"`
	Ledger               []LedgerEntry                `json:"ledger"`
	TotalShares          sdkmath.Int                  `json:"total_shares"`
	DepositFeeBps        uint32                       `json:"deposit_fee_bps"`
	WithdrawFeeBps       uint32                       `json:"withdraw_fee_bps"`
	FeeCollected         sdkmath.Int                  `json:"fee_collected"`
	CurEpoch             uint64                       `json:"cur_epoch"`
	CurEpochLoss         sdkmath.Int                  `json:"cur_epoch_loss"`
	CurEpochLossBaseline sdkmath.Int                  `json:"cur_epoch_loss_baseline"`
	OpRecord             *OpRecord                    `json:"op_record,omitempty"`
	RewardIndex          map[string]sdkmath.LegacyDec `json:"reward_index"`
	TakenAt              time.Time                    `json:"taken_at"`
}
