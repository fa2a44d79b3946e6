/*

This file contains the core vault types: status, asset slots, custody bundles
and the transient operation record that ties the three lifecycle phases together.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"
	"github.com/google/uuid"
)

// EngineVersion gates every mutating entry point. Bump on any change that is
// incompatible with persisted state from a previous release.
const EngineVersion uint64 = 1

// CanonicalDecimals is the fixed-point scale every USD price and every slot
// value is normalized to before any value arithmetic.
const CanonicalDecimals = 9

// SlotFreePrincipal is the reserved slot that holds undeployed depositor
// principal. It is created with the vault and can never be removed.
const SlotFreePrincipal SlotID = "free_principal"

// VaultStatus is the top-level vault state.
type VaultStatus string

const (
	StatusNormal          VaultStatus = "NORMAL"
	StatusDuringOperation VaultStatus = "DURING_OPERATION"
	StatusDisabled        VaultStatus = "DISABLED"
)

// SlotID identifies a unit of value custody inside the vault.
type SlotID string

// SlotKind distinguishes what a slot holds.
type SlotKind string

const (
	SlotKindPrincipal SlotKind = "FREE_PRINCIPAL"
	SlotKindStrategy  SlotKind = "STRATEGY_POSITION"
	SlotKindCoin      SlotKind = "COIN_HOLDING"
)

// Position is the state of one external strategy position. A single struct
// covers both lending and AMM style positions; the adaptor named in Adaptor
// decides which fields are meaningful.
type Position struct {
	Adaptor string `json:"adaptor"` // registered adaptor name, e.g. "lending", "amm"
	Market  string `json:"market"`  // external market or pool identifier

	// Lending positions
	Supplied []sdktypes.Coin `json:"supplied,omitempty"` // collateral supplied to the protocol
	Borrowed []sdktypes.Coin `json:"borrowed,omitempty"` // liabilities owed to the protocol
	Accrued  []sdktypes.Coin `json:"accrued,omitempty"`  // accrued-but-uncollected yield

	// AMM LP positions
	LPShares        sdkmath.Int   `json:"lp_shares,omitempty"`
	TotalPoolShares sdkmath.Int   `json:"total_pool_shares,omitempty"`
	ReserveA        sdktypes.Coin `json:"reserve_a,omitempty"`
	ReserveB        sdktypes.Coin `json:"reserve_b,omitempty"`
	AccruedFees     []sdktypes.Coin `json:"accrued_fees,omitempty"`
}

// Slot is a named unit of value custody. Exactly one of Coin / Position is
// set depending on Kind.
type Slot struct {
	ID       SlotID         `json:"id"`
	Kind     SlotKind       `json:"kind"`
	Coin     *sdktypes.Coin `json:"coin,omitempty"`
	Position *Position      `json:"position,omitempty"`
}

// Bundle is the set of slots temporarily removed from vault custody and held
// by an operator for the duration of one operation. The OperationID binds the
// bundle to the op record so a stranger's bundle can never satisfy the return
// phase.
type Bundle struct {
	OperationID uuid.UUID        `json:"operation_id"`
	Items       map[SlotID]*Slot `json:"items"`
}

// OpRecord is the transient workflow state for one operation. It exists iff
// the vault status is DURING_OPERATION and is cleared only on a successful
// finalize.
type OpRecord struct {
	OperationID   uuid.UUID       `json:"operation_id"`
	BorrowedSlots []SlotID        `json:"borrowed_slots"`
	UpdatedSlots  map[SlotID]bool `json:"updated_slots"`
	Returned      bool            `json:"returned"`
	StartedAt     time.Time       `json:"started_at"`
	SharesAtStart sdkmath.Int     `json:"shares_at_start"`
}
