/*

This file contains the vault aggregate: custody slots, the valuation ledger,
share supply, epoch loss accounting and the admin entry points. Deposit and
withdraw execution live in shares.go, the operation lifecycle in
lifecycle.go, reward distribution in rewards.go.

Every mutating entry point authorizes against the access gate before touching
any state, and performs all validation before the first mutation so a failed
call leaves the aggregate exactly as it found it.

*/

package vault

import (
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/custodia-labs/cvm/internal/access"
	"github.com/custodia-labs/cvm/internal/adaptor"
	"github.com/custodia-labs/cvm/internal/ledger"
	"github.com/custodia-labs/cvm/internal/logger"
	"github.com/custodia-labs/cvm/internal/pricing"
	"github.com/custodia-labs/cvm/internal/types"
	"github.com/custodia-labs/cvm/internal/utils"
)

// Error definitions for zero-tolerance error handling
var (
	ErrNotNormal          = errors.New("vault is not in NORMAL status")
	ErrNotDuringOperation = errors.New("vault is not in DURING_OPERATION status")
	ErrDuringOperation    = errors.New("action is blocked while an operation is in progress")
	ErrSlotNotFound       = errors.New("slot not found in vault custody")
	ErrSlotExists         = errors.New("slot already exists")
	ErrSlotInvalid        = errors.New("slot payload is invalid")
	ErrSlotReserved       = errors.New("slot ID is reserved")
	ErrFeeTooHigh         = errors.New("fee rate exceeds the configured cap")
	ErrNoShares           = errors.New("vault has no shares outstanding")
	ErrInvariantViolated  = errors.New("vault invariant violated")
)

// Config collects everything a vault needs at construction time.
type Config struct {
	VaultID          uint64
	PrincipalDenom   string
	Gate             *access.Gate
	Book             *pricing.PriceBook
	Adaptors         *adaptor.Registry
	MaxStaleness     time.Duration
	LossToleranceBps uint32
	MaxFeeBps        uint32
	DepositFeeBps    uint32
	WithdrawFeeBps   uint32
}

// Vault is the root aggregate. It is not safe for concurrent use; the host
// execution model delivers entry points one at a time.
type Vault struct {
	logger zerolog.Logger

	id             uint64
	status         types.VaultStatus
	principalDenom string

	slots     map[types.SlotID]*types.Slot
	slotOrder []types.SlotID

	ledger   *ledger.Ledger
	book     *pricing.PriceBook
	gate     *access.Gate
	adaptors *adaptor.Registry

	totalShares    sdkmath.Int
	depositFeeBps  uint32
	withdrawFeeBps uint32
	maxFeeBps      uint32
	feeCollected   sdkmath.Int

	lossToleranceBps     uint32
	curEpoch             uint64
	curEpochLoss         sdkmath.Int
	curEpochLossBaseline sdkmath.Int

	opRecord *types.OpRecord

	receipts      map[string]*types.Receipt
	depositQueue  map[uuid.UUID]*types.DepositRequest
	withdrawQueue map[uuid.UUID]*types.WithdrawRequest
	rewardIndex   map[string]sdkmath.LegacyDec
}

// New creates a vault in NORMAL status with the reserved free-principal slot
// already in custody and valued at zero as of now.
func New(cfg Config, now time.Time) (*Vault, error) {
	if cfg.Gate == nil || cfg.Book == nil || cfg.Adaptors == nil {
		return nil, fmt.Errorf("%w: gate, book and adaptors are required", ErrSlotInvalid)
	}
	if cfg.PrincipalDenom == "" {
		return nil, fmt.Errorf("%w: principal denom is required", ErrSlotInvalid)
	}
	if cfg.DepositFeeBps > cfg.MaxFeeBps || cfg.WithdrawFeeBps > cfg.MaxFeeBps {
		return nil, fmt.Errorf("%w: cap is %d bps", ErrFeeTooHigh, cfg.MaxFeeBps)
	}

	v := &Vault{
		logger:               logger.GetForComponent("vault_engine"),
		id:                   cfg.VaultID,
		status:               types.StatusNormal,
		principalDenom:       cfg.PrincipalDenom,
		slots:                make(map[types.SlotID]*types.Slot),
		ledger:               ledger.NewLedger(cfg.MaxStaleness),
		book:                 cfg.Book,
		gate:                 cfg.Gate,
		adaptors:             cfg.Adaptors,
		totalShares:          sdkmath.ZeroInt(),
		depositFeeBps:        cfg.DepositFeeBps,
		withdrawFeeBps:       cfg.WithdrawFeeBps,
		maxFeeBps:            cfg.MaxFeeBps,
		feeCollected:         sdkmath.ZeroInt(),
		lossToleranceBps:     cfg.LossToleranceBps,
		curEpoch:             0,
		curEpochLoss:         sdkmath.ZeroInt(),
		curEpochLossBaseline: sdkmath.ZeroInt(),
		receipts:             make(map[string]*types.Receipt),
		depositQueue:         make(map[uuid.UUID]*types.DepositRequest),
		withdrawQueue:        make(map[uuid.UUID]*types.WithdrawRequest),
		rewardIndex:          make(map[string]sdkmath.LegacyDec),
	}

	principal := sdktypes.NewCoin(cfg.PrincipalDenom, sdkmath.ZeroInt())
	free := &types.Slot{ID: types.SlotFreePrincipal, Kind: types.SlotKindPrincipal, Coin: &principal}
	v.slots[free.ID] = free
	v.slotOrder = []types.SlotID{free.ID}
	if err := v.ledger.SetSlotValue(free.ID, sdkmath.ZeroInt(), now); err != nil {
		return nil, err
	}

	v.logger.Info().Uint64("vault_id", cfg.VaultID).Str("principal", cfg.PrincipalDenom).Msg("Vault created")
	return v, nil
}

// --- read accessors ---

func (v *Vault) ID() uint64                { return v.id }
func (v *Vault) Status() types.VaultStatus { return v.status }
func (v *Vault) PrincipalDenom() string    { return v.principalDenom }
func (v *Vault) TotalShares() sdkmath.Int  { return v.totalShares }
func (v *Vault) FeeCollected() sdkmath.Int { return v.feeCollected }
func (v *Vault) CurEpoch() uint64          { return v.curEpoch }
func (v *Vault) CurEpochLoss() sdkmath.Int { return v.curEpochLoss }
func (v *Vault) DepositFeeBps() uint32     { return v.depositFeeBps }
func (v *Vault) WithdrawFeeBps() uint32    { return v.withdrawFeeBps }

// OpRecord returns a copy of the transient operation record, or nil when the
// vault is not mid-operation.
func (v *Vault) OpRecord() *types.OpRecord {
	if v.opRecord == nil {
		return nil
	}
	rec := *v.opRecord
	rec.BorrowedSlots = append([]types.SlotID{}, v.opRecord.BorrowedSlots...)
	rec.UpdatedSlots = make(map[types.SlotID]bool, len(v.opRecord.UpdatedSlots))
	for slot, ok := range v.opRecord.UpdatedSlots {
		rec.UpdatedSlots[slot] = ok
	}
	return &rec
}

// TotalValue aggregates the valuation ledger as of now. Fails closed if any
// slot's valuation is stale.
func (v *Vault) TotalValue(now time.Time) (sdkmath.Int, error) {
	return v.ledger.TotalValue(now)
}

// ShareRatio returns total value / total shares as of now, or the 1:1
// bootstrap ratio while no shares are outstanding.
func (v *Vault) ShareRatio(now time.Time) (sdkmath.LegacyDec, error) {
	total, err := v.ledger.TotalValue(now)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	if v.totalShares.IsZero() {
		return sdkmath.LegacyOneDec(), nil
	}
	return sdkmath.LegacyNewDecFromInt(total).Quo(sdkmath.LegacyNewDecFromInt(v.totalShares)), nil
}

// Slots returns copies of all slots currently in vault custody, in slot
// order. Borrowed slots are absent while an operation is in progress.
func (v *Vault) Slots() []types.Slot {
	out := make([]types.Slot, 0, len(v.slots))
	for _, id := range v.slotOrder {
		if slot, held := v.slots[id]; held {
			out = append(out, *slot)
		}
	}
	return out
}

// LedgerEntries returns the persisted form of the valuation ledger.
func (v *Vault) LedgerEntries() []types.LedgerEntry {
	return v.ledger.Snapshot()
}

// --- admin entry points ---

// SetEnabled toggles NORMAL <-> DISABLED. Blocked outright while an operation
// is in progress: freezing a workflow mid-flight would strand custody.
func (v *Vault) SetEnabled(adminCapID string, enabled bool) error {
	if err := v.gate.Authorize(adminCapID, access.RoleAdmin, types.EngineVersion); err != nil {
		return err
	}
	if v.status == types.StatusDuringOperation {
		return fmt.Errorf("%w: cannot toggle enablement", ErrDuringOperation)
	}

	if enabled {
		v.status = types.StatusNormal
	} else {
		v.status = types.StatusDisabled
	}
	v.logger.Info().Bool("enabled", enabled).Msg("Vault enablement toggled")
	return nil
}

// SetDepositFeeBps sets the deposit fee rate, bounded by the configured cap.
func (v *Vault) SetDepositFeeBps(adminCapID string, bps uint32) error {
	if err := v.gate.Authorize(adminCapID, access.RoleAdmin, types.EngineVersion); err != nil {
		return err
	}
	if bps > v.maxFeeBps {
		return fmt.Errorf("%w: %d bps, cap is %d bps", ErrFeeTooHigh, bps, v.maxFeeBps)
	}
	v.depositFeeBps = bps
	v.logger.Info().Uint32("deposit_fee_bps", bps).Msg("Deposit fee rate updated")
	return nil
}

// SetWithdrawFeeBps sets the withdraw fee rate, bounded by the configured cap.
func (v *Vault) SetWithdrawFeeBps(adminCapID string, bps uint32) error {
	if err := v.gate.Authorize(adminCapID, access.RoleAdmin, types.EngineVersion); err != nil {
		return err
	}
	if bps > v.maxFeeBps {
		return fmt.Errorf("%w: %d bps, cap is %d bps", ErrFeeTooHigh, bps, v.maxFeeBps)
	}
	v.withdrawFeeBps = bps
	v.logger.Info().Uint32("withdraw_fee_bps", bps).Msg("Withdraw fee rate updated")
	return nil
}

// AddPriceSource registers a price source for an asset type. Admin only.
func (v *Vault) AddPriceSource(adminCapID, asset string, decimals int, source string) error {
	if err := v.gate.Authorize(adminCapID, access.RoleAdmin, types.EngineVersion); err != nil {
		return err
	}
	return v.book.AddSource(asset, decimals, source)
}

// RegisterSlot adds a new custody slot and values it immediately, so the
// slots/ledger pairing invariant holds from the first instant.
func (v *Vault) RegisterSlot(adminCapID string, slot types.Slot, now time.Time) error {
	if err := v.gate.Authorize(adminCapID, access.RoleAdmin, types.EngineVersion); err != nil {
		return err
	}
	if v.status != types.StatusNormal {
		return fmt.Errorf("%w: status is %s", ErrNotNormal, v.status)
	}
	if slot.ID == "" {
		return fmt.Errorf("%w: empty slot ID", ErrSlotInvalid)
	}
	if slot.ID == types.SlotFreePrincipal {
		return fmt.Errorf("%w: %s", ErrSlotReserved, slot.ID)
	}
	if _, exists := v.slots[slot.ID]; exists {
		return fmt.Errorf("%w: %s", ErrSlotExists, slot.ID)
	}

	value, err := v.valueSlot(&slot, now)
	if err != nil {
		return err
	}

	held := slot
	v.slots[held.ID] = &held
	v.slotOrder = append(v.slotOrder, held.ID)
	if err := v.ledger.SetSlotValue(held.ID, value, now); err != nil {
		// Undo the custody insert; the ledger rejected the pairing.
		delete(v.slots, held.ID)
		v.slotOrder = v.slotOrder[:len(v.slotOrder)-1]
		return err
	}

	v.logger.Info().Str("slot", string(held.ID)).Str("kind", string(held.Kind)).Str("value", value.String()).Msg("Slot registered")
	return nil
}

// AdvanceEpoch closes the current loss-accounting epoch and re-baselines the
// budget at the current total value. Admin only, NORMAL only.
func (v *Vault) AdvanceEpoch(adminCapID string, now time.Time) error {
	if err := v.gate.Authorize(adminCapID, access.RoleAdmin, types.EngineVersion); err != nil {
		return err
	}
	if v.status != types.StatusNormal {
		return fmt.Errorf("%w: status is %s", ErrNotNormal, v.status)
	}

	baseline, err := v.ledger.TotalValue(now)
	if err != nil {
		return err
	}

	v.curEpoch++
	v.curEpochLoss = sdkmath.ZeroInt()
	v.curEpochLossBaseline = baseline
	v.logger.Info().Uint64("epoch", v.curEpoch).Str("baseline", baseline.String()).Msg("Epoch advanced")
	return nil
}

// WithdrawFees pays out the collected fee balance. Admin only, NORMAL only.
func (v *Vault) WithdrawFees(adminCapID string) (sdktypes.Coin, error) {
	if err := v.gate.Authorize(adminCapID, access.RoleAdmin, types.EngineVersion); err != nil {
		return sdktypes.Coin{}, err
	}
	if v.status != types.StatusNormal {
		return sdktypes.Coin{}, fmt.Errorf("%w: status is %s", ErrNotNormal, v.status)
	}

	out := sdktypes.NewCoin(v.principalDenom, v.feeCollected)
	v.feeCollected = sdkmath.ZeroInt()
	v.logger.Info().Str("amount", out.String()).Msg("Fees withdrawn")
	return out, nil
}

// RefreshValuations revalues every slot in custody at current prices: the
// periodic mark-to-market between operations. Operator only, NORMAL only.
// All values are computed before any is written, so one failing adaptor
// leaves the ledger untouched rather than half-marked.
func (v *Vault) RefreshValuations(operatorCapID string, now time.Time) error {
	if err := v.gate.Authorize(operatorCapID, access.RoleOperator, types.EngineVersion); err != nil {
		return err
	}
	if v.status != types.StatusNormal {
		return fmt.Errorf("%w: status is %s", ErrNotNormal, v.status)
	}

	values := make(map[types.SlotID]sdkmath.Int, len(v.slotOrder))
	for _, id := range v.slotOrder {
		value, err := v.valueSlot(v.slots[id], now)
		if err != nil {
			return err
		}
		values[id] = value
	}
	for id, value := range values {
		if err := v.ledger.SetSlotValue(id, value, now); err != nil {
			return err
		}
	}

	v.logger.Debug().Int("slots", len(values)).Msg("Valuations refreshed")
	return nil
}

// UpdatePrice forwards a fresh feed reading to the price book. Deliberately
// ungated: anyone presenting a reading from the configured source may refresh
// a price, exactly like pushing an oracle update on-chain.
func (v *Vault) UpdatePrice(reading types.FeedReading) error {
	return v.book.Update(reading)
}

// --- internal helpers ---

// valueSlot computes the canonical USD value of a slot currently described by
// its custody payload: coin slots at the normalized oracle price, strategy
// slots through their adaptor.
func (v *Vault) valueSlot(slot *types.Slot, now time.Time) (sdkmath.Int, error) {
	switch slot.Kind {
	case types.SlotKindPrincipal, types.SlotKindCoin:
		if slot.Coin == nil {
			return sdkmath.Int{}, fmt.Errorf("%w: %s has no coin payload", ErrSlotInvalid, slot.ID)
		}
		return v.valueCoin(*slot.Coin, now)
	case types.SlotKindStrategy:
		if slot.Position == nil {
			return sdkmath.Int{}, fmt.Errorf("%w: %s has no position payload", ErrSlotInvalid, slot.ID)
		}
		a, err := v.adaptors.Get(slot.Position.Adaptor)
		if err != nil {
			return sdkmath.Int{}, err
		}
		return a.ComputePositionValue(slot.Position, v.book, now)
	default:
		return sdkmath.Int{}, fmt.Errorf("%w: %s has unknown kind %s", ErrSlotInvalid, slot.ID, slot.Kind)
	}
}

func (v *Vault) valueCoin(coin sdktypes.Coin, now time.Time) (sdkmath.Int, error) {
	price, err := v.book.GetNormalizedPrice(coin.Denom, now)
	if err != nil {
		return sdkmath.Int{}, err
	}
	decimals, err := v.book.NativeDecimals(coin.Denom)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return utils.CoinValueUSD(coin.Amount, decimals, price)
}

// CheckInvariants verifies the structural invariants that must hold between
// entry points. Used by tests and the dashboard health probe.
func (v *Vault) CheckInvariants() error {
	if (v.status == types.StatusDuringOperation) != (v.opRecord != nil) {
		return fmt.Errorf("%w: status %s with op record present=%t", ErrInvariantViolated, v.status, v.opRecord != nil)
	}
	if v.totalShares.IsNegative() {
		return fmt.Errorf("%w: negative share supply %s", ErrInvariantViolated, v.totalShares)
	}

	borrowed := make(map[types.SlotID]bool)
	if v.opRecord != nil && !v.opRecord.Returned {
		for _, slot := range v.opRecord.BorrowedSlots {
			borrowed[slot] = true
		}
	}
	for _, id := range v.slotOrder {
		_, held := v.slots[id]
		if held == borrowed[id] {
			return fmt.Errorf("%w: slot %s custody=%t borrowed=%t", ErrInvariantViolated, id, held, borrowed[id])
		}
		if _, err := v.ledger.Value(id); err != nil {
			return fmt.Errorf("%w: slot %s has no ledger entry", ErrInvariantViolated, id)
		}
	}
	return nil
}
