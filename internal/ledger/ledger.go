/*

This file implements the valuation ledger: the mapping from asset slot to its
last known USD value and timestamp. The ledger does not compute position
values itself; adaptors supply them via SetSlotValue. It only aggregates, and
it fails closed when any entry is older than the staleness bound.

Values are stored signed. A position whose liabilities exceed its assets is
recorded as a negative value and nets out in aggregation; flooring it to zero
would silently delete a liability and inflate the share price.

*/

package ledger

import (
	"errors"
	"fmt"
	"sort"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/custodia-labs/cvm/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrStaleValuation = errors.New("slot valuation is stale")
	ErrSlotUnvalued   = errors.New("slot has no valuation entry")
	ErrValueNil       = errors.New("slot value is nil")
	ErrNegativeValue  = errors.New("slot value is negative")
)

// Entry is one slot's last known valuation.
type Entry struct {
	Value     sdkmath.Int // canonical 9-decimal USD, signed
	UpdatedAt time.Time
}

// Ledger aggregates slot valuations with a fail-closed staleness bound.
type Ledger struct {
	entries      map[types.SlotID]Entry
	maxStaleness time.Duration
}

// NewLedger creates an empty ledger with the given staleness bound.
func NewLedger(maxStaleness time.Duration) *Ledger {
	return &Ledger{
		entries:      make(map[types.SlotID]Entry),
		maxStaleness: maxStaleness,
	}
}

// SetSlotValue unconditionally overwrites the entry for a slot.
func (l *Ledger) SetSlotValue(slot types.SlotID, value sdkmath.Int, ts time.Time) error {
	if value.IsNil() {
		return fmt.Errorf("%w: slot %s", ErrValueNil, slot)
	}
	l.entries[slot] = Entry{Value: value, UpdatedAt: ts}
	return nil
}

// Remove drops a slot's entry. Only legal when the slot itself is being
// removed from the vault.
func (l *Ledger) Remove(slot types.SlotID) {
	delete(l.entries, slot)
}

// Value returns one slot's entry.
func (l *Ledger) Value(slot types.SlotID) (Entry, error) {
	entry, exists := l.entries[slot]
	if !exists {
		return Entry{}, fmt.Errorf("%w: %s", ErrSlotUnvalued, slot)
	}
	return entry, nil
}

// NonNegativeValue returns a slot's value where the caller requires a payout
// quantity. A negative true value surfaces as an error here, never as zero.
func (l *Ledger) NonNegativeValue(slot types.SlotID) (sdkmath.Int, error) {
	entry, err := l.Value(slot)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if entry.Value.IsNegative() {
		return sdkmath.Int{}, fmt.Errorf("%w: slot %s is valued at %s", ErrNegativeValue, slot, entry.Value)
	}
	return entry.Value, nil
}

// TotalValue sums every slot's value, failing with ErrStaleValuation naming
// the first stale slot. The sum is signed: liabilities recorded as negative
// values reduce the aggregate.
func (l *Ledger) TotalValue(now time.Time) (sdkmath.Int, error) {
	total := sdkmath.ZeroInt()
	for _, slot := range l.sortedSlots() {
		entry := l.entries[slot]
		if entry.UpdatedAt.IsZero() || now.Sub(entry.UpdatedAt) > l.maxStaleness {
			return sdkmath.Int{}, fmt.Errorf("%w: slot %s last updated %s", ErrStaleValuation, slot, entry.UpdatedAt)
		}
		total = total.Add(entry.Value)
	}
	return total, nil
}

// Slots returns the set of slots the ledger currently tracks.
func (l *Ledger) Slots() []types.SlotID {
	return l.sortedSlots()
}

func (l *Ledger) sortedSlots() []types.SlotID {
	slots := make([]types.SlotID, 0, len(l.entries))
	for slot := range l.entries {
		slots = append(slots, slot)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
	return slots
}

// Snapshot returns the ledger contents for persistence, sorted by slot.
func (l *Ledger) Snapshot() []types.LedgerEntry {
	out := make([]types.LedgerEntry, 0, len(l.entries))
	for _, slot := range l.sortedSlots() {
		entry := l.entries[slot]
		out = append(out, types.LedgerEntry{SlotID: slot, Value: entry.Value, UpdatedAt: entry.UpdatedAt})
	}
	return out
}

// Restore replaces the ledger contents from persisted entries.
func (l *Ledger) Restore(entries []types.LedgerEntry) {
	l.entries = make(map[types.SlotID]Entry, len(entries))
	for _, entry := range entries {
		l.entries[entry.SlotID] = Entry{Value: entry.Value, UpdatedAt: entry.UpdatedAt}
	}
}
