package ledger

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/cvm/internal/types"
)

func TestTotalValueAggregates(t *testing.T) {
	l := NewLedger(time.Hour)
	now := time.Now().UTC()

	require.NoError(t, l.SetSlotValue("free_principal", sdkmath.NewInt(1_000), now))
	require.NoError(t, l.SetSlotValue("pos_a", sdkmath.NewInt(2_500), now))
	require.NoError(t, l.SetSlotValue("pos_b", sdkmath.NewInt(500), now))

	total, err := l.TotalValue(now)
	require.NoError(t, err)
	require.Equal(t, "4000", total.String())
}

func TestTotalValueFailsClosedOnStaleEntry(t *testing.T) {
	l := NewLedger(time.Hour)
	now := time.Now().UTC()

	require.NoError(t, l.SetSlotValue("fresh", sdkmath.NewInt(100), now))
	require.NoError(t, l.SetSlotValue("stale", sdkmath.NewInt(100), now.Add(-2*time.Hour)))

	// One stale entry poisons the whole aggregate.
	_, err := l.TotalValue(now)
	require.ErrorIs(t, err, ErrStaleValuation)

	// Refreshing the stale slot recovers it.
	require.NoError(t, l.SetSlotValue("stale", sdkmath.NewInt(100), now))
	total, err := l.TotalValue(now)
	require.NoError(t, err)
	require.Equal(t, "200", total.String())
}

func TestNegativeValuesNetOut(t *testing.T) {
	l := NewLedger(time.Hour)
	now := time.Now().UTC()

	// An over-borrowed position is a liability: it reduces the aggregate
	// instead of being floored to zero.
	require.NoError(t, l.SetSlotValue("assets", sdkmath.NewInt(10_000), now))
	require.NoError(t, l.SetSlotValue("underwater", sdkmath.NewInt(-3_000), now))

	total, err := l.TotalValue(now)
	require.NoError(t, err)
	require.Equal(t, "7000", total.String())
}

func TestNonNegativeValueRejectsLiability(t *testing.T) {
	l := NewLedger(time.Hour)
	now := time.Now().UTC()

	require.NoError(t, l.SetSlotValue("underwater", sdkmath.NewInt(-1), now))

	_, err := l.NonNegativeValue("underwater")
	require.ErrorIs(t, err, ErrNegativeValue)
}

func TestSetSlotValueOverwrites(t *testing.T) {
	l := NewLedger(time.Hour)
	now := time.Now().UTC()

	require.NoError(t, l.SetSlotValue("slot", sdkmath.NewInt(1), now))
	require.NoError(t, l.SetSlotValue("slot", sdkmath.NewInt(2), now.Add(time.Second)))

	entry, err := l.Value("slot")
	require.NoError(t, err)
	require.Equal(t, "2", entry.Value.String())
}

func TestSetSlotValueRejectsNil(t *testing.T) {
	l := NewLedger(time.Hour)
	err := l.SetSlotValue("slot", sdkmath.Int{}, time.Now().UTC())
	require.ErrorIs(t, err, ErrValueNil)
}

func TestUnvaluedSlot(t *testing.T) {
	l := NewLedger(time.Hour)
	_, err := l.Value("missing")
	require.ErrorIs(t, err, ErrSlotUnvalued)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	l := NewLedger(time.Hour)
	now := time.Now().UTC()
	require.NoError(t, l.SetSlotValue("a", sdkmath.NewInt(1), now))
	require.NoError(t, l.SetSlotValue("b", sdkmath.NewInt(-2), now))

	restored := NewLedger(time.Hour)
	restored.Restore(l.Snapshot())

	total, err := restored.TotalValue(now)
	require.NoError(t, err)
	require.Equal(t, "-1", total.String())
	require.Equal(t, []types.SlotID{"a", "b"}, restored.Slots())
}
