package adaptor_test

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/cvm/internal/adaptor"
	"github.com/custodia-labs/cvm/internal/pricing"
	"github.com/custodia-labs/cvm/internal/types"
)

// testBook prices usdc (6 native decimals) and atom (9 native decimals) at
// 1 USD and 10 USD respectively.
func testBook(t *testing.T, now time.Time) *pricing.PriceBook {
	t.Helper()
	book := pricing.NewPriceBook(time.Hour)
	require.NoError(t, book.AddSource("usdc", 6, "oracle/usdc"))
	require.NoError(t, book.AddSource("atom", 9, "oracle/atom"))
	require.NoError(t, book.Update(types.FeedReading{
		Asset: "usdc", Source: "oracle/usdc", Price: sdkmath.NewInt(1_000_000), Decimals: 6, Timestamp: now,
	}))
	require.NoError(t, book.Update(types.FeedReading{
		Asset: "atom", Source: "oracle/atom", Price: sdkmath.NewInt(10_000_000_000), Decimals: 9, Timestamp: now,
	}))
	return book
}

func coin(denom string, amount int64) sdktypes.Coin {
	return sdktypes.Coin{Denom: denom, Amount: sdkmath.NewInt(amount)}
}

func TestLendingValue(t *testing.T) {
	now := time.Now().UTC()
	book := testBook(t, now)
	a := adaptor.NewLendingAdaptor()

	// Supplied 100 usdc, accrued 1 usdc, borrowed 5 atom (50 USD):
	// 100 + 1 - 50 = 51 USD.
	pos := &types.Position{
		Adaptor:  adaptor.LendingAdaptorName,
		Market:   "money-market-1",
		Supplied: []sdktypes.Coin{coin("usdc", 100_000_000)},
		Accrued:  []sdktypes.Coin{coin("usdc", 1_000_000)},
		Borrowed: []sdktypes.Coin{coin("atom", 5_000_000_000)},
	}

	value, err := a.ComputePositionValue(pos, book, now)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(51_000_000_000).String(), value.String())
}

func TestLendingValueGoesNegative(t *testing.T) {
	now := time.Now().UTC()
	book := testBook(t, now)
	a := adaptor.NewLendingAdaptor()

	// Borrowed exceeds supplied: the position is a net liability and must
	// value negative, never zero.
	pos := &types.Position{
		Adaptor:  adaptor.LendingAdaptorName,
		Market:   "money-market-1",
		Supplied: []sdktypes.Coin{coin("usdc", 10_000_000)},
		Borrowed: []sdktypes.Coin{coin("atom", 2_000_000_000)},
	}

	value, err := a.ComputePositionValue(pos, book, now)
	require.NoError(t, err)
	require.True(t, value.IsNegative())
	require.Equal(t, sdkmath.NewInt(-10_000_000_000).String(), value.String())
}

func TestLendingRejectsForeignPosition(t *testing.T) {
	now := time.Now().UTC()
	book := testBook(t, now)
	a := adaptor.NewLendingAdaptor()

	_, err := a.ComputePositionValue(&types.Position{Adaptor: adaptor.AMMAdaptorName}, book, now)
	require.ErrorIs(t, err, adaptor.ErrAdaptorMismatch)
}

// balancedPool is a usdc/atom pool whose implied price matches the oracle:
// 1000 usdc against 100 atom, with atom at 10 USD.
func balancedPool(lpShares, totalShares int64) *types.Position {
	return &types.Position{
		Adaptor:         adaptor.AMMAdaptorName,
		Market:          "pool-7",
		LPShares:        sdkmath.NewInt(lpShares),
		TotalPoolShares: sdkmath.NewInt(totalShares),
		ReserveA:        coin("usdc", 1_000_000_000), // 1000 usdc at 6 decimals
		ReserveB:        coin("atom", 100_000_000_000), // 100 atom at 9 decimals
	}
}

func TestAMMValueProRata(t *testing.T) {
	now := time.Now().UTC()
	book := testBook(t, now)
	a := adaptor.NewAMMAdaptor(50)

	// Pool holds 1000 + 1000 = 2000 USD; a 10% share is worth 200 USD.
	value, err := a.ComputePositionValue(balancedPool(10, 100), book, now)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(200_000_000_000).String(), value.String())
}

func TestAMMValueAddsAccruedFees(t *testing.T) {
	now := time.Now().UTC()
	book := testBook(t, now)
	a := adaptor.NewAMMAdaptor(50)

	pos := balancedPool(10, 100)
	pos.AccruedFees = []sdktypes.Coin{coin("usdc", 3_000_000)} // 3 USD, all ours

	value, err := a.ComputePositionValue(pos, book, now)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(203_000_000_000).String(), value.String())
}

func TestAMMImpliedPriceSymmetricAcrossDecimals(t *testing.T) {
	// The implied-price check must hold for a balanced pool regardless of the
	// reserve assets' native decimal counts. usdc is 6, atom is 9; a naive
	// raw-ratio comparison would reject this pool outright.
	now := time.Now().UTC()
	book := testBook(t, now)
	a := adaptor.NewAMMAdaptor(50)

	_, err := a.ComputePositionValue(balancedPool(1, 100), book, now)
	require.NoError(t, err)
}

func TestAMMRejectsManipulatedPool(t *testing.T) {
	now := time.Now().UTC()
	book := testBook(t, now)
	a := adaptor.NewAMMAdaptor(50)

	// Drain half of reserve B: implied price doubles against the oracle.
	pos := balancedPool(10, 100)
	pos.ReserveB = coin("atom", 50_000_000_000)

	_, err := a.ComputePositionValue(pos, book, now)
	require.ErrorIs(t, err, adaptor.ErrPoolPriceDeviation)
}

func TestAMMRejectsBadPoolState(t *testing.T) {
	now := time.Now().UTC()
	book := testBook(t, now)
	a := adaptor.NewAMMAdaptor(50)

	pos := balancedPool(10, 100)
	pos.TotalPoolShares = sdkmath.ZeroInt()
	_, err := a.ComputePositionValue(pos, book, now)
	require.ErrorIs(t, err, adaptor.ErrPoolStateInvalid)

	pos = balancedPool(101, 100)
	_, err = a.ComputePositionValue(pos, book, now)
	require.ErrorIs(t, err, adaptor.ErrPoolStateInvalid)

	pos = balancedPool(10, 100)
	pos.ReserveA = coin("usdc", 0)
	_, err = a.ComputePositionValue(pos, book, now)
	require.ErrorIs(t, err, adaptor.ErrPoolStateInvalid)
}

func TestRegistry(t *testing.T) {
	reg := adaptor.NewRegistry()
	reg.Register(adaptor.NewLendingAdaptor())

	got, err := reg.Get(adaptor.LendingAdaptorName)
	require.NoError(t, err)
	require.Equal(t, adaptor.LendingAdaptorName, got.Name())

	_, err = reg.Get("unknown")
	require.ErrorIs(t, err, adaptor.ErrAdaptorUnknown)

	require.Panics(t, func() { reg.Register(adaptor.NewLendingAdaptor()) })
}
