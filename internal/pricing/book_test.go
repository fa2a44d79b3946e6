package pricing

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/cvm/internal/types"
)

func testBook(t *testing.T) *PriceBook {
	t.Helper()
	book := NewPriceBook(5 * time.Minute)
	require.NoError(t, book.AddSource("usdc", 6, "oracle/usdc"))
	require.NoError(t, book.AddSource("atom", 9, "oracle/atom"))
	require.NoError(t, book.AddSource("weth", 12, "oracle/weth"))
	return book
}

func reading(asset, source string, price int64, decimals int, ts time.Time) types.FeedReading {
	return types.FeedReading{
		Asset:     asset,
		Source:    source,
		Price:     sdkmath.NewInt(price),
		Decimals:  decimals,
		Timestamp: ts,
	}
}

func TestNormalizedPriceAcrossPrecisions(t *testing.T) {
	book := testBook(t)
	now := time.Now().UTC()

	// The same 1 USD price arrives at three native precisions and must read
	// back identically on the canonical scale.
	require.NoError(t, book.Update(reading("usdc", "oracle/usdc", 1_000_000, 6, now)))
	require.NoError(t, book.Update(reading("atom", "oracle/atom", 1_000_000_000, 9, now)))
	require.NoError(t, book.Update(reading("weth", "oracle/weth", 1_000_000_000_000, 12, now)))

	for _, asset := range []string{"usdc", "atom", "weth"} {
		price, err := book.GetNormalizedPrice(asset, now)
		require.NoError(t, err)
		require.Equal(t, "1000000000", price.String(), "asset %s", asset)
	}
}

func TestUpdateRejectsSourceMismatch(t *testing.T) {
	book := testBook(t)
	now := time.Now().UTC()

	err := book.Update(reading("usdc", "someone-else", 1_000_000, 6, now))
	require.ErrorIs(t, err, ErrSourceMismatch)
}

func TestUpdateRejectsDecimalMismatch(t *testing.T) {
	book := testBook(t)
	now := time.Now().UTC()

	err := book.Update(reading("usdc", "oracle/usdc", 1_000_000, 9, now))
	require.ErrorIs(t, err, ErrInvalidReading)
}

func TestUpdateRejectsTimestampRegression(t *testing.T) {
	book := testBook(t)
	now := time.Now().UTC()

	require.NoError(t, book.Update(reading("usdc", "oracle/usdc", 1_000_000, 6, now)))
	err := book.Update(reading("usdc", "oracle/usdc", 1_100_000, 6, now.Add(-time.Minute)))
	require.ErrorIs(t, err, ErrInvalidReading)
}

func TestUpdateRejectsNonPositivePrice(t *testing.T) {
	book := testBook(t)
	now := time.Now().UTC()

	err := book.Update(reading("usdc", "oracle/usdc", 0, 6, now))
	require.ErrorIs(t, err, ErrInvalidReading)
}

func TestGetRawPriceFailsClosedOnStaleness(t *testing.T) {
	book := testBook(t)
	now := time.Now().UTC()

	require.NoError(t, book.Update(reading("usdc", "oracle/usdc", 1_000_000, 6, now)))

	// Within the bound: fine. Past it: hard error, never a carried price.
	_, _, err := book.GetRawPrice("usdc", now.Add(4*time.Minute))
	require.NoError(t, err)

	_, _, err = book.GetRawPrice("usdc", now.Add(6*time.Minute))
	require.ErrorIs(t, err, ErrPriceStale)
}

func TestGetRawPriceBeforeFirstUpdate(t *testing.T) {
	book := testBook(t)

	// A configured source with no reading yet is stale, not zero.
	_, _, err := book.GetRawPrice("usdc", time.Now().UTC())
	require.ErrorIs(t, err, ErrPriceStale)
}

func TestUnconfiguredAsset(t *testing.T) {
	book := testBook(t)

	_, err := book.GetNormalizedPrice("doge", time.Now().UTC())
	require.ErrorIs(t, err, ErrAssetNotConfigured)

	err = book.Update(reading("doge", "oracle/doge", 1, 6, time.Now().UTC()))
	require.ErrorIs(t, err, ErrAssetNotConfigured)
}

func TestAddSourceRejectsDuplicate(t *testing.T) {
	book := testBook(t)
	err := book.AddSource("usdc", 6, "oracle/usdc-2")
	require.ErrorIs(t, err, ErrAlreadyConfigured)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	book := testBook(t)
	now := time.Now().UTC()
	require.NoError(t, book.Update(reading("usdc", "oracle/usdc", 1_000_000, 6, now)))

	restored := NewPriceBook(5 * time.Minute)
	restored.Restore(book.Entries())

	price, err := restored.GetNormalizedPrice("usdc", now)
	require.NoError(t, err)
	require.Equal(t, "1000000000", price.String())
}
