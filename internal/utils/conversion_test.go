package utils

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"
)

func TestNormalizeToCanonical(t *testing.T) {
	// 1.50 USD expressed at three native precisions must normalize to the
	// same canonical value.
	canonical := sdkmath.NewInt(1_500_000_000)

	from6, err := NormalizeToCanonical(sdkmath.NewInt(1_500_000), 6)
	require.NoError(t, err)
	require.Equal(t, canonical.String(), from6.String())

	from9, err := NormalizeToCanonical(sdkmath.NewInt(1_500_000_000), 9)
	require.NoError(t, err)
	require.Equal(t, canonical.String(), from9.String())

	from12, err := NormalizeToCanonical(sdkmath.NewInt(1_500_000_000_000), 12)
	require.NoError(t, err)
	require.Equal(t, canonical.String(), from12.String())
}

func TestNormalizeToCanonicalTruncates(t *testing.T) {
	// Sub-canonical digits at higher precision truncate, they do not round.
	out, err := NormalizeToCanonical(sdkmath.NewInt(1_999), 12)
	require.NoError(t, err)
	require.Equal(t, "1", out.String())
}

func TestNormalizeToCanonicalRejectsBadPrecision(t *testing.T) {
	_, err := NormalizeToCanonical(sdkmath.NewInt(1), -1)
	require.ErrorIs(t, err, ErrInvalidPrecision)

	_, err = NormalizeToCanonical(sdkmath.NewInt(1), 19)
	require.ErrorIs(t, err, ErrInvalidPrecision)

	_, err = NormalizeToCanonical(sdkmath.Int{}, 6)
	require.ErrorIs(t, err, ErrAmountNil)
}

func TestCoinValueUSD(t *testing.T) {
	// 2.5 tokens at 6 decimals, priced at 4 USD: value is 10 USD canonical.
	price := sdkmath.NewInt(4_000_000_000)
	value, err := CoinValueUSD(sdkmath.NewInt(2_500_000), 6, price)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(10_000_000_000).String(), value.String())
}

func TestCoinValueUSDRoundTrip(t *testing.T) {
	price := sdkmath.NewInt(1_250_000_000) // 1.25 USD
	amount := sdkmath.NewInt(8_000_000)    // 8 tokens at 6 decimals

	value, err := CoinValueUSD(amount, 6, price)
	require.NoError(t, err)

	back, err := USDToCoinAmount(value, 6, price)
	require.NoError(t, err)
	require.Equal(t, amount.String(), back.String())
}

func TestCoinValueUSDRejectsNegative(t *testing.T) {
	_, err := CoinValueUSD(sdkmath.NewInt(-1), 6, sdkmath.NewInt(1))
	require.ErrorIs(t, err, ErrAmountNegative)
}

func TestApplyBps(t *testing.T) {
	fee, err := ApplyBps(sdkmath.NewInt(1_000_000), 25)
	require.NoError(t, err)
	require.Equal(t, "2500", fee.String())

	zero, err := ApplyBps(sdkmath.NewInt(1_000_000), 0)
	require.NoError(t, err)
	require.True(t, zero.IsZero())

	full, err := ApplyBps(sdkmath.NewInt(1_000_000), 10000)
	require.NoError(t, err)
	require.Equal(t, "1000000", full.String())

	_, err = ApplyBps(sdkmath.NewInt(1), 10001)
	require.ErrorIs(t, err, ErrInvalidBps)
}

func TestApplyBpsTruncates(t *testing.T) {
	// 10 bps of 999 is 0.999, which truncates to zero.
	fee, err := ApplyBps(sdkmath.NewInt(999), 10)
	require.NoError(t, err)
	require.True(t, fee.IsZero())
}

func TestIntToDisplayFloat(t *testing.T) {
	out, err := IntToDisplayFloat(sdkmath.NewInt(1_500_000_000), 9)
	require.NoError(t, err)
	require.InDelta(t, 1.5, out, 1e-9)

	_, err = IntToDisplayFloat(sdkmath.Int{}, 9)
	require.ErrorIs(t, err, ErrAmountNil)
}
