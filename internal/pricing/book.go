/*

This file implements the price normalizer: a book of configured price sources
that converts heterogeneous native precisions into the canonical 9-decimal
scale and enforces a staleness bound on every read.

*/

package pricing

import (
	"errors"
	"fmt"
	"sort"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/custodia-labs/cvm/internal/logger"
	"github.com/custodia-labs/cvm/internal/types"
	"github.com/custodia-labs/cvm/internal/utils"
)

// Error definitions for zero-tolerance error handling
var (
	ErrAssetNotConfigured = errors.New("asset has no configured price source")
	ErrAlreadyConfigured  = errors.New("asset price source already configured")
	ErrSourceMismatch     = errors.New("feed source does not match configured source")
	ErrPriceStale         = errors.New("price is stale")
	ErrInvalidReading     = errors.New("feed reading is invalid")
)

var bookLogger = logger.GetForComponent("price_book")

// PriceBook holds one PriceEntry per supported asset type. All reads take an
// explicit "now" so the staleness bound is checked against the caller's clock,
// never against a clock the book owns.
type PriceBook struct {
	entries     map[string]*types.PriceEntry
	maxInterval time.Duration
}

// NewPriceBook creates an empty book with the given staleness bound.
func NewPriceBook(maxInterval time.Duration) *PriceBook {
	return &PriceBook{
		entries:     make(map[string]*types.PriceEntry),
		maxInterval: maxInterval,
	}
}

// AddSource registers a price source for an asset. One source per asset; the
// configured source identity is what Update later verifies readings against.
func (b *PriceBook) AddSource(asset string, decimals int, source string) error {
	if asset == "" || source == "" {
		return fmt.Errorf("%w: asset and source must be non-empty", ErrInvalidReading)
	}
	if decimals < 0 || decimals > 18 {
		return fmt.Errorf("%w: decimals %d out of range", ErrInvalidReading, decimals)
	}
	if _, exists := b.entries[asset]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyConfigured, asset)
	}

	b.entries[asset] = &types.PriceEntry{
		Asset:    asset,
		Source:   source,
		Decimals: decimals,
		Price:    sdkmath.ZeroInt(),
	}
	bookLogger.Info().Str("asset", asset).Str("source", source).Int("decimals", decimals).Msg("Price source added")
	return nil
}

// Update overwrites the stored price and timestamp for an asset from a feed
// reading. The reading's source and decimal count must match the configured
// entry exactly; a reading older than the one already stored is rejected.
func (b *PriceBook) Update(reading types.FeedReading) error {
	entry, exists := b.entries[reading.Asset]
	if !exists {
		return fmt.Errorf("%w: %s", ErrAssetNotConfigured, reading.Asset)
	}
	if reading.Source != entry.Source {
		return fmt.Errorf("%w: asset %s configured for %s, reading presented %s",
			ErrSourceMismatch, reading.Asset, entry.Source, reading.Source)
	}
	if reading.Decimals != entry.Decimals {
		return fmt.Errorf("%w: asset %s configured with %d decimals, reading carries %d",
			ErrInvalidReading, reading.Asset, entry.Decimals, reading.Decimals)
	}
	if reading.Price.IsNil() || !reading.Price.IsPositive() {
		return fmt.Errorf("%w: price must be positive for %s", ErrInvalidReading, reading.Asset)
	}
	if reading.Timestamp.IsZero() || reading.Timestamp.Before(entry.LastUpdated) {
		return fmt.Errorf("%w: timestamp regressed for %s", ErrInvalidReading, reading.Asset)
	}

	entry.Price = reading.Price
	entry.LastUpdated = reading.Timestamp
	bookLogger.Debug().Str("asset", reading.Asset).Str("price", reading.Price.String()).Msg("Price updated")
	return nil
}

// GetRawPrice returns the stored price in native decimals along with the
// decimal count, failing closed on a missing entry or a stale reading.
func (b *PriceBook) GetRawPrice(asset string, now time.Time) (sdkmath.Int, int, error) {
	entry, exists := b.entries[asset]
	if !exists {
		return sdkmath.Int{}, 0, fmt.Errorf("%w: %s", ErrAssetNotConfigured, asset)
	}
	if entry.LastUpdated.IsZero() || now.Sub(entry.LastUpdated) > b.maxInterval {
		return sdkmath.Int{}, 0, fmt.Errorf("%w: %s last updated %s", ErrPriceStale, asset, entry.LastUpdated)
	}
	return entry.Price, entry.Decimals, nil
}

// GetNormalizedPrice returns the stored price converted to the canonical
// 9-decimal scale. Every USD-value computation must use this, never the raw
// price, so cross-asset arithmetic stays comparable across native precisions.
func (b *PriceBook) GetNormalizedPrice(asset string, now time.Time) (sdkmath.Int, error) {
	raw, decimals, err := b.GetRawPrice(asset, now)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return utils.NormalizeToCanonical(raw, decimals)
}

// NativeDecimals returns the configured decimal count for an asset.
func (b *PriceBook) NativeDecimals(asset string) (int, error) {
	entry, exists := b.entries[asset]
	if !exists {
		return 0, fmt.Errorf("%w: %s", ErrAssetNotConfigured, asset)
	}
	return entry.Decimals, nil
}

// Entries returns a copy of all configured entries, sorted by asset, for
// persistence and the dashboard.
func (b *PriceBook) Entries() []types.PriceEntry {
	out := make([]types.PriceEntry, 0, len(b.entries))
	for _, entry := range b.entries {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

// Restore replaces the book contents from persisted entries.
func (b *PriceBook) Restore(entries []types.PriceEntry) {
	b.entries = make(map[string]*types.PriceEntry, len(entries))
	for i := range entries {
		entry := entries[i]
		b.entries[entry.Asset] = &entry
	}
}
