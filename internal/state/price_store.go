// ./internal/state/price_store.go
package state

import (
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/custodia-labs/cvm/internal/types"
)

// SavePriceEntries upserts the price book contents. Prices are written on
// every refresh, so this is an upsert per asset rather than a wholesale
// rewrite.
func SavePriceEntries(entries []types.PriceEntry) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO price_entries (asset, source, decimals, price, last_updated)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (asset) DO UPDATE SET
			source = EXCLUDED.source,
			decimals = EXCLUDED.decimals,
			price = EXCLUDED.price,
			last_updated = EXCLUDED.last_updated;
	`
	for i := range entries {
		_, err := DB.Exec(query,
			entries[i].Asset, entries[i].Source, entries[i].Decimals,
			entries[i].Price.String(), entries[i].LastUpdated,
		)
		if err != nil {
			return fmt.Errorf("failed to save price entry for %s: %w", entries[i].Asset, err)
		}
	}
	return nil
}

// LoadPriceEntries returns every persisted price entry.
func LoadPriceEntries() ([]types.PriceEntry, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := DB.Query(`SELECT asset, source, decimals, price, last_updated FROM price_entries ORDER BY asset;`)
	if err != nil {
		return nil, fmt.Errorf("failed to query price entries: %w", err)
	}
	defer rows.Close()

	var entries []types.PriceEntry
	for rows.Next() {
		var entry types.PriceEntry
		var priceStr string
		if err := rows.Scan(&entry.Asset, &entry.Source, &entry.Decimals, &priceStr, &entry.LastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan price entry row: %w", err)
		}
		price, ok := sdkmath.NewIntFromString(priceStr)
		if !ok {
			return nil, fmt.Errorf("invalid stored price for %s: %s", entry.Asset, priceStr)
		}
		entry.Price = price
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating price entry rows: %w", err)
	}

	return entries, nil
}
