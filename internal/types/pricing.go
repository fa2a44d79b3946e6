/*

This file contains the price-feed types shared between the price normalizer,
the oracle feed client and the persistence layer.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// PriceEntry is the configured price source and last known reading for one
// supported asset type. Created once per asset by an admin action, updated by
// any caller presenting a fresh feed reading.
type PriceEntry struct {
	Asset       string      `json:"asset"`    // denom, e.g. "uusdc"
	Source      string      `json:"source"`   // feed identity the entry is pinned to
	Decimals    int         `json:"decimals"` // native decimal count of the raw price
	Price       sdkmath.Int `json:"price"`    // raw price in native decimals, USD per whole unit
	LastUpdated time.Time   `json:"last_updated"`
}

// FeedReading is one observation delivered by an oracle feed.
type FeedReading struct {
	Asset     string      `json:"asset"`
	Source    string      `json:"source"`
	Price     sdkmath.Int `json:"price"`
	Decimals  int         `json:"decimals"`
	Timestamp time.Time   `json:"timestamp"`
}
