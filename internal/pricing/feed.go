/*

This file implements the HTTP client for the external oracle feed. Readings
are validated strictly before they are allowed anywhere near the price book;
a bad feed response is an error, never a zero or a carried-forward price.

*/

package pricing

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/custodia-labs/cvm/internal/logger"
	"github.com/custodia-labs/cvm/internal/types"
)

var feedLogger = logger.GetForComponent("oracle_feed")

var (
	ErrFeedUnavailable = errors.New("oracle feed request failed")
	ErrFeedResponse    = errors.New("oracle feed response is invalid")
)

const (
	maxFeedRetries = 3
	feedTimeout    = 15 * time.Second
	retryBackoff   = 2 * time.Second
)

// feedResponse is the wire shape of one reading from the oracle endpoint.
type feedResponse struct {
	Asset     string `json:"asset"`
	Source    string `json:"source"`
	Price     string `json:"price"` // integer string in native decimals
	Decimals  int    `json:"decimals"`
	Timestamp int64  `json:"timestamp"` // unix seconds
}

// FeedClient fetches price readings from the external oracle over HTTP.
type FeedClient struct {
	endpoint string
	client   *http.Client
}

// NewFeedClient creates a feed client for the given base endpoint.
func NewFeedClient(endpoint string) *FeedClient {
	return &FeedClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: feedTimeout},
	}
}

// FetchReading retrieves and validates the latest reading for one asset,
// retrying transient transport failures. Validation failures are not retried;
// a feed that returns garbage once will return garbage three times.
func (f *FeedClient) FetchReading(asset string) (types.FeedReading, error) {
	url := fmt.Sprintf("%s/prices/%s", f.endpoint, asset)

	var lastErr error
	for attempt := 1; attempt <= maxFeedRetries; attempt++ {
		resp, err := f.client.Get(url)
		if err != nil {
			lastErr = fmt.Errorf("%w: %w", ErrFeedUnavailable, err)
			feedLogger.Warn().Err(err).Str("asset", asset).Int("attempt", attempt).Msg("Feed request failed, retrying")
			time.Sleep(retryBackoff * time.Duration(attempt))
			continue
		}

		reading, err := decodeReading(resp, asset)
		if err != nil {
			return types.FeedReading{}, err
		}
		return reading, nil
	}
	return types.FeedReading{}, lastErr
}

func decodeReading(resp *http.Response, asset string) (types.FeedReading, error) {
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.FeedReading{}, fmt.Errorf("%w: status %d for %s", ErrFeedUnavailable, resp.StatusCode, asset)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return types.FeedReading{}, fmt.Errorf("%w: %w", ErrFeedResponse, err)
	}

	var raw feedResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return types.FeedReading{}, fmt.Errorf("%w: %w", ErrFeedResponse, err)
	}

	if raw.Asset != asset {
		return types.FeedReading{}, fmt.Errorf("%w: requested %s, response is for %s", ErrFeedResponse, asset, raw.Asset)
	}
	if raw.Source == "" {
		return types.FeedReading{}, fmt.Errorf("%w: missing source for %s", ErrFeedResponse, asset)
	}
	if raw.Decimals < 0 || raw.Decimals > 18 {
		return types.FeedReading{}, fmt.Errorf("%w: decimals %d out of range for %s", ErrFeedResponse, raw.Decimals, asset)
	}
	if raw.Timestamp <= 0 {
		return types.FeedReading{}, fmt.Errorf("%w: invalid timestamp %d for %s", ErrFeedResponse, raw.Timestamp, asset)
	}

	price, ok := sdkmath.NewIntFromString(raw.Price)
	if !ok || !price.IsPositive() {
		return types.FeedReading{}, fmt.Errorf("%w: price %q is not a positive integer for %s", ErrFeedResponse, raw.Price, asset)
	}

	return types.FeedReading{
		Asset:     raw.Asset,
		Source:    raw.Source,
		Price:     price,
		Decimals:  raw.Decimals,
		Timestamp: time.Unix(raw.Timestamp, 0).UTC(),
	}, nil
}
