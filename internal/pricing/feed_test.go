package pricing

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func feedServer(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestFetchReading(t *testing.T) {
	ts := time.Now().Unix()
	server := feedServer(t, `{
		"asset": "usdc",
		"source": "oracle/usdc",
		"price": "1000000",
		"decimals": 6,
		"timestamp": `+strconv.FormatInt(ts, 10)+`
	}`, http.StatusOK)

	client := NewFeedClient(server.URL)
	reading, err := client.FetchReading("usdc")
	require.NoError(t, err)
	require.Equal(t, "usdc", reading.Asset)
	require.Equal(t, "oracle/usdc", reading.Source)
	require.Equal(t, "1000000", reading.Price.String())
	require.Equal(t, 6, reading.Decimals)
	require.Equal(t, time.Unix(ts, 0).UTC(), reading.Timestamp)
}

func TestFetchReadingRejectsWrongAsset(t *testing.T) {
	server := feedServer(t, `{
		"asset": "atom",
		"source": "oracle/atom",
		"price": "1",
		"decimals": 6,
		"timestamp": 1
	}`, http.StatusOK)

	client := NewFeedClient(server.URL)
	_, err := client.FetchReading("usdc")
	require.ErrorIs(t, err, ErrFeedResponse)
}

func TestFetchReadingRejectsBadPayload(t *testing.T) {
	cases := map[string]string{
		"non-integer price": `{"asset":"usdc","source":"s","price":"1.5","decimals":6,"timestamp":1}`,
		"zero price":        `{"asset":"usdc","source":"s","price":"0","decimals":6,"timestamp":1}`,
		"negative price":    `{"asset":"usdc","source":"s","price":"-1","decimals":6,"timestamp":1}`,
		"bad decimals":      `{"asset":"usdc","source":"s","price":"1","decimals":19,"timestamp":1}`,
		"missing source":    `{"asset":"usdc","price":"1","decimals":6,"timestamp":1}`,
		"zero timestamp":    `{"asset":"usdc","source":"s","price":"1","decimals":6,"timestamp":0}`,
		"not json":          `oops`,
	}

	for name, body := range cases {
		server := feedServer(t, body, http.StatusOK)
		client := NewFeedClient(server.URL)
		_, err := client.FetchReading("usdc")
		require.ErrorIs(t, err, ErrFeedResponse, "case %s", name)
	}
}

func TestFetchReadingNonOKStatus(t *testing.T) {
	server := feedServer(t, `{}`, http.StatusBadGateway)

	client := NewFeedClient(server.URL)
	_, err := client.FetchReading("usdc")
	require.ErrorIs(t, err, ErrFeedUnavailable)
}

