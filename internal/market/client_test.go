package market

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(srv *httptest.Server) *Client {
	return NewClient(
		WithBaseURL(srv.URL),
		WithRateLimit(1000),
		WithBackoff(time.Millisecond),
	)
}

func TestGetQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v7/finance/quote", r.URL.Path)
		assert.Equal(t, "SBIN.NS", r.URL.Query().Get("symbols"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"quoteResponse":{"result":[{
			"symbol":"SBIN.NS",
			"regularMarketPrice":812.45,
			"marketCap":7250000000000,
			"trailingPE":10.2,
			"priceToBook":1.8,
			"fiftyTwoWeekHigh":912.1,
			"fiftyTwoWeekLow":600.65
		}],"error":null}}`))
	}))
	defer srv.Close()

	q, err := testClient(srv).GetQuote(context.Background(), "SBIN")
	require.NoError(t, err)
	assert.Equal(t, "812.45", q.Price.String())
	require.NotNil(t, q.MarketCap)
	assert.Equal(t, "7250000000000", q.MarketCap.String())
	require.NotNil(t, q.PE)
	assert.Equal(t, "10.2", q.PE.String())
	assert.Nil(t, q.DividendYield)
	require.NotNil(t, q.Low52W)
	assert.Equal(t, "600.65", q.Low52W.String())
}

func TestGetQuoteEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"quoteResponse":{"result":[],"error":null}}`))
	}))
	defer srv.Close()

	_, err := testClient(srv).GetQuote(context.Background(), "NOPE")
	assert.ErrorIs(t, err, ErrEmptyQuote)
}

func TestGetQuoteRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"quoteResponse":{"result":[{"regularMarketPrice":10}]}}`))
	}))
	defer srv.Close()

	q, err := testClient(srv).GetQuote(context.Background(), "SBIN")
	require.NoError(t, err)
	assert.Equal(t, "10", q.Price.String())
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetQuoteGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := testClient(srv).GetQuote(context.Background(), "SBIN")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all retries failed")
	assert.Equal(t, int32(maxAttempts), calls.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := testClient(srv).GetQuote(context.Background(), "SBIN")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClientHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient(WithBaseURL(srv.URL)).GetQuote(ctx, "SBIN")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

const chartBody = `{"chart":{"result":[{
	"timestamp":[1704167100,1704253500,1704339900],
	"indicators":{"quote":[{
		"close":[640.5,null,652.25],
		"volume":[1200,0,1500]
	}]}
}],"error":null}}`

func TestGetHistory(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v8/finance/chart/SBIN.NS", r.URL.Path)
		assert.Equal(t, "1704067200", r.URL.Query().Get("period1"))
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		w.Write([]byte(chartBody))
	}))
	defer srv.Close()

	bars, err := testClient(srv).GetHistory(context.Background(), "SBIN", since)
	require.NoError(t, err)
	require.Len(t, bars, 2, "sessions without a close are dropped")

	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), bars[0].Date)
	assert.Equal(t, "640.5", bars[0].Close.String())
	assert.Equal(t, int64(1200), bars[0].Volume)
	assert.Equal(t, time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC), bars[1].Date)
}

func TestGetDailyBar(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5d", r.URL.Query().Get("range"))
		w.Write([]byte(chartBody))
	}))
	defer srv.Close()

	bar, err := testClient(srv).GetDailyBar(context.Background(), "SBIN")
	require.NoError(t, err)
	assert.Equal(t, "652.25", bar.Close.String())
	assert.Equal(t, int64(1500), bar.Volume)
}

func TestGetDailyBarUnknownSymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`))
	}))
	defer srv.Close()

	_, err := testClient(srv).GetDailyBar(context.Background(), "GONE")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symbol may be delisted")
}

func TestSymbolSuffix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "500112.BO", r.URL.Query().Get("symbols"))
		w.Write([]byte(`{"quoteResponse":{"result":[{"regularMarketPrice":1}]}}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithSymbolSuffix(".BO"))
	_, err := c.GetQuote(context.Background(), "500112")
	require.NoError(t, err)
}

func TestTimeoutDoesNotModifySharedClient(t *testing.T) {
	shared := &http.Client{Timeout: 5 * time.Second}

	for name, opts := range map[string][]ClientOption{
		"timeout first": {WithTimeout(time.Second), WithHTTPClient(shared)},
		"timeout last":  {WithHTTPClient(shared), WithTimeout(time.Second)},
	} {
		t.Run(name, func(t *testing.T) {
			c := NewClient(opts...)
			assert.Equal(t, time.Second, c.httpClient.Timeout)
			assert.NotSame(t, shared, c.httpClient)
			assert.Equal(t, 5*time.Second, shared.Timeout)
		})
	}
}

func TestClientTimeoutDefaults(t *testing.T) {
	assert.Equal(t, DefaultTimeout, NewClient().httpClient.Timeout)
	assert.Equal(t, 2*time.Second, NewClient(WithTimeout(2*time.Second)).httpClient.Timeout)

	shared := &http.Client{Timeout: 5 * time.Second}
	assert.Same(t, shared, NewClient(WithHTTPClient(shared)).httpClient)
}
