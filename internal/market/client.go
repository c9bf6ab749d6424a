// Package market fetches quotes and price history from a Yahoo Finance
// compatible HTTP API and stores them against companies.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL      = "https://query1.finance.yahoo.com"
	DefaultSymbolSuffix = ".NS"
	DefaultTimeout      = 30 * time.Second
	DefaultRateLimit    = 2 // requests per second
	maxAttempts         = 3
)

// ErrEmptyQuote is returned when the source has no price for a ticker.
var ErrEmptyQuote = errors.New("empty quote")

// Quote is the live market data of one ticker. Nil fields were not reported.
type Quote struct {
	Price         decimal.Decimal
	MarketCap     *decimal.Decimal
	PE            *decimal.Decimal
	PB            *decimal.Decimal
	DividendYield *decimal.Decimal
	High52W       *decimal.Decimal
	Low52W        *decimal.Decimal
}

// Bar is one daily close.
type Bar struct {
	Date   time.Time
	Close  decimal.Decimal
	Volume int64
}

// Source is the market data collaborator.
type Source interface {
	GetQuote(ctx context.Context, ticker string) (*Quote, error)
	// GetDailyBar returns the most recent daily bar.
	GetDailyBar(ctx context.Context, ticker string) (*Bar, error)
	// GetHistory returns daily bars from since to now, oldest first.
	GetHistory(ctx context.Context, ticker string, since time.Time) ([]Bar, error)
}

// Client is a rate-limited Source over HTTP.
type Client struct {
	baseURL    string
	suffix     string
	httpClient *http.Client
	timeout    time.Duration
	limiter    *rate.Limiter
	backoff    time.Duration
	logger     zerolog.Logger
}

var _ Source = (*Client)(nil)

type ClientOption func(*Client)

func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) { c.baseURL = baseURL }
}

// WithSymbolSuffix sets the exchange suffix appended to tickers, e.g. ".NS".
func WithSymbolSuffix(suffix string) ClientOption {
	return func(c *Client) { c.suffix = suffix }
}

// WithHTTPClient sets the underlying client. It is never modified; combined
// with WithTimeout the client is copied first.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = httpClient }
}

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithBackoff sets the base delay between retries. It doubles per attempt.
func WithBackoff(d time.Duration) ClientOption {
	return func(c *Client) { c.backoff = d }
}

func WithLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		suffix:  DefaultSymbolSuffix,
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		backoff: time.Second,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	switch {
	case c.httpClient == nil:
		timeout := c.timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		c.httpClient = &http.Client{Timeout: timeout}
	case c.timeout > 0:
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	return c
}

func (c *Client) symbol(ticker string) string {
	return ticker + c.suffix
}

type quoteResponse struct {
	QuoteResponse struct {
		Result []struct {
			Symbol                      string   `json:"symbol"`
			RegularMarketPrice          *float64 `json:"regularMarketPrice"`
			MarketCap                   *float64 `json:"marketCap"`
			TrailingPE                  *float64 `json:"trailingPE"`
			PriceToBook                 *float64 `json:"priceToBook"`
			TrailingAnnualDividendYield *float64 `json:"trailingAnnualDividendYield"`
			FiftyTwoWeekHigh            *float64 `json:"fiftyTwoWeekHigh"`
			FiftyTwoWeekLow             *float64 `json:"fiftyTwoWeekLow"`
		} `json:"result"`
		Error *apiError `json:"error"`
	} `json:"quoteResponse"`
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *apiError `json:"error"`
	} `json:"chart"`
}

type apiError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (e *apiError) Error() string {
	return e.Code + ": " + e.Description
}

func (c *Client) GetQuote(ctx context.Context, ticker string) (*Quote, error) {
	params := url.Values{}
	params.Set("symbols", c.symbol(ticker))

	var resp quoteResponse
	if err := c.get(ctx, "/v7/finance/quote", params, &resp); err != nil {
		return nil, fmt.Errorf("fetching quote for %s: %w", ticker, err)
	}
	if resp.QuoteResponse.Error != nil {
		return nil, fmt.Errorf("fetching quote for %s: %w", ticker, resp.QuoteResponse.Error)
	}
	if len(resp.QuoteResponse.Result) == 0 || resp.QuoteResponse.Result[0].RegularMarketPrice == nil {
		return nil, fmt.Errorf("%w for %s", ErrEmptyQuote, ticker)
	}

	r := resp.QuoteResponse.Result[0]
	return &Quote{
		Price:         decimal.NewFromFloat(*r.RegularMarketPrice),
		MarketCap:     decimalPtr(r.MarketCap),
		PE:            decimalPtr(r.TrailingPE),
		PB:            decimalPtr(r.PriceToBook),
		DividendYield: decimalPtr(r.TrailingAnnualDividendYield),
		High52W:       decimalPtr(r.FiftyTwoWeekHigh),
		Low52W:        decimalPtr(r.FiftyTwoWeekLow),
	}, nil
}

func (c *Client) GetDailyBar(ctx context.Context, ticker string) (*Bar, error) {
	params := url.Values{}
	params.Set("range", "5d")
	params.Set("interval", "1d")

	bars, err := c.chart(ctx, ticker, params)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w for %s: no daily bar", ErrEmptyQuote, ticker)
	}
	return &bars[len(bars)-1], nil
}

func (c *Client) GetHistory(ctx context.Context, ticker string, since time.Time) ([]Bar, error) {
	params := url.Values{}
	params.Set("period1", strconv.FormatInt(since.Unix(), 10))
	params.Set("period2", strconv.FormatInt(time.Now().Unix(), 10))
	params.Set("interval", "1d")
	return c.chart(ctx, ticker, params)
}

func (c *Client) chart(ctx context.Context, ticker string, params url.Values) ([]Bar, error) {
	var resp chartResponse
	if err := c.get(ctx, "/v8/finance/chart/"+url.PathEscape(c.symbol(ticker)), params, &resp); err != nil {
		return nil, fmt.Errorf("fetching chart for %s: %w", ticker, err)
	}
	if resp.Chart.Error != nil {
		return nil, fmt.Errorf("fetching chart for %s: %w", ticker, resp.Chart.Error)
	}
	if len(resp.Chart.Result) == 0 {
		return nil, nil
	}

	result := resp.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, nil
	}
	q := result.Indicators.Quote[0]

	bars := make([]Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		// days without a close are holidays or halted sessions
		if i >= len(q.Close) || q.Close[i] == nil {
			continue
		}
		bar := Bar{
			Date:  time.Unix(ts, 0).UTC().Truncate(24 * time.Hour),
			Close: decimal.NewFromFloat(*q.Close[i]),
		}
		if i < len(q.Volume) && q.Volume[i] != nil {
			bar.Volume = *q.Volume[i]
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// get performs a rate-limited GET with retries and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.backoff * time.Duration(1<<(attempt-1))
			c.logger.Debug().Int("attempt", attempt).Dur("backoff", backoff).Str("path", path).Msg("retrying market request")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("waiting for rate limiter: %w", err)
		}

		var retry bool
		retry, lastErr = c.do(ctx, u, out)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !retry {
			return lastErr
		}
		c.logger.Warn().Err(lastErr).Int("attempt", attempt+1).Str("path", path).Msg("market request failed")
	}
	return fmt.Errorf("all retries failed: %w", lastErr)
}

// do runs one request. retry reports whether the failure is transient.
func (c *Client) do(ctx context.Context, u string, out any) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return true, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return true, fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return true, fmt.Errorf("rate limited (429)")
	case resp.StatusCode >= http.StatusInternalServerError:
		return true, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	case resp.StatusCode == http.StatusNotFound:
		// the chart endpoint reports unknown symbols as 404 with an error body
		if err := json.Unmarshal(body, out); err == nil {
			return false, nil
		}
		return false, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("parsing response: %w", err)
	}
	return false, nil
}

func decimalPtr(f *float64) *decimal.Decimal {
	if f == nil {
		return nil
	}
	d := decimal.NewFromFloat(*f)
	return &d
}
