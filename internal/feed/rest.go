// Package feed provides market data sources: a polling REST client and
// a streaming websocket feed, both serving the same capability.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"crypto_agents/internal/domain"
)

const (
	defaultRestBaseURL = "https://api.kraken.com"
	tickerPath         = "/0/public/Ticker"
	ohlcPath           = "/0/public/OHLC"

	maxFetchAttempts = 3
	retryBaseDelay   = 500 * time.Millisecond
)

// RESTClient fetches quotes and candles from the Kraken public API.
// Transient failures are retried with backoff before being reported
// as retriable errors.
type RESTClient struct {
	baseURL string
	client  *http.Client
}

// NewRESTClient creates a client against baseURL (the public endpoint
// when empty).
func NewRESTClient(baseURL string) *RESTClient {
	if baseURL == "" {
		baseURL = defaultRestBaseURL
	}
	return &RESTClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Fetch returns the current top of book for symbol.
func (c *RESTClient) Fetch(ctx context.Context, symbol string) (domain.PriceSnapshot, error) {
	params := url.Values{"pair": {restPair(symbol)}}

	var result map[string]krakenTicker
	if err := c.get(ctx, tickerPath, params, &result); err != nil {
		return domain.PriceSnapshot{}, err
	}

	for _, ticker := range result {
		return ticker.toSnapshot(symbol)
	}
	return domain.PriceSnapshot{}, domain.ErrInvalidSymbol
}

// RecentCandles returns up to limit one-minute OHLCV bars, oldest
// first.
func (c *RESTClient) RecentCandles(ctx context.Context, symbol string, limit int) ([]domain.Candle, error) {
	params := url.Values{
		"pair":     {restPair(symbol)},
		"interval": {"1"},
	}

	var result map[string]json.RawMessage
	if err := c.get(ctx, ohlcPath, params, &result); err != nil {
		return nil, err
	}

	for key, raw := range result {
		if key == "last" {
			continue
		}
		candles, err := parseCandles(raw)
		if err != nil {
			return nil, domain.NewNetworkError("fetch_candles", err)
		}
		if limit > 0 && len(candles) > limit {
			candles = candles[len(candles)-limit:]
		}
		return candles, nil
	}
	return nil, domain.ErrInvalidSymbol
}

// get performs one public API request with retries on transient
// failures.
func (c *RESTClient) get(ctx context.Context, path string, params url.Values, out any) error {
	var lastErr error
	for attempt := 1; attempt <= maxFetchAttempts; attempt++ {
		if attempt > 1 {
			delay := retryBaseDelay * time.Duration(1<<(attempt-2))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			slog.Debug("retrying market data request",
				slog.String("path", path),
				slog.Int("attempt", attempt),
			)
		}

		lastErr = c.getOnce(ctx, path, params, out)
		if lastErr == nil {
			return nil
		}
		if !domain.IsRetriable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (c *RESTClient) getOnce(ctx context.Context, path string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return domain.NewFatalNetworkError("fetch_ticker", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.NewNetworkError("fetch_ticker", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewNetworkError("fetch_ticker", err)
	}
	if resp.StatusCode >= 500 {
		return domain.NewNetworkError("fetch_ticker", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return domain.NewFatalNetworkError("fetch_ticker", fmt.Errorf("status %d", resp.StatusCode))
	}

	var envelope struct {
		Error  []string        `json:"error"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return domain.NewNetworkError("fetch_ticker", err)
	}
	if len(envelope.Error) > 0 {
		return domain.NewFatalNetworkError("fetch_ticker",
			fmt.Errorf("%s", strings.Join(envelope.Error, "; ")))
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return domain.NewNetworkError("fetch_ticker", err)
	}
	return nil
}

// krakenTicker is the public Ticker payload: a/b are [price, whole lot
// volume, lot volume], c is [last price, lot volume].
type krakenTicker struct {
	Ask  []string `json:"a"`
	Bid  []string `json:"b"`
	Last []string `json:"c"`
}

func (t krakenTicker) toSnapshot(symbol string) (domain.PriceSnapshot, error) {
	if len(t.Ask) < 3 || len(t.Bid) < 3 || len(t.Last) < 1 {
		return domain.PriceSnapshot{}, domain.NewNetworkError("fetch_ticker",
			fmt.Errorf("short ticker payload for %s", symbol))
	}

	askPrice, err := decimal.NewFromString(t.Ask[0])
	if err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("bad ask %q: %w", t.Ask[0], err)
	}
	askQty, err := decimal.NewFromString(t.Ask[2])
	if err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("bad ask qty %q: %w", t.Ask[2], err)
	}
	bidPrice, err := decimal.NewFromString(t.Bid[0])
	if err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("bad bid %q: %w", t.Bid[0], err)
	}
	bidQty, err := decimal.NewFromString(t.Bid[2])
	if err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("bad bid qty %q: %w", t.Bid[2], err)
	}
	last, err := decimal.NewFromString(t.Last[0])
	if err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("bad last %q: %w", t.Last[0], err)
	}

	return domain.PriceSnapshot{
		Symbol: symbol,
		Bid:    domain.PriceLevel{Price: bidPrice, Qty: bidQty},
		Ask:    domain.PriceLevel{Price: askPrice, Qty: askQty},
		Last:   last,
		At:     time.Now(),
	}, nil
}

// parseCandles decodes OHLC rows of the form
// [time, open, high, low, close, vwap, volume, count]. The timestamp
// is a number while prices and volume come back as strings.
func parseCandles(raw json.RawMessage) ([]domain.Candle, error) {
	var rows [][]any
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}

	candles := make([]domain.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			return nil, fmt.Errorf("short OHLC row: %v", row)
		}

		unix, err := decimal.NewFromString(fmt.Sprintf("%v", row[0]))
		if err != nil {
			return nil, fmt.Errorf("bad candle time %v: %w", row[0], err)
		}

		// open, high, low, close, volume
		fields := []any{row[1], row[2], row[3], row[4], row[6]}
		vals := make([]decimal.Decimal, len(fields))
		for i, f := range fields {
			v, err := decimal.NewFromString(fmt.Sprintf("%v", f))
			if err != nil {
				return nil, fmt.Errorf("bad candle field %v: %w", f, err)
			}
			vals[i] = v
		}

		candles = append(candles, domain.Candle{
			At:     time.Unix(unix.IntPart(), 0),
			Open:   vals[0],
			High:   vals[1],
			Low:    vals[2],
			Close:  vals[3],
			Volume: vals[4],
		})
	}
	return candles, nil
}

// restPair maps "BTC/CAD" style symbols to Kraken REST pair codes.
func restPair(symbol string) string {
	pair := strings.ReplaceAll(symbol, "/", "")
	return strings.ReplaceAll(pair, "BTC", "XBT")
}
