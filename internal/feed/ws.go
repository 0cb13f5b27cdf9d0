package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"crypto_agents/internal/domain"
)

const (
	defaultWSURL = "wss://ws.kraken.com/v2"

	wsReconnectBase = time.Second
	wsReconnectMax  = 30 * time.Second
	wsReadTimeout   = 30 * time.Second

	// A quote older than this is treated as missing rather than served.
	wsStaleAfter = 15 * time.Second
)

// WSFeed streams ticker updates over the Kraken v2 websocket and
// serves the latest quote from an in-memory cache. Candle history is
// delegated to the REST client. The stream reconnects with exponential
// backoff and resubscribes after every reconnect.
type WSFeed struct {
	url     string
	symbols []string
	rest    *RESTClient

	mu    sync.RWMutex
	cache map[string]domain.PriceSnapshot

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWSFeed creates a streaming feed for symbols. url falls back to
// the public endpoint when empty; rest serves candle requests.
func NewWSFeed(url string, symbols []string, rest *RESTClient) *WSFeed {
	if url == "" {
		url = defaultWSURL
	}
	return &WSFeed{
		url:     url,
		symbols: symbols,
		rest:    rest,
		cache:   make(map[string]domain.PriceSnapshot),
	}
}

// Start launches the stream loop. It returns immediately; quotes
// become available once the subscription is live.
func (f *WSFeed) Start(ctx context.Context) error {
	ctx, f.cancel = context.WithCancel(ctx)

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.run(ctx)
	}()
	return nil
}

// Stop tears the stream down and waits for the loop to exit.
func (f *WSFeed) Stop() {
	if f.cancel != nil {
		f.cancel()
		f.wg.Wait()
	}
}

// Fetch serves the most recent streamed quote for symbol. A missing or
// stale quote is a retriable error so producers skip the cycle.
func (f *WSFeed) Fetch(_ context.Context, symbol string) (domain.PriceSnapshot, error) {
	f.mu.RLock()
	snap, ok := f.cache[symbol]
	f.mu.RUnlock()

	if !ok {
		return domain.PriceSnapshot{}, domain.NewNetworkError("fetch_ticker",
			fmt.Errorf("no quote yet for %s", symbol))
	}
	if time.Since(snap.At) > wsStaleAfter {
		return domain.PriceSnapshot{}, domain.NewNetworkError("fetch_ticker",
			fmt.Errorf("quote for %s is stale", symbol))
	}
	return snap, nil
}

// RecentCandles delegates to the REST client; the ticker stream does
// not carry OHLC history.
func (f *WSFeed) RecentCandles(ctx context.Context, symbol string, limit int) ([]domain.Candle, error) {
	return f.rest.RecentCandles(ctx, symbol, limit)
}

// run owns the connect/read/reconnect cycle.
func (f *WSFeed) run(ctx context.Context) {
	backoff := wsReconnectBase

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := f.connect(ctx)
		if err != nil {
			slog.Warn("websocket connect failed",
				slog.String("url", f.url),
				slog.Any("error", err),
				slog.Duration("retry_in", backoff),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, wsReconnectMax)
			continue
		}

		backoff = wsReconnectBase
		slog.Info("websocket connected", slog.String("url", f.url))

		f.readLoop(ctx, conn)
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		slog.Warn("websocket disconnected, reconnecting")
	}
}

func (f *WSFeed) connect(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.url, nil)
	if err != nil {
		return nil, err
	}

	sub := map[string]any{
		"method": "subscribe",
		"params": map[string]any{
			"channel": "ticker",
			"symbol":  f.symbols,
		},
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (f *WSFeed) readLoop(ctx context.Context, conn *websocket.Conn) {
	// Unblock ReadMessage when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(wsReadTimeout)); err != nil {
			return
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("websocket read failed", slog.Any("error", err))
			}
			return
		}
		f.handleMessage(raw)
	}
}

// tickerMessage is the v2 ticker channel payload.
type tickerMessage struct {
	Channel string `json:"channel"`
	Data    []struct {
		Symbol string          `json:"symbol"`
		Bid    decimal.Decimal `json:"bid"`
		BidQty decimal.Decimal `json:"bid_qty"`
		Ask    decimal.Decimal `json:"ask"`
		AskQty decimal.Decimal `json:"ask_qty"`
		Last   decimal.Decimal `json:"last"`
	} `json:"data"`
}

func (f *WSFeed) handleMessage(raw []byte) {
	var msg tickerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		slog.Debug("skipping unparseable websocket message", slog.Any("error", err))
		return
	}
	if msg.Channel != "ticker" {
		return // heartbeats, subscription acks
	}

	now := time.Now()
	f.mu.Lock()
	for _, d := range msg.Data {
		f.cache[d.Symbol] = domain.PriceSnapshot{
			Symbol: d.Symbol,
			Bid:    domain.PriceLevel{Price: d.Bid, Qty: d.BidQty},
			Ask:    domain.PriceLevel{Price: d.Ask, Qty: d.AskQty},
			Last:   d.Last,
			At:     now,
		}
	}
	f.mu.Unlock()
}
