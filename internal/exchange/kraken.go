package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"crypto_agents/internal/domain"
)

const (
	krakenDefaultBaseURL = "https://api.kraken.com"
	krakenAddOrderPath   = "/0/private/AddOrder"
	krakenQueryPath      = "/0/private/QueryOrders"
)

// Kraken is the live exchange backend. Idempotency rides on Kraken's
// cl_ord_id: resubmitting a client order id the exchange already knows
// is rejected as a duplicate, which we resolve by querying the
// existing order instead of erroring.
type Kraken struct {
	baseURL string
	key     string
	secret  []byte
	client  *http.Client

	mu        sync.Mutex
	lastNonce int64
	// cl_ord_id -> txid, so status queries work before the store has
	// persisted the exchange id.
	txids map[string]string
}

// NewKraken creates a live client. baseURL is overridable for tests;
// empty means the public endpoint.
func NewKraken(baseURL, apiKey, apiSecret string) (*Kraken, error) {
	if baseURL == "" {
		baseURL = krakenDefaultBaseURL
	}
	secret, err := base64.StdEncoding.DecodeString(apiSecret)
	if err != nil {
		return nil, &domain.ConfigError{Field: "exchange.api_secret", Err: err}
	}
	return &Kraken{
		baseURL: baseURL,
		key:     apiKey,
		secret:  secret,
		client:  &http.Client{Timeout: 15 * time.Second},
		txids:   make(map[string]string),
	}, nil
}

// SubmitOrder places a market order keyed by clientOrderID. A duplicate
// rejection means an earlier attempt already reached the exchange, so
// it is treated as success and resolved through a status query.
func (k *Kraken) SubmitOrder(ctx context.Context, clientOrderID, symbol, side string, qty decimal.Decimal) (domain.SubmitResult, error) {
	form := url.Values{}
	form.Set("pair", krakenPair(symbol))
	form.Set("type", strings.ToLower(side))
	form.Set("ordertype", "market")
	form.Set("volume", qty.String())
	form.Set("cl_ord_id", clientOrderID)

	var result struct {
		TxID []string `json:"txid"`
	}
	err := k.call(ctx, krakenAddOrderPath, form, &result)
	if err != nil {
		if isKrakenDuplicate(err) {
			if _, qerr := k.GetOrderStatus(ctx, clientOrderID, ""); qerr != nil {
				return domain.SubmitResult{}, qerr
			}
			return domain.SubmitResult{ExchangeOrderID: k.txidFor(clientOrderID)}, nil
		}
		return domain.SubmitResult{}, err
	}
	if len(result.TxID) == 0 {
		return domain.SubmitResult{}, domain.NewFatalNetworkError("submit_order", errors.New("no txid in response"))
	}

	k.mu.Lock()
	k.txids[clientOrderID] = result.TxID[0]
	k.mu.Unlock()

	return domain.SubmitResult{ExchangeOrderID: result.TxID[0]}, nil
}

// GetOrderStatus queries the authoritative order state, by txid when
// known and by cl_ord_id otherwise.
func (k *Kraken) GetOrderStatus(ctx context.Context, clientOrderID, exchangeOrderID string) (domain.OrderStatusReport, error) {
	form := url.Values{}
	if exchangeOrderID == "" {
		exchangeOrderID = k.txidFor(clientOrderID)
	}
	if exchangeOrderID != "" {
		form.Set("txid", exchangeOrderID)
	} else {
		form.Set("cl_ord_id", clientOrderID)
	}

	var result map[string]krakenOrder
	if err := k.call(ctx, krakenQueryPath, form, &result); err != nil {
		if isKrakenUnknownOrder(err) {
			return domain.OrderStatusReport{}, domain.ErrOrderNotFound
		}
		return domain.OrderStatusReport{}, err
	}
	if len(result) == 0 {
		return domain.OrderStatusReport{}, domain.ErrOrderNotFound
	}

	for txid, order := range result {
		k.mu.Lock()
		k.txids[clientOrderID] = txid
		k.mu.Unlock()
		return order.toReport()
	}
	return domain.OrderStatusReport{}, domain.ErrOrderNotFound
}

type krakenOrder struct {
	Status  string `json:"status"`
	Vol     string `json:"vol"`
	VolExec string `json:"vol_exec"`
	Price   string `json:"price"`
}

func (o krakenOrder) toReport() (domain.OrderStatusReport, error) {
	filled, err := decimal.NewFromString(o.VolExec)
	if err != nil {
		return domain.OrderStatusReport{}, fmt.Errorf("bad vol_exec %q: %w", o.VolExec, err)
	}
	price := decimal.Zero
	if o.Price != "" {
		price, err = decimal.NewFromString(o.Price)
		if err != nil {
			return domain.OrderStatusReport{}, fmt.Errorf("bad price %q: %w", o.Price, err)
		}
	}

	var status string
	switch o.Status {
	case "closed":
		status = domain.OrderStatusFilled
	case "canceled", "expired":
		status = domain.OrderStatusCancelled
	case "pending", "open":
		if filled.Sign() > 0 {
			status = domain.OrderStatusPartiallyFilled
		} else {
			status = domain.OrderStatusSubmitted
		}
	default:
		return domain.OrderStatusReport{}, fmt.Errorf("unknown kraken status %q", o.Status)
	}

	return domain.OrderStatusReport{
		Status:       status,
		FilledQty:    filled,
		AvgFillPrice: price,
	}, nil
}

func (k *Kraken) txidFor(clientOrderID string) string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.txids[clientOrderID]
}

// call signs and executes one private API request. Transport failures
// and server-side availability errors come back retriable; everything
// the exchange explicitly rejected does not.
func (k *Kraken) call(ctx context.Context, path string, form url.Values, out any) error {
	form.Set("nonce", strconv.FormatInt(k.nextNonce(), 10))
	body := form.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.baseURL+path, strings.NewReader(body))
	if err != nil {
		return domain.NewFatalNetworkError("kraken_request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("API-Key", k.key)
	req.Header.Set("API-Sign", k.sign(path, form.Get("nonce"), body))

	resp, err := k.client.Do(req)
	if err != nil {
		return domain.NewNetworkError("kraken_request", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewNetworkError("kraken_read", err)
	}
	if resp.StatusCode >= 500 {
		return domain.NewNetworkError("kraken_request",
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}
	if resp.StatusCode != http.StatusOK {
		return domain.NewFatalNetworkError("kraken_request",
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	var envelope struct {
		Error  []string        `json:"error"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return domain.NewNetworkError("kraken_decode", err)
	}
	if len(envelope.Error) > 0 {
		return krakenAPIError(envelope.Error)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return domain.NewNetworkError("kraken_decode", err)
		}
	}
	return nil
}

// sign computes API-Sign: HMAC-SHA512 over path + SHA256(nonce + body),
// keyed with the base64-decoded secret.
func (k *Kraken) sign(path, nonce, body string) string {
	digest := sha256.Sum256([]byte(nonce + body))
	mac := hmac.New(sha512.New, k.secret)
	mac.Write([]byte(path))
	mac.Write(digest[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// nextNonce returns a strictly increasing nonce, as Kraken requires.
func (k *Kraken) nextNonce() int64 {
	k.mu.Lock()
	defer k.mu.Unlock()

	nonce := time.Now().UnixMilli()
	if nonce <= k.lastNonce {
		nonce = k.lastNonce + 1
	}
	k.lastNonce = nonce
	return nonce
}

// krakenError carries the API error strings so callers can classify
// duplicates and unknown orders.
type krakenError struct {
	codes []string
}

func (e *krakenError) Error() string {
	return "kraken: " + strings.Join(e.codes, "; ")
}

func (e *krakenError) IsRetriable() bool {
	for _, c := range e.codes {
		if strings.HasPrefix(c, "EService:") || strings.HasPrefix(c, "EGeneral:Temporary") {
			return true
		}
	}
	return false
}

func krakenAPIError(codes []string) error {
	return &krakenError{codes: codes}
}

func isKrakenDuplicate(err error) bool {
	var ke *krakenError
	if !errors.As(err, &ke) {
		return false
	}
	for _, c := range ke.codes {
		if strings.Contains(c, "Duplicate") {
			return true
		}
	}
	return false
}

func isKrakenUnknownOrder(err error) bool {
	var ke *krakenError
	if !errors.As(err, &ke) {
		return false
	}
	for _, c := range ke.codes {
		if strings.Contains(c, "Unknown order") {
			return true
		}
	}
	return false
}

// krakenPair maps "BTC/CAD" style symbols to Kraken pair codes.
func krakenPair(symbol string) string {
	pair := strings.ReplaceAll(symbol, "/", "")
	pair = strings.ReplaceAll(pair, "BTC", "XBT")
	return pair
}
