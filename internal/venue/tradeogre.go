// tradeogre.go implements the TradeOgre adapter.
//
// TradeOgre is a minimal spot exchange: limit orders only, HTTP Basic auth,
// market ids in BASE-QUOTE form, and most numeric fields serialized as
// strings. The API reports failures as 200 responses with success=false and
// an error field, so every call checks the success flag.
package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"cryptobot/internal/config"
	"cryptobot/pkg/types"
)

const tradeOgreBaseURL = "https://tradeogre.com/api/v1"

// TradeOgre is a REST adapter for tradeogre.com.
type TradeOgre struct {
	http   *resty.Client
	pace   *TokenBucket
	logger *slog.Logger

	mu      sync.RWMutex
	markets map[string]types.MarketInfo // keyed by external symbol
}

func init() {
	RegisterBuilder("tradeogre", func(cfg config.VenueConfig, logger *slog.Logger) (Adapter, error) {
		return NewTradeOgre(cfg, logger), nil
	})
}

// NewTradeOgre builds the adapter. Credentials may be empty for public-only
// (read_only market data) use.
func NewTradeOgre(cfg config.VenueConfig, logger *slog.Logger) *TradeOgre {
	baseURL := tradeOgreBaseURL
	if u, ok := cfg.Extra["base_url"].(string); ok && u != "" {
		baseURL = u
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetBasicAuth(cfg.APIKey, cfg.APISecret)
	}

	return &TradeOgre{
		http:    client,
		pace:    newTradeOgrePacer(),
		logger:  logger.With("component", "tradeogre"),
		markets: map[string]types.MarketInfo{},
	}
}

// toMarketID converts "BTC/USDT" to TradeOgre's "BTC-USDT".
func toMarketID(symbol string) string {
	base, quote, ok := types.SplitSymbol(symbol)
	if !ok {
		return symbol
	}
	return base + "-" + quote
}

// fromMarketID converts "BTC-USDT" back to external "BTC/USDT" form.
func fromMarketID(id string) string {
	parts := strings.SplitN(id, "-", 2)
	if len(parts) != 2 {
		return id
	}
	return parts[0] + "/" + parts[1]
}

// safeFloat reads m[key] as a float, tolerating string, number, and missing
// or malformed values. Venue payloads mix all three freely.
func safeFloat(m map[string]any, key string, def float64) float64 {
	v, ok := m[key]
	if !ok || v == nil {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return def
		}
		return f
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		if err != nil {
			return def
		}
		return d.InexactFloat64()
	default:
		return def
	}
}

// safeFloatPtr is safeFloat's nullable variant for ticker fields.
func safeFloatPtr(m map[string]any, key string) *float64 {
	if _, ok := m[key]; !ok {
		return nil
	}
	v := safeFloat(m, key, -1)
	if v < 0 {
		return nil
	}
	return types.Float(v)
}

// wireAmount formats a float for the wire at TradeOgre's 8-decimal precision.
func wireAmount(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(8)
}

// get issues a paced GET and decodes the generic JSON payload.
func (t *TradeOgre) get(ctx context.Context, path string, out any) error {
	if err := t.pace.Wait(ctx); err != nil {
		return err
	}
	resp, err := t.http.R().SetContext(ctx).SetResult(out).Get(path)
	if err != nil {
		return fmt.Errorf("tradeogre GET %s: %w", path, err)
	}
	if resp.IsError() {
		return &ExchangeError{Venue: "tradeogre", Message: fmt.Sprintf("GET %s: HTTP %d", path, resp.StatusCode())}
	}
	return nil
}

// post issues a paced form POST and decodes the generic JSON payload.
func (t *TradeOgre) post(ctx context.Context, path string, form map[string]string, out any) error {
	if err := t.pace.Wait(ctx); err != nil {
		return err
	}
	resp, err := t.http.R().SetContext(ctx).SetFormData(form).SetResult(out).Post(path)
	if err != nil {
		return fmt.Errorf("tradeogre POST %s: %w", path, err)
	}
	if resp.IsError() {
		return &ExchangeError{Venue: "tradeogre", Message: fmt.Sprintf("POST %s: HTTP %d", path, resp.StatusCode())}
	}
	return nil
}

// checkSuccess maps TradeOgre's success=false envelope to an ExchangeError.
func checkSuccess(m map[string]any) error {
	if v, ok := m["success"]; ok {
		failed := false
		switch s := v.(type) {
		case bool:
			failed = !s
		case string:
			failed = s == "false"
		}
		if failed {
			msg := "request failed"
			if e, ok := m["error"].(string); ok && e != "" {
				msg = e
			}
			return &ExchangeError{Venue: "tradeogre", Message: msg}
		}
	}
	return nil
}

// LoadMarkets fetches the market list and caches it by external symbol.
func (t *TradeOgre) LoadMarkets(ctx context.Context) error {
	markets, err := t.FetchMarkets(ctx)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.markets = make(map[string]types.MarketInfo, len(markets))
	for _, m := range markets {
		t.markets[m.Symbol] = m
	}
	t.mu.Unlock()
	t.logger.Debug("loaded markets", "count", len(markets))
	return nil
}

// FetchMarkets lists all tradeable pairs. TradeOgre returns an array of
// single-key objects, each keyed by the market id.
func (t *TradeOgre) FetchMarkets(ctx context.Context) ([]types.MarketInfo, error) {
	var raw []map[string]json.RawMessage
	if err := t.get(ctx, "/markets", &raw); err != nil {
		return nil, err
	}

	var markets []types.MarketInfo
	for _, entry := range raw {
		for id := range entry {
			symbol := fromMarketID(id)
			base, quote, ok := types.SplitSymbol(symbol)
			if !ok {
				continue
			}
			markets = append(markets, types.MarketInfo{
				ID:     id,
				Symbol: symbol,
				Base:   base,
				Quote:  quote,
				Active: true,
			})
		}
	}
	return markets, nil
}

// FetchTicker returns the 24h ticker for one symbol.
func (t *TradeOgre) FetchTicker(ctx context.Context, symbol string) (*types.Ticker, error) {
	var raw map[string]any
	if err := t.get(ctx, "/ticker/"+toMarketID(symbol), &raw); err != nil {
		return nil, err
	}
	if err := checkSuccess(raw); err != nil {
		return nil, err
	}

	return &types.Ticker{
		Symbol:     symbol,
		Bid:        safeFloatPtr(raw, "bid"),
		Ask:        safeFloatPtr(raw, "ask"),
		Last:       safeFloatPtr(raw, "price"),
		High:       safeFloatPtr(raw, "high"),
		Low:        safeFloatPtr(raw, "low"),
		BaseVolume: safeFloatPtr(raw, "volume"),
		Timestamp:  time.Now().UTC(),
	}, nil
}

// OrderBook is a price-sorted snapshot of resting orders. TradeOgre exposes
// it on a dedicated endpoint; the dashboard uses it for depth display.
type OrderBook struct {
	Symbol string       `json:"symbol"`
	Bids   [][2]float64 `json:"bids"` // price, amount; best first
	Asks   [][2]float64 `json:"asks"`
}

// FetchOrderBook returns the current book for a symbol.
func (t *TradeOgre) FetchOrderBook(ctx context.Context, symbol string) (*OrderBook, error) {
	var raw struct {
		Success bool              `json:"success"`
		Error   string            `json:"error"`
		Buy     map[string]string `json:"buy"`
		Sell    map[string]string `json:"sell"`
	}
	if err := t.get(ctx, "/orders/"+toMarketID(symbol), &raw); err != nil {
		return nil, err
	}
	if !raw.Success && raw.Error != "" {
		return nil, &ExchangeError{Venue: "tradeogre", Message: raw.Error}
	}

	book := &OrderBook{Symbol: symbol}
	for price, amount := range raw.Buy {
		p, err1 := decimal.NewFromString(price)
		a, err2 := decimal.NewFromString(amount)
		if err1 != nil || err2 != nil {
			continue
		}
		book.Bids = append(book.Bids, [2]float64{p.InexactFloat64(), a.InexactFloat64()})
	}
	for price, amount := range raw.Sell {
		p, err1 := decimal.NewFromString(price)
		a, err2 := decimal.NewFromString(amount)
		if err1 != nil || err2 != nil {
			continue
		}
		book.Asks = append(book.Asks, [2]float64{p.InexactFloat64(), a.InexactFloat64()})
	}
	// bids descending, asks ascending
	sort.Slice(book.Bids, func(i, j int) bool { return book.Bids[i][0] > book.Bids[j][0] })
	sort.Slice(book.Asks, func(i, j int) bool { return book.Asks[i][0] < book.Asks[j][0] })
	return book, nil
}

// FetchBalance returns holdings per currency.
func (t *TradeOgre) FetchBalance(ctx context.Context) (types.Balances, error) {
	var raw struct {
		Success  bool              `json:"success"`
		Error    string            `json:"error"`
		Balances map[string]string `json:"balances"`
	}
	if err := t.get(ctx, "/account/balances", &raw); err != nil {
		return nil, err
	}
	if !raw.Success {
		msg := raw.Error
		if msg == "" {
			msg = "balance request failed"
		}
		return nil, &ExchangeError{Venue: "tradeogre", Message: msg}
	}

	balances := make(types.Balances, len(raw.Balances))
	for currency, total := range raw.Balances {
		d, err := decimal.NewFromString(total)
		if err != nil {
			continue
		}
		v := d.InexactFloat64()
		// The balances endpoint reports totals only; held amounts are not
		// broken out, so free is reported as total.
		balances[currency] = types.Balance{Free: v, Total: v}
	}
	return balances, nil
}

// CreateOrder places a limit order. TradeOgre has no market orders.
func (t *TradeOgre) CreateOrder(ctx context.Context, symbol string, typ types.OrderType, side types.Side, amount, price float64) (*types.Order, error) {
	if typ != types.Limit {
		return nil, errNotSupported("tradeogre", "market orders")
	}
	t.mu.RLock()
	if _, known := t.markets[symbol]; !known && len(t.markets) > 0 {
		t.mu.RUnlock()
		return nil, &ExchangeError{Venue: "tradeogre", Message: "unknown market " + symbol}
	}
	t.mu.RUnlock()

	var raw map[string]any
	form := map[string]string{
		"market":   toMarketID(symbol),
		"quantity": wireAmount(amount),
		"price":    wireAmount(price),
	}
	if err := t.post(ctx, "/account/"+string(side), form, &raw); err != nil {
		return nil, err
	}
	if err := checkSuccess(raw); err != nil {
		return nil, err
	}

	id, _ := raw["uuid"].(string)
	return &types.Order{
		ID:        id,
		VenueID:   "tradeogre",
		Symbol:    symbol,
		Side:      side,
		Type:      types.Limit,
		Amount:    amount,
		Price:     price,
		Status:    types.StatusOpen,
		Remaining: amount,
		Timestamp: time.Now().UTC(),
	}, nil
}

// CancelOrder cancels an order by uuid.
func (t *TradeOgre) CancelOrder(ctx context.Context, orderID, symbol string) (*types.Order, error) {
	var raw map[string]any
	if err := t.post(ctx, "/account/cancel", map[string]string{"uuid": orderID}, &raw); err != nil {
		return nil, err
	}
	if err := checkSuccess(raw); err != nil {
		return nil, err
	}
	return &types.Order{
		ID:        orderID,
		VenueID:   "tradeogre",
		Symbol:    symbol,
		Status:    types.StatusCanceled,
		Timestamp: time.Now().UTC(),
	}, nil
}

// FetchOrder looks up one order. TradeOgre drops fully-filled orders from the
// open set, so an order that reports no remaining quantity is closed.
func (t *TradeOgre) FetchOrder(ctx context.Context, orderID, symbol string) (*types.Order, error) {
	var raw map[string]any
	if err := t.get(ctx, "/account/order/"+orderID, &raw); err != nil {
		return nil, err
	}
	if err := checkSuccess(raw); err != nil {
		return nil, err
	}
	return t.parseOrder(orderID, raw), nil
}

// FetchOpenOrders lists resting orders, optionally filtered by symbol.
func (t *TradeOgre) FetchOpenOrders(ctx context.Context, symbol string) ([]types.Order, error) {
	form := map[string]string{}
	if symbol != "" {
		form["market"] = toMarketID(symbol)
	}
	var raw []map[string]any
	if err := t.post(ctx, "/account/orders", form, &raw); err != nil {
		return nil, err
	}

	orders := make([]types.Order, 0, len(raw))
	for _, entry := range raw {
		id, _ := entry["uuid"].(string)
		if id == "" {
			continue
		}
		o := t.parseOrder(id, entry)
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		orders = append(orders, *o)
	}
	return orders, nil
}

// parseOrder normalizes TradeOgre's order payload. The endpoint reports the
// remaining quantity in "quantity" and the executed part in "fulfilled".
func (t *TradeOgre) parseOrder(id string, raw map[string]any) *types.Order {
	remaining := safeFloat(raw, "quantity", 0)
	filled := safeFloat(raw, "fulfilled", 0)
	price := safeFloat(raw, "price", 0)

	symbol := ""
	if market, ok := raw["market"].(string); ok {
		symbol = fromMarketID(market)
	}
	side := types.Side("")
	if s, ok := raw["type"].(string); ok {
		side = types.Side(s)
	}

	status := types.StatusOpen
	if remaining <= 0 && filled > 0 {
		status = types.StatusClosed
	}

	o := &types.Order{
		ID:        id,
		VenueID:   "tradeogre",
		Symbol:    symbol,
		Side:      side,
		Type:      types.Limit,
		Amount:    remaining + filled,
		Price:     price,
		Status:    status,
		Filled:    filled,
		Remaining: remaining,
		Timestamp: time.Unix(int64(safeFloat(raw, "date", 0)), 0).UTC(),
	}
	if filled > 0 && price > 0 {
		o.Cost = types.Float(filled * price)
	}
	return o
}

// FetchClosedOrders is not offered by the TradeOgre API.
func (t *TradeOgre) FetchClosedOrders(ctx context.Context, symbol string) ([]types.Order, error) {
	return nil, errNotSupported("tradeogre", "fetching closed orders")
}

// FetchMyTrades is not offered by the TradeOgre API.
func (t *TradeOgre) FetchMyTrades(ctx context.Context, symbol string) ([]types.Trade, error) {
	return nil, errNotSupported("tradeogre", "fetching trade history")
}

// Withdraw is not offered by the TradeOgre API.
func (t *TradeOgre) Withdraw(ctx context.Context, currency string, amount float64, address, tag string) (*types.Withdrawal, error) {
	return nil, errNotSupported("tradeogre", "withdrawals")
}
