// kraken.go implements the Kraken spot adapter.
//
// Kraken wraps every response in {"error": [...], "result": {...}} and signs
// private calls with HMAC-SHA512 over the URI path and a nonce-prefixed form
// body. Asset and pair names use Kraken's legacy X/Z prefixes (XXBT, ZUSD);
// the adapter normalizes them to external form using the AssetPairs wsname
// field, with XBT mapped to BTC.
package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"cryptobot/internal/config"
	"cryptobot/pkg/types"
)

const krakenBaseURL = "https://api.kraken.com"

// Kraken is a REST adapter for api.kraken.com.
type Kraken struct {
	http      *resty.Client
	pace      *TokenBucket
	logger    *slog.Logger
	apiKey    string
	apiSecret string

	mu      sync.RWMutex
	pairs   map[string]string // external symbol -> kraken pair id
	symbols map[string]string // kraken pair id / altname -> external symbol
	nonce   int64
}

func init() {
	RegisterBuilder("kraken", func(cfg config.VenueConfig, logger *slog.Logger) (Adapter, error) {
		return NewKraken(cfg, logger), nil
	})
}

// NewKraken builds the adapter.
func NewKraken(cfg config.VenueConfig, logger *slog.Logger) *Kraken {
	baseURL := krakenBaseURL
	if u, ok := cfg.Extra["base_url"].(string); ok && u != "" {
		baseURL = u
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(10 * time.Second).
		SetHeader("Accept", "application/json")

	return &Kraken{
		http:      client,
		pace:      newKrakenPacer(),
		logger:    logger.With("component", "kraken"),
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		pairs:     map[string]string{},
		symbols:   map[string]string{},
	}
}

// krakenEnvelope is the uniform response wrapper.
type krakenEnvelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

func (k *Kraken) public(ctx context.Context, method string, query map[string]string, out any) error {
	if err := k.pace.Wait(ctx); err != nil {
		return err
	}
	var env krakenEnvelope
	resp, err := k.http.R().SetContext(ctx).SetQueryParams(query).SetResult(&env).Get("/0/public/" + method)
	if err != nil {
		return fmt.Errorf("kraken %s: %w", method, err)
	}
	return k.unwrap(method, resp.StatusCode(), &env, out)
}

func (k *Kraken) private(ctx context.Context, method string, form map[string]string, out any) error {
	if k.apiKey == "" || k.apiSecret == "" {
		return &ExchangeError{Venue: "kraken", Message: "missing API credentials for private call " + method}
	}
	if err := k.pace.Wait(ctx); err != nil {
		return err
	}

	path := "/0/private/" + method
	nonce := k.nextNonce()
	values := url.Values{}
	values.Set("nonce", strconv.FormatInt(nonce, 10))
	for key, v := range form {
		values.Set(key, v)
	}
	body := values.Encode()

	sign, err := k.sign(path, strconv.FormatInt(nonce, 10), body)
	if err != nil {
		return err
	}

	var env krakenEnvelope
	resp, err := k.http.R().
		SetContext(ctx).
		SetHeader("API-Key", k.apiKey).
		SetHeader("API-Sign", sign).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(body).
		SetResult(&env).
		Post(path)
	if err != nil {
		return fmt.Errorf("kraken %s: %w", method, err)
	}
	return k.unwrap(method, resp.StatusCode(), &env, out)
}

func (k *Kraken) unwrap(method string, status int, env *krakenEnvelope, out any) error {
	if len(env.Error) > 0 {
		return &ExchangeError{Venue: "kraken", Message: strings.Join(env.Error, "; ")}
	}
	if status >= 400 {
		return &ExchangeError{Venue: "kraken", Message: fmt.Sprintf("%s: HTTP %d", method, status)}
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("kraken %s: decode result: %w", method, err)
	}
	return nil
}

// sign computes API-Sign: base64(HMAC-SHA512(path + SHA256(nonce + body),
// base64decode(secret))).
func (k *Kraken) sign(path, nonce, body string) (string, error) {
	secret, err := base64.StdEncoding.DecodeString(k.apiSecret)
	if err != nil {
		return "", fmt.Errorf("kraken: decode api secret: %w", err)
	}
	digest := sha256.Sum256([]byte(nonce + body))
	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(path))
	mac.Write(digest[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// nextNonce returns a strictly increasing nonce.
func (k *Kraken) nextNonce() int64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	n := time.Now().UnixMilli()
	if n <= k.nonce {
		n = k.nonce + 1
	}
	k.nonce = n
	return n
}

// normalizeAsset strips Kraken's X/Z asset prefixes and maps XBT to BTC.
func normalizeAsset(asset string) string {
	if len(asset) == 4 && (asset[0] == 'X' || asset[0] == 'Z') {
		asset = asset[1:]
	}
	if asset == "XBT" {
		return "BTC"
	}
	return asset
}

type krakenPair struct {
	WSName  string `json:"wsname"`
	Altname string `json:"altname"`
	Base    string `json:"base"`
	Quote   string `json:"quote"`
	Status  string `json:"status"`
}

// LoadMarkets fetches AssetPairs and builds the symbol translation tables.
func (k *Kraken) LoadMarkets(ctx context.Context) error {
	_, err := k.loadPairs(ctx)
	return err
}

func (k *Kraken) loadPairs(ctx context.Context) (map[string]krakenPair, error) {
	var result map[string]krakenPair
	if err := k.public(ctx, "AssetPairs", nil, &result); err != nil {
		return nil, err
	}

	k.mu.Lock()
	k.pairs = make(map[string]string, len(result))
	k.symbols = make(map[string]string, 2*len(result))
	for id, p := range result {
		symbol := wsNameToSymbol(p.WSName)
		if symbol == "" {
			continue
		}
		k.pairs[symbol] = id
		k.symbols[id] = symbol
		k.symbols[p.Altname] = symbol
	}
	k.mu.Unlock()
	k.logger.Debug("loaded asset pairs", "count", len(result))
	return result, nil
}

// wsNameToSymbol converts Kraken's "XBT/USD" websocket name to external form.
func wsNameToSymbol(wsname string) string {
	base, quote, ok := types.SplitSymbol(wsname)
	if !ok {
		return ""
	}
	return normalizeAsset(base) + "/" + normalizeAsset(quote)
}

// pairID resolves an external symbol to Kraken's pair id, loading the pair
// table on first use.
func (k *Kraken) pairID(ctx context.Context, symbol string) (string, error) {
	k.mu.RLock()
	id, ok := k.pairs[symbol]
	k.mu.RUnlock()
	if ok {
		return id, nil
	}

	if _, err := k.loadPairs(ctx); err != nil {
		return "", err
	}
	k.mu.RLock()
	id, ok = k.pairs[symbol]
	k.mu.RUnlock()
	if !ok {
		return "", &ExchangeError{Venue: "kraken", Message: "unknown market " + symbol}
	}
	return id, nil
}

// symbolFor maps a Kraken pair id or altname back to external form.
func (k *Kraken) symbolFor(pair string) string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if s, ok := k.symbols[pair]; ok {
		return s
	}
	return pair
}

// FetchMarkets lists tradeable pairs.
func (k *Kraken) FetchMarkets(ctx context.Context) ([]types.MarketInfo, error) {
	result, err := k.loadPairs(ctx)
	if err != nil {
		return nil, err
	}

	markets := make([]types.MarketInfo, 0, len(result))
	for id, p := range result {
		symbol := wsNameToSymbol(p.WSName)
		base, quote, ok := types.SplitSymbol(symbol)
		if !ok {
			continue
		}
		markets = append(markets, types.MarketInfo{
			ID:     id,
			Symbol: symbol,
			Base:   base,
			Quote:  quote,
			Active: p.Status == "" || p.Status == "online",
		})
	}
	return markets, nil
}

type krakenTicker struct {
	Ask    []string `json:"a"` // price, whole lot volume, lot volume
	Bid    []string `json:"b"`
	Last   []string `json:"c"` // price, lot volume
	Volume []string `json:"v"` // today, last 24h
	High   []string `json:"h"`
	Low    []string `json:"l"`
}

func firstFloat(vals []string) *float64 {
	if len(vals) == 0 {
		return nil
	}
	d, err := decimal.NewFromString(vals[0])
	if err != nil {
		return nil
	}
	return types.Float(d.InexactFloat64())
}

func lastFloat(vals []string) *float64 {
	if len(vals) < 2 {
		return firstFloat(vals)
	}
	d, err := decimal.NewFromString(vals[1])
	if err != nil {
		return nil
	}
	return types.Float(d.InexactFloat64())
}

// FetchTicker returns the top-of-book summary for one symbol.
func (k *Kraken) FetchTicker(ctx context.Context, symbol string) (*types.Ticker, error) {
	pair, err := k.pairID(ctx, symbol)
	if err != nil {
		return nil, err
	}

	var result map[string]krakenTicker
	if err := k.public(ctx, "Ticker", map[string]string{"pair": pair}, &result); err != nil {
		return nil, err
	}
	raw, ok := result[pair]
	if !ok {
		// Kraken sometimes keys the result by altname instead of pair id.
		for _, v := range result {
			raw = v
			ok = true
			break
		}
	}
	if !ok {
		return nil, &ExchangeError{Venue: "kraken", Message: "empty ticker for " + symbol}
	}

	return &types.Ticker{
		Symbol:     symbol,
		Bid:        firstFloat(raw.Bid),
		Ask:        firstFloat(raw.Ask),
		Last:       firstFloat(raw.Last),
		High:       lastFloat(raw.High),
		Low:        lastFloat(raw.Low),
		BaseVolume: lastFloat(raw.Volume),
		Timestamp:  time.Now().UTC(),
	}, nil
}

// FetchBalance returns holdings per currency. Kraken's Balance endpoint
// reports totals only.
func (k *Kraken) FetchBalance(ctx context.Context) (types.Balances, error) {
	var result map[string]string
	if err := k.private(ctx, "Balance", nil, &result); err != nil {
		return nil, err
	}

	balances := make(types.Balances, len(result))
	for asset, amount := range result {
		d, err := decimal.NewFromString(amount)
		if err != nil {
			continue
		}
		v := d.InexactFloat64()
		balances[normalizeAsset(asset)] = types.Balance{Free: v, Total: v}
	}
	return balances, nil
}

type krakenOrderInfo struct {
	Status  string  `json:"status"` // pending, open, closed, canceled, expired
	Vol     string  `json:"vol"`
	VolExec string  `json:"vol_exec"`
	Price   string  `json:"price"` // average fill price
	Cost    string  `json:"cost"`
	Opentm  float64 `json:"opentm"`
	Descr   struct {
		Pair      string `json:"pair"`
		Type      string `json:"type"`
		OrderType string `json:"ordertype"`
		Price     string `json:"price"` // limit price
	} `json:"descr"`
}

func (k *Kraken) parseOrder(id string, raw krakenOrderInfo) types.Order {
	amount := parseWire(raw.Vol)
	filled := parseWire(raw.VolExec)
	limit := parseWire(raw.Descr.Price)
	if limit == 0 {
		limit = parseWire(raw.Price)
	}

	status := types.StatusOpen
	switch raw.Status {
	case "closed":
		status = types.StatusClosed
	case "canceled", "expired":
		status = types.StatusCanceled
	}

	typ := types.Limit
	if raw.Descr.OrderType == "market" {
		typ = types.Market
	}

	o := types.Order{
		ID:        id,
		VenueID:   "kraken",
		Symbol:    k.symbolFor(raw.Descr.Pair),
		Side:      types.Side(raw.Descr.Type),
		Type:      typ,
		Amount:    amount,
		Price:     limit,
		Status:    status,
		Filled:    filled,
		Remaining: amount - filled,
		Timestamp: time.Unix(int64(raw.Opentm), 0).UTC(),
	}
	if cost := parseWire(raw.Cost); cost > 0 {
		o.Cost = types.Float(cost)
	}
	return o
}

func parseWire(s string) float64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

// CreateOrder places an order via AddOrder.
func (k *Kraken) CreateOrder(ctx context.Context, symbol string, typ types.OrderType, side types.Side, amount, price float64) (*types.Order, error) {
	pair, err := k.pairID(ctx, symbol)
	if err != nil {
		return nil, err
	}

	form := map[string]string{
		"pair":      pair,
		"type":      string(side),
		"ordertype": string(typ),
		"volume":    decimal.NewFromFloat(amount).String(),
	}
	if typ == types.Limit {
		form["price"] = decimal.NewFromFloat(price).String()
	}

	var result struct {
		TxID []string `json:"txid"`
	}
	if err := k.private(ctx, "AddOrder", form, &result); err != nil {
		return nil, err
	}
	if len(result.TxID) == 0 {
		return nil, &ExchangeError{Venue: "kraken", Message: "AddOrder returned no txid"}
	}

	return &types.Order{
		ID:        result.TxID[0],
		VenueID:   "kraken",
		Symbol:    symbol,
		Side:      side,
		Type:      typ,
		Amount:    amount,
		Price:     price,
		Status:    types.StatusOpen,
		Remaining: amount,
		Timestamp: time.Now().UTC(),
	}, nil
}

// CancelOrder cancels an order by txid.
func (k *Kraken) CancelOrder(ctx context.Context, orderID, symbol string) (*types.Order, error) {
	var result struct {
		Count int `json:"count"`
	}
	if err := k.private(ctx, "CancelOrder", map[string]string{"txid": orderID}, &result); err != nil {
		return nil, err
	}
	return &types.Order{
		ID:        orderID,
		VenueID:   "kraken",
		Symbol:    symbol,
		Status:    types.StatusCanceled,
		Timestamp: time.Now().UTC(),
	}, nil
}

// FetchOrder looks up one order via QueryOrders.
func (k *Kraken) FetchOrder(ctx context.Context, orderID, symbol string) (*types.Order, error) {
	var result map[string]krakenOrderInfo
	if err := k.private(ctx, "QueryOrders", map[string]string{"txid": orderID}, &result); err != nil {
		return nil, err
	}
	raw, ok := result[orderID]
	if !ok {
		return nil, &ExchangeError{Venue: "kraken", Message: "order not found: " + orderID}
	}
	o := k.parseOrder(orderID, raw)
	return &o, nil
}

func (k *Kraken) fetchOrderSet(ctx context.Context, method, key, symbol string) ([]types.Order, error) {
	var result map[string]map[string]krakenOrderInfo
	if err := k.private(ctx, method, nil, &result); err != nil {
		return nil, err
	}

	var orders []types.Order
	for id, raw := range result[key] {
		o := k.parseOrder(id, raw)
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// FetchOpenOrders lists resting orders, optionally filtered by symbol.
func (k *Kraken) FetchOpenOrders(ctx context.Context, symbol string) ([]types.Order, error) {
	return k.fetchOrderSet(ctx, "OpenOrders", "open", symbol)
}

// FetchClosedOrders lists terminal orders, optionally filtered by symbol.
func (k *Kraken) FetchClosedOrders(ctx context.Context, symbol string) ([]types.Order, error) {
	return k.fetchOrderSet(ctx, "ClosedOrders", "closed", symbol)
}

type krakenTrade struct {
	OrderTxID string  `json:"ordertxid"`
	Pair      string  `json:"pair"`
	Type      string  `json:"type"`
	Price     string  `json:"price"`
	Vol       string  `json:"vol"`
	Cost      string  `json:"cost"`
	Time      float64 `json:"time"`
}

// FetchMyTrades returns our executions, optionally filtered by symbol.
func (k *Kraken) FetchMyTrades(ctx context.Context, symbol string) ([]types.Trade, error) {
	var result struct {
		Trades map[string]krakenTrade `json:"trades"`
	}
	if err := k.private(ctx, "TradesHistory", nil, &result); err != nil {
		return nil, err
	}

	var trades []types.Trade
	for id, raw := range result.Trades {
		sym := k.symbolFor(raw.Pair)
		if symbol != "" && sym != symbol {
			continue
		}
		trades = append(trades, types.Trade{
			ID:        id,
			OrderID:   raw.OrderTxID,
			Symbol:    sym,
			Side:      types.Side(raw.Type),
			Amount:    parseWire(raw.Vol),
			Price:     parseWire(raw.Price),
			Cost:      parseWire(raw.Cost),
			Timestamp: time.Unix(int64(raw.Time), 0).UTC(),
		})
	}
	return trades, nil
}

// Withdraw requests a withdrawal. Kraken addresses withdrawals by the key
// name configured in the account, passed here as address.
func (k *Kraken) Withdraw(ctx context.Context, currency string, amount float64, address, tag string) (*types.Withdrawal, error) {
	form := map[string]string{
		"asset":  currency,
		"key":    address,
		"amount": decimal.NewFromFloat(amount).String(),
	}
	var result struct {
		RefID string `json:"refid"`
	}
	if err := k.private(ctx, "Withdraw", form, &result); err != nil {
		return nil, err
	}
	return &types.Withdrawal{
		ID:       result.RefID,
		Currency: currency,
		Amount:   amount,
		Address:  address,
		Tag:      tag,
	}, nil
}
