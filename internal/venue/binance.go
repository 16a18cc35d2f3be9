// binance.go implements the Binance spot adapter on top of the
// adshao/go-binance client. test_mode points the client at the spot testnet,
// which is how paper-trading venues are configured.
//
// Binance market ids are the concatenated pair ("BTCUSDT"); mapping back to
// external form needs the exchange info table, loaded lazily and cached.
package venue

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"cryptobot/internal/config"
	"cryptobot/pkg/types"
)

// Binance is a library-backed adapter for the Binance spot API.
type Binance struct {
	client *binance.Client
	pace   *TokenBucket
	logger *slog.Logger

	mu      sync.RWMutex
	symbols map[string]string // venue id ("BTCUSDT") -> external ("BTC/USDT")
}

func init() {
	RegisterBuilder("binance", func(cfg config.VenueConfig, logger *slog.Logger) (Adapter, error) {
		return NewBinance(cfg, logger), nil
	})
}

// NewBinance builds the adapter. UseTestnet is a package-level switch in the
// client library, so it is set before constructing the client.
func NewBinance(cfg config.VenueConfig, logger *slog.Logger) *Binance {
	binance.UseTestnet = cfg.TestMode
	client := binance.NewClient(cfg.APIKey, cfg.APISecret)
	if u, ok := cfg.Extra["base_url"].(string); ok && u != "" {
		client.BaseURL = u
	}

	return &Binance{
		client:  client,
		pace:    newBinancePacer(),
		logger:  logger.With("component", "binance"),
		symbols: map[string]string{},
	}
}

// toBinanceSymbol converts "BTC/USDT" to "BTCUSDT".
func toBinanceSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}

func (b *Binance) externalSymbol(venueID string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if s, ok := b.symbols[venueID]; ok {
		return s
	}
	return venueID
}

// LoadMarkets fetches exchange info and caches the symbol table.
func (b *Binance) LoadMarkets(ctx context.Context) error {
	_, err := b.FetchMarkets(ctx)
	return err
}

// FetchMarkets lists spot pairs from exchange info.
func (b *Binance) FetchMarkets(ctx context.Context) ([]types.MarketInfo, error) {
	if err := b.pace.Wait(ctx); err != nil {
		return nil, err
	}
	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, b.wrap(err)
	}

	markets := make([]types.MarketInfo, 0, len(info.Symbols))
	b.mu.Lock()
	for _, s := range info.Symbols {
		symbol := s.BaseAsset + "/" + s.QuoteAsset
		b.symbols[s.Symbol] = symbol
		markets = append(markets, types.MarketInfo{
			ID:     s.Symbol,
			Symbol: symbol,
			Base:   s.BaseAsset,
			Quote:  s.QuoteAsset,
			Active: s.Status == "TRADING",
		})
	}
	b.mu.Unlock()
	b.logger.Debug("loaded markets", "count", len(markets))
	return markets, nil
}

// FetchTicker returns the 24h stats for one symbol.
func (b *Binance) FetchTicker(ctx context.Context, symbol string) (*types.Ticker, error) {
	if err := b.pace.Wait(ctx); err != nil {
		return nil, err
	}
	stats, err := b.client.NewListPriceChangeStatsService().Symbol(toBinanceSymbol(symbol)).Do(ctx)
	if err != nil {
		return nil, b.wrap(err)
	}
	if len(stats) == 0 {
		return nil, &ExchangeError{Venue: "binance", Message: "empty ticker for " + symbol}
	}
	s := stats[0]

	return &types.Ticker{
		Symbol:     symbol,
		Bid:        wirePtr(s.BidPrice),
		Ask:        wirePtr(s.AskPrice),
		Last:       wirePtr(s.LastPrice),
		High:       wirePtr(s.HighPrice),
		Low:        wirePtr(s.LowPrice),
		BaseVolume: wirePtr(s.Volume),
		Timestamp:  time.Now().UTC(),
	}, nil
}

func wirePtr(s string) *float64 {
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return types.Float(d.InexactFloat64())
}

// FetchBalance returns per-asset holdings from the account endpoint.
func (b *Binance) FetchBalance(ctx context.Context) (types.Balances, error) {
	if err := b.pace.Wait(ctx); err != nil {
		return nil, err
	}
	account, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, b.wrap(err)
	}

	balances := make(types.Balances, len(account.Balances))
	for _, bal := range account.Balances {
		free := parseWire(bal.Free)
		locked := parseWire(bal.Locked)
		if free == 0 && locked == 0 {
			continue
		}
		balances[bal.Asset] = types.Balance{
			Free:  free,
			Used:  locked,
			Total: free + locked,
		}
	}
	return balances, nil
}

// CreateOrder places a spot order. Limit orders are GTC.
func (b *Binance) CreateOrder(ctx context.Context, symbol string, typ types.OrderType, side types.Side, amount, price float64) (*types.Order, error) {
	if err := b.pace.Wait(ctx); err != nil {
		return nil, err
	}

	svc := b.client.NewCreateOrderService().
		Symbol(toBinanceSymbol(symbol)).
		Side(binanceSide(side)).
		Quantity(decimal.NewFromFloat(amount).String())
	if typ == types.Limit {
		svc = svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(decimal.NewFromFloat(price).String())
	} else {
		svc = svc.Type(binance.OrderTypeMarket)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, b.wrap(err)
	}

	filled := parseWire(res.ExecutedQuantity)
	return &types.Order{
		ID:        strconv64(res.OrderID),
		VenueID:   "binance",
		Symbol:    symbol,
		Side:      side,
		Type:      typ,
		Amount:    amount,
		Price:     price,
		Status:    binanceStatus(res.Status),
		Filled:    filled,
		Remaining: amount - filled,
		Timestamp: time.Now().UTC(),
	}, nil
}

func binanceSide(side types.Side) binance.SideType {
	if side == types.Buy {
		return binance.SideTypeBuy
	}
	return binance.SideTypeSell
}

func binanceStatus(status binance.OrderStatusType) types.OrderStatus {
	switch status {
	case binance.OrderStatusTypeFilled:
		return types.StatusClosed
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypeRejected, binance.OrderStatusTypeExpired:
		return types.StatusCanceled
	default:
		return types.StatusOpen
	}
}

// CancelOrder cancels an order by id.
func (b *Binance) CancelOrder(ctx context.Context, orderID, symbol string) (*types.Order, error) {
	id, err := parseOrderID(orderID)
	if err != nil {
		return nil, err
	}
	if err := b.pace.Wait(ctx); err != nil {
		return nil, err
	}
	if _, err := b.client.NewCancelOrderService().Symbol(toBinanceSymbol(symbol)).OrderID(id).Do(ctx); err != nil {
		return nil, b.wrap(err)
	}
	return &types.Order{
		ID:        orderID,
		VenueID:   "binance",
		Symbol:    symbol,
		Status:    types.StatusCanceled,
		Timestamp: time.Now().UTC(),
	}, nil
}

// FetchOrder looks up one order by id.
func (b *Binance) FetchOrder(ctx context.Context, orderID, symbol string) (*types.Order, error) {
	id, err := parseOrderID(orderID)
	if err != nil {
		return nil, err
	}
	if err := b.pace.Wait(ctx); err != nil {
		return nil, err
	}
	o, err := b.client.NewGetOrderService().Symbol(toBinanceSymbol(symbol)).OrderID(id).Do(ctx)
	if err != nil {
		return nil, b.wrap(err)
	}
	parsed := b.parseOrder(o)
	return &parsed, nil
}

// FetchOpenOrders lists resting orders for a symbol.
func (b *Binance) FetchOpenOrders(ctx context.Context, symbol string) ([]types.Order, error) {
	if err := b.pace.Wait(ctx); err != nil {
		return nil, err
	}
	svc := b.client.NewListOpenOrdersService()
	if symbol != "" {
		svc = svc.Symbol(toBinanceSymbol(symbol))
	}
	raw, err := svc.Do(ctx)
	if err != nil {
		return nil, b.wrap(err)
	}

	orders := make([]types.Order, 0, len(raw))
	for _, o := range raw {
		orders = append(orders, b.parseOrder(o))
	}
	return orders, nil
}

// FetchClosedOrders lists terminal orders for a symbol. Binance's history
// endpoint requires a symbol and mixes statuses, so open orders are
// filtered out.
func (b *Binance) FetchClosedOrders(ctx context.Context, symbol string) ([]types.Order, error) {
	if symbol == "" {
		return nil, &ExchangeError{Venue: "binance", Message: "fetching closed orders requires a symbol"}
	}
	if err := b.pace.Wait(ctx); err != nil {
		return nil, err
	}
	raw, err := b.client.NewListOrdersService().Symbol(toBinanceSymbol(symbol)).Do(ctx)
	if err != nil {
		return nil, b.wrap(err)
	}

	var orders []types.Order
	for _, o := range raw {
		parsed := b.parseOrder(o)
		if parsed.Status == types.StatusOpen {
			continue
		}
		orders = append(orders, parsed)
	}
	return orders, nil
}

// FetchMyTrades returns our executions for a symbol.
func (b *Binance) FetchMyTrades(ctx context.Context, symbol string) ([]types.Trade, error) {
	if symbol == "" {
		return nil, &ExchangeError{Venue: "binance", Message: "fetching trades requires a symbol"}
	}
	if err := b.pace.Wait(ctx); err != nil {
		return nil, err
	}
	raw, err := b.client.NewListTradesService().Symbol(toBinanceSymbol(symbol)).Do(ctx)
	if err != nil {
		return nil, b.wrap(err)
	}

	trades := make([]types.Trade, 0, len(raw))
	for _, t := range raw {
		side := types.Sell
		if t.IsBuyer {
			side = types.Buy
		}
		trades = append(trades, types.Trade{
			ID:        strconv64(t.ID),
			OrderID:   strconv64(t.OrderID),
			Symbol:    symbol,
			Side:      side,
			Amount:    parseWire(t.Quantity),
			Price:     parseWire(t.Price),
			Cost:      parseWire(t.QuoteQuantity),
			Timestamp: time.UnixMilli(t.Time).UTC(),
		})
	}
	return trades, nil
}

// Withdraw requests a withdrawal via the SAPI withdraw endpoint.
func (b *Binance) Withdraw(ctx context.Context, currency string, amount float64, address, tag string) (*types.Withdrawal, error) {
	if err := b.pace.Wait(ctx); err != nil {
		return nil, err
	}
	svc := b.client.NewCreateWithdrawService().
		Coin(currency).
		Address(address).
		Amount(decimal.NewFromFloat(amount).String())
	if tag != "" {
		svc = svc.AddressTag(tag)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return nil, b.wrap(err)
	}
	return &types.Withdrawal{
		ID:       res.ID,
		Currency: currency,
		Amount:   amount,
		Address:  address,
		Tag:      tag,
	}, nil
}

func (b *Binance) parseOrder(o *binance.Order) types.Order {
	amount := parseWire(o.OrigQuantity)
	filled := parseWire(o.ExecutedQuantity)

	typ := types.Limit
	if o.Type == binance.OrderTypeMarket {
		typ = types.Market
	}
	side := types.Buy
	if o.Side == binance.SideTypeSell {
		side = types.Sell
	}

	parsed := types.Order{
		ID:        strconv64(o.OrderID),
		VenueID:   "binance",
		Symbol:    b.externalSymbol(o.Symbol),
		Side:      side,
		Type:      typ,
		Amount:    amount,
		Price:     parseWire(o.Price),
		Status:    binanceStatus(o.Status),
		Filled:    filled,
		Remaining: amount - filled,
		Timestamp: time.UnixMilli(o.Time).UTC(),
	}
	if cost := parseWire(o.CummulativeQuoteQuantity); cost > 0 {
		parsed.Cost = types.Float(cost)
	}
	return parsed
}

func (b *Binance) wrap(err error) error {
	return &ExchangeError{Venue: "binance", Message: err.Error()}
}

func strconv64(id int64) string {
	return strconv.FormatInt(id, 10)
}

// parseOrderID converts our string order ids back to Binance's numeric form.
func parseOrderID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, &ExchangeError{Venue: "binance", Message: "invalid order id " + id}
	}
	return n, nil
}
