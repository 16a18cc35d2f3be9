// registry.go owns the live venue adapters and the fault boundary in front
// of them.
//
// Every passthrough call runs the same gate sequence: adapter lookup, then
// permission check against the venue's configured credential level, then the
// venue's circuit breaker, then the adapter call. Any failure along the way
// is logged and swallowed; callers receive an empty result and carry on.
// Strategies read market data through this boundary every tick, so one venue
// outage must never take down the loop.
package venue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"cryptobot/internal/config"
	"cryptobot/internal/strategy"
	"cryptobot/pkg/types"
)

// The registry is the venue surface strategies trade through.
var _ strategy.Gateway = (*Registry)(nil)

// Registry is the live set of configured venues.
type Registry struct {
	logger *slog.Logger

	mu                 sync.RWMutex
	adapters           map[string]Adapter
	configs            map[string]config.VenueConfig
	breakers           map[string]*gobreaker.CircuitBreaker
	lastRateLimitReset map[string]time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:             logger.With("component", "venues"),
		adapters:           map[string]Adapter{},
		configs:            map[string]config.VenueConfig{},
		breakers:           map[string]*gobreaker.CircuitBreaker{},
		lastRateLimitReset: map[string]time.Time{},
	}
}

// Add constructs an adapter for the venue config and registers it, replacing
// any previous adapter for the same venue id. Returns false when the config
// is invalid or the venue is unsupported.
func (r *Registry) Add(cfg config.VenueConfig) bool {
	if err := cfg.Validate(); err != nil {
		r.logger.Error("invalid venue config", "error", err)
		return false
	}
	adapter, err := newAdapter(cfg, r.logger)
	if err != nil {
		r.logger.Error("failed to initialize venue", "venue", cfg.VenueID, "error", err)
		return false
	}

	r.mu.Lock()
	r.adapters[cfg.VenueID] = adapter
	r.configs[cfg.VenueID] = cfg
	r.breakers[cfg.VenueID] = newBreaker(cfg.VenueID, r.logger)
	r.lastRateLimitReset[cfg.VenueID] = time.Now()
	r.mu.Unlock()

	r.logger.Info("venue added", "venue", cfg.VenueID, "permission", cfg.PermissionLevel, "test_mode", cfg.TestMode)
	return true
}

func newBreaker(venueID string, logger *slog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        venueID,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("venue circuit state change", "venue", name, "from", from.String(), "to", to.String())
		},
	})
}

// Remove drops a venue. Returns whether it was present.
func (r *Registry) Remove(venueID string) bool {
	r.mu.Lock()
	_, ok := r.adapters[venueID]
	delete(r.adapters, venueID)
	delete(r.configs, venueID)
	delete(r.breakers, venueID)
	delete(r.lastRateLimitReset, venueID)
	r.mu.Unlock()

	if ok {
		r.logger.Info("venue removed", "venue", venueID)
	}
	return ok
}

// Get returns the raw adapter for a venue id, nil when absent. Most callers
// should use the gated passthroughs instead.
func (r *Registry) Get(venueID string) Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[venueID]
}

// Config returns a copy of the venue's config, nil when absent.
func (r *Registry) Config(venueID string) *config.VenueConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cfg, ok := r.configs[venueID]; ok {
		return &cfg
	}
	return nil
}

// IDs returns the registered venue ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	return ids
}

// CheckPermission reports whether the venue exists and its credentials are
// at or above the required level.
func (r *Registry) CheckPermission(venueID string, required types.PermissionLevel) bool {
	r.mu.RLock()
	cfg, ok := r.configs[venueID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return cfg.PermissionLevel.Allows(required)
}

// TestConnection verifies the venue answers by loading its market table.
func (r *Registry) TestConnection(ctx context.Context, venueID string) bool {
	adapter := r.Get(venueID)
	if adapter == nil {
		return false
	}
	if err := adapter.LoadMarkets(ctx); err != nil {
		r.logger.Warn("venue connection test failed", "venue", venueID, "error", err)
		return false
	}
	return true
}

// gate resolves the adapter and breaker for a call, enforcing the permission
// level. The three failure modes are logged at distinct levels: a missing
// venue is a caller bug, a permission miss is a config decision.
func (r *Registry) gate(venueID string, required types.PermissionLevel, op string) (Adapter, *gobreaker.CircuitBreaker, bool) {
	r.mu.RLock()
	adapter, ok := r.adapters[venueID]
	cfg := r.configs[venueID]
	breaker := r.breakers[venueID]
	r.mu.RUnlock()

	if !ok {
		r.logger.Error("unknown venue", "venue", venueID, "op", op)
		return nil, nil, false
	}
	if !cfg.PermissionLevel.Allows(required) {
		r.logger.Warn("operation denied by permission level",
			"venue", venueID, "op", op, "have", cfg.PermissionLevel, "need", required)
		return nil, nil, false
	}
	return adapter, breaker, true
}

// call runs fn through the venue's circuit breaker and absorbs the error.
func call[T any](r *Registry, breaker *gobreaker.CircuitBreaker, venueID, op string, fn func() (T, error)) (T, bool) {
	res, err := breaker.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		r.logger.Error("venue call failed", "venue", venueID, "op", op, "error", err)
		return zero, false
	}
	v, _ := res.(T)
	return v, true
}

// FetchBalance returns the venue's balances, empty on any fault.
func (r *Registry) FetchBalance(ctx context.Context, venueID string) types.Balances {
	adapter, breaker, ok := r.gate(venueID, types.ReadOnly, "fetch_balance")
	if !ok {
		return types.Balances{}
	}
	balances, ok := call(r, breaker, venueID, "fetch_balance", func() (types.Balances, error) {
		return adapter.FetchBalance(ctx)
	})
	if !ok || balances == nil {
		return types.Balances{}
	}
	return balances
}

// FetchMarkets returns the venue's market list, empty on any fault.
func (r *Registry) FetchMarkets(ctx context.Context, venueID string) []types.MarketInfo {
	adapter, breaker, ok := r.gate(venueID, types.ReadOnly, "fetch_markets")
	if !ok {
		return nil
	}
	markets, _ := call(r, breaker, venueID, "fetch_markets", func() ([]types.MarketInfo, error) {
		return adapter.FetchMarkets(ctx)
	})
	return markets
}

// FetchTicker returns the ticker for a symbol, nil on any fault.
func (r *Registry) FetchTicker(ctx context.Context, venueID, symbol string) *types.Ticker {
	adapter, breaker, ok := r.gate(venueID, types.ReadOnly, "fetch_ticker")
	if !ok {
		return nil
	}
	ticker, _ := call(r, breaker, venueID, "fetch_ticker", func() (*types.Ticker, error) {
		return adapter.FetchTicker(ctx, symbol)
	})
	return ticker
}

// CreateOrder places an order, nil on any fault. Requires read_write.
func (r *Registry) CreateOrder(ctx context.Context, venueID, symbol string, typ types.OrderType, side types.Side, amount, price float64) *types.Order {
	adapter, breaker, ok := r.gate(venueID, types.ReadWrite, "create_order")
	if !ok {
		return nil
	}
	order, _ := call(r, breaker, venueID, "create_order", func() (*types.Order, error) {
		return adapter.CreateOrder(ctx, symbol, typ, side, amount, price)
	})
	if order != nil {
		r.logger.Info("order placed",
			"venue", venueID, "symbol", symbol, "side", side, "amount", amount, "price", price, "order_id", order.ID)
	}
	return order
}

// CancelOrder cancels an order, nil on any fault. Requires read_write.
func (r *Registry) CancelOrder(ctx context.Context, venueID, orderID, symbol string) *types.Order {
	adapter, breaker, ok := r.gate(venueID, types.ReadWrite, "cancel_order")
	if !ok {
		return nil
	}
	order, _ := call(r, breaker, venueID, "cancel_order", func() (*types.Order, error) {
		return adapter.CancelOrder(ctx, orderID, symbol)
	})
	if order != nil {
		r.logger.Info("order canceled", "venue", venueID, "order_id", orderID)
	}
	return order
}

// FetchOrder looks up one order, nil on any fault.
func (r *Registry) FetchOrder(ctx context.Context, venueID, orderID, symbol string) *types.Order {
	adapter, breaker, ok := r.gate(venueID, types.ReadOnly, "fetch_order")
	if !ok {
		return nil
	}
	order, _ := call(r, breaker, venueID, "fetch_order", func() (*types.Order, error) {
		return adapter.FetchOrder(ctx, orderID, symbol)
	})
	return order
}

// FetchOpenOrders lists resting orders, empty on any fault.
func (r *Registry) FetchOpenOrders(ctx context.Context, venueID, symbol string) []types.Order {
	adapter, breaker, ok := r.gate(venueID, types.ReadOnly, "fetch_open_orders")
	if !ok {
		return nil
	}
	orders, _ := call(r, breaker, venueID, "fetch_open_orders", func() ([]types.Order, error) {
		return adapter.FetchOpenOrders(ctx, symbol)
	})
	return orders
}

// FetchClosedOrders lists terminal orders, empty on any fault.
func (r *Registry) FetchClosedOrders(ctx context.Context, venueID, symbol string) []types.Order {
	adapter, breaker, ok := r.gate(venueID, types.ReadOnly, "fetch_closed_orders")
	if !ok {
		return nil
	}
	orders, _ := call(r, breaker, venueID, "fetch_closed_orders", func() ([]types.Order, error) {
		return adapter.FetchClosedOrders(ctx, symbol)
	})
	return orders
}

// FetchMyTrades lists executions, empty on any fault.
func (r *Registry) FetchMyTrades(ctx context.Context, venueID, symbol string) []types.Trade {
	adapter, breaker, ok := r.gate(venueID, types.ReadOnly, "fetch_my_trades")
	if !ok {
		return nil
	}
	trades, _ := call(r, breaker, venueID, "fetch_my_trades", func() ([]types.Trade, error) {
		return adapter.FetchMyTrades(ctx, symbol)
	})
	return trades
}

// Withdraw requests a withdrawal, nil on any fault. Requires the top
// permission level.
func (r *Registry) Withdraw(ctx context.Context, venueID, currency string, amount float64, address, tag string) *types.Withdrawal {
	adapter, breaker, ok := r.gate(venueID, types.ReadWriteWithdraw, "withdraw")
	if !ok {
		return nil
	}
	w, _ := call(r, breaker, venueID, "withdraw", func() (*types.Withdrawal, error) {
		return adapter.Withdraw(ctx, currency, amount, address, tag)
	})
	if w != nil {
		r.logger.Info("withdrawal requested", "venue", venueID, "currency", currency, "amount", amount)
	}
	return w
}

// LastRateLimitReset reports when the venue's pacer was installed. Reserved
// for a future pacer-reset control endpoint.
func (r *Registry) LastRateLimitReset(venueID string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.lastRateLimitReset[venueID]
	return t, ok
}
