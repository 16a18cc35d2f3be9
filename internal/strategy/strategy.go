// Package strategy implements the trading strategy core: the lifecycle base
// every strategy embeds, the arbitrage and grid implementations, and the
// registry that enforces the single-active-strategy rule.
//
// Strategies never talk to venues directly. They go through the Gateway,
// whose calls return empty values instead of errors; a venue fault looks
// like "no data this tick" and the loop carries on.
package strategy

import (
	"context"
	"log/slog"
	"time"

	"cryptobot/pkg/types"
)

// Gateway is the venue surface strategies trade through. It is implemented
// by the venue registry, which absorbs faults behind this interface.
type Gateway interface {
	CheckPermission(venueID string, required types.PermissionLevel) bool
	FetchBalance(ctx context.Context, venueID string) types.Balances
	FetchMarkets(ctx context.Context, venueID string) []types.MarketInfo
	FetchTicker(ctx context.Context, venueID, symbol string) *types.Ticker
	CreateOrder(ctx context.Context, venueID, symbol string, typ types.OrderType, side types.Side, amount, price float64) *types.Order
	CancelOrder(ctx context.Context, venueID, orderID, symbol string) *types.Order
	FetchOrder(ctx context.Context, venueID, orderID, symbol string) *types.Order
	FetchOpenOrders(ctx context.Context, venueID, symbol string) []types.Order
}

// ParamInfo describes one strategy parameter for the control plane.
type ParamInfo struct {
	Type        string   `json:"type"` // string, float, integer, array
	Description string   `json:"description"`
	Required    bool     `json:"required,omitempty"`
	Default     any      `json:"default,omitempty"`
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
	MinLength   int      `json:"min_length,omitempty"`
}

// Descriptor is a strategy's self-description: identity plus the parameter
// schema the dashboard renders configuration forms from.
type Descriptor struct {
	ID              string               `json:"id"`
	Name            string               `json:"name"`
	Description     string               `json:"description"`
	Parameters      map[string]ParamInfo `json:"parameters"`
	RequiredVenues  int                  `json:"required_exchanges"`
	RequiredMarkets int                  `json:"required_markets"`
}

// Performance is the running account of a strategy's results.
type Performance struct {
	Trades      int     `json:"trades"`
	ProfitLoss  float64 `json:"profit_loss"`
	WinCount    int     `json:"win_count"`
	WinRatePct  float64 `json:"win_rate"`
	MaxDrawdown float64 `json:"max_drawdown"`
}

// Strategy is the surface the registry and control plane manage strategies
// through. Base provides everything except the per-strategy hooks.
type Strategy interface {
	Descriptor() Descriptor
	Start()
	Stop()
	IsRunning() bool
	Performance() Performance
	LastTickTime() time.Time
	Parameters() Params
}

// Hooks are the per-strategy callbacks driven by the Base loop.
//
// OnStart runs once before the first tick; a non-nil error is fatal and the
// strategy stops. Tick runs every interval; errors are logged and the loop
// pauses briefly before retrying. OnStop runs exactly once when the strategy
// stops, with a fresh context so cleanup survives cancellation.
type Hooks interface {
	OnStart(ctx context.Context) error
	Tick(ctx context.Context) error
	OnStop(ctx context.Context)
}

// Factory builds a strategy from validated parameters.
type Factory func(gw Gateway, params Params, logger *slog.Logger) (Strategy, error)
