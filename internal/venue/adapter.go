// Package venue implements the exchange abstraction layer: one Adapter per
// exchange flavor behind a uniform operation surface, and a Registry that
// owns the live adapters, enforces permission gating, and absorbs venue
// faults so strategies never see them.
//
// Adapters come in two flavors:
//   - library-backed: binance via adshao/go-binance (sandbox via test_mode)
//   - REST-backed:    kraken and tradeogre via resty clients
//
// All adapters normalize venue responses into pkg/types shapes; fields a
// venue does not report come back as zero values or nil pointers.
package venue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"cryptobot/internal/config"
	"cryptobot/pkg/types"
)

// Adapter is the uniform operation surface over one exchange venue.
// Every method takes a context because every call suspends on network I/O.
type Adapter interface {
	FetchBalance(ctx context.Context) (types.Balances, error)
	FetchMarkets(ctx context.Context) ([]types.MarketInfo, error)
	FetchTicker(ctx context.Context, symbol string) (*types.Ticker, error)
	CreateOrder(ctx context.Context, symbol string, typ types.OrderType, side types.Side, amount, price float64) (*types.Order, error)
	CancelOrder(ctx context.Context, orderID, symbol string) (*types.Order, error)
	FetchOrder(ctx context.Context, orderID, symbol string) (*types.Order, error)
	FetchOpenOrders(ctx context.Context, symbol string) ([]types.Order, error)
	FetchClosedOrders(ctx context.Context, symbol string) ([]types.Order, error)
	FetchMyTrades(ctx context.Context, symbol string) ([]types.Trade, error)
	Withdraw(ctx context.Context, currency string, amount float64, address, tag string) (*types.Withdrawal, error)

	// LoadMarkets warms the adapter's market cache. Doubles as the
	// connection test.
	LoadMarkets(ctx context.Context) error
}

// ExchangeError is a venue-side rejection: the venue answered, but with an
// error payload (bad credentials, unknown market, insufficient funds, ...).
type ExchangeError struct {
	Venue   string
	Message string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("%s error: %s", e.Venue, e.Message)
}

// errNotSupported marks operations a venue's API simply does not offer.
// The registry boundary turns it into an empty result like any other fault.
func errNotSupported(venue, op string) error {
	return &ExchangeError{Venue: venue, Message: op + " is not supported"}
}

// Builder constructs an adapter from a venue config.
type Builder func(cfg config.VenueConfig, logger *slog.Logger) (Adapter, error)

// builders maps venue_id → adapter constructor. Each adapter file registers
// itself in init; tests may register fakes under their own ids.
var builders = map[string]Builder{}

// RegisterBuilder adds an adapter implementation for a venue id.
func RegisterBuilder(venueID string, b Builder) {
	builders[venueID] = b
}

// SupportedVenues returns the venue ids an adapter implementation exists for.
func SupportedVenues() []string {
	ids := make([]string, 0, len(builders))
	for id := range builders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func newAdapter(cfg config.VenueConfig, logger *slog.Logger) (Adapter, error) {
	b, ok := builders[cfg.VenueID]
	if !ok {
		return nil, fmt.Errorf("venue %s is not supported", cfg.VenueID)
	}
	return b(cfg, logger)
}
