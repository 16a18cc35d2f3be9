// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot — order and permission
// enums, tickers, orders, balances, and market metadata returned by venue
// adapters. It has no dependencies on internal packages, so it can be
// imported by any layer.
package types

import (
	"strings"
	"time"
)

// Side represents the direction of an order: buy or sell.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Opposite returns the other side. Grid replacement orders flip sides
// at the same price level.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType enumerates the supported order kinds.
type OrderType string

const (
	Limit  OrderType = "limit"
	Market OrderType = "market"
)

// OrderStatus is the venue-side lifecycle state of an order.
// open → closed (fully filled) or open → canceled.
type OrderStatus string

const (
	StatusOpen     OrderStatus = "open"
	StatusClosed   OrderStatus = "closed"
	StatusCanceled OrderStatus = "canceled"
)

// PermissionLevel is the capability granted to a venue's API credentials.
// Levels form a total order: read_only < read_write < read_write_withdraw.
type PermissionLevel string

const (
	ReadOnly          PermissionLevel = "read_only"
	ReadWrite         PermissionLevel = "read_write"
	ReadWriteWithdraw PermissionLevel = "read_write_withdraw"
)

// rank maps each level to its position in the total order. Unknown levels
// rank below read_only so a malformed config can never unlock writes.
func (p PermissionLevel) rank() int {
	switch p {
	case ReadOnly:
		return 0
	case ReadWrite:
		return 1
	case ReadWriteWithdraw:
		return 2
	default:
		return -1
	}
}

// Allows reports whether credentials at level p may perform an operation
// requiring the given level. An unknown required level is never satisfied.
func (p PermissionLevel) Allows(required PermissionLevel) bool {
	return required.rank() >= 0 && p.rank() >= required.rank()
}

// SplitSymbol breaks an external-form symbol "BASE/QUOTE" into its parts.
// ok is false when the symbol is not in external form.
func SplitSymbol(symbol string) (base, quote string, ok bool) {
	parts := strings.SplitN(symbol, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// Ticker is the top-of-book summary for a symbol. Fields are pointers
// because venues routinely omit them; a well-formed ticker has at least
// Bid and Ask.
type Ticker struct {
	Symbol     string    `json:"symbol"`
	Bid        *float64  `json:"bid"`
	Ask        *float64  `json:"ask"`
	Last       *float64  `json:"last"`
	High       *float64  `json:"high"`
	Low        *float64  `json:"low"`
	BaseVolume *float64  `json:"base_volume"`
	Timestamp  time.Time `json:"timestamp"`
}

// Float returns a pointer to v. Convenience for building tickers.
func Float(v float64) *float64 { return &v }

// Value returns *p, or def when p is nil. The tolerant-read counterpart
// to the nullable ticker fields.
func Value(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

// Order is the normalized view of a venue order. Fields absent at the
// venue are zero values; Cost is nil when the venue does not report it.
type Order struct {
	ID        string      `json:"id"`
	VenueID   string      `json:"venue_id"`
	Symbol    string      `json:"symbol"`
	Side      Side        `json:"side"`
	Type      OrderType   `json:"type"`
	Amount    float64     `json:"amount"`
	Price     float64     `json:"price,omitempty"`
	Status    OrderStatus `json:"status"`
	Filled    float64     `json:"filled"`
	Remaining float64     `json:"remaining"`
	Cost      *float64    `json:"cost,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Balance is one currency's holdings at a venue.
type Balance struct {
	Free  float64 `json:"free"`
	Used  float64 `json:"used"`
	Total float64 `json:"total"`
}

// Balances maps currency code → balance.
type Balances map[string]Balance

// Free returns the free balance for a currency, zero if absent.
func (b Balances) Free(currency string) float64 {
	return b[currency].Free
}

// MarketInfo describes one tradeable pair at a venue.
type MarketInfo struct {
	ID     string `json:"id"`     // venue-native market id, e.g. "BTC-USDT"
	Symbol string `json:"symbol"` // external form, e.g. "BTC/USDT"
	Base   string `json:"base"`
	Quote  string `json:"quote"`
	Active bool   `json:"active"`
}

// Trade is one execution against our account.
type Trade struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Amount    float64   `json:"amount"`
	Price     float64   `json:"price"`
	Cost      float64   `json:"cost"`
	Timestamp time.Time `json:"timestamp"`
}

// Withdrawal is the receipt returned by a venue withdraw call.
type Withdrawal struct {
	ID       string  `json:"id"`
	Currency string  `json:"currency"`
	Amount   float64 `json:"amount"`
	Address  string  `json:"address"`
	Tag      string  `json:"tag,omitempty"`
}
