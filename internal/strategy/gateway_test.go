package strategy

import (
	"context"
	"fmt"
	"sync"

	"cryptobot/pkg/types"
)

// fakeGateway is a scriptable venue surface for strategy tests. It mimics
// the real boundary: faults and denials surface as empty values, never
// errors.
type fakeGateway struct {
	mu          sync.Mutex
	permissions map[string]types.PermissionLevel
	balances    map[string]types.Balances
	tickers     map[string]*types.Ticker
	markets     map[string][]types.MarketInfo
	orders      map[string]*types.Order // key venue+"/"+orderID
	rejectOn    map[string]bool         // venue -> reject CreateOrder
	created     []types.Order
	cancelled   []string
	nextID      int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		permissions: map[string]types.PermissionLevel{},
		balances:    map[string]types.Balances{},
		tickers:     map[string]*types.Ticker{},
		markets:     map[string][]types.MarketInfo{},
		orders:      map[string]*types.Order{},
		rejectOn:    map[string]bool{},
	}
}

func (g *fakeGateway) key(venueID, orderID string) string { return venueID + "/" + orderID }

func (g *fakeGateway) CheckPermission(venueID string, required types.PermissionLevel) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	level, ok := g.permissions[venueID]
	return ok && level.Allows(required)
}

func (g *fakeGateway) FetchBalance(ctx context.Context, venueID string) types.Balances {
	g.mu.Lock()
	defer g.mu.Unlock()
	if b, ok := g.balances[venueID]; ok {
		return b
	}
	return types.Balances{}
}

func (g *fakeGateway) FetchMarkets(ctx context.Context, venueID string) []types.MarketInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.markets[venueID]
}

func (g *fakeGateway) FetchTicker(ctx context.Context, venueID, symbol string) *types.Ticker {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tickers[venueID]
}

func (g *fakeGateway) CreateOrder(ctx context.Context, venueID, symbol string, typ types.OrderType, side types.Side, amount, price float64) *types.Order {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rejectOn[venueID] {
		return nil
	}
	g.nextID++
	order := types.Order{
		ID:        fmt.Sprintf("%s-%d", venueID, g.nextID),
		VenueID:   venueID,
		Symbol:    symbol,
		Side:      side,
		Type:      typ,
		Amount:    amount,
		Price:     price,
		Status:    types.StatusOpen,
		Remaining: amount,
	}
	g.orders[g.key(venueID, order.ID)] = &order
	g.created = append(g.created, order)
	return &order
}

func (g *fakeGateway) CancelOrder(ctx context.Context, venueID, orderID, symbol string) *types.Order {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, g.key(venueID, orderID))
	if o, ok := g.orders[g.key(venueID, orderID)]; ok {
		o.Status = types.StatusCanceled
		return o
	}
	return &types.Order{ID: orderID, VenueID: venueID, Status: types.StatusCanceled}
}

func (g *fakeGateway) FetchOrder(ctx context.Context, venueID, orderID, symbol string) *types.Order {
	g.mu.Lock()
	defer g.mu.Unlock()
	if o, ok := g.orders[g.key(venueID, orderID)]; ok {
		copied := *o
		return &copied
	}
	return nil
}

func (g *fakeGateway) FetchOpenOrders(ctx context.Context, venueID, symbol string) []types.Order {
	g.mu.Lock()
	defer g.mu.Unlock()
	var open []types.Order
	for key, o := range g.orders {
		if o.Status == types.StatusOpen && key == g.key(venueID, o.ID) {
			open = append(open, *o)
		}
	}
	return open
}

// markClosed flips an order to closed with an optional explicit cost.
func (g *fakeGateway) markClosed(venueID, orderID string, cost *float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if o, ok := g.orders[g.key(venueID, orderID)]; ok {
		o.Status = types.StatusClosed
		o.Filled = o.Amount
		o.Remaining = 0
		o.Cost = cost
	}
}

// drop removes an order entirely, simulating a venue that lost it.
func (g *fakeGateway) drop(venueID, orderID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.orders, g.key(venueID, orderID))
}

// createdOrders returns a snapshot of everything placed so far.
func (g *fakeGateway) createdOrders() []types.Order {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]types.Order, len(g.created))
	copy(out, g.created)
	return out
}

func (g *fakeGateway) cancelledKeys() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.cancelled))
	copy(out, g.cancelled)
	return out
}
