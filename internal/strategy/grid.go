// grid.go implements grid trading on a single venue: a ladder of evenly
// spaced limit orders between a lower and upper price, buys below the
// current price and sells above it. When an order fills, the opposite side
// is placed at the same level, so the grid keeps harvesting oscillation.
//
// Fill detection is two-step: any tracked order missing from the venue's
// open set is re-queried individually, and only a confirmed closed status
// counts as a fill. A missing order that cannot be confirmed stays tracked.
package strategy

import (
	"context"
	"log/slog"
	"time"

	"cryptobot/pkg/types"
)

// GridID is the registry id of the grid trading strategy.
const GridID = "grid_trading"

type gridSlotStatus string

const (
	slotOpen   gridSlotStatus = "open"
	slotFilled gridSlotStatus = "filled"
)

// gridSlot is one price level and the order currently working it.
type gridSlot struct {
	orderID string
	price   float64
	side    types.Side
	status  gridSlotStatus
}

// GridStrategy runs a symmetric limit-order grid on one venue.
type GridStrategy struct {
	*Base

	venueID         string
	symbol          string
	lower           float64
	upper           float64
	levels          int
	totalInvestment float64

	gridPrices  []float64
	perOrder    float64 // quote currency per level
	anchorPrice float64 // reference price for per-fill PnL
	slots       []*gridSlot
}

// GridDescriptor describes the strategy and its parameter schema.
func GridDescriptor() Descriptor {
	min := func(v float64) *float64 { return &v }
	max := func(v float64) *float64 { return &v }
	return Descriptor{
		ID:          GridID,
		Name:        "Grid Trading",
		Description: "Places a ladder of buy and sell orders at fixed price intervals",
		Parameters: map[string]ParamInfo{
			"exchange_id": {
				Type:        "string",
				Description: "Exchange id to trade on",
				Required:    true,
			},
			"symbol": {
				Type:        "string",
				Description: "Market to trade, e.g. BTC/USDT",
				Required:    true,
			},
			"lower_price": {
				Type:        "float",
				Description: "Bottom of the grid",
				Required:    true,
				Min:         min(0),
			},
			"upper_price": {
				Type:        "float",
				Description: "Top of the grid",
				Required:    true,
				Min:         min(0),
			},
			"grid_levels": {
				Type:        "integer",
				Description: "Number of price levels",
				Default:     10.0,
				Min:         min(2),
				Max:         max(100),
			},
			"total_investment": {
				Type:        "float",
				Description: "Quote currency spread across the grid",
				Required:    true,
				Min:         min(0),
			},
			"tick_interval": {
				Type:        "float",
				Description: "Seconds between fill checks",
				Default:     60.0,
				Min:         min(10),
			},
		},
		RequiredVenues:  1,
		RequiredMarkets: 1,
	}
}

// NewGrid validates params and builds the strategy.
func NewGrid(gw Gateway, params Params, logger *slog.Logger) (Strategy, error) {
	venueID, ok := params.String("exchange_id")
	if !ok {
		return nil, missingParam(GridID, "exchange_id")
	}
	symbol, ok := params.String("symbol")
	if !ok {
		return nil, missingParam(GridID, "symbol")
	}
	if _, _, ok := types.SplitSymbol(symbol); !ok {
		return nil, badParam(GridID, "symbol", "must be BASE/QUOTE form")
	}

	lower, ok := params.Float("lower_price")
	if !ok || lower <= 0 {
		return nil, badParam(GridID, "lower_price", "must be a positive number")
	}
	upper, ok := params.Float("upper_price")
	if !ok || upper <= 0 {
		return nil, badParam(GridID, "upper_price", "must be a positive number")
	}
	if lower >= upper {
		return nil, badParam(GridID, "lower_price", "must be below upper_price")
	}

	levels := 10
	if v, ok := params.Int("grid_levels"); ok {
		levels = v
	}
	if levels < 2 || levels > 100 {
		return nil, badParam(GridID, "grid_levels", "must be between 2 and 100")
	}

	investment, ok := params.Float("total_investment")
	if !ok || investment <= 0 {
		return nil, badParam(GridID, "total_investment", "must be a positive number")
	}

	tick := params.FloatOr("tick_interval", 60)
	if tick < 10 {
		return nil, badParam(GridID, "tick_interval", "must be at least 10 seconds")
	}

	s := &GridStrategy{
		Base:            NewBase(GridDescriptor(), gw, params, logger, time.Duration(tick*float64(time.Second))),
		venueID:         venueID,
		symbol:          symbol,
		lower:           lower,
		upper:           upper,
		levels:          levels,
		totalInvestment: investment,
	}
	s.bind(s)
	return s, nil
}

// computeGridPrices returns levels evenly spaced prices from lower to upper
// inclusive.
func computeGridPrices(lower, upper float64, levels int) []float64 {
	step := (upper - lower) / float64(levels-1)
	prices := make([]float64, levels)
	for i := range prices {
		prices[i] = lower + float64(i)*step
	}
	prices[levels-1] = upper
	return prices
}

// OnStart computes the grid and places the initial ladder around the current
// price. Failing to read a usable price is fatal: without an anchor the grid
// cannot be oriented.
func (s *GridStrategy) OnStart(ctx context.Context) error {
	if !s.Gateway().CheckPermission(s.venueID, types.ReadWrite) {
		return badParam(GridID, "exchange_id", "venue does not permit trading")
	}

	s.gridPrices = computeGridPrices(s.lower, s.upper, s.levels)
	s.perOrder = s.totalInvestment / float64(s.levels)

	ticker := s.Gateway().FetchTicker(ctx, s.venueID, s.symbol)
	last := 0.0
	if ticker != nil {
		last = types.Value(ticker.Last, 0)
	}
	if last <= 0 {
		return badParam(GridID, "symbol", "no usable last price at venue")
	}
	s.anchorPrice = last

	placed := 0
	for _, price := range s.gridPrices {
		side := types.Buy
		if price > last {
			side = types.Sell
		} else if price == last {
			// A level sitting exactly on the market stays empty.
			continue
		}
		if s.placeSlot(ctx, price, side) {
			placed++
		}
	}
	s.Logger().Info("grid placed",
		"levels", s.levels, "orders", placed,
		"lower", s.lower, "upper", s.upper, "anchor", last)
	return nil
}

// placeSlot places one grid order and tracks it on success.
func (s *GridStrategy) placeSlot(ctx context.Context, price float64, side types.Side) bool {
	amount := s.perOrder / price
	order := s.Gateway().CreateOrder(ctx, s.venueID, s.symbol, types.Limit, side, amount, price)
	if order == nil {
		s.Logger().Warn("grid order rejected", "price", price, "side", side)
		return false
	}
	s.slots = append(s.slots, &gridSlot{
		orderID: order.ID,
		price:   price,
		side:    side,
		status:  slotOpen,
	})
	return true
}

// Tick detects fills and replaces them with opposite-side orders.
func (s *GridStrategy) Tick(ctx context.Context) error {
	s.detectFills(ctx)
	s.replaceFills(ctx)

	open, filled := 0, 0
	for _, slot := range s.slots {
		switch slot.status {
		case slotOpen:
			open++
		case slotFilled:
			filled++
		}
	}
	s.Logger().Debug("grid tick", "open", open, "pending_replace", filled)
	return nil
}

// detectFills marks slots whose orders have left the venue's open set and
// are individually confirmed closed.
func (s *GridStrategy) detectFills(ctx context.Context) {
	gw := s.Gateway()
	openOrders := gw.FetchOpenOrders(ctx, s.venueID, s.symbol)
	openSet := make(map[string]struct{}, len(openOrders))
	for _, o := range openOrders {
		openSet[o.ID] = struct{}{}
	}

	for _, slot := range s.slots {
		if slot.status != slotOpen {
			continue
		}
		if _, stillOpen := openSet[slot.orderID]; stillOpen {
			continue
		}
		order := gw.FetchOrder(ctx, s.venueID, slot.orderID, s.symbol)
		if order == nil || order.Status != types.StatusClosed {
			// Unconfirmed; could be a venue fault. Keep tracking.
			continue
		}

		slot.status = slotFilled
		// Only sell fills realize PnL against the anchor; buy fills just
		// restock the level.
		if slot.side == types.Sell {
			s.RecordTrade(slot.price - s.anchorPrice)
		}
		s.Logger().Info("grid order filled",
			"price", slot.price, "side", slot.side, "order_id", slot.orderID)
	}
}

// replaceFills places the opposite side at each filled level. A rejected
// replacement stays in filled state and is retried next tick.
func (s *GridStrategy) replaceFills(ctx context.Context) {
	for _, slot := range s.slots {
		if slot.status != slotFilled {
			continue
		}
		side := slot.side.Opposite()
		amount := s.perOrder / slot.price
		order := s.Gateway().CreateOrder(ctx, s.venueID, s.symbol, types.Limit, side, amount, slot.price)
		if order == nil {
			s.Logger().Warn("grid replacement rejected, will retry", "price", slot.price, "side", side)
			continue
		}
		slot.orderID = order.ID
		slot.side = side
		slot.status = slotOpen
		s.Logger().Info("grid level replaced", "price", slot.price, "side", side, "order_id", order.ID)
	}
}

// OnStop cancels every open grid order.
func (s *GridStrategy) OnStop(ctx context.Context) {
	cancelled := 0
	for _, slot := range s.slots {
		if slot.status != slotOpen {
			continue
		}
		if s.Gateway().CancelOrder(ctx, s.venueID, slot.orderID, s.symbol) != nil {
			cancelled++
		}
	}
	s.Logger().Info("grid torn down", "cancelled", cancelled)
}
