package strategy

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"cryptobot/pkg/types"
)

func gridParams() Params {
	return Params{
		"exchange_id":      "alpha",
		"symbol":           "BTC/USDT",
		"lower_price":      90.0,
		"upper_price":      110.0,
		"grid_levels":      5.0,
		"total_investment": 1000.0,
	}
}

func newGridForTest(t *testing.T, gw Gateway, params Params) *GridStrategy {
	t.Helper()
	s, err := NewGrid(gw, params, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	return s.(*GridStrategy)
}

func gridGateway(last float64) *fakeGateway {
	gw := newFakeGateway()
	gw.permissions["alpha"] = types.ReadWrite
	gw.tickers["alpha"] = &types.Ticker{Symbol: "BTC/USDT", Last: types.Float(last)}
	return gw
}

func TestComputeGridPrices(t *testing.T) {
	t.Parallel()

	prices := computeGridPrices(90, 110, 5)
	want := []float64{90, 95, 100, 105, 110}
	if len(prices) != len(want) {
		t.Fatalf("got %d levels", len(prices))
	}
	for i := range want {
		if math.Abs(prices[i]-want[i]) > 1e-9 {
			t.Errorf("prices[%d] = %v, want %v", i, prices[i], want[i])
		}
	}
	if prices[0] != 90 || prices[4] != 110 {
		t.Error("grid must span lower to upper inclusive")
	}
}

func TestGridInitialPlacement(t *testing.T) {
	t.Parallel()

	gw := gridGateway(100)
	s := newGridForTest(t, gw, gridParams())

	if err := s.OnStart(context.Background()); err != nil {
		t.Fatalf("OnStart: %v", err)
	}

	created := gw.createdOrders()
	// Level at exactly 100 sits on the market and stays empty.
	if len(created) != 4 {
		t.Fatalf("placed %d orders, want 4", len(created))
	}

	for _, o := range created {
		switch {
		case o.Price < 100 && o.Side != types.Buy:
			t.Errorf("order below market is %s @%v, want buy", o.Side, o.Price)
		case o.Price > 100 && o.Side != types.Sell:
			t.Errorf("order above market is %s @%v, want sell", o.Side, o.Price)
		}
		// Each level gets an equal quote slice.
		wantAmount := (1000.0 / 5) / o.Price
		if math.Abs(o.Amount-wantAmount) > 1e-9 {
			t.Errorf("amount @%v = %v, want %v", o.Price, o.Amount, wantAmount)
		}
	}
}

func TestGridTickIntervalDefault(t *testing.T) {
	t.Parallel()

	s := newGridForTest(t, gridGateway(100), gridParams())
	if s.tickInterval != 60*time.Second {
		t.Errorf("tickInterval = %v, want 60s default", s.tickInterval)
	}
}

func TestGridFatalWithoutUsablePrice(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	gw.permissions["alpha"] = types.ReadWrite
	s := newGridForTest(t, gw, gridParams())

	if err := s.OnStart(context.Background()); err == nil {
		t.Error("OnStart should fail without a ticker")
	}

	gw.tickers["alpha"] = &types.Ticker{Symbol: "BTC/USDT", Last: types.Float(0)}
	if err := s.OnStart(context.Background()); err == nil {
		t.Error("OnStart should fail on a non-positive last price")
	}
}

func TestGridFillReplacement(t *testing.T) {
	t.Parallel()

	gw := gridGateway(100)
	s := newGridForTest(t, gw, gridParams())
	ctx := context.Background()

	if err := s.OnStart(ctx); err != nil {
		t.Fatalf("OnStart: %v", err)
	}

	// Fill the sell at 105.
	var filled *gridSlot
	for _, slot := range s.slots {
		if slot.price == 105 {
			filled = slot
		}
	}
	if filled == nil {
		t.Fatal("no slot at 105")
	}
	oldID := filled.orderID
	gw.markClosed("alpha", oldID, nil)

	if err := s.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if filled.status != slotOpen {
		t.Fatalf("slot status = %q, want replaced and open", filled.status)
	}
	if filled.side != types.Buy {
		t.Errorf("replacement side = %q, want buy", filled.side)
	}
	if filled.price != 105 {
		t.Errorf("replacement price = %v, want same level", filled.price)
	}
	if filled.orderID == oldID {
		t.Error("replacement should be a new order")
	}

	// A sell fill realizes the gap between fill price and anchor.
	perf := s.Performance()
	if perf.Trades != 1 {
		t.Errorf("Trades = %d", perf.Trades)
	}
	if perf.ProfitLoss != 5 {
		t.Errorf("ProfitLoss = %v, want 105 - 100 anchor", perf.ProfitLoss)
	}
}

func TestGridBuyFillNotCountedAsTrade(t *testing.T) {
	t.Parallel()

	gw := gridGateway(100)
	s := newGridForTest(t, gw, gridParams())
	ctx := context.Background()

	if err := s.OnStart(ctx); err != nil {
		t.Fatalf("OnStart: %v", err)
	}

	var buySlot *gridSlot
	for _, slot := range s.slots {
		if slot.side == types.Buy {
			buySlot = slot
			break
		}
	}
	if buySlot == nil {
		t.Fatal("no buy slot placed")
	}
	gw.markClosed("alpha", buySlot.orderID, nil)

	if err := s.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if buySlot.status != slotOpen {
		t.Fatalf("slot status = %q, want replaced and open", buySlot.status)
	}
	if buySlot.side != types.Sell {
		t.Errorf("replacement side = %q, want sell", buySlot.side)
	}
	perf := s.Performance()
	if perf.Trades != 0 || perf.ProfitLoss != 0 {
		t.Errorf("buy fill recorded as a trade: %+v", perf)
	}
}

func TestGridUnconfirmedMissingOrderStaysTracked(t *testing.T) {
	t.Parallel()

	gw := gridGateway(100)
	s := newGridForTest(t, gw, gridParams())
	ctx := context.Background()

	if err := s.OnStart(ctx); err != nil {
		t.Fatalf("OnStart: %v", err)
	}

	slot := s.slots[0]
	// The order vanishes from the open set but cannot be confirmed closed.
	gw.drop("alpha", slot.orderID)
	before := len(gw.createdOrders())

	s.Tick(ctx)

	if slot.status != slotOpen {
		t.Errorf("slot status = %q, unconfirmed orders must stay tracked", slot.status)
	}
	if got := len(gw.createdOrders()); got != before {
		t.Errorf("placed %d replacement orders for an unconfirmed fill", got-before)
	}
}

func TestGridRetriesRejectedReplacement(t *testing.T) {
	t.Parallel()

	gw := gridGateway(100)
	s := newGridForTest(t, gw, gridParams())
	ctx := context.Background()

	if err := s.OnStart(ctx); err != nil {
		t.Fatalf("OnStart: %v", err)
	}

	slot := s.slots[0]
	gw.markClosed("alpha", slot.orderID, nil)
	gw.rejectOn["alpha"] = true

	s.Tick(ctx)
	if slot.status != slotFilled {
		t.Fatalf("slot status = %q, want filled while replacement is rejected", slot.status)
	}

	gw.rejectOn["alpha"] = false
	s.Tick(ctx)
	if slot.status != slotOpen {
		t.Errorf("slot status = %q, want replaced on retry", slot.status)
	}
}

func TestGridOnStopCancelsOpenOrders(t *testing.T) {
	t.Parallel()

	gw := gridGateway(100)
	s := newGridForTest(t, gw, gridParams())
	ctx := context.Background()

	if err := s.OnStart(ctx); err != nil {
		t.Fatalf("OnStart: %v", err)
	}
	s.OnStop(ctx)

	if got := len(gw.cancelledKeys()); got != 4 {
		t.Errorf("cancelled %d orders on stop, want all 4", got)
	}
}

func TestGridParamValidation(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw := newFakeGateway()

	cases := []struct {
		name   string
		mutate func(Params)
	}{
		{"missing exchange", func(p Params) { delete(p, "exchange_id") }},
		{"missing symbol", func(p Params) { delete(p, "symbol") }},
		{"inverted bounds", func(p Params) { p["lower_price"] = 120.0 }},
		{"equal bounds", func(p Params) { p["lower_price"] = 110.0 }},
		{"one level", func(p Params) { p["grid_levels"] = 1.0 }},
		{"too many levels", func(p Params) { p["grid_levels"] = 500.0 }},
		{"zero investment", func(p Params) { p["total_investment"] = 0.0 }},
		{"tick below minimum", func(p Params) { p["tick_interval"] = 5.0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := gridParams()
			tc.mutate(p)
			if _, err := NewGrid(gw, p, logger); err == nil {
				t.Error("invalid params accepted")
			}
		})
	}
}
