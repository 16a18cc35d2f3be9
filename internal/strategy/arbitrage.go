// arbitrage.go implements cross-venue arbitrage: watch one symbol on two or
// more venues, and when a sell-side bid exceeds a buy-side ask by the
// configured margin, buy on the cheap venue and sell on the expensive one.
//
// Execution is two-phase with a compensating action: the buy leg goes in
// first, and if the sell leg is rejected the buy is cancelled immediately so
// no naked position is left behind. Open pairs are polled every tick until
// both legs close or either is cancelled.
package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"cryptobot/pkg/types"
)

// ArbitrageID is the registry id of the arbitrage strategy.
const ArbitrageID = "arbitrage"

type pairStatus string

const (
	pairActive    pairStatus = "active"
	pairCompleted pairStatus = "completed"
	pairFailed    pairStatus = "failed"
)

// arbPair is one in-flight buy/sell leg pair. The realized fields are zero
// until the pair completes.
type arbPair struct {
	id        string
	buyVenue  string
	sellVenue string
	buyOrder  string
	sellOrder string
	symbol    string
	amount    float64
	buyPrice  float64
	sellPrice float64
	profitPct float64
	status    pairStatus
	createdAt time.Time

	realizedProfit    float64
	realizedProfitPct float64
}

type venueQuote struct {
	bid, ask float64
	at       time.Time
}

// ArbitrageStrategy trades price gaps for one symbol across venues.
type ArbitrageStrategy struct {
	*Base

	symbol       string
	venues       []string
	maxOrderSize float64
	minProfitPct float64
	maxOrderAge  time.Duration

	lastPrices map[string]venueQuote
	pairs      []*arbPair
}

// ArbitrageDescriptor describes the strategy and its parameter schema.
func ArbitrageDescriptor() Descriptor {
	min := func(v float64) *float64 { return &v }
	return Descriptor{
		ID:          ArbitrageID,
		Name:        "Arbitrage",
		Description: "Exploits price differences for the same market across exchanges",
		Parameters: map[string]ParamInfo{
			"symbol": {
				Type:        "string",
				Description: "Market to trade, e.g. BTC/USDT",
				Required:    true,
			},
			"exchanges": {
				Type:        "array",
				Description: "Exchange ids to monitor",
				Required:    true,
				MinLength:   2,
			},
			"max_order_size": {
				Type:        "float",
				Description: "Maximum base amount per leg",
				Required:    true,
				Min:         min(0),
			},
			"min_profit_percent": {
				Type:        "float",
				Description: "Minimum gross margin to act on",
				Default:     1.0,
				Min:         min(0.1),
			},
			"tick_interval": {
				Type:        "float",
				Description: "Seconds between scans",
				Default:     10.0,
				Min:         min(1),
			},
			"max_order_age_seconds": {
				Type:        "float",
				Description: "Age after which stuck legs are cancelled",
				Default:     86400.0,
			},
		},
		RequiredVenues:  2,
		RequiredMarkets: 1,
	}
}

// NewArbitrage validates params and builds the strategy.
func NewArbitrage(gw Gateway, params Params, logger *slog.Logger) (Strategy, error) {
	symbol, ok := params.String("symbol")
	if !ok {
		return nil, missingParam(ArbitrageID, "symbol")
	}
	if _, _, ok := types.SplitSymbol(symbol); !ok {
		return nil, badParam(ArbitrageID, "symbol", "must be BASE/QUOTE form")
	}

	venues, ok := params.StringSlice("exchanges")
	if !ok || len(venues) < 2 {
		return nil, badParam(ArbitrageID, "exchanges", "need at least two exchange ids")
	}

	maxOrderSize, ok := params.Float("max_order_size")
	if !ok || maxOrderSize <= 0 {
		return nil, badParam(ArbitrageID, "max_order_size", "must be a positive number")
	}

	minProfit := params.FloatOr("min_profit_percent", 1.0)
	if minProfit < 0.1 {
		return nil, badParam(ArbitrageID, "min_profit_percent", "must be at least 0.1")
	}

	tick := params.FloatOr("tick_interval", 10)
	if tick < 1 {
		return nil, badParam(ArbitrageID, "tick_interval", "must be at least 1 second")
	}

	maxAge := params.FloatOr("max_order_age_seconds", 86400)
	if maxAge <= 0 {
		return nil, badParam(ArbitrageID, "max_order_age_seconds", "must be positive")
	}

	s := &ArbitrageStrategy{
		Base:         NewBase(ArbitrageDescriptor(), gw, params, logger, time.Duration(tick*float64(time.Second))),
		symbol:       symbol,
		venues:       venues,
		maxOrderSize: maxOrderSize,
		minProfitPct: minProfit,
		maxOrderAge:  time.Duration(maxAge * float64(time.Second)),
		lastPrices:   map[string]venueQuote{},
	}
	s.bind(s)
	return s, nil
}

// OnStart verifies the symbol is listed on each configured venue. A venue
// that cannot confirm the listing only warns; it may just be down.
func (s *ArbitrageStrategy) OnStart(ctx context.Context) error {
	for _, venueID := range s.venues {
		markets := s.Gateway().FetchMarkets(ctx, venueID)
		if len(markets) == 0 {
			s.Logger().Warn("could not list markets", "venue", venueID)
			continue
		}
		found := false
		for _, m := range markets {
			if m.Symbol == s.symbol {
				found = true
				break
			}
		}
		if !found {
			s.Logger().Warn("symbol not listed on venue", "venue", venueID, "symbol", s.symbol)
		}
	}
	return nil
}

// Tick refreshes quotes, settles in-flight pairs, and opens new ones.
func (s *ArbitrageStrategy) Tick(ctx context.Context) error {
	s.updatePrices(ctx)
	s.settlePairs(ctx)
	s.expireStalePairs(ctx)

	for _, opp := range s.findOpportunities() {
		s.execute(ctx, opp)
	}

	active := 0
	for _, p := range s.pairs {
		if p.status == pairActive {
			active++
		}
	}
	s.Logger().Debug("tick complete", "quotes", len(s.lastPrices), "active_pairs", active)
	return nil
}

// OnStop cancels the legs of every still-active pair.
func (s *ArbitrageStrategy) OnStop(ctx context.Context) {
	for _, p := range s.pairs {
		if p.status != pairActive {
			continue
		}
		s.cancelLegs(ctx, p)
		p.status = pairFailed
	}
	s.Logger().Info("open arbitrage legs cancelled")
}

func (s *ArbitrageStrategy) updatePrices(ctx context.Context) {
	for _, venueID := range s.venues {
		ticker := s.Gateway().FetchTicker(ctx, venueID, s.symbol)
		if ticker == nil {
			continue
		}
		bid := types.Value(ticker.Bid, 0)
		ask := types.Value(ticker.Ask, 0)
		if bid <= 0 || ask <= 0 {
			continue
		}
		s.lastPrices[venueID] = venueQuote{bid: bid, ask: ask, at: time.Now()}
	}
}

// opportunity is a candidate trade: buy at buyVenue's ask, sell at
// sellVenue's bid.
type opportunity struct {
	buyVenue  string
	sellVenue string
	buyPrice  float64
	sellPrice float64
	profitPct float64
}

// findOpportunities scans every ordered venue pair with fresh quotes.
func (s *ArbitrageStrategy) findOpportunities() []opportunity {
	var opps []opportunity
	for _, buyVenue := range s.venues {
		buy, ok := s.lastPrices[buyVenue]
		if !ok {
			continue
		}
		for _, sellVenue := range s.venues {
			if sellVenue == buyVenue {
				continue
			}
			sell, ok := s.lastPrices[sellVenue]
			if !ok {
				continue
			}
			profitPct := (sell.bid/buy.ask - 1) * 100
			if profitPct < s.minProfitPct {
				continue
			}
			opps = append(opps, opportunity{
				buyVenue:  buyVenue,
				sellVenue: sellVenue,
				buyPrice:  buy.ask,
				sellPrice: sell.bid,
				profitPct: profitPct,
			})
			s.Logger().Info("arbitrage opportunity",
				"buy_venue", buyVenue, "sell_venue", sellVenue,
				"buy_price", buy.ask, "sell_price", sell.bid,
				"profit_pct", fmt.Sprintf("%.3f", profitPct))
		}
	}
	return opps
}

// execute runs the two-phase placement for one opportunity.
func (s *ArbitrageStrategy) execute(ctx context.Context, opp opportunity) {
	gw := s.Gateway()
	if !gw.CheckPermission(opp.buyVenue, types.ReadWrite) || !gw.CheckPermission(opp.sellVenue, types.ReadWrite) {
		s.Logger().Warn("skipping opportunity, trading not permitted",
			"buy_venue", opp.buyVenue, "sell_venue", opp.sellVenue)
		return
	}

	base, quote, _ := types.SplitSymbol(s.symbol)

	amount := s.maxOrderSize
	if free := gw.FetchBalance(ctx, opp.sellVenue).Free(base); free < amount {
		amount = free
	}
	if quoteFree := gw.FetchBalance(ctx, opp.buyVenue).Free(quote); opp.buyPrice > 0 {
		if affordable := quoteFree / opp.buyPrice; affordable < amount {
			amount = affordable
		}
	}
	if amount <= 0 {
		s.Logger().Warn("skipping opportunity, no balance on either leg",
			"buy_venue", opp.buyVenue, "sell_venue", opp.sellVenue)
		return
	}

	buyOrder := gw.CreateOrder(ctx, opp.buyVenue, s.symbol, types.Limit, types.Buy, amount, opp.buyPrice)
	if buyOrder == nil {
		s.Logger().Warn("buy leg rejected", "venue", opp.buyVenue)
		return
	}

	sellOrder := gw.CreateOrder(ctx, opp.sellVenue, s.symbol, types.Limit, types.Sell, amount, opp.sellPrice)
	if sellOrder == nil {
		// Compensate: never leave a lone buy leg working.
		s.Logger().Warn("sell leg rejected, cancelling buy leg",
			"venue", opp.sellVenue, "buy_order", buyOrder.ID)
		gw.CancelOrder(ctx, opp.buyVenue, buyOrder.ID, s.symbol)
		return
	}

	pair := &arbPair{
		id:        uuid.NewString(),
		buyVenue:  opp.buyVenue,
		sellVenue: opp.sellVenue,
		buyOrder:  buyOrder.ID,
		sellOrder: sellOrder.ID,
		symbol:    s.symbol,
		amount:    amount,
		buyPrice:  opp.buyPrice,
		sellPrice: opp.sellPrice,
		profitPct: opp.profitPct,
		status:    pairActive,
		createdAt: time.Now(),
	}
	s.pairs = append(s.pairs, pair)
	s.Logger().Info("arbitrage pair opened",
		"pair", pair.id, "amount", amount,
		"buy_venue", opp.buyVenue, "sell_venue", opp.sellVenue,
		"expected_profit_pct", fmt.Sprintf("%.3f", opp.profitPct))
}

// settlePairs polls the legs of every active pair and applies transitions.
func (s *ArbitrageStrategy) settlePairs(ctx context.Context) {
	gw := s.Gateway()
	for _, p := range s.pairs {
		if p.status != pairActive {
			continue
		}

		buy := gw.FetchOrder(ctx, p.buyVenue, p.buyOrder, p.symbol)
		sell := gw.FetchOrder(ctx, p.sellVenue, p.sellOrder, p.symbol)
		if buy == nil || sell == nil {
			// No data this tick; try again next time.
			continue
		}

		switch {
		case buy.Status == types.StatusClosed && sell.Status == types.StatusClosed:
			buyCost := types.Value(buy.Cost, p.amount*p.buyPrice)
			sellCost := types.Value(sell.Cost, p.amount*p.sellPrice)
			profit := sellCost - buyCost
			p.status = pairCompleted
			p.realizedProfit = profit
			if buyCost > 0 {
				p.realizedProfitPct = profit / buyCost * 100
			}
			s.RecordTrade(profit)
			s.Logger().Info("arbitrage pair completed",
				"pair", p.id, "profit", profit, "profit_pct", fmt.Sprintf("%.3f", p.realizedProfitPct))

		case buy.Status == types.StatusCanceled || sell.Status == types.StatusCanceled:
			if buy.Status != types.StatusCanceled {
				gw.CancelOrder(ctx, p.buyVenue, p.buyOrder, p.symbol)
			}
			if sell.Status != types.StatusCanceled {
				gw.CancelOrder(ctx, p.sellVenue, p.sellOrder, p.symbol)
			}
			p.status = pairFailed
			s.Logger().Warn("arbitrage pair failed, leg cancelled at venue", "pair", p.id)
		}
	}
}

// expireStalePairs cancels pairs whose legs have been working too long.
func (s *ArbitrageStrategy) expireStalePairs(ctx context.Context) {
	cutoff := time.Now().Add(-s.maxOrderAge)
	for _, p := range s.pairs {
		if p.status != pairActive || p.createdAt.After(cutoff) {
			continue
		}
		s.cancelLegs(ctx, p)
		p.status = pairFailed
		s.Logger().Warn("arbitrage pair expired", "pair", p.id, "age", time.Since(p.createdAt))
	}
}

func (s *ArbitrageStrategy) cancelLegs(ctx context.Context, p *arbPair) {
	gw := s.Gateway()
	gw.CancelOrder(ctx, p.buyVenue, p.buyOrder, p.symbol)
	gw.CancelOrder(ctx, p.sellVenue, p.sellOrder, p.symbol)
}
