package venue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"cryptobot/internal/config"
	"cryptobot/pkg/types"
)

func newTestTradeOgre(t *testing.T, handler http.Handler) *TradeOgre {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewTradeOgre(config.VenueConfig{
		VenueID:         "tradeogre",
		APIKey:          "key",
		APISecret:       "secret",
		PermissionLevel: types.ReadWrite,
		Extra:           map[string]any{"base_url": srv.URL},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func jsonReply(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestTradeOgreFetchTicker(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/ticker/BTC-USDT", func(w http.ResponseWriter, r *http.Request) {
		jsonReply(w, map[string]any{
			"success": true,
			"price":   "64250.12345678",
			"bid":     "64240.00000000",
			"ask":     "64260.00000000",
			"high":    "65000.00000000",
			"low":     "63000.00000000",
			"volume":  "12.50000000",
		})
	})

	adapter := newTestTradeOgre(t, mux)
	ticker, err := adapter.FetchTicker(context.Background(), "BTC/USDT")
	if err != nil {
		t.Fatalf("FetchTicker: %v", err)
	}

	if got := types.Value(ticker.Bid, 0); got != 64240 {
		t.Errorf("Bid = %v, want 64240", got)
	}
	if got := types.Value(ticker.Ask, 0); got != 64260 {
		t.Errorf("Ask = %v, want 64260", got)
	}
	if got := types.Value(ticker.Last, 0); got != 64250.12345678 {
		t.Errorf("Last = %v", got)
	}
	if ticker.Symbol != "BTC/USDT" {
		t.Errorf("Symbol = %q, want external form", ticker.Symbol)
	}
}

func TestTradeOgreTickerMissingFieldsAreNil(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/ticker/XMR-BTC", func(w http.ResponseWriter, r *http.Request) {
		jsonReply(w, map[string]any{
			"success": true,
			"price":   "0.00350000",
			"bid":     nil,
			"volume":  "not-a-number",
		})
	})

	adapter := newTestTradeOgre(t, mux)
	ticker, err := adapter.FetchTicker(context.Background(), "XMR/BTC")
	if err != nil {
		t.Fatalf("FetchTicker: %v", err)
	}

	if ticker.Bid != nil {
		t.Error("null bid should map to nil")
	}
	if ticker.Ask != nil {
		t.Error("absent ask should map to nil")
	}
	if ticker.BaseVolume != nil {
		t.Error("malformed volume should map to nil")
	}
	if types.Value(ticker.Last, 0) != 0.0035 {
		t.Errorf("Last = %v", types.Value(ticker.Last, 0))
	}
}

func TestTradeOgreSuccessFalseBecomesError(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/ticker/NOPE-BTC", func(w http.ResponseWriter, r *http.Request) {
		jsonReply(w, map[string]any{"success": false, "error": "Market not found"})
	})

	adapter := newTestTradeOgre(t, mux)
	_, err := adapter.FetchTicker(context.Background(), "NOPE/BTC")
	if err == nil {
		t.Fatal("expected error for success=false payload")
	}
	var exErr *ExchangeError
	if !errors.As(err, &exErr) {
		t.Fatalf("want ExchangeError, got %T", err)
	}
	if exErr.Message != "Market not found" {
		t.Errorf("Message = %q", exErr.Message)
	}
}

func TestTradeOgreCreateOrder(t *testing.T) {
	t.Parallel()

	var gotForm map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("/account/buy", func(w http.ResponseWriter, r *http.Request) {
		if u, p, ok := r.BasicAuth(); !ok || u != "key" || p != "secret" {
			t.Error("missing or wrong basic auth")
		}
		r.ParseForm()
		gotForm = map[string]string{
			"market":   r.PostFormValue("market"),
			"quantity": r.PostFormValue("quantity"),
			"price":    r.PostFormValue("price"),
		}
		jsonReply(w, map[string]any{"success": true, "uuid": "abc-123"})
	})

	adapter := newTestTradeOgre(t, mux)
	order, err := adapter.CreateOrder(context.Background(), "LTC/BTC", types.Limit, types.Buy, 1.5, 0.0021)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	if order.ID != "abc-123" {
		t.Errorf("ID = %q", order.ID)
	}
	if order.Status != types.StatusOpen {
		t.Errorf("Status = %q, want open", order.Status)
	}
	if gotForm["market"] != "LTC-BTC" {
		t.Errorf("market = %q, want venue form LTC-BTC", gotForm["market"])
	}
	if gotForm["quantity"] != "1.50000000" {
		t.Errorf("quantity = %q, want 8-decimal wire form", gotForm["quantity"])
	}
	if gotForm["price"] != "0.00210000" {
		t.Errorf("price = %q, want 8-decimal wire form", gotForm["price"])
	}
}

func TestTradeOgreMarketOrdersRejected(t *testing.T) {
	t.Parallel()

	adapter := newTestTradeOgre(t, http.NewServeMux())
	_, err := adapter.CreateOrder(context.Background(), "BTC/USDT", types.Market, types.Buy, 1, 0)
	if err == nil {
		t.Fatal("market orders should be rejected")
	}
}

func TestTradeOgreFetchOrderStatus(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/account/order/open-1", func(w http.ResponseWriter, r *http.Request) {
		jsonReply(w, map[string]any{
			"success": true, "date": 1700000000, "type": "sell",
			"market": "BTC-USDT", "price": "64000", "quantity": "0.5", "fulfilled": "0.1",
		})
	})
	mux.HandleFunc("/account/order/done-1", func(w http.ResponseWriter, r *http.Request) {
		jsonReply(w, map[string]any{
			"success": true, "date": 1700000000, "type": "buy",
			"market": "BTC-USDT", "price": "64000", "quantity": "0", "fulfilled": "0.5",
		})
	})

	adapter := newTestTradeOgre(t, mux)

	open, err := adapter.FetchOrder(context.Background(), "open-1", "BTC/USDT")
	if err != nil {
		t.Fatalf("FetchOrder open: %v", err)
	}
	if open.Status != types.StatusOpen {
		t.Errorf("partially filled order Status = %q, want open", open.Status)
	}
	if open.Filled != 0.1 || open.Remaining != 0.5 {
		t.Errorf("Filled/Remaining = %v/%v", open.Filled, open.Remaining)
	}

	done, err := adapter.FetchOrder(context.Background(), "done-1", "BTC/USDT")
	if err != nil {
		t.Fatalf("FetchOrder done: %v", err)
	}
	if done.Status != types.StatusClosed {
		t.Errorf("filled order Status = %q, want closed", done.Status)
	}
	if done.Cost == nil || *done.Cost != 0.5*64000 {
		t.Errorf("Cost = %v", done.Cost)
	}
}

func TestTradeOgreFetchMarkets(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/markets", func(w http.ResponseWriter, r *http.Request) {
		jsonReply(w, []map[string]any{
			{"BTC-USDT": map[string]any{"initialprice": "64000"}},
			{"XMR-BTC": map[string]any{"initialprice": "0.0035"}},
		})
	})

	adapter := newTestTradeOgre(t, mux)
	markets, err := adapter.FetchMarkets(context.Background())
	if err != nil {
		t.Fatalf("FetchMarkets: %v", err)
	}
	if len(markets) != 2 {
		t.Fatalf("got %d markets", len(markets))
	}

	bySymbol := map[string]types.MarketInfo{}
	for _, m := range markets {
		bySymbol[m.Symbol] = m
	}
	btc, ok := bySymbol["BTC/USDT"]
	if !ok {
		t.Fatal("BTC/USDT missing")
	}
	if btc.ID != "BTC-USDT" || btc.Base != "BTC" || btc.Quote != "USDT" {
		t.Errorf("market = %+v", btc)
	}
}

func TestTradeOgreOrderBookSorted(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/orders/BTC-USDT", func(w http.ResponseWriter, r *http.Request) {
		jsonReply(w, map[string]any{
			"success": true,
			"buy":     map[string]string{"64000": "0.5", "64100": "0.2", "63900": "1.0"},
			"sell":    map[string]string{"64300": "0.1", "64200": "0.4"},
		})
	})

	adapter := newTestTradeOgre(t, mux)
	book, err := adapter.FetchOrderBook(context.Background(), "BTC/USDT")
	if err != nil {
		t.Fatalf("FetchOrderBook: %v", err)
	}

	if book.Bids[0][0] != 64100 {
		t.Errorf("best bid = %v, want highest first", book.Bids[0][0])
	}
	if book.Asks[0][0] != 64200 {
		t.Errorf("best ask = %v, want lowest first", book.Asks[0][0])
	}
}

func TestSafeFloat(t *testing.T) {
	t.Parallel()

	m := map[string]any{
		"str":   "1.5",
		"num":   2.5,
		"junk":  "abc",
		"null":  nil,
		"space": " 3.5 ",
	}

	cases := []struct {
		key  string
		want float64
	}{
		{"str", 1.5},
		{"num", 2.5},
		{"junk", 9},
		{"null", 9},
		{"missing", 9},
		{"space", 3.5},
	}
	for _, tc := range cases {
		if got := safeFloat(m, tc.key, 9); got != tc.want {
			t.Errorf("safeFloat(%q) = %v, want %v", tc.key, got, tc.want)
		}
	}
}
