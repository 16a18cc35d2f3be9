package venue

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"cryptobot/internal/config"
	"cryptobot/pkg/types"
)

// testSecret is a valid base64 blob for signing tests.
var testSecret = base64.StdEncoding.EncodeToString([]byte("kraken-test-secret"))

func newTestKraken(t *testing.T, handler http.Handler) *Kraken {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewKraken(config.VenueConfig{
		VenueID:         "kraken",
		APIKey:          "key",
		APISecret:       testSecret,
		PermissionLevel: types.ReadWrite,
		Extra:           map[string]any{"base_url": srv.URL},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func krakenPairsHandler(mux *http.ServeMux) {
	mux.HandleFunc("/0/public/AssetPairs", func(w http.ResponseWriter, r *http.Request) {
		jsonReply(w, map[string]any{
			"error": []string{},
			"result": map[string]any{
				"XXBTZUSD": map[string]any{
					"wsname": "XBT/USD", "altname": "XBTUSD",
					"base": "XXBT", "quote": "ZUSD", "status": "online",
				},
				"ADAUSD": map[string]any{
					"wsname": "ADA/USD", "altname": "ADAUSD",
					"base": "ADA", "quote": "ZUSD", "status": "online",
				},
			},
		})
	})
}

func TestKrakenFetchMarketsNormalizesAssets(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	krakenPairsHandler(mux)

	adapter := newTestKraken(t, mux)
	markets, err := adapter.FetchMarkets(context.Background())
	if err != nil {
		t.Fatalf("FetchMarkets: %v", err)
	}

	bySymbol := map[string]types.MarketInfo{}
	for _, m := range markets {
		bySymbol[m.Symbol] = m
	}
	btc, ok := bySymbol["BTC/USD"]
	if !ok {
		t.Fatalf("XBT/USD should normalize to BTC/USD, have %v", markets)
	}
	if btc.ID != "XXBTZUSD" {
		t.Errorf("ID = %q, want venue pair id", btc.ID)
	}
}

func TestKrakenFetchTicker(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	krakenPairsHandler(mux)
	mux.HandleFunc("/0/public/Ticker", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("pair"); got != "XXBTZUSD" {
			t.Errorf("pair = %q, want venue pair id", got)
		}
		jsonReply(w, map[string]any{
			"error": []string{},
			"result": map[string]any{
				"XXBTZUSD": map[string]any{
					"a": []string{"64260.0", "1", "1.0"},
					"b": []string{"64240.0", "1", "1.0"},
					"c": []string{"64250.0", "0.1"},
					"v": []string{"10.0", "25.0"},
					"h": []string{"64900.0", "65000.0"},
					"l": []string{"63100.0", "63000.0"},
				},
			},
		})
	})

	adapter := newTestKraken(t, mux)
	ticker, err := adapter.FetchTicker(context.Background(), "BTC/USD")
	if err != nil {
		t.Fatalf("FetchTicker: %v", err)
	}

	if types.Value(ticker.Bid, 0) != 64240 || types.Value(ticker.Ask, 0) != 64260 {
		t.Errorf("bid/ask = %v/%v", types.Value(ticker.Bid, 0), types.Value(ticker.Ask, 0))
	}
	if types.Value(ticker.High, 0) != 65000 {
		t.Errorf("High should use the 24h column, got %v", types.Value(ticker.High, 0))
	}
	if types.Value(ticker.BaseVolume, 0) != 25 {
		t.Errorf("BaseVolume = %v", types.Value(ticker.BaseVolume, 0))
	}
}

func TestKrakenErrorEnvelope(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	krakenPairsHandler(mux)
	mux.HandleFunc("/0/private/Balance", func(w http.ResponseWriter, r *http.Request) {
		jsonReply(w, map[string]any{"error": []string{"EAPI:Invalid key"}})
	})

	adapter := newTestKraken(t, mux)
	_, err := adapter.FetchBalance(context.Background())
	if err == nil {
		t.Fatal("expected error from error envelope")
	}
	var exErr *ExchangeError
	if !errors.As(err, &exErr) {
		t.Fatalf("want ExchangeError, got %T", err)
	}
}

func TestKrakenPrivateSigning(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/0/private/Balance", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("API-Key") != "key" {
			t.Error("API-Key header missing")
		}
		sign := r.Header.Get("API-Sign")
		if sign == "" {
			t.Error("API-Sign header missing")
		}
		if _, err := base64.StdEncoding.DecodeString(sign); err != nil {
			t.Errorf("API-Sign is not base64: %v", err)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse body: %v", err)
		}
		if r.PostFormValue("nonce") == "" {
			t.Error("nonce missing from body")
		}
		jsonReply(w, map[string]any{
			"error":  []string{},
			"result": map[string]string{"XXBT": "1.5", "ZUSD": "1000.0"},
		})
	})

	adapter := newTestKraken(t, mux)
	balances, err := adapter.FetchBalance(context.Background())
	if err != nil {
		t.Fatalf("FetchBalance: %v", err)
	}

	if balances.Free("BTC") != 1.5 {
		t.Errorf("XXBT should normalize to BTC, balances = %v", balances)
	}
	if balances.Free("USD") != 1000 {
		t.Errorf("ZUSD should normalize to USD, balances = %v", balances)
	}
}

func TestKrakenPrivateRequiresCredentials(t *testing.T) {
	t.Parallel()

	adapter := NewKraken(config.VenueConfig{
		VenueID:         "kraken",
		PermissionLevel: types.ReadOnly,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := adapter.FetchBalance(context.Background())
	if err == nil {
		t.Fatal("private call without credentials should fail")
	}
}

func TestKrakenNonceIncreases(t *testing.T) {
	t.Parallel()

	adapter := NewKraken(config.VenueConfig{VenueID: "kraken", PermissionLevel: types.ReadOnly},
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	prev := adapter.nextNonce()
	for i := 0; i < 100; i++ {
		n := adapter.nextNonce()
		if n <= prev {
			t.Fatalf("nonce not strictly increasing: %d after %d", n, prev)
		}
		prev = n
	}
}
