package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"cryptobot/pkg/types"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestLoadRoundTrip(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.AddExchange(VenueConfig{
		VenueID:         "tradeogre",
		Name:            "TradeOgre",
		PermissionLevel: types.ReadOnly,
		Enabled:         true,
	})
	cfg.ActiveStrategy = "grid_trading"

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := writeConfig(t, string(data))

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ActiveStrategy != "grid_trading" {
		t.Errorf("ActiveStrategy = %q", loaded.ActiveStrategy)
	}
	if loaded.GetExchange("tradeogre") == nil {
		t.Error("tradeogre venue lost in round trip")
	}
}

func TestLoadFillsMissingGlobalSettings(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{"exchanges":[],"global_settings":{"log_level":"debug"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GlobalSettings.String("log_level", "") != "debug" {
		t.Error("explicit setting overwritten")
	}
	if cfg.GlobalSettings.Float("max_order_age_seconds", 0) != 86400 {
		t.Error("missing setting not defaulted")
	}
}

func TestVenueConfigValidate(t *testing.T) {
	t.Parallel()

	ok := VenueConfig{VenueID: "kraken", PermissionLevel: types.ReadWrite}
	if err := ok.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	if err := (VenueConfig{PermissionLevel: types.ReadOnly}).Validate(); err == nil {
		t.Error("missing venue_id accepted")
	}
	if err := (VenueConfig{VenueID: "x", PermissionLevel: "root"}).Validate(); err == nil {
		t.Error("unknown permission level accepted")
	}
}

func TestAddRemoveExchange(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.AddExchange(VenueConfig{VenueID: "kraken", PermissionLevel: types.ReadOnly})
	cfg.AddExchange(VenueConfig{VenueID: "kraken", PermissionLevel: types.ReadWrite})

	if len(cfg.Exchanges) != 1 {
		t.Fatalf("AddExchange should replace, have %d entries", len(cfg.Exchanges))
	}
	if cfg.Exchanges[0].PermissionLevel != types.ReadWrite {
		t.Error("replacement did not take")
	}

	if !cfg.RemoveExchange("kraken") {
		t.Error("RemoveExchange returned false for existing venue")
	}
	if cfg.RemoveExchange("kraken") {
		t.Error("RemoveExchange should be idempotent-false on second call")
	}
}
