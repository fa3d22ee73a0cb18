package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
chain:
  rpc_url: https://eth.example.org
markets:
  - id: INJ/USDT
    min_trade_size: 1
    max_trade_size: 10
allora:
  api_key: secret
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	if cfg.Monitoring.UpdateInterval() != 60*time.Second {
		t.Fatalf("unexpected default interval: %v", cfg.Monitoring.UpdateInterval())
	}
	if cfg.Monitoring.MemoryWarningThresholdMB != 1000 {
		t.Fatalf("unexpected default memory threshold: %d", cfg.Monitoring.MemoryWarningThresholdMB)
	}
	if cfg.Monitoring.MaxConsecutiveErrors != 5 {
		t.Fatalf("unexpected default error limit: %d", cfg.Monitoring.MaxConsecutiveErrors)
	}
	if cfg.Monitoring.BackoffBase() != 5*time.Second || cfg.Monitoring.BackoffCap() != 300*time.Second {
		t.Fatalf("unexpected default backoff: %v / %v",
			cfg.Monitoring.BackoffBase(), cfg.Monitoring.BackoffCap())
	}
	if cfg.Monitoring.ShutdownGrace() != 30*time.Second {
		t.Fatalf("unexpected default grace: %v", cfg.Monitoring.ShutdownGrace())
	}
	if cfg.Journal.Driver != "memory" || cfg.Reports.Driver != "memory" {
		t.Fatalf("unexpected default drivers: %s / %s", cfg.Journal.Driver, cfg.Reports.Driver)
	}
	if cfg.Chain.Network != "mainnet" {
		t.Fatalf("unexpected default network: %s", cfg.Chain.Network)
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
chain:
  network: testnet
  rpc_url: https://eth.example.org
  venue_address: "0x1234"
markets:
  - id: INJ/USDT
    min_trade_size: 1
    max_trade_size: 10
    risk_parameters:
      max_position_size: 1000
allora:
  api_key: secret
  model_id: price-model-v2
monitoring:
  update_interval_seconds: 30
  max_consecutive_errors: 7
  risk_management:
    max_daily_trades: 20
    cooldown_seconds: 120
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Monitoring.UpdateInterval() != 30*time.Second {
		t.Fatalf("unexpected interval: %v", cfg.Monitoring.UpdateInterval())
	}
	if cfg.Monitoring.MaxConsecutiveErrors != 7 {
		t.Fatalf("unexpected error limit: %d", cfg.Monitoring.MaxConsecutiveErrors)
	}
	if cfg.Monitoring.RiskManagement.MaxDailyTrades != 20 {
		t.Fatalf("unexpected daily limit: %d", cfg.Monitoring.RiskManagement.MaxDailyTrades)
	}
	if cfg.Markets[0].Risk.MaxPositionSize != 1000 {
		t.Fatalf("unexpected position limit: %v", cfg.Markets[0].Risk.MaxPositionSize)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{
			Chain: ChainConfig{RPCURL: "https://eth.example.org"},
			Markets: []MarketConfig{
				{ID: "INJ/USDT", MinTradeSize: 1, MaxTradeSize: 10},
			},
			Allora: AlloraConfig{APIKey: "secret"},
		}
		cfg.applyDefaults()
		return cfg
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg := base()
	cfg.Chain.RPCURL = " "
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for missing rpc url")
	}

	cfg = base()
	cfg.Markets = nil
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for empty market list")
	}

	cfg = base()
	cfg.Markets = append(cfg.Markets, MarketConfig{ID: "INJ/USDT", MinTradeSize: 1, MaxTradeSize: 2})
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for duplicate market id")
	}

	cfg = base()
	cfg.Markets[0].MaxTradeSize = 0.5
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for inverted size range")
	}

	cfg = base()
	cfg.Allora.APIKey = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for missing allora api key")
	}
}
