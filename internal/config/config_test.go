package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	cfg.OpenRouter.APIKey = "test-key"
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	cfg := validConfig(t)

	if len(cfg.Symbols) != 3 || cfg.Symbols[0] != "PERP_ETH_USDC" {
		t.Errorf("symbols = %v, want three PERP defaults", cfg.Symbols)
	}
	if cfg.AnalysisIntervalSeconds != 300 {
		t.Errorf("interval = %d, want 300", cfg.AnalysisIntervalSeconds)
	}
	if cfg.InitialBudget != 1000 {
		t.Errorf("budget = %v, want 1000", cfg.InitialBudget)
	}
	if !cfg.PaperTrading {
		t.Error("paper_trading should default to true")
	}
	if cfg.RESTBaseURL != "https://api-evm.orderly.org" {
		t.Errorf("rest_base_url = %q", cfg.RESTBaseURL)
	}
	if cfg.OpenRouter.Model != "x-ai/grok-3-mini" {
		t.Errorf("model = %q", cfg.OpenRouter.Model)
	}
	if cfg.OpenRouter.Temperature != 0.2 {
		t.Errorf("temperature = %v, want 0.2", cfg.OpenRouter.Temperature)
	}
	if cfg.Risk.MaxLossPerTradePct != 0.02 {
		t.Errorf("max loss pct = %v, want 0.02", cfg.Risk.MaxLossPerTradePct)
	}
	if cfg.Risk.Reserve.FreePct != 0.70 {
		t.Errorf("free pct = %v, want 0.70", cfg.Risk.Reserve.FreePct)
	}
	if len(cfg.LeverageScale.Thresholds) != 5 {
		t.Fatalf("leverage tiers = %d, want 5", len(cfg.LeverageScale.Thresholds))
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
symbols:
  - PERP_ETH_USDC
analysis_interval_seconds: 120
initial_budget: 5000
openrouter:
  model: openai/gpt-4o-mini
risk:
  drawdown_halt_pct: 0.25
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if len(cfg.Symbols) != 1 {
		t.Errorf("symbols = %v, want one", cfg.Symbols)
	}
	if cfg.AnalysisIntervalSeconds != 120 {
		t.Errorf("interval = %d, want 120", cfg.AnalysisIntervalSeconds)
	}
	if cfg.InitialBudget != 5000 {
		t.Errorf("budget = %v, want 5000", cfg.InitialBudget)
	}
	if cfg.OpenRouter.Model != "openai/gpt-4o-mini" {
		t.Errorf("model = %q", cfg.OpenRouter.Model)
	}
	if cfg.Risk.DrawdownHaltPct != 0.25 {
		t.Errorf("halt pct = %v, want 0.25", cfg.Risk.DrawdownHaltPct)
	}
	// Untouched keys keep their defaults.
	if cfg.Risk.DrawdownReducePct != 0.10 {
		t.Errorf("reduce pct = %v, want default 0.10", cfg.Risk.DrawdownReducePct)
	}
}

func TestAPIKeyFromEnvOnly(t *testing.T) {
	path := writeConfig(t, `
openrouter:
  api_key: should-be-ignored
`)
	t.Setenv("OPENROUTER_API_KEY", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OpenRouter.APIKey != "from-env" {
		t.Errorf("api key = %q, want value from environment", cfg.OpenRouter.APIKey)
	}
}

func TestStreamURL(t *testing.T) {
	cfg := validConfig(t)

	// Public streams work without a real account: the placeholder id
	// fills the path segment.
	want := "wss://ws-evm.orderly.org/ws/stream/" + anonymousAccountID
	if got := cfg.StreamURL(); got != want {
		t.Errorf("StreamURL() = %q, want %q", got, want)
	}

	cfg.OrderlyAccountID = "0xabc123"
	want = "wss://ws-evm.orderly.org/ws/stream/0xabc123"
	if got := cfg.StreamURL(); got != want {
		t.Errorf("StreamURL() with account id = %q, want %q", got, want)
	}

	// A trailing slash on the base must not double up.
	cfg.WSBaseURL = "wss://ws-evm.orderly.org/ws/stream/"
	if got := cfg.StreamURL(); got != want {
		t.Errorf("StreamURL() with trailing slash = %q, want %q", got, want)
	}
}

func TestTestnetEndpoints(t *testing.T) {
	path := writeConfig(t, `
testnet: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RESTBaseURL != "https://testnet-api-evm.orderly.org" {
		t.Errorf("rest_base_url = %q, want testnet endpoint", cfg.RESTBaseURL)
	}
	if cfg.WSBaseURL != "wss://testnet-ws-evm.orderly.org/ws/stream" {
		t.Errorf("ws_base_url = %q, want testnet endpoint", cfg.WSBaseURL)
	}

	// Explicit URLs win over the testnet switch.
	path = writeConfig(t, `
testnet: true
rest_base_url: https://staging.example.org
`)
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RESTBaseURL != "https://staging.example.org" {
		t.Errorf("rest_base_url = %q, explicit URL should survive testnet", cfg.RESTBaseURL)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("TRADER_INITIAL_BUDGET", "2500")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.InitialBudget != 2500 {
		t.Errorf("budget = %v, want env override 2500", cfg.InitialBudget)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty symbols", func(c *Config) { c.Symbols = nil }},
		{"zero interval", func(c *Config) { c.AnalysisIntervalSeconds = 0 }},
		{"negative budget", func(c *Config) { c.InitialBudget = -5 }},
		{"missing rest url", func(c *Config) { c.RESTBaseURL = "" }},
		{"missing api key", func(c *Config) { c.OpenRouter.APIKey = "" }},
		{"loss pct too big", func(c *Config) { c.Risk.MaxLossPerTradePct = 1.5 }},
		{"sl band inverted", func(c *Config) { c.Risk.MaxSLATRMultiple = 0.1 }},
		{"drawdown inverted", func(c *Config) { c.Risk.DrawdownHaltPct = 0.05 }},
		{"zones do not sum", func(c *Config) { c.Risk.Reserve.FreePct = 0.5 }},
		{"bad leverage tier", func(c *Config) {
			c.LeverageScale.Thresholds[0] = LeverageTier{Lo: 0.5, Hi: 0.2, MaxLeverage: 2}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestZoneSumTolerance(t *testing.T) {
	cfg := validConfig(t)
	cfg.Risk.Reserve.FreePct = 0.70 + 5e-7
	if err := cfg.Validate(); err != nil {
		t.Errorf("sub-tolerance drift should pass: %v", err)
	}

	sum := cfg.Risk.Reserve.FreePct + cfg.Risk.Reserve.GuardedPct +
		cfg.Risk.Reserve.FloorPct + cfg.Risk.Reserve.LockoutPct
	if math.Abs(sum-1.0) > 1e-6 {
		t.Fatalf("test setup drifted: sum = %v", sum)
	}
}

func TestMaxLeverageFor(t *testing.T) {
	scale := DefaultLeverageScale()

	tests := []struct {
		confidence float64
		want       float64
	}{
		{0.0, 1},
		{0.29, 1},
		{0.3, 2},
		{0.4, 2},
		{0.5, 5},
		{0.69, 5},
		{0.7, 7},
		{0.85, 10},
		{1.0, 10},
		{1.5, 1}, // outside every tier, fallback
	}

	for _, tt := range tests {
		if got := scale.MaxLeverageFor(tt.confidence); got != tt.want {
			t.Errorf("MaxLeverageFor(%v) = %v, want %v", tt.confidence, got, tt.want)
		}
	}
}
