// Package config defines all configuration for the trading engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// overrides via TRADER_* environment variables; the OpenRouter API key is
// only ever read from the OPENROUTER_API_KEY environment variable.
package config

import (
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Default Orderly EVM endpoints. Testnet twins are substituted in Load
// when testnet is set and the URLs were left at their mainnet defaults.
const (
	mainnetRESTBaseURL = "https://api-evm.orderly.org"
	mainnetWSBaseURL   = "wss://ws-evm.orderly.org/ws/stream"
	testnetRESTBaseURL = "https://testnet-api-evm.orderly.org"
	testnetWSBaseURL   = "wss://testnet-ws-evm.orderly.org/ws/stream"
)

// anonymousAccountID is the public placeholder account accepted by the
// market-data stream. Public topics need no real account.
const anonymousAccountID = "OqdphuyCtYWxwzhxyLLjOWNdFP7sQt8RPWzmb5xY"

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Symbols                 []string `mapstructure:"symbols"`
	AnalysisIntervalSeconds int      `mapstructure:"analysis_interval_seconds"`
	InitialBudget           float64  `mapstructure:"initial_budget"`
	PaperTrading            bool     `mapstructure:"paper_trading"`
	StoreReasoning          bool     `mapstructure:"store_reasoning"`
	JournalDir              string   `mapstructure:"journal_dir"`

	// Network
	Testnet          bool   `mapstructure:"testnet"`
	RESTBaseURL      string `mapstructure:"rest_base_url"`
	WSBaseURL        string `mapstructure:"ws_base_url"`
	OrderlyAccountID string `mapstructure:"orderly_account_id"`

	OpenRouter    OpenRouterConfig `mapstructure:"openrouter"`
	Risk          RiskConfig       `mapstructure:"risk"`
	LeverageScale LeverageScale    `mapstructure:"leverage_scale"`
	Logging       LoggingConfig    `mapstructure:"logging"`
	Status        StatusConfig     `mapstructure:"status"`
}

// OpenRouterConfig holds the LLM endpoint settings. APIKey is never stored
// in YAML; it comes from the OPENROUTER_API_KEY environment variable.
type OpenRouterConfig struct {
	APIKey          string  `mapstructure:"-"`
	BaseURL         string  `mapstructure:"base_url"`
	Model           string  `mapstructure:"model"`
	ReasoningEffort string  `mapstructure:"reasoning_effort"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	TimeoutSeconds  int     `mapstructure:"timeout_seconds"`
}

// ReserveConfig tunes the graduated reserve system. The four zone
// percentages partition equity and must sum to 1:
//
//   - FreePct:    always accessible.
//   - GuardedPct: unlocks after GuardedMinTrades with a sustained win rate
//     and no active losing streak.
//   - FloorPct:   unlocks only after FloorMinTrades at FloorWinRate.
//   - LockoutPct: never accessible.
//
// Trades that would dip past the free zone additionally require
// GuardedMinConfidence and GuardedMinRR, and are leverage-capped at
// GuardedMaxLeverage.
type ReserveConfig struct {
	FreePct float64 `mapstructure:"free_pct"`

	GuardedPct             float64 `mapstructure:"guarded_pct"`
	GuardedWinRate         float64 `mapstructure:"guarded_win_rate"`
	GuardedMinTrades       int     `mapstructure:"guarded_min_trades"`
	GuardedMaxLosingStreak int     `mapstructure:"guarded_max_losing_streak"`
	GuardedMinConfidence   float64 `mapstructure:"guarded_min_confidence"`
	GuardedMinRR           float64 `mapstructure:"guarded_min_rr"`
	GuardedMaxLeverage     float64 `mapstructure:"guarded_max_leverage"`

	FloorPct           float64 `mapstructure:"floor_pct"`
	FloorWinRate       float64 `mapstructure:"floor_win_rate"`
	FloorMinTrades     int     `mapstructure:"floor_min_trades"`
	FloorMinConfidence float64 `mapstructure:"floor_min_confidence"`
	FloorMinRR         float64 `mapstructure:"floor_min_rr"`

	LockoutPct float64 `mapstructure:"lockout_pct"`
}

// RiskConfig sets the hard limits every entry decision is validated against.
//
//   - MaxLossPerTradePct: fraction of accessible budget risked per trade (2% rule).
//   - MaxTotalExposurePct: cap on total margin as a fraction of equity.
//   - Min/MaxSLATRMultiple: stop-loss distance band in ATR multiples.
//   - DrawdownReducePct: halve position sizes beyond this drawdown.
//   - DrawdownHaltPct: reject all entries beyond this drawdown.
type RiskConfig struct {
	Reserve             ReserveConfig `mapstructure:"reserve"`
	MaxLossPerTradePct  float64       `mapstructure:"max_loss_per_trade_pct"`
	MaxTotalExposurePct float64       `mapstructure:"max_total_exposure_pct"`
	MinSLATRMultiple    float64       `mapstructure:"min_sl_atr_multiple"`
	MaxSLATRMultiple    float64       `mapstructure:"max_sl_atr_multiple"`
	DrawdownReducePct   float64       `mapstructure:"drawdown_reduce_pct"`
	DrawdownHaltPct     float64       `mapstructure:"drawdown_halt_pct"`
}

// LeverageTier maps a confidence interval [Lo, Hi) to a leverage ceiling.
type LeverageTier struct {
	Lo          float64 `mapstructure:"lo"`
	Hi          float64 `mapstructure:"hi"`
	MaxLeverage float64 `mapstructure:"max_leverage"`
}

// LeverageScale is the confidence-to-leverage step function.
type LeverageScale struct {
	Thresholds []LeverageTier `mapstructure:"thresholds"`
}

// MaxLeverageFor returns the leverage cap for the given confidence,
// falling back to 1x when no tier matches.
func (s LeverageScale) MaxLeverageFor(confidence float64) float64 {
	for _, t := range s.Thresholds {
		if confidence >= t.Lo && confidence < t.Hi {
			return t.MaxLeverage
		}
	}
	return 1.0
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StatusConfig controls the read-only HTTP status server. AllowedOrigins
// extends the WebSocket origin check beyond localhost and same-host.
type StatusConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides.
// A missing file is not an error — defaults cover the full surface.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("TRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(underlying(err)) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Secret only from env, never from YAML
	cfg.OpenRouter.APIKey = os.Getenv("OPENROUTER_API_KEY")

	// Testnet swaps in the testnet endpoints unless the URL was set
	// explicitly.
	if cfg.Testnet {
		if cfg.RESTBaseURL == mainnetRESTBaseURL {
			cfg.RESTBaseURL = testnetRESTBaseURL
		}
		if cfg.WSBaseURL == mainnetWSBaseURL {
			cfg.WSBaseURL = testnetWSBaseURL
		}
	}

	if len(cfg.LeverageScale.Thresholds) == 0 {
		cfg.LeverageScale = DefaultLeverageScale()
	}

	return &cfg, nil
}

// StreamURL composes the market-data WebSocket URL: the stream base plus
// the account id path segment. An unset account id falls back to the
// public placeholder, which is all the public topics need.
func (c *Config) StreamURL() string {
	id := c.OrderlyAccountID
	if id == "" {
		id = anonymousAccountID
	}
	return strings.TrimRight(c.WSBaseURL, "/") + "/" + id
}

// underlying unwraps viper's path errors to check for a missing file.
func underlying(err error) error {
	type wrapper interface{ Unwrap() error }
	for {
		w, ok := err.(wrapper)
		if !ok {
			return err
		}
		err = w.Unwrap()
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("symbols", []string{"PERP_ETH_USDC", "PERP_BTC_USDC", "PERP_SOL_USDC"})
	v.SetDefault("analysis_interval_seconds", 300)
	v.SetDefault("initial_budget", 1000.0)
	v.SetDefault("paper_trading", true)
	v.SetDefault("store_reasoning", true)
	v.SetDefault("journal_dir", "logs")

	v.SetDefault("testnet", false)
	v.SetDefault("rest_base_url", mainnetRESTBaseURL)
	v.SetDefault("ws_base_url", mainnetWSBaseURL)
	v.SetDefault("orderly_account_id", "")

	v.SetDefault("openrouter.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("openrouter.model", "x-ai/grok-3-mini")
	v.SetDefault("openrouter.reasoning_effort", "high")
	v.SetDefault("openrouter.max_tokens", 4096)
	v.SetDefault("openrouter.temperature", 0.2)
	v.SetDefault("openrouter.timeout_seconds", 60)

	v.SetDefault("risk.max_loss_per_trade_pct", 0.02)
	v.SetDefault("risk.max_total_exposure_pct", 0.80)
	v.SetDefault("risk.min_sl_atr_multiple", 0.5)
	v.SetDefault("risk.max_sl_atr_multiple", 3.0)
	v.SetDefault("risk.drawdown_reduce_pct", 0.10)
	v.SetDefault("risk.drawdown_halt_pct", 0.20)

	v.SetDefault("risk.reserve.free_pct", 0.70)
	v.SetDefault("risk.reserve.guarded_pct", 0.20)
	v.SetDefault("risk.reserve.guarded_win_rate", 0.45)
	v.SetDefault("risk.reserve.guarded_min_trades", 20)
	v.SetDefault("risk.reserve.guarded_max_losing_streak", 3)
	v.SetDefault("risk.reserve.guarded_min_confidence", 0.75)
	v.SetDefault("risk.reserve.guarded_min_rr", 2.0)
	v.SetDefault("risk.reserve.guarded_max_leverage", 3.0)
	v.SetDefault("risk.reserve.floor_pct", 0.05)
	v.SetDefault("risk.reserve.floor_win_rate", 0.60)
	v.SetDefault("risk.reserve.floor_min_trades", 30)
	v.SetDefault("risk.reserve.floor_min_confidence", 0.9)
	v.SetDefault("risk.reserve.floor_min_rr", 3.0)
	v.SetDefault("risk.reserve.lockout_pct", 0.05)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("status.enabled", true)
	v.SetDefault("status.addr", ":8090")
	v.SetDefault("status.allowed_origins", []string{})
}

// DefaultLeverageScale returns the standard confidence-to-leverage tiers.
// The top tier's Hi is 1.01 so that confidence 1.0 lands inside it.
func DefaultLeverageScale() LeverageScale {
	return LeverageScale{Thresholds: []LeverageTier{
		{Lo: 0.0, Hi: 0.3, MaxLeverage: 1},
		{Lo: 0.3, Hi: 0.5, MaxLeverage: 2},
		{Lo: 0.5, Hi: 0.7, MaxLeverage: 5},
		{Lo: 0.7, Hi: 0.85, MaxLeverage: 7},
		{Lo: 0.85, Hi: 1.01, MaxLeverage: 10},
	}}
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols must not be empty")
	}
	if c.AnalysisIntervalSeconds <= 0 {
		return fmt.Errorf("analysis_interval_seconds must be > 0")
	}
	if c.InitialBudget <= 0 {
		return fmt.Errorf("initial_budget must be > 0")
	}
	if c.RESTBaseURL == "" {
		return fmt.Errorf("rest_base_url is required")
	}
	if c.WSBaseURL == "" {
		return fmt.Errorf("ws_base_url is required")
	}
	if c.Risk.MaxLossPerTradePct <= 0 || c.Risk.MaxLossPerTradePct > 1 {
		return fmt.Errorf("risk.max_loss_per_trade_pct must be in (0, 1]")
	}
	if c.Risk.MaxTotalExposurePct <= 0 || c.Risk.MaxTotalExposurePct > 1 {
		return fmt.Errorf("risk.max_total_exposure_pct must be in (0, 1]")
	}
	if c.Risk.MinSLATRMultiple <= 0 || c.Risk.MaxSLATRMultiple <= c.Risk.MinSLATRMultiple {
		return fmt.Errorf("risk SL ATR multiples must satisfy 0 < min < max")
	}
	if c.Risk.DrawdownReducePct <= 0 || c.Risk.DrawdownHaltPct <= c.Risk.DrawdownReducePct {
		return fmt.Errorf("risk drawdown thresholds must satisfy 0 < reduce < halt")
	}

	r := c.Risk.Reserve
	sum := r.FreePct + r.GuardedPct + r.FloorPct + r.LockoutPct
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("risk.reserve zone percentages sum to %.4f, want 1.0", sum)
	}

	for i, t := range c.LeverageScale.Thresholds {
		if t.Hi <= t.Lo || t.MaxLeverage < 1 {
			return fmt.Errorf("leverage_scale.thresholds[%d] is invalid: lo=%v hi=%v max=%v",
				i, t.Lo, t.Hi, t.MaxLeverage)
		}
	}

	if c.OpenRouter.APIKey == "" {
		return fmt.Errorf("OPENROUTER_API_KEY is required (export it or put it in .env)")
	}
	return nil
}
