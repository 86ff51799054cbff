// Package config defines all configuration for the Up/Down quoting engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via UPDOWN_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Enabled       bool   `mapstructure:"enabled"`
	ExecutionMode string `mapstructure:"execution_mode"` // "live" or "paper"

	Wallet    WalletConfig    `mapstructure:"wallet"`
	API       APIConfig       `mapstructure:"api"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Bankroll  BankrollConfig  `mapstructure:"bankroll"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
	TradeTape TradeTapeConfig `mapstructure:"trade_tape"`
	Store     StoreConfig     `mapstructure:"store"`
	Status    StatusConfig    `mapstructure:"status"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// StoreConfig locates the inventory persistence directory.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// StatusConfig controls the local status HTTP server. WebSocket upgrades are
// limited to local origins unless AllowedOrigins lists others explicitly.
type StatusConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// WalletConfig holds the Ethereum wallet used for signing orders in live mode.
// PrivateKey signs L1 (EIP-712) auth and derives L2 API keys.
// FunderAddress is the on-chain address that funds orders (may differ from
// signer if using a proxy).
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	SignatureType int    `mapstructure:"signature_type"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int    `mapstructure:"chain_id"`
}

// APIConfig holds exchange API endpoints and optional pre-derived L2
// credentials. If ApiKey/Secret/Passphrase are empty, the live adapter
// derives them via L1 auth on startup.
type APIConfig struct {
	CLOBBaseURL  string `mapstructure:"clob_base_url"`
	GammaBaseURL string `mapstructure:"gamma_base_url"`
	DataBaseURL  string `mapstructure:"data_base_url"` // positions + trade-tape history
	WSMarketURL  string `mapstructure:"ws_market_url"`
	ApiKey       string `mapstructure:"api_key"`
	Secret       string `mapstructure:"secret"`
	Passphrase   string `mapstructure:"passphrase"`
}

// EngineConfig tunes the per-market quoting state machine.
//
// The complete-set edge is 1 − (priceUp + priceDown): the engine only quotes
// both legs when the planned combined cost leaves at least CompleteSetMinEdge,
// and cancels once the edge has been below CompleteSetCancelEdge for longer
// than max(750ms, RefreshMillis).
type EngineConfig struct {
	RefreshMillis      int64 `mapstructure:"refresh_millis"`       // tick period, clamped >= 100
	MinReplaceMillis   int64 `mapstructure:"min_replace_millis"`   // youngest age before replace
	ForceReplaceMillis int64 `mapstructure:"force_replace_millis"` // age after which replace is unconditional

	MinPriceDelta float64 `mapstructure:"min_price_delta"` // replace threshold, price units
	MinSizeDelta  float64 `mapstructure:"min_size_delta"`  // replace threshold, shares

	QuoteSize float64 `mapstructure:"quote_size"` // base order size in shares

	CompleteSetMinEdge    float64 `mapstructure:"complete_set_min_edge"`
	CompleteSetCancelEdge float64 `mapstructure:"complete_set_cancel_edge"`

	CompleteSetMaxSkewTicks  int     `mapstructure:"complete_set_max_skew_ticks"`
	CompleteSetMaxSkewShares float64 `mapstructure:"complete_set_max_skew_shares"`

	// Near-end top-up: taker order on the lagging leg shortly before resolution.
	CompleteSetTopUpEnabled      bool    `mapstructure:"complete_set_top_up_enabled"`
	CompleteSetTopUpSecondsToEnd float64 `mapstructure:"complete_set_top_up_seconds_to_end"`
	CompleteSetTopUpMinShares    float64 `mapstructure:"complete_set_top_up_min_shares"`

	// Fast top-up: taker order on the lagging leg soon after the leader fills.
	FastTopUpEnabled             bool    `mapstructure:"fast_top_up_enabled"`
	FastTopUpFraction            float64 `mapstructure:"fast_top_up_fraction"`
	FastTopUpMinEdge             float64 `mapstructure:"fast_top_up_min_edge"`
	FastTopUpMinShares           float64 `mapstructure:"fast_top_up_min_shares"`
	FastTopUpCooldownMillis      int64   `mapstructure:"fast_top_up_cooldown_millis"`
	FastTopUpMinSecondsAfterFill float64 `mapstructure:"fast_top_up_min_seconds_after_fill"`
	FastTopUpMaxSecondsAfterFill float64 `mapstructure:"fast_top_up_max_seconds_after_fill"`
	FastTopUpProbability         float64 `mapstructure:"fast_top_up_probability"`
	TakerMaxSpread               float64 `mapstructure:"taker_max_spread"`

	// Hedge delay: with probability 1−FastTopUpProbability after a one-leg
	// fill, the opposite leg is pulled and held for a sampled duration.
	HedgeDelayEnabled    bool    `mapstructure:"hedge_delay_enabled"`
	HedgeDelayMinSeconds float64 `mapstructure:"hedge_delay_min_seconds"`
	HedgeDelayMaxSeconds float64 `mapstructure:"hedge_delay_max_seconds"`

	// Taker mode: occasionally cross the spread on one leg.
	TakerModeEnabled     bool    `mapstructure:"taker_mode_enabled"`
	TakerModeMaxEdge     float64 `mapstructure:"taker_mode_max_edge"`
	TakerModeMaxSpread   float64 `mapstructure:"taker_mode_max_spread"`
	TakerModeProbability float64 `mapstructure:"taker_mode_probability"`

	// Trading window relative to market end.
	MinSecondsToEnd float64 `mapstructure:"min_seconds_to_end"`
	MaxSecondsToEnd float64 `mapstructure:"max_seconds_to_end"`

	TOBMaxAgeMillis     int64 `mapstructure:"tob_max_age_millis"`
	PositionsSyncMillis int64 `mapstructure:"positions_sync_millis"`
}

// Refresh returns the tick period as a duration.
func (e EngineConfig) Refresh() time.Duration {
	return time.Duration(e.RefreshMillis) * time.Millisecond
}

// TOBMaxAge returns the top-of-book staleness threshold as a duration.
func (e EngineConfig) TOBMaxAge() time.Duration {
	return time.Duration(e.TOBMaxAgeMillis) * time.Millisecond
}

// CancelEdgeGrace returns how long the planned edge must stay below the
// cancel threshold before both legs are pulled.
func (e EngineConfig) CancelEdgeGrace() time.Duration {
	grace := 750 * time.Millisecond
	if r := e.Refresh(); r > grace {
		return r
	}
	return grace
}

// BankrollConfig controls how much capital the engine believes it has.
//
//   - FIXED:       always BankrollUsd.
//   - AUTO_CASH:   EMA-smoothed USDC balance from the exchange.
//   - AUTO_EQUITY: EMA-smoothed account equity from the exchange.
//
// Smoothed snapshots older than 60s fall back to BankrollUsd.
type BankrollConfig struct {
	BankrollUsd     float64 `mapstructure:"bankroll_usd"`
	Mode            string  `mapstructure:"mode"` // FIXED | AUTO_CASH | AUTO_EQUITY
	TradingFraction float64 `mapstructure:"trading_fraction"`
	SmoothingAlpha  float64 `mapstructure:"smoothing_alpha"` // clamped to [0.01, 1.0]
	MinThreshold    float64 `mapstructure:"min_threshold"`   // circuit breaker
	RefreshMillis   int64   `mapstructure:"refresh_millis"`
}

// RiskConfig sets per-order and global sizing caps.
type RiskConfig struct {
	MaxOrderBankrollFraction float64 `mapstructure:"max_order_bankroll_fraction"`
	MaxTotalBankrollFraction float64 `mapstructure:"max_total_bankroll_fraction"`
	MaxOrderNotionalUsd      float64 `mapstructure:"max_order_notional_usd"`
	MaxOrderSize             float64 `mapstructure:"max_order_size"` // shares

	DynamicSizingEnabled       bool    `mapstructure:"dynamic_sizing_enabled"`
	DynamicSizingMinMultiplier float64 `mapstructure:"dynamic_sizing_min_multiplier"`
	DynamicSizingMaxMultiplier float64 `mapstructure:"dynamic_sizing_max_multiplier"`
}

// DiscoveryConfig controls deterministic slug enumeration for the short-cycle
// Up/Down series.
type DiscoveryConfig struct {
	PollMillis int64    `mapstructure:"poll_millis"` // clamped >= 10000
	Assets     []string `mapstructure:"assets"`      // e.g. ["btc", "eth"]
	Enable15m  bool     `mapstructure:"enable_15m"`
	Enable1h   bool     `mapstructure:"enable_1h"`
}

// SimulatorConfig tunes the paper fill model.
type SimulatorConfig struct {
	FillPollMillis        int64   `mapstructure:"fill_poll_millis"`
	MakerFillMinAgeMillis int64   `mapstructure:"maker_fill_min_age_millis"`
	LeadLagMinMillis      int64   `mapstructure:"lead_lag_min_millis"`
	MakerFillProbability  float64 `mapstructure:"maker_fill_probability"` // base per poll
	MakerFillMultiplier   float64 `mapstructure:"maker_fill_multiplier"`  // per tick above bid
	MakerFillMaxProb      float64 `mapstructure:"maker_fill_max_probability"`
	MakerFillFraction     float64 `mapstructure:"maker_fill_fraction_of_remaining"`
	MakerQueueFactorMin   float64 `mapstructure:"maker_queue_factor_min"`
	MakerQueueFactorMax   float64 `mapstructure:"maker_queue_factor_max"`
}

// TradeTapeConfig enables tape-driven maker fills in the simulator.
type TradeTapeConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	Source            string `mapstructure:"source"` // "ws" | "bid_delta" | "history"
	PollMillis        int64  `mapstructure:"poll_millis"`
	Limit             int    `mapstructure:"limit"`
	UseTradeTimestamp bool   `mapstructure:"use_trade_timestamp"`

	FallbackEnabled     bool    `mapstructure:"fallback_enabled"`
	FallbackSizeShares  float64 `mapstructure:"fallback_size_shares"`
	BidDeltaMinShares   float64 `mapstructure:"bid_delta_min_shares"`
	BidDeltaLookbackSec int     `mapstructure:"bid_delta_lookback_sec"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: UPDOWN_PRIVATE_KEY, UPDOWN_API_KEY,
// UPDOWN_API_SECRET, UPDOWN_PASSPHRASE.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("UPDOWN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if key := os.Getenv("UPDOWN_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if key := os.Getenv("UPDOWN_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("UPDOWN_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("UPDOWN_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}
	if mode := os.Getenv("UPDOWN_EXECUTION_MODE"); mode != "" {
		cfg.ExecutionMode = mode
	}

	cfg.Normalize()
	return &cfg, nil
}

// Normalize clamps out-of-range values and fills zero-value fields with
// working defaults. Called by Load; tests call it directly on hand-built
// configs.
func (c *Config) Normalize() {
	if c.ExecutionMode == "" {
		c.ExecutionMode = "paper"
	}
	c.ExecutionMode = strings.ToLower(c.ExecutionMode)

	e := &c.Engine
	if e.RefreshMillis < 100 {
		e.RefreshMillis = 100
	}
	if e.MinReplaceMillis <= 0 {
		e.MinReplaceMillis = 1000
	}
	if e.ForceReplaceMillis <= 0 {
		e.ForceReplaceMillis = 10000
	}
	if e.MinPriceDelta <= 0 {
		e.MinPriceDelta = 0.005
	}
	if e.MinSizeDelta <= 0 {
		e.MinSizeDelta = 0.5
	}
	if e.QuoteSize <= 0 {
		e.QuoteSize = 10
	}
	if e.TOBMaxAgeMillis <= 0 {
		e.TOBMaxAgeMillis = 15000
	}
	if e.PositionsSyncMillis <= 0 {
		e.PositionsSyncMillis = 60000
	}
	if e.MaxSecondsToEnd <= 0 {
		e.MaxSecondsToEnd = 7200
	}
	if e.FastTopUpProbability < 0 {
		e.FastTopUpProbability = 0
	}
	if e.FastTopUpProbability > 1 {
		e.FastTopUpProbability = 1
	}
	if e.TakerModeProbability < 0 {
		e.TakerModeProbability = 0
	}
	if e.TakerModeProbability > 1 {
		e.TakerModeProbability = 1
	}
	if e.HedgeDelayMinSeconds < 0 {
		e.HedgeDelayMinSeconds = 0
	}
	if e.HedgeDelayMaxSeconds < e.HedgeDelayMinSeconds {
		e.HedgeDelayMaxSeconds = e.HedgeDelayMinSeconds
	}

	b := &c.Bankroll
	if b.Mode == "" {
		b.Mode = "FIXED"
	}
	b.Mode = strings.ToUpper(b.Mode)
	if b.SmoothingAlpha < 0.01 {
		b.SmoothingAlpha = 0.01
	}
	if b.SmoothingAlpha > 1.0 {
		b.SmoothingAlpha = 1.0
	}
	if b.TradingFraction <= 0 || b.TradingFraction > 1 {
		b.TradingFraction = 1.0
	}
	if b.RefreshMillis <= 0 {
		b.RefreshMillis = 15000
	}

	r := &c.Risk
	if r.MaxOrderBankrollFraction <= 0 {
		r.MaxOrderBankrollFraction = 0.25
	}
	if r.MaxTotalBankrollFraction <= 0 {
		r.MaxTotalBankrollFraction = 1.0
	}
	if r.DynamicSizingMinMultiplier <= 0 {
		r.DynamicSizingMinMultiplier = 0.5
	}
	if r.DynamicSizingMaxMultiplier < r.DynamicSizingMinMultiplier {
		r.DynamicSizingMaxMultiplier = r.DynamicSizingMinMultiplier
	}

	d := &c.Discovery
	if d.PollMillis < 10000 {
		d.PollMillis = 10000
	}
	if len(d.Assets) == 0 {
		d.Assets = []string{"btc", "eth"}
	}
	if !d.Enable15m && !d.Enable1h {
		d.Enable15m = true
		d.Enable1h = true
	}

	s := &c.Simulator
	if s.FillPollMillis <= 0 {
		s.FillPollMillis = 250
	}
	if s.MakerFillMinAgeMillis < 0 {
		s.MakerFillMinAgeMillis = 0
	}
	if s.LeadLagMinMillis < 0 {
		s.LeadLagMinMillis = 0
	}
	if s.MakerFillProbability <= 0 {
		s.MakerFillProbability = 0.02
	}
	if s.MakerFillMultiplier <= 0 {
		s.MakerFillMultiplier = 1.6
	}
	if s.MakerFillMaxProb <= 0 {
		s.MakerFillMaxProb = 0.35
	}
	if s.MakerFillFraction <= 0 || s.MakerFillFraction > 1 {
		s.MakerFillFraction = 0.5
	}
	if s.MakerQueueFactorMin <= 0 {
		s.MakerQueueFactorMin = 0.3
	}
	if s.MakerQueueFactorMax < s.MakerQueueFactorMin {
		s.MakerQueueFactorMax = s.MakerQueueFactorMin
	}

	tp := &c.TradeTape
	if tp.PollMillis <= 0 {
		tp.PollMillis = 1000
	}
	if tp.Limit <= 0 {
		tp.Limit = 100
	}
	if tp.Source == "" {
		tp.Source = "ws"
	}

	if c.Store.DataDir == "" {
		c.Store.DataDir = "data"
	}
	if c.Status.Port <= 0 {
		c.Status.Port = 8080
	}
}

// Validate checks all required fields and value ranges. Wallet and API
// credentials are only required in live mode.
func (c *Config) Validate() error {
	switch c.ExecutionMode {
	case "live", "paper":
	default:
		return fmt.Errorf("execution_mode must be \"live\" or \"paper\", got %q", c.ExecutionMode)
	}

	if c.ExecutionMode == "live" {
		if c.Wallet.PrivateKey == "" {
			return fmt.Errorf("wallet.private_key is required in live mode (set UPDOWN_PRIVATE_KEY)")
		}
		if c.Wallet.ChainID == 0 {
			return fmt.Errorf("wallet.chain_id is required (137 for mainnet)")
		}
		switch c.Wallet.SignatureType {
		case 0, 1, 2:
		default:
			return fmt.Errorf("wallet.signature_type must be one of: 0 (EOA), 1 (PROXY), 2 (GNOSIS_SAFE)")
		}
		if c.Wallet.SignatureType != 0 && c.Wallet.FunderAddress == "" {
			return fmt.Errorf("wallet.funder_address is required when wallet.signature_type is 1 or 2")
		}
		if c.API.CLOBBaseURL == "" {
			return fmt.Errorf("api.clob_base_url is required in live mode")
		}
	}

	if c.API.WSMarketURL == "" {
		return fmt.Errorf("api.ws_market_url is required")
	}
	if c.API.GammaBaseURL == "" {
		return fmt.Errorf("api.gamma_base_url is required")
	}

	if c.Engine.CompleteSetMinEdge < c.Engine.CompleteSetCancelEdge {
		return fmt.Errorf("engine.complete_set_min_edge (%v) must be >= engine.complete_set_cancel_edge (%v)",
			c.Engine.CompleteSetMinEdge, c.Engine.CompleteSetCancelEdge)
	}
	if c.Engine.MinSecondsToEnd < 0 {
		return fmt.Errorf("engine.min_seconds_to_end must be >= 0")
	}
	if c.Engine.MaxSecondsToEnd <= c.Engine.MinSecondsToEnd {
		return fmt.Errorf("engine.max_seconds_to_end must be > engine.min_seconds_to_end")
	}
	if c.Engine.FastTopUpEnabled {
		if c.Engine.FastTopUpFraction <= 0 || c.Engine.FastTopUpFraction > 1 {
			return fmt.Errorf("engine.fast_top_up_fraction must be in (0, 1]")
		}
		if c.Engine.FastTopUpMaxSecondsAfterFill < c.Engine.FastTopUpMinSecondsAfterFill {
			return fmt.Errorf("engine.fast_top_up_max_seconds_after_fill must be >= min")
		}
	}

	switch c.Bankroll.Mode {
	case "FIXED", "AUTO_CASH", "AUTO_EQUITY":
	default:
		return fmt.Errorf("bankroll.mode must be one of: FIXED, AUTO_CASH, AUTO_EQUITY")
	}
	if c.Bankroll.Mode == "FIXED" && c.Bankroll.BankrollUsd <= 0 {
		return fmt.Errorf("bankroll.bankroll_usd must be > 0 in FIXED mode")
	}

	for _, a := range c.Discovery.Assets {
		if strings.TrimSpace(a) == "" {
			return fmt.Errorf("discovery.assets must not contain empty entries")
		}
	}

	return nil
}
