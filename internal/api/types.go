package api

import (
	"time"

	"updown-mm/internal/config"
)

// StatusSnapshot is the full state served at /api/snapshot and pushed to
// WebSocket clients on connect.
type StatusSnapshot struct {
	Timestamp     time.Time `json:"timestamp"`
	ExecutionMode string    `json:"execution_mode"`

	Markets []MarketStatus `json:"markets"`

	Bankroll BankrollStatus `json:"bankroll"`

	// Total absolute cost basis across all markets.
	TotalExposure float64 `json:"total_exposure"`

	Config ConfigSummary `json:"config"`
}

// MarketStatus is the per-market view: both legs' books, the complete-set
// edge, the inventory ledger, and any resting orders.
type MarketStatus struct {
	Slug         string    `json:"slug"`
	ConditionID  string    `json:"condition_id"`
	Series       string    `json:"series"`
	EndTime      time.Time `json:"end_time"`
	SecondsToEnd float64   `json:"seconds_to_end"`
	TickSize     float64   `json:"tick_size"`

	Up   LegStatus `json:"up"`
	Down LegStatus `json:"down"`

	// 1 − (bidUp + bidDown): the maker edge available at the touch.
	CompleteSetEdge float64 `json:"complete_set_edge"`

	Inventory InventoryStatus `json:"inventory"`
}

// LegStatus is one leg's book and resting order.
type LegStatus struct {
	Token       string    `json:"token"`
	BestBid     float64   `json:"best_bid"`
	BestAsk     float64   `json:"best_ask"`
	BestBidSize float64   `json:"best_bid_size"`
	BestAskSize float64   `json:"best_ask_size"`
	Spread      float64   `json:"spread"`
	UpdatedAt   time.Time `json:"updated_at"`
	Stale       bool      `json:"stale"`

	Order *OrderStatus `json:"order,omitempty"`
}

// OrderStatus is a resting order as the order manager sees it.
type OrderStatus struct {
	OrderID   string    `json:"order_id"`
	Side      string    `json:"side"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Matched   float64   `json:"matched"`
	Remaining float64   `json:"remaining"`
	CreatedAt time.Time `json:"created_at"`
}

// InventoryStatus is the per-market share ledger.
type InventoryStatus struct {
	UpShares    float64   `json:"up_shares"`
	DownShares  float64   `json:"down_shares"`
	Imbalance   float64   `json:"imbalance"`
	UpCost      float64   `json:"up_cost"`
	DownCost    float64   `json:"down_cost"`
	LastTopUpAt time.Time `json:"last_top_up_at,omitempty"`
}

// BankrollStatus is the engine's view of its capital.
type BankrollStatus struct {
	Mode        string    `json:"mode"`
	Effective   float64   `json:"effective"`
	Usdc        float64   `json:"usdc"`
	Equity      float64   `json:"equity"`
	FetchedAt   time.Time `json:"fetched_at,omitempty"`
	CircuitOpen bool      `json:"circuit_open"`
}

// ConfigSummary exposes the tunables an operator checks first. Credentials
// never appear here.
type ConfigSummary struct {
	RefreshMillis      int64   `json:"refresh_millis"`
	QuoteSize          float64 `json:"quote_size"`
	CompleteSetMinEdge float64 `json:"complete_set_min_edge"`
	CancelEdge         float64 `json:"complete_set_cancel_edge"`
	MaxSkewTicks       int     `json:"max_skew_ticks"`

	FastTopUpEnabled     bool    `json:"fast_top_up_enabled"`
	FastTopUpProbability float64 `json:"fast_top_up_probability"`
	HedgeDelayEnabled    bool    `json:"hedge_delay_enabled"`
	TakerModeEnabled     bool    `json:"taker_mode_enabled"`

	MinSecondsToEnd float64 `json:"min_seconds_to_end"`
	MaxSecondsToEnd float64 `json:"max_seconds_to_end"`

	BankrollMode     string  `json:"bankroll_mode"`
	BankrollUsd      float64 `json:"bankroll_usd"`
	MaxOrderSize     float64 `json:"max_order_size"`
	MaxOrderNotional float64 `json:"max_order_notional_usd"`

	Assets []string `json:"assets"`
}

// NewConfigSummary projects the operator-relevant slice of the config.
func NewConfigSummary(cfg config.Config) ConfigSummary {
	return ConfigSummary{
		RefreshMillis:      cfg.Engine.RefreshMillis,
		QuoteSize:          cfg.Engine.QuoteSize,
		CompleteSetMinEdge: cfg.Engine.CompleteSetMinEdge,
		CancelEdge:         cfg.Engine.CompleteSetCancelEdge,
		MaxSkewTicks:       cfg.Engine.CompleteSetMaxSkewTicks,

		FastTopUpEnabled:     cfg.Engine.FastTopUpEnabled,
		FastTopUpProbability: cfg.Engine.FastTopUpProbability,
		HedgeDelayEnabled:    cfg.Engine.HedgeDelayEnabled,
		TakerModeEnabled:     cfg.Engine.TakerModeEnabled,

		MinSecondsToEnd: cfg.Engine.MinSecondsToEnd,
		MaxSecondsToEnd: cfg.Engine.MaxSecondsToEnd,

		BankrollMode:     cfg.Bankroll.Mode,
		BankrollUsd:      cfg.Bankroll.BankrollUsd,
		MaxOrderSize:     cfg.Risk.MaxOrderSize,
		MaxOrderNotional: cfg.Risk.MaxOrderNotionalUsd,

		Assets: cfg.Discovery.Assets,
	}
}
