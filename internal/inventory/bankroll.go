// bankroll.go tracks the engine's usable capital.
//
// Exchange balance observations are EMA-smoothed so a single odd reading
// cannot swing sizing; a snapshot older than a minute is distrusted and the
// engine falls back to the configured fixed bankroll. When even the fallback
// view drops under the configured threshold the circuit opens: the engine
// stops placing orders but keeps reconciling fills.
package inventory

import (
	"sync"
	"time"

	"updown-mm/internal/config"
	"updown-mm/pkg/types"
)

// snapshotMaxAge bounds how long a smoothed observation stays usable.
const snapshotMaxAge = 60 * time.Second

// Snapshot is the current bankroll view.
type Snapshot struct {
	FetchedAt      time.Time
	Usdc           float64
	Equity         float64
	SmoothedUsdc   float64
	SmoothedEquity float64
}

// Bankroll smooths balance observations and answers sizing questions.
type Bankroll struct {
	mu    sync.Mutex
	cfg   config.BankrollConfig
	risk  config.RiskConfig
	clock types.Clock
	snap  Snapshot
}

// NewBankroll creates a bankroll tracker. cfg is assumed normalized (alpha
// already clamped to [0.01, 1]).
func NewBankroll(cfg config.BankrollConfig, risk config.RiskConfig, clock types.Clock) *Bankroll {
	return &Bankroll{cfg: cfg, risk: risk, clock: clock}
}

// Observe folds a fresh exchange reading into the smoothed values:
// smoothed ← α·observed + (1−α)·smoothed_prev.
func (b *Bankroll) Observe(usdc, equity float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	alpha := b.cfg.SmoothingAlpha
	if b.snap.FetchedAt.IsZero() {
		// First observation seeds the EMA directly.
		b.snap.SmoothedUsdc = usdc
		b.snap.SmoothedEquity = equity
	} else {
		b.snap.SmoothedUsdc = alpha*usdc + (1-alpha)*b.snap.SmoothedUsdc
		b.snap.SmoothedEquity = alpha*equity + (1-alpha)*b.snap.SmoothedEquity
	}
	b.snap.Usdc = usdc
	b.snap.Equity = equity
	b.snap.FetchedAt = b.clock.Now()
}

// Snapshot returns a copy of the current view.
func (b *Bankroll) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snap
}

// Effective returns the capital the engine may deploy:
// tradingFraction × source, where source depends on the configured mode.
// Stale or non-positive smoothed values fall back to the fixed bankroll.
func (b *Bankroll) Effective() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg.TradingFraction * b.sourceLocked()
}

func (b *Bankroll) sourceLocked() float64 {
	var candidate float64
	switch b.cfg.Mode {
	case "AUTO_CASH":
		candidate = b.snap.SmoothedUsdc
	case "AUTO_EQUITY":
		candidate = b.snap.SmoothedEquity
	default: // FIXED
		return b.cfg.BankrollUsd
	}

	if b.snap.FetchedAt.IsZero() || b.clock.Now().Sub(b.snap.FetchedAt) > snapshotMaxAge {
		return b.cfg.BankrollUsd
	}
	if candidate <= 0 {
		return b.cfg.BankrollUsd
	}
	return candidate
}

// CircuitOpen reports whether the effective bankroll is under the configured
// minimum. While open the engine skips evaluation but still processes fills.
func (b *Bankroll) CircuitOpen() bool {
	if b.cfg.MinThreshold <= 0 {
		return false
	}
	return b.Effective() < b.cfg.MinThreshold
}

// SizingMultiplier scales order sizes by how the actual bankroll compares to
// the configured reference, clamped to the configured band. Returns 1 when
// dynamic sizing is disabled or no reference is set.
func (b *Bankroll) SizingMultiplier() float64 {
	if !b.risk.DynamicSizingEnabled || b.cfg.BankrollUsd <= 0 {
		return 1
	}

	mult := b.Effective() / (b.cfg.TradingFraction * b.cfg.BankrollUsd)
	if mult < b.risk.DynamicSizingMinMultiplier {
		return b.risk.DynamicSizingMinMultiplier
	}
	if mult > b.risk.DynamicSizingMaxMultiplier {
		return b.risk.DynamicSizingMaxMultiplier
	}
	return mult
}
