package api

import (
	"time"

	"updown-mm/internal/config"
)

// SnapshotProvider is what the status server needs from the engine.
type SnapshotProvider interface {
	MarketsStatus() []MarketStatus
	BankrollStatus() BankrollStatus
	TotalExposure() float64
}

// BuildSnapshot assembles the full status view.
func BuildSnapshot(provider SnapshotProvider, cfg config.Config) StatusSnapshot {
	return StatusSnapshot{
		Timestamp:     time.Now(),
		ExecutionMode: cfg.ExecutionMode,
		Markets:       provider.MarketsStatus(),
		Bankroll:      provider.BankrollStatus(),
		TotalExposure: provider.TotalExposure(),
		Config:        NewConfigSummary(cfg),
	}
}
