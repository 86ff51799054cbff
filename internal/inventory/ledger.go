// Package inventory tracks per-market positions and the engine's view of its
// bankroll.
//
// Ledger is a pure reducer: it only mutates on confirmed fills (or an
// explicit positions sync) and never calls back into the engine. Cancels
// never touch it.
package inventory

import (
	"math"
	"sync"
	"time"

	"updown-mm/pkg/types"
)

// MarketInventory is the per-market signed share ledger. Positive shares mean
// long; imbalance = up − down, positive means UP-heavy.
type MarketInventory struct {
	UpShares   float64
	DownShares float64
	UpCost     float64 // net USDC spent on the up leg
	DownCost   float64

	LastUpFillAt    time.Time
	LastDownFillAt  time.Time
	LastUpFillPrice float64
	LastDownFillPrc float64

	LastTopUpAt time.Time
}

// Shares returns the signed share count for a leg.
func (mi MarketInventory) Shares(leg types.Leg) float64 {
	if leg == types.LegUp {
		return mi.UpShares
	}
	return mi.DownShares
}

// LastFillAt returns the timestamp of the most recent fill on a leg, zero if
// the leg has never filled.
func (mi MarketInventory) LastFillAt(leg types.Leg) time.Time {
	if leg == types.LegUp {
		return mi.LastUpFillAt
	}
	return mi.LastDownFillAt
}

// LastFillPrice returns the price of the most recent fill on a leg.
func (mi MarketInventory) LastFillPrice(leg types.Leg) float64 {
	if leg == types.LegUp {
		return mi.LastUpFillPrice
	}
	return mi.LastDownFillPrc
}

// Imbalance is up − down. Positive means the up leg is heavy.
func (mi MarketInventory) Imbalance() float64 {
	return mi.UpShares - mi.DownShares
}

// HeavyLeg returns the leg with more shares; ok is false when balanced.
func (mi MarketInventory) HeavyLeg() (leg types.Leg, ok bool) {
	switch {
	case mi.UpShares > mi.DownShares:
		return types.LegUp, true
	case mi.DownShares > mi.UpShares:
		return types.LegDown, true
	}
	return types.LegUp, false
}

// Ledger holds MarketInventory records keyed by market slug. Thread-safe.
type Ledger struct {
	mu      sync.RWMutex
	markets map[string]*MarketInventory
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{markets: make(map[string]*MarketInventory)}
}

// RecordFill applies a confirmed fill. signedShares is positive for a BUY,
// negative for a SELL. price stamps the leg's last-fill price; ts its time.
func (l *Ledger) RecordFill(slug string, leg types.Leg, signedShares, price float64, ts time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	mi := l.markets[slug]
	if mi == nil {
		mi = &MarketInventory{}
		l.markets[slug] = mi
	}

	cost := signedShares * price
	if leg == types.LegUp {
		mi.UpShares += signedShares
		mi.UpCost += cost
		mi.LastUpFillAt = ts
		mi.LastUpFillPrice = price
	} else {
		mi.DownShares += signedShares
		mi.DownCost += cost
		mi.LastDownFillAt = ts
		mi.LastDownFillPrc = price
	}
}

// MarkTopUp stamps the time of the latest top-up order for cooldown checks.
func (l *Ledger) MarkTopUp(slug string, ts time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	mi := l.markets[slug]
	if mi == nil {
		mi = &MarketInventory{}
		l.markets[slug] = mi
	}
	mi.LastTopUpAt = ts
}

// Snapshot returns a copy of one market's inventory. The zero value is
// returned for unknown slugs.
func (l *Ledger) Snapshot(slug string) MarketInventory {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if mi := l.markets[slug]; mi != nil {
		return *mi
	}
	return MarketInventory{}
}

// Imbalance returns up − down for one market.
func (l *Ledger) Imbalance(slug string) float64 {
	return l.Snapshot(slug).Imbalance()
}

// Exposure returns the total absolute USDC cost basis across all markets.
// Used to bound global sizing.
func (l *Ledger) Exposure() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var total float64
	for _, mi := range l.markets {
		total += math.Abs(mi.UpCost) + math.Abs(mi.DownCost)
	}
	return total
}

// Restore seeds a market's inventory, typically from persistence on startup.
// Existing state for the slug is overwritten.
func (l *Ledger) Restore(slug string, mi MarketInventory) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := mi
	l.markets[slug] = &cp
}

// Evict drops a market's record on expiry.
func (l *Ledger) Evict(slug string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.markets, slug)
}

// SyncPositions reconciles exchange-reported holdings into the ledger,
// overwriting local share counts for tokens the exchange knows about. Fill
// timestamps are preserved: the sync corrects quantities after missed
// events, it does not re-time them. markets maps token IDs onto
// (slug, leg) so positions can be attributed.
func (l *Ledger) SyncPositions(positions []types.Market, reported map[string]float64, avgPrices map[string]float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, m := range positions {
		for _, leg := range []types.Leg{types.LegUp, types.LegDown} {
			token := m.Token(leg)
			shares, ok := reported[token]
			if !ok {
				continue
			}

			mi := l.markets[m.Slug]
			if mi == nil {
				mi = &MarketInventory{}
				l.markets[m.Slug] = mi
			}
			avg := avgPrices[token]
			if leg == types.LegUp {
				mi.UpShares = shares
				mi.UpCost = shares * avg
			} else {
				mi.DownShares = shares
				mi.DownCost = shares * avg
			}
		}
	}
}
