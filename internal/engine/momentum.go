package engine

import (
	"sync"
	"time"

	"updown-mm/internal/quote"
)

// momentumWindow is how far back the trend classifier looks.
const momentumWindow = 30 * time.Second

// momentumThresholdTicks is the minimum move, in ticks, that counts as a
// trend rather than noise.
const momentumThresholdTicks = 2.0

// pricePoint is one observation of the up leg's price.
type pricePoint struct {
	price float64
	ts    time.Time
}

// momentumTracker classifies the short-window trend of a market's up leg.
// Observations come from the last-trade signal when present, otherwise the
// book mid; stale points roll out of the window on every call.
type momentumTracker struct {
	mu     sync.Mutex
	points []pricePoint
}

func newMomentumTracker() *momentumTracker {
	return &momentumTracker{points: make([]pricePoint, 0, 64)}
}

// Observe records an up-leg price observation.
func (m *momentumTracker) Observe(price float64, ts time.Time) {
	if price <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = append(m.points, pricePoint{price: price, ts: ts})
	m.evictLocked(ts)
}

func (m *momentumTracker) evictLocked(now time.Time) {
	cutoff := now.Add(-momentumWindow)
	valid := -1
	for i, p := range m.points {
		if p.ts.After(cutoff) {
			valid = i
			break
		}
	}
	if valid == -1 {
		m.points = m.points[:0]
		return
	}
	if valid > 0 {
		m.points = m.points[valid:]
	}
}

// Classify returns the trend over the window given the market's tick size.
func (m *momentumTracker) Classify(now time.Time, tick float64) quote.Momentum {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictLocked(now)

	if len(m.points) < 2 || tick <= 0 {
		return quote.MomentumNeutral
	}

	move := m.points[len(m.points)-1].price - m.points[0].price
	switch {
	case move >= momentumThresholdTicks*tick:
		return quote.MomentumUpRising
	case move <= -momentumThresholdTicks*tick:
		return quote.MomentumUpFalling
	default:
		return quote.MomentumNeutral
	}
}
