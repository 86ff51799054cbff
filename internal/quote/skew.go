package quote

import (
	"math"
	"math/rand"
	"time"

	"updown-mm/pkg/types"
)

// Momentum classifies the short-window trend of the underlying, read off the
// up leg's recent trades.
type Momentum int

const (
	MomentumNeutral Momentum = iota
	MomentumUpRising
	MomentumUpFalling
)

func (m Momentum) String() string {
	switch m {
	case MomentumUpRising:
		return "UP_RISING"
	case MomentumUpFalling:
		return "UP_FALLING"
	default:
		return "NEUTRAL"
	}
}

// LaggingQuoteProb is the per-tick chance of quoting a leg whose size skew
// came out under 1. A failed draw skips the leg for this tick only.
const LaggingQuoteProb = 0.95

// PriceLevelFactor draws the size skew for a leg from the band keyed on that
// leg's bid: deep-priced legs are sized up, cheap legs sized down.
func PriceLevelFactor(bid float64, rng *rand.Rand) float64 {
	var lo, hi float64
	switch {
	case bid < 0.30:
		lo, hi = 0.70, 0.80
	case bid < 0.40:
		lo, hi = 0.72, 0.82
	case bid < 0.50:
		lo, hi = 0.80, 0.90
	case bid < 0.60:
		lo, hi = 0.85, 0.95
	default:
		lo, hi = 1.00, 1.20
	}
	return lo + rng.Float64()*(hi-lo)
}

// MomentumFactor shrinks the leg that momentum is running against: a rising
// underlying dampens the down leg, a falling one dampens the up leg.
func MomentumFactor(m Momentum, leg types.Leg, rng *rand.Rand) float64 {
	dampened := (m == MomentumUpRising && leg == types.LegDown) ||
		(m == MomentumUpFalling && leg == types.LegUp)
	if !dampened {
		return 1.0
	}
	return 0.55 + rng.Float64()*0.10
}

// SizeSkew combines the price-level and momentum factors for one leg.
func SizeSkew(leg types.Leg, bid float64, m Momentum, rng *rand.Rand) float64 {
	return PriceLevelFactor(bid, rng) * MomentumFactor(m, leg, rng)
}

// ShouldQuote is the per-tick Bernoulli gate on under-sized legs.
func ShouldQuote(sizeFactor float64, rng *rand.Rand) bool {
	if sizeFactor >= 1 {
		return true
	}
	return rng.Float64() < LaggingQuoteProb
}

// TakerProbability adjusts the configured taker-mode probability by series:
// 15-minute cycles cross at the configured rate, hourly cycles at half of
// it, and an unrecognized series never crosses.
func TakerProbability(series types.SeriesKey, base float64) float64 {
	switch series.CycleDuration() {
	case 15 * time.Minute:
		return base
	case time.Hour:
		return base * 0.5
	default:
		return 0
	}
}

// improveWeights is the per-series distribution over how many ticks above
// best bid a maker quote may sit. Short series stay close to the bid; hourly
// series have room for a second tick; unrecognized series never improve.
func improveWeights(series types.SeriesKey) []float64 {
	switch series.CycleDuration() {
	case 15 * time.Minute:
		return []float64{0.60, 0.40}
	case time.Hour:
		return []float64{0.50, 0.35, 0.15}
	default:
		return []float64{1.0}
	}
}

// sampleTicks draws from weights, capped at maxTicks.
func sampleTicks(weights []float64, maxTicks int, rng *rand.Rand) int {
	if maxTicks <= 0 {
		return 0
	}

	var total float64
	for i, w := range weights {
		if i > maxTicks {
			break
		}
		total += w
	}
	if total <= 0 {
		return 0
	}

	r := rng.Float64() * total
	for i, w := range weights {
		if i > maxTicks {
			break
		}
		r -= w
		if r < 0 {
			return i
		}
	}
	return 0
}

// SampleImprovePair draws the per-leg maker improvement ticks for one
// market. budget is the total tick allowance derived from the edge surplus
// (floor((plannedEdge − entryEdge)/tick)): the pair never spends more than
// that in total.
func SampleImprovePair(series types.SeriesKey, budget int, rng *rand.Rand) (up, down int) {
	if budget <= 0 {
		return 0, 0
	}

	weights := improveWeights(series)
	up = sampleTicks(weights, budget, rng)
	down = sampleTicks(weights, budget-up, rng)
	return up, down
}

// SpreadBucket buckets a spread by whole ticks; the maker-improvement cache
// is invalidated when a market's bucket changes.
func SpreadBucket(spread float64, tick types.TickSize) int {
	t := tick.Float()
	if t <= 0 || spread <= 0 {
		return 0
	}
	return int(math.Round(spread / t))
}
