// Package quote is the pure pricing and sizing calculator.
//
// Everything here is deterministic given its inputs (random draws take an
// injected *rand.Rand), never touches the network, and never holds a lock:
// the engine feeds it top-of-book snapshots and inventory and gets back a
// maker price and a share size, or a no-quote.
package quote

import (
	"math"

	"github.com/shopspring/decimal"

	"updown-mm/internal/config"
	"updown-mm/pkg/types"
)

// minQuoteShares is the exchange minimum; anything smaller is a no-quote.
const minQuoteShares = 0.01

// FloorToTick quantizes a price down to the tick grid.
func FloorToTick(price float64, tick types.TickSize) float64 {
	t := decimal.NewFromFloat(tick.Float())
	p := decimal.NewFromFloat(price)
	f, _ := p.Div(t).Floor().Mul(t).Float64()
	return f
}

// CeilToTick quantizes a price up to the tick grid.
func CeilToTick(price float64, tick types.TickSize) float64 {
	t := decimal.NewFromFloat(tick.Float())
	p := decimal.NewFromFloat(price)
	f, _ := p.Div(t).Ceil().Mul(t).Float64()
	return f
}

// EntryPrice computes the tick-quantized maker price for one leg.
//
// BUY joins the bid plus signed skew/improve ticks, floored to the grid, and
// never crosses: the result is capped one tick under the best ask. SELL is
// the mirror image off the ask. ok is false when no maker price exists
// inside (0, 1) that does not cross the book.
func EntryPrice(side types.Side, tob types.TopOfBook, tick types.TickSize, skewTicks, improveTicks float64) (price float64, ok bool) {
	t := tick.Float()
	if t <= 0 {
		return 0, false
	}

	if side == types.BUY {
		price = FloorToTick(tob.BestBid+(skewTicks+improveTicks)*t, tick)
		if tob.BestAsk > 0 && price >= tob.BestAsk {
			price = FloorToTick(tob.BestAsk-t, tick)
		}
	} else {
		price = CeilToTick(tob.BestAsk-(skewTicks+improveTicks)*t, tick)
		if tob.BestBid > 0 && price <= tob.BestBid {
			price = CeilToTick(tob.BestBid+t, tick)
		}
	}

	if price <= 0 || price >= 1 {
		return 0, false
	}
	return price, true
}

// SkewTicks maps inventory imbalance onto signed per-leg price skew.
//
// |imbalance| is capped at maxShares and mapped linearly onto [0, maxTicks].
// The heavy leg gets the negative sign (pulls its quote back so the
// imbalance stops growing), the light leg the positive (chases rebalancing
// fills).
func SkewTicks(leg types.Leg, imbalance float64, cfg config.EngineConfig) float64 {
	if cfg.CompleteSetMaxSkewTicks <= 0 || cfg.CompleteSetMaxSkewShares <= 0 || imbalance == 0 {
		return 0
	}

	capped := math.Min(math.Abs(imbalance), cfg.CompleteSetMaxSkewShares)
	ticks := capped / cfg.CompleteSetMaxSkewShares * float64(cfg.CompleteSetMaxSkewTicks)

	heavy := types.LegUp
	if imbalance < 0 {
		heavy = types.LegDown
	}
	if leg == heavy {
		return -ticks
	}
	return ticks
}

// SizeInput carries everything the sizing pipeline needs for one order.
type SizeInput struct {
	Base       float64 // cfg.quote_size, shares
	Multiplier float64 // dynamic bankroll sizing multiplier
	SkewFactor float64 // price-level × momentum size skew
	Price      float64
	Bankroll   float64 // effective deployable capital
	Exposure   float64 // current absolute cost basis across all markets
}

// Size runs the share-sizing pipeline: scale the base, then shrink through
// the per-order, global-exposure, and risk caps, and finally quantize down
// to two decimals. Returns 0 for a no-quote.
func Size(in SizeInput, risk config.RiskConfig) float64 {
	if in.Price <= 0 {
		return 0
	}

	shares := in.Base * in.Multiplier * in.SkewFactor

	if risk.MaxOrderNotionalUsd > 0 {
		shares = math.Min(shares, risk.MaxOrderNotionalUsd/in.Price)
	}
	if risk.MaxOrderBankrollFraction > 0 {
		shares = math.Min(shares, risk.MaxOrderBankrollFraction*in.Bankroll/in.Price)
	}

	if risk.MaxTotalBankrollFraction > 0 {
		remaining := risk.MaxTotalBankrollFraction*in.Bankroll - in.Exposure
		if remaining <= 0 {
			return 0
		}
		shares = math.Min(shares, remaining/in.Price)
	}

	if risk.MaxOrderSize > 0 {
		shares = math.Min(shares, risk.MaxOrderSize)
	}

	quantized, _ := decimal.NewFromFloat(shares).RoundDown(2).Float64()
	if quantized < minQuoteShares {
		return 0
	}
	return quantized
}
