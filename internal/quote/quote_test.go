package quote

import (
	"math"
	"testing"

	"updown-mm/internal/config"
	"updown-mm/pkg/types"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestFloorAndCeilToTick(t *testing.T) {
	t.Parallel()

	if got := FloorToTick(0.487, types.Tick001); !almostEqual(got, 0.48) {
		t.Errorf("FloorToTick(0.487, 0.01) = %v, want 0.48", got)
	}
	if got := CeilToTick(0.481, types.Tick001); !almostEqual(got, 0.49) {
		t.Errorf("CeilToTick(0.481, 0.01) = %v, want 0.49", got)
	}
	// Exact grid points stay put.
	if got := FloorToTick(0.48, types.Tick001); !almostEqual(got, 0.48) {
		t.Errorf("FloorToTick(0.48) = %v, want 0.48", got)
	}
	if got := FloorToTick(0.4871, types.Tick0001); !almostEqual(got, 0.487) {
		t.Errorf("FloorToTick(0.4871, 0.001) = %v, want 0.487", got)
	}
}

func TestEntryPriceJoinsBid(t *testing.T) {
	t.Parallel()

	tob := types.TopOfBook{BestBid: 0.48, BestAsk: 0.52}
	got, ok := EntryPrice(types.BUY, tob, types.Tick001, 0, 0)
	if !ok || !almostEqual(got, 0.48) {
		t.Errorf("EntryPrice = %v/%v, want 0.48", got, ok)
	}
}

func TestEntryPriceAppliesSkewAndImprove(t *testing.T) {
	t.Parallel()

	tob := types.TopOfBook{BestBid: 0.48, BestAsk: 0.55}

	got, ok := EntryPrice(types.BUY, tob, types.Tick001, 1, 2)
	if !ok || !almostEqual(got, 0.51) {
		t.Errorf("bid+3 ticks = %v/%v, want 0.51", got, ok)
	}

	// Negative skew pulls the quote behind the bid.
	got, ok = EntryPrice(types.BUY, tob, types.Tick001, -2, 0)
	if !ok || !almostEqual(got, 0.46) {
		t.Errorf("bid−2 ticks = %v/%v, want 0.46", got, ok)
	}
}

func TestEntryPriceNeverCrosses(t *testing.T) {
	t.Parallel()

	tob := types.TopOfBook{BestBid: 0.48, BestAsk: 0.49}

	// Improvement would land on the ask; cap one tick below it.
	got, ok := EntryPrice(types.BUY, tob, types.Tick001, 0, 3)
	if !ok || !almostEqual(got, 0.48) {
		t.Errorf("capped price = %v/%v, want 0.48", got, ok)
	}

	sell, ok := EntryPrice(types.SELL, tob, types.Tick001, 0, 3)
	if !ok || !almostEqual(sell, 0.49) {
		t.Errorf("sell capped price = %v/%v, want 0.49", sell, ok)
	}
}

func TestEntryPriceRejectsDegenerate(t *testing.T) {
	t.Parallel()

	tob := types.TopOfBook{BestBid: 0.01, BestAsk: 0.02}
	if _, ok := EntryPrice(types.BUY, tob, types.Tick001, -5, 0); ok {
		t.Error("price pulled to zero must be a no-quote")
	}

	high := types.TopOfBook{BestBid: 0.99, BestAsk: 0}
	if _, ok := EntryPrice(types.BUY, high, types.Tick001, 5, 0); ok {
		t.Error("price at or above 1 must be a no-quote")
	}
}

func TestSkewTicksLinearMap(t *testing.T) {
	t.Parallel()

	cfg := config.EngineConfig{
		CompleteSetMaxSkewTicks:  4,
		CompleteSetMaxSkewShares: 20,
	}

	// UP-heavy by 10 of 20 → 2 ticks; negative on the heavy leg.
	if got := SkewTicks(types.LegUp, 10, cfg); !almostEqual(got, -2) {
		t.Errorf("heavy leg skew = %v, want -2", got)
	}
	if got := SkewTicks(types.LegDown, 10, cfg); !almostEqual(got, 2) {
		t.Errorf("light leg skew = %v, want 2", got)
	}

	// Imbalance beyond the cap saturates at maxTicks.
	if got := SkewTicks(types.LegDown, 100, cfg); !almostEqual(got, 4) {
		t.Errorf("saturated skew = %v, want 4", got)
	}

	// DOWN-heavy flips the signs.
	if got := SkewTicks(types.LegDown, -10, cfg); !almostEqual(got, -2) {
		t.Errorf("down-heavy down leg = %v, want -2", got)
	}

	if got := SkewTicks(types.LegUp, 0, cfg); got != 0 {
		t.Errorf("balanced book skew = %v, want 0", got)
	}
}

func testRisk() config.RiskConfig {
	return config.RiskConfig{
		MaxOrderBankrollFraction: 0.25,
		MaxTotalBankrollFraction: 1.0,
		MaxOrderNotionalUsd:      100,
		MaxOrderSize:             500,
	}
}

func TestSizeBasePath(t *testing.T) {
	t.Parallel()

	in := SizeInput{Base: 10, Multiplier: 1, SkewFactor: 1, Price: 0.50, Bankroll: 1000}
	if got := Size(in, testRisk()); got != 10 {
		t.Errorf("Size = %v, want 10", got)
	}
}

func TestSizeNotionalCap(t *testing.T) {
	t.Parallel()

	// 100 USD at 0.50 caps at 200 shares.
	in := SizeInput{Base: 1000, Multiplier: 1, SkewFactor: 1, Price: 0.50, Bankroll: 100000}
	if got := Size(in, testRisk()); got != 200 {
		t.Errorf("Size = %v, want notional cap 200", got)
	}
}

func TestSizeBankrollFractionCap(t *testing.T) {
	t.Parallel()

	risk := testRisk()
	risk.MaxOrderNotionalUsd = 0
	// 0.25 × 100 / 0.50 = 50 shares
	in := SizeInput{Base: 1000, Multiplier: 1, SkewFactor: 1, Price: 0.50, Bankroll: 100}
	if got := Size(in, risk); got != 50 {
		t.Errorf("Size = %v, want 50", got)
	}
}

func TestSizeExposureExhausted(t *testing.T) {
	t.Parallel()

	in := SizeInput{Base: 10, Multiplier: 1, SkewFactor: 1, Price: 0.50, Bankroll: 100, Exposure: 100}
	if got := Size(in, testRisk()); got != 0 {
		t.Errorf("Size = %v, want 0 when exposure budget is spent", got)
	}
}

func TestSizeRemainingExposureShrinks(t *testing.T) {
	t.Parallel()

	risk := testRisk()
	// Budget 100, spent 95 → 5 USD left → 10 shares at 0.50.
	in := SizeInput{Base: 100, Multiplier: 1, SkewFactor: 1, Price: 0.50, Bankroll: 100, Exposure: 95}
	if got := Size(in, risk); got != 10 {
		t.Errorf("Size = %v, want 10", got)
	}
}

func TestSizeQuantizesDown(t *testing.T) {
	t.Parallel()

	in := SizeInput{Base: 10.567, Multiplier: 1, SkewFactor: 1, Price: 0.50, Bankroll: 1000}
	if got := Size(in, testRisk()); got != 10.56 {
		t.Errorf("Size = %v, want 10.56", got)
	}
}

func TestSizeDustIsNoQuote(t *testing.T) {
	t.Parallel()

	in := SizeInput{Base: 0.004, Multiplier: 1, SkewFactor: 1, Price: 0.50, Bankroll: 1000}
	if got := Size(in, testRisk()); got != 0 {
		t.Errorf("Size = %v, want 0 for dust", got)
	}
}
