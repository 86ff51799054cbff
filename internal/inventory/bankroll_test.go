package inventory

import (
	"sync"
	"testing"
	"time"

	"updown-mm/internal/config"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testBankrollConfig(mode string) config.BankrollConfig {
	return config.BankrollConfig{
		BankrollUsd:     500,
		Mode:            mode,
		TradingFraction: 1.0,
		SmoothingAlpha:  0.5,
		MinThreshold:    100,
	}
}

func TestEffectiveFixedMode(t *testing.T) {
	t.Parallel()

	b := NewBankroll(testBankrollConfig("FIXED"), config.RiskConfig{}, newFakeClock())
	if got := b.Effective(); got != 500 {
		t.Errorf("Effective() = %v, want 500", got)
	}

	// Observations are irrelevant in FIXED mode.
	b.Observe(50, 60)
	if got := b.Effective(); got != 500 {
		t.Errorf("Effective() after observe = %v, want 500", got)
	}
}

func TestEffectiveAutoCashSmoothing(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	b := NewBankroll(testBankrollConfig("AUTO_CASH"), config.RiskConfig{}, clock)

	b.Observe(1000, 1200)
	if got := b.Effective(); got != 1000 {
		t.Errorf("first observation seeds the EMA: got %v, want 1000", got)
	}

	// α=0.5: smoothed = 0.5·2000 + 0.5·1000 = 1500
	b.Observe(2000, 2400)
	if got := b.Effective(); got != 1500 {
		t.Errorf("Effective() = %v, want 1500", got)
	}
}

func TestEffectiveStaleFallsBack(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	b := NewBankroll(testBankrollConfig("AUTO_CASH"), config.RiskConfig{}, clock)

	b.Observe(1000, 1200)
	clock.Advance(61 * time.Second)

	if got := b.Effective(); got != 500 {
		t.Errorf("stale snapshot must fall back to bankroll_usd, got %v", got)
	}
}

func TestEffectiveNonPositiveFallsBack(t *testing.T) {
	t.Parallel()

	b := NewBankroll(testBankrollConfig("AUTO_EQUITY"), config.RiskConfig{}, newFakeClock())
	b.Observe(0, 0)

	if got := b.Effective(); got != 500 {
		t.Errorf("non-positive candidate must fall back, got %v", got)
	}
}

func TestTradingFractionApplied(t *testing.T) {
	t.Parallel()

	cfg := testBankrollConfig("FIXED")
	cfg.TradingFraction = 0.5
	b := NewBankroll(cfg, config.RiskConfig{}, newFakeClock())

	if got := b.Effective(); got != 250 {
		t.Errorf("Effective() = %v, want 250", got)
	}
}

func TestCircuitBreaker(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	b := NewBankroll(testBankrollConfig("AUTO_CASH"), config.RiskConfig{}, clock)

	b.Observe(50, 50)
	if !b.CircuitOpen() {
		t.Error("smoothed $50 under $100 threshold should open the circuit")
	}

	b.Observe(5000, 5000)
	if b.CircuitOpen() {
		t.Error("circuit should close once the bankroll recovers")
	}
}

func TestSizingMultiplier(t *testing.T) {
	t.Parallel()

	risk := config.RiskConfig{
		DynamicSizingEnabled:       true,
		DynamicSizingMinMultiplier: 0.5,
		DynamicSizingMaxMultiplier: 2.0,
	}

	clock := newFakeClock()
	cfg := testBankrollConfig("AUTO_CASH")
	cfg.SmoothingAlpha = 1.0
	b := NewBankroll(cfg, risk, clock)

	b.Observe(750, 750)
	if got := b.SizingMultiplier(); got != 1.5 {
		t.Errorf("multiplier = %v, want 1.5 (750/500)", got)
	}

	b.Observe(10000, 10000)
	if got := b.SizingMultiplier(); got != 2.0 {
		t.Errorf("multiplier = %v, want clamp at 2.0", got)
	}

	b.Observe(10, 10)
	// 10/500 = 0.02 clamps at the floor.
	if got := b.SizingMultiplier(); got != 0.5 {
		t.Errorf("multiplier = %v, want clamp at 0.5", got)
	}
}

func TestSizingMultiplierDisabled(t *testing.T) {
	t.Parallel()

	b := NewBankroll(testBankrollConfig("FIXED"), config.RiskConfig{}, newFakeClock())
	if got := b.SizingMultiplier(); got != 1 {
		t.Errorf("disabled dynamic sizing must return 1, got %v", got)
	}
}
