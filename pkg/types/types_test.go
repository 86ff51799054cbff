package types

import (
	"testing"
	"time"
)

func TestLegOpposite(t *testing.T) {
	t.Parallel()

	if LegUp.Opposite() != LegDown {
		t.Errorf("LegUp.Opposite() = %v, want LegDown", LegUp.Opposite())
	}
	if LegDown.Opposite() != LegUp {
		t.Errorf("LegDown.Opposite() = %v, want LegUp", LegDown.Opposite())
	}
	if LegUp.Opposite().Opposite() != LegUp {
		t.Error("Opposite should be an involution")
	}
}

func TestSeriesFromSlug(t *testing.T) {
	t.Parallel()

	tests := []struct {
		slug string
		want SeriesKey
	}{
		{"btc-updown-15m-1756100700", SeriesBTC15m},
		{"eth-updown-15m-1756100700", SeriesETH15m},
		{"btc-updown-1h-1756101600", SeriesBTC1h},
		{"eth-updown-1h-1756101600", SeriesETH1h},
		{"BTC-UPDOWN-15M-1756100700", SeriesBTC15m},
		{"sol-updown-15m-1756100700", SeriesOther},
		{"will-x-happen-by-friday", SeriesOther},
	}

	for _, tt := range tests {
		if got := SeriesFromSlug(tt.slug); got != tt.want {
			t.Errorf("SeriesFromSlug(%q) = %v, want %v", tt.slug, got, tt.want)
		}
	}
}

func TestSeriesCycleDuration(t *testing.T) {
	t.Parallel()

	if d := SeriesBTC15m.CycleDuration(); d != 15*time.Minute {
		t.Errorf("btc-15m cycle = %v, want 15m", d)
	}
	if d := SeriesETH1h.CycleDuration(); d != time.Hour {
		t.Errorf("eth-1h cycle = %v, want 1h", d)
	}
	if d := SeriesOther.CycleDuration(); d != 0 {
		t.Errorf("other cycle = %v, want 0", d)
	}
}

func TestNormalizeStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want OrderStatus
	}{
		{"live", StatusOpen},
		{"LIVE", StatusOpen},
		{"  matched  ", StatusFilled},
		{"FILLED", StatusFilled},
		{"partially_filled", StatusPartial},
		{"cancelled", StatusCanceled},
		{"CANCELED", StatusCanceled},
		{"rejected", StatusRejected},
		{"something-new", StatusOpen}, // unknown must not free the slot
	}

	for _, tt := range tests {
		if got := NormalizeStatus(tt.raw); got != tt.want {
			t.Errorf("NormalizeStatus(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestStatusIsTerminal(t *testing.T) {
	t.Parallel()

	for _, s := range []OrderStatus{StatusFilled, StatusCanceled, StatusRejected} {
		if !s.IsTerminal() {
			t.Errorf("%v should be terminal", s)
		}
	}
	for _, s := range []OrderStatus{StatusOpen, StatusPartial} {
		if s.IsTerminal() {
			t.Errorf("%v should not be terminal", s)
		}
	}
}

func TestTopOfBookStaleness(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	fresh := TopOfBook{BestBid: 0.48, BestAsk: 0.52, UpdatedAt: now.Add(-5 * time.Second)}
	if fresh.IsStale(now, 15*time.Second) {
		t.Error("5s-old observation should not be stale at 15s threshold")
	}

	old := TopOfBook{BestBid: 0.48, BestAsk: 0.52, UpdatedAt: now.Add(-16 * time.Second)}
	if !old.IsStale(now, 15*time.Second) {
		t.Error("16s-old observation should be stale at 15s threshold")
	}

	var zero TopOfBook
	if !zero.IsStale(now, 15*time.Second) {
		t.Error("zero-value observation should always be stale")
	}
}

func TestMarketLegOf(t *testing.T) {
	t.Parallel()

	m := Market{
		Slug:      "btc-updown-15m-1756100700",
		UpToken:   "tok-up",
		DownToken: "tok-down",
		EndTime:   time.Now().Add(10 * time.Minute),
	}

	if leg, ok := m.LegOf("tok-up"); !ok || leg != LegUp {
		t.Errorf("LegOf(tok-up) = %v, %v", leg, ok)
	}
	if leg, ok := m.LegOf("tok-down"); !ok || leg != LegDown {
		t.Errorf("LegOf(tok-down) = %v, %v", leg, ok)
	}
	if _, ok := m.LegOf("tok-other"); ok {
		t.Error("LegOf should reject a foreign token")
	}
	if m.Token(LegUp) != "tok-up" || m.Token(LegDown) != "tok-down" {
		t.Error("Token(leg) mismatch")
	}
	if !m.Valid() {
		t.Error("market with slug, both tokens, and end time should be valid")
	}
}

func TestTickSizeFromFloat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tick float64
		want TickSize
	}{
		{0.1, Tick01},
		{0.01, Tick001},
		{0.001, Tick0001},
		{0.0001, Tick00001},
	}

	for _, tt := range tests {
		if got := TickSizeFromFloat(tt.tick); got != tt.want {
			t.Errorf("TickSizeFromFloat(%v) = %v, want %v", tt.tick, got, tt.want)
		}
		if got := TickSizeFromFloat(tt.tick).Float(); got != tt.tick {
			t.Errorf("round-trip %v = %v", tt.tick, got)
		}
	}
}

func TestTickSizeAmountDecimals(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tick TickSize
		want int
	}{
		{Tick01, 3},
		{Tick001, 4},
		{Tick0001, 5},
		{Tick00001, 6},
		{TickSize("unknown"), 4}, // default
	}

	for _, tt := range tests {
		if got := tt.tick.AmountDecimals(); got != tt.want {
			t.Errorf("TickSize(%q).AmountDecimals() = %d, want %d", tt.tick, got, tt.want)
		}
	}
}
