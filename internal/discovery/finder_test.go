package discovery

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"updown-mm/pkg/types"
)

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

func testFinder(t *testing.T, assets []string, enable15m, enable1h bool) *Finder {
	t.Helper()

	f := &Finder{
		clock:    fixedClock(time.Date(2026, 8, 25, 12, 7, 0, 0, time.UTC)),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		known:    make(map[string]types.Market),
		resultCh: make(chan types.DiscoveredMarkets, 1),
	}
	f.cfg.Assets = assets
	f.cfg.Enable15m = enable15m
	f.cfg.Enable1h = enable1h
	return f
}

func TestCandidateSlugsCoverSurroundingSlots(t *testing.T) {
	t.Parallel()

	f := testFinder(t, []string{"btc"}, true, false)
	now := f.clock.Now() // 12:07 → current 15m slot starts 12:00

	slugs := f.candidateSlugs(now)
	if len(slugs) != 5 {
		t.Fatalf("got %d slugs, want 5 (two back, current, two forward)", len(slugs))
	}

	current := now.Truncate(15 * time.Minute)
	for i, offset := range []time.Duration{-30, -15, 0, 15, 30} {
		want := slugFor("btc", 15*time.Minute, current.Add(offset*time.Minute))
		if slugs[i] != want {
			t.Errorf("slugs[%d] = %q, want %q", i, slugs[i], want)
		}
	}
}

func TestCandidateSlugsPerAssetAndDuration(t *testing.T) {
	t.Parallel()

	f := testFinder(t, []string{"btc", "eth"}, true, true)
	slugs := f.candidateSlugs(f.clock.Now())

	// 2 assets × 2 durations × 5 slots
	if len(slugs) != 20 {
		t.Fatalf("got %d slugs, want 20", len(slugs))
	}

	var hourly int
	for _, s := range slugs {
		if strings.Contains(s, "-1h-") {
			hourly++
		}
	}
	if hourly != 10 {
		t.Errorf("hourly slugs = %d, want 10", hourly)
	}
}

func TestSlugFormat(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	got := slugFor("eth", time.Hour, start)
	want := "eth-updown-1h-1787659200"
	if got != want {
		t.Errorf("slugFor = %q, want %q", got, want)
	}
}

func TestActiveNowWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 25, 12, 7, 0, 0, time.UTC)
	mk := func(end time.Time) types.Market {
		return types.Market{
			Slug:    "btc-updown-15m-x",
			EndTime: end,
			Series:  types.SeriesBTC15m,
		}
	}

	cases := []struct {
		name string
		m    types.Market
		want bool
	}{
		{"current slot", mk(now.Add(8 * time.Minute)), true},
		{"already ended", mk(now.Add(-time.Second)), false},
		{"ends exactly now", mk(now), false},
		{"beyond two hours", mk(now.Add(2*time.Hour + time.Minute)), false},
		// Slot start = end − 15m; the slot opens 90s before its start.
		{"next slot outside prewarm", mk(now.Add(15*time.Minute + 8*time.Minute + 80*time.Second)), false},
		{"next slot at prewarm edge", mk(now.Add(15*time.Minute + 90*time.Second)), true},
	}

	for _, tc := range cases {
		if got := ActiveNow(tc.m, now); got != tc.want {
			t.Errorf("%s: ActiveNow = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestActiveNowHourlyPrewarm(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 25, 12, 58, 0, 0, time.UTC)
	m := types.Market{
		Slug:    "btc-updown-1h-x",
		EndTime: time.Date(2026, 8, 25, 14, 0, 0, 0, time.UTC), // slot 13:00–14:00
		Series:  types.SeriesBTC1h,
	}

	// 12:58 is 2min before the 13:00 start; hourly prewarm is 3min.
	if !ActiveNow(m, now) {
		t.Error("market inside the 3-minute hourly prewarm should be active")
	}
	if ActiveNow(m, now.Add(-90*time.Second)) {
		t.Error("market outside the prewarm window must not be active")
	}
}

func TestPruneExpiredMarkets(t *testing.T) {
	t.Parallel()

	clock := fixedClock(time.Date(2026, 8, 25, 12, 7, 0, 0, time.UTC))
	f := testFinder(t, nil, false, false)
	f.clock = clock

	now := clock.Now()
	f.known["dead"] = types.Market{Slug: "dead", EndTime: now.Add(-time.Minute), Series: types.SeriesBTC15m}
	f.known["live"] = types.Market{
		Slug: "live", UpToken: "u", DownToken: "d", ConditionID: "c",
		EndTime: now.Add(5 * time.Minute), Series: types.SeriesBTC15m,
	}

	f.discover(context.Background())

	if _, ok := f.known["dead"]; ok {
		t.Error("expired market must be pruned")
	}

	select {
	case got := <-f.resultCh:
		if len(got.Markets) != 1 || got.Markets[0].Slug != "live" {
			t.Errorf("result = %+v, want the single live market", got.Markets)
		}
	default:
		t.Fatal("discover must publish a result")
	}
}

func TestDiscoverReplacesStaleResult(t *testing.T) {
	t.Parallel()

	clock := fixedClock(time.Date(2026, 8, 25, 12, 7, 0, 0, time.UTC))
	f := testFinder(t, nil, false, false)
	f.clock = clock

	// A reader that never drains: the second pass must not block.
	f.discover(context.Background())
	f.discover(context.Background())

	select {
	case <-f.resultCh:
	default:
		t.Fatal("expected a buffered result")
	}
}
