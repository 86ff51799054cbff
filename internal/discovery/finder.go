// Package discovery enumerates the currently-open Up/Down paired markets.
//
// Short-cycle markets have deterministic slugs: {asset}-updown-{15m|1h}-{unix
// start of the slot}. Instead of scanning the whole market catalog, the
// finder generates the candidate slugs for the previous two, current, and
// next two slots per asset, resolves unknown slugs against the Gamma API,
// and merges with the previously known set so a transient lookup failure
// never collapses coverage.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"updown-mm/internal/config"
	"updown-mm/pkg/types"
)

const (
	slotsBack    = 2 // previous slots per series
	slotsForward = 2 // upcoming slots per series

	prewarm15m = 90 * time.Second // quote shortly before the slot opens
	prewarm1h  = 3 * time.Minute

	// maxHorizon bounds how far ahead a market may end and still be active.
	maxHorizon = 2 * time.Hour
)

// gammaMarket is the JSON shape returned by the Gamma API for one market.
type gammaMarket struct {
	ConditionID     string `json:"conditionId"`
	Slug            string `json:"slug"`
	Active          bool   `json:"active"`
	Closed          bool   `json:"closed"`
	AcceptingOrders bool   `json:"acceptingOrders"`
	EndDate         string `json:"endDate"`
	ClobTokenIds    string `json:"clobTokenIds"`
}

// Finder polls the Gamma API for the active Up/Down market set.
type Finder struct {
	http   *resty.Client
	cfg    config.DiscoveryConfig
	clock  types.Clock
	logger *slog.Logger

	mu    sync.RWMutex
	known map[string]types.Market // slug → resolved market, pruned on expiry

	resultCh chan types.DiscoveredMarkets
}

// NewFinder creates a market finder.
func NewFinder(cfg config.Config, clock types.Clock, logger *slog.Logger) *Finder {
	client := resty.New().
		SetBaseURL(cfg.API.GammaBaseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)

	return &Finder{
		http:     client,
		cfg:      cfg.Discovery,
		clock:    clock,
		logger:   logger.With("component", "discovery"),
		known:    make(map[string]types.Market),
		resultCh: make(chan types.DiscoveredMarkets, 1),
	}
}

// Results returns the channel the engine reads discovered sets from.
func (f *Finder) Results() <-chan types.DiscoveredMarkets {
	return f.resultCh
}

// Run starts the polling loop. Blocks until ctx is cancelled.
func (f *Finder) Run(ctx context.Context) {
	// Immediate pass on startup
	f.discover(ctx)

	ticker := time.NewTicker(time.Duration(f.cfg.PollMillis) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.discover(ctx)
		}
	}
}

// Active returns the currently tradable set without waiting for the channel.
func (f *Finder) Active() []types.Market {
	now := f.clock.Now()

	f.mu.RLock()
	defer f.mu.RUnlock()

	var out []types.Market
	for _, m := range f.known {
		if ActiveNow(m, now) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

func (f *Finder) discover(ctx context.Context) {
	now := f.clock.Now()
	slugs := f.candidateSlugs(now)

	var fetched, failed int
	for _, slug := range slugs {
		f.mu.RLock()
		_, have := f.known[slug]
		f.mu.RUnlock()
		if have {
			continue
		}

		m, err := f.fetchMarket(ctx, slug)
		if err != nil {
			// Expected for slots the exchange has not minted yet.
			f.logger.Debug("slug lookup failed", "slug", slug, "error", err)
			failed++
			continue
		}
		fetched++

		f.mu.Lock()
		f.known[slug] = m
		f.mu.Unlock()
	}

	// Prune expired markets so the known set stays bounded.
	f.mu.Lock()
	for slug, m := range f.known {
		if now.After(m.EndTime) {
			delete(f.known, slug)
		}
	}
	f.mu.Unlock()

	active := f.Active()
	f.logger.Info("discovery pass",
		"candidates", len(slugs),
		"fetched", fetched,
		"failed", failed,
		"active", len(active),
	)

	result := types.DiscoveredMarkets{Markets: active, TS: now}

	// Non-blocking send: replace a stale unread result.
	select {
	case f.resultCh <- result:
	default:
		select {
		case <-f.resultCh:
		default:
		}
		f.resultCh <- result
	}
}

// candidateSlugs enumerates the deterministic slugs around now for every
// configured asset and enabled series duration.
func (f *Finder) candidateSlugs(now time.Time) []string {
	var durations []time.Duration
	if f.cfg.Enable15m {
		durations = append(durations, 15*time.Minute)
	}
	if f.cfg.Enable1h {
		durations = append(durations, time.Hour)
	}

	var slugs []string
	for _, asset := range f.cfg.Assets {
		for _, d := range durations {
			current := now.Truncate(d)
			for i := -slotsBack; i <= slotsForward; i++ {
				start := current.Add(time.Duration(i) * d)
				slugs = append(slugs, slugFor(asset, d, start))
			}
		}
	}
	return slugs
}

// slugFor renders the deterministic slug for one slot.
func slugFor(asset string, d time.Duration, start time.Time) string {
	label := "15m"
	if d == time.Hour {
		label = "1h"
	}
	return fmt.Sprintf("%s-updown-%s-%d", asset, label, start.Unix())
}

// fetchMarket resolves one slug against the Gamma API.
func (f *Finder) fetchMarket(ctx context.Context, slug string) (types.Market, error) {
	var page []gammaMarket
	resp, err := f.http.R().
		SetContext(ctx).
		SetQueryParam("slug", slug).
		SetResult(&page).
		Get("/markets")
	if err != nil {
		return types.Market{}, fmt.Errorf("fetch %s: %w", slug, err)
	}
	if resp.StatusCode() != 200 {
		return types.Market{}, fmt.Errorf("fetch %s: status %d", slug, resp.StatusCode())
	}
	if len(page) == 0 {
		return types.Market{}, fmt.Errorf("fetch %s: not found", slug)
	}

	gm := page[0]
	if !gm.Active || gm.Closed || !gm.AcceptingOrders {
		return types.Market{}, fmt.Errorf("fetch %s: not accepting orders", slug)
	}

	var tokenIDs []string
	if err := json.Unmarshal([]byte(gm.ClobTokenIds), &tokenIDs); err != nil || len(tokenIDs) < 2 {
		return types.Market{}, fmt.Errorf("fetch %s: bad token ids %q", slug, gm.ClobTokenIds)
	}

	endTime, err := time.Parse(time.RFC3339, gm.EndDate)
	if err != nil {
		return types.Market{}, fmt.Errorf("fetch %s: bad end date %q", slug, gm.EndDate)
	}

	m := types.Market{
		Slug:        gm.Slug,
		ConditionID: gm.ConditionID,
		UpToken:     tokenIDs[0],
		DownToken:   tokenIDs[1],
		EndTime:     endTime,
		Series:      types.SeriesFromSlug(gm.Slug),
	}
	if !m.Valid() {
		return types.Market{}, fmt.Errorf("fetch %s: incomplete market", slug)
	}
	return m, nil
}

// ActiveNow reports whether a market is tradable at the given instant:
// it must end within (now, now+2h] and its slot must have opened, allowing
// the series' pre-warm lead so quotes are resting when trading starts.
func ActiveNow(m types.Market, now time.Time) bool {
	if !m.EndTime.After(now) || m.EndTime.After(now.Add(maxHorizon)) {
		return false
	}

	d := m.Series.CycleDuration()
	if d == 0 {
		// Unknown cadence: trust the end-time window alone.
		return true
	}

	start := m.EndTime.Add(-d)
	return !now.Before(start.Add(-Prewarm(m.Series)))
}

// Prewarm returns how long before slot start a series may be quoted.
func Prewarm(series types.SeriesKey) time.Duration {
	if series.CycleDuration() == time.Hour {
		return prewarm1h
	}
	return prewarm15m
}
