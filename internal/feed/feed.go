// Package feed delivers top-of-book state for subscribed tokens.
//
// Feed wires the market-channel WebSocket (ws.go) into the TopOfBook cache
// (tob.go) and keeps a bounded buffer of public trade prints that the paper
// simulator's tape mode consumes. Subscriptions are set-semantics: callers
// hand over the full desired token set each refresh and the feed applies
// deltas.
package feed

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"updown-mm/pkg/types"
)

// maxPrints bounds the trade-print buffer; older prints are discarded.
const maxPrints = 4096

// Feed is the read-only market data source for the engine and simulator.
type Feed struct {
	conn   *Conn
	cache  *Cache
	clock  types.Clock
	logger *slog.Logger

	printsMu sync.Mutex
	prints   []types.TradePrint // append-only within the window, trimmed at maxPrints
}

// New creates a feed for the given market WebSocket URL.
func New(wsURL string, clock types.Clock, logger *slog.Logger) *Feed {
	return &Feed{
		conn:   NewConn(wsURL, logger),
		cache:  NewCache(clock),
		clock:  clock,
		logger: logger.With("component", "feed"),
	}
}

// Run maintains the connection and applies events to the cache until ctx is
// cancelled.
func (f *Feed) Run(ctx context.Context) error {
	go func() {
		if err := f.conn.Run(ctx); err != nil && ctx.Err() == nil {
			f.logger.Error("websocket loop exited", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-f.conn.BookEvents():
			f.cache.ApplyBook(evt)
		case evt := <-f.conn.PriceChangeEvents():
			f.cache.ApplyPriceChange(evt)
		case evt := <-f.conn.LastTradeEvents():
			f.cache.ApplyLastTrade(evt)
			f.recordPrint(evt)
		}
	}
}

// SetSubscriptions reconciles the subscribed token set toward desired.
func (f *Feed) SetSubscriptions(ctx context.Context, tokens []string) error {
	return f.conn.SetSubscriptions(ctx, tokens)
}

// TopOfBook returns the latest observation for a token.
func (f *Feed) TopOfBook(token string) (types.TopOfBook, bool) {
	return f.cache.TopOfBook(token)
}

// Evict drops cached state for expired markets' tokens.
func (f *Feed) Evict(tokens ...string) {
	f.cache.Evict(tokens...)

	drop := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		drop[t] = true
	}
	f.printsMu.Lock()
	kept := f.prints[:0]
	for _, p := range f.prints {
		if !drop[p.Token] {
			kept = append(kept, p)
		}
	}
	f.prints = kept
	f.printsMu.Unlock()
}

// Close tears down the WebSocket connection.
func (f *Feed) Close() error {
	return f.conn.Close()
}

// RecentPrints returns prints for the given tokens within lookback, sorted by
// timestamp ascending, capped at limit. This is the simulator's "ws" tape
// source.
func (f *Feed) RecentPrints(tokens map[string]bool, lookback time.Duration, limit int) []types.TradePrint {
	cutoff := f.clock.Now().Add(-lookback)

	f.printsMu.Lock()
	out := make([]types.TradePrint, 0, limit)
	for _, p := range f.prints {
		if p.TS.Before(cutoff) || !tokens[p.Token] {
			continue
		}
		out = append(out, p)
	}
	f.printsMu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (f *Feed) recordPrint(evt types.WSLastTradeEvent) {
	price := parsePrice(evt.Price)
	if price <= 0 {
		return
	}
	p := types.TradePrint{
		TS:    f.clock.Now(),
		Token: evt.AssetID,
		Side:  types.Side(evt.Side),
		Price: price,
		Size:  parsePrice(evt.Size),
	}

	f.printsMu.Lock()
	f.prints = append(f.prints, p)
	if len(f.prints) > maxPrints {
		// Drop the older half in one move instead of shifting per append.
		copy(f.prints, f.prints[len(f.prints)/2:])
		f.prints = f.prints[:len(f.prints)-len(f.prints)/2]
	}
	f.printsMu.Unlock()
}
