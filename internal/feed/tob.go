// tob.go maintains the top-of-book cache the engine and simulator read.
//
// Full books are not mirrored: the quoting logic only consumes best bid/ask
// with sizes, so the cache keeps one TopOfBook per token, replaced atomically
// on every event. Last-trade prints are folded into the same record for the
// simulator's tape logic.
package feed

import (
	"strconv"
	"sync"

	"updown-mm/pkg/types"
)

// Cache holds the latest TopOfBook per token. Concurrency-safe.
type Cache struct {
	mu    sync.RWMutex
	books map[string]types.TopOfBook
	clock types.Clock
}

// NewCache creates an empty top-of-book cache.
func NewCache(clock types.Clock) *Cache {
	return &Cache{
		books: make(map[string]types.TopOfBook),
		clock: clock,
	}
}

// TopOfBook returns the latest observation for a token.
func (c *Cache) TopOfBook(token string) (types.TopOfBook, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tob, ok := c.books[token]
	return tob, ok
}

// ApplyBook replaces the best levels for one token from a full snapshot.
// Levels arrive best-first.
func (c *Cache) ApplyBook(evt types.WSBookEvent) {
	var bid, bidSize, ask, askSize float64
	if len(evt.Buys) > 0 {
		bid = parsePrice(evt.Buys[0].Price)
		bidSize = parsePrice(evt.Buys[0].Size)
	}
	if len(evt.Sells) > 0 {
		ask = parsePrice(evt.Sells[0].Price)
		askSize = parsePrice(evt.Sells[0].Size)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	tob := c.books[evt.AssetID]
	tob.BestBid = bid
	tob.BestBidSize = bidSize
	tob.BestAsk = ask
	tob.BestAskSize = askSize
	tob.UpdatedAt = c.clock.Now()
	c.books[evt.AssetID] = tob
}

// ApplyPriceChange folds in the refreshed best levels carried by a
// price_change event. Empty best fields leave the previous value in place.
func (c *Cache) ApplyPriceChange(evt types.WSPriceChangeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()

	for _, pc := range evt.PriceChanges {
		tob := c.books[pc.AssetID]
		if pc.BestBid != "" {
			tob.BestBid = parsePrice(pc.BestBid)
		}
		if pc.BestAsk != "" {
			tob.BestAsk = parsePrice(pc.BestAsk)
		}
		if pc.BestBidSize != "" {
			tob.BestBidSize = parsePrice(pc.BestBidSize)
		}
		if pc.BestAskSize != "" {
			tob.BestAskSize = parsePrice(pc.BestAskSize)
		}
		tob.UpdatedAt = now
		c.books[pc.AssetID] = tob
	}
}

// ApplyLastTrade records a public trade print on the token's record. The
// book levels and UpdatedAt are untouched: a trade is not a book update.
func (c *Cache) ApplyLastTrade(evt types.WSLastTradeEvent) {
	price := parsePrice(evt.Price)
	if price <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	tob := c.books[evt.AssetID]
	tob.LastTradePrice = price
	tob.LastTradeSize = parsePrice(evt.Size)
	tob.LastTradeAt = c.clock.Now()
	c.books[evt.AssetID] = tob
}

// Evict drops the records for the given tokens. Called on market expiry so
// the cache stays bounded as new slugs are minted every cycle.
func (c *Cache) Evict(tokens ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, token := range tokens {
		delete(c.books, token)
	}
}

// Len returns the number of tracked tokens.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.books)
}

func parsePrice(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
