package feed

import (
	"sync"
	"testing"
	"time"

	"updown-mm/pkg/types"
)

// fakeClock is a manually advanced clock for deterministic cache tests.
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

func TestCacheApplyBook(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cache := NewCache(clock)

	cache.ApplyBook(types.WSBookEvent{
		AssetID: "tok-up",
		Buys:    []types.PriceLevel{{Price: "0.48", Size: "120"}, {Price: "0.47", Size: "300"}},
		Sells:   []types.PriceLevel{{Price: "0.50", Size: "80"}},
	})

	tob, ok := cache.TopOfBook("tok-up")
	if !ok {
		t.Fatal("expected a record after ApplyBook")
	}
	if tob.BestBid != 0.48 || tob.BestBidSize != 120 {
		t.Errorf("bid = %v/%v, want 0.48/120", tob.BestBid, tob.BestBidSize)
	}
	if tob.BestAsk != 0.50 || tob.BestAskSize != 80 {
		t.Errorf("ask = %v/%v, want 0.50/80", tob.BestAsk, tob.BestAskSize)
	}
	if !tob.UpdatedAt.Equal(clock.Now()) {
		t.Error("UpdatedAt should be stamped from the injected clock")
	}
}

func TestCacheApplyPriceChange(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cache := NewCache(clock)

	cache.ApplyBook(types.WSBookEvent{
		AssetID: "tok-up",
		Buys:    []types.PriceLevel{{Price: "0.48", Size: "120"}},
		Sells:   []types.PriceLevel{{Price: "0.50", Size: "80"}},
	})

	clock.Advance(2 * time.Second)
	cache.ApplyPriceChange(types.WSPriceChangeEvent{
		PriceChanges: []types.WSPriceChange{{
			AssetID:     "tok-up",
			BestBid:     "0.49",
			BestBidSize: "40",
			// ask fields absent: previous values must survive
		}},
	})

	tob, _ := cache.TopOfBook("tok-up")
	if tob.BestBid != 0.49 || tob.BestBidSize != 40 {
		t.Errorf("bid = %v/%v, want 0.49/40", tob.BestBid, tob.BestBidSize)
	}
	if tob.BestAsk != 0.50 || tob.BestAskSize != 80 {
		t.Errorf("ask should be unchanged, got %v/%v", tob.BestAsk, tob.BestAskSize)
	}
	if !tob.UpdatedAt.Equal(clock.Now()) {
		t.Error("price change must refresh UpdatedAt")
	}
}

func TestCacheApplyLastTradeKeepsBookFreshness(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cache := NewCache(clock)

	cache.ApplyBook(types.WSBookEvent{
		AssetID: "tok-up",
		Buys:    []types.PriceLevel{{Price: "0.48", Size: "120"}},
		Sells:   []types.PriceLevel{{Price: "0.50", Size: "80"}},
	})
	bookAt := clock.Now()

	clock.Advance(3 * time.Second)
	cache.ApplyLastTrade(types.WSLastTradeEvent{AssetID: "tok-up", Price: "0.49", Size: "25", Side: "BUY"})

	tob, _ := cache.TopOfBook("tok-up")
	if tob.LastTradePrice != 0.49 || tob.LastTradeSize != 25 {
		t.Errorf("last trade = %v/%v, want 0.49/25", tob.LastTradePrice, tob.LastTradeSize)
	}
	if !tob.LastTradeAt.Equal(clock.Now()) {
		t.Error("LastTradeAt should be stamped at the trade time")
	}
	if !tob.UpdatedAt.Equal(bookAt) {
		t.Error("a trade print is not a book update: UpdatedAt must not move")
	}
}

func TestCacheEvict(t *testing.T) {
	t.Parallel()

	cache := NewCache(newFakeClock())
	cache.ApplyBook(types.WSBookEvent{AssetID: "tok-up", Buys: []types.PriceLevel{{Price: "0.48", Size: "1"}}})
	cache.ApplyBook(types.WSBookEvent{AssetID: "tok-down", Buys: []types.PriceLevel{{Price: "0.50", Size: "1"}}})

	cache.Evict("tok-up")

	if _, ok := cache.TopOfBook("tok-up"); ok {
		t.Error("evicted token should be gone")
	}
	if _, ok := cache.TopOfBook("tok-down"); !ok {
		t.Error("other tokens must survive eviction")
	}
	if cache.Len() != 1 {
		t.Errorf("Len() = %d, want 1", cache.Len())
	}
}
