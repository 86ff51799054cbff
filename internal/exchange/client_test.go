package exchange

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"updown-mm/internal/config"
	"updown-mm/pkg/types"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	cfg := config.Config{API: config.APIConfig{CLOBBaseURL: "http://localhost:1"}}
	return NewClient(cfg, &Auth{clock: types.RealClock{}}, types.RealClock{}, logger)
}

func TestPlaceLimitRejectsBadInputs(t *testing.T) {
	t.Parallel()
	c := testClient(t)

	_, err := c.PlaceLimit(context.Background(), "tok", types.BUY, 0, 10)
	if k, ok := Kind(err); !ok || k != KindInvalidPrice {
		t.Errorf("price 0 → %v, want InvalidPrice", err)
	}

	_, err = c.PlaceLimit(context.Background(), "tok", types.BUY, 1.0, 10)
	if k, ok := Kind(err); !ok || k != KindInvalidPrice {
		t.Errorf("price 1.0 → %v, want InvalidPrice", err)
	}

	_, err = c.PlaceLimit(context.Background(), "tok", types.BUY, 0.5, 0.005)
	if k, ok := Kind(err); !ok || k != KindInvalidSize {
		t.Errorf("size 0.005 → %v, want InvalidSize", err)
	}
}

func TestTickSizeCacheHit(t *testing.T) {
	t.Parallel()
	c := testClient(t)

	// Seed the cache; the lookup must not hit the network.
	c.mu.Lock()
	c.ticks["tok"] = cachedTick{tick: 0.01, fetchedAt: time.Now()}
	c.mu.Unlock()

	tick, err := c.TickSize(context.Background(), "tok")
	if err != nil {
		t.Fatalf("TickSize: %v", err)
	}
	if tick != 0.01 {
		t.Errorf("tick = %v, want 0.01", tick)
	}
}

func TestTickSizeCacheExpiry(t *testing.T) {
	t.Parallel()
	c := testClient(t)

	// An entry older than the TTL must be refetched; with no server the call
	// fails, proving the stale entry was not served.
	c.mu.Lock()
	c.ticks["tok"] = cachedTick{tick: 0.01, fetchedAt: time.Now().Add(-tickSizeTTL - time.Minute)}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, err := c.TickSize(ctx, "tok"); err == nil {
		t.Error("stale cache entry should force a refetch (and fail without a server)")
	}
}

func TestParseFloat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want float64
	}{
		{"0.48", 0.48},
		{"100", 100},
		{"", 0},
		{"not-a-number", 0},
	}
	for _, tt := range tests {
		if got := parseFloat(tt.in); got != tt.want {
			t.Errorf("parseFloat(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
