package sim

import (
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"updown-mm/internal/config"
	"updown-mm/pkg/types"
)

// HistorySource pulls recent public prints for a token from the data API's
// trade-history endpoint. It is the highest-fidelity tape: real prints with
// transaction references, at the cost of one HTTP round trip per token per
// poll.
type HistorySource struct {
	http   *resty.Client
	clock  types.Clock
	logger *slog.Logger
}

// NewHistorySource creates a trade-history tape source against the data API.
func NewHistorySource(baseURL string, clock types.Clock, logger *slog.Logger) *HistorySource {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(1).
		SetRetryWaitTime(time.Second)

	return &HistorySource{
		http:   client,
		clock:  clock,
		logger: logger.With("component", "tape"),
	}
}

// historyTrade is the data API's JSON shape for one public trade.
type historyTrade struct {
	Asset           string  `json:"asset"`
	Side            string  `json:"side"`
	Price           float64 `json:"price"`
	Size            float64 `json:"size"`
	Timestamp       int64   `json:"timestamp"` // unix seconds
	TransactionHash string  `json:"transactionHash"`
}

// Prints implements TapeSource: one query per token, filtered to the
// lookback window. A failed lookup degrades to no prints for that token;
// the simulator's own dedup handles overlap between polls.
func (h *HistorySource) Prints(tokens []string, lookback time.Duration, limit int) []types.TradePrint {
	cutoff := h.clock.Now().Add(-lookback)

	var out []types.TradePrint
	for _, token := range tokens {
		var rows []historyTrade
		resp, err := h.http.R().
			SetQueryParam("asset", token).
			SetQueryParam("limit", strconv.Itoa(limit)).
			SetResult(&rows).
			Get("/trades")
		if err != nil {
			h.logger.Debug("trade history fetch failed", "token", token, "error", err)
			continue
		}
		if resp.StatusCode() != 200 {
			h.logger.Debug("trade history fetch failed", "token", token, "status", resp.StatusCode())
			continue
		}

		for _, r := range rows {
			ts := time.Unix(r.Timestamp, 0)
			if ts.Before(cutoff) {
				continue
			}
			side := types.BUY
			if strings.EqualFold(r.Side, string(types.SELL)) {
				side = types.SELL
			}
			out = append(out, types.TradePrint{
				TS:    ts,
				Token: token,
				Side:  side,
				Price: r.Price,
				Size:  r.Size,
				TxRef: r.TransactionHash,
			})
		}
		if limit > 0 && len(out) >= limit {
			return out[:limit]
		}
	}
	return out
}

// BidDeltaSource synthesizes trade prints from order-book deltas: when the
// size resting at an unchanged best bid shrinks, the difference is assumed
// to have traded. It is the tape source of last resort for markets where no
// public trade feed is available.
type BidDeltaSource struct {
	cfg   config.TradeTapeConfig
	books BookSource
	clock types.Clock

	mu   sync.Mutex
	prev map[string]types.TopOfBook
}

// NewBidDeltaSource creates a size-delta tape inferencer.
func NewBidDeltaSource(cfg config.TradeTapeConfig, books BookSource, clock types.Clock) *BidDeltaSource {
	return &BidDeltaSource{
		cfg:   cfg,
		books: books,
		clock: clock,
		prev:  make(map[string]types.TopOfBook),
	}
}

// Prints implements TapeSource. Each call compares the current best bid to
// the previous observation per token and emits one synthetic print for each
// size decrease at the same price level.
func (b *BidDeltaSource) Prints(tokens []string, _ time.Duration, limit int) []types.TradePrint {
	now := b.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	var out []types.TradePrint
	for _, token := range tokens {
		cur, ok := b.books(token)
		if !ok {
			continue
		}
		prev, seen := b.prev[token]
		b.prev[token] = cur
		if !seen || cur.BestBid != prev.BestBid {
			continue
		}

		delta := prev.BestBidSize - cur.BestBidSize
		if delta < b.cfg.BidDeltaMinShares {
			continue
		}

		out = append(out, types.TradePrint{
			TS:    now,
			Token: token,
			Side:  types.SELL, // sellers hitting the bid
			Price: cur.BestBid,
			Size:  delta,
		})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Evict drops a token's previous observation.
func (b *BidDeltaSource) Evict(tokens ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, token := range tokens {
		delete(b.prev, token)
	}
}
