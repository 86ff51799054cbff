// status.go implements the read side of the status server: the engine is
// the api.SnapshotProvider.
package engine

import (
	"sort"

	"updown-mm/internal/api"
	"updown-mm/pkg/types"
)

// MarketsStatus snapshots every active market for the status surface.
func (e *Engine) MarketsStatus() []api.MarketStatus {
	now := e.clock.Now()
	maxAge := e.cfg.Engine.TOBMaxAge()

	e.mu.Lock()
	states := make([]*marketState, 0, len(e.states))
	for _, st := range e.states {
		states = append(states, st)
	}
	e.mu.Unlock()

	out := make([]api.MarketStatus, 0, len(states))
	for _, st := range states {
		m := st.market

		ms := api.MarketStatus{
			Slug:         m.Slug,
			ConditionID:  m.ConditionID,
			Series:       string(m.Series),
			EndTime:      m.EndTime,
			SecondsToEnd: m.SecondsToEnd(now),
			TickSize:     st.tick,
		}

		for _, leg := range []types.Leg{types.LegUp, types.LegDown} {
			token := m.Token(leg)
			ls := api.LegStatus{Token: token, Stale: true}
			if tob, ok := e.books.TopOfBook(token); ok {
				ls.BestBid = tob.BestBid
				ls.BestAsk = tob.BestAsk
				ls.BestBidSize = tob.BestBidSize
				ls.BestAskSize = tob.BestAskSize
				ls.Spread = tob.Spread()
				ls.UpdatedAt = tob.UpdatedAt
				ls.Stale = tob.IsStale(now, maxAge)
			}
			if order, live := e.orders.Live(token); live {
				ls.Order = &api.OrderStatus{
					OrderID:   order.OrderID,
					Side:      string(order.Side),
					Price:     order.Price,
					Size:      order.Size,
					Matched:   order.Matched,
					Remaining: order.Remaining,
					CreatedAt: order.CreatedAt,
				}
			}
			if leg == types.LegUp {
				ms.Up = ls
			} else {
				ms.Down = ls
			}
		}

		if ms.Up.BestBid > 0 && ms.Down.BestBid > 0 {
			ms.CompleteSetEdge = 1 - (ms.Up.BestBid + ms.Down.BestBid)
		}

		inv := e.ledger.Snapshot(m.Slug)
		ms.Inventory = api.InventoryStatus{
			UpShares:    inv.UpShares,
			DownShares:  inv.DownShares,
			Imbalance:   inv.Imbalance(),
			UpCost:      inv.UpCost,
			DownCost:    inv.DownCost,
			LastTopUpAt: inv.LastTopUpAt,
		}

		out = append(out, ms)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

// BankrollStatus reports the engine's capital view.
func (e *Engine) BankrollStatus() api.BankrollStatus {
	snap := e.bankroll.Snapshot()
	return api.BankrollStatus{
		Mode:        e.cfg.Bankroll.Mode,
		Effective:   e.bankroll.Effective(),
		Usdc:        snap.Usdc,
		Equity:      snap.Equity,
		FetchedAt:   snap.FetchedAt,
		CircuitOpen: e.bankroll.CircuitOpen(),
	}
}

// TotalExposure reports the absolute cost basis across all markets.
func (e *Engine) TotalExposure() float64 {
	return e.ledger.Exposure()
}
