// Package sim is the paper-trading executor: an order-matching model driven
// by the live book feed that fills resting maker orders probabilistically,
// on book crosses, or against an external trade tape.
//
// It implements the same exchange.Executor contract as the live client, so
// the order manager and engine cannot tell the two apart.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"updown-mm/internal/config"
	"updown-mm/internal/exchange"
	"updown-mm/pkg/types"
)

// minFillShares is the smallest fill the model produces.
const minFillShares = 0.01

// tapeEligibleTicksBehind is how far behind best bid a resting order may sit
// and still consume tape prints.
const tapeEligibleTicksBehind = 2

// behindBidAttenuation is the per-tick probability decay for orders resting
// under the best bid.
const behindBidAttenuation = 0.25

// BookSource supplies the current top of book for a token.
type BookSource func(token string) (types.TopOfBook, bool)

// TapeSource returns recent trade prints for the given tokens.
type TapeSource func(tokens []string, lookback time.Duration, limit int) []types.TradePrint

// simOrder is the simulator's per-order state.
type simOrder struct {
	id        string
	token     string
	side      types.Side
	price     float64
	size      float64
	matched   float64
	remaining float64
	status    types.OrderStatus
	createdAt time.Time

	queueFactor float64
	queueAhead  float64 // shares ahead of us at our level
	improved    bool    // priced above best bid at placement
}

// marketRef maps a token back to its market for lead→lag and trade records.
type marketRef struct {
	market types.Market
	leg    types.Leg
}

// legStamp is the last simulated fill on a paired market.
type legStamp struct {
	leg types.Leg
	ts  time.Time
}

type lastEmit struct {
	status    string
	matched   float64
	remaining float64
}

// Simulator is a paper executor. Thread-safe; all wire methods are local.
type Simulator struct {
	cfg    config.SimulatorConfig
	tape   config.TradeTapeConfig
	books  BookSource
	tapeFn TapeSource
	clock  types.Clock
	rng    *rand.Rand
	logger *slog.Logger

	bookMaxAge time.Duration

	mu        sync.Mutex
	orders    map[string]*simOrder
	tokens    map[string]marketRef
	ticks     map[string]types.TickSize
	lastFill  map[string]legStamp // conditionID → last filled leg
	positions map[string]float64  // token → shares
	costs     map[string]float64  // token → net USDC spent
	cash      float64
	emitted   map[string]lastEmit
	lastTape  map[string]time.Time // token → newest consumed print
	lastTrade types.UserTrade      // record from the most recent fillLocked

	statusCh chan types.ExecutorOrderStatus
	tradeCh  chan types.UserTrade
}

// New creates a paper simulator with the given starting cash.
func New(cfg config.SimulatorConfig, tape config.TradeTapeConfig, books BookSource, tapeFn TapeSource, startingCash float64, bookMaxAge time.Duration, clock types.Clock, rng *rand.Rand, logger *slog.Logger) *Simulator {
	return &Simulator{
		cfg:        cfg,
		tape:       tape,
		books:      books,
		tapeFn:     tapeFn,
		clock:      clock,
		rng:        rng,
		logger:     logger.With("component", "sim"),
		bookMaxAge: bookMaxAge,
		orders:     make(map[string]*simOrder),
		tokens:     make(map[string]marketRef),
		ticks:      make(map[string]types.TickSize),
		lastFill:   make(map[string]legStamp),
		positions:  make(map[string]float64),
		costs:      make(map[string]float64),
		cash:       startingCash,
		emitted:    make(map[string]lastEmit),
		lastTape:   make(map[string]time.Time),
		statusCh:   make(chan types.ExecutorOrderStatus, 128),
		tradeCh:    make(chan types.UserTrade, 128),
	}
}

// RegisterMarket teaches the simulator a market's token↔leg mapping so fills
// can be attributed and the lead→lag floor enforced per condition.
func (s *Simulator) RegisterMarket(m types.Market, tick types.TickSize) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[m.UpToken] = marketRef{market: m, leg: types.LegUp}
	s.tokens[m.DownToken] = marketRef{market: m, leg: types.LegDown}
	s.ticks[m.UpToken] = tick
	s.ticks[m.DownToken] = tick
}

// EvictMarket drops an expired market's bookkeeping.
func (s *Simulator) EvictMarket(m types.Market) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, m.UpToken)
	delete(s.tokens, m.DownToken)
	delete(s.ticks, m.UpToken)
	delete(s.ticks, m.DownToken)
	delete(s.lastFill, m.ConditionID)
	delete(s.lastTape, m.UpToken)
	delete(s.lastTape, m.DownToken)
	for id, o := range s.orders {
		if o.token == m.UpToken || o.token == m.DownToken {
			delete(s.orders, id)
			delete(s.emitted, id)
		}
	}
}

// Statuses streams order state transitions, deduped like the order manager.
func (s *Simulator) Statuses() <-chan types.ExecutorOrderStatus { return s.statusCh }

// Trades streams synthetic fills.
func (s *Simulator) Trades() <-chan types.UserTrade { return s.tradeCh }

// Run drives the fill poll (and the tape poll when enabled) until ctx ends.
func (s *Simulator) Run(ctx context.Context) {
	fill := time.NewTicker(time.Duration(s.cfg.FillPollMillis) * time.Millisecond)
	defer fill.Stop()

	var tapeC <-chan time.Time
	if s.tape.Enabled && s.tapeFn != nil {
		tape := time.NewTicker(time.Duration(s.tape.PollMillis) * time.Millisecond)
		defer tape.Stop()
		tapeC = tape.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-fill.C:
			s.Poll()
		case <-tapeC:
			s.PollTape()
		}
	}
}

// ————————————————————————————————————————————————————————————————————————
// Executor contract
// ————————————————————————————————————————————————————————————————————————

// PlaceLimit accepts a paper order. Marketable orders fill immediately at
// the opposing top-of-book price; maker orders draw a queue position and
// rest until the fill model matches them.
func (s *Simulator) PlaceLimit(_ context.Context, token string, side types.Side, price, size float64) (*exchange.PlaceResult, error) {
	if price <= 0 || price >= 1 {
		return nil, fmt.Errorf("sim place: price %v outside (0, 1)", price)
	}
	if size < minFillShares {
		return nil, fmt.Errorf("sim place: size %v under minimum", size)
	}

	now := s.clock.Now()
	tob, haveBook := s.books(token)

	order := &simOrder{
		id:        uuid.NewString(),
		token:     token,
		side:      side,
		price:     price,
		size:      size,
		remaining: size,
		status:    types.StatusOpen,
		createdAt: now,
	}

	var (
		filledEv types.ExecutorOrderStatus
		trade    types.UserTrade
		tookFill bool
	)

	s.mu.Lock()
	order.queueFactor = s.queueFactorLocked()
	if haveBook {
		if s.makerAtPlacementLocked(order, tob) {
			order.improved = order.price > tob.BestBid
			if !order.improved {
				order.queueAhead = tob.BestBidSize * order.queueFactor
				if side == types.SELL {
					order.queueAhead = tob.BestAskSize * order.queueFactor
				}
			}
		} else if s.leadLagClearLocked(token, now) {
			// Marketable: immediate taker fill at the opposing TOB.
			fillPrice := tob.BestAsk
			if side == types.SELL {
				fillPrice = tob.BestBid
			}
			filledEv = s.fillLocked(order, order.remaining, fillPrice, types.SimTaker, now)
			trade = s.lastTrade
			tookFill = true
		}
	}
	s.orders[order.id] = order
	res := &exchange.PlaceResult{
		OrderID:   order.id,
		Status:    order.status,
		Matched:   order.matched,
		Remaining: order.remaining,
		Mode:      types.ModePaper,
	}
	s.mu.Unlock()

	if tookFill {
		s.emitStatus(filledEv)
		s.emitTrade(trade)
	}
	return res, nil
}

// Cancel cancels an open paper order. Unknown or terminal IDs are (false, nil).
func (s *Simulator) Cancel(_ context.Context, orderID string) (bool, error) {
	s.mu.Lock()
	order := s.orders[orderID]
	if order == nil || order.status.IsTerminal() {
		s.mu.Unlock()
		return false, nil
	}
	order.status = types.StatusCanceled
	ev := s.statusEventLocked(order)
	s.mu.Unlock()

	s.emitStatus(ev)
	return true, nil
}

// GetOrder reports the current paper state of an order.
func (s *Simulator) GetOrder(_ context.Context, orderID string) (*exchange.OrderStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order := s.orders[orderID]
	if order == nil {
		return nil, fmt.Errorf("sim: unknown order %s", orderID)
	}
	return &exchange.OrderStatus{
		OrderID:   order.id,
		Status:    order.status,
		Price:     order.price,
		Size:      order.size,
		Matched:   order.matched,
		Remaining: order.remaining,
		Mode:      types.ModePaper,
	}, nil
}

// TickSize returns the registered tick for the token, defaulting to 0.01.
func (s *Simulator) TickSize(_ context.Context, token string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.ticks[token]; ok {
		return t.Float(), nil
	}
	return types.Tick001.Float(), nil
}

// Bankroll reports the simulated cash and mark-to-cost equity.
func (s *Simulator) Bankroll(_ context.Context) (*exchange.BankrollInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	equity := s.cash
	for token, shares := range s.positions {
		if tob, ok := s.books(token); ok && tob.BestBid > 0 {
			equity += shares * tob.BestBid
		} else {
			equity += s.costs[token]
		}
	}
	return &exchange.BankrollInfo{
		Usdc:      s.cash,
		Equity:    equity,
		FetchedAt: s.clock.Now(),
		Mode:      types.ModePaper,
	}, nil
}

// Positions reports the simulated holdings.
func (s *Simulator) Positions(context.Context) ([]exchange.PositionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]exchange.PositionInfo, 0, len(s.positions))
	for token, shares := range s.positions {
		if shares == 0 {
			continue
		}
		avg := 0.0
		if shares != 0 {
			avg = s.costs[token] / shares
		}
		out = append(out, exchange.PositionInfo{Token: token, Shares: shares, AvgPrice: avg})
	}
	return out, nil
}

// ————————————————————————————————————————————————————————————————————————
// Fill model
// ————————————————————————————————————————————————————————————————————————

// Poll runs one fill-model pass over all open orders, oldest first.
func (s *Simulator) Poll() {
	now := s.clock.Now()

	s.mu.Lock()
	open := s.openOrdersLocked()
	var events []types.ExecutorOrderStatus
	var trades []types.UserTrade

	for _, order := range open {
		tob, ok := s.books(order.token)
		if !ok || tob.IsStale(now, s.bookMaxAge) {
			continue
		}

		tick := s.tickLocked(order.token)
		if ev, tr, filled := s.pollOneLocked(order, tob, tick, now); filled {
			events = append(events, ev)
			trades = append(trades, tr)
		}
	}
	s.mu.Unlock()

	for _, ev := range events {
		s.emitStatus(ev)
	}
	for _, tr := range trades {
		s.emitTrade(tr)
	}
}

func (s *Simulator) pollOneLocked(order *simOrder, tob types.TopOfBook, tick float64, now time.Time) (types.ExecutorOrderStatus, types.UserTrade, bool) {
	var none types.ExecutorOrderStatus
	var noTrade types.UserTrade

	bid, ask := tob.BestBid, tob.BestAsk
	if order.side == types.SELL {
		// Mirror: a SELL rests relative to the ask.
		bid, ask = 1-tob.BestAsk, 1-tob.BestBid
	}
	price := order.price
	if order.side == types.SELL {
		price = 1 - order.price
	}

	// Crossed book fills the order at its own limit.
	if ask > 0 && ask <= bid {
		if !s.leadLagClearLocked(order.token, now) {
			return none, noTrade, false
		}
		return s.fillLocked(order, order.remaining, order.price, types.SimMakerCross, now), s.lastTrade, true
	}

	ticksAbove := 0.0
	ticksBehind := 0.0
	if tick > 0 {
		diff := (price - bid) / tick
		if diff > 0 {
			ticksAbove = diff
		} else {
			ticksBehind = -diff
		}
	}

	// Behind-the-bid orders are tape-only while the tape is active.
	if ticksBehind > 0 && s.tape.Enabled {
		return none, noTrade, false
	}

	if now.Sub(order.createdAt) < time.Duration(s.cfg.MakerFillMinAgeMillis)*time.Millisecond {
		return none, noTrade, false
	}

	depth := tob.BestBidSize
	if order.side == types.SELL {
		depth = tob.BestAskSize
	}
	sizeRatio := 1.0
	if depth > 0 && order.remaining > 0 {
		sizeRatio = math.Min(1, depth/order.remaining)
	}

	p := s.cfg.MakerFillProbability *
		math.Pow(s.cfg.MakerFillMultiplier, ticksAbove) *
		sizeRatio *
		order.queueFactor
	if ticksBehind > 0 {
		p *= math.Pow(behindBidAttenuation, ticksBehind)
	}
	if p > s.cfg.MakerFillMaxProb {
		p = s.cfg.MakerFillMaxProb
	}

	if s.rng.Float64() >= p {
		return none, noTrade, false
	}
	if !s.leadLagClearLocked(order.token, now) {
		return none, noTrade, false
	}

	qty := quantizeFill(order.remaining * s.cfg.MakerFillFraction)
	if qty < minFillShares {
		qty = math.Min(minFillShares, order.remaining)
	}
	return s.fillLocked(order, qty, order.price, types.SimMaker, now), s.lastTrade, true
}

// PollTape fetches recent prints and matches them against resting orders.
func (s *Simulator) PollTape() {
	if s.tapeFn == nil {
		return
	}

	s.mu.Lock()
	tokens := make([]string, 0, len(s.tokens))
	for tok := range s.tokens {
		tokens = append(tokens, tok)
	}
	s.mu.Unlock()
	if len(tokens) == 0 {
		return
	}

	lookback := time.Duration(s.tape.PollMillis*3) * time.Millisecond
	prints := s.tapeFn(tokens, lookback, s.tape.Limit)
	s.ProcessTape(prints)
}

// ProcessTape walks prints through the resting orders, oldest order first.
// Sources may deliver prints out of order; the newest-consumed dedup below
// requires ascending timestamps, so sort first.
func (s *Simulator) ProcessTape(prints []types.TradePrint) {
	now := s.clock.Now()

	prints = append([]types.TradePrint(nil), prints...)
	sort.SliceStable(prints, func(i, j int) bool { return prints[i].TS.Before(prints[j].TS) })

	s.mu.Lock()
	var events []types.ExecutorOrderStatus
	var trades []types.UserTrade

	for _, pr := range prints {
		if !pr.TS.After(s.lastTape[pr.Token]) {
			continue
		}
		s.lastTape[pr.Token] = pr.TS

		remainder := pr.Size
		for _, order := range s.openOrdersLocked() {
			if remainder <= 0 {
				break
			}
			if order.token != pr.Token {
				continue
			}
			if pr.TS.Before(order.createdAt) {
				continue
			}

			tob, ok := s.books(order.token)
			if !ok {
				continue
			}
			tick := s.tickLocked(order.token)
			if tick > 0 && order.side == types.BUY && tob.BestBid-order.price > float64(tapeEligibleTicksBehind)*tick {
				continue
			}

			ts := now
			if s.tape.UseTradeTimestamp {
				ts = pr.TS
			}
			if !s.leadLagClearLocked(order.token, ts) {
				continue
			}

			// The queue ahead of us absorbs tape volume first.
			if order.queueAhead > 0 {
				eaten := math.Min(order.queueAhead, remainder)
				order.queueAhead -= eaten
				remainder -= eaten
				if remainder <= 0 {
					continue
				}
			}

			qty := math.Min(remainder, quantizeFill(order.remaining*s.cfg.MakerFillFraction))
			if qty < minFillShares {
				continue
			}
			remainder -= qty

			kind := types.SimMakerTape
			if pr.TxRef == "" && s.tape.FallbackEnabled {
				kind = types.SimMakerTapeFallback
			}
			events = append(events, s.fillLocked(order, qty, order.price, kind, ts))
			trades = append(trades, s.lastTrade)
		}
	}
	s.mu.Unlock()

	for _, ev := range events {
		s.emitStatus(ev)
	}
	for _, tr := range trades {
		s.emitTrade(tr)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Internals
// ————————————————————————————————————————————————————————————————————————

func (s *Simulator) queueFactorLocked() float64 {
	lo, hi := s.cfg.MakerQueueFactorMin, s.cfg.MakerQueueFactorMax
	if hi <= lo {
		return lo
	}
	return lo + s.rng.Float64()*(hi-lo)
}

// makerAtPlacementLocked reports whether the order rests (true) or crosses.
func (s *Simulator) makerAtPlacementLocked(order *simOrder, tob types.TopOfBook) bool {
	if order.side == types.BUY {
		return tob.BestAsk <= 0 || order.price < tob.BestAsk
	}
	return tob.BestBid <= 0 || order.price > tob.BestBid
}

// leadLagClearLocked enforces the cross-leg minimum delay: after one leg of
// a pair fills, the opposite leg may not fill again until leadLagMinMillis
// has passed.
func (s *Simulator) leadLagClearLocked(token string, now time.Time) bool {
	ref, ok := s.tokens[token]
	if !ok {
		return true
	}
	floor := time.Duration(s.cfg.LeadLagMinMillis) * time.Millisecond
	if floor <= 0 {
		return true
	}
	last, ok := s.lastFill[ref.market.ConditionID]
	if !ok || last.leg == ref.leg {
		return true
	}
	return now.Sub(last.ts) >= floor
}

// fillLocked applies a fill to the order and the account, stamps the
// lead→lag floor, and returns the status event to emit after unlock. The
// matching trade record is left in s.lastTrade.
func (s *Simulator) fillLocked(order *simOrder, qty, price float64, kind types.SimKind, now time.Time) types.ExecutorOrderStatus {
	if qty > order.remaining {
		qty = order.remaining
	}
	order.matched += qty
	order.remaining -= qty
	if order.remaining < minFillShares {
		order.matched += order.remaining
		order.remaining = 0
		order.status = types.StatusFilled
	} else {
		order.status = types.StatusPartial
	}

	signed := qty
	cost := qty * price
	if order.side == types.SELL {
		signed = -qty
		cost = -cost
	}
	s.positions[order.token] += signed
	s.costs[order.token] += cost
	s.cash -= cost

	ref, known := s.tokens[order.token]
	if known {
		s.lastFill[ref.market.ConditionID] = legStamp{leg: ref.leg, ts: now}
	}

	slug := ""
	if known {
		slug = ref.market.Slug
	}
	s.lastTrade = types.UserTrade{
		MarketSlug: slug,
		Token:      order.token,
		Side:       order.side,
		Price:      price,
		Size:       qty,
		TS:         now,
		SimKind:    kind,
	}
	return s.statusEventLocked(order)
}

func (s *Simulator) statusEventLocked(order *simOrder) types.ExecutorOrderStatus {
	return types.ExecutorOrderStatus{
		OrderID:   order.id,
		Token:     order.token,
		Side:      order.side,
		Price:     order.price,
		Size:      order.size,
		Status:    order.status,
		Matched:   order.matched,
		Remaining: order.remaining,
		Mode:      types.ModePaper,
		TS:        s.clock.Now(),
	}
}

// openOrdersLocked returns open orders sorted by creation time ascending.
func (s *Simulator) openOrdersLocked() []*simOrder {
	out := make([]*simOrder, 0, len(s.orders))
	for _, o := range s.orders {
		if !o.status.IsTerminal() {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].createdAt.Before(out[j].createdAt) })
	return out
}

func (s *Simulator) tickLocked(token string) float64 {
	if t, ok := s.ticks[token]; ok {
		return t.Float()
	}
	return types.Tick001.Float()
}

// emitStatus publishes a status event iff its tuple changed; never blocks.
func (s *Simulator) emitStatus(ev types.ExecutorOrderStatus) {
	tuple := lastEmit{
		status:    strings.ToUpper(strings.TrimSpace(string(ev.Status))),
		matched:   ev.Matched,
		remaining: ev.Remaining,
	}

	s.mu.Lock()
	if prev, ok := s.emitted[ev.OrderID]; ok && prev == tuple {
		s.mu.Unlock()
		return
	}
	s.emitted[ev.OrderID] = tuple
	if ev.Status.IsTerminal() {
		delete(s.emitted, ev.OrderID)
	}
	s.mu.Unlock()

	sendDropOldest(s.statusCh, ev)
}

func (s *Simulator) emitTrade(tr types.UserTrade) {
	sendDropOldest(s.tradeCh, tr)
}

// sendDropOldest is a non-blocking send that sheds the oldest element under
// backpressure.
func sendDropOldest[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}

// quantizeFill floors a share quantity to two decimals.
func quantizeFill(shares float64) float64 {
	q, _ := decimal.NewFromFloat(shares).RoundDown(2).Float64()
	return q
}
