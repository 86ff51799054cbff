// Package engine is the central orchestrator of the Up/Down quoting bot.
//
// It wires together all subsystems:
//
//  1. Discovery enumerates the open short-cycle markets; the engine keeps a
//     per-market record for each.
//  2. A single logical tick every refreshMillis walks the active markets and
//     runs the quoting state machine: evict, read books, band filter, skew,
//     top-ups, edge gate, hedge mask, taker mode, maker improvement, quote.
//  3. The order manager holds the one-live-order-per-token invariant; fills
//     flow one way into the inventory ledger and then into the hedge-delay
//     and fast-top-up hooks.
//  4. Slower loops refresh the bankroll and reconcile exchange positions.
//
// Lifecycle: New() → Run(ctx) → [runs until ctx cancel] → deferred cancel-all.
package engine

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"updown-mm/internal/config"
	"updown-mm/internal/exchange"
	"updown-mm/internal/inventory"
	"updown-mm/internal/orders"
	"updown-mm/internal/quote"
	"updown-mm/internal/sim"
	"updown-mm/internal/store"
	"updown-mm/pkg/types"
)

// BookFeed is the book view the engine quotes against.
type BookFeed interface {
	TopOfBook(token string) (types.TopOfBook, bool)
	SetSubscriptions(ctx context.Context, tokens []string) error
	Evict(tokens ...string)
}

// improveCache is the per-market maker-improvement decision. It is only
// re-sampled when the spread bucket changes or the cache ages out.
type improveCache struct {
	up, down  int
	bucket    int
	sampledAt time.Time
}

// marketState is the single per-market record: every cache the state machine
// reads or writes for one slug lives here and dies with it on eviction.
type marketState struct {
	market types.Market
	tick   float64

	momentum       *momentumTracker
	lastMomentum   quote.Momentum
	improve        improveCache
	edgeBelowSince time.Time    // zero = edge currently above cancel threshold
	hedgeHoldUntil [2]time.Time // indexed by leg
	fastTopUpArmed bool         // drawn at fill time; false → hedge delay fired
}

// Params carries the engine's dependencies.
type Params struct {
	Config   config.Config
	Exec     exchange.Executor
	Books    BookFeed
	Clock    types.Clock
	Rng      *rand.Rand
	Logger   *slog.Logger
	Store    *store.Store   // optional inventory persistence
	Sim      *sim.Simulator // set in paper mode for market registration
	Bankroll *inventory.Bankroll
	Ledger   *inventory.Ledger
	Orders   *orders.Manager
}

// Engine owns the per-market state machine and the periodic loops.
type Engine struct {
	cfg      config.Config
	exec     exchange.Executor
	books    BookFeed
	orders   *orders.Manager
	ledger   *inventory.Ledger
	bankroll *inventory.Bankroll
	store    *store.Store
	sim      *sim.Simulator
	clock    types.Clock
	logger   *slog.Logger

	// rng is only touched from the tick goroutine.
	rng *rand.Rand

	mu     sync.Mutex
	states map[string]*marketState // slug → record

	circuitOpen bool // last observed breaker state, for edge-triggered logs
}

// New wires an engine from its dependencies.
func New(p Params) *Engine {
	ledger := p.Ledger
	if ledger == nil {
		ledger = inventory.NewLedger()
	}
	bankroll := p.Bankroll
	if bankroll == nil {
		bankroll = inventory.NewBankroll(p.Config.Bankroll, p.Config.Risk, p.Clock)
	}
	om := p.Orders
	if om == nil {
		om = orders.NewManager(p.Exec, p.Clock, p.Logger)
	}

	e := &Engine{
		cfg:      p.Config,
		exec:     p.Exec,
		books:    p.Books,
		orders:   om,
		ledger:   ledger,
		bankroll: bankroll,
		store:    p.Store,
		sim:      p.Sim,
		clock:    p.Clock,
		rng:      p.Rng,
		logger:   p.Logger.With("component", "engine"),
		states:   make(map[string]*marketState),
	}
	// Cancels run a final status poll; its fill delta takes the same path
	// as the periodic one.
	om.SetFillHandler(e.onFill)
	return e
}

// Ledger exposes the inventory ledger for status reporting.
func (e *Engine) Ledger() *inventory.Ledger { return e.ledger }

// BankrollTracker exposes the bankroll view for status reporting.
func (e *Engine) BankrollTracker() *inventory.Bankroll { return e.bankroll }

// Orders exposes the order manager for status reporting.
func (e *Engine) Orders() *orders.Manager { return e.orders }

// ActiveMarkets returns a snapshot of the markets currently under management.
func (e *Engine) ActiveMarkets() []types.Market {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.Market, 0, len(e.states))
	for _, st := range e.states {
		out = append(out, st.market)
	}
	return out
}

// Run drives the engine loops until ctx is cancelled. markets delivers the
// discovery results. On exit all resting orders are cancelled as a safety
// net and inventory is persisted.
func (e *Engine) Run(ctx context.Context, markets <-chan types.DiscoveredMarkets) {
	tick := time.NewTicker(e.cfg.Engine.Refresh())
	defer tick.Stop()
	posSync := time.NewTicker(time.Duration(e.cfg.Engine.PositionsSyncMillis) * time.Millisecond)
	defer posSync.Stop()
	bankRefresh := time.NewTicker(time.Duration(e.cfg.Bankroll.RefreshMillis) * time.Millisecond)
	defer bankRefresh.Stop()

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return
		case result := <-markets:
			e.reconcileMarkets(ctx, result.Markets)
		case <-tick.C:
			e.runTick(ctx)
		case <-posSync.C:
			e.syncPositions(ctx)
		case <-bankRefresh.C:
			e.refreshBankroll(ctx)
		}
	}
}

// shutdown cancels every resting order and persists inventory. Runs with a
// fresh context: the loop's is already dead.
func (e *Engine) shutdown() {
	e.logger.Info("shutting down, cancelling resting orders")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	e.orders.CancelAll(ctx, types.ReasonShutdown)
	e.persistAll()
}

func (e *Engine) persistAll() {
	if e.store == nil {
		return
	}
	for _, m := range e.ActiveMarkets() {
		if err := e.store.SaveInventory(m.Slug, e.ledger.Snapshot(m.Slug)); err != nil {
			e.logger.Error("failed to persist inventory", "slug", m.Slug, "error", err)
		}
	}
}

// ————————————————————————————————————————————————————————————————————————
// Market set reconciliation
// ————————————————————————————————————————————————————————————————————————

// reconcileMarkets diffs the discovered set against the per-market records:
// new markets get a record, a tick size, and book subscriptions; vanished
// markets are evicted. The subscription set is updated atomically.
func (e *Engine) reconcileMarkets(ctx context.Context, discovered []types.Market) {
	desired := make(map[string]types.Market, len(discovered))
	for _, m := range discovered {
		desired[m.Slug] = m
	}

	e.mu.Lock()
	var toEvict []types.Market
	for slug, st := range e.states {
		if _, ok := desired[slug]; !ok {
			toEvict = append(toEvict, st.market)
		}
	}
	var toAdd []types.Market
	for slug, m := range desired {
		if _, ok := e.states[slug]; !ok {
			toAdd = append(toAdd, m)
		}
	}
	e.mu.Unlock()

	for _, m := range toEvict {
		e.evictMarket(ctx, m)
	}
	for _, m := range toAdd {
		e.addMarket(ctx, m)
	}

	if len(toAdd) > 0 || len(toEvict) > 0 {
		e.resubscribe(ctx)
	}
}

func (e *Engine) addMarket(ctx context.Context, m types.Market) {
	tick, err := e.exec.TickSize(ctx, m.UpToken)
	if err != nil {
		e.logger.Warn("tick size lookup failed, assuming 0.01", "slug", m.Slug, "error", err)
		tick = types.Tick001.Float()
	}

	if e.sim != nil {
		e.sim.RegisterMarket(m, types.TickSizeFromFloat(tick))
	}
	if e.store != nil {
		if inv, err := e.store.LoadInventory(m.Slug); err == nil && inv != nil {
			e.ledger.Restore(m.Slug, *inv)
		}
	}

	e.mu.Lock()
	e.states[m.Slug] = &marketState{
		market:   m,
		tick:     tick,
		momentum: newMomentumTracker(),
	}
	e.mu.Unlock()

	e.logger.Info("market started",
		"slug", m.Slug,
		"series", string(m.Series),
		"ends_in", m.EndTime.Sub(e.clock.Now()).Round(time.Second),
	)
}

// evictMarket cancels the market's orders and drops every per-slug cache:
// the state record, book entries, ledger, simulator bookkeeping, and the
// persisted file.
func (e *Engine) evictMarket(ctx context.Context, m types.Market) {
	for _, token := range []string{m.UpToken, m.DownToken} {
		if err := e.orders.Cancel(ctx, token, types.ReasonMarketExpired); err != nil {
			e.logger.Warn("eviction cancel failed", "slug", m.Slug, "token", token, "error", err)
		}
	}

	e.mu.Lock()
	delete(e.states, m.Slug)
	e.mu.Unlock()

	e.books.Evict(m.UpToken, m.DownToken)
	e.ledger.Evict(m.Slug)
	if e.sim != nil {
		e.sim.EvictMarket(m)
	}
	if e.store != nil {
		if err := e.store.Delete(m.Slug); err != nil {
			e.logger.Warn("failed to delete persisted inventory", "slug", m.Slug, "error", err)
		}
	}

	e.logger.Info("market evicted", "slug", m.Slug)
}

func (e *Engine) resubscribe(ctx context.Context) {
	e.mu.Lock()
	tokens := make([]string, 0, len(e.states)*2)
	for _, st := range e.states {
		tokens = append(tokens, st.market.UpToken, st.market.DownToken)
	}
	e.mu.Unlock()

	if err := e.books.SetSubscriptions(ctx, tokens); err != nil {
		e.logger.Warn("subscription update failed", "error", err)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Periodic loops
// ————————————————————————————————————————————————————————————————————————

// runTick is one pass of the quoting state machine over every market,
// followed by the pending-order poll. Failures are logged and swallowed;
// the loop must survive anything a single market throws at it.
func (e *Engine) runTick(ctx context.Context) {
	open := e.bankroll.CircuitOpen()
	if open != e.circuitOpen {
		if open {
			e.logger.Warn("bankroll circuit open, quoting halted",
				"effective", e.bankroll.Effective(),
				"threshold", e.cfg.Bankroll.MinThreshold,
			)
		} else {
			e.logger.Info("bankroll circuit closed, quoting resumed")
		}
		e.circuitOpen = open
	}

	if !open {
		e.mu.Lock()
		states := make([]*marketState, 0, len(e.states))
		for _, st := range e.states {
			states = append(states, st)
		}
		e.mu.Unlock()

		for _, st := range states {
			e.evaluateMarket(ctx, st)
		}
	}

	// Fills are reconciled even while the breaker is open.
	e.orders.CheckPending(ctx, e.onFill)
}

func (e *Engine) refreshBankroll(ctx context.Context) {
	info, err := e.exec.Bankroll(ctx)
	if err != nil {
		e.logger.Warn("bankroll refresh failed", "error", err)
		return
	}
	e.bankroll.Observe(info.Usdc, info.Equity)
}

func (e *Engine) syncPositions(ctx context.Context) {
	positions, err := e.exec.Positions(ctx)
	if err != nil {
		e.logger.Warn("positions sync failed", "error", err)
		return
	}

	reported := make(map[string]float64, len(positions))
	avg := make(map[string]float64, len(positions))
	for _, p := range positions {
		reported[p.Token] = p.Shares
		avg[p.Token] = p.AvgPrice
	}
	e.ledger.SyncPositions(e.ActiveMarkets(), reported, avg)
	e.persistAll()
}

// ————————————————————————————————————————————————————————————————————————
// Per-market state machine
// ————————————————————————————————————————————————————————————————————————

func (e *Engine) evaluateMarket(ctx context.Context, st *marketState) {
	now := e.clock.Now()
	m := st.market

	// Expiry and trading window.
	secondsToEnd := m.SecondsToEnd(now)
	if now.After(m.EndTime) {
		e.evictMarket(ctx, m)
		return
	}
	if secondsToEnd < e.cfg.Engine.MinSecondsToEnd ||
		(e.cfg.Engine.MaxSecondsToEnd > 0 && secondsToEnd > e.cfg.Engine.MaxSecondsToEnd) {
		e.cancelBoth(ctx, m, types.ReasonMarketExpired)
		return
	}

	// Books.
	upTob, upOk := e.books.TopOfBook(m.UpToken)
	downTob, downOk := e.books.TopOfBook(m.DownToken)
	maxAge := e.cfg.Engine.TOBMaxAge()
	if !upOk || upTob.IsStale(now, maxAge) {
		e.cancelLeg(ctx, m, types.LegUp, types.ReasonBookStale)
	}
	if !downOk || downTob.IsStale(now, maxAge) {
		e.cancelLeg(ctx, m, types.LegDown, types.ReasonBookStale)
	}
	if !upOk || !downOk || upTob.IsStale(now, maxAge) || downTob.IsStale(now, maxAge) {
		return
	}

	// Band filter.
	minBid := math.Min(upTob.BestBid, downTob.BestBid)
	maxBid := math.Max(upTob.BestBid, downTob.BestBid)
	if minBid < 0.05 || maxBid > 0.95 {
		e.cancelBoth(ctx, m, types.ReasonBookOutOfBand)
		return
	}

	// Inventory, momentum, and per-leg factors.
	inv := e.ledger.Snapshot(m.Slug)
	imbalance := inv.Imbalance()

	obs := upTob.LastTradePrice
	if obs <= 0 {
		obs = (upTob.BestBid + upTob.BestAsk) / 2
	}
	st.momentum.Observe(obs, now)
	momentum := st.momentum.Classify(now, st.tick)
	st.lastMomentum = momentum

	skewUp := quote.SkewTicks(types.LegUp, imbalance, e.cfg.Engine)
	skewDown := quote.SkewTicks(types.LegDown, imbalance, e.cfg.Engine)
	sizeFactorUp := quote.SizeSkew(types.LegUp, upTob.BestBid, momentum, e.rng)
	sizeFactorDown := quote.SizeSkew(types.LegDown, downTob.BestBid, momentum, e.rng)

	// Top-ups fire before quoting: they are takers and bypass the edge gate.
	if e.maybeFastTopUp(ctx, st, inv, upTob, downTob, now) {
		return
	}
	e.maybeNearEndTopUp(ctx, st, inv, upTob, downTob, secondsToEnd, now)

	// Edge gate on the planned maker prices (improvement applied below, so
	// the gate sees the un-improved pair; the budget keeps the improved pair
	// within the same surplus).
	tickSize := types.TickSizeFromFloat(st.tick)
	priceUpRaw, okUp := quote.EntryPrice(types.BUY, upTob, tickSize, skewUp, 0)
	priceDownRaw, okDown := quote.EntryPrice(types.BUY, downTob, tickSize, skewDown, 0)
	if !okUp || !okDown {
		e.cancelBoth(ctx, m, types.ReasonInsufficientEdge)
		return
	}
	plannedEdge := 1 - (priceUpRaw + priceDownRaw)

	entryEdge := e.cfg.Engine.CompleteSetMinEdge
	cancelEdge := e.cfg.Engine.CompleteSetCancelEdge
	if momentum != quote.MomentumNeutral {
		// A strong trend may briefly justify paying up for the pair.
		entryEdge = math.Max(entryEdge-0.005, -0.01)
	}

	if plannedEdge < cancelEdge {
		if st.edgeBelowSince.IsZero() {
			st.edgeBelowSince = now
		}
		if now.Sub(st.edgeBelowSince) >= e.cfg.Engine.CancelEdgeGrace() {
			e.cancelBoth(ctx, m, types.ReasonInsufficientEdge)
			st.edgeBelowSince = time.Time{}
		}
		return
	}
	st.edgeBelowSince = time.Time{}

	if plannedEdge < entryEdge {
		// Not enough edge to enter; resting orders stay until the cancel
		// threshold trips.
		return
	}

	// Hedge-delay mask.
	quoteLeg := [2]bool{
		!st.hedgeHoldUntil[types.LegUp].After(now),
		!st.hedgeHoldUntil[types.LegDown].After(now),
	}

	// Taker mode: occasionally cross one leg instead of quoting it.
	takerLeg, takerActive := e.maybeTakerMode(st, plannedEdge, upTob, downTob, sizeFactorUp, sizeFactorDown, imbalance)

	// Maker improvement pair, cached per spread bucket.
	improveUp, improveDown := e.improvePair(st, upTob, downTob, plannedEdge, entryEdge, now)

	legs := []struct {
		leg        types.Leg
		tob        types.TopOfBook
		skew       float64
		improve    int
		sizeFactor float64
	}{
		{types.LegUp, upTob, skewUp, improveUp, sizeFactorUp},
		{types.LegDown, downTob, skewDown, improveDown, sizeFactorDown},
	}

	for _, l := range legs {
		if !quoteLeg[l.leg] {
			continue
		}
		if takerActive && l.leg == takerLeg {
			e.placeTaker(ctx, st, l.leg, l.tob, now)
			continue
		}
		if !quote.ShouldQuote(l.sizeFactor, e.rng) {
			continue
		}
		e.quoteMakerLeg(ctx, st, l.leg, l.tob, l.skew, float64(l.improve), l.sizeFactor)
	}
}

// quoteMakerLeg prices and sizes one maker leg, then applies the replace
// decision.
func (e *Engine) quoteMakerLeg(ctx context.Context, st *marketState, leg types.Leg, tob types.TopOfBook, skewTicks, improveTicks, sizeFactor float64) {
	m := st.market
	token := m.Token(leg)
	tickSize := types.TickSizeFromFloat(st.tick)

	price, ok := quote.EntryPrice(types.BUY, tob, tickSize, skewTicks, improveTicks)
	if !ok {
		e.cancelLeg(ctx, m, leg, types.ReasonInsufficientEdge)
		return
	}

	size := quote.Size(quote.SizeInput{
		Base:       e.cfg.Engine.QuoteSize,
		Multiplier: e.bankroll.SizingMultiplier(),
		SkewFactor: sizeFactor,
		Price:      price,
		Bankroll:   e.bankroll.Effective(),
		Exposure:   e.ledger.Exposure(),
	}, e.cfg.Risk)
	if size <= 0 {
		e.cancelLeg(ctx, m, leg, types.ReasonInsufficientEdge)
		return
	}

	switch e.orders.MaybeReplace(token, price, size, e.cfg.Engine) {
	case orders.Keep, orders.Skip:
		return
	case orders.Replace:
	}

	if err := e.orders.Cancel(ctx, token, types.ReasonReplace); err != nil {
		return // retried next tick
	}
	if _, err := e.orders.Place(ctx, token, types.BUY, price, size); err != nil {
		e.logger.Warn("maker placement failed",
			"slug", m.Slug,
			"leg", leg.String(),
			"price", price,
			"size", size,
			"error", err,
		)
	}
}

// placeTaker crosses the spread on one leg at the opposing ask.
func (e *Engine) placeTaker(ctx context.Context, st *marketState, leg types.Leg, tob types.TopOfBook, now time.Time) {
	m := st.market
	token := m.Token(leg)
	if tob.BestAsk <= 0 || tob.BestAsk >= 1 {
		return
	}

	size := quote.Size(quote.SizeInput{
		Base:       e.cfg.Engine.QuoteSize,
		Multiplier: e.bankroll.SizingMultiplier(),
		SkewFactor: 1,
		Price:      tob.BestAsk,
		Bankroll:   e.bankroll.Effective(),
		Exposure:   e.ledger.Exposure(),
	}, e.cfg.Risk)
	if size <= 0 {
		return
	}

	if err := e.orders.Cancel(ctx, token, types.ReasonReplace); err != nil {
		return
	}
	if _, err := e.orders.Place(ctx, token, types.BUY, tob.BestAsk, size); err != nil {
		e.logger.Warn("taker placement failed", "slug", m.Slug, "leg", leg.String(), "error", err)
		return
	}
	e.logger.Info("taker order crossed",
		"slug", m.Slug,
		"leg", leg.String(),
		"price", tob.BestAsk,
		"size", size,
	)
}

func (e *Engine) cancelLeg(ctx context.Context, m types.Market, leg types.Leg, reason types.CancelReason) {
	if err := e.orders.Cancel(ctx, m.Token(leg), reason); err != nil {
		e.logger.Warn("leg cancel failed",
			"slug", m.Slug,
			"leg", leg.String(),
			"reason", string(reason),
			"error", err,
		)
	}
}

func (e *Engine) cancelBoth(ctx context.Context, m types.Market, reason types.CancelReason) {
	e.cancelLeg(ctx, m, types.LegUp, reason)
	e.cancelLeg(ctx, m, types.LegDown, reason)
}

// ————————————————————————————————————————————————————————————————————————
// Top-ups and taker mode
// ————————————————————————————————————————————————————————————————————————

// maybeFastTopUp hedges a fresh one-leg fill with a taker order on the
// lagging leg. Returns true when an order was submitted this tick.
func (e *Engine) maybeFastTopUp(ctx context.Context, st *marketState, inv inventory.MarketInventory, upTob, downTob types.TopOfBook, now time.Time) bool {
	cfg := e.cfg.Engine
	if !cfg.FastTopUpEnabled || !st.fastTopUpArmed {
		return false
	}

	imbalance := inv.Imbalance()
	if math.Abs(imbalance) < cfg.FastTopUpMinShares {
		return false
	}
	if !inv.LastTopUpAt.IsZero() && now.Sub(inv.LastTopUpAt) < time.Duration(cfg.FastTopUpCooldownMillis)*time.Millisecond {
		return false
	}

	leader, ok := inv.HeavyLeg()
	if !ok {
		return false
	}
	lagging := leader.Opposite()

	// The leader's fill must be recent but not too recent, and the lagging
	// leg must not have filled since.
	leadFillAt := inv.LastFillAt(leader)
	if leadFillAt.IsZero() {
		return false
	}
	sinceFill := now.Sub(leadFillAt).Seconds()
	if sinceFill < cfg.FastTopUpMinSecondsAfterFill || sinceFill > cfg.FastTopUpMaxSecondsAfterFill {
		return false
	}
	if lagFillAt := inv.LastFillAt(lagging); !lagFillAt.IsZero() && lagFillAt.After(leadFillAt) {
		return false
	}

	lagTob := downTob
	if lagging == types.LegUp {
		lagTob = upTob
	}
	if !lagTob.HasBothSides() || lagTob.Spread() > cfg.TakerMaxSpread {
		return false
	}

	// Combined hedge edge: what the pair costs if we lift the lagging ask.
	hedgeEdge := 1 - (inv.LastFillPrice(leader) + lagTob.BestAsk)
	if hedgeEdge < cfg.FastTopUpMinEdge {
		return false
	}

	want := math.Abs(imbalance) * cfg.FastTopUpFraction
	size := quote.Size(quote.SizeInput{
		Base:       want,
		Multiplier: 1,
		SkewFactor: 1,
		Price:      lagTob.BestAsk,
		Bankroll:   e.bankroll.Effective(),
		Exposure:   e.ledger.Exposure(),
	}, e.cfg.Risk)
	if size <= 0 {
		return false
	}

	token := st.market.Token(lagging)
	if err := e.orders.Cancel(ctx, token, types.ReasonReplace); err != nil {
		return false
	}
	if _, err := e.orders.Place(ctx, token, types.BUY, lagTob.BestAsk, size); err != nil {
		e.logger.Warn("fast top-up failed", "slug", st.market.Slug, "error", err)
		return false
	}

	e.ledger.MarkTopUp(st.market.Slug, now)
	st.fastTopUpArmed = false
	e.logger.Info("fast top-up submitted",
		"slug", st.market.Slug,
		"leg", lagging.String(),
		"price", lagTob.BestAsk,
		"size", size,
		"hedge_edge", hedgeEdge,
	)
	return true
}

// maybeNearEndTopUp flattens a residual imbalance shortly before resolution.
func (e *Engine) maybeNearEndTopUp(ctx context.Context, st *marketState, inv inventory.MarketInventory, upTob, downTob types.TopOfBook, secondsToEnd float64, now time.Time) {
	cfg := e.cfg.Engine
	if !cfg.CompleteSetTopUpEnabled || secondsToEnd > cfg.CompleteSetTopUpSecondsToEnd {
		return
	}
	imbalance := inv.Imbalance()
	if math.Abs(imbalance) < cfg.CompleteSetTopUpMinShares {
		return
	}
	if !inv.LastTopUpAt.IsZero() && now.Sub(inv.LastTopUpAt) < time.Duration(cfg.FastTopUpCooldownMillis)*time.Millisecond {
		return
	}

	leader, ok := inv.HeavyLeg()
	if !ok {
		return
	}
	lagging := leader.Opposite()
	lagTob := downTob
	if lagging == types.LegUp {
		lagTob = upTob
	}
	if !lagTob.HasBothSides() {
		return
	}

	size := quote.Size(quote.SizeInput{
		Base:       math.Abs(imbalance),
		Multiplier: 1,
		SkewFactor: 1,
		Price:      lagTob.BestAsk,
		Bankroll:   e.bankroll.Effective(),
		Exposure:   e.ledger.Exposure(),
	}, e.cfg.Risk)
	if size <= 0 {
		return
	}

	token := st.market.Token(lagging)
	if err := e.orders.Cancel(ctx, token, types.ReasonReplace); err != nil {
		return
	}
	if _, err := e.orders.Place(ctx, token, types.BUY, lagTob.BestAsk, size); err != nil {
		e.logger.Warn("near-end top-up failed", "slug", st.market.Slug, "error", err)
		return
	}
	e.ledger.MarkTopUp(st.market.Slug, now)
	e.logger.Info("near-end top-up submitted",
		"slug", st.market.Slug,
		"leg", lagging.String(),
		"size", size,
		"seconds_to_end", secondsToEnd,
	)
}

// maybeTakerMode decides whether to cross the spread on one leg this tick
// and which leg to cross.
func (e *Engine) maybeTakerMode(st *marketState, plannedEdge float64, upTob, downTob types.TopOfBook, sizeFactorUp, sizeFactorDown, imbalance float64) (types.Leg, bool) {
	cfg := e.cfg.Engine
	if !cfg.TakerModeEnabled || plannedEdge > cfg.TakerModeMaxEdge {
		return types.LegUp, false
	}
	if upTob.Spread() > cfg.TakerModeMaxSpread || downTob.Spread() > cfg.TakerModeMaxSpread {
		return types.LegUp, false
	}
	if e.rng.Float64() >= quote.TakerProbability(st.market.Series, cfg.TakerModeProbability) {
		return types.LegUp, false
	}

	// Lifting one ask while the other leg rests at its bid.
	edgeTakeUp := 1 - (upTob.BestAsk + downTob.BestBid)
	edgeTakeDown := 1 - (upTob.BestBid + downTob.BestAsk)
	upQualifies := edgeTakeUp >= 0
	downQualifies := edgeTakeDown >= 0
	if !upQualifies && !downQualifies {
		return types.LegUp, false
	}
	if upQualifies != downQualifies {
		if upQualifies {
			return types.LegUp, true
		}
		return types.LegDown, true
	}

	// Both qualify: a clearly heavier size factor wins, then the larger
	// edge, then the leg that rebalances inventory.
	if math.Abs(sizeFactorUp-sizeFactorDown) >= 0.05 {
		if sizeFactorUp > sizeFactorDown {
			return types.LegUp, true
		}
		return types.LegDown, true
	}
	if edgeTakeUp != edgeTakeDown {
		if edgeTakeUp > edgeTakeDown {
			return types.LegUp, true
		}
		return types.LegDown, true
	}
	if imbalance > 0 {
		return types.LegDown, true
	}
	return types.LegUp, true
}

// improvePair returns the cached maker-improvement ticks for the market,
// re-sampling when the spread bucket changes or the cache ages past
// clamp(forceReplaceMillis, 3s, 30s).
func (e *Engine) improvePair(st *marketState, upTob, downTob types.TopOfBook, plannedEdge, entryEdge float64, now time.Time) (int, int) {
	// Key on both legs' buckets: a regime change on one leg must invalidate
	// the cache even when the combined spread is unchanged.
	tickSize := types.TickSizeFromFloat(st.tick)
	bucket := quote.SpreadBucket(upTob.Spread(), tickSize)<<8 |
		quote.SpreadBucket(downTob.Spread(), tickSize)

	maxAge := time.Duration(e.cfg.Engine.ForceReplaceMillis) * time.Millisecond
	if maxAge < 3*time.Second {
		maxAge = 3 * time.Second
	}
	if maxAge > 30*time.Second {
		maxAge = 30 * time.Second
	}

	stale := st.improve.sampledAt.IsZero() ||
		st.improve.bucket != bucket ||
		now.Sub(st.improve.sampledAt) > maxAge

	budget := 0
	if st.tick > 0 && plannedEdge > entryEdge {
		budget = int(math.Floor((plannedEdge - entryEdge) / st.tick))
	}

	if stale {
		up, down := quote.SampleImprovePair(st.market.Series, budget, e.rng)
		st.improve = improveCache{up: up, down: down, bucket: bucket, sampledAt: now}
	}

	// The budget can shrink between samples; never spend more than today's.
	up, down := st.improve.up, st.improve.down
	for up+down > budget {
		if up >= down && up > 0 {
			up--
		} else if down > 0 {
			down--
		} else {
			break
		}
	}
	return up, down
}

// ————————————————————————————————————————————————————————————————————————
// Fill handling
// ————————————————————————————————————————————————————————————————————————

// onFill is invoked by the order manager with matched-size deltas. It feeds
// the ledger, persists, and runs the hedge-delay / fast-top-up draw.
func (e *Engine) onFill(order types.OrderState, delta float64) {
	st := e.stateForToken(order.Token)
	if st == nil {
		// A late fill on an evicted market still mutates the ledger under
		// its slug; the positions sync will reconcile the rest.
		e.logger.Warn("fill on unknown token", "token", order.Token, "delta", delta)
		return
	}

	leg, _ := st.market.LegOf(order.Token)
	now := e.clock.Now()

	signed := delta
	if order.Side == types.SELL {
		signed = -delta
	}
	e.ledger.RecordFill(st.market.Slug, leg, signed, order.Price, now)
	if e.store != nil {
		if err := e.store.SaveInventory(st.market.Slug, e.ledger.Snapshot(st.market.Slug)); err != nil {
			e.logger.Warn("failed to persist fill", "slug", st.market.Slug, "error", err)
		}
	}

	e.logger.Info("fill",
		"slug", st.market.Slug,
		"leg", leg.String(),
		"side", string(order.Side),
		"price", order.Price,
		"size", delta,
	)

	// Decide the hedge posture for the opposite leg: either arm the fast
	// top-up or pull the opposite quote and hold it for a sampled delay.
	if e.rng.Float64() < e.cfg.Engine.FastTopUpProbability {
		st.fastTopUpArmed = true
		return
	}
	st.fastTopUpArmed = false

	if !e.cfg.Engine.HedgeDelayEnabled {
		return
	}
	opposite := leg.Opposite()
	hold := sampleHedgeDelay(e.cfg.Engine, e.rng)
	st.hedgeHoldUntil[opposite] = now.Add(hold)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.orders.Cancel(ctx, st.market.Token(opposite), types.ReasonHedgeDelay); err != nil {
		e.logger.Warn("hedge-delay cancel failed", "slug", st.market.Slug, "error", err)
	}

	e.logger.Info("hedge delayed",
		"slug", st.market.Slug,
		"held_leg", opposite.String(),
		"hold", hold.Round(time.Millisecond),
	)
}

func (e *Engine) stateForToken(token string) *marketState {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, st := range e.states {
		if _, ok := st.market.LegOf(token); ok {
			return st
		}
	}
	return nil
}
