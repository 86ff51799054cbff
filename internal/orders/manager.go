// Package orders owns the live order book of the engine: at most one resting
// order per token, placed and cancelled through the exchange executor.
//
// The manager never decides WHAT to quote — the engine does — it decides
// whether an existing order already satisfies a wanted quote (KEEP), is too
// young to churn (SKIP), or must be cancelled and re-placed (REPLACE), and it
// reconciles fills by polling order status.
package orders

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"updown-mm/internal/config"
	"updown-mm/internal/exchange"
	"updown-mm/pkg/types"
)

// ReplaceDecision is the outcome of MaybeReplace.
type ReplaceDecision int

const (
	Keep ReplaceDecision = iota
	Skip
	Replace
)

func (d ReplaceDecision) String() string {
	switch d {
	case Keep:
		return "KEEP"
	case Skip:
		return "SKIP"
	default:
		return "REPLACE"
	}
}

// StatusEvent is emitted when an order's (status, matched, remaining) tuple
// changes. Err is set on placement failures.
type StatusEvent struct {
	OrderID   string
	Token     string
	Side      types.Side
	Price     float64
	Size      float64
	Status    types.OrderStatus
	Matched   float64
	Remaining float64
	Raw       []byte
	Err       error
	TS        time.Time
}

// FillHandler receives the matched-size delta of one poll cycle.
type FillHandler func(order types.OrderState, delta float64)

// lastEmit is the dedup key for status events.
type lastEmit struct {
	status    string
	matched   float64
	remaining float64
}

// Manager keeps the one-live-order-per-token invariant.
type Manager struct {
	exec   exchange.Executor
	clock  types.Clock
	logger *slog.Logger

	mu      sync.Mutex
	live    map[string]*types.OrderState // token → live order
	emitted map[string]lastEmit          // orderID → last emitted tuple
	fills   FillHandler                  // receives cancel-path fill deltas

	events chan StatusEvent
}

// NewManager creates an order manager on top of an executor.
func NewManager(exec exchange.Executor, clock types.Clock, logger *slog.Logger) *Manager {
	return &Manager{
		exec:    exec,
		clock:   clock,
		logger:  logger.With("component", "orders"),
		live:    make(map[string]*types.OrderState),
		emitted: make(map[string]lastEmit),
		events:  make(chan StatusEvent, 64),
	}
}

// Events returns the status-event stream. Events are best-effort: when no
// reader keeps up the oldest event is dropped.
func (m *Manager) Events() <-chan StatusEvent {
	return m.events
}

// SetFillHandler registers the handler for fill deltas discovered on the
// cancel path, where no later CheckPending poll will see the order.
func (m *Manager) SetFillHandler(h FillHandler) {
	m.mu.Lock()
	m.fills = h
	m.mu.Unlock()
}

func (m *Manager) fillHandler() FillHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fills
}

// Live returns a copy of the resting order for a token, if any.
func (m *Manager) Live(token string) (types.OrderState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o := m.live[token]; o != nil {
		return *o, true
	}
	return types.OrderState{}, false
}

// LiveCount returns how many orders are currently resting.
func (m *Manager) LiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// Tokens returns the tokens that currently hold a live order.
func (m *Manager) Tokens() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.live))
	for tok := range m.live {
		out = append(out, tok)
	}
	return out
}

// Place submits a new order for a token. The slot must be empty: callers
// cancel first, place second.
func (m *Manager) Place(ctx context.Context, token string, side types.Side, price, size float64) (types.OrderState, error) {
	m.mu.Lock()
	if existing := m.live[token]; existing != nil {
		m.mu.Unlock()
		return types.OrderState{}, fmt.Errorf("place %s: slot already holds order %s", token, existing.OrderID)
	}
	m.mu.Unlock()

	// No lock across the wire call.
	res, err := m.exec.PlaceLimit(ctx, token, side, price, size)
	if err != nil {
		m.emit(StatusEvent{
			Token:  token,
			Side:   side,
			Price:  price,
			Size:   size,
			Status: types.StatusRejected,
			Err:    err,
			TS:     m.clock.Now(),
		})
		return types.OrderState{}, err
	}

	order := types.OrderState{
		OrderID:   res.OrderID,
		Token:     token,
		Side:      side,
		Price:     price,
		Size:      size,
		Matched:   res.Matched,
		Remaining: res.Remaining,
		Status:    res.Status,
		CreatedAt: m.clock.Now(),
	}
	if order.Remaining == 0 && order.Matched < size {
		order.Remaining = size - order.Matched
	}

	m.mu.Lock()
	if !order.Status.IsTerminal() {
		o := order
		m.live[token] = &o
	}
	m.mu.Unlock()

	m.emit(StatusEvent{
		OrderID:   order.OrderID,
		Token:     token,
		Side:      side,
		Price:     price,
		Size:      size,
		Status:    order.Status,
		Matched:   order.Matched,
		Remaining: order.Remaining,
		Raw:       res.Raw,
		TS:        m.clock.Now(),
	})
	return order, nil
}

// MaybeReplace compares a wanted quote against the token's resting order.
//
// KEEP when price, size, and age are all within tolerance; SKIP when the
// order is too young to churn even though it drifted; REPLACE otherwise.
// A token with no live order always replaces (the caller just places).
func (m *Manager) MaybeReplace(token string, newPrice, newSize float64, cfg config.EngineConfig) ReplaceDecision {
	m.mu.Lock()
	defer m.mu.Unlock()

	order := m.live[token]
	if order == nil {
		return Replace
	}

	age := m.clock.Now().Sub(order.CreatedAt)
	priceClose := math.Abs(newPrice-order.Price) < cfg.MinPriceDelta
	sizeClose := math.Abs(newSize-order.Size) < cfg.MinSizeDelta
	young := age < time.Duration(cfg.ForceReplaceMillis)*time.Millisecond

	if priceClose && sizeClose && young {
		return Keep
	}
	if age < time.Duration(cfg.MinReplaceMillis)*time.Millisecond {
		return Skip
	}
	return Replace
}

// Cancel pulls the token's resting order. The slot is freed immediately so
// the engine can re-quote without waiting on the wire; the CANCELED status
// event fires only once the exchange confirms. Unknown tokens are a no-op.
func (m *Manager) Cancel(ctx context.Context, token string, reason types.CancelReason) error {
	m.mu.Lock()
	order := m.live[token]
	delete(m.live, token)
	m.mu.Unlock()

	if order == nil {
		return nil
	}

	canceled, err := m.exec.Cancel(ctx, order.OrderID)
	if err != nil {
		// The slot is already free; a late fill is reconciled by the
		// positions sync.
		m.logger.Warn("cancel failed",
			"order_id", order.OrderID,
			"token", token,
			"reason", string(reason),
			"error", err,
		)
		return err
	}
	// Final poll: a fill can land between the last CheckPending pass and the
	// cancel ack, and the freed slot means no later poll will see it. Route
	// the delta through the normal fill path.
	final := *order
	finalStatus := types.StatusCanceled
	if status, perr := m.exec.GetOrder(ctx, order.OrderID); perr == nil {
		final.Matched = status.Matched
		final.Remaining = status.Remaining
		if !canceled && status.Status.IsTerminal() {
			finalStatus = status.Status
		}
		if delta := status.Matched - order.Matched; delta > 0 {
			final.Status = status.Status
			if h := m.fillHandler(); h != nil {
				h(final, delta)
			}
		}
	} else {
		m.logger.Warn("final status poll failed after cancel",
			"order_id", order.OrderID,
			"error", perr,
		)
		if !canceled {
			// Already terminal and unreadable: nothing trustworthy to emit.
			return nil
		}
	}

	if canceled {
		m.logger.Debug("order canceled",
			"order_id", order.OrderID,
			"token", token,
			"reason", string(reason),
		)
	}
	m.emit(StatusEvent{
		OrderID:   order.OrderID,
		Token:     token,
		Side:      order.Side,
		Price:     order.Price,
		Size:      order.Size,
		Status:    finalStatus,
		Matched:   final.Matched,
		Remaining: final.Remaining,
		TS:        m.clock.Now(),
	})
	return nil
}

// CancelAll pulls every resting order, typically on shutdown or expiry.
func (m *Manager) CancelAll(ctx context.Context, reason types.CancelReason) {
	for _, token := range m.Tokens() {
		if err := m.Cancel(ctx, token, reason); err != nil {
			m.logger.Warn("cancel-all: order left behind", "token", token, "error", err)
		}
	}
}

// CheckPending polls each live order, invokes onFill with matched-size
// deltas, and frees slots whose orders went terminal.
func (m *Manager) CheckPending(ctx context.Context, onFill FillHandler) {
	m.mu.Lock()
	snapshot := make([]types.OrderState, 0, len(m.live))
	for _, o := range m.live {
		snapshot = append(snapshot, *o)
	}
	m.mu.Unlock()

	for _, prev := range snapshot {
		status, err := m.exec.GetOrder(ctx, prev.OrderID)
		if err != nil {
			m.logger.Warn("order status poll failed", "order_id", prev.OrderID, "error", err)
			continue
		}

		delta := status.Matched - prev.Matched
		if delta > 0 && onFill != nil {
			updated := prev
			updated.Matched = status.Matched
			updated.Remaining = status.Remaining
			updated.Status = status.Status
			onFill(updated, delta)
		}

		m.mu.Lock()
		if cur := m.live[prev.Token]; cur != nil && cur.OrderID == prev.OrderID {
			cur.Matched = status.Matched
			cur.Remaining = status.Remaining
			cur.Status = status.Status
			if status.Status.IsTerminal() {
				delete(m.live, prev.Token)
			}
		}
		m.mu.Unlock()

		m.emit(StatusEvent{
			OrderID:   prev.OrderID,
			Token:     prev.Token,
			Side:      prev.Side,
			Price:     prev.Price,
			Size:      prev.Size,
			Status:    status.Status,
			Matched:   status.Matched,
			Remaining: status.Remaining,
			Raw:       status.Raw,
			TS:        m.clock.Now(),
		})
	}
}

// emit publishes a status event iff its (status, matched, remaining) tuple
// differs from the last one emitted for the order. Never blocks: the oldest
// queued event is dropped under backpressure.
func (m *Manager) emit(ev StatusEvent) {
	key := ev.OrderID
	if key == "" {
		key = ev.Token
	}

	tuple := lastEmit{
		status:    strings.ToUpper(strings.TrimSpace(string(ev.Status))),
		matched:   ev.Matched,
		remaining: ev.Remaining,
	}

	m.mu.Lock()
	if prev, ok := m.emitted[key]; ok && prev == tuple && ev.Err == nil {
		m.mu.Unlock()
		return
	}
	m.emitted[key] = tuple
	if ev.Status.IsTerminal() {
		// Terminal tuples never change again.
		delete(m.emitted, key)
	}
	m.mu.Unlock()

	select {
	case m.events <- ev:
	default:
		select {
		case <-m.events:
		default:
		}
		select {
		case m.events <- ev:
		default:
		}
	}
}
