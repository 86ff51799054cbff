// ws.go implements the market-channel WebSocket connection.
//
// The connection subscribes by token ID and receives "book" snapshots,
// "price_change" deltas carrying refreshed best levels, and
// "last_trade_price" prints. It auto-reconnects with exponential backoff
// (1s → 30s max) and re-subscribes to the full tracked set on reconnection.
// A read deadline (90s) ensures silent server failures are detected within
// ~2 missed pings.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"updown-mm/pkg/types"
)

const (
	pingInterval     = 50 * time.Second // how often we send PING to keep alive
	readTimeout      = 90 * time.Second // ~2 missed pings triggers reconnect
	maxReconnectWait = 30 * time.Second // cap on exponential backoff
	writeTimeout     = 10 * time.Second // deadline for outgoing messages
	bookBufferSize   = 256              // buffer for book/price events
	tradeBufferSize  = 128              // buffer for last-trade prints
)

// Conn manages the market-channel WebSocket connection: lifecycle,
// subscription tracking, message routing, and automatic reconnection.
type Conn struct {
	url    string
	conn   *websocket.Conn
	connMu sync.Mutex // protects conn reads/writes

	// Track subscriptions for diffing and automatic re-subscribe on reconnect
	subscribedMu sync.RWMutex
	subscribed   map[string]bool // token IDs

	// Typed event channels — consumers read from these via accessor methods
	bookCh        chan types.WSBookEvent
	priceChangeCh chan types.WSPriceChangeEvent
	lastTradeCh   chan types.WSLastTradeEvent

	logger *slog.Logger
}

// NewConn creates a market-channel WebSocket connection.
func NewConn(wsURL string, logger *slog.Logger) *Conn {
	return &Conn{
		url:           wsURL,
		subscribed:    make(map[string]bool),
		bookCh:        make(chan types.WSBookEvent, bookBufferSize),
		priceChangeCh: make(chan types.WSPriceChangeEvent, bookBufferSize),
		lastTradeCh:   make(chan types.WSLastTradeEvent, tradeBufferSize),
		logger:        logger.With("component", "ws_market"),
	}
}

// BookEvents returns a read-only channel of book snapshot events.
func (c *Conn) BookEvents() <-chan types.WSBookEvent { return c.bookCh }

// PriceChangeEvents returns a read-only channel of price change events.
func (c *Conn) PriceChangeEvents() <-chan types.WSPriceChangeEvent { return c.priceChangeCh }

// LastTradeEvents returns a read-only channel of public trade prints.
func (c *Conn) LastTradeEvents() <-chan types.WSLastTradeEvent { return c.lastTradeCh }

// Run connects and maintains the WebSocket connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (c *Conn) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := c.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.logger.Warn("websocket disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		// Exponential backoff: 1s, 2s, 4s, 8s, ..., 30s max
		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// SetSubscriptions reconciles the subscription set toward desired. Callers
// submit the full desired token set each refresh; only deltas go over the
// wire. Safe to call while disconnected: the tracked set is updated and the
// next (re)connect subscribes to all of it.
func (c *Conn) SetSubscriptions(ctx context.Context, desired []string) error {
	want := make(map[string]bool, len(desired))
	for _, id := range desired {
		want[id] = true
	}

	c.subscribedMu.Lock()
	var add, remove []string
	for id := range want {
		if !c.subscribed[id] {
			add = append(add, id)
		}
	}
	for id := range c.subscribed {
		if !want[id] {
			remove = append(remove, id)
		}
	}
	for _, id := range add {
		c.subscribed[id] = true
	}
	for _, id := range remove {
		delete(c.subscribed, id)
	}
	c.subscribedMu.Unlock()

	if len(add) == 0 && len(remove) == 0 {
		return nil
	}

	c.logger.Debug("subscription delta", "add", len(add), "remove", len(remove))

	// Not connected yet: the tracked set is already updated, the initial
	// subscription on connect will carry it.
	c.connMu.Lock()
	connected := c.conn != nil
	c.connMu.Unlock()
	if !connected {
		return nil
	}

	if len(add) > 0 {
		msg := types.WSUpdateMsg{Operation: "subscribe", AssetIDs: add}
		if err := c.writeJSON(msg); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}
	if len(remove) > 0 {
		msg := types.WSUpdateMsg{Operation: "unsubscribe", AssetIDs: remove}
		if err := c.writeJSON(msg); err != nil {
			return fmt.Errorf("unsubscribe: %w", err)
		}
	}
	return nil
}

// Close gracefully closes the connection.
func (c *Conn) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Conn) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	defer func() {
		c.connMu.Lock()
		conn.Close()
		c.conn = nil
		c.connMu.Unlock()
	}()

	// Send initial subscription with the full tracked set
	if err := c.sendInitialSubscription(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	c.logger.Info("websocket connected")

	// Start ping goroutine
	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go c.pingLoop(pingCtx)

	// Read loop with deadline so we reconnect if server goes silent
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		c.dispatchMessage(msg)
	}
}

func (c *Conn) sendInitialSubscription() error {
	c.subscribedMu.RLock()
	ids := make([]string, 0, len(c.subscribed))
	for id := range c.subscribed {
		ids = append(ids, id)
	}
	c.subscribedMu.RUnlock()

	msg := types.WSSubscribeMsg{
		Type:     "market",
		AssetIDs: ids,
	}
	return c.writeJSON(msg)
}

func (c *Conn) dispatchMessage(data []byte) {
	// Peek at event_type to route
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		c.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}

	switch envelope.EventType {
	case "book":
		var evt types.WSBookEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			c.logger.Error("unmarshal book event", "error", err)
			return
		}
		select {
		case c.bookCh <- evt:
		default:
			c.logger.Warn("book channel full, dropping event", "asset", evt.AssetID)
		}

	case "price_change":
		var evt types.WSPriceChangeEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			c.logger.Error("unmarshal price_change event", "error", err)
			return
		}
		select {
		case c.priceChangeCh <- evt:
		default:
			c.logger.Warn("price_change channel full, dropping event")
		}

	case "last_trade_price":
		var evt types.WSLastTradeEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			c.logger.Error("unmarshal last_trade_price event", "error", err)
			return
		}
		select {
		case c.lastTradeCh <- evt:
		default:
			c.logger.Warn("last_trade channel full, dropping event", "asset", evt.AssetID)
		}

	case "tick_size_change", "best_bid_ask", "new_market", "market_resolved":
		// Informational events we don't need to process
		c.logger.Debug("ignoring event", "type", envelope.EventType)

	default:
		c.logger.Debug("unknown ws event type", "type", envelope.EventType)
	}
}

func (c *Conn) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				c.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (c *Conn) writeJSON(v interface{}) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *Conn) writeMessage(msgType int, data []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(msgType, data)
}
