package api

import (
	"time"

	"updown-mm/internal/orders"
	"updown-mm/pkg/types"
)

// StatusEvent is the wrapper for everything pushed over the WebSocket.
type StatusEvent struct {
	Type      string      `json:"type"` // "snapshot", "order", "fill", "market"
	Timestamp time.Time   `json:"timestamp"`
	Slug      string      `json:"slug,omitempty"`
	Data      interface{} `json:"data"`
}

// OrderEvent mirrors one order-manager status transition.
type OrderEvent struct {
	OrderID   string  `json:"order_id"`
	Token     string  `json:"token"`
	Side      string  `json:"side"`
	Status    string  `json:"status"`
	Price     float64 `json:"price"`
	Size      float64 `json:"size"`
	Matched   float64 `json:"matched"`
	Remaining float64 `json:"remaining"`
	Error     string  `json:"error,omitempty"`
}

// FillEvent is pushed when matched size grows on a resting order.
type FillEvent struct {
	OrderID string  `json:"order_id"`
	Token   string  `json:"token"`
	Leg     string  `json:"leg"`
	Side    string  `json:"side"`
	Price   float64 `json:"price"`
	Shares  float64 `json:"shares"`
}

// MarketEvent announces a market entering or leaving the active set.
type MarketEvent struct {
	Slug    string    `json:"slug"`
	Series  string    `json:"series"`
	EndTime time.Time `json:"end_time"`
	Action  string    `json:"action"` // "started" | "evicted"
}

// NewOrderEvent converts an order-manager event for broadcast.
func NewOrderEvent(ev orders.StatusEvent) StatusEvent {
	oe := OrderEvent{
		OrderID:   ev.OrderID,
		Token:     ev.Token,
		Side:      string(ev.Side),
		Status:    string(ev.Status),
		Price:     ev.Price,
		Size:      ev.Size,
		Matched:   ev.Matched,
		Remaining: ev.Remaining,
	}
	if ev.Err != nil {
		oe.Error = ev.Err.Error()
	}
	return StatusEvent{Type: "order", Timestamp: ev.TS, Data: oe}
}

// NewFillEvent wraps a fill delta for broadcast.
func NewFillEvent(slug string, leg types.Leg, order types.OrderState, shares float64, ts time.Time) StatusEvent {
	return StatusEvent{
		Type:      "fill",
		Timestamp: ts,
		Slug:      slug,
		Data: FillEvent{
			OrderID: order.OrderID,
			Token:   order.Token,
			Leg:     leg.String(),
			Side:    string(order.Side),
			Price:   order.Price,
			Shares:  shares,
		},
	}
}

// NewMarketEvent wraps a market lifecycle change for broadcast.
func NewMarketEvent(m types.Market, action string, ts time.Time) StatusEvent {
	return StatusEvent{
		Type:      "market",
		Timestamp: ts,
		Slug:      m.Slug,
		Data: MarketEvent{
			Slug:    m.Slug,
			Series:  string(m.Series),
			EndTime: m.EndTime,
			Action:  action,
		},
	}
}
