// executor.go defines the execution contract shared by the live REST client
// and the paper simulator. The order manager programs against Executor and
// never learns which one it holds.
package exchange

import (
	"context"
	"encoding/json"
	"time"

	"updown-mm/pkg/types"
)

// Executor places, cancels, and queries orders, and reports account state.
// Implementations: *Client (live) and the paper simulator.
type Executor interface {
	// PlaceLimit submits a limit order. Price must be a tick multiple in
	// (0, 1); size is in shares, two-decimal quantized.
	PlaceLimit(ctx context.Context, token string, side types.Side, price, size float64) (*PlaceResult, error)

	// Cancel cancels by order ID. Unknown or already-terminal orders return
	// (false, nil): cancel is idempotent.
	Cancel(ctx context.Context, orderID string) (bool, error)

	// GetOrder returns the current state of an order.
	GetOrder(ctx context.Context, orderID string) (*OrderStatus, error)

	// TickSize returns the token's minimum price increment. Implementations
	// may cache for up to 10 minutes.
	TickSize(ctx context.Context, token string) (float64, error)

	// Bankroll returns the current cash and equity view of the account.
	Bankroll(ctx context.Context) (*BankrollInfo, error)

	// Positions returns exchange-reported holdings, used to reconcile the
	// local inventory ledger.
	Positions(ctx context.Context) ([]PositionInfo, error)
}

// PlaceResult is the outcome of a successful PlaceLimit.
type PlaceResult struct {
	OrderID   string
	Status    types.OrderStatus
	Matched   float64
	Remaining float64
	Mode      types.ExecMode
	Raw       json.RawMessage // adapter response, opaque to callers
}

// OrderStatus is the outcome of GetOrder.
type OrderStatus struct {
	OrderID   string
	Status    types.OrderStatus
	Price     float64
	Size      float64
	Matched   float64
	Remaining float64
	Mode      types.ExecMode
	Raw       json.RawMessage
}

// BankrollInfo is the account snapshot returned by Bankroll.
type BankrollInfo struct {
	Usdc      float64
	Equity    float64
	FetchedAt time.Time
	Mode      types.ExecMode
}

// PositionInfo is one exchange-reported holding.
type PositionInfo struct {
	Token    string
	Shares   float64 // signed; negative means short
	AvgPrice float64
}
