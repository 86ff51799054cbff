// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the engine — market legs, order
// state, top-of-book snapshots, wire formats, and WebSocket event payloads.
// It has no dependencies on internal packages, so it can be imported by any
// layer.
package types

import (
	"math/big"
	"strings"
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Leg identifies one of the two outcomes of a paired Up/Down market.
type Leg int

const (
	LegUp Leg = iota
	LegDown
)

// Opposite returns the other leg. Total over both values, so callers never
// need a default branch.
func (l Leg) Opposite() Leg {
	if l == LegUp {
		return LegDown
	}
	return LegUp
}

func (l Leg) String() string {
	if l == LegUp {
		return "up"
	}
	return "down"
}

// SeriesKey is the market family identifier. It conditions the probabilistic
// heuristics (maker improvement, taker probability) and the pre-warm window.
type SeriesKey string

const (
	SeriesBTC15m SeriesKey = "btc-15m"
	SeriesETH15m SeriesKey = "eth-15m"
	SeriesBTC1h  SeriesKey = "btc-1h"
	SeriesETH1h  SeriesKey = "eth-1h"
	SeriesOther  SeriesKey = "other"
)

// CycleDuration returns the slot length of the series, or 0 for SeriesOther.
func (s SeriesKey) CycleDuration() time.Duration {
	switch s {
	case SeriesBTC15m, SeriesETH15m:
		return 15 * time.Minute
	case SeriesBTC1h, SeriesETH1h:
		return time.Hour
	default:
		return 0
	}
}

// SeriesFromSlug classifies a market slug into a series key.
func SeriesFromSlug(slug string) SeriesKey {
	s := strings.ToLower(slug)
	is15m := strings.Contains(s, "15m")
	is1h := strings.Contains(s, "1h") || strings.Contains(s, "hourly")
	switch {
	case strings.Contains(s, "btc") && is15m:
		return SeriesBTC15m
	case strings.Contains(s, "eth") && is15m:
		return SeriesETH15m
	case strings.Contains(s, "btc") && is1h:
		return SeriesBTC1h
	case strings.Contains(s, "eth") && is1h:
		return SeriesETH1h
	default:
		return SeriesOther
	}
}

// ExecMode tells which execution path produced a result.
type ExecMode string

const (
	ModeLive  ExecMode = "LIVE"
	ModePaper ExecMode = "PAPER"
)

// OrderType enumerates the supported order lifecycles.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Til-Cancelled: stays on book until filled or cancelled
)

// SignatureType identifies the signing scheme for the CTF exchange contract.
type SignatureType int

const (
	SigEOA        SignatureType = 0 // externally-owned account (standard wallet)
	SigProxy      SignatureType = 1 // proxy / Magic wallet
	SigGnosisSafe SignatureType = 2 // Gnosis Safe multisig
)

// OrderStatus is the lifecycle state of an order as the order manager sees it.
type OrderStatus string

const (
	StatusOpen     OrderStatus = "OPEN"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
)

// IsTerminal reports whether no further transitions are possible.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusFilled || s == StatusCanceled || s == StatusRejected
}

// NormalizeStatus maps raw exchange status strings onto OrderStatus values.
// Comparison is case-insensitive and whitespace-trimmed; unknown strings map
// to OPEN so a misbehaving adapter never frees a slot by accident.
func NormalizeStatus(raw string) OrderStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "OPEN", "LIVE":
		return StatusOpen
	case "PARTIAL", "PARTIALLY_FILLED", "PARTIALLY_MATCHED":
		return StatusPartial
	case "FILLED", "MATCHED":
		return StatusFilled
	case "CANCELED", "CANCELLED":
		return StatusCanceled
	case "REJECTED", "FAILED", "INVALID":
		return StatusRejected
	default:
		return StatusOpen
	}
}

// CancelReason documents why the engine pulled an order.
type CancelReason string

const (
	ReasonBookStale        CancelReason = "BOOK_STALE"
	ReasonBookOutOfBand    CancelReason = "BOOK_OUT_OF_BAND"
	ReasonInsufficientEdge CancelReason = "INSUFFICIENT_EDGE"
	ReasonHedgeDelay       CancelReason = "HEDGE_DELAY"
	ReasonMarketExpired    CancelReason = "MARKET_EXPIRED"
	ReasonReplace          CancelReason = "REPLACE"
	ReasonShutdown         CancelReason = "SHUTDOWN"
)

// TickSize represents the price granularity for a market. The CLOB supports
// four tick sizes; each market has a fixed tick size that determines the
// minimum price increment and USDC amount rounding precision.
type TickSize string

const (
	Tick01    TickSize = "0.1"    // 1 decimal  — coarse markets
	Tick001   TickSize = "0.01"   // 2 decimals — standard markets (most common)
	Tick0001  TickSize = "0.001"  // 3 decimals — fine-grained markets
	Tick00001 TickSize = "0.0001" // 4 decimals — ultra-precise markets
)

// Decimals returns the number of decimal places for a tick size.
func (t TickSize) Decimals() int {
	switch t {
	case Tick01:
		return 1
	case Tick001:
		return 2
	case Tick0001:
		return 3
	case Tick00001:
		return 4
	default:
		return 2
	}
}

// AmountDecimals returns the rounding precision for USDC amounts.
func (t TickSize) AmountDecimals() int {
	switch t {
	case Tick01:
		return 3
	case Tick001:
		return 4
	case Tick0001:
		return 5
	case Tick00001:
		return 6
	}
	return 4
}

// Float returns the tick size as a float64.
func (t TickSize) Float() float64 {
	switch t {
	case Tick01:
		return 0.1
	case Tick0001:
		return 0.001
	case Tick00001:
		return 0.0001
	}
	return 0.01
}

// TickSizeFromFloat maps a numeric tick onto the nearest supported TickSize.
func TickSizeFromFloat(tick float64) TickSize {
	switch {
	case tick >= 0.1:
		return Tick01
	case tick >= 0.01:
		return Tick001
	case tick >= 0.001:
		return Tick0001
	default:
		return Tick00001
	}
}

// ————————————————————————————————————————————————————————————————————————
// Market metadata
// ————————————————————————————————————————————————————————————————————————

// Market is a paired two-outcome market. UpToken and DownToken are the CLOB
// token IDs of the complementary outcomes; their fair prices sum to ~$1,
// which is what the complete-set edge calculation exploits.
type Market struct {
	Slug        string    // e.g. "btc-updown-15m-1756100700"
	ConditionID string    // CTF condition ID (cancels, user-channel keys)
	UpToken     string    // CLOB token ID for the Up outcome
	DownToken   string    // CLOB token ID for the Down outcome
	EndTime     time.Time // when trading stops and the market resolves
	Series      SeriesKey // market family (btc-15m, eth-1h, ...)
}

// Token returns the token ID for the given leg.
func (m Market) Token(leg Leg) string {
	if leg == LegUp {
		return m.UpToken
	}
	return m.DownToken
}

// LegOf returns the leg a token belongs to; ok is false when the token is not
// part of this market.
func (m Market) LegOf(token string) (leg Leg, ok bool) {
	switch token {
	case m.UpToken:
		return LegUp, true
	case m.DownToken:
		return LegDown, true
	}
	return LegUp, false
}

// Valid reports whether the market carries everything the engine needs.
func (m Market) Valid() bool {
	return m.Slug != "" && m.UpToken != "" && m.DownToken != "" && !m.EndTime.IsZero()
}

// SecondsToEnd returns the whole seconds remaining until EndTime, negative
// once the market has expired.
func (m Market) SecondsToEnd(now time.Time) float64 {
	return m.EndTime.Sub(now).Seconds()
}

// ————————————————————————————————————————————————————————————————————————
// Top of book
// ————————————————————————————————————————————————————————————————————————

// TopOfBook is the latest best bid/ask observation for one token, plus the
// most recent trade seen on that token (consumed by the paper simulator's
// tape logic).
type TopOfBook struct {
	BestBid     float64
	BestAsk     float64
	BestBidSize float64
	BestAskSize float64
	UpdatedAt   time.Time

	LastTradePrice float64   // 0 when no trade has been seen yet
	LastTradeSize  float64   // 0 when no trade has been seen yet
	LastTradeAt    time.Time // zero when no trade has been seen yet
}

// Spread returns bestAsk − bestBid.
func (t TopOfBook) Spread() float64 { return t.BestAsk - t.BestBid }

// HasBothSides reports whether both a bid and an ask are known.
func (t TopOfBook) HasBothSides() bool { return t.BestBid > 0 && t.BestAsk > 0 }

// IsStale reports whether the observation is older than maxAge at the given
// instant. A zero UpdatedAt is always stale.
func (t TopOfBook) IsStale(now time.Time, maxAge time.Duration) bool {
	if t.UpdatedAt.IsZero() {
		return true
	}
	return now.Sub(t.UpdatedAt) > maxAge
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// OrderState is the order manager's record of one live order. The invariant
// Matched + Remaining == Size holds after every transition.
type OrderState struct {
	OrderID   string
	Token     string
	Side      Side
	Price     float64
	Size      float64
	Matched   float64
	Remaining float64
	Status    OrderStatus
	CreatedAt time.Time

	// MakerAtPlacement is true iff the limit price did not cross the opposite
	// top of book at placement (BUY below bestAsk, SELL above bestBid).
	MakerAtPlacement bool
}

// UserOrder is the high-level order request produced by the engine.
// The live adapter converts it to a SignedOrder for the CLOB API; the paper
// simulator consumes it directly.
type UserOrder struct {
	TokenID    string    // which token to trade
	Price      float64   // limit price (0.0 to 1.0)
	Size       float64   // quantity in shares
	Side       Side      // BUY or SELL
	OrderType  OrderType // GTC
	TickSize   TickSize  // market's price granularity (for amount rounding)
	Expiration int64     // unix timestamp, 0 = no expiry
	FeeRateBps int       // fee rate in basis points
}

// SignedOrder is the on-chain order format the CLOB API expects.
// MakerAmount and TakerAmount are in 6-decimal USDC units (1e6 = $1).
//
// For BUY:  maker gives MakerAmount USDC, receives TakerAmount tokens
// For SELL: maker gives MakerAmount tokens, receives TakerAmount USDC
type SignedOrder struct {
	Salt          string        `json:"salt"`
	Maker         string        `json:"maker"`       // funder/proxy wallet address
	Signer        string        `json:"signer"`      // EOA that signs the order
	Taker         string        `json:"taker"`       // zero address = open order
	TokenID       string        `json:"tokenId"`     // CTF token ID
	MakerAmount   *big.Int      `json:"makerAmount"` // what maker gives (scaled to 1e6)
	TakerAmount   *big.Int      `json:"takerAmount"` // what maker receives (scaled to 1e6)
	Side          Side          `json:"side"`
	Expiration    string        `json:"expiration"`    // unix timestamp as string
	Nonce         string        `json:"nonce"`         // replay protection
	FeeRateBps    string        `json:"feeRateBps"`    // fee in basis points as string
	SignatureType SignatureType `json:"signatureType"` // 0 = EOA
	Signature     string        `json:"signature"`     // EIP-712 signature hex
}

// OrderPayload is the REST API request body for POST /order.
type OrderPayload struct {
	Order     SignedOrder `json:"order"`
	Owner     string      `json:"owner"`     // API key of the order owner
	OrderType OrderType   `json:"orderType"` // GTC
}

// OrderResponse is the REST API response for POST /order.
type OrderResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"` // e.g. "live", "matched"
}

// OpenOrder represents a resting order as reported by the CLOB.
type OpenOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`        // "live", "matched", etc.
	Market       string `json:"market"`        // condition ID
	AssetID      string `json:"asset_id"`      // token ID
	Side         string `json:"side"`          // "BUY" or "SELL"
	OriginalSize string `json:"original_size"` // initial size
	SizeMatched  string `json:"size_matched"`  // how much has filled
	Price        string `json:"price"`         // limit price
}

// CancelResponse is returned by DELETE /order and /cancel-market-orders.
type CancelResponse struct {
	Canceled    []string          `json:"canceled"`
	NotCanceled map[string]string `json:"not_canceled"` // orderID → reason
}

// ————————————————————————————————————————————————————————————————————————
// Trade tape
// ————————————————————————————————————————————————————————————————————————

// TradePrint is a single public trade observed on a token, consumed by the
// paper simulator's tape-driven fill model.
type TradePrint struct {
	TS    time.Time
	Token string
	Side  Side // aggressor side
	Price float64
	Size  float64
	TxRef string // optional transaction reference for dedup
}

// ————————————————————————————————————————————————————————————————————————
// Emitted events
// ————————————————————————————————————————————————————————————————————————

// SimKind labels how the paper simulator produced a fill.
type SimKind string

const (
	SimTaker             SimKind = "TAKER"
	SimMaker             SimKind = "MAKER"
	SimMakerCross        SimKind = "MAKER_CROSS"
	SimMakerTape         SimKind = "MAKER_TAPE"
	SimMakerTapeFallback SimKind = "MAKER_TAPE_FALLBACK"
)

// ExecutorOrderStatus is emitted on every observable order change. The order
// manager suppresses emissions whose status, matched, and remaining are all
// unchanged versus the previous emission for the same order.
type ExecutorOrderStatus struct {
	OrderID   string
	Token     string
	Side      Side
	Price     float64
	Size      float64
	Status    OrderStatus
	Matched   float64
	Remaining float64
	Mode      ExecMode
	Raw       []byte // raw adapter payload, opaque to the core
	Err       string // populated on rejection
	TS        time.Time
}

// UserTrade records one of our own fills. SimKind is set in paper mode only.
type UserTrade struct {
	MarketSlug string
	Token      string
	Side       Side
	Price      float64
	Size       float64
	TS         time.Time
	SimKind    SimKind
}

// DiscoveredMarkets is the discovery heartbeat: the full active set after
// each discovery pass.
type DiscoveredMarkets struct {
	Markets []Market
	TS      time.Time
}

// ————————————————————————————————————————————————————————————————————————
// WebSocket events (market channel)
// ————————————————————————————————————————————————————————————————————————
// These structs map 1:1 to the JSON messages sent over the market WebSocket:
// "book" (full snapshot), "price_change" (delta with refreshed best levels),
// and "last_trade_price" (public trade signal).

// PriceLevel is a single bid or ask level. Price and Size are strings because
// the CLOB API returns them as strings to preserve decimal precision.
type PriceLevel struct {
	Price string `json:"price"` // e.g. "0.55"
	Size  string `json:"size"`  // e.g. "100.5"
}

// WSBookEvent is a full order book snapshot for one token.
type WSBookEvent struct {
	EventType string       `json:"event_type"` // always "book"
	AssetID   string       `json:"asset_id"`
	Market    string       `json:"market"` // condition ID
	Timestamp string       `json:"timestamp"`
	Buys      []PriceLevel `json:"buys"`  // bid levels, best first
	Sells     []PriceLevel `json:"sells"` // ask levels, best first
}

// WSPriceChange is a single level update within a price_change event.
// The feed only consumes the refreshed best levels.
type WSPriceChange struct {
	AssetID     string `json:"asset_id"`
	Price       string `json:"price"` // the price level that changed
	Size        string `json:"size"`  // new size at that level (0 = removed)
	Side        string `json:"side"`  // "BUY" or "SELL"
	BestBid     string `json:"best_bid"`
	BestAsk     string `json:"best_ask"`
	BestBidSize string `json:"best_bid_size"`
	BestAskSize string `json:"best_ask_size"`
}

// WSPriceChangeEvent is an incremental order book update. Contains one or
// more level changes applied atomically.
type WSPriceChangeEvent struct {
	EventType    string          `json:"event_type"` // always "price_change"
	Market       string          `json:"market"`
	Timestamp    string          `json:"timestamp"`
	PriceChanges []WSPriceChange `json:"price_changes"`
}

// WSLastTradeEvent reports the most recent public trade on a token.
type WSLastTradeEvent struct {
	EventType string `json:"event_type"` // always "last_trade_price"
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Side      string `json:"side"` // aggressor side
	Timestamp string `json:"timestamp"`
}

// WSSubscribeMsg is the initial subscription message sent when connecting.
type WSSubscribeMsg struct {
	Auth     *WSAuth  `json:"auth,omitempty"`       // required for user channel
	Type     string   `json:"type"`                 // "market" or "user"
	Markets  []string `json:"markets,omitempty"`    // condition IDs (user channel)
	AssetIDs []string `json:"assets_ids,omitempty"` // token IDs (market channel)
}

// WSAuth contains the L2 API credentials for authenticating the user channel.
type WSAuth struct {
	ApiKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// WSUpdateMsg is sent to dynamically subscribe or unsubscribe from tokens
// after the initial connection is established.
type WSUpdateMsg struct {
	AssetIDs  []string `json:"assets_ids,omitempty"` // token IDs (market channel)
	Markets   []string `json:"markets,omitempty"`    // condition IDs (user channel)
	Operation string   `json:"operation"`            // "subscribe" or "unsubscribe"
}
