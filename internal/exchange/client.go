// Package exchange implements the live execution path against the CLOB REST API
// and defines the Executor contract the paper simulator also satisfies.
//
// The REST client (Client) covers order management and account state:
//   - PlaceLimit:         POST /order                  — place one signed limit order
//   - Cancel:             DELETE /order                — cancel by order ID (idempotent)
//   - GetOrder:           GET  /data/order/{id}        — poll order status + matched size
//   - TickSize:           GET  /tick-size              — minimum price increment (cached 10 min)
//   - Bankroll:           GET  /balance-allowance      — cash; equity via the data API
//   - Positions:          GET  {data}/positions        — exchange-reported holdings
//   - CancelMarketOrders: DELETE /cancel-market-orders — pull one market's orders
//   - DeriveAPIKey:       GET  /auth/derive-api-key    — bootstrap L2 creds from L1 wallet
//
// Every request is rate-limited via per-category TokenBuckets, automatically
// retried on 5xx errors, and authenticated with L2 HMAC headers (except
// public reads). Failures surface as *Error values with an ErrorKind.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"updown-mm/internal/config"
	"updown-mm/pkg/types"
)

// tickSizeTTL bounds how long a cached tick size is trusted.
const tickSizeTTL = 10 * time.Minute

// Client is the live CLOB REST API client. It implements Executor.
type Client struct {
	http   *resty.Client // HTTP client with retry + base URL
	data   *resty.Client // data API client (positions, equity)
	auth   *Auth         // L1/L2 auth provider for request signing
	rl     *RateLimiter  // per-endpoint-category rate limiting
	clock  types.Clock
	logger *slog.Logger

	mu    sync.Mutex
	ticks map[string]cachedTick // token → tick size, refreshed every tickSizeTTL
}

type cachedTick struct {
	tick      float64
	fetchedAt time.Time
}

// NewClient creates a live REST client with rate limiting and retry.
func NewClient(cfg config.Config, auth *Auth, clock types.Clock, logger *slog.Logger) *Client {
	newHTTP := func(base string) *resty.Client {
		return resty.New().
			SetBaseURL(base).
			SetTimeout(10*time.Second).
			SetRetryCount(3).
			SetRetryWaitTime(500*time.Millisecond).
			SetRetryMaxWaitTime(5*time.Second).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				if err != nil {
					return true
				}
				return r.StatusCode() >= 500
			}).
			SetHeader("Content-Type", "application/json")
	}

	dataBase := cfg.API.DataBaseURL
	if dataBase == "" {
		dataBase = cfg.API.CLOBBaseURL
	}

	return &Client{
		http:   newHTTP(cfg.API.CLOBBaseURL),
		data:   newHTTP(dataBase),
		auth:   auth,
		rl:     NewRateLimiter(),
		clock:  clock,
		logger: logger.With("component", "exchange"),
		ticks:  make(map[string]cachedTick),
	}
}

// PlaceLimit submits a single GTC limit order.
func (c *Client) PlaceLimit(ctx context.Context, token string, side types.Side, price, size float64) (*PlaceResult, error) {
	if price <= 0 || price >= 1 {
		return nil, newError(KindInvalidPrice, "place", "price %v outside (0, 1)", price)
	}
	if size < 0.01 {
		return nil, newError(KindInvalidSize, "place", "size %v below minimum 0.01", size)
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, wrapError(KindUnavailable, "place", err)
	}

	tick, err := c.TickSize(ctx, token)
	if err != nil {
		return nil, err
	}

	payload := c.buildOrderPayload(types.UserOrder{
		TokenID:   token,
		Price:     price,
		Size:      size,
		Side:      side,
		OrderType: types.OrderTypeGTC,
		TickSize:  types.TickSizeFromFloat(tick),
	})

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, wrapError(KindRejected, "place", err)
	}
	headers, err := c.auth.L2Headers("POST", "/order", string(body))
	if err != nil {
		return nil, wrapError(KindAuthFailure, "place", err)
	}

	var result types.OrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Post("/order")
	if err != nil {
		return nil, wrapError(KindTransient, "place", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, classifyStatus("place", resp.StatusCode(), resp.String())
	}
	if !result.Success {
		return nil, newError(KindRejected, "place", "%s", result.ErrorMsg)
	}

	status := types.NormalizeStatus(result.Status)
	matched := 0.0
	if status == types.StatusFilled {
		matched = size
	}

	c.logger.Debug("order placed",
		"order_id", result.OrderID, "token", token,
		"side", side, "price", price, "size", size, "status", status)

	return &PlaceResult{
		OrderID:   result.OrderID,
		Status:    status,
		Matched:   matched,
		Remaining: size - matched,
		Mode:      types.ModeLive,
		Raw:       json.RawMessage(resp.Body()),
	}, nil
}

// buildOrderPayload converts a high-level UserOrder into the on-chain
// SignedOrder + metadata the REST API expects. It converts human-readable
// price/size to big.Int maker/taker amounts at the market's tick precision,
// sets the maker to the funder wallet (proxy), the signer to the EOA, and
// the taker to the zero address (open order, anyone can fill).
func (c *Client) buildOrderPayload(order types.UserOrder) types.OrderPayload {
	makerAmt, takerAmt := PriceToAmounts(order.Price, order.Size, order.Side, order.TickSize)

	return types.OrderPayload{
		Order: types.SignedOrder{
			Maker:         c.auth.FunderAddress().Hex(),
			Signer:        c.auth.Address().Hex(),
			Taker:         "0x0000000000000000000000000000000000000000",
			TokenID:       order.TokenID,
			MakerAmount:   makerAmt,
			TakerAmount:   takerAmt,
			Side:          order.Side,
			Expiration:    fmt.Sprintf("%d", order.Expiration),
			Nonce:         "0",
			FeeRateBps:    fmt.Sprintf("%d", order.FeeRateBps),
			SignatureType: c.auth.sigType,
		},
		Owner:     c.auth.creds.ApiKey,
		OrderType: order.OrderType,
	}
}

// Cancel cancels an order by ID. Unknown or already-terminal orders return
// (false, nil): the exchange reports them in not_canceled and that is treated
// as idempotent success.
func (c *Client) Cancel(ctx context.Context, orderID string) (bool, error) {
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return false, wrapError(KindUnavailable, "cancel", err)
	}

	body := fmt.Sprintf(`{"orderID":%q}`, orderID)
	headers, err := c.auth.L2Headers("DELETE", "/order", body)
	if err != nil {
		return false, wrapError(KindAuthFailure, "cancel", err)
	}

	var result types.CancelResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Delete("/order")
	if err != nil {
		return false, wrapError(KindTransient, "cancel", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode() != http.StatusOK {
		return false, classifyStatus("cancel", resp.StatusCode(), resp.String())
	}

	for _, id := range result.Canceled {
		if id == orderID {
			return true, nil
		}
	}
	return false, nil
}

// GetOrder fetches the current state of one order.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*OrderStatus, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return nil, wrapError(KindUnavailable, "get order", err)
	}

	path := "/data/order/" + orderID
	headers, err := c.auth.L2Headers("GET", path, "")
	if err != nil {
		return nil, wrapError(KindAuthFailure, "get order", err)
	}

	var result types.OpenOrder
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get(path)
	if err != nil {
		return nil, wrapError(KindTransient, "get order", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, classifyStatus("get order", resp.StatusCode(), resp.String())
	}

	price := parseFloat(result.Price)
	size := parseFloat(result.OriginalSize)
	matched := parseFloat(result.SizeMatched)

	return &OrderStatus{
		OrderID:   result.ID,
		Status:    types.NormalizeStatus(result.Status),
		Price:     price,
		Size:      size,
		Matched:   matched,
		Remaining: size - matched,
		Mode:      types.ModeLive,
		Raw:       json.RawMessage(resp.Body()),
	}, nil
}

// TickSize returns the token's minimum price increment, cached for 10 minutes.
func (c *Client) TickSize(ctx context.Context, token string) (float64, error) {
	c.mu.Lock()
	if cached, ok := c.ticks[token]; ok && c.clock.Now().Sub(cached.fetchedAt) < tickSizeTTL {
		c.mu.Unlock()
		return cached.tick, nil
	}
	c.mu.Unlock()

	if err := c.rl.Query.Wait(ctx); err != nil {
		return 0, wrapError(KindUnavailable, "tick size", err)
	}

	var result struct {
		MinimumTickSize string `json:"minimum_tick_size"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", token).
		SetResult(&result).
		Get("/tick-size")
	if err != nil {
		return 0, wrapError(KindTransient, "tick size", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, classifyStatus("tick size", resp.StatusCode(), resp.String())
	}

	tick := parseFloat(result.MinimumTickSize)
	if tick <= 0 {
		return 0, newError(KindUnavailable, "tick size", "bad tick %q for token %s", result.MinimumTickSize, token)
	}

	c.mu.Lock()
	c.ticks[token] = cachedTick{tick: tick, fetchedAt: c.clock.Now()}
	c.mu.Unlock()

	return tick, nil
}

// Bankroll returns the account's cash (USDC collateral balance) and equity
// (portfolio value from the data API). When the data API is not distinct,
// equity falls back to cash.
func (c *Client) Bankroll(ctx context.Context) (*BankrollInfo, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return nil, wrapError(KindUnavailable, "bankroll", err)
	}

	path := "/balance-allowance"
	headers, err := c.auth.L2Headers("GET", path, "")
	if err != nil {
		return nil, wrapError(KindAuthFailure, "bankroll", err)
	}

	var balance struct {
		Balance string `json:"balance"` // USDC, 6-decimal integer string
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParam("asset_type", "COLLATERAL").
		SetResult(&balance).
		Get(path)
	if err != nil {
		return nil, wrapError(KindTransient, "bankroll", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, classifyStatus("bankroll", resp.StatusCode(), resp.String())
	}

	usdc := parseFloat(balance.Balance) / 1e6
	equity := usdc

	var value []struct {
		Value float64 `json:"value"`
	}
	vresp, err := c.data.R().
		SetContext(ctx).
		SetQueryParam("user", c.auth.FunderAddress().Hex()).
		SetResult(&value).
		Get("/value")
	if err == nil && vresp.StatusCode() == http.StatusOK && len(value) > 0 {
		equity = usdc + value[0].Value
	}

	return &BankrollInfo{
		Usdc:      usdc,
		Equity:    equity,
		FetchedAt: c.clock.Now(),
		Mode:      types.ModeLive,
	}, nil
}

// Positions returns exchange-reported holdings for the funder wallet.
func (c *Client) Positions(ctx context.Context) ([]PositionInfo, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return nil, wrapError(KindUnavailable, "positions", err)
	}

	var rows []struct {
		Asset    string  `json:"asset"`
		Size     float64 `json:"size"`
		AvgPrice float64 `json:"avgPrice"`
	}
	resp, err := c.data.R().
		SetContext(ctx).
		SetQueryParam("user", c.auth.FunderAddress().Hex()).
		SetResult(&rows).
		Get("/positions")
	if err != nil {
		return nil, wrapError(KindTransient, "positions", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, classifyStatus("positions", resp.StatusCode(), resp.String())
	}

	positions := make([]PositionInfo, 0, len(rows))
	for _, r := range rows {
		positions = append(positions, PositionInfo{
			Token:    r.Asset,
			Shares:   r.Size,
			AvgPrice: r.AvgPrice,
		})
	}
	return positions, nil
}

// CancelMarketOrders cancels all orders for a specific market (by condition
// ID). Used as the shutdown and expiry safety net.
func (c *Client) CancelMarketOrders(ctx context.Context, conditionID string) (*types.CancelResponse, error) {
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return nil, wrapError(KindUnavailable, "cancel market", err)
	}

	body := fmt.Sprintf(`{"market":%q}`, conditionID)
	headers, err := c.auth.L2Headers("DELETE", "/cancel-market-orders", body)
	if err != nil {
		return nil, wrapError(KindAuthFailure, "cancel market", err)
	}

	var result types.CancelResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Delete("/cancel-market-orders")
	if err != nil {
		return nil, wrapError(KindTransient, "cancel market", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, classifyStatus("cancel market", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// DeriveAPIKey derives L2 API credentials via L1 authentication.
func (c *Client) DeriveAPIKey(ctx context.Context) (*Credentials, error) {
	headers, err := c.auth.L1Headers(0)
	if err != nil {
		return nil, wrapError(KindAuthFailure, "derive api key", err)
	}

	var result Credentials
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/auth/derive-api-key")
	if err != nil {
		return nil, wrapError(KindTransient, "derive api key", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, classifyStatus("derive api key", resp.StatusCode(), resp.String())
	}

	c.auth.SetCredentials(result)
	c.logger.Info("API key derived", "api_key", result.ApiKey)
	return &result, nil
}

// parseFloat reads a decimal wire string, returning 0 for empty/bad input.
func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
