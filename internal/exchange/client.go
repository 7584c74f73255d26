// Package exchange implements the Polymarket CLOB REST and WebSocket clients
// plus the on-chain reads and the merge helper the bot needs.
//
// The REST client (Client) covers order management and account state:
//   - CreateOrder:   POST /order                  — sign and place one limit order
//   - CancelAsset:   DELETE /cancel-market-orders — cancel one token's orders
//   - CancelMarket:  DELETE /cancel-market-orders — cancel one market's orders
//   - CancelAll:     DELETE /cancel-all           — emergency cancel everything
//   - GetOpenOrders: GET /data/orders             — all resting orders
//   - GetPositions:  data-API /positions          — position sizes and avg prices
//   - DeriveAPIKey:  GET /auth/derive-api-key     — bootstrap L2 creds from L1 wallet
//
// Every request is rate-limited via per-category TokenBuckets, retried on
// transport errors and 5xx with exponential backoff (2s base, doubling, 3
// attempts), and authenticated with L2 HMAC headers.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/tzf1003/poly-maker-rewords/internal/config"
	"github.com/tzf1003/poly-maker-rewords/pkg/types"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// Client is the Polymarket CLOB REST API client. It also talks to the
// data API for position listings, which live on a separate host.
type Client struct {
	http   *resty.Client // CLOB API with retry + base URL
	data   *resty.Client // data API (positions)
	auth   *Auth         // L1/L2 auth provider for request signing
	rl     *RateLimiter  // per-endpoint-category rate limiting
	dryRun bool          // when true, mutating methods return fake success without HTTP calls
	logger *slog.Logger
}

// NewClient creates a REST client with rate limiting and retry.
func NewClient(cfg config.Config, auth *Auth, logger *slog.Logger) *Client {
	newHTTP := func(base string) *resty.Client {
		return resty.New().
			SetBaseURL(base).
			SetTimeout(10 * time.Second).
			SetRetryCount(3).
			SetRetryWaitTime(2 * time.Second).
			SetRetryMaxWaitTime(16 * time.Second).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				if err != nil {
					return true
				}
				return r.StatusCode() >= 500
			}).
			SetHeader("Content-Type", "application/json")
	}

	return &Client{
		http:   newHTTP(cfg.API.CLOBBaseURL),
		data:   newHTTP(cfg.API.DataBaseURL),
		auth:   auth,
		rl:     NewRateLimiter(),
		dryRun: cfg.DryRun,
		logger: logger.With("component", "clob"),
	}
}

// CreateOrder signs and places a single GTC limit order. Price and size are
// converted to 6-decimal maker/taker amounts at the market's precision;
// tickDecimals is the number of decimal places of the market's tick size.
func (c *Client) CreateOrder(ctx context.Context, tokenID string, side types.Side, price, size decimal.Decimal, tickDecimals int32, negRisk bool) (*types.OrderResponse, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would create order",
			"token", tokenID, "side", side, "price", price, "size", size, "neg_risk", negRisk)
		return &types.OrderResponse{Success: true, OrderID: "dry-run", Status: "live"}, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, err
	}

	makerAmt, takerAmt := PriceToAmounts(price, size, side, tickDecimals+2)
	order := types.SignedOrder{
		Maker:         c.auth.FunderAddress().Hex(),
		Signer:        c.auth.Address().Hex(),
		Taker:         zeroAddress,
		TokenID:       tokenID,
		MakerAmount:   makerAmt,
		TakerAmount:   takerAmt,
		Side:          side,
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		SignatureType: c.auth.SignatureType(),
	}
	if err := c.auth.SignOrder(&order, negRisk); err != nil {
		return nil, fmt.Errorf("sign order: %w", err)
	}

	payload := types.OrderPayload{
		Order:     order,
		Owner:     c.auth.creds.ApiKey,
		OrderType: "GTC",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}
	headers, err := c.auth.L2Headers("POST", "/order", string(body))
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result types.OrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Post("/order")
	if err != nil {
		return nil, fmt.Errorf("post order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("post order: status %d: %s", resp.StatusCode(), resp.String())
	}
	if !result.Success {
		c.logger.Warn("order rejected", "token", tokenID, "side", side, "error", result.ErrorMsg)
	}
	return &result, nil
}

// CancelAsset cancels every resting order on one outcome token.
func (c *Client) CancelAsset(ctx context.Context, assetID string) error {
	return c.cancelMarketOrders(ctx, fmt.Sprintf(`{"asset_id":%q}`, assetID), "asset", assetID)
}

// CancelMarket cancels every resting order on both tokens of a market.
func (c *Client) CancelMarket(ctx context.Context, conditionID string) error {
	return c.cancelMarketOrders(ctx, fmt.Sprintf(`{"market":%q}`, conditionID), "market", conditionID)
}

func (c *Client) cancelMarketOrders(ctx context.Context, body, scope, id string) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel orders", scope, id)
		return nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	headers, err := c.auth.L2Headers("DELETE", "/cancel-market-orders", body)
	if err != nil {
		return fmt.Errorf("l2 headers: %w", err)
	}

	var result types.CancelResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Delete("/cancel-market-orders")
	if err != nil {
		return fmt.Errorf("cancel orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel orders: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Info("orders cancelled", scope, id, "count", len(result.Canceled))
	return nil
}

// CancelAll cancels every open order across all markets. Shutdown safety net.
func (c *Client) CancelAll(ctx context.Context) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel all orders")
		return nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	headers, err := c.auth.L2Headers("DELETE", "/cancel-all", "")
	if err != nil {
		return fmt.Errorf("l2 headers: %w", err)
	}

	var result types.CancelResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Delete("/cancel-all")
	if err != nil {
		return fmt.Errorf("cancel all: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel all: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Warn("all orders cancelled", "count", len(result.Canceled))
	return nil
}

// GetOpenOrders lists every resting order for the account.
func (c *Client) GetOpenOrders(ctx context.Context) ([]types.OpenOrder, error) {
	if err := c.rl.Data.Wait(ctx); err != nil {
		return nil, err
	}

	headers, err := c.auth.L2Headers("GET", "/data/orders", "")
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result []types.OpenOrder
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/data/orders")
	if err != nil {
		return nil, fmt.Errorf("get open orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get open orders: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result, nil
}

// GetPositions lists the funder wallet's positions from the data API.
func (c *Client) GetPositions(ctx context.Context) ([]types.RestPosition, error) {
	if err := c.rl.Data.Wait(ctx); err != nil {
		return nil, err
	}

	var result []types.RestPosition
	resp, err := c.data.R().
		SetContext(ctx).
		SetQueryParam("user", c.auth.FunderAddress().Hex()).
		SetResult(&result).
		Get("/positions")
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get positions: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result, nil
}

// DeriveAPIKey derives L2 API credentials via L1 authentication.
func (c *Client) DeriveAPIKey(ctx context.Context) (*Credentials, error) {
	headers, err := c.auth.L1Headers(0)
	if err != nil {
		return nil, fmt.Errorf("l1 headers: %w", err)
	}

	var result Credentials
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/auth/derive-api-key")
	if err != nil {
		return nil, fmt.Errorf("derive api key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("derive api key: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.auth.SetCredentials(result)
	c.logger.Info("API key derived", "api_key", result.ApiKey)
	return &result, nil
}
