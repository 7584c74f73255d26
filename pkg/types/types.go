// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot — order sides, trade
// statuses, order book levels, REST payloads, and WebSocket event payloads.
// It has no dependencies on internal packages, so it can be imported by any
// layer.
package types

import (
	"math/big"
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

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == BUY {
		return SELL
	}
	return BUY
}

// TradeStatus is the lifecycle state of a fill reported on the user channel.
// A fill is first MATCHED (optimistic), then either CONFIRMED and eventually
// MINED on chain, or FAILED.
type TradeStatus string

const (
	TradeMatched   TradeStatus = "MATCHED"
	TradeConfirmed TradeStatus = "CONFIRMED"
	TradeFailed    TradeStatus = "FAILED"
	TradeMined     TradeStatus = "MINED"
)

// SignatureType identifies the signing scheme for the CTF exchange contract.
type SignatureType int

const (
	SigEOA        SignatureType = 0 // externally-owned account (standard wallet)
	SigProxy      SignatureType = 1 // Polymarket proxy / Magic wallet
	SigGnosisSafe SignatureType = 2 // Gnosis Safe multisig
)

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

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
	Expiration    string        `json:"expiration"`    // unix timestamp as string, "0" = none
	Nonce         string        `json:"nonce"`         // replay protection
	FeeRateBps    string        `json:"feeRateBps"`    // fee in basis points as string
	SignatureType SignatureType `json:"signatureType"` // 0 = EOA, 2 = Gnosis Safe
	Signature     string        `json:"signature"`     // EIP-712 signature hex
}

// OrderPayload is the REST API request body for POST /order.
type OrderPayload struct {
	Order     SignedOrder `json:"order"`
	Owner     string      `json:"owner"`     // API key of the order owner
	OrderType string      `json:"orderType"` // GTC
}

// OrderResponse is the REST API response for POST /order.
type OrderResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"` // e.g. "live", "matched"
}

// OpenOrder represents a live resting order on the CLOB. Numeric fields are
// strings because the API preserves decimal precision that way.
type OpenOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Market       string `json:"market"`        // condition ID
	AssetID      string `json:"asset_id"`      // token ID
	Side         string `json:"side"`          // "BUY" or "SELL"
	OriginalSize string `json:"original_size"` // initial size
	SizeMatched  string `json:"size_matched"`  // how much has filled
	Price        string `json:"price"`         // limit price
}

// CancelResponse is returned by the cancel endpoints.
type CancelResponse struct {
	Canceled []string `json:"canceled"` // IDs of successfully cancelled orders
}

// RestPosition is one row of the data-API positions listing. The reconciler
// folds these into the local position store subject to the pending-fill guard.
type RestPosition struct {
	Asset    string  `json:"asset"` // token ID
	Size     float64 `json:"size"`
	AvgPrice float64 `json:"avgPrice"`
}

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single bid or ask level in the order book.
// Price and Size are strings because the CLOB API returns them as strings
// to preserve decimal precision.
type PriceLevel struct {
	Price string `json:"price"` // e.g. "0.55"
	Size  string `json:"size"`  // e.g. "100.5"
}

// ————————————————————————————————————————————————————————————————————————
// WebSocket events
// ————————————————————————————————————————————————————————————————————————
// These structs map 1:1 to the JSON messages sent over the Polymarket WebSocket.
// Market channel events: "book" (full snapshot), "price_change" (delta).
// User channel events: "trade" (fill lifecycle), "order" (placement/cancel).

// WSBookEvent is a full order book snapshot from the market WS channel.
// Replaces the entire local ladder pair for the given token.
type WSBookEvent struct {
	EventType string       `json:"event_type"` // always "book"
	AssetID   string       `json:"asset_id"`
	Market    string       `json:"market"` // condition ID
	Timestamp string       `json:"timestamp"`
	Hash      string       `json:"hash"` // book version hash
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
}

// WSPriceChange is a single price level update within a price_change event.
// Size "0" removes the level.
type WSPriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Side    string `json:"side"` // "BUY" or "SELL"
}

// WSPriceChangeEvent is an incremental order book update from the market WS.
// Contains one or more level changes applied atomically.
type WSPriceChangeEvent struct {
	EventType    string          `json:"event_type"` // always "price_change"
	Market       string          `json:"market"`
	AssetID      string          `json:"asset_id"`
	Timestamp    string          `json:"timestamp"`
	PriceChanges []WSPriceChange `json:"price_changes"`
}

// WSMakerOrder is one maker-side participation in a trade event. When one of
// our resting orders is on the maker side of someone else's taker order, the
// fill we actually received is described here rather than by the top-level
// size and price, which belong to the taker.
type WSMakerOrder struct {
	OrderID       string `json:"order_id"`
	MakerAddress  string `json:"maker_address"`
	MatchedAmount string `json:"matched_amount"`
	Price         string `json:"price"`
	Outcome       string `json:"outcome"`
	AssetID       string `json:"asset_id"`
}

// WSTradeEvent is a fill notification from the user WS channel.
type WSTradeEvent struct {
	EventType   string         `json:"event_type"` // always "trade"
	ID          string         `json:"id"`         // trade ID
	TakerOrder  string         `json:"taker_order_id"`
	Market      string         `json:"market"`   // condition ID
	AssetID     string         `json:"asset_id"` // taker-side token ID
	Side        string         `json:"side"`     // taker side: "BUY" or "SELL"
	Size        string         `json:"size"`
	Price       string         `json:"price"`
	Status      string         `json:"status"`  // MATCHED / CONFIRMED / FAILED / MINED
	Outcome     string         `json:"outcome"` // "Yes" or "No"
	Owner       string         `json:"owner"`   // API key of the taker
	Timestamp   string         `json:"timestamp"`
	MakerOrders []WSMakerOrder `json:"maker_orders"`
}

// WSOrderEvent is an order lifecycle notification from the user WS channel.
// Received on order placement, update, or cancellation.
type WSOrderEvent struct {
	EventType    string `json:"event_type"` // always "order"
	ID           string `json:"id"`         // order ID
	Market       string `json:"market"`     // condition ID
	AssetID      string `json:"asset_id"`   // token ID
	Side         string `json:"side"`       // "BUY" or "SELL"
	Price        string `json:"price"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"` // cumulative filled
	Status       string `json:"status"`
	Type         string `json:"type"` // "PLACEMENT", "UPDATE", "CANCELLATION"
	Timestamp    string `json:"timestamp"`
}

// WSMarketSubscribe is the initial subscription message for the market
// channel: the union of YES and NO token IDs across all traded markets.
type WSMarketSubscribe struct {
	AssetIDs []string `json:"assets_ids"`
}

// WSAuth contains the L2 API credentials for authenticating the user WS channel.
type WSAuth struct {
	ApiKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// WSUserSubscribe is the initial subscription message for the user channel.
type WSUserSubscribe struct {
	Type string  `json:"type"` // always "user"
	Auth *WSAuth `json:"auth"`
}
