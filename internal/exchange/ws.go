// ws.go implements the two Polymarket WebSocket feeds.
//
//   - Market feed (public): subscribes with {"assets_ids":[…]} for the YES
//     token of every traded market, receives "book" snapshots and
//     "price_change" deltas.
//
//   - User feed (authenticated): sends the L2 credential envelope, receives
//     "trade" fill lifecycle events and "order" placement/cancel events.
//
// Both feeds send PING every 5 seconds and treat ~3 missed pings as a dead
// connection via the read deadline. On any close the supervisor loop waits
// one second and redials; local stores stay warm across the gap and the
// next "book" snapshot re-seeds the ladders.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tzf1003/poly-maker-rewords/pkg/types"
)

const (
	pingInterval    = 5 * time.Second
	readTimeout     = 15 * time.Second
	reconnectWait   = time.Second
	writeTimeout    = 10 * time.Second
	bookBufferSize  = 256
	tradeBufferSize = 64
)

// WSFeed manages a single WebSocket connection (market or user channel):
// connection lifecycle, the connect-time subscription, message routing, and
// reconnection.
type WSFeed struct {
	url         string
	conn        *websocket.Conn
	connMu      sync.Mutex // protects conn reads/writes
	auth        *Auth      // nil for market channel, set for user channel
	channelType string     // "market" or "user"

	// Asset IDs for the market-channel subscription. The subscription is
	// sent at connect time; Reconnect picks up a changed list.
	assetsMu sync.Mutex
	assets   []string

	bookCh        chan types.WSBookEvent        // full book snapshots
	priceChangeCh chan types.WSPriceChangeEvent // incremental book updates
	tradeCh       chan types.WSTradeEvent       // fill notifications
	orderCh       chan types.WSOrderEvent       // order lifecycle events

	logger *slog.Logger
}

// NewMarketFeed creates a WebSocket feed for the market channel (public).
func NewMarketFeed(wsURL string, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		url:           wsURL,
		channelType:   "market",
		bookCh:        make(chan types.WSBookEvent, bookBufferSize),
		priceChangeCh: make(chan types.WSPriceChangeEvent, bookBufferSize),
		tradeCh:       make(chan types.WSTradeEvent, tradeBufferSize),
		orderCh:       make(chan types.WSOrderEvent, tradeBufferSize),
		logger:        logger.With("component", "ws_market"),
	}
}

// NewUserFeed creates a WebSocket feed for the user channel (authenticated).
func NewUserFeed(wsURL string, auth *Auth, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		url:           wsURL,
		auth:          auth,
		channelType:   "user",
		bookCh:        make(chan types.WSBookEvent, bookBufferSize),
		priceChangeCh: make(chan types.WSPriceChangeEvent, bookBufferSize),
		tradeCh:       make(chan types.WSTradeEvent, tradeBufferSize),
		orderCh:       make(chan types.WSOrderEvent, tradeBufferSize),
		logger:        logger.With("component", "ws_user"),
	}
}

// BookEvents returns a read-only channel of book snapshot events.
func (f *WSFeed) BookEvents() <-chan types.WSBookEvent { return f.bookCh }

// PriceChangeEvents returns a read-only channel of price change events.
func (f *WSFeed) PriceChangeEvents() <-chan types.WSPriceChangeEvent { return f.priceChangeCh }

// TradeEvents returns a read-only channel of trade events (user channel).
func (f *WSFeed) TradeEvents() <-chan types.WSTradeEvent { return f.tradeCh }

// OrderEvents returns a read-only channel of order events (user channel).
func (f *WSFeed) OrderEvents() <-chan types.WSOrderEvent { return f.orderCh }

// SetAssets replaces the market-channel subscription list and reports
// whether it changed. Takes effect on the next (re)connect.
func (f *WSFeed) SetAssets(ids []string) bool {
	f.assetsMu.Lock()
	defer f.assetsMu.Unlock()

	changed := len(ids) != len(f.assets)
	if !changed {
		for i := range ids {
			if ids[i] != f.assets[i] {
				changed = true
				break
			}
		}
	}
	f.assets = append(f.assets[:0], ids...)
	return changed
}

// Reconnect drops the current connection; the Run loop redials with the
// current subscription list after the usual one-second pause.
func (f *WSFeed) Reconnect() {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		f.conn.Close()
	}
}

// Close drops the connection. Call after the Run context is cancelled.
func (f *WSFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

// Run connects and maintains the connection until ctx is cancelled.
func (f *WSFeed) Run(ctx context.Context) error {
	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("websocket disconnected, reconnecting", "error", err, "wait", reconnectWait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectWait):
		}
	}
}

func (f *WSFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.subscribe(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("websocket connected", "channel", f.channelType)

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatch(msg)
	}
}

func (f *WSFeed) subscribe() error {
	if f.channelType == "user" {
		return f.writeJSON(types.WSUserSubscribe{
			Type: "user",
			Auth: f.auth.WSAuthPayload(),
		})
	}

	f.assetsMu.Lock()
	ids := make([]string, len(f.assets))
	copy(ids, f.assets)
	f.assetsMu.Unlock()

	f.logger.Info("subscribing", "assets", len(ids))
	return f.writeJSON(types.WSMarketSubscribe{AssetIDs: ids})
}

// dispatch peeks at event_type and routes onto the typed channels. Some
// messages carry an array of events; both shapes are handled.
func (f *WSFeed) dispatch(data []byte) {
	if len(data) > 0 && data[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(data, &batch); err != nil {
			f.logger.Debug("ignoring malformed ws batch", "data", string(data))
			return
		}
		for _, item := range batch {
			f.dispatchOne(item)
		}
		return
	}
	f.dispatchOne(data)
}

func (f *WSFeed) dispatchOne(data []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}

	switch envelope.EventType {
	case "book":
		var evt types.WSBookEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal book event", "error", err)
			return
		}
		select {
		case f.bookCh <- evt:
		default:
			f.logger.Warn("book channel full, dropping event", "asset", evt.AssetID)
		}

	case "price_change":
		var evt types.WSPriceChangeEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal price_change event", "error", err)
			return
		}
		select {
		case f.priceChangeCh <- evt:
		default:
			f.logger.Warn("price_change channel full, dropping event")
		}

	case "trade":
		var evt types.WSTradeEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal trade event", "error", err)
			return
		}
		select {
		case f.tradeCh <- evt:
		default:
			f.logger.Warn("trade channel full, dropping event", "id", evt.ID)
		}

	case "order":
		var evt types.WSOrderEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal order event", "error", err)
			return
		}
		select {
		case f.orderCh <- evt:
		default:
			f.logger.Warn("order channel full, dropping event", "id", evt.ID)
		}

	case "last_trade_price", "tick_size_change", "best_bid_ask":
		f.logger.Debug("ignoring event", "type", envelope.EventType)

	default:
		f.logger.Debug("unknown ws event type", "type", envelope.EventType)
	}
}

func (f *WSFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *WSFeed) writeJSON(v any) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *WSFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}
