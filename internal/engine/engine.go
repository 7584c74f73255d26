// Package engine wires the bot together and routes events.
//
// Three long-lived workers run under the engine:
//
//  1. The market WebSocket reader feeds "book" snapshots and "price_change"
//     deltas into the order book store.
//  2. The user WebSocket reader applies fill and order lifecycle events to
//     the position, order, and pending-fill stores.
//  3. The reconciler periodically folds REST truth back into the stores and
//     refreshes the traded market set from the spreadsheet.
//
// Every store mutation that could change a quoting decision spawns a trade
// pass for the affected market; passes serialize on a per-market lock inside
// the trader, so duplicate passes are cheap and harmless.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tzf1003/poly-maker-rewords/internal/book"
	"github.com/tzf1003/poly-maker-rewords/internal/config"
	"github.com/tzf1003/poly-maker-rewords/internal/exchange"
	"github.com/tzf1003/poly-maker-rewords/internal/risk"
	"github.com/tzf1003/poly-maker-rewords/internal/sheets"
	"github.com/tzf1003/poly-maker-rewords/internal/state"
	"github.com/tzf1003/poly-maker-rewords/internal/strategy"
	"github.com/tzf1003/poly-maker-rewords/pkg/types"
)

// failedReconcileDelay is how long to wait after a FAILED fill before
// re-pulling positions: long enough for the exchange snapshot to reflect the
// rollback, short enough that the book re-enters quickly.
const failedReconcileDelay = 2 * time.Second

const shutdownTimeout = 10 * time.Second

// Engine owns the stores, the exchange clients, and all background workers.
type Engine struct {
	cfg    config.Config
	auth   *exchange.Auth
	client *exchange.Client
	chain  *exchange.Chain

	mktFeed *exchange.WSFeed
	usrFeed *exchange.WSFeed

	books     *book.Store
	positions *state.PositionStore
	orders    *state.OrderStore
	pending   *state.PendingTracker
	markets   *state.MarketConfigStore

	trader     *strategy.Trader
	reconciler *Reconciler

	logger *slog.Logger

	// funder is the lowercased on-chain address our maker orders carry;
	// used to pick our fills out of trade events.
	funder string

	// unknownWarned dedupes the "event for unknown market" warning per market.
	unknownMu     sync.Mutex
	unknownWarned map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and wires all engine components. If L2 API credentials are not
// configured, they are derived from the wallet via L1 auth.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	auth, err := exchange.NewAuth(cfg)
	if err != nil {
		return nil, err
	}

	client := exchange.NewClient(cfg, auth, logger)
	if !auth.HasL2Credentials() {
		logger.Info("no L2 credentials, deriving API key via L1")
		if _, err := client.DeriveAPIKey(context.Background()); err != nil {
			return nil, err
		}
	}

	chain, err := exchange.NewChain(cfg, auth.FunderAddress())
	if err != nil {
		return nil, err
	}
	merger := exchange.NewMerger(cfg, logger)

	sheetsClient, err := sheets.New(cfg.Sheets.URL, logger)
	if err != nil {
		return nil, err
	}

	riskStore, err := risk.Open(cfg.Store.DataDir)
	if err != nil {
		return nil, err
	}

	books := book.NewStore()
	positions := state.NewPositionStore(logger)
	orders := state.NewOrderStore(logger)
	pending := state.NewPendingTracker(logger)
	markets := state.NewMarketConfigStore()

	mktFeed := exchange.NewMarketFeed(cfg.API.WSMarketURL, logger)
	usrFeed := exchange.NewUserFeed(cfg.API.WSUserURL, auth, logger)

	trader := strategy.NewTrader(cfg.Trading,
		books, positions, orders, markets, client, chain, merger, riskStore, logger)

	reconciler := NewReconciler(cfg.Reconcile,
		client, sheetsClient, positions, orders, pending, markets, mktFeed, logger)

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		cfg:           cfg,
		auth:          auth,
		client:        client,
		chain:         chain,
		mktFeed:       mktFeed,
		usrFeed:       usrFeed,
		books:         books,
		positions:     positions,
		orders:        orders,
		pending:       pending,
		markets:       markets,
		trader:        trader,
		reconciler:    reconciler,
		logger:        logger.With("component", "engine"),
		funder:        strings.ToLower(auth.FunderAddress().Hex()),
		unknownWarned: make(map[string]struct{}),
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Start launches the WebSocket feeds, the event dispatchers, and the
// reconciler. The reconciler's first tick seeds the market set and the
// position/order stores before any quoting happens.
func (e *Engine) Start() error {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.mktFeed.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("market feed stopped", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.usrFeed.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("user feed stopped", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.dispatchMarketEvents()
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.dispatchUserEvents()
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.reconciler.Run(e.ctx)
	}()

	return nil
}

// Stop shuts down: stops all workers, cancels every resting order as a
// safety net, and closes the connections.
func (e *Engine) Stop() {
	e.logger.Info("shutting down")
	e.cancel()

	cancelCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := e.client.CancelAll(cancelCtx); err != nil {
		e.logger.Error("cancel all on shutdown", "error", err)
	}

	e.wg.Wait()
	e.mktFeed.Close()
	e.usrFeed.Close()
	e.chain.Close()

	for token, pos := range e.positions.Snapshot() {
		if pos.Size.Sign() != 0 {
			e.logger.Info("open position at shutdown", "token", token, "size", pos.Size, "avg_price", pos.AvgPrice)
		}
	}
	e.logger.Info("shutdown complete")
}

// spawnTrade runs a trade pass for a market in the background. Passes
// serialize on the trader's per-market lock.
func (e *Engine) spawnTrade(conditionID string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.trader.Trade(e.ctx, conditionID)
	}()
}

// warnUnknown logs once per market when events arrive for something outside
// the traded set: normal right after a sheet change, suspicious otherwise.
func (e *Engine) warnUnknown(conditionID string) {
	e.unknownMu.Lock()
	defer e.unknownMu.Unlock()
	if _, seen := e.unknownWarned[conditionID]; seen {
		return
	}
	e.unknownWarned[conditionID] = struct{}{}
	e.logger.Warn("event for market not in traded set", "market", conditionID)
}

func (e *Engine) dispatchMarketEvents() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case evt := <-e.mktFeed.BookEvents():
			e.handleBook(evt)
		case evt := <-e.mktFeed.PriceChangeEvents():
			e.handlePriceChange(evt)
		}
	}
}

func (e *Engine) handleBook(evt types.WSBookEvent) {
	if !e.markets.Known(evt.AssetID) {
		e.warnUnknown(evt.Market)
		return
	}
	if err := e.books.ApplySnapshot(evt.AssetID, evt.Bids, evt.Asks); err != nil {
		e.logger.Error("apply book snapshot", "asset", evt.AssetID, "error", err)
		return
	}
	e.spawnTrade(evt.Market)
}

func (e *Engine) handlePriceChange(evt types.WSPriceChangeEvent) {
	if len(evt.PriceChanges) == 0 {
		return
	}
	if !e.markets.Known(evt.PriceChanges[0].AssetID) {
		e.warnUnknown(evt.Market)
		return
	}
	for _, change := range evt.PriceChanges {
		// Deltas for tokens without a snapshot (the NO side) are dropped by
		// the store; the YES book is the single source of truth.
		if err := e.books.ApplyDelta(change.AssetID, types.Side(change.Side), change.Price, change.Size); err != nil {
			e.logger.Error("apply price change", "asset", change.AssetID, "error", err)
		}
	}
	e.spawnTrade(evt.Market)
}

func (e *Engine) dispatchUserEvents() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case evt := <-e.usrFeed.TradeEvents():
			e.handleTrade(evt)
		case evt := <-e.usrFeed.OrderEvents():
			e.handleOrder(evt)
		}
	}
}

// handleTrade applies one fill lifecycle event.
//
// The event's top-level token, side, size, and price describe the taker. When
// one of our resting orders is the maker we recover our fill from the
// maker_orders entry carrying our funder address, then translate it into our
// frame: same outcome as the taker means our side is the opposite one; a
// different outcome means the fill belongs to the complementary token.
//
// Pending entries are keyed by the event's original (token, side) pair, before
// any maker translation, so every lifecycle stage of a trade resolves to the
// same key.
func (e *Engine) handleTrade(evt types.WSTradeEvent) {
	if !e.markets.Known(evt.AssetID) {
		e.warnUnknown(evt.Market)
		return
	}

	token := evt.AssetID
	side := types.Side(strings.ToUpper(evt.Side))
	pendingToken, pendingSide := token, side

	size, err := decimal.NewFromString(evt.Size)
	if err != nil {
		e.logger.Error("trade event bad size", "size", evt.Size, "id", evt.ID)
		return
	}
	price, err := decimal.NewFromString(evt.Price)
	if err != nil {
		e.logger.Error("trade event bad price", "price", evt.Price, "id", evt.ID)
		return
	}

	for _, mo := range evt.MakerOrders {
		if strings.ToLower(mo.MakerAddress) != e.funder {
			continue
		}
		matched, err := decimal.NewFromString(mo.MatchedAmount)
		if err != nil {
			e.logger.Error("maker order bad matched_amount", "value", mo.MatchedAmount, "id", evt.ID)
			return
		}
		makerPrice, err := decimal.NewFromString(mo.Price)
		if err != nil {
			e.logger.Error("maker order bad price", "value", mo.Price, "id", evt.ID)
			return
		}
		size, price = matched, makerPrice

		if mo.Outcome == evt.Outcome {
			side = side.Opposite()
		} else if other, ok := e.markets.ReverseToken(token); ok {
			token = other
		}
	}

	e.logger.Info("trade event",
		"market", evt.Market, "id", evt.ID, "status", evt.Status,
		"token", token, "side", side, "size", size, "price", price)

	switch types.TradeStatus(evt.Status) {
	case types.TradeMatched:
		e.pending.Add(pendingToken, pendingSide, evt.ID)
		e.positions.ApplyFill(token, side, size, price, "ws")
		e.spawnTrade(evt.Market)

	case types.TradeConfirmed:
		e.pending.Remove(pendingToken, pendingSide, evt.ID)
		e.spawnTrade(evt.Market)

	case types.TradeMined:
		e.pending.Remove(pendingToken, pendingSide, evt.ID)

	case types.TradeFailed:
		// The optimistic MATCHED update was wrong. Drop the fence, then
		// re-pull the full position set once the exchange has rolled back.
		e.logger.Warn("trade failed, scheduling position re-pull", "id", evt.ID, "token", token)
		e.pending.Remove(pendingToken, pendingSide, evt.ID)
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			select {
			case <-e.ctx.Done():
				return
			case <-time.After(failedReconcileDelay):
			}
			e.reconciler.RefreshPositions(e.ctx, false)
		}()

	default:
		e.logger.Warn("unknown trade status", "status", evt.Status, "id", evt.ID)
	}
}

// handleOrder mirrors an order lifecycle event into the order store. The
// remaining size is original minus matched; zero remaining clears the side.
func (e *Engine) handleOrder(evt types.WSOrderEvent) {
	if !e.markets.Known(evt.AssetID) {
		e.warnUnknown(evt.Market)
		return
	}

	price, err := decimal.NewFromString(evt.Price)
	if err != nil {
		e.logger.Error("order event bad price", "price", evt.Price, "id", evt.ID)
		return
	}
	original, err := decimal.NewFromString(evt.OriginalSize)
	if err != nil {
		e.logger.Error("order event bad original_size", "value", evt.OriginalSize, "id", evt.ID)
		return
	}
	matched, err := decimal.NewFromString(evt.SizeMatched)
	if err != nil {
		e.logger.Error("order event bad size_matched", "value", evt.SizeMatched, "id", evt.ID)
		return
	}

	e.logger.Info("order event",
		"market", evt.Market, "type", evt.Type, "status", evt.Status,
		"token", evt.AssetID, "side", evt.Side, "remaining", original.Sub(matched))

	e.orders.SetFromEvent(evt.AssetID, types.Side(strings.ToUpper(evt.Side)), price, original.Sub(matched))
	e.spawnTrade(evt.Market)
}
