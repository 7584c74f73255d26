package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/tzf1003/poly-maker-rewords/internal/config"
	"github.com/tzf1003/poly-maker-rewords/internal/exchange"
	"github.com/tzf1003/poly-maker-rewords/internal/sheets"
	"github.com/tzf1003/poly-maker-rewords/internal/state"
)

// Reconciler is the periodic REST truth-folding worker. Every tick it drops
// stale pending fills, refreshes position averages (sizes only where the
// pending-fill guard allows), and rebuilds the order store from the open
// orders listing. Every few ticks it also re-pulls the traded market set from
// the spreadsheet and re-subscribes the market feed when it changed.
type Reconciler struct {
	cfg       config.ReconcileConfig
	client    *exchange.Client
	sheets    *sheets.Client
	positions *state.PositionStore
	orders    *state.OrderStore
	pending   *state.PendingTracker
	markets   *state.MarketConfigStore
	feed      *exchange.WSFeed // market feed, for subscription updates
	log       *slog.Logger
}

func NewReconciler(
	cfg config.ReconcileConfig,
	client *exchange.Client,
	sheetsClient *sheets.Client,
	positions *state.PositionStore,
	orders *state.OrderStore,
	pending *state.PendingTracker,
	markets *state.MarketConfigStore,
	feed *exchange.WSFeed,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		cfg:       cfg,
		client:    client,
		sheets:    sheetsClient,
		positions: positions,
		orders:    orders,
		pending:   pending,
		markets:   markets,
		feed:      feed,
		log:       logger.With("component", "reconciler"),
	}
}

// Run seeds the stores, then ticks until the context is cancelled. The
// initial position pull is a full one: at startup nothing is pending and the
// exchange is the only truth.
func (r *Reconciler) Run(ctx context.Context) {
	r.RefreshMarkets(ctx)
	r.RefreshPositions(ctx, false)
	r.RefreshOrders(ctx)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		tick++
		if dropped := r.pending.GC(r.cfg.PendingMaxAge); dropped > 0 {
			r.log.Warn("dropped stale pending fills", "count", dropped)
		}
		r.RefreshPositions(ctx, true)
		r.RefreshOrders(ctx)

		if tick%r.cfg.MarketsEvery == 0 {
			r.RefreshMarkets(ctx)
		}
	}
}

// RefreshPositions folds the data-API position listing into the store.
// With avgOnly set, sizes are only overwritten for tokens with no pending
// fills and no fill inside the grace window.
func (r *Reconciler) RefreshPositions(ctx context.Context, avgOnly bool) {
	rows, err := r.client.GetPositions(ctx)
	if err != nil {
		r.log.Error("fetch positions", "error", err)
		return
	}
	r.positions.Reconcile(rows, avgOnly, r.pending)
	r.log.Debug("positions reconciled", "rows", len(rows), "avg_only", avgOnly)
}

// RefreshOrders rebuilds the order store from the open-orders listing.
// Tokens with more than one resting order per side get cancelled outright.
func (r *Reconciler) RefreshOrders(ctx context.Context) {
	open, err := r.client.GetOpenOrders(ctx)
	if err != nil {
		r.log.Error("fetch open orders", "error", err)
		return
	}
	err = r.orders.Reconcile(open, func(token string) {
		if err := r.client.CancelAsset(ctx, token); err != nil {
			r.log.Error("cancel inconsistent asset", "token", token, "error", err)
		}
	})
	if err != nil {
		r.log.Error("reconcile orders", "error", err)
	}
}

// RefreshMarkets re-pulls the spreadsheet. A fetch error keeps the previous
// market set. New tokens are pre-tracked in the pending store so the
// reconcile guard treats them as known-and-empty, and the market feed is
// bounced when its subscription list changed.
func (r *Reconciler) RefreshMarkets(ctx context.Context) {
	rows, params, err := r.sheets.Load(ctx)
	if err != nil {
		r.log.Error("fetch market sheet, keeping previous set", "error", err)
		return
	}

	r.markets.Update(rows, params)
	for _, row := range rows {
		r.pending.Track(row.Token1)
		r.pending.Track(row.Token2)
	}

	if r.feed.SetAssets(r.markets.SubscribeTokens()) {
		r.log.Info("market subscription changed, reconnecting feed", "markets", len(rows))
		r.feed.Reconnect()
	}
}
