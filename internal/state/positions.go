// Package state holds the bot's in-memory view of the account: positions,
// resting orders, in-flight fills, and the traded market set. Every store is
// safe for concurrent use; WebSocket handlers write optimistically and the
// reconciler folds REST truth back in on a timer.
package state

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tzf1003/poly-maker-rewords/pkg/types"
)

// tradeUpdateGrace protects a position that just changed over the WebSocket
// from being clobbered by a REST snapshot taken moments earlier.
const tradeUpdateGrace = 5 * time.Second

// Position is the holding in a single outcome token.
type Position struct {
	Size     decimal.Decimal
	AvgPrice decimal.Decimal
}

// PositionStore tracks per-token holdings. Fills apply immediately when the
// user channel reports MATCHED; the reconciler overwrites from the data API
// only when no fill is in flight for the token.
type PositionStore struct {
	mu        sync.Mutex
	positions map[string]Position
	lastTrade map[string]time.Time
	log       *slog.Logger
}

func NewPositionStore(logger *slog.Logger) *PositionStore {
	return &PositionStore{
		positions: make(map[string]Position),
		lastTrade: make(map[string]time.Time),
		log:       logger.With("component", "positions"),
	}
}

// Get returns the position for a token, zero-valued when unknown.
func (s *PositionStore) Get(token string) Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positions[token]
}

// ApplyFill applies a fill optimistically. Buys into an existing position
// move the average entry price by size weighting; sells reduce size and
// leave the average untouched, so realized PnL stays measurable against it.
func (s *PositionStore) ApplyFill(token string, side types.Side, size, price decimal.Decimal, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastTrade[token] = time.Now()

	delta := size
	if side == types.SELL {
		delta = size.Neg()
	}

	pos, ok := s.positions[token]
	if !ok {
		s.positions[token] = Position{Size: delta, AvgPrice: price}
		s.log.Info("position opened", "source", source, "token", token, "size", delta, "avg_price", price)
		return
	}

	if delta.Sign() > 0 {
		if pos.Size.IsZero() {
			pos.AvgPrice = price
		} else {
			num := pos.AvgPrice.Mul(pos.Size).Add(price.Mul(delta))
			pos.AvgPrice = num.Div(pos.Size.Add(delta))
		}
	}
	pos.Size = pos.Size.Add(delta)
	s.positions[token] = pos

	s.log.Info("position updated", "source", source, "token", token, "size", pos.Size, "avg_price", pos.AvgPrice)
}

// pendingChecker is the slice of PendingTracker the reconcile guard needs.
type pendingChecker interface {
	Empty(token string, side types.Side) bool
	Pending(token string, side types.Side) []string
}

// Reconcile folds the data-API position listing into the store.
//
// The average price is always refreshed. Sizes are refreshed wholesale when
// avgOnly is false (startup). When avgOnly is true the size for a token is
// only overwritten if no fill is pending on either side of it and the last
// WebSocket fill is older than the grace window; otherwise the REST snapshot
// may predate fills we have already applied.
func (s *PositionStore) Reconcile(rows []types.RestPosition, avgOnly bool, pending pendingChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range rows {
		token := row.Asset
		pos := s.positions[token]
		pos.AvgPrice = decimal.NewFromFloat(row.AvgPrice)
		apiSize := decimal.NewFromFloat(row.Size)

		if !avgOnly {
			pos.Size = apiSize
			s.positions[token] = pos
			continue
		}

		// A pending fill on either side means the snapshot may predate an
		// optimistic update; leave the size alone until the fill resolves.
		blocked := false
		for _, side := range []types.Side{types.SELL, types.BUY} {
			if !pending.Empty(token, side) {
				s.log.Warn("skipping size update, fills pending",
					"token", token, "side", side, "trades", pending.Pending(token, side))
				blocked = true
			}
		}
		if !blocked {
			if last, ok := s.lastTrade[token]; ok && time.Since(last) < tradeUpdateGrace {
				s.log.Debug("skipping size update, recent fill", "token", token)
				blocked = true
			}
		}
		if !blocked {
			if !pos.Size.Equal(apiSize) {
				s.log.Info("size reconciled from api",
					"token", token, "old", pos.Size, "new", apiSize, "avg_price", row.AvgPrice)
			}
			pos.Size = apiSize
		}
		s.positions[token] = pos
	}
}

// Snapshot returns a copy of all positions, for logging and shutdown checks.
func (s *PositionStore) Snapshot() map[string]Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Position, len(s.positions))
	for k, v := range s.positions {
		out[k] = v
	}
	return out
}
