package state

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/tzf1003/poly-maker-rewords/pkg/types"
)

// Quote is one resting order summarized as (price, remaining size).
// Zero values mean no order on that side.
type Quote struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// TokenOrders is the resting order pair for a single token. The quoter keeps
// at most one order per side per token.
type TokenOrders struct {
	Buy  Quote
	Sell Quote
}

// OrderStore mirrors our resting CLOB orders per token. User channel order
// events update it immediately; the reconciler rebuilds it wholesale from
// the open-orders listing every tick.
type OrderStore struct {
	mu     sync.Mutex
	orders map[string]TokenOrders
	log    *slog.Logger
}

func NewOrderStore(logger *slog.Logger) *OrderStore {
	return &OrderStore{
		orders: make(map[string]TokenOrders),
		log:    logger.With("component", "orders"),
	}
}

// Get returns the resting pair for a token, zero-valued when none.
func (s *OrderStore) Get(token string) TokenOrders {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[token]
}

// SetFromEvent replaces the token's entry with just the reported side.
// The other side reads as zero until the next reconcile rebuilds it; that
// self-corrects within one reconcile interval and errs on the side of
// re-quoting rather than trusting a stale entry.
func (s *OrderStore) SetFromEvent(token string, side types.Side, price, size decimal.Decimal) {
	entry := TokenOrders{}
	q := Quote{Price: price, Size: size}
	if side == types.BUY {
		entry.Buy = q
	} else {
		entry.Sell = q
	}

	s.mu.Lock()
	s.orders[token] = entry
	s.mu.Unlock()

	s.log.Info("order updated from event", "token", token, "side", side, "price", price, "size", size)
}

// Reconcile rebuilds the store from the open-orders listing. A side with
// more than one live order is an inconsistency the quoter cannot have
// produced; all orders for that token are cancelled through cancelAsset and
// the entry resets to zero.
func (s *OrderStore) Reconcile(open []types.OpenOrder, cancelAsset func(token string)) error {
	bySide := make(map[string]map[types.Side][]types.OpenOrder)
	for _, o := range open {
		if bySide[o.AssetID] == nil {
			bySide[o.AssetID] = make(map[types.Side][]types.OpenOrder)
		}
		side := types.Side(o.Side)
		bySide[o.AssetID][side] = append(bySide[o.AssetID][side], o)
	}

	orders := make(map[string]TokenOrders)
	for token, sides := range bySide {
		entry := TokenOrders{}
		broken := false
		for _, side := range []types.Side{types.BUY, types.SELL} {
			curr := sides[side]
			if len(curr) > 1 {
				s.log.Warn("multiple orders on one side, cancelling asset", "token", token, "side", side, "count", len(curr))
				cancelAsset(token)
				broken = true
				break
			}
			if len(curr) == 1 {
				q, err := quoteFromOpenOrder(curr[0])
				if err != nil {
					return fmt.Errorf("token %s: %w", token, err)
				}
				if side == types.BUY {
					entry.Buy = q
				} else {
					entry.Sell = q
				}
			}
		}
		if broken {
			entry = TokenOrders{}
		}
		orders[token] = entry
	}

	s.mu.Lock()
	s.orders = orders
	s.mu.Unlock()
	return nil
}

func quoteFromOpenOrder(o types.OpenOrder) (Quote, error) {
	price, err := decimal.NewFromString(o.Price)
	if err != nil {
		return Quote{}, fmt.Errorf("parse price %q: %w", o.Price, err)
	}
	original, err := decimal.NewFromString(o.OriginalSize)
	if err != nil {
		return Quote{}, fmt.Errorf("parse original_size %q: %w", o.OriginalSize, err)
	}
	matched, err := decimal.NewFromString(o.SizeMatched)
	if err != nil {
		return Quote{}, fmt.Errorf("parse size_matched %q: %w", o.SizeMatched, err)
	}
	return Quote{Price: price, Size: original.Sub(matched)}, nil
}
