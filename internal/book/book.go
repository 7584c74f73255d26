// Package book maintains local order book mirrors for every subscribed token.
//
// Each token gets a pair of price ladders (bids and asks) backed by B-trees
// keyed by price. Full snapshots from "book" events rebuild a ladder pair;
// "price_change" deltas patch individual levels. The strategy layer never
// touches the ladders directly; it reads Summary values (best prices filtered
// by size, second-best, top of book, depth near the mid).
package book

import (
	"fmt"
	"sync"

	"github.com/google/btree"
	"github.com/shopspring/decimal"

	"github.com/tzf1003/poly-maker-rewords/pkg/types"
)

const ladderDegree = 32

// level is one (price, size) entry in a ladder. Ordered by price ascending;
// bid queries walk the tree in descending order.
type level struct {
	price decimal.Decimal
	size  decimal.Decimal
}

func (l *level) Less(than btree.Item) bool {
	return l.price.LessThan(than.(*level).price)
}

// ladder is a single side of a book.
type ladder struct {
	tree *btree.BTree
}

func newLadder() *ladder {
	return &ladder{tree: btree.New(ladderDegree)}
}

func (l *ladder) set(price, size decimal.Decimal) {
	if size.Sign() <= 0 {
		l.tree.Delete(&level{price: price})
		return
	}
	l.tree.ReplaceOrInsert(&level{price: price, size: size})
}

// walk visits levels best-first: descending for bids, ascending for asks.
func (l *ladder) walk(desc bool, fn func(price, size decimal.Decimal) bool) {
	it := func(item btree.Item) bool {
		lv := item.(*level)
		return fn(lv.price, lv.size)
	}
	if desc {
		l.tree.Descend(it)
	} else {
		l.tree.Ascend(it)
	}
}

// tokenBook is the bid/ask ladder pair for one token.
type tokenBook struct {
	bids *ladder
	asks *ladder
}

// SideQuote summarizes one side of a book for the quoting logic.
//
// Best is the best price whose level size strictly exceeds the filter
// threshold; it stays unset when no level qualifies, so the quoter can tell
// a dust-only side from a real one. Second is the level immediately behind
// Best. Top is the unconditional touch. Depth is the total size resting
// between the touch and the deviation band around the filtered mid.
type SideQuote struct {
	Best       decimal.Decimal
	Size       decimal.Decimal // size at Best
	HasBest    bool
	Second     decimal.Decimal
	SecondSize decimal.Decimal
	HasSecond  bool
	Top        decimal.Decimal
	HasTop     bool
	Depth      decimal.Decimal
}

// Summary is a point-in-time view of one token's book.
type Summary struct {
	Bid SideQuote
	Ask SideQuote
}

// Mid returns the midpoint of the size-filtered best bid and ask.
// Zero when either side has no qualifying level.
func (s Summary) Mid() (decimal.Decimal, bool) {
	if !s.Bid.HasBest || !s.Ask.HasBest {
		return decimal.Zero, false
	}
	return s.Bid.Best.Add(s.Ask.Best).Div(decimal.NewFromInt(2)), true
}

// Invert mirrors the summary to the complementary token of a binary market.
// A bid for YES at p is economically an ask for NO at 1-p, so the sides swap
// and every price maps through 1-p while sizes and depths carry over.
func (s Summary) Invert() Summary {
	one := decimal.NewFromInt(1)
	flip := func(q SideQuote) SideQuote {
		out := SideQuote{Depth: q.Depth}
		if q.HasBest {
			out.Best = one.Sub(q.Best)
			out.Size = q.Size
			out.HasBest = true
		}
		if q.HasSecond {
			out.Second = one.Sub(q.Second)
			out.SecondSize = q.SecondSize
			out.HasSecond = true
		}
		if q.HasTop {
			out.Top = one.Sub(q.Top)
			out.HasTop = true
		}
		return out
	}
	return Summary{Bid: flip(s.Ask), Ask: flip(s.Bid)}
}

// Store holds the books for all subscribed tokens.
type Store struct {
	mu    sync.RWMutex
	books map[string]*tokenBook
}

func NewStore() *Store {
	return &Store{books: make(map[string]*tokenBook)}
}

// ApplySnapshot replaces the entire ladder pair for a token.
func (s *Store) ApplySnapshot(assetID string, bids, asks []types.PriceLevel) error {
	tb := &tokenBook{bids: newLadder(), asks: newLadder()}
	if err := loadLevels(tb.bids, bids); err != nil {
		return fmt.Errorf("bids: %w", err)
	}
	if err := loadLevels(tb.asks, asks); err != nil {
		return fmt.Errorf("asks: %w", err)
	}

	s.mu.Lock()
	s.books[assetID] = tb
	s.mu.Unlock()
	return nil
}

func loadLevels(l *ladder, levels []types.PriceLevel) error {
	for _, lv := range levels {
		price, err := decimal.NewFromString(lv.Price)
		if err != nil {
			return fmt.Errorf("parse price %q: %w", lv.Price, err)
		}
		size, err := decimal.NewFromString(lv.Size)
		if err != nil {
			return fmt.Errorf("parse size %q: %w", lv.Size, err)
		}
		l.set(price, size)
	}
	return nil
}

// ApplyDelta patches a single level. Size zero removes the level. Deltas for
// tokens with no snapshot yet are dropped; the next "book" event establishes
// the baseline.
func (s *Store) ApplyDelta(assetID string, side types.Side, priceStr, sizeStr string) error {
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return fmt.Errorf("parse price %q: %w", priceStr, err)
	}
	size, err := decimal.NewFromString(sizeStr)
	if err != nil {
		return fmt.Errorf("parse size %q: %w", sizeStr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tb, ok := s.books[assetID]
	if !ok {
		return nil
	}
	if side == types.BUY {
		tb.bids.set(price, size)
	} else {
		tb.asks.set(price, size)
	}
	return nil
}

// Has reports whether a snapshot exists for the token.
func (s *Store) Has(assetID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.books[assetID]
	return ok
}

// Summary computes both side summaries for a token.
//
// minSize filters the touch: Best is the first level, walking from the
// touch, with size strictly greater than minSize. deviation sets the depth
// window: bid depth sums levels with best_bid <= p <= mid*(1+deviation),
// ask depth sums levels with mid*(1-deviation) <= p <= best_ask, where mid
// is the midpoint of the filtered bests. Depths are zero when either side
// has no qualifying level.
func (s *Store) Summary(assetID string, minSize, deviation decimal.Decimal) (Summary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tb, ok := s.books[assetID]
	if !ok {
		return Summary{}, false
	}

	sum := Summary{
		Bid: scanSide(tb.bids, true, minSize),
		Ask: scanSide(tb.asks, false, minSize),
	}

	if mid, ok := sum.Mid(); ok {
		one := decimal.NewFromInt(1)
		bidHi := mid.Mul(one.Add(deviation))
		askLo := mid.Mul(one.Sub(deviation))
		sum.Bid.Depth = sumRange(tb.bids, sum.Bid.Best, bidHi)
		sum.Ask.Depth = sumRange(tb.asks, askLo, sum.Ask.Best)
	}
	return sum, true
}

func scanSide(l *ladder, isBid bool, minSize decimal.Decimal) SideQuote {
	var q SideQuote
	takeNext := false

	l.walk(isBid, func(price, size decimal.Decimal) bool {
		if !q.HasTop {
			q.Top = price
			q.HasTop = true
		}
		if takeNext {
			q.Second = price
			q.SecondSize = size
			q.HasSecond = true
			return false
		}
		if !q.HasBest && size.GreaterThan(minSize) {
			q.Best = price
			q.Size = size
			q.HasBest = true
			takeNext = true
		}
		return true
	})
	return q
}

func sumRange(l *ladder, lo, hi decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	l.walk(false, func(price, size decimal.Decimal) bool {
		if price.GreaterThan(hi) {
			return false
		}
		if price.GreaterThanOrEqual(lo) {
			total = total.Add(size)
		}
		return true
	})
	return total
}
