package state

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tzf1003/poly-maker-rewords/pkg/types"
)

// PendingTracker records fills that are MATCHED but not yet CONFIRMED or
// MINED, keyed by (token, side). While any trade is pending on a token the
// reconciler must not overwrite that token's position size: the REST
// snapshot may not include the optimistic fill yet.
type PendingTracker struct {
	mu      sync.Mutex
	pending map[string]map[string]time.Time // "<token>_<side>" -> trade ID -> added
	log     *slog.Logger
}

func NewPendingTracker(logger *slog.Logger) *PendingTracker {
	return &PendingTracker{
		pending: make(map[string]map[string]time.Time),
		log:     logger.With("component", "pending"),
	}
}

func pendingKey(token string, side types.Side) string {
	return token + "_" + strings.ToLower(string(side))
}

// Track pre-creates the buckets for both sides of a token so the reconcile
// guard sees them as known-and-empty rather than untracked.
func (t *PendingTracker) Track(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, side := range []types.Side{types.BUY, types.SELL} {
		key := pendingKey(token, side)
		if t.pending[key] == nil {
			t.pending[key] = make(map[string]time.Time)
		}
	}
}

// Add records a MATCHED trade. Idempotent per trade ID.
func (t *PendingTracker) Add(token string, side types.Side, tradeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := pendingKey(token, side)
	if t.pending[key] == nil {
		t.pending[key] = make(map[string]time.Time)
	}
	t.pending[key][tradeID] = time.Now()
}

// Remove drops a trade on CONFIRMED, FAILED, or MINED. Unknown IDs are a
// no-op so duplicate lifecycle events are harmless.
func (t *PendingTracker) Remove(token string, side types.Side, tradeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending[pendingKey(token, side)], tradeID)
}

// Empty reports whether no trade is pending for (token, side).
func (t *PendingTracker) Empty(token string, side types.Side) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending[pendingKey(token, side)]) == 0
}

// Pending lists the trade IDs in flight for (token, side).
func (t *PendingTracker) Pending(token string, side types.Side) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.pending[pendingKey(token, side)]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// Count returns the number of trades in flight for (token, side).
func (t *PendingTracker) Count(token string, side types.Side) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending[pendingKey(token, side)])
}

// GC drops entries older than maxAge. A trade whose CONFIRMED or MINED event
// never arrived would otherwise block position reconciliation forever.
// Returns how many entries were removed.
func (t *PendingTracker) GC(maxAge time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for key, set := range t.pending {
		for id, added := range set {
			if added.Before(cutoff) {
				t.log.Warn("dropping stale pending trade", "key", key, "trade_id", id, "age", time.Since(added))
				delete(set, id)
				removed++
			}
		}
	}
	return removed
}
