package state

import (
	"testing"
	"time"

	"github.com/tzf1003/poly-maker-rewords/pkg/types"
)

func TestPendingLifecycle(t *testing.T) {
	t.Parallel()
	p := NewPendingTracker(testLogger())

	if !p.Empty("tok", types.BUY) {
		t.Fatal("fresh tracker should be empty")
	}

	p.Add("tok", types.BUY, "t1")
	p.Add("tok", types.BUY, "t2")
	p.Add("tok", types.BUY, "t2") // duplicate MATCHED is idempotent

	if p.Count("tok", types.BUY) != 2 {
		t.Errorf("count = %d, want 2", p.Count("tok", types.BUY))
	}
	if p.Empty("tok", types.BUY) {
		t.Error("should not be empty with trades in flight")
	}
	if !p.Empty("tok", types.SELL) {
		t.Error("sides are tracked independently")
	}

	p.Remove("tok", types.BUY, "t1")
	p.Remove("tok", types.BUY, "unknown") // no-op
	if p.Count("tok", types.BUY) != 1 {
		t.Errorf("count after remove = %d, want 1", p.Count("tok", types.BUY))
	}

	p.Remove("tok", types.BUY, "t2")
	if !p.Empty("tok", types.BUY) {
		t.Error("should be empty after all trades resolve")
	}
}

func TestPendingGCDropsStaleEntries(t *testing.T) {
	t.Parallel()
	p := NewPendingTracker(testLogger())

	p.Add("tok", types.BUY, "old")
	time.Sleep(20 * time.Millisecond)
	p.Add("tok", types.BUY, "fresh")

	if removed := p.GC(10 * time.Millisecond); removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if p.Count("tok", types.BUY) != 1 {
		t.Errorf("count = %d, want 1 (only the fresh entry)", p.Count("tok", types.BUY))
	}
}

func TestTrackCreatesEmptyBuckets(t *testing.T) {
	t.Parallel()
	p := NewPendingTracker(testLogger())
	p.Track("tok")
	if !p.Empty("tok", types.BUY) || !p.Empty("tok", types.SELL) {
		t.Error("tracked buckets start empty")
	}
}
