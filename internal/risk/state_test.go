package risk

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	st := State{
		Time:      now,
		SleepTill: now.Add(4 * time.Hour),
		Question:  "Will it rain tomorrow?",
		Reason:    "pnl -14.3% with spread 0.01",
	}
	if err := s.Save("0xcond", st); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load("0xcond")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil {
		t.Fatal("expected state, got nil")
	}
	if !got.SleepTill.Equal(st.SleepTill) || got.Reason != st.Reason {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestLoadMissingReturnsNil(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	st, err := s.Load("unknown")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st != nil {
		t.Errorf("expected nil for missing market, got %+v", st)
	}
}

func TestAsleepWindow(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	now := time.Now()
	if s.Asleep("0xcond", now) {
		t.Error("no state yet, must not be asleep")
	}

	st := State{Time: now, SleepTill: now.Add(time.Hour)}
	if err := s.Save("0xcond", st); err != nil {
		t.Fatal(err)
	}

	if !s.Asleep("0xcond", now.Add(30*time.Minute)) {
		t.Error("inside the window, must be asleep")
	}
	if s.Asleep("0xcond", now.Add(2*time.Hour)) {
		t.Error("past sleep_till, must be awake")
	}
}

func TestAsleepOnCorruptFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(dir, "0xbad.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if !s.Asleep("0xbad", time.Now()) {
		t.Error("unreadable state must block buying")
	}
}

func TestSaveOverwrites(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	now := time.Now().UTC()
	if err := s.Save("0xcond", State{Time: now, SleepTill: now.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	later := now.Add(3 * time.Hour)
	if err := s.Save("0xcond", State{Time: later, SleepTill: later.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}

	got, err := s.Load("0xcond")
	if err != nil {
		t.Fatal(err)
	}
	if !got.SleepTill.Equal(later.Add(time.Hour)) {
		t.Errorf("sleep_till = %v, want the newer trigger", got.SleepTill)
	}
}
