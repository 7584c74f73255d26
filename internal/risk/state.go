// Package risk persists per-market stop-loss state as JSON files.
//
// When a stop-loss fires, the trading pass records why and until when the
// market must stay bid-free; the buy path checks the file before quoting.
// One file per market, <dir>/<condition_id>.json, written atomically
// (write to .tmp, then rename) so a crash mid-save never leaves a corrupt
// cooldown behind. The files survive restarts on purpose: a bot that
// stopped out and was bounced should not immediately re-enter.
package risk

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// State records one stop-loss trigger.
type State struct {
	Time      time.Time `json:"time"`       // when the stop fired
	SleepTill time.Time `json:"sleep_till"` // no new bids before this
	Question  string    `json:"question"`
	Reason    string    `json:"reason"`
}

// Store reads and writes per-market risk state files.
type Store struct {
	dir string
	mu  sync.Mutex // serializes file operations
}

// Open creates a store backed by the given directory.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create risk dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(conditionID string) string {
	return filepath.Join(s.dir, conditionID+".json")
}

// Save atomically persists the stop-loss state for a market.
func (s *Store) Save(conditionID string, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal risk state: %w", err)
	}

	path := s.path(conditionID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write risk state: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load returns the stored state for a market, or nil when none exists.
func (s *Store) Load(conditionID string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(conditionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read risk state: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("unmarshal risk state: %w", err)
	}
	return &st, nil
}

// Asleep reports whether the market is still inside a stop-loss cooldown.
// Unreadable state blocks buying; a corrupt file is not a reason to trade.
func (s *Store) Asleep(conditionID string, now time.Time) bool {
	st, err := s.Load(conditionID)
	if err != nil {
		return true
	}
	if st == nil {
		return false
	}
	return now.Before(st.SleepTill)
}
