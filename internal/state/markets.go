package state

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MarketRow is one traded market from the spreadsheet: the two outcome
// tokens, the quoting parameters, and the reference prices the selection
// sheet computed when it picked the market.
type MarketRow struct {
	Question    string
	ConditionID string
	Token1      string // YES outcome token ID; market channel books key off this
	Token2      string // NO outcome token ID
	Answer1     string
	Answer2     string
	NegRisk     bool
	ParamType   string // selects the ParamSet for this market

	TickSize  decimal.Decimal
	MinSize   decimal.Decimal
	MaxSize   decimal.Decimal
	TradeSize decimal.Decimal
	MaxSpread decimal.Decimal // in cents; incentive band half-width is MaxSpread/100

	// Multiplier scales buy size on sub-0.10 tokens. Zero means unset.
	Multiplier int64

	// Reference prices from the sheet, used as a drift anchor for bids.
	SheetBestBid decimal.Decimal
	SheetBestAsk decimal.Decimal

	// Volatility3h is the 3-hour realized volatility from the sheet.
	Volatility3h float64
}

// TickDecimals returns the number of decimal places of the tick size.
func (r MarketRow) TickDecimals() int32 {
	return -r.TickSize.Exponent()
}

// ParamSet is one hyperparameter profile; markets reference a profile by
// name through MarketRow.ParamType.
type ParamSet struct {
	StopLossThreshold   float64         // PnL percent below which the stop fires
	SpreadThreshold     decimal.Decimal // stop only fires when the book is tight enough to exit
	VolatilityThreshold float64         // 3h volatility above this gates buying and fires the stop
	TakeProfitThreshold float64         // percent above average entry to park the exit
	SleepPeriod         time.Duration   // how long to stay out after a stop
}

// MarketConfigStore holds the traded market set and hyperparameters.
// Updated from the spreadsheet every few reconcile ticks; the token maps
// are grow-only so in-flight events for a delisted market still resolve.
type MarketConfigStore struct {
	mu      sync.RWMutex
	rows    map[string]MarketRow // by condition ID
	order   []string             // condition IDs in sheet order
	params  map[string]ParamSet
	reverse map[string]string // token -> complementary token
	tokens  []string          // token1 IDs in first-seen order (WS subscription list)
	byToken map[string]string // token (either side) -> condition ID
}

func NewMarketConfigStore() *MarketConfigStore {
	return &MarketConfigStore{
		rows:    make(map[string]MarketRow),
		params:  make(map[string]ParamSet),
		reverse: make(map[string]string),
		byToken: make(map[string]string),
	}
}

// Update swaps in a fresh sheet pull. An empty row set keeps the previous
// one: a transient fetch failure must not strand live markets without
// parameters. Token maps only grow.
func (s *MarketConfigStore) Update(rows []MarketRow, params map[string]ParamSet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(rows) > 0 {
		s.rows = make(map[string]MarketRow, len(rows))
		s.order = s.order[:0]
		for _, row := range rows {
			s.rows[row.ConditionID] = row
			s.order = append(s.order, row.ConditionID)
		}
	}
	if len(params) > 0 {
		s.params = params
	}

	for _, row := range s.rows {
		if _, ok := s.byToken[row.Token1]; !ok {
			s.tokens = append(s.tokens, row.Token1)
		}
		s.byToken[row.Token1] = row.ConditionID
		s.byToken[row.Token2] = row.ConditionID
		if _, ok := s.reverse[row.Token1]; !ok {
			s.reverse[row.Token1] = row.Token2
		}
		if _, ok := s.reverse[row.Token2]; !ok {
			s.reverse[row.Token2] = row.Token1
		}
	}
}

// Row returns the market for a condition ID.
func (s *MarketConfigStore) Row(conditionID string) (MarketRow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[conditionID]
	return row, ok
}

// Params returns the hyperparameter profile for a type name.
func (s *MarketConfigStore) Params(paramType string) (ParamSet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.params[paramType]
	return p, ok
}

// ReverseToken maps a token to its complementary outcome token.
func (s *MarketConfigStore) ReverseToken(token string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	other, ok := s.reverse[token]
	return other, ok
}

// MarketForToken maps a token (either outcome) to its condition ID.
func (s *MarketConfigStore) MarketForToken(token string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byToken[token]
	return id, ok
}

// Known reports whether either token map has seen this token.
func (s *MarketConfigStore) Known(token string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.reverse[token]
	return ok
}

// SubscribeTokens returns the token1 IDs for the market WS subscription.
func (s *MarketConfigStore) SubscribeTokens() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.tokens))
	copy(out, s.tokens)
	return out
}

// ConditionIDs returns the traded condition IDs in sheet order.
func (s *MarketConfigStore) ConditionIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
