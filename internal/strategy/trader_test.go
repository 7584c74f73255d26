package strategy

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tzf1003/poly-maker-rewords/internal/book"
	"github.com/tzf1003/poly-maker-rewords/internal/config"
	"github.com/tzf1003/poly-maker-rewords/internal/risk"
	"github.com/tzf1003/poly-maker-rewords/internal/state"
	"github.com/tzf1003/poly-maker-rewords/pkg/types"
)

type createCall struct {
	token string
	side  types.Side
	price decimal.Decimal
	size  decimal.Decimal
}

type fakeExchange struct {
	mu               sync.Mutex
	created          []createCall
	cancelledAssets  []string
	cancelledMarkets []string
}

func (f *fakeExchange) CreateOrder(_ context.Context, token string, side types.Side, price, size decimal.Decimal, _ int32, _ bool) (*types.OrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, createCall{token: token, side: side, price: price, size: size})
	return &types.OrderResponse{Success: true, Status: "live"}, nil
}

func (f *fakeExchange) CancelAsset(_ context.Context, assetID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelledAssets = append(f.cancelledAssets, assetID)
	return nil
}

func (f *fakeExchange) CancelMarket(_ context.Context, conditionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelledMarkets = append(f.cancelledMarkets, conditionID)
	return nil
}

// ordersFor filters created orders for one token and side.
func (f *fakeExchange) ordersFor(token string, side types.Side) []createCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []createCall
	for _, c := range f.created {
		if c.token == token && c.side == side {
			out = append(out, c)
		}
	}
	return out
}

type fakeChain struct {
	raw map[string]*big.Int
}

func (f *fakeChain) RawPosition(_ context.Context, tokenID string) (*big.Int, error) {
	if r, ok := f.raw[tokenID]; ok {
		return r, nil
	}
	return big.NewInt(0), nil
}

type mergeCall struct {
	raw         *big.Int
	conditionID string
	negRisk     bool
}

type fakeMerger struct {
	mu    sync.Mutex
	calls []mergeCall
}

func (f *fakeMerger) Merge(_ context.Context, rawAmount *big.Int, conditionID string, negRisk bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, mergeCall{raw: rawAmount, conditionID: conditionID, negRisk: negRisk})
	return "0xdeadbeef", nil
}

type fixture struct {
	trader    *Trader
	exch      *fakeExchange
	chain     *fakeChain
	merger    *fakeMerger
	books     *book.Store
	positions *state.PositionStore
	orders    *state.OrderStore
	risk      *risk.Store
}

func newFixture(t *testing.T, row state.MarketRow, params state.ParamSet) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	books := book.NewStore()
	positions := state.NewPositionStore(logger)
	orders := state.NewOrderStore(logger)
	markets := state.NewMarketConfigStore()
	markets.Update([]state.MarketRow{row}, map[string]state.ParamSet{row.ParamType: params})

	riskStore, err := risk.Open(t.TempDir())
	if err != nil {
		t.Fatalf("risk.Open: %v", err)
	}

	exch := &fakeExchange{}
	chain := &fakeChain{raw: make(map[string]*big.Int)}
	merger := &fakeMerger{}

	trader := NewTrader(config.TradingConfig{MinMergeSize: 1},
		books, positions, orders, markets, exch, chain, merger, riskStore, logger)

	return &fixture{
		trader:    trader,
		exch:      exch,
		chain:     chain,
		merger:    merger,
		books:     books,
		positions: positions,
		orders:    orders,
		risk:      riskStore,
	}
}

func testRow(t *testing.T) state.MarketRow {
	t.Helper()
	return state.MarketRow{
		Question:     "Will the index close up?",
		ConditionID:  "0xmkt",
		Token1:       "tok1",
		Token2:       "tok2",
		Answer1:      "Yes",
		Answer2:      "No",
		ParamType:    "mid_cap",
		TickSize:     dec(t, "0.01"),
		MinSize:      dec(t, "20"),
		MaxSize:      dec(t, "100"),
		TradeSize:    dec(t, "50"),
		MaxSpread:    dec(t, "3"),
		SheetBestBid: dec(t, "0.50"),
		SheetBestAsk: dec(t, "0.53"),
	}
}

func testParams() state.ParamSet {
	return state.ParamSet{
		StopLossThreshold:   -10,
		SpreadThreshold:     decimal.NewFromFloat(0.02),
		VolatilityThreshold: 50,
		TakeProfitThreshold: 4,
		SleepPeriod:         4 * time.Hour,
	}
}

func lvl(price, size string) types.PriceLevel {
	return types.PriceLevel{Price: price, Size: size}
}

func seedBook(t *testing.T, books *book.Store, token string, bids, asks []types.PriceLevel) {
	t.Helper()
	if err := books.ApplySnapshot(token, bids, asks); err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}
}

func TestTradeUnknownMarketDoesNothing(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testRow(t), testParams())

	f.trader.Trade(context.Background(), "0xother")

	if len(f.exch.created) != 0 || len(f.exch.cancelledAssets) != 0 {
		t.Errorf("unknown market must be a no-op, got %v %v", f.exch.created, f.exch.cancelledAssets)
	}
}

func TestTradePlacesBothBids(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testRow(t), testParams())
	seedBook(t, f.books, "tok1",
		[]types.PriceLevel{lvl("0.50", "200")},
		[]types.PriceLevel{lvl("0.53", "1000")})

	f.trader.Trade(context.Background(), "0xmkt")

	// token1 improves the bid by a tick; token2 sees the mirrored book
	// (bid at 1-0.53=0.47) and improves that.
	buys1 := f.exch.ordersFor("tok1", types.BUY)
	if len(buys1) != 1 || !buys1[0].price.Equal(dec(t, "0.51")) || !buys1[0].size.Equal(dec(t, "50")) {
		t.Errorf("tok1 buys = %v, want one 50 @ 0.51", buys1)
	}
	buys2 := f.exch.ordersFor("tok2", types.BUY)
	if len(buys2) != 1 || !buys2[0].price.Equal(dec(t, "0.48")) || !buys2[0].size.Equal(dec(t, "50")) {
		t.Errorf("tok2 buys = %v, want one 50 @ 0.48", buys2)
	}
	if len(f.exch.ordersFor("tok1", types.SELL)) != 0 {
		t.Error("flat book pass must not place sells")
	}
}

func TestCooldownBlocksBids(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testRow(t), testParams())
	seedBook(t, f.books, "tok1",
		[]types.PriceLevel{lvl("0.50", "200")},
		[]types.PriceLevel{lvl("0.53", "1000")})

	now := time.Now().UTC()
	if err := f.risk.Save("0xmkt", risk.State{Time: now, SleepTill: now.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}

	f.trader.Trade(context.Background(), "0xmkt")

	if len(f.exch.created) != 0 {
		t.Errorf("cooldown must block all bids, got %v", f.exch.created)
	}
}

func TestBidOutsidePriceRangeNotPosted(t *testing.T) {
	t.Parallel()
	row := testRow(t)
	row.SheetBestBid = dec(t, "0.92")
	row.SheetBestAsk = dec(t, "0.95")
	f := newFixture(t, row, testParams())

	// token1's bid improves to 0.93 (>= 0.90); token2's mirrors to 0.06 (< 0.10).
	seedBook(t, f.books, "tok1",
		[]types.PriceLevel{lvl("0.92", "1000")},
		[]types.PriceLevel{lvl("0.95", "1000")})

	f.trader.Trade(context.Background(), "0xmkt")

	if len(f.exch.created) != 0 {
		t.Errorf("bids outside [0.10, 0.90) must not be posted, got %v", f.exch.created)
	}
}

func TestBidBelowIncentiveBandNotPosted(t *testing.T) {
	t.Parallel()
	row := testRow(t)
	row.MaxSpread = dec(t, "0.5") // band half-width 0.005 around the mid
	row.SheetBestAsk = dec(t, "0.56")
	f := newFixture(t, row, testParams())

	// Wide market: mid 0.53, improved bid 0.51 sits outside the reward band.
	seedBook(t, f.books, "tok1",
		[]types.PriceLevel{lvl("0.50", "1000")},
		[]types.PriceLevel{lvl("0.56", "1000")})

	f.trader.Trade(context.Background(), "0xmkt")

	if len(f.exch.created) != 0 {
		t.Errorf("bids outside the incentive band must not be posted, got %v", f.exch.created)
	}
}

func TestHighVolatilityCancelsInsteadOfBidding(t *testing.T) {
	t.Parallel()
	row := testRow(t)
	row.Volatility3h = 99
	f := newFixture(t, row, testParams())
	seedBook(t, f.books, "tok1",
		[]types.PriceLevel{lvl("0.50", "200")},
		[]types.PriceLevel{lvl("0.53", "1000")})

	f.trader.Trade(context.Background(), "0xmkt")

	if len(f.exch.created) != 0 {
		t.Errorf("volatile market must not be bid, got %v", f.exch.created)
	}
	if len(f.exch.cancelledAssets) != 2 {
		t.Errorf("both tokens should be cancelled, got %v", f.exch.cancelledAssets)
	}
}

func TestSmallQuoteChangeKeepsRestingOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testRow(t), testParams())
	seedBook(t, f.books, "tok1",
		[]types.PriceLevel{lvl("0.50", "200")},
		[]types.PriceLevel{lvl("0.53", "1000")})

	// Resting bid within half a cent and 10% size of the new target.
	f.orders.SetFromEvent("tok1", types.BUY, dec(t, "0.508"), dec(t, "50"))

	f.trader.Trade(context.Background(), "0xmkt")

	if got := f.exch.ordersFor("tok1", types.BUY); len(got) != 0 {
		t.Errorf("near-identical quote must keep the resting order, got %v", got)
	}
	if len(f.exch.cancelledAssets) != 0 {
		t.Errorf("no cancels expected, got %v", f.exch.cancelledAssets)
	}
}

func TestOffsettingPositionBlocksBid(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testRow(t), testParams())
	seedBook(t, f.books, "tok1",
		[]types.PriceLevel{lvl("0.50", "200")},
		[]types.PriceLevel{lvl("0.53", "1000")})

	// Holding NO well above min size: do not also accumulate YES. The NO
	// position itself is below one trade size so its own sell side stays off.
	f.positions.ApplyFill("tok2", types.BUY, dec(t, "45"), dec(t, "0.45"), "test")
	f.orders.SetFromEvent("tok1", types.BUY, dec(t, "0.50"), dec(t, "50"))

	f.trader.Trade(context.Background(), "0xmkt")

	if got := f.exch.ordersFor("tok1", types.BUY); len(got) != 0 {
		t.Errorf("offsetting position must block tok1 bids, got %v", got)
	}
	// The stale resting bid gets pulled.
	found := false
	for _, a := range f.exch.cancelledAssets {
		if a == "tok1" {
			found = true
		}
	}
	if !found {
		t.Errorf("resting tok1 bid should be cancelled, got %v", f.exch.cancelledAssets)
	}
}

func TestStopLossSellsAndCancelsMarket(t *testing.T) {
	t.Parallel()
	row := testRow(t)
	row.TickSize = dec(t, "0.001")
	f := newFixture(t, row, testParams())

	// Entered at 0.70, market now 0.595/0.605: pnl -14.3% inside a tight
	// spread fires the stop.
	f.positions.ApplyFill("tok1", types.BUY, dec(t, "100"), dec(t, "0.70"), "test")
	seedBook(t, f.books, "tok1",
		[]types.PriceLevel{lvl("0.595", "1000")},
		[]types.PriceLevel{lvl("0.605", "1000")})

	f.trader.Trade(context.Background(), "0xmkt")

	sells := f.exch.ordersFor("tok1", types.SELL)
	if len(sells) != 1 {
		t.Fatalf("sells = %v, want exactly one", sells)
	}
	if !sells[0].price.Equal(dec(t, "0.595")) {
		t.Errorf("stop-loss must hit the best bid, got %s", sells[0].price)
	}
	if !sells[0].size.Equal(dec(t, "50")) {
		t.Errorf("stop-loss size = %s, want one trade size 50", sells[0].size)
	}
	if len(f.exch.cancelledMarkets) != 1 || f.exch.cancelledMarkets[0] != "0xmkt" {
		t.Errorf("whole market must be cancelled, got %v", f.exch.cancelledMarkets)
	}
	if !f.risk.Asleep("0xmkt", time.Now().UTC()) {
		t.Error("stop-loss must start the cooldown")
	}
	// The cooldown also silences the other outcome's bid in the same pass.
	if got := f.exch.ordersFor("tok2", types.BUY); len(got) != 0 {
		t.Errorf("no bids during the pass that stopped out, got %v", got)
	}
}

func TestStopLossNotFiredOnWideSpread(t *testing.T) {
	t.Parallel()
	row := testRow(t)
	f := newFixture(t, row, testParams())

	// Same pnl breakdown but the book is too wide to exit cleanly.
	f.positions.ApplyFill("tok1", types.BUY, dec(t, "100"), dec(t, "0.70"), "test")
	seedBook(t, f.books, "tok1",
		[]types.PriceLevel{lvl("0.55", "1000")},
		[]types.PriceLevel{lvl("0.65", "1000")})

	f.trader.Trade(context.Background(), "0xmkt")

	if len(f.exch.cancelledMarkets) != 0 {
		t.Errorf("wide spread must hold the position, got cancels %v", f.exch.cancelledMarkets)
	}
	if f.risk.Asleep("0xmkt", time.Now().UTC()) {
		t.Error("no cooldown without a stop")
	}
}

func TestTakeProfitReplacesDriftedSell(t *testing.T) {
	t.Parallel()
	row := testRow(t)
	row.TickSize = dec(t, "0.005")
	f := newFixture(t, row, testParams())

	// At the cap with entry 0.50 and take-profit 4%: target sell 0.52. The
	// resting sell at 0.505 is 2.9% off target and gets replaced.
	f.positions.ApplyFill("tok1", types.BUY, dec(t, "100"), dec(t, "0.50"), "test")
	f.orders.SetFromEvent("tok1", types.SELL, dec(t, "0.505"), dec(t, "50"))
	seedBook(t, f.books, "tok1",
		[]types.PriceLevel{lvl("0.50", "1000")},
		[]types.PriceLevel{lvl("0.52", "1000")})

	f.trader.Trade(context.Background(), "0xmkt")

	sells := f.exch.ordersFor("tok1", types.SELL)
	if len(sells) != 1 {
		t.Fatalf("sells = %v, want exactly one replacement", sells)
	}
	if !sells[0].price.Equal(dec(t, "0.52")) {
		t.Errorf("sell price = %s, want take-profit 0.52", sells[0].price)
	}
	// Replacing means pulling the old order first.
	found := false
	for _, a := range f.exch.cancelledAssets {
		if a == "tok1" {
			found = true
		}
	}
	if !found {
		t.Errorf("old sell should be cancelled, got %v", f.exch.cancelledAssets)
	}
}

func TestTakeProfitKeepsCoveringSell(t *testing.T) {
	t.Parallel()
	row := testRow(t)
	row.TickSize = dec(t, "0.005")
	f := newFixture(t, row, testParams())

	// Resting sell already at the target and covering the position: no churn.
	f.positions.ApplyFill("tok1", types.BUY, dec(t, "100"), dec(t, "0.50"), "test")
	f.orders.SetFromEvent("tok1", types.SELL, dec(t, "0.52"), dec(t, "100"))
	seedBook(t, f.books, "tok1",
		[]types.PriceLevel{lvl("0.50", "1000")},
		[]types.PriceLevel{lvl("0.52", "1000")})

	f.trader.Trade(context.Background(), "0xmkt")

	if got := f.exch.ordersFor("tok1", types.SELL); len(got) != 0 {
		t.Errorf("covering sell must be kept, got %v", got)
	}
}

func TestMergeBurnsOffsettingInventory(t *testing.T) {
	t.Parallel()
	row := testRow(t)
	row.NegRisk = true
	f := newFixture(t, row, testParams())

	f.positions.ApplyFill("tok1", types.BUY, dec(t, "120"), dec(t, "0.60"), "test")
	f.positions.ApplyFill("tok2", types.BUY, dec(t, "80"), dec(t, "0.40"), "test")
	f.chain.raw["tok1"] = big.NewInt(120_000_000)
	f.chain.raw["tok2"] = big.NewInt(80_000_000)

	// No book: the pass stops after the merge step.
	f.trader.Trade(context.Background(), "0xmkt")

	if len(f.merger.calls) != 1 {
		t.Fatalf("merge calls = %d, want 1", len(f.merger.calls))
	}
	call := f.merger.calls[0]
	if call.raw.Cmp(big.NewInt(80_000_000)) != 0 {
		t.Errorf("merged raw = %v, want the smaller side 80e6", call.raw)
	}
	if call.conditionID != "0xmkt" || !call.negRisk {
		t.Errorf("merge call = %+v", call)
	}

	pos1 := f.positions.Get("tok1")
	pos2 := f.positions.Get("tok2")
	if !pos1.Size.Equal(dec(t, "40")) || !pos2.Size.IsZero() {
		t.Errorf("after merge sizes = %s, %s, want 40, 0", pos1.Size, pos2.Size)
	}
	if !pos1.AvgPrice.Equal(dec(t, "0.60")) || !pos2.AvgPrice.Equal(dec(t, "0.40")) {
		t.Errorf("merge must not move avg prices, got %s, %s", pos1.AvgPrice, pos2.AvgPrice)
	}
}

func TestMergeSkippedBelowThreshold(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testRow(t), testParams())

	f.positions.ApplyFill("tok1", types.BUY, dec(t, "120"), dec(t, "0.60"), "test")
	f.positions.ApplyFill("tok2", types.BUY, dec(t, "0.5"), dec(t, "0.40"), "test")

	f.trader.Trade(context.Background(), "0xmkt")

	if len(f.merger.calls) != 0 {
		t.Errorf("sub-threshold overlap must not merge, got %v", f.merger.calls)
	}
}

func TestTradeSerializesPerMarket(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testRow(t), testParams())
	f.trader.tailDelay = 10 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.trader.Trade(context.Background(), "0xmkt")
		}()
	}

	start := time.Now()
	wg.Wait()
	// Four serialized passes each hold the lock for the tail delay.
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("passes overlapped, total %v", elapsed)
	}
}
