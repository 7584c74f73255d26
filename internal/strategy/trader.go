package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tzf1003/poly-maker-rewords/internal/book"
	"github.com/tzf1003/poly-maker-rewords/internal/config"
	"github.com/tzf1003/poly-maker-rewords/internal/risk"
	"github.com/tzf1003/poly-maker-rewords/internal/state"
	"github.com/tzf1003/poly-maker-rewords/pkg/types"
)

var (
	// maxAbsolutePosition caps any single token holding regardless of what
	// the sheet allows.
	maxAbsolutePosition = decimal.NewFromInt(250)

	// maxReferenceDrift is how far the live bid may sit from the sheet's
	// reference price before we stand down and cancel.
	maxReferenceDrift = decimal.NewFromFloat(0.05)

	// Bids outside [0.10, 0.90) are never posted; near-certain outcomes are
	// not worth the tail risk.
	minBidPrice = decimal.NewFromFloat(0.1)
	maxBidPrice = decimal.NewFromFloat(0.9)

	// An existing order is left alone unless the target moved more than half
	// a cent or the size is off by more than 10%.
	replacePriceTol = decimal.NewFromFloat(0.005)
	replaceSizeFrac = decimal.NewFromFloat(0.1)

	// Re-quote when position plus resting buy covers less than 95% of the
	// cap, or when the resting buy overshoots the target by more than 1%.
	underQuotedFrac = decimal.NewFromFloat(0.95)
	overQuotedFrac  = decimal.NewFromFloat(1.01)

	// Take-profit order maintenance: replace when the resting price is more
	// than 2% off target or the resting size covers under 97% of the position.
	takeProfitDriftPct = two
	sellCoverageFrac   = decimal.NewFromFloat(0.97)

	sharesScale = decimal.New(1, 6) // raw ERC-1155 balances carry 6 decimals
)

// Exchange is the slice of the CLOB client the trading pass uses.
type Exchange interface {
	CreateOrder(ctx context.Context, tokenID string, side types.Side, price, size decimal.Decimal, tickDecimals int32, negRisk bool) (*types.OrderResponse, error)
	CancelAsset(ctx context.Context, assetID string) error
	CancelMarket(ctx context.Context, conditionID string) error
}

// ChainReader reads raw on-chain token balances for the merge step.
type ChainReader interface {
	RawPosition(ctx context.Context, tokenID string) (*big.Int, error)
}

// PositionMerger burns an offsetting YES/NO pair back into collateral.
type PositionMerger interface {
	Merge(ctx context.Context, rawAmount *big.Int, conditionID string, negRisk bool) (string, error)
}

// Trader runs the quoting pass for one market at a time. A per-market mutex
// serializes passes so a burst of book events cannot interleave order
// management for the same market.
type Trader struct {
	books     *book.Store
	positions *state.PositionStore
	orders    *state.OrderStore
	markets   *state.MarketConfigStore
	exch      Exchange
	chain     ChainReader
	merger    PositionMerger
	risk      *risk.Store
	log       *slog.Logger

	minMerge  decimal.Decimal
	tailDelay time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewTrader(
	cfg config.TradingConfig,
	books *book.Store,
	positions *state.PositionStore,
	orders *state.OrderStore,
	markets *state.MarketConfigStore,
	exch Exchange,
	chain ChainReader,
	merger PositionMerger,
	riskStore *risk.Store,
	logger *slog.Logger,
) *Trader {
	return &Trader{
		books:     books,
		positions: positions,
		orders:    orders,
		markets:   markets,
		exch:      exch,
		chain:     chain,
		merger:    merger,
		risk:      riskStore,
		log:       logger.With("component", "trader"),
		minMerge:  decimal.NewFromFloat(cfg.MinMergeSize),
		tailDelay: cfg.TailDelay,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (t *Trader) lockFor(conditionID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[conditionID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[conditionID] = l
	}
	return l
}

// Trade runs one full pass over a market: merge offsetting inventory, then
// quote both outcome tokens. Holds the market lock for the whole pass plus a
// short tail delay, damping churn when events arrive in bursts.
func (t *Trader) Trade(ctx context.Context, conditionID string) {
	lock := t.lockFor(conditionID)
	lock.Lock()
	defer lock.Unlock()

	t.runPass(ctx, conditionID)

	if t.tailDelay > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(t.tailDelay):
		}
	}
}

func (t *Trader) runPass(ctx context.Context, conditionID string) {
	row, ok := t.markets.Row(conditionID)
	if !ok {
		return
	}
	params, ok := t.markets.Params(row.ParamType)
	if !ok {
		t.log.Warn("no parameter profile for market", "market", conditionID, "param_type", row.ParamType)
		return
	}

	t.log.Info("trading pass", "market", conditionID, "question", row.Question)

	t.mergeInventory(ctx, conditionID, row)

	for _, tk := range []struct {
		name, token, answer string
	}{
		{"token1", row.Token1, row.Answer1},
		{"token2", row.Token2, row.Answer2},
	} {
		t.quoteToken(ctx, conditionID, row, params, tk.name, tk.token, tk.answer)
	}
}

// mergeInventory burns min(YES, NO) back into USDC when both sides are large
// enough to bother. The tracked sizes only gate the attempt; the amount
// actually merged comes from a fresh on-chain read of both raw balances.
func (t *Trader) mergeInventory(ctx context.Context, conditionID string, row state.MarketRow) {
	pos1 := t.positions.Get(row.Token1).Size
	pos2 := t.positions.Get(row.Token2).Size
	if decimal.Min(pos1, pos2).LessThanOrEqual(t.minMerge) {
		return
	}

	raw1, err := t.chain.RawPosition(ctx, row.Token1)
	if err != nil {
		t.log.Error("read on-chain balance", "token", row.Token1, "err", err)
		return
	}
	raw2, err := t.chain.RawPosition(ctx, row.Token2)
	if err != nil {
		t.log.Error("read on-chain balance", "token", row.Token2, "err", err)
		return
	}

	raw := raw1
	if raw2.Cmp(raw1) < 0 {
		raw = raw2
	}
	shares := decimal.NewFromBigInt(raw, 0).Div(sharesScale)
	if shares.LessThanOrEqual(t.minMerge) {
		return
	}

	t.log.Info("merging offsetting positions", "market", conditionID, "shares", shares)
	txHash, err := t.merger.Merge(ctx, raw, conditionID, row.NegRisk)
	if err != nil {
		t.log.Error("merge failed", "market", conditionID, "err", err)
		return
	}
	t.log.Info("positions merged", "market", conditionID, "tx", txHash)

	t.positions.ApplyFill(row.Token1, types.SELL, shares, decimal.Zero, "merge")
	t.positions.ApplyFill(row.Token2, types.SELL, shares, decimal.Zero, "merge")
}

// bookSummary reads the market's book with the given dust filter. The book
// is keyed by token1; token2 sees it mirrored through 1-p.
func (t *Trader) bookSummary(row state.MarketRow, name string, filter decimal.Decimal) (book.Summary, bool) {
	sum, ok := t.books.Summary(row.Token1, filter, depthDeviation)
	if !ok {
		return book.Summary{}, false
	}
	if name == "token2" {
		sum = sum.Invert()
	}
	return sum, true
}

func (t *Trader) quoteToken(ctx context.Context, conditionID string, row state.MarketRow, params state.ParamSet, name, token, answer string) {
	sum, ok := t.bookSummary(row, name, depthFilterSize)
	if !ok {
		t.log.Debug("no book yet", "market", conditionID, "token", token)
		return
	}
	// A side with only dust at the tight filter gets a second look with the
	// loose one before we give up on the token.
	if !sum.Bid.HasBest || !sum.Ask.HasBest {
		sum, _ = t.bookSummary(row, name, fallbackFilterSize)
	}
	if !sum.Bid.HasBest || !sum.Ask.HasBest || !sum.Bid.HasTop || !sum.Ask.HasTop {
		t.log.Debug("book too thin to quote", "market", conditionID, "token", token)
		return
	}

	tickDec := row.TickDecimals()
	bestBid := sum.Bid.Best.Round(tickDec)
	bestAsk := sum.Ask.Best.Round(tickDec)
	topBid := sum.Bid.Top.Round(tickDec)
	topAsk := sum.Ask.Top.Round(tickDec)

	overallRatio := decimal.Zero
	if sum.Ask.Depth.Sign() != 0 {
		overallRatio = sum.Bid.Depth.Div(sum.Ask.Depth)
	}

	pos := t.positions.Get(token)
	position := pos.Size.RoundFloor(2)
	avgPrice := pos.AvgPrice

	bid, ask := orderPrices(bestBid, sum.Bid.Size, topBid, bestAsk, sum.Ask.Size, topAsk, avgPrice, row)
	bid = bid.Round(tickDec)
	ask = ask.Round(tickDec)
	midPrice := topBid.Add(topAsk).Div(two)

	otherToken, _ := t.markets.ReverseToken(token)
	otherPosition := t.positions.Get(otherToken).Size

	buyAmount, sellAmount := buySellAmount(position, bid, row, otherPosition)
	orders := t.orders.Get(token)

	t.log.Info("token state", "answer", answer,
		"position", position, "avg_price", avgPrice, "other_position", otherPosition,
		"best_bid", bestBid, "best_ask", bestAsk, "bid", bid, "ask", ask, "mid", midPrice,
		"buy_amount", buyAmount, "sell_amount", sellAmount,
		"resting_buy", orders.Buy, "resting_sell", orders.Sell)

	if sellAmount.Sign() > 0 {
		if avgPrice.Sign() == 0 {
			t.log.Info("no entry basis yet, skipping token", "token", token)
			return
		}
		if t.stopLoss(ctx, conditionID, row, params, name, token, avgPrice, sellAmount, tickDec, orders) {
			return
		}
	}

	if position.LessThan(effectiveMaxSize(row)) && position.LessThan(maxAbsolutePosition) &&
		buyAmount.Sign() > 0 && buyAmount.GreaterThanOrEqual(row.MinSize) {
		t.quoteBuy(ctx, conditionID, row, params, name, token,
			bid, buyAmount, midPrice, bestBid, overallRatio, position, otherPosition, orders)
	} else if sellAmount.Sign() > 0 {
		t.quoteTakeProfit(ctx, row, params, token, ask, sellAmount, avgPrice, position, tickDec, orders)
	}
}

// stopLoss re-reads the book and bails out of the position when the PnL has
// broken down in a tight market, or when the market got too volatile to hold.
// Returns true when it fired: the position is dumped at the best bid, the
// whole market's orders are pulled, and a cooldown file keeps the buy side
// quiet until it expires.
func (t *Trader) stopLoss(ctx context.Context, conditionID string, row state.MarketRow, params state.ParamSet, name, token string, avgPrice, sellAmount decimal.Decimal, tickDec int32, orders state.TokenOrders) bool {
	sum, ok := t.bookSummary(row, name, depthFilterSize)
	if !ok || !sum.Bid.HasBest || !sum.Ask.HasBest {
		return false
	}

	mid := sum.Bid.Best.Add(sum.Ask.Best).Div(two).RoundCeil(tickDec)
	spread := sum.Ask.Best.Sub(sum.Bid.Best).Round(2)
	pnlPct := mid.Sub(avgPrice).Div(avgPrice).Mul(hundred).InexactFloat64()

	t.log.Info("risk check", "token", token, "mid", mid, "spread", spread, "pnl_pct", pnlPct)

	pnlStop := pnlPct < params.StopLossThreshold && spread.LessThanOrEqual(params.SpreadThreshold)
	volStop := row.Volatility3h > params.VolatilityThreshold
	if !pnlStop && !volStop {
		return false
	}

	reason := fmt.Sprintf("selling %s: pnl %.2f%% at spread %s, 3h volatility %.2f",
		sellAmount, pnlPct, spread, row.Volatility3h)
	t.log.Warn("stop-loss triggered", "market", conditionID, "token", token, "reason", reason)

	t.sendSell(ctx, row, token, sum.Bid.Best, sellAmount, orders)
	if err := t.exch.CancelMarket(ctx, conditionID); err != nil {
		t.log.Error("cancel market after stop", "market", conditionID, "err", err)
	}

	now := time.Now().UTC()
	err := t.risk.Save(conditionID, risk.State{
		Time:      now,
		SleepTill: now.Add(params.SleepPeriod),
		Question:  row.Question,
		Reason:    reason,
	})
	if err != nil {
		t.log.Error("persist stop-loss state", "market", conditionID, "err", err)
	}
	return true
}

// quoteBuy decides whether the bid should be (re)posted and does so. Several
// gates run first: the stop-loss cooldown, volatility and drift from the
// sheet's reference price, an offsetting position on the other outcome, and
// the book's depth ratio. Then the bid is refreshed only when it would
// improve the price or the resting size no longer matches the target.
func (t *Trader) quoteBuy(ctx context.Context, conditionID string, row state.MarketRow, params state.ParamSet, name, token string, bid, size, mid, bestBid, overallRatio, position, otherPosition decimal.Decimal, orders state.TokenOrders) {
	if t.risk.Asleep(conditionID, time.Now().UTC()) {
		t.log.Info("in stop-loss cooldown, not bidding", "market", conditionID, "token", token)
		return
	}

	reference := row.SheetBestBid
	if name == "token2" {
		reference = one.Sub(row.SheetBestAsk)
	}
	reference = reference.Round(row.TickDecimals())
	drift := bid.Sub(reference).Abs()

	if row.Volatility3h > params.VolatilityThreshold || drift.GreaterThanOrEqual(maxReferenceDrift) {
		t.log.Info("volatility or reference drift too high, cancelling",
			"token", token, "volatility_3h", row.Volatility3h, "bid", bid, "reference", reference)
		if err := t.exch.CancelAsset(ctx, token); err != nil {
			t.log.Error("cancel asset", "token", token, "err", err)
		}
		return
	}

	if otherPosition.GreaterThan(row.MinSize) {
		t.log.Info("offsetting position on other outcome, not bidding", "token", token, "other_position", otherPosition)
		if orders.Buy.Size.GreaterThan(t.minMerge) {
			if err := t.exch.CancelAsset(ctx, token); err != nil {
				t.log.Error("cancel asset", "token", token, "err", err)
			}
		}
		return
	}

	// Depth ratio of two non-negative sums; the guard has never fired but
	// stays as a tripwire for a broken book read.
	if overallRatio.Sign() < 0 {
		t.log.Warn("negative depth ratio, cancelling", "token", token, "ratio", overallRatio)
		if err := t.exch.CancelAsset(ctx, token); err != nil {
			t.log.Error("cancel asset", "token", token, "err", err)
		}
		return
	}

	switch {
	case bestBid.GreaterThan(orders.Buy.Price):
		t.log.Info("re-quoting buy, better price available", "token", token, "best_bid", bestBid, "resting", orders.Buy.Price)
		t.sendBuy(ctx, row, token, bid, size, mid, orders)
	case position.Add(orders.Buy.Size).LessThan(effectiveMaxSize(row).Mul(underQuotedFrac)):
		t.log.Info("re-quoting buy, under-quoted", "token", token, "position", position, "resting_size", orders.Buy.Size)
		t.sendBuy(ctx, row, token, bid, size, mid, orders)
	case orders.Buy.Size.GreaterThan(size.Mul(overQuotedFrac)):
		t.log.Info("re-quoting buy, resting order too large", "token", token, "resting_size", orders.Buy.Size, "target", size)
		t.sendBuy(ctx, row, token, bid, size, mid, orders)
	}
}

// quoteTakeProfit parks the exit at the greater of the quoted ask and the
// take-profit price above the average entry, replacing the resting sell only
// when it has drifted or no longer covers the position.
func (t *Trader) quoteTakeProfit(ctx context.Context, row state.MarketRow, params state.ParamSet, token string, ask, size, avgPrice, position decimal.Decimal, tickDec int32, orders state.TokenOrders) {
	tpFactor := one.Add(decimal.NewFromFloat(params.TakeProfitThreshold).Div(hundred))
	tp := avgPrice.Mul(tpFactor).RoundCeil(tickDec)

	price := ask
	if price.LessThan(tp) {
		price = tp
	}
	price = price.RoundCeil(tickDec)

	driftPct := orders.Sell.Price.Sub(tp).Abs().Div(tp).Mul(hundred)
	switch {
	case driftPct.GreaterThan(takeProfitDriftPct):
		t.log.Info("re-quoting sell, off take-profit target",
			"token", token, "resting", orders.Sell.Price, "target", tp, "drift_pct", driftPct)
		t.sendSell(ctx, row, token, price, size, orders)
	case orders.Sell.Size.LessThan(position.Mul(sellCoverageFrac)):
		t.log.Info("re-quoting sell, position under-covered",
			"token", token, "position", position, "resting_size", orders.Sell.Size)
		t.sendSell(ctx, row, token, price, size, orders)
	}
}

// sendBuy replaces the resting bid with a new one, unless the existing order
// is already close enough to the target. New bids must sit inside the
// incentive band around the mid and inside the absolute price range.
func (t *Trader) sendBuy(ctx context.Context, row state.MarketRow, token string, price, size, mid decimal.Decimal, orders state.TokenOrders) {
	existing := orders.Buy
	if existing.Size.Sign() > 0 {
		priceDiff := existing.Price.Sub(price).Abs()
		sizeDiff := existing.Size.Sub(size).Abs()
		if !priceDiff.GreaterThan(replacePriceTol) && !sizeDiff.GreaterThan(size.Mul(replaceSizeFrac)) {
			t.log.Info("keeping resting buy", "token", token, "price_diff", priceDiff, "size_diff", sizeDiff)
			return
		}
	}

	if existing.Size.Sign() > 0 || orders.Sell.Size.Sign() > 0 {
		if err := t.exch.CancelAsset(ctx, token); err != nil {
			t.log.Error("cancel before re-quote", "token", token, "err", err)
			return
		}
	}

	// Orders outside the market's reward band earn nothing; don't post them.
	incentiveFloor := mid.Sub(row.MaxSpread.Div(hundred))
	if price.LessThan(incentiveFloor) {
		t.log.Info("bid below incentive band, not posting", "token", token, "price", price, "floor", incentiveFloor)
		return
	}
	if price.LessThan(minBidPrice) || price.GreaterThanOrEqual(maxBidPrice) {
		t.log.Info("bid outside acceptable range, not posting", "token", token, "price", price)
		return
	}

	if _, err := t.exch.CreateOrder(ctx, token, types.BUY, price, size, row.TickDecimals(), row.NegRisk); err != nil {
		t.log.Error("create buy order", "token", token, "err", err)
	}
}

// sendSell replaces the resting sell, with the same keep-if-close rule as
// sendBuy but no price gates: exits always go out.
func (t *Trader) sendSell(ctx context.Context, row state.MarketRow, token string, price, size decimal.Decimal, orders state.TokenOrders) {
	existing := orders.Sell
	if existing.Size.Sign() > 0 {
		priceDiff := existing.Price.Sub(price).Abs()
		sizeDiff := existing.Size.Sub(size).Abs()
		if !priceDiff.GreaterThan(replacePriceTol) && !sizeDiff.GreaterThan(size.Mul(replaceSizeFrac)) {
			t.log.Info("keeping resting sell", "token", token, "price_diff", priceDiff, "size_diff", sizeDiff)
			return
		}
	}

	if existing.Size.Sign() > 0 || orders.Buy.Size.Sign() > 0 {
		if err := t.exch.CancelAsset(ctx, token); err != nil {
			t.log.Error("cancel before re-quote", "token", token, "err", err)
			return
		}
	}

	if _, err := t.exch.CreateOrder(ctx, token, types.SELL, price, size, row.TickDecimals(), row.NegRisk); err != nil {
		t.log.Error("create sell order", "token", token, "err", err)
	}
}
