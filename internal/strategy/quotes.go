// Package strategy implements the two-sided quoting logic: where to place
// the bid and ask around the touch, how much to quote given current
// inventory, and the risk rules (stop-loss, take-profit, merge) that manage
// the position once filled.
package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/tzf1003/poly-maker-rewords/internal/state"
)

var (
	one     = decimal.NewFromInt(1)
	two     = decimal.NewFromInt(2)
	hundred = decimal.NewFromInt(100)

	// Filter sizes for reading the book: levels at or below the filter are
	// treated as dust when locating the touch. The tight read uses 100
	// shares; if that leaves a side empty the pass falls back to 20.
	depthFilterSize    = decimal.NewFromInt(100)
	fallbackFilterSize = decimal.NewFromInt(20)
	depthDeviation     = decimal.NewFromFloat(0.1)

	// thinAskLevel is the resting-size threshold on the ask side below which
	// we join the level instead of improving it. Deliberately a fixed share
	// count, unlike the bid side which scales with the market's min size.
	thinAskLevel = decimal.NewFromInt(250)

	thinLevelFactor = decimal.NewFromFloat(1.5)
	minSizeBumpFrac = decimal.NewFromFloat(0.7)
	lowPriceBand    = decimal.NewFromFloat(0.1)
)

// orderPrices derives the target bid and ask from the size-filtered book.
//
// Start one tick inside the touch, then back off: join thin levels rather
// than improving them, reset to the unfiltered tops when the improved quotes
// would cross or collapse, and never offer below the average entry price
// while carrying a position.
func orderPrices(bestBid, bestBidSize, topBid, bestAsk, bestAskSize, topAsk, avgPrice decimal.Decimal, row state.MarketRow) (bid, ask decimal.Decimal) {
	bid = bestBid.Add(row.TickSize)
	ask = bestAsk.Sub(row.TickSize)

	if bestBidSize.LessThan(row.MinSize.Mul(thinLevelFactor)) {
		bid = bestBid
	}
	if bestAskSize.LessThan(thinAskLevel.Mul(thinLevelFactor)) {
		ask = bestAsk
	}

	if bid.GreaterThanOrEqual(topAsk) {
		bid = topBid
	}
	if ask.LessThanOrEqual(topBid) {
		ask = topAsk
	}
	if bid.Equal(ask) {
		bid = topBid
		ask = topAsk
	}

	// Hibernate on the position: never quote the exit below cost, even when
	// the market has moved against us. The stop-loss handles forced exits.
	if ask.LessThanOrEqual(avgPrice) && avgPrice.Sign() > 0 {
		ask = avgPrice
	}
	return bid, ask
}

// effectiveMaxSize returns the position cap, falling back to the per-order
// trade size when the sheet leaves max_size blank.
func effectiveMaxSize(row state.MarketRow) decimal.Decimal {
	if row.MaxSize.Sign() > 0 {
		return row.MaxSize
	}
	return row.TradeSize
}

// buySellAmount sizes both quotes from the current inventory.
//
// Below the cap we bid the trade size (clipped to the remaining room) and
// offer the trade size once the position is at least one trade deep. At the
// cap we keep offering, and keep bidding only while the combined YES+NO
// exposure stays under twice the cap. A buy just under the venue minimum is
// bumped up to it, and sub-0.10 tokens get the sheet's multiplier so the
// quote is worth posting at all.
func buySellAmount(position, bidPrice decimal.Decimal, row state.MarketRow, otherPosition decimal.Decimal) (buy, sell decimal.Decimal) {
	maxSize := effectiveMaxSize(row)
	trade := row.TradeSize
	totalExposure := position.Add(otherPosition)

	if position.LessThan(maxSize) {
		buy = decimal.Min(trade, maxSize.Sub(position))
		if position.GreaterThanOrEqual(trade) {
			sell = decimal.Min(position, trade)
		}
	} else {
		sell = decimal.Min(position, trade)
		if totalExposure.LessThan(maxSize.Mul(two)) {
			buy = trade
		}
	}

	if buy.GreaterThan(row.MinSize.Mul(minSizeBumpFrac)) && buy.LessThan(row.MinSize) {
		buy = row.MinSize
	}

	if bidPrice.LessThan(lowPriceBand) && buy.Sign() > 0 && row.Multiplier > 0 {
		buy = buy.Mul(decimal.NewFromInt(row.Multiplier))
	}
	return buy, sell
}
