package strategy

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tzf1003/poly-maker-rewords/internal/state"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func quoteRow(t *testing.T) state.MarketRow {
	t.Helper()
	return state.MarketRow{
		TickSize:  dec(t, "0.01"),
		MinSize:   dec(t, "20"),
		TradeSize: dec(t, "50"),
		MaxSize:   dec(t, "100"),
	}
}

func TestOrderPricesImprovesTouch(t *testing.T) {
	t.Parallel()
	row := quoteRow(t)

	bid, ask := orderPrices(
		dec(t, "0.50"), dec(t, "200"), dec(t, "0.50"),
		dec(t, "0.53"), dec(t, "500"), dec(t, "0.53"),
		decimal.Zero, row)

	if !bid.Equal(dec(t, "0.51")) {
		t.Errorf("bid = %s, want 0.51", bid)
	}
	if !ask.Equal(dec(t, "0.52")) {
		t.Errorf("ask = %s, want 0.52", ask)
	}
}

func TestOrderPricesJoinsThinBid(t *testing.T) {
	t.Parallel()
	row := quoteRow(t)

	// 10 shares at the touch is under 1.5x min size: join, don't improve.
	bid, _ := orderPrices(
		dec(t, "0.42"), dec(t, "10"), dec(t, "0.42"),
		dec(t, "0.48"), dec(t, "500"), dec(t, "0.48"),
		decimal.Zero, row)

	if !bid.Equal(dec(t, "0.42")) {
		t.Errorf("bid = %s, want to join thin level at 0.42", bid)
	}
}

func TestOrderPricesJoinsThinAsk(t *testing.T) {
	t.Parallel()
	row := quoteRow(t)

	// The ask side joins below 375 shares regardless of min size.
	_, ask := orderPrices(
		dec(t, "0.42"), dec(t, "500"), dec(t, "0.42"),
		dec(t, "0.48"), dec(t, "300"), dec(t, "0.48"),
		decimal.Zero, row)

	if !ask.Equal(dec(t, "0.48")) {
		t.Errorf("ask = %s, want to join thin level at 0.48", ask)
	}
}

func TestOrderPricesCrossResetsToTops(t *testing.T) {
	t.Parallel()
	row := quoteRow(t)

	// One tick of improvement on a one-tick market would cross.
	bid, ask := orderPrices(
		dec(t, "0.50"), dec(t, "500"), dec(t, "0.50"),
		dec(t, "0.51"), dec(t, "500"), dec(t, "0.51"),
		decimal.Zero, row)

	if !bid.Equal(dec(t, "0.50")) {
		t.Errorf("bid = %s, want reset to top bid 0.50", bid)
	}
	if !ask.Equal(dec(t, "0.51")) {
		t.Errorf("ask = %s, want reset to top ask 0.51", ask)
	}
}

func TestOrderPricesCollapseResetsToTops(t *testing.T) {
	t.Parallel()
	row := quoteRow(t)

	// Improving both sides of a two-tick market lands bid and ask on the
	// same price; both reset to the tops.
	bid, ask := orderPrices(
		dec(t, "0.50"), dec(t, "500"), dec(t, "0.50"),
		dec(t, "0.52"), dec(t, "500"), dec(t, "0.52"),
		decimal.Zero, row)

	if !bid.Equal(dec(t, "0.50")) || !ask.Equal(dec(t, "0.52")) {
		t.Errorf("bid, ask = %s, %s, want tops 0.50, 0.52", bid, ask)
	}
}

func TestOrderPricesAskNeverBelowEntry(t *testing.T) {
	t.Parallel()
	row := quoteRow(t)

	_, ask := orderPrices(
		dec(t, "0.50"), dec(t, "500"), dec(t, "0.50"),
		dec(t, "0.53"), dec(t, "500"), dec(t, "0.53"),
		dec(t, "0.55"), row)

	if !ask.Equal(dec(t, "0.55")) {
		t.Errorf("ask = %s, want floor at avg price 0.55", ask)
	}
}

func TestBuySellAmountBuildingPosition(t *testing.T) {
	t.Parallel()
	row := quoteRow(t)
	bid := dec(t, "0.50")

	buy, sell := buySellAmount(decimal.Zero, bid, row, decimal.Zero)
	if !buy.Equal(dec(t, "50")) || !sell.IsZero() {
		t.Errorf("flat: buy, sell = %s, %s, want 50, 0", buy, sell)
	}

	// Partway in: bid only the room left, offer one trade for the exit.
	buy, sell = buySellAmount(dec(t, "60"), bid, row, decimal.Zero)
	if !buy.Equal(dec(t, "40")) {
		t.Errorf("buy = %s, want clipped to remaining room 40", buy)
	}
	if !sell.Equal(dec(t, "50")) {
		t.Errorf("sell = %s, want 50", sell)
	}
}

func TestBuySellAmountAtCap(t *testing.T) {
	t.Parallel()
	row := quoteRow(t)
	bid := dec(t, "0.50")

	buy, sell := buySellAmount(dec(t, "100"), bid, row, decimal.Zero)
	if !sell.Equal(dec(t, "50")) {
		t.Errorf("sell = %s, want 50", sell)
	}
	if !buy.Equal(dec(t, "50")) {
		t.Errorf("buy = %s, want 50 while total exposure under 2x cap", buy)
	}

	// Both outcomes loaded up: stop adding exposure.
	buy, _ = buySellAmount(dec(t, "100"), bid, row, dec(t, "120"))
	if !buy.IsZero() {
		t.Errorf("buy = %s, want 0 at 2x cap exposure", buy)
	}
}

func TestBuySellAmountMinSizeBump(t *testing.T) {
	t.Parallel()
	row := quoteRow(t)
	row.TradeSize = dec(t, "18") // between 0.7x and 1x of min size 20

	buy, _ := buySellAmount(decimal.Zero, dec(t, "0.50"), row, decimal.Zero)
	if !buy.Equal(dec(t, "20")) {
		t.Errorf("buy = %s, want bumped to min size 20", buy)
	}
}

func TestBuySellAmountLowPriceMultiplier(t *testing.T) {
	t.Parallel()
	row := quoteRow(t)
	row.Multiplier = 3

	buy, _ := buySellAmount(decimal.Zero, dec(t, "0.05"), row, decimal.Zero)
	if !buy.Equal(dec(t, "150")) {
		t.Errorf("buy = %s, want 150 with multiplier on sub-0.10 token", buy)
	}

	// Multiplier only applies below the band.
	buy, _ = buySellAmount(decimal.Zero, dec(t, "0.50"), row, decimal.Zero)
	if !buy.Equal(dec(t, "50")) {
		t.Errorf("buy = %s, want unmultiplied 50", buy)
	}
}

func TestEffectiveMaxSizeFallsBackToTradeSize(t *testing.T) {
	t.Parallel()
	row := quoteRow(t)
	row.MaxSize = decimal.Zero

	if got := effectiveMaxSize(row); !got.Equal(row.TradeSize) {
		t.Errorf("effectiveMaxSize = %s, want trade size %s", got, row.TradeSize)
	}
}
