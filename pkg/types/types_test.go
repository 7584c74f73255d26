package types

import (
	"encoding/json"
	"testing"
)

func TestSideOpposite(t *testing.T) {
	t.Parallel()

	if got := BUY.Opposite(); got != SELL {
		t.Errorf("BUY.Opposite() = %v, want SELL", got)
	}
	if got := SELL.Opposite(); got != BUY {
		t.Errorf("SELL.Opposite() = %v, want BUY", got)
	}
}

func TestSignedOrderJSONShape(t *testing.T) {
	t.Parallel()

	order := SignedOrder{
		Salt:          "12345",
		Maker:         "0x1111111111111111111111111111111111111111",
		Signer:        "0x2222222222222222222222222222222222222222",
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       "987",
		Side:          BUY,
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		SignatureType: SigGnosisSafe,
		Signature:     "0xabc",
	}

	data, err := json.Marshal(order)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	// The CLOB expects the exact wire names, with side as a string and the
	// signature type as a number.
	if m["side"] != "BUY" {
		t.Errorf("side = %v, want \"BUY\"", m["side"])
	}
	if m["signatureType"] != float64(2) {
		t.Errorf("signatureType = %v, want 2", m["signatureType"])
	}
	for _, key := range []string{"salt", "maker", "signer", "taker", "tokenId", "makerAmount", "takerAmount", "expiration", "nonce", "feeRateBps", "signature"} {
		if _, ok := m[key]; !ok {
			t.Errorf("missing field %q in order JSON", key)
		}
	}
}

func TestTradeEventUnmarshal(t *testing.T) {
	t.Parallel()

	raw := `{
		"event_type": "trade",
		"id": "trade-1",
		"market": "0xcond",
		"asset_id": "123",
		"side": "BUY",
		"size": "40",
		"price": "0.55",
		"status": "MATCHED",
		"outcome": "Yes",
		"maker_orders": [
			{"maker_address": "0xabc", "matched_amount": "15", "price": "0.54", "outcome": "No"}
		]
	}`

	var evt WSTradeEvent
	if err := json.Unmarshal([]byte(raw), &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.ID != "trade-1" || evt.Market != "0xcond" || TradeStatus(evt.Status) != TradeMatched {
		t.Errorf("envelope fields = %+v", evt)
	}
	if len(evt.MakerOrders) != 1 || evt.MakerOrders[0].MatchedAmount != "15" {
		t.Errorf("maker orders = %+v", evt.MakerOrders)
	}
}

func TestPriceChangeEventUnmarshal(t *testing.T) {
	t.Parallel()

	raw := `{
		"event_type": "price_change",
		"market": "0xcond",
		"asset_id": "123",
		"price_changes": [
			{"asset_id": "123", "price": "0.55", "size": "0", "side": "SELL"}
		]
	}`

	var evt WSPriceChangeEvent
	if err := json.Unmarshal([]byte(raw), &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(evt.PriceChanges) != 1 {
		t.Fatalf("price changes = %+v", evt.PriceChanges)
	}
	// Size "0" is a level removal; the string must survive as-is for the
	// book store to parse.
	if evt.PriceChanges[0].Size != "0" || evt.PriceChanges[0].Side != "SELL" {
		t.Errorf("change = %+v", evt.PriceChanges[0])
	}
}
