package ingestion_test

import (
	"encoding/json"
	"testing"

	"PerpScope/internal/event"
	"PerpScope/internal/ingestion"
)

func envelopeBytes(t *testing.T, eventType string, payload interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{
		"block_number": uint64(1234),
		"tx_hash":      "0xdeadbeef",
		"log_index":    uint32(2),
		"timestamp":    int64(1700000000),
		"event_type":   eventType,
		"payload":      payload,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestParseEnvelope_TradeExecuted(t *testing.T) {
	data := envelopeBytes(t, "TradeExecuted", map[string]interface{}{
		"buyer":         "0xaaa",
		"seller":        "0xbbb",
		"buy_order_id":  uint64(7),
		"sell_order_id": uint64(9),
		"price":         int64(50_000_00),
		"amount":        int64(1_000_000),
	})

	env, err := ingestion.ParseEnvelope(data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if env.Key() != "0xdeadbeef-2" {
		t.Errorf("key: got %s, want 0xdeadbeef-2", env.Key())
	}
	if env.BlockNumber != 1234 {
		t.Errorf("block: got %d, want 1234", env.BlockNumber)
	}

	trade, ok := env.Payload.(*event.TradeExecuted)
	if !ok {
		t.Fatalf("expected *event.TradeExecuted, got %T", env.Payload)
	}
	if trade.Buyer != "0xaaa" || trade.Seller != "0xbbb" {
		t.Errorf("counterparties: %s / %s", trade.Buyer, trade.Seller)
	}
	if trade.Price != 50_000_00 || trade.Amount != 1_000_000 {
		t.Errorf("price/amount: %d / %d", trade.Price, trade.Amount)
	}
}

func TestParseEnvelope_OrderPlaced(t *testing.T) {
	data := envelopeBytes(t, "OrderPlaced", map[string]interface{}{
		"order_id": uint64(42),
		"trader":   "0xabc",
		"is_buy":   true,
		"price":    int64(49_990_00),
		"amount":   int64(500_000),
	})

	env, err := ingestion.ParseEnvelope(data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	placed, ok := env.Payload.(*event.OrderPlaced)
	if !ok {
		t.Fatalf("expected *event.OrderPlaced, got %T", env.Payload)
	}
	if placed.OrderID != 42 || !placed.IsBuy {
		t.Errorf("unexpected payload: %+v", placed)
	}
}

func TestParseEnvelope_OrderRemovedFilledVsCancelled(t *testing.T) {
	data := envelopeBytes(t, "OrderRemoved", map[string]interface{}{
		"order_id":         uint64(42),
		"trader":           "0xabc",
		"remaining_amount": int64(0),
	})

	env, err := ingestion.ParseEnvelope(data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	removed := env.Payload.(*event.OrderRemoved)
	if removed.RemainingAmount != 0 {
		t.Errorf("expected zero remaining, got %d", removed.RemainingAmount)
	}
}

func TestParseEnvelope_PositionUpdatedSignedSize(t *testing.T) {
	data := envelopeBytes(t, "PositionUpdated", map[string]interface{}{
		"trader":      "0xabc",
		"size":        int64(-2_000_000),
		"entry_price": int64(50_000_00),
	})

	env, err := ingestion.ParseEnvelope(data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	pos := env.Payload.(*event.PositionUpdated)
	if pos.Size != -2_000_000 {
		t.Errorf("short size must survive the wire, got %d", pos.Size)
	}
}

func TestParseEnvelope_FundingPaidNegativeAmount(t *testing.T) {
	data := envelopeBytes(t, "FundingPaid", map[string]interface{}{
		"trader": "0xabc",
		"amount": int64(-1_500),
		"rate":   int64(10_000),
	})

	env, err := ingestion.ParseEnvelope(data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	paid := env.Payload.(*event.FundingPaid)
	if paid.Amount != -1_500 {
		t.Errorf("expected negative amount preserved, got %d", paid.Amount)
	}
}

func TestParseEnvelope_UnknownType(t *testing.T) {
	data := envelopeBytes(t, "SomethingElse", map[string]interface{}{})
	if _, err := ingestion.ParseEnvelope(data); err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func TestParseEnvelope_MissingTxHash(t *testing.T) {
	data, _ := json.Marshal(map[string]interface{}{
		"block_number": uint64(1),
		"log_index":    uint32(0),
		"event_type":   "MarginDeposited",
		"payload":      map[string]interface{}{"trader": "0xabc", "amount": int64(1)},
	})
	if _, err := ingestion.ParseEnvelope(data); err == nil {
		t.Fatal("expected error for missing tx_hash")
	}
}

func TestParseEnvelope_MissingTrader(t *testing.T) {
	data := envelopeBytes(t, "MarginDeposited", map[string]interface{}{
		"amount": int64(1_000_000),
	})
	if _, err := ingestion.ParseEnvelope(data); err == nil {
		t.Fatal("expected error for missing trader")
	}
}
