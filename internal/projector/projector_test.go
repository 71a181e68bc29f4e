package projector

import (
	"testing"

	"github.com/rs/zerolog"

	"PerpScope/internal/event"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func newTestProjector(t *testing.T) (*Projector, chan Output) {
	t.Helper()
	persist := make(chan Output, 64)
	publish := make(chan Output, 64)
	p := NewProjector(NewDedup(128, nil), persist, publish, nil, testLogger())
	return p, persist
}

func envelope(block uint64, txHash string, logIndex uint32, ts int64, payload event.Event) *event.Envelope {
	return &event.Envelope{
		BlockNumber: block,
		TxHash:      txHash,
		LogIndex:    logIndex,
		Timestamp:   ts,
		EventType:   payload.Type(),
		Payload:     payload,
	}
}

func TestProcessEnvelope_DuplicateSkipped(t *testing.T) {
	p, persist := newTestProjector(t)
	env := envelope(10, "0xaa", 0, 1000, &event.MarginDeposited{Trader: "0x1", Amount: 100})

	out, err := p.ProcessEnvelope(env)
	if err != nil || out == nil {
		t.Fatalf("first apply failed: out=%v err=%v", out, err)
	}

	out, err = p.ProcessEnvelope(env)
	if err != nil {
		t.Fatalf("duplicate apply errored: %v", err)
	}
	if out != nil {
		t.Fatal("duplicate must produce no output")
	}
	if len(persist) != 1 {
		t.Errorf("expected 1 persisted output, got %d", len(persist))
	}
}

func TestProcessEnvelope_SameBlockDifferentLogs(t *testing.T) {
	p, _ := newTestProjector(t)

	if out, _ := p.ProcessEnvelope(envelope(10, "0xaa", 0, 1000, &event.MarginDeposited{Trader: "0x1", Amount: 100})); out == nil {
		t.Fatal("log 0 should apply")
	}
	if out, _ := p.ProcessEnvelope(envelope(10, "0xaa", 1, 1000, &event.MarginDeposited{Trader: "0x1", Amount: 200})); out == nil {
		t.Fatal("log 1 of the same tx is a distinct event")
	}
}

func TestProcessEnvelope_TradeFoldsBothSides(t *testing.T) {
	p, _ := newTestProjector(t)
	env := envelope(10, "0xaa", 0, 1000, &event.TradeExecuted{
		Buyer:  "0xbuyer",
		Seller: "0xseller",
		Price:  10000,
		Amount: 2_000_000,
	})

	out, err := p.ProcessEnvelope(env)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Trades) != 1 {
		t.Fatalf("expected 1 trade row, got %d", len(out.Trades))
	}
	if len(out.Positions) != 2 {
		t.Fatalf("expected both counterparties' positions, got %d", len(out.Positions))
	}
	if len(out.Candles) == 0 {
		t.Error("trade must touch candles")
	}

	long := p.Positions().Get("0xbuyer")
	short := p.Positions().Get("0xseller")
	if long.Size != 2_000_000 || short.Size != -2_000_000 {
		t.Errorf("sizes: buyer %d, seller %d", long.Size, short.Size)
	}
}

func TestProcessEnvelope_OrderLifecycleFilledByFills(t *testing.T) {
	p, _ := newTestProjector(t)

	p.ProcessEnvelope(envelope(10, "0xaa", 0, 1000, &event.OrderPlaced{
		OrderID: 7, Trader: "0xmaker", IsBuy: true, Price: 10000, Amount: 2_000_000,
	}))

	out, err := p.ProcessEnvelope(envelope(11, "0xbb", 0, 1001, &event.TradeExecuted{
		Buyer: "0xmaker", Seller: "0xtaker", BuyOrderID: 7, Price: 10000, Amount: 2_000_000,
	}))
	if err != nil {
		t.Fatal(err)
	}

	var orderRow *OrderRow
	for i := range out.Orders {
		if out.Orders[i].OrderID == 7 {
			orderRow = &out.Orders[i]
		}
	}
	if orderRow == nil {
		t.Fatal("expected order 7 in trade output")
	}
	if orderRow.Status != OrderStatusFilled || orderRow.Amount != 0 {
		t.Errorf("drained order must be FILLED with 0 remaining, got %s/%d", orderRow.Status, orderRow.Amount)
	}
}

func TestProcessEnvelope_OrderRemovedStatusAgreement(t *testing.T) {
	p, _ := newTestProjector(t)

	p.ProcessEnvelope(envelope(10, "0xaa", 0, 1000, &event.OrderPlaced{
		OrderID: 7, Trader: "0xmaker", IsBuy: true, Price: 10000, Amount: 2_000_000,
	}))
	out, _ := p.ProcessEnvelope(envelope(11, "0xbb", 0, 1001, &event.OrderRemoved{
		OrderID: 7, Trader: "0xmaker", RemainingAmount: 500_000,
	}))
	if out.Orders[0].Status != OrderStatusCancelled {
		t.Errorf("removal with remainder is a cancel, got %s", out.Orders[0].Status)
	}

	p.ProcessEnvelope(envelope(12, "0xcc", 0, 1002, &event.OrderPlaced{
		OrderID: 8, Trader: "0xmaker", IsBuy: false, Price: 10100, Amount: 1_000_000,
	}))
	out, _ = p.ProcessEnvelope(envelope(13, "0xdd", 0, 1003, &event.OrderRemoved{
		OrderID: 8, Trader: "0xmaker", RemainingAmount: 0,
	}))
	if out.Orders[0].Status != OrderStatusFilled {
		t.Errorf("removal with nothing left is a fill, got %s", out.Orders[0].Status)
	}
}

func TestProcessEnvelope_PositionUpdatedAuthoritative(t *testing.T) {
	p, _ := newTestProjector(t)

	p.ProcessEnvelope(envelope(10, "0xaa", 0, 1000, &event.TradeExecuted{
		Buyer: "0x1", Seller: "0x2", Price: 10000, Amount: 1_000_000,
	}))
	p.ProcessEnvelope(envelope(10, "0xaa", 1, 1000, &event.PositionUpdated{
		Trader: "0x1", Size: 5_000_000, EntryPrice: 9900,
	}))

	pos := p.Positions().Get("0x1")
	if pos.Size != 5_000_000 || pos.AvgEntryPrice != 9900 {
		t.Errorf("snapshot must override derived state: %+v", pos)
	}
}

func TestProcessEnvelope_WatermarkMonotonic(t *testing.T) {
	p, _ := newTestProjector(t)

	out, _ := p.ProcessEnvelope(envelope(20, "0xaa", 0, 1000, &event.MarginDeposited{Trader: "0x1", Amount: 1}))
	if out.Watermark != 20 {
		t.Errorf("watermark: got %d, want 20", out.Watermark)
	}

	// A replayed lower block never lowers the watermark.
	out, _ = p.ProcessEnvelope(envelope(15, "0xbb", 0, 990, &event.MarginDeposited{Trader: "0x1", Amount: 1}))
	if out.Watermark != 20 {
		t.Errorf("watermark must not regress: got %d", out.Watermark)
	}
}

func TestProcessEnvelope_FundingRows(t *testing.T) {
	p, _ := newTestProjector(t)

	out, _ := p.ProcessEnvelope(envelope(10, "0xaa", 0, 1000, &event.FundingUpdated{
		Rate: 10_000, MarkPrice: 10050, IndexPrice: 10000,
	}))
	if len(out.Funding) != 1 || out.Funding[0].Rate != 10_000 {
		t.Fatalf("expected funding row, got %+v", out.Funding)
	}

	out, _ = p.ProcessEnvelope(envelope(10, "0xaa", 1, 1000, &event.FundingPaid{
		Trader: "0x1", Amount: -2_500, Rate: 10_000,
	}))
	if len(out.MarginEvents) != 1 || out.MarginEvents[0].Kind != MarginKindFunding {
		t.Fatalf("funding payment should land in margin events, got %+v", out.MarginEvents)
	}
}

func TestProcessEnvelope_LiquidationFoldsPosition(t *testing.T) {
	p, _ := newTestProjector(t)

	// Long 2.0 @ 100.00 via a chain snapshot.
	p.ProcessEnvelope(envelope(10, "0xaa", 0, 1000, &event.PositionUpdated{
		Trader: "0x1", Size: 2_000_000, EntryPrice: 10_000,
	}))

	out, err := p.ProcessEnvelope(envelope(11, "0xbb", 0, 1001, &event.Liquidated{
		Trader: "0x1", Liquidator: "0xkeeper", Amount: 2_000_000, Price: 9_000,
	}))
	if err != nil {
		t.Fatalf("apply liquidation: %v", err)
	}
	if len(out.Liquidations) != 1 {
		t.Fatalf("expected liquidation row, got %+v", out.Liquidations)
	}

	pos := p.Positions().Get("0x1")
	if pos == nil || !pos.IsFlat() {
		t.Fatalf("full liquidation must flatten the position: %+v", pos)
	}
	if pos.AvgEntryPrice != 0 {
		t.Errorf("flat position keeps entry price %d", pos.AvgEntryPrice)
	}
	if len(out.Positions) != 1 {
		t.Errorf("flattened position must be persisted, got %+v", out.Positions)
	}
}
