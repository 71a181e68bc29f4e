package book

import (
	"testing"

	"PerpScope/internal/ledger"
)

func TestProject_FiltersSideAndEmptyOrders(t *testing.T) {
	orders := []ledger.Order{
		{ID: 1, IsBuy: true, Price: 10000, Amount: 2_000_000},
		{ID: 2, IsBuy: true, Price: 10000, Amount: 0}, // fully filled, must drop
		{ID: 3, IsBuy: false, Price: 10100, Amount: 1_000_000},
	}

	bids := Project(orders, true)
	if len(bids) != 1 {
		t.Fatalf("expected 1 bid level, got %d", len(bids))
	}
	if bids[0].Size != 2_000_000 {
		t.Errorf("expected size 2000000, got %d", bids[0].Size)
	}
}

func TestProject_AggregatesByPrice(t *testing.T) {
	orders := []ledger.Order{
		{ID: 1, IsBuy: true, Price: 10000, Amount: 1_000_000},
		{ID: 2, IsBuy: true, Price: 10000, Amount: 2_000_000},
		{ID: 3, IsBuy: true, Price: 9900, Amount: 500_000},
	}

	bids := Project(orders, true)
	if len(bids) != 2 {
		t.Fatalf("expected 2 levels, got %d", len(bids))
	}
	if bids[0].Price != 10000 || bids[0].Size != 3_000_000 {
		t.Errorf("top level wrong: %+v", bids[0])
	}
	if bids[1].Price != 9900 {
		t.Errorf("expected bids sorted high to low, got second price %d", bids[1].Price)
	}
}

func TestProject_AsksSortedLowToHigh(t *testing.T) {
	orders := []ledger.Order{
		{ID: 1, IsBuy: false, Price: 10200, Amount: 1_000_000},
		{ID: 2, IsBuy: false, Price: 10100, Amount: 1_000_000},
	}

	asks := Project(orders, false)
	if asks[0].Price != 10100 || asks[1].Price != 10200 {
		t.Errorf("asks not sorted low to high: %d, %d", asks[0].Price, asks[1].Price)
	}
}

func TestProject_CumulativeTotalsAndDepth(t *testing.T) {
	orders := []ledger.Order{
		{ID: 1, IsBuy: true, Price: 10000, Amount: 1_000_000},
		{ID: 2, IsBuy: true, Price: 9900, Amount: 3_000_000},
	}

	bids := Project(orders, true)
	if bids[0].Total != 1_000_000 || bids[1].Total != 4_000_000 {
		t.Fatalf("cumulative totals wrong: %d, %d", bids[0].Total, bids[1].Total)
	}
	if bids[0].Depth != 25 {
		t.Errorf("expected depth 25 at top level, got %d", bids[0].Depth)
	}
	if bids[1].Depth != 100 {
		t.Errorf("expected depth 100 at deepest level, got %d", bids[1].Depth)
	}
}

func TestProject_EmptySide(t *testing.T) {
	levels := Project(nil, true)
	if len(levels) != 0 {
		t.Errorf("expected no levels, got %d", len(levels))
	}
}

func TestBook_MidPrice(t *testing.T) {
	b := BuildBook(
		[]ledger.Order{{ID: 1, IsBuy: true, Price: 10000, Amount: 1}},
		[]ledger.Order{{ID: 2, IsBuy: false, Price: 10100, Amount: 1}},
	)
	if mid := b.MidPrice(); mid != 10050 {
		t.Errorf("expected mid 10050, got %d", mid)
	}
}

func TestBook_MidPriceEmptySide(t *testing.T) {
	b := BuildBook([]ledger.Order{{ID: 1, IsBuy: true, Price: 10000, Amount: 1}}, nil)
	if mid := b.MidPrice(); mid != 0 {
		t.Errorf("expected mid 0 with empty ask side, got %d", mid)
	}
}
