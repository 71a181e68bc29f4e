package book

import (
	"math"
	"sort"

	"PerpScope/internal/ledger"
)

// Level is one aggregated price level of the book.
type Level struct {
	Price int64 `json:"price"`
	Size  int64 `json:"size"`
	Total int64 `json:"total"`
	Depth int64 `json:"depth"`
}

// Book is a projected two-sided order book. Bids are sorted best (highest
// price) first, asks best (lowest price) first.
type Book struct {
	Bids []Level `json:"bids"`
	Asks []Level `json:"asks"`
}

// Project aggregates raw orders into per-price levels for one side.
// Orders on the wrong side or with no remaining amount are dropped.
func Project(orders []ledger.Order, isBuy bool) []Level {
	sizeByPrice := make(map[int64]int64)
	for _, order := range orders {
		if order.IsBuy != isBuy || order.Amount <= 0 {
			continue
		}
		sizeByPrice[order.Price] += order.Amount
	}

	levels := make([]Level, 0, len(sizeByPrice))
	for price, size := range sizeByPrice {
		levels = append(levels, Level{Price: price, Size: size})
	}
	sort.Slice(levels, func(i, j int) bool {
		if isBuy {
			return levels[i].Price > levels[j].Price
		}
		return levels[i].Price < levels[j].Price
	})

	var total int64
	for i := range levels {
		total += levels[i].Size
		levels[i].Total = total
	}
	fillDepth(levels)
	return levels
}

// fillDepth assigns each level a 0-100 display weight proportional to
// its cumulative total against the side's maximum.
func fillDepth(levels []Level) {
	if len(levels) == 0 {
		return
	}
	maxTotal := levels[len(levels)-1].Total
	if maxTotal <= 0 {
		return
	}
	for i := range levels {
		pct := float64(levels[i].Total) / float64(maxTotal) * 100
		levels[i].Depth = int64(math.Round(math.Min(100, pct)))
	}
}

// BuildBook projects both sides from already-merged order sets.
func BuildBook(buys, sells []ledger.Order) Book {
	return Book{
		Bids: Project(buys, true),
		Asks: Project(sells, false),
	}
}

// BestBid returns the top bid price, or 0 when the side is empty.
func (b Book) BestBid() int64 {
	if len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price
}

// BestAsk returns the top ask price, or 0 when the side is empty.
func (b Book) BestAsk() int64 {
	if len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price
}

// MidPrice returns the midpoint of the spread, or 0 when either side is
// empty.
func (b Book) MidPrice() int64 {
	bid, ask := b.BestBid(), b.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return (bid + ask) / 2
}
