package query

import (
	"time"

	"PerpScope/internal/book"
)

// OrderBookResponse is the reconstructed live book plus freshness.
type OrderBookResponse struct {
	Bids        []book.Level `json:"bids"`
	Asks        []book.Level `json:"asks"`
	MarkPrice   int64        `json:"mark_price"`
	IndexPrice  int64        `json:"index_price"`
	MidPrice    int64        `json:"mid_price"`
	Version     uint64       `json:"version"`
	RefreshedAt time.Time    `json:"refreshed_at"`
	Stale       bool         `json:"stale"`
}

// FundingEstimateResponse is the off-chain preview of the next funding
// rate, computed from the latest refresh cycle's prices.
type FundingEstimateResponse struct {
	Rate        int64     `json:"rate"`    // rate scale 1e8, signed
	Premium     int64     `json:"premium"` // rate scale 1e8, signed
	MarkPrice   int64     `json:"mark_price"`
	IndexPrice  int64     `json:"index_price"`
	RefreshedAt time.Time `json:"refreshed_at"`
	Stale       bool      `json:"stale"`
}

// PositionResponse is a trader's aggregated position. UnrealizedPnL and
// Notional are derived at query time from the latest mark price and are
// omitted when no mark price is known yet.
type PositionResponse struct {
	Trader        string `json:"trader"`
	Size          int64  `json:"size"` // signed, positive = long
	AvgEntryPrice int64  `json:"avg_entry_price"`
	RealizedPnL   int64  `json:"realized_pnl"`
	UnrealizedPnL *int64 `json:"unrealized_pnl,omitempty"`
	Notional      *int64 `json:"notional,omitempty"`
	UpdatedAt     int64  `json:"updated_at"`
	AsOfBlock     uint64 `json:"as_of_block"`
}

// CandleResponse is one OHLCV bucket.
type CandleResponse struct {
	Resolution  int64 `json:"resolution"`
	BucketStart int64 `json:"bucket_start"`
	Open        int64 `json:"open"`
	High        int64 `json:"high"`
	Low         int64 `json:"low"`
	Close       int64 `json:"close"`
	Volume      int64 `json:"volume"`
	Trades      int64 `json:"trades"`
}

// CandlesResponse wraps a bucket range with its freshness watermark.
type CandlesResponse struct {
	Resolution int64            `json:"resolution"`
	Candles    []CandleResponse `json:"candles"`
	AsOfBlock  uint64           `json:"as_of_block"`
}

// TradeResponse is one executed trade.
type TradeResponse struct {
	Buyer       string `json:"buyer"`
	Seller      string `json:"seller"`
	Price       int64  `json:"price"`
	Amount      int64  `json:"amount"`
	Timestamp   int64  `json:"timestamp"`
	BlockNumber uint64 `json:"block_number"`
}

// TradesResponse wraps recent trades with the watermark.
type TradesResponse struct {
	Trades    []TradeResponse `json:"trades"`
	AsOfBlock uint64          `json:"as_of_block"`
}

// OpenOrderResponse is one of a trader's resting orders.
type OpenOrderResponse struct {
	OrderID   uint64 `json:"order_id"`
	IsBuy     bool   `json:"is_buy"`
	Price     int64  `json:"price"`
	Amount    int64  `json:"amount"` // remaining
	UpdatedAt int64  `json:"updated_at"`
}

// OpenOrdersResponse wraps a trader's open orders with the watermark.
type OpenOrdersResponse struct {
	Trader    string              `json:"trader"`
	Orders    []OpenOrderResponse `json:"orders"`
	AsOfBlock uint64              `json:"as_of_block"`
}

// MarginEventResponse is one margin account movement.
type MarginEventResponse struct {
	Kind        string `json:"kind"` // DEPOSIT, WITHDRAWAL or FUNDING
	Amount      int64  `json:"amount"`
	Timestamp   int64  `json:"timestamp"`
	BlockNumber uint64 `json:"block_number"`
}

// MarginEventsResponse wraps a trader's margin history with the watermark.
type MarginEventsResponse struct {
	Trader    string                `json:"trader"`
	Events    []MarginEventResponse `json:"events"`
	AsOfBlock uint64                `json:"as_of_block"`
}

// FundingHistoryEntry is one settled funding epoch.
type FundingHistoryEntry struct {
	Rate        int64  `json:"rate"`
	MarkPrice   int64  `json:"mark_price"`
	IndexPrice  int64  `json:"index_price"`
	Timestamp   int64  `json:"timestamp"`
	BlockNumber uint64 `json:"block_number"`
}

// FundingHistoryResponse wraps settled epochs with the watermark.
type FundingHistoryResponse struct {
	History   []FundingHistoryEntry `json:"history"`
	AsOfBlock uint64                `json:"as_of_block"`
}
