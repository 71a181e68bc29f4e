package event

// TradeExecuted records a match between a buyer and a seller.
type TradeExecuted struct {
	Buyer       string `json:"buyer"`
	Seller      string `json:"seller"`
	BuyOrderID  uint64 `json:"buy_order_id"`
	SellOrderID uint64 `json:"sell_order_id"`
	Price       int64  `json:"price"`  // Fixed-point: price scale (decimal_precision=2, scale=100)
	Amount      int64  `json:"amount"` // Fixed-point: quantity scale (decimal_precision=6, scale=1_000_000)
}

func (e *TradeExecuted) Type() Type {
	return TypeTradeExecuted
}

// PositionUpdated is the contract's authoritative position snapshot
// after a state transition. Size is signed, positive for long.
type PositionUpdated struct {
	Trader     string `json:"trader"`
	Size       int64  `json:"size"`        // Fixed-point: quantity scale, signed
	EntryPrice int64  `json:"entry_price"` // Fixed-point: price scale
}

func (e *PositionUpdated) Type() Type {
	return TypePositionUpdated
}
