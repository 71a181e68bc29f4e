package event

// OrderPlaced records a new resting order entering the book.
type OrderPlaced struct {
	OrderID uint64 `json:"order_id"`
	Trader  string `json:"trader"`
	IsBuy   bool   `json:"is_buy"`
	Price   int64  `json:"price"`  // Fixed-point: price scale (decimal_precision=2, scale=100)
	Amount  int64  `json:"amount"` // Fixed-point: quantity scale (decimal_precision=6, scale=1_000_000)
}

func (e *OrderPlaced) Type() Type {
	return TypeOrderPlaced
}

// OrderRemoved records an order leaving the book. RemainingAmount zero
// means the order left fully filled; anything else is a cancellation.
type OrderRemoved struct {
	OrderID         uint64 `json:"order_id"`
	Trader          string `json:"trader"`
	RemainingAmount int64  `json:"remaining_amount"` // Fixed-point: quantity scale
}

func (e *OrderRemoved) Type() Type {
	return TypeOrderRemoved
}
