package event

// Liquidated records a forced close of an undercollateralized position.
type Liquidated struct {
	Trader     string `json:"trader"`
	Liquidator string `json:"liquidator"`
	Amount     int64  `json:"amount"` // Fixed-point: quantity scale
	Price      int64  `json:"price"`  // Fixed-point: price scale
}

func (e *Liquidated) Type() Type {
	return TypeLiquidated
}
