package event

// MarginDeposited records collateral posted to the margin account.
type MarginDeposited struct {
	Trader string `json:"trader"`
	Amount int64  `json:"amount"` // Fixed-point: quote scale (decimal_precision=6, scale=1_000_000)
}

func (e *MarginDeposited) Type() Type {
	return TypeMarginDeposited
}

// MarginWithdrawn records collateral pulled from the margin account.
type MarginWithdrawn struct {
	Trader string `json:"trader"`
	Amount int64  `json:"amount"` // Fixed-point: quote scale
}

func (e *MarginWithdrawn) Type() Type {
	return TypeMarginWithdrawn
}
