package event

// FundingUpdated records a settled funding rate on the contract.
type FundingUpdated struct {
	Rate       int64 `json:"rate"`       // Fixed-point: rate scale (decimal_precision=8, scale=100_000_000), signed
	MarkPrice  int64 `json:"mark_price"` // Fixed-point: price scale
	IndexPrice int64 `json:"index_price"`
}

func (e *FundingUpdated) Type() Type {
	return TypeFundingUpdated
}

// FundingPaid records one trader's funding transfer at settlement.
// Amount is signed from the trader's perspective: negative means the
// trader paid.
type FundingPaid struct {
	Trader string `json:"trader"`
	Amount int64  `json:"amount"` // Fixed-point: quote scale, signed
	Rate   int64  `json:"rate"`   // Fixed-point: rate scale
}

func (e *FundingPaid) Type() Type {
	return TypeFundingPaid
}
