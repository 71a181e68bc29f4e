package funding

import (
	"errors"

	"PerpScope/internal/fpmath"
)

// ErrNoIndexPrice is returned when the index price is zero and no
// premium can be computed.
var ErrNoIndexPrice = errors.New("funding: index price unavailable")

// Fixed parameters of the displayed funding estimate, at rate scale
// (1e8). InterestRate is 0.01% per interval; ClampBand is 0.05%.
const (
	InterestRate = int64(10_000)
	ClampBand    = int64(50_000)
)

// Estimate is a display-only funding rate projection for the next
// settlement.
type Estimate struct {
	Rate       int64 // rate scale
	Premium    int64 // rate scale
	MarkPrice  int64 // price scale
	IndexPrice int64
}

// Compute derives the estimated funding rate from the current mark and
// index prices:
//
//	premium = (mark - index) / index
//	rate    = premium + clamp(interest - premium, -band, +band)
//
// With the mark near the index this collapses to the flat interest
// rate; a large premium dominates and longs pay shorts.
func Compute(markPrice, indexPrice int64) (Estimate, error) {
	if indexPrice == 0 {
		return Estimate{}, ErrNoIndexPrice
	}

	premium := fpmath.DivideInt128(
		fpmath.MultiplyInt128(markPrice-indexPrice, fpmath.RateConfig.Scale),
		indexPrice,
		fpmath.RoundHalfEven,
	)

	rate := premium + fpmath.Clamp(InterestRate-premium, -ClampBand, ClampBand)

	return Estimate{
		Rate:       rate,
		Premium:    premium,
		MarkPrice:  markPrice,
		IndexPrice: indexPrice,
	}, nil
}
