package position

import (
	"PerpScope/internal/fpmath"
)

// Position is the projected view of one trader's exposure. Size is
// signed: positive is long, negative is short. A flat position always
// carries a zero entry price.
type Position struct {
	Trader        string
	Size          int64 // quantity scale
	AvgEntryPrice int64 // price scale
	RealizedPnL   int64 // quote scale, cumulative
	Version       int64
	LastUpdatedAt int64 // unix seconds of the last fill applied
}

func (p *Position) IsFlat() bool {
	return p.Size == 0
}

// SideSign returns +1 for long, -1 for short, 0 for flat.
func (p *Position) SideSign() int64 {
	switch {
	case p.Size > 0:
		return 1
	case p.Size < 0:
		return -1
	default:
		return 0
	}
}

// Aggregator folds trade fills into per-trader positions. It is not
// safe for concurrent use; the projector owns it on a single goroutine.
type Aggregator struct {
	positions map[string]*Position
	markPrice int64
	markKnown bool
}

func NewAggregator() *Aggregator {
	return &Aggregator{positions: make(map[string]*Position)}
}

// Get returns the tracked position for a trader, or nil.
func (a *Aggregator) Get(trader string) *Position {
	return a.positions[trader]
}

func (a *Aggregator) getOrCreate(trader string) *Position {
	pos := a.positions[trader]
	if pos == nil {
		pos = &Position{Trader: trader}
		a.positions[trader] = pos
	}
	return pos
}

// UpdateMarkPrice records the latest mark price used for unrealized PnL.
func (a *Aggregator) UpdateMarkPrice(price int64) {
	a.markPrice = price
	a.markKnown = true
}

// ApplyFill folds one trade fill into the trader's position and returns
// the PnL realized by the fill. Same-direction fills extend the position
// at a size-weighted entry price. Opposite fills close up to the held
// size, realizing PnL against the average entry; any excess opens a
// fresh position in the fill's direction at the fill price.
func (a *Aggregator) ApplyFill(trader string, isBuy bool, quantity, price, timestamp int64) int64 {
	if quantity <= 0 {
		return 0
	}

	pos := a.getOrCreate(trader)
	pos.LastUpdatedAt = timestamp
	pos.Version++

	fillSign := int64(1)
	if !isBuy {
		fillSign = -1
	}

	// Flat or same direction: extend.
	if pos.Size == 0 || pos.SideSign() == fillSign {
		if pos.Size == 0 {
			pos.AvgEntryPrice = price
		} else {
			pos.AvgEntryPrice = fpmath.ComputeAvgEntryPrice(
				fpmath.Abs(pos.Size), pos.AvgEntryPrice, quantity, price)
		}
		pos.Size += fillSign * quantity
		return 0
	}

	// Opposite direction: close up to the held size.
	held := fpmath.Abs(pos.Size)
	closeQty := quantity
	if closeQty > held {
		closeQty = held
	}

	realized := fpmath.ComputeRealizedPnL(
		pos.SideSign(),
		price,
		pos.AvgEntryPrice,
		closeQty,
		fpmath.PriceConfig.Scale,
		fpmath.QuantityConfig.Scale,
		fpmath.QuoteConfig.Scale,
	)
	pos.RealizedPnL += realized
	pos.Size += fillSign * closeQty

	if pos.Size == 0 {
		pos.AvgEntryPrice = 0
	}

	// Excess flips into a new position at the fill price.
	if excess := quantity - closeQty; excess > 0 {
		pos.Size = fillSign * excess
		pos.AvgEntryPrice = price
	}

	return realized
}

// Set installs a position directly, replacing any tracked state. Used
// when the chain reports an authoritative position snapshot.
func (a *Aggregator) Set(pos *Position) {
	a.positions[pos.Trader] = pos
}

// UnrealizedPnL values a position at the latest mark price. The second
// return is false when no mark price has been observed yet.
func (a *Aggregator) UnrealizedPnL(pos *Position) (int64, bool) {
	if pos.IsFlat() {
		return 0, true
	}
	if !a.markKnown {
		return 0, false
	}
	return fpmath.ComputeUnrealizedPnL(
		pos.SideSign(),
		a.markPrice,
		pos.AvgEntryPrice,
		fpmath.Abs(pos.Size),
		fpmath.PriceConfig.Scale,
		fpmath.QuantityConfig.Scale,
		fpmath.QuoteConfig.Scale,
	), true
}

// Notional values a position's absolute size at the latest mark price.
func (a *Aggregator) Notional(pos *Position) (int64, bool) {
	if pos.IsFlat() {
		return 0, true
	}
	if !a.markKnown {
		return 0, false
	}
	return fpmath.ComputeNotional(
		fpmath.Abs(pos.Size),
		a.markPrice,
		fpmath.PriceConfig.Scale,
		fpmath.QuantityConfig.Scale,
		fpmath.QuoteConfig.Scale,
	), true
}

// All returns every tracked position.
func (a *Aggregator) All() []*Position {
	result := make([]*Position, 0, len(a.positions))
	for _, pos := range a.positions {
		result = append(result, pos)
	}
	return result
}
