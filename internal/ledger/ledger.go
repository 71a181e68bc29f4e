package ledger

import (
	"context"
	"errors"
)

// MarginMode selects how collateral backs a position.
type MarginMode uint8

const (
	MarginModeCross    MarginMode = 0
	MarginModeIsolated MarginMode = 1
)

func (m MarginMode) String() string {
	switch m {
	case MarginModeCross:
		return "cross"
	case MarginModeIsolated:
		return "isolated"
	default:
		return "unknown"
	}
}

// Order is the canonical order record as stored by the exchange contract.
// Amount is the remaining open quantity; Amount == 0 means the order is
// terminal (filled or cancelled) and must not appear in a live book view.
// Next links the per-side price-time chain; 0 terminates it.
type Order struct {
	ID            uint64
	Trader        string
	IsBuy         bool
	Price         int64 // fpmath.PriceConfig scale
	Amount        int64 // fpmath.QuantityConfig scale, remaining
	InitialAmount int64 // fpmath.QuantityConfig scale
	Timestamp     int64 // unix seconds
	Next          uint64
}

// Position is the contract's view of a trader's exposure.
// Size is signed: positive = long.
type Position struct {
	Trader         string
	Size           int64 // fpmath.QuantityConfig scale, signed
	EntryPrice     int64 // fpmath.PriceConfig scale; 0 when Size == 0
	Mode           MarginMode
	IsolatedMargin int64 // fpmath.QuoteConfig scale
}

// IsFlat reports whether the position has no exposure.
func (p Position) IsFlat() bool {
	return p.Size == 0
}

// MarginAccount is the contract's margin view of a trader. Read on demand,
// never derived locally.
type MarginAccount struct {
	Trader         string
	CrossMargin    int64 // fpmath.QuoteConfig scale
	Mode           MarginMode
	IsolatedMargin int64 // fpmath.QuoteConfig scale
}

var (
	// ErrNotEligible is returned by SimulateLiquidate when the contract
	// would revert the liquidation, meaning the account is healthy. This is the
	// expected common case, not a transport failure.
	ErrNotEligible = errors.New("ledger: account not eligible for liquidation")

	// ErrReverted is returned when a submitted transaction reverted
	// on-chain. The reason string, when the node surfaces one, is wrapped.
	ErrReverted = errors.New("ledger: transaction reverted")

	// ErrInvalidInput is returned for malformed submission parameters
	// before any network call is made.
	ErrInvalidInput = errors.New("ledger: invalid input")
)

// Reader is the scalar/keyed read surface of the exchange contract.
type Reader interface {
	MarkPrice(ctx context.Context) (int64, error)
	IndexPrice(ctx context.Context) (int64, error)
	BestBuyID(ctx context.Context) (uint64, error)
	BestSellID(ctx context.Context) (uint64, error)
	InitialMarginBps(ctx context.Context) (int64, error)
	LastFundingTime(ctx context.Context) (int64, error)
	FundingInterval(ctx context.Context) (int64, error)

	Order(ctx context.Context, id uint64) (Order, error)
	Margin(ctx context.Context, trader string) (int64, error)
	CrossMargin(ctx context.Context, trader string) (int64, error)
	IsolatedMargin(ctx context.Context, trader string) (int64, error)
	MarginMode(ctx context.Context, trader string) (MarginMode, error)
	Position(ctx context.Context, trader string) (Position, error)
}

// Writer is the state-changing call surface. Implementations submit
// transactions through the node's account management; signing is not
// this package's concern.
type Writer interface {
	Deposit(ctx context.Context, value int64) (TxHash, error)
	Withdraw(ctx context.Context, amount int64) (TxHash, error)
	PlaceOrder(ctx context.Context, isBuy bool, price, amount int64, hint uint64, mode MarginMode) (TxHash, error)
	CancelOrder(ctx context.Context, id uint64) (TxHash, error)
	AllocateToIsolated(ctx context.Context, amount int64) (TxHash, error)
	RemoveFromIsolated(ctx context.Context, amount int64) (TxHash, error)
	UpdateIndexPrice(ctx context.Context, price int64) (TxHash, error)
	SettleFunding(ctx context.Context) (TxHash, error)
	Liquidate(ctx context.Context, trader string, amount int64) (TxHash, error)
}

// Simulator dry-runs state-changing calls without submitting them.
type Simulator interface {
	// SimulateLiquidate returns nil when the contract would accept the
	// liquidation, ErrNotEligible when it would revert it.
	SimulateLiquidate(ctx context.Context, trader string, amount int64) error
}

// TxHash identifies a submitted transaction.
type TxHash string
