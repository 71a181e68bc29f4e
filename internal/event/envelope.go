package event

import "fmt"

// Type discriminator for event payloads
type Type int32

const (
	TypeUnknown Type = iota
	TypeMarginDeposited
	TypeMarginWithdrawn
	TypeOrderPlaced
	TypeOrderRemoved
	TypeTradeExecuted
	TypePositionUpdated
	TypeFundingUpdated
	TypeFundingPaid
	TypeLiquidated
)

// Envelope wraps every decoded contract log on the stream.
type Envelope struct {
	// Block and log coordinates of the emitting transaction
	BlockNumber uint64
	TxHash      string
	LogIndex    uint32

	// Block timestamp, unix seconds (NOT wall-clock at receipt)
	Timestamp int64

	// Payload discriminator
	EventType Type

	// Decoded event-specific payload
	Payload Event
}

// Key returns the stable idempotency key of the log. A transaction hash
// plus log index is unique across the chain, so replays and duplicate
// deliveries collapse onto the same key.
func (e *Envelope) Key() string {
	return fmt.Sprintf("%s-%d", e.TxHash, e.LogIndex)
}

// Event is the interface all event payloads implement.
type Event interface {
	// Type returns the discriminator
	Type() Type
}

func (t Type) String() string {
	switch t {
	case TypeMarginDeposited:
		return "MarginDeposited"
	case TypeMarginWithdrawn:
		return "MarginWithdrawn"
	case TypeOrderPlaced:
		return "OrderPlaced"
	case TypeOrderRemoved:
		return "OrderRemoved"
	case TypeTradeExecuted:
		return "TradeExecuted"
	case TypePositionUpdated:
		return "PositionUpdated"
	case TypeFundingUpdated:
		return "FundingUpdated"
	case TypeFundingPaid:
		return "FundingPaid"
	case TypeLiquidated:
		return "Liquidated"
	default:
		return "Unknown"
	}
}
