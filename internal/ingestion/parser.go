package ingestion

import (
	"encoding/json"
	"fmt"

	"PerpScope/internal/event"
)

// ParseEnvelope converts a raw log message into a typed event.Envelope.
// The chain tailer publishes each decoded contract log as JSON with an
// outer envelope and a type-specific payload object.
func ParseEnvelope(data []byte) (*event.Envelope, error) {
	var j envelopeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}
	if j.TxHash == "" {
		return nil, fmt.Errorf("envelope missing tx_hash")
	}

	payload, eventType, err := parsePayload(j.EventType, j.Payload)
	if err != nil {
		return nil, err
	}

	return &event.Envelope{
		BlockNumber: j.BlockNumber,
		TxHash:      j.TxHash,
		LogIndex:    j.LogIndex,
		Timestamp:   j.Timestamp,
		EventType:   eventType,
		Payload:     payload,
	}, nil
}

// --- JSON wire formats ---
// Field names use snake_case to match the chain tailer's output.

type envelopeJSON struct {
	BlockNumber uint64          `json:"block_number"`
	TxHash      string          `json:"tx_hash"`
	LogIndex    uint32          `json:"log_index"`
	Timestamp   int64           `json:"timestamp"`
	EventType   string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload"`
}

func parsePayload(eventType string, data []byte) (event.Event, event.Type, error) {
	switch eventType {
	case "MarginDeposited":
		p, err := parseMarginDeposited(data)
		return p, event.TypeMarginDeposited, err
	case "MarginWithdrawn":
		p, err := parseMarginWithdrawn(data)
		return p, event.TypeMarginWithdrawn, err
	case "OrderPlaced":
		p, err := parseOrderPlaced(data)
		return p, event.TypeOrderPlaced, err
	case "OrderRemoved":
		p, err := parseOrderRemoved(data)
		return p, event.TypeOrderRemoved, err
	case "TradeExecuted":
		p, err := parseTradeExecuted(data)
		return p, event.TypeTradeExecuted, err
	case "PositionUpdated":
		p, err := parsePositionUpdated(data)
		return p, event.TypePositionUpdated, err
	case "FundingUpdated":
		p, err := parseFundingUpdated(data)
		return p, event.TypeFundingUpdated, err
	case "FundingPaid":
		p, err := parseFundingPaid(data)
		return p, event.TypeFundingPaid, err
	case "Liquidated":
		p, err := parseLiquidated(data)
		return p, event.TypeLiquidated, err
	default:
		return nil, event.TypeUnknown, fmt.Errorf("unknown event type: %s", eventType)
	}
}

type marginJSON struct {
	Trader string `json:"trader"`
	Amount int64  `json:"amount"`
}

func parseMarginDeposited(data []byte) (*event.MarginDeposited, error) {
	var j marginJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse MarginDeposited: %w", err)
	}
	if j.Trader == "" {
		return nil, fmt.Errorf("MarginDeposited missing trader")
	}
	return &event.MarginDeposited{Trader: j.Trader, Amount: j.Amount}, nil
}

func parseMarginWithdrawn(data []byte) (*event.MarginWithdrawn, error) {
	var j marginJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse MarginWithdrawn: %w", err)
	}
	if j.Trader == "" {
		return nil, fmt.Errorf("MarginWithdrawn missing trader")
	}
	return &event.MarginWithdrawn{Trader: j.Trader, Amount: j.Amount}, nil
}

type orderPlacedJSON struct {
	OrderID uint64 `json:"order_id"`
	Trader  string `json:"trader"`
	IsBuy   bool   `json:"is_buy"`
	Price   int64  `json:"price"`
	Amount  int64  `json:"amount"`
}

func parseOrderPlaced(data []byte) (*event.OrderPlaced, error) {
	var j orderPlacedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse OrderPlaced: %w", err)
	}
	if j.OrderID == 0 {
		return nil, fmt.Errorf("OrderPlaced missing order_id")
	}
	return &event.OrderPlaced{
		OrderID: j.OrderID,
		Trader:  j.Trader,
		IsBuy:   j.IsBuy,
		Price:   j.Price,
		Amount:  j.Amount,
	}, nil
}

type orderRemovedJSON struct {
	OrderID         uint64 `json:"order_id"`
	Trader          string `json:"trader"`
	RemainingAmount int64  `json:"remaining_amount"`
}

func parseOrderRemoved(data []byte) (*event.OrderRemoved, error) {
	var j orderRemovedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse OrderRemoved: %w", err)
	}
	if j.OrderID == 0 {
		return nil, fmt.Errorf("OrderRemoved missing order_id")
	}
	return &event.OrderRemoved{
		OrderID:         j.OrderID,
		Trader:          j.Trader,
		RemainingAmount: j.RemainingAmount,
	}, nil
}

type tradeExecutedJSON struct {
	Buyer       string `json:"buyer"`
	Seller      string `json:"seller"`
	BuyOrderID  uint64 `json:"buy_order_id"`
	SellOrderID uint64 `json:"sell_order_id"`
	Price       int64  `json:"price"`
	Amount      int64  `json:"amount"`
}

func parseTradeExecuted(data []byte) (*event.TradeExecuted, error) {
	var j tradeExecutedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TradeExecuted: %w", err)
	}
	if j.Buyer == "" || j.Seller == "" {
		return nil, fmt.Errorf("TradeExecuted missing counterparty")
	}
	return &event.TradeExecuted{
		Buyer:       j.Buyer,
		Seller:      j.Seller,
		BuyOrderID:  j.BuyOrderID,
		SellOrderID: j.SellOrderID,
		Price:       j.Price,
		Amount:      j.Amount,
	}, nil
}

type positionUpdatedJSON struct {
	Trader     string `json:"trader"`
	Size       int64  `json:"size"`
	EntryPrice int64  `json:"entry_price"`
}

func parsePositionUpdated(data []byte) (*event.PositionUpdated, error) {
	var j positionUpdatedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PositionUpdated: %w", err)
	}
	if j.Trader == "" {
		return nil, fmt.Errorf("PositionUpdated missing trader")
	}
	return &event.PositionUpdated{
		Trader:     j.Trader,
		Size:       j.Size,
		EntryPrice: j.EntryPrice,
	}, nil
}

type fundingUpdatedJSON struct {
	Rate       int64 `json:"rate"`
	MarkPrice  int64 `json:"mark_price"`
	IndexPrice int64 `json:"index_price"`
}

func parseFundingUpdated(data []byte) (*event.FundingUpdated, error) {
	var j fundingUpdatedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse FundingUpdated: %w", err)
	}
	return &event.FundingUpdated{
		Rate:       j.Rate,
		MarkPrice:  j.MarkPrice,
		IndexPrice: j.IndexPrice,
	}, nil
}

type fundingPaidJSON struct {
	Trader string `json:"trader"`
	Amount int64  `json:"amount"`
	Rate   int64  `json:"rate"`
}

func parseFundingPaid(data []byte) (*event.FundingPaid, error) {
	var j fundingPaidJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse FundingPaid: %w", err)
	}
	if j.Trader == "" {
		return nil, fmt.Errorf("FundingPaid missing trader")
	}
	return &event.FundingPaid{Trader: j.Trader, Amount: j.Amount, Rate: j.Rate}, nil
}

type liquidatedJSON struct {
	Trader     string `json:"trader"`
	Liquidator string `json:"liquidator"`
	Amount     int64  `json:"amount"`
	Price      int64  `json:"price"`
}

func parseLiquidated(data []byte) (*event.Liquidated, error) {
	var j liquidatedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Liquidated: %w", err)
	}
	if j.Trader == "" {
		return nil, fmt.Errorf("Liquidated missing trader")
	}
	return &event.Liquidated{
		Trader:     j.Trader,
		Liquidator: j.Liquidator,
		Amount:     j.Amount,
		Price:      j.Price,
	}, nil
}
