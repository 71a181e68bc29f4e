package projector

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"PerpScope/internal/candle"
	"PerpScope/internal/event"
	"PerpScope/internal/observability"
	"PerpScope/internal/position"
)

// Order status values agreed between OrderRemoved and fill accounting:
// an order removed with nothing remaining was filled, anything else was
// cancelled. A fill that drains an order flips it to filled even before
// the removal log arrives.
const (
	OrderStatusOpen      = "OPEN"
	OrderStatusFilled    = "FILLED"
	OrderStatusCancelled = "CANCELLED"
)

// Margin event kinds recorded in the margin_events projection.
const (
	MarginKindDeposit    = "DEPOSIT"
	MarginKindWithdrawal = "WITHDRAWAL"
	MarginKindFunding    = "FUNDING"
)

// TradeRow is one executed trade headed for the trades table.
type TradeRow struct {
	Key         string
	BlockNumber uint64
	Buyer       string
	Seller      string
	Price       int64
	Amount      int64
	Timestamp   int64
}

// OrderRow is the projected lifecycle state of one order.
type OrderRow struct {
	OrderID   uint64
	Trader    string
	IsBuy     bool
	Price     int64
	Amount    int64 // remaining
	Status    string
	UpdatedAt int64
}

// PositionRow is a flattened position for the positions table.
type PositionRow struct {
	Trader      string
	Size        int64
	EntryPrice  int64
	RealizedPnL int64
	UpdatedAt   int64
}

// MarginEventRow records a deposit, withdrawal, or funding transfer.
type MarginEventRow struct {
	Key         string
	BlockNumber uint64
	Trader      string
	Kind        string
	Amount      int64
	Timestamp   int64
}

// FundingRow records one settled funding rate.
type FundingRow struct {
	Key         string
	BlockNumber uint64
	Rate        int64
	MarkPrice   int64
	IndexPrice  int64
	Timestamp   int64
}

// LiquidationRow records one forced close.
type LiquidationRow struct {
	Key         string
	BlockNumber uint64
	Trader      string
	Liquidator  string
	Amount      int64
	Price       int64
	Timestamp   int64
}

// Output carries everything one event produced: the envelope (for the
// processed_events key), the projection deltas, and the new watermark.
type Output struct {
	Envelope     *event.Envelope
	Trades       []TradeRow
	Orders       []OrderRow
	Positions    []PositionRow
	Candles      []*candle.Candle
	MarginEvents []MarginEventRow
	Funding      []FundingRow
	Liquidations []LiquidationRow
	Watermark    uint64
}

type trackedOrder struct {
	trader    string
	isBuy     bool
	price     int64
	remaining int64
}

// Projector folds the ordered event stream into read-side projections.
// It runs single-threaded: one envelope in, one Output out, no locks.
type Projector struct {
	dedup     *Dedup
	positions *position.Aggregator
	candles   *candle.Aggregator
	orders    map[uint64]*trackedOrder
	watermark uint64

	persistChan chan<- Output
	publishChan chan<- Output

	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewProjector(
	dedup *Dedup,
	persistChan, publishChan chan<- Output,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Projector {
	return &Projector{
		dedup:       dedup,
		positions:   position.NewAggregator(),
		candles:     candle.NewAggregator(nil),
		orders:      make(map[uint64]*trackedOrder),
		persistChan: persistChan,
		publishChan: publishChan,
		metrics:     metrics,
		log:         log,
	}
}

// ProcessEnvelope folds one event. Duplicates return (nil, nil) and are
// counted but otherwise invisible. Outputs are emitted to the persist
// channel with a blocking send (backpressure) and to the publish
// channel with a non-blocking send (downstream can always resync from
// the projections).
func (p *Projector) ProcessEnvelope(env *event.Envelope) (*Output, error) {
	start := time.Now()
	eventType := env.EventType.String()
	key := env.Key()

	if p.dedup.Seen(key) {
		if p.metrics != nil {
			p.metrics.EventsRejected.WithLabelValues(eventType, "duplicate").Inc()
		}
		return nil, nil
	}

	out := &Output{Envelope: env}

	if err := p.dispatch(env, out); err != nil {
		return nil, fmt.Errorf("apply %s (%s): %w", eventType, key, err)
	}

	if env.BlockNumber > p.watermark {
		p.watermark = env.BlockNumber
	}
	out.Watermark = p.watermark

	// Persist: blocking send, the projector stalls until the writer
	// drains. No event reaches the dedup tier before its rows are
	// queued for durable storage.
	select {
	case p.persistChan <- *out:
	default:
		if p.metrics != nil {
			p.metrics.PersistBackpressure.Inc()
		}
		p.persistChan <- *out
	}

	select {
	case p.publishChan <- *out:
	default:
		if p.metrics != nil {
			p.metrics.PublishDrops.Inc()
		}
	}

	p.dedup.Mark(key)

	if p.metrics != nil {
		p.metrics.EventsApplied.WithLabelValues(eventType).Inc()
		p.metrics.EventApplyDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		p.metrics.WatermarkBlock.Set(float64(p.watermark))
		p.metrics.DedupLRUSize.Set(float64(p.dedup.Size()))
	}

	return out, nil
}

func (p *Projector) dispatch(env *event.Envelope, out *Output) error {
	switch e := env.Payload.(type) {
	case *event.MarginDeposited:
		p.applyMarginEvent(env, out, e.Trader, MarginKindDeposit, e.Amount)
	case *event.MarginWithdrawn:
		p.applyMarginEvent(env, out, e.Trader, MarginKindWithdrawal, e.Amount)
	case *event.OrderPlaced:
		p.applyOrderPlaced(env, out, e)
	case *event.OrderRemoved:
		p.applyOrderRemoved(env, out, e)
	case *event.TradeExecuted:
		p.applyTradeExecuted(env, out, e)
	case *event.PositionUpdated:
		p.applyPositionUpdated(env, out, e)
	case *event.FundingUpdated:
		out.Funding = append(out.Funding, FundingRow{
			Key:         env.Key(),
			BlockNumber: env.BlockNumber,
			Rate:        e.Rate,
			MarkPrice:   e.MarkPrice,
			IndexPrice:  e.IndexPrice,
			Timestamp:   env.Timestamp,
		})
	case *event.FundingPaid:
		p.applyMarginEvent(env, out, e.Trader, MarginKindFunding, e.Amount)
	case *event.Liquidated:
		p.applyLiquidated(env, out, e)
	default:
		return fmt.Errorf("unhandled payload type %T", env.Payload)
	}
	return nil
}

func (p *Projector) applyMarginEvent(env *event.Envelope, out *Output, trader, kind string, amount int64) {
	out.MarginEvents = append(out.MarginEvents, MarginEventRow{
		Key:         env.Key(),
		BlockNumber: env.BlockNumber,
		Trader:      trader,
		Kind:        kind,
		Amount:      amount,
		Timestamp:   env.Timestamp,
	})
}

func (p *Projector) applyOrderPlaced(env *event.Envelope, out *Output, e *event.OrderPlaced) {
	p.orders[e.OrderID] = &trackedOrder{
		trader:    e.Trader,
		isBuy:     e.IsBuy,
		price:     e.Price,
		remaining: e.Amount,
	}
	out.Orders = append(out.Orders, OrderRow{
		OrderID:   e.OrderID,
		Trader:    e.Trader,
		IsBuy:     e.IsBuy,
		Price:     e.Price,
		Amount:    e.Amount,
		Status:    OrderStatusOpen,
		UpdatedAt: env.Timestamp,
	})
}

func (p *Projector) applyOrderRemoved(env *event.Envelope, out *Output, e *event.OrderRemoved) {
	status := OrderStatusCancelled
	if e.RemainingAmount == 0 {
		status = OrderStatusFilled
	}

	row := OrderRow{
		OrderID:   e.OrderID,
		Trader:    e.Trader,
		Amount:    e.RemainingAmount,
		Status:    status,
		UpdatedAt: env.Timestamp,
	}
	if tracked, ok := p.orders[e.OrderID]; ok {
		row.IsBuy = tracked.isBuy
		row.Price = tracked.price
		if row.Trader == "" {
			row.Trader = tracked.trader
		}
		delete(p.orders, e.OrderID)
	}
	out.Orders = append(out.Orders, row)
}

func (p *Projector) applyTradeExecuted(env *event.Envelope, out *Output, e *event.TradeExecuted) {
	out.Trades = append(out.Trades, TradeRow{
		Key:         env.Key(),
		BlockNumber: env.BlockNumber,
		Buyer:       e.Buyer,
		Seller:      e.Seller,
		Price:       e.Price,
		Amount:      e.Amount,
		Timestamp:   env.Timestamp,
	})

	// Fold both sides of the match.
	p.positions.ApplyFill(e.Buyer, true, e.Amount, e.Price, env.Timestamp)
	p.positions.ApplyFill(e.Seller, false, e.Amount, e.Price, env.Timestamp)
	out.Positions = append(out.Positions,
		p.positionRow(e.Buyer, env.Timestamp),
		p.positionRow(e.Seller, env.Timestamp),
	)

	out.Candles = append(out.Candles, p.candles.ApplyFill(e.Price, e.Amount, env.Timestamp)...)
	p.positions.UpdateMarkPrice(e.Price)

	// Decrement resting orders touched by the match; a drained order is
	// filled even if its removal log never shows up.
	for _, orderID := range []uint64{e.BuyOrderID, e.SellOrderID} {
		tracked, ok := p.orders[orderID]
		if !ok {
			continue
		}
		tracked.remaining -= e.Amount
		if tracked.remaining < 0 {
			tracked.remaining = 0
		}
		status := OrderStatusOpen
		if tracked.remaining == 0 {
			status = OrderStatusFilled
		}
		out.Orders = append(out.Orders, OrderRow{
			OrderID:   orderID,
			Trader:    tracked.trader,
			IsBuy:     tracked.isBuy,
			Price:     tracked.price,
			Amount:    tracked.remaining,
			Status:    status,
			UpdatedAt: env.Timestamp,
		})
		if tracked.remaining == 0 {
			delete(p.orders, orderID)
		}
	}
}

func (p *Projector) applyPositionUpdated(env *event.Envelope, out *Output, e *event.PositionUpdated) {
	// The contract's snapshot is authoritative; keep the accumulated
	// realized PnL, which the chain does not report.
	var realized int64
	if existing := p.positions.Get(e.Trader); existing != nil {
		realized = existing.RealizedPnL
		if existing.Size != e.Size || existing.AvgEntryPrice != e.EntryPrice {
			p.log.Warn().
				Str("trader", e.Trader).
				Int64("local_size", existing.Size).
				Int64("chain_size", e.Size).
				Int64("local_entry", existing.AvgEntryPrice).
				Int64("chain_entry", e.EntryPrice).
				Msg("position diverged from chain snapshot")
		}
	}
	p.positions.Set(&position.Position{
		Trader:        e.Trader,
		Size:          e.Size,
		AvgEntryPrice: e.EntryPrice,
		RealizedPnL:   realized,
		LastUpdatedAt: env.Timestamp,
	})
	out.Positions = append(out.Positions, p.positionRow(e.Trader, env.Timestamp))
}

func (p *Projector) applyLiquidated(env *event.Envelope, out *Output, e *event.Liquidated) {
	out.Liquidations = append(out.Liquidations, LiquidationRow{
		Key:         env.Key(),
		BlockNumber: env.BlockNumber,
		Trader:      e.Trader,
		Liquidator:  e.Liquidator,
		Amount:      e.Amount,
		Price:       e.Price,
		Timestamp:   env.Timestamp,
	})

	// Fold the forced close into the position so the projection does not
	// wait for the contract's follow-up snapshot event.
	if pos := p.positions.Get(e.Trader); pos != nil && !pos.IsFlat() {
		closeBuy := pos.Size < 0
		p.positions.ApplyFill(e.Trader, closeBuy, e.Amount, e.Price, env.Timestamp)
		out.Positions = append(out.Positions, p.positionRow(e.Trader, env.Timestamp))
	}
}

func (p *Projector) positionRow(trader string, timestamp int64) PositionRow {
	pos := p.positions.Get(trader)
	if pos == nil {
		return PositionRow{Trader: trader, UpdatedAt: timestamp}
	}
	return PositionRow{
		Trader:      pos.Trader,
		Size:        pos.Size,
		EntryPrice:  pos.AvgEntryPrice,
		RealizedPnL: pos.RealizedPnL,
		UpdatedAt:   timestamp,
	}
}

// Positions exposes the in-memory aggregator for the query service.
func (p *Projector) Positions() *position.Aggregator {
	return p.positions
}

// Candles exposes the in-memory candle aggregator.
func (p *Projector) Candles() *candle.Aggregator {
	return p.candles
}

// Watermark returns the highest block folded so far.
func (p *Projector) Watermark() uint64 {
	return p.watermark
}

// SetWatermark seeds the watermark on startup from the persisted value.
func (p *Projector) SetWatermark(block uint64) {
	p.watermark = block
}

// RestoreOrder reinstalls a still-open order from the database so that
// later fills and removals resolve its terminal status correctly.
func (p *Projector) RestoreOrder(orderID uint64, trader string, isBuy bool, price, remaining int64) {
	p.orders[orderID] = &trackedOrder{
		trader:    trader,
		isBuy:     isBuy,
		price:     price,
		remaining: remaining,
	}
}
