package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"PerpScope/internal/projector"
)

// Worker drains the persist channel and batch-writes projection rows to
// Postgres. The projector uses BLOCKING sends into that channel, so if
// this worker falls behind, event processing stalls rather than losing
// writes.
type Worker struct {
	db           *sql.DB
	writer       *ProjectionWriter
	inputChan    <-chan projector.Output
	batchSize    int
	flushTimeout time.Duration
	metrics      persistMetrics
	log          zerolog.Logger
}

// persistMetrics is the slice of observability.Metrics the worker needs.
// Kept as an interface so tests can run without a Prometheus registry.
type persistMetrics interface {
	ObserveBatch(duration time.Duration, rows map[string]int, lastBlock uint64)
	FlushError(errorType string)
	FlushRetry()
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan projector.Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics persistMetrics,
	log zerolog.Logger,
) *Worker {
	return &Worker{
		db:           db,
		writer:       NewProjectionWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          log.With().Str("component", "persistence").Logger(),
	}
}

// batch accumulates projection rows between flushes. Candles and
// positions are keyed so a batch holds only the latest snapshot per
// bucket and per trader.
type batch struct {
	outputs      []projector.Output
	trades       []projector.TradeRow
	orders       []projector.OrderRow
	positions    []projector.PositionRow
	margin       []projector.MarginEventRow
	funding      []projector.FundingRow
	liquidations []projector.LiquidationRow
	candles      map[[2]int64]candleRow
	candleOrder  [][2]int64
	watermark    uint64
}

func newBatch(capacity int) *batch {
	return &batch{
		outputs: make([]projector.Output, 0, capacity),
		candles: make(map[[2]int64]candleRow),
	}
}

func (b *batch) add(out projector.Output) {
	b.outputs = append(b.outputs, out)
	b.trades = append(b.trades, out.Trades...)
	b.orders = append(b.orders, out.Orders...)
	b.positions = append(b.positions, out.Positions...)
	b.margin = append(b.margin, out.MarginEvents...)
	b.funding = append(b.funding, out.Funding...)
	b.liquidations = append(b.liquidations, out.Liquidations...)
	for _, c := range out.Candles {
		key := [2]int64{c.Resolution, c.BucketStart}
		if _, seen := b.candles[key]; !seen {
			b.candleOrder = append(b.candleOrder, key)
		}
		b.candles[key] = candleRow{
			Resolution:  c.Resolution,
			BucketStart: c.BucketStart,
			Open:        c.Open,
			High:        c.High,
			Low:         c.Low,
			Close:       c.Close,
			Volume:      c.Volume,
			Trades:      c.Trades,
		}
	}
	if out.Watermark > b.watermark {
		b.watermark = out.Watermark
	}
}

func (b *batch) candleRows() []candleRow {
	rows := make([]candleRow, 0, len(b.candleOrder))
	for _, key := range b.candleOrder {
		rows = append(rows, b.candles[key])
	}
	return rows
}

func (b *batch) size() int { return len(b.outputs) }

func (b *batch) reset() {
	b.outputs = b.outputs[:0]
	b.trades = b.trades[:0]
	b.orders = b.orders[:0]
	b.positions = b.positions[:0]
	b.margin = b.margin[:0]
	b.funding = b.funding[:0]
	b.liquidations = b.liquidations[:0]
	b.candles = make(map[[2]int64]candleRow)
	b.candleOrder = b.candleOrder[:0]
	b.watermark = 0
}

// Run batches incoming outputs and flushes either when the batch is full
// or the flush timeout expires. Blocks until ctx is cancelled or the
// input channel closes.
func (w *Worker) Run(ctx context.Context) error {
	b := newBatch(w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if b.size() > 0 {
				if err := w.flush(context.Background(), b); err != nil {
					w.log.Error().Err(err).Int("outputs", b.size()).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case out, ok := <-w.inputChan:
			if !ok {
				if b.size() > 0 {
					if err := w.flush(context.Background(), b); err != nil {
						w.log.Error().Err(err).Int("outputs", b.size()).Msg("final flush failed")
					}
				}
				return nil
			}

			b.add(out)

			if b.size() >= w.batchSize {
				if err := w.flushWithRetry(ctx, b); err != nil {
					w.log.Error().Err(err).Msg("batch flush failed after retries")
				}
				b.reset()
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if b.size() > 0 {
				if err := w.flushWithRetry(ctx, b); err != nil {
					w.log.Error().Err(err).Msg("timeout flush failed after retries")
				}
				b.reset()
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry flushes with exponential backoff. The worker never
// drops a batch: it retries until the write succeeds or, on context
// cancellation, attempts one final flush with a background context.
func (w *Worker) flushWithRetry(ctx context.Context, b *batch) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("outputs", b.size()).
				Msg("persistence retry")
			select {
			case <-ctx.Done():
				if finalErr := w.flush(context.Background(), b); finalErr != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", finalErr)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.flush(ctx, b)
		if err == nil {
			if attempt > 0 {
				w.log.Info().Int("retries", attempt).Msg("persistence flush recovered")
			}
			return nil
		}

		if w.metrics != nil {
			w.metrics.FlushRetry()
		}
	}
}

// flush writes the whole batch in a single transaction so a crash can
// never persist a trade without its idempotency key.
func (w *Worker) flush(ctx context.Context, b *batch) error {
	start := time.Now()
	candles := b.candleRows()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		w.flushError("tx_begin")
		return err
	}
	defer tx.Rollback()

	steps := []struct {
		name string
		fn   func() error
	}{
		{"trades", func() error { return w.writer.WriteTrades(ctx, tx, b.trades) }},
		{"orders", func() error { return w.writer.WriteOrders(ctx, tx, b.orders) }},
		{"positions", func() error { return w.writer.WritePositions(ctx, tx, b.positions) }},
		{"candles", func() error { return w.writer.WriteCandles(ctx, tx, candles) }},
		{"margin_events", func() error { return w.writer.WriteMarginEvents(ctx, tx, b.margin) }},
		{"funding_history", func() error { return w.writer.WriteFunding(ctx, tx, b.funding) }},
		{"liquidations", func() error { return w.writer.WriteLiquidations(ctx, tx, b.liquidations) }},
		{"processed_events", func() error { return w.writer.WriteProcessedKeys(ctx, tx, b.outputs) }},
		{"watermark", func() error { return w.writer.WriteWatermark(ctx, tx, b.watermark) }},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			w.flushError("write_" + step.name)
			return fmt.Errorf("write %s: %w", step.name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		w.flushError("tx_commit")
		return err
	}

	if w.metrics != nil {
		w.metrics.ObserveBatch(time.Since(start), map[string]int{
			"trades":           len(b.trades),
			"orders":           len(b.orders),
			"positions":        len(b.positions),
			"candles":          len(candles),
			"margin_events":    len(b.margin),
			"funding_history":  len(b.funding),
			"liquidations":     len(b.liquidations),
			"processed_events": len(b.outputs),
		}, b.watermark)
	}

	return nil
}

func (w *Worker) flushError(errorType string) {
	if w.metrics != nil {
		w.metrics.FlushError(errorType)
	}
}
