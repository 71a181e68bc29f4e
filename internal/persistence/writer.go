package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"PerpScope/internal/projector"
)

// ProjectionWriter batch-writes projection rows to Postgres using
// multi-row upserts. Every statement is idempotent (ON CONFLICT), so a
// replayed event rewrites the same rows and changes nothing.
type ProjectionWriter struct {
	db *sql.DB
}

func NewProjectionWriter(db *sql.DB) *ProjectionWriter {
	return &ProjectionWriter{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func placeholders(rows, cols int) string {
	values := make([]string, 0, rows)
	for i := 0; i < rows; i++ {
		ps := make([]string, cols)
		for j := 0; j < cols; j++ {
			ps[j] = fmt.Sprintf("$%d", i*cols+j+1)
		}
		values = append(values, "("+strings.Join(ps, ", ")+")")
	}
	return strings.Join(values, ", ")
}

// WriteProcessedKeys records idempotency keys in perpscope.processed_events.
func (w *ProjectionWriter) WriteProcessedKeys(ctx context.Context, tx execer, outputs []projector.Output) error {
	if len(outputs) == 0 {
		return nil
	}

	query := `INSERT INTO perpscope.processed_events (key, event_type, block_number) VALUES ` +
		placeholders(len(outputs), 3) +
		` ON CONFLICT (key) DO NOTHING`

	args := make([]interface{}, 0, len(outputs)*3)
	for _, out := range outputs {
		args = append(args, out.Envelope.Key(), out.Envelope.EventType.String(), out.Envelope.BlockNumber)
	}

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func (w *ProjectionWriter) WriteTrades(ctx context.Context, tx execer, rows []projector.TradeRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO perpscope.trades (key, block_number, buyer, seller, price, amount, ts) VALUES ` +
		placeholders(len(rows), 7) +
		` ON CONFLICT (key) DO NOTHING`

	args := make([]interface{}, 0, len(rows)*7)
	for _, r := range rows {
		args = append(args, r.Key, r.BlockNumber, r.Buyer, r.Seller, r.Price, r.Amount, r.Timestamp)
	}

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func (w *ProjectionWriter) WriteOrders(ctx context.Context, tx execer, rows []projector.OrderRow) error {
	if len(rows) == 0 {
		return nil
	}

	// The same order can appear twice in one batch (placed, then filled
	// in the same flush window); later rows win. Postgres rejects a
	// multi-row upsert that touches the same row twice.
	deduped := make([]projector.OrderRow, 0, len(rows))
	index := make(map[uint64]int, len(rows))
	for _, r := range rows {
		if i, ok := index[r.OrderID]; ok {
			deduped[i] = r
			continue
		}
		index[r.OrderID] = len(deduped)
		deduped = append(deduped, r)
	}

	query := `INSERT INTO perpscope.orders (order_id, trader, is_buy, price, amount, status, updated_at) VALUES ` +
		placeholders(len(deduped), 7) +
		` ON CONFLICT (order_id) DO UPDATE SET
			amount = EXCLUDED.amount,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`

	args := make([]interface{}, 0, len(deduped)*7)
	for _, r := range deduped {
		args = append(args, r.OrderID, r.Trader, r.IsBuy, r.Price, r.Amount, r.Status, r.UpdatedAt)
	}

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func (w *ProjectionWriter) WritePositions(ctx context.Context, tx execer, rows []projector.PositionRow) error {
	if len(rows) == 0 {
		return nil
	}

	// The same trader can appear twice in one batch; later rows win.
	deduped := make([]projector.PositionRow, 0, len(rows))
	index := make(map[string]int, len(rows))
	for _, r := range rows {
		if i, ok := index[r.Trader]; ok {
			deduped[i] = r
			continue
		}
		index[r.Trader] = len(deduped)
		deduped = append(deduped, r)
	}

	query := `INSERT INTO perpscope.positions (trader, size, entry_price, realized_pnl, updated_at) VALUES ` +
		placeholders(len(deduped), 5) +
		` ON CONFLICT (trader) DO UPDATE SET
			size = EXCLUDED.size,
			entry_price = EXCLUDED.entry_price,
			realized_pnl = EXCLUDED.realized_pnl,
			updated_at = EXCLUDED.updated_at`

	args := make([]interface{}, 0, len(deduped)*5)
	for _, r := range deduped {
		args = append(args, r.Trader, r.Size, r.EntryPrice, r.RealizedPnL, r.UpdatedAt)
	}

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// candleRow is the flattened form written to perpscope.candles. A batch
// keeps only the last snapshot per bucket before flushing.
type candleRow struct {
	Resolution  int64
	BucketStart int64
	Open        int64
	High        int64
	Low         int64
	Close       int64
	Volume      int64
	Trades      int64
}

func (w *ProjectionWriter) WriteCandles(ctx context.Context, tx execer, rows []candleRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO perpscope.candles (resolution, bucket_start, open, high, low, close, volume, trades) VALUES ` +
		placeholders(len(rows), 8) +
		` ON CONFLICT (resolution, bucket_start) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume,
			trades = EXCLUDED.trades`

	args := make([]interface{}, 0, len(rows)*8)
	for _, r := range rows {
		args = append(args, r.Resolution, r.BucketStart, r.Open, r.High, r.Low, r.Close, r.Volume, r.Trades)
	}

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func (w *ProjectionWriter) WriteMarginEvents(ctx context.Context, tx execer, rows []projector.MarginEventRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO perpscope.margin_events (key, block_number, trader, kind, amount, ts) VALUES ` +
		placeholders(len(rows), 6) +
		` ON CONFLICT (key) DO NOTHING`

	args := make([]interface{}, 0, len(rows)*6)
	for _, r := range rows {
		args = append(args, r.Key, r.BlockNumber, r.Trader, r.Kind, r.Amount, r.Timestamp)
	}

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func (w *ProjectionWriter) WriteFunding(ctx context.Context, tx execer, rows []projector.FundingRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO perpscope.funding_history (key, block_number, rate, mark_price, index_price, ts) VALUES ` +
		placeholders(len(rows), 6) +
		` ON CONFLICT (key) DO NOTHING`

	args := make([]interface{}, 0, len(rows)*6)
	for _, r := range rows {
		args = append(args, r.Key, r.BlockNumber, r.Rate, r.MarkPrice, r.IndexPrice, r.Timestamp)
	}

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func (w *ProjectionWriter) WriteLiquidations(ctx context.Context, tx execer, rows []projector.LiquidationRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO perpscope.liquidations (key, block_number, trader, liquidator, amount, price, ts) VALUES ` +
		placeholders(len(rows), 7) +
		` ON CONFLICT (key) DO NOTHING`

	args := make([]interface{}, 0, len(rows)*7)
	for _, r := range rows {
		args = append(args, r.Key, r.BlockNumber, r.Trader, r.Liquidator, r.Amount, r.Price, r.Timestamp)
	}

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteWatermark advances the single-row block watermark. It never
// regresses: replays of older blocks leave the watermark alone.
func (w *ProjectionWriter) WriteWatermark(ctx context.Context, tx execer, block uint64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO perpscope.watermark (id, block_number) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET
			block_number = GREATEST(perpscope.watermark.block_number, EXCLUDED.block_number),
			updated_at = NOW()`,
		block,
	)
	return err
}
