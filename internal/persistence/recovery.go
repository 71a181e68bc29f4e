package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"PerpScope/internal/candle"
	"PerpScope/internal/position"
	"PerpScope/internal/projector"
)

// Loader rebuilds the projector's in-memory state from the persisted
// projections on warm restart. The projections double as the snapshot:
// positions, open orders and recent candles are read back, and the
// stream consumer resumes from its durable cursor.
type Loader struct {
	db  *sql.DB
	log zerolog.Logger
}

func NewLoader(db *sql.DB, log zerolog.Logger) *Loader {
	return &Loader{db: db, log: log.With().Str("component", "recovery").Logger()}
}

// Hydrate restores positions, open orders, candle buckets and the block
// watermark into a fresh projector. candleLookback bounds how far back
// buckets are reloaded; older history stays queryable from the database.
func (l *Loader) Hydrate(ctx context.Context, p *projector.Projector, candleLookback time.Duration) error {
	positions, err := l.loadPositions(ctx)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	for _, pos := range positions {
		p.Positions().Set(pos)
	}

	openOrders, err := l.loadOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("load open orders: %w", err)
	}
	for _, o := range openOrders {
		p.RestoreOrder(o.OrderID, o.Trader, o.IsBuy, o.Price, o.Amount)
	}

	candles, lastClose, err := l.loadRecentCandles(ctx, time.Now().Add(-candleLookback).Unix())
	if err != nil {
		return fmt.Errorf("load candles: %w", err)
	}
	for _, c := range candles {
		p.Candles().Restore(c)
	}
	if lastClose != 0 {
		p.Candles().SetLastClose(lastClose)
	}

	store := NewProcessedEventStore(l.db)
	watermark, err := store.LoadWatermark(ctx)
	if err != nil {
		return fmt.Errorf("load watermark: %w", err)
	}
	p.SetWatermark(watermark)

	l.log.Info().
		Int("positions", len(positions)).
		Int("open_orders", len(openOrders)).
		Int("candles", len(candles)).
		Uint64("watermark", watermark).
		Msg("state hydrated")
	return nil
}

func (l *Loader) loadPositions(ctx context.Context) ([]*position.Position, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT trader, size, entry_price, realized_pnl, updated_at
		FROM perpscope.positions
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*position.Position
	for rows.Next() {
		pos := &position.Position{}
		if err := rows.Scan(&pos.Trader, &pos.Size, &pos.AvgEntryPrice, &pos.RealizedPnL, &pos.LastUpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, pos)
	}
	return out, rows.Err()
}

func (l *Loader) loadOpenOrders(ctx context.Context) ([]projector.OrderRow, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT order_id, trader, is_buy, price, amount, status, updated_at
		FROM perpscope.orders
		WHERE status = $1
	`, projector.OrderStatusOpen)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []projector.OrderRow
	for rows.Next() {
		var o projector.OrderRow
		if err := rows.Scan(&o.OrderID, &o.Trader, &o.IsBuy, &o.Price, &o.Amount, &o.Status, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// loadRecentCandles returns buckets newer than since, plus the close of
// the latest finest-resolution bucket for carry-forward seeding.
func (l *Loader) loadRecentCandles(ctx context.Context, since int64) ([]candle.Candle, int64, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT resolution, bucket_start, open, high, low, close, volume, trades
		FROM perpscope.candles
		WHERE bucket_start >= $1
		ORDER BY resolution ASC, bucket_start ASC
	`, since)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []candle.Candle
	for rows.Next() {
		var c candle.Candle
		if err := rows.Scan(&c.Resolution, &c.BucketStart, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Trades); err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var lastClose int64
	err = l.db.QueryRowContext(ctx, `
		SELECT close FROM perpscope.candles
		WHERE resolution = (SELECT MIN(resolution) FROM perpscope.candles)
		ORDER BY bucket_start DESC
		LIMIT 1
	`).Scan(&lastClose)
	if err == sql.ErrNoRows {
		return out, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return out, lastClose, nil
}
