package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"PerpScope/internal/fpmath"
	"PerpScope/internal/projector"
	"PerpScope/internal/view"
)

// ErrNoSnapshot is returned for book and funding queries before the
// first refresh cycle has completed.
var ErrNoSnapshot = errors.New("query: no snapshot available yet")

// DefaultLimit caps list queries when the caller does not set one.
const DefaultLimit = 100

// MaxLimit is the hard per-request row cap.
const MaxLimit = 1000

// Service serves the derived read API. Book and funding come from the
// in-memory view store; everything else reads the Postgres projections.
// All responses carry freshness fields so clients can reason about lag.
type Service struct {
	db    *sql.DB
	store *view.Store
}

func NewService(db *sql.DB, store *view.Store) *Service {
	return &Service{db: db, store: store}
}

// GetOrderBook returns the latest reconstructed book.
func (s *Service) GetOrderBook(ctx context.Context) (*OrderBookResponse, error) {
	snap := s.store.Current()
	if snap == nil {
		return nil, ErrNoSnapshot
	}
	return &OrderBookResponse{
		Bids:        snap.Book.Bids,
		Asks:        snap.Book.Asks,
		MarkPrice:   snap.MarkPrice,
		IndexPrice:  snap.IndexPrice,
		MidPrice:    snap.Book.MidPrice(),
		Version:     snap.Version,
		RefreshedAt: snap.RefreshedAt,
		Stale:       snap.Stale,
	}, nil
}

// GetEstimatedFundingRate returns the predicted next funding rate.
func (s *Service) GetEstimatedFundingRate(ctx context.Context) (*FundingEstimateResponse, error) {
	snap := s.store.Current()
	if snap == nil || snap.Funding == nil {
		return nil, ErrNoSnapshot
	}
	return &FundingEstimateResponse{
		Rate:        snap.Funding.Rate,
		Premium:     snap.Funding.Premium,
		MarkPrice:   snap.Funding.MarkPrice,
		IndexPrice:  snap.Funding.IndexPrice,
		RefreshedAt: snap.RefreshedAt,
		Stale:       snap.Stale,
	}, nil
}

// GetPosition returns one trader's aggregated position. A trader with
// no history gets a flat zero-valued position, not an error.
func (s *Service) GetPosition(ctx context.Context, trader string) (*PositionResponse, error) {
	watermark, err := s.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	resp := &PositionResponse{Trader: trader, AsOfBlock: watermark}
	err = s.db.QueryRowContext(ctx, `
		SELECT size, entry_price, realized_pnl, updated_at
		FROM perpscope.positions
		WHERE trader = $1
	`, trader).Scan(&resp.Size, &resp.AvgEntryPrice, &resp.RealizedPnL, &resp.UpdatedAt)
	if err == sql.ErrNoRows {
		return resp, nil
	}
	if err != nil {
		return nil, err
	}

	// Mark-dependent fields come from the live snapshot when one exists.
	if snap := s.store.Current(); snap != nil && snap.MarkPrice > 0 && resp.Size != 0 {
		sideSign := int64(1)
		if resp.Size < 0 {
			sideSign = -1
		}
		upnl := fpmath.ComputeUnrealizedPnL(
			sideSign, snap.MarkPrice, resp.AvgEntryPrice, fpmath.Abs(resp.Size),
			fpmath.PriceConfig.Scale, fpmath.QuantityConfig.Scale, fpmath.QuoteConfig.Scale,
		)
		notional := fpmath.ComputeNotional(
			fpmath.Abs(resp.Size), snap.MarkPrice,
			fpmath.PriceConfig.Scale, fpmath.QuantityConfig.Scale, fpmath.QuoteConfig.Scale,
		)
		resp.UnrealizedPnL = &upnl
		resp.Notional = &notional
	}
	return resp, nil
}

// GetCandles returns the most recent buckets at one resolution, oldest
// first.
func (s *Service) GetCandles(ctx context.Context, resolution int64, limit int) (*CandlesResponse, error) {
	limit = clampLimit(limit)
	watermark, err := s.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT resolution, bucket_start, open, high, low, close, volume, trades
		FROM (
			SELECT * FROM perpscope.candles
			WHERE resolution = $1
			ORDER BY bucket_start DESC
			LIMIT $2
		) recent
		ORDER BY bucket_start ASC
	`, resolution, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp := &CandlesResponse{Resolution: resolution, AsOfBlock: watermark}
	for rows.Next() {
		var c CandleResponse
		if err := rows.Scan(&c.Resolution, &c.BucketStart, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Trades); err != nil {
			return nil, err
		}
		resp.Candles = append(resp.Candles, c)
	}
	return resp, rows.Err()
}

// GetRecentTrades returns the latest executions, newest first.
func (s *Service) GetRecentTrades(ctx context.Context, limit int) (*TradesResponse, error) {
	limit = clampLimit(limit)
	watermark, err := s.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT buyer, seller, price, amount, ts, block_number
		FROM perpscope.trades
		ORDER BY ts DESC, block_number DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp := &TradesResponse{AsOfBlock: watermark}
	for rows.Next() {
		var t TradeResponse
		if err := rows.Scan(&t.Buyer, &t.Seller, &t.Price, &t.Amount, &t.Timestamp, &t.BlockNumber); err != nil {
			return nil, err
		}
		resp.Trades = append(resp.Trades, t)
	}
	return resp, rows.Err()
}

// GetOpenOrders returns a trader's resting orders, best price first.
func (s *Service) GetOpenOrders(ctx context.Context, trader string) (*OpenOrdersResponse, error) {
	watermark, err := s.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, is_buy, price, amount, updated_at
		FROM perpscope.orders
		WHERE trader = $1 AND status = $2
		ORDER BY is_buy DESC, CASE WHEN is_buy THEN -price ELSE price END ASC
	`, trader, projector.OrderStatusOpen)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp := &OpenOrdersResponse{Trader: trader, AsOfBlock: watermark}
	for rows.Next() {
		var o OpenOrderResponse
		if err := rows.Scan(&o.OrderID, &o.IsBuy, &o.Price, &o.Amount, &o.UpdatedAt); err != nil {
			return nil, err
		}
		resp.Orders = append(resp.Orders, o)
	}
	return resp, rows.Err()
}

// GetMarginEvents returns a trader's margin account history, newest
// first.
func (s *Service) GetMarginEvents(ctx context.Context, trader string, limit int) (*MarginEventsResponse, error) {
	limit = clampLimit(limit)
	watermark, err := s.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, amount, ts, block_number
		FROM perpscope.margin_events
		WHERE trader = $1
		ORDER BY ts DESC
		LIMIT $2
	`, trader, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp := &MarginEventsResponse{Trader: trader, AsOfBlock: watermark}
	for rows.Next() {
		var e MarginEventResponse
		if err := rows.Scan(&e.Kind, &e.Amount, &e.Timestamp, &e.BlockNumber); err != nil {
			return nil, err
		}
		resp.Events = append(resp.Events, e)
	}
	return resp, rows.Err()
}

// GetFundingHistory returns settled funding epochs, newest first.
func (s *Service) GetFundingHistory(ctx context.Context, limit int) (*FundingHistoryResponse, error) {
	limit = clampLimit(limit)
	watermark, err := s.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT rate, mark_price, index_price, ts, block_number
		FROM perpscope.funding_history
		ORDER BY ts DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp := &FundingHistoryResponse{AsOfBlock: watermark}
	for rows.Next() {
		var h FundingHistoryEntry
		if err := rows.Scan(&h.Rate, &h.MarkPrice, &h.IndexPrice, &h.Timestamp, &h.BlockNumber); err != nil {
			return nil, err
		}
		resp.History = append(resp.History, h)
	}
	return resp, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

func (s *Service) getWatermark(ctx context.Context) (uint64, error) {
	var block uint64
	err := s.db.QueryRowContext(ctx, `
		SELECT block_number FROM perpscope.watermark WHERE id = 1
	`).Scan(&block)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return block, err
}
