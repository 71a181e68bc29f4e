package persistence

import (
	"context"
	"database/sql"
	"time"
)

// ProcessedEventStore is the durable tier of the two-level idempotency
// check. The projector consults it only on an LRU miss.
type ProcessedEventStore struct {
	db      *sql.DB
	timeout time.Duration
}

func NewProcessedEventStore(db *sql.DB) *ProcessedEventStore {
	return &ProcessedEventStore{
		db:      db,
		timeout: 500 * time.Millisecond,
	}
}

// IsProcessed reports whether an idempotency key has already been
// persisted. Uses a short timeout so a slow database cannot stall the
// event loop; the caller treats an error as "not seen".
func (s *ProcessedEventStore) IsProcessed(key string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM perpscope.processed_events WHERE key = $1)`,
		key,
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// RecentKeys returns the most recently processed idempotency keys, used
// to warm the in-memory LRU on startup.
func (s *ProcessedEventStore) RecentKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM perpscope.processed_events ORDER BY processed_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]string, 0, limit)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// LoadWatermark returns the persisted block watermark, or 0 when the
// projector has never flushed.
func (s *ProcessedEventStore) LoadWatermark(ctx context.Context) (uint64, error) {
	var block uint64
	err := s.db.QueryRowContext(ctx,
		`SELECT block_number FROM perpscope.watermark WHERE id = 1`,
	).Scan(&block)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return block, nil
}
