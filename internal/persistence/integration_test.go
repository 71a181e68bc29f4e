package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"PerpScope/internal/event"
	"PerpScope/internal/persistence"
	"PerpScope/internal/projector"
	"PerpScope/internal/testutil"
)

// Round-trips one projected event through the worker and reads it back
// through the idempotency store. Runs against the docker-compose test
// Postgres and skips when it is not reachable.
func TestWorkerPersistsAndRestores(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	log := zerolog.Nop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	migrator := persistence.NewMigrator(db, "../../migrations", log)
	if err := migrator.Up(ctx); err != nil {
		t.Fatalf("migrate up: %v", err)
	}

	inputChan := make(chan projector.Output, 4)
	worker := persistence.NewWorker(db, inputChan, 1, 10*time.Millisecond, nil, log)

	done := make(chan error, 1)
	go func() {
		done <- worker.Run(ctx)
	}()

	env := &event.Envelope{
		BlockNumber: 42,
		TxHash:      "0xabc",
		LogIndex:    3,
		Timestamp:   1_700_000_000,
		EventType:   event.TypeTradeExecuted,
	}
	inputChan <- projector.Output{
		Envelope: env,
		Trades: []projector.TradeRow{{
			Key:         env.Key(),
			BlockNumber: 42,
			Buyer:       "0xaa",
			Seller:      "0xbb",
			Price:       10_000,
			Amount:      1_000_000,
			Timestamp:   1_700_000_000,
		}},
		Watermark: 42,
	}

	store := persistence.NewProcessedEventStore(db)

	// Batch size 1: the flush happens as soon as the worker drains the send.
	deadline := time.Now().Add(5 * time.Second)
	for {
		processed, err := store.IsProcessed(env.Key())
		if err != nil {
			t.Fatalf("IsProcessed: %v", err)
		}
		if processed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("event key never reached processed_events")
		}
		time.Sleep(20 * time.Millisecond)
	}

	watermark, err := store.LoadWatermark(ctx)
	if err != nil {
		t.Fatalf("LoadWatermark: %v", err)
	}
	if watermark != 42 {
		t.Errorf("watermark = %d, want 42", watermark)
	}

	keys, err := store.RecentKeys(ctx, 10)
	if err != nil {
		t.Fatalf("RecentKeys: %v", err)
	}
	if len(keys) != 1 || keys[0] != env.Key() {
		t.Errorf("recent keys = %v", keys)
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM perpscope.trades").Scan(&count); err != nil {
		t.Fatalf("count trades: %v", err)
	}
	if count != 1 {
		t.Errorf("trades rows = %d, want 1", count)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}
