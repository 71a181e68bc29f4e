package projector

import (
	"errors"
	"fmt"
	"testing"
)

type fakeDBChecker struct {
	processed map[string]bool
	err       error
	lookups   int
}

func (f *fakeDBChecker) IsProcessed(key string) (bool, error) {
	f.lookups++
	if f.err != nil {
		return false, f.err
	}
	return f.processed[key], nil
}

func TestDedup_LRUHit(t *testing.T) {
	d := NewDedup(16, nil)
	if d.Seen("0xaa-0") {
		t.Fatal("fresh key must not be seen")
	}
	d.Mark("0xaa-0")
	if !d.Seen("0xaa-0") {
		t.Fatal("marked key must be seen")
	}
}

func TestDedup_ColdPathHitsDBOnce(t *testing.T) {
	db := &fakeDBChecker{processed: map[string]bool{"0xaa-0": true}}
	d := NewDedup(16, db)

	if !d.Seen("0xaa-0") {
		t.Fatal("db-processed key must be seen")
	}
	// Second lookup should be served from the LRU.
	if !d.Seen("0xaa-0") {
		t.Fatal("key must stay seen")
	}
	if db.lookups != 1 {
		t.Errorf("expected exactly 1 db lookup, got %d", db.lookups)
	}
}

func TestDedup_DBErrorMeansNotSeen(t *testing.T) {
	db := &fakeDBChecker{err: errors.New("connection refused")}
	d := NewDedup(16, db)

	if d.Seen("0xaa-0") {
		t.Fatal("a db failure must not drop events")
	}
}

func TestDedup_EvictionFallsBackToDB(t *testing.T) {
	db := &fakeDBChecker{processed: map[string]bool{}}
	d := NewDedup(4, db)

	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("0xaa-%d", i)
		d.Mark(key)
		db.processed[key] = true
	}

	// The oldest key was evicted from the LRU but survives in the DB tier.
	if !d.Seen("0xaa-0") {
		t.Fatal("evicted key must still be seen via the db tier")
	}
}

func TestDedup_Warm(t *testing.T) {
	d := NewDedup(16, nil)
	d.Warm([]string{"0xaa-0", "0xaa-1"})
	if !d.Seen("0xaa-0") || !d.Seen("0xaa-1") {
		t.Fatal("warmed keys must be seen")
	}
	if d.Size() != 2 {
		t.Errorf("expected size 2, got %d", d.Size())
	}
}
