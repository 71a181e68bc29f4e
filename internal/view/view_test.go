package view

import (
	"testing"
	"time"

	"PerpScope/internal/book"
)

func snapshotWithBid(price int64) Snapshot {
	return Snapshot{
		Book: book.Book{
			Bids: []book.Level{{Price: price, Size: 1_000_000, Total: 1_000_000, Depth: 100}},
		},
		MarkPrice:   price,
		RefreshedAt: time.Now(),
	}
}

func TestPublishAssignsMonotonicVersions(t *testing.T) {
	s := NewStore()

	if s.Current() != nil {
		t.Fatal("expected nil snapshot before first publish")
	}

	s.Publish(snapshotWithBid(10_000))
	s.Publish(snapshotWithBid(10_100))

	cur := s.Current()
	if cur == nil {
		t.Fatal("expected a snapshot after publish")
	}
	if cur.Version != 2 {
		t.Errorf("version = %d, want 2", cur.Version)
	}
	if cur.MarkPrice != 10_100 {
		t.Errorf("current snapshot should be the latest, got mark price %d", cur.MarkPrice)
	}
}

func TestSubscribeReceivesPublishes(t *testing.T) {
	s := NewStore()
	ch, cancel := s.Subscribe(4)
	defer cancel()

	s.Publish(snapshotWithBid(10_000))

	select {
	case snap := <-ch:
		if snap.MarkPrice != 10_000 {
			t.Errorf("mark price = %d, want 10000", snap.MarkPrice)
		}
	default:
		t.Fatal("subscriber did not receive the snapshot")
	}
}

func TestSlowSubscriberIsDroppedNotBlocked(t *testing.T) {
	s := NewStore()
	_, cancel := s.Subscribe(1)
	defer cancel()

	if dropped := s.Publish(snapshotWithBid(10_000)); dropped != 0 {
		t.Fatalf("first publish dropped %d, want 0", dropped)
	}
	// Buffer full, second publish must not block.
	if dropped := s.Publish(snapshotWithBid(10_100)); dropped != 1 {
		t.Errorf("second publish dropped %d, want 1", dropped)
	}

	cur := s.Current()
	if cur.MarkPrice != 10_100 {
		t.Errorf("store must still advance past slow subscribers, got %d", cur.MarkPrice)
	}
}

func TestCancelRemovesSubscriber(t *testing.T) {
	s := NewStore()
	_, cancel := s.Subscribe(1)
	if s.Subscribers() != 1 {
		t.Fatalf("subscribers = %d, want 1", s.Subscribers())
	}
	cancel()
	if s.Subscribers() != 0 {
		t.Fatalf("subscribers = %d after cancel, want 0", s.Subscribers())
	}
}

func TestMarkStaleKeepsData(t *testing.T) {
	s := NewStore()
	s.Publish(snapshotWithBid(10_000))
	s.MarkStale()

	cur := s.Current()
	if !cur.Stale {
		t.Error("snapshot should be flagged stale")
	}
	if len(cur.Book.Bids) != 1 {
		t.Error("stale snapshot must keep the last good book")
	}

	// Fresh publish clears the flag.
	s.Publish(snapshotWithBid(10_100))
	if s.Current().Stale {
		t.Error("new publish should reset the stale flag")
	}
}

func TestMarkStaleNotifiesSubscribers(t *testing.T) {
	s := NewStore()
	s.Publish(snapshotWithBid(10_000))

	ch, cancel := s.Subscribe(4)
	defer cancel()

	s.MarkStale()

	select {
	case snap := <-ch:
		if !snap.Stale {
			t.Error("subscriber should see the stale flag")
		}
		if len(snap.Book.Bids) != 1 {
			t.Error("stale delivery must carry the last good book")
		}
	default:
		t.Fatal("subscriber did not receive the stale snapshot")
	}

	// Repeated MarkStale does not spam subscribers.
	s.MarkStale()
	select {
	case <-ch:
		t.Fatal("already-stale store must not republish")
	default:
	}
}

func TestMarkStaleBeforeFirstPublishIsNoop(t *testing.T) {
	s := NewStore()
	s.MarkStale()
	if s.Current() != nil {
		t.Fatal("MarkStale must not invent a snapshot")
	}
}
