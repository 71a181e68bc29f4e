package view

import (
	"sync"
	"sync/atomic"
	"time"

	"PerpScope/internal/book"
	"PerpScope/internal/funding"
)

// Snapshot is one consistent observation of the on-chain market: the
// reconstructed order book plus the funding estimate computed from the
// same refresh cycle's prices.
type Snapshot struct {
	Book        book.Book         `json:"book"`
	Funding     *funding.Estimate `json:"funding,omitempty"`
	MarkPrice   int64             `json:"mark_price"`
	IndexPrice  int64             `json:"index_price"`
	Version     uint64            `json:"version"`
	RefreshedAt time.Time         `json:"refreshed_at"`
	Stale       bool              `json:"stale"`
}

// Store holds the latest snapshot behind an atomic pointer. Readers
// never block the refresher and always see a complete snapshot.
type Store struct {
	current atomic.Pointer[Snapshot]
	version atomic.Uint64

	mu   sync.Mutex
	subs map[int]chan *Snapshot
	next int
}

func NewStore() *Store {
	return &Store{subs: make(map[int]chan *Snapshot)}
}

// Publish installs a fresh snapshot and fans it out to subscribers.
// Slow subscribers are skipped, not waited on; they catch up on the
// next publish. Returns the number of dropped deliveries.
func (s *Store) Publish(snap Snapshot) int {
	snap.Version = s.version.Add(1)
	s.current.Store(&snap)
	return s.fanOut(&snap)
}

// MarkStale republishes the current snapshot flagged stale, used when a
// refresh cycle fails and the data on display is aging. Subscribers see
// the stale copy too.
func (s *Store) MarkStale() {
	cur := s.current.Load()
	if cur == nil || cur.Stale {
		return
	}
	stale := *cur
	stale.Stale = true
	s.current.Store(&stale)
	s.fanOut(&stale)
}

func (s *Store) fanOut(snap *Snapshot) int {
	dropped := 0
	s.mu.Lock()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			dropped++
		}
	}
	s.mu.Unlock()
	return dropped
}

// Current returns the latest snapshot, or nil before the first refresh.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Subscribe registers a snapshot feed. The returned cancel func must be
// called when the consumer goes away.
func (s *Store) Subscribe(buffer int) (<-chan *Snapshot, func()) {
	ch := make(chan *Snapshot, buffer)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
	return ch, cancel
}

// Subscribers returns the number of registered feeds.
func (s *Store) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
