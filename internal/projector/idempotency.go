package projector

import "container/list"

// Dedup implements two-tier deduplication over envelope keys: a hot
// in-memory LRU backed by the processed_events table in Postgres. Not
// safe for concurrent use; the projector owns it on one goroutine.
type Dedup struct {
	lru       *keyLRU
	dbChecker DBChecker
}

// DBChecker is the Postgres lookup behind the LRU.
type DBChecker interface {
	IsProcessed(key string) (bool, error)
}

func NewDedup(capacity int, dbChecker DBChecker) *Dedup {
	return &Dedup{
		lru:       newKeyLRU(capacity),
		dbChecker: dbChecker,
	}
}

// Seen reports whether the key has already been processed. A database
// failure on the cold path is treated as "not seen": replays are safe
// because every projection write is idempotent, while a false positive
// would drop an event for good.
func (d *Dedup) Seen(key string) bool {
	if d.lru.contains(key) {
		return true
	}

	if d.dbChecker != nil {
		processed, err := d.dbChecker.IsProcessed(key)
		if err != nil {
			return false
		}
		if processed {
			d.lru.add(key)
			return true
		}
	}

	return false
}

// Mark records a key after its projection deltas have been handed to
// the persistence worker.
func (d *Dedup) Mark(key string) {
	d.lru.add(key)
}

// Warm preloads recently processed keys, typically the newest rows of
// processed_events, so a restart doesn't hammer the cold path.
func (d *Dedup) Warm(keys []string) {
	for _, key := range keys {
		d.lru.add(key)
	}
}

// Size returns the number of keys held in memory.
func (d *Dedup) Size() int {
	return d.lru.list.Len()
}

// --- LRU ---

type keyLRU struct {
	capacity int
	cache    map[string]*list.Element
	list     *list.List
}

func newKeyLRU(capacity int) *keyLRU {
	return &keyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		list:     list.New(),
	}
}

func (l *keyLRU) contains(key string) bool {
	elem, ok := l.cache[key]
	if ok {
		l.list.MoveToFront(elem)
	}
	return ok
}

func (l *keyLRU) add(key string) {
	if elem, ok := l.cache[key]; ok {
		l.list.MoveToFront(elem)
		return
	}

	l.cache[key] = l.list.PushFront(key)

	if l.list.Len() > l.capacity {
		oldest := l.list.Back()
		if oldest != nil {
			l.list.Remove(oldest)
			delete(l.cache, oldest.Value.(string))
		}
	}
}
