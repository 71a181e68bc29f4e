package keeper

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// WorkingSet holds the trader addresses the liquidation scanner checks.
// Traders enter the set when they show trading activity and stay until
// expired by the scanner; a restart must not lose the set.
type WorkingSet interface {
	Add(ctx context.Context, trader string) error
	Remove(ctx context.Context, trader string) error
	Members(ctx context.Context) ([]string, error)
	Size(ctx context.Context) (int, error)
}

const workingSetKey = "perpscope:keeper:traders"

// RedisWorkingSet persists candidates in a Redis set so the scanner
// resumes with a warm candidate list after a restart.
type RedisWorkingSet struct {
	rdb *redis.Client
}

func NewRedisWorkingSet(rdb *redis.Client) *RedisWorkingSet {
	return &RedisWorkingSet{rdb: rdb}
}

func (s *RedisWorkingSet) Add(ctx context.Context, trader string) error {
	return s.rdb.SAdd(ctx, workingSetKey, trader).Err()
}

func (s *RedisWorkingSet) Remove(ctx context.Context, trader string) error {
	return s.rdb.SRem(ctx, workingSetKey, trader).Err()
}

func (s *RedisWorkingSet) Members(ctx context.Context) ([]string, error) {
	return s.rdb.SMembers(ctx, workingSetKey).Result()
}

func (s *RedisWorkingSet) Size(ctx context.Context) (int, error) {
	n, err := s.rdb.SCard(ctx, workingSetKey).Result()
	return int(n), err
}

// MemoryWorkingSet is the in-process fallback used when no Redis is
// configured and in tests.
type MemoryWorkingSet struct {
	mu      sync.Mutex
	traders map[string]struct{}
}

func NewMemoryWorkingSet() *MemoryWorkingSet {
	return &MemoryWorkingSet{traders: make(map[string]struct{})}
}

func (s *MemoryWorkingSet) Add(ctx context.Context, trader string) error {
	s.mu.Lock()
	s.traders[trader] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *MemoryWorkingSet) Remove(ctx context.Context, trader string) error {
	s.mu.Lock()
	delete(s.traders, trader)
	s.mu.Unlock()
	return nil
}

func (s *MemoryWorkingSet) Members(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.traders))
	for t := range s.traders {
		out = append(out, t)
	}
	return out, nil
}

func (s *MemoryWorkingSet) Size(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.traders), nil
}
