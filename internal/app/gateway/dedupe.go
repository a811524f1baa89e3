package gateway

import (
	"sync"

	"github.com/courtside-live/project/internal/contracts"
)

// matchLocks serializes submissions per match. Locks for different matches
// are independent; a lock is created lazily on first use.
type matchLocks struct {
	mu      sync.Mutex
	byMatch map[string]*sync.Mutex
}

func (l *matchLocks) lock(matchID string) func() {
	l.mu.Lock()
	if l.byMatch == nil {
		l.byMatch = map[string]*sync.Mutex{}
	}
	m, ok := l.byMatch[matchID]
	if !ok {
		m = &sync.Mutex{}
		l.byMatch[matchID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// resultCache remembers the snapshot produced for each client event ID so
// retried submissions return the identical result. Bounded with FIFO
// eviction; entries evicted here are still covered by the store's durable
// dedupe record.
type resultCache struct {
	mu      sync.Mutex
	max     int
	results map[string]contracts.ScoreSnapshot
	order   []string
}

func newResultCache(max int) *resultCache {
	if max <= 0 {
		max = 1024
	}
	return &resultCache{
		max:     max,
		results: make(map[string]contracts.ScoreSnapshot),
	}
}

func cacheKey(matchID, clientEventID string) string {
	return matchID + "\x00" + clientEventID
}

func (c *resultCache) get(matchID, clientEventID string) (contracts.ScoreSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.results[cacheKey(matchID, clientEventID)]
	return snap, ok
}

func (c *resultCache) put(matchID, clientEventID string, snap contracts.ScoreSnapshot) {
	key := cacheKey(matchID, clientEventID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.results[key]; exists {
		c.results[key] = snap
		return
	}
	for len(c.results) >= c.max && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.results, oldest)
	}
	c.results[key] = snap
	c.order = append(c.order, key)
}
