// Package presence tracks which users hold a live realtime connection.
package presence

import (
	"errors"
	"sort"
	"sync"

	"github.com/twmb/murmur3"
)

var ErrEmptyUserID = errors.New("presence: empty user id")

const defaultShards = 32

// Handle is an opaque connection handle. Handles are compared by identity.
type Handle interface {
	ID() string
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]Handle
}

// Registry maps user ids to their single live handle (last connect wins).
// It is safe for concurrent use; it never closes handles itself.
type Registry struct {
	shards []*shard
}

func NewRegistry() *Registry {
	return NewShardedRegistry(defaultShards)
}

func NewShardedRegistry(n int) *Registry {
	if n <= 0 {
		n = 1
	}
	r := &Registry{shards: make([]*shard, n)}
	for i := range r.shards {
		r.shards[i] = &shard{entries: make(map[string]Handle)}
	}
	return r
}

func (r *Registry) shardFor(userID string) *shard {
	return r.shards[murmur3.StringSum32(userID)%uint32(len(r.shards))]
}

// Register stores h as userID's handle and returns the handle it replaced, if any.
func (r *Registry) Register(userID string, h Handle) (Handle, bool, error) {
	if userID == "" {
		return nil, false, ErrEmptyUserID
	}
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.entries[userID]
	s.entries[userID] = h
	if !ok || prev == h {
		return nil, false, nil
	}
	return prev, true, nil
}

// Unregister removes userID whatever handle it holds. Absent ids are a no-op.
func (r *Registry) Unregister(userID string) bool {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.entries[userID]
	delete(s.entries, userID)
	return ok
}

// UnregisterHandle removes userID only while it still maps to h.
func (r *Registry) UnregisterHandle(userID string, h Handle) bool {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.entries[userID]
	if !ok || cur != h {
		return false
	}
	delete(s.entries, userID)
	return true
}

func (r *Registry) IsOnline(userID string) bool {
	_, ok := r.Lookup(userID)
	return ok
}

func (r *Registry) Lookup(userID string) (Handle, bool) {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.entries[userID]
	return h, ok
}

// Snapshot returns the registered user ids in ascending order.
func (r *Registry) Snapshot() []string {
	ids := make([]string, 0, r.Len())
	for _, s := range r.shards {
		s.mu.RLock()
		for id := range s.entries {
			ids = append(ids, id)
		}
		s.mu.RUnlock()
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}
