package flag

import (
	"context"
	"sort"
	"sync"
)

// Flag is a bot answer reported by a widget user.
type Flag struct {
	ID          string `json:"id"`
	Timestamp   string `json:"timestamp"`
	UserPrompt  string `json:"user_prompt"`
	FlaggedText string `json:"flagged_text"`
}

// Store persists flags for later review.
type Store interface {
	Save(ctx context.Context, f Flag) error
	// List returns every flag, newest timestamp first.
	List(ctx context.Context) ([]Flag, error)
}

// MemoryStore implements Store in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	items []Flag
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save appends a flag.
func (s *MemoryStore) Save(_ context.Context, f Flag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, f)
	return nil
}

// List returns a copy of the stored flags, newest first.
func (s *MemoryStore) List(_ context.Context) ([]Flag, error) {
	s.mu.RLock()
	out := append([]Flag(nil), s.items...)
	s.mu.RUnlock()

	SortNewestFirst(out)
	return out, nil
}

// SortNewestFirst orders flags by descending timestamp. Timestamps are
// ISO-8601 UTC strings, so lexical order matches time order.
func SortNewestFirst(flags []Flag) {
	sort.SliceStable(flags, func(i, j int) bool {
		return flags[i].Timestamp > flags[j].Timestamp
	})
}
