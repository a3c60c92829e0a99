// Package bookmark stores resume points for played items.
package bookmark

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when an item has no saved bookmark
var ErrNotFound = errors.New("bookmark not found")

// Bookmark is the position playback stopped at.
type Bookmark struct {
	Item        string        `json:"item"`
	Time        time.Duration `json:"time"`
	Total       time.Duration `json:"total"`
	PlayerState string        `json:"player_state,omitempty"`
	SavedAt     time.Time     `json:"saved_at"`
}

// Store persists bookmarks keyed by item.
type Store interface {
	Save(ctx context.Context, b Bookmark) error
	Load(ctx context.Context, item string) (Bookmark, error)
	Delete(ctx context.Context, item string) error
	// Recent returns up to n bookmarks, most recently saved first.
	Recent(ctx context.Context, n int) ([]Bookmark, error)
}

// MemoryStore keeps bookmarks in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Bookmark
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Bookmark)}
}

func (m *MemoryStore) Save(_ context.Context, b Bookmark) error {
	if b.SavedAt.IsZero() {
		b.SavedAt = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[b.Item] = b
	return nil
}

func (m *MemoryStore) Load(_ context.Context, item string) (Bookmark, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.items[item]
	if !ok {
		return Bookmark{}, ErrNotFound
	}
	return b, nil
}

func (m *MemoryStore) Delete(_ context.Context, item string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item]; !ok {
		return ErrNotFound
	}
	delete(m.items, item)
	return nil
}

func (m *MemoryStore) Recent(_ context.Context, n int) ([]Bookmark, error) {
	m.mu.RLock()
	out := make([]Bookmark, 0, len(m.items))
	for _, b := range m.items {
		out = append(out, b)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SavedAt.After(out[j].SavedAt) })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}
