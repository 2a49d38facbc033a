// Package presence tracks which users hold a live connection. The in-memory
// store serves a single process; the Redis store gives every instance the
// same view.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Entry locates a user's live connection.
type Entry struct {
	UserID     string    `json:"userId"`
	InstanceID string    `json:"instanceId"`
	ClientID   string    `json:"clientId"`
	Since      time.Time `json:"since"`
}

// Store records online users. Set overwrites any previous entry for the
// user; Remove only deletes when the stored client id still matches, so a
// stale disconnect cannot evict a newer connection.
type Store interface {
	Set(ctx context.Context, e Entry) error
	Remove(ctx context.Context, userID, clientID string) (bool, error)
	Get(ctx context.Context, userID string) (Entry, bool, error)
	Online(ctx context.Context) ([]Entry, error)
}

// Memory is a process-local Store.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

func (m *Memory) Set(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.UserID] = e
	return nil
}

func (m *Memory) Remove(_ context.Context, userID, clientID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[userID]
	if !ok || e.ClientID != clientID {
		return false, nil
	}
	delete(m.entries, userID)
	return true, nil
}

func (m *Memory) Get(_ context.Context, userID string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[userID]
	return e, ok, nil
}

func (m *Memory) Online(_ context.Context) ([]Entry, error) {
	m.mu.RLock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	m.mu.RUnlock()
	sortEntries(out)
	return out, nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].UserID < entries[j].UserID })
}
