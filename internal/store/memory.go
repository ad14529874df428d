package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"spacecal/internal/model"
)

// MemoryBackend keeps events in a map. Used for tests and throwaway runs.
type MemoryBackend struct {
	mu      sync.RWMutex
	events  map[string]model.Event
	imports map[string]map[string]time.Time // user -> key -> imported at
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		events:  make(map[string]model.Event),
		imports: make(map[string]map[string]time.Time),
	}
}

func (m *MemoryBackend) Insert(_ context.Context, ev model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[ev.ID] = ev
	return nil
}

func (m *MemoryBackend) Patch(_ context.Context, id string, patch model.EventPatch) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return "", ErrNotFound
	}
	next := patch.Apply(ev)
	// A fired alarm stays fired.
	next.AlarmTriggered = next.AlarmTriggered || ev.AlarmTriggered
	m.events[id] = next
	return ev.UserID, nil
}

func (m *MemoryBackend) Remove(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok || ev.UserID != userID {
		return ErrNotFound
	}
	delete(m.events, id)
	return nil
}

func (m *MemoryBackend) ListByUser(_ context.Context, userID string) ([]model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Event, 0)
	for _, ev := range m.events {
		if ev.UserID == userID {
			out = append(out, ev)
		}
	}
	sortEvents(out)
	return out, nil
}

func (m *MemoryBackend) HasImport(_ context.Context, userID, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.imports[userID][key]
	return ok, nil
}

func (m *MemoryBackend) RecordImport(_ context.Context, userID, key string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := m.imports[userID]
	if keys == nil {
		keys = make(map[string]time.Time)
		m.imports[userID] = keys
	}
	if _, ok := keys[key]; !ok {
		keys[key] = at
	}
	return nil
}

func (m *MemoryBackend) Close() error {
	return nil
}

// sortEvents orders a snapshot by creation time, then id.
func sortEvents(events []model.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].CreatedAt.Before(events[j].CreatedAt)
		}
		return events[i].ID < events[j].ID
	})
}
