package store

import (
	"sync"

	"github.com/google/uuid"
)

// ChangeKind represents the type of change.
type ChangeKind int

const (
	ChangeCreated ChangeKind = iota
	ChangeUpdated
	ChangeDeleted
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeCreated:
		return "created"
	case ChangeUpdated:
		return "updated"
	case ChangeDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Change is a write notification for one user's event set.
type Change struct {
	Kind    ChangeKind
	UserID  string
	EventID string
}

// Bus is an in-process pub/sub for event changes, filtered by owner.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*BusSubscriber
}

// BusSubscriber receives changes for a single user.
type BusSubscriber struct {
	ID     string
	UserID string
	// Ch has capacity one: consumers re-read full state, so pending
	// changes collapse into a single wake-up.
	Ch chan Change
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string]*BusSubscriber)}
}

// Publish delivers c to every subscriber of c.UserID.
// Non-blocking: a subscriber with a pending wake-up is skipped.
func (b *Bus) Publish(c Change) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		if sub.UserID != c.UserID {
			continue
		}
		select {
		case sub.Ch <- c:
		default:
		}
	}
}

// Subscribe registers a subscriber for userID's changes.
func (b *Bus) Subscribe(userID string) *BusSubscriber {
	sub := &BusSubscriber{
		ID:     "sub_" + uuid.NewString(),
		UserID: userID,
		Ch:     make(chan Change, 1),
	}
	b.mu.Lock()
	b.subscribers[sub.ID] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(sub.Ch)
	}
}

// Close unsubscribes everyone.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subscribers {
		delete(b.subscribers, id)
		close(sub.Ch)
	}
}

// Len returns the number of live subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
