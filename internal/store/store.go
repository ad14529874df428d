// Package store is the persistent event store the scheduler talks to:
// create, update, delete and a per-user subscription feed that pushes full
// snapshots on every change. Persistence is delegated to a Backend (memory,
// SQLite or Postgres); change fan-out goes through an in-process Bus.
package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmhodges/clock"

	apperr "spacecal/internal/errors"
	appLog "spacecal/internal/log"
	"spacecal/internal/model"
)

// ErrNotFound is returned by backends when no row matches an id.
var ErrNotFound = errors.New("store: event not found")

// Store is the collaborator surface consumed by the scheduler.
type Store interface {
	Create(ctx context.Context, ev model.NewEvent) (string, error)
	Update(ctx context.Context, id string, patch model.EventPatch) error
	Delete(ctx context.Context, userID, id string) error
	Subscribe(ctx context.Context, userID string) (*Subscription, error)
}

// Backend persists events. Patch reports the owner of the affected row so
// the change can be published to that user only. Remove only matches rows
// owned by userID.
type Backend interface {
	Insert(ctx context.Context, ev model.Event) error
	Patch(ctx context.Context, id string, patch model.EventPatch) (owner string, err error)
	Remove(ctx context.Context, userID, id string) error
	ListByUser(ctx context.Context, userID string) ([]model.Event, error)
	HasImport(ctx context.Context, userID, key string) (bool, error)
	RecordImport(ctx context.Context, userID, key string, at time.Time) error
	Close() error
}

// ImportLedger remembers which feed occurrences each user has already
// imported, so a refresh never recreates an event the user deleted.
type ImportLedger interface {
	Imported(ctx context.Context, userID, key string) (bool, error)
	MarkImported(ctx context.Context, userID, key string) error
}

// EventStore implements Store on top of a Backend.
type EventStore struct {
	backend Backend
	bus     *Bus
	newID   func() string
	clk     clock.Clock

	// done is cancelled by Close and ends every feed.
	done context.Context
	stop context.CancelFunc

	mu     sync.Mutex
	closed bool
	subs   sync.WaitGroup
}

// Option configures an EventStore.
type Option func(*EventStore)

// WithClock sets the clock used to stamp CreatedAt.
func WithClock(clk clock.Clock) Option {
	return func(s *EventStore) { s.clk = clk }
}

// WithIDGenerator replaces the uuid id generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *EventStore) { s.newID = fn }
}

// New wraps backend into a Store.
func New(backend Backend, opts ...Option) *EventStore {
	done, stop := context.WithCancel(context.Background())
	s := &EventStore{
		backend: backend,
		bus:     NewBus(),
		newID:   uuid.NewString,
		clk:     clock.New(),
		done:    done,
		stop:    stop,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates and inserts ev, returning the assigned id.
func (s *EventStore) Create(ctx context.Context, ev model.NewEvent) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	if ev.UserID == "" {
		return "", apperr.NewValidationError(apperr.CodeNoUser, "event owner is required")
	}
	if strings.TrimSpace(ev.Text) == "" {
		return "", apperr.NewValidationError(apperr.CodeEmptyText, "event text is required")
	}
	date, err := model.ParseDate(ev.Date)
	if err != nil {
		return "", err
	}
	alarm, err := model.ParseAlarmTime(ev.AlarmTime)
	if err != nil {
		return "", err
	}
	ev.Date, ev.AlarmTime = date, alarm
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.clk.Now().UTC()
	}

	id := s.newID()
	if err := s.backend.Insert(ctx, ev.WithID(id)); err != nil {
		return "", apperr.NewStoreError(apperr.CodeWriteFailed, "create event", err)
	}

	appLog.Debug("store event created", "id", id, "user", ev.UserID, "date", ev.Date)
	s.bus.Publish(Change{Kind: ChangeCreated, UserID: ev.UserID, EventID: id})
	return id, nil
}

// Update applies a partial update. alarmTriggered is monotonic and a patch
// trying to clear it is rejected.
func (s *EventStore) Update(ctx context.Context, id string, patch model.EventPatch) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := patch.Validate(); err != nil {
		return err
	}
	if patch.Empty() {
		return nil
	}

	owner, err := s.backend.Patch(ctx, id, patch)
	if errors.Is(err, ErrNotFound) {
		return apperr.NewStoreError(apperr.CodeEventNotFound, "update event "+id, err)
	}
	if err != nil {
		return apperr.NewStoreError(apperr.CodeWriteFailed, "update event "+id, err)
	}

	s.bus.Publish(Change{Kind: ChangeUpdated, UserID: owner, EventID: id})
	return nil
}

// Delete removes one of userID's events. An id that is missing or owned by
// someone else is EVENT_NOT_FOUND and nothing is removed.
func (s *EventStore) Delete(ctx context.Context, userID, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if userID == "" {
		return apperr.NewValidationError(apperr.CodeNoUser, "delete requires a user")
	}

	err := s.backend.Remove(ctx, userID, id)
	if errors.Is(err, ErrNotFound) {
		return apperr.NewStoreError(apperr.CodeEventNotFound, "delete event "+id, err)
	}
	if err != nil {
		return apperr.NewStoreError(apperr.CodeWriteFailed, "delete event "+id, err)
	}

	s.bus.Publish(Change{Kind: ChangeDeleted, UserID: userID, EventID: id})
	return nil
}

// Imported reports whether userID already received the feed occurrence key.
func (s *EventStore) Imported(ctx context.Context, userID, key string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	ok, err := s.backend.HasImport(ctx, userID, key)
	if err != nil {
		return false, apperr.NewStoreError(apperr.CodeReadFailed, "read import ledger", err)
	}
	return ok, nil
}

// MarkImported records key for userID. Recording a key twice is a no-op.
func (s *EventStore) MarkImported(ctx context.Context, userID, key string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.backend.RecordImport(ctx, userID, key, s.clk.Now().UTC()); err != nil {
		return apperr.NewStoreError(apperr.CodeWriteFailed, "record import "+key, err)
	}
	return nil
}

// Subscribe opens a snapshot feed for userID. The current snapshot is
// delivered first, then a fresh one after every change to that user's
// events. The feed ends when ctx is cancelled or Close is called.
func (s *EventStore) Subscribe(ctx context.Context, userID string) (*Subscription, error) {
	if userID == "" {
		return nil, apperr.NewValidationError(apperr.CodeNoUser, "subscription requires a user")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, apperr.NewStoreError(apperr.CodeStoreClosed, "store is closed", nil)
	}
	s.subs.Add(1)
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	unwatch := context.AfterFunc(s.done, cancel)
	sub := &Subscription{
		snapshots: make(chan []model.Event, 1),
		errs:      make(chan error, 1),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	busSub := s.bus.Subscribe(userID)

	go func() {
		defer s.subs.Done()
		defer unwatch()
		s.feed(ctx, userID, busSub, sub)
	}()

	return sub, nil
}

func (s *EventStore) feed(ctx context.Context, userID string, busSub *BusSubscriber, sub *Subscription) {
	defer close(sub.done)
	defer close(sub.errs)
	defer close(sub.snapshots)
	defer s.bus.Unsubscribe(busSub.ID)

	load := func() bool {
		events, err := s.backend.ListByUser(ctx, userID)
		if ctx.Err() != nil {
			return false
		}
		if err != nil {
			appLog.Error("store snapshot load failed", err, "user", userID)
			select {
			case sub.errs <- apperr.NewSubscriptionError("load snapshot", err):
			case <-ctx.Done():
				return false
			}
			return true
		}
		select {
		case sub.snapshots <- events:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !load() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-busSub.Ch:
			if !ok || !load() {
				return
			}
		}
	}
}

// Close stops all feeds and closes the backend.
func (s *EventStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.stop()
	s.bus.Close()
	s.subs.Wait()
	return s.backend.Close()
}

func (s *EventStore) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return apperr.NewStoreError(apperr.CodeStoreClosed, "store is closed", nil)
	}
	return nil
}

// Subscription is a live feed of snapshots for one user.
type Subscription struct {
	snapshots chan []model.Event
	errs      chan error
	cancel    context.CancelFunc
	done      chan struct{}
}

// Snapshots delivers full event sets. Closed when the feed ends.
func (sub *Subscription) Snapshots() <-chan []model.Event {
	return sub.snapshots
}

// Errors delivers feed failures. Closed when the feed ends.
func (sub *Subscription) Errors() <-chan error {
	return sub.errs
}

// Close ends the feed and waits for it to stop.
func (sub *Subscription) Close() {
	sub.cancel()
	<-sub.done
}

// Snapshot reads userID's current events through a short-lived
// subscription.
func Snapshot(ctx context.Context, st Store, userID string) ([]model.Event, error) {
	sub, err := st.Subscribe(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer sub.Close()

	select {
	case snap, ok := <-sub.Snapshots():
		if !ok {
			return nil, apperr.NewSubscriptionError("feed closed before first snapshot", nil)
		}
		return snap, nil
	case err, ok := <-sub.Errors():
		if !ok {
			return nil, apperr.NewSubscriptionError("feed closed before first snapshot", nil)
		}
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
