package scheduler

import (
	"context"
	"sync"
	"time"

	apperr "spacecal/internal/errors"
	appLog "spacecal/internal/log"
	"spacecal/internal/notify"
	"spacecal/internal/store"
)

// DefaultIdleTimeout is how long an unused session stays active.
const DefaultIdleTimeout = 30 * time.Minute

// Manager owns one running Scheduler per active user.
type Manager struct {
	store store.Store
	sink  notify.Sink
	opts  Options
	idle  time.Duration

	// base outlives request contexts; sessions run until reaped or Close.
	base   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	sessions map[string]*session
}

type session struct {
	sched    *Scheduler
	lastUsed time.Time
}

// NewManager creates a manager. idle <= 0 means DefaultIdleTimeout.
func NewManager(st store.Store, sink notify.Sink, opts Options, idle time.Duration) *Manager {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	base, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:    st,
		sink:     sink,
		opts:     opts.withDefaults(),
		idle:     idle,
		base:     base,
		cancel:   cancel,
		sessions: make(map[string]*session),
	}
}

// Acquire returns userID's scheduler, starting it on first use.
func (m *Manager) Acquire(userID string) (*Scheduler, error) {
	if userID == "" {
		return nil, apperr.NewValidationError(apperr.CodeNoUser, "no signed-in user")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, apperr.NewInternalError("scheduler manager is closed", nil)
	}

	now := m.opts.Clock.Now()
	if sess, ok := m.sessions[userID]; ok {
		sess.lastUsed = now
		return sess.sched, nil
	}

	sched, err := New(m.store, userID, m.sink, m.opts)
	if err != nil {
		return nil, err
	}
	if err := sched.Start(m.base); err != nil {
		return nil, err
	}
	m.sessions[userID] = &session{sched: sched, lastUsed: now}
	appLog.Info("scheduler session opened", "user", userID, "sessions", len(m.sessions))
	return sched, nil
}

// Release stops and forgets userID's session, e.g. on logout.
func (m *Manager) Release(userID string) bool {
	m.mu.Lock()
	sess, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()
	if ok {
		sess.sched.Stop()
	}
	return ok
}

// Reap stops sessions unused for longer than the idle timeout.
func (m *Manager) Reap() int {
	cutoff := m.opts.Clock.Now().Add(-m.idle)

	m.mu.Lock()
	var stale []*Scheduler
	for id, sess := range m.sessions {
		if sess.lastUsed.Before(cutoff) {
			stale = append(stale, sess.sched)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, sched := range stale {
		appLog.Info("scheduler session idle, stopping", "user", sched.UserID())
		sched.Stop()
	}
	return len(stale)
}

// Run reaps idle sessions every interval of the manager's clock until ctx
// is done, then closes the manager.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	timer := m.opts.Clock.NewTimer(interval)
	defer timer.Stop()
	defer m.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			m.Reap()
			timer.Reset(interval)
		}
	}
}

// Len returns the number of active sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close stops every session. Acquire fails afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*session)
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.sched.Stop()
	}
	m.cancel()
}
