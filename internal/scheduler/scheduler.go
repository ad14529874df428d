// Package scheduler is the per-user calendar-alarm scheduler: it keeps the
// user's event snapshot from the store feed, derives the month grid, runs
// the alarm polling loop and mediates create/toggle/delete requests.
package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jmhodges/clock"
	"github.com/robfig/cron/v3"

	apperr "spacecal/internal/errors"
	appLog "spacecal/internal/log"
	"spacecal/internal/model"
	"spacecal/internal/notify"
	"spacecal/internal/store"
)

// DefaultPoll is the alarm polling cadence.
const DefaultPoll = "@every 60s"

// Toast messages.
const (
	MsgIncomplete   = "Mission parameters incomplete!"
	MsgCreated      = "Mission launched into orbit! 🚀"
	MsgCompleted    = "Mission accomplished! 🌟"
	MsgReactivated  = "Mission reactivated!"
	MsgDeleted      = "Mission vaporized! 💥"
	MsgFeedFailed   = "Error loading cosmic events"
	msgCreateFailed = "Launch sequence failed: "
	msgToggleFailed = "Error updating mission status: "
	msgDeleteFailed = "Error deleting cosmic record: "
	msgAlarmFailed  = "Error triggering cosmic alert: "
)

// Options tunes a Scheduler. Zero values get defaults.
type Options struct {
	Policy    DuePolicy
	Schedule  cron.Schedule
	Clock     clock.Clock
	Location  *time.Location
	WeekStart time.Weekday
}

func (o Options) withDefaults() Options {
	if o.Policy == "" {
		o.Policy = PolicyCatchUp
	}
	if o.Schedule == nil {
		o.Schedule = cron.Every(60 * time.Second)
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	return o
}

// ParseSchedule parses a poll cadence in cron syntax ("@every 60s",
// "* * * * *").
func ParseSchedule(spec string) (cron.Schedule, error) {
	if strings.TrimSpace(spec) == "" {
		spec = DefaultPoll
	}
	return cron.ParseStandard(spec)
}

// Scheduler is one user's active calendar session.
type Scheduler struct {
	userID string
	store  store.Store
	sink   notify.Sink
	opts   Options

	mu sync.RWMutex
	// events is replaced wholesale by the feed handler and never edited
	// in place.
	events  []model.Event
	loaded  bool
	pending *pendingSet
	// confirmed holds ids whose alarm write succeeded while the snapshot
	// still shows them armed.
	confirmed map[string]struct{}

	tickMu sync.Mutex
	rearm  chan struct{}

	lifeMu  sync.Mutex
	running bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a stopped scheduler for userID.
func New(st store.Store, userID string, sink notify.Sink, opts Options) (*Scheduler, error) {
	if userID == "" {
		return nil, apperr.NewValidationError(apperr.CodeNoUser, "scheduler requires a signed-in user")
	}
	if sink == nil {
		sink = notify.LogSink{}
	}
	return &Scheduler{
		userID:    userID,
		store:     st,
		sink:      sink,
		opts:      opts.withDefaults(),
		events:    []model.Event{},
		pending:   newPendingSet(),
		confirmed: make(map[string]struct{}),
		rearm:     make(chan struct{}, 1),
	}, nil
}

// UserID returns the session owner.
func (s *Scheduler) UserID() string { return s.userID }

// Start subscribes to the user's events and starts the polling loop.
// Starting a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.stopped {
		return apperr.NewInternalError("scheduler already stopped", nil)
	}
	if s.running {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	sub, err := s.store.Subscribe(ctx, s.userID)
	if err != nil {
		cancel()
		return err
	}
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, sub)

	appLog.Info("scheduler started", "user", s.userID, "policy", string(s.opts.Policy))
	return nil
}

// Stop tears down the feed and the polling loop. No alarm fires after
// Stop returns.
func (s *Scheduler) Stop() {
	s.lifeMu.Lock()
	if s.stopped {
		s.lifeMu.Unlock()
		return
	}
	s.stopped = true
	cancel, done := s.cancel, s.done
	s.lifeMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	// Wait out a Tick that started before stopped was set.
	s.tickMu.Lock()
	s.tickMu.Unlock()
	appLog.Info("scheduler stopped", "user", s.userID)
}

func (s *Scheduler) isStopped() bool {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	return s.stopped
}

func (s *Scheduler) run(ctx context.Context, sub *store.Subscription) {
	defer close(s.done)
	defer sub.Close()

	timer := s.opts.Clock.NewTimer(s.nextDelay())
	defer timer.Stop()

	snapshots, errs := sub.Snapshots(), sub.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				appLog.Info("scheduler feed closed", "user", s.userID)
				return
			}
			s.replace(snap)
		case err, ok := <-errs:
			if !ok {
				return
			}
			s.feedFailed(err)
			continue
		case <-s.rearm:
		case <-timer.C:
		}
		s.Tick(ctx)
		timer.Reset(s.nextDelay())
	}
}

func (s *Scheduler) nextDelay() time.Duration {
	now := s.opts.Clock.Now()
	d := s.opts.Schedule.Next(now).Sub(now)
	if d <= 0 {
		d = time.Millisecond
	}
	return d
}

func (s *Scheduler) signal() {
	select {
	case s.rearm <- struct{}{}:
	default:
	}
}

// replace installs a new snapshot from the feed.
func (s *Scheduler) replace(snap []model.Event) {
	byID := make(map[string]model.Event, len(snap))
	for _, ev := range snap {
		byID[ev.ID] = ev
	}

	s.mu.Lock()
	s.events = snap
	s.loaded = true
	for id := range s.confirmed {
		if ev, ok := byID[id]; !ok || ev.AlarmTriggered {
			delete(s.confirmed, id)
		}
	}
	s.mu.Unlock()

	appLog.Debug("scheduler snapshot", "user", s.userID, "events", len(snap))
}

// feedFailed keeps the last snapshot and tells the user.
func (s *Scheduler) feedFailed(err error) {
	appLog.Error("scheduler feed failed", err, "user", s.userID)
	s.notify(notify.Error, MsgFeedFailed)
}

// Tick scans the loaded snapshot once and fires every due alarm. It
// returns the number of alarms that moved to pending.
func (s *Scheduler) Tick(ctx context.Context) int {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	if s.isStopped() {
		return 0
	}

	now := s.Now()
	s.mu.RLock()
	var due []model.Event
	for _, ev := range s.events {
		if s.pending.has(ev.ID) {
			continue
		}
		if _, ok := s.confirmed[ev.ID]; ok {
			continue
		}
		if s.opts.Policy.Due(ev, now) {
			due = append(due, ev)
		}
	}
	s.mu.RUnlock()

	fired := 0
	for _, ev := range due {
		if ctx.Err() != nil {
			break
		}
		if err := s.store.Update(ctx, ev.ID, model.MarkTriggered()); err != nil {
			if ctx.Err() != nil {
				break
			}
			// Still armed; the next tick retries.
			appLog.Error("alarm trigger failed", err, "user", s.userID, "event_id", ev.ID)
			s.notify(notify.Error, msgAlarmFailed+reason(err))
			continue
		}

		ev.AlarmTriggered = true
		s.mu.Lock()
		s.confirmed[ev.ID] = struct{}{}
		added := s.pending.add(ev)
		s.mu.Unlock()
		if added {
			fired++
			appLog.Info("alarm fired", "user", s.userID, "event_id", ev.ID, "alarm", ev.AlarmTime)
		}
	}
	if fired > 0 {
		s.signal()
	}
	return fired
}

// Dismiss removes one pending alarm. The stored event is not touched.
func (s *Scheduler) Dismiss(id string) bool {
	s.mu.Lock()
	removed := s.pending.remove(id)
	s.mu.Unlock()
	if removed {
		s.signal()
	}
	return removed
}

// Create validates the input and asks the store to create the event. The
// new event shows up only once the feed delivers it.
func (s *Scheduler) Create(ctx context.Context, text, date, alarmTime string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", s.invalid(apperr.NewValidationError(apperr.CodeEmptyText, "event text is required"))
	}
	if strings.TrimSpace(date) == "" {
		return "", s.invalid(apperr.NewValidationError(apperr.CodeMissingDate, "a date must be selected"))
	}
	day, err := model.ParseDate(date)
	if err != nil {
		return "", s.invalid(err)
	}
	alarm, err := model.ParseAlarmTime(alarmTime)
	if err != nil {
		return "", s.invalid(err)
	}

	id, err := s.store.Create(ctx, model.NewEvent{
		Text:      text,
		Date:      day,
		AlarmTime: alarm,
		UserID:    s.userID,
		CreatedAt: s.opts.Clock.Now().UTC(),
	})
	if err != nil {
		appLog.Error("event create failed", err, "user", s.userID, "date", day)
		s.notify(notify.Error, msgCreateFailed+reason(err))
		return "", err
	}
	s.notify(notify.Success, MsgCreated)
	return id, nil
}

func (s *Scheduler) invalid(err error) error {
	s.notify(notify.Error, MsgIncomplete)
	return err
}

// Toggle flips completed on a loaded event. Unknown ids never reach the
// store.
func (s *Scheduler) Toggle(ctx context.Context, id string) error {
	ev, ok := s.lookup(id)
	if !ok {
		err := apperr.NewStoreError(apperr.CodeEventNotFound, "event "+id+" is not loaded", nil)
		s.notify(notify.Error, msgToggleFailed+reason(err))
		return err
	}
	if err := s.store.Update(ctx, id, model.SetCompleted(!ev.Completed)); err != nil {
		appLog.Error("event toggle failed", err, "user", s.userID, "event_id", id)
		s.notify(notify.Error, msgToggleFailed+reason(err))
		return err
	}
	if ev.Completed {
		s.notify(notify.Success, MsgReactivated)
	} else {
		s.notify(notify.Success, MsgCompleted)
	}
	return nil
}

// Delete removes one of the session user's events by id.
func (s *Scheduler) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, s.userID, id); err != nil {
		appLog.Error("event delete failed", err, "user", s.userID, "event_id", id)
		s.notify(notify.Error, msgDeleteFailed+reason(err))
		return err
	}
	s.notify(notify.Success, MsgDeleted)
	return nil
}

func (s *Scheduler) lookup(id string) (model.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ev := range s.events {
		if ev.ID == id {
			return ev, true
		}
	}
	return model.Event{}, false
}

// Now returns the scheduler clock in its location.
func (s *Scheduler) Now() time.Time {
	return s.opts.Clock.Now().In(s.opts.Location)
}

// Loaded reports whether the first snapshot has arrived.
func (s *Scheduler) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Events returns a copy of the current snapshot.
func (s *Scheduler) Events() []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Event(nil), s.events...)
}

// EventsOn returns the snapshot's events for one day.
func (s *Scheduler) EventsOn(date string) []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return EventsOn(s.events, date)
}

// Pending returns undismissed alarms in firing order.
func (s *Scheduler) Pending() []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending.list()
}

// Grid builds the month grid for the current month.
func (s *Scheduler) Grid() MonthGrid {
	return BuildMonthGrid(s.Now(), s.Events(), s.opts.WeekStart)
}

func (s *Scheduler) notify(sev notify.Severity, msg string) {
	s.sink.Notify(notify.Notice{
		UserID:   s.userID,
		Severity: sev,
		Message:  msg,
		At:       s.opts.Clock.Now(),
	})
}

// reason is the human-readable part of err for a toast.
func reason(err error) string {
	var se *apperr.SpaceError
	if errors.As(err, &se) {
		if se.Cause != nil {
			return se.Cause.Error()
		}
		return se.Message
	}
	return err.Error()
}
