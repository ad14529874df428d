// Package notify delivers transient user-facing messages (toasts).
package notify

import (
	"sync"
	"time"

	appLog "spacecal/internal/log"
)

// Severity classifies a notice.
type Severity string

const (
	Success Severity = "success"
	Info    Severity = "info"
	Warning Severity = "warning"
	Error   Severity = "error"
)

// Notice is one toast.
type Notice struct {
	ID       uint64    `json:"id"`
	UserID   string    `json:"userId"`
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// Sink receives notices. Implementations must not block.
type Sink interface {
	Notify(n Notice)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Notice)

func (f SinkFunc) Notify(n Notice) { f(n) }

// Inbox keeps the most recent notices per user, oldest first.
type Inbox struct {
	mu     sync.Mutex
	size   int
	seq    uint64
	byUser map[string][]Notice
}

// NewInbox creates an inbox holding up to size notices per user.
func NewInbox(size int) *Inbox {
	if size <= 0 {
		size = 50
	}
	return &Inbox{size: size, byUser: make(map[string][]Notice)}
}

func (in *Inbox) Notify(n Notice) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.seq++
	n.ID = in.seq
	q := append(in.byUser[n.UserID], n)
	if len(q) > in.size {
		q = append([]Notice(nil), q[len(q)-in.size:]...)
	}
	in.byUser[n.UserID] = q
}

// Since returns userID's notices with ID > after.
func (in *Inbox) Since(userID string, after uint64) []Notice {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]Notice, 0)
	for _, n := range in.byUser[userID] {
		if n.ID > after {
			out = append(out, n)
		}
	}
	return out
}

// Drain returns and clears userID's notices.
func (in *Inbox) Drain(userID string) []Notice {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := in.byUser[userID]
	delete(in.byUser, userID)
	if out == nil {
		out = make([]Notice, 0)
	}
	return out
}

// LogSink writes every notice to the application log.
type LogSink struct{}

func (LogSink) Notify(n Notice) {
	appLog.Info("notice",
		"user", n.UserID,
		"severity", string(n.Severity),
		"message", n.Message,
	)
}

// Multi fans a notice out to several sinks.
type Multi []Sink

func (m Multi) Notify(n Notice) {
	for _, s := range m {
		s.Notify(n)
	}
}
