package ics

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "spacecal/internal/log"
)

// Job re-imports one user's configured feeds.
type Job struct {
	UserID  string
	Sources []Source
}

// Refresher runs Jobs on a cron schedule.
type Refresher struct {
	importer *Importer
	cron     *cron.Cron

	mu  sync.Mutex
	ctx context.Context
}

// NewRefresher creates a Refresher whose schedules are read in loc.
func NewRefresher(importer *Importer, loc *time.Location) *Refresher {
	if loc == nil {
		loc = time.Local
	}
	return &Refresher{
		importer: importer,
		cron:     cron.New(cron.WithLocation(loc)),
		ctx:      context.Background(),
	}
}

// Add schedules job on spec (standard 5-field cron or @every).
func (r *Refresher) Add(spec string, job Job) error {
	_, err := r.cron.AddFunc(spec, func() {
		r.mu.Lock()
		ctx := r.ctx
		r.mu.Unlock()
		r.RunJob(ctx, job)
	})
	return err
}

// Len returns the number of scheduled jobs.
func (r *Refresher) Len() int {
	return len(r.cron.Entries())
}

// RunJob imports job's sources once.
func (r *Refresher) RunJob(ctx context.Context, job Job) ImportResult {
	res, errs := r.importer.ImportSources(ctx, job.UserID, job.Sources)
	for _, err := range errs {
		appLog.Error("ics refresh error", err, "user", job.UserID)
	}
	return res
}

// Run starts the schedule and blocks until ctx is done, then waits for
// running jobs to finish.
func (r *Refresher) Run(ctx context.Context) error {
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()

	r.cron.Start()
	appLog.Info("ics refresher started", "jobs", r.Len())
	<-ctx.Done()
	<-r.cron.Stop().Done()
	appLog.Info("ics refresher stopped")
	return nil
}
