package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmhodges/clock"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"spacecal/internal/config"
	"spacecal/internal/ics"
	appLog "spacecal/internal/log"
	"spacecal/internal/notify"
	"spacecal/internal/scheduler"
	"spacecal/internal/store"
	"spacecal/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web UI, API and alarm scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), conf)
	},
}

func runServe(ctx context.Context, cfg *config.Config) error {
	appLog.Info("spacecal starting", "version", version)

	policy, err := scheduler.ParsePolicy(cfg.Alarm.Policy)
	if err != nil {
		return err
	}
	poll, err := scheduler.ParseSchedule(cfg.Alarm.Poll)
	if err != nil {
		return fmt.Errorf("invalid alarm.poll %q: %w", cfg.Alarm.Poll, err)
	}
	loc := cfg.Location()

	appLog.Info("effective config",
		"listen", cfg.Listen,
		"timezone", loc.String(),
		"week_start", cfg.WeekStart,
		"store", cfg.Store.Type,
		"alarm_poll", cfg.Alarm.Poll,
		"alarm_policy", string(policy),
		"users", len(cfg.Users),
	)

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			appLog.Error("store close failed", err)
		}
	}()

	clk := clock.New()
	inbox := notify.NewInbox(cfg.Notify.InboxSize)
	sessions := scheduler.NewManager(st, notify.Multi{inbox, notify.LogSink{}}, scheduler.Options{
		Policy:    policy,
		Schedule:  poll,
		Clock:     clk,
		Location:  loc,
		WeekStart: cfg.FirstWeekday(),
	}, cfg.Session.IdleTimeout)

	importer := ics.NewImporter(st, ics.NewFetcher(cfg.ICS.CacheDir, nil), loc, clk)
	refresher := ics.NewRefresher(importer, loc)
	for _, u := range cfg.Users {
		job := ics.Job{UserID: u.Username}
		for _, src := range u.ICS {
			if src.URL == "" {
				continue
			}
			id := src.ID
			if id == "" {
				id = src.Name
			}
			if id == "" {
				id = src.URL
			}
			job.Sources = append(job.Sources, ics.Source{ID: id, URL: src.URL})
		}
		if len(job.Sources) == 0 {
			continue
		}
		if err := refresher.Add(cfg.ICS.Refresh, job); err != nil {
			return fmt.Errorf("invalid ics.refresh %q: %w", cfg.ICS.Refresh, err)
		}
	}

	server := web.NewServer(cfg, web.Deps{
		Store:    st,
		Sessions: sessions,
		Inbox:    inbox,
		Importer: importer,
		Clock:    clk,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return sessions.Run(gctx, cfg.Session.IdleTimeout/2) })
	g.Go(func() error { return refresher.Run(gctx) })

	err = g.Wait()
	appLog.Info("spacecal exiting")
	return err
}

// openStore builds the configured backend behind an EventStore.
func openStore(ctx context.Context, sc config.StoreConfig) (*store.EventStore, error) {
	var (
		backend store.Backend
		err     error
	)
	switch sc.Type {
	case "memory":
		backend = store.NewMemoryBackend()
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(sc.Path), 0o700); err != nil {
			return nil, err
		}
		backend, err = store.OpenSQLite(sc.Path)
	case "postgres":
		backend, err = store.OpenPostgres(ctx, sc.DSN)
	default:
		err = fmt.Errorf("unknown store type %q", sc.Type)
	}
	if err != nil {
		return nil, err
	}
	appLog.Info("event store opened", "type", sc.Type)
	return store.New(backend), nil
}
