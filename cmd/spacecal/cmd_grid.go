package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"spacecal/internal/config"
	"spacecal/internal/scheduler"
	"spacecal/internal/store"
)

var gridUser string

var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Print the current month grid for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGrid(cmd.Context(), cmd.OutOrStdout(), conf, gridUser, time.Now())
	},
}

func init() {
	gridCmd.Flags().StringVar(&gridUser, "user", "", "User whose missions to show")
	_ = gridCmd.MarkFlagRequired("user")
}

func runGrid(ctx context.Context, w io.Writer, cfg *config.Config, user string, now time.Time) error {
	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	events, err := store.Snapshot(ctx, st, user)
	if err != nil {
		return err
	}
	printGrid(w, scheduler.BuildMonthGrid(now.In(cfg.Location()), events, cfg.FirstWeekday()))
	return nil
}

// printGrid renders a grid as text. Each cell shows the day, '*' for today
// and one character per dot: 'o' done, '.' open, '+' overflow.
func printGrid(w io.Writer, g scheduler.MonthGrid) {
	fmt.Fprintf(w, "%s %d\n", g.Month, g.Year)
	for _, h := range g.Header {
		fmt.Fprintf(w, "%-7s", h.Label)
	}
	fmt.Fprintln(w)

	col := 0
	for ; col < g.Leading; col++ {
		fmt.Fprintf(w, "%-7s", "")
	}
	for _, cell := range g.Days {
		var b strings.Builder
		fmt.Fprintf(&b, "%2d", cell.Day)
		if cell.IsToday {
			b.WriteByte('*')
		}
		for _, d := range cell.Dots {
			if d == scheduler.DotGreen {
				b.WriteByte('o')
			} else {
				b.WriteByte('.')
			}
		}
		if cell.Overflow {
			b.WriteByte('+')
		}
		fmt.Fprintf(w, "%-7s", b.String())
		col++
		if col%7 == 0 {
			fmt.Fprintln(w)
		}
	}
	if col%7 != 0 {
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "%d missions\n", g.Missions)
}
