package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"chordd/internal/journal"
)

func newStatsCmd(a *app) *cobra.Command {
	var (
		since  time.Duration
		recent int
		path   string
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize settlements recorded in the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path == "" {
				cfg, err := a.loadConfig()
				if err != nil {
					return err
				}
				path = cfg.Journal.Path
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("journal %s: %w", path, err)
			}
			j, err := journal.Open(path, journal.Options{})
			if err != nil {
				return err
			}
			defer j.Close()

			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}
			stats, err := j.Stats(from)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			st := newStyles(out, a.color)
			printStats(out, st, stats)

			if recent > 0 {
				entries, err := j.Recent(recent)
				if err != nil {
					return err
				}
				printRecent(out, st, entries)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&since, "since", 0, "only count settlements this recent (e.g. 24h)")
	cmd.Flags().IntVar(&recent, "recent", 0, "also list the last N settlements")
	cmd.Flags().StringVar(&path, "journal", "", "journal database (default: journal.path from the config)")
	return cmd
}

func printStats(w io.Writer, st styles, stats []journal.KeyStats) {
	if len(stats) == 0 {
		fmt.Fprintln(w, "No settlements recorded.")
		return
	}
	fmt.Fprintln(w, st.title.Render(fmt.Sprintf("%-16s %7s %7s %7s %6s %7s %7s %6s %9s %9s",
		"KEY", "TOTAL", "TAPS", "HOLDS", "HOLD%", "CHORD", "TIMEOUT", "EAGER", "MEAN", "MAX")))
	for _, k := range stats {
		fmt.Fprintf(w, "%-16s %7d %7d %7d %5.1f%% %7d %7d %6d %9s %9s\n",
			k.Keycode, k.Total, k.Taps, k.Holds, 100*k.HoldRatio(),
			k.ChordHolds, k.TimeoutHolds, k.Eager,
			k.MeanLatency.Round(time.Millisecond), k.MaxLatency.Round(time.Millisecond))
	}
}

func printRecent(w io.Writer, st styles, entries []journal.Entry) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, st.title.Render("Recent settlements"))
	for _, e := range entries {
		fmt.Fprintf(w, "%s  %-16s %s %s\n",
			st.dim.Render(e.Settled.Format("2006-01-02 15:04:05.000")),
			e.Keycode, st.outcome(e.Outcome.String()),
			st.dim.Render(fmt.Sprintf("(%s, %s)", e.Reason, e.Latency().Round(time.Millisecond))))
	}
}
