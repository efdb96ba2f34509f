package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"chordd/internal/busnotify"
	"chordd/internal/config"
	"chordd/internal/runner"
)

const busTimeout = 2 * time.Second

func daemonManager() *runner.DaemonManager {
	return runner.NewDaemonManager(config.PlatformRuntimeDir())
}

func newStatusCmd() *cobra.Command {
	var noBus bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether chordd is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			status := daemonManager().Status()
			printDaemonStatus(out, status)
			if !status.Running || noBus {
				return nil
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), busTimeout)
			defer cancel()
			engine, err := busnotify.QueryStatus(ctx)
			if err != nil {
				fmt.Fprintf(out, "engine:   unavailable (%v)\n", err)
				return nil
			}
			printEngineStatus(out, engine)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noBus, "no-bus", false, "do not query the engine over D-Bus")
	return cmd
}

func printDaemonStatus(w io.Writer, s *runner.DaemonStatus) {
	if !s.Running {
		fmt.Fprintln(w, "chordd is not running")
		return
	}
	fmt.Fprintf(w, "chordd is running (PID %d, up %s)\n", s.PID, s.Uptime.Round(time.Second))
	if st := s.State; st != nil {
		fmt.Fprintf(w, "version:  %s\n", st.Version)
		fmt.Fprintf(w, "config:   %s\n", st.ConfigPath)
		fmt.Fprintf(w, "device:   %s\n", st.Device)
		fmt.Fprintf(w, "output:   %s\n", st.Output)
		if st.Metrics != "" {
			fmt.Fprintf(w, "metrics:  http://%s/metrics\n", st.Metrics)
		}
		if st.Journal != "" {
			fmt.Fprintf(w, "journal:  %s\n", st.Journal)
		}
	}
}

func printEngineStatus(w io.Writer, engine map[string]any) {
	keys := make([]string, 0, len(engine))
	for k := range engine {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintln(w, "engine:")
	for _, k := range keys {
		fmt.Fprintf(w, "  %-12s %v\n", k, engine[k])
	}
}

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask chordd to reload its configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := daemonManager().SignalReload(); err != nil {
				return fmt.Errorf("reload: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Reload requested.")
			return nil
		},
	}
}

func newStopCmd() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop chordd",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dm := daemonManager()
			if !dm.IsRunning() {
				return fmt.Errorf("chordd is not running")
			}
			if err := dm.SignalStop(); err != nil {
				return fmt.Errorf("stop: %w", err)
			}
			if wait > 0 {
				if err := dm.WaitForStop(wait); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "chordd stopped.")
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 5*time.Second, "how long to wait for the daemon to exit")
	return cmd
}
