package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"chordd/internal/scenario"
)

func newSimulateCmd(a *app) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "simulate <scenario>...",
		Short: "Replay scenario files and check their expectations",
		Long: `Replay each scenario (YAML, TOML or JSON) on a virtual clock and print
what every event produced. The command fails if any scenario does not
meet its expectations.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			st := newStyles(out, a.color)
			failed := 0
			for _, path := range args {
				ok, err := simulate(out, st, path, quiet)
				if err != nil {
					return err
				}
				if !ok {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d scenarios failed", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print only the result line of each scenario")
	return cmd
}

func simulate(w io.Writer, st styles, path string, quiet bool) (bool, error) {
	sc, err := scenario.LoadFile(path)
	if err != nil {
		return false, err
	}
	tr, err := scenario.Run(sc, scenario.Options{})
	if err != nil {
		return false, fmt.Errorf("%s: %w", path, err)
	}
	checkErr := scenario.Check(tr, sc.Expect)

	if !quiet {
		printTranscript(w, st, sc, tr)
	}

	var ce *scenario.CheckError
	switch {
	case checkErr == nil:
		fmt.Fprintf(w, "%s  %s\n", st.pass.Render("PASS"), sc.Name)
		return true, nil
	case errors.As(checkErr, &ce):
		fmt.Fprintf(w, "%s  %s\n", st.fail.Render("FAIL"), sc.Name)
		for _, m := range ce.Mismatches {
			fmt.Fprintf(w, "      %s\n", m)
		}
		return false, nil
	default:
		return false, checkErr
	}
}

func printTranscript(w io.Writer, st styles, sc *scenario.Scenario, tr *scenario.Transcript) {
	fmt.Fprintf(w, "%s %s\n", st.title.Render(sc.Name), st.dim.Render("("+sc.Path+")"))
	if sc.Description != "" {
		fmt.Fprintf(w, "%s\n", st.dim.Render(sc.Description))
	}
	for _, step := range tr.Steps {
		fmt.Fprintf(w, "%7dms  %-14s %-10s", step.AtMs, step.Event, step.State)
		if len(step.Reports) > 0 {
			fmt.Fprintf(w, " %s", st.key.Render(strings.Join(step.Reports, " ")))
		}
		fmt.Fprintln(w)
		for _, s := range step.Settled {
			eager := ""
			if s.Eager {
				eager = " eager"
			}
			fmt.Fprintf(w, "           %s %s %s after %dms%s\n",
				st.dim.Render("settled"), s.Keycode, st.outcome(s.Outcome.String()),
				s.LatencyMs, st.dim.Render(" ("+s.Reason.String()+")"+eager))
		}
	}
	fmt.Fprintf(w, "reports: %s\n", strings.Join(tr.Reports, " "))
	fmt.Fprintf(w, "final:   %s\n", tr.FinalState)
}
