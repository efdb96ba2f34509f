// chordctl is the command-line companion of chordd.
//
// It replays scenario files through the engine, checks configuration,
// reads the settlement journal and controls a running daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"chordd/internal/config"
)

// Version is set at build time.
var Version = "dev"

// app holds flags shared by every command.
type app struct {
	configPath string
	color      string
}

func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newRootCmd builds a fresh command tree, so tests get isolated flags.
func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:   "chordctl",
		Short: "Inspect and control the chordd tap-hold daemon",
		Long: `chordctl works with chordd, the tap-hold chord daemon.

Scenario files replay timed key events through the same engine the daemon
runs and compare the reports and settlements with their expectations.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default: platform config path)")
	cmd.PersistentFlags().StringVar(&a.color, "color", "auto", `colored output: "auto", "always" or "never"`)

	cmd.AddCommand(
		newSimulateCmd(a),
		newCheckConfigCmd(a),
		newSchemaCmd(),
		newKeycodeCmd(),
		newDevicesCmd(),
		newStatsCmd(a),
		newStatusCmd(),
		newReloadCmd(),
		newStopCmd(),
	)
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
