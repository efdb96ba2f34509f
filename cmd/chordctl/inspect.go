package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"chordd/internal/config"
	"chordd/internal/evdev"
	"chordd/internal/host"
	"chordd/internal/keycode"
	"chordd/internal/runner"
	"chordd/internal/scenario"
)

func newCheckConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config [path]",
		Short: "Validate a config file and print the resulting policy",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				a.configPath = args[0]
			}
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			stack, err := runner.Build(cfg, runner.Options{Sink: &host.Recorder{}})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			path := a.configPath
			if path == "" {
				path = config.ConfigPath()
			}
			fmt.Fprintf(out, "config:   %s\n", path)
			fmt.Fprintf(out, "policy:   %s\n", stack.Policy.Describe())
			fmt.Fprintf(out, "tick:     %s\n", cfg.TickInterval())
			fmt.Fprintf(out, "layers:   %d\n", len(cfg.Keymap.Layers))
			fmt.Fprintln(out, "OK")
			return nil
		},
	}
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of scenario files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := cmd.OutOrStdout().Write(scenario.Schema())
			return err
		},
	}
}

func newKeycodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keycode <name>...",
		Short: "Parse keycode names and show how they map to the keyboard",
		Example: `  chordctl keycode LSFT_T(F) ESC
  chordctl keycode 'MT(LCTL|LALT,A)'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, name := range args {
				kc, err := keycode.Parse(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%-16s 0x%04X  %s\n", kc, uint16(kc), describeKeycode(kc))
			}
			return nil
		},
	}
}

func describeKeycode(kc keycode.Keycode) string {
	switch {
	case kc.IsModTap():
		return fmt.Sprintf("mod-tap: tap %s, hold %s", kc.TapKeycode(), kc.ModTapMods().Mask())
	case kc.IsLayerTap():
		return fmt.Sprintf("layer-tap: tap %s, hold layer %d", kc.TapKeycode(), kc.LayerTapLayer())
	case kc.IsModifier():
		return "modifier " + kc.ModifierMask().String()
	}
	code, ok := evdev.Code(kc)
	if !ok {
		return "basic"
	}
	if pos, ok := evdev.Position(code); ok {
		return fmt.Sprintf("basic, evdev %d at r%dc%d", code, pos.Row, pos.Col)
	}
	return fmt.Sprintf("basic, evdev %d", code)
}

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List input devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			devices, err := evdev.ListDevices()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, d := range devices {
				mark := " "
				if d.Keyboard {
					mark = "*"
				}
				fmt.Fprintf(out, "%s %-20s %s\n", mark, d.Path, d.Name)
			}
			if len(devices) == 0 {
				fmt.Fprintln(out, "No input devices found.")
			}
			return nil
		},
	}
}
