// chordd - tap-hold chord daemon
//
// chordd reads a physical keyboard, resolves every tap-hold key into a tap
// or a hold, and types the result on a virtual keyboard:
//
//	chordd                      Run with the default config
//	chordd -config chordd.toml  Run with a specific config
//	chordd -device /dev/input/event3
//	chordd -list-devices        List input devices and exit
//
// SIGHUP reloads the configuration. SIGINT and SIGTERM stop the daemon
// and release every held key.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chordd/internal/busnotify"
	"chordd/internal/chord"
	"chordd/internal/config"
	"chordd/internal/evdev"
	"chordd/internal/health"
	"chordd/internal/journal"
	"chordd/internal/logging"
	"chordd/internal/metrics"
	"chordd/internal/runner"
)

// Version is set at build time.
var Version = "dev"

const crashRetention = 30 * 24 * time.Hour

type options struct {
	configPath  string
	device      string
	logLevel    string
	listDevices bool
	version     bool
}

func parseFlags(fs *flag.FlagSet, args []string) (*options, error) {
	o := &options{}
	fs.StringVar(&o.configPath, "config", "", "path to the config file")
	fs.StringVar(&o.device, "device", "", "evdev device to read (overrides input.device)")
	fs.StringVar(&o.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.BoolVar(&o.listDevices, "list-devices", false, "list input devices and exit")
	fs.BoolVar(&o.version, "version", false, "print the version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	return o, nil
}

func main() {
	fs := flag.NewFlagSet("chordd", flag.ExitOnError)
	fs.Usage = func() { usage(fs) }
	opts, err := parseFlags(fs, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		usage(fs)
		os.Exit(2)
	}

	switch {
	case opts.version:
		fmt.Printf("chordd %s\n", Version)
		return
	case opts.listDevices:
		if err := listDevices(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `chordd - tap-hold chord daemon

Usage: chordd [flags]

Flags:
`)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Signals:
  SIGHUP           Reload the configuration
  SIGINT, SIGTERM  Release all keys and exit

Use chordctl to inspect or control a running daemon.
`)
}

func listDevices(w io.Writer) error {
	devices, err := evdev.ListDevices()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Fprintln(w, "No input devices found.")
		return nil
	}
	for _, d := range devices {
		kind := "other"
		if d.Keyboard {
			kind = "keyboard"
		}
		fmt.Fprintf(w, "%-20s %-9s %s\n", d.Path, kind, d.Name)
	}
	return nil
}

// applyFlags lets command-line flags override the loaded config.
func applyFlags(cfg *config.Config, opts *options) {
	if opts.device != "" {
		cfg.Input.Device = opts.device
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
}

func run(opts *options) error {
	loader := config.NewLoader(opts.configPath)
	defer loader.Close()
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyFlags(cfg, opts)

	logCfg, err := logging.FromConfig(&cfg.Logging)
	if err != nil {
		return err
	}
	logCfg.Component = "chordd"
	logger, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Close()
	logging.SetDefault(logger)
	log := logger.Logger

	crash := logging.NewCrashHandler(&logging.CrashHandlerConfig{
		CrashDir:  logging.DefaultCrashDir(),
		Version:   Version,
		Component: "engine",
	})
	if err := crash.CleanupOldCrashReports(crashRetention); err != nil {
		log.Warn("crash report cleanup failed", "error", err)
	}

	dm := runner.NewDaemonManager(config.PlatformRuntimeDir())
	if dm.IsRunning() {
		pid, _ := dm.ReadPID()
		return fmt.Errorf("chordd is already running (PID %d)", pid)
	}
	if err := os.MkdirAll(config.PlatformRuntimeDir(), 0o700); err != nil {
		return fmt.Errorf("create runtime directory: %w", err)
	}
	if err := dm.WritePID(); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}
	defer dm.Cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var observers []chord.Observer

	var jrnl *journal.Journal
	if cfg.Journal.Enabled {
		jrnl, err = journal.Open(cfg.Journal.Path, journal.Options{Logger: logger.WithComponent("journal").Logger})
		if err != nil {
			return err
		}
		defer jrnl.Close()
		if days := cfg.Journal.RetentionDays; days > 0 {
			n, err := jrnl.Prune(time.Now().AddDate(0, 0, -days))
			if err != nil {
				log.Warn("journal prune failed", "error", err)
			} else if n > 0 {
				log.Info("journal pruned", "settlements", n)
			}
		}
		observers = append(observers, jrnl)
	}

	var m *metrics.ChorddMetrics
	if cfg.Metrics.Enabled {
		m = metrics.NewChorddMetrics(metrics.Default())
		observers = append(observers, m)
	}

	out, err := evdev.NewVirtualKeyboard(cfg.Output.Name)
	if err != nil {
		return fmt.Errorf("create virtual keyboard: %w", err)
	}
	defer out.Close()

	stack, err := runner.Build(cfg, runner.Options{
		Sink:      out,
		Sleep:     time.Sleep,
		Logger:    logger.WithComponent("engine").Logger,
		Observers: observers,
	})
	if err != nil {
		return err
	}
	if jrnl != nil {
		if _, err := jrnl.BeginRun(Version, stack.Policy.Describe()); err != nil {
			log.Warn("journal run not recorded", "error", err)
		}
	}

	path := cfg.Input.Device
	if path == "" {
		dev, err := evdev.FindKeyboard(cfg.Output.Name)
		if err != nil {
			return err
		}
		path = dev.Path
		log.Info("using keyboard", "device", dev.Path, "name", dev.Name)
	}
	in, err := evdev.Open(path, cfg.Input.Grab)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer in.Close()
	events, readErrs := in.Events(ctx)

	r, err := runner.New(runner.Config{
		Stack:        stack,
		Input:        runner.FromEvents(ctx, events),
		TickInterval: cfg.TickInterval(),
		Crash:        crash,
		Logger:       logger.WithComponent("runner").Logger,
	})
	if err != nil {
		return err
	}

	checker := health.NewChecker()
	checker.RegisterFunc("engine", true, health.EngineCheck(r.Status))
	if jrnl != nil {
		checker.RegisterFunc("journal", false, health.JournalCheck(jrnl.Ping, jrnl.Dropped))
	}

	if m != nil {
		m.WatchLoop(r.Status)
		if jrnl != nil {
			m.WatchJournal(jrnl.Written, jrnl.Dropped)
		}
		routes := []metrics.Route{
			{Path: "/healthz", Handler: checker.HealthHandler()},
			{Path: "/livez", Handler: checker.LivenessHandler()},
			{Path: "/readyz", Handler: checker.ReadinessHandler()},
		}
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Listen, metrics.Default(), log, routes...); err != nil {
				log.Error("metrics server failed", "error", err)
			}
		}()
	}

	if cfg.DBus.Enabled {
		bus := busnotify.New(busnotify.Config{
			Source:      r,
			Reload:      loader.Reload,
			IncludeKeys: cfg.Logging.LogKeystrokes,
			Logger:      logger.WithComponent("dbus").Logger,
		})
		if err := bus.Start(ctx); err != nil {
			log.Warn("session bus unavailable", "error", err)
		} else {
			stack.Engine.AddObserver(bus)
		}
	}

	watchConfig(ctx, loader, r, log)

	if err := dm.WriteState(&runner.DaemonState{
		PID:        os.Getpid(),
		StartedAt:  time.Now(),
		Version:    Version,
		ConfigPath: loader.Path(),
		Device:     path,
		Output:     cfg.Output.Name,
		Metrics:    metricsAddr(cfg),
		Journal:    journalPath(cfg),
	}); err != nil {
		log.Warn("write state file failed", "error", err)
	}

	checker.SetReady(true)
	log.Info("chordd started", "version", Version, "device", path, "policy", stack.Policy.Describe())

	err = r.Run(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		log.Info("chordd stopped")
		return nil
	case errors.Is(err, runner.ErrInputClosed):
		if rerr, ok := <-readErrs; ok && rerr != nil {
			return rerr
		}
		return fmt.Errorf("input device %s closed", path)
	default:
		return err
	}
}

// watchConfig applies config changes from the file watcher and SIGHUP.
func watchConfig(ctx context.Context, loader *config.Loader, r *runner.Runner, log *slog.Logger) {
	loader.OnChange(func(cfg *config.Config) {
		if err := r.Reconfigure(cfg); err != nil {
			log.Error("config not applied", "error", err)
			return
		}
		log.Info("config reloaded", "path", loader.Path())
	})
	if err := loader.Watch(); err != nil {
		log.Warn("config file not watched", "error", err)
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if err := loader.Reload(); err != nil {
					log.Error("reload failed", "error", err)
				}
			case err, ok := <-loader.Errors():
				if !ok {
					return
				}
				log.Error("config reload failed", "error", err)
			}
		}
	}()
}

func metricsAddr(cfg *config.Config) string {
	if !cfg.Metrics.Enabled {
		return ""
	}
	return cfg.Metrics.Listen
}

func journalPath(cfg *config.Config) string {
	if !cfg.Journal.Enabled {
		return ""
	}
	return cfg.Journal.Path
}
