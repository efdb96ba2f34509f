// Package busnotify publishes engine state on the D-Bus session bus.
//
// The service owns org.chordd.Engine and exports one object with State,
// Status and Reload methods. Every settlement is broadcast as a Settled
// signal so status bars can show when a modifier is held.
package busnotify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"chordd/internal/chord"
	"chordd/internal/runner"
)

// D-Bus names.
const (
	BusName    = "org.chordd.Engine"
	ObjectPath = dbus.ObjectPath("/org/chordd/Engine")
	Interface  = "org.chordd.Engine"

	SettledSignal = Interface + ".Settled"
)

const introspectXML = `
<node>
	<interface name="` + Interface + `">
		<method name="State">
			<arg direction="out" type="s"/>
		</method>
		<method name="Status">
			<arg direction="out" type="a{sv}"/>
		</method>
		<method name="Reload"/>
		<signal name="Settled">
			<arg name="keycode" type="s"/>
			<arg name="outcome" type="s"/>
			<arg name="reason" type="s"/>
			<arg name="latency_us" type="x"/>
		</signal>
	</interface>` + introspect.IntrospectDataString + `</node>`

const snapshotTimeout = 2 * time.Second

// ErrNameTaken means another process owns BusName.
var ErrNameTaken = errors.New("busnotify: bus name already taken")

// Conn is the part of *dbus.Conn the service uses.
type Conn interface {
	RequestName(name string, flags dbus.RequestNameFlags) (dbus.RequestNameReply, error)
	Export(v any, path dbus.ObjectPath, iface string) error
	Emit(path dbus.ObjectPath, name string, values ...any) error
	Close() error
}

// Source answers state queries. *runner.Runner implements it.
type Source interface {
	Snapshot(ctx context.Context) (chord.Snapshot, error)
	Status() runner.Status
}

// Config configures a Service.
type Config struct {
	Source Source

	// Reload is called by the Reload method. Nil rejects the call.
	Reload func() error

	// IncludeKeys puts the settled keycode in signals. Without it the
	// keycode argument is empty.
	IncludeKeys bool

	// QueueSize bounds signals waiting to be emitted. Default 64.
	QueueSize int

	Logger *slog.Logger
}

// Service is the D-Bus service. It implements chord.Observer.
type Service struct {
	cfg     Config
	log     *slog.Logger
	conn    Conn
	signals chan chord.Settlement
	done    chan struct{}
	dropped atomic.Uint64
	emitted atomic.Uint64
}

var _ chord.Observer = (*Service)(nil)

// New creates a service. It does nothing until Start.
func New(cfg Config) *Service {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		cfg:     cfg,
		log:     cfg.Logger,
		signals: make(chan chord.Settlement, cfg.QueueSize),
		done:    make(chan struct{}),
	}
}

// Start connects to the session bus and serves until ctx is done.
func (s *Service) Start(ctx context.Context) error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("connect session bus: %w", err)
	}
	if err := s.StartConn(ctx, conn); err != nil {
		conn.Close()
		return err
	}
	return nil
}

// StartConn is Start on an existing connection, which the service closes
// when ctx is done.
func (s *Service) StartConn(ctx context.Context, conn Conn) error {
	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return ErrNameTaken
	}

	if err := conn.Export(&methods{s}, ObjectPath, Interface); err != nil {
		return fmt.Errorf("export engine: %w", err)
	}
	if err := conn.Export(introspect.Introspectable(introspectXML), ObjectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("export introspection: %w", err)
	}

	s.conn = conn
	go s.emitLoop(ctx)
	s.log.Info("dbus service started", "name", BusName, "path", ObjectPath)
	return nil
}

// Done is closed once the service has stopped.
func (s *Service) Done() <-chan struct{} {
	return s.done
}

// Settled queues a Settled signal. It never blocks.
func (s *Service) Settled(st chord.Settlement) {
	select {
	case s.signals <- st:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns how many signals were dropped on a full queue.
func (s *Service) Dropped() uint64 {
	return s.dropped.Load()
}

// Emitted returns how many signals were sent.
func (s *Service) Emitted() uint64 {
	return s.emitted.Load()
}

func (s *Service) emitLoop(ctx context.Context) {
	defer close(s.done)
	defer s.conn.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case st := <-s.signals:
			key := ""
			if s.cfg.IncludeKeys {
				key = st.Keycode.String()
			}
			err := s.conn.Emit(ObjectPath, SettledSignal,
				key, st.Outcome.String(), st.Reason.String(), st.Latency().Microseconds())
			if err != nil {
				s.log.Warn("emit settled signal", "error", err)
				continue
			}
			s.emitted.Add(1)
		}
	}
}

// methods holds the exported D-Bus methods so Settled is not exported.
type methods struct {
	s *Service
}

// State returns the engine state name.
func (m *methods) State() (string, *dbus.Error) {
	if m.s.cfg.Source == nil {
		return "", dbus.MakeFailedError(errors.New("no engine"))
	}
	return m.s.cfg.Source.Status().State.String(), nil
}

// Status returns loop counters and the pending key.
func (m *methods) Status() (map[string]dbus.Variant, *dbus.Error) {
	src := m.s.cfg.Source
	if src == nil {
		return nil, dbus.MakeFailedError(errors.New("no engine"))
	}
	st := src.Status()
	out := map[string]dbus.Variant{
		"running":    dbus.MakeVariant(st.Running),
		"state":      dbus.MakeVariant(st.State.String()),
		"events":     dbus.MakeVariant(st.Events),
		"reloads":    dbus.MakeVariant(st.Reloads),
		"panics":     dbus.MakeVariant(st.Panics),
		"signals":    dbus.MakeVariant(m.s.emitted.Load()),
		"last_event": dbus.MakeVariant(st.LastEvent.UnixMilli()),
	}

	if st.Running {
		ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
		defer cancel()
		snap, err := src.Snapshot(ctx)
		if err != nil {
			return nil, dbus.MakeFailedError(err)
		}
		out["eager_mods"] = dbus.MakeVariant(snap.EagerMods.String())
		out["streak"] = dbus.MakeVariant(snap.StreakActive)
		if m.s.cfg.IncludeKeys && snap.Pending != 0 {
			out["pending"] = dbus.MakeVariant(snap.Pending.String())
		}
	}
	return out, nil
}

// Reload asks the daemon to reread its configuration.
func (m *methods) Reload() *dbus.Error {
	if m.s.cfg.Reload == nil {
		return dbus.MakeFailedError(errors.New("reload not supported"))
	}
	if err := m.s.cfg.Reload(); err != nil {
		return dbus.MakeFailedError(err)
	}
	return nil
}

// Caller is the part of a D-Bus object the client uses.
type Caller interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...any) *dbus.Call
}

// QueryStatus calls Status on the running daemon over the session bus.
func QueryStatus(ctx context.Context) (map[string]any, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	defer conn.Close()
	return StatusOf(ctx, conn.Object(BusName, ObjectPath))
}

// StatusOf calls Status on obj and unwraps the variants.
func StatusOf(ctx context.Context, obj Caller) (map[string]any, error) {
	var raw map[string]dbus.Variant
	if err := obj.CallWithContext(ctx, Interface+".Status", 0).Store(&raw); err != nil {
		return nil, fmt.Errorf("query status: %w", err)
	}
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[k] = v.Value()
	}
	return out, nil
}
