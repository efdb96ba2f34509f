package busnotify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chordd/internal/chord"
	"chordd/internal/keycode"
	"chordd/internal/runner"
)

type emitted struct {
	name   string
	values []any
}

type fakeConn struct {
	mu      sync.Mutex
	reply   dbus.RequestNameReply
	exports map[string]any
	emits   []emitted
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{reply: dbus.RequestNameReplyPrimaryOwner, exports: map[string]any{}}
}

func (c *fakeConn) RequestName(string, dbus.RequestNameFlags) (dbus.RequestNameReply, error) {
	return c.reply, nil
}

func (c *fakeConn) Export(v any, _ dbus.ObjectPath, iface string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exports[iface] = v
	return nil
}

func (c *fakeConn) Emit(_ dbus.ObjectPath, name string, values ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emits = append(c.emits, emitted{name, values})
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) signals() []emitted {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]emitted(nil), c.emits...)
}

type fakeSource struct {
	status runner.Status
	snap   chord.Snapshot
}

func (f fakeSource) Snapshot(context.Context) (chord.Snapshot, error) { return f.snap, nil }
func (f fakeSource) Status() runner.Status                           { return f.status }

func settlement() chord.Settlement {
	pressed := time.Unix(10, 0)
	return chord.Settlement{
		Keycode: keycode.MustParse("LSFT_T(F)"),
		Outcome: chord.OutcomeHold,
		Reason:  chord.ReasonChord,
		Pressed: pressed,
		Settled: pressed.Add(40 * time.Millisecond),
	}
}

func start(t *testing.T, cfg Config) (*Service, *fakeConn, context.CancelFunc) {
	t.Helper()
	conn := newFakeConn()
	s := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.StartConn(ctx, conn))
	t.Cleanup(func() {
		cancel()
		<-s.Done()
	})
	return s, conn, cancel
}

func TestSettledEmitsSignal(t *testing.T) {
	s, conn, _ := start(t, Config{})
	s.Settled(settlement())

	require.Eventually(t, func() bool { return s.Emitted() == 1 }, 5*time.Second, time.Millisecond)
	sig := conn.signals()[0]
	assert.Equal(t, SettledSignal, sig.name)
	assert.Equal(t, []any{"", "hold", "chord", int64(40000)}, sig.values, "keycode is redacted by default")
}

func TestSettledIncludesKeys(t *testing.T) {
	s, conn, _ := start(t, Config{IncludeKeys: true})
	s.Settled(settlement())

	require.Eventually(t, func() bool { return s.Emitted() == 1 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, "MT(LSFT,F)", conn.signals()[0].values[0])
}

func TestSettledDropsWhenFull(t *testing.T) {
	s := New(Config{QueueSize: 1})
	s.Settled(settlement())
	s.Settled(settlement())
	assert.Equal(t, uint64(1), s.Dropped())
}

func TestNameTaken(t *testing.T) {
	conn := newFakeConn()
	conn.reply = dbus.RequestNameReplyExists
	err := New(Config{}).StartConn(context.Background(), conn)
	assert.ErrorIs(t, err, ErrNameTaken)
}

func TestStopClosesConn(t *testing.T) {
	s, conn, cancel := start(t, Config{})
	cancel()
	<-s.Done()
	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.True(t, conn.closed)
}

func TestMethods(t *testing.T) {
	src := fakeSource{
		status: runner.Status{Running: true, State: chord.StateUnsettled, Events: 3},
		snap:   chord.Snapshot{State: chord.StateUnsettled, Pending: keycode.MustParse("LSFT_T(F)"), EagerMods: keycode.MaskLShift},
	}
	reloads := 0
	_, conn, _ := start(t, Config{Source: src, Reload: func() error { reloads++; return nil }})

	m, ok := conn.exports[Interface].(*methods)
	require.True(t, ok)
	_, ok = conn.exports["org.freedesktop.DBus.Introspectable"]
	assert.True(t, ok)

	state, derr := m.State()
	assert.Nil(t, derr)
	assert.Equal(t, "unsettled", state)

	status, derr := m.Status()
	require.Nil(t, derr)
	assert.Equal(t, uint64(3), status["events"].Value())
	assert.Equal(t, "LSFT", status["eager_mods"].Value())
	_, ok = status["pending"]
	assert.False(t, ok, "pending key is redacted by default")

	assert.Nil(t, m.Reload())
	assert.Equal(t, 1, reloads)
}

func TestMethodsWithoutSource(t *testing.T) {
	m := &methods{New(Config{})}
	_, derr := m.State()
	assert.NotNil(t, derr)
	_, derr = m.Status()
	assert.NotNil(t, derr)
	assert.NotNil(t, m.Reload())

	m = &methods{New(Config{Reload: func() error { return errors.New("bad config") }})}
	assert.NotNil(t, m.Reload())
}

type fakeCaller struct {
	body []any
	err  error
}

func (f fakeCaller) CallWithContext(_ context.Context, method string, _ dbus.Flags, _ ...any) *dbus.Call {
	return &dbus.Call{Method: method, Body: f.body, Err: f.err}
}

func TestStatusOf(t *testing.T) {
	raw := map[string]dbus.Variant{
		"state":  dbus.MakeVariant("holding"),
		"events": dbus.MakeVariant(uint64(7)),
	}
	got, err := StatusOf(context.Background(), fakeCaller{body: []any{raw}})
	require.NoError(t, err)
	assert.Equal(t, "holding", got["state"])
	assert.Equal(t, uint64(7), got["events"])

	_, err = StatusOf(context.Background(), fakeCaller{err: errors.New("no reply")})
	assert.Error(t, err)
}
