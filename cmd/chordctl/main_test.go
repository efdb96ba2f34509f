package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chordd/internal/chord"
	"chordd/internal/journal"
	"chordd/internal/keycode"
	"chordd/internal/runner"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--color", "never"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestSimulatePasses(t *testing.T) {
	out, err := execute(t, "simulate", filepath.Join("..", "..", "internal", "scenario", "testdata", "chord.json"))
	require.NoError(t, err)
	assert.Contains(t, out, "LSFT+U")
	assert.Contains(t, out, "settled MT(LSFT,F) hold after 50ms (chord)")
	assert.Contains(t, out, "PASS")
}

func TestSimulateFails(t *testing.T) {
	path := writeFile(t, "bad.yaml", `
name: wrong expectation
events:
  - {at_ms: 0, press: F}
  - {at_ms: 30, release: F}
expect:
  reports: ["LSFT"]
`)
	out, err := execute(t, "simulate", "--quiet", path)
	require.EqualError(t, err, "1 of 1 scenarios failed")
	assert.Contains(t, out, "FAIL  wrong expectation")
	assert.Contains(t, out, "reports: want [LSFT], got [F -]")
	assert.NotContains(t, out, "final:", "quiet hides the transcript")
}

func TestSimulateBadFile(t *testing.T) {
	path := writeFile(t, "bad.yaml", "name: x\nevents: []\n")
	_, err := execute(t, "simulate", path)
	assert.Error(t, err)
}

func TestKeycode(t *testing.T) {
	out, err := execute(t, "keycode", "LSFT_T(F)", "MT(LCTL|LALT,A)", "ESC")
	require.NoError(t, err)
	assert.Contains(t, out, "MT(LSFT,F)")
	assert.Contains(t, out, "mod-tap: tap F, hold LSFT")
	assert.Contains(t, out, "hold LCTL|LALT")
	assert.Contains(t, out, "evdev 1")

	_, err = execute(t, "keycode", "NOPE")
	assert.Error(t, err)
}

func TestCheckConfig(t *testing.T) {
	path := writeFile(t, "chordd.toml", "[timeouts]\ndefault_ms = 200\n")
	out, err := execute(t, "check-config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "config:   "+path)
	assert.Contains(t, out, "OK")

	path = writeFile(t, "chordd.toml", "[timeouts]\ndefault_ms = -5\n")
	_, err = execute(t, "check-config", path)
	assert.Error(t, err)
}

func TestSchema(t *testing.T) {
	out, err := execute(t, "schema")
	require.NoError(t, err)
	assert.Contains(t, out, `"events"`)
}

func TestStats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := journal.Open(path, journal.Options{})
	require.NoError(t, err)
	pressed := time.Now().Add(-time.Minute)
	require.NoError(t, j.Record(chord.Settlement{
		Keycode: keycode.MustParse("LSFT_T(F)"),
		Outcome: chord.OutcomeHold,
		Reason:  chord.ReasonChord,
		Other:   keycode.U,
		Pressed: pressed,
		Settled: pressed.Add(40 * time.Millisecond),
	}))
	require.NoError(t, j.Close())

	out, err := execute(t, "stats", "--journal", path, "--recent", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "MT(LSFT,F)")
	assert.Contains(t, out, "100.0%")
	assert.Contains(t, out, "Recent settlements")
	assert.Contains(t, out, "hold (chord, 40ms)")

	_, err = execute(t, "stats", "--journal", filepath.Join(t.TempDir(), "missing.db"))
	assert.Error(t, err)
}

func TestUseColor(t *testing.T) {
	var buf bytes.Buffer
	assert.False(t, useColor(&buf, "auto"), "buffers are not terminals")
	assert.True(t, useColor(&buf, "always"))
	assert.False(t, useColor(&buf, "never"))
}

func TestPrintDaemonStatus(t *testing.T) {
	var buf bytes.Buffer
	printDaemonStatus(&buf, &runner.DaemonStatus{})
	assert.Equal(t, "chordd is not running\n", buf.String())

	buf.Reset()
	printDaemonStatus(&buf, &runner.DaemonStatus{
		Running: true,
		PID:     42,
		Uptime:  90 * time.Second,
		State:   &runner.DaemonState{Version: "1.0", Metrics: "127.0.0.1:9464"},
	})
	assert.Contains(t, buf.String(), "PID 42, up 1m30s")
	assert.Contains(t, buf.String(), "http://127.0.0.1:9464/metrics")
	assert.NotContains(t, buf.String(), "journal:")
}

func TestPrintEngineStatus(t *testing.T) {
	var buf bytes.Buffer
	printEngineStatus(&buf, map[string]any{"state": "released", "events": uint64(3)})
	assert.Equal(t, "engine:\n  events       3\n  state        released\n", buf.String())
}
