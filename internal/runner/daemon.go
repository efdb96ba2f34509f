package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// DaemonState is what a running chordd publishes about itself.
type DaemonState struct {
	PID        int       `json:"pid"`
	StartedAt  time.Time `json:"started_at"`
	Version    string    `json:"version"`
	ConfigPath string    `json:"config_path,omitempty"`
	Device     string    `json:"device,omitempty"`
	Output     string    `json:"output,omitempty"`
	Metrics    string    `json:"metrics,omitempty"`
	Journal    string    `json:"journal,omitempty"`
}

// DaemonStatus is the daemon status for display.
type DaemonStatus struct {
	Running bool
	PID     int
	Uptime  time.Duration
	State   *DaemonState
}

// DaemonManager handles the PID and state files of the daemon.
type DaemonManager struct {
	dir       string
	pidFile   string
	stateFile string
}

// NewDaemonManager creates a manager for files under runtimeDir.
func NewDaemonManager(runtimeDir string) *DaemonManager {
	return &DaemonManager{
		dir:       runtimeDir,
		pidFile:   filepath.Join(runtimeDir, "chordd.pid"),
		stateFile: filepath.Join(runtimeDir, "chordd.state"),
	}
}

// IsRunning checks if the daemon is running.
func (m *DaemonManager) IsRunning() bool {
	pid, err := m.ReadPID()
	if err != nil {
		return false
	}
	return isProcessRunning(pid)
}

// ReadPID reads the daemon's PID from the PID file.
func (m *DaemonManager) ReadPID() (int, error) {
	data, err := os.ReadFile(m.pidFile)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file: %w", err)
	}
	return pid, nil
}

// WritePID writes the current process PID to the PID file.
func (m *DaemonManager) WritePID() error {
	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return fmt.Errorf("create runtime dir: %w", err)
	}
	return os.WriteFile(m.pidFile, []byte(strconv.Itoa(os.Getpid())), 0o600)
}

// WriteState writes the daemon state.
func (m *DaemonManager) WriteState(state *DaemonState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return fmt.Errorf("create runtime dir: %w", err)
	}
	return os.WriteFile(m.stateFile, data, 0o600)
}

// ReadState reads the daemon state.
func (m *DaemonManager) ReadState() (*DaemonState, error) {
	data, err := os.ReadFile(m.stateFile)
	if err != nil {
		return nil, err
	}

	var state DaemonState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &state, nil
}

// SignalStop sends SIGTERM to the daemon.
func (m *DaemonManager) SignalStop() error {
	return m.signal(syscall.SIGTERM)
}

// SignalReload sends SIGHUP to the daemon, which reloads its config.
func (m *DaemonManager) SignalReload() error {
	return m.signal(syscall.SIGHUP)
}

func (m *DaemonManager) signal(sig os.Signal) error {
	pid, err := m.ReadPID()
	if err != nil {
		return fmt.Errorf("read PID: %w", err)
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process: %w", err)
	}
	return process.Signal(sig)
}

// WaitForStop waits for the daemon to stop.
func (m *DaemonManager) WaitForStop(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !m.IsRunning() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("daemon did not stop within %v", timeout)
}

// Cleanup removes the PID and state files.
func (m *DaemonManager) Cleanup() {
	os.Remove(m.pidFile)
	os.Remove(m.stateFile)
}

// Status returns the current daemon status.
func (m *DaemonManager) Status() *DaemonStatus {
	status := &DaemonStatus{}

	if pid, err := m.ReadPID(); err == nil && isProcessRunning(pid) {
		status.Running = true
		status.PID = pid
	}
	if state, err := m.ReadState(); err == nil {
		status.State = state
		if status.Running {
			status.Uptime = time.Since(state.StartedAt)
		}
	}
	return status
}

// isProcessRunning sends signal 0, which only checks that pid exists.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
