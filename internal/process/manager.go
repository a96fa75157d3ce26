// Package process tracks the background proxy through a PID file.
package process

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

const PIDFilename = ".chat-proxy.pid"

var ErrStartTimeout = errors.New("service startup timeout")

type Manager struct {
	pidFile string
	logger  *slog.Logger
	mu      sync.RWMutex
}

func NewManager(baseDir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		pidFile: filepath.Join(baseDir, PIDFilename),
		logger:  logger,
	}
}

func (m *Manager) PIDFile() string {
	return m.pidFile
}

func (m *Manager) WritePID() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(m.pidFile), 0750); err != nil {
		return fmt.Errorf("create pid directory: %w", err)
	}

	pid := strconv.Itoa(os.Getpid())

	return os.WriteFile(m.pidFile, []byte(pid), 0600)
}

// ReadPID returns 0 when the file is missing or unreadable.
func (m *Manager) ReadPID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, err := os.ReadFile(m.pidFile)
	if err != nil {
		return 0
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0
	}

	return pid
}

// IsRunning probes the recorded process and removes a stale PID file.
func (m *Manager) IsRunning() bool {
	pid := m.ReadPID()
	if pid == 0 {
		return false
	}

	if err := syscall.Kill(pid, 0); err != nil && !errors.Is(err, syscall.EPERM) {
		m.CleanupPID()
		return false
	}

	return true
}

// Stop sends SIGTERM and waits up to timeout for the process to exit.
func (m *Manager) Stop(timeout time.Duration) error {
	pid := m.ReadPID()
	if pid == 0 {
		return nil
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			m.CleanupPID()
			return nil
		}
		return fmt.Errorf("failed to send SIGTERM to process %d: %w", pid, err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !m.IsRunning() {
			return nil
		}

		time.Sleep(100 * time.Millisecond)
	}

	m.CleanupPID()

	return fmt.Errorf("process %d did not exit within %s", pid, timeout)
}

func (m *Manager) CleanupPID() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.Remove(m.pidFile); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("Failed to remove PID file", "path", m.pidFile, "error", err)
	}
}

// WaitForService polls until the PID file names a live process.
func (m *Manager) WaitForService(timeout time.Duration) bool {
	expire := time.Now().Add(timeout)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(expire) {
		if m.IsRunning() {
			return true
		}

		<-ticker.C
	}

	return false
}

// StartDetached re-executes the current binary with args in the background
// unless a proxy is already running. It reports whether a process was started.
func (m *Manager) StartDetached(args ...string) (bool, error) {
	if m.IsRunning() {
		return false, nil
	}

	cmd := exec.Command(os.Args[0], args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return false, fmt.Errorf("failed to start service: %w", err)
	}

	if err := cmd.Process.Release(); err != nil {
		m.logger.Debug("Failed to release child process", "error", err)
	}

	if !m.WaitForService(10 * time.Second) {
		return false, ErrStartTimeout
	}

	return true, nil
}
