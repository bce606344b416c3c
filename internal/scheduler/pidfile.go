package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"zesty-backup/internal/errors"
)

// WritePIDFile records the current process id. It refuses to overwrite the
// file of another daemon that is still running.
func WritePIDFile(path string) error {
	if pid, err := ReadPIDFile(path); err == nil && pid != os.Getpid() && ProcessRunning(pid) {
		return errors.NewConfigError(fmt.Sprintf("daemon already running with PID %d (%s)", pid, path), nil)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewConfigError(fmt.Sprintf("failed to create PID file directory for %s", path), err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return errors.NewConfigError(fmt.Sprintf("failed to create PID file: %s", path), err)
	}
	return nil
}

// ReadPIDFile returns the process id stored in path
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("failed to parse PID in %s: %w", path, err)
	}
	return pid, nil
}

// RemovePIDFile removes path if it still holds the current process id
func RemovePIDFile(path string) error {
	pid, err := ReadPIDFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if pid != os.Getpid() {
		return nil
	}
	return os.Remove(path)
}

// ProcessRunning reports whether a process with pid exists
func ProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
