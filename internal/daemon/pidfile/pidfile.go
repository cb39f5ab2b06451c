// Package pidfile tracks which process owns the perchd instance. The file
// holds a single decimal pid; a pid whose process no longer exists is stale
// and silently replaced.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/perchtools/perch/pkg/process"
)

// Acquire claims the pidfile for the current process. A live owner is an
// error; anything else (missing file, stale pid, garbage content) is
// overwritten.
func Acquire(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create pid directory: %w", err)
	}

	if pid, err := Read(path); err == nil && process.IsProcessAlive(pid) {
		return fmt.Errorf("daemon already running with PID %d", pid)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// Release removes the pidfile.
func Release(path string) error {
	return os.Remove(path)
}

// Read parses the pid recorded at path.
func Read(path string) (int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(content)))
}

// IsRunning reports whether the recorded process is alive. A missing pidfile
// means not running, not an error.
func IsRunning(path string) (bool, int, error) {
	pid, err := Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	return process.IsProcessAlive(pid), pid, nil
}
