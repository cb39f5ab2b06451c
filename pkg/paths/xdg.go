// Package paths provides XDG-compliant path resolution for perch.
//
// Resolution order:
// 1. PERCH_HOME (portable root) → $PERCH_HOME/{config,state,cache}
// 2. XDG env vars → $XDG_*_HOME/perch
// 3. Platform defaults → ~/.config/perch, ~/.local/state/perch, etc.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// getConfigHome returns the base config home directory.
func getConfigHome() string {
	if perchHome := os.Getenv("PERCH_HOME"); perchHome != "" {
		return filepath.Join(perchHome, "config")
	}
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return xdgConfigHome
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".config")
	}
	return ""
}

// getStateHome returns the base state home directory.
func getStateHome() string {
	if perchHome := os.Getenv("PERCH_HOME"); perchHome != "" {
		return filepath.Join(perchHome, "state")
	}
	if xdgStateHome := os.Getenv("XDG_STATE_HOME"); xdgStateHome != "" {
		return xdgStateHome
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".local", "state")
	}
	return ""
}

// ConfigDir returns the perch configuration directory.
// Used for config files like perch.yml.
func ConfigDir() string {
	base := getConfigHome()
	if base == "" {
		return ""
	}
	return filepath.Join(base, "perch")
}

// StateDir returns the perch state directory.
// Used for runtime state, the event journal, and logs.
func StateDir() string {
	base := getStateHome()
	if base == "" {
		return ""
	}
	return filepath.Join(base, "perch")
}

// LogDir returns the directory for daemon log files.
func LogDir() string {
	state := StateDir()
	if state == "" {
		return ""
	}
	return filepath.Join(state, "logs")
}

// RuntimeDir returns the perch runtime directory for sockets and pipes.
// Uses XDG_RUNTIME_DIR when available (Linux), falls back to StateDir (macOS).
func RuntimeDir() string {
	if perchHome := os.Getenv("PERCH_HOME"); perchHome != "" {
		return filepath.Join(perchHome, "run")
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "perch")
	}
	return StateDir()
}

// SocketPath returns the path to the perch daemon unix socket.
func SocketPath() string {
	return filepath.Join(RuntimeDir(), "perchd.sock")
}

// PidFilePath returns the path to the perch daemon PID file.
func PidFilePath() string {
	return filepath.Join(StateDir(), "perchd.pid")
}

// JournalPath returns the path to the sqlite event journal.
func JournalPath() string {
	return filepath.Join(StateDir(), "journal.db")
}

// EnsureDirs creates all perch directories if they don't exist.
func EnsureDirs() error {
	dirs := []string{
		ConfigDir(),
		StateDir(),
		LogDir(),
		RuntimeDir(),
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
