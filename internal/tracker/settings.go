package tracker

import "time"

// Settings holds the timing knobs of the tracking engine. Tests shorten
// these aggressively; production uses DefaultSettings, optionally overridden
// from the tracker section of perch.yml.
type Settings struct {
	// ScanInterval is the pause between discovery scans of one node.
	ScanInterval time.Duration
	// PollInterval is the backstop poll for local file tailing. The fsnotify
	// watch is the low-latency path; the poll guarantees progress when
	// notifications are missed.
	PollInterval time.Duration
	// CompletionDelay postpones operation-completed notifications so a
	// start+completion pair arriving in one batch is still visible as a
	// transient active state.
	CompletionDelay time.Duration
	// TurnDebounce is how long a text-only turn-end signal waits before the
	// agent is declared waiting. Cancelled by any operation start or prompt.
	TurnDebounce time.Duration
	// RotationStaleAfter is how long a bound file must be silent before its
	// agent is considered for rebinding to a newer file.
	RotationStaleAfter time.Duration
	// ReapInterval is the period of the staleness sweep.
	ReapInterval time.Duration
	// ReapAfter removes local agents whose file has not changed for this long.
	ReapAfter time.Duration
	// ActivityWindow limits the very first scan per node (and every remote
	// scan) to recently modified sessions.
	ActivityWindow time.Duration
	// ConnectTimeout and CommandTimeout bound remote operations.
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	// RemoteBacklogLines is the tail backlog requested when a remote session
	// stream starts.
	RemoteBacklogLines int
}

// DefaultSettings returns the production defaults.
func DefaultSettings() Settings {
	return Settings{
		ScanInterval:       3 * time.Second,
		PollInterval:       2 * time.Second,
		CompletionDelay:    300 * time.Millisecond,
		TurnDebounce:       2 * time.Second,
		RotationStaleAfter: 3 * time.Second,
		ReapInterval:       60 * time.Second,
		ReapAfter:          10 * time.Minute,
		ActivityWindow:     time.Hour,
		ConnectTimeout:     5 * time.Second,
		CommandTimeout:     15 * time.Second,
		RemoteBacklogLines: 50,
	}
}
