package config

import (
	"github.com/perchtools/perch/logging"
)

// Node describes one compute host whose agent sessions are tracked.
// The zero-config default is a single local node named "local".
type Node struct {
	// Name uniquely identifies the node. Identity for everything downstream.
	Name string `yaml:"name" toml:"name" json:"name" jsonschema:"required,description=Unique node name"`
	// Address is the ssh target (user@host) for remote nodes. Empty for local.
	Address string `yaml:"address,omitempty" toml:"address,omitempty" json:"address,omitempty" jsonschema:"description=SSH target for remote nodes (user@host)"`
	// Local marks the node as the machine the daemon runs on.
	Local bool `yaml:"local,omitempty" toml:"local,omitempty" json:"local,omitempty" jsonschema:"description=True when this is the local machine"`
	// SessionsRoot overrides the directory scanned for session files on this
	// node. Defaults to ~/.claude/projects.
	SessionsRoot string `yaml:"sessions_root,omitempty" toml:"sessions_root,omitempty" json:"sessions_root,omitempty" jsonschema:"description=Root directory containing per-project session directories"`
}

// TrackerConfig holds tunables for the discovery and tailing engine.
// All durations are Go duration strings ("3s", "10m"). Zero values fall back
// to the built-in defaults.
type TrackerConfig struct {
	ScanInterval   string   `yaml:"scan_interval,omitempty" toml:"scan_interval,omitempty" json:"scan_interval,omitempty" jsonschema:"description=Interval between discovery scans per node"`
	PollInterval   string   `yaml:"poll_interval,omitempty" toml:"poll_interval,omitempty" json:"poll_interval,omitempty" jsonschema:"description=Backstop poll interval for local file tailing"`
	ActivityWindow string   `yaml:"activity_window,omitempty" toml:"activity_window,omitempty" json:"activity_window,omitempty" jsonschema:"description=Only sessions modified within this window are adopted on the first scan"`
	ReapAfter      string   `yaml:"reap_after,omitempty" toml:"reap_after,omitempty" json:"reap_after,omitempty" jsonschema:"description=Local agents silent for longer than this are removed"`
	ConnectTimeout string   `yaml:"connect_timeout,omitempty" toml:"connect_timeout,omitempty" json:"connect_timeout,omitempty" jsonschema:"description=SSH connection timeout for remote nodes"`
	CommandTimeout string   `yaml:"command_timeout,omitempty" toml:"command_timeout,omitempty" json:"command_timeout,omitempty" jsonschema:"description=Overall timeout for one-shot remote commands"`
	Ignore         []string `yaml:"ignore,omitempty" toml:"ignore,omitempty" json:"ignore,omitempty" jsonschema:"description=Patterns (dockerignore syntax) of session paths to never adopt"`
	// LaunchCommand starts a new assistant session. The binding id replaces
	// the {{session}} placeholder so the produced file can be claimed
	// deterministically.
	LaunchCommand string `yaml:"launch_command,omitempty" toml:"launch_command,omitempty" json:"launch_command,omitempty" jsonschema:"description=Command template used by 'perch launch'; {{session}} is replaced by the pre-declared session id"`
}

// Config is the root of perch.yml / perch.toml.
type Config struct {
	Version string         `yaml:"version,omitempty" toml:"version,omitempty" json:"version,omitempty" jsonschema:"description=Configuration version"`
	Nodes   []Node         `yaml:"nodes,omitempty" toml:"nodes,omitempty" json:"nodes,omitempty" jsonschema:"description=Compute nodes to track. Defaults to a single local node"`
	Tracker TrackerConfig  `yaml:"tracker,omitempty" toml:"tracker,omitempty" json:"tracker,omitempty" jsonschema:"description=Discovery and tailing tunables"`
	Logging logging.Config `yaml:"logging,omitempty" toml:"logging,omitempty" json:"logging,omitempty" jsonschema:"description=Logging configuration"`

	// Extensions carries sections owned by other tools; decoded on demand
	// with UnmarshalExtension.
	Extensions map[string]interface{} `yaml:",inline" toml:"-" json:"-"`
}

// DefaultNodes is used when the config file is absent or lists no nodes.
func DefaultNodes() []Node {
	return []Node{{Name: "local", Local: true}}
}

// NodeByName returns the configured node with the given name.
func (c *Config) NodeByName(name string) (Node, bool) {
	for _, n := range c.EffectiveNodes() {
		if n.Name == name {
			return n, true
		}
	}
	return Node{}, false
}

// EffectiveNodes returns the configured node list, or the default single
// local node when none are configured.
func (c *Config) EffectiveNodes() []Node {
	if len(c.Nodes) == 0 {
		return DefaultNodes()
	}
	return c.Nodes
}
