package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "perch.yml", `
version: "1"
nodes:
  - name: local
    local: true
  - name: buildbox
    address: dev@buildbox
    sessions_root: /srv/claude/projects
tracker:
  scan_interval: 5s
  ignore:
    - "-tmp-*/**"
  launch_command: "claude --session-id {{session}}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Nodes, 2)
	assert.Equal(t, "buildbox", cfg.Nodes[1].Name)
	assert.Equal(t, "dev@buildbox", cfg.Nodes[1].Address)
	assert.Equal(t, "/srv/claude/projects", cfg.Nodes[1].SessionsRoot)
	assert.Equal(t, "5s", cfg.Tracker.ScanInterval)
	assert.Equal(t, []string{"-tmp-*/**"}, cfg.Tracker.Ignore)
	assert.Contains(t, cfg.Tracker.LaunchCommand, "{{session}}")
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "perch.toml", `
version = "1"

[[nodes]]
name = "local"
local = true

[tracker]
reap_after = "15m"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Nodes, 1)
	assert.True(t, cfg.Nodes[0].Local)
	assert.Equal(t, "15m", cfg.Tracker.ReapAfter)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "perch.yml", "nodes: [unclosed")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEffectiveNodesDefault(t *testing.T) {
	cfg := &Config{}
	nodes := cfg.EffectiveNodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, "local", nodes[0].Name)
	assert.True(t, nodes[0].Local)
}

func TestNodeByName(t *testing.T) {
	cfg := &Config{Nodes: []Node{{Name: "a"}, {Name: "b", Address: "u@b"}}}

	node, ok := cfg.NodeByName("b")
	require.True(t, ok)
	assert.Equal(t, "u@b", node.Address)

	_, ok = cfg.NodeByName("c")
	assert.False(t, ok)
}

func TestUnmarshalExtension(t *testing.T) {
	path := writeConfig(t, "perch.yml", `
nodes:
  - name: local
    local: true
mytool:
  endpoint: http://localhost:9999
  retries: 3
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	var ext struct {
		Endpoint string `yaml:"endpoint"`
		Retries  int    `yaml:"retries"`
	}
	require.NoError(t, cfg.UnmarshalExtension("mytool", &ext))
	assert.Equal(t, "http://localhost:9999", ext.Endpoint)
	assert.Equal(t, 3, ext.Retries)

	// Unknown sections are not an error.
	require.NoError(t, cfg.UnmarshalExtension("absent", &ext))
}
