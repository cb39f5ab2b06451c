package tracker

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/moby/patternmatcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSession(t *testing.T, root, project, name string, mod time.Time) string {
	t.Helper()
	dir := filepath.Join(root, project)
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0644))
	if !mod.IsZero() {
		require.NoError(t, os.Chtimes(path, mod, mod))
	}
	return path
}

type discoveredSink struct {
	mu    sync.Mutex
	paths []string
}

func (d *discoveredSink) record(_ Node, path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paths = append(d.paths, path)
}

func (d *discoveredSink) all() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.paths...)
}

func testScannerSettings() Settings {
	s := DefaultSettings()
	s.ScanInterval = 10 * time.Millisecond
	s.ActivityWindow = time.Hour
	return s
}

func TestScannerEmitsEachFileOnce(t *testing.T) {
	root := t.TempDir()
	path := writeSession(t, root, "-home-u-proj", "abc.jsonl", time.Time{})

	sink := &discoveredSink{}
	node := Node{Name: "local", Local: true, SessionsRoot: root}
	sc := newScanner(testLogger(), node, nil, testScannerSettings(), nil, sink.record, nil)

	sc.scanOnce(context.Background())
	sc.scanOnce(context.Background())
	sc.scanOnce(context.Background())

	assert.Equal(t, []string{path}, sink.all(), "a file is handed over exactly once")
}

func TestScannerFirstScanWindow(t *testing.T) {
	root := t.TempDir()
	old := writeSession(t, root, "-home-u-proj", "old.jsonl", time.Now().Add(-2*time.Hour))
	fresh := writeSession(t, root, "-home-u-proj", "fresh.jsonl", time.Now())

	sink := &discoveredSink{}
	node := Node{Name: "local", Local: true, SessionsRoot: root}
	sc := newScanner(testLogger(), node, nil, testScannerSettings(), nil, sink.record, nil)

	sc.scanOnce(context.Background())
	assert.Equal(t, []string{fresh}, sink.all(), "stale history is skipped on the first scan")

	// The old file stays skipped on later scans too: it was recorded as seen.
	sc.scanOnce(context.Background())
	assert.NotContains(t, sink.all(), old)
}

func TestScannerLaterScansIgnoreWindow(t *testing.T) {
	root := t.TempDir()
	node := Node{Name: "local", Local: true, SessionsRoot: root}
	sink := &discoveredSink{}
	sc := newScanner(testLogger(), node, nil, testScannerSettings(), nil, sink.record, nil)

	sc.scanOnce(context.Background())
	require.Empty(t, sink.all())

	// Appears after the first scan with an old mtime; the window no longer
	// applies, new files are new sessions regardless of timestamp.
	late := writeSession(t, root, "-home-u-proj", "late.jsonl", time.Now().Add(-2*time.Hour))
	sc.scanOnce(context.Background())
	assert.Equal(t, []string{late}, sink.all())
}

func TestScannerSkipsKnownFiles(t *testing.T) {
	root := t.TempDir()
	writeSession(t, root, "-home-u-proj", "claimed.jsonl", time.Time{})

	sink := &discoveredSink{}
	node := Node{Name: "local", Local: true, SessionsRoot: root}
	sc := newScanner(testLogger(), node, nil, testScannerSettings(), nil, sink.record,
		func(nodeName, path string) bool { return true })

	sc.scanOnce(context.Background())
	assert.Empty(t, sink.all(), "files already owned are not re-emitted")
}

func TestScannerIgnorePatterns(t *testing.T) {
	root := t.TempDir()
	writeSession(t, root, "-tmp-scratch", "x.jsonl", time.Time{})
	kept := writeSession(t, root, "-home-u-proj", "y.jsonl", time.Time{})

	matcher, err := patternmatcher.New([]string{"-tmp-*/**"})
	require.NoError(t, err)

	sink := &discoveredSink{}
	node := Node{Name: "local", Local: true, SessionsRoot: root}
	sc := newScanner(testLogger(), node, nil, testScannerSettings(), matcher, sink.record, nil)

	sc.scanOnce(context.Background())
	assert.Equal(t, []string{kept}, sink.all())
}

func TestScannerMissingRoot(t *testing.T) {
	sink := &discoveredSink{}
	node := Node{Name: "local", Local: true, SessionsRoot: filepath.Join(t.TempDir(), "nope")}
	sc := newScanner(testLogger(), node, nil, testScannerSettings(), nil, sink.record, nil)

	sc.scanOnce(context.Background())
	assert.Empty(t, sink.all())
}

func TestProjectKeyRoundTrip(t *testing.T) {
	key := EncodeProjectKey("/home/u/work/api")
	assert.Equal(t, "-home-u-work-api", key)
	assert.Equal(t, "/home/u/work/api", DecodeProjectKey(key))
}
