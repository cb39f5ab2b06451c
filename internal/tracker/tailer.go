package tracker

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// tailer is what the supervisor holds per agent: something it can stop and
// ask for a read position.
type tailer interface {
	// Stop terminates the tailer and waits for its goroutines to exit.
	// After Stop returns no further callbacks are initiated, though one
	// already blocked on delivery may still land (the supervisor drops it).
	Stop()
	// Offset is the byte position up to which the source has been consumed.
	Offset() int64
}

// localTailer follows one local transcript file. Two triggers feed a single
// idempotent read routine: an fsnotify watch on the containing directory for
// low latency, and a fixed poll as a backstop for missed notifications.
// The read position and partial-line remainder live here; mu serializes the
// read routine so concurrent triggers can never double-read a byte. offset is
// atomic because the supervisor snapshots it while holding its own lock.
type localTailer struct {
	path    string
	poll    time.Duration
	logger  *logrus.Entry
	onLines func(lines []string)

	mu        sync.Mutex
	offset    atomic.Int64
	remainder []byte

	cancel context.CancelFunc
	done   chan struct{}
}

func newLocalTailer(logger *logrus.Entry, path string, poll time.Duration, onLines func([]string)) *localTailer {
	return &localTailer{
		path:    path,
		poll:    poll,
		logger:  logger,
		onLines: onLines,
		done:    make(chan struct{}),
	}
}

// Start begins following the file. The initial read picks up existing
// content from offset zero.
func (t *localTailer) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		// Watch the directory, not the file: rename-and-recreate patterns
		// drop file-level watches silently.
		if werr := watcher.Add(dirOf(t.path)); werr != nil {
			t.logger.WithError(werr).Debugf("Watch failed, polling only: %s", t.path)
			watcher.Close()
			watcher = nil
		}
	} else {
		t.logger.WithError(err).Debug("fsnotify unavailable, polling only")
		watcher = nil
	}

	go t.run(ctx, watcher)
}

func (t *localTailer) run(ctx context.Context, watcher *fsnotify.Watcher) {
	defer close(t.done)
	if watcher != nil {
		defer watcher.Close()
	}

	// Pick up content already in the file before waiting on triggers.
	t.readNew()

	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	var errors <-chan error
	if watcher != nil {
		events = watcher.Events
		errors = watcher.Errors
	}

	for {
		select {
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if event.Name != t.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				t.readNew()
			}
		case err, ok := <-errors:
			if !ok {
				errors = nil
				continue
			}
			t.logger.WithError(err).Debugf("Watch error: %s", t.path)
		case <-ticker.C:
			t.readNew()
		case <-ctx.Done():
			return
		}
	}
}

// readNew consumes any bytes appended past the current offset and delivers
// the complete lines among them. Safe to call from any trigger at any time;
// overlapping calls serialize on mu and the second sees nothing new.
func (t *localTailer) readNew() {
	t.mu.Lock()
	defer t.mu.Unlock()

	offset := t.offset.Load()
	info, err := os.Stat(t.path)
	if err != nil || info.Size() <= offset {
		return
	}

	f, err := os.Open(t.path)
	if err != nil {
		return
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return
	}
	data, err := io.ReadAll(f)
	if err != nil && len(data) == 0 {
		return
	}
	t.offset.Add(int64(len(data)))

	buf := append(t.remainder, data...)
	var lines []string
	for {
		idx := bytes.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		lines = append(lines, string(buf[:idx]))
		buf = buf[idx+1:]
	}
	t.remainder = append([]byte(nil), buf...)

	if t.onLines != nil {
		// Delivered with empty lines too: new bytes count as activity even
		// when the record is still mid-line.
		t.onLines(lines)
	}
}

func (t *localTailer) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	<-t.done
}

func (t *localTailer) Offset() int64 {
	return t.offset.Load()
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			if i == 0 {
				return "/"
			}
			return path[:i]
		}
	}
	return "."
}
