package tracker

import (
	"bufio"
	"io"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// remoteTailer consumes a long-lived stream (tail -F over ssh) for one
// remote session. There is no reliable way to reattach mid-file, so stream
// termination is terminal for the agent: onClosed fires exactly once unless
// Stop initiated the shutdown.
type remoteTailer struct {
	stream   io.ReadCloser
	logger   *logrus.Entry
	onLines  func(lines []string)
	onClosed func()

	stopped atomic.Bool
	offset  atomic.Int64
	done    chan struct{}
}

func newRemoteTailer(logger *logrus.Entry, stream io.ReadCloser, onLines func([]string), onClosed func()) *remoteTailer {
	return &remoteTailer{
		stream:   stream,
		logger:   logger,
		onLines:  onLines,
		onClosed: onClosed,
		done:     make(chan struct{}),
	}
}

func (t *remoteTailer) Start() {
	go t.run()
}

func (t *remoteTailer) run() {
	reader := bufio.NewReader(t.stream)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			t.offset.Add(int64(len(line)))
			trimmed := line
			if trimmed[len(trimmed)-1] == '\n' {
				trimmed = trimmed[:len(trimmed)-1]
			}
			if t.onLines != nil {
				t.onLines([]string{trimmed})
			}
		}
		if err != nil {
			break
		}
	}

	// done closes before onClosed so a removal triggered by onClosed can
	// Stop this tailer without deadlocking on its own goroutine.
	close(t.done)
	if !t.stopped.Load() {
		t.logger.Debug("Remote stream ended")
		if t.onClosed != nil {
			t.onClosed()
		}
	}
}

func (t *remoteTailer) Stop() {
	if t.stopped.Swap(true) {
		<-t.done
		return
	}
	_ = t.stream.Close()
	<-t.done
}

func (t *remoteTailer) Offset() int64 {
	return t.offset.Load()
}
