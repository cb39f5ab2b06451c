package remote

import (
	"bufio"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func TestOutputLocal(t *testing.T) {
	r := NewRunner(testLogger(), time.Second, 5*time.Second)
	out, err := r.Output(context.Background(), "", "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(out))
}

func TestOutputLocalFailure(t *testing.T) {
	r := NewRunner(testLogger(), time.Second, 5*time.Second)
	_, err := r.Output(context.Background(), "", "exit 3")
	assert.Error(t, err)
}

func TestOutputTimeout(t *testing.T) {
	r := NewRunner(testLogger(), time.Second, 100*time.Millisecond)
	start := time.Now()
	_, err := r.Output(context.Background(), "", "sleep 5")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestStreamLocal(t *testing.T) {
	r := NewRunner(testLogger(), time.Second, 5*time.Second)
	stream, err := r.Stream(context.Background(), "", "printf 'a\\nb\\n'")
	require.NoError(t, err)
	defer stream.Close()

	reader := bufio.NewReader(stream)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "a\n", line)
}

func TestStreamCloseKillsProcess(t *testing.T) {
	r := NewRunner(testLogger(), time.Second, 5*time.Second)
	stream, err := r.Stream(context.Background(), "", "sleep 60")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		stream.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Close did not terminate the streamed command")
	}
}

func TestSSHArgs(t *testing.T) {
	r := NewRunner(testLogger(), 7*time.Second, time.Minute)
	args := strings.Join(r.sshArgs("dev@box"), " ")
	assert.Contains(t, args, "BatchMode=yes")
	assert.Contains(t, args, "ConnectTimeout=7")
	assert.Contains(t, args, "dev@box")
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "'/a/b c'", ShellQuote("/a/b c"))
	assert.Equal(t, `'it'\''s'`, ShellQuote("it's"))
}
