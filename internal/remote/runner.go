// Package remote executes commands on tracked nodes. Remote nodes are
// reached over ssh with bounded connect and command timeouts; an empty
// address runs the command on the local machine through the shell.
package remote

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Runner runs one-shot and streaming commands on a node.
type Runner struct {
	// ConnectTimeout bounds ssh connection establishment.
	ConnectTimeout time.Duration
	// CommandTimeout bounds one-shot command execution end to end.
	CommandTimeout time.Duration

	logger *logrus.Entry
}

// NewRunner returns a Runner with the given timeouts.
func NewRunner(logger *logrus.Entry, connectTimeout, commandTimeout time.Duration) *Runner {
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	if commandTimeout <= 0 {
		commandTimeout = 15 * time.Second
	}
	return &Runner{
		ConnectTimeout: connectTimeout,
		CommandTimeout: commandTimeout,
		logger:         logger,
	}
}

// sshArgs builds the ssh invocation prefix. BatchMode prevents password
// prompts from wedging the daemon; ServerAlive keeps long streams from
// outliving a dead connection.
func (r *Runner) sshArgs(address string) []string {
	return []string{
		"-o", "BatchMode=yes",
		"-o", fmt.Sprintf("ConnectTimeout=%d", int(r.ConnectTimeout.Seconds())),
		"-o", "ServerAliveInterval=10",
		"-o", "ServerAliveCountMax=3",
		address,
	}
}

// Output runs command on the node at address and returns its stdout. An
// empty address runs it locally. The call is bounded by CommandTimeout.
func (r *Runner) Output(ctx context.Context, address, command string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.CommandTimeout)
	defer cancel()

	var cmd *exec.Cmd
	if address == "" {
		cmd = exec.CommandContext(ctx, "sh", "-c", command)
	} else {
		cmd = exec.CommandContext(ctx, "ssh", append(r.sshArgs(address), command)...)
	}
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("run %q on %q: %w", firstWord(command), displayAddress(address), err)
	}
	return out, nil
}

// Stream starts a long-lived command on the node and returns a reader over
// its stdout. Closing the reader terminates the command. EOF means the
// command (or the connection carrying it) ended.
func (r *Runner) Stream(ctx context.Context, address, command string) (io.ReadCloser, error) {
	var cmd *exec.Cmd
	if address == "" {
		cmd = exec.CommandContext(ctx, "sh", "-c", command)
	} else {
		cmd = exec.CommandContext(ctx, "ssh", append(r.sshArgs(address), command)...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %q on %q: %w", firstWord(command), displayAddress(address), err)
	}

	return &streamCloser{ReadCloser: stdout, cmd: cmd}, nil
}

// Start launches a fire-and-forget command on the node. Remote commands are
// detached with nohup so they survive the ssh session.
func (r *Runner) Start(ctx context.Context, address, command string) error {
	if address == "" {
		cmd := exec.Command("sh", "-c", command)
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("start local command: %w", err)
		}
		// Reap in the background so the child doesn't linger as a zombie.
		go func() { _ = cmd.Wait() }()
		return nil
	}

	detached := fmt.Sprintf("nohup %s >/dev/null 2>&1 &", command)
	ctx, cancel := context.WithTimeout(ctx, r.CommandTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "ssh", append(r.sshArgs(address), detached)...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("start %q on %q: %w", firstWord(command), address, err)
	}
	return nil
}

// streamCloser kills the underlying process when closed so a removed agent
// cannot leave an ssh child behind.
type streamCloser struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (s *streamCloser) Close() error {
	_ = s.ReadCloser.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	return s.cmd.Wait()
}

// ShellQuote wraps s in single quotes safe to embed in a shell command line.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func firstWord(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return command
	}
	return fields[0]
}

func displayAddress(address string) string {
	if address == "" {
		return "local"
	}
	return address
}
