package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/perchtools/perch/cli"
	"github.com/perchtools/perch/errors"
	"github.com/perchtools/perch/pkg/daemon"
	"github.com/perchtools/perch/pkg/paths"
)

// NewLaunchCmd creates the `launch` command.
func NewLaunchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "launch [dir]",
		Short: "Launch a new agent session",
		Long: `Starts a new assistant session in the given project directory (default:
the current directory) and registers an agent for it before the transcript
appears, so the session is tracked from its first line.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runLaunchE,
	}
	cmd.Flags().StringP("node", "n", "local", "Node to launch the session on")
	return cmd
}

func runLaunchE(cmd *cobra.Command, args []string) error {
	opts := cli.GetOptions(cmd)
	handler := cli.NewErrorHandler(opts.Verbose)

	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	node, _ := cmd.Flags().GetString("node")

	// Remote paths can't be resolved here; pass them through untouched.
	if node == "local" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return handler.Handle(fmt.Errorf("resolve directory: %w", err))
		}
		if _, err := os.Stat(abs); err != nil {
			return handler.Handle(errors.Newf(errors.ErrCodeInvalidInput, "directory not found: %s", abs))
		}
		dir = abs
	}

	client := daemon.NewClient(paths.SocketPath())
	if !client.IsRunning() {
		return handler.Handle(errors.New(errors.ErrCodeDaemonNotRunning, "perch daemon is not running"))
	}

	result, err := client.Launch(cmd.Context(), node, dir)
	if err != nil {
		return handler.Handle(err)
	}

	fmt.Printf("Launched session %s on %s (agent %d)\n", result.SessionID, node, result.AgentID)
	return nil
}
