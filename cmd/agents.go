package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/perchtools/perch/cli"
	"github.com/perchtools/perch/errors"
	"github.com/perchtools/perch/pkg/daemon"
	"github.com/perchtools/perch/pkg/paths"
	"github.com/perchtools/perch/tui"
)

// NewAgentsCmd creates the `agents` command.
func NewAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List tracked agents",
		Long:  "Shows the agents the daemon is currently tracking across all nodes.",
		RunE:  runAgentsE,
	}
	cmd.Flags().BoolP("watch", "w", false, "Watch agents live in an interactive view")
	return cmd
}

func runAgentsE(cmd *cobra.Command, args []string) error {
	opts := cli.GetOptions(cmd)
	handler := cli.NewErrorHandler(opts.Verbose)

	client := daemon.NewClient(paths.SocketPath())
	if !client.IsRunning() {
		return handler.Handle(errors.New(errors.ErrCodeDaemonNotRunning, "perch daemon is not running"))
	}

	watch, _ := cmd.Flags().GetBool("watch")
	if watch {
		return tui.Watch(cmd.Context(), client)
	}

	agents, err := client.Agents(cmd.Context())
	if err != nil {
		return handler.Handle(err)
	}

	if opts.JSONOutput {
		return json.NewEncoder(os.Stdout).Encode(agents)
	}

	if len(agents) == 0 {
		fmt.Println("No agents tracked")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNODE\tPROJECT\tSTATE\tOPS\tLAST ACTIVITY")
	for _, a := range agents {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n",
			a.ID, a.Node, a.ProjectKey, a.Activity, len(a.Operations),
			a.LastActivityAt.Format(time.RFC3339))
	}
	return w.Flush()
}
