package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/perchtools/perch/cli"
	"github.com/perchtools/perch/internal/daemon/journal"
	"github.com/perchtools/perch/logging"
	"github.com/perchtools/perch/pkg/daemon"
	"github.com/perchtools/perch/pkg/paths"
)

// NewHistoryCmd creates the `history` command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show journaled agent events",
		Long: `Queries the event journal, newest first. Works against the running daemon
when available and reads the journal file directly otherwise.`,
		RunE: runHistoryE,
	}
	cmd.Flags().StringP("project", "p", "", "Filter by project key")
	cmd.Flags().IntP("limit", "l", 50, "Maximum number of events")
	return cmd
}

func runHistoryE(cmd *cobra.Command, args []string) error {
	opts := cli.GetOptions(cmd)
	handler := cli.NewErrorHandler(opts.Verbose)

	project, _ := cmd.Flags().GetString("project")
	limit, _ := cmd.Flags().GetInt("limit")

	entries, err := fetchHistory(cmd, project, limit)
	if err != nil {
		return handler.Handle(err)
	}

	if opts.JSONOutput {
		return json.NewEncoder(os.Stdout).Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Println("No events recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tAGENT\tTYPE\tPROJECT\tDETAIL")
	for _, e := range entries {
		detail := e.Label
		if detail == "" {
			detail = e.Activity
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", e.CreatedAt, e.AgentID, e.Type, e.ProjectKey, detail)
	}
	return w.Flush()
}

func fetchHistory(cmd *cobra.Command, project string, limit int) ([]journal.Entry, error) {
	client := daemon.NewClient(paths.SocketPath())
	if client.IsRunning() {
		return client.History(cmd.Context(), project, limit)
	}

	// WAL mode allows reading alongside a writer, and with no daemon there
	// is no writer at all.
	jnl, err := journal.Open(logging.NewLogger("perch-cli"), paths.JournalPath())
	if err != nil {
		return nil, err
	}
	defer jnl.Close()
	return jnl.Recent(project, limit)
}
