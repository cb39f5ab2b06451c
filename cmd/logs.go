package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"

	"github.com/perchtools/perch/pkg/paths"
)

// NewLogsCmd creates the `logs` command.
func NewLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs [component]",
		Short: "Show perch's own log files",
		Long: `Prints log output written by perch components (perchd, perch-cli, ...).
Without arguments the newest log file is shown.

Examples:
  # Show the latest daemon log
  perch logs perchd

  # Follow the latest log as it grows
  perch logs -f`,
		Args: cobra.MaximumNArgs(1),
		RunE: runLogsE,
	}
	cmd.Flags().BoolP("follow", "f", false, "Follow log output")
	cmd.Flags().Int("tail", 200, "Number of lines to show from the end")
	return cmd
}

func runLogsE(cmd *cobra.Command, args []string) error {
	component := ""
	if len(args) > 0 {
		component = args[0]
	}

	path, err := newestLogFile(paths.LogDir(), component)
	if err != nil {
		return err
	}

	follow, _ := cmd.Flags().GetBool("follow")
	lines, _ := cmd.Flags().GetInt("tail")

	t, err := tail.TailFile(path, tail.Config{
		Follow:   follow,
		ReOpen:   follow,
		Logger:   tail.DiscardingLogger,
		Location: &tail.SeekInfo{Offset: 0, Whence: 0},
	})
	if err != nil {
		return fmt.Errorf("tail %s: %w", path, err)
	}

	// Without -f, buffer and print only the requested tail.
	if !follow {
		var buffered []string
		for line := range t.Lines {
			buffered = append(buffered, line.Text)
		}
		if lines > 0 && len(buffered) > lines {
			buffered = buffered[len(buffered)-lines:]
		}
		for _, l := range buffered {
			fmt.Println(l)
		}
		return nil
	}

	fmt.Fprintf(os.Stderr, "==> %s <==\n", path)
	for line := range t.Lines {
		fmt.Println(line.Text)
	}
	return nil
}

// newestLogFile picks the most recently modified log, optionally restricted
// to one component's files (named <component>-<date>.log).
func newestLogFile(dir, component string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("no logs found in %s", dir)
	}

	type logFile struct {
		path string
		mod  int64
	}
	var files []logFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		if component != "" && !strings.HasPrefix(entry.Name(), component+"-") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, logFile{path: filepath.Join(dir, entry.Name()), mod: info.ModTime().UnixNano()})
	}
	if len(files) == 0 {
		if component != "" {
			return "", fmt.Errorf("no logs found for component %q in %s", component, dir)
		}
		return "", fmt.Errorf("no logs found in %s", dir)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod > files[j].mod })
	return files[0].path, nil
}
