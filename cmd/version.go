package cmd

import (
	"github.com/spf13/cobra"

	"github.com/perchtools/perch/cli"
)

// Build information, injected via -ldflags at release time.
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
	BuildArch = "unknown"
)

// NewVersionCmd creates the `version` command.
func NewVersionCmd() *cobra.Command {
	return cli.NewVersionCommand("perch", cli.VersionInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		BuildArch: BuildArch,
	})
}
