package main

import (
	"os"

	"github.com/perchtools/perch/cli"
	"github.com/perchtools/perch/cmd"
)

func main() {
	rootCmd := cli.NewStandardCommand(
		"perch",
		"Track coding-agent sessions across your machines",
	)

	rootCmd.AddCommand(cmd.NewDaemonCmd())
	rootCmd.AddCommand(cmd.NewAgentsCmd())
	rootCmd.AddCommand(cmd.NewLaunchCmd())
	rootCmd.AddCommand(cmd.NewHistoryCmd())
	rootCmd.AddCommand(cmd.NewLogsCmd())
	rootCmd.AddCommand(cmd.NewConfigCmd())
	rootCmd.AddCommand(cmd.NewVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
