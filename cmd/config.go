package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/perchtools/perch/config"
)

// NewConfigCmd creates the `config` command with subcommands.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate perch configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadDefault()
			if err != nil {
				return err
			}
			if path := config.LoadedPath(); path != "" {
				fmt.Printf("# Source: %s\n", path)
			} else {
				fmt.Println("# Source: built-in defaults (no config file found)")
			}
			// Show the node list actually in effect, defaults included.
			effective := *cfg
			effective.Nodes = cfg.EffectiveNodes()
			data, err := yaml.Marshal(&effective)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema for perch.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.GenerateSchema()
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a config file against the schema",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg *config.Config
			var err error
			var source string
			if len(args) > 0 {
				source = args[0]
				cfg, err = config.Load(source)
			} else {
				cfg, err = config.LoadDefault()
				source = config.LoadedPath()
			}
			if err != nil {
				return err
			}

			validator, err := config.NewSchemaValidator()
			if err != nil {
				return err
			}
			if err := validator.Validate(cfg); err != nil {
				return err
			}
			if source == "" {
				source = "built-in defaults"
			}
			fmt.Printf("✓ %s is valid\n", source)
			return nil
		},
	})

	return cmd
}
