package command

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iotrace/iotrace/internal/config"
)

// NewConfigCommand returns the config command
func NewConfigCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or check configuration files",
	}

	cmd.AddCommand(
		newConfigInitCommand(),
		newConfigValidateCommand(flags),
	)

	return cmd
}

func newConfigInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init FILE",
		Short: "Write the default configuration to FILE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.NewDefault().SaveToFile(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", args[0])
			return nil
		},
	}
}

func newConfigValidateCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [FILE]",
		Short: "Load and validate a configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := flags.configPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("no configuration file given")
			}

			cfg := config.NewDefault()
			if err := cfg.LoadFromFile(path); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration %s is valid\n", path)
			return nil
		},
	}
}
