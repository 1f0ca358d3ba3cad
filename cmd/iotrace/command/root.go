// Package command implements the iotrace CLI.
package command

import (
	"github.com/spf13/cobra"

	"github.com/iotrace/iotrace/internal/config"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
}

// NewRootCommand returns the root command for the iotrace CLI
func NewRootCommand() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "iotrace",
		Short: "NFS and TCP RTT latency tracer",
		Long: `iotrace correlates NFS request events into per-file read and write
totals and buckets TCP round trip times into log2 histograms.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "configuration file")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override the configured log level")

	cmd.AddCommand(
		NewRunCommand(flags),
		NewReplayCommand(flags),
		NewDumpCommand(flags),
		NewConfigCommand(flags),
		NewVersionCommand(),
	)

	return cmd
}

// loadConfig builds the effective configuration: defaults, then the file,
// then IOTRACE_* environment variables, then flags.
func loadConfig(flags *globalFlags) (*config.Configuration, error) {
	cfg := config.NewDefault()
	if flags.configPath != "" {
		if err := cfg.LoadFromFile(flags.configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Global.LogLevel = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
