package command

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/iotrace/iotrace/internal/adapter"
)

// NewRunCommand returns the run command
func NewRunCommand(flags *globalFlags) *cobra.Command {
	var replayPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the tracer with its API, report and archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			logger, err := cfg.Logger()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := adapter.New(ctx, cfg, adapter.Options{
				ReplayPath: replayPath,
				Out:        cmd.OutOrStdout(),
				Logger:     logger,
			})
			if err != nil {
				return err
			}
			defer a.Stop(context.Background())

			return a.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&replayPath, "replay", "", "feed a recorded event file into the tracer")

	return cmd
}
