package command

import (
	"encoding/json"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/spf13/cobra"

	"github.com/iotrace/iotrace/internal/adapter"
	"github.com/iotrace/iotrace/internal/replay"
	"github.com/iotrace/iotrace/internal/report"
)

// NewReplayCommand returns the replay command
func NewReplayCommand(flags *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "replay FILE",
		Short: "Feed a recorded event file through a fresh tracer and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			logger, err := cfg.Logger()
			if err != nil {
				return err
			}

			clk := clock.NewMock()
			tr, closeTracer, err := adapter.BuildTracer(cfg, clk)
			if err != nil {
				return err
			}
			defer closeTracer()

			stats, err := replay.New(tr, replay.Options{Clock: clk, Logger: logger}).
				PlayFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			snap := tr.Snapshot()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}

			fmt.Fprintf(out, "Replayed %d events (%d skipped)\n", stats.Events, stats.Skipped)
			return report.Render(out, snap, cfg.Report.Width)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the snapshot as JSON")

	return cmd
}
