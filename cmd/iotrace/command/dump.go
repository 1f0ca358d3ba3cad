package command

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/iotrace/iotrace/internal/bpfmap"
	"github.com/iotrace/iotrace/internal/report"
)

// NewDumpCommand returns the dump command
func NewDumpCommand(flags *globalFlags) *cobra.Command {
	var (
		pinPath string
		asJSON  bool
		watch   bool
	)

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the state of kernel maps pinned by a loaded tracer",
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
			if pinPath == "" {
				pinPath = cfg.BPF.PinPath
			}

			reader, err := bpfmap.OpenReader(bpfmap.ReaderConfig{
				PinPath:   pinPath,
				Histogram: cfg.HistogramEngineConfig(),
				Logger:    logger,
			})
			if err != nil {
				return err
			}
			defer reader.Close()

			out := cmd.OutOrStdout()
			if watch {
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				return report.New(report.Config{
					Interval:    cfg.Report.Interval,
					ClearScreen: cfg.Report.ClearScreen,
					Width:       cfg.Report.Width,
				}, reader, out, nil, logger).Run(ctx)
			}

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(reader.Snapshot())
			}
			return report.Render(out, reader.Snapshot(), cfg.Report.Width)
		},
	}

	cmd.Flags().StringVar(&pinPath, "pin-path", "", "bpffs directory holding the pinned maps")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the snapshot as JSON")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "report every interval until interrupted")

	return cmd
}
