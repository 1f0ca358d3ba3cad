package command

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/iotrace/iotrace/pkg/api"
)

// NewVersionCommand returns the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "iotrace %s (%s %s/%s)\n", api.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
