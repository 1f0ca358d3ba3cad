// Command iotrace correlates NFS request events into per-file latency totals
// and buckets TCP round trip times into log2 histograms.
package main

import (
	"os"

	"github.com/iotrace/iotrace/cmd/iotrace/command"
)

func main() {
	if err := command.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
