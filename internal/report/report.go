// Package report renders tracer snapshots for a terminal.
package report

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/iotrace/iotrace/pkg/types"
	"github.com/iotrace/iotrace/pkg/utils"
)

const (
	clearScreen = "\033[2J\033[H"

	// DefaultWidth is the widest a histogram bar gets.
	DefaultWidth = 40
)

// Config controls the periodic reporter.
type Config struct {
	Interval    time.Duration
	ClearScreen bool
	Width       int
}

// Reporter periodically renders snapshots of a source. It only reads, so
// counters keep accumulating across reports.
type Reporter struct {
	config Config
	source types.SnapshotSource
	out    io.Writer
	clock  clock.Clock
	logger *utils.StructuredLogger
}

// New creates a reporter writing to out.
func New(config Config, source types.SnapshotSource, out io.Writer, clk clock.Clock, logger *utils.StructuredLogger) *Reporter {
	if config.Interval <= 0 {
		config.Interval = time.Second
	}
	if config.Width <= 0 {
		config.Width = DefaultWidth
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Reporter{
		config: config,
		source: source,
		out:    out,
		clock:  clk,
		logger: logger.WithComponent("report"),
	}
}

// Run renders one report per interval until ctx is done.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := r.clock.Ticker(r.config.Interval)
	defer ticker.Stop()

	r.logger.Debug("Reporter started", map[string]interface{}{"interval": r.config.Interval.String()})
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.Report(); err != nil {
				return fmt.Errorf("failed to write report: %w", err)
			}
		}
	}
}

// Report renders the current snapshot once.
func (r *Reporter) Report() error {
	if r.config.ClearScreen {
		if _, err := io.WriteString(r.out, clearScreen); err != nil {
			return err
		}
	}
	return Render(r.out, r.source.Snapshot(), r.config.Width)
}

// Render writes a full report of snap.
func Render(w io.Writer, snap types.Snapshot, width int) error {
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n", snap.Taken.Format("15:04:05"))

	for _, hist := range snap.Histograms {
		b.WriteString("\n")
		writeHistogram(&b, hist, width)
	}

	if len(snap.Reads)+len(snap.Writes) > 0 {
		b.WriteString("\n")
		writeResources(&b, snap.Reads, snap.Writes)
	}

	writeDrops(&b, snap.Drops)

	_, err := io.WriteString(w, b.String())
	return err
}

func unitSuffix(unit string) string {
	if unit == "msecs" {
		return "ms"
	}
	return "us"
}

func writeHistogram(b *strings.Builder, hist types.HistogramStat, width int) {
	suffix := unitSuffix(hist.Unit)
	if hist.Addr != "" {
		fmt.Fprintf(b, "RTT histogram for IP %s:\n", hist.Addr)
	} else {
		b.WriteString("RTT histogram:\n")
	}
	fmt.Fprintf(b, "%21s : %-8s distribution\n", "RTT("+suffix+")", "count")

	first, last := -1, -1
	var peak uint64
	for i, n := range hist.Slots {
		if n == 0 {
			continue
		}
		if first < 0 {
			first = i
		}
		last = i
		if n > peak {
			peak = n
		}
	}

	for i := first; i >= 0 && i <= last; i++ {
		low, high := types.SlotRange(i)
		fmt.Fprintf(b, "%10d -> %-10d: %-8d |%-*s|\n",
			low, high, hist.Slots[i], width, stars(hist.Slots[i], peak, width))
	}

	if hist.Samples > 0 {
		fmt.Fprintf(b, "p50 %d %s, p95 %d %s, p99 %d %s\n",
			hist.P50, suffix, hist.P95, suffix, hist.P99, suffix)
	}
	if hist.Extended && hist.Count > 0 {
		fmt.Fprintf(b, "Average RTT: %.2f %s\n", hist.Average, suffix)
	}
}

func stars(n, peak uint64, width int) string {
	if peak == 0 || n == 0 {
		return ""
	}
	count := int(n * uint64(width) / peak)
	if count == 0 {
		count = 1
	}
	return strings.Repeat("*", count)
}

func writeResources(b *strings.Builder, reads, writes []types.ResourceStat) {
	fmt.Fprintf(b, "%-6s %-10s %12s %10s %12s %12s %14s\n",
		"DIR", "DEV", "FILEID", "COUNT", "BYTES", "AVG SIZE", "AVG LAT(us)")
	for _, stats := range [][]types.ResourceStat{reads, writes} {
		for _, s := range stats {
			fmt.Fprintf(b, "%-6s %-10s %12d %10d %12s %12s %14.2f\n",
				s.Direction, s.DevName, s.FileID, s.Count,
				utils.FormatBytes(s.Bytes), utils.FormatBytes(s.AvgBytes),
				float64(s.AvgLatencyNs)/1000)
		}
	}
}

func writeDrops(b *strings.Builder, d types.DropStats) {
	if d == (types.DropStats{}) {
		return
	}
	fmt.Fprintf(b, "\ndropped: correlation_miss=%d ledger_full=%d metrics_full=%d histogram_full=%d filtered=%d\n",
		d.CorrelationMiss, d.LedgerFull, d.MetricsFull, d.HistogramFull, d.Filtered)
}
