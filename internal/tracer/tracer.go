// Package tracer wires the correlation ledger, the per-file aggregator and the
// RTT histogram engine behind the event handlers of an I/O trace.
//
// Handlers never block and never fail. Anything that cannot be accounted is
// dropped and counted in Drops.
package tracer

import (
	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"

	"github.com/iotrace/iotrace/internal/histogram"
	"github.com/iotrace/iotrace/internal/iostats"
	"github.com/iotrace/iotrace/internal/ledger"
	"github.com/iotrace/iotrace/pkg/types"
)

// Options configures a Tracer.
type Options struct {
	LedgerMaxEntries  int
	MetricsMaxEntries int
	Histogram         histogram.Config

	// LedgerStores overrides the in-memory ledger stores, e.g. with kernel maps.
	LedgerStores *ledger.Stores

	Clock clock.Clock
}

// Drops counts samples the tracer could not (fully) account.
type Drops struct {
	CorrelationMiss atomic.Uint64
	LedgerFull      atomic.Uint64
	MetricsFull     atomic.Uint64
	HistogramFull   atomic.Uint64
	Filtered        atomic.Uint64
}

// Stats returns the current counter values.
func (d *Drops) Stats() types.DropStats {
	return types.DropStats{
		CorrelationMiss: d.CorrelationMiss.Load(),
		LedgerFull:      d.LedgerFull.Load(),
		MetricsFull:     d.MetricsFull.Load(),
		HistogramFull:   d.HistogramFull.Load(),
		Filtered:        d.Filtered.Load(),
	}
}

// Tracer handles trace events.
type Tracer struct {
	ledger *ledger.Ledger
	io     *iostats.Aggregator
	hist   *histogram.Engine
	clock  clock.Clock
	drops  Drops
}

var _ types.EventHandler = (*Tracer)(nil)
var _ types.SnapshotSource = (*Tracer)(nil)

// New creates a tracer with empty stores.
func New(opts Options) *Tracer {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.LedgerMaxEntries <= 0 {
		opts.LedgerMaxEntries = ledger.DefaultMaxEntries
	}
	if opts.MetricsMaxEntries <= 0 {
		opts.MetricsMaxEntries = iostats.DefaultMaxEntries
	}

	stores := ledger.NewHashStores(opts.LedgerMaxEntries)
	if opts.LedgerStores != nil {
		stores = *opts.LedgerStores
	}

	return &Tracer{
		ledger: ledger.New(stores, opts.Clock),
		io:     iostats.New(opts.MetricsMaxEntries),
		hist:   histogram.New(opts.Histogram),
		clock:  opts.Clock,
	}
}

// Ledger returns the tracer's correlation ledger.
func (t *Tracer) Ledger() *ledger.Ledger {
	return t.ledger
}

// IOStats returns the tracer's per-file aggregator.
func (t *Tracer) IOStats() *iostats.Aggregator {
	return t.io
}

// Histograms returns the tracer's RTT histogram engine.
func (t *Tracer) Histograms() *histogram.Engine {
	return t.hist
}

// Drops returns the tracer's drop counters.
func (t *Tracer) Drops() *Drops {
	return &t.drops
}

func (t *Tracer) countLedger(outcome ledger.Outcome) {
	switch outcome {
	case ledger.Missed:
		t.drops.CorrelationMiss.Inc()
	case ledger.Full:
		t.drops.LedgerFull.Inc()
	}
}

// OnInitiate handles nfs_initiate_read and nfs_initiate_write.
func (t *Tracer) OnInitiate(ev types.InitiateEvent) {
	t.countLedger(t.ledger.Initiate(types.CallerFromPidTgid(ev.PidTgid)))
}

// OnTaskBegin handles rpc_task_begin.
func (t *Tracer) OnTaskBegin(ev types.TaskBeginEvent) {
	t.countLedger(t.ledger.TaskBegin(types.CallerFromPidTgid(ev.PidTgid), ev.TaskID))
}

// OnTaskEnd handles rpc_task_end.
func (t *Tracer) OnTaskEnd(ev types.TaskEndEvent) {
	t.countLedger(t.ledger.TaskEnd(ev.TaskID))
}

// OnCompletion handles nfs_readpage_done and nfs_writeback_done. Without a
// ready ledger entry the request is still counted, but adds no latency.
func (t *Tracer) OnCompletion(ev types.CompletionEvent) {
	latency, ok := t.ledger.Ready(ev.Owner)
	if !ok {
		t.drops.CorrelationMiss.Inc()
	}

	if !t.io.Record(ev.Direction, ev.Key(), ev.Count, latency, ok) {
		t.drops.MetricsFull.Inc()
	}
}

// OnRTT handles tcp_rcv_established samples.
func (t *Tracer) OnRTT(ev types.RTTEvent) {
	switch t.hist.Observe(ev) {
	case histogram.Filtered:
		t.drops.Filtered.Inc()
	case histogram.Full:
		t.drops.HistogramFull.Inc()
	}
}

// Snapshot returns a read-only view of every store.
func (t *Tracer) Snapshot() types.Snapshot {
	return types.Snapshot{
		Taken:      t.clock.Now(),
		Reads:      t.io.Snapshot(types.DirRead),
		Writes:     t.io.Snapshot(types.DirWrite),
		Histograms: t.hist.Snapshot(),
		Drops:      t.drops.Stats(),
		Ledger:     t.ledger.Stats(),
	}
}
