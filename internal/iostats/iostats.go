// Package iostats accumulates per-file NFS read and write totals.
package iostats

import (
	"sort"

	"go.uber.org/atomic"

	"github.com/iotrace/iotrace/pkg/store"
	"github.com/iotrace/iotrace/pkg/types"
)

// DefaultMaxEntries is the capacity of each direction's store.
const DefaultMaxEntries = 1024

// IOMetrics holds cumulative totals for one resource. Each field is updated
// atomically on its own; a reader may see Count advanced before Size.
type IOMetrics struct {
	Count   atomic.Uint64
	Size    atomic.Uint64
	Latency atomic.Uint64
}

// MetricsStore is the backing store of one direction.
type MetricsStore = store.Store[types.ResourceKey, *IOMetrics]

// Aggregator owns the read and write metrics stores.
type Aggregator struct {
	reads  MetricsStore
	writes MetricsStore
}

// New creates an aggregator with in-memory stores of the given capacity.
func New(maxEntries int) *Aggregator {
	return NewWithStores(
		store.NewHashStore[types.ResourceKey, *IOMetrics](maxEntries),
		store.NewHashStore[types.ResourceKey, *IOMetrics](maxEntries),
	)
}

// NewWithStores creates an aggregator over caller-provided stores.
func NewWithStores(reads, writes MetricsStore) *Aggregator {
	return &Aggregator{reads: reads, writes: writes}
}

func (a *Aggregator) storeFor(dir types.Direction) MetricsStore {
	if dir == types.DirWrite {
		return a.writes
	}
	return a.reads
}

// Record accounts one completed request. The latency is added only when
// hasLatency is set; count and size always advance. It returns false when the
// resource is new and the store is full, in which case nothing is recorded.
func (a *Aggregator) Record(dir types.Direction, key types.ResourceKey, size uint32, latency uint64, hasLatency bool) bool {
	s := a.storeFor(dir)

	m, ok := s.Lookup(key)
	if !ok {
		if m, ok = store.GetOrInit(s, key, &IOMetrics{}); !ok {
			return false
		}
	}

	m.Count.Inc()
	m.Size.Add(uint64(size))
	if hasLatency {
		m.Latency.Add(latency)
	}
	return true
}

// Lookup returns the metrics of key, if any.
func (a *Aggregator) Lookup(dir types.Direction, key types.ResourceKey) (*IOMetrics, bool) {
	return a.storeFor(dir).Lookup(key)
}

// Len returns the number of resources tracked for dir.
func (a *Aggregator) Len(dir types.Direction) int {
	return a.storeFor(dir).Len()
}

// Snapshot returns the current totals for dir ordered by device then file.
func (a *Aggregator) Snapshot(dir types.Direction) []types.ResourceStat {
	s := a.storeFor(dir)
	stats := make([]types.ResourceStat, 0, s.Len())
	s.Range(func(key types.ResourceKey, m *IOMetrics) bool {
		stats = append(stats, types.NewResourceStat(dir, key, m.Count.Load(), m.Size.Load(), m.Latency.Load()))
		return true
	})
	SortStats(stats)
	return stats
}

// SortStats orders stats by device then file.
func SortStats(stats []types.ResourceStat) {
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Dev != stats[j].Dev {
			return stats[i].Dev < stats[j].Dev
		}
		return stats[i].FileID < stats[j].FileID
	})
}
