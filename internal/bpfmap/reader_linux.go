//go:build linux

package bpfmap

import (
	"context"
	stderr "errors"
	"os"
	"path/filepath"
	"sort"

	"github.com/benbjohnson/clock"
	"github.com/cilium/ebpf"

	"github.com/iotrace/iotrace/internal/histogram"
	"github.com/iotrace/iotrace/internal/iostats"
	"github.com/iotrace/iotrace/pkg/errors"
	"github.com/iotrace/iotrace/pkg/types"
	"github.com/iotrace/iotrace/pkg/utils"
)

// Reader builds snapshots from kernel-resident maps. Any of the three maps
// may be absent; a reader over an NFS-only program reports no histograms.
type Reader struct {
	reads  *Map[MetricsKey, MetricsValue]
	writes *Map[MetricsKey, MetricsValue]
	hists  *Map[uint64, HistValue]
	config ReaderConfig
	logger *utils.StructuredLogger
}

// OpenReader opens the maps pinned under config.PinPath. A map that is
// missing or cannot be opened is left out; OpenReader fails only if none of
// them open.
func OpenReader(config ReaderConfig) (*Reader, error) {
	logger := config.Logger
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	var errs []error
	skip := func(name string, err error) {
		logger.Warn("Skipping pinned map", map[string]interface{}{
			"map":   name,
			"error": err,
		})
		errs = append(errs, err)
	}

	reads, err := openPinned[MetricsKey, MetricsValue](config.PinPath, MapReads)
	if err != nil {
		skip(MapReads, err)
	}
	writes, err := openPinned[MetricsKey, MetricsValue](config.PinPath, MapWrites)
	if err != nil {
		skip(MapWrites, err)
	}
	hists, err := openPinned[uint64, HistValue](config.PinPath, MapHistograms)
	if err != nil {
		skip(MapHistograms, err)
	}

	if reads == nil && writes == nil && hists == nil {
		if len(errs) > 0 {
			return nil, errors.Wrap(errors.ErrCodeMapOpen, "no pinned map could be opened", stderr.Join(errs...)).
				WithComponent("bpfmap").
				WithDetail("pin_path", config.PinPath)
		}
		return nil, errors.NewError(errors.ErrCodeNotFound, "no pinned maps found").
			WithComponent("bpfmap").
			WithDetail("pin_path", config.PinPath)
	}
	return newReader(reads, writes, hists, config), nil
}

func newReader(reads, writes *Map[MetricsKey, MetricsValue], hists *Map[uint64, HistValue], config ReaderConfig) *Reader {
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	logger := config.Logger
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Reader{
		reads:  reads,
		writes: writes,
		hists:  hists,
		config: config,
		logger: logger.WithComponent("bpfmap"),
	}
}

// openPinned returns nil without error when the pin does not exist.
func openPinned[K comparable, V any](dir, name string) (*Map[K, V], error) {
	path := filepath.Join(dir, name)
	m, err := ebpf.LoadPinnedMap(path, &ebpf.LoadPinOptions{ReadOnly: true})
	if err != nil {
		if stderr.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, mapError(errors.ErrCodeMapOpen, "failed to open pinned map", name, err).
			WithDetail("path", path)
	}
	wrapped, err := Wrap[K, V](name, m)
	if err != nil {
		m.Close()
		return nil, err
	}
	return wrapped, nil
}

// Snapshot reads every map. Iteration failures are logged and leave the
// affected section partial.
func (r *Reader) Snapshot() types.Snapshot {
	snap := types.Snapshot{
		Taken:  r.config.Clock.Now(),
		Reads:  r.resourceStats(types.DirRead, r.reads),
		Writes: r.resourceStats(types.DirWrite, r.writes),
	}
	if r.hists != nil {
		snap.Histograms = r.histogramStats()
	}
	return snap
}

func (r *Reader) resourceStats(dir types.Direction, m *Map[MetricsKey, MetricsValue]) []types.ResourceStat {
	stats := []types.ResourceStat{}
	if m == nil {
		return stats
	}
	err := m.Iterate(func(k MetricsKey, v MetricsValue) bool {
		stats = append(stats, types.NewResourceStat(dir, k.ResourceKey(), v.Count, v.Size, v.Latency))
		return true
	})
	if err != nil {
		r.logger.Warn("Partial map read", map[string]interface{}{
			"map":   m.Name(),
			"error": err,
		})
	}
	iostats.SortStats(stats)
	return stats
}

func (r *Reader) histogramStats() []types.HistogramStat {
	cfg := r.config.Histogram
	grouped := cfg.GroupByLocalAddr || cfg.GroupByRemoteAddr
	unit := histogram.UnitName(cfg.Milliseconds)

	stats := []types.HistogramStat{}
	err := r.hists.Iterate(func(key uint64, v HistValue) bool {
		slots := make([]uint64, histogram.MaxSlots)
		for i, n := range v.Slots {
			slots[i] = uint64(n)
		}
		if grouped {
			key = addrKey(key)
		}
		stats = append(stats, histogram.NewStat(key, grouped, unit, slots, cfg.Extended, v.Latency, v.Count))
		return true
	})
	if err != nil {
		r.logger.Warn("Partial map read", map[string]interface{}{
			"map":   r.hists.Name(),
			"error": err,
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Key < stats[j].Key })
	return stats
}

// CheckHealth verifies every open map is still readable.
func (r *Reader) CheckHealth(ctx context.Context) error {
	for _, m := range r.maps() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := m.Info(); err != nil {
			return errors.Wrap(errors.ErrCodeMapAccess, "map is not readable", err).
				WithComponent("bpfmap")
		}
	}
	return nil
}

func (r *Reader) maps() []*ebpf.Map {
	var out []*ebpf.Map
	if r.reads != nil {
		out = append(out, r.reads.m)
	}
	if r.writes != nil {
		out = append(out, r.writes.m)
	}
	if r.hists != nil {
		out = append(out, r.hists.m)
	}
	return out
}

// Close releases every open map.
func (r *Reader) Close() error {
	var errs []error
	for _, m := range r.maps() {
		errs = append(errs, m.Close())
	}
	return stderr.Join(errs...)
}
