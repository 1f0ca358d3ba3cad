// Package histogram implements the TCP round trip time histogram engine: a
// bounded set of log2 histograms, optionally keyed by local or remote address.
package histogram

import (
	"math/bits"
	"sort"

	"go.uber.org/atomic"

	"github.com/iotrace/iotrace/pkg/store"
	"github.com/iotrace/iotrace/pkg/types"
)

const (
	// MaxSlots is the number of log2 buckets per histogram.
	MaxSlots = 27

	// DefaultMaxEntries is the capacity of the histogram store.
	DefaultMaxEntries = 10240

	// NoDimension is the key every sample uses when no group-by is set.
	NoDimension uint64 = 0
)

// Config is fixed for the lifetime of an Engine. Zero filters match anything.
type Config struct {
	GroupByLocalAddr  bool
	GroupByRemoteAddr bool
	SourcePort        uint16
	DestPort          uint16
	SourceAddr        uint32
	DestAddr          uint32
	Extended          bool
	Milliseconds      bool
	MaxEntries        int
}

// Histogram is one log2 latency histogram. Latency and Count advance only in
// extended mode.
type Histogram struct {
	Slots   [MaxSlots]atomic.Uint64
	Latency atomic.Uint64
	Count   atomic.Uint64
}

// Outcome reports what Observe did with a sample.
type Outcome int

const (
	Observed Outcome = iota
	Filtered
	Full
)

// Engine buckets RTT samples.
type Engine struct {
	config Config
	hists  store.Store[uint64, *Histogram]
}

// New creates an engine with an in-memory store.
func New(config Config) *Engine {
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultMaxEntries
	}
	return NewWithStore(config, store.NewHashStore[uint64, *Histogram](config.MaxEntries))
}

// NewWithStore creates an engine over a caller-provided store.
func NewWithStore(config Config, hists store.Store[uint64, *Histogram]) *Engine {
	return &Engine{config: config, hists: hists}
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Unit returns the unit samples are recorded in.
func (e *Engine) Unit() string {
	return UnitName(e.config.Milliseconds)
}

// UnitName names the histogram unit.
func UnitName(milliseconds bool) string {
	if milliseconds {
		return "msecs"
	}
	return "usecs"
}

func (e *Engine) matches(ev types.RTTEvent) bool {
	c := &e.config
	if c.SourcePort != 0 && ev.SPort != c.SourcePort {
		return false
	}
	if c.DestPort != 0 && ev.DPort != c.DestPort {
		return false
	}
	if c.SourceAddr != 0 && ev.SAddr != c.SourceAddr {
		return false
	}
	if c.DestAddr != 0 && ev.DAddr != c.DestAddr {
		return false
	}
	return true
}

// Key returns the histogram key ev is recorded under.
func (e *Engine) Key(ev types.RTTEvent) uint64 {
	switch {
	case e.config.GroupByLocalAddr:
		return uint64(ev.SAddr)
	case e.config.GroupByRemoteAddr:
		return uint64(ev.DAddr)
	default:
		return NoDimension
	}
}

// Observe records one RTT sample.
func (e *Engine) Observe(ev types.RTTEvent) Outcome {
	if !e.matches(ev) {
		return Filtered
	}

	key := e.Key(ev)
	h, ok := e.hists.Lookup(key)
	if !ok {
		if h, ok = store.GetOrInit(e.hists, key, &Histogram{}); !ok {
			return Full
		}
	}

	value := uint64(ev.SRTT >> 3)
	if e.config.Milliseconds {
		value /= 1000
	}

	h.Slots[Slot(value)].Inc()
	if e.config.Extended {
		h.Latency.Add(value)
		h.Count.Inc()
	}
	return Observed
}

// Slot returns the bucket of value: floor(log2(value)) clamped to the last
// slot. Zero falls in slot 0.
func Slot(value uint64) int {
	if value == 0 {
		return 0
	}
	slot := bits.Len64(value) - 1
	if slot >= MaxSlots {
		slot = MaxSlots - 1
	}
	return slot
}

// Len returns the number of histograms.
func (e *Engine) Len() int {
	return e.hists.Len()
}

// Snapshot returns every histogram ordered by key.
func (e *Engine) Snapshot() []types.HistogramStat {
	grouped := e.config.GroupByLocalAddr || e.config.GroupByRemoteAddr
	stats := make([]types.HistogramStat, 0, e.hists.Len())
	e.hists.Range(func(key uint64, h *Histogram) bool {
		slots := make([]uint64, MaxSlots)
		for i := range h.Slots {
			slots[i] = h.Slots[i].Load()
		}
		stats = append(stats, NewStat(key, grouped, e.Unit(), slots, e.config.Extended, h.Latency.Load(), h.Count.Load()))
		return true
	})
	sort.Slice(stats, func(i, j int) bool { return stats[i].Key < stats[j].Key })
	return stats
}

// NewStat builds the reported state of a histogram from raw slot counts.
func NewStat(key uint64, grouped bool, unit string, slots []uint64, extended bool, latency, count uint64) types.HistogramStat {
	stat := types.HistogramStat{
		Key:      key,
		Unit:     unit,
		Slots:    slots,
		Extended: extended,
	}
	if grouped {
		stat.Addr = types.FormatIPv4(uint32(key))
	}
	for _, s := range slots {
		stat.Samples += s
	}
	if extended {
		stat.Latency = latency
		stat.Count = count
		if count > 0 {
			stat.Average = float64(latency) / float64(count)
		}
	}
	stat.P50, stat.P95, stat.P99 = types.Percentiles(slots)
	return stat
}
