// Package bpfmap exposes kernel BPF hash maps through the store.Store
// interface and reads the maps a loaded tracer leaves pinned in bpffs.
//
// The value layouts below mirror the kernel side byte for byte:
//
//	io_metrics_read / io_metrics_write   MetricsKey -> MetricsValue
//	hists                                uint64     -> HistValue
package bpfmap

import (
	"encoding/binary"

	"github.com/benbjohnson/clock"

	"github.com/iotrace/iotrace/internal/histogram"
	"github.com/iotrace/iotrace/pkg/errors"
	"github.com/iotrace/iotrace/pkg/types"
	"github.com/iotrace/iotrace/pkg/utils"
)

// Pinned map names.
const (
	MapReads      = "io_metrics_read"
	MapWrites     = "io_metrics_write"
	MapHistograms = "hists"
)

// MetricsKey is the kernel io_metrics_key. Dev is a 32-bit dev_t.
type MetricsKey struct {
	FileID uint64
	Dev    uint32
	_      [4]byte
}

// ResourceKey converts the kernel key to the userspace one.
func (k MetricsKey) ResourceKey() types.ResourceKey {
	return types.ResourceKey{FileID: k.FileID, Dev: uint64(k.Dev)}
}

// MetricsValue is the kernel raw_metrics_read / raw_metrics_write value.
type MetricsValue struct {
	Count   uint64
	Size    uint64
	Latency uint64
}

// HistValue is the kernel struct hist. Slots are 32-bit on the kernel side.
type HistValue struct {
	Latency uint64
	Count   uint64
	Slots   [histogram.MaxSlots]uint32
}

// addrKey converts a hists key to RTTEvent form. The kernel widens a
// network-order address into the u64 key, so its low 32 bits hold the
// address bytes in native order.
func addrKey(key uint64) uint64 {
	var b [4]byte
	binary.NativeEndian.PutUint32(b[:], uint32(key))
	return uint64(binary.BigEndian.Uint32(b[:]))
}

// ReaderConfig configures a pinned-map Reader. Histogram supplies the unit,
// grouping and extended-stats settings the kernel program was loaded with.
type ReaderConfig struct {
	PinPath   string
	Histogram histogram.Config
	Clock     clock.Clock
	Logger    *utils.StructuredLogger
}

func mapError(code errors.ErrorCode, msg, name string, cause error) *errors.TraceError {
	return errors.Wrap(code, msg, cause).
		WithComponent("bpfmap").
		WithDetail("map", name)
}
