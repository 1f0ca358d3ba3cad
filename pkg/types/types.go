package types

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"time"
)

// CallerID identifies the execution context that originated a request (the
// thread group id of the requesting process).
type CallerID uint64

// TaskID identifies an in-flight RPC task between its begin and end events.
type TaskID uint64

// CallerFromPidTgid derives the caller from a bpf_get_current_pid_tgid() value.
func CallerFromPidTgid(pidTgid uint64) CallerID {
	return CallerID(pidTgid >> 32)
}

// Direction is the data direction of an I/O request.
type Direction int

const (
	DirRead Direction = iota
	DirWrite
)

// String returns the string representation of the direction
func (d Direction) String() string {
	switch d {
	case DirRead:
		return "read"
	case DirWrite:
		return "write"
	default:
		return "unknown"
	}
}

// ResourceKey identifies the file an I/O request targets.
type ResourceKey struct {
	FileID uint64 `json:"fileid"`
	Dev    uint64 `json:"dev"`
}

// InitiateEvent is emitted when an NFS read or write is initiated.
type InitiateEvent struct {
	PidTgid   uint64
	Direction Direction
}

// TaskBeginEvent is emitted when the RPC layer starts a task.
type TaskBeginEvent struct {
	PidTgid  uint64
	TaskID   TaskID
	ClientID uint32
}

// TaskEndEvent is emitted when the RPC layer finishes a task.
type TaskEndEvent struct {
	TaskID   TaskID
	ClientID uint32
	Status   int32
}

// CompletionEvent is emitted when a read or write completes against a file.
// Owner is the caller that owns the RPC task carrying the I/O.
type CompletionEvent struct {
	Owner     CallerID
	Direction Direction
	Dev       uint64
	FileID    uint64
	Count     uint32
	Error     int32
}

// Key returns the resource the completion targets.
func (e CompletionEvent) Key() ResourceKey {
	return ResourceKey{FileID: e.FileID, Dev: e.Dev}
}

// RTTEvent is a TCP round trip time sample. Addresses are IPv4 in big-endian
// integer form (a.b.c.d is a<<24|b<<16|c<<8|d) and ports are in host order.
// SRTT carries the kernel's smoothed RTT, which is kept at 8x resolution.
type RTTEvent struct {
	SAddr uint32
	DAddr uint32
	SPort uint16
	DPort uint16
	SRTT  uint32
}

// ResourceStat is the reported state of one resource in one direction.
type ResourceStat struct {
	Direction    string `json:"direction"`
	FileID       uint64 `json:"fileid"`
	Dev          uint64 `json:"dev"`
	DevName      string `json:"dev_name"`
	Count        uint64 `json:"count"`
	Bytes        uint64 `json:"bytes"`
	LatencyNs    uint64 `json:"latency_ns"`
	AvgLatencyNs uint64 `json:"avg_latency_ns"`
	AvgBytes     uint64 `json:"avg_bytes"`
}

// HistogramStat is the reported state of one latency histogram.
type HistogramStat struct {
	Key      uint64   `json:"key"`
	Addr     string   `json:"addr,omitempty"`
	Unit     string   `json:"unit"`
	Slots    []uint64 `json:"slots"`
	Samples  uint64   `json:"samples"`
	Extended bool     `json:"extended"`
	Latency  uint64   `json:"latency,omitempty"`
	Count    uint64   `json:"count,omitempty"`
	Average  float64  `json:"average,omitempty"`
	P50      uint64   `json:"p50"`
	P95      uint64   `json:"p95"`
	P99      uint64   `json:"p99"`
}

// DropStats counts samples that were not (fully) accounted.
type DropStats struct {
	CorrelationMiss uint64 `json:"correlation_miss"`
	LedgerFull      uint64 `json:"ledger_full"`
	MetricsFull     uint64 `json:"metrics_full"`
	HistogramFull   uint64 `json:"histogram_full"`
	Filtered        uint64 `json:"filtered"`
}

// LedgerStats reports how full the correlation ledger is.
type LedgerStats struct {
	PendingByCaller int `json:"pending_by_caller"`
	PendingByTask   int `json:"pending_by_task"`
	ReadyByCaller   int `json:"ready_by_caller"`
	MaxEntries      int `json:"max_entries"`
}

// Snapshot is a read-only view of every store at one point in time.
type Snapshot struct {
	Taken      time.Time       `json:"taken"`
	Reads      []ResourceStat  `json:"reads"`
	Writes     []ResourceStat  `json:"writes"`
	Histograms []HistogramStat `json:"histograms"`
	Drops      DropStats       `json:"drops"`
	Ledger     LedgerStats     `json:"ledger"`
}

// DevName formats a kernel dev_t (MAJOR = dev >> 20, MINOR = dev & 0xfffff).
func DevName(dev uint64) string {
	return fmt.Sprintf("%d:%d", dev>>20, dev&0xfffff)
}

// FormatIPv4 renders an address in RTTEvent form as a dotted quad.
func FormatIPv4(addr uint32) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], addr)
	return netip.AddrFrom4(b).String()
}

// ParseIPv4 parses a dotted quad into RTTEvent form. The empty string parses as 0.
func ParseIPv4(s string) (uint32, error) {
	if s == "" {
		return 0, nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if !addr.Is4() {
		return 0, fmt.Errorf("invalid address %q: not IPv4", s)
	}
	b := addr.As4()
	return binary.BigEndian.Uint32(b[:]), nil
}

// NewResourceStat builds the reported state of a resource from raw totals.
func NewResourceStat(dir Direction, key ResourceKey, count, bytes, latencyNs uint64) ResourceStat {
	stat := ResourceStat{
		Direction: dir.String(),
		FileID:    key.FileID,
		Dev:       key.Dev,
		DevName:   DevName(key.Dev),
		Count:     count,
		Bytes:     bytes,
		LatencyNs: latencyNs,
	}
	if count > 0 {
		stat.AvgLatencyNs = latencyNs / count
		stat.AvgBytes = bytes / count
	}
	return stat
}
