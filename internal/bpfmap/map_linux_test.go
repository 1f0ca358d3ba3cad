//go:build linux

package bpfmap

import (
	"encoding/binary"
	stderr "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/cilium/ebpf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iotrace/iotrace/internal/histogram"
	"github.com/iotrace/iotrace/internal/ledger"
	"github.com/iotrace/iotrace/pkg/store"
)

// newTestMap skips the test when the kernel refuses map creation, which is
// the normal case for unprivileged runs.
func newTestMap[K comparable, V any](t *testing.T, name string, maxEntries int) *Map[K, V] {
	t.Helper()
	m, err := NewHashMap[K, V](name, maxEntries)
	if err != nil {
		t.Skipf("BPF maps unavailable: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestMapStoreSemantics(t *testing.T) {
	m := newTestMap[uint64, uint64](t, "test_store", 2)

	require.NoError(t, m.Insert(1, 10))
	assert.True(t, stderr.Is(m.Insert(1, 11), store.ErrKeyExists))

	v, ok := m.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, uint64(10), v)

	_, ok = m.Lookup(9)
	assert.False(t, ok)

	require.NoError(t, m.Insert(2, 20))
	assert.True(t, stderr.Is(m.Insert(3, 30), store.ErrFull))
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, 2, m.MaxEntries())

	require.NoError(t, m.Delete(1))
	assert.True(t, stderr.Is(m.Delete(1), store.ErrNotFound))
	assert.Equal(t, 1, m.Len())
}

func TestMapGetOrInit(t *testing.T) {
	m := newTestMap[uint64, uint64](t, "test_init", 4)

	v, ok := store.GetOrInit[uint64, uint64](m, 7, 70)
	require.True(t, ok)
	assert.Equal(t, uint64(70), v)

	v, ok = store.GetOrInit[uint64, uint64](m, 7, 99)
	require.True(t, ok)
	assert.Equal(t, uint64(70), v)
}

func TestLedgerOnKernelMaps(t *testing.T) {
	stores, closeStores, err := NewLedgerStores(16)
	if err != nil {
		t.Skipf("BPF maps unavailable: %v", err)
	}
	defer closeStores()

	clk := clock.NewMock()
	l := ledger.New(stores, clk)

	assert.Equal(t, ledger.Stored, l.Initiate(7))
	clk.Add(100)
	assert.Equal(t, ledger.Stored, l.TaskBegin(7, 42))
	assert.Equal(t, ledger.Stored, l.TaskEnd(42))
	clk.Add(400)

	latency, ok := l.Ready(7)
	require.True(t, ok)
	assert.Equal(t, uint64(500), latency)
	assert.Equal(t, 1, l.Stats().ReadyByCaller)
}

func TestReaderSnapshot(t *testing.T) {
	reads := newTestMap[MetricsKey, MetricsValue](t, "test_reads", 8)
	hists := newTestMap[uint64, HistValue](t, "test_hists", 8)

	require.NoError(t, reads.Insert(MetricsKey{FileID: 2, Dev: 1<<20 | 1}, MetricsValue{Count: 4, Size: 8192, Latency: 4000}))
	require.NoError(t, reads.Insert(MetricsKey{FileID: 1, Dev: 1<<20 | 1}, MetricsValue{Count: 1, Size: 10, Latency: 0}))

	var hv HistValue
	hv.Slots[3] = 5
	hv.Slots[4] = 1
	kernelKey := uint64(binary.NativeEndian.Uint32([]byte{10, 0, 0, 1}))
	require.NoError(t, hists.Insert(kernelKey, hv))

	clk := clock.NewMock()
	r := newReader(reads, nil, hists, ReaderConfig{
		Histogram: histogram.Config{GroupByRemoteAddr: true},
		Clock:     clk,
	})

	snap := r.Snapshot()
	assert.Equal(t, clk.Now(), snap.Taken)
	require.Len(t, snap.Reads, 2)
	assert.Equal(t, uint64(1), snap.Reads[0].FileID)
	assert.Equal(t, uint64(2), snap.Reads[1].FileID)
	assert.Equal(t, uint64(1000), snap.Reads[1].AvgLatencyNs)
	assert.Empty(t, snap.Writes)

	require.Len(t, snap.Histograms, 1)
	h := snap.Histograms[0]
	assert.Equal(t, "10.0.0.1", h.Addr)
	assert.Equal(t, uint64(10<<24|1), h.Key)
	assert.Equal(t, "usecs", h.Unit)
	assert.Equal(t, uint64(6), h.Samples)
}

// pinMap pins a raw hash map under dir, skipping the test without bpffs.
func pinMap(t *testing.T, dir, name string, keySize, valueSize uint32) {
	t.Helper()
	m, err := ebpf.NewMap(&ebpf.MapSpec{
		Type:       ebpf.Hash,
		KeySize:    keySize,
		ValueSize:  valueSize,
		MaxEntries: 4,
	})
	if err != nil {
		t.Skipf("BPF maps unavailable: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	if err := m.Pin(filepath.Join(dir, name)); err != nil {
		t.Skipf("bpffs unavailable: %v", err)
	}
	t.Cleanup(func() { m.Unpin() })
}

func TestOpenReaderSkipsMismatchedMap(t *testing.T) {
	dir, err := os.MkdirTemp("/sys/fs/bpf", "iotrace-test")
	if err != nil {
		t.Skipf("bpffs unavailable: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	pinMap(t, dir, MapReads, 16, 24)
	// 27 u64 slots plus two counters, the wrong width for hists.
	pinMap(t, dir, MapHistograms, 8, 29*8)

	r, err := OpenReader(ReaderConfig{PinPath: dir})
	require.NoError(t, err)
	defer r.Close()

	assert.NotNil(t, r.reads)
	assert.Nil(t, r.writes)
	assert.Nil(t, r.hists)

	snap := r.Snapshot()
	assert.Empty(t, snap.Reads)
	assert.Empty(t, snap.Histograms)
}

func TestOpenReaderFailsWhenNothingOpens(t *testing.T) {
	dir, err := os.MkdirTemp("/sys/fs/bpf", "iotrace-test")
	if err != nil {
		t.Skipf("bpffs unavailable: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	pinMap(t, dir, MapHistograms, 8, 29*8)

	_, err = OpenReader(ReaderConfig{PinPath: dir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "layout mismatch")
}
