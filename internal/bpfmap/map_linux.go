//go:build linux

package bpfmap

import (
	stderr "errors"
	"fmt"
	"unsafe"

	"github.com/cilium/ebpf"
	"golang.org/x/sys/unix"

	"github.com/iotrace/iotrace/internal/ledger"
	"github.com/iotrace/iotrace/pkg/errors"
	"github.com/iotrace/iotrace/pkg/store"
	"github.com/iotrace/iotrace/pkg/types"
)

// Map is a store.Store over a BPF hash map. K and V must be fixed-size types
// whose memory layout matches the map's key and value.
type Map[K comparable, V any] struct {
	m    *ebpf.Map
	name string
}

// NewHashMap creates an unpinned BPF_MAP_TYPE_HASH map sized for K and V.
func NewHashMap[K comparable, V any](name string, maxEntries int) (*Map[K, V], error) {
	var k K
	var v V

	m, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:       name,
		Type:       ebpf.Hash,
		KeySize:    uint32(unsafe.Sizeof(k)),
		ValueSize:  uint32(unsafe.Sizeof(v)),
		MaxEntries: uint32(maxEntries),
	})
	if err != nil {
		return nil, mapError(errors.ErrCodeMapOpen, "failed to create map", name, err)
	}
	return &Map[K, V]{m: m, name: name}, nil
}

// Wrap adapts an existing map. It fails if the map's key or value size does
// not match K or V.
func Wrap[K comparable, V any](name string, m *ebpf.Map) (*Map[K, V], error) {
	var k K
	var v V

	if m.KeySize() != uint32(unsafe.Sizeof(k)) || m.ValueSize() != uint32(unsafe.Sizeof(v)) {
		return nil, mapError(errors.ErrCodeMapOpen, "map layout mismatch", name,
			fmt.Errorf("key/value size %d/%d, want %d/%d",
				m.KeySize(), m.ValueSize(), unsafe.Sizeof(k), unsafe.Sizeof(v)))
	}
	return &Map[K, V]{m: m, name: name}, nil
}

// Name returns the map name.
func (b *Map[K, V]) Name() string {
	return b.name
}

// Lookup returns the value stored under key.
func (b *Map[K, V]) Lookup(key K) (V, bool) {
	var v V
	if err := b.m.Lookup(unsafe.Pointer(&key), unsafe.Pointer(&v)); err != nil {
		var zero V
		return zero, false
	}
	return v, true
}

// Insert stores value under key with BPF_NOEXIST.
func (b *Map[K, V]) Insert(key K, value V) error {
	err := b.m.Update(unsafe.Pointer(&key), unsafe.Pointer(&value), ebpf.UpdateNoExist)
	switch {
	case err == nil:
		return nil
	case stderr.Is(err, ebpf.ErrKeyExist):
		return store.ErrKeyExists
	case stderr.Is(err, unix.E2BIG), stderr.Is(err, unix.ENOSPC):
		return store.ErrFull
	default:
		return mapError(errors.ErrCodeMapAccess, "map update failed", b.name, err)
	}
}

// Delete removes key.
func (b *Map[K, V]) Delete(key K) error {
	err := b.m.Delete(unsafe.Pointer(&key))
	switch {
	case err == nil:
		return nil
	case stderr.Is(err, ebpf.ErrKeyNotExist):
		return store.ErrNotFound
	default:
		return mapError(errors.ErrCodeMapAccess, "map delete failed", b.name, err)
	}
}

// Iterate calls fn for each entry until fn returns false and returns the
// iteration error, if any.
func (b *Map[K, V]) Iterate(fn func(key K, value V) bool) error {
	var k K
	var v V

	it := b.m.Iterate()
	for it.Next(unsafe.Pointer(&k), unsafe.Pointer(&v)) {
		if !fn(k, v) {
			return nil
		}
	}
	if err := it.Err(); err != nil {
		return mapError(errors.ErrCodeMapAccess, "map iteration failed", b.name, err)
	}
	return nil
}

// Range calls fn for each entry. Iteration errors end the walk early.
func (b *Map[K, V]) Range(fn func(key K, value V) bool) {
	_ = b.Iterate(fn)
}

// Len counts the entries. Hash maps keep no count, so this walks the map.
func (b *Map[K, V]) Len() int {
	n := 0
	b.Range(func(K, V) bool {
		n++
		return true
	})
	return n
}

// MaxEntries returns the map capacity.
func (b *Map[K, V]) MaxEntries() int {
	return int(b.m.MaxEntries())
}

// Close releases the map file descriptor.
func (b *Map[K, V]) Close() error {
	return b.m.Close()
}

// NewLedgerStores creates the three ledger stores as kernel hash maps. The
// returned function closes them.
func NewLedgerStores(maxEntries int) (ledger.Stores, func() error, error) {
	byCaller, err := NewHashMap[types.CallerID, uint64]("pending_caller", maxEntries)
	if err != nil {
		return ledger.Stores{}, nil, err
	}
	byTask, err := NewHashMap[types.TaskID, ledger.TaskRecord]("pending_task", maxEntries)
	if err != nil {
		byCaller.Close()
		return ledger.Stores{}, nil, err
	}
	ready, err := NewHashMap[types.CallerID, uint64]("ready_caller", maxEntries)
	if err != nil {
		byCaller.Close()
		byTask.Close()
		return ledger.Stores{}, nil, err
	}

	closeAll := func() error {
		return stderr.Join(byCaller.Close(), byTask.Close(), ready.Close())
	}
	return ledger.Stores{
		PendingByCaller: byCaller,
		PendingByTask:   byTask,
		ReadyByCaller:   ready,
	}, closeAll, nil
}
