package iostats

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iotrace/iotrace/pkg/types"
)

var fileR = types.ResourceKey{FileID: 1234, Dev: 0x2c00001}

func TestRecordWithLatency(t *testing.T) {
	a := New(DefaultMaxEntries)

	require.True(t, a.Record(types.DirRead, fileR, 4096, 1500, true))

	m, ok := a.Lookup(types.DirRead, fileR)
	require.True(t, ok)
	assert.Equal(t, uint64(1), m.Count.Load())
	assert.Equal(t, uint64(4096), m.Size.Load())
	assert.Equal(t, uint64(1500), m.Latency.Load())

	_, ok = a.Lookup(types.DirWrite, fileR)
	assert.False(t, ok, "directions are separate stores")
}

func TestRecordWithoutLatency(t *testing.T) {
	a := New(DefaultMaxEntries)

	a.Record(types.DirWrite, fileR, 100, 1000, true)
	a.Record(types.DirWrite, fileR, 200, 999999, false)

	m, ok := a.Lookup(types.DirWrite, fileR)
	require.True(t, ok)
	assert.Equal(t, uint64(2), m.Count.Load())
	assert.Equal(t, uint64(300), m.Size.Load())
	assert.Equal(t, uint64(1000), m.Latency.Load())
}

func TestRecordCapacity(t *testing.T) {
	a := New(2)

	require.True(t, a.Record(types.DirRead, types.ResourceKey{FileID: 1}, 1, 1, true))
	require.True(t, a.Record(types.DirRead, types.ResourceKey{FileID: 2}, 1, 1, true))
	assert.False(t, a.Record(types.DirRead, types.ResourceKey{FileID: 3}, 1, 1, true))
	assert.True(t, a.Record(types.DirRead, types.ResourceKey{FileID: 1}, 1, 1, true), "existing keys still update")
	assert.True(t, a.Record(types.DirWrite, types.ResourceKey{FileID: 3}, 1, 1, true), "write store has its own capacity")

	assert.Equal(t, 2, a.Len(types.DirRead))
	m, _ := a.Lookup(types.DirRead, types.ResourceKey{FileID: 1})
	assert.Equal(t, uint64(2), m.Count.Load())
}

func TestConcurrentAccumulation(t *testing.T) {
	a := New(DefaultMaxEntries)
	keys := []types.ResourceKey{{FileID: 1}, {FileID: 2}, {FileID: 3}}

	const workers = 16
	const perWorker = 500

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < perWorker; i++ {
				a.Record(types.DirRead, keys[rng.Intn(len(keys))], 1, 1, true)
			}
		}(int64(w))
	}
	wg.Wait()

	var count, size, latency uint64
	for _, k := range keys {
		if m, ok := a.Lookup(types.DirRead, k); ok {
			count += m.Count.Load()
			size += m.Size.Load()
			latency += m.Latency.Load()
		}
	}
	assert.Equal(t, uint64(workers*perWorker), count)
	assert.Equal(t, uint64(workers*perWorker), size)
	assert.Equal(t, uint64(workers*perWorker), latency)
}

func TestConcurrentFirstRecordSingleEntry(t *testing.T) {
	a := New(DefaultMaxEntries)

	const workers = 64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			a.Record(types.DirWrite, fileR, 10, 0, false)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, a.Len(types.DirWrite))
	m, _ := a.Lookup(types.DirWrite, fileR)
	assert.Equal(t, uint64(workers), m.Count.Load(), "no increment is lost to a losing initializer")
}

func TestSnapshot(t *testing.T) {
	a := New(DefaultMaxEntries)

	a.Record(types.DirRead, types.ResourceKey{FileID: 9, Dev: 2}, 100, 40, true)
	a.Record(types.DirRead, types.ResourceKey{FileID: 5, Dev: 2}, 100, 0, false)
	a.Record(types.DirRead, types.ResourceKey{FileID: 7, Dev: 1}, 300, 60, true)
	a.Record(types.DirRead, types.ResourceKey{FileID: 7, Dev: 1}, 100, 20, true)

	stats := a.Snapshot(types.DirRead)
	require.Len(t, stats, 3)

	assert.Equal(t, uint64(7), stats[0].FileID)
	assert.Equal(t, uint64(5), stats[1].FileID)
	assert.Equal(t, uint64(9), stats[2].FileID)

	assert.Equal(t, "read", stats[0].Direction)
	assert.Equal(t, "0:1", stats[0].DevName)
	assert.Equal(t, uint64(2), stats[0].Count)
	assert.Equal(t, uint64(400), stats[0].Bytes)
	assert.Equal(t, uint64(200), stats[0].AvgBytes)
	assert.Equal(t, uint64(40), stats[0].AvgLatencyNs)

	assert.Empty(t, a.Snapshot(types.DirWrite))
}
