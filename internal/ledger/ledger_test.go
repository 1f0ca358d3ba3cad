package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iotrace/iotrace/pkg/types"
)

func newTestLedger(maxEntries int) (*Ledger, *clock.Mock) {
	clk := clock.NewMock()
	clk.Set(time.Unix(1000, 0))
	return New(NewHashStores(maxEntries), clk), clk
}

func TestHandshake(t *testing.T) {
	l, clk := newTestLedger(DefaultMaxEntries)

	require.Equal(t, Stored, l.Initiate(7))
	clk.Add(2 * time.Millisecond)
	require.Equal(t, Stored, l.TaskBegin(7, 42))
	clk.Add(3 * time.Millisecond)
	require.Equal(t, Stored, l.TaskEnd(42))
	clk.Add(5 * time.Millisecond)

	latency, ok := l.Ready(7)
	require.True(t, ok)
	assert.Equal(t, uint64(10*time.Millisecond), latency)
}

func TestInitiateIsIdempotent(t *testing.T) {
	l, clk := newTestLedger(DefaultMaxEntries)

	first := l.Now()
	require.Equal(t, Stored, l.Initiate(7))
	clk.Add(time.Second)
	require.Equal(t, Stored, l.Initiate(7))

	start, ok := l.stores.PendingByCaller.Lookup(7)
	require.True(t, ok)
	assert.Equal(t, first, start, "second initiate must keep the earliest timestamp")
}

func TestMissingHops(t *testing.T) {
	l, _ := newTestLedger(DefaultMaxEntries)

	assert.Equal(t, Missed, l.TaskBegin(9, 1), "task begin without initiate")
	assert.Equal(t, Missed, l.TaskEnd(1), "task end without task begin")

	_, ok := l.Ready(9)
	assert.False(t, ok)

	stats := l.Stats()
	assert.Zero(t, stats.PendingByTask)
	assert.Zero(t, stats.ReadyByCaller)
}

func TestTaskRecordCarriesCaller(t *testing.T) {
	l, _ := newTestLedger(DefaultMaxEntries)

	l.Initiate(7)
	l.TaskBegin(7, 42)

	record, ok := l.stores.PendingByTask.Lookup(42)
	require.True(t, ok)
	assert.Equal(t, types.CallerID(7), record.Caller)

	start, _ := l.stores.PendingByCaller.Lookup(7)
	assert.Equal(t, start, record.StartNs)
}

func TestEntriesAreNotConsumed(t *testing.T) {
	l, clk := newTestLedger(DefaultMaxEntries)

	l.Initiate(7)
	l.TaskBegin(7, 42)
	l.TaskEnd(42)

	clk.Add(time.Millisecond)
	first, ok := l.Ready(7)
	require.True(t, ok)

	clk.Add(time.Millisecond)
	second, ok := l.Ready(7)
	require.True(t, ok)
	assert.Greater(t, second, first, "ready entry stays and keeps the original start")

	stats := l.Stats()
	assert.Equal(t, 1, stats.PendingByCaller)
	assert.Equal(t, 1, stats.PendingByTask)
	assert.Equal(t, 1, stats.ReadyByCaller)
}

func TestLedgerFull(t *testing.T) {
	l, _ := newTestLedger(2)

	assert.Equal(t, Stored, l.Initiate(1))
	assert.Equal(t, Stored, l.Initiate(2))
	assert.Equal(t, Full, l.Initiate(3))
	assert.Equal(t, Stored, l.Initiate(1), "existing callers still resolve when full")

	assert.Equal(t, Missed, l.TaskBegin(3, 10))
	assert.Equal(t, Stored, l.TaskBegin(1, 10))
	assert.Equal(t, Stored, l.TaskBegin(2, 11))
	l.stores.PendingByCaller.Delete(2)
	l.Initiate(4)
	assert.Equal(t, Full, l.TaskBegin(4, 12))
}

func TestReadyClampsBackwardsClock(t *testing.T) {
	l, clk := newTestLedger(DefaultMaxEntries)

	l.Initiate(7)
	l.TaskBegin(7, 42)
	l.TaskEnd(42)
	clk.Set(time.Unix(999, 0))

	latency, ok := l.Ready(7)
	require.True(t, ok)
	assert.Zero(t, latency)
}

func TestSweeperDisabledByDefault(t *testing.T) {
	l, clk := newTestLedger(DefaultMaxEntries)
	s := NewSweeper(l, SweeperConfig{}, nil)

	l.Initiate(7)
	clk.Add(time.Hour)

	assert.False(t, s.Enabled())
	assert.Zero(t, s.Sweep())
	assert.Equal(t, 1, l.Stats().PendingByCaller)
}

func TestSweeperEvictsExpired(t *testing.T) {
	l, clk := newTestLedger(DefaultMaxEntries)
	s := NewSweeper(l, SweeperConfig{TTL: time.Minute}, nil)

	l.Initiate(1)
	l.TaskBegin(1, 10)
	l.TaskEnd(10)

	clk.Add(30 * time.Second)
	l.Initiate(2)

	assert.Zero(t, s.Sweep(), "nothing is older than the ttl yet")

	clk.Add(45 * time.Second)
	assert.Equal(t, 3, s.Sweep())

	stats := l.Stats()
	assert.Equal(t, 1, stats.PendingByCaller)
	assert.Zero(t, stats.PendingByTask)
	assert.Zero(t, stats.ReadyByCaller)

	_, ok := l.stores.PendingByCaller.Lookup(2)
	assert.True(t, ok)
}

func TestSweeperRun(t *testing.T) {
	l, clk := newTestLedger(DefaultMaxEntries)
	s := NewSweeper(l, SweeperConfig{TTL: time.Second, Interval: time.Second}, nil)

	l.Initiate(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	assert.Eventually(t, func() bool {
		clk.Add(time.Second)
		return l.Stats().PendingByCaller == 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
