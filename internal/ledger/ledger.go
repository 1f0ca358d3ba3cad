// Package ledger correlates the three asynchronous events of an NFS request
// (initiate, RPC task begin, RPC task end) so the final completion can be
// matched back to the time the request started.
//
// The ledger is three bounded stores:
//
//	pending-by-caller  CallerID -> start timestamp       (written on initiate)
//	pending-by-task    TaskID   -> {start, caller}        (written on task begin)
//	ready-by-caller    CallerID -> start timestamp       (written on task end)
//
// Entries are read but never deleted by the handlers. A Sweeper may be run
// alongside to evict entries older than a TTL.
package ledger

import (
	"github.com/benbjohnson/clock"

	"github.com/iotrace/iotrace/pkg/store"
	"github.com/iotrace/iotrace/pkg/types"
)

// DefaultMaxEntries is the capacity of each ledger store.
const DefaultMaxEntries = 1024

// TaskRecord is the pending-by-task value.
type TaskRecord struct {
	StartNs uint64
	Caller  types.CallerID
}

// Outcome reports what a ledger transition did.
type Outcome int

const (
	// Stored means the entry exists after the call (inserted now or earlier).
	Stored Outcome = iota
	// Missed means the previous hop had no entry, so nothing was stored.
	Missed
	// Full means the target store was at capacity and the event was dropped.
	Full
)

// String returns the string representation of the outcome
func (o Outcome) String() string {
	switch o {
	case Stored:
		return "stored"
	case Missed:
		return "missed"
	case Full:
		return "full"
	default:
		return "unknown"
	}
}

// Stores holds the three backing stores of a ledger.
type Stores struct {
	PendingByCaller store.Store[types.CallerID, uint64]
	PendingByTask   store.Store[types.TaskID, TaskRecord]
	ReadyByCaller   store.Store[types.CallerID, uint64]
}

// NewHashStores returns in-memory stores of the given capacity.
func NewHashStores(maxEntries int) Stores {
	return Stores{
		PendingByCaller: store.NewHashStore[types.CallerID, uint64](maxEntries),
		PendingByTask:   store.NewHashStore[types.TaskID, TaskRecord](maxEntries),
		ReadyByCaller:   store.NewHashStore[types.CallerID, uint64](maxEntries),
	}
}

// Ledger implements the three-hop correlation handshake.
type Ledger struct {
	stores Stores
	clock  clock.Clock
}

// New creates a ledger over stores. A nil clock uses the wall clock.
func New(stores Stores, clk clock.Clock) *Ledger {
	if clk == nil {
		clk = clock.New()
	}
	return &Ledger{stores: stores, clock: clk}
}

// Now returns the ledger's current timestamp in nanoseconds.
func (l *Ledger) Now() uint64 {
	return uint64(l.clock.Now().UnixNano())
}

// Initiate records that caller started a request. A second call before the
// request completes keeps the first timestamp.
func (l *Ledger) Initiate(caller types.CallerID) Outcome {
	if _, ok := store.GetOrInit(l.stores.PendingByCaller, caller, l.Now()); !ok {
		return Full
	}
	return Stored
}

// TaskBegin links an RPC task to the request its caller has pending.
func (l *Ledger) TaskBegin(caller types.CallerID, task types.TaskID) Outcome {
	start, ok := l.stores.PendingByCaller.Lookup(caller)
	if !ok {
		return Missed
	}

	record := TaskRecord{StartNs: start, Caller: caller}
	if _, ok := store.GetOrInit(l.stores.PendingByTask, task, record); !ok {
		return Full
	}
	return Stored
}

// TaskEnd marks the request carried by task as ready for completion.
func (l *Ledger) TaskEnd(task types.TaskID) Outcome {
	record, ok := l.stores.PendingByTask.Lookup(task)
	if !ok {
		return Missed
	}

	if _, ok := store.GetOrInit(l.stores.ReadyByCaller, record.Caller, record.StartNs); !ok {
		return Full
	}
	return Stored
}

// Ready returns the latency of caller's ready request measured up to now.
func (l *Ledger) Ready(caller types.CallerID) (uint64, bool) {
	start, ok := l.stores.ReadyByCaller.Lookup(caller)
	if !ok {
		return 0, false
	}

	now := l.Now()
	if now < start {
		return 0, true
	}
	return now - start, true
}

// Stats reports the number of entries in each store.
func (l *Ledger) Stats() types.LedgerStats {
	return types.LedgerStats{
		PendingByCaller: l.stores.PendingByCaller.Len(),
		PendingByTask:   l.stores.PendingByTask.Len(),
		ReadyByCaller:   l.stores.ReadyByCaller.Len(),
		MaxEntries:      l.stores.PendingByCaller.MaxEntries(),
	}
}
