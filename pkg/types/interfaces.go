package types

import (
	"context"
)

// EventHandler consumes the raw events of an I/O trace
type EventHandler interface {
	// NFS request started by the current task
	OnInitiate(ev InitiateEvent)

	// RPC task lifecycle
	OnTaskBegin(ev TaskBeginEvent)
	OnTaskEnd(ev TaskEndEvent)

	// Read or write completed against a file
	OnCompletion(ev CompletionEvent)

	// TCP round trip time sample
	OnRTT(ev RTTEvent)
}

// SnapshotSource produces point-in-time views of traced state
type SnapshotSource interface {
	Snapshot() Snapshot
}

// SnapshotSink stores serialized snapshots outside the process
type SnapshotSink interface {
	Name() string
	Put(ctx context.Context, key string, body []byte) error
	Close() error
}

// HealthChecker defines health checking interface
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}
