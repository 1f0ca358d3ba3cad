//go:build !linux

package bpfmap

import (
	"context"

	"github.com/iotrace/iotrace/internal/ledger"
	"github.com/iotrace/iotrace/pkg/errors"
	"github.com/iotrace/iotrace/pkg/types"
)

func errUnsupported() error {
	return errors.NewError(errors.ErrCodeMapOpen, "BPF maps are only available on linux").
		WithComponent("bpfmap")
}

// Reader is unavailable on this platform.
type Reader struct{}

// OpenReader always fails on this platform.
func OpenReader(config ReaderConfig) (*Reader, error) {
	return nil, errUnsupported()
}

// Snapshot returns an empty snapshot.
func (r *Reader) Snapshot() types.Snapshot {
	return types.Snapshot{}
}

// CheckHealth always fails on this platform.
func (r *Reader) CheckHealth(ctx context.Context) error {
	return errUnsupported()
}

// Close does nothing.
func (r *Reader) Close() error {
	return nil
}

// NewLedgerStores always fails on this platform.
func NewLedgerStores(maxEntries int) (ledger.Stores, func() error, error) {
	return ledger.Stores{}, nil, errUnsupported()
}
