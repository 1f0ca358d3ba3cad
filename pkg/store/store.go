// Package store provides bounded keyed stores and the lookup-or-init primitive
// that every ledger and aggregator in iotrace is built on.
//
// A Store never evicts on its own. Once it holds MaxEntries keys, inserts of new
// keys fail with ErrFull while lookups and updates of existing values keep working.
package store

import (
	stderr "errors"

	"github.com/iotrace/iotrace/pkg/errors"
)

var (
	// ErrKeyExists is returned by Insert when the key is already present.
	ErrKeyExists = errors.NewError(errors.ErrCodeKeyExists, "key already exists")

	// ErrFull is returned by Insert when the store is at capacity.
	ErrFull = errors.NewError(errors.ErrCodeStoreFull, "store is at capacity")

	// ErrNotFound is returned by Delete when the key is absent.
	ErrNotFound = errors.NewError(errors.ErrCodeNotFound, "key not found")
)

// Store is a bounded keyed store. Implementations must make Insert an exclusive
// insert-if-absent: of any number of concurrent Inserts for one absent key,
// exactly one succeeds.
type Store[K comparable, V any] interface {
	// Lookup returns the value stored under key.
	Lookup(key K) (V, bool)

	// Insert stores value under key if the key is absent. It returns
	// ErrKeyExists if the key is present and ErrFull if the store is at capacity.
	Insert(key K, value V) error

	// Delete removes key. It returns ErrNotFound if the key is absent.
	Delete(key K) error

	// Range calls fn for each entry until fn returns false. Entries inserted or
	// deleted during Range may or may not be visited.
	Range(fn func(key K, value V) bool)

	// Len returns the number of entries.
	Len() int

	// MaxEntries returns the capacity.
	MaxEntries() int
}

// GetOrInit returns the value stored under key, installing def if the key is
// absent. When the insert loses a race to a concurrent initializer, one more
// lookup returns the winner's value. Any other insert failure (capacity) returns
// false and the caller must drop the sample.
func GetOrInit[K comparable, V any](s Store[K, V], key K, def V) (V, bool) {
	if v, ok := s.Lookup(key); ok {
		return v, true
	}

	err := s.Insert(key, def)
	if err == nil {
		return def, true
	}
	if stderr.Is(err, ErrKeyExists) {
		return s.Lookup(key)
	}

	var zero V
	return zero, false
}
