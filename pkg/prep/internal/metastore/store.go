// Package metastore implements the metadata store shared by all operators
// participating in one preparation run.
//
// Entries are keyed by an (aspect, column) pair, such as ("intent", "age").
// Operators running concurrently on disjoint columns may write without
// coordination. Concurrent writes to the same key are a caller error; the
// store only guarantees that the last write wins.
package metastore

import (
	"cmp"
	"slices"

	"github.com/puzpuzpuz/xsync/v3"
)

// Key identifies a store entry.
type Key struct {
	Aspect string
	Column string
}

func (k Key) compare(o Key) int {
	if c := cmp.Compare(k.Aspect, o.Aspect); c != 0 {
		return c
	}
	return cmp.Compare(k.Column, o.Column)
}

// Store is a concurrent (aspect, column) to value mapping. The zero value is
// not usable; create stores with [New].
type Store struct {
	entries *xsync.MapOf[Key, any]

	// written tracks the keys set on a fork. It is nil for stores created by
	// New.
	written *xsync.MapOf[Key, struct{}]
}

// New returns an empty store.
func New() *Store {
	return &Store{entries: xsync.NewMapOf[Key, any]()}
}

// Get returns the value stored for (aspect, column). A nil store holds no
// entries.
func (s *Store) Get(aspect, column string) (any, bool) {
	if s == nil {
		return nil, false
	}
	return s.entries.Load(Key{Aspect: aspect, Column: column})
}

// Set stores value for (aspect, column).
func (s *Store) Set(aspect, column string, value any) {
	k := Key{Aspect: aspect, Column: column}
	s.entries.Store(k, value)
	if s.written != nil {
		s.written.Store(k, struct{}{})
	}
}

// Range calls f for every entry until f returns false. Entries written while
// ranging may or may not be visited.
func (s *Store) Range(f func(k Key, value any) bool) {
	if s == nil {
		return
	}
	s.entries.Range(f)
}

// Len returns the number of entries.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return s.entries.Size()
}

// Keys returns all keys sorted by aspect, then column.
func (s *Store) Keys() []Key {
	keys := make([]Key, 0, s.Len())
	s.Range(func(k Key, _ any) bool {
		keys = append(keys, k)
		return true
	})
	slices.SortFunc(keys, Key.compare)
	return keys
}

// Snapshot returns a copy of all entries.
func (s *Store) Snapshot() map[Key]any {
	out := make(map[Key]any, s.Len())
	s.Range(func(k Key, v any) bool {
		out[k] = v
		return true
	})
	return out
}

// Fork returns a copy of s which records the keys written to it. Writes to
// the fork are not visible in s until they are merged with [Store.Merge].
func (s *Store) Fork() *Store {
	fork := &Store{
		entries: xsync.NewMapOf[Key, any](),
		written: xsync.NewMapOf[Key, struct{}](),
	}
	s.Range(func(k Key, v any) bool {
		fork.entries.Store(k, v)
		return true
	})
	return fork
}

// Written returns the keys written to a fork, sorted. Stores created by [New]
// report no written keys.
func (s *Store) Written() []Key {
	if s == nil || s.written == nil {
		return nil
	}
	keys := make([]Key, 0, s.written.Size())
	s.written.Range(func(k Key, _ struct{}) bool {
		keys = append(keys, k)
		return true
	})
	slices.SortFunc(keys, Key.compare)
	return keys
}

// Merge copies the entries written to the fork other into s and returns the
// merged keys. Nil values are not merged. Keys other inherited from its
// parent are left alone, so a stale copy never overwrites newer values.
func (s *Store) Merge(other *Store) []Key {
	var merged []Key
	for _, k := range other.Written() {
		v, ok := other.entries.Load(k)
		if !ok || v == nil {
			continue
		}
		s.Set(k.Aspect, k.Column, v)
		merged = append(merged, k)
	}
	return merged
}
