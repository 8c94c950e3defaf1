// Package node implements a stoat data node: one shard of the key space,
// a lockless read/write path for OCC and a lock table for S2PL.
package node

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// Store is the in-memory key→value mapping for one shard. Operations are
// atomic per key: concurrent puts on a key serialize to some order, and a
// concurrent get observes the prior or the next value, never a torn one.
// Keys are never deleted by transactions; Del exists for collaborators.
type Store struct {
	data *xsync.MapOf[string, []byte]
}

// NewStore creates an empty shard store.
func NewStore() *Store {
	return &Store{
		data: xsync.NewMapOf[string, []byte](),
	}
}

// Get returns the value for key, or found=false for a missing key.
func (s *Store) Get(key string) (value []byte, found bool) {
	return s.data.Load(key)
}

// Put stores value under key, creating it on first write. The value is
// copied so callers may reuse their buffer.
func (s *Store) Put(key string, value []byte) {
	v := make([]byte, len(value))
	copy(v, value)
	s.data.Store(key, v)
}

// Del removes key. Not used by the transaction paths.
func (s *Store) Del(key string) {
	s.data.Delete(key)
}

// Len returns the number of keys in the shard.
func (s *Store) Len() int {
	return s.data.Size()
}
