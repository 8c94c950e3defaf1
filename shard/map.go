// Package shard places keys on data nodes. Placement is a stable hash
// modulo the node count, fixed at startup, so every process computes the
// same owner for a key without coordination.
package shard

import (
	"github.com/cespare/xxhash/v2"
)

// Map assigns keys to the data node endpoints given at startup.
// Endpoint order defines shard indexes and must match across processes.
type Map struct {
	endpoints []string
}

// NewMap creates a shard map over the given endpoints.
func NewMap(endpoints []string) *Map {
	eps := make([]string, len(endpoints))
	copy(eps, endpoints)
	return &Map{endpoints: eps}
}

// Index returns the shard index owning key.
func (m *Map) Index(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(m.endpoints)))
}

// Endpoint returns the endpoint of the node owning key.
func (m *Map) Endpoint(key string) string {
	return m.endpoints[m.Index(key)]
}

// EndpointAt returns the endpoint at a shard index.
func (m *Map) EndpointAt(idx int) string {
	return m.endpoints[idx]
}

// Endpoints returns all endpoints ordered by shard index.
func (m *Map) Endpoints() []string {
	eps := make([]string, len(m.endpoints))
	copy(eps, m.endpoints)
	return eps
}

// Len returns the node count.
func (m *Map) Len() int {
	return len(m.endpoints)
}
