package shard

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMap_Deterministic(t *testing.T) {
	a := NewMap([]string{"n0:1", "n1:1", "n2:1"})
	b := NewMap([]string{"n0:1", "n1:1", "n2:1"})

	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key_%d", i)
		require.Equal(t, a.Index(key), b.Index(key), "placement must be stable across instances")
	}
}

func TestMap_CoversAllShards(t *testing.T) {
	m := NewMap([]string{"n0:1", "n1:1"})

	hit := make(map[int]int)
	for i := 0; i < 1000; i++ {
		idx := m.Index(fmt.Sprintf("key_%d", i))
		require.GreaterOrEqual(t, idx, 0)
		require.Less(t, idx, 2)
		hit[idx]++
	}

	// A uniform hash over 1000 keys lands on both shards.
	require.Len(t, hit, 2)
	require.Greater(t, hit[0], 100)
	require.Greater(t, hit[1], 100)
}

func TestMap_EndpointRouting(t *testing.T) {
	m := NewMap([]string{"n0:1", "n1:1"})

	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("key_%d", i)
		require.Equal(t, m.EndpointAt(m.Index(key)), m.Endpoint(key))
	}
	require.Equal(t, 2, m.Len())
	require.Equal(t, []string{"n0:1", "n1:1"}, m.Endpoints())
}
