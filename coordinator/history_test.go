package coordinator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func record(tid, commitTS uint64, keys ...string) *Record {
	written := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		written[k] = struct{}{}
	}
	return &Record{TID: tid, CommitTS: commitTS, WrittenKeys: written}
}

func TestHistory_FirstConflict(t *testing.T) {
	h := NewHistory()
	h.Append(record(1, 10, "a"))
	h.Append(record(2, 20, "b"))
	h.Append(record(3, 30, "c"))

	// Reads of "b" conflict only with commits after the start timestamp.
	require.Nil(t, h.FirstConflict([]string{"b"}, 20))
	require.Nil(t, h.FirstConflict([]string{"b"}, 25))

	c := h.FirstConflict([]string{"b"}, 15)
	require.NotNil(t, c)
	require.Equal(t, uint64(20), c.CommitTS)

	// Earliest conflicting record wins.
	c = h.FirstConflict([]string{"c", "a"}, 5)
	require.NotNil(t, c)
	require.Equal(t, uint64(10), c.CommitTS)

	require.Nil(t, h.FirstConflict([]string{"z"}, 0))
	require.Nil(t, h.FirstConflict(nil, 0))
}

func TestHistory_PruneBelow(t *testing.T) {
	h := NewHistory()
	for i := uint64(1); i <= 10; i++ {
		h.Append(record(i, i*10, "k"))
	}

	require.Equal(t, 3, h.PruneBelow(30))
	require.Equal(t, 7, h.Len())

	// Remaining records still validate.
	require.NotNil(t, h.FirstConflict([]string{"k"}, 35))
	require.Nil(t, h.FirstConflict([]string{"k"}, 100))

	require.Equal(t, 7, h.PruneBelow(1000))
	require.Equal(t, 0, h.Len())
}

func TestHistory_PruneKeepsBoundary(t *testing.T) {
	h := NewHistory()
	h.Append(record(1, 10, "a"))
	h.Append(record(2, 11, "b"))

	// ts_low = 10: the record at exactly 10 goes, 11 stays.
	require.Equal(t, 1, h.PruneBelow(10))
	require.Equal(t, 1, h.Len())
	require.NotNil(t, h.FirstConflict([]string{"b"}, 10))
}
