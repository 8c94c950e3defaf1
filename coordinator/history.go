package coordinator

import (
	"github.com/tidwall/btree"
)

// Record is one committed transaction as the validator sees it: the value
// payload is not retained, the authoritative value lives on the data nodes.
type Record struct {
	TID         uint64
	CommitTS    uint64
	WrittenKeys map[string]struct{}
}

// History is the ordered sequence of committed records used by backward
// validation. It is ordered by commit timestamp so "everything committed
// after ts_start" is a single ascend. Not self-synchronized: callers hold
// the coordinator's validation lock.
type History struct {
	records *btree.BTreeG[*Record]
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{
		records: btree.NewBTreeGOptions(func(a, b *Record) bool {
			return a.CommitTS < b.CommitTS
		}, btree.Options{NoLocks: true}),
	}
}

// Append adds a committed record. CommitTS values are unique and appended
// in increasing order by construction.
func (h *History) Append(rec *Record) {
	h.records.Set(rec)
}

// FirstConflict returns the earliest committed record with
// CommitTS > tsStart whose written keys intersect readSet, or nil.
func (h *History) FirstConflict(readSet []string, tsStart uint64) *Record {
	var conflict *Record
	pivot := &Record{CommitTS: tsStart + 1}

	h.records.Ascend(pivot, func(rec *Record) bool {
		for _, key := range readSet {
			if _, ok := rec.WrittenKeys[key]; ok {
				conflict = rec
				return false
			}
		}
		return true
	})

	return conflict
}

// PruneBelow removes records with CommitTS <= tsLow and returns how many
// were removed. Safe only when tsLow is at most the minimum start timestamp
// of any live transaction.
func (h *History) PruneBelow(tsLow uint64) int {
	var doomed []*Record
	pivot := &Record{CommitTS: tsLow + 1}

	h.records.Descend(pivot, func(rec *Record) bool {
		if rec.CommitTS > tsLow {
			return true
		}
		doomed = append(doomed, rec)
		return true
	})

	for _, rec := range doomed {
		h.records.Delete(rec)
	}
	return len(doomed)
}

// Len returns the number of retained records.
func (h *History) Len() int {
	return h.records.Len()
}
