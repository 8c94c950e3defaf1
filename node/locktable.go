package node

import (
	"context"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/stoatdb/stoat/telemetry"
	"github.com/stoatdb/stoat/wire"
)

// LockTable arbitrates per-key SHARED/EXCLUSIVE locks for S2PL with
// TID-ordered waiter queues and wound-wait deadlock prevention: a requester
// with a smaller (older) TID aborts any younger conflicting holder; a
// younger requester waits. Waits are bounded by a timeout, so every acquire
// terminates in GRANTED, TIMEOUT or DEADLOCK_ABORT.
type LockTable struct {
	mu           sync.Mutex
	entries      map[string]*lockEntry
	byTID        map[uint64]map[string]struct{}
	waitersByTID map[uint64][]*lockRequest

	// wounded remembers TIDs aborted by wound-wait so their subsequent
	// operations are rejected. Bounded: TIDs are never reused, so evicting
	// an old entry only stops rejecting a transaction that is long gone.
	wounded *lru.Cache[uint64, struct{}]

	defaultTimeout time.Duration
}

type lockEntry struct {
	holders map[uint64]wire.LockMode // all SHARED, or a single EXCLUSIVE
	queue   []*lockRequest           // ordered by TID, promoted on release
}

type lockRequest struct {
	tid     uint64
	key     string
	mode    wire.LockMode
	granted bool
	grant   chan wire.Status
}

// NewLockTable creates a lock table. woundedSize bounds the remembered
// wounded-TID set; defaultTimeout applies when an acquire passes none.
func NewLockTable(woundedSize int, defaultTimeout time.Duration) *LockTable {
	wounded, err := lru.New[uint64, struct{}](woundedSize)
	if err != nil {
		panic(err)
	}
	return &LockTable{
		entries:        make(map[string]*lockEntry),
		byTID:          make(map[uint64]map[string]struct{}),
		waitersByTID:   make(map[uint64][]*lockRequest),
		wounded:        wounded,
		defaultTimeout: defaultTimeout,
	}
}

// Acquire obtains key in mode for tid, blocking up to timeout under
// conflict. Returns GRANTED, TIMEOUT or DEADLOCK_ABORT.
func (lt *LockTable) Acquire(ctx context.Context, tid uint64, key string, mode wire.LockMode, timeout time.Duration) wire.Status {
	if timeout <= 0 {
		timeout = lt.defaultTimeout
	}
	start := time.Now()

	lt.mu.Lock()

	if _, ok := lt.wounded.Get(tid); ok {
		lt.mu.Unlock()
		return wire.StatusDeadlockAbort
	}

	e := lt.entries[key]
	if e == nil {
		e = &lockEntry{holders: make(map[uint64]wire.LockMode)}
		lt.entries[key] = e
	}

	if lt.grantableLocked(e, tid, mode) {
		lt.grantLocked(e, tid, key, mode)
		lt.mu.Unlock()
		return wire.StatusGranted
	}

	// Wound-wait: abort every younger conflicting holder. The request is
	// queued before wounding so the promotions triggered by the released
	// locks see it at its TID-ordered position, not behind a younger
	// waiter that slipped in.
	var victims []uint64
	for holder, held := range e.holders {
		if holder == tid || compatible(held, mode) {
			continue
		}
		if tid < holder {
			victims = append(victims, holder)
		}
	}

	req := &lockRequest{
		tid:   tid,
		key:   key,
		mode:  mode,
		grant: make(chan wire.Status, 1),
	}
	insertWaiter(e, req)
	lt.waitersByTID[tid] = append(lt.waitersByTID[tid], req)

	for _, victim := range victims {
		lt.woundLocked(victim, tid)
	}
	lt.promoteLocked(key, e)
	lt.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var status wire.Status
	select {
	case status = <-req.grant:
	case <-timer.C:
		status = lt.abandonWait(req, wire.StatusTimeout)
	case <-ctx.Done():
		status = lt.abandonWait(req, wire.StatusTimeout)
	}

	telemetry.LockWaitSeconds.Observe(time.Since(start).Seconds())
	return status
}

// abandonWait removes req from its queue unless a grant raced in, in which
// case the grant wins.
func (lt *LockTable) abandonWait(req *lockRequest, status wire.Status) wire.Status {
	lt.mu.Lock()
	if req.granted {
		lt.mu.Unlock()
		return <-req.grant
	}
	lt.removeWaiterLocked(req)
	lt.mu.Unlock()

	// A wound may also have raced in.
	select {
	case s := <-req.grant:
		return s
	default:
	}
	return status
}

// ReleaseAll removes tid from all holder sets and waiter queues and
// promotes unblocked waiters in queue order.
func (lt *LockTable) ReleaseAll(tid uint64) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	lt.releaseAllLocked(tid)
}

// HeldMode reports the mode tid holds on key, if any.
func (lt *LockTable) HeldMode(tid uint64, key string) (wire.LockMode, bool) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	e := lt.entries[key]
	if e == nil {
		return 0, false
	}
	mode, ok := e.holders[tid]
	return mode, ok
}

// IsWounded reports whether tid was aborted by wound-wait.
func (lt *LockTable) IsWounded(tid uint64) bool {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	_, ok := lt.wounded.Get(tid)
	return ok
}

// Stats returns the number of locked keys and transactions holding locks.
func (lt *LockTable) Stats() (lockedKeys, holdingTxns int) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	for _, e := range lt.entries {
		if len(e.holders) > 0 {
			lockedKeys++
		}
	}
	return lockedKeys, len(lt.byTID)
}

func compatible(held, requested wire.LockMode) bool {
	return held == wire.LockShared && requested == wire.LockShared
}

// insertWaiter queues req ordered by TID ascending. Older transactions sit
// ahead of younger ones, so a waiter is only ever blocked by transactions
// older than itself; combined with wounding younger holders this keeps the
// wait-for graph acyclic.
func insertWaiter(e *lockEntry, req *lockRequest) {
	i := sort.Search(len(e.queue), func(i int) bool {
		return e.queue[i].tid >= req.tid
	})
	e.queue = append(e.queue, nil)
	copy(e.queue[i+1:], e.queue[i:])
	e.queue[i] = req
}

// grantableLocked reports whether tid can take key in mode right now.
// A transaction never conflicts with itself: holding EXCLUSIVE satisfies a
// SHARED request, and the sole SHARED holder may upgrade to EXCLUSIVE.
func (lt *LockTable) grantableLocked(e *lockEntry, tid uint64, mode wire.LockMode) bool {
	for holder, held := range e.holders {
		if holder == tid {
			continue
		}
		if !compatible(held, mode) {
			return false
		}
	}
	return true
}

func (lt *LockTable) grantLocked(e *lockEntry, tid uint64, key string, mode wire.LockMode) {
	// Keep the strongest mode on re-acquire and upgrade.
	if held, ok := e.holders[tid]; !ok || held != wire.LockExclusive {
		e.holders[tid] = mode
	}

	keys := lt.byTID[tid]
	if keys == nil {
		keys = make(map[string]struct{})
		lt.byTID[tid] = keys
	}
	keys[key] = struct{}{}
}

// woundLocked aborts victim on behalf of the older aggressor: marks it
// wounded, fails its queued requests and releases everything it holds.
func (lt *LockTable) woundLocked(victim, aggressor uint64) {
	if _, ok := lt.wounded.Get(victim); ok {
		return
	}
	lt.wounded.Add(victim, struct{}{})
	telemetry.LockWoundsTotal.Inc()

	log.Debug().
		Uint64("victim", victim).
		Uint64("aggressor", aggressor).
		Msg("Wound-wait aborted holder")

	lt.releaseAllLocked(victim)
}

// releaseAllLocked drops every lock and queued request of tid. Queued
// requests fail with DEADLOCK_ABORT. All removals happen before any
// promotion so a promotion can never re-grant a request being failed.
func (lt *LockTable) releaseAllLocked(tid uint64) {
	affected := make(map[string]struct{})

	for _, req := range lt.waitersByTID[tid] {
		if e := lt.entries[req.key]; e != nil {
			for i, qr := range e.queue {
				if qr == req {
					e.queue = append(e.queue[:i], e.queue[i+1:]...)
					break
				}
			}
			affected[req.key] = struct{}{}
		}
		req.granted = true
		req.grant <- wire.StatusDeadlockAbort
	}
	delete(lt.waitersByTID, tid)

	keys := lt.byTID[tid]
	delete(lt.byTID, tid)
	for key := range keys {
		if e := lt.entries[key]; e != nil {
			delete(e.holders, tid)
			affected[key] = struct{}{}
		}
	}

	for key := range affected {
		if e := lt.entries[key]; e != nil {
			lt.promoteLocked(key, e)
		}
	}
}

// promoteLocked grants queued requests in order while the head is
// compatible with the current holders.
func (lt *LockTable) promoteLocked(key string, e *lockEntry) {
	for len(e.queue) > 0 {
		head := e.queue[0]
		if !lt.grantableLocked(e, head.tid, head.mode) {
			break
		}

		e.queue = e.queue[1:]
		lt.grantLocked(e, head.tid, key, head.mode)
		lt.removeFromWaitersByTIDLocked(head)
		head.granted = true
		head.grant <- wire.StatusGranted
	}

	if len(e.holders) == 0 && len(e.queue) == 0 {
		delete(lt.entries, key)
	}
}

func (lt *LockTable) removeWaiterLocked(req *lockRequest) {
	if e := lt.entries[req.key]; e != nil {
		for i, qr := range e.queue {
			if qr == req {
				e.queue = append(e.queue[:i], e.queue[i+1:]...)
				break
			}
		}
		if len(e.holders) == 0 && len(e.queue) == 0 {
			delete(lt.entries, req.key)
		} else {
			// The abandoned head may have been the only blocker.
			lt.promoteLocked(req.key, e)
		}
	}
	lt.removeFromWaitersByTIDLocked(req)
}

func (lt *LockTable) removeFromWaitersByTIDLocked(req *lockRequest) {
	waiters := lt.waitersByTID[req.tid]
	for i, w := range waiters {
		if w == req {
			lt.waitersByTID[req.tid] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(lt.waitersByTID[req.tid]) == 0 {
		delete(lt.waitersByTID, req.tid)
	}
}
