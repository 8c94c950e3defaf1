package client

import (
	"errors"
	"fmt"

	"github.com/stoatdb/stoat/wire"
)

// ErrTxnFinished is returned by operations on a handle that already
// committed or aborted.
var ErrTxnFinished = errors.New("transaction already finished")

// AbortedError is returned when a transaction aborts, carrying the typed
// reason. The handle is ABORTED afterwards and further operations fail.
type AbortedError struct {
	TID    uint64
	Reason wire.AbortReason
	Detail string
}

func (e *AbortedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("transaction %d aborted: %s", e.TID, e.Reason)
	}
	return fmt.Sprintf("transaction %d aborted: %s (%s)", e.TID, e.Reason, e.Detail)
}

// Reason extracts the abort reason from err, if it aborted a transaction.
func Reason(err error) (wire.AbortReason, bool) {
	var aborted *AbortedError
	if errors.As(err, &aborted) {
		return aborted.Reason, true
	}
	return "", false
}

// Retriable reports whether err is an abort the caller may retry: stale
// reads, deadlock victims and lock timeouts. Client aborts and apply
// failures are not retried blindly.
func Retriable(err error) bool {
	reason, ok := Reason(err)
	if !ok {
		return false
	}
	switch reason {
	case wire.ReasonStaleRead, wire.ReasonDeadlockAbort, wire.ReasonLockTimeout:
		return true
	default:
		return false
	}
}
