package coordinator

import (
	"errors"
	"fmt"

	"github.com/stoatdb/stoat/wire"
)

// AbortError carries the typed reason a transaction aborted.
type AbortError struct {
	TID    uint64
	Reason wire.AbortReason
	Detail string
}

func (e *AbortError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("transaction %d aborted: %s", e.TID, e.Reason)
	}
	return fmt.Sprintf("transaction %d aborted: %s (%s)", e.TID, e.Reason, e.Detail)
}

// ReasonOf extracts the abort reason from err, if it is an AbortError.
func ReasonOf(err error) (wire.AbortReason, bool) {
	var abort *AbortError
	if errors.As(err, &abort) {
		return abort.Reason, true
	}
	return "", false
}

// ApplyError represents a write-phase failure against one data node after
// retries were exhausted. The transaction is still logically committed.
type ApplyError struct {
	Endpoint string
	Key      string
	Err      error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply to %s failed for key %q: %v", e.Endpoint, e.Key, e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}
