package coordinator

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/stoatdb/stoat/wire"
)

// Handler exposes the coordinator over the wire protocol.
type Handler struct {
	coord *Coordinator
}

// NewHandler creates a wire handler around a coordinator.
func NewHandler(coord *Coordinator) *Handler {
	return &Handler{coord: coord}
}

// Handle implements wire.Handler.
func (h *Handler) Handle(ctx context.Context, req *wire.Request) *wire.Response {
	switch req.Op {
	case wire.OpBegin:
		tid := h.coord.Begin()
		return &wire.Response{Status: wire.StatusOK, TID: tid}

	case wire.OpValidateCommit:
		commitTS, err := h.coord.ValidateAndCommit(ctx, req.TID, req.ReadKeys, req.Writes)
		if err != nil {
			return abortedResponse(req.TID, err)
		}
		return &wire.Response{Status: wire.StatusCommitted, CommitTS: commitTS}

	case wire.OpCommit:
		commitTS, err := h.coord.Commit(req.TID, req.WriteKeys)
		if err != nil {
			return abortedResponse(req.TID, err)
		}
		return &wire.Response{Status: wire.StatusCommitted, CommitTS: commitTS}

	case wire.OpAbort:
		h.coord.Abort(req.TID)
		return &wire.Response{Status: wire.StatusOK}

	default:
		log.Warn().Str("op", req.Op.String()).Msg("Unknown operation")
		return &wire.Response{Status: wire.StatusError, Error: "unknown operation: " + req.Op.String()}
	}
}

func abortedResponse(tid uint64, err error) *wire.Response {
	var abort *AbortError
	if errors.As(err, &abort) {
		return &wire.Response{Status: wire.StatusAborted, Reason: abort.Reason, Error: abort.Detail}
	}
	return &wire.Response{Status: wire.StatusError, Error: err.Error()}
}
