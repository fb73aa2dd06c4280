package signal

import (
	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/protocol"
)

func (ctl *SignalWSController) handlePing(
	conn core.SignalConnection,
) {
	ctl.sendJSON(conn, protocol.MustNew(protocol.EventPong, nil))
}

func (ctl *SignalWSController) sendError(conn core.SignalConnection, msg string) {
	ctl.sendJSON(conn, protocol.MustNew(protocol.EventError, protocol.Error{Message: msg}))
}
