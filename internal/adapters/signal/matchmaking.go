package signal

import (
	"errors"
	"fmt"
	"math"

	"github.com/dkeye/Roulette/internal/app/broker"
	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/dkeye/Roulette/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleFindMatch(
	pid domain.ParticipantID,
	conn core.SignalConnection,
	env protocol.Envelope,
) {
	if ctl.Limiter != nil {
		if ok, wait := ctl.Limiter.Allow(string(pid)); !ok {
			secs := int(math.Ceil(wait.Seconds()))
			log.Warn().Str("module", "signal").Str("pid", string(pid)).Int("retry_after", secs).Msg("find-match throttled")
			ctl.sendError(conn, fmt.Sprintf("Too many requests, try again in %ds", secs))
			return
		}
	}

	var p protocol.FindMatch
	if err := env.Decode(&p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad find-match payload")
		ctl.sendError(conn, "bad_payload")
		return
	}

	if err := ctl.Broker.Enqueue(pid, domain.ParseMode(p.Mode)); err != nil {
		if errors.Is(err, broker.ErrAlreadyInRoom) {
			ctl.sendError(conn, "already in a room")
			return
		}
		log.Error().Err(err).Str("module", "signal").Str("pid", string(pid)).Msg("enqueue")
	}
}

func (ctl *SignalWSController) handleCancelSearch(pid domain.ParticipantID) {
	if !ctl.Broker.CancelSearch(pid) {
		log.Debug().Str("module", "signal").Str("pid", string(pid)).Msg("cancel-search while not waiting")
	}
}

// handleLeaveRoom leaves the current room; the connection stays open.
func (ctl *SignalWSController) handleLeaveRoom(pid domain.ParticipantID, env protocol.Envelope) {
	var p protocol.RoomRef
	if err := env.Decode(&p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad leave payload")
		return
	}
	if err := ctl.Broker.LeaveRoom(domain.RoomID(p.RoomID), pid); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("pid", string(pid)).Str("room_id", p.RoomID).Msg("leave ignored")
	}
}
