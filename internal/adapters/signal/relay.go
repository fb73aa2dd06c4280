package signal

import (
	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/dkeye/Roulette/internal/protocol"
	"github.com/rs/zerolog/log"
)

const MaxChatLen = 2000

func (ctl *SignalWSController) handleChatMessage(
	pid domain.ParticipantID,
	conn core.SignalConnection,
	env protocol.Envelope,
) {
	var p protocol.ChatMessage
	if err := env.Decode(&p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad chat payload")
		return
	}
	if p.Msg == "" {
		return
	}
	if len(p.Msg) > MaxChatLen {
		ctl.sendError(conn, "message too long")
		return
	}
	if err := ctl.Broker.RelayMessage(domain.RoomID(p.RoomID), pid, p.Msg); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("pid", string(pid)).Msg("chat dropped")
	}
}

func (ctl *SignalWSController) handleTyping(pid domain.ParticipantID, env protocol.Envelope) {
	var p protocol.Typing
	if err := env.Decode(&p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad typing payload")
		return
	}
	_ = ctl.Broker.RelayTyping(domain.RoomID(p.RoomID), pid, p.IsTyping)
}

// handleRelaySignal checks the payload shape and forwards it untouched to the partner.
func (ctl *SignalWSController) handleRelaySignal(
	pid domain.ParticipantID,
	conn core.SignalConnection,
	env protocol.Envelope,
) {
	var roomID string
	var err error
	switch env.Event {
	case protocol.EventOffer:
		var p protocol.Offer
		err = env.Decode(&p)
		roomID = p.RoomID
	case protocol.EventAnswer:
		var p protocol.Answer
		err = env.Decode(&p)
		roomID = p.RoomID
	case protocol.EventICECandidate:
		var p protocol.Candidate
		err = env.Decode(&p)
		roomID = p.RoomID
	}
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("event", env.Event).Msg("bad signaling payload")
		ctl.sendError(conn, "bad_payload")
		return
	}

	if err := ctl.Broker.RelaySignal(domain.RoomID(roomID), pid, env.Event, env.Data); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("pid", string(pid)).Str("event", env.Event).Msg("signal dropped")
	}
}
