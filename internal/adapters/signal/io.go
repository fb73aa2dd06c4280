package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/dkeye/Roulette/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, pid domain.ParticipantID, c *WsSignalConn) {
	var ping <-chan time.Time
	if ctl.opts.PingPeriod > 0 {
		t := time.NewTicker(ctl.opts.PingPeriod)
		defer t.Stop()
		ping = t.C
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("pid", string(pid)).Msg("writePump ctx done")
			return
		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("pid", string(pid)).Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("pid", string(pid)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("pid", string(pid)).Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, pid domain.ParticipantID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("pid", string(pid)).Msg("readPump closing")
		ctl.disconnect(pid)
		cancel()
		c.Close()
	}()

	if ctl.opts.ReadLimit > 0 {
		c.conn.SetReadLimit(ctl.opts.ReadLimit)
	}
	// Any frame, data or pong, extends the read deadline.
	extend := func() {
		if ctl.opts.PingPeriod > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PingPeriod * 10 / 9))
		}
	}
	extend()
	c.conn.SetPongHandler(func(string) error { extend(); return nil })

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("pid", string(pid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Info().Str("module", "signal").Str("pid", string(pid)).Msg("readPump closed by peer")
				} else {
					log.Warn().Err(err).Str("module", "signal").Str("pid", string(pid)).Msg("readPump read error")
				}
				return
			}
			extend()
			ctl.handleSignal(pid, c, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(pid domain.ParticipantID, c *WsSignalConn, data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("pid", string(pid)).Msg("bad json")
		return
	}

	switch env.Event {
	case protocol.EventFindMatch:
		ctl.handleFindMatch(pid, c, env)
	case protocol.EventCancelSearch:
		ctl.handleCancelSearch(pid)
	case protocol.EventLeaveRoom, protocol.EventLeaveCall:
		ctl.handleLeaveRoom(pid, env)
	case protocol.EventChatMessage:
		ctl.handleChatMessage(pid, c, env)
	case protocol.EventTyping:
		ctl.handleTyping(pid, env)
	case protocol.EventOffer, protocol.EventAnswer, protocol.EventICECandidate:
		ctl.handleRelaySignal(pid, c, env)
	case protocol.EventPing:
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "signal").Str("event", env.Event).Msg("unknown signal")
	}
}

func (ctl *SignalWSController) sendJSON(c core.SignalConnection, env protocol.Envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
