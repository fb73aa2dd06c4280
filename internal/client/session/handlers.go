package session

import (
	"context"
	"errors"

	"github.com/dkeye/Roulette/internal/client/media"
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/dkeye/Roulette/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	errUnexpectedOffer  = errors.New("offer received by caller")
	errUnexpectedAnswer = errors.New("answer received by callee")
	errNoPeer           = errors.New("no media peer for room")
	errBadRole          = errors.New("unknown role")
	errNoRoom           = errors.New("missing room id")
)

// dispatch runs on the channel's pump goroutine. Events that touch the
// session go through the gate; pure notifications do not.
func (m *Machine) dispatch(env protocol.Envelope) {
	switch env.Event {
	case protocol.EventSearching, protocol.EventSearchCanceled:
		m.obs.Observe(Event{Kind: EventNotice, Text: env.Event, State: m.State()})
	case protocol.EventOnlineUsers:
		var p protocol.OnlineUsers
		if err := env.Decode(&p); err != nil {
			m.malformed(env, err)
			return
		}
		m.obs.Observe(Event{Kind: EventOnline, Count: p.Count})
	case protocol.EventChatMessage:
		var p protocol.ChatMessage
		if err := env.Decode(&p); err != nil {
			m.malformed(env, err)
			return
		}
		m.obs.Observe(Event{Kind: EventChat, Text: p.Msg, Sender: p.SenderID})
	case protocol.EventTyping:
		var p protocol.Typing
		if err := env.Decode(&p); err != nil {
			m.malformed(env, err)
			return
		}
		m.obs.Observe(Event{Kind: EventTyping, Typing: p.IsTyping, Sender: p.SenderID})
	case protocol.EventMatched, protocol.EventMatchFound:
		m.gated(env, m.handleMatch)
	case protocol.EventOffer:
		m.gated(env, m.handleOffer)
	case protocol.EventAnswer:
		m.gated(env, m.handleAnswer)
	case protocol.EventICECandidate:
		m.gated(env, m.handleCandidate)
	case protocol.EventPartnerLeft, protocol.EventUserDisconnected:
		m.gated(env, m.handlePartnerGone)
		m.resumePendingSearch(context.Background())
	case protocol.EventCallEnded:
		m.gated(env, m.handleCallEnded)
		m.resumePendingSearch(context.Background())
	case protocol.EventError:
		m.gated(env, m.handleError)
	default:
		log.Warn().Str("module", "session").Str("event", env.Event).Msg("unknown event")
	}
}

func (m *Machine) gated(env protocol.Envelope, h func(context.Context, protocol.Envelope)) {
	ctx := context.Background()
	release, err := m.gate.Acquire(ctx, env.Event)
	if err != nil {
		return
	}
	defer release()
	h(ctx, env)
}

// malformed logs a payload that failed to decode. State is left as is.
func (m *Machine) malformed(env protocol.Envelope, err error) {
	m.fail(newError(ErrSignaling, env.Event, err))
}

func (m *Machine) handleMatch(ctx context.Context, env protocol.Envelope) {
	var p protocol.MatchFound
	if err := env.Decode(&p); err != nil {
		m.malformed(env, err)
		return
	}
	if p.RoomID == "" {
		m.malformed(env, errNoRoom)
		return
	}

	mode := domain.ModeVideo
	role := domain.Role(p.Role)
	if env.Event == protocol.EventMatched {
		mode = domain.ModeText
		role = domain.RoleCaller
	} else if role != domain.RoleCaller && role != domain.RoleCallee {
		m.malformed(env, errBadRole)
		return
	}

	m.mu.Lock()
	st := m.state
	if st != Searching {
		m.mu.Unlock()
		// The search was canceled locally; release the partner on the server.
		log.Info().Str("module", "session").Str("room_id", p.RoomID).Str("state", st.String()).Msg("stale match, leaving room")
		m.send(protocol.MustNew(protocol.EventLeaveRoom, protocol.RoomRef{RoomID: p.RoomID}))
		return
	}
	// The partner's state is assumed on until its first update arrives.
	s := &MediaSession{
		RoomID:      domain.RoomID(p.RoomID),
		PartnerID:   domain.ParticipantID(p.PartnerID),
		Role:        role,
		Mode:        mode,
		LocalState:  m.prefs,
		RemoteState: media.MediaState{Camera: true, Mic: true},
		StartedAt:   m.now(),
	}
	m.session = s
	m.pendingSearch = false
	prefs := m.prefs
	m.mu.Unlock()

	m.transition(TrigMatchFound)
	log.Info().Str("module", "session").Str("room_id", p.RoomID).Str("role", string(role)).Str("mode", string(mode)).Msg("matched")

	if mode == domain.ModeText {
		m.transition(TrigNegotiated)
		return
	}

	actx, cancel := context.WithTimeout(ctx, m.mediaTO)
	local, err := m.engine.AcquireLocalMedia(actx)
	cancel()
	if err != nil {
		m.abortCall(s, newError(ErrMediaAcquisition, "acquire-media", err))
		return
	}
	// A slow device prompt can outlive the gate; the call may be gone by now.
	if !m.current(s) {
		local.Stop()
		log.Info().Str("module", "session").Str("room_id", p.RoomID).Msg("call ended during media setup")
		return
	}
	peer, err := m.engine.NewPeer(local, m.hooks(s))
	if err != nil {
		local.Stop()
		m.abortCall(s, newError(ErrMediaAcquisition, "new-peer", err))
		return
	}
	if err := applyPrefs(peer, prefs); err != nil {
		_ = peer.Close()
		local.Stop()
		m.abortCall(s, newError(ErrMediaAcquisition, "apply-prefs", err))
		return
	}

	m.mu.Lock()
	if m.session != s {
		m.mu.Unlock()
		_ = peer.Close()
		local.Stop()
		log.Info().Str("module", "session").Str("room_id", p.RoomID).Msg("call ended during media setup")
		return
	}
	s.local = local
	s.peer = peer
	m.mu.Unlock()

	// Held by the peer until the side channel opens.
	if err := peer.SendState(prefs); err != nil {
		log.Warn().Err(err).Str("module", "session").Str("room_id", p.RoomID).Msg("initial media state not sent")
	}

	if role != domain.RoleCaller {
		return
	}
	offer, err := peer.CreateOffer(ctx)
	if err != nil {
		m.abortCall(s, newError(ErrSignaling, "create-offer", err))
		return
	}
	if !m.current(s) {
		return
	}
	m.send(protocol.MustNew(protocol.EventOffer, protocol.Offer{RoomID: p.RoomID, Offer: offer}))
}

func applyPrefs(peer media.Peer, prefs media.MediaState) error {
	if !prefs.Camera {
		if err := peer.SetVideoEnabled(false); err != nil {
			return err
		}
	}
	if !prefs.Mic {
		if err := peer.SetAudioEnabled(false); err != nil {
			return err
		}
	}
	return nil
}

// abortCall unwinds a session whose setup failed and tells the server the call is over.
func (m *Machine) abortCall(s *MediaSession, err error) {
	if !m.current(s) {
		release(s)
		return
	}
	m.teardown()
	m.transition(TrigCallEnded)
	m.send(protocol.MustNew(protocol.EventLeaveCall, protocol.RoomRef{RoomID: string(s.RoomID)}))
	m.fail(err)
}

func (m *Machine) hooks(s *MediaSession) media.PeerHooks {
	return media.PeerHooks{
		OnICECandidate: func(c protocol.ICECandidate) {
			if !m.current(s) {
				return
			}
			m.send(protocol.MustNew(protocol.EventICECandidate, protocol.Candidate{RoomID: string(s.RoomID), Candidate: c}))
		},
		OnRemoteTrack: func(kind string) {
			m.mu.Lock()
			ok := m.session == s
			if ok {
				s.RemoteTracks = append(s.RemoteTracks, kind)
			}
			m.mu.Unlock()
			if ok {
				m.obs.Observe(Event{Kind: EventRemoteTrack, Text: kind})
			}
		},
		OnRemoteState: func(st media.MediaState) {
			m.mu.Lock()
			ok := m.session == s
			if ok {
				s.RemoteState = st
			}
			m.mu.Unlock()
			if ok {
				m.obs.Observe(Event{Kind: EventRemoteMedia, Media: st})
			}
		},
		OnFailed: func() {
			go func() {
				release, err := m.gate.Acquire(context.Background(), "media-failed")
				if err != nil {
					return
				}
				defer release()
				if m.current(s) {
					m.abortCall(s, newError(ErrTransport, "media", errors.New("media path failed")))
				}
			}()
		},
	}
}

func (m *Machine) current(s *MediaSession) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session == s
}

// sessionFor returns the active session if roomID names it. An empty roomID
// matches any active session.
func (m *Machine) sessionFor(roomID string) *MediaSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.session
	if s == nil || (roomID != "" && roomID != string(s.RoomID)) {
		return nil
	}
	return s
}

func (m *Machine) handleOffer(ctx context.Context, env protocol.Envelope) {
	var p protocol.Offer
	if err := env.Decode(&p); err != nil {
		m.malformed(env, err)
		return
	}
	s := m.sessionFor(p.RoomID)
	if s == nil {
		log.Debug().Str("module", "session").Str("room_id", p.RoomID).Msg("offer for inactive room")
		return
	}
	if s.Role == domain.RoleCaller {
		m.malformed(env, errUnexpectedOffer)
		return
	}
	if s.peer == nil {
		m.malformed(env, errNoPeer)
		return
	}
	answer, err := s.peer.ApplyOffer(ctx, p.Offer)
	if err != nil {
		m.malformed(env, err)
		return
	}
	m.remoteApplied(s)
	m.send(protocol.MustNew(protocol.EventAnswer, protocol.Answer{RoomID: string(s.RoomID), Answer: answer}))
	m.transition(TrigNegotiated)
}

func (m *Machine) handleAnswer(_ context.Context, env protocol.Envelope) {
	var p protocol.Answer
	if err := env.Decode(&p); err != nil {
		m.malformed(env, err)
		return
	}
	s := m.sessionFor(p.RoomID)
	if s == nil {
		log.Debug().Str("module", "session").Str("room_id", p.RoomID).Msg("answer for inactive room")
		return
	}
	if s.Role != domain.RoleCaller {
		m.malformed(env, errUnexpectedAnswer)
		return
	}
	if s.peer == nil {
		m.malformed(env, errNoPeer)
		return
	}
	if err := s.peer.ApplyAnswer(p.Answer); err != nil {
		m.malformed(env, err)
		return
	}
	m.remoteApplied(s)
	m.transition(TrigNegotiated)
}

func (m *Machine) handleCandidate(_ context.Context, env protocol.Envelope) {
	var p protocol.Candidate
	if err := env.Decode(&p); err != nil {
		m.malformed(env, err)
		return
	}
	s := m.sessionFor(p.RoomID)
	if s == nil || s.peer == nil {
		return
	}
	m.mu.Lock()
	if !s.remoteSet {
		s.pendingICE = append(s.pendingICE, p.Candidate)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	if err := s.peer.AddICECandidate(p.Candidate); err != nil {
		log.Warn().Err(err).Str("module", "session").Str("room_id", string(s.RoomID)).Msg("candidate rejected")
	}
}

// remoteApplied marks the remote description as set and flushes buffered candidates.
func (m *Machine) remoteApplied(s *MediaSession) {
	m.mu.Lock()
	s.remoteSet = true
	pending := s.pendingICE
	s.pendingICE = nil
	m.mu.Unlock()

	for _, c := range pending {
		if err := s.peer.AddICECandidate(c); err != nil {
			log.Warn().Err(err).Str("module", "session").Str("room_id", string(s.RoomID)).Msg("buffered candidate rejected")
		}
	}
}

func (m *Machine) handlePartnerGone(_ context.Context, env protocol.Envelope) {
	var p protocol.RoomRef
	if err := env.Decode(&p); err != nil {
		m.malformed(env, err)
		return
	}
	if m.sessionFor(p.RoomID) == nil {
		return
	}
	m.teardown()
	m.transition(TrigCallEnded)
	m.obs.Observe(Event{Kind: EventNotice, Text: env.Event, State: m.State()})
}

// handleCallEnded applies the server's view; a late ack for a room we
// already left matches nothing and is dropped.
func (m *Machine) handleCallEnded(_ context.Context, env protocol.Envelope) {
	var p protocol.RoomRef
	if err := env.Decode(&p); err != nil {
		m.malformed(env, err)
		return
	}
	if p.RoomID == "" || m.sessionFor(p.RoomID) == nil {
		return
	}
	m.teardown()
	m.transition(TrigCallEnded)
}

func (m *Machine) handleError(_ context.Context, env protocol.Envelope) {
	var p protocol.Error
	if err := env.Decode(&p); err != nil {
		m.malformed(env, err)
		return
	}
	if p.Message == protocol.AuthFailedMessage {
		m.authFailed("signal")
		return
	}
	if wait, ok := ParseRetryAfter(p.Message); ok {
		// A throttled find-match never reached the waiting collection.
		m.transition(TrigSearchCanceled)
		m.fail(rateLimited("find-match", wait, errors.New(p.Message)))
		return
	}
	m.fail(errors.New(p.Message))
}

// authFailed is terminal: the user has to connect again.
func (m *Machine) authFailed(op string) {
	m.mu.Lock()
	if m.closing && m.state == Disconnected {
		m.mu.Unlock()
		return
	}
	m.closing = true
	m.pendingSearch = false
	m.mu.Unlock()

	m.teardown()
	m.pool.CloseConnection(m.connID)
	m.transition(TrigDisconnect)
	m.fail(newError(ErrAuth, op, errors.New(protocol.AuthFailedMessage)))
}
