// Package session drives one client's conversation lifecycle: it opens the
// signaling channel, searches, negotiates the media session and tears it down,
// serializing every state change through a single operation gate.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/dkeye/Roulette/internal/client/connmgr"
	"github.com/dkeye/Roulette/internal/client/media"
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/dkeye/Roulette/internal/protocol"
	"github.com/rs/zerolog/log"
)

const (
	DefaultConnID            = "signal"
	DefaultReconnectAttempts = 3
	DefaultReconnectBackoff  = time.Second
	DefaultTypingIdle        = 1500 * time.Millisecond
	DefaultMediaTimeout      = 10 * time.Second
)

type Options struct {
	Pool              *connmgr.Pool
	Engine            media.Engine
	Tokens            TokenSource
	ServerURL         string
	ConnID            string
	GateStaleAfter    time.Duration
	ReconnectAttempts int
	ReconnectBackoff  time.Duration
	TypingIdle        time.Duration
	MediaTimeout      time.Duration
	Observer          Observer
	Now               func() time.Time
}

type Machine struct {
	pool    *connmgr.Pool
	engine  media.Engine
	tokens  TokenSource
	gate    *Gate
	obs     Observer
	now     func() time.Time
	url     string
	connID  string
	retries int
	backoff time.Duration
	idle    time.Duration
	mediaTO time.Duration

	mu            sync.Mutex
	state         State
	session       *MediaSession
	prefs         media.MediaState
	searchMode    domain.Mode
	pendingSearch bool
	typing        bool
	typingTimer   *time.Timer
	closing       bool
}

func New(opts Options) *Machine {
	if opts.ConnID == "" {
		opts.ConnID = DefaultConnID
	}
	if opts.ReconnectAttempts <= 0 {
		opts.ReconnectAttempts = DefaultReconnectAttempts
	}
	if opts.ReconnectBackoff <= 0 {
		opts.ReconnectBackoff = DefaultReconnectBackoff
	}
	if opts.TypingIdle <= 0 {
		opts.TypingIdle = DefaultTypingIdle
	}
	if opts.MediaTimeout <= 0 {
		opts.MediaTimeout = DefaultMediaTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Observer == nil {
		opts.Observer = ObserverFunc(func(Event) {})
	}
	return &Machine{
		pool:       opts.Pool,
		engine:     opts.Engine,
		tokens:     opts.Tokens,
		gate:       NewGate(opts.GateStaleAfter, opts.Now),
		obs:        opts.Observer,
		now:        opts.Now,
		url:        opts.ServerURL,
		connID:     opts.ConnID,
		retries:    opts.ReconnectAttempts,
		backoff:    opts.ReconnectBackoff,
		idle:       opts.TypingIdle,
		mediaTO:    opts.MediaTimeout,
		state:      Disconnected,
		prefs:      media.MediaState{Camera: true, Mic: true},
		searchMode: domain.ModeVideo,
	}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns a copy of the active media session.
func (m *Machine) Session() (MediaSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return MediaSession{}, false
	}
	return m.session.snapshot(), true
}

// PendingSearch reports whether a skip is still waiting to search again.
func (m *Machine) PendingSearch() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingSearch
}

func (m *Machine) Gate() *Gate { return m.gate }

// Connect fetches a token and opens the signaling channel.
func (m *Machine) Connect(ctx context.Context) error {
	return m.gate.Do(ctx, "connect", func() error {
		if m.State() != Disconnected {
			return nil
		}
		m.mu.Lock()
		m.closing = false
		m.mu.Unlock()

		m.transition(TrigConnect)
		if err := m.open(ctx); err != nil {
			m.transition(TrigConnectFailed)
			m.fail(err)
			return err
		}
		m.transition(TrigConnected)
		return nil
	})
}

func (m *Machine) open(ctx context.Context) error {
	token, err := m.tokens.Token(ctx)
	if err != nil {
		var se *Error
		if errors.As(err, &se) {
			return err
		}
		return newError(ErrTransport, "token", err)
	}
	cfg := connmgr.Config{
		URL:       m.url,
		Params:    url.Values{"token": {token}},
		OnMessage: m.dispatch,
		OnClose:   func(code int) { go m.onClose(code) },
	}
	if _, err := m.pool.GetOrCreateConnection(ctx, m.connID, cfg); err != nil {
		return newError(ErrTransport, "connect", err)
	}
	return nil
}

// FindMatch asks the server to pair us. Calling it while already searching is a no-op.
func (m *Machine) FindMatch(ctx context.Context, mode domain.Mode) error {
	return m.gate.Do(ctx, "find-match", func() error {
		m.mu.Lock()
		m.pendingSearch = false
		m.mu.Unlock()
		return m.startSearch(mode)
	})
}

func (m *Machine) startSearch(mode domain.Mode) error {
	switch st := m.State(); st {
	case Searching:
		return nil
	case Connected:
	default:
		return fmt.Errorf("%w: find-match while %s", ErrInvalidTransition, st)
	}
	if !m.send(protocol.MustNew(protocol.EventFindMatch, protocol.FindMatch{Mode: string(mode)})) {
		err := newError(ErrTransport, "find-match", connmgr.ErrNoConnection)
		m.fail(err)
		return err
	}
	m.mu.Lock()
	m.searchMode = mode
	m.mu.Unlock()
	m.transition(TrigFindMatch)
	return nil
}

// CancelSearch leaves the waiting collection. The local state moves at once;
// a late match for the canceled search is repaired when it arrives.
func (m *Machine) CancelSearch(ctx context.Context) error {
	return m.gate.Do(ctx, "cancel-search", func() error {
		m.mu.Lock()
		m.pendingSearch = false
		m.mu.Unlock()
		if !m.transition(TrigSearchCanceled) {
			return nil
		}
		m.send(protocol.MustNew(protocol.EventCancelSearch, nil))
		return nil
	})
}

// LeaveCall ends the current conversation and returns to connected.
func (m *Machine) LeaveCall(ctx context.Context) error {
	return m.gate.Do(ctx, "leave-call", m.leaveCall)
}

func (m *Machine) leaveCall() error {
	if !m.State().inRoom() {
		return ErrNotInRoom
	}
	room := m.teardown()
	m.transition(TrigCallEnded)
	m.send(protocol.MustNew(protocol.EventLeaveCall, protocol.RoomRef{RoomID: string(room)}))
	return nil
}

// Skip leaves the call and searches again once the call end has settled.
func (m *Machine) Skip(ctx context.Context) error {
	err := m.gate.Do(ctx, "skip", func() error {
		m.mu.Lock()
		st := m.state
		if !st.inRoom() {
			m.mu.Unlock()
			return fmt.Errorf("%w: skip while %s", ErrInvalidTransition, st)
		}
		m.pendingSearch = true
		if m.session != nil {
			m.searchMode = m.session.Mode
		}
		m.mu.Unlock()
		return m.leaveCall()
	})
	if err != nil {
		return err
	}
	m.resumePendingSearch(ctx)
	return nil
}

// resumePendingSearch issues the deferred search of a skip. It fires only
// with a healthy channel, no media session and the machine back at connected,
// and clears the flag so it fires once.
func (m *Machine) resumePendingSearch(ctx context.Context) {
	err := m.gate.Do(ctx, "resume-search", func() error {
		m.mu.Lock()
		ready := m.pendingSearch && m.session == nil && m.state == Connected
		mode := m.searchMode
		m.mu.Unlock()
		if !ready || !m.pool.IsHealthy(m.connID) {
			return nil
		}
		m.mu.Lock()
		m.pendingSearch = false
		m.mu.Unlock()
		return m.startSearch(mode)
	})
	if err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("deferred search failed")
	}
}

// Disconnect closes everything. It always succeeds locally.
func (m *Machine) Disconnect(ctx context.Context) error {
	return m.gate.Do(ctx, "disconnect", func() error {
		m.mu.Lock()
		m.closing = true
		m.pendingSearch = false
		m.mu.Unlock()
		m.teardown()
		m.pool.CloseConnection(m.connID)
		m.transition(TrigDisconnect)
		return nil
	})
}

// SetCamera switches the outbound video between camera and placeholder and
// tells the partner over the side channel. Repeating the current value does nothing.
func (m *Machine) SetCamera(ctx context.Context, on bool) error {
	return m.toggle(ctx, "camera", func(s media.MediaState) media.MediaState {
		s.Camera = on
		return s
	}, func(p media.Peer) error { return p.SetVideoEnabled(on) })
}

func (m *Machine) SetMic(ctx context.Context, on bool) error {
	return m.toggle(ctx, "mic", func(s media.MediaState) media.MediaState {
		s.Mic = on
		return s
	}, func(p media.Peer) error { return p.SetAudioEnabled(on) })
}

// toggle commits the new preference only once the track switch succeeded.
func (m *Machine) toggle(ctx context.Context, kind string, update func(media.MediaState) media.MediaState, apply func(media.Peer) error) error {
	return m.gate.Do(ctx, kind, func() error {
		m.mu.Lock()
		state := update(m.prefs)
		changed := state != m.prefs
		s := m.session
		var peer media.Peer
		if s != nil {
			peer = s.peer
		}
		m.mu.Unlock()

		if !changed {
			return nil
		}
		if peer != nil {
			if err := apply(peer); err != nil {
				return newError(ErrMediaAcquisition, kind, err)
			}
		}

		m.mu.Lock()
		m.prefs = state
		if s != nil && m.session == s {
			s.LocalState = state
		}
		m.mu.Unlock()

		if peer == nil {
			return nil
		}
		if err := peer.SendState(state); err != nil {
			log.Warn().Err(err).Str("module", "session").Str("op", kind).Msg("media state not sent")
		}
		return nil
	})
}

// SendChat delivers msg to the partner and clears the typing indicator.
func (m *Machine) SendChat(msg string) error {
	room, ok := m.activeRoom()
	if !ok {
		return ErrNotInRoom
	}
	m.clearTyping(room)
	if !m.send(protocol.MustNew(protocol.EventChatMessage, protocol.ChatMessage{RoomID: string(room), Msg: msg})) {
		return newError(ErrTransport, "chat", connmgr.ErrNoConnection)
	}
	return nil
}

// SetTyping reports typing to the partner. A true value clears itself after
// the idle period unless refreshed.
func (m *Machine) SetTyping(on bool) error {
	room, ok := m.activeRoom()
	if !ok {
		return ErrNotInRoom
	}
	if !on {
		m.clearTyping(room)
		return nil
	}

	m.mu.Lock()
	was := m.typing
	m.typing = true
	if m.typingTimer != nil {
		m.typingTimer.Stop()
	}
	m.typingTimer = time.AfterFunc(m.idle, func() { m.clearTyping(room) })
	m.mu.Unlock()

	if !was {
		m.send(protocol.MustNew(protocol.EventTyping, protocol.Typing{RoomID: string(room), IsTyping: true}))
	}
	return nil
}

func (m *Machine) clearTyping(room domain.RoomID) {
	m.mu.Lock()
	was := m.typing
	m.typing = false
	if m.typingTimer != nil {
		m.typingTimer.Stop()
		m.typingTimer = nil
	}
	m.mu.Unlock()
	if was {
		m.send(protocol.MustNew(protocol.EventTyping, protocol.Typing{RoomID: string(room), IsTyping: false}))
	}
}

func (m *Machine) activeRoom() (domain.RoomID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || m.state != InCall {
		return "", false
	}
	return m.session.RoomID, true
}

// teardown drops the media session and releases its resources. It returns
// the room the session belonged to.
func (m *Machine) teardown() domain.RoomID {
	m.mu.Lock()
	s := m.session
	m.session = nil
	m.typing = false
	if m.typingTimer != nil {
		m.typingTimer.Stop()
		m.typingTimer = nil
	}
	m.mu.Unlock()
	if s == nil {
		return ""
	}
	release(s)
	log.Info().Str("module", "session").Str("room_id", string(s.RoomID)).Msg("media session released")
	return s.RoomID
}

func release(s *MediaSession) {
	if s.peer != nil {
		_ = s.peer.Close()
	}
	if s.local != nil {
		s.local.Stop()
	}
}

func (m *Machine) transition(t Trigger) bool {
	m.mu.Lock()
	from := m.state
	to, ok := Next(from, t)
	if ok {
		m.state = to
	}
	m.mu.Unlock()

	if !ok {
		log.Debug().Str("module", "session").Str("state", from.String()).Str("trigger", t.String()).Msg("transition ignored")
		return false
	}
	if from != to {
		log.Info().Str("module", "session").Str("from", from.String()).Str("to", to.String()).Msg("state")
		m.obs.Observe(Event{Kind: EventState, State: to})
	}
	return true
}

func (m *Machine) send(env protocol.Envelope) bool {
	ok := m.pool.SendMessage(m.connID, env)
	if !ok {
		log.Debug().Str("module", "session").Str("event", env.Event).Msg("not sent: no healthy connection")
	}
	return ok
}

func (m *Machine) fail(err error) {
	st := StatusOf(err)
	log.Warn().Err(err).Str("module", "session").Str("category", st.Category).Msg("failure")
	m.obs.Observe(Event{Kind: EventFailure, Status: st, Err: err})
}
