// Package broker pairs waiting participants into two-party rooms and relays
// room-scoped traffic between the two members.
package broker

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/dkeye/Roulette/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	ErrAlreadyInRoom = errors.New("already in a room")
	ErrNotInRoom     = errors.New("not a member of this room")
)

// Stats receives broker gauges. Implemented by metrics.Metrics.
type Stats interface {
	SetWaiting(mode domain.Mode, n int)
	SetRooms(n int)
	MatchMade(mode domain.Mode)
}

type nopStats struct{}

func (nopStats) SetWaiting(domain.Mode, int) {}
func (nopStats) SetRooms(int)                {}
func (nopStats) MatchMade(domain.Mode)       {}

type Options struct {
	Policy   PairingPolicy
	NewStore func() WaitingStore
	Stats    Stats
	Now      func() time.Time
}

// Broker owns the waiting collections and the room registry.
// Every mutation happens under one mutex, so pairing and removal from the
// waiting collection are observed as a single step. Notifications are
// queued while the lock is held and flushed after it is released.
type Broker struct {
	mu       sync.Mutex
	queues   map[domain.Mode]WaitingStore
	rooms    map[domain.RoomID]*domain.Room
	memberOf map[domain.ParticipantID]domain.RoomID

	policy   PairingPolicy
	notifier core.Notifier
	stats    Stats
	now      func() time.Time
}

func New(notifier core.Notifier, opts Options) *Broker {
	if opts.Policy == nil {
		opts.Policy = LIFOPolicy{}
	}
	if opts.NewStore == nil {
		opts.NewStore = func() WaitingStore { return NewWaitingList() }
	}
	if opts.Stats == nil {
		opts.Stats = nopStats{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Broker{
		queues: map[domain.Mode]WaitingStore{
			domain.ModeText:  opts.NewStore(),
			domain.ModeVideo: opts.NewStore(),
		},
		rooms:    make(map[domain.RoomID]*domain.Room),
		memberOf: make(map[domain.ParticipantID]domain.RoomID),
		policy:   opts.Policy,
		notifier: notifier,
		stats:    opts.Stats,
		now:      opts.Now,
	}
}

// Enqueue puts pid into the waiting collection for mode and runs a pairing pass.
// A room member is rejected with ErrAlreadyInRoom. Enqueueing an already
// waiting participant only repeats the searching ack.
func (b *Broker) Enqueue(pid domain.ParticipantID, mode domain.Mode) error {
	b.mu.Lock()
	if _, ok := b.memberOf[pid]; ok {
		b.mu.Unlock()
		log.Warn().Str("module", "broker").Str("pid", string(pid)).Msg("enqueue rejected: already in room")
		return ErrAlreadyInRoom
	}

	var out []core.Outbound
	for m, q := range b.queues {
		if m != mode && q.Remove(pid) {
			b.stats.SetWaiting(m, q.Len())
		}
	}
	q := b.queues[mode]
	added := q.Add(pid)
	out = append(out, core.Outbound{To: pid, Env: protocol.MustNew(protocol.EventSearching, nil)})
	if added {
		log.Info().Str("module", "broker").Str("pid", string(pid)).Str("mode", string(mode)).Int("waiting", q.Len()).Msg("enqueued")
		out = append(out, b.pairLocked(mode)...)
	}
	b.stats.SetWaiting(mode, q.Len())
	b.mu.Unlock()

	core.Flush(b.notifier, out)
	return nil
}

// CancelSearch removes pid from any waiting collection. It reports whether pid was waiting.
func (b *Broker) CancelSearch(pid domain.ParticipantID) bool {
	b.mu.Lock()
	removed := b.removeWaitingLocked(pid)
	b.mu.Unlock()

	if removed {
		log.Info().Str("module", "broker").Str("pid", string(pid)).Msg("search canceled")
		b.notifier.Notify(pid, protocol.MustNew(protocol.EventSearchCanceled, nil))
	}
	return removed
}

// OnDisconnect drops every trace of pid, notifies a room partner and
// re-runs pairing for collections that still hold two or more entries.
func (b *Broker) OnDisconnect(pid domain.ParticipantID) {
	b.mu.Lock()
	b.removeWaitingLocked(pid)
	var out []core.Outbound
	if id, ok := b.memberOf[pid]; ok {
		out = append(out, b.dissolveLocked(b.rooms[id], pid)...)
	}
	for mode, q := range b.queues {
		if q.Len() >= 2 {
			out = append(out, b.pairLocked(mode)...)
			b.stats.SetWaiting(mode, q.Len())
		}
	}
	b.mu.Unlock()

	log.Info().Str("module", "broker").Str("pid", string(pid)).Msg("participant gone")
	core.Flush(b.notifier, out)
}

// LeaveRoom dissolves the room, notifies the remaining member and acks the leaver.
// An empty roomID means the room pid currently belongs to.
func (b *Broker) LeaveRoom(roomID domain.RoomID, pid domain.ParticipantID) error {
	b.mu.Lock()
	room, err := b.roomForLocked(roomID, pid)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	out := b.dissolveLocked(room, pid)
	out = append(out, core.Outbound{
		To:  pid,
		Env: protocol.MustNew(protocol.EventCallEnded, protocol.RoomRef{RoomID: string(room.ID)}),
	})
	b.mu.Unlock()

	log.Info().Str("module", "broker").Str("pid", string(pid)).Str("room_id", string(room.ID)).Msg("left room")
	core.Flush(b.notifier, out)
	return nil
}

// RelayMessage forwards a chat payload to the other member only.
func (b *Broker) RelayMessage(roomID domain.RoomID, sender domain.ParticipantID, msg string) error {
	return b.relay(roomID, sender, func(id domain.RoomID) protocol.Envelope {
		return protocol.MustNew(protocol.EventChatMessage, protocol.ChatMessage{RoomID: string(id), Msg: msg, SenderID: string(sender)})
	})
}

// RelayTyping forwards a typing indicator to the other member only.
func (b *Broker) RelayTyping(roomID domain.RoomID, sender domain.ParticipantID, isTyping bool) error {
	return b.relay(roomID, sender, func(id domain.RoomID) protocol.Envelope {
		return protocol.MustNew(protocol.EventTyping, protocol.Typing{RoomID: string(id), IsTyping: isTyping, SenderID: string(sender)})
	})
}

// RelaySignal forwards an offer, answer or ICE candidate payload unchanged.
func (b *Broker) RelaySignal(roomID domain.RoomID, sender domain.ParticipantID, event string, data json.RawMessage) error {
	return b.relay(roomID, sender, func(domain.RoomID) protocol.Envelope {
		return protocol.Envelope{Event: event, Data: data}
	})
}

func (b *Broker) relay(roomID domain.RoomID, sender domain.ParticipantID, build func(domain.RoomID) protocol.Envelope) error {
	b.mu.Lock()
	room, err := b.roomForLocked(roomID, sender)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	partner, _ := room.Partner(sender)
	id := room.ID
	b.mu.Unlock()

	b.notifier.Notify(partner, build(id))
	return nil
}

// RoomOf returns a copy of the room pid belongs to.
func (b *Broker) RoomOf(pid domain.ParticipantID) (domain.Room, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.memberOf[pid]
	if !ok {
		return domain.Room{}, false
	}
	return *b.rooms[id], true
}

// Waiting returns the waiting entries for mode, oldest first.
func (b *Broker) Waiting(mode domain.Mode) []domain.ParticipantID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queues[mode].Snapshot()
}

func (b *Broker) RoomCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rooms)
}

func (b *Broker) pairLocked(mode domain.Mode) []core.Outbound {
	q := b.queues[mode]
	var out []core.Outbound
	for q.Len() >= 2 {
		caller, callee := b.policy.Select(q.Snapshot())
		q.Remove(caller)
		q.Remove(callee)

		room := domain.NewRoom(caller, callee, mode, b.now())
		b.rooms[room.ID] = room
		b.memberOf[caller] = room.ID
		b.memberOf[callee] = room.ID
		b.stats.MatchMade(mode)
		b.stats.SetRooms(len(b.rooms))

		log.Info().
			Str("module", "broker").
			Str("room_id", string(room.ID)).
			Str("mode", string(mode)).
			Str("policy", b.policy.Name()).
			Msg("paired")

		out = append(out, matchEvent(room, caller), matchEvent(room, callee))
	}
	return out
}

func matchEvent(room *domain.Room, pid domain.ParticipantID) core.Outbound {
	partner, _ := room.Partner(pid)
	if room.Mode == domain.ModeText {
		return core.Outbound{To: pid, Env: protocol.MustNew(protocol.EventMatched, protocol.Matched{
			RoomID:    string(room.ID),
			PartnerID: string(partner),
		})}
	}
	return core.Outbound{To: pid, Env: protocol.MustNew(protocol.EventMatchFound, protocol.MatchFound{
		RoomID:    string(room.ID),
		PartnerID: string(partner),
		Role:      string(room.RoleOf(pid)),
	})}
}

// dissolveLocked removes the room and queues the partner-gone notice for the member other than leaver.
func (b *Broker) dissolveLocked(room *domain.Room, leaver domain.ParticipantID) []core.Outbound {
	delete(b.rooms, room.ID)
	delete(b.memberOf, room.MemberA)
	delete(b.memberOf, room.MemberB)
	b.stats.SetRooms(len(b.rooms))

	partner, ok := room.Partner(leaver)
	if !ok {
		return nil
	}
	event := protocol.EventPartnerLeft
	if room.Mode == domain.ModeText {
		event = protocol.EventUserDisconnected
	}
	return []core.Outbound{{To: partner, Env: protocol.MustNew(event, protocol.RoomRef{RoomID: string(room.ID)})}}
}

func (b *Broker) roomForLocked(roomID domain.RoomID, pid domain.ParticipantID) (*domain.Room, error) {
	if roomID == "" {
		id, ok := b.memberOf[pid]
		if !ok {
			return nil, ErrNotInRoom
		}
		roomID = id
	}
	room, ok := b.rooms[roomID]
	if !ok || !room.Has(pid) {
		return nil, ErrNotInRoom
	}
	return room, nil
}

func (b *Broker) removeWaitingLocked(pid domain.ParticipantID) bool {
	removed := false
	for mode, q := range b.queues {
		if q.Remove(pid) {
			removed = true
			b.stats.SetWaiting(mode, q.Len())
		}
	}
	return removed
}
