package session

import (
	"time"

	"github.com/dkeye/Roulette/internal/client/media"
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/dkeye/Roulette/internal/protocol"
)

type EventKind string

const (
	EventState       EventKind = "state"
	EventOnline      EventKind = "online"
	EventChat        EventKind = "chat"
	EventTyping      EventKind = "typing"
	EventRemoteMedia EventKind = "remote-media"
	EventRemoteTrack EventKind = "remote-track"
	EventNotice      EventKind = "notice"
	EventFailure     EventKind = "failure"
)

// Event is what the machine reports to its observer. Only the fields relevant
// to Kind are set.
type Event struct {
	Kind   EventKind
	State  State
	Count  int
	Text   string
	Sender string
	Typing bool
	Media  media.MediaState
	Status Status
	Err    error
}

// Observer is called from whichever goroutine produced the event.
type Observer interface {
	Observe(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// MediaSession is the single active conversation. It exists from match until
// call end, partner loss or disconnect.
type MediaSession struct {
	RoomID       domain.RoomID
	PartnerID    domain.ParticipantID
	Role         domain.Role
	Mode         domain.Mode
	LocalState   media.MediaState
	RemoteState  media.MediaState
	RemoteTracks []string
	StartedAt    time.Time

	local      media.LocalMedia
	peer       media.Peer
	remoteSet  bool
	pendingICE []protocol.ICECandidate
}

func (s *MediaSession) snapshot() MediaSession {
	c := *s
	c.RemoteTracks = append([]string(nil), s.RemoteTracks...)
	c.pendingICE = append([]protocol.ICECandidate(nil), s.pendingICE...)
	return c
}

// Buffered reports how many remote candidates wait for the remote description.
func (s MediaSession) Buffered() int { return len(s.pendingICE) }
