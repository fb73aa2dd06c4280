// Package core holds the ports shared by the broker, the registry and the
// transport adapters.
package core

import (
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/dkeye/Roulette/internal/protocol"
)

// Frame is one encoded envelope as written to the wire.
type Frame []byte

// SignalConnection is a participant's outbound queue. TrySend never blocks;
// a full queue returns an error and the frame is lost. The transport adapter
// that created it is responsible for Close.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Notifier delivers a server event to a single participant.
// Implementations must not block; undeliverable frames are dropped.
type Notifier interface {
	Notify(to domain.ParticipantID, env protocol.Envelope)
}

// Broadcaster fans a server event out to every connected participant.
type Broadcaster interface {
	Broadcast(env protocol.Envelope)
}

// Outbound is a queued notification, flushed after the producer releases its locks.
type Outbound struct {
	To  domain.ParticipantID
	Env protocol.Envelope
}

// Flush sends every queued notification in order.
func Flush(n Notifier, out []Outbound) {
	for _, o := range out {
		n.Notify(o.To, o.Env)
	}
}
