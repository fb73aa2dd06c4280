// Package media is the client's view of the real-time media stack: local
// capture, a peer session with offer/answer/ICE primitives and a side channel
// for camera and mic state.
package media

import (
	"context"
	"errors"

	"github.com/dkeye/Roulette/internal/protocol"
)

var (
	ErrMediaUnavailable = errors.New("local media unavailable")
	ErrPeerClosed       = errors.New("peer closed")
)

// MediaState is the camera/mic flag pair sent to the partner out of band.
type MediaState struct {
	Camera bool `msgpack:"cam"`
	Mic    bool `msgpack:"mic"`
}

// LocalMedia is captured camera and microphone output.
type LocalMedia interface {
	// Stop releases the capture. Safe to call more than once.
	Stop()
	Stopped() bool
}

type PeerHooks struct {
	OnICECandidate func(protocol.ICECandidate)
	OnRemoteTrack  func(kind string)
	OnRemoteState  func(MediaState)
	// OnFailed fires once if the media path fails after negotiation.
	OnFailed func()
}

// Peer is a single two-party media session.
type Peer interface {
	// CreateOffer sets and returns the local offer.
	CreateOffer(ctx context.Context) (protocol.SessionDescription, error)
	// ApplyOffer sets the remote offer and returns the local answer.
	ApplyOffer(ctx context.Context, offer protocol.SessionDescription) (protocol.SessionDescription, error)
	ApplyAnswer(answer protocol.SessionDescription) error
	AddICECandidate(c protocol.ICECandidate) error
	// SetVideoEnabled swaps a placeholder into the video slot without renegotiating.
	SetVideoEnabled(on bool) error
	SetAudioEnabled(on bool) error
	SendState(s MediaState) error
	Close() error
}

type Engine interface {
	AcquireLocalMedia(ctx context.Context) (LocalMedia, error)
	NewPeer(local LocalMedia, hooks PeerHooks) (Peer, error)
}
