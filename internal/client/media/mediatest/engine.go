// Package mediatest provides an in-memory media.Engine that records every call
// and never touches devices or the network.
package mediatest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Roulette/internal/client/media"
	"github.com/dkeye/Roulette/internal/protocol"
)

// ErrNoRemoteDescription mirrors the engine refusing candidates before offer/answer.
var ErrNoRemoteDescription = errors.New("remote description not set")

type Engine struct {
	mu         sync.Mutex
	acquireErr error
	toggleErr  error
	delay      time.Duration
	locals     []*Local
	peers      []*Peer
}

func (e *Engine) FailAcquire(err error) {
	e.mu.Lock()
	e.acquireErr = err
	e.mu.Unlock()
}

// SlowAcquire makes every acquisition take d, as a pending device prompt would.
func (e *Engine) SlowAcquire(d time.Duration) {
	e.mu.Lock()
	e.delay = d
	e.mu.Unlock()
}

// FailToggles makes track switches on peers created from now on return err.
func (e *Engine) FailToggles(err error) {
	e.mu.Lock()
	e.toggleErr = err
	e.mu.Unlock()
}

func (e *Engine) AcquireLocalMedia(ctx context.Context) (media.LocalMedia, error) {
	e.mu.Lock()
	delay := e.delay
	e.mu.Unlock()
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.acquireErr != nil {
		return nil, e.acquireErr
	}
	l := &Local{}
	e.locals = append(e.locals, l)
	return l, nil
}

func (e *Engine) NewPeer(local media.LocalMedia, hooks media.PeerHooks) (media.Peer, error) {
	if local == nil || local.Stopped() {
		return nil, media.ErrMediaUnavailable
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p := &Peer{hooks: hooks, videoOn: true, audioOn: true, toggleErr: e.toggleErr}
	e.peers = append(e.peers, p)
	return p, nil
}

func (e *Engine) Locals() []*Local {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Local(nil), e.locals...)
}

func (e *Engine) Peers() []*Peer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Peer(nil), e.peers...)
}

// LastPeer returns the most recently created peer or nil.
func (e *Engine) LastPeer() *Peer {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.peers) == 0 {
		return nil
	}
	return e.peers[len(e.peers)-1]
}

type Local struct{ stopped atomic.Bool }

func (l *Local) Stop()         { l.stopped.Store(true) }
func (l *Local) Stopped() bool { return l.stopped.Load() }

type Peer struct {
	hooks media.PeerHooks

	mu         sync.Mutex
	offers     int
	remoteSet  bool
	candidates []protocol.ICECandidate
	videoOn    bool
	audioOn    bool
	swaps      int
	states     []media.MediaState
	toggleErr  error
	closed     bool
}

func (p *Peer) CreateOffer(ctx context.Context) (protocol.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return protocol.SessionDescription{}, media.ErrPeerClosed
	}
	p.offers++
	return protocol.SessionDescription{Type: "offer", SDP: "fake-offer"}, nil
}

func (p *Peer) ApplyOffer(ctx context.Context, offer protocol.SessionDescription) (protocol.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return protocol.SessionDescription{}, media.ErrPeerClosed
	}
	p.remoteSet = true
	return protocol.SessionDescription{Type: "answer", SDP: "fake-answer"}, nil
}

func (p *Peer) ApplyAnswer(answer protocol.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return media.ErrPeerClosed
	}
	p.remoteSet = true
	return nil
}

func (p *Peer) AddICECandidate(c protocol.ICECandidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.remoteSet {
		return ErrNoRemoteDescription
	}
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *Peer) SetVideoEnabled(on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.toggleErr != nil {
		return p.toggleErr
	}
	if p.videoOn != on {
		p.videoOn = on
		p.swaps++
	}
	return nil
}

func (p *Peer) SetAudioEnabled(on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.toggleErr != nil {
		return p.toggleErr
	}
	p.audioOn = on
	return nil
}

func (p *Peer) SendState(s media.MediaState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return media.ErrPeerClosed
	}
	p.states = append(p.states, s)
	return nil
}

func (p *Peer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// FailToggles makes later track switches on this peer return err. Nil restores them.
func (p *Peer) FailToggles(err error) {
	p.mu.Lock()
	p.toggleErr = err
	p.mu.Unlock()
}

// Hooks exposes the callbacks so tests can simulate engine events.
func (p *Peer) Hooks() media.PeerHooks { return p.hooks }

func (p *Peer) Offers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offers
}

func (p *Peer) Candidates() []protocol.ICECandidate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.ICECandidate(nil), p.candidates...)
}

func (p *Peer) VideoOn() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.videoOn
}

func (p *Peer) AudioOn() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.audioOn
}

// Swaps counts placeholder substitutions in the video slot.
func (p *Peer) Swaps() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.swaps
}

func (p *Peer) States() []media.MediaState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]media.MediaState(nil), p.states...)
}

func (p *Peer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
