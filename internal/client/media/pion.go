package media

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/Roulette/internal/protocol"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func DefaultWebRTCConfig(stunURLs []string) webrtc.Configuration {
	if len(stunURLs) == 0 {
		stunURLs = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: stunURLs}},
	}
}

// PionEngine runs media sessions on pion/webrtc.
type PionEngine struct {
	Config  webrtc.Configuration
	Capture Capture
}

func NewPionEngine(cfg webrtc.Configuration) *PionEngine {
	return &PionEngine{Config: cfg, Capture: SyntheticCapture}
}

func (e *PionEngine) AcquireLocalMedia(ctx context.Context) (LocalMedia, error) {
	capture := e.Capture
	if capture == nil {
		capture = SyntheticCapture
	}
	lt, err := capture(ctx)
	if err != nil {
		return nil, err
	}
	return lt, nil
}

func (e *PionEngine) NewPeer(local LocalMedia, hooks PeerHooks) (Peer, error) {
	lt, ok := local.(*LocalTracks)
	if !ok || lt.Stopped() {
		return nil, ErrMediaUnavailable
	}

	pc, err := webrtc.NewPeerConnection(e.Config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	p := &pionPeer{pc: pc, local: lt, hooks: hooks}
	if err := p.setup(); err != nil {
		_ = pc.Close()
		return nil, err
	}
	return p, nil
}

type pionPeer struct {
	pc    *webrtc.PeerConnection
	local *LocalTracks
	hooks PeerHooks

	video       *webrtc.RTPSender
	audio       *webrtc.RTPSender
	placeholder *webrtc.TrackLocalStaticRTP
	dc          *webrtc.DataChannel

	mu         sync.Mutex
	pending    *MediaState
	closed     bool
	failedOnce sync.Once
}

func (p *pionPeer) setup() error {
	var err error
	if p.video, err = p.pc.AddTrack(p.local.Video); err != nil {
		return fmt.Errorf("add video: %w", err)
	}
	if p.audio, err = p.pc.AddTrack(p.local.Audio); err != nil {
		return fmt.Errorf("add audio: %w", err)
	}
	// Same codec as the camera track so the slot can be swapped without renegotiation.
	p.placeholder, err = webrtc.NewTrackLocalStaticRTP(p.local.Video.Codec(), "video-off", streamID)
	if err != nil {
		return fmt.Errorf("placeholder: %w", err)
	}

	negotiated, ordered := true, true
	id := SideChannelID
	p.dc, err = p.pc.CreateDataChannel(SideChannelLabel, &webrtc.DataChannelInit{
		Negotiated: &negotiated,
		ID:         &id,
		Ordered:    &ordered,
	})
	if err != nil {
		return fmt.Errorf("side channel: %w", err)
	}
	p.dc.OnOpen(p.flushState)
	p.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		s, err := DecodeState(msg.Data)
		if err != nil {
			log.Warn().Err(err).Str("module", "media").Msg("bad side channel message")
			return
		}
		if p.hooks.OnRemoteState != nil {
			p.hooks.OnRemoteState(s)
		}
	})

	for _, s := range []*webrtc.RTPSender{p.video, p.audio} {
		go drainRTCP(s)
	}

	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || p.hooks.OnICECandidate == nil {
			return
		}
		p.hooks.OnICECandidate(toProtocolCandidate(c.ToJSON()))
	})

	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "media").Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed {
			p.failedOnce.Do(func() {
				if p.hooks.OnFailed != nil {
					p.hooks.OnFailed()
				}
			})
		}
	})

	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "media").
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("OnTrack received")
		if p.hooks.OnRemoteTrack != nil {
			p.hooks.OnRemoteTrack(track.Kind().String())
		}
		go drainRemote(track)
	})
	return nil
}

func (p *pionPeer) CreateOffer(ctx context.Context) (protocol.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return protocol.SessionDescription{}, err
	}
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return toProtocolSDP(*p.pc.LocalDescription()), nil
}

func (p *pionPeer) ApplyOffer(ctx context.Context, offer protocol.SessionDescription) (protocol.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return protocol.SessionDescription{}, err
	}
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("set remote description: %w", err)
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return toProtocolSDP(*p.pc.LocalDescription()), nil
}

func (p *pionPeer) ApplyAnswer(answer protocol.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer.SDP}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (p *pionPeer) AddICECandidate(c protocol.ICECandidate) error {
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

func (p *pionPeer) SetVideoEnabled(on bool) error {
	var next webrtc.TrackLocal = p.placeholder
	if on {
		next = p.local.Video
	}
	if cur := p.video.Track(); cur != nil && cur.ID() == next.ID() {
		return nil
	}
	if err := p.video.ReplaceTrack(next); err != nil {
		return fmt.Errorf("replace video: %w", err)
	}
	return nil
}

func (p *pionPeer) SetAudioEnabled(on bool) error {
	var next webrtc.TrackLocal
	if on {
		next = p.local.Audio
	}
	if cur := p.audio.Track(); (cur == nil) == (next == nil) && (cur == nil || cur.ID() == next.ID()) {
		return nil
	}
	if err := p.audio.ReplaceTrack(next); err != nil {
		return fmt.Errorf("replace audio: %w", err)
	}
	return nil
}

// SendState sends s now if the side channel is open, otherwise on open.
// Only the latest pending state is kept.
func (p *pionPeer) SendState(s MediaState) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPeerClosed
	}
	if p.dc.ReadyState() != webrtc.DataChannelStateOpen {
		p.pending = &s
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return p.sendState(s)
}

func (p *pionPeer) flushState() {
	p.mu.Lock()
	s := p.pending
	p.pending = nil
	p.mu.Unlock()
	if s != nil {
		if err := p.sendState(*s); err != nil {
			log.Warn().Err(err).Str("module", "media").Msg("flush media state")
		}
	}
}

func (p *pionPeer) sendState(s MediaState) error {
	b, err := EncodeState(s)
	if err != nil {
		return err
	}
	return p.dc.Send(b)
}

func (p *pionPeer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if err := p.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "media").Msg("close error")
		return err
	}
	log.Info().Str("module", "media").Msg("closed")
	return nil
}

// VideoTrackID reports which track currently occupies the video slot.
func (p *pionPeer) VideoTrackID() string {
	if t := p.video.Track(); t != nil {
		return t.ID()
	}
	return ""
}

func drainRTCP(s *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := s.Read(buf); err != nil {
			return
		}
	}
}

func drainRemote(track *webrtc.TrackRemote) {
	var (
		pkt   *rtp.Packet
		err   error
		bytes int
	)
	for {
		if pkt, _, err = track.ReadRTP(); err != nil {
			log.Debug().Str("module", "media").Str("track_id", track.ID()).Int("bytes", bytes).Msg("remote track ended")
			return
		}
		bytes += len(pkt.Payload)
	}
}

func toProtocolSDP(d webrtc.SessionDescription) protocol.SessionDescription {
	return protocol.SessionDescription{Type: d.Type.String(), SDP: d.SDP}
}

func toProtocolCandidate(c webrtc.ICECandidateInit) protocol.ICECandidate {
	return protocol.ICECandidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
