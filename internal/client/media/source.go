package media

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const streamID = "roulette"

// LocalTracks is captured media as static RTP tracks.
type LocalTracks struct {
	Video *webrtc.TrackLocalStaticRTP
	Audio *webrtc.TrackLocalStaticRTP

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped atomic.Bool
}

func (l *LocalTracks) Stop() {
	if l.stopped.Swap(true) {
		return
	}
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
}

func (l *LocalTracks) Stopped() bool { return l.stopped.Load() }

// Capture produces local tracks. SyntheticCapture is the default.
type Capture func(ctx context.Context) (*LocalTracks, error)

func newLocalTracks() (*LocalTracks, error) {
	video, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamID)
	if err != nil {
		return nil, fmt.Errorf("%w: video track: %v", ErrMediaUnavailable, err)
	}
	audio, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
	if err != nil {
		return nil, fmt.Errorf("%w: audio track: %v", ErrMediaUnavailable, err)
	}
	return &LocalTracks{Video: video, Audio: audio}, nil
}

// SyntheticCapture feeds both tracks with filler RTP packets at media cadence
// until Stop. ctx only bounds the acquisition itself.
// It stands in for camera and microphone on a headless client.
func SyntheticCapture(ctx context.Context) (*LocalTracks, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}
	lt, err := newLocalTracks()
	if err != nil {
		return nil, err
	}
	ctx, lt.cancel = context.WithCancel(context.Background())

	lt.wg.Add(2)
	go lt.generate(ctx, lt.Video, 96, 33*time.Millisecond, 3000)
	go lt.generate(ctx, lt.Audio, 111, 20*time.Millisecond, 960)
	return lt, nil
}

func (l *LocalTracks) generate(ctx context.Context, track *webrtc.TrackLocalStaticRTP, pt uint8, every time.Duration, tsStep uint32) {
	defer l.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:     2,
			PayloadType: pt,
			Marker:      true,
		},
		Payload: make([]byte, 16),
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pkt.SequenceNumber++
			pkt.Timestamp += tsStep
			if err := track.WriteRTP(pkt); err != nil {
				log.Debug().Err(err).Str("module", "media").Str("track", track.ID()).Msg("synthetic write")
			}
		}
	}
}
