package connmgr

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/dkeye/Roulette/internal/protocol"
	"github.com/rs/zerolog/log"
)

// WSDialer opens signaling channels over coder/websocket.
type WSDialer struct {
	ReadLimit int64
}

func (d WSDialer) Dial(ctx context.Context, cfg Config) (Transport, error) {
	endpoint, err := cfg.Endpoint()
	if err != nil {
		return nil, err
	}
	conn, resp, err := websocket.Dial(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}

	t := &wsTransport{conn: conn, in: make(chan protocol.Envelope, 64), done: make(chan struct{})}
	t.open.Store(true)
	go t.readLoop()
	return t, nil
}

type wsTransport struct {
	conn *websocket.Conn
	in   chan protocol.Envelope
	// done unblocks the read loop so a local Close can finish its handshake.
	done chan struct{}

	open      atomic.Bool
	code      atomic.Int32
	closeOnce sync.Once
}

func (t *wsTransport) readLoop() {
	defer close(t.in)
	for {
		_, data, err := t.conn.Read(context.Background())
		if err != nil {
			code := int32(websocket.CloseStatus(err))
			if code == -1 {
				code = CloseAbnormal
			}
			t.code.CompareAndSwap(0, code)
			t.open.Store(false)
			return
		}
		// wsjson.Read would close the channel on a bad frame; parse failures are only logged.
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Str("module", "connmgr").Msg("bad frame")
			continue
		}
		select {
		case t.in <- env:
		case <-t.done:
			return
		}
	}
}

func (t *wsTransport) Send(ctx context.Context, env protocol.Envelope) error {
	if !t.open.Load() {
		return ErrClosed
	}
	return wsjson.Write(ctx, t.conn, env)
}

func (t *wsTransport) Inbound() <-chan protocol.Envelope { return t.in }

func (t *wsTransport) Open() bool { return t.open.Load() }

func (t *wsTransport) CloseCode() int { return int(t.code.Load()) }

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.code.CompareAndSwap(0, CloseNormal)
		t.open.Store(false)
		close(t.done)
		err = t.conn.Close(websocket.StatusNormalClosure, "bye")
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	})
	return err
}
