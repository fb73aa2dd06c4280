// Package connmgrtest provides in-memory signaling transports for tests.
package connmgrtest

import (
	"context"
	"sync"

	"github.com/dkeye/Roulette/internal/client/connmgr"
	"github.com/dkeye/Roulette/internal/protocol"
)

// Dialer hands out in-memory transports that stand in for a server.
type Dialer struct {
	mu         sync.Mutex
	transports []*Transport
	dialErr    error

	// OnSend, when set, is called for every envelope a transport sends.
	// It runs on the sender's goroutine.
	OnSend func(t *Transport, env protocol.Envelope)
}

func (d *Dialer) Dial(ctx context.Context, cfg connmgr.Config) (connmgr.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	endpoint, _ := cfg.Endpoint()
	t := &Transport{
		Endpoint: endpoint,
		in:       make(chan protocol.Envelope, 64),
		open:     true,
		onSend:   d.OnSend,
	}
	d.transports = append(d.transports, t)
	return t, nil
}

// FailDials makes subsequent dials return err. Nil restores dialing.
func (d *Dialer) FailDials(err error) {
	d.mu.Lock()
	d.dialErr = err
	d.mu.Unlock()
}

func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transports)
}

// Last returns the most recently dialed transport.
func (d *Dialer) Last() *Transport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

type Transport struct {
	Endpoint string

	mu      sync.Mutex
	in      chan protocol.Envelope
	sent    []protocol.Envelope
	open    bool
	code    int
	sendErr error
	onSend  func(*Transport, protocol.Envelope)
}

func (t *Transport) Send(_ context.Context, env protocol.Envelope) error {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return connmgr.ErrClosed
	}
	if t.sendErr != nil {
		err := t.sendErr
		t.mu.Unlock()
		return err
	}
	t.sent = append(t.sent, env)
	hook := t.onSend
	t.mu.Unlock()

	if hook != nil {
		hook(t, env)
	}
	return nil
}

// Push delivers env as if the server had sent it.
func (t *Transport) Push(env protocol.Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return connmgr.ErrClosed
	}
	t.in <- env
	return nil
}

// Drop ends the channel with code, as a network failure or server close would.
func (t *Transport) Drop(code int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return
	}
	t.open = false
	t.code = code
	close(t.in)
}

// FailSends makes Send return err while leaving the channel open.
func (t *Transport) FailSends(err error) {
	t.mu.Lock()
	t.sendErr = err
	t.mu.Unlock()
}

// Sent returns every envelope sent so far.
func (t *Transport) Sent() []protocol.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]protocol.Envelope(nil), t.sent...)
}

// SentEvents returns the sent envelopes whose event matches.
func (t *Transport) SentEvents(event string) []protocol.Envelope {
	var out []protocol.Envelope
	for _, e := range t.Sent() {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (t *Transport) Inbound() <-chan protocol.Envelope { return t.in }

func (t *Transport) Open() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

func (t *Transport) CloseCode() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.code
}

func (t *Transport) Close() error {
	t.Drop(connmgr.CloseNormal)
	return nil
}

