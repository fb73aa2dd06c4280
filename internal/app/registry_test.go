package app

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/protocol"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return errors.New("backpressure")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {}

func TestRegistryNotifyAndBroadcast(t *testing.T) {
	r := NewRegistry()
	a, b := &fakeConn{}, &fakeConn{full: true}
	r.Bind("a", a, nil)
	r.Bind("b", b, nil)

	r.Notify("a", protocol.MustNew(protocol.EventPong, nil))
	r.Notify("missing", protocol.MustNew(protocol.EventPong, nil))
	r.Broadcast(protocol.MustNew(protocol.EventOnlineUsers, protocol.OnlineUsers{Count: 2}))

	if len(a.frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(a.frames))
	}
	var env protocol.Envelope
	if err := json.Unmarshal(a.frames[1], &env); err != nil || env.Event != protocol.EventOnlineUsers {
		t.Fatalf("unexpected broadcast frame %s (%v)", a.frames[1], err)
	}
	if r.Count() != 2 {
		t.Fatalf("expected 2 bound, got %d", r.Count())
	}

	r.Unbind("a")
	if _, ok := r.Get("a"); ok || r.Count() != 1 {
		t.Fatalf("unbind did not remove entry")
	}
}

func TestRegistryCancel(t *testing.T) {
	r := NewRegistry()
	called := false
	r.Bind("a", &fakeConn{}, func() { called = true })
	if !r.Cancel("a") || !called {
		t.Fatalf("expected cancel to run")
	}
	if r.Cancel("nobody") {
		t.Fatalf("cancel of unknown pid must report false")
	}
}
