package connmgr_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Roulette/internal/client/connmgr"
	"github.com/dkeye/Roulette/internal/client/connmgr/connmgrtest"
	"github.com/dkeye/Roulette/internal/protocol"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestPool(clock *fakeClock) (*connmgr.Pool, *connmgrtest.Dialer) {
	d := &connmgrtest.Dialer{}
	return connmgr.NewPool(d, connmgr.PoolOptions{HeartbeatInterval: time.Hour, Now: clock.Now}), d
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestReuseHealthyConnection(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	p, d := newTestPool(clock)
	ctx := context.Background()

	t1, err := p.GetOrCreateConnection(ctx, "signal", connmgr.Config{URL: "ws://x/ws"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	clock.Advance(29 * time.Second)
	t2, _ := p.GetOrCreateConnection(ctx, "signal", connmgr.Config{URL: "ws://x/ws"})
	if t1 != t2 || d.Dials() != 1 {
		t.Fatalf("expected cached transport to be reused")
	}
}

func TestIdleConnectionIsReplaced(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	p, d := newTestPool(clock)
	ctx := context.Background()

	t1, _ := p.GetOrCreateConnection(ctx, "signal", connmgr.Config{URL: "ws://x/ws"})
	clock.Advance(30 * time.Second)
	if p.IsHealthy("signal") {
		t.Fatalf("connection idle for 30s must not be healthy")
	}
	t2, _ := p.GetOrCreateConnection(ctx, "signal", connmgr.Config{URL: "ws://x/ws"})

	if t1 == t2 || d.Dials() != 2 {
		t.Fatalf("expected a brand-new transport")
	}
	if t1.Open() {
		t.Fatalf("stale transport must be closed")
	}
}

func TestInboundRefreshesActivity(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	p, d := newTestPool(clock)

	got := make(chan protocol.Envelope, 4)
	_, _ = p.GetOrCreateConnection(context.Background(), "signal", connmgr.Config{
		URL:       "ws://x/ws",
		OnMessage: func(env protocol.Envelope) { got <- env },
	})
	pt := d.Last()

	clock.Advance(25 * time.Second)
	_ = pt.Push(protocol.MustNew(protocol.EventPong, nil))
	_ = pt.Push(protocol.MustNew(protocol.EventSearching, nil))

	select {
	case env := <-got:
		if env.Event != protocol.EventSearching {
			t.Fatalf("pong must not reach the handler, got %s", env.Event)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("message not delivered")
	}

	clock.Advance(25 * time.Second)
	if !p.IsHealthy("signal") {
		t.Fatalf("inbound message must refresh activity")
	}
}

func TestSendMessageWithoutConnection(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	p, _ := newTestPool(clock)
	if p.SendMessage("signal", protocol.MustNew(protocol.EventPing, nil)) {
		t.Fatalf("send without a connection must return false")
	}
}

func TestSendFailureMarksUnhealthy(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	p, d := newTestPool(clock)
	_, _ = p.GetOrCreateConnection(context.Background(), "signal", connmgr.Config{URL: "ws://x/ws"})

	d.Last().FailSends(errors.New("broken pipe"))
	if p.SendMessage("signal", protocol.MustNew(protocol.EventFindMatch, nil)) {
		t.Fatalf("expected send failure")
	}
	if p.IsHealthy("signal") {
		t.Fatalf("send failure must mark connection unhealthy")
	}
	if !d.Last().Open() {
		t.Fatalf("unhealthy connection must not be closed eagerly")
	}
}

func TestHeartbeatProbesAndFailureMarksUnhealthy(t *testing.T) {
	d := &connmgrtest.Dialer{}
	p := connmgr.NewPool(d, connmgr.PoolOptions{HeartbeatInterval: 10 * time.Millisecond})
	_, _ = p.GetOrCreateConnection(context.Background(), "signal", connmgr.Config{URL: "ws://x/ws"})
	pt := d.Last()

	eventually(t, func() bool { return len(pt.SentEvents(protocol.EventPing)) >= 2 })

	pt.FailSends(errors.New("broken pipe"))
	eventually(t, func() bool { return !p.IsHealthy("signal") })
	if !pt.Open() {
		t.Fatalf("heartbeat failure must not close the transport")
	}
	p.CloseConnection("signal")
}

func TestCloseConnectionIsIdempotent(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	p, d := newTestPool(clock)
	closed := make(chan int, 1)
	_, _ = p.GetOrCreateConnection(context.Background(), "signal", connmgr.Config{
		URL:     "ws://x/ws",
		OnClose: func(code int) { closed <- code },
	})

	p.CloseConnection("signal")
	p.CloseConnection("signal")
	p.CloseConnection("never-opened")

	if d.Last().Open() {
		t.Fatalf("transport must be closed")
	}
	if _, ok := p.Get("signal"); ok {
		t.Fatalf("entry must be removed")
	}
	select {
	case code := <-closed:
		t.Fatalf("explicit close must not report OnClose, got %d", code)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRemoteDropReportsCode(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	p, d := newTestPool(clock)
	closed := make(chan int, 1)
	_, _ = p.GetOrCreateConnection(context.Background(), "signal", connmgr.Config{
		URL:     "ws://x/ws",
		OnClose: func(code int) { closed <- code },
	})

	d.Last().Drop(connmgr.CloseAbnormal)
	select {
	case code := <-closed:
		if code != connmgr.CloseAbnormal {
			t.Fatalf("expected 1006, got %d", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("OnClose not called")
	}
	if p.IsHealthy("signal") {
		t.Fatalf("dropped connection must be unhealthy")
	}
}

func TestDialFailureSurfaces(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	p, d := newTestPool(clock)
	d.FailDials(errors.New("refused"))
	if _, err := p.GetOrCreateConnection(context.Background(), "signal", connmgr.Config{URL: "ws://x/ws"}); err == nil {
		t.Fatalf("expected dial error")
	}
	if _, ok := p.Get("signal"); ok {
		t.Fatalf("failed dial must not leave an entry")
	}
}

func TestEndpointMergesParams(t *testing.T) {
	cfg := connmgr.Config{URL: "ws://x/api/ws/signal?v=1", Params: map[string][]string{"token": {"abc"}}}
	got, err := cfg.Endpoint()
	if err != nil {
		t.Fatalf("endpoint: %v", err)
	}
	if got != "ws://x/api/ws/signal?token=abc&v=1" {
		t.Fatalf("unexpected endpoint %s", got)
	}
}
