package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const DefaultGateStaleAfter = 5 * time.Second

type inflight struct {
	seq   uint64
	kind  string
	start time.Time
	done  chan struct{}
}

// Gate admits one operation at a time. A waiter that finds the holder older
// than staleAfter clears it and proceeds; every forced clear is logged and counted.
type Gate struct {
	staleAfter time.Duration
	now        func() time.Time

	mu     sync.Mutex
	cur    *inflight
	seq    uint64
	forced int
}

func NewGate(staleAfter time.Duration, now func() time.Time) *Gate {
	if staleAfter <= 0 {
		staleAfter = DefaultGateStaleAfter
	}
	if now == nil {
		now = time.Now
	}
	return &Gate{staleAfter: staleAfter, now: now}
}

// Acquire blocks until the gate is free or the holder went stale.
// The returned release is idempotent and only clears its own hold.
func (g *Gate) Acquire(ctx context.Context, kind string) (func(), error) {
	for {
		g.mu.Lock()
		if g.cur == nil {
			g.seq++
			f := &inflight{seq: g.seq, kind: kind, start: g.now(), done: make(chan struct{})}
			g.cur = f
			g.mu.Unlock()
			return g.releaser(f), nil
		}

		holder := g.cur
		age := g.now().Sub(holder.start)
		if age >= g.staleAfter {
			g.cur = nil
			g.forced++
			close(holder.done)
			g.mu.Unlock()
			log.Warn().
				Str("module", "session.gate").
				Str("op", holder.kind).
				Str("waiter", kind).
				Dur("age", age).
				Msg("force-cleared stale operation")
			continue
		}
		g.mu.Unlock()

		timer := time.NewTimer(g.staleAfter - age)
		select {
		case <-holder.done:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
		timer.Stop()
	}
}

func (g *Gate) releaser(f *inflight) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			if g.cur == f {
				g.cur = nil
				close(f.done)
			}
		})
	}
}

// Do runs fn under the gate and releases it however fn returns.
func (g *Gate) Do(ctx context.Context, kind string, fn func() error) error {
	release, err := g.Acquire(ctx, kind)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// InFlight returns the kind of the operation holding the gate.
func (g *Gate) InFlight() (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cur == nil {
		return "", false
	}
	return g.cur.kind, true
}

func (g *Gate) ForcedClears() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.forced
}
