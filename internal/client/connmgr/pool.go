package connmgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Roulette/internal/protocol"
	"github.com/rs/zerolog/log"
)

const (
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultConnectionTimeout = 30 * time.Second
	DefaultDialTimeout       = 10 * time.Second
	DefaultSendTimeout       = 5 * time.Second
)

type PoolOptions struct {
	HeartbeatInterval time.Duration
	ConnectionTimeout time.Duration
	DialTimeout       time.Duration
	SendTimeout       time.Duration
	Now               func() time.Time
}

// CachedConnection is a point-in-time view of a pool entry.
type CachedConnection struct {
	ID           string
	Transport    Transport
	LastActivity time.Time
	Healthy      bool
}

type entry struct {
	id           string
	t            Transport
	cfg          Config
	lastActivity time.Time
	healthy      bool

	stop     chan struct{}
	stopOnce sync.Once
}

func (e *entry) stopHeartbeat() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// Pool caches transports by logical id.
type Pool struct {
	dialer Dialer
	opts   PoolOptions

	// openMu serializes the lookup-prune-dial sequence so a stale entry is
	// always removed before a replacement appears under the same id.
	openMu sync.Mutex
	mu     sync.Mutex
	conns  map[string]*entry
}

func NewPool(d Dialer, opts PoolOptions) *Pool {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.ConnectionTimeout <= 0 {
		opts.ConnectionTimeout = DefaultConnectionTimeout
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pool{dialer: d, opts: opts, conns: make(map[string]*entry)}
}

// GetOrCreateConnection returns the cached transport for id when healthy,
// otherwise tears the stale entry down and opens a new one.
func (p *Pool) GetOrCreateConnection(ctx context.Context, id string, cfg Config) (Transport, error) {
	p.openMu.Lock()
	defer p.openMu.Unlock()

	p.mu.Lock()
	e, ok := p.conns[id]
	if ok && p.healthyLocked(e) {
		p.mu.Unlock()
		return e.t, nil
	}
	if ok {
		delete(p.conns, id)
	}
	p.mu.Unlock()

	if ok {
		log.Info().Str("module", "connmgr").Str("conn_id", id).Msg("pruning stale connection")
		e.stopHeartbeat()
		_ = e.t.Close()
	}

	dctx, cancel := context.WithTimeout(ctx, p.opts.DialTimeout)
	defer cancel()
	t, err := p.dialer.Dial(dctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", id, err)
	}

	e = &entry{
		id:           id,
		t:            t,
		cfg:          cfg,
		lastActivity: p.opts.Now(),
		healthy:      true,
		stop:         make(chan struct{}),
	}
	p.mu.Lock()
	p.conns[id] = e
	p.mu.Unlock()

	go p.pump(e)
	go p.heartbeat(e)

	log.Info().Str("module", "connmgr").Str("conn_id", id).Msg("connection opened")
	return t, nil
}

// SendMessage writes env on a healthy connection. It never queues.
func (p *Pool) SendMessage(id string, env protocol.Envelope) bool {
	p.mu.Lock()
	e, ok := p.conns[id]
	if !ok || !p.healthyLocked(e) {
		p.mu.Unlock()
		return false
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.opts.SendTimeout)
	defer cancel()
	if err := e.t.Send(ctx, env); err != nil {
		log.Warn().Err(err).Str("module", "connmgr").Str("conn_id", id).Str("event", env.Event).Msg("send failed")
		p.markUnhealthy(e)
		return false
	}
	return true
}

// CloseConnection stops the heartbeat, closes the transport and drops the entry.
// Calling it for an unknown id is a no-op.
func (p *Pool) CloseConnection(id string) {
	p.mu.Lock()
	e, ok := p.conns[id]
	delete(p.conns, id)
	p.mu.Unlock()
	if !ok {
		return
	}
	e.stopHeartbeat()
	if e.t.Open() {
		_ = e.t.Close()
	}
	log.Info().Str("module", "connmgr").Str("conn_id", id).Msg("connection closed")
}

func (p *Pool) CloseAll() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.conns))
	for id := range p.conns {
		ids = append(ids, id)
	}
	p.mu.Unlock()
	for _, id := range ids {
		p.CloseConnection(id)
	}
}

func (p *Pool) IsHealthy(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.conns[id]
	return ok && p.healthyLocked(e)
}

func (p *Pool) Get(id string) (CachedConnection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.conns[id]
	if !ok {
		return CachedConnection{}, false
	}
	return CachedConnection{ID: e.id, Transport: e.t, LastActivity: e.lastActivity, Healthy: e.healthy}, true
}

func (p *Pool) healthyLocked(e *entry) bool {
	return e.healthy &&
		p.opts.Now().Sub(e.lastActivity) < p.opts.ConnectionTimeout &&
		e.t.Open()
}

func (p *Pool) markUnhealthy(e *entry) {
	p.mu.Lock()
	e.healthy = false
	p.mu.Unlock()
}

func (p *Pool) pump(e *entry) {
	for env := range e.t.Inbound() {
		p.mu.Lock()
		e.lastActivity = p.opts.Now()
		e.healthy = true
		p.mu.Unlock()

		if env.Event == protocol.EventPong {
			continue
		}
		if e.cfg.OnMessage != nil {
			e.cfg.OnMessage(env)
		}
	}

	code := e.t.CloseCode()
	p.mu.Lock()
	current := p.conns[e.id] == e
	e.healthy = false
	p.mu.Unlock()
	e.stopHeartbeat()

	log.Info().Str("module", "connmgr").Str("conn_id", e.id).Int("code", code).Bool("current", current).Msg("channel ended")
	if current && e.cfg.OnClose != nil {
		e.cfg.OnClose(code)
	}
}

func (p *Pool) heartbeat(e *entry) {
	t := time.NewTicker(p.opts.HeartbeatInterval)
	defer t.Stop()
	ping := protocol.MustNew(protocol.EventPing, nil)

	for {
		select {
		case <-e.stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), p.opts.SendTimeout)
			err := e.t.Send(ctx, ping)
			cancel()
			if err != nil {
				// Closure is lazy: the next health check prunes the entry.
				log.Warn().Err(err).Str("module", "connmgr").Str("conn_id", e.id).Msg("heartbeat failed")
				p.markUnhealthy(e)
			}
		}
	}
}
