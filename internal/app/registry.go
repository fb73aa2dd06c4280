package app

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/dkeye/Roulette/internal/protocol"
	"github.com/rs/zerolog/log"
)

type connEntry struct {
	Conn   core.SignalConnection
	Cancel context.CancelFunc
}

// Registry maps participant ids to their live signaling connections.
// It is the server's core.Notifier and core.Broadcaster.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.ParticipantID]*connEntry
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[domain.ParticipantID]*connEntry)}
}

func (r *Registry) Bind(pid domain.ParticipantID, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[pid] = &connEntry{Conn: conn, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("pid", string(pid)).Msg("bound signal")
}

func (r *Registry) Get(pid domain.ParticipantID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[pid]; ok {
		return e.Conn, true
	}
	return nil, false
}

func (r *Registry) Unbind(pid domain.ParticipantID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, pid)
	log.Info().Str("module", "app.registry").Str("pid", string(pid)).Msg("unbind signal")
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Cancel stops the connection's pumps. It reports whether pid was bound.
func (r *Registry) Cancel(pid domain.ParticipantID) bool {
	r.mu.RLock()
	e, ok := r.conns[pid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("pid", string(pid)).Msg("canceled signal")
	return true
}

func (r *Registry) Notify(to domain.ParticipantID, env protocol.Envelope) {
	conn, ok := r.Get(to)
	if !ok {
		log.Debug().Str("module", "app.registry").Str("pid", string(to)).Str("event", env.Event).Msg("notify: no connection")
		return
	}
	frame, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "app.registry").Str("event", env.Event).Msg("marshal failed")
		return
	}
	if err := conn.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "app.registry").Str("pid", string(to)).Str("event", env.Event).Msg("notify dropped")
	}
}

func (r *Registry) Broadcast(env protocol.Envelope) {
	frame, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "app.registry").Str("event", env.Event).Msg("marshal failed")
		return
	}
	r.mu.RLock()
	targets := make([]core.SignalConnection, 0, len(r.conns))
	for _, e := range r.conns {
		targets = append(targets, e.Conn)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		_ = c.TrySend(frame)
	}
}
