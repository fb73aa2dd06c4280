// Package presence tracks how many participants are connected.
package presence

import (
	"sync"

	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Gauge receives the current count on every transition.
type Gauge interface {
	SetOnline(n int)
}

// Counter broadcasts onlineUsers on every connect and disconnect.
// The broadcast happens under the lock so receivers observe counts in order.
type Counter struct {
	mu    sync.Mutex
	count int
	out   core.Broadcaster
	gauge Gauge
}

func NewCounter(out core.Broadcaster, gauge Gauge) *Counter {
	return &Counter{out: out, gauge: gauge}
}

func (c *Counter) Connect() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	c.publishLocked()
	return c.count
}

func (c *Counter) Disconnect() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count == 0 {
		log.Warn().Str("module", "app.presence").Msg("disconnect without connect")
		return 0
	}
	c.count--
	c.publishLocked()
	return c.count
}

func (c *Counter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func (c *Counter) publishLocked() {
	if c.gauge != nil {
		c.gauge.SetOnline(c.count)
	}
	log.Debug().Str("module", "app.presence").Int("online", c.count).Msg("presence changed")
	c.out.Broadcast(protocol.MustNew(protocol.EventOnlineUsers, protocol.OnlineUsers{Count: c.count}))
}
