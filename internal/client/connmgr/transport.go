// Package connmgr owns the client's logical signaling channels: it caches them
// by id, probes them with heartbeats and decides when one is too stale to reuse.
package connmgr

import (
	"context"
	"errors"
	"net/url"

	"github.com/dkeye/Roulette/internal/protocol"
)

// Close codes observed on the signaling channel.
const (
	CloseNormal          = 1000
	CloseAbnormal        = 1006
	ClosePolicyViolation = 1008
)

var (
	ErrClosed       = errors.New("transport closed")
	ErrNoConnection = errors.New("no healthy connection")
)

// Transport is one open signaling channel.
type Transport interface {
	Send(ctx context.Context, env protocol.Envelope) error
	// Inbound yields decoded envelopes and is closed when the channel ends.
	Inbound() <-chan protocol.Envelope
	Open() bool
	// CloseCode is meaningful once Inbound is closed.
	CloseCode() int
	// Close ends the channel with a normal closure.
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, cfg Config) (Transport, error)
}

// Config describes how to open a channel and where its events go.
// OnClose is not called for channels the pool closed or replaced itself.
type Config struct {
	URL       string
	Params    url.Values
	OnMessage func(protocol.Envelope)
	OnClose   func(code int)
}

// Endpoint merges Params into URL's query.
func (c Config) Endpoint() (string, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, vs := range c.Params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
