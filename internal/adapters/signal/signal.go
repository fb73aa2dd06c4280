// Package signal is the WebSocket adapter between connected clients and the broker.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Roulette/internal/app"
	"github.com/dkeye/Roulette/internal/app/broker"
	"github.com/dkeye/Roulette/internal/app/presence"
	"github.com/dkeye/Roulette/internal/auth"
	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/dkeye/Roulette/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// TokenVerifier is satisfied by *auth.Tokens.
type TokenVerifier interface {
	Verify(token string, now time.Time) (auth.Claims, error)
}

type Deps struct {
	Broker   *broker.Broker
	Registry *app.Registry
	Presence *presence.Counter
	Tokens   TokenVerifier
	// Limiter throttles find-match per participant. Nil disables throttling.
	Limiter *RateLimiter
}

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	WriteWait  time.Duration
	SendBuffer int
}

type SignalWSController struct {
	Deps
	opts Options
	now  func() time.Time
}

func NewSignalWSController(deps Deps, opts Options) *SignalWSController {
	if opts.WriteWait <= 0 {
		opts.WriteWait = 5 * time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 32
	}
	return &SignalWSController{Deps: deps, opts: opts, now: time.Now}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request, checks the token query parameter and
// starts the pumps for a freshly minted participant id.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	claims, err := ctl.Tokens.Verify(c.Query("token"), ctl.now())
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("remote", c.ClientIP()).Msg("auth failed")
		ctl.rejectAuth(ws)
		return
	}

	pid := domain.NewParticipantID()
	log.Info().Str("module", "signal").Str("pid", string(pid)).Str("device", claims.DeviceID).Msg("new WS connection")

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.opts.SendBuffer),
	}
	ctx, cancel := context.WithCancel(ctx)
	ctl.Registry.Bind(pid, conn, cancel)
	ctl.Presence.Connect()

	go ctl.writePump(ctx, pid, conn)
	go ctl.readPump(ctx, cancel, pid, conn)
}

// rejectAuth writes the auth error synchronously, then closes with policy violation.
func (ctl *SignalWSController) rejectAuth(ws *websocket.Conn) {
	defer ws.Close()
	deadline := ctl.now().Add(ctl.opts.WriteWait)
	_ = ws.SetWriteDeadline(deadline)
	env := protocol.MustNew(protocol.EventError, protocol.Error{Message: protocol.AuthFailedMessage})
	if err := ws.WriteJSON(env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("auth error write")
		return
	}
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, protocol.AuthFailedMessage)
	_ = ws.WriteControl(websocket.CloseMessage, msg, deadline)
}

// disconnect releases everything the participant held.
func (ctl *SignalWSController) disconnect(pid domain.ParticipantID) {
	ctl.Registry.Unbind(pid)
	ctl.Broker.OnDisconnect(pid)
	ctl.Presence.Disconnect()
	if ctl.Limiter != nil {
		ctl.Limiter.Forget(string(pid))
	}
}
