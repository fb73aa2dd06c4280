package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff"
	"github.com/dkeye/Roulette/internal/client/connmgr"
	"github.com/rs/zerolog/log"
)

var errReconnectAborted = errors.New("reconnect aborted")

// onClose reacts to the server or network ending the channel. Channels the
// machine closed itself never get here.
func (m *Machine) onClose(code int) {
	m.mu.Lock()
	closing := m.closing
	st := m.state
	m.mu.Unlock()
	if closing || st == Disconnected {
		return
	}

	log.Info().Str("module", "session").Int("code", code).Str("state", st.String()).Msg("signal channel closed")
	ctx := context.Background()
	switch code {
	case connmgr.ClosePolicyViolation:
		_ = m.gate.Do(ctx, "auth-closed", func() error {
			m.authFailed("signal")
			return nil
		})
	case connmgr.CloseNormal:
		_ = m.gate.Do(ctx, "closed", func() error {
			m.mu.Lock()
			m.pendingSearch = false
			m.mu.Unlock()
			m.teardown()
			m.transition(TrigDisconnect)
			return nil
		})
	default:
		m.reconnect(ctx, code)
	}
}

// reconnect reopens the channel after an abnormal close with exponential
// backoff. Each attempt runs under the gate and gives up if the user moved
// the machine elsewhere in between.
func (m *Machine) reconnect(ctx context.Context, code int) {
	lost := false
	_ = m.gate.Do(ctx, "transport-lost", func() error {
		m.mu.Lock()
		if m.closing {
			m.mu.Unlock()
			return nil
		}
		// The server forgets a dropped participant; search again once back.
		if m.state == Searching {
			m.pendingSearch = true
		}
		m.mu.Unlock()

		m.teardown()
		lost = m.transition(TrigTransportLost)
		return nil
	})
	if !lost {
		return
	}

	attempt := 0
	op := func() error {
		attempt++
		return m.gate.Do(ctx, "reconnect", func() error {
			m.mu.Lock()
			abort := m.closing || m.state != Connecting
			m.mu.Unlock()
			if abort {
				return backoff.Permanent(errReconnectAborted)
			}
			log.Info().Str("module", "session").Int("attempt", attempt).Int("code", code).Msg("reconnecting")
			if err := m.open(ctx); err != nil {
				if errors.Is(err, ErrAuth) {
					return backoff.Permanent(err)
				}
				log.Warn().Err(err).Str("module", "session").Int("attempt", attempt).Msg("reconnect attempt failed")
				return err
			}
			m.transition(TrigConnected)
			return nil
		})
	}

	err := backoff.Retry(op, m.reconnectPolicy(ctx))
	switch {
	case err == nil:
		m.resumePendingSearch(ctx)
	case errors.Is(err, errReconnectAborted):
	case errors.Is(err, ErrAuth):
		_ = m.gate.Do(ctx, "reconnect-auth", func() error {
			m.authFailed("reconnect")
			return nil
		})
	default:
		_ = m.gate.Do(ctx, "reconnect-failed", func() error {
			m.mu.Lock()
			m.pendingSearch = false
			m.mu.Unlock()
			if m.transition(TrigConnectFailed) {
				m.fail(newError(ErrTransport, "reconnect", fmt.Errorf("gave up after %d attempts: %w", attempt, err)))
			}
			return nil
		})
	}
}

func (m *Machine) reconnectPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.backoff
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(m.retries-1)), ctx)
}
