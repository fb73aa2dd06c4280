package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog/log"
)

const DefaultTokenTimeout = 10 * time.Second

// TokenSource yields a short-lived signaling token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// HTTPTokenSource fetches tokens from the issuing endpoint. The cookie jar
// keeps the device session so throttling is applied per device.
type HTTPTokenSource struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
	// Retries is the number of extra attempts after a transient failure.
	Retries int
	Backoff time.Duration
}

func NewHTTPTokenSource(url string, timeout time.Duration, retries int, initial time.Duration) *HTTPTokenSource {
	jar, _ := cookiejar.New(nil)
	return &HTTPTokenSource{
		URL:     url,
		Client:  &http.Client{Jar: jar},
		Timeout: timeout,
		Retries: retries,
		Backoff: initial,
	}
}

func (s *HTTPTokenSource) Token(ctx context.Context) (string, error) {
	var token string
	attempt := 0
	op := func() error {
		attempt++
		t, err := s.fetch(ctx)
		if err != nil {
			var se *Error
			if errors.As(err, &se) {
				return backoff.Permanent(err)
			}
			log.Warn().Err(err).Str("module", "session.token").Int("attempt", attempt).Msg("token fetch failed")
			return err
		}
		token = t
		return nil
	}

	if err := backoff.Retry(op, s.policy(ctx)); err != nil {
		var se *Error
		if errors.As(err, &se) {
			return "", err
		}
		return "", newError(ErrTransport, "token", err)
	}
	return token, nil
}

func (s *HTTPTokenSource) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if s.Backoff > 0 {
		b.InitialInterval = s.Backoff
	}
	b.MaxElapsedTime = 0
	retries := s.Retries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

func (s *HTTPTokenSource) fetch(ctx context.Context) (string, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTokenTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, nil)
	if err != nil {
		return "", newError(ErrTransport, "token", err)
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return "", newError(ErrAuth, "token", fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests:
		msg := errorMessage(body)
		wait, ok := ParseRetryAfter(msg)
		if !ok {
			if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
				wait = time.Duration(secs) * time.Second
			}
		}
		return "", rateLimited("token", wait, errors.New(msg))
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", newError(ErrTransport, "token", fmt.Errorf("status %d", resp.StatusCode))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil || tr.Token == "" {
		return "", newError(ErrTransport, "token", fmt.Errorf("bad token response: %s", strings.TrimSpace(string(body))))
	}
	return tr.Token, nil
}

func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}
