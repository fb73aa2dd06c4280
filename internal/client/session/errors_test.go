package session

import (
	"errors"
	"testing"
	"time"
)

func TestParseRetryAfter(t *testing.T) {
	cases := []struct {
		msg  string
		want time.Duration
		ok   bool
	}{
		{"Too many requests, try again in 7s", 7 * time.Second, true},
		{"Too many requests, try again in 60s", time.Minute, true},
		{"try again in 3 s", 3 * time.Second, true},
		{"Auth failed", 0, false},
		{"", 0, false},
	}
	for _, c := range cases {
		got, ok := ParseRetryAfter(c.msg)
		if got != c.want || ok != c.ok {
			t.Errorf("ParseRetryAfter(%q) = %v, %v; want %v, %v", c.msg, got, ok, c.want, c.ok)
		}
	}
}

func TestErrorKinds(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := newError(ErrTransport, "connect", cause)
	if !errors.Is(err, ErrTransport) || !errors.Is(err, cause) {
		t.Fatalf("expected kind and cause in chain: %v", err)
	}
	if errors.Is(err, ErrAuth) {
		t.Fatalf("transport error must not match auth")
	}
	if err.Error() != "connect: transport failure: dial tcp: refused" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err       error
		category  string
		retryable bool
	}{
		{newError(ErrAuth, "signal", nil), CategoryAuth, true},
		{newError(ErrTransport, "reconnect", nil), CategoryTransport, true},
		{newError(ErrSignaling, "webrtc-offer", nil), CategorySignaling, false},
		{newError(ErrMediaAcquisition, "acquire-media", nil), CategoryMedia, true},
		{ErrNotInRoom, CategoryNotAllowed, false},
		{errors.New("room is full"), CategoryServer, false},
	}
	for _, c := range cases {
		st := StatusOf(c.err)
		if st.Category != c.category || st.Retryable != c.retryable || st.Message == "" {
			t.Errorf("StatusOf(%v) = %+v", c.err, st)
		}
	}

	st := StatusOf(rateLimited("find-match", 7*time.Second, errors.New("slow down")))
	if st.Category != CategoryRateLimit || st.RetryAfter != 7*time.Second || !st.Retryable {
		t.Fatalf("unexpected rate limit status %+v", st)
	}
}
