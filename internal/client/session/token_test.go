package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPTokenSourceRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"token":"v4.public.abc","expiresAt":"2025-01-01T00:02:00Z"}`))
	}))
	defer srv.Close()

	src := NewHTTPTokenSource(srv.URL, time.Second, 3, time.Millisecond)
	tok, err := src.Token(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if tok != "v4.public.abc" || calls.Load() != 3 {
		t.Fatalf("got %q after %d calls", tok, calls.Load())
	}
}

func TestHTTPTokenSourceGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	src := NewHTTPTokenSource(srv.URL, time.Second, 2, time.Millisecond)
	_, err := src.Token(context.Background())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestHTTPTokenSourceRateLimited(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "42")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"Too many requests, try again in 42s"}`))
	}))
	defer srv.Close()

	src := NewHTTPTokenSource(srv.URL, time.Second, 3, time.Millisecond)
	_, err := src.Token(context.Background())
	var se *Error
	if !errors.Is(err, ErrRateLimited) || !errors.As(err, &se) || se.RetryAfter != 42*time.Second {
		t.Fatalf("expected rate limit with 42s hint, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("rate limit must not be retried, got %d calls", calls.Load())
	}
}

func TestHTTPTokenSourceUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewHTTPTokenSource(srv.URL, time.Second, 3, time.Millisecond).Token(context.Background())
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestHTTPTokenSourceKeepsDeviceCookie(t *testing.T) {
	var sawCookie atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie("RouletteSessions"); err == nil {
			sawCookie.Store(true)
		}
		http.SetCookie(w, &http.Cookie{Name: "RouletteSessions", Value: "device", Path: "/"})
		_, _ = w.Write([]byte(`{"token":"t"}`))
	}))
	defer srv.Close()

	src := NewHTTPTokenSource(srv.URL, time.Second, 0, time.Millisecond)
	for i := 0; i < 2; i++ {
		if _, err := src.Token(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if !sawCookie.Load() {
		t.Fatalf("second request did not carry the session cookie")
	}
}
