package session

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Kind sentinels. Every *Error unwraps to exactly one of them.
var (
	ErrAuth             = errors.New("authorization failed")
	ErrTransport        = errors.New("transport failure")
	ErrSignaling        = errors.New("signaling failure")
	ErrRateLimited      = errors.New("rate limited")
	ErrMediaAcquisition = errors.New("media unavailable")
)

var (
	ErrInvalidTransition = errors.New("operation not allowed in current state")
	ErrNotInRoom         = errors.New("not in a room")
)

type Error struct {
	Kind       error
	Op         string
	Err        error
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func rateLimited(op string, wait time.Duration, err error) *Error {
	return &Error{Kind: ErrRateLimited, Op: op, Err: err, RetryAfter: wait}
}

var retryHint = regexp.MustCompile(`try again in (\d+)\s*s`)

// ParseRetryAfter extracts the wait hint from a throttling message such as
// "Too many requests, try again in 7s".
func ParseRetryAfter(msg string) (time.Duration, bool) {
	m := retryHint.FindStringSubmatch(msg)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

// Category names handed to the UI.
const (
	CategoryAuth       = "auth"
	CategoryTransport  = "transport"
	CategorySignaling  = "signaling"
	CategoryRateLimit  = "rate-limit"
	CategoryMedia      = "media"
	CategoryServer     = "server"
	CategoryNotAllowed = "not-allowed"
)

// Status is the terminal, user-facing description of a failure.
type Status struct {
	Category   string
	Message    string
	Retryable  bool
	RetryAfter time.Duration
}

func StatusOf(err error) Status {
	var se *Error
	errors.As(err, &se)

	switch {
	case errors.Is(err, ErrAuth):
		return Status{Category: CategoryAuth, Message: "Session expired. Start again to reconnect.", Retryable: true}
	case errors.Is(err, ErrRateLimited):
		s := Status{Category: CategoryRateLimit, Message: "Too many requests.", Retryable: true}
		if se != nil {
			s.RetryAfter = se.RetryAfter
			if se.RetryAfter > 0 {
				s.Message = fmt.Sprintf("Too many requests. Try again in %s.", se.RetryAfter)
			}
		}
		return s
	case errors.Is(err, ErrMediaAcquisition):
		return Status{Category: CategoryMedia, Message: "Camera or microphone unavailable.", Retryable: true}
	case errors.Is(err, ErrTransport):
		return Status{Category: CategoryTransport, Message: "Connection lost.", Retryable: true}
	case errors.Is(err, ErrSignaling):
		return Status{Category: CategorySignaling, Message: "Call setup failed."}
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrNotInRoom):
		return Status{Category: CategoryNotAllowed, Message: err.Error()}
	}
	return Status{Category: CategoryServer, Message: err.Error()}
}
