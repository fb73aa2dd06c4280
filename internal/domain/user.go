// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const MaxParticipantIDLen = 36

var ErrParticipantIDEmpty = errors.New("participant id empty")

// ParticipantID is the transient connection id of a connected client.
// It is never persisted and carries no identity beyond the connection.
type ParticipantID string

// NewParticipantID mints a fresh connection id.
func NewParticipantID() ParticipantID {
	return ParticipantID(uuid.NewString())
}

func (p ParticipantID) Validate() error {
	if p == "" {
		return ErrParticipantIDEmpty
	}
	return nil
}

// Mode selects which waiting collection a participant joins.
type Mode string

const (
	ModeText  Mode = "text"
	ModeVideo Mode = "video"
)

// ParseMode maps the wire value to a Mode, defaulting to video.
func ParseMode(s string) Mode {
	if Mode(s) == ModeText {
		return ModeText
	}
	return ModeVideo
}

// Role decides which side of a pair creates the session offer.
type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)
