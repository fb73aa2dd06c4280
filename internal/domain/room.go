package domain

import "time"

type RoomID string

// Room is an ephemeral pairing of exactly two participants.
// MemberA is the caller, MemberB the callee.
type Room struct {
	ID        RoomID
	Mode      Mode
	MemberA   ParticipantID
	MemberB   ParticipantID
	CreatedAt time.Time
}

// NewRoomID combines both member ids so the same pair always yields the same id.
func NewRoomID(a, b ParticipantID) RoomID {
	if b < a {
		a, b = b, a
	}
	return RoomID(string(a) + "#" + string(b))
}

func NewRoom(caller, callee ParticipantID, mode Mode, now time.Time) *Room {
	return &Room{
		ID:        NewRoomID(caller, callee),
		Mode:      mode,
		MemberA:   caller,
		MemberB:   callee,
		CreatedAt: now,
	}
}

// Has reports whether pid is one of the two members.
func (r *Room) Has(pid ParticipantID) bool {
	return r.MemberA == pid || r.MemberB == pid
}

// Partner returns the other member. ok is false when pid is not a member.
func (r *Room) Partner(pid ParticipantID) (ParticipantID, bool) {
	switch pid {
	case r.MemberA:
		return r.MemberB, true
	case r.MemberB:
		return r.MemberA, true
	}
	return "", false
}

// RoleOf returns the negotiation role of a member.
func (r *Room) RoleOf(pid ParticipantID) Role {
	if pid == r.MemberA {
		return RoleCaller
	}
	return RoleCallee
}
