package broker

import "github.com/dkeye/Roulette/internal/domain"

// WaitingStore is the ordered collection of participants waiting to be paired.
// Membership is unique. Implementations need not be safe for concurrent use;
// the Broker serializes every access.
type WaitingStore interface {
	// Add appends pid and reports false if it was already present.
	Add(pid domain.ParticipantID) bool
	Remove(pid domain.ParticipantID) bool
	Contains(pid domain.ParticipantID) bool
	Len() int
	// Snapshot returns the entries oldest first.
	Snapshot() []domain.ParticipantID
}

// WaitingList is the in-memory WaitingStore.
type WaitingList struct {
	order []domain.ParticipantID
	index map[domain.ParticipantID]struct{}
}

func NewWaitingList() *WaitingList {
	return &WaitingList{index: make(map[domain.ParticipantID]struct{})}
}

func (l *WaitingList) Add(pid domain.ParticipantID) bool {
	if _, ok := l.index[pid]; ok {
		return false
	}
	l.index[pid] = struct{}{}
	l.order = append(l.order, pid)
	return true
}

func (l *WaitingList) Remove(pid domain.ParticipantID) bool {
	if _, ok := l.index[pid]; !ok {
		return false
	}
	delete(l.index, pid)
	for i, p := range l.order {
		if p == pid {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	return true
}

func (l *WaitingList) Contains(pid domain.ParticipantID) bool {
	_, ok := l.index[pid]
	return ok
}

func (l *WaitingList) Len() int { return len(l.order) }

func (l *WaitingList) Snapshot() []domain.ParticipantID {
	out := make([]domain.ParticipantID, len(l.order))
	copy(out, l.order)
	return out
}
