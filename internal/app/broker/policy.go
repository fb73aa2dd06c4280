package broker

import (
	"fmt"

	"github.com/dkeye/Roulette/internal/domain"
)

// PairingPolicy picks which two waiting entries are paired next.
// waiting is ordered oldest first and has at least two entries.
// The returned caller must be the earlier-enqueued of the two.
type PairingPolicy interface {
	Name() string
	Select(waiting []domain.ParticipantID) (caller, callee domain.ParticipantID)
}

// LIFOPolicy pairs the two most recently enqueued entries.
type LIFOPolicy struct{}

func (LIFOPolicy) Name() string { return "lifo" }

func (LIFOPolicy) Select(waiting []domain.ParticipantID) (domain.ParticipantID, domain.ParticipantID) {
	n := len(waiting)
	return waiting[n-2], waiting[n-1]
}

// FIFOPolicy pairs the two longest-waiting entries.
type FIFOPolicy struct{}

func (FIFOPolicy) Name() string { return "fifo" }

func (FIFOPolicy) Select(waiting []domain.ParticipantID) (domain.ParticipantID, domain.ParticipantID) {
	return waiting[0], waiting[1]
}

// ParsePolicy maps a config value to a policy. Empty selects LIFO.
func ParsePolicy(name string) (PairingPolicy, error) {
	switch name {
	case "", "lifo":
		return LIFOPolicy{}, nil
	case "fifo":
		return FIFOPolicy{}, nil
	}
	return nil, fmt.Errorf("unknown pairing policy %q", name)
}
