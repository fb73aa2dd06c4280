package broker

import (
	"testing"

	"github.com/dkeye/Roulette/internal/domain"
)

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]string{"": "lifo", "lifo": "lifo", "fifo": "fifo"} {
		p, err := ParsePolicy(in)
		if err != nil {
			t.Fatalf("ParsePolicy(%q): %v", in, err)
		}
		if p.Name() != want {
			t.Fatalf("ParsePolicy(%q) = %s, want %s", in, p.Name(), want)
		}
	}
	if _, err := ParsePolicy("random"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}

func TestPoliciesOnTwoEntriesAgree(t *testing.T) {
	w := []domain.ParticipantID{"A", "B"}
	for _, p := range []PairingPolicy{LIFOPolicy{}, FIFOPolicy{}} {
		caller, callee := p.Select(w)
		if caller != "A" || callee != "B" {
			t.Fatalf("%s: got %s/%s", p.Name(), caller, callee)
		}
	}
}

func TestWaitingListKeepsOrderAndUniqueness(t *testing.T) {
	l := NewWaitingList()
	if !l.Add("A") || !l.Add("B") || l.Add("A") {
		t.Fatalf("unexpected add results")
	}
	l.Add("C")
	if !l.Remove("B") || l.Remove("B") {
		t.Fatalf("unexpected remove results")
	}
	got := l.Snapshot()
	if len(got) != 2 || got[0] != "A" || got[1] != "C" {
		t.Fatalf("unexpected order %v", got)
	}
	if l.Contains("B") || !l.Contains("C") || l.Len() != 2 {
		t.Fatalf("membership out of sync")
	}
}
