package session

import (
	"testing"
	"testing/quick"
)

func TestTransitionTableHappyPath(t *testing.T) {
	steps := []struct {
		trig Trigger
		want State
	}{
		{TrigConnect, Connecting},
		{TrigConnected, Connected},
		{TrigFindMatch, Searching},
		{TrigMatchFound, Matched},
		{TrigNegotiated, InCall},
		{TrigCallEnded, Connected},
		{TrigFindMatch, Searching},
		{TrigSearchCanceled, Connected},
		{TrigTransportLost, Connecting},
		{TrigConnectFailed, Disconnected},
	}
	s := Disconnected
	for _, st := range steps {
		next, ok := Next(s, st.trig)
		if !ok || next != st.want {
			t.Fatalf("%s --%s--> got %s (%v), want %s", s, st.trig, next, ok, st.want)
		}
		s = next
	}
}

func TestRejectedTransitions(t *testing.T) {
	bad := []struct {
		from State
		trig Trigger
	}{
		{Disconnected, TrigFindMatch},
		{Connecting, TrigFindMatch},
		{Searching, TrigNegotiated},
		{Connected, TrigMatchFound},
		{InCall, TrigFindMatch},
		{Connected, TrigCallEnded},
	}
	for _, b := range bad {
		if _, ok := Next(b.from, b.trig); ok {
			t.Errorf("%s --%s--> must be rejected", b.from, b.trig)
		}
	}
}

func TestEveryStateReachable(t *testing.T) {
	seen := map[State]bool{Disconnected: true}
	frontier := []State{Disconnected}
	for len(frontier) > 0 {
		s := frontier[0]
		frontier = frontier[1:]
		for _, tr := range AllTriggers {
			if n, ok := Next(s, tr); ok && !seen[n] {
				seen[n] = true
				frontier = append(frontier, n)
			}
		}
	}
	for _, s := range AllStates {
		if !seen[s] {
			t.Errorf("%s unreachable", s)
		}
	}
}

// Random trigger walks: disconnect always lands in disconnected, in-call is
// only ever entered from matched and searching only from connected.
func TestTransitionWalkProperty(t *testing.T) {
	prop := func(walk []uint8) bool {
		s := Disconnected
		for _, w := range walk {
			tr := AllTriggers[int(w)%len(AllTriggers)]
			n, ok := Next(s, tr)
			if tr == TrigDisconnect && (!ok || n != Disconnected) {
				return false
			}
			if !ok {
				continue
			}
			if n == InCall && s != Matched && s != InCall {
				return false
			}
			if n == Searching && s != Connected {
				return false
			}
			s = n
		}
		return true
	}
	if err := quick.Check(prop, &quick.Config{MaxCount: 500}); err != nil {
		t.Fatal(err)
	}
}
