package broker

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"testing/quick"
	"time"

	"github.com/dkeye/Roulette/internal/domain"
	"github.com/dkeye/Roulette/internal/protocol"
)

type recorder struct {
	mu  sync.Mutex
	got map[domain.ParticipantID][]protocol.Envelope
}

func newRecorder() *recorder {
	return &recorder{got: make(map[domain.ParticipantID][]protocol.Envelope)}
}

func (r *recorder) Notify(to domain.ParticipantID, env protocol.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got[to] = append(r.got[to], env)
}

func (r *recorder) events(pid domain.ParticipantID, event string) []protocol.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.Envelope
	for _, e := range r.got[pid] {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) all(pid domain.ParticipantID) []protocol.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Envelope(nil), r.got[pid]...)
}

var fixedNow = func() time.Time { return time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC) }

func newTestBroker(policy PairingPolicy) (*Broker, *recorder) {
	rec := newRecorder()
	return New(rec, Options{Policy: policy, Now: fixedNow}), rec
}

// assertDisjoint checks no participant is both waiting and in a room.
func assertDisjoint(t *testing.T, b *Broker) {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, q := range b.queues {
		for _, pid := range q.Snapshot() {
			if _, ok := b.memberOf[pid]; ok {
				t.Fatalf("%s is both waiting and in a room", pid)
			}
		}
	}
	for id, r := range b.rooms {
		if b.memberOf[r.MemberA] != id || b.memberOf[r.MemberB] != id {
			t.Fatalf("room %s membership index out of sync", id)
		}
	}
}

func TestPairTwoWaitingParticipants(t *testing.T) {
	b, rec := newTestBroker(nil)

	if err := b.Enqueue("A", domain.ModeVideo); err != nil {
		t.Fatalf("enqueue A: %v", err)
	}
	if err := b.Enqueue("B", domain.ModeVideo); err != nil {
		t.Fatalf("enqueue B: %v", err)
	}
	assertDisjoint(t, b)

	if n := len(b.Waiting(domain.ModeVideo)); n != 0 {
		t.Fatalf("expected empty waiting list, got %d", n)
	}
	room, ok := b.RoomOf("A")
	if !ok {
		t.Fatalf("expected A in a room")
	}
	if room.ID != domain.NewRoomID("A", "B") || !room.CreatedAt.Equal(fixedNow()) {
		t.Fatalf("unexpected room %+v", room)
	}

	for pid, want := range map[domain.ParticipantID]protocol.MatchFound{
		"A": {RoomID: "A#B", PartnerID: "B", Role: "caller"},
		"B": {RoomID: "A#B", PartnerID: "A", Role: "callee"},
	} {
		got := rec.events(pid, protocol.EventMatchFound)
		if len(got) != 1 {
			t.Fatalf("%s: expected exactly one match-found, got %d", pid, len(got))
		}
		var mf protocol.MatchFound
		if err := got[0].Decode(&mf); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if mf != want {
			t.Fatalf("%s: got %+v, want %+v", pid, mf, want)
		}
	}
}

func TestTextModeUsesMatchedEvent(t *testing.T) {
	b, rec := newTestBroker(nil)
	_ = b.Enqueue("A", domain.ModeText)
	_ = b.Enqueue("B", domain.ModeVideo)
	if b.RoomCount() != 0 {
		t.Fatalf("different modes must not pair")
	}
	_ = b.Enqueue("C", domain.ModeText)

	if len(rec.events("A", protocol.EventMatched)) != 1 || len(rec.events("C", protocol.EventMatched)) != 1 {
		t.Fatalf("expected matched for both text participants")
	}
	if len(rec.events("A", protocol.EventMatchFound)) != 0 {
		t.Fatalf("text flow must not emit match-found")
	}
}

func TestPairingPolicyOrder(t *testing.T) {
	cases := []struct {
		policy     PairingPolicy
		wantCaller domain.ParticipantID
		wantCallee domain.ParticipantID
		leftover   domain.ParticipantID
	}{
		{LIFOPolicy{}, "B", "C", "A"},
		{FIFOPolicy{}, "A", "B", "C"},
	}
	for _, tc := range cases {
		t.Run(tc.policy.Name(), func(t *testing.T) {
			b, _ := newTestBroker(tc.policy)
			// Seed the store directly so three entries wait before a pass.
			b.queues[domain.ModeVideo].Add("A")
			b.queues[domain.ModeVideo].Add("B")
			b.queues[domain.ModeVideo].Add("C")
			b.mu.Lock()
			b.pairLocked(domain.ModeVideo)
			b.mu.Unlock()

			room, ok := b.RoomOf(tc.wantCaller)
			if !ok || room.MemberA != tc.wantCaller || room.MemberB != tc.wantCallee {
				t.Fatalf("unexpected room %+v", room)
			}
			w := b.Waiting(domain.ModeVideo)
			if len(w) != 1 || w[0] != tc.leftover {
				t.Fatalf("unexpected leftover %v", w)
			}
			assertDisjoint(t, b)
		})
	}
}

func TestEnqueueWhileInRoomIsRejected(t *testing.T) {
	b, _ := newTestBroker(nil)
	_ = b.Enqueue("A", domain.ModeVideo)
	_ = b.Enqueue("B", domain.ModeVideo)

	if err := b.Enqueue("A", domain.ModeVideo); !errors.Is(err, ErrAlreadyInRoom) {
		t.Fatalf("expected ErrAlreadyInRoom, got %v", err)
	}
	if len(b.Waiting(domain.ModeVideo)) != 0 {
		t.Fatalf("room member must not be re-queued")
	}
}

func TestDoubleFindMatchDoesNotPairTwice(t *testing.T) {
	b, rec := newTestBroker(nil)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Enqueue("A", domain.ModeVideo)
		}()
	}
	wg.Wait()

	if w := b.Waiting(domain.ModeVideo); len(w) != 1 {
		t.Fatalf("expected one waiting entry, got %v", w)
	}
	if len(rec.events("A", protocol.EventSearching)) != 2 {
		t.Fatalf("expected both requests to be acked")
	}

	_ = b.Enqueue("B", domain.ModeVideo)
	if b.RoomCount() != 1 || len(rec.events("A", protocol.EventMatchFound)) != 1 {
		t.Fatalf("expected exactly one pairing for A")
	}
}

func TestSwitchingModesMovesEntry(t *testing.T) {
	b, _ := newTestBroker(nil)
	_ = b.Enqueue("A", domain.ModeText)
	_ = b.Enqueue("A", domain.ModeVideo)
	if len(b.Waiting(domain.ModeText)) != 0 || len(b.Waiting(domain.ModeVideo)) != 1 {
		t.Fatalf("entry must live in exactly one waiting list")
	}
}

func TestCancelSearch(t *testing.T) {
	b, rec := newTestBroker(nil)
	_ = b.Enqueue("A", domain.ModeVideo)

	if !b.CancelSearch("A") {
		t.Fatalf("expected cancel to report removal")
	}
	if b.CancelSearch("A") {
		t.Fatalf("second cancel must be a no-op")
	}
	if len(rec.events("A", protocol.EventSearchCanceled)) != 1 {
		t.Fatalf("expected exactly one search-canceled")
	}
}

func TestDisconnectMidCallNotifiesPartnerOnce(t *testing.T) {
	b, rec := newTestBroker(nil)
	_ = b.Enqueue("A", domain.ModeVideo)
	_ = b.Enqueue("B", domain.ModeVideo)

	b.OnDisconnect("A")
	b.OnDisconnect("A")

	got := rec.events("B", protocol.EventPartnerLeft)
	if len(got) != 1 {
		t.Fatalf("expected one partner-left, got %d", len(got))
	}
	var ref protocol.RoomRef
	_ = got[0].Decode(&ref)
	if ref.RoomID != "A#B" {
		t.Fatalf("partner-left must carry room id, got %q", ref.RoomID)
	}
	if _, ok := b.RoomOf("B"); ok || b.RoomCount() != 0 {
		t.Fatalf("room must be dissolved")
	}
}

func TestDisconnectTextRoomUsesUserDisconnected(t *testing.T) {
	b, rec := newTestBroker(nil)
	_ = b.Enqueue("A", domain.ModeText)
	_ = b.Enqueue("B", domain.ModeText)
	b.OnDisconnect("B")
	if len(rec.events("A", protocol.EventUserDisconnected)) != 1 {
		t.Fatalf("expected user-disconnected for text partner")
	}
}

func TestDisconnectTriggersPairingPass(t *testing.T) {
	b, rec := newTestBroker(nil)
	b.queues[domain.ModeVideo].Add("A")
	b.queues[domain.ModeVideo].Add("B")
	b.queues[domain.ModeVideo].Add("C")

	b.OnDisconnect("C")

	if _, ok := b.RoomOf("A"); !ok {
		t.Fatalf("expected remaining entries to pair")
	}
	if len(rec.events("B", protocol.EventMatchFound)) != 1 {
		t.Fatalf("expected match-found for B")
	}
	assertDisjoint(t, b)
}

func TestLeaveRoom(t *testing.T) {
	b, rec := newTestBroker(nil)
	_ = b.Enqueue("A", domain.ModeVideo)
	_ = b.Enqueue("B", domain.ModeVideo)

	if err := b.LeaveRoom("A#B", "C"); !errors.Is(err, ErrNotInRoom) {
		t.Fatalf("stranger must not dissolve room, got %v", err)
	}
	if err := b.LeaveRoom("", "A"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if len(rec.events("B", protocol.EventPartnerLeft)) != 1 {
		t.Fatalf("remaining member must be notified")
	}
	if len(rec.events("A", protocol.EventCallEnded)) != 1 {
		t.Fatalf("leaver must get call-ended")
	}
	if len(rec.events("A", protocol.EventPartnerLeft)) != 0 {
		t.Fatalf("leaver must not get partner-left")
	}
	if err := b.LeaveRoom("A#B", "B"); !errors.Is(err, ErrNotInRoom) {
		t.Fatalf("expected ErrNotInRoom after dissolve, got %v", err)
	}
}

func TestRelayReachesPartnerOnly(t *testing.T) {
	b, rec := newTestBroker(nil)
	_ = b.Enqueue("A", domain.ModeText)
	_ = b.Enqueue("B", domain.ModeText)

	if err := b.RelayMessage("A#B", "A", "hi"); err != nil {
		t.Fatalf("relay: %v", err)
	}
	if err := b.RelayTyping("", "A", true); err != nil {
		t.Fatalf("typing: %v", err)
	}
	if len(rec.events("A", protocol.EventChatMessage)) != 0 {
		t.Fatalf("sender must not receive an echo")
	}
	msgs := rec.events("B", protocol.EventChatMessage)
	if len(msgs) != 1 {
		t.Fatalf("expected one chat message for B")
	}
	var cm protocol.ChatMessage
	_ = msgs[0].Decode(&cm)
	if cm.Msg != "hi" || cm.SenderID != "A" {
		t.Fatalf("unexpected chat payload %+v", cm)
	}
	var ty protocol.Typing
	_ = rec.events("B", protocol.EventTyping)[0].Decode(&ty)
	if !ty.IsTyping || ty.SenderID != "A" {
		t.Fatalf("unexpected typing payload %+v", ty)
	}

	if err := b.RelayMessage("A#B", "C", "intrude"); !errors.Is(err, ErrNotInRoom) {
		t.Fatalf("expected ErrNotInRoom for stranger, got %v", err)
	}
}

func TestRelaySignalPassesPayloadThrough(t *testing.T) {
	b, rec := newTestBroker(nil)
	_ = b.Enqueue("A", domain.ModeVideo)
	_ = b.Enqueue("B", domain.ModeVideo)

	raw := json.RawMessage(`{"offer":{"type":"offer","sdp":"v=0"}}`)
	if err := b.RelaySignal("", "A", protocol.EventOffer, raw); err != nil {
		t.Fatalf("relay: %v", err)
	}
	got := rec.all("B")
	last := got[len(got)-1]
	if last.Event != protocol.EventOffer || string(last.Data) != string(raw) {
		t.Fatalf("unexpected relayed frame %+v", last)
	}
}

type countingStats struct {
	mu      sync.Mutex
	matches map[domain.Mode]int
	rooms   int
	waiting map[domain.Mode]int
}

func (s *countingStats) SetWaiting(m domain.Mode, n int) {
	s.mu.Lock()
	s.waiting[m] = n
	s.mu.Unlock()
}
func (s *countingStats) SetRooms(n int) { s.mu.Lock(); s.rooms = n; s.mu.Unlock() }
func (s *countingStats) MatchMade(m domain.Mode) {
	s.mu.Lock()
	s.matches[m]++
	s.mu.Unlock()
}

func TestStatsAreReported(t *testing.T) {
	st := &countingStats{matches: map[domain.Mode]int{}, waiting: map[domain.Mode]int{}}
	b := New(newRecorder(), Options{Stats: st})

	_ = b.Enqueue("A", domain.ModeVideo)
	if st.waiting[domain.ModeVideo] != 1 {
		t.Fatalf("expected waiting gauge 1, got %d", st.waiting[domain.ModeVideo])
	}
	_ = b.Enqueue("B", domain.ModeVideo)
	if st.matches[domain.ModeVideo] != 1 || st.rooms != 1 || st.waiting[domain.ModeVideo] != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
	b.OnDisconnect("A")
	if st.rooms != 0 {
		t.Fatalf("expected rooms gauge 0, got %d", st.rooms)
	}
}

func TestRandomOperationsKeepWaitingAndRoomsDisjoint(t *testing.T) {
	pids := []domain.ParticipantID{"p0", "p1", "p2", "p3", "p4"}
	modes := []domain.Mode{domain.ModeText, domain.ModeVideo}

	prop := func(ops []uint8) bool {
		b, _ := newTestBroker(nil)
		for _, op := range ops {
			pid := pids[int(op)%len(pids)]
			switch (op / 8) % 4 {
			case 0:
				_ = b.Enqueue(pid, modes[int(op/32)%2])
			case 1:
				b.CancelSearch(pid)
			case 2:
				b.OnDisconnect(pid)
			case 3:
				_ = b.LeaveRoom("", pid)
			}
			b.mu.Lock()
			for _, q := range b.queues {
				for _, w := range q.Snapshot() {
					if _, ok := b.memberOf[w]; ok {
						b.mu.Unlock()
						return false
					}
				}
			}
			if len(b.memberOf) != 2*len(b.rooms) {
				b.mu.Unlock()
				return false
			}
			b.mu.Unlock()
		}
		return true
	}
	if err := quick.Check(prop, nil); err != nil {
		t.Fatal(err)
	}
}
